package user

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/lmarchetti/credence/internal/middleware"
)

// RegisterRoutes mounts the account endpoints under /users. Credential
// endpoints carry per-IP rate limits; profile and password endpoints sit
// behind the access-token middleware.
func RegisterRoutes(e *echo.Echo, h *Handler, service AccountService, issuer TokenIssuer) {
	g := e.Group("/users")

	auth := RequireAuth(service, issuer)

	g.POST("/register", h.Register, middleware.RateLimit(5, time.Minute))
	g.POST("/verify_email/:uid/:token", h.VerifyEmail)

	g.POST("/login", h.Login, middleware.RateLimit(10, time.Minute))
	g.POST("/login/refresh", h.Refresh, middleware.RateLimit(30, time.Minute))
	g.POST("/logout", h.Logout, auth)

	g.PUT("/change_password", h.ChangePassword, auth)
	g.POST("/reset_password_check_email", h.ResetPasswordCheckEmail, middleware.RateLimit(5, time.Minute))
	g.PUT("/reset_password/:uid/:token", h.ResetPassword)

	g.GET("/profile", h.Profile, auth)
	g.DELETE("/profile", h.DeleteProfile, auth)
	g.PUT("/profile/update_firstname_lastname", h.UpdateName, auth)
}
