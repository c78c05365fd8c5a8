package user

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lmarchetti/credence/internal/apperror"
	"github.com/lmarchetti/credence/internal/token"
)

// Handler holds the HTTP handlers for the account endpoints. Handlers
// bind the request, call the service, and shape the JSON response.
// Business rules live in the service.
type Handler struct {
	service AccountService
	issuer  TokenIssuer
}

// NewHandler creates a new account handler.
func NewHandler(service AccountService, issuer TokenIssuer) *Handler {
	return &Handler{service: service, issuer: issuer}
}

// Register handles POST /users/register.
func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	if _, err := h.service.Register(c.Request().Context(), req); err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, map[string]string{
		"message": "User created successfully. Please check your email to verify your email address.",
	})
}

// VerifyEmail handles POST /users/verify_email/:uid/:token.
func (h *Handler) VerifyEmail(c echo.Context) error {
	uid := c.Param("uid")
	tok := c.Param("token")

	if err := h.service.VerifyEmail(c.Request().Context(), uid, tok); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "Email verified successfully.",
	})
}

// Login handles POST /users/login.
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	pair, err := h.service.Login(c.Request().Context(), req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, pair)
}

// Refresh handles POST /users/login/refresh. It exchanges a valid,
// non-blacklisted refresh token for a fresh access token.
func (h *Handler) Refresh(c echo.Context) error {
	var req LogoutRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	access, err := h.issuer.AccessFromRefresh(c.Request().Context(), req.Refresh)
	if err != nil {
		if errors.Is(err, token.ErrInvalidToken) || errors.Is(err, token.ErrExpiredToken) {
			return apperror.NewUnauthorized("Token is invalid or expired")
		}
		// Blacklist lookups go through Redis; a store failure is not a
		// client error.
		return apperror.NewInternal(fmt.Errorf("refreshing access token: %w", err))
	}

	return c.JSON(http.StatusOK, map[string]string{"access": access})
}

// Logout handles POST /users/logout. The refresh token is blacklisted so
// it can no longer mint access tokens.
func (h *Handler) Logout(c echo.Context) error {
	var req LogoutRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	if err := h.service.Logout(c.Request().Context(), req.Refresh); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

// ChangePassword handles PUT /users/change_password.
func (h *Handler) ChangePassword(c echo.Context) error {
	u := CurrentUser(c)

	var req ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	if err := h.service.ChangePassword(c.Request().Context(), u, req); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "Password successfully changed.",
	})
}

// ResetPasswordCheckEmail handles POST /users/reset_password_check_email.
func (h *Handler) ResetPasswordCheckEmail(c echo.Context) error {
	var req ResetPasswordCheckEmailRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	if err := h.service.RequestPasswordReset(c.Request().Context(), req.Email); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "We sent an email to reset your password",
	})
}

// ResetPassword handles PUT /users/reset_password/:uid/:token.
func (h *Handler) ResetPassword(c echo.Context) error {
	uid := c.Param("uid")
	tok := c.Param("token")

	var req ResetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	if err := h.service.CompletePasswordReset(c.Request().Context(), uid, tok, req); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "Password successfully reset",
	})
}

// Profile handles GET /users/profile.
func (h *Handler) Profile(c echo.Context) error {
	return c.JSON(http.StatusOK, CurrentUser(c))
}

// UpdateName handles PUT /users/profile/update_firstname_lastname.
func (h *Handler) UpdateName(c echo.Context) error {
	u := CurrentUser(c)

	var req UpdateNameRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	if err := h.service.UpdateName(c.Request().Context(), u, req); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "First name and last name changed.",
	})
}

// DeleteProfile handles DELETE /users/profile. The account is removed
// permanently, there is no grace period.
func (h *Handler) DeleteProfile(c echo.Context) error {
	u := CurrentUser(c)

	if err := h.service.DeleteAccount(c.Request().Context(), u); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}
