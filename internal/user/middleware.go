package user

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lmarchetti/credence/internal/apperror"
)

// userContextKey is the Echo context key the authenticated user is stored
// under. Handlers read it back through CurrentUser.
const userContextKey = "credence.user"

// RequireAuth returns middleware that authenticates requests by Bearer
// access token. The subject user is loaded from the store and placed on
// the context, so a deleted account is rejected even while its access
// token is still unexpired.
func RequireAuth(service AccountService, issuer TokenIssuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			access, err := bearerToken(c)
			if err != nil {
				return err
			}

			userID, err := issuer.ParseAccess(access)
			if err != nil {
				return apperror.NewUnauthorized("Given token not valid for any token type")
			}

			u, err := service.GetUser(c.Request().Context(), userID)
			if err != nil {
				return err
			}

			c.Set(userContextKey, u)
			return next(c)
		}
	}
}

// CurrentUser returns the authenticated user placed on the context by
// RequireAuth. Only valid on routes behind that middleware.
func CurrentUser(c echo.Context) *User {
	u, _ := c.Get(userContextKey).(*User)
	return u
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(c echo.Context) (string, error) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" {
		return "", apperror.NewUnauthorized("Authentication credentials were not provided.")
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", apperror.NewUnauthorized("Authorization header must be of the form 'Bearer <token>'")
	}

	return token, nil
}
