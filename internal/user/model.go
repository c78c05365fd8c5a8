// Package user implements the account domain for Credence: the user record
// and its MariaDB repository, the registration / verification / login /
// password / profile flows, and the HTTP endpoints exposing them.
package user

import (
	"time"
)

// User represents a registered account. This is the domain model used
// throughout the application. Database scanning and JSON marshaling use
// this struct directly.
type User struct {
	ID              string     `json:"id"`
	Username        string     `json:"username"`
	Email           string     `json:"email"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	PasswordHash    string     `json:"-"` // Never expose in JSON responses.
	IsActive        bool       `json:"is_active"`
	IsVerifiedEmail bool       `json:"is_verified_email"`
	IsStaff         bool       `json:"-"`
	IsSuperuser     bool       `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty"`
}

// --- Request DTOs (bound from HTTP requests) ---

// RegisterRequest holds the data submitted to POST /users/register.
type RegisterRequest struct {
	Username     string `json:"username" form:"username"`
	Email        string `json:"email" form:"email"`
	Password     string `json:"password" form:"password"`
	PasswordConf string `json:"password_conf" form:"password_conf"`
}

// LoginRequest holds the data submitted to POST /users/login. Username
// accepts either the username or the email address.
type LoginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// LogoutRequest carries the refresh token to revoke.
type LogoutRequest struct {
	Refresh string `json:"refresh" form:"refresh"`
}

// ChangePasswordRequest holds the data submitted to PUT /users/change_password.
type ChangePasswordRequest struct {
	OldPassword     string `json:"old_password" form:"old_password"`
	NewPassword     string `json:"new_password" form:"new_password"`
	NewPasswordConf string `json:"new_password_conf" form:"new_password_conf"`
}

// ResetPasswordCheckEmailRequest holds the email to send a reset link to.
type ResetPasswordCheckEmailRequest struct {
	Email string `json:"email" form:"email"`
}

// ResetPasswordRequest holds the new password for a reset link completion.
type ResetPasswordRequest struct {
	NewPassword     string `json:"new_password" form:"new_password"`
	NewPasswordConf string `json:"new_password_conf" form:"new_password_conf"`
}

// UpdateNameRequest holds the profile name update.
type UpdateNameRequest struct {
	FirstName string `json:"first_name" form:"first_name"`
	LastName  string `json:"last_name" form:"last_name"`
}

// --- Responses ---

// TokenPair is the login response: a revocable refresh token and the
// short-lived access token derived from it.
type TokenPair struct {
	Refresh string `json:"refresh"`
	Access  string `json:"access"`
}

// normalizeEmail strips every '.' from an email address. Uniqueness checks
// compare this form, so "a.b@x.com" and "ab@x.com" refer to the same
// account. Intentional, inherited behavior -- do not "fix" without a
// migration plan for existing rows.
func normalizeEmail(email string) string {
	out := make([]byte, 0, len(email))
	for i := 0; i < len(email); i++ {
		if email[i] != '.' {
			out = append(out, email[i])
		}
	}
	return string(out)
}
