package user

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"github.com/lmarchetti/credence/internal/apperror"
	"github.com/lmarchetti/credence/internal/token"
)

// argon2id parameters tuned for a self-hosted application running on
// modest hardware (2-4 CPU cores, 2-4 GB RAM). These follow OWASP
// recommendations for argon2id: memory=64MB, iterations=3, parallelism=4.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MB in KiB
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// Username constraints enforced at registration. The stored column allows
// more, but new registrations are restricted to alphanumerics.
const (
	usernameMinLen = 4
	usernameMaxLen = 150
)

// TokenIssuer is the slice of the token issuer the account service needs.
// Satisfied by *token.Issuer; narrowed here so tests can stub it.
type TokenIssuer interface {
	IssuePair(ctx context.Context, userID string) (refresh, access string, err error)
	AccessFromRefresh(ctx context.Context, refresh string) (string, error)
	Blacklist(ctx context.Context, refresh string) error
	ParseAccess(access string) (userID string, err error)
}

// LinkSender delivers verification and reset links. Satisfied by
// *mailer.LinkMailer.
type LinkSender interface {
	SendVerificationLink(ctx context.Context, email, uid, tok string) error
	SendPasswordResetLink(ctx context.Context, email, uid, tok string) error
}

// AccountService defines the business logic contract for the account flows.
// Handlers call these methods -- they never touch the repository directly.
type AccountService interface {
	Register(ctx context.Context, req RegisterRequest) (*User, error)
	VerifyEmail(ctx context.Context, uid, tok string) error
	Login(ctx context.Context, req LoginRequest) (*TokenPair, error)
	Logout(ctx context.Context, refresh string) error
	ChangePassword(ctx context.Context, u *User, req ChangePasswordRequest) error
	RequestPasswordReset(ctx context.Context, email string) error
	CompletePasswordReset(ctx context.Context, uid, tok string, req ResetPasswordRequest) error
	UpdateName(ctx context.Context, u *User, req UpdateNameRequest) error
	DeleteAccount(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
}

// accountService implements AccountService with argon2id hashing, JWT
// pairs from the token issuer, and emailed state-derived link tokens.
type accountService struct {
	repo   UserRepository
	issuer TokenIssuer
	linker *token.Linker
	links  LinkSender
}

// NewAccountService creates a new account service with the given dependencies.
func NewAccountService(repo UserRepository, issuer TokenIssuer, linker *token.Linker, links LinkSender) AccountService {
	return &accountService{
		repo:   repo,
		issuer: issuer,
		linker: linker,
		links:  links,
	}
}

// Register creates a new account in the unverified, inactive state and
// dispatches the email-verification link. Duplicate username/email
// (dot-normalized) surface as field-scoped 422 errors.
func (s *accountService) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)

	if !isAlphanumeric(username) {
		return nil, apperror.NewFieldValidation("username", "The username should only contain alphanumeric characters.")
	}
	if len(username) < usernameMinLen {
		return nil, apperror.NewFieldValidation("username", "The username should be at least 4 characters long.")
	}
	if len(username) > usernameMaxLen {
		return nil, apperror.NewFieldValidation("username", "The username should be at most 150 characters long.")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperror.NewFieldValidation("email", "Enter a valid email address.")
	}
	if req.Password == "" {
		return nil, apperror.NewFieldValidation("password", "Password is required.")
	}
	if req.Password != req.PasswordConf {
		return nil, apperror.NewFieldValidation("password", "Passwords do not match.")
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	u := &User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, u); err != nil {
		switch {
		case errors.Is(err, ErrDuplicateUsername):
			return nil, apperror.NewFieldValidation("username", "A user with that username already exists.")
		case errors.Is(err, ErrDuplicateEmail):
			return nil, apperror.NewFieldValidation("email", "user with this Email Address already exists.")
		default:
			return nil, apperror.NewInternal(fmt.Errorf("creating user: %w", err))
		}
	}

	s.dispatchVerificationLink(ctx, u)

	slog.Info("user registered",
		slog.String("user_id", u.ID),
		slog.String("username", u.Username),
	)

	return u, nil
}

// VerifyEmail resolves a verification link and transitions the account to
// verified + active. A link for an already-verified account fails with a
// 422 so clients can tell retries from bad links.
func (s *accountService) VerifyEmail(ctx context.Context, uid, tok string) error {
	u, err := s.resolveLink(ctx, uid, tok)
	if err != nil {
		return err
	}

	if u.IsVerifiedEmail {
		return apperror.NewFieldValidation("user", "User is already verified!")
	}

	if err := s.repo.SetVerified(ctx, u.ID); err != nil {
		return apperror.NewInternal(fmt.Errorf("marking user verified: %w", err))
	}

	slog.Info("email verified", slog.String("user_id", u.ID))
	return nil
}

// Login authenticates by username or email plus password. Correct
// credentials on an unverified account never yield tokens: the
// verification link is re-sent and the login fails with 401.
func (s *accountService) Login(ctx context.Context, req LoginRequest) (*TokenPair, error) {
	identifier := strings.TrimSpace(req.Username)

	var (
		u   *User
		err error
	)
	if strings.Contains(identifier, "@") {
		u, err = s.repo.FindByEmail(ctx, identifier)
	} else {
		u, err = s.repo.FindByUsername(ctx, identifier)
	}
	if err != nil {
		if apperror.SafeCode(err) == 404 {
			// Don't reveal whether the account exists -- same message as a
			// wrong password.
			return nil, apperror.NewUnauthorizedField("username", "No active account found with the given credentials")
		}
		return nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	if !verifyPassword(req.Password, u.PasswordHash) {
		return nil, apperror.NewUnauthorizedField("password", "No active account found with the given credentials")
	}

	if !u.IsVerifiedEmail {
		s.dispatchVerificationLink(ctx, u)
		return nil, apperror.NewUnauthorizedField("email", "Email not verified, verification link sent to your email!")
	}

	refresh, access, err := s.issuer.IssuePair(ctx, u.ID)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("issuing token pair: %w", err))
	}

	// Update the user's last login timestamp (fire-and-forget, non-critical).
	if err := s.repo.UpdateLastLogin(ctx, u.ID); err != nil {
		slog.Warn("failed to update last login",
			slog.String("user_id", u.ID),
			slog.Any("error", err),
		)
	}

	slog.Info("user logged in",
		slog.String("user_id", u.ID),
		slog.String("username", u.Username),
	)

	return &TokenPair{Refresh: refresh, Access: access}, nil
}

// Logout blacklists the refresh token. Malformed, expired, or
// already-blacklisted tokens fail with 401 -- revocation is permanent and
// a second revocation is indistinguishable from a forged token.
func (s *accountService) Logout(ctx context.Context, refresh string) error {
	if err := s.issuer.Blacklist(ctx, refresh); err != nil {
		if errors.Is(err, token.ErrInvalidToken) || errors.Is(err, token.ErrExpiredToken) {
			return apperror.NewUnauthorized("invalid token")
		}
		return apperror.NewInternal(fmt.Errorf("blacklisting refresh token: %w", err))
	}
	return nil
}

// ChangePassword replaces the password for an authenticated user after
// checking the old one. All failures are field-scoped 422s.
func (s *accountService) ChangePassword(ctx context.Context, u *User, req ChangePasswordRequest) error {
	if !verifyPassword(req.OldPassword, u.PasswordHash) {
		return apperror.NewFieldValidation("old_password", "Old password incorrect!")
	}
	if req.NewPassword != req.NewPasswordConf {
		return apperror.NewFieldValidation("new_password", "New passwords do not match!")
	}
	if req.OldPassword == req.NewPassword {
		return apperror.NewFieldValidation("new_password", "You can't set your current password.")
	}

	hash, err := hashPassword(req.NewPassword)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}
	if err := s.repo.UpdatePassword(ctx, u.ID, hash); err != nil {
		return apperror.NewInternal(fmt.Errorf("updating password: %w", err))
	}

	slog.Info("password changed", slog.String("user_id", u.ID))
	return nil
}

// RequestPasswordReset dispatches a reset link to the given address.
// An unknown email fails with 401. That leaks account existence; kept
// for compatibility with existing clients that show the message verbatim.
func (s *accountService) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := s.repo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if apperror.SafeCode(err) == 404 {
			return apperror.NewUnauthorized("Given email doesn't exist!")
		}
		return apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	uid, tok := s.linker.MakeLink(linkState(u))
	if err := s.links.SendPasswordResetLink(ctx, u.Email, uid, tok); err != nil {
		slog.Warn("failed to send password reset link",
			slog.String("user_id", u.ID),
			slog.Any("error", err),
		)
	}

	slog.Info("password reset requested", slog.String("user_id", u.ID))
	return nil
}

// CompletePasswordReset resolves a reset link and sets the new password.
// Setting the password changes the state snapshot the link token was
// derived from, so the link cannot be replayed.
func (s *accountService) CompletePasswordReset(ctx context.Context, uid, tok string, req ResetPasswordRequest) error {
	u, err := s.resolveLink(ctx, uid, tok)
	if err != nil {
		return err
	}

	if req.NewPassword == "" {
		return apperror.NewUnauthorizedField("password", "Password is required.")
	}
	if req.NewPassword != req.NewPasswordConf {
		return apperror.NewUnauthorizedField("password", "New passwords do not match!")
	}

	hash, err := hashPassword(req.NewPassword)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}
	if err := s.repo.UpdatePassword(ctx, u.ID, hash); err != nil {
		return apperror.NewInternal(fmt.Errorf("updating password: %w", err))
	}

	slog.Info("password reset completed", slog.String("user_id", u.ID))
	return nil
}

// UpdateName sets the profile first/last name.
func (s *accountService) UpdateName(ctx context.Context, u *User, req UpdateNameRequest) error {
	first := strings.TrimSpace(req.FirstName)
	last := strings.TrimSpace(req.LastName)
	if first == "" {
		return apperror.NewFieldValidation("first_name", "First name is required.")
	}
	if last == "" {
		return apperror.NewFieldValidation("last_name", "Last name is required.")
	}

	if err := s.repo.UpdateName(ctx, u.ID, first, last); err != nil {
		return apperror.NewInternal(fmt.Errorf("updating name: %w", err))
	}
	return nil
}

// DeleteAccount removes the user record irrecoverably.
func (s *accountService) DeleteAccount(ctx context.Context, u *User) error {
	if err := s.repo.Delete(ctx, u.ID); err != nil {
		return apperror.NewInternal(fmt.Errorf("deleting user: %w", err))
	}
	slog.Info("user deleted", slog.String("user_id", u.ID))
	return nil
}

// GetUser loads a user by id for the auth middleware. A missing user
// (deleted after the token was issued) reads as unauthorized.
func (s *accountService) GetUser(ctx context.Context, id string) (*User, error) {
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if apperror.SafeCode(err) == 404 {
			return nil, apperror.NewUnauthorized("authentication required")
		}
		return nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}
	return u, nil
}

// resolveLink decodes a uid/token pair back to a user. Bad encodings and
// missing users collapse to "Invalid user"; a digest mismatch (stale or
// forged token) collapses to "Invalid token". Both are 401s.
func (s *accountService) resolveLink(ctx context.Context, uid, tok string) (*User, error) {
	id, err := s.linker.DecodeUID(uid)
	if err != nil {
		return nil, apperror.NewUnauthorizedField("uid", "Invalid user")
	}

	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if apperror.SafeCode(err) == 404 {
			return nil, apperror.NewUnauthorizedField("uid", "Invalid user")
		}
		return nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	if !s.linker.CheckToken(linkState(u), tok) {
		return nil, apperror.NewUnauthorizedField("token", "Invalid token")
	}

	return u, nil
}

// dispatchVerificationLink sends the verify-email link. Send failures are
// logged, not surfaced -- mail delivery is fire-and-forget.
func (s *accountService) dispatchVerificationLink(ctx context.Context, u *User) {
	uid, tok := s.linker.MakeLink(linkState(u))
	if err := s.links.SendVerificationLink(ctx, u.Email, uid, tok); err != nil {
		slog.Warn("failed to send verification link",
			slog.String("user_id", u.ID),
			slog.Any("error", err),
		)
	}
}

// linkState builds the token snapshot for a user. Password hash and last
// login are part of the digest, so completing a reset (or logging in)
// invalidates outstanding links. Verification does not change the
// snapshot: a second click on a used verify link resolves the user and
// fails the verified check with 422 instead of reading as a bad link.
func linkState(u *User) token.LinkState {
	st := token.LinkState{
		UserID:       u.ID,
		PasswordHash: u.PasswordHash,
	}
	if u.LastLoginAt != nil {
		st.LastLogin = *u.LastLoginAt
	}
	return st
}

// isAlphanumeric reports whether s is non-empty ASCII letters and digits only.
func isAlphanumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9') {
			return false
		}
	}
	return true
}

// --- Password Hashing (argon2id) ---

// hashPassword creates an argon2id hash of the given password. The output
// format is: $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
// This format is compatible with most argon2 libraries and allows self-
// contained verification without separate salt storage.
func hashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	// Encode to the standard PHC string format.
	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads, b64Salt, b64Hash)

	return encoded, nil
}

// verifyPassword checks a plaintext password against an argon2id hash string.
// Returns true if the password matches.
func verifyPassword(password, encodedHash string) bool {
	// Parse the encoded hash to extract parameters, salt, and hash.
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false
	}

	var memory uint32
	var iterations uint32
	var parallelism uint8
	_, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism)
	if err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}

	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	// Compute the hash of the provided password with the same parameters.
	computedHash := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expectedHash)))

	// Constant-time comparison to prevent timing attacks.
	return subtle.ConstantTimeCompare(expectedHash, computedHash) == 1
}
