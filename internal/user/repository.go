package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/lmarchetti/credence/internal/apperror"
)

// Typed uniqueness violations, mapped from the users table's unique keys.
// The service layer translates these into field-scoped validation errors.
var (
	ErrDuplicateUsername = errors.New("username already taken")
	ErrDuplicateEmail    = errors.New("email already taken")
)

// UserRepository defines the data access contract for user operations.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetVerified(ctx context.Context, id string) error
	UpdateName(ctx context.Context, id, firstName, lastName string) error
	UpdateLastLogin(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// userRepository implements UserRepository with hand-written MariaDB queries.
type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository backed by the given DB pool.
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

// userColumns is the scan list shared by the Find queries.
const userColumns = `id, username, email, first_name, last_name, password_hash,
	is_active, is_verified_email, is_staff, is_superuser, created_at, last_login_at`

// Create inserts a new user row. The email_norm column gets the dot-stripped
// email so its unique key rejects dot-variant duplicates atomically -- two
// concurrent registrations cannot both slip past an application-level check.
// Staff accounts are forced active on insert.
func (r *userRepository) Create(ctx context.Context, user *User) error {
	if user.IsStaff {
		user.IsActive = true
	}

	query := `INSERT INTO users (id, username, email, email_norm, first_name, last_name,
	            password_hash, is_active, is_verified_email, is_staff, is_superuser, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		normalizeEmail(user.Email),
		user.FirstName,
		user.LastName,
		user.PasswordHash,
		user.IsActive,
		user.IsVerifiedEmail,
		user.IsStaff,
		user.IsSuperuser,
		user.CreatedAt,
	)
	if err != nil {
		if dup := mapDuplicateKey(err); dup != nil {
			return dup
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	return nil
}

// FindByID retrieves a user by their UUID.
// Returns apperror.NotFound if no user exists with this ID.
func (r *userRepository) FindByID(ctx context.Context, id string) (*User, error) {
	return r.findBy(ctx, "id", id)
}

// FindByUsername retrieves a user by their username (case-sensitive).
func (r *userRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	return r.findBy(ctx, "username", username)
}

// FindByEmail retrieves a user by their email address as stored (dots
// intact -- normalization applies to uniqueness only, not lookups).
func (r *userRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.findBy(ctx, "email", email)
}

// findBy runs the shared single-row lookup for a whitelisted column.
func (r *userRepository) findBy(ctx context.Context, column, value string) (*User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE %s = ?`, userColumns, column)

	user := &User{}
	err := r.db.QueryRowContext(ctx, query, value).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.PasswordHash,
		&user.IsActive,
		&user.IsVerifiedEmail,
		&user.IsStaff,
		&user.IsSuperuser,
		&user.CreatedAt,
		&user.LastLoginAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by %s: %w", column, err)
	}

	return user, nil
}

// UpdatePassword sets a new password hash for a user.
func (r *userRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query := `UPDATE users SET password_hash = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, passwordHash, id)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewNotFound("user not found")
	}
	return nil
}

// SetVerified marks the user's email as verified and activates the account
// in one statement -- verification is what flips an account to active.
func (r *userRepository) SetVerified(ctx context.Context, id string) error {
	query := `UPDATE users SET is_verified_email = TRUE, is_active = TRUE WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("marking user verified: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewNotFound("user not found")
	}
	return nil
}

// UpdateName sets the first and last name for a user.
func (r *userRepository) UpdateName(ctx context.Context, id, firstName, lastName string) error {
	query := `UPDATE users SET first_name = ?, last_name = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, firstName, lastName, id)
	if err != nil {
		return fmt.Errorf("updating name: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewNotFound("user not found")
	}
	return nil
}

// UpdateLastLogin sets the last_login_at timestamp to now for the given user.
func (r *userRepository) UpdateLastLogin(ctx context.Context, id string) error {
	query := `UPDATE users SET last_login_at = NOW() WHERE id = ?`

	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}

	return nil
}

// Delete removes the user row permanently. There is no soft delete.
func (r *userRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM users WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewNotFound("user not found")
	}
	return nil
}

// mapDuplicateKey translates a MySQL duplicate-entry error (1062) into the
// typed conflict for the violated unique key, or nil if err is unrelated.
// Both email keys map to ErrDuplicateEmail -- clients don't care whether
// the exact address or a dot-variant collided.
func mapDuplicateKey(err error) error {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) || myErr.Number != 1062 {
		return nil
	}
	switch {
	case strings.Contains(myErr.Message, "uq_users_username"):
		return ErrDuplicateUsername
	case strings.Contains(myErr.Message, "uq_users_email_norm"),
		strings.Contains(myErr.Message, "uq_users_email"):
		return ErrDuplicateEmail
	default:
		return fmt.Errorf("inserting user: %w", err)
	}
}
