// Package token implements the two credential generators Credence relies on:
// the JWT access/refresh pair issuer with its Redis-backed revocation list,
// and the state-derived link tokens embedded in verification and
// password-reset emails.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// blacklistKeyPrefix is the Redis key prefix for revoked refresh tokens,
// keyed by jti. Entries expire together with the token they revoke.
const blacklistKeyPrefix = "blacklist:"

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

var (
	// ErrInvalidToken is returned for malformed, wrongly-signed, wrongly-typed,
	// or blacklisted tokens. Handlers surface it as 401, never 500.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken is returned for structurally valid tokens past their
	// expiry claim.
	ErrExpiredToken = errors.New("token expired")
)

// Claims are the JWT claims carried by both token kinds. TokenType
// distinguishes access from refresh so one can never stand in for the other.
// For access tokens, ID holds the jti of the refresh token they derive from.
type Claims struct {
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Issuer creates and validates access/refresh token pairs. Refresh tokens
// are revocable via a Redis blacklist; access tokens are short-lived and
// checked by signature and expiry alone.
type Issuer struct {
	secret     []byte
	redis      *redis.Client
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewIssuer creates an Issuer signing with the given secret (HS256).
func NewIssuer(secret string, rdb *redis.Client, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{
		secret:     []byte(secret),
		redis:      rdb,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// IssuePair creates a refresh token and its derived access token for the
// given user id. Called once per successful login.
func (i *Issuer) IssuePair(ctx context.Context, userID string) (refresh, access string, err error) {
	now := time.Now()
	jti := uuid.NewString()

	refreshClaims := Claims{
		TokenType: typeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.refreshTTL)),
		},
	}

	refresh, err = jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString(i.secret)
	if err != nil {
		return "", "", fmt.Errorf("signing refresh token: %w", err)
	}

	access, err = i.newAccess(userID, jti, now)
	if err != nil {
		return "", "", err
	}

	return refresh, access, nil
}

// AccessFromRefresh validates a refresh token (signature, expiry, type,
// blacklist) and mints a fresh access token from it.
func (i *Issuer) AccessFromRefresh(ctx context.Context, refresh string) (string, error) {
	claims, err := i.checkRefresh(ctx, refresh)
	if err != nil {
		return "", err
	}
	return i.newAccess(claims.Subject, claims.ID, time.Now())
}

// Blacklist revokes a refresh token. The jti is stored in Redis with a TTL
// equal to the token's remaining lifetime, after which the token is expired
// anyway. Revoking an already-blacklisted, expired, or malformed token
// returns ErrInvalidToken.
func (i *Issuer) Blacklist(ctx context.Context, refresh string) error {
	claims, err := i.checkRefresh(ctx, refresh)
	if err != nil {
		return err
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return ErrExpiredToken
	}

	key := blacklistKeyPrefix + claims.ID
	if err := i.redis.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("storing blacklist entry: %w", err)
	}

	return nil
}

// ParseAccess validates an access token and returns the subject user id.
// Used by the auth middleware on every authenticated request.
func (i *Issuer) ParseAccess(access string) (userID string, err error) {
	claims, err := i.parse(access, typeAccess)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// checkRefresh parses a refresh token and rejects blacklisted jtis. Every
// refresh-token use goes through here, so revocation takes effect on the
// very next call.
func (i *Issuer) checkRefresh(ctx context.Context, refresh string) (*Claims, error) {
	claims, err := i.parse(refresh, typeRefresh)
	if err != nil {
		return nil, err
	}

	n, err := i.redis.Exists(ctx, blacklistKeyPrefix+claims.ID).Result()
	if err != nil {
		return nil, fmt.Errorf("checking blacklist: %w", err)
	}
	if n > 0 {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// parse validates signature, expiry, and token type. All parse failures
// collapse to ErrInvalidToken / ErrExpiredToken so callers never leak
// library internals to clients.
func (i *Issuer) parse(tokenStr, wantType string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims.TokenType != wantType || claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// newAccess mints a short-lived access token carrying the parent refresh
// token's jti. Access tokens are not individually revocable.
func (i *Issuer) newAccess(userID, jti string, now time.Time) (string, error) {
	accessClaims := Claims{
		TokenType: typeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
		},
	}

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return access, nil
}
