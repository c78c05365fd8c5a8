package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// newTestIssuer starts an in-memory Redis and returns an Issuer wired to it.
func newTestIssuer(t *testing.T, accessTTL, refreshTTL time.Duration) *Issuer {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewIssuer("test-secret", rdb, accessTTL, refreshTTL)
}

func TestIssuePair_RoundTrip(t *testing.T) {
	issuer := newTestIssuer(t, 15*time.Minute, 7*24*time.Hour)
	ctx := context.Background()

	refresh, access, err := issuer.IssuePair(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refresh == "" || access == "" {
		t.Fatal("expected both tokens to be issued")
	}

	userID, err := issuer.ParseAccess(access)
	if err != nil {
		t.Fatalf("unexpected error parsing access token: %v", err)
	}
	if userID != "user-1" {
		t.Errorf("expected subject user-1, got %s", userID)
	}
}

func TestAccessFromRefresh(t *testing.T) {
	issuer := newTestIssuer(t, 15*time.Minute, 7*24*time.Hour)
	ctx := context.Background()

	refresh, _, err := issuer.IssuePair(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	access, err := issuer.AccessFromRefresh(ctx, refresh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	userID, err := issuer.ParseAccess(access)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "user-1" {
		t.Errorf("expected subject user-1, got %s", userID)
	}
}

func TestAccessFromRefresh_RejectsAccessToken(t *testing.T) {
	issuer := newTestIssuer(t, 15*time.Minute, 7*24*time.Hour)
	ctx := context.Background()

	_, access, err := issuer.IssuePair(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// An access token must never stand in for a refresh token.
	if _, err := issuer.AccessFromRefresh(ctx, access); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseAccess_RejectsRefreshToken(t *testing.T) {
	issuer := newTestIssuer(t, 15*time.Minute, 7*24*time.Hour)

	refresh, _, err := issuer.IssuePair(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := issuer.ParseAccess(refresh); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseAccess_RejectsGarbage(t *testing.T) {
	issuer := newTestIssuer(t, 15*time.Minute, 7*24*time.Hour)

	if _, err := issuer.ParseAccess("not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseAccess_RejectsWrongSecret(t *testing.T) {
	issuer := newTestIssuer(t, 15*time.Minute, 7*24*time.Hour)
	other := newTestIssuer(t, 15*time.Minute, 7*24*time.Hour)
	other.secret = []byte("a-different-secret")

	_, access, err := issuer.IssuePair(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := other.ParseAccess(access); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestBlacklist_RevokesRefreshToken(t *testing.T) {
	issuer := newTestIssuer(t, 15*time.Minute, 7*24*time.Hour)
	ctx := context.Background()

	refresh, _, err := issuer.IssuePair(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := issuer.Blacklist(ctx, refresh); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Revoked tokens mint no more access tokens.
	if _, err := issuer.AccessFromRefresh(ctx, refresh); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken after revocation, got %v", err)
	}
}

func TestBlacklist_SecondRevocationFails(t *testing.T) {
	issuer := newTestIssuer(t, 15*time.Minute, 7*24*time.Hour)
	ctx := context.Background()

	refresh, _, err := issuer.IssuePair(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := issuer.Blacklist(ctx, refresh); err != nil {
		t.Fatalf("unexpected error on first revocation: %v", err)
	}

	// A blacklisted token reads as invalid, so revoking it again fails the
	// same way a forged token would.
	if err := issuer.Blacklist(ctx, refresh); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken on second revocation, got %v", err)
	}
}

func TestBlacklist_RejectsMalformedToken(t *testing.T) {
	issuer := newTestIssuer(t, 15*time.Minute, 7*24*time.Hour)

	if err := issuer.Blacklist(context.Background(), "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestExpiredRefreshToken(t *testing.T) {
	// A refresh TTL in the past yields an already-expired token.
	issuer := newTestIssuer(t, 15*time.Minute, -time.Minute)
	ctx := context.Background()

	refresh, _, err := issuer.IssuePair(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := issuer.AccessFromRefresh(ctx, refresh); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
	if err := issuer.Blacklist(ctx, refresh); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}
