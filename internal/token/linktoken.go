package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LinkState is the snapshot of mutable user state a link token is derived
// from. Any change to these fields (password change, login) invalidates
// every outstanding link token for the user, which is what makes reset
// tokens effectively single-use without server-side storage. The verified
// flag is not part of the snapshot: a verification link stays checkable
// after it is consumed, so a repeat verification can be told apart from a
// forged link.
type LinkState struct {
	UserID       string
	PasswordHash string
	LastLogin    time.Time
}

// Linker generates and checks the uid/token pairs embedded in verification
// and password-reset links. Tokens are HMAC-SHA256 digests over the user
// state snapshot plus an issue timestamp, so they carry no server-side
// record and expire both by time and by state change.
type Linker struct {
	secret []byte
	ttl    time.Duration

	// now is a hook for tests; defaults to time.Now.
	now func() time.Time
}

// NewLinker creates a Linker with the given signing secret and validity window.
func NewLinker(secret string, ttl time.Duration) *Linker {
	return &Linker{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// MakeLink returns the (uid, token) pair for the given user state. The uid
// is the base64url-encoded user id; the token is "<base36 ts>-<hex mac>".
func (l *Linker) MakeLink(st LinkState) (uid, token string) {
	ts := l.now().Unix()
	uid = base64.RawURLEncoding.EncodeToString([]byte(st.UserID))
	token = fmt.Sprintf("%s-%s", strconv.FormatInt(ts, 36), l.digest(st, ts))
	return uid, token
}

// DecodeUID reverses the uid encoding back to a user id. Any decode failure
// means the link was tampered with or truncated.
func (l *Linker) DecodeUID(uid string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(uid)
	if err != nil {
		return "", fmt.Errorf("decoding uid: %w", err)
	}
	return string(raw), nil
}

// CheckToken reports whether token is valid for the given user state: the
// embedded timestamp must be within the validity window and the digest must
// match the current state snapshot. A stale snapshot (consumed link) fails
// the digest comparison.
func (l *Linker) CheckToken(st LinkState, token string) bool {
	tsPart, macPart, ok := strings.Cut(token, "-")
	if !ok {
		return false
	}

	ts, err := strconv.ParseInt(tsPart, 36, 64)
	if err != nil {
		return false
	}

	now := l.now().Unix()
	if ts > now || now-ts > int64(l.ttl.Seconds()) {
		return false
	}

	expected := l.digest(st, ts)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(macPart)) == 1
}

// digest computes the truncated hex HMAC over the canonical state string.
func (l *Linker) digest(st LinkState, ts int64) string {
	var lastLogin string
	if !st.LastLogin.IsZero() {
		lastLogin = strconv.FormatInt(st.LastLogin.Unix(), 10)
	}

	canonical := strings.Join([]string{
		st.UserID,
		st.PasswordHash,
		lastLogin,
		strconv.FormatInt(ts, 10),
	}, "\x00")

	mac := hmac.New(sha256.New, l.secret)
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil)[:16])
}
