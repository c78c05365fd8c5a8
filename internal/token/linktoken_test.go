package token

import (
	"strings"
	"testing"
	"time"
)

func testState() LinkState {
	return LinkState{
		UserID:       "11111111-1111-1111-1111-111111111111",
		PasswordHash: "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA",
	}
}

func TestMakeLink_RoundTrip(t *testing.T) {
	l := NewLinker("test-secret", 72*time.Hour)
	st := testState()

	uid, tok := l.MakeLink(st)

	id, err := l.DecodeUID(uid)
	if err != nil {
		t.Fatalf("unexpected error decoding uid: %v", err)
	}
	if id != st.UserID {
		t.Errorf("expected uid to decode to %s, got %s", st.UserID, id)
	}

	if !l.CheckToken(st, tok) {
		t.Error("expected freshly made token to check out")
	}
}

func TestCheckToken_RejectsChangedState(t *testing.T) {
	l := NewLinker("test-secret", 72*time.Hour)
	st := testState()
	_, tok := l.MakeLink(st)

	cases := []struct {
		name   string
		mutate func(st *LinkState)
	}{
		{"password changed", func(st *LinkState) { st.PasswordHash = "other-hash" }},
		{"logged in", func(st *LinkState) { st.LastLogin = time.Now() }},
		{"different user", func(st *LinkState) { st.UserID = "someone-else" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			changed := testState()
			tc.mutate(&changed)
			if l.CheckToken(changed, tok) {
				t.Error("expected token to fail against changed state")
			}
		})
	}
}

func TestCheckToken_RejectsWrongSecret(t *testing.T) {
	st := testState()
	_, tok := NewLinker("test-secret", 72*time.Hour).MakeLink(st)

	other := NewLinker("other-secret", 72*time.Hour)
	if other.CheckToken(st, tok) {
		t.Error("expected token signed with another secret to fail")
	}
}

func TestCheckToken_Expiry(t *testing.T) {
	l := NewLinker("test-secret", time.Hour)
	st := testState()

	issued := time.Now()
	l.now = func() time.Time { return issued }
	_, tok := l.MakeLink(st)

	// Still inside the window.
	l.now = func() time.Time { return issued.Add(59 * time.Minute) }
	if !l.CheckToken(st, tok) {
		t.Error("expected token to be valid inside the window")
	}

	// Past the window.
	l.now = func() time.Time { return issued.Add(2 * time.Hour) }
	if l.CheckToken(st, tok) {
		t.Error("expected token to expire after the window")
	}
}

func TestCheckToken_RejectsFutureTimestamp(t *testing.T) {
	l := NewLinker("test-secret", time.Hour)
	st := testState()

	issued := time.Now()
	l.now = func() time.Time { return issued }
	_, tok := l.MakeLink(st)

	// Clock rolled back past the issue time.
	l.now = func() time.Time { return issued.Add(-time.Minute) }
	if l.CheckToken(st, tok) {
		t.Error("expected token from the future to be rejected")
	}
}

func TestCheckToken_RejectsMalformed(t *testing.T) {
	l := NewLinker("test-secret", 72*time.Hour)
	st := testState()

	for _, tok := range []string{"", "nodash", "zzzz-", "-abcdef", "not!36-abcdef"} {
		if l.CheckToken(st, tok) {
			t.Errorf("expected malformed token %q to be rejected", tok)
		}
	}
}

func TestDecodeUID_RejectsBadEncoding(t *testing.T) {
	l := NewLinker("test-secret", 72*time.Hour)
	if _, err := l.DecodeUID("!!!not-base64url!!!"); err == nil {
		t.Error("expected error for invalid uid encoding")
	}
}

func TestMakeLink_TokenShape(t *testing.T) {
	l := NewLinker("test-secret", 72*time.Hour)
	_, tok := l.MakeLink(testState())

	ts, mac, ok := strings.Cut(tok, "-")
	if !ok || ts == "" || mac == "" {
		t.Fatalf("expected token of form <ts>-<mac>, got %q", tok)
	}
	if len(mac) != 32 {
		t.Errorf("expected 32 hex chars of mac, got %d", len(mac))
	}
}
