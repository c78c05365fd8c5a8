package user

import "testing"

func TestNormalizeEmail(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"dot in local part", "a.b@x.com", "ab@xcom"},
		{"dots in domain only", "alice@mail.example.com", "alice@mailexamplecom"},
		{"dots in both parts", "first.last@sub.example.co.uk", "firstlast@subexamplecouk"},
		{"no dots", "alice@examplecom", "alice@examplecom"},
		{"consecutive dots", "a..b@x..com", "ab@xcom"},
		{"dots only", "...", ""},
		{"empty", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := normalizeEmail(tc.in); got != tc.want {
				t.Errorf("normalizeEmail(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeEmail_DotVariantsCollide(t *testing.T) {
	// The uniqueness rule: dot variants of the same address normalize to
	// the same value, across the whole address, not just the local part.
	if normalizeEmail("a.b@x.com") != normalizeEmail("ab@xc.om") {
		t.Error("expected dot variants to normalize identically")
	}
	if normalizeEmail("a.b@x.com") == normalizeEmail("a-b@x.com") {
		t.Error("expected distinct addresses to stay distinct")
	}
}
