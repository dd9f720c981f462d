package store

import "testing"

func TestResolveIdentityUserID(t *testing.T) {
	cases := []struct {
		name                string
		byProvider, byEmail string
		wantUserID          string
		wantConflict        bool
	}{
		{"neither matched, new user", "", "", "", false},
		{"provider only", "usr-A", "", "usr-A", false},
		{"email only", "", "usr-A", "usr-A", false},
		{"both match same user", "usr-A", "usr-A", "usr-A", false},
		{"both match different users is a conflict", "usr-B", "usr-A", "", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			userID, conflict := resolveIdentityUserID(c.byProvider, c.byEmail)
			if conflict != c.wantConflict {
				t.Fatalf("conflict = %v, want %v", conflict, c.wantConflict)
			}
			if !conflict && userID != c.wantUserID {
				t.Fatalf("userID = %q, want %q", userID, c.wantUserID)
			}
		})
	}
}

// TestResolveIdentityUserIDDeterministic pins that identity resolution is
// deterministic: the same pair of lookup results yields the same decision
// on every call.
func TestResolveIdentityUserIDDeterministic(t *testing.T) {
	a, confA := resolveIdentityUserID("usr-1", "usr-1")
	b, confB := resolveIdentityUserID("usr-1", "usr-1")
	if a != b || confA != confB {
		t.Fatalf("resolution not deterministic: (%q,%v) vs (%q,%v)", a, confA, b, confB)
	}
}

func TestNormalizeEmail(t *testing.T) {
	cases := []struct{ in, want string }{
		{"User@Example.com", "user@example.com"},
		{"  spaced@example.com  ", "spaced@example.com"},
		{"already@lower.com", "already@lower.com"},
	}
	for _, c := range cases {
		if got := normalizeEmail(c.in); got != c.want {
			t.Errorf("normalizeEmail(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
