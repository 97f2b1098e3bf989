package account

import (
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestNewShellAssignsIdentity(t *testing.T) {
	created, err := NewShell(fixedNow, func() (string, error) { return "acct-1", nil })
	if err != nil {
		t.Fatalf("new shell: %v", err)
	}
	if created.ID != "acct-1" {
		t.Fatalf("ID = %q", created.ID)
	}
	if created.Role != RoleUser {
		t.Fatalf("Role = %q", created.Role)
	}
	if created.Email != "" || created.PasswordHash != "" {
		t.Fatal("shell must not carry credentials")
	}
	if !created.CreatedAt.Equal(fixedNow()) {
		t.Fatalf("CreatedAt = %v", created.CreatedAt)
	}
	if created.HasPassword() {
		t.Fatal("shell must not report a password")
	}
}

func TestNewShellDefaultsGenerators(t *testing.T) {
	created, err := NewShell(nil, nil)
	if err != nil {
		t.Fatalf("new shell: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}
}

func TestNewWithEmailNormalizes(t *testing.T) {
	created, err := NewWithEmail("  A@X.Com ", "hash", "", fixedNow, func() (string, error) { return "acct-2", nil })
	if err != nil {
		t.Fatalf("new with email: %v", err)
	}
	if created.Email != "a@x.com" {
		t.Fatalf("Email = %q", created.Email)
	}
	if created.Role != RoleUser {
		t.Fatalf("Role = %q", created.Role)
	}
	if !created.HasPassword() {
		t.Fatal("expected password credential")
	}
}

func TestNewWithEmailKeepsExplicitRole(t *testing.T) {
	created, err := NewWithEmail("admin@x.com", "hash", RoleAdmin, fixedNow, nil)
	if err != nil {
		t.Fatalf("new with email: %v", err)
	}
	if created.Role != RoleAdmin {
		t.Fatalf("Role = %q", created.Role)
	}
}

func TestNewWithEmailRejectsBadInput(t *testing.T) {
	if _, err := NewWithEmail("not-an-email", "hash", RoleUser, fixedNow, nil); err == nil {
		t.Fatal("expected invalid email to error")
	}
	if _, err := NewWithEmail("a@x.com", " ", RoleUser, fixedNow, nil); err == nil {
		t.Fatal("expected empty password hash to error")
	}
}

func TestScopeRoundTrip(t *testing.T) {
	stored := JoinScopes([]string{" read ", "", "write"})
	if stored != "read,write" {
		t.Fatalf("JoinScopes = %q", stored)
	}
	scopes := SplitScopes(stored)
	if len(scopes) != 2 || scopes[0] != "read" || scopes[1] != "write" {
		t.Fatalf("SplitScopes = %v", scopes)
	}
	if SplitScopes("  ") != nil {
		t.Fatal("expected nil for blank stored scopes")
	}
}
