package passkey

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestListCredentialsIncludesRevoked(t *testing.T) {
	ceremonies, _, store := newTestCeremonies(t)
	ctx := context.Background()

	accountID, _ := registerAccount(t, ceremonies, "phone")
	for _, device := range []string{"laptop", "tablet"} {
		started, err := ceremonies.StartAddCredential(ctx, accountID)
		if err != nil {
			t.Fatalf("start add credential: %v", err)
		}
		if _, err := ceremonies.FinishAddCredential(ctx, started.FlowID, []byte(device), accountID); err != nil {
			t.Fatalf("finish add credential: %v", err)
		}
	}

	lifecycle := NewLifecycle(store)
	credentials, err := lifecycle.ListCredentials(ctx, accountID)
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(credentials) != 3 {
		t.Fatalf("credentials = %d, want 3", len(credentials))
	}
	// Oldest first.
	if credentials[0].CredentialID != "cred-phone" {
		t.Fatalf("first credential = %q", credentials[0].CredentialID)
	}

	if err := lifecycle.RevokeCredential(ctx, accountID, credentials[1].ID); err != nil {
		t.Fatalf("revoke credential: %v", err)
	}
	credentials, err = lifecycle.ListCredentials(ctx, accountID)
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(credentials) != 3 {
		t.Fatalf("revoked credential dropped from listing, got %d", len(credentials))
	}
	if credentials[1].RevokedAt == nil {
		t.Fatal("expected revocation timestamp")
	}
}

func TestRevokeCredentialErrors(t *testing.T) {
	ceremonies, _, store := newTestCeremonies(t)
	ctx := context.Background()
	lifecycle := NewLifecycle(store)

	accountID, _ := registerAccount(t, ceremonies, "phone")
	otherID, _ := registerAccount(t, ceremonies, "tablet")

	started, err := ceremonies.StartAddCredential(ctx, accountID)
	if err != nil {
		t.Fatalf("start add credential: %v", err)
	}
	second, err := ceremonies.FinishAddCredential(ctx, started.FlowID, []byte("laptop"), accountID)
	if err != nil {
		t.Fatalf("finish add credential: %v", err)
	}

	if err := lifecycle.RevokeCredential(ctx, accountID, "missing"); !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("missing credential: got %v", err)
	}
	// A credential owned by another account is indistinguishable from a
	// missing one.
	if err := lifecycle.RevokeCredential(ctx, otherID, second.ID); !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("foreign credential: got %v", err)
	}

	if err := lifecycle.RevokeCredential(ctx, accountID, second.ID); err != nil {
		t.Fatalf("revoke credential: %v", err)
	}
	if err := lifecycle.RevokeCredential(ctx, accountID, second.ID); !errors.Is(err, ErrAlreadyRevoked) {
		t.Fatalf("repeat revoke: got %v", err)
	}
}

func TestRevokeLastCredential(t *testing.T) {
	ceremonies, _, store := newTestCeremonies(t)
	ctx := context.Background()
	lifecycle := NewLifecycle(store)

	accountID, _ := registerAccount(t, ceremonies, "phone")
	credentials, err := lifecycle.ListCredentials(ctx, accountID)
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}

	if err := lifecycle.RevokeCredential(ctx, accountID, credentials[0].ID); !errors.Is(err, ErrLastCredential) {
		t.Fatalf("last credential: got %v", err)
	}
}

func TestRevokeLastTwoCredentialsConcurrently(t *testing.T) {
	ceremonies, _, store := newTestCeremonies(t)
	ctx := context.Background()
	lifecycle := NewLifecycle(store)

	accountID, _ := registerAccount(t, ceremonies, "phone")
	started, err := ceremonies.StartAddCredential(ctx, accountID)
	if err != nil {
		t.Fatalf("start add credential: %v", err)
	}
	if _, err := ceremonies.FinishAddCredential(ctx, started.FlowID, []byte("laptop"), accountID); err != nil {
		t.Fatalf("finish add credential: %v", err)
	}
	credentials, err := lifecycle.ListCredentials(ctx, accountID)
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(credentials) != 2 {
		t.Fatalf("credentials = %d, want 2", len(credentials))
	}

	// Both revokes observe two active credentials before starting; the
	// account lock serializes them so exactly one commits.
	results := make(chan error, 2)
	var wg sync.WaitGroup
	for _, credential := range credentials {
		wg.Add(1)
		go func(credentialID string) {
			defer wg.Done()
			results <- lifecycle.RevokeCredential(ctx, accountID, credentialID)
		}(credential.ID)
	}
	wg.Wait()
	close(results)

	var succeeded, blocked int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrLastCredential):
			blocked++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || blocked != 1 {
		t.Fatalf("succeeded = %d, blocked = %d", succeeded, blocked)
	}

	active := 0
	credentials, err = lifecycle.ListCredentials(ctx, accountID)
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	for _, credential := range credentials {
		if credential.Active() {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("active credentials = %d, want 1", active)
	}
}
