package passkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/louisbranch/keyfold.space/internal/services/auth/storage"
)

// Lifecycle manages the credential set of an account: listing and revocation
// under the last-credential invariant.
type Lifecycle struct {
	store storage.Store
	clock func() time.Time
}

// NewLifecycle wires a lifecycle manager over a store.
func NewLifecycle(store storage.Store) *Lifecycle {
	return &Lifecycle{
		store: store,
		clock: time.Now,
	}
}

// ListCredentials returns every credential for the account, revoked included,
// oldest first. Read-only, no lock taken.
func (l *Lifecycle) ListCredentials(ctx context.Context, accountID string) ([]storage.Credential, error) {
	if l == nil || l.store == nil {
		return nil, fmt.Errorf("lifecycle manager is not configured")
	}
	return l.store.ListCredentials(ctx, accountID)
}

// RevokeCredential soft-deletes one credential of the account.
//
// The ordering inside the transaction carries the invariant: the account
// mutex is taken first, the active count is read while holding it, and only
// then is the credential mutated. Two concurrent revokes of the last two
// active credentials therefore serialize, and the second observes count 1
// and fails with ErrLastCredential.
func (l *Lifecycle) RevokeCredential(ctx context.Context, accountID, credentialID string) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("lifecycle manager is not configured")
	}

	return l.store.RunInTx(ctx, func(tx storage.Tx) error {
		if err := tx.TouchAccount(ctx, accountID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrCredentialNotFound
			}
			return fmt.Errorf("lock account: %w", err)
		}

		credential, err := tx.GetCredential(ctx, credentialID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrCredentialNotFound
			}
			return fmt.Errorf("load credential: %w", err)
		}
		if credential.AccountID != accountID {
			return ErrCredentialNotFound
		}
		if credential.RevokedAt != nil {
			return ErrAlreadyRevoked
		}

		active, err := tx.CountActiveCredentials(ctx, accountID)
		if err != nil {
			return fmt.Errorf("count active credentials: %w", err)
		}
		if active <= 1 {
			return ErrLastCredential
		}

		ok, err := tx.RevokeCredential(ctx, credentialID, l.clock().UTC())
		if err != nil {
			return fmt.Errorf("revoke credential: %w", err)
		}
		if !ok {
			return ErrAlreadyRevoked
		}
		return nil
	})
}
