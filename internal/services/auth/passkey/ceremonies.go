package passkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/louisbranch/keyfold.space/internal/platform/id"
	"github.com/louisbranch/keyfold.space/internal/services/auth/account"
	"github.com/louisbranch/keyfold.space/internal/services/auth/storage"
)

// StartResult is the caller-facing outcome of starting a ceremony: the flow
// capability token, serialized options for the authenticator interaction, and
// the account the flow is bound to (empty for discoverable login).
type StartResult struct {
	FlowID    string
	AccountID string
	Options   json.RawMessage
	ExpiresAt time.Time
}

// Ceremonies orchestrates the three WebAuthn ceremonies. Each operation runs
// inside one store transaction; start and finish are separate transactions
// correlated by the flow id, so no transaction spans the authenticator
// round trip.
type Ceremonies struct {
	store    storage.Store
	verifier Verifier
	config   Config
	clock    func() time.Time
	newID    func() (string, error)
}

// NewCeremonies wires a ceremony manager over a store and verifier.
func NewCeremonies(store storage.Store, verifier Verifier, cfg Config) *Ceremonies {
	return &Ceremonies{
		store:    store,
		verifier: verifier,
		config:   cfg,
		clock:    time.Now,
		newID:    id.NewID,
	}
}

// StartRegistration opens a registration ceremony. It creates a fresh account
// shell, or reuses pendingAccountID when the deployment allows handing in a
// pre-created account.
func (c *Ceremonies) StartRegistration(ctx context.Context, pendingAccountID string) (StartResult, error) {
	if c == nil || c.store == nil || c.verifier == nil {
		return StartResult{}, fmt.Errorf("ceremony manager is not configured")
	}

	var result StartResult
	err := c.store.RunInTx(ctx, func(tx storage.Tx) error {
		accountID := ""
		if c.config.AllowPendingAccounts && pendingAccountID != "" {
			existing, err := tx.GetAccount(ctx, pendingAccountID)
			if err != nil {
				return fmt.Errorf("load pending account: %w", err)
			}
			accountID = existing.ID
		} else {
			shell, err := account.NewShell(c.clock, c.newID)
			if err != nil {
				return err
			}
			if err := tx.CreateAccount(ctx, shell); err != nil {
				return fmt.Errorf("create account shell: %w", err)
			}
			accountID = shell.ID
		}

		options, challenge, err := c.verifier.RegistrationOptions(accountID, nil)
		if err != nil {
			return err
		}
		flow, err := c.createFlow(ctx, tx, storage.FlowKindRegister, accountID, challenge)
		if err != nil {
			return err
		}
		result = StartResult{
			FlowID:    flow.ID,
			AccountID: accountID,
			Options:   options,
			ExpiresAt: flow.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return StartResult{}, err
	}
	return result, nil
}

// FinishRegistration completes a registration ceremony: it validates the
// flow, verifies the attestation against the values captured at issuance,
// consumes the flow exactly once, and persists the new credential.
func (c *Ceremonies) FinishRegistration(ctx context.Context, flowID string, response []byte) (account.Account, error) {
	if c == nil || c.store == nil || c.verifier == nil {
		return account.Account{}, fmt.Errorf("ceremony manager is not configured")
	}

	var owner account.Account
	err := c.store.RunInTx(ctx, func(tx storage.Tx) error {
		flow, err := c.loadFlow(ctx, tx, flowID, storage.FlowKindRegister)
		if err != nil {
			return err
		}
		created, err := c.verifyAndStoreCredential(ctx, tx, flow, response)
		if err != nil {
			return err
		}
		owner, err = tx.GetAccount(ctx, created.AccountID)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		return nil
	})
	if err != nil {
		return account.Account{}, err
	}
	return owner, nil
}

// StartAuthentication opens a discoverable login ceremony. The flow is
// unbound; the account is discovered from the credential presented at finish.
func (c *Ceremonies) StartAuthentication(ctx context.Context) (StartResult, error) {
	if c == nil || c.store == nil || c.verifier == nil {
		return StartResult{}, fmt.Errorf("ceremony manager is not configured")
	}

	var result StartResult
	err := c.store.RunInTx(ctx, func(tx storage.Tx) error {
		options, challenge, err := c.verifier.AuthenticationOptions()
		if err != nil {
			return err
		}
		flow, err := c.createFlow(ctx, tx, storage.FlowKindAuthenticate, "", challenge)
		if err != nil {
			return err
		}
		result = StartResult{
			FlowID:    flow.ID,
			Options:   options,
			ExpiresAt: flow.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return StartResult{}, err
	}
	return result, nil
}

// FinishAuthentication completes a login ceremony. The presented credential
// id is resolved to an active stored credential inside the transaction, so a
// concurrent revoke cannot race the login. On success the signature counter
// and last-used timestamp are updated and the owning account returned.
func (c *Ceremonies) FinishAuthentication(ctx context.Context, flowID string, response []byte) (account.Account, error) {
	if c == nil || c.store == nil || c.verifier == nil {
		return account.Account{}, fmt.Errorf("ceremony manager is not configured")
	}

	var owner account.Account
	err := c.store.RunInTx(ctx, func(tx storage.Tx) error {
		flow, err := c.loadFlow(ctx, tx, flowID, storage.FlowKindAuthenticate)
		if err != nil {
			return err
		}

		externalID, err := c.verifier.PeekCredentialID(response)
		if err != nil {
			return ErrVerificationFailed
		}
		stored, err := tx.GetActiveCredentialByExternalID(ctx, externalID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrUnknownOrRevokedCredential
			}
			return fmt.Errorf("load credential: %w", err)
		}

		expected := Expectation{
			Challenge: flow.Challenge,
			RPID:      flow.RPID,
			Origin:    flow.Origin,
			AccountID: stored.AccountID,
		}
		newCount, err := c.verifier.VerifyAuthentication(response, expected, stored)
		if err != nil {
			return ErrVerificationFailed
		}

		ok, err := tx.ConsumeFlow(ctx, flow.ID, c.clock().UTC())
		if err != nil {
			return fmt.Errorf("consume flow: %w", err)
		}
		if !ok {
			return ErrFlowConsumed
		}

		if err := tx.RecordCredentialUse(ctx, stored.ID, newCount, c.clock().UTC()); err != nil {
			return fmt.Errorf("record credential use: %w", err)
		}
		owner, err = tx.GetAccount(ctx, stored.AccountID)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		return nil
	})
	if err != nil {
		return account.Account{}, err
	}
	return owner, nil
}

// StartAddCredential opens a registration ceremony for an account that is
// already authenticated. Existing active credentials become the exclusion
// list, so an authenticator refuses to re-register a device it already holds.
func (c *Ceremonies) StartAddCredential(ctx context.Context, accountID string) (StartResult, error) {
	if c == nil || c.store == nil || c.verifier == nil {
		return StartResult{}, fmt.Errorf("ceremony manager is not configured")
	}

	var result StartResult
	err := c.store.RunInTx(ctx, func(tx storage.Tx) error {
		owner, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		active, err := tx.ListActiveCredentials(ctx, owner.ID)
		if err != nil {
			return fmt.Errorf("list credentials: %w", err)
		}
		exclude := make([]string, 0, len(active))
		for _, credential := range active {
			exclude = append(exclude, credential.CredentialID)
		}

		options, challenge, err := c.verifier.RegistrationOptions(owner.ID, exclude)
		if err != nil {
			return err
		}
		flow, err := c.createFlow(ctx, tx, storage.FlowKindAddCredential, owner.ID, challenge)
		if err != nil {
			return err
		}
		result = StartResult{
			FlowID:    flow.ID,
			AccountID: owner.ID,
			Options:   options,
			ExpiresAt: flow.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return StartResult{}, err
	}
	return result, nil
}

// FinishAddCredential completes an add-credential ceremony for the calling
// account. It takes the account mutex before persisting, so it cannot
// interleave with a concurrent revoke deciding the last-credential invariant.
func (c *Ceremonies) FinishAddCredential(ctx context.Context, flowID string, response []byte, accountID string) (storage.Credential, error) {
	if c == nil || c.store == nil || c.verifier == nil {
		return storage.Credential{}, fmt.Errorf("ceremony manager is not configured")
	}

	var created storage.Credential
	err := c.store.RunInTx(ctx, func(tx storage.Tx) error {
		flow, err := c.loadFlow(ctx, tx, flowID, storage.FlowKindAddCredential)
		if err != nil {
			return err
		}
		if flow.AccountID != accountID {
			return ErrFlowAccountMismatch
		}
		if err := tx.TouchAccount(ctx, accountID); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		created, err = c.verifyAndStoreCredential(ctx, tx, flow, response)
		return err
	})
	if err != nil {
		return storage.Credential{}, err
	}
	return created, nil
}

func (c *Ceremonies) createFlow(ctx context.Context, tx storage.Tx, kind storage.FlowKind, accountID, challenge string) (storage.ChallengeFlow, error) {
	flowID, err := c.newID()
	if err != nil {
		return storage.ChallengeFlow{}, fmt.Errorf("generate flow id: %w", err)
	}
	now := c.clock().UTC()
	flow := storage.ChallengeFlow{
		ID:        flowID,
		Challenge: challenge,
		AccountID: accountID,
		Kind:      kind,
		RPID:      c.config.RPID,
		Origin:    c.config.RPOrigin,
		CreatedAt: now,
		ExpiresAt: now.Add(c.config.FlowTTL),
	}
	if err := tx.CreateFlow(ctx, flow); err != nil {
		return storage.ChallengeFlow{}, fmt.Errorf("create flow: %w", err)
	}
	return flow, nil
}

// loadFlow validates a flow for finishing. Checks run in a fixed order so a
// flow that is both consumed and expired reports consumption.
func (c *Ceremonies) loadFlow(ctx context.Context, tx storage.Tx, flowID string, kind storage.FlowKind) (storage.ChallengeFlow, error) {
	flow, err := tx.GetFlow(ctx, flowID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ChallengeFlow{}, ErrUnknownFlow
		}
		return storage.ChallengeFlow{}, fmt.Errorf("load flow: %w", err)
	}
	if flow.Kind != kind {
		return storage.ChallengeFlow{}, ErrFlowKindMismatch
	}
	if flow.ConsumedAt != nil {
		return storage.ChallengeFlow{}, ErrFlowConsumed
	}
	if !c.clock().UTC().Before(flow.ExpiresAt) {
		return storage.ChallengeFlow{}, ErrFlowExpired
	}
	return flow, nil
}

// verifyAndStoreCredential runs the shared tail of the registration-shaped
// ceremonies: verification first, so a failed attestation aborts the
// transaction and leaves the flow unconsumed; consumption next, so exactly
// one concurrent finisher wins; the credential row last.
func (c *Ceremonies) verifyAndStoreCredential(ctx context.Context, tx storage.Tx, flow storage.ChallengeFlow, response []byte) (storage.Credential, error) {
	expected := Expectation{
		Challenge: flow.Challenge,
		RPID:      flow.RPID,
		Origin:    flow.Origin,
		AccountID: flow.AccountID,
	}
	verified, err := c.verifier.VerifyRegistration(response, expected)
	if err != nil {
		return storage.Credential{}, ErrVerificationFailed
	}

	now := c.clock().UTC()
	ok, err := tx.ConsumeFlow(ctx, flow.ID, now)
	if err != nil {
		return storage.Credential{}, fmt.Errorf("consume flow: %w", err)
	}
	if !ok {
		return storage.Credential{}, ErrFlowConsumed
	}

	credentialID, err := c.newID()
	if err != nil {
		return storage.Credential{}, fmt.Errorf("generate credential id: %w", err)
	}
	created := storage.Credential{
		ID:           credentialID,
		AccountID:    flow.AccountID,
		CredentialID: verified.CredentialID,
		PublicKey:    verified.PublicKey,
		SignCount:    verified.SignCount,
		AAGUID:       verified.AAGUID,
		Transports:   verified.Transports,
		CreatedAt:    now,
	}
	if err := tx.CreateCredential(ctx, created); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return storage.Credential{}, ErrVerificationFailed
		}
		return storage.Credential{}, fmt.Errorf("create credential: %w", err)
	}
	return created, nil
}
