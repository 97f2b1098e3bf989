package storage

import (
	"context"
	stderrors "errors"
	"time"

	apperrors "github.com/louisbranch/keyfold.space/internal/platform/errors"
	"github.com/louisbranch/keyfold.space/internal/services/auth/account"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrDuplicate indicates a unique constraint rejected a write.
var ErrDuplicate = stderrors.New("record already exists")

// FlowKind names the WebAuthn ceremony a challenge flow belongs to.
type FlowKind string

const (
	FlowKindRegister      FlowKind = "register"
	FlowKindAuthenticate  FlowKind = "authenticate"
	FlowKindAddCredential FlowKind = "add_credential"
)

// ChallengeFlow is one in-progress WebAuthn ceremony.
//
// The relying party id and origin are captured at issuance and verified
// against at finish time, so a configuration change cannot alter the
// expectations of a ceremony already in flight. A flow is consumed at most
// once; expiry is checked lazily against the clock at finish time.
type ChallengeFlow struct {
	ID         string
	Challenge  string // base64url nonce as produced by the ceremony library
	AccountID  string // empty for discoverable login flows
	Kind       FlowKind
	RPID       string
	Origin     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// Credential is one registered passkey authenticator.
//
// Revocation is a soft delete: the row is kept for audit and so the external
// credential id stays unique forever.
type Credential struct {
	ID           string
	AccountID    string
	CredentialID string // authenticator-supplied id, base64url, globally unique
	PublicKey    []byte
	SignCount    uint32
	AAGUID       string
	Transports   []string
	CreatedAt    time.Time
	LastUsedAt   *time.Time
	RevokedAt    *time.Time
}

// Active reports whether the credential can still authenticate.
func (c Credential) Active() bool {
	return c.RevokedAt == nil
}

// RefreshToken is a rotation-protected bearer credential. Only the SHA-256
// digest of the raw value is ever stored.
type RefreshToken struct {
	ID        string
	AccountID string
	TokenHash string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// PasswordResetToken is a single-use reset capability, stored by digest.
type PasswordResetToken struct {
	ID        string
	AccountID string
	TokenHash string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// Tx exposes the store operations available inside one transaction. Every
// mutating auth operation runs against exactly one Tx and commits or aborts
// atomically.
type Tx interface {
	// CreateAccount inserts an account; ErrDuplicate on an email collision.
	CreateAccount(ctx context.Context, a account.Account) error
	// GetAccount loads an account by id; ErrNotFound when missing.
	GetAccount(ctx context.Context, accountID string) (account.Account, error)
	// GetAccountByEmail loads an account by normalized email.
	GetAccountByEmail(ctx context.Context, email string) (account.Account, error)
	// CountAccounts counts all accounts.
	CountAccounts(ctx context.Context) (int64, error)
	// TouchAccount writes the account row, acquiring it exclusively for the
	// remainder of the transaction. Callers use it as the per-account mutex
	// that serializes credential-set mutations; it has no business meaning.
	TouchAccount(ctx context.Context, accountID string) error
	// UpdateAccountPassword replaces the stored password hash.
	UpdateAccountPassword(ctx context.Context, accountID, passwordHash string) error

	// CreateFlow inserts a challenge flow.
	CreateFlow(ctx context.Context, flow ChallengeFlow) error
	// GetFlow loads a flow by id; ErrNotFound when missing.
	GetFlow(ctx context.Context, flowID string) (ChallengeFlow, error)
	// ConsumeFlow marks a flow consumed if and only if it is still
	// unconsumed, reporting whether this call won the transition.
	ConsumeFlow(ctx context.Context, flowID string, now time.Time) (bool, error)

	// CreateCredential inserts a passkey credential; ErrDuplicate when the
	// external credential id is already registered.
	CreateCredential(ctx context.Context, c Credential) error
	// GetCredential loads a credential by internal id.
	GetCredential(ctx context.Context, credentialID string) (Credential, error)
	// GetActiveCredentialByExternalID resolves an authenticator-supplied id
	// to a non-revoked credential; ErrNotFound when absent or revoked.
	GetActiveCredentialByExternalID(ctx context.Context, externalID string) (Credential, error)
	// ListActiveCredentials returns non-revoked credentials, oldest first.
	ListActiveCredentials(ctx context.Context, accountID string) ([]Credential, error)
	// CountActiveCredentials counts non-revoked credentials for an account.
	CountActiveCredentials(ctx context.Context, accountID string) (int64, error)
	// RecordCredentialUse stores the post-verification signature counter and
	// last-used timestamp.
	RecordCredentialUse(ctx context.Context, credentialID string, signCount uint32, usedAt time.Time) error
	// RevokeCredential soft-deletes a credential if it is still active,
	// reporting whether this call performed the revocation.
	RevokeCredential(ctx context.Context, credentialID string, revokedAt time.Time) (bool, error)

	// CreateRefreshToken inserts a refresh token record.
	CreateRefreshToken(ctx context.Context, token RefreshToken) error
	// GetRefreshTokenByHash loads a refresh token by digest.
	GetRefreshTokenByHash(ctx context.Context, tokenHash string) (RefreshToken, error)
	// RevokeRefreshToken revokes by digest if not already revoked, reporting
	// whether this call performed the revocation.
	RevokeRefreshToken(ctx context.Context, tokenHash string) (bool, error)

	// CreateResetToken inserts a password reset token record.
	CreateResetToken(ctx context.Context, token PasswordResetToken) error
	// GetResetTokenByHash loads a reset token by digest.
	GetResetTokenByHash(ctx context.Context, tokenHash string) (PasswordResetToken, error)
	// MarkResetTokenUsed consumes a reset token if still unused, reporting
	// whether this call performed the consumption.
	MarkResetTokenUsed(ctx context.Context, tokenID string) (bool, error)
}

// Store is the transactional credential store consumed by the auth managers.
//
// RunInTx opens one write transaction, runs fn, and commits when fn returns
// nil; any error aborts the whole transaction so partial writes are never
// observable. Read-only helpers run outside transactions and take no locks.
type Store interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	GetAccount(ctx context.Context, accountID string) (account.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (account.Account, error)
	// ListCredentials returns all credentials for an account, revoked
	// included, oldest first.
	ListCredentials(ctx context.Context, accountID string) ([]Credential, error)

	// Maintenance deletes; these bound table growth and are not part of the
	// ceremony protocol, which detects expiry lazily.
	DeleteExpiredFlows(ctx context.Context, now time.Time) (int64, error)
	DeleteExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}
