package password

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/louisbranch/keyfold.space/internal/platform/errors"
	"github.com/louisbranch/keyfold.space/internal/platform/id"
	"github.com/louisbranch/keyfold.space/internal/services/auth/account"
	"github.com/louisbranch/keyfold.space/internal/services/auth/storage"
)

var (
	// ErrEmailTaken indicates the email already anchors an account.
	ErrEmailTaken = apperrors.New(apperrors.CodeEmailTaken, "email is already registered")
	// ErrResetTokenInvalid indicates the presented reset token is unknown,
	// already used, or expired. The three cases are not distinguished.
	ErrResetTokenInvalid = apperrors.New(apperrors.CodeResetTokenInvalid, "reset token is invalid or expired")
	// ErrWeakPassword indicates the password fails the minimum length policy.
	ErrWeakPassword = apperrors.New(apperrors.CodeInvalidCredentials, "password does not meet the minimum length")
)

// decoyHash is a bcrypt digest compared against when no account or stored
// hash exists, so lookup misses cost the same as hash mismatches.
const decoyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// ResetRequest is the caller-facing outcome of a reset-token request. The
// shape is identical whether or not the email resolved to an account.
type ResetRequest struct {
	Token     string
	ExpiresAt time.Time
}

// Manager registers and authenticates password accounts and runs the reset
// token exchange.
type Manager struct {
	store  storage.Store
	config Config
	clock  func() time.Time
	newID  func() (string, error)
}

// NewManager wires a password manager over a store.
func NewManager(store storage.Store, cfg Config) *Manager {
	return &Manager{
		store:  store,
		config: cfg,
		clock:  time.Now,
		newID:  id.NewID,
	}
}

// Register creates a password account. The role comes from server-side
// policy: bootstrap emails and, optionally, the very first account get admin.
func (m *Manager) Register(ctx context.Context, email, password string) (account.Account, error) {
	if m == nil || m.store == nil {
		return account.Account{}, fmt.Errorf("password manager is not configured")
	}
	normalized, err := account.NormalizeEmail(email)
	if err != nil {
		return account.Account{}, err
	}
	if len(password) < m.config.MinPasswordLength {
		return account.Account{}, ErrWeakPassword
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), m.bcryptCost())
	if err != nil {
		return account.Account{}, fmt.Errorf("hash password: %w", err)
	}

	var created account.Account
	err = m.store.RunInTx(ctx, func(tx storage.Tx) error {
		role := account.RoleUser
		if m.isBootstrapAdmin(normalized) {
			role = account.RoleAdmin
		} else if m.config.FirstAccountAdmin {
			count, err := tx.CountAccounts(ctx)
			if err != nil {
				return fmt.Errorf("count accounts: %w", err)
			}
			if count == 0 {
				role = account.RoleAdmin
			}
		}

		created, err = account.NewWithEmail(normalized, string(hashed), role, m.clock, m.newID)
		if err != nil {
			return err
		}
		if err := tx.CreateAccount(ctx, created); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return ErrEmailTaken
			}
			return fmt.Errorf("create account: %w", err)
		}
		return nil
	})
	if err != nil {
		return account.Account{}, err
	}
	return created, nil
}

// Authenticate resolves an email and password to an account. A missing
// account and a wrong password both return nil with no error, so callers
// cannot tell the cases apart.
func (m *Manager) Authenticate(ctx context.Context, email, password string) (*account.Account, error) {
	if m == nil || m.store == nil {
		return nil, fmt.Errorf("password manager is not configured")
	}
	normalized, err := account.NormalizeEmail(email)
	if err != nil {
		// Malformed emails take the same path as unknown ones.
		_ = bcrypt.CompareHashAndPassword([]byte(decoyHash), []byte(password))
		return nil, nil
	}

	found, err := m.store.GetAccountByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword([]byte(decoyHash), []byte(password))
			return nil, nil
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	if !found.HasPassword() {
		_ = bcrypt.CompareHashAndPassword([]byte(decoyHash), []byte(password))
		return nil, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(found.PasswordHash), []byte(password)); err != nil {
		return nil, nil
	}
	return &found, nil
}

// RequestReset issues a reset token for an email. A token artifact is always
// produced and the response is identical whether or not the email resolves
// to an account; only resolved emails get a persisted row.
func (m *Manager) RequestReset(ctx context.Context, email string) (ResetRequest, error) {
	if m == nil || m.store == nil {
		return ResetRequest{}, fmt.Errorf("password manager is not configured")
	}

	raw, err := id.NewSecret(32)
	if err != nil {
		return ResetRequest{}, fmt.Errorf("generate reset token: %w", err)
	}
	expiresAt := m.clock().UTC().Add(m.config.ResetTokenTTL)
	request := ResetRequest{Token: raw, ExpiresAt: expiresAt}

	normalized, err := account.NormalizeEmail(email)
	if err != nil {
		return request, nil
	}

	err = m.store.RunInTx(ctx, func(tx storage.Tx) error {
		owner, err := tx.GetAccountByEmail(ctx, normalized)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("load account: %w", err)
		}

		tokenID, err := m.newID()
		if err != nil {
			return fmt.Errorf("generate token id: %w", err)
		}
		return tx.CreateResetToken(ctx, storage.PasswordResetToken{
			ID:        tokenID,
			AccountID: owner.ID,
			TokenHash: id.HashSecret(raw),
			ExpiresAt: expiresAt,
			CreatedAt: m.clock().UTC(),
		})
	})
	if err != nil {
		return ResetRequest{}, err
	}
	return request, nil
}

// ConfirmReset consumes a reset token and replaces the account's password
// hash, all in one transaction.
func (m *Manager) ConfirmReset(ctx context.Context, rawToken, newPassword string) (account.Account, error) {
	if m == nil || m.store == nil {
		return account.Account{}, fmt.Errorf("password manager is not configured")
	}
	if strings.TrimSpace(rawToken) == "" {
		return account.Account{}, ErrResetTokenInvalid
	}
	if len(newPassword) < m.config.MinPasswordLength {
		return account.Account{}, ErrWeakPassword
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), m.bcryptCost())
	if err != nil {
		return account.Account{}, fmt.Errorf("hash password: %w", err)
	}

	var owner account.Account
	err = m.store.RunInTx(ctx, func(tx storage.Tx) error {
		token, err := tx.GetResetTokenByHash(ctx, id.HashSecret(rawToken))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrResetTokenInvalid
			}
			return fmt.Errorf("load reset token: %w", err)
		}
		if token.Used || !m.clock().UTC().Before(token.ExpiresAt) {
			return ErrResetTokenInvalid
		}

		ok, err := tx.MarkResetTokenUsed(ctx, token.ID)
		if err != nil {
			return fmt.Errorf("consume reset token: %w", err)
		}
		if !ok {
			return ErrResetTokenInvalid
		}
		if err := tx.UpdateAccountPassword(ctx, token.AccountID, string(hashed)); err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		owner, err = tx.GetAccount(ctx, token.AccountID)
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

func (m *Manager) bcryptCost() int {
	if m.config.BcryptCost < bcrypt.MinCost || m.config.BcryptCost > bcrypt.MaxCost {
		return bcrypt.DefaultCost
	}
	return m.config.BcryptCost
}

func (m *Manager) isBootstrapAdmin(email string) bool {
	for _, candidate := range m.config.BootstrapAdminEmails {
		if strings.EqualFold(strings.TrimSpace(candidate), email) {
			return true
		}
	}
	return false
}
