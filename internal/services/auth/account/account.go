// Package account provides the identity records shared by every credential path.
package account

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/louisbranch/keyfold.space/internal/platform/errors"
	"github.com/louisbranch/keyfold.space/internal/platform/id"
)

// ErrEmailInvalid indicates the email is empty or not a plausible address.
var ErrEmailInvalid = apperrors.New(apperrors.CodeEmailInvalid, "email is not a valid address")

// Role names the coarse privilege level attached to an account. Fine-grained
// authorization happens at the boundary via scope containment checks.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Account represents an authenticated identity record.
//
// Email and PasswordHash are empty for passkey-only accounts; an account with
// neither a password nor an active passkey cannot authenticate, and the
// credential lifecycle paths prevent that state from arising.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	Scopes       []string
	CreatedAt    time.Time
}

// HasPassword reports whether the password credential path is available.
func (a Account) HasPassword() bool {
	return a.PasswordHash != ""
}

// NewShell creates an account with an identity and nothing else. Passkey
// registration starts from a shell; the first credential arrives when the
// ceremony finishes.
func NewShell(now func() time.Time, idGenerator func() (string, error)) (Account, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	accountID, err := idGenerator()
	if err != nil {
		return Account{}, fmt.Errorf("generate account id: %w", err)
	}

	return Account{
		ID:        accountID,
		Role:      RoleUser,
		CreatedAt: now().UTC(),
	}, nil
}

// NewWithEmail creates an account anchored to an email and password hash.
func NewWithEmail(email, passwordHash string, role Role, now func() time.Time, idGenerator func() (string, error)) (Account, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return Account{}, err
	}
	if strings.TrimSpace(passwordHash) == "" {
		return Account{}, fmt.Errorf("password hash is required")
	}
	if role == "" {
		role = RoleUser
	}

	created, err := NewShell(now, idGenerator)
	if err != nil {
		return Account{}, err
	}
	created.Email = normalized
	created.PasswordHash = passwordHash
	created.Role = role
	return created, nil
}

// NormalizeEmail lowercases and validates an email address.
func NormalizeEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" || !emailPattern.MatchString(normalized) {
		return "", ErrEmailInvalid
	}
	return normalized, nil
}

// JoinScopes serializes scopes for storage as a comma-separated string.
func JoinScopes(scopes []string) string {
	cleaned := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		scope = strings.TrimSpace(scope)
		if scope != "" {
			cleaned = append(cleaned, scope)
		}
	}
	return strings.Join(cleaned, ",")
}

// SplitScopes parses a stored scope string back into a slice.
func SplitScopes(stored string) []string {
	if strings.TrimSpace(stored) == "" {
		return nil
	}
	parts := strings.Split(stored, ",")
	scopes := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			scopes = append(scopes, part)
		}
	}
	return scopes
}
