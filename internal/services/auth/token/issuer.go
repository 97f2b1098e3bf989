package token

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/keyfold.space/internal/platform/errors"
	"github.com/louisbranch/keyfold.space/internal/platform/id"
	"github.com/louisbranch/keyfold.space/internal/services/auth/account"
	"github.com/louisbranch/keyfold.space/internal/services/auth/storage"
)

var (
	// ErrRefreshTokenInvalid indicates the presented refresh token is
	// unknown, revoked, or expired. The client must authenticate fully.
	ErrRefreshTokenInvalid = apperrors.New(apperrors.CodeRefreshTokenInvalid, "refresh token is invalid")
	// ErrAccessTokenInvalid indicates the bearer token failed signature or
	// claim validation.
	ErrAccessTokenInvalid = apperrors.New(apperrors.CodeInvalidCredentials, "access token is invalid")
)

// Claims are the payload of an access token. Role and scopes are trusted
// inputs read from the account row at mint time, never from a client token.
type Claims struct {
	Role   string   `json:"role"`
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// Pair bundles the tokens handed out on a successful login-shaped operation.
type Pair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Issuer mints access tokens and manages refresh token rotation.
type Issuer struct {
	store     storage.Store
	config    Config
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	clock     func() time.Time
	newID     func() (string, error)
}

// NewIssuer builds an issuer from configuration. The signing key is decoded
// once here; an unusable key is a startup error, not a per-request one.
func NewIssuer(store storage.Store, cfg Config) (*Issuer, error) {
	if strings.TrimSpace(cfg.SigningKey) == "" {
		return nil, fmt.Errorf("token signing key is required")
	}

	issuer := &Issuer{
		store:  store,
		config: cfg,
		clock:  time.Now,
		newID:  id.NewID,
	}
	switch cfg.Algorithm {
	case AlgorithmHS256:
		issuer.method = jwt.SigningMethodHS256
		issuer.signKey = []byte(cfg.SigningKey)
		issuer.verifyKey = []byte(cfg.SigningKey)
	case AlgorithmEdDSA:
		seed, err := base64.RawURLEncoding.DecodeString(cfg.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("decode signing key: %w", err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("signing key must be a %d-byte seed, got %d", ed25519.SeedSize, len(seed))
		}
		private := ed25519.NewKeyFromSeed(seed)
		issuer.method = jwt.SigningMethodEdDSA
		issuer.signKey = private
		issuer.verifyKey = private.Public()
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}
	return issuer, nil
}

// IssueAccessToken mints a stateless signed token for an account. Nothing is
// persisted.
func (i *Issuer) IssueAccessToken(acct account.Account) (string, time.Time, error) {
	if i == nil || i.method == nil {
		return "", time.Time{}, fmt.Errorf("token issuer is not configured")
	}
	now := i.clock().UTC()
	expiresAt := now.Add(i.config.AccessTokenTTL)
	claims := Claims{
		Role:   string(acct.Role),
		Scopes: acct.Scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.ID,
			Issuer:    i.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseAccessToken validates a bearer token and returns its claims.
func (i *Issuer) ParseAccessToken(raw string) (Claims, error) {
	if i == nil || i.method == nil {
		return Claims{}, fmt.Errorf("token issuer is not configured")
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(t *jwt.Token) (any, error) { return i.verifyKey, nil },
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return i.clock().UTC() }),
	)
	if err != nil {
		return Claims{}, ErrAccessTokenInvalid
	}
	if claims.Subject == "" {
		return Claims{}, ErrAccessTokenInvalid
	}
	return claims, nil
}

// IssueRefreshToken creates a refresh token for an account and returns the
// raw value once; only its digest is persisted.
func (i *Issuer) IssueRefreshToken(ctx context.Context, accountID string) (string, time.Time, error) {
	if i == nil || i.store == nil {
		return "", time.Time{}, fmt.Errorf("token issuer is not configured")
	}

	var raw string
	var expiresAt time.Time
	err := i.store.RunInTx(ctx, func(tx storage.Tx) error {
		var err error
		raw, expiresAt, err = i.createRefreshToken(ctx, tx, accountID)
		return err
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return raw, expiresAt, nil
}

// RotateRefreshToken exchanges a presented refresh token for a new one. The
// revoke of the old row and the insert of its replacement commit together;
// if anything fails the old token stays usable.
func (i *Issuer) RotateRefreshToken(ctx context.Context, rawToken string) (string, time.Time, string, error) {
	if i == nil || i.store == nil {
		return "", time.Time{}, "", fmt.Errorf("token issuer is not configured")
	}
	if strings.TrimSpace(rawToken) == "" {
		return "", time.Time{}, "", ErrRefreshTokenInvalid
	}

	var newRaw string
	var expiresAt time.Time
	var accountID string
	err := i.store.RunInTx(ctx, func(tx storage.Tx) error {
		stored, err := tx.GetRefreshTokenByHash(ctx, id.HashSecret(rawToken))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrRefreshTokenInvalid
			}
			return fmt.Errorf("load refresh token: %w", err)
		}
		if stored.Revoked || !i.clock().UTC().Before(stored.ExpiresAt) {
			return ErrRefreshTokenInvalid
		}

		ok, err := tx.RevokeRefreshToken(ctx, stored.TokenHash)
		if err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
		if !ok {
			return ErrRefreshTokenInvalid
		}

		accountID = stored.AccountID
		newRaw, expiresAt, err = i.createRefreshToken(ctx, tx, stored.AccountID)
		return err
	})
	if err != nil {
		return "", time.Time{}, "", err
	}
	return newRaw, expiresAt, accountID, nil
}

// RevokeRefreshToken revokes a presented refresh token. Revoking an unknown
// or already-revoked token is not an error.
func (i *Issuer) RevokeRefreshToken(ctx context.Context, rawToken string) error {
	if i == nil || i.store == nil {
		return fmt.Errorf("token issuer is not configured")
	}
	if strings.TrimSpace(rawToken) == "" {
		return nil
	}
	return i.store.RunInTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.RevokeRefreshToken(ctx, id.HashSecret(rawToken)); err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
		return nil
	})
}

// MintPair issues the access and refresh tokens returned by login-shaped
// operations.
func (i *Issuer) MintPair(ctx context.Context, acct account.Account) (Pair, error) {
	access, accessExpiry, err := i.IssueAccessToken(acct)
	if err != nil {
		return Pair{}, err
	}
	refresh, refreshExpiry, err := i.IssueRefreshToken(ctx, acct.ID)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:      access,
		AccessExpiresAt:  accessExpiry,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExpiry,
	}, nil
}

func (i *Issuer) createRefreshToken(ctx context.Context, tx storage.Tx, accountID string) (string, time.Time, error) {
	raw, err := id.NewSecret(32)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate refresh token: %w", err)
	}
	tokenID, err := i.newID()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate token id: %w", err)
	}
	now := i.clock().UTC()
	expiresAt := now.Add(i.config.RefreshTokenTTL)
	err = tx.CreateRefreshToken(ctx, storage.RefreshToken{
		ID:        tokenID,
		AccountID: accountID,
		TokenHash: id.HashSecret(raw),
		ExpiresAt: expiresAt,
		CreatedAt: now,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("store refresh token: %w", err)
	}
	return raw, expiresAt, nil
}
