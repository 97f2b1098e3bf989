package token

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/keyfold.space/internal/services/auth/account"
	"github.com/louisbranch/keyfold.space/internal/services/auth/storage/sqlite"
)

func newTestIssuer(t *testing.T, cfg Config) (*Issuer, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if cfg.Issuer == "" {
		cfg.Issuer = "keyfold.space"
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmHS256
	}
	if cfg.SigningKey == "" {
		cfg.SigningKey = "test-signing-secret"
	}
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = 15 * time.Minute
	}
	if cfg.RefreshTokenTTL == 0 {
		cfg.RefreshTokenTTL = time.Hour
	}

	issuer, err := NewIssuer(store, cfg)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return issuer, store
}

func TestAccessTokenRoundTrip(t *testing.T) {
	issuer, _ := newTestIssuer(t, Config{})

	acct := account.Account{ID: "acct-1", Role: account.RoleAdmin, Scopes: []string{"credentials:manage"}}
	signed, expiresAt, err := issuer.IssueAccessToken(acct)
	if err != nil {
		t.Fatalf("issue access token: %v", err)
	}
	if !expiresAt.After(time.Now()) {
		t.Fatalf("expiry in the past: %v", expiresAt)
	}

	claims, err := issuer.ParseAccessToken(signed)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.Subject != "acct-1" || claims.Role != "admin" {
		t.Fatalf("claims = %+v", claims)
	}
	if len(claims.Scopes) != 1 || claims.Scopes[0] != "credentials:manage" {
		t.Fatalf("scopes = %v", claims.Scopes)
	}
	if claims.Issuer != "keyfold.space" {
		t.Fatalf("issuer = %q", claims.Issuer)
	}
}

func TestAccessTokenEdDSA(t *testing.T) {
	_, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	seed := base64.RawURLEncoding.EncodeToString(private.Seed())

	issuer, _ := newTestIssuer(t, Config{Algorithm: AlgorithmEdDSA, SigningKey: seed})

	signed, _, err := issuer.IssueAccessToken(account.Account{ID: "acct-1", Role: account.RoleUser})
	if err != nil {
		t.Fatalf("issue access token: %v", err)
	}
	claims, err := issuer.ParseAccessToken(signed)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.Subject != "acct-1" {
		t.Fatalf("subject = %q", claims.Subject)
	}
}

func TestParseAccessTokenRejections(t *testing.T) {
	issuer, _ := newTestIssuer(t, Config{})
	other, _ := newTestIssuer(t, Config{SigningKey: "a-different-secret"})

	signed, _, err := other.IssueAccessToken(account.Account{ID: "acct-1", Role: account.RoleUser})
	if err != nil {
		t.Fatalf("issue access token: %v", err)
	}
	if _, err := issuer.ParseAccessToken(signed); !errors.Is(err, ErrAccessTokenInvalid) {
		t.Fatalf("wrong key: got %v", err)
	}
	if _, err := issuer.ParseAccessToken("not-a-token"); !errors.Is(err, ErrAccessTokenInvalid) {
		t.Fatalf("garbage: got %v", err)
	}

	expired, _ := newTestIssuer(t, Config{})
	expired.clock = func() time.Time { return time.Now().Add(-time.Hour) }
	signed, _, err = expired.IssueAccessToken(account.Account{ID: "acct-1", Role: account.RoleUser})
	if err != nil {
		t.Fatalf("issue access token: %v", err)
	}
	expired.clock = time.Now
	if _, err := expired.ParseAccessToken(signed); !errors.Is(err, ErrAccessTokenInvalid) {
		t.Fatalf("expired: got %v", err)
	}
}

func TestNewIssuerValidation(t *testing.T) {
	if _, err := NewIssuer(nil, Config{Algorithm: AlgorithmHS256}); err == nil {
		t.Fatal("expected error for empty signing key")
	}
	if _, err := NewIssuer(nil, Config{Algorithm: "RS256", SigningKey: "x"}); err == nil {
		t.Fatal("expected error for unsupported algorithm")
	}
	if _, err := NewIssuer(nil, Config{Algorithm: AlgorithmEdDSA, SigningKey: "too-short"}); err == nil {
		t.Fatal("expected error for malformed seed")
	}
}

func TestRefreshTokenRotation(t *testing.T) {
	issuer, _ := newTestIssuer(t, Config{})
	ctx := context.Background()

	raw, _, err := issuer.IssueRefreshToken(ctx, "acct-1")
	if err != nil {
		t.Fatalf("issue refresh token: %v", err)
	}

	rotated, _, accountID, err := issuer.RotateRefreshToken(ctx, raw)
	if err != nil {
		t.Fatalf("rotate refresh token: %v", err)
	}
	if accountID != "acct-1" {
		t.Fatalf("account = %q", accountID)
	}
	if rotated == raw {
		t.Fatal("rotation returned the same token")
	}

	// The superseded token is dead; the replacement still works.
	if _, _, _, err := issuer.RotateRefreshToken(ctx, raw); !errors.Is(err, ErrRefreshTokenInvalid) {
		t.Fatalf("reused token: got %v", err)
	}
	if _, _, _, err := issuer.RotateRefreshToken(ctx, rotated); err != nil {
		t.Fatalf("rotate replacement: %v", err)
	}
}

func TestRotateRefreshTokenRejections(t *testing.T) {
	issuer, _ := newTestIssuer(t, Config{RefreshTokenTTL: time.Minute})
	ctx := context.Background()

	if _, _, _, err := issuer.RotateRefreshToken(ctx, "unknown-token"); !errors.Is(err, ErrRefreshTokenInvalid) {
		t.Fatalf("unknown token: got %v", err)
	}

	raw, _, err := issuer.IssueRefreshToken(ctx, "acct-1")
	if err != nil {
		t.Fatalf("issue refresh token: %v", err)
	}
	issuer.clock = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, _, _, err := issuer.RotateRefreshToken(ctx, raw); !errors.Is(err, ErrRefreshTokenInvalid) {
		t.Fatalf("expired token: got %v", err)
	}
}

func TestRevokeRefreshTokenIdempotent(t *testing.T) {
	issuer, _ := newTestIssuer(t, Config{})
	ctx := context.Background()

	raw, _, err := issuer.IssueRefreshToken(ctx, "acct-1")
	if err != nil {
		t.Fatalf("issue refresh token: %v", err)
	}

	if err := issuer.RevokeRefreshToken(ctx, raw); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := issuer.RevokeRefreshToken(ctx, raw); err != nil {
		t.Fatalf("repeat revoke: %v", err)
	}
	if err := issuer.RevokeRefreshToken(ctx, "never-issued"); err != nil {
		t.Fatalf("revoke unknown: %v", err)
	}

	if _, _, _, err := issuer.RotateRefreshToken(ctx, raw); !errors.Is(err, ErrRefreshTokenInvalid) {
		t.Fatalf("revoked token: got %v", err)
	}
}

func TestMintPair(t *testing.T) {
	issuer, _ := newTestIssuer(t, Config{})
	ctx := context.Background()

	pair, err := issuer.MintPair(ctx, account.Account{ID: "acct-1", Role: account.RoleUser})
	if err != nil {
		t.Fatalf("mint pair: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("pair = %+v", pair)
	}
	if _, err := issuer.ParseAccessToken(pair.AccessToken); err != nil {
		t.Fatalf("parse minted access token: %v", err)
	}
	if _, _, _, err := issuer.RotateRefreshToken(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("rotate minted refresh token: %v", err)
	}
}
