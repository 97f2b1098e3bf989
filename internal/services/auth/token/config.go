package token

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Signing algorithm names accepted by the issuer.
const (
	AlgorithmHS256 = "HS256"
	AlgorithmEdDSA = "EdDSA"
)

// Config controls token signing and lifetimes. SigningKey is the HMAC secret
// for HS256, or a base64url-encoded 32-byte Ed25519 seed for EdDSA.
type Config struct {
	Issuer          string        `env:"KEYFOLD_SPACE_TOKEN_ISSUER"      envDefault:"keyfold.space"`
	Algorithm       string        `env:"KEYFOLD_SPACE_TOKEN_ALGORITHM"   envDefault:"HS256"`
	SigningKey      string        `env:"KEYFOLD_SPACE_TOKEN_SIGNING_KEY"`
	AccessTokenTTL  time.Duration `env:"KEYFOLD_SPACE_TOKEN_ACCESS_TTL"  envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"KEYFOLD_SPACE_TOKEN_REFRESH_TTL" envDefault:"720h"`
}

// LoadConfigFromEnv returns token configuration with defaults. The signing
// key has no default; NewIssuer rejects an empty one.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{
			Issuer:          "keyfold.space",
			Algorithm:       AlgorithmHS256,
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 720 * time.Hour,
		}
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "keyfold.space"
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmHS256
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 15 * time.Minute
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = 720 * time.Hour
	}
	return cfg
}
