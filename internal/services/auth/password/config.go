package password

import (
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/crypto/bcrypt"
)

// Config controls password registration and reset behavior.
type Config struct {
	// BootstrapAdminEmails lists emails that register with the admin role.
	BootstrapAdminEmails []string `env:"KEYFOLD_SPACE_AUTH_BOOTSTRAP_ADMIN_EMAILS" envSeparator:","`
	// FirstAccountAdmin grants the admin role to the very first account.
	FirstAccountAdmin bool `env:"KEYFOLD_SPACE_AUTH_FIRST_ACCOUNT_ADMIN" envDefault:"false"`

	ResetTokenTTL time.Duration `env:"KEYFOLD_SPACE_AUTH_RESET_TOKEN_TTL" envDefault:"30m"`
	BcryptCost    int           `env:"KEYFOLD_SPACE_AUTH_BCRYPT_COST"     envDefault:"10"`

	MinPasswordLength int `env:"KEYFOLD_SPACE_AUTH_MIN_PASSWORD_LENGTH" envDefault:"8"`
}

// LoadConfigFromEnv returns password configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{
			ResetTokenTTL:     30 * time.Minute,
			BcryptCost:        bcrypt.DefaultCost,
			MinPasswordLength: 8,
		}
	}
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = 30 * time.Minute
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = 8
	}
	return cfg
}
