package passkey

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls WebAuthn relying party settings.
//
// The relying party id and origin are captured into each challenge flow at
// issuance, so changing these values mid-deployment never alters the
// expectations of a ceremony already in flight.
type Config struct {
	RPDisplayName string        `env:"KEYFOLD_SPACE_WEBAUTHN_RP_DISPLAY_NAME" envDefault:"Keyfold"`
	RPID          string        `env:"KEYFOLD_SPACE_WEBAUTHN_RP_ID"           envDefault:"localhost"`
	RPOrigin      string        `env:"KEYFOLD_SPACE_WEBAUTHN_RP_ORIGIN"       envDefault:"http://localhost:8086"`
	FlowTTL       time.Duration `env:"KEYFOLD_SPACE_WEBAUTHN_FLOW_TTL"        envDefault:"5m"`

	// AllowPendingAccounts lets a deployment hand an existing account shell
	// to StartRegistration instead of minting a fresh one per ceremony.
	AllowPendingAccounts bool `env:"KEYFOLD_SPACE_WEBAUTHN_ALLOW_PENDING_ACCOUNTS" envDefault:"false"`
}

// LoadConfigFromEnv returns passkey configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{
			RPDisplayName: "Keyfold",
			RPID:          "localhost",
			RPOrigin:      "http://localhost:8086",
			FlowTTL:       5 * time.Minute,
		}
	}
	if cfg.RPDisplayName == "" {
		cfg.RPDisplayName = "Keyfold"
	}
	if cfg.RPID == "" {
		cfg.RPID = "localhost"
	}
	if cfg.RPOrigin == "" {
		cfg.RPOrigin = "http://localhost:8086"
	}
	if cfg.FlowTTL <= 0 {
		cfg.FlowTTL = 5 * time.Minute
	}
	return cfg
}
