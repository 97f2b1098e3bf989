package auth

import (
	"flag"
	"testing"
)

func envLookup(values map[string]string) EnvLookup {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil, envLookup(nil))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 8085 {
		t.Fatalf("expected default port 8085, got %d", cfg.Port)
	}
	if cfg.HTTPAddr != "localhost:8086" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
}

func TestParseConfigEnvAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil, envLookup(map[string]string{
		"KEYFOLD_SPACE_AUTH_HTTP_ADDR": "env-http",
	}))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "env-http" {
		t.Fatalf("expected env http addr, got %q", cfg.HTTPAddr)
	}

	fs = flag.NewFlagSet("auth", flag.ContinueOnError)
	cfg, err = ParseConfig(fs, []string{"-port", "9000", "-http-addr", "flag-http"}, envLookup(map[string]string{
		"KEYFOLD_SPACE_AUTH_HTTP_ADDR": "env-http",
	}))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9000 {
		t.Fatalf("expected port 9000, got %d", cfg.Port)
	}
	if cfg.HTTPAddr != "flag-http" {
		t.Fatalf("expected flag http addr, got %q", cfg.HTTPAddr)
	}
}
