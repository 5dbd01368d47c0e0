package config

import (
	"flag"
	"testing"
	"time"
)

type testConfig struct {
	Addr         string        `env:"RAILBOOK_TEST_ADDR" envDefault:":8080"`
	PollInterval time.Duration `env:"RAILBOOK_TEST_POLL_INTERVAL" envDefault:"2s"`
	MaxRetries   int           `env:"RAILBOOK_TEST_MAX_RETRIES" envDefault:"5"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg testConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Fatalf("expected default poll interval, got %v", cfg.PollInterval)
	}
	if cfg.MaxRetries != 5 {
		t.Fatalf("expected default max retries, got %d", cfg.MaxRetries)
	}
}

func TestParseEnvOverride(t *testing.T) {
	t.Setenv("RAILBOOK_TEST_ADDR", ":9999")

	var cfg testConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("expected env override, got %q", cfg.Addr)
	}
}

func TestParseEnvNilTarget(t *testing.T) {
	if err := ParseEnv(nil); err == nil {
		t.Fatal("expected error for nil target")
	}
}

func TestParseArgsFlagsWin(t *testing.T) {
	var cfg testConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	if err := ParseArgs(fs, []string{"-addr", ":7070"}); err != nil {
		t.Fatalf("parse args: %v", err)
	}
	if cfg.Addr != ":7070" {
		t.Fatalf("expected flag override, got %q", cfg.Addr)
	}
}

func TestParseArgsNilFlagSet(t *testing.T) {
	if err := ParseArgs(nil, nil); err == nil {
		t.Fatal("expected error for nil flag set")
	}
}
