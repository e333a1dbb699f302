package config

import (
	"testing"
	"time"
)

type envFixture struct {
	DBPath   string        `env:"RESONANCE_TEST_DB_PATH" envDefault:"data/test.db"`
	Interval time.Duration `env:"RESONANCE_TEST_INTERVAL" envDefault:"2m"`
	Port     int           `env:"RESONANCE_TEST_PORT" envDefault:"8090"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envFixture
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.DBPath != "data/test.db" {
		t.Fatalf("db path = %q, want %q", cfg.DBPath, "data/test.db")
	}
	if cfg.Interval != 2*time.Minute {
		t.Fatalf("interval = %v, want %v", cfg.Interval, 2*time.Minute)
	}
	if cfg.Port != 8090 {
		t.Fatalf("port = %d, want 8090", cfg.Port)
	}
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("RESONANCE_TEST_PORT", "9011")
	t.Setenv("RESONANCE_TEST_INTERVAL", "30s")

	var cfg envFixture
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 9011 {
		t.Fatalf("port = %d, want 9011", cfg.Port)
	}
	if cfg.Interval != 30*time.Second {
		t.Fatalf("interval = %v, want %v", cfg.Interval, 30*time.Second)
	}
}
