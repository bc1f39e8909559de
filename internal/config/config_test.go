package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store != StoreFile || cfg.StateFile != "./data/ledger.json" {
		t.Fatalf("unexpected store defaults: %+v", cfg)
	}
	if cfg.SlippageBps != 100 || cfg.MaxRetries != 5 || cfg.RetryBackoff != 50*time.Millisecond {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amm.yaml")
	data := []byte("store: memory\nlog-level: warn\nslippage-bps: 50\nmax-retries: 2\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("AMM_LOG_LEVEL", "debug")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Uint64("slippage-bps", 100, "")
	flags.Int("max-retries", 5, "")
	if err := flags.Parse([]string{"--slippage-bps=25"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store != StoreMemory {
		t.Fatalf("store from file = %q", cfg.Store)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("env should override file, got %q", cfg.LogLevel)
	}
	if cfg.SlippageBps != 25 {
		t.Fatalf("flag should override file, got %d", cfg.SlippageBps)
	}
	if cfg.MaxRetries != 2 {
		t.Fatalf("unset flag should not override file, got %d", cfg.MaxRetries)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown store":      {"AMM_STORE": "redis"},
		"postgres needs dsn": {"AMM_STORE": "postgres"},
		"negative retries":   {"AMM_STORE": "memory", "AMM_MAX_RETRIES": "-1"},
		"slippage too large": {"AMM_STORE": "memory", "AMM_SLIPPAGE_BPS": "10001"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load("", nil); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadServer(t *testing.T) {
	t.Setenv("AMM_STORE", "memory")
	t.Setenv("AMM_CORS_ORIGINS", "http://localhost:3000, https://app.example ,")
	t.Setenv("AMM_DEV_ROUTES", "true")

	cfg, err := LoadServer("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":8080" || !cfg.DevRoutes || cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected server config: %+v", cfg)
	}
	want := []string{"http://localhost:3000", "https://app.example"}
	if !reflect.DeepEqual(cfg.CORSOrigins, want) {
		t.Fatalf("cors origins = %v, want %v", cfg.CORSOrigins, want)
	}
}
