package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "values.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_FileOverDefaults(t *testing.T) {
	path := writeFile(t, `
db_dsn: "postgres://x"
supervisor:
  reconcile_interval: 5s
  max_restarts: 2
engine:
  min_notional_usd: 25
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DB != "postgres://x" {
		t.Errorf("db = %q", cfg.DB)
	}
	if cfg.Supervisor.ReconcileInterval != 5*time.Second || cfg.Supervisor.MaxRestarts != 2 {
		t.Errorf("supervisor = %+v", cfg.Supervisor)
	}
	if cfg.Engine.MinNotionalUSD != 25 {
		t.Errorf("min notional = %v", cfg.Engine.MinNotionalUSD)
	}
	// untouched sections keep their defaults
	if cfg.Engine.FallbackStopPct != 0.5 || cfg.Exchange.Burst != 5 {
		t.Errorf("defaults lost: %+v %+v", cfg.Engine, cfg.Exchange)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, `
db_dsn: "postgres://file"
exchange:
  base_url: "https://file"
`)
	t.Setenv("DATABASE_DSN", "postgres://env")
	t.Setenv("EXCHANGE_BASE_URL", "https://env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DB != "postgres://env" {
		t.Errorf("db = %q", cfg.DB)
	}
	if cfg.Exchange.BaseURL != "https://env" {
		t.Errorf("base url = %q", cfg.Exchange.BaseURL)
	}
}

func TestLoad_Invalid(t *testing.T) {
	path := writeFile(t, `
supervisor:
  heartbeat_timeout: 1s
engine:
  heartbeat_interval: 10s
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestLoad_PollBackoff(t *testing.T) {
	cfg, err := Load(writeFile(t, "db_dsn: \"postgres://x\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Exchange.PollBackoff != 500*time.Millisecond {
		t.Errorf("default poll backoff = %s", cfg.Exchange.PollBackoff)
	}

	cfg, err = Load(writeFile(t, `
db_dsn: "postgres://x"
exchange:
  poll_backoff: 2s
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Exchange.PollBackoff != 2*time.Second {
		t.Errorf("poll backoff = %s", cfg.Exchange.PollBackoff)
	}
}
