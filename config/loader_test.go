package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c360studio/agentboard/model"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.Dispatch.Interval != 5*time.Second {
		t.Errorf("expected 5s dispatch interval, got %s", cfg.Dispatch.Interval)
	}
	if cfg.Workers.HeartbeatTimeout != 120*time.Second {
		t.Errorf("expected 120s heartbeat timeout, got %s", cfg.Workers.HeartbeatTimeout)
	}
	if cfg.Review.MaxRounds != 3 {
		t.Errorf("expected 3 review rounds, got %d", cfg.Review.MaxRounds)
	}
	if len(cfg.Workers.Pool) != 5 {
		t.Errorf("expected 5 pool slots, got %d", len(cfg.Workers.Pool))
	}
}

func TestLoaderFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentboard.yaml")
	yaml := `
data:
  root: /var/lib/agentboard
  event_cap: 500
engines:
  a_cli: custom-a
review:
  max_rounds: 5
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader(nil).Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Data.Root != "/var/lib/agentboard" {
		t.Errorf("expected file data root, got %s", cfg.Data.Root)
	}
	if cfg.Data.EventCap != 500 {
		t.Errorf("expected event cap 500, got %d", cfg.Data.EventCap)
	}
	if cfg.Engines.ACLI != "custom-a" {
		t.Errorf("expected custom-a, got %s", cfg.Engines.ACLI)
	}
	if cfg.Engines.BCLI != "b-cli" {
		t.Errorf("unset fields keep defaults, got %s", cfg.Engines.BCLI)
	}
	if cfg.Review.MaxRounds != 5 {
		t.Errorf("expected 5 rounds, got %d", cfg.Review.MaxRounds)
	}
}

func TestLoaderEnvOverridesFile(t *testing.T) {
	t.Setenv("DATA_ROOT", "/env/data")
	t.Setenv("DISPATCH_INTERVAL_SEC", "9")
	t.Setenv("WORKER_EXEC_MODE", "dry-run")
	t.Setenv("DISPATCH_ENABLED", "false")
	t.Setenv("MAX_REVIEW_ROUNDS", "2")

	cfg, err := NewLoader(nil).Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Data.Root != "/env/data" {
		t.Errorf("expected env data root, got %s", cfg.Data.Root)
	}
	if cfg.Dispatch.Interval != 9*time.Second {
		t.Errorf("expected 9s interval, got %s", cfg.Dispatch.Interval)
	}
	if cfg.Engines.ExecMode != ExecDryRun {
		t.Errorf("expected dry-run, got %s", cfg.Engines.ExecMode)
	}
	if cfg.Dispatch.Enabled {
		t.Error("expected dispatch disabled")
	}
	if cfg.Review.MaxRounds != 2 {
		t.Errorf("expected 2 rounds, got %d", cfg.Review.MaxRounds)
	}
}

func TestLoaderMalformedEnvIgnored(t *testing.T) {
	t.Setenv("EVENT_CAP", "not-a-number")
	cfg, err := NewLoader(nil).Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Data.EventCap != 2000 {
		t.Errorf("malformed env must keep the default, got %d", cfg.Data.EventCap)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data root", func(c *Config) { c.Data.Root = "" }},
		{"zero interval", func(c *Config) { c.Dispatch.Interval = 0 }},
		{"empty pool", func(c *Config) { c.Workers.Pool = nil }},
		{"duplicate worker id", func(c *Config) {
			c.Workers.Pool = append(c.Workers.Pool, c.Workers.Pool[0])
		}},
		{"auto worker engine", func(c *Config) { c.Workers.Pool[0].Engine = model.EngineAuto }},
		{"missing cli", func(c *Config) { c.Engines.ACLI = "" }},
		{"bad exec mode", func(c *Config) { c.Engines.ExecMode = "sometimes" }},
		{"zero review rounds", func(c *Config) { c.Review.MaxRounds = 0 }},
		{"empty mainline", func(c *Config) { c.Worktree.Mainline = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestCLIFor(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.CLIFor(model.EngineA) != "a-cli" {
		t.Error("engine a must map to a-cli")
	}
	if cfg.CLIFor(model.EngineB) != "b-cli" {
		t.Error("engine b must map to b-cli")
	}
}

func TestDefaultWorkerPoolSplit(t *testing.T) {
	var a, b int
	for _, spec := range DefaultWorkerPool() {
		switch spec.Engine {
		case model.EngineA:
			a++
		case model.EngineB:
			b++
		}
	}
	if a != 3 || b != 2 {
		t.Errorf("expected 3 engine-a and 2 engine-b slots, got %d/%d", a, b)
	}
}
