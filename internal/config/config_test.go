package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsEnvOnly(t *testing.T) {
	cfg, err := Load("", true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Cycle.CycleLength != 100 || len(cfg.Cycle.PhaseLengths) != 4 {
		t.Fatalf("cycle=%+v", cfg.Cycle)
	}
	if cfg.Cycle.PollInterval != 5*time.Second {
		t.Fatalf("poll_interval=%s", cfg.Cycle.PollInterval)
	}
	if cfg.Settlement.NoWinnerPolicy != "retain" {
		t.Fatalf("no_winner_policy=%q", cfg.Settlement.NoWinnerPolicy)
	}
	if cfg.DB.DSN != "" {
		t.Fatalf("dsn=%q", cfg.DB.DSN)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
cycle:
  cycle_length: 20
  phase_lengths: [10, 6, 2, 2]
consensus:
  weights:
    momentum: 2.5
`)
	t.Setenv("AGRO_SERVER_HTTP_ADDR", ":9999")
	cfg, err := Load(path, false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Cycle.CycleLength != 20 || cfg.Cycle.PhaseLengths[0] != 10 {
		t.Fatalf("cycle=%+v", cfg.Cycle)
	}
	if cfg.Consensus.Weights["momentum"] != 2.5 {
		t.Fatalf("weights=%v", cfg.Consensus.Weights)
	}
	if cfg.Server.HTTPAddr != ":9999" {
		t.Fatalf("http_addr=%q", cfg.Server.HTTPAddr)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"weights": `
resolution:
  weights_without_weather:
    consensus: 0.9
    wager: 0.4
`,
		"policy": `
settlement:
  no_winner_policy: burn
`,
		"phases": `
cycle:
  cycle_length: 10
  phase_lengths: [6, 3, 2, 1]
`,
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body), false); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), false); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
