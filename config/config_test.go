package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Pool.WorkerCount != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Pool.WorkerCount)
	}
	if cfg.SocketPath == "" {
		t.Error("expected default socket path")
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
exchange: BYBIT
pool:
  workerCount: 8
gap:
  batchSize: 25
symbols:
  - symbol: BTCUSDT
    tickValue: 0.1
    binMultiplier: 5
  - symbol: ETHUSDT
    tickValue: 0.01
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Exchange != "BYBIT" {
		t.Errorf("expected BYBIT, got %s", cfg.Exchange)
	}
	if cfg.Pool.WorkerCount != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.Pool.WorkerCount)
	}
	if cfg.Gap.BatchSize != 25 {
		t.Errorf("expected batch 25, got %d", cfg.Gap.BatchSize)
	}
	// Untouched fields keep their defaults.
	if cfg.Gap.MaxQueueSize != 1000 {
		t.Errorf("expected default gap queue 1000, got %d", cfg.Gap.MaxQueueSize)
	}
	if names := cfg.SymbolNames(); len(names) != 2 || names[0] != "BTCUSDT" {
		t.Errorf("bad symbols: %v", names)
	}
	if cfg.Symbols[1].BinMultiplier != 0 {
		t.Errorf("expected auto multiplier 0, got %d", cfg.Symbols[1].BinMultiplier)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("exchange: BYBIT\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FP_EXCHANGE", "BINANCE")
	t.Setenv("FP_WORKER_COUNT", "2")
	t.Setenv("FP_SYMBOLS", "SOLUSDT:0.001, DOGEUSDT")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Exchange != "BINANCE" {
		t.Errorf("env must win over yaml, got %s", cfg.Exchange)
	}
	if cfg.Pool.WorkerCount != 2 {
		t.Errorf("expected 2 workers, got %d", cfg.Pool.WorkerCount)
	}
	if len(cfg.Symbols) != 2 || cfg.Symbols[0].TickValue != 0.001 {
		t.Errorf("bad symbols from env: %+v", cfg.Symbols)
	}
	// Tick defaults to 0.01 when the pair omits it.
	if cfg.Symbols[1].Symbol != "DOGEUSDT" || cfg.Symbols[1].TickValue != 0.01 {
		t.Errorf("bad defaulted symbol: %+v", cfg.Symbols[1])
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Exchange = ""
	cfg.Pool.WorkerCount = 0
	cfg.Symbols = []SymbolEntry{{Symbol: "", TickValue: -1}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"exchange", "workerCount", "symbols[0].symbol", "tickValue"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error missing %q: %s", want, msg)
		}
	}
}
