package worker

import (
	"testing"

	"footprint-systemv1/internal/model"
)

// countingSource counts how many lookups fall through the cache.
type countingSource struct {
	calls int
	known map[string]model.SymbolConfig
}

func (c *countingSource) Lookup(exchange, symbol string) (model.SymbolConfig, bool) {
	c.calls++
	cfg, ok := c.known[exchange+":"+symbol]
	return cfg, ok
}

func TestConfigCache_MemoizesHits(t *testing.T) {
	src := &countingSource{known: map[string]model.SymbolConfig{
		"BINANCE:BTCUSDT": {Symbol: "BTCUSDT", TickValue: 0.01, BinMultiplier: 10},
	}}
	cache := NewConfigCache(src)

	for i := 0; i < 5; i++ {
		cfg, ok := cache.Lookup("BINANCE", "BTCUSDT")
		if !ok || cfg.TickValue != 0.01 {
			t.Fatalf("lookup %d failed: %+v ok=%v", i, cfg, ok)
		}
	}
	if src.calls != 1 {
		t.Errorf("expected 1 source call, got %d", src.calls)
	}
}

func TestConfigCache_MissesAreNotCached(t *testing.T) {
	src := &countingSource{known: map[string]model.SymbolConfig{}}
	cache := NewConfigCache(src)

	cache.Lookup("BINANCE", "NOPE")
	cache.Lookup("BINANCE", "NOPE")
	if src.calls != 2 {
		t.Errorf("misses must fall through every time, got %d calls", src.calls)
	}
}

func TestConfigCache_Invalidate(t *testing.T) {
	src := &countingSource{known: map[string]model.SymbolConfig{
		"BINANCE:BTCUSDT": {Symbol: "BTCUSDT", TickValue: 0.01, BinMultiplier: 10},
	}}
	cache := NewConfigCache(src)

	cache.Lookup("BINANCE", "BTCUSDT")
	src.known["BINANCE:BTCUSDT"] = model.SymbolConfig{Symbol: "BTCUSDT", TickValue: 0.05, BinMultiplier: 10}

	// Still the cached value until invalidated.
	cfg, _ := cache.Lookup("BINANCE", "BTCUSDT")
	if cfg.TickValue != 0.01 {
		t.Errorf("expected cached 0.01, got %v", cfg.TickValue)
	}

	cache.Invalidate("BINANCE", "BTCUSDT")
	cfg, _ = cache.Lookup("BINANCE", "BTCUSDT")
	if cfg.TickValue != 0.05 {
		t.Errorf("expected refreshed 0.05, got %v", cfg.TickValue)
	}
}
