package worker

import (
	"sync"

	"footprint-systemv1/internal/model"
)

// ConfigCache memoizes symbol-config lookups in front of a slower source.
// Invalidate drops one symbol after an operator change so the next trade
// picks up the new sizing (and stages it for the 1d boundary).
type ConfigCache struct {
	src model.ConfigSource

	mu    sync.RWMutex
	cache map[string]model.SymbolConfig
}

// NewConfigCache wraps a config source.
func NewConfigCache(src model.ConfigSource) *ConfigCache {
	return &ConfigCache{
		src:   src,
		cache: make(map[string]model.SymbolConfig),
	}
}

// Lookup returns the cached config, falling through to the source on miss.
func (c *ConfigCache) Lookup(exchange, symbol string) (model.SymbolConfig, bool) {
	key := exchange + ":" + symbol
	c.mu.RLock()
	cfg, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return cfg, true
	}

	cfg, ok = c.src.Lookup(exchange, symbol)
	if !ok {
		return cfg, false
	}
	c.mu.Lock()
	c.cache[key] = cfg
	c.mu.Unlock()
	return cfg, true
}

// Invalidate evicts one symbol's cached config.
func (c *ConfigCache) Invalidate(exchange, symbol string) {
	c.mu.Lock()
	delete(c.cache, exchange+":"+symbol)
	c.mu.Unlock()
}
