package engine

import (
	"footprint-systemv1/config"
	"footprint-systemv1/internal/model"
)

// StaticConfigs serves symbol configs straight from the loaded config
// file. Implements model.ConfigSource; a BinMultiplier of zero is passed
// through so the processor sizes bins from the first trade's price.
type StaticConfigs struct {
	exchange string
	bySymbol map[string]model.SymbolConfig
}

// NewStaticConfigs indexes the configured symbols.
func NewStaticConfigs(exchange string, entries []config.SymbolEntry) *StaticConfigs {
	m := make(map[string]model.SymbolConfig, len(entries))
	for _, e := range entries {
		m[e.Symbol] = model.SymbolConfig{
			Exchange:      exchange,
			Symbol:        e.Symbol,
			TickValue:     e.TickValue,
			BinMultiplier: e.BinMultiplier,
		}
	}
	return &StaticConfigs{exchange: exchange, bySymbol: m}
}

// Lookup returns the config for a symbol on the engine's exchange.
func (s *StaticConfigs) Lookup(exchange, symbol string) (model.SymbolConfig, bool) {
	if exchange != s.exchange {
		return model.SymbolConfig{}, false
	}
	cfg, ok := s.bySymbol[symbol]
	return cfg, ok
}
