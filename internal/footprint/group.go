package footprint

import (
	"footprint-systemv1/internal/model"
)

// NewGroup builds the default candle group for a symbol: one empty candle
// per tracked timeframe, sized by the config's tick value and multiplier.
func NewGroup(cfg model.SymbolConfig) *model.CandleGroup {
	g := &model.CandleGroup{
		Exchange:      cfg.Exchange,
		Symbol:        cfg.Symbol,
		TickValue:     cfg.TickValue,
		BinMultiplier: cfg.BinMultiplier,
		Candles:       make(map[string]*model.FootprintCandle, len(model.Timeframes)),
	}
	for _, tf := range model.Timeframes {
		g.Candles[tf.Name] = NewCandle(cfg.Exchange, cfg.Symbol, tf, cfg.TickValue)
	}
	return g
}

// RebuildGroup creates the replacement group after a pending config is
// applied at a 1d boundary. The base candle inherits LastID from the old
// group so gap detection continues across the rebuild.
func RebuildGroup(old *model.CandleGroup, pending model.PendingConfig) *model.CandleGroup {
	g := NewGroup(model.SymbolConfig{
		Exchange:      old.Exchange,
		Symbol:        old.Symbol,
		TickValue:     pending.TickValue,
		BinMultiplier: pending.BinMultiplier,
	})
	if base := old.Base(); base != nil {
		g.Base().LastID = base.LastID
	}
	return g
}
