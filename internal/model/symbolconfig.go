package model

import "fmt"

// SymbolConfig is the operator-controlled sizing for one symbol's footprint
// bins. TickValue is the exchange price increment; BinMultiplier scales it
// to the effective bin width. Changes to either are staged as a
// PendingConfig and applied only when the next 1d candle completes.
type SymbolConfig struct {
	Exchange       string  `json:"exchange"`
	Symbol         string  `json:"symbol"`
	TickValue      float64 `json:"tickValue"`
	BinMultiplier  int     `json:"binMultiplier"`
	PricePrecision int     `json:"pricePrecision,omitempty"`
	MinQty         float64 `json:"minQty,omitempty"`
	MaxQty         float64 `json:"maxQty,omitempty"`
}

// EffectiveBinSize is TickValue * BinMultiplier.
func (c *SymbolConfig) EffectiveBinSize() float64 {
	return c.TickValue * float64(c.BinMultiplier)
}

// Validate checks the invariants required before a config may be used.
func (c *SymbolConfig) Validate() error {
	switch {
	case c.Symbol == "":
		return fmt.Errorf("symbol config: empty symbol")
	case c.TickValue <= 0:
		return fmt.Errorf("symbol config %s: tickValue %v <= 0", c.Symbol, c.TickValue)
	case c.BinMultiplier < 1:
		return fmt.Errorf("symbol config %s: binMultiplier %d < 1", c.Symbol, c.BinMultiplier)
	}
	return nil
}

// PendingConfig is a staged {tickValue, binMultiplier} change awaiting the
// next 1d completion. Present iff a change is staged.
type PendingConfig struct {
	TickValue     float64 `json:"tickValue"`
	BinMultiplier int     `json:"binMultiplier"`
	UpdatedAt     int64   `json:"updatedAt"` // epoch ms
}
