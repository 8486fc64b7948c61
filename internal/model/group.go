package model

import (
	"encoding/json"
	"fmt"
)

// CandleGroup is the full per-symbol candle state: one footprint candle per
// maintained timeframe plus the bin-sizing parameters they all share.
// A group is owned by exactly one worker; the persisted JSON form of this
// struct is the stateJson stored per (exchange, symbol).
type CandleGroup struct {
	Exchange      string                      `json:"exchange"`
	Symbol        string                      `json:"symbol"`
	TickValue     float64                     `json:"tickValue"`
	BinMultiplier int                         `json:"binMultiplier"`
	Candles       map[string]*FootprintCandle `json:"candles"`
}

// EffectiveBinSize is the width of one footprint bin.
func (g *CandleGroup) EffectiveBinSize() float64 {
	return g.TickValue * float64(g.BinMultiplier)
}

// Candle returns the candle for an interval name, or nil if absent.
func (g *CandleGroup) Candle(interval string) *FootprintCandle {
	return g.Candles[interval]
}

// Base returns the 1s candle trades are applied to directly.
func (g *CandleGroup) Base() *FootprintCandle {
	return g.Candles[TimeframeBase.Name]
}

// Clone returns a deep copy of the group and every candle in it.
func (g *CandleGroup) Clone() *CandleGroup {
	cp := *g
	cp.Candles = make(map[string]*FootprintCandle, len(g.Candles))
	for name, c := range g.Candles {
		cp.Candles[name] = c.Clone()
	}
	return &cp
}

// MarshalState serializes the group to its persisted JSON form.
func (g *CandleGroup) MarshalState() (string, error) {
	b, err := json.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("marshal candle group %s:%s: %w", g.Exchange, g.Symbol, err)
	}
	return string(b), nil
}

// UnmarshalGroupState restores a group from its persisted JSON form and
// checks it is structurally usable: one candle per known timeframe.
func UnmarshalGroupState(stateJSON string) (*CandleGroup, error) {
	var g CandleGroup
	if err := json.Unmarshal([]byte(stateJSON), &g); err != nil {
		return nil, fmt.Errorf("unmarshal candle group: %w", err)
	}
	if g.Symbol == "" {
		return nil, fmt.Errorf("unmarshal candle group: missing symbol")
	}
	for _, tf := range Timeframes {
		if g.Candles[tf.Name] == nil {
			return nil, fmt.Errorf("unmarshal candle group %s:%s: missing %s candle", g.Exchange, g.Symbol, tf.Name)
		}
	}
	return &g, nil
}
