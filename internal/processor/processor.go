// Package processor applies trades to per-symbol candle groups: gap
// detection, duplicate skip, candle completion, rollup, and deferred
// config application. One Processor serves all symbols owned by one
// worker; calls for a given symbol arrive strictly in trade order.
package processor

import (
	"fmt"
	"time"

	"footprint-systemv1/internal/footprint"
	"footprint-systemv1/internal/model"
)

// Skip reasons reported for trades that do not advance the footprint.
const (
	SkipDuplicate  = "duplicate"
	SkipOutOfOrder = "out_of_order"
)

// GroupStore is the in-memory home of candle groups and their pending
// configs, with dirty tracking for the persistence write-back. The worker's
// candle storage implements it.
type GroupStore interface {
	Get(symbol string) *model.CandleGroup
	Put(symbol string, g *model.CandleGroup)
	MarkDirty(symbol string)
	Pending(symbol string) (model.PendingConfig, bool)
	StagePending(symbol string, p model.PendingConfig)
	ClearPending(symbol string)
}

// GapSubmitter accepts gap records without blocking. Overflow is the
// implementation's concern; a false return means the record was dropped.
type GapSubmitter interface {
	Submit(gap model.GapRecord) bool
}

// Result reports what one trade did to its symbol's group.
type Result struct {
	Skipped      bool
	SkipReason   string
	Completed    []model.CandleEvent
	Gap          *model.GapRecord
	ConfigStaged bool
	GroupRebuilt bool
}

// Processor advances candle groups one trade at a time.
type Processor struct {
	exchange string
	groups   GroupStore
	configs  model.ConfigSource
	gaps     GapSubmitter
	now      func() int64
}

// New wires a processor for one worker.
func New(exchange string, groups GroupStore, configs model.ConfigSource, gaps GapSubmitter) *Processor {
	return &Processor{
		exchange: exchange,
		groups:   groups,
		configs:  configs,
		gaps:     gaps,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// ProcessTrade applies one trade in arrival order. Completed-candle events
// are returned before any persistence happens so downstream consumers see
// completions even when the write-back lags.
func (p *Processor) ProcessTrade(tr *model.Trade) (Result, error) {
	var res Result

	g := p.groups.Get(tr.Symbol)
	if g == nil {
		cfg, err := p.resolveConfig(tr)
		if err != nil {
			return res, err
		}
		g = footprint.NewGroup(cfg)
		p.groups.Put(tr.Symbol, g)
	}

	p.stageConfigChange(tr.Symbol, g, &res)

	base := g.Base()
	prevLs := base.LastID

	// Gap detection runs against the last id seen before this trade; the
	// id advances for every trade, footprint-eligible or not.
	if prevLs > 0 && tr.TradeID > prevLs+1 {
		gap := model.NewGapRecord(g.Exchange, tr.Symbol, prevLs+1, tr.TradeID-1, p.now())
		res.Gap = &gap
		p.gaps.Submit(gap)
	}
	if tr.TradeID > base.LastID {
		base.LastID = tr.TradeID
	}

	if prevLs > 0 && tr.TradeID <= prevLs {
		res.Skipped = true
		if tr.TradeID == prevLs {
			res.SkipReason = SkipDuplicate
		} else {
			res.SkipReason = SkipOutOfOrder
		}
		p.groups.MarkDirty(tr.Symbol)
		return res, nil
	}

	if !tr.FootprintEligible() {
		p.groups.MarkDirty(tr.Symbol)
		return res, nil
	}

	baseTF := model.TimeframeBase
	if !base.IsEmpty() && baseTF.Period(tr.Timestamp) > baseTF.Period(base.OpenTime) {
		footprint.Finalize(base, baseTF)
		g.Candles[baseTF.Name] = footprint.Successor(base, baseTF)

		emittedAt := p.now()
		res.Completed = append(res.Completed, model.CandleEvent{Candle: base, EmittedAt: emittedAt})
		for _, c := range footprint.Rollup(g, base, tr.Timestamp) {
			res.Completed = append(res.Completed, model.CandleEvent{Candle: c, EmittedAt: emittedAt})
		}

		if completedDay(res.Completed) {
			if pending, ok := p.groups.Pending(tr.Symbol); ok {
				g = footprint.RebuildGroup(g, pending)
				p.groups.Put(tr.Symbol, g)
				p.groups.ClearPending(tr.Symbol)
				res.GroupRebuilt = true
			}
		}
	}

	footprint.ApplyTrade(g.Base(), baseTF, tr, g.EffectiveBinSize())
	p.groups.MarkDirty(tr.Symbol)
	return res, nil
}

// stageConfigChange stages a pending {tickValue, binMultiplier} change when
// the latest config differs from the group's and nothing is staged yet.
// The change applies only once the 1d candle completes.
func (p *Processor) stageConfigChange(symbol string, g *model.CandleGroup, res *Result) {
	cfg, ok := p.configs.Lookup(p.exchange, symbol)
	if !ok || cfg.TickValue <= 0 {
		return
	}
	if cfg.BinMultiplier < 1 {
		// Auto sizing follows the group until the tick itself changes.
		if cfg.TickValue == g.TickValue {
			return
		}
		price := g.Base().Close
		if price <= 0 {
			return
		}
		cfg.BinMultiplier = footprint.ComputeBinSize(price, cfg.TickValue).BinMultiplier
	}
	if cfg.TickValue == g.TickValue && cfg.BinMultiplier == g.BinMultiplier {
		return
	}
	if _, staged := p.groups.Pending(symbol); staged {
		return
	}
	p.groups.StagePending(symbol, model.PendingConfig{
		TickValue:     cfg.TickValue,
		BinMultiplier: cfg.BinMultiplier,
		UpdatedAt:     p.now(),
	})
	res.ConfigStaged = true
}

// resolveConfig finds the symbol's config for group creation. A zero
// binMultiplier means auto: sized from the first trade's price.
func (p *Processor) resolveConfig(tr *model.Trade) (model.SymbolConfig, error) {
	cfg, ok := p.configs.Lookup(p.exchange, tr.Symbol)
	if !ok {
		return cfg, fmt.Errorf("no symbol config for %s:%s", p.exchange, tr.Symbol)
	}
	cfg.Exchange = p.exchange
	if cfg.BinMultiplier < 1 {
		cfg.BinMultiplier = footprint.ComputeBinSize(tr.Price, cfg.TickValue).BinMultiplier
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("symbol config %s:%s: %w", p.exchange, tr.Symbol, err)
	}
	return cfg, nil
}

func completedDay(events []model.CandleEvent) bool {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Candle.Interval == model.TimeframeDay.Name {
			return true
		}
	}
	return false
}
