package footprint

import (
	"reflect"
	"testing"

	"footprint-systemv1/internal/model"
)

func TestNewGroup_OneCandlePerTimeframe(t *testing.T) {
	g := NewGroup(makeConfig())

	if len(g.Candles) != len(model.Timeframes) {
		t.Fatalf("expected %d candles, got %d", len(model.Timeframes), len(g.Candles))
	}
	for _, tf := range model.Timeframes {
		c := g.Candles[tf.Name]
		if c == nil {
			t.Fatalf("missing %s candle", tf.Name)
		}
		if c.Interval != tf.Name {
			t.Errorf("expected interval %s, got %s", tf.Name, c.Interval)
		}
		if c.Symbol != "BTCUSDT" || c.Exchange != "binance" {
			t.Errorf("%s: wrong identity %s:%s", tf.Name, c.Exchange, c.Symbol)
		}
		if c.TickValue != 0.01 {
			t.Errorf("%s: expected tv=0.01, got %v", tf.Name, c.TickValue)
		}
		if !c.IsEmpty() || c.Complete {
			t.Errorf("%s: expected empty open candle", tf.Name)
		}
	}
	if g.EffectiveBinSize() != 0.01 {
		t.Errorf("expected effective bin size 0.01, got %v", g.EffectiveBinSize())
	}
}

func TestGroupState_RoundTrip(t *testing.T) {
	g := NewGroup(makeConfig())
	tf := model.TimeframeBase
	ts := int64(1700000000000)
	ApplyTrade(g.Base(), tf, makeTrade(100, 50000, 0.1, model.SideBuy, ts), g.EffectiveBinSize())
	ApplyTrade(g.Base(), tf, makeTrade(101, 50000.5, 0.2, model.SideSell, ts), g.EffectiveBinSize())

	stateJSON, err := g.MarshalState()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	restored, err := model.UnmarshalGroupState(stateJSON)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if !reflect.DeepEqual(g, restored) {
		t.Errorf("round trip mismatch:\n  before %+v\n  after  %+v", g, restored)
	}
	if restored.Base().LastID != 101 {
		t.Errorf("expected restored ls=101, got %d", restored.Base().LastID)
	}
}

func TestUnmarshalGroupState_RejectsPartialState(t *testing.T) {
	if _, err := model.UnmarshalGroupState(`{"exchange":"binance","symbol":"BTCUSDT","candles":{}}`); err == nil {
		t.Error("expected error for state missing candles")
	}
	if _, err := model.UnmarshalGroupState(`not json`); err == nil {
		t.Error("expected error for malformed json")
	}
	if _, err := model.UnmarshalGroupState(`{"candles":{}}`); err == nil {
		t.Error("expected error for missing symbol")
	}
}

func TestRebuildGroup_AppliesPendingAndKeepsLastID(t *testing.T) {
	g := NewGroup(makeConfig())
	tf := model.TimeframeBase
	ApplyTrade(g.Base(), tf, makeTrade(500, 50000, 0.1, model.SideBuy, 1700000000000), g.EffectiveBinSize())

	rebuilt := RebuildGroup(g, model.PendingConfig{TickValue: 0.1, BinMultiplier: 5, UpdatedAt: 1700000000500})

	if rebuilt.TickValue != 0.1 || rebuilt.BinMultiplier != 5 {
		t.Errorf("expected tv=0.1 bm=5, got tv=%v bm=%d", rebuilt.TickValue, rebuilt.BinMultiplier)
	}
	if rebuilt.EffectiveBinSize() != 0.5 {
		t.Errorf("expected effective bin size 0.5, got %v", rebuilt.EffectiveBinSize())
	}
	if rebuilt.Base().LastID != 500 {
		t.Errorf("expected rebuilt ls=500, got %d", rebuilt.Base().LastID)
	}
	for _, tf := range model.Timeframes {
		if !rebuilt.Candles[tf.Name].IsEmpty() {
			t.Errorf("%s: expected empty candle after rebuild", tf.Name)
		}
	}
}
