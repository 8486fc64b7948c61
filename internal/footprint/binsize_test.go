package footprint

import (
	"math"
	"testing"
)

func TestComputeBinSize_Tiers(t *testing.T) {
	cases := []struct {
		name      string
		price     float64
		tickValue float64
		wantSize  float64
		wantMult  int
		wantTier  PriceTier
	}{
		{"btc ultra", 50000, 0.01, 5.0, 500, TierUltra},
		{"btc ultra high", 65000, 0.01, 10.0, 1000, TierUltra},
		{"eth major", 3000, 0.01, 1.0, 100, TierMajor},
		{"sol liquid alt", 150, 0.001, 0.2, 200, TierLiquidAlt},
		{"meme coin", 0.5, 0.00001, 0.0025, 250, TierMemeCoin},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := ComputeBinSize(tc.price, tc.tickValue)
			if math.Abs(res.BinSize-tc.wantSize) > 1e-9*tc.wantSize {
				t.Errorf("bin size: expected %v, got %v", tc.wantSize, res.BinSize)
			}
			if res.BinMultiplier != tc.wantMult {
				t.Errorf("multiplier: expected %d, got %d", tc.wantMult, res.BinMultiplier)
			}
			if res.Tier != tc.wantTier {
				t.Errorf("tier: expected %s, got %s", tc.wantTier, res.Tier)
			}
		})
	}
}

func TestComputeBinSize_ResultInvariants(t *testing.T) {
	prices := []float64{0.0001, 0.02, 0.9, 1, 12.5, 999, 1000, 42000, 50000, 250000}
	ticks := []float64{0.00000001, 0.0001, 0.001, 0.01, 0.05, 0.1, 1}
	for _, p := range prices {
		for _, tv := range ticks {
			res := ComputeBinSize(p, tv)
			if res.BinSize <= 0 {
				t.Errorf("P=%v tv=%v: bin size %v <= 0", p, tv, res.BinSize)
			}
			if res.BinMultiplier < 1 {
				t.Errorf("P=%v tv=%v: multiplier %d < 1", p, tv, res.BinMultiplier)
			}
			if !IsNice(res.BinSize) {
				t.Errorf("P=%v tv=%v: bin size %v is not a nice number", p, tv, res.BinSize)
			}
		}
	}
}

func TestComputeBinSize_FallbackForIncommensurableTick(t *testing.T) {
	// No nice number is an integer multiple of a 0.003 tick, so the tick
	// is scaled by the nearest nice multiplier instead.
	res := ComputeBinSize(10, 0.003)
	if res.BinMultiplier < 1 || res.BinMultiplier > 100 {
		t.Errorf("expected multiplier in [1,100], got %d", res.BinMultiplier)
	}
	if math.Abs(res.BinSize-0.003*float64(res.BinMultiplier)) > 1e-9 {
		t.Errorf("expected bin size %v, got %v", 0.003*float64(res.BinMultiplier), res.BinSize)
	}
}

func TestIsNice(t *testing.T) {
	nice := []float64{0.0001, 0.0025, 0.04, 0.5, 1, 2, 2.5, 4, 5, 10, 25, 400, 50000}
	for _, v := range nice {
		if !IsNice(v) {
			t.Errorf("expected %v to be nice", v)
		}
	}
	notNice := []float64{0, -1, 0.0003, 0.3, 3, 6, 7.5, 9, 11, 30}
	for _, v := range notNice {
		if IsNice(v) {
			t.Errorf("expected %v to not be nice", v)
		}
	}
}

func TestBinPrice_FloorSemantics(t *testing.T) {
	cases := []struct {
		price, binSize, want float64
	}{
		{50000.0, 5, 50000},
		{50004.99, 5, 50000},
		{49999.99, 5, 49995},
		{0.5, 0.0025, 0.5},
		{3000.7, 1, 3000},
	}
	for _, tc := range cases {
		if got := BinPrice(tc.price, tc.binSize); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("BinPrice(%v, %v): expected %v, got %v", tc.price, tc.binSize, tc.want, got)
		}
	}
}
