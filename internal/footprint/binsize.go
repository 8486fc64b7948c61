package footprint

import "math"

// PriceTier classifies a symbol by current price; each tier targets a
// different bin width as a fraction of price.
type PriceTier string

const (
	TierUltra     PriceTier = "ultra"     // P >= 50000
	TierMajor     PriceTier = "major"     // P >= 1000
	TierLiquidAlt PriceTier = "liquidAlt" // P >= 1
	TierMemeCoin  PriceTier = "memeCoin"  // everything below
)

// niceMultipliers are the allowed mantissas: bin sizes must be k*10^n for
// one of these k.
var niceMultipliers = [...]float64{1, 2, 2.5, 4, 5}

// niceTolerance is the relative tolerance for the nice-number and
// multiple-of-tick tests.
const niceTolerance = 1e-9

// maxBinsFloorRatio keeps bins per candle at or under 200 across a 2% move:
// binSize >= P * 0.02 / 200.
const maxBinsFloorRatio = 0.02 / 200

// BinSizeResult is the outcome of ComputeBinSize.
type BinSizeResult struct {
	BinSize         float64   `json:"binSize"`
	BinMultiplier   int       `json:"binMultiplier"`
	Tier            PriceTier `json:"tier"`
	MaxBinsEnforced bool      `json:"maxBinsEnforced"`
}

// tierOf returns the price tier and its target bin fraction.
func tierOf(price float64) (PriceTier, float64) {
	switch {
	case price >= 50000:
		return TierUltra, 0.0001
	case price >= 1000:
		return TierMajor, 0.0003
	case price >= 1:
		return TierLiquidAlt, 0.001
	default:
		return TierMemeCoin, 0.005
	}
}

// ComputeBinSize picks the footprint bin width for a symbol trading at
// price with exchange tick tickValue. The result is the smallest "nice"
// value (k*10^n, k in {1, 2, 2.5, 4, 5}) at or above the tier's target
// width that is an integer multiple of the tick; when no such value exists
// the tick is scaled by the nearest nice multiplier, clamped to [1, 100].
func ComputeBinSize(price, tickValue float64) BinSizeResult {
	tier, pct := tierOf(price)
	target := price * pct
	res := BinSizeResult{Tier: tier}
	if floor := price * maxBinsFloorRatio; target < floor {
		target = floor
		res.MaxBinsEnforced = true
	}
	if target < tickValue {
		target = tickValue
	}

	if nice, ok := smallestNiceMultipleOf(target, tickValue); ok {
		res.BinSize = nice
		res.BinMultiplier = int(math.Round(nice / tickValue))
		return res
	}

	m := clampFloat(nearestNice(target/tickValue), 1, 100)
	res.BinSize = tickValue * m
	res.BinMultiplier = int(math.Round(res.BinSize / tickValue))
	if res.BinMultiplier < 1 {
		res.BinMultiplier = 1
	}
	return res
}

// IsNice reports whether v is k*10^n for an allowed k, within relative
// tolerance.
func IsNice(v float64) bool {
	if v <= 0 {
		return false
	}
	exp := math.Floor(math.Log10(v))
	for _, n := range []float64{exp - 1, exp, exp + 1} {
		scale := math.Pow(10, n)
		for _, k := range niceMultipliers {
			cand := k * scale
			if math.Abs(v-cand) <= niceTolerance*cand {
				return true
			}
		}
	}
	return false
}

// smallestNiceMultipleOf scans nice values in ascending order starting one
// decade below the target and returns the first one at or above target
// that is an integer multiple of tick. The scan covers eight decades; a
// miss means tick and target are incommensurable and the caller falls
// back to tick scaling.
func smallestNiceMultipleOf(target, tick float64) (float64, bool) {
	if target <= 0 || tick <= 0 {
		return 0, false
	}
	exp := math.Floor(math.Log10(target)) - 1
	for decade := 0; decade < 8; decade++ {
		scale := math.Pow(10, exp+float64(decade))
		for _, k := range niceMultipliers {
			cand := k * scale
			if cand < target && math.Abs(cand-target) > niceTolerance*target {
				continue
			}
			if isIntegerMultiple(cand, tick) {
				return cand, true
			}
		}
	}
	return 0, false
}

// isIntegerMultiple reports whether v = m*tick for integer m >= 1, within
// relative tolerance.
func isIntegerMultiple(v, tick float64) bool {
	m := v / tick
	rm := math.Round(m)
	if rm < 1 {
		return false
	}
	return math.Abs(m-rm) <= niceTolerance*math.Max(1, m)
}

// nearestNice returns the allowed nice value closest to x.
func nearestNice(x float64) float64 {
	if x <= 0 {
		return 1
	}
	exp := math.Floor(math.Log10(x))
	best, bestDiff := 1.0, math.MaxFloat64
	for _, n := range []float64{exp - 1, exp, exp + 1} {
		scale := math.Pow(10, n)
		for _, k := range niceMultipliers {
			cand := k * scale
			if diff := math.Abs(x - cand); diff < bestDiff {
				best, bestDiff = cand, diff
			}
		}
	}
	return best
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
