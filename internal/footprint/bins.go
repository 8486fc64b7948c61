package footprint

import (
	"math"
	"sort"

	"footprint-systemv1/internal/model"
)

// BinPrice returns the tick price of the bin containing price: the price
// floored to a multiple of binSize. A price exactly on a boundary maps to
// the bin opening at that boundary; quotients within 1e-9 relative of the
// next integer snap up so inexactly-representable boundaries stay exact.
func BinPrice(price, binSize float64) float64 {
	m := price / binSize
	idx := math.Floor(m)
	if 1-(m-idx) <= niceTolerance*math.Max(1, m) {
		idx++
	}
	return idx * binSize
}

// findBin locates the bin with tick price tp in a tp-ascending slice.
// Returns the insertion index when absent. Bins are at least binSize
// apart, so matching within half a bin is exact.
func findBin(aggs []model.Aggs, tp, binSize float64) (int, bool) {
	i := sort.Search(len(aggs), func(i int) bool {
		return aggs[i].Tp > tp-binSize/2
	})
	if i < len(aggs) && math.Abs(aggs[i].Tp-tp) < binSize/2 {
		return i, true
	}
	return i, false
}

// applyBin adds one trade's volume to its price bin, inserting the bin in
// sorted position when new.
func applyBin(c *model.FootprintCandle, tr *model.Trade, binSize float64) {
	tp := BinPrice(tr.Price, binSize)
	q := tr.Quote()

	i, ok := findBin(c.Aggs, tp, binSize)
	if !ok {
		c.Aggs = append(c.Aggs, model.Aggs{})
		copy(c.Aggs[i+1:], c.Aggs[i:])
		c.Aggs[i] = model.Aggs{Tp: tp}
	}
	b := &c.Aggs[i]
	if tr.IsBuy() {
		b.Bv += tr.Qty
		b.Bq += q
	} else {
		b.Sv += tr.Qty
		b.Sq += q
	}
	b.V = b.Bv + b.Sv
	b.Q = b.Bq + b.Sq
}

// mergeBins folds every bin of src into dst, summing volumes per matching
// tick price. Both candles share the same bin size, so tick prices line up
// exactly.
func mergeBins(dst *model.FootprintCandle, src *model.FootprintCandle, binSize float64) {
	for _, sb := range src.Aggs {
		i, ok := findBin(dst.Aggs, sb.Tp, binSize)
		if !ok {
			dst.Aggs = append(dst.Aggs, model.Aggs{})
			copy(dst.Aggs[i+1:], dst.Aggs[i:])
			dst.Aggs[i] = model.Aggs{Tp: sb.Tp}
		}
		b := &dst.Aggs[i]
		b.Bv += sb.Bv
		b.Sv += sb.Sv
		b.Bq += sb.Bq
		b.Sq += sb.Sq
		b.V = b.Bv + b.Sv
		b.Q = b.Bq + b.Sq
	}
}
