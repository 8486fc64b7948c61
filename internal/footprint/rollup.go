package footprint

import (
	"footprint-systemv1/internal/model"
)

// Fold merges a completed lower-interval candle into an open higher one:
// OHLC extended, volumes and counts summed, bins merged per tick price.
// An empty dst adopts its aligned period from the source's open time.
func Fold(dst *model.FootprintCandle, tf model.Timeframe, src *model.FootprintCandle, binSize float64) {
	if dst.IsEmpty() {
		dst.OpenTime = tf.Align(src.OpenTime)
		dst.Open = src.Open
		dst.High = src.High
		dst.Low = src.Low
		dst.FirstID = src.FirstID
	} else {
		if src.High > dst.High {
			dst.High = src.High
		}
		if src.Low < dst.Low {
			dst.Low = src.Low
		}
	}
	dst.Close = src.Close

	dst.Volume += src.Volume
	dst.BuyVolume += src.BuyVolume
	dst.SellVolume += src.SellVolume
	dst.Quote += src.Quote
	dst.BuyQuote += src.BuyQuote
	dst.SellQuote += src.SellQuote
	dst.Trades += src.Trades

	// Delta extremes compose: within the folded span the cumulative delta
	// ran from its prior value through the source's own excursion.
	base := dst.Delta
	if m := base + src.DeltaMax; m > dst.DeltaMax {
		dst.DeltaMax = m
	}
	if m := base + src.DeltaMin; m < dst.DeltaMin {
		dst.DeltaMin = m
	}
	dst.Delta = base + src.Delta

	if src.LastID > dst.LastID {
		dst.LastID = src.LastID
	}
	mergeBins(dst, src, binSize)
}

// Rollup folds a completed base candle into every higher timeframe in
// ascending order and cascades completions: any higher candle whose period
// the trade timestamp has passed is finalized, detached, and replaced by
// an empty successor. Returns the finalized candles in ascending interval
// order, which is also non-decreasing close time.
func Rollup(g *model.CandleGroup, completed *model.FootprintCandle, tradeTs int64) []*model.FootprintCandle {
	binSize := g.EffectiveBinSize()
	var out []*model.FootprintCandle
	for _, tf := range model.Timeframes[1:] {
		c := g.Candles[tf.Name]
		Fold(c, tf, completed, binSize)
		if !c.IsEmpty() && tf.Period(tradeTs) > tf.Period(c.OpenTime) {
			Finalize(c, tf)
			g.Candles[tf.Name] = Successor(c, tf)
			out = append(out, c)
		}
	}
	return out
}
