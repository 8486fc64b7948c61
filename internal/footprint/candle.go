// Package footprint maintains per-symbol footprint candle groups: OHLCV
// candles at every tracked timeframe with per-price-bin buy/sell volume,
// rolled up from the 1s base candle.
package footprint

import (
	"footprint-systemv1/internal/model"
)

// NewCandle returns an empty candle for one interval. OpenTime stays zero
// until the first trade or fold adopts the aligned period start.
func NewCandle(exchange, symbol string, tf model.Timeframe, tickValue float64) *model.FootprintCandle {
	return &model.FootprintCandle{
		Exchange:  exchange,
		Symbol:    symbol,
		Interval:  tf.Name,
		TickValue: tickValue,
	}
}

// ApplyTrade folds one trade into an open candle. On an empty candle it
// adopts the trade's aligned period and opens OHLC at the trade price.
// The caller has already checked footprint eligibility.
func ApplyTrade(c *model.FootprintCandle, tf model.Timeframe, tr *model.Trade, binSize float64) {
	if c.IsEmpty() {
		c.OpenTime = tf.Align(tr.Timestamp)
		c.Open = tr.Price
		c.High = tr.Price
		c.Low = tr.Price
		c.FirstID = tr.TradeID
	} else {
		if tr.Price > c.High {
			c.High = tr.Price
		}
		if tr.Price < c.Low {
			c.Low = tr.Price
		}
	}
	c.Close = tr.Price

	q := tr.Quote()
	c.Volume += tr.Qty
	c.Quote += q
	if tr.IsBuy() {
		c.BuyVolume += tr.Qty
		c.BuyQuote += q
		c.Delta += tr.Qty
	} else {
		c.SellVolume += tr.Qty
		c.SellQuote += q
		c.Delta -= tr.Qty
	}
	if c.Delta > c.DeltaMax {
		c.DeltaMax = c.Delta
	}
	if c.Delta < c.DeltaMin {
		c.DeltaMin = c.Delta
	}

	c.Trades++
	c.LastID = tr.TradeID
	applyBin(c, tr, binSize)
}

// Finalize freezes a candle at its period end: sets the complete flag and
// the final close time. Finalized candles are never mutated again; the
// caller detaches them from the group and replaces them with a fresh one.
func Finalize(c *model.FootprintCandle, tf model.Timeframe) {
	c.Complete = true
	c.CloseTime = c.OpenTime + tf.DurationMs - 1
}

// Successor returns the empty candle that replaces a finalized one.
// It inherits LastID so duplicate and gap checks stay armed across
// period boundaries.
func Successor(c *model.FootprintCandle, tf model.Timeframe) *model.FootprintCandle {
	next := NewCandle(c.Exchange, c.Symbol, tf, c.TickValue)
	next.LastID = c.LastID
	return next
}
