package model

import "encoding/json"

// Side is the taker side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeTypeMarket is the only trade type that updates footprint aggregates.
// Trades with an empty tradeType are treated as MARKET.
const TradeTypeMarket = "MARKET"

// Trade is a single exchange trade as delivered by the trade source.
// TradeID is the exchange-assigned sequence number, monotone per symbol.
type Trade struct {
	Exchange  string  `json:"exchange,omitempty"`
	Symbol    string  `json:"symbol"`
	TradeID   int64   `json:"tradeId"`
	Price     float64 `json:"price"`
	Qty       float64 `json:"qty"`
	Side      Side    `json:"side"`
	TradeType string  `json:"tradeType,omitempty"`
	Timestamp int64   `json:"ts"` // epoch ms
}

// Key returns the routing key for this trade: "exchange:symbol".
func (t *Trade) Key() string {
	return t.Exchange + ":" + t.Symbol
}

// IsBuy reports whether the taker side is buy.
func (t *Trade) IsBuy() bool {
	return t.Side == SideBuy
}

// Quote returns the quote-currency notional price*qty.
func (t *Trade) Quote() float64 {
	return t.Price * t.Qty
}

// FootprintEligible reports whether this trade may update footprint
// aggregates: MARKET (or untyped) with positive price and quantity.
// Ineligible trades still advance the last-seen trade id.
func (t *Trade) FootprintEligible() bool {
	if t.TradeType != "" && t.TradeType != TradeTypeMarket {
		return false
	}
	return t.Price > 0 && t.Qty > 0
}

// JSON returns the JSON-encoded trade (ignoring errors for hot-path usage).
func (t *Trade) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}

// ParseSide normalizes exchange side strings ("BUY", "b", "Sell", ...)
// to a Side. Unrecognized values default to sell, matching feeds that
// only flag the buyer-maker case.
func ParseSide(s string) Side {
	if len(s) == 0 {
		return SideSell
	}
	switch s[0] {
	case 'b', 'B':
		return SideBuy
	default:
		return SideSell
	}
}
