package model

import "encoding/json"

// Aggs is one footprint price bin: buy/sell base volume and quote volume
// accumulated at tick price Tp. Tp is always a multiple of the group's
// effective bin size.
type Aggs struct {
	Tp float64 `json:"tp"`
	Bv float64 `json:"bv"`
	Sv float64 `json:"sv"`
	V  float64 `json:"v"`
	Bq float64 `json:"bq"`
	Sq float64 `json:"sq"`
	Q  float64 `json:"q"`
}

// FootprintCandle is one OHLCV candle with a per-price-bin volume profile.
// Short JSON keys match the persisted state format:
//
//	i    interval name            d      running delta bv-sv
//	t    open time (epoch ms)     dMax   highest delta seen
//	ct   close time (epoch ms)    dMin   lowest delta seen
//	o/h/l/c                       f      first trade id applied
//	v/bv/sv                       ls     last trade id seen
//	q/bq/sq                       x      complete flag
//	n    trade count              tv     exchange tick value
//
// While x is false, t is the aligned period start; once x flips true the
// candle is frozen and ct = t + duration - 1.
type FootprintCandle struct {
	Exchange   string  `json:"exchange"`
	Symbol     string  `json:"symbol"`
	Interval   string  `json:"i"`
	OpenTime   int64   `json:"t"`
	CloseTime  int64   `json:"ct"`
	Open       float64 `json:"o"`
	High       float64 `json:"h"`
	Low        float64 `json:"l"`
	Close      float64 `json:"c"`
	Volume     float64 `json:"v"`
	BuyVolume  float64 `json:"bv"`
	SellVolume float64 `json:"sv"`
	Quote      float64 `json:"q"`
	BuyQuote   float64 `json:"bq"`
	SellQuote  float64 `json:"sq"`
	Trades     int64   `json:"n"`
	Delta      float64 `json:"d"`
	DeltaMax   float64 `json:"dMax"`
	DeltaMin   float64 `json:"dMin"`
	FirstID    int64   `json:"f"`
	LastID     int64   `json:"ls"`
	Complete   bool    `json:"x"`
	TickValue  float64 `json:"tv"`
	Aggs       []Aggs  `json:"aggs"`
}

// Key returns a unique key for this candle: "exchange:symbol:interval".
func (c *FootprintCandle) Key() string {
	return c.Exchange + ":" + c.Symbol + ":" + c.Interval
}

// IsEmpty reports whether no trade has been applied or folded in yet.
// Empty candles have no meaningful OpenTime.
func (c *FootprintCandle) IsEmpty() bool {
	return c.Trades == 0
}

// Clone returns a deep copy, including the bin slice.
func (c *FootprintCandle) Clone() *FootprintCandle {
	cp := *c
	if c.Aggs != nil {
		cp.Aggs = make([]Aggs, len(c.Aggs))
		copy(cp.Aggs, c.Aggs)
	}
	return &cp
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *FootprintCandle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
