package model

// CandleEvent is emitted when a candle completes. Candle is a frozen clone;
// consumers may hold it without copying.
type CandleEvent struct {
	Candle    *FootprintCandle `json:"candle"`
	EmittedAt int64            `json:"emittedAt"` // epoch ms
}

// Key returns the candle's routing key: "exchange:symbol:interval".
func (e *CandleEvent) Key() string {
	return e.Candle.Key()
}
