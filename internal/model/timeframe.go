package model

// Timeframe pairs a candle interval name with its duration in milliseconds.
type Timeframe struct {
	Name       string
	DurationMs int64
}

// Timeframes lists every maintained interval, ascending by duration.
// The 1s entry is the base candle all higher intervals roll up from.
var Timeframes = []Timeframe{
	{"1s", 1_000},
	{"1m", 60_000},
	{"3m", 180_000},
	{"5m", 300_000},
	{"15m", 900_000},
	{"30m", 1_800_000},
	{"1h", 3_600_000},
	{"2h", 7_200_000},
	{"4h", 14_400_000},
	{"8h", 28_800_000},
	{"12h", 43_200_000},
	{"1d", 86_400_000},
}

// TimeframeBase is the 1s timeframe every trade is applied to directly.
var TimeframeBase = Timeframes[0]

// TimeframeDay is the 1d timeframe whose completion applies pending config.
var TimeframeDay = Timeframes[len(Timeframes)-1]

// TimeframeByName looks up a timeframe by its interval name.
func TimeframeByName(name string) (Timeframe, bool) {
	for _, tf := range Timeframes {
		if tf.Name == name {
			return tf, true
		}
	}
	return Timeframe{}, false
}

// Align truncates an epoch-ms timestamp to the start of its period.
func (tf Timeframe) Align(ts int64) int64 {
	return ts - ts%tf.DurationMs
}

// Period returns the period index ts/duration for boundary comparisons.
// Two timestamps fall in the same candle iff their periods are equal.
func (tf Timeframe) Period(ts int64) int64 {
	return ts / tf.DurationMs
}
