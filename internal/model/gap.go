package model

import "fmt"

// GapRecord marks a detected hole in a symbol's exchange trade-id sequence:
// trades FromTradeID..ToTradeID inclusive were never seen. Records are
// persisted for an external backfiller; Synced flips once it has filled the
// range. ID is assigned by the persistence store on insert.
type GapRecord struct {
	ID          int64  `json:"id,omitempty"`
	Exchange    string `json:"exchange"`
	Symbol      string `json:"symbol"`
	FromTradeID int64  `json:"fromTradeId"`
	ToTradeID   int64  `json:"toTradeId"`
	GapSize     int64  `json:"gapSize"`
	DetectedAt  int64  `json:"detectedAt"` // epoch ms
	Synced      bool   `json:"synced"`
	SyncedAt    int64  `json:"syncedAt,omitempty"`
}

// NewGapRecord builds a record for the missing id range [from, to].
func NewGapRecord(exchange, symbol string, from, to, detectedAt int64) GapRecord {
	return GapRecord{
		Exchange:    exchange,
		Symbol:      symbol,
		FromTradeID: from,
		ToTradeID:   to,
		GapSize:     to - from + 1,
		DetectedAt:  detectedAt,
	}
}

// Validate checks the structural invariants a record must satisfy before it
// may be queued or persisted.
func (g *GapRecord) Validate() error {
	switch {
	case g.Exchange == "":
		return fmt.Errorf("gap record: empty exchange")
	case g.Symbol == "":
		return fmt.Errorf("gap record: empty symbol")
	case g.FromTradeID < 0:
		return fmt.Errorf("gap record %s: fromTradeId %d < 0", g.Symbol, g.FromTradeID)
	case g.ToTradeID < g.FromTradeID:
		return fmt.Errorf("gap record %s: toTradeId %d < fromTradeId %d", g.Symbol, g.ToTradeID, g.FromTradeID)
	case g.GapSize != g.ToTradeID-g.FromTradeID+1:
		return fmt.Errorf("gap record %s: gapSize %d does not match range [%d,%d]", g.Symbol, g.GapSize, g.FromTradeID, g.ToTradeID)
	case g.DetectedAt <= 0:
		return fmt.Errorf("gap record %s: detectedAt %d <= 0", g.Symbol, g.DetectedAt)
	}
	return nil
}

// GapFilter narrows gap_load queries. Zero values mean "any".
type GapFilter struct {
	Exchange   string `json:"exchange,omitempty"`
	Symbol     string `json:"symbol,omitempty"`
	SyncedOnly bool   `json:"syncedOnly,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}
