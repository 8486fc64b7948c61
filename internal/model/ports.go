package model

import "context"

// ── Port Interfaces ──
// These interfaces decouple the engine from concrete collaborators (the
// persistence server reached over IPC, the exchange feed, Redis). Each
// implementation satisfies one or more of these interfaces.

// StateEntry is one persisted candle-group snapshot. StateJSON is opaque to
// the store; only the engine interprets it.
type StateEntry struct {
	Exchange  string `json:"exchange"`
	Symbol    string `json:"symbol"`
	StateJSON string `json:"stateJson"`
	UpdatedAt int64  `json:"updatedAt,omitempty"` // epoch ms, set by the store
}

// StateStore persists candle-group snapshots keyed by (exchange, symbol),
// last writer wins.
type StateStore interface {
	// SaveState upserts one snapshot.
	SaveState(ctx context.Context, exchange, symbol, stateJSON string) error

	// SaveStateBatch upserts many snapshots atomically (all or nothing).
	SaveStateBatch(ctx context.Context, states []StateEntry) error

	// LoadState returns the latest snapshot, found=false when absent.
	LoadState(ctx context.Context, exchange, symbol string) (stateJSON string, found bool, err error)

	// LoadStateBatch returns the latest snapshots for the given symbols,
	// keyed by symbol. Missing symbols are simply absent from the map.
	LoadStateBatch(ctx context.Context, exchange string, symbols []string) (map[string]string, error)

	// LoadAllStates returns every stored snapshot.
	LoadAllStates(ctx context.Context) ([]StateEntry, error)
}

// GapStore persists trade-id gap records for a later backfiller.
type GapStore interface {
	// SaveGap inserts one record and returns its assigned id.
	SaveGap(ctx context.Context, gap GapRecord) (int64, error)

	// SaveGapBatch inserts many records atomically (all or nothing).
	SaveGapBatch(ctx context.Context, gaps []GapRecord) error

	// LoadGaps returns records matching the filter, newest detectedAt first.
	LoadGaps(ctx context.Context, filter GapFilter) ([]GapRecord, error)

	// MarkGapsSynced flips synced on the given ids. Unknown ids are
	// ignored but counted in missing.
	MarkGapsSynced(ctx context.Context, ids []int64) (updated, missing int, err error)
}

// TradeSource streams trades into the engine.
type TradeSource interface {
	// Run emits trades into out until ctx is cancelled or the source is
	// exhausted. Per-symbol order of emission follows the exchange feed.
	Run(ctx context.Context, out chan<- Trade) error
}

// EventSink receives completed candles.
type EventSink interface {
	// Publish delivers one completed-candle event.
	Publish(ctx context.Context, ev CandleEvent) error

	// Close releases underlying resources.
	Close() error
}

// ConfigSource resolves the latest SymbolConfig for a symbol.
type ConfigSource interface {
	Lookup(exchange, symbol string) (SymbolConfig, bool)
}
