package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"footprint-systemv1/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_SchemaIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	s.Close()
}

func TestState_SaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := model.StateEntry{Exchange: "binance", Symbol: "BTCUSDT", StateJSON: `{"tickValue":0.01}`, UpdatedAt: 1700000000000}
	if err := s.SaveState(ctx, e); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, found, err := s.LoadState(ctx, "binance", "BTCUSDT")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !found || got != e.StateJSON {
		t.Errorf("expected %q found, got %q found=%v", e.StateJSON, got, found)
	}

	_, found, err = s.LoadState(ctx, "binance", "ETHUSDT")
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if found {
		t.Error("expected missing symbol to report found=false")
	}
}

func TestState_SaveOverwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.SaveState(ctx, model.StateEntry{Exchange: "binance", Symbol: "BTCUSDT", StateJSON: `{"v":1}`, UpdatedAt: 1})
	s.SaveState(ctx, model.StateEntry{Exchange: "binance", Symbol: "BTCUSDT", StateJSON: `{"v":2}`, UpdatedAt: 2})

	got, _, err := s.LoadState(ctx, "binance", "BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"v":2}` {
		t.Errorf("expected latest state, got %q", got)
	}
}

func TestState_BatchSaveAndLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entries := []model.StateEntry{
		{Exchange: "binance", Symbol: "BTCUSDT", StateJSON: `{"s":"btc"}`, UpdatedAt: 1},
		{Exchange: "binance", Symbol: "ETHUSDT", StateJSON: `{"s":"eth"}`, UpdatedAt: 2},
		{Exchange: "binance", Symbol: "SOLUSDT", StateJSON: `{"s":"sol"}`, UpdatedAt: 3},
	}
	if err := s.SaveStateBatch(ctx, entries); err != nil {
		t.Fatalf("batch save: %v", err)
	}

	got, err := s.LoadStateBatch(ctx, "binance", []string{"BTCUSDT", "SOLUSDT", "DOGEUSDT"})
	if err != nil {
		t.Fatalf("batch load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(got))
	}
	if got["BTCUSDT"] != `{"s":"btc"}` || got["SOLUSDT"] != `{"s":"sol"}` {
		t.Errorf("unexpected batch result %+v", got)
	}
	if _, ok := got["DOGEUSDT"]; ok {
		t.Error("unknown symbol must be absent, not empty")
	}

	all, err := s.LoadAllStates(ctx, "")
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 symbols, got %d", len(all))
	}
	for _, e := range all {
		if e.Exchange != "binance" || e.StateJSON == "" {
			t.Errorf("incomplete entry %+v", e)
		}
	}
}

func TestGaps_SaveAndLoadNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	older := model.NewGapRecord("binance", "BTCUSDT", 101, 104, 1700000001000)
	newer := model.NewGapRecord("binance", "BTCUSDT", 220, 224, 1700000005000)
	middle := model.NewGapRecord("binance", "ETHUSDT", 55, 56, 1700000003000)

	id1, err := s.SaveGap(ctx, older)
	if err != nil {
		t.Fatalf("save gap: %v", err)
	}
	id2, _ := s.SaveGap(ctx, newer)
	if id2 <= id1 {
		t.Errorf("expected increasing ids, got %d then %d", id1, id2)
	}
	if err := s.SaveGapBatch(ctx, []model.GapRecord{middle}); err != nil {
		t.Fatalf("save gap batch: %v", err)
	}

	got, err := s.LoadGaps(ctx, model.GapFilter{Exchange: "binance"})
	if err != nil {
		t.Fatalf("load gaps: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 gaps, got %d", len(got))
	}
	if got[0].FromTradeID != 220 || got[1].Symbol != "ETHUSDT" || got[2].FromTradeID != 101 {
		t.Errorf("expected newest-first order, got %+v", got)
	}
	if got[0].GapSize != 5 || got[0].Synced {
		t.Errorf("unexpected gap row %+v", got[0])
	}

	bySymbol, err := s.LoadGaps(ctx, model.GapFilter{Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatal(err)
	}
	if len(bySymbol) != 2 {
		t.Errorf("expected 2 BTCUSDT gaps, got %d", len(bySymbol))
	}

	limited, err := s.LoadGaps(ctx, model.GapFilter{Exchange: "binance", Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].FromTradeID != 220 {
		t.Errorf("expected only the newest gap, got %+v", limited)
	}
}

func TestGaps_MarkSynced(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, _ := s.SaveGap(ctx, model.NewGapRecord("binance", "BTCUSDT", 1, 2, 1700000001000))
	id2, _ := s.SaveGap(ctx, model.NewGapRecord("binance", "BTCUSDT", 5, 9, 1700000002000))

	updated, missing, err := s.MarkGapsSynced(ctx, []int64{id1, 9999}, 1700000010000)
	if err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	if updated != 1 || missing != 1 {
		t.Errorf("expected updated=1 missing=1, got %d/%d", updated, missing)
	}

	synced, err := s.LoadGaps(ctx, model.GapFilter{SyncedOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(synced) != 1 || synced[0].ID != id1 {
		t.Fatalf("expected only gap %d synced, got %+v", id1, synced)
	}
	if !synced[0].Synced || synced[0].SyncedAt != 1700000010000 {
		t.Errorf("expected synced flag and timestamp, got %+v", synced[0])
	}

	all, _ := s.LoadGaps(ctx, model.GapFilter{})
	for _, g := range all {
		if g.ID == id2 && g.Synced {
			t.Error("untouched gap must stay unsynced")
		}
	}
}

func TestQueue_EnqueueDequeueLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, payload := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		if _, err := s.Enqueue(ctx, "candles", payload, int64(1000+i)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if _, err := s.Enqueue(ctx, "other", `{"x":1}`, 1000); err != nil {
		t.Fatal(err)
	}

	depth, err := s.QueueDepth(ctx, "candles")
	if err != nil {
		t.Fatal(err)
	}
	if depth != 3 {
		t.Errorf("expected depth 3, got %d", depth)
	}

	batch, err := s.DequeueBatch(ctx, "candles", 2)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(batch) != 2 || batch[0].Payload != `{"n":1}` || batch[1].Payload != `{"n":2}` {
		t.Fatalf("expected first two in order, got %+v", batch)
	}

	// Not yet acknowledged, so the same rows come back.
	again, _ := s.DequeueBatch(ctx, "candles", 10)
	if len(again) != 3 {
		t.Errorf("expected 3 pending before ack, got %d", len(again))
	}

	if err := s.MarkProcessed(ctx, []int64{batch[0].ID, batch[1].ID}, 2000); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	rest, _ := s.DequeueBatch(ctx, "candles", 10)
	if len(rest) != 1 || rest[0].Payload != `{"n":3}` {
		t.Errorf("expected only the third message, got %+v", rest)
	}

	pruned, err := s.PruneProcessed(ctx, 5000)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 2 {
		t.Errorf("expected 2 pruned rows, got %d", pruned)
	}
	depth, _ = s.QueueDepth(ctx, "candles")
	if depth != 1 {
		t.Errorf("expected depth 1 after prune, got %d", depth)
	}
}
