package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"footprint-systemv1/internal/model"
)

func writeJSONL(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	data := ""
	for _, l := range lines {
		data += l + "\n"
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func drain(t *testing.T, out <-chan model.Trade, n int) []model.Trade {
	t.Helper()
	var got []model.Trade
	for len(got) < n {
		select {
		case tr := <-out:
			got = append(got, tr)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d/%d trades", len(got), n)
		}
	}
	return got
}

func TestReplay_EmitsInFileOrder(t *testing.T) {
	path := writeJSONL(t, []string{
		`{"symbol":"BTCUSDT","tradeId":1,"price":100.0,"qty":0.5,"side":"buy","ts":1700000000000}`,
		`{"symbol":"BTCUSDT","tradeId":2,"price":101.0,"qty":0.3,"side":"sell","ts":1700000000100}`,
		`{"symbol":"ETHUSDT","tradeId":9,"price":2000.0,"qty":1.0,"side":"buy","ts":1700000000200}`,
	})

	r := &Replay{Path: path, Exchange: "BINANCE"} // Speed 0: no pacing
	out := make(chan model.Trade, 10)
	if err := r.Run(context.Background(), out); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := drain(t, out, 3)
	if got[0].TradeID != 1 || got[1].TradeID != 2 || got[2].TradeID != 9 {
		t.Errorf("wrong order: %d %d %d", got[0].TradeID, got[1].TradeID, got[2].TradeID)
	}
	if got[0].Exchange != "BINANCE" {
		t.Errorf("expected exchange stamped, got %q", got[0].Exchange)
	}
	if got[2].Symbol != "ETHUSDT" {
		t.Errorf("expected ETHUSDT, got %s", got[2].Symbol)
	}
}

func TestReplay_SkipsMalformedLines(t *testing.T) {
	path := writeJSONL(t, []string{
		`{"symbol":"BTCUSDT","tradeId":1,"price":100.0,"qty":0.5,"side":"buy","ts":1700000000000}`,
		`not json at all`,
		`{"tradeId":2,"price":101.0}`, // empty symbol
		`{"symbol":"BTCUSDT","tradeId":3,"price":102.0,"qty":0.2,"side":"sell","ts":1700000000300}`,
	})

	r := &Replay{Path: path, Exchange: "BINANCE"}
	out := make(chan model.Trade, 10)
	if err := r.Run(context.Background(), out); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := drain(t, out, 2)
	if got[0].TradeID != 1 || got[1].TradeID != 3 {
		t.Errorf("expected trades 1 and 3, got %d and %d", got[0].TradeID, got[1].TradeID)
	}
	select {
	case tr := <-out:
		t.Errorf("unexpected extra trade %d", tr.TradeID)
	default:
	}
}

func TestReplay_MissingFile(t *testing.T) {
	r := &Replay{Path: filepath.Join(t.TempDir(), "nope.jsonl")}
	out := make(chan model.Trade, 1)
	if err := r.Run(context.Background(), out); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReplay_CancelStopsEmission(t *testing.T) {
	// Large timestamp gap with Speed 1.0 forces a sleep; cancellation must
	// cut it short.
	path := writeJSONL(t, []string{
		`{"symbol":"BTCUSDT","tradeId":1,"price":100.0,"qty":0.5,"side":"buy","ts":1700000000000}`,
		`{"symbol":"BTCUSDT","tradeId":2,"price":101.0,"qty":0.3,"side":"sell","ts":1700000060000}`,
	})

	r := &Replay{Path: path, Exchange: "BINANCE", Speed: 1.0}
	out := make(chan model.Trade, 10)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx, out) }()

	drain(t, out, 1)
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("replay did not stop on cancel")
	}
}
