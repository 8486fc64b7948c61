package stateserver

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"footprint-systemv1/internal/ipc"
	"footprint-systemv1/internal/model"
	"footprint-systemv1/internal/store/sqlite"
)

func startService(t *testing.T, configure func(*Service)) *ipc.Client {
	t.Helper()
	dir := t.TempDir()
	svc, err := New(Config{
		SocketPath:        filepath.Join(dir, "state.sock"),
		DBPath:            filepath.Join(dir, "state.db"),
		QueueBatchSize:    10,
		QueuePollInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if configure != nil {
		configure(svc)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	c, err := ipc.Dial(ipc.ClientConfig{
		SocketPath:     filepath.Join(dir, "state.sock"),
		RequestTimeout: 2 * time.Second,
		MaxRetries:     10,
		RetryDelay:     20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestService_StateFamily(t *testing.T) {
	c := startService(t, nil)
	ctx := context.Background()

	resp, err := c.Call(ctx, ipc.TypeState, map[string]interface{}{
		"action": "save", "exchange": "binance", "symbol": "BTCUSDT", "stateJson": `{"tickValue":0.01}`,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !resp.Success {
		t.Fatalf("save failed: %s", resp.Error)
	}

	resp, err = c.Call(ctx, ipc.TypeState, map[string]interface{}{
		"action": "load", "exchange": "binance", "symbol": "BTCUSDT",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var loaded struct {
		Found     bool   `json:"found"`
		StateJSON string `json:"stateJson"`
	}
	if err := resp.DecodeData(&loaded); err != nil {
		t.Fatal(err)
	}
	if !loaded.Found || loaded.StateJSON != `{"tickValue":0.01}` {
		t.Errorf("unexpected load result %+v", loaded)
	}

	resp, _ = c.Call(ctx, ipc.TypeState, map[string]interface{}{
		"action": "load", "exchange": "binance", "symbol": "NOPEUSDT",
	})
	if err := resp.DecodeData(&loaded); err != nil {
		t.Fatal(err)
	}
	if loaded.Found {
		t.Error("expected found=false for unknown symbol")
	}

	resp, err = c.Call(ctx, ipc.TypeState, map[string]interface{}{
		"action": "save_batch",
		"states": []model.StateEntry{
			{Exchange: "binance", Symbol: "ETHUSDT", StateJSON: `{"s":1}`},
			{Exchange: "binance", Symbol: "SOLUSDT", StateJSON: `{"s":2}`},
		},
	})
	if err != nil || !resp.Success {
		t.Fatalf("save_batch: err=%v resp=%+v", err, resp)
	}

	resp, err = c.Call(ctx, ipc.TypeState, map[string]interface{}{"action": "load_all"})
	if err != nil {
		t.Fatalf("load_all: %v", err)
	}
	var all struct {
		States []model.StateEntry `json:"states"`
	}
	if err := resp.DecodeData(&all); err != nil {
		t.Fatal(err)
	}
	if len(all.States) != 3 {
		t.Errorf("expected 3 states, got %d", len(all.States))
	}
}

func TestService_GapFamily(t *testing.T) {
	c := startService(t, nil)
	ctx := context.Background()

	g1 := model.NewGapRecord("binance", "BTCUSDT", 101, 104, 1700000001000)
	resp, err := c.Call(ctx, ipc.TypeGap, map[string]interface{}{"action": "gap_save", "gap": g1})
	if err != nil || !resp.Success {
		t.Fatalf("gap_save: err=%v resp=%+v", err, resp)
	}
	var saved struct {
		ID int64 `json:"id"`
	}
	if err := resp.DecodeData(&saved); err != nil {
		t.Fatal(err)
	}
	if saved.ID <= 0 {
		t.Errorf("expected assigned id, got %d", saved.ID)
	}

	g2 := model.NewGapRecord("binance", "BTCUSDT", 300, 310, 1700000009000)
	resp, err = c.Call(ctx, ipc.TypeGap, map[string]interface{}{
		"action": "gap_save_batch", "gaps": []model.GapRecord{g2},
	})
	if err != nil || !resp.Success {
		t.Fatalf("gap_save_batch: err=%v resp=%+v", err, resp)
	}

	resp, err = c.Call(ctx, ipc.TypeGap, map[string]interface{}{
		"action": "gap_load", "filters": model.GapFilter{Symbol: "BTCUSDT"},
	})
	if err != nil {
		t.Fatalf("gap_load: %v", err)
	}
	var loaded struct {
		Gaps []model.GapRecord `json:"gaps"`
	}
	if err := resp.DecodeData(&loaded); err != nil {
		t.Fatal(err)
	}
	if len(loaded.Gaps) != 2 || loaded.Gaps[0].FromTradeID != 300 {
		t.Fatalf("expected newest-first gaps, got %+v", loaded.Gaps)
	}

	resp, err = c.Call(ctx, ipc.TypeGap, map[string]interface{}{
		"action": "gap_mark_synced", "ids": []int64{saved.ID, 777},
	})
	if err != nil {
		t.Fatalf("gap_mark_synced: %v", err)
	}
	var marked struct {
		Updated int `json:"updated"`
		Missing int `json:"missing"`
	}
	if err := resp.DecodeData(&marked); err != nil {
		t.Fatal(err)
	}
	if marked.Updated != 1 || marked.Missing != 1 {
		t.Errorf("expected updated=1 missing=1, got %+v", marked)
	}
}

func TestService_QueueRoutesAndAcks(t *testing.T) {
	var mu sync.Mutex
	var got []string
	c := startService(t, func(svc *Service) {
		svc.Route(DefaultQueue, func(ctx context.Context, item sqlite.QueueItem) error {
			mu.Lock()
			got = append(got, item.Payload)
			mu.Unlock()
			return nil
		})
	})

	for _, msg := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		if err := c.Notify(ipc.TypeQueue, map[string]interface{}{
			"action": "enqueue", "message": json.RawMessage(msg),
		}); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}

	deadline := time.After(3 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("poller delivered %d of 3 messages", n)
		case <-time.After(20 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0] != `{"n":1}` || got[2] != `{"n":3}` {
		t.Errorf("expected insertion order, got %v", got)
	}
}

func TestService_UnhealthyAfterWriteFailureStreak(t *testing.T) {
	var svc *Service
	var tripped int32
	c := startService(t, func(s *Service) {
		svc = s
		s.OnUnhealthy = func(error) { atomic.AddInt32(&tripped, 1) }
	})
	ctx := context.Background()

	// Kill the database out from under the store; every write now fails.
	svc.Store().DB().Close()

	save := map[string]interface{}{
		"action": "save", "exchange": "binance", "symbol": "BTCUSDT", "stateJson": `{}`,
	}
	for i := 0; i < maxWriteFailures; i++ {
		resp, err := c.Call(ctx, ipc.TypeState, save)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if resp.Success {
			t.Fatalf("save %d must fail with the database closed", i)
		}
	}

	if svc.Healthy() {
		t.Fatal("expected unhealthy after the failure streak")
	}
	if n := atomic.LoadInt32(&tripped); n != 1 {
		t.Errorf("expected OnUnhealthy to fire once, got %d", n)
	}

	// Writes are now rejected before touching the store.
	resp, err := c.Call(ctx, ipc.TypeState, save)
	if err != nil {
		t.Fatalf("call after trip: %v", err)
	}
	if resp.Success || !strings.Contains(resp.Error, "unhealthy") {
		t.Errorf("expected unhealthy rejection, got %+v", resp)
	}
}

func TestService_UnknownActionFails(t *testing.T) {
	c := startService(t, nil)

	resp, err := c.Call(context.Background(), ipc.TypeState, map[string]interface{}{"action": "explode"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.Success {
		t.Error("expected failure for unknown action")
	}
}
