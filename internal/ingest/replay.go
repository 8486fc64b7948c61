package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"footprint-systemv1/internal/model"
)

// Replay reads a trades JSONL file (one model.Trade per line, timestamp
// ascending) and emits it at a configurable speed multiplier.
type Replay struct {
	// Path of the JSONL file.
	Path string

	// Exchange stamped onto trades the file leaves unlabeled.
	Exchange string

	// Speed controls the playback rate: 1.0 = real-time, 10.0 = 10x,
	// 0 = as fast as possible.
	Speed float64
}

// Run replays the file into out, honoring the recorded inter-trade delays
// scaled by Speed. Returns once the file is exhausted or ctx is cancelled.
func (r *Replay) Run(ctx context.Context, out chan<- model.Trade) error {
	f, err := os.Open(r.Path)
	if err != nil {
		return fmt.Errorf("replay: open %s: %w", r.Path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var prevTS int64
	emitted, skipped := 0, 0

	for sc.Scan() {
		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d trades", emitted)
			return ctx.Err()
		default:
		}

		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var trade model.Trade
		if err := json.Unmarshal(line, &trade); err != nil {
			skipped++
			continue
		}
		if trade.Symbol == "" {
			skipped++
			continue
		}
		if trade.Exchange == "" {
			trade.Exchange = r.Exchange
		}

		// Simulate the recorded time gaps between trades.
		if r.Speed > 0 && prevTS > 0 && trade.Timestamp > prevTS {
			gap := time.Duration(trade.Timestamp-prevTS) * time.Millisecond
			scaled := time.Duration(float64(gap) / r.Speed)
			// Cap max sleep to avoid very long waits
			if scaled > 5*time.Second {
				scaled = 5 * time.Second
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(scaled):
			}
		}
		prevTS = trade.Timestamp

		select {
		case out <- trade:
			emitted++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("replay: read %s: %w", r.Path, err)
	}
	log.Printf("[replay] completed: %d trades replayed, %d lines skipped", emitted, skipped)
	return nil
}
