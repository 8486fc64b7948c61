// Package gapwriter persists trade-id gap records without ever blocking
// the trade path. Records queue in a bounded buffer that drops oldest on
// overflow; a flusher batches them to the gap store on a timer, with a
// retry queue for batches the store refused.
package gapwriter

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"footprint-systemv1/internal/model"
)

// BatchStore is the slice of the gap store the writer needs.
type BatchStore interface {
	SaveGapBatch(ctx context.Context, gaps []model.GapRecord) error
}

// Config tunes queue bounds and flush cadence.
type Config struct {
	MaxQueueSize      int           // pending cap, drop-oldest on overflow
	MaxRetryQueueSize int           // retry cap, drop-oldest on overflow
	BatchSize         int           // records per gap_save_batch
	FlushInterval     time.Duration // cadence of the main flusher
	RetryInterval     time.Duration // cadence of the retry drainer
	RetryDelays       []time.Duration
}

func (c *Config) withDefaults() {
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 1000
	}
	if c.MaxRetryQueueSize <= 0 {
		c.MaxRetryQueueSize = 500
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 5 * time.Second
	}
	if len(c.RetryDelays) == 0 {
		c.RetryDelays = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	}
}

// Stats is a point-in-time snapshot of the writer's counters.
type Stats struct {
	QueueSize      int    `json:"queueSize"`
	RetryQueueSize int    `json:"retryQueueSize"`
	ProcessedCount uint64 `json:"processedCount"`
	DroppedCount   uint64 `json:"droppedCount"`
	FailedCount    uint64 `json:"failedCount"`
}

// Writer is the non-blocking gap persister. Submit may be called from any
// goroutine; Run owns the flushing.
type Writer struct {
	cfg   Config
	store BatchStore

	mu      sync.Mutex
	pending []model.GapRecord
	retryQ  []model.GapRecord

	processed atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// New builds a writer over the given store.
func New(store BatchStore, cfg Config) *Writer {
	cfg.withDefaults()
	return &Writer{
		cfg:     cfg,
		store:   store,
		pending: make([]model.GapRecord, 0, 64),
	}
}

// Submit queues one gap record. Invalid records are rejected; a full queue
// evicts its oldest entry so the newest survives. Never blocks.
func (w *Writer) Submit(gap model.GapRecord) bool {
	if err := gap.Validate(); err != nil {
		log.Printf("[gapwriter] rejecting invalid gap: %v", err)
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) >= w.cfg.MaxQueueSize {
		w.pending = w.pending[1:]
		w.dropped.Add(1)
	}
	w.pending = append(w.pending, gap)
	return true
}

// Run flushes on a timer until ctx is cancelled. Call FlushAll afterwards
// to drain what remains.
func (w *Writer) Run(ctx context.Context) {
	flushTick := time.NewTicker(w.cfg.FlushInterval)
	retryTick := time.NewTicker(w.cfg.RetryInterval)
	defer flushTick.Stop()
	defer retryTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-flushTick.C:
			w.flushOnce(ctx)
		case <-retryTick.C:
			w.drainRetry(ctx)
		}
	}
}

// flushOnce persists one batch from the pending queue.
func (w *Writer) flushOnce(ctx context.Context) {
	batch := w.take(&w.pending, w.cfg.BatchSize)
	if len(batch) == 0 {
		return
	}
	if w.saveWithRetries(ctx, batch) {
		w.processed.Add(uint64(len(batch)))
		return
	}
	w.failed.Add(uint64(len(batch)))
	w.pushRetry(batch)
}

// drainRetry gives previously failed batches another chance.
func (w *Writer) drainRetry(ctx context.Context) {
	batch := w.take(&w.retryQ, w.cfg.BatchSize)
	if len(batch) == 0 {
		return
	}
	if err := w.store.SaveGapBatch(ctx, batch); err != nil {
		log.Printf("[gapwriter] retry flush failed for %d gaps: %v", len(batch), err)
		w.pushRetry(batch)
		return
	}
	w.processed.Add(uint64(len(batch)))
}

// saveWithRetries attempts one batch with the configured in-batch delays.
func (w *Writer) saveWithRetries(ctx context.Context, batch []model.GapRecord) bool {
	err := w.store.SaveGapBatch(ctx, batch)
	if err == nil {
		return true
	}
	log.Printf("[gapwriter] flush failed for %d gaps: %v", len(batch), err)

	for _, delay := range w.cfg.RetryDelays {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		if err := w.store.SaveGapBatch(ctx, batch); err == nil {
			return true
		}
		log.Printf("[gapwriter] flush retry failed for %d gaps: %v", len(batch), err)
	}
	return false
}

// take pops up to n records from the front of a queue.
func (w *Writer) take(q *[]model.GapRecord, n int) []model.GapRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(*q) == 0 {
		return nil
	}
	if n > len(*q) {
		n = len(*q)
	}
	batch := make([]model.GapRecord, n)
	copy(batch, (*q)[:n])
	*q = append((*q)[:0], (*q)[n:]...)
	return batch
}

func (w *Writer) pushRetry(batch []model.GapRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, g := range batch {
		if len(w.retryQ) >= w.cfg.MaxRetryQueueSize {
			w.retryQ = w.retryQ[1:]
			w.dropped.Add(1)
		}
		w.retryQ = append(w.retryQ, g)
	}
}

// FlushAll drains both queues for shutdown, one attempt per batch, giving
// up at the deadline. Returns the number of records persisted.
func (w *Writer) FlushAll(timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	total := 0
	for {
		batch := w.take(&w.pending, w.cfg.BatchSize)
		if len(batch) == 0 {
			batch = w.take(&w.retryQ, w.cfg.BatchSize)
		}
		if len(batch) == 0 {
			return total
		}
		if ctx.Err() != nil {
			w.failed.Add(uint64(len(batch)))
			log.Printf("[gapwriter] shutdown flush deadline hit, %d gaps abandoned", w.queued()+len(batch))
			return total
		}
		if err := w.store.SaveGapBatch(ctx, batch); err != nil {
			w.failed.Add(uint64(len(batch)))
			log.Printf("[gapwriter] shutdown flush failed for %d gaps: %v", len(batch), err)
			continue
		}
		w.processed.Add(uint64(len(batch)))
		total += len(batch)
	}
}

func (w *Writer) queued() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending) + len(w.retryQ)
}

// Stats snapshots the counters.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	queue, retry := len(w.pending), len(w.retryQ)
	w.mu.Unlock()
	return Stats{
		QueueSize:      queue,
		RetryQueueSize: retry,
		ProcessedCount: w.processed.Load(),
		DroppedCount:   w.dropped.Load(),
		FailedCount:    w.failed.Load(),
	}
}
