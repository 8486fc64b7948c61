package sink

import (
	"context"
	"log"
	"sync"

	"footprint-systemv1/internal/model"
)

// Buffered wraps a Redis sink with a circuit breaker. While the circuit is
// open, events are buffered locally (bounded, drop-oldest) and replayed
// when the circuit closes again. Implements model.EventSink.
type Buffered struct {
	sink *Redis
	cb   *CircuitBreaker

	mu     sync.Mutex
	buffer []model.CandleEvent
	maxBuf int // max buffered events before dropping oldest

	// Callbacks (optional, for metrics)
	OnBuffer func()          // called when an event is buffered
	OnDrop   func()          // called when the buffer evicts its oldest
	OnFlush  func(count int) // called after replaying buffered events
}

// NewBuffered creates a Buffered sink wrapping the given Redis sink.
func NewBuffered(sink *Redis, cb *CircuitBreaker, maxBufferSize int) *Buffered {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &Buffered{
		sink:   sink,
		cb:     cb,
		buffer: make([]model.CandleEvent, 0, 256),
		maxBuf: maxBufferSize,
	}

	// Register flush on circuit close
	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}

	return bw
}

// Publish writes one event through the circuit breaker. If the circuit is
// open the event is buffered locally; Redis errors are swallowed after the
// breaker has counted them, so the caller's candle path never fails on
// sink trouble.
func (bw *Buffered) Publish(ctx context.Context, ev model.CandleEvent) error {
	err := bw.cb.Execute(func() error {
		return bw.sink.Publish(ctx, ev)
	})
	if err == nil {
		return nil
	}
	if err == ErrCircuitOpen {
		bw.bufferEvent(ev)
		return nil // buffered, not lost
	}
	log.Printf("[sink] publish %s: %v", ev.Key(), err)
	return nil
}

func (bw *Buffered) bufferEvent(ev model.CandleEvent) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if len(bw.buffer) >= bw.maxBuf {
		// Buffer full — drop oldest
		bw.buffer = bw.buffer[1:]
		if bw.OnDrop != nil {
			bw.OnDrop()
		}
	}
	bw.buffer = append(bw.buffer, ev)

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// flush replays all buffered events through the underlying sink.
func (bw *Buffered) flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	// Take ownership of the buffer
	toFlush := bw.buffer
	bw.buffer = make([]model.CandleEvent, 0, 256)
	bw.mu.Unlock()

	ctx := context.Background()
	flushed := 0
	for _, ev := range toFlush {
		if err := bw.sink.Publish(ctx, ev); err != nil {
			log.Printf("[sink] replay %s: %v", ev.Key(), err)
			continue
		}
		flushed++
	}

	log.Printf("[sink] flushed %d buffered events", flushed)
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered events waiting to be flushed.
func (bw *Buffered) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Close flushes what it can and closes the underlying Redis connection.
func (bw *Buffered) Close() error {
	bw.flush()
	return bw.sink.Close()
}

// Underlying returns the wrapped Redis sink for health checks.
func (bw *Buffered) Underlying() *Redis {
	return bw.sink
}
