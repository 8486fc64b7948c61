package worker

import (
	"context"
	"fmt"
	"hash/crc32"
	"log"
	"sync"
	"time"

	"footprint-systemv1/internal/ipc"
	"footprint-systemv1/internal/model"
	"footprint-systemv1/internal/processor"
)

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	WorkerCount          int
	Exchange             string
	MailboxSize          int
	ReadyTimeout         time.Duration
	FlushInterval        time.Duration
	ShutdownFlushTimeout time.Duration
	RequestTimeout       time.Duration // control message round-trips
	IPC                  ipc.ClientConfig
}

func (c *PoolConfig) withDefaults() {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 10 * time.Second
	}
	if c.ShutdownFlushTimeout <= 0 {
		c.ShutdownFlushTimeout = 10 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

// Pool owns the workers and the symbol→worker assignment. The hash mapping
// is fixed for the pool's lifetime, so one symbol's trades always land on
// the same worker; explicit assignments layered on top are control-path
// only.
type Pool struct {
	cfg     PoolConfig
	workers []*Worker

	mu       sync.RWMutex // guards assigned; route path reads, control writes
	assigned map[string]int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool builds the workers. Start then Init must run before trades flow.
func NewPool(cfg PoolConfig, configs model.ConfigSource, gaps processor.GapSubmitter, publish func(model.CandleEvent)) *Pool {
	cfg.withDefaults()
	p := &Pool{
		cfg:      cfg,
		assigned: make(map[string]int),
	}
	for i := 0; i < cfg.WorkerCount; i++ {
		p.workers = append(p.workers, NewWorker(Config{
			ID:            i,
			Exchange:      cfg.Exchange,
			MailboxSize:   cfg.MailboxSize,
			FlushInterval: cfg.FlushInterval,
			IPC:           cfg.IPC,
		}, configs, gaps, publish))
	}
	return p
}

// Workers exposes the runtimes for metric hook wiring.
func (p *Pool) Workers() []*Worker { return p.workers }

// Start launches every worker loop.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Init delivers each worker its owned symbols and blocks until every
// worker signals ready or the barrier times out. A missed barrier is
// fatal: the caller shuts the pool down.
func (p *Pool) Init(ctx context.Context, symbols []string) error {
	owned := make([][]string, p.cfg.WorkerCount)
	p.mu.Lock()
	for _, s := range symbols {
		id := p.hash(s)
		p.assigned[s] = id
		owned[id] = append(owned[id], s)
	}
	p.mu.Unlock()

	for i, w := range p.workers {
		w.Mailbox() <- Message{Kind: MsgInit, Symbols: owned[i]}
	}

	deadline := time.NewTimer(p.cfg.ReadyTimeout)
	defer deadline.Stop()
	for _, w := range p.workers {
		select {
		case <-w.Ready():
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			if ierr := w.InitError(); ierr != nil {
				return fmt.Errorf("pool: worker %d not ready after %v: %w", w.ID(), p.cfg.ReadyTimeout, ierr)
			}
			return fmt.Errorf("pool: worker %d not ready after %v", w.ID(), p.cfg.ReadyTimeout)
		}
	}
	log.Printf("[pool] %d workers ready, %d symbols assigned", p.cfg.WorkerCount, len(symbols))
	return nil
}

// hash is the consistent symbol→worker mapping.
func (p *Pool) hash(symbol string) int {
	return int(crc32.ChecksumIEEE([]byte(symbol)) % uint32(p.cfg.WorkerCount))
}

// WorkerFor resolves the owning worker: the explicit assignment when one
// exists, the hash otherwise.
func (p *Pool) WorkerFor(symbol string) int {
	p.mu.RLock()
	id, ok := p.assigned[symbol]
	p.mu.RUnlock()
	if ok {
		return id
	}
	return p.hash(symbol)
}

// RouteTrades enqueues a symbol's trades to its owning worker's mailbox.
// The send blocks when the mailbox is full: dropping here would forge
// trade-id gaps, so backpressure propagates to the ingest ring instead.
func (p *Pool) RouteTrades(symbol string, trades []model.Trade) {
	if len(trades) == 0 {
		return
	}
	p.workers[p.WorkerFor(symbol)].Mailbox() <- Message{Kind: MsgTrades, Trades: trades}
}

// Send delivers one control message to a worker and waits for its reply.
func (p *Pool) Send(ctx context.Context, workerID int, kind MsgKind) (Reply, error) {
	if workerID < 0 || workerID >= len(p.workers) {
		return Reply{}, fmt.Errorf("pool: no worker %d", workerID)
	}
	replyCh := make(chan Reply, 1)
	msg := Message{Kind: kind, Reply: replyCh}

	timer := time.NewTimer(p.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case p.workers[workerID].Mailbox() <- msg:
	case <-timer.C:
		return Reply{}, fmt.Errorf("pool: worker %d mailbox full, %s not delivered", workerID, kind)
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}

	select {
	case r := <-replyCh:
		return r, r.Err
	case <-timer.C:
		return Reply{}, fmt.Errorf("pool: worker %d did not answer %s within %v", workerID, kind, p.cfg.RequestTimeout)
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Broadcast fans a control message to every worker and collects replies.
// A worker that fails or times out contributes a Reply carrying the error.
func (p *Pool) Broadcast(ctx context.Context, kind MsgKind) []Reply {
	replies := make([]Reply, len(p.workers))
	var wg sync.WaitGroup
	for i := range p.workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := p.Send(ctx, i, kind)
			if err != nil && r.Err == nil {
				r = Reply{WorkerID: i, Err: err}
			}
			replies[i] = r
		}(i)
	}
	wg.Wait()
	return replies
}

// AssignSymbol pins a symbol to a worker. Pass a negative workerID to use
// the consistent hash. Returns the effective worker id.
func (p *Pool) AssignSymbol(symbol string, workerID int) int {
	if workerID < 0 || workerID >= len(p.workers) {
		workerID = p.hash(symbol)
	}
	p.mu.Lock()
	p.assigned[symbol] = workerID
	p.mu.Unlock()
	return workerID
}

// RemoveSymbol drops a symbol's assignment. Routing falls back to the hash.
func (p *Pool) RemoveSymbol(symbol string) {
	p.mu.Lock()
	delete(p.assigned, symbol)
	p.mu.Unlock()
}

// Health gathers every worker's counters into a pool snapshot.
func (p *Pool) Health(ctx context.Context) model.PoolHealth {
	replies := p.Broadcast(ctx, MsgSyncMetrics)
	ph := model.PoolHealth{WorkerCount: len(p.workers)}
	for _, r := range replies {
		if r.Health == nil {
			ph.UnhealthyWorkers++
			continue
		}
		ph.Workers = append(ph.Workers, *r.Health)
		ph.TotalSymbols += r.Health.AssignedSymbols
		switch r.Health.State {
		case model.WorkerUnhealthy, model.WorkerTerminated:
			ph.UnhealthyWorkers++
		case model.WorkerInitializing:
			ph.PendingWorkers++
		}
	}
	return ph
}

// Shutdown flushes every worker within the flush budget, then stops the
// loops. Workers that miss the deadline are logged and terminated anyway.
func (p *Pool) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ShutdownFlushTimeout)
	defer cancel()

	flushed, failed := 0, 0
	for _, r := range p.Broadcast(ctx, MsgShutdown) {
		if r.Err != nil {
			failed++
			log.Printf("[pool] worker %d shutdown flush failed: %v", r.WorkerID, r.Err)
			continue
		}
		flushed += r.Flushed
	}
	if failed > 0 {
		log.Printf("[pool] shutdown: %d states flushed, %d workers unflushed", flushed, failed)
	} else {
		log.Printf("[pool] shutdown: %d states flushed", flushed)
	}

	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}
