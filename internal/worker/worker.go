package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"footprint-systemv1/internal/ipc"
	"footprint-systemv1/internal/model"
	"footprint-systemv1/internal/processor"
	"footprint-systemv1/internal/store/remote"
)

// ErrNotReady is returned when trades or control messages reach a worker
// that has not completed WORKER_INIT.
var ErrNotReady = errors.New("worker: not ready")

// MsgKind enumerates the mailbox message types.
type MsgKind int

const (
	MsgTrades MsgKind = iota
	MsgInit
	MsgFlush
	MsgSyncMetrics
	MsgShutdown
)

func (k MsgKind) String() string {
	switch k {
	case MsgTrades:
		return "TRADES"
	case MsgInit:
		return "WORKER_INIT"
	case MsgFlush:
		return "FLUSH"
	case MsgSyncMetrics:
		return "SYNC_METRICS"
	case MsgShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// Message is one mailbox entry: a routed trade batch or a control message.
// Control messages carry a Reply channel; the worker answers exactly once.
type Message struct {
	Kind    MsgKind
	Trades  []model.Trade
	Symbols []string // MsgInit: the symbols this worker owns
	Reply   chan Reply
}

// Reply answers a control message.
type Reply struct {
	WorkerID int
	Err      error
	Health   *model.WorkerHealth
	Flushed  int
}

// Config sizes one worker runtime.
type Config struct {
	ID            int
	Exchange      string
	MailboxSize   int
	FlushInterval time.Duration
	IPC           ipc.ClientConfig
}

func (c *Config) withDefaults() {
	if c.MailboxSize <= 0 {
		c.MailboxSize = 4096
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
}

// Worker is one single-goroutine runtime: it drains its mailbox, applies
// trades through the processor, publishes completed candles, and flushes
// dirty groups to the state server on a timer and on demand.
type Worker struct {
	cfg     Config
	mailbox chan Message
	storage *Storage
	proc    *processor.Processor
	publish func(model.CandleEvent)

	client *ipc.Client
	states *remote.StateStore

	ready     chan struct{} // closed once WORKER_INIT completes
	readyOnce sync.Once

	stateMu sync.Mutex
	state   model.WorkerState

	latency         *LatencyTracker
	tradesProcessed atomic.Uint64
	eventsPublished atomic.Uint64
	errorCount      atomic.Uint64
	lastHeartbeat   atomic.Int64
	busyNs          atomic.Int64
	lastSyncAt      atomic.Int64
	lastSyncBusyNs  atomic.Int64

	errMu     sync.Mutex
	lastError string
	initErr   error

	// Optional metric hooks, called on the worker goroutine.
	OnTrade      func(d time.Duration)
	OnSkip       func(reason string)
	OnGap        func()
	OnError      func()
	OnIPCTimeout func()
}

// NewWorker wires a worker. The persistence client is dialed later, on
// WORKER_INIT; until then the worker reports state initializing.
func NewWorker(cfg Config, configs model.ConfigSource, gaps processor.GapSubmitter, publish func(model.CandleEvent)) *Worker {
	cfg.withDefaults()
	w := &Worker{
		cfg:     cfg,
		mailbox: make(chan Message, cfg.MailboxSize),
		storage: NewStorage(),
		publish: publish,
		ready:   make(chan struct{}),
		state:   model.WorkerInitializing,
		latency: NewLatencyTracker(10000),
	}
	w.proc = processor.New(cfg.Exchange, w.storage, configs, gaps)
	w.lastSyncAt.Store(time.Now().UnixNano())
	return w
}

// ID returns the worker's pool index.
func (w *Worker) ID() int { return w.cfg.ID }

// Ready is closed once WORKER_INIT has connected and preloaded state.
func (w *Worker) Ready() <-chan struct{} { return w.ready }

// Mailbox exposes the send side for the pool's dispatch path.
func (w *Worker) Mailbox() chan<- Message { return w.mailbox }

// MailboxDepth returns the number of queued messages, for saturation
// metrics.
func (w *Worker) MailboxDepth() (int, int) { return len(w.mailbox), cap(w.mailbox) }

// Run is the worker loop. It returns when ctx is cancelled or a SHUTDOWN
// message has been answered.
func (w *Worker) Run(ctx context.Context) {
	flushTick := time.NewTicker(w.cfg.FlushInterval)
	defer flushTick.Stop()
	defer w.terminate()

	for {
		select {
		case <-ctx.Done():
			return
		case <-flushTick.C:
			if w.states == nil {
				continue
			}
			if _, err := w.flushDirty(ctx); err != nil {
				w.recordError(err)
				log.Printf("[worker %d] periodic flush: %v", w.cfg.ID, err)
			}
		case msg := <-w.mailbox:
			if done := w.handle(ctx, msg); done {
				return
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg Message) (done bool) {
	switch msg.Kind {
	case MsgTrades:
		w.processTrades(msg.Trades)
	case MsgInit:
		err := w.init(ctx, msg.Symbols)
		if err != nil {
			// The pool's init message carries no reply channel; stash the
			// error so the readiness barrier can name the root cause.
			w.recordError(err)
			w.setInitError(err)
			log.Printf("[worker %d] init failed: %v", w.cfg.ID, err)
		}
		w.reply(msg, Reply{WorkerID: w.cfg.ID, Err: err})
	case MsgFlush:
		n, err := w.flushChecked(ctx)
		w.reply(msg, Reply{WorkerID: w.cfg.ID, Flushed: n, Err: err})
	case MsgSyncMetrics:
		h := w.health()
		w.reply(msg, Reply{WorkerID: w.cfg.ID, Health: &h})
	case MsgShutdown:
		n, err := w.flushChecked(ctx)
		if err != nil {
			w.recordError(err)
			log.Printf("[worker %d] shutdown flush: %v", w.cfg.ID, err)
		}
		w.reply(msg, Reply{WorkerID: w.cfg.ID, Flushed: n, Err: err})
		return true
	default:
		w.reply(msg, Reply{WorkerID: w.cfg.ID, Err: fmt.Errorf("worker %d: unknown message kind %d", w.cfg.ID, msg.Kind)})
	}
	return false
}

// init connects to the state server, preloads the snapshots for the
// symbols this worker owns, and flips the worker ready.
func (w *Worker) init(ctx context.Context, symbols []string) error {
	client, err := ipc.Dial(w.cfg.IPC)
	if err != nil {
		w.setState(model.WorkerUnhealthy)
		return fmt.Errorf("worker %d: dial state server: %w", w.cfg.ID, err)
	}
	w.client = client
	w.states = remote.NewStateStore(client)

	if len(symbols) > 0 {
		loaded, err := w.states.LoadStateBatch(ctx, w.cfg.Exchange, symbols)
		if err != nil {
			return fmt.Errorf("worker %d: preload %d symbols: %w", w.cfg.ID, len(symbols), err)
		}
		restored := 0
		for symbol, stateJSON := range loaded {
			if err := w.storage.Restore(symbol, stateJSON); err != nil {
				// A corrupt snapshot is rebuilt from the next trade.
				log.Printf("[worker %d] %v, starting fresh", w.cfg.ID, err)
				continue
			}
			restored++
		}
		log.Printf("[worker %d] restored %d/%d symbol states", w.cfg.ID, restored, len(symbols))
	}

	w.setState(model.WorkerReady)
	w.lastHeartbeat.Store(time.Now().UnixMilli())
	w.readyOnce.Do(func() { close(w.ready) })
	return nil
}

func (w *Worker) processTrades(trades []model.Trade) {
	if w.states == nil {
		w.recordError(ErrNotReady)
		return
	}
	w.setState(model.WorkerBusy)
	for i := range trades {
		start := time.Now()
		res, err := w.proc.ProcessTrade(&trades[i])
		if err != nil {
			w.recordError(err)
			log.Printf("[worker %d] process %s trade %d: %v",
				w.cfg.ID, trades[i].Symbol, trades[i].TradeID, err)
			continue
		}
		w.tradesProcessed.Add(1)
		if res.Skipped && w.OnSkip != nil {
			w.OnSkip(res.SkipReason)
		}
		if res.Gap != nil && w.OnGap != nil {
			w.OnGap()
		}
		for _, ev := range res.Completed {
			w.publish(ev)
			w.eventsPublished.Add(1)
		}

		d := time.Since(start)
		w.busyNs.Add(int64(d))
		w.latency.Record(float64(d.Nanoseconds()) / 1e6)
		if w.OnTrade != nil {
			w.OnTrade(d)
		}
	}
	w.lastHeartbeat.Store(time.Now().UnixMilli())
	w.setState(model.WorkerReady)
}

// flushChecked is flushDirty behind the readiness check, for control paths.
func (w *Worker) flushChecked(ctx context.Context) (int, error) {
	if w.states == nil {
		return 0, ErrNotReady
	}
	return w.flushDirty(ctx)
}

// flushDirty writes every dirty group in one save_batch and clears the
// flags on success.
func (w *Worker) flushDirty(ctx context.Context) (int, error) {
	entries, symbols, err := w.storage.DirtyEntries()
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	if err := w.states.SaveStateBatch(ctx, entries); err != nil {
		return 0, err
	}
	w.storage.ClearDirty(symbols)
	return len(entries), nil
}

func (w *Worker) health() model.WorkerHealth {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	// CPU share approximated as trade-processing time over wall time
	// since the previous metrics sync.
	now := time.Now().UnixNano()
	busy := w.busyNs.Load()
	prevAt := w.lastSyncAt.Swap(now)
	prevBusy := w.lastSyncBusyNs.Swap(busy)
	cpu := 0.0
	if wall := now - prevAt; wall > 0 {
		cpu = float64(busy-prevBusy) / float64(wall) * 100
	}

	depth, _ := w.MailboxDepth()
	return model.WorkerHealth{
		WorkerID:        w.cfg.ID,
		State:           w.State(),
		AssignedSymbols: w.storage.Len(),
		TradesProcessed: w.tradesProcessed.Load(),
		EventsPublished: w.eventsPublished.Load(),
		AvgProcessingMs: w.latency.Avg(),
		MemoryBytes:     mem.HeapAlloc,
		CPUPercent:      cpu,
		ErrorCount:      w.errorCount.Load(),
		LastError:       w.lastErrorString(),
		LastHeartbeat:   w.lastHeartbeat.Load(),
		MailboxDepth:    depth,
		DirtySymbols:    w.storage.DirtyCount(),
	}
}

// State returns the worker's lifecycle state.
func (w *Worker) State() model.WorkerState {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return w.state
}

func (w *Worker) setState(s model.WorkerState) {
	w.stateMu.Lock()
	// Terminated and unhealthy are sticky until shutdown.
	if w.state != model.WorkerTerminated {
		w.state = s
	}
	w.stateMu.Unlock()
}

func (w *Worker) terminate() {
	w.stateMu.Lock()
	w.state = model.WorkerTerminated
	w.stateMu.Unlock()
	if w.client != nil {
		w.client.Close()
	}
}

func (w *Worker) recordError(err error) {
	w.errorCount.Add(1)
	w.errMu.Lock()
	w.lastError = err.Error()
	w.errMu.Unlock()
	if w.OnError != nil {
		w.OnError()
	}
	if errors.Is(err, ipc.ErrTimeout) && w.OnIPCTimeout != nil {
		w.OnIPCTimeout()
	}
}

func (w *Worker) lastErrorString() string {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.lastError
}

func (w *Worker) setInitError(err error) {
	w.errMu.Lock()
	w.initErr = err
	w.errMu.Unlock()
}

// InitError returns the WORKER_INIT failure, if any.
func (w *Worker) InitError() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.initErr
}

func (w *Worker) reply(msg Message, r Reply) {
	if msg.Reply == nil {
		return
	}
	select {
	case msg.Reply <- r:
	default:
		// Caller abandoned the request (timeout); drop the reply.
	}
}
