// Package stateserver is the persistence half of the pipeline: a unix
// socket server exposing the state, gap and queue families over the framed
// protocol, backed by the embedded SQLite store.
package stateserver

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"footprint-systemv1/internal/ipc"
	"footprint-systemv1/internal/store/sqlite"
)

// DefaultQueue is where enqueue lands when the sender names no queue.
const DefaultQueue = "candle_events"

// maxWriteFailures is the consecutive store-write failure streak that
// flips the service unhealthy. At that point the disk or the database
// file is gone; failing each request individually only hides it.
const maxWriteFailures = 5

// errStoreUnhealthy rejects writes once the failure streak has tripped.
var errStoreUnhealthy = errors.New("stateserver: store unhealthy, writes rejected")

// RouteFunc consumes one durable queue message. An error leaves the
// message unprocessed so the next poll retries it.
type RouteFunc func(ctx context.Context, item sqlite.QueueItem) error

// Config configures the state server.
type Config struct {
	SocketPath        string
	DBPath            string
	MaxConns          int
	QueueBatchSize    int
	QueuePollInterval time.Duration
	RetentionHours    int
}

func (c *Config) withDefaults() {
	if c.QueueBatchSize <= 0 {
		c.QueueBatchSize = 50
	}
	if c.QueuePollInterval <= 0 {
		c.QueuePollInterval = time.Second
	}
	if c.RetentionHours <= 0 {
		c.RetentionHours = 24
	}
}

// Service owns the socket server, the store, and the queue poller.
type Service struct {
	cfg    Config
	store  *sqlite.Store
	srv    *ipc.Server
	routes map[string]RouteFunc

	writeFails atomic.Int32
	unhealthy  atomic.Bool

	// Optional metric hooks.
	OnRequest func(reqType, outcome string, d time.Duration)
	OnPrune   func(n int64)

	// OnUnhealthy fires once, when the write-failure streak trips.
	OnUnhealthy func(err error)
}

// New opens the store and wires the protocol handlers. Register queue
// routes before Run.
func New(cfg Config) (*Service, error) {
	cfg.withDefaults()

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:    cfg,
		store:  store,
		srv:    ipc.NewServer(ipc.ServerConfig{SocketPath: cfg.SocketPath, MaxConns: cfg.MaxConns}),
		routes: make(map[string]RouteFunc),
	}
	s.srv.Handle(ipc.TypeState, s.timed(ipc.TypeState, s.handleState))
	s.srv.Handle(ipc.TypeGap, s.timed(ipc.TypeGap, s.handleGap))
	s.srv.HandleNotify(ipc.TypeQueue, s.handleQueue)
	return s, nil
}

// timed wraps a handler with the request metric hook.
func (s *Service) timed(reqType string, fn func(context.Context, ipc.Request) ipc.Response) func(context.Context, ipc.Request) ipc.Response {
	return func(ctx context.Context, req ipc.Request) ipc.Response {
		start := time.Now()
		resp := fn(ctx, req)
		if s.OnRequest != nil {
			outcome := "ok"
			if !resp.Success {
				outcome = "error"
			}
			s.OnRequest(reqType, outcome, time.Since(start))
		}
		return resp
	}
}

// Store exposes the underlying store for health checks.
func (s *Service) Store() *sqlite.Store { return s.store }

// Healthy is false once consecutive write failures have crossed
// maxWriteFailures. /healthz surfaces it; write handlers consult it.
func (s *Service) Healthy() bool { return !s.unhealthy.Load() }

// writeResult tracks the outcome of one store write. A streak of
// maxWriteFailures marks the service unhealthy and starts rejecting
// writes; reads stay available so drain tooling keeps working.
func (s *Service) writeResult(err error) error {
	if err == nil {
		s.writeFails.Store(0)
		return nil
	}
	if s.writeFails.Add(1) >= maxWriteFailures && !s.unhealthy.Swap(true) {
		log.Printf("[stateserver] %d consecutive write failures, marking unhealthy: %v", maxWriteFailures, err)
		if s.OnUnhealthy != nil {
			s.OnUnhealthy(err)
		}
	}
	return err
}

// Route registers the consumer for one named queue.
func (s *Service) Route(queue string, fn RouteFunc) {
	s.routes[queue] = fn
}

// Run starts the listener, the queue poller and the retention pruner, and
// blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	log.Println("[stateserver] starting state server...")
	if err := s.srv.Start(ctx); err != nil {
		s.store.Close()
		return err
	}

	go s.pollLoop(ctx)
	go s.pruneLoop(ctx)

	<-ctx.Done()
	log.Println("[stateserver] shutting down...")
	s.srv.Close()
	return s.store.Close()
}

// pollLoop drains registered queues in batches, marking messages processed
// only after their route accepts them.
func (s *Service) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.QueuePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for queue, route := range s.routes {
				s.drainQueue(ctx, queue, route)
			}
		}
	}
}

func (s *Service) drainQueue(ctx context.Context, queue string, route RouteFunc) {
	items, err := s.store.DequeueBatch(ctx, queue, s.cfg.QueueBatchSize)
	if err != nil {
		log.Printf("[stateserver] dequeue %s: %v", queue, err)
		return
	}
	if len(items) == 0 {
		return
	}

	done := make([]int64, 0, len(items))
	for _, item := range items {
		if err := route(ctx, item); err != nil {
			log.Printf("[stateserver] route %s message %d: %v", queue, item.ID, err)
			break
		}
		done = append(done, item.ID)
	}
	if len(done) == 0 {
		return
	}
	if err := s.store.MarkProcessed(ctx, done, time.Now().UnixMilli()); err != nil {
		log.Printf("[stateserver] mark processed %s: %v", queue, err)
	}
}

// pruneLoop deletes processed messages older than the retention window.
func (s *Service) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-time.Duration(s.cfg.RetentionHours) * time.Hour).UnixMilli()
			n, err := s.store.PruneProcessed(ctx, cutoff)
			if err != nil {
				log.Printf("[stateserver] prune: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[stateserver] pruned %d processed messages", n)
				if s.OnPrune != nil {
					s.OnPrune(n)
				}
			}
		}
	}
}
