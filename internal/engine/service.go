// Package engine assembles the ingestion pipeline: trade source → ring
// buffer → worker pool → fan-out bus → Redis sink, with the gap writer and
// the persistence client on the side. It owns startup order, metric
// wiring, and the reverse-order graceful shutdown.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"footprint-systemv1/config"
	"footprint-systemv1/internal/bus"
	"footprint-systemv1/internal/gapwriter"
	"footprint-systemv1/internal/ingest"
	"footprint-systemv1/internal/ipc"
	"footprint-systemv1/internal/metrics"
	"footprint-systemv1/internal/model"
	"footprint-systemv1/internal/ringbuf"
	"footprint-systemv1/internal/sink"
	"footprint-systemv1/internal/stateserver"
	"footprint-systemv1/internal/store/remote"
	"footprint-systemv1/internal/worker"
)

// statsInterval is the cadence of the gauge refresher.
const statsInterval = 5 * time.Second

// Service is the assembled engine. Build with New, drive with Run.
type Service struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	health  *metrics.HealthStatus

	msrv      *metrics.Server
	gapClient *ipc.Client
	writer    *gapwriter.Writer
	pool      *worker.Pool
	fan       *bus.FanOut
	ring      *ringbuf.Ring[model.Trade]
	sink      *sink.Buffered

	events chan model.CandleEvent
}

// New validates the config and pre-builds the pieces that cannot fail at
// runtime. Connections are made in Run, in dependency order.
func New(cfg *config.Config) (*Service, error) {
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("engine: no symbols configured")
	}
	m := metrics.NewMetrics()
	h := metrics.NewHealthStatus()
	return &Service{
		cfg:     cfg,
		metrics: m,
		health:  h,
		msrv:    metrics.NewServer(cfg.MetricsAddr, h, m.Registry),
		fan:     bus.New(cfg.Bus.SubscriberBuffer),
		ring:    ringbuf.New[model.Trade](cfg.Ingest.RingSize),
		events:  make(chan model.CandleEvent, cfg.Bus.SubscriberBuffer),
	}, nil
}

// Run starts the pipeline and blocks until ctx is cancelled, then shuts
// down in reverse order within the configured flush budgets.
func (s *Service) Run(ctx context.Context) error {
	cfg := s.cfg
	s.msrv.Start()

	// Persistence side first: the gap writer and the workers both need the
	// state server to be reachable.
	ipcCfg := ipc.ClientConfig{
		SocketPath:     cfg.SocketPath,
		ConnectTimeout: time.Duration(cfg.IPC.ConnectTimeoutMs) * time.Millisecond,
		RequestTimeout: time.Duration(cfg.IPC.RequestTimeoutMs) * time.Millisecond,
		MaxRetries:     cfg.IPC.MaxRetries,
		RetryDelay:     time.Duration(cfg.IPC.BaseRetryDelayMs) * time.Millisecond,
		MaxRetryDelay:  time.Duration(cfg.IPC.MaxRetryDelayMs) * time.Millisecond,
	}
	gapClient, err := ipc.Dial(ipcCfg)
	if err != nil {
		return fmt.Errorf("engine: state server unreachable: %w", err)
	}
	s.gapClient = gapClient
	s.health.SetStateStoreConnected(true)

	s.writer = gapwriter.New(remote.NewGapStore(gapClient), gapwriter.Config{
		MaxQueueSize:      cfg.Gap.MaxQueueSize,
		MaxRetryQueueSize: cfg.Gap.MaxRetryQueueSize,
		BatchSize:         cfg.Gap.BatchSize,
		FlushInterval:     time.Duration(cfg.Gap.FlushIntervalMs) * time.Millisecond,
		RetryInterval:     time.Duration(cfg.Gap.RetryIntervalMs) * time.Millisecond,
		RetryDelays:       retryDelays(cfg.Gap.BatchRetryDelays),
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.writer.Run(runCtx)

	// Fan-out bus and its subscribers come up before any candle can
	// complete so the first event already has somewhere to go.
	s.fan.OnDrop = func(i int) {
		s.metrics.BusDropsTotal.WithLabelValues(strconv.Itoa(i)).Inc()
	}
	go s.fan.Run(runCtx, s.events)
	if err := s.startSink(runCtx); err != nil {
		return err
	}

	// Every completed candle also lands in the state server's durable
	// queue, so downstream consumers survive an engine restart.
	queue := remote.NewQueue(gapClient)
	qsub := s.fan.Subscribe()
	go func() {
		for ev := range qsub {
			raw, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := queue.Enqueue(stateserver.DefaultQueue, raw); err != nil {
				log.Printf("[engine] enqueue candle event: %v", err)
			}
		}
	}()

	// Worker pool: readiness is a hard barrier, a worker that cannot load
	// its snapshots must not see trades.
	s.pool = worker.NewPool(worker.PoolConfig{
		WorkerCount:          cfg.Pool.WorkerCount,
		Exchange:             cfg.Exchange,
		MailboxSize:          cfg.Pool.MailboxSize,
		ReadyTimeout:         time.Duration(cfg.Pool.ReadyTimeoutMs) * time.Millisecond,
		FlushInterval:        time.Duration(cfg.Pool.FlushIntervalMs) * time.Millisecond,
		ShutdownFlushTimeout: time.Duration(cfg.Pool.ShutdownFlushTimeoutMs) * time.Millisecond,
		RequestTimeout:       ipcCfg.RequestTimeout,
		IPC:                  ipcCfg,
	}, worker.NewConfigCache(NewStaticConfigs(cfg.Exchange, cfg.Symbols)), s.writer, s.publish)
	s.hookWorkers()
	s.pool.Start(runCtx)
	if err := s.pool.Init(runCtx, cfg.SymbolNames()); err != nil {
		s.pool.Shutdown()
		return fmt.Errorf("engine: pool init: %w", err)
	}
	s.health.SetPoolReady(true)

	// Trade path last: nothing flows until everything downstream is ready.
	feed := make(chan model.Trade, 1024)
	source, err := s.tradeSource()
	if err != nil {
		return err
	}
	go func() {
		if err := source.Run(runCtx, feed); err != nil {
			log.Printf("[engine] trade source stopped: %v", err)
		}
		close(feed)
	}()
	go s.pump(runCtx, feed)
	go s.route(runCtx)
	go s.statsLoop(runCtx)
	s.health.StartLivenessChecker(runCtx, s.redisClient(), nil, 15*time.Second)

	log.Printf("[engine] running: %d symbols, %d workers, source=%s",
		len(cfg.Symbols), cfg.Pool.WorkerCount, s.sourceName())

	<-ctx.Done()
	return s.shutdown(cancel)
}

// publish is the worker-side completion callback. It feeds the bus input;
// the send blocks so completed candles are never silently lost before the
// fan-out (per-subscriber drops happen there, and are counted).
func (s *Service) publish(ev model.CandleEvent) {
	s.metrics.EventsPublished.Inc()
	s.metrics.CandlesTotal.WithLabelValues(ev.Candle.Interval).Inc()
	s.events <- ev
}

// hookWorkers wires the per-worker metric callbacks.
func (s *Service) hookWorkers() {
	for _, w := range s.pool.Workers() {
		w.OnTrade = func(d time.Duration) {
			s.metrics.TradesTotal.Inc()
			s.metrics.ProcessDur.Observe(d.Seconds())
		}
		w.OnSkip = func(reason string) {
			s.metrics.TradesSkipped.WithLabelValues(reason).Inc()
		}
		w.OnGap = func() {
			s.metrics.GapsDetected.Inc()
		}
		w.OnError = func() {
			s.metrics.WorkerErrors.Inc()
		}
		w.OnIPCTimeout = func() {
			s.metrics.IPCTimeouts.Inc()
		}
	}
}

// startSink connects the Redis sink behind its circuit breaker and runs
// the subscriber goroutine. Disabled Redis leaves the bus without
// subscribers; events then fall out of the fan-out unobserved.
func (s *Service) startSink(ctx context.Context) error {
	if !s.cfg.Redis.Enabled {
		log.Printf("[engine] redis sink disabled")
		return nil
	}
	rs, err := sink.NewRedis(sink.RedisConfig{
		Addr:     s.cfg.Redis.Addr,
		Password: s.cfg.Redis.Password,
		DB:       s.cfg.Redis.DB,
	})
	if err != nil {
		return fmt.Errorf("engine: redis sink: %w", err)
	}
	s.health.SetRedisConnected(true)

	cb := sink.NewCircuitBreaker(s.cfg.Sink.BreakerFailures,
		time.Duration(s.cfg.Sink.BreakerResetSec)*time.Second)
	cb.OnStateChange = func(from, to sink.State) {
		log.Printf("[engine] sink circuit breaker %s -> %s", from, to)
		s.metrics.SinkBreakerState.Set(float64(to))
		if to == sink.StateOpen {
			s.metrics.SinkBreakerTrips.Inc()
		}
	}
	s.sink = sink.NewBuffered(rs, cb, s.cfg.Sink.BufferCap)
	s.sink.OnBuffer = func() { s.metrics.SinkBufferedEvents.Inc() }
	s.sink.OnDrop = func() { s.metrics.SinkBufferDrops.Inc() }

	sub := s.fan.Subscribe()
	go func() {
		for ev := range sub {
			s.sink.Publish(ctx, ev)
		}
	}()
	return nil
}

// tradeSource picks replay over live when a replay file is configured.
func (s *Service) tradeSource() (model.TradeSource, error) {
	if s.cfg.Ingest.ReplayFile != "" {
		return &ingest.Replay{
			Path:     s.cfg.Ingest.ReplayFile,
			Exchange: s.cfg.Exchange,
			Speed:    s.cfg.Ingest.ReplaySpeed,
		}, nil
	}
	ws, err := ingest.NewWS(ingest.WSConfig{
		URL:      s.cfg.Ingest.URL,
		Exchange: s.cfg.Exchange,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: trade source: %w", err)
	}
	ws.OnReconnect = func() {
		s.metrics.WSReconnects.Inc()
		s.health.SetWSConnected(false)
	}
	s.health.SetWSConnected(true)
	return ws, nil
}

func (s *Service) sourceName() string {
	if s.cfg.Ingest.ReplayFile != "" {
		return "replay:" + s.cfg.Ingest.ReplayFile
	}
	return s.cfg.Ingest.URL
}

// pump moves trades from the feed channel into the ring. A full ring drops
// the trade; the overflow counter is the operator's saturation signal.
func (s *Service) pump(ctx context.Context, feed <-chan model.Trade) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-feed:
			if !ok {
				return
			}
			s.health.SetWSConnected(true)
			s.health.SetLastTradeTime(time.Now())
			if !s.ring.Push(tr) {
				s.metrics.RingOverflow.Inc()
			}
		}
	}
}

// route drains the ring and dispatches trades to their owning workers.
// Consecutive trades for the same symbol batch into one mailbox message.
func (s *Service) route(ctx context.Context) {
	idle := time.NewTicker(time.Millisecond)
	defer idle.Stop()

	var batch []model.Trade
	for {
		tr, ok := s.ring.Pop()
		if !ok {
			if len(batch) > 0 {
				s.pool.RouteTrades(batch[0].Symbol, batch)
				batch = nil
			}
			select {
			case <-ctx.Done():
				return
			case <-idle.C:
			}
			continue
		}
		if len(batch) > 0 && batch[0].Symbol != tr.Symbol {
			s.pool.RouteTrades(batch[0].Symbol, batch)
			batch = nil
		}
		batch = append(batch, tr)
		if len(batch) >= 256 {
			s.pool.RouteTrades(batch[0].Symbol, batch)
			batch = nil
		}
	}
}

// statsLoop refreshes the gauges that have no event to hang off: queue
// occupancies, channel saturation, worker health.
func (s *Service) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gs := s.writer.Stats()
			s.metrics.GapQueueSize.Set(float64(gs.QueueSize))
			s.metrics.GapRetryQueueSize.Set(float64(gs.RetryQueueSize))
			s.metrics.GapsPersisted.Set(float64(gs.ProcessedCount))
			s.metrics.GapsDropped.Set(float64(gs.DroppedCount))
			s.metrics.GapsFailed.Set(float64(gs.FailedCount))
			s.metrics.IPCLateResponses.Set(float64(s.gapClient.Unmatched()))

			s.metrics.ChannelSaturationPct.WithLabelValues("ingest_ring").
				Set(float64(s.ring.Len()) / float64(s.ring.Cap()) * 100)
			s.metrics.ChannelSaturationPct.WithLabelValues("event_bus").
				Set(float64(len(s.events)) / float64(cap(s.events)) * 100)
			for i, w := range s.pool.Workers() {
				depth, capacity := w.MailboxDepth()
				s.metrics.ChannelSaturationPct.WithLabelValues("worker_"+strconv.Itoa(i)).
					Set(float64(depth) / float64(capacity) * 100)
			}

			ph := s.pool.Health(ctx)
			ready := ph.WorkerCount - ph.UnhealthyWorkers - ph.PendingWorkers
			s.metrics.WorkersReady.Set(float64(ready))
			s.metrics.WorkersUnhealthy.Set(float64(ph.UnhealthyWorkers))
			s.health.SetWorkerCounts(ready, ph.UnhealthyWorkers)
		}
	}
}

// shutdown tears the pipeline down in reverse order: stop ingest, flush
// workers, drain the gap writer, close connections.
func (s *Service) shutdown(cancel context.CancelFunc) error {
	log.Printf("[engine] shutting down...")

	s.pool.Shutdown()
	flushed := s.writer.FlushAll(time.Duration(s.cfg.Gap.FlushTimeoutMs) * time.Millisecond)
	log.Printf("[engine] gap writer drained, %d records persisted", flushed)

	cancel() // stops pump, route, bus, sink subscriber, stats
	if s.sink != nil {
		s.sink.Close()
	}
	s.gapClient.Close()

	stopCtx, stop := context.WithTimeout(context.Background(), 3*time.Second)
	defer stop()
	s.msrv.Stop(stopCtx)
	log.Printf("[engine] stopped")
	return nil
}

func (s *Service) redisClient() *goredis.Client {
	if s.sink == nil {
		return nil
	}
	return s.sink.Underlying().Client()
}

func retryDelays(ms []int) []time.Duration {
	out := make([]time.Duration, 0, len(ms))
	for _, m := range ms {
		out = append(out, time.Duration(m)*time.Millisecond)
	}
	return out
}
