package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the footprint pipeline. The
// fpengine_* family covers the ingestion engine, statestore_* the
// persistence server; each binary touches only its own family. Everything
// registers on a dedicated registry, not the global default, so two
// instances can coexist in one process.
type Metrics struct {
	Registry *prometheus.Registry

	// Engine: trade path
	TradesTotal     prometheus.Counter
	TradesSkipped   *prometheus.CounterVec // labels: reason
	ProcessDur      prometheus.Histogram
	CandlesTotal    *prometheus.CounterVec // labels: tf
	EventsPublished prometheus.Counter
	GapsDetected    prometheus.Counter

	// Engine: gap writer
	GapQueueSize      prometheus.Gauge
	GapRetryQueueSize prometheus.Gauge
	GapsPersisted     prometheus.Gauge
	GapsDropped       prometheus.Gauge
	GapsFailed        prometheus.Gauge

	// Engine: transport & backpressure
	WSReconnects         prometheus.Counter
	RingOverflow         prometheus.Counter
	BusDropsTotal        *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Engine: IPC client
	IPCTimeouts      prometheus.Counter
	IPCLateResponses prometheus.Gauge

	// Engine: worker pool
	WorkersReady     prometheus.Gauge
	WorkersUnhealthy prometheus.Gauge
	WorkerErrors     prometheus.Counter

	// Engine: Redis sink
	SinkBreakerState   prometheus.Gauge // 0=closed, 1=open, 2=half-open
	SinkBreakerTrips   prometheus.Counter
	SinkBufferedEvents prometheus.Counter
	SinkBufferDrops    prometheus.Counter

	// Statestore
	StoreRequests   *prometheus.CounterVec // labels: type, outcome
	StoreRequestDur *prometheus.HistogramVec
	SQLiteCommitDur prometheus.Histogram
	QueueDepth      prometheus.Gauge
	QueuePruned     prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TradesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fpengine_trades_total",
			Help: "Total trades applied by the worker pool",
		}),
		TradesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fpengine_trades_skipped_total",
			Help: "Trades skipped without footprint update (by reason)",
		}, []string{"reason"}),
		ProcessDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fpengine_trade_process_duration_seconds",
			Help:    "Per-trade processing latency",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),
		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fpengine_candles_completed_total",
			Help: "Completed footprint candles (by timeframe)",
		}, []string{"tf"}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fpengine_events_published_total",
			Help: "Completed-candle events handed to the fan-out bus",
		}),
		GapsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fpengine_gaps_detected_total",
			Help: "Trade-id gaps detected across all symbols",
		}),

		GapQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fpengine_gap_queue_size",
			Help: "Gap writer pending queue occupancy",
		}),
		GapRetryQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fpengine_gap_retry_queue_size",
			Help: "Gap writer retry queue occupancy",
		}),
		GapsPersisted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fpengine_gaps_persisted_total",
			Help: "Gap records persisted by the writer",
		}),
		GapsDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fpengine_gaps_dropped_total",
			Help: "Gap records dropped by queue overflow",
		}),
		GapsFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fpengine_gaps_failed_total",
			Help: "Gap records whose batch write failed",
		}),

		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fpengine_ws_reconnects_total",
			Help: "Trade feed reconnection attempts",
		}),
		RingOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fpengine_ring_overflow_total",
			Help: "Trades dropped by the ingest ring buffer",
		}),
		BusDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fpengine_bus_drops_total",
			Help: "Candle events dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fpengine_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		IPCTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fpengine_ipc_timeouts_total",
			Help: "IPC requests abandoned after their timeout",
		}),
		IPCLateResponses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fpengine_ipc_late_responses_total",
			Help: "Responses discarded because their request had timed out",
		}),

		WorkersReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fpengine_workers_ready",
			Help: "Workers in ready or busy state",
		}),
		WorkersUnhealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fpengine_workers_unhealthy",
			Help: "Workers in unhealthy or terminated state",
		}),
		WorkerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fpengine_worker_errors_total",
			Help: "Errors surfaced by worker trade processing and flushes",
		}),

		SinkBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fpengine_sink_circuit_breaker_state",
			Help: "Redis sink circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		SinkBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fpengine_sink_circuit_breaker_trips_total",
			Help: "Times the Redis sink circuit breaker tripped open",
		}),
		SinkBufferedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fpengine_sink_buffered_events_total",
			Help: "Events buffered locally during sink circuit-open state",
		}),
		SinkBufferDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fpengine_sink_buffer_drops_total",
			Help: "Buffered events evicted by the sink buffer cap",
		}),

		StoreRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "statestore_requests_total",
			Help: "IPC requests served (by type and outcome)",
		}, []string{"type", "outcome"}),
		StoreRequestDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "statestore_request_duration_seconds",
			Help:    "IPC request handling latency (by type)",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "statestore_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "statestore_queue_depth",
			Help: "Unprocessed rows in the durable message queue",
		}),
		QueuePruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "statestore_queue_pruned_total",
			Help: "Processed queue rows deleted by retention",
		}),
	}

	m.Registry = prometheus.NewRegistry()
	m.Registry.MustRegister(
		m.TradesTotal,
		m.TradesSkipped,
		m.ProcessDur,
		m.CandlesTotal,
		m.EventsPublished,
		m.GapsDetected,
		m.GapQueueSize,
		m.GapRetryQueueSize,
		m.GapsPersisted,
		m.GapsDropped,
		m.GapsFailed,
		m.WSReconnects,
		m.RingOverflow,
		m.BusDropsTotal,
		m.ChannelSaturationPct,
		m.IPCTimeouts,
		m.IPCLateResponses,
		m.WorkersReady,
		m.WorkersUnhealthy,
		m.WorkerErrors,
		m.SinkBreakerState,
		m.SinkBreakerTrips,
		m.SinkBufferedEvents,
		m.SinkBufferDrops,
		m.StoreRequests,
		m.StoreRequestDur,
		m.SQLiteCommitDur,
		m.QueueDepth,
		m.QueuePruned,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected         bool      `json:"ws_connected"`
	LastTradeTime       time.Time `json:"last_trade_time"`
	StateStoreConnected bool      `json:"statestore_connected"`
	RedisConnected      bool      `json:"redis_connected"`
	SQLiteOK            bool      `json:"sqlite_ok"`
	PoolReady           bool      `json:"pool_ready"`
	WorkersReady        int       `json:"workers_ready"`
	WorkersUnhealthy    int       `json:"workers_unhealthy"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTradeTime(t time.Time) {
	h.mu.Lock()
	h.LastTradeTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetStateStoreConnected(v bool) {
	h.mu.Lock()
	h.StateStoreConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetPoolReady(v bool) {
	h.mu.Lock()
	h.PoolReady = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetWorkerCounts(ready, unhealthy int) {
	h.mu.Lock()
	h.WorkersReady = ready
	h.WorkersUnhealthy = unhealthy
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either probe
// target may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Determine overall status
	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.WSConnected || !h.StateStoreConnected || !h.PoolReady {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.StateStoreConnected && !h.PoolReady {
		overallStatus = "unhealthy"
	}

	// Trade age
	tradeAge := ""
	if !h.LastTradeTime.IsZero() {
		tradeAge = time.Since(h.LastTradeTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status              string  `json:"status"`
		Uptime              string  `json:"uptime"`
		WSConnected         bool    `json:"ws_connected"`
		LastTradeTime       string  `json:"last_trade_time"`
		TradeAge            string  `json:"trade_age"`
		StateStoreConnected bool    `json:"statestore_connected"`
		RedisConnected      bool    `json:"redis_connected"`
		RedisLatencyMs      float64 `json:"redis_latency_ms"`
		SQLiteOK            bool    `json:"sqlite_ok"`
		SQLiteLatencyMs     float64 `json:"sqlite_latency_ms"`
		PoolReady           bool    `json:"pool_ready"`
		WorkersReady        int     `json:"workers_ready"`
		WorkersUnhealthy    int     `json:"workers_unhealthy"`
		LastCheckAt         string  `json:"last_check_at"`
	}{
		Status:              overallStatus,
		Uptime:              time.Since(h.StartedAt).Round(time.Second).String(),
		WSConnected:         h.WSConnected,
		LastTradeTime:       h.LastTradeTime.Format(time.RFC3339),
		TradeAge:            tradeAge,
		StateStoreConnected: h.StateStoreConnected,
		RedisConnected:      h.RedisConnected,
		RedisLatencyMs:      h.RedisLatencyMs,
		SQLiteOK:            h.SQLiteOK,
		SQLiteLatencyMs:     h.SQLiteLatencyMs,
		PoolReady:           h.PoolReady,
		WorkersReady:        h.WorkersReady,
		WorkersUnhealthy:    h.WorkersUnhealthy,
		LastCheckAt:         h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server over the given gatherer.
func NewServer(addr string, health *HealthStatus, g prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
