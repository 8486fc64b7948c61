// cmd/statestore — Persistence daemon for the footprint pipeline.
// Serves the state, gap and queue message families over a framed unix
// socket, backed by an embedded SQLite database in WAL mode. Runs as its
// own process so an engine crash never takes the durable state with it.
//
// Usage:
//
//	statestore -config config.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"footprint-systemv1/config"
	"footprint-systemv1/internal/logger"
	"footprint-systemv1/internal/metrics"
	"footprint-systemv1/internal/model"
	"footprint-systemv1/internal/stateserver"
	"footprint-systemv1/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfgPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[statestore] %v", err)
	}
	logger.Init("statestore", slog.LevelInfo)
	log.Printf("[statestore] starting: socket=%s db=%s", cfg.SocketPath, cfg.Store.DBPath)

	if dir := filepath.Dir(cfg.Store.DBPath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}

	svc, err := stateserver.New(stateserver.Config{
		SocketPath:        cfg.SocketPath,
		DBPath:            cfg.Store.DBPath,
		MaxConns:          cfg.IPC.MaxConns,
		QueueBatchSize:    cfg.Store.QueueBatchSize,
		QueuePollInterval: time.Duration(cfg.Store.QueuePollIntervalMs) * time.Millisecond,
		RetentionHours:    cfg.Store.RetentionHours,
	})
	if err != nil {
		log.Fatalf("[statestore] %v", err)
	}

	prom := metrics.NewMetrics()
	svc.OnRequest = func(reqType, outcome string, d time.Duration) {
		prom.StoreRequests.WithLabelValues(reqType, outcome).Inc()
		prom.StoreRequestDur.WithLabelValues(reqType).Observe(d.Seconds())
	}
	svc.OnPrune = func(n int64) {
		prom.QueuePruned.Add(float64(n))
	}
	svc.Store().OnCommit = func(d time.Duration) {
		prom.SQLiteCommitDur.Observe(d.Seconds())
	}

	// Candle completion events land in the durable queue; the consumer here
	// just acknowledges them so the backfiller can replace it later without
	// a schema change.
	svc.Route(stateserver.DefaultQueue, func(ctx context.Context, item sqlite.QueueItem) error {
		var ev model.CandleEvent
		if err := json.Unmarshal([]byte(item.Payload), &ev); err != nil {
			log.Printf("[statestore] bad candle event %d: %v", item.ID, err)
			return nil // malformed payloads never succeed, don't retry
		}
		slog.Debug("candle event", "key", ev.Key(), "emittedAt", ev.EmittedAt)
		return nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Queue depth gauge poller.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if depth, err := svc.Store().QueueDepth(ctx, stateserver.DefaultQueue); err == nil {
					prom.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	httpSrv := startHTTP(cfg.Store.MetricsAddr, svc, prom.Registry)

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[statestore] %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
	log.Println("[statestore] shutdown complete.")
}

// startHTTP serves /metrics and a minimal /healthz covering both the
// SQLite ping and the service's write-failure trip.
func startHTTP(addr string, svc *stateserver.Service, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		w.Header().Set("Content-Type", "application/json")
		if !svc.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, `{"status":"unhealthy","reason":"write failure streak"}`)
			return
		}
		if err := svc.Store().DB().PingContext(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"unhealthy","sqlite_error":%q}`+"\n", err.Error())
			return
		}
		fmt.Fprintln(w, `{"status":"ok","service":"statestore"}`)
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Printf("[statestore] metrics listening on %s", addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[statestore] metrics server error: %v", err)
		}
	}()
	return srv
}
