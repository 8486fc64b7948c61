// cmd/fpengine — Footprint candle ingestion engine.
// Consumes an exchange trade feed, builds volume-footprint candles across
// all timeframes, and publishes completed candles to Redis. Snapshots and
// gap records persist through the statestore daemon's unix socket.
//
// Usage:
//
//	fpengine -config config.yaml
//
// Every config field is also overridable via FP_* env vars; see config.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"footprint-systemv1/config"
	"footprint-systemv1/internal/engine"
	"footprint-systemv1/internal/logger"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfgPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[fpengine] %v", err)
	}
	logger.Init("fpengine", parseLevel(cfg.LogLevel))
	log.Printf("[fpengine] starting: exchange=%s symbols=%v", cfg.Exchange, cfg.SymbolNames())

	svc, err := engine.New(cfg)
	if err != nil {
		log.Fatalf("[fpengine] %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[fpengine] %v", err)
	}
	log.Println("[fpengine] shutdown complete.")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
