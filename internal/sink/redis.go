// Package sink delivers completed footprint candles to Redis for the UI
// fan-out layer: a capped stream per (symbol, timeframe) for catch-up
// reads, a latest-key for snapshots, and a pub/sub channel for live
// subscribers. A circuit breaker plus a bounded local buffer keep Redis
// outages away from trade processing.
package sink

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"footprint-systemv1/internal/model"
)

const (
	// Stream trimming: ~3h of 1s candles + buffer
	stream1sMaxLen   = 12000
	defaultLatestTTL = 30 * time.Minute
)

// RedisConfig configures the Redis sink.
type RedisConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Redis writes completed candles to Redis streams, latest keys and
// pub/sub.
type Redis struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (r *Redis) Client() *goredis.Client { return r.client }

// NewRedis creates a Redis sink and pings the server.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[sink] connected to redis at %s", cfg.Addr)
	return &Redis{client: client}, nil
}

// Publish writes one completed candle: XADD to its stream, SET the latest
// key with TTL, PUBLISH for live subscribers, all in one pipeline.
func (r *Redis) Publish(ctx context.Context, ev model.CandleEvent) error {
	c := ev.Candle
	jsonData := string(c.JSON())

	streamKey := "fp:candle:" + c.Interval + ":" + c.Exchange + ":" + c.Symbol
	latestKey := "fp:candle:" + c.Interval + ":latest:" + c.Exchange + ":" + c.Symbol
	pubsubCh := "pub:fp:candle:" + c.Interval + ":" + c.Exchange + ":" + c.Symbol

	pipe := r.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey,
		MaxLen: streamMaxLen(c.Interval),
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, pubsubCh, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline %s: %w", c.Key(), err)
	}
	return nil
}

// Close releases the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

// streamMaxLen keeps roughly three hours of candles per stream,
// proportional to the interval.
func streamMaxLen(interval string) int64 {
	tf, ok := model.TimeframeByName(interval)
	if !ok || tf.DurationMs <= 0 {
		return 200
	}
	maxLen := int64(3*time.Hour/time.Millisecond)/tf.DurationMs + 100
	if maxLen < 200 {
		maxLen = 200
	}
	if maxLen > stream1sMaxLen {
		maxLen = stream1sMaxLen
	}
	return maxLen
}
