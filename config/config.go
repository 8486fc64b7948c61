// Package config loads the configuration for all three binaries from a
// YAML file, with every field overridable by environment variable.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the full configuration tree. Defaults come from Default();
// a YAML file overrides defaults, environment variables override both.
type Config struct {
	Exchange    string `yaml:"exchange"`
	SocketPath  string `yaml:"socketPath"`
	MetricsAddr string `yaml:"metricsAddr"`
	LogLevel    string `yaml:"logLevel"` // debug, info, warn, error

	Pool    PoolConfig    `yaml:"pool"`
	IPC     IPCConfig     `yaml:"ipc"`
	Gap     GapConfig     `yaml:"gap"`
	Store   StoreConfig   `yaml:"store"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Redis   RedisConfig   `yaml:"redis"`
	Bus     BusConfig     `yaml:"bus"`
	Sink    SinkConfig    `yaml:"sink"`
	Sim     SimConfig     `yaml:"sim"`
	Symbols []SymbolEntry `yaml:"symbols"`
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	WorkerCount            int `yaml:"workerCount"`
	MailboxSize            int `yaml:"mailboxSize"`
	ReadyTimeoutMs         int `yaml:"readyTimeoutMs"`
	ShutdownFlushTimeoutMs int `yaml:"shutdownFlushTimeoutMs"`
	FlushIntervalMs        int `yaml:"flushIntervalMs"`
}

// IPCConfig tunes the framed unix-socket client and server.
type IPCConfig struct {
	ConnectTimeoutMs int `yaml:"connectTimeoutMs"`
	RequestTimeoutMs int `yaml:"requestTimeoutMs"`
	MaxRetries       int `yaml:"maxRetries"`
	BaseRetryDelayMs int `yaml:"baseRetryDelayMs"`
	MaxRetryDelayMs  int `yaml:"maxRetryDelayMs"`
	MaxConns         int `yaml:"maxConns"`
}

// GapConfig tunes the non-blocking gap writer.
type GapConfig struct {
	MaxQueueSize      int   `yaml:"maxQueueSize"`
	MaxRetryQueueSize int   `yaml:"maxRetryQueueSize"`
	BatchSize         int   `yaml:"batchSize"`
	FlushIntervalMs   int   `yaml:"flushIntervalMs"`
	RetryIntervalMs   int   `yaml:"retryIntervalMs"`
	BatchRetryDelays  []int `yaml:"batchRetryDelaysMs"`
	FlushTimeoutMs    int   `yaml:"flushTimeoutMs"`
}

// StoreConfig configures the statestore daemon.
type StoreConfig struct {
	DBPath              string `yaml:"dbPath"`
	QueuePollIntervalMs int    `yaml:"queuePollIntervalMs"`
	QueueBatchSize      int    `yaml:"queueBatchSize"`
	RetentionHours      int    `yaml:"retentionHours"`
	MetricsAddr         string `yaml:"metricsAddr"`
}

// IngestConfig selects and tunes the trade source.
type IngestConfig struct {
	URL         string  `yaml:"url"`        // WebSocket feed
	ReplayFile  string  `yaml:"replayFile"` // JSONL replay; takes precedence when set
	ReplaySpeed float64 `yaml:"replaySpeed"`
	RingSize    int     `yaml:"ringSize"`
}

// RedisConfig configures the completed-candle sink.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// BusConfig sizes the candle-event fan-out.
type BusConfig struct {
	SubscriberBuffer int `yaml:"subscriberBuffer"`
}

// SinkConfig tunes the sink circuit breaker and its local buffer.
type SinkConfig struct {
	BreakerFailures int `yaml:"breakerFailures"`
	BreakerResetSec int `yaml:"breakerResetSec"`
	BufferCap       int `yaml:"bufferCap"`
}

// SimConfig configures the tradesim staging feed.
type SimConfig struct {
	Addr         string `yaml:"addr"`
	IntervalMs   int    `yaml:"intervalMs"`
	TradesPerSec int    `yaml:"tradesPerSec"` // per-symbol rate limit
	GapEvery     int    `yaml:"gapEvery"`     // inject an id jump every ~N trades (0 = never)
	DupEvery     int    `yaml:"dupEvery"`     // re-send a duplicate every ~N trades (0 = never)
}

// SymbolEntry is one symbol's operator-set sizing. BinMultiplier 0 means
// auto: bin size is derived from the first trade's price.
type SymbolEntry struct {
	Symbol        string  `yaml:"symbol"`
	TickValue     float64 `yaml:"tickValue"`
	BinMultiplier int     `yaml:"binMultiplier"`
	Price         float64 `yaml:"price"` // tradesim starting price
}

// Default returns the configuration with every knob at its default.
func Default() *Config {
	return &Config{
		Exchange:    "BINANCE",
		SocketPath:  "/tmp/footprint-state.sock",
		MetricsAddr: ":9090",
		LogLevel:    "info",
		Pool: PoolConfig{
			WorkerCount:            4,
			MailboxSize:            4096,
			ReadyTimeoutMs:         10000,
			ShutdownFlushTimeoutMs: 10000,
			FlushIntervalMs:        5000,
		},
		IPC: IPCConfig{
			ConnectTimeoutMs: 5000,
			RequestTimeoutMs: 10000,
			MaxRetries:       5,
			BaseRetryDelayMs: 200,
			MaxRetryDelayMs:  5000,
			MaxConns:         64,
		},
		Gap: GapConfig{
			MaxQueueSize:      1000,
			MaxRetryQueueSize: 500,
			BatchSize:         10,
			FlushIntervalMs:   1000,
			RetryIntervalMs:   5000,
			BatchRetryDelays:  []int{100, 200, 400},
			FlushTimeoutMs:    10000,
		},
		Store: StoreConfig{
			DBPath:              "data/footprint.db",
			QueuePollIntervalMs: 1000,
			QueueBatchSize:      50,
			RetentionHours:      24,
			MetricsAddr:         ":9091",
		},
		Ingest: IngestConfig{
			URL:         "ws://localhost:9001/ws",
			ReplaySpeed: 1.0,
			RingSize:    65536,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
		Bus: BusConfig{
			SubscriberBuffer: 1024,
		},
		Sink: SinkConfig{
			BreakerFailures: 5,
			BreakerResetSec: 30,
			BufferCap:       10000,
		},
		Sim: SimConfig{
			Addr:         ":9001",
			IntervalMs:   100,
			TradesPerSec: 50,
			GapEvery:     500,
			DupEvery:     300,
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty) over the
// defaults, then applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from environment variables.
func (c *Config) applyEnv() {
	c.Exchange = getEnv("FP_EXCHANGE", c.Exchange)
	c.SocketPath = getEnv("FP_SOCKET_PATH", c.SocketPath)
	c.MetricsAddr = getEnv("FP_METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = getEnv("FP_LOG_LEVEL", c.LogLevel)

	c.Pool.WorkerCount = envInt("FP_WORKER_COUNT", c.Pool.WorkerCount)
	c.Pool.MailboxSize = envInt("FP_MAILBOX_SIZE", c.Pool.MailboxSize)
	c.Pool.ReadyTimeoutMs = envInt("FP_READY_TIMEOUT_MS", c.Pool.ReadyTimeoutMs)
	c.Pool.ShutdownFlushTimeoutMs = envInt("FP_SHUTDOWN_FLUSH_TIMEOUT_MS", c.Pool.ShutdownFlushTimeoutMs)
	c.Pool.FlushIntervalMs = envInt("FP_WORKER_FLUSH_INTERVAL_MS", c.Pool.FlushIntervalMs)

	c.IPC.ConnectTimeoutMs = envInt("FP_IPC_CONNECT_TIMEOUT_MS", c.IPC.ConnectTimeoutMs)
	c.IPC.RequestTimeoutMs = envInt("FP_IPC_REQUEST_TIMEOUT_MS", c.IPC.RequestTimeoutMs)
	c.IPC.MaxRetries = envInt("FP_IPC_MAX_RETRIES", c.IPC.MaxRetries)
	c.IPC.BaseRetryDelayMs = envInt("FP_IPC_BASE_RETRY_DELAY_MS", c.IPC.BaseRetryDelayMs)
	c.IPC.MaxRetryDelayMs = envInt("FP_IPC_MAX_RETRY_DELAY_MS", c.IPC.MaxRetryDelayMs)
	c.IPC.MaxConns = envInt("FP_IPC_MAX_CONNS", c.IPC.MaxConns)

	c.Gap.MaxQueueSize = envInt("FP_GAP_MAX_QUEUE", c.Gap.MaxQueueSize)
	c.Gap.MaxRetryQueueSize = envInt("FP_GAP_MAX_RETRY_QUEUE", c.Gap.MaxRetryQueueSize)
	c.Gap.BatchSize = envInt("FP_GAP_BATCH_SIZE", c.Gap.BatchSize)
	c.Gap.FlushIntervalMs = envInt("FP_GAP_FLUSH_INTERVAL_MS", c.Gap.FlushIntervalMs)
	c.Gap.RetryIntervalMs = envInt("FP_GAP_RETRY_INTERVAL_MS", c.Gap.RetryIntervalMs)
	c.Gap.FlushTimeoutMs = envInt("FP_GAP_FLUSH_TIMEOUT_MS", c.Gap.FlushTimeoutMs)

	c.Store.DBPath = getEnv("FP_DB_PATH", c.Store.DBPath)
	c.Store.QueuePollIntervalMs = envInt("FP_QUEUE_POLL_INTERVAL_MS", c.Store.QueuePollIntervalMs)
	c.Store.QueueBatchSize = envInt("FP_QUEUE_BATCH_SIZE", c.Store.QueueBatchSize)
	c.Store.RetentionHours = envInt("FP_RETENTION_HOURS", c.Store.RetentionHours)
	c.Store.MetricsAddr = getEnv("FP_STORE_METRICS_ADDR", c.Store.MetricsAddr)

	c.Ingest.URL = getEnv("FP_INGEST_URL", c.Ingest.URL)
	c.Ingest.ReplayFile = getEnv("FP_REPLAY_FILE", c.Ingest.ReplayFile)
	c.Ingest.ReplaySpeed = envFloat("FP_REPLAY_SPEED", c.Ingest.ReplaySpeed)
	c.Ingest.RingSize = envInt("FP_RING_SIZE", c.Ingest.RingSize)

	if v := os.Getenv("FP_REDIS_ENABLED"); v != "" {
		c.Redis.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	c.Redis.Addr = getEnv("FP_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("FP_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = envInt("FP_REDIS_DB", c.Redis.DB)

	c.Sim.Addr = getEnv("FP_SIM_ADDR", c.Sim.Addr)
	c.Sim.IntervalMs = envInt("FP_SIM_INTERVAL_MS", c.Sim.IntervalMs)
	c.Sim.TradesPerSec = envInt("FP_SIM_TRADES_PER_SEC", c.Sim.TradesPerSec)

	// Comma-separated SYMBOL:TICK pairs, e.g. "BTCUSDT:0.01,ETHUSDT:0.01"
	if v := os.Getenv("FP_SYMBOLS"); v != "" {
		c.Symbols = parseSymbols(v)
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var bad []string
	if c.Exchange == "" {
		bad = append(bad, "exchange is empty")
	}
	if c.SocketPath == "" {
		bad = append(bad, "socketPath is empty")
	}
	if c.Pool.WorkerCount < 1 {
		bad = append(bad, fmt.Sprintf("pool.workerCount %d < 1", c.Pool.WorkerCount))
	}
	if c.IPC.MaxRetries < 1 {
		bad = append(bad, fmt.Sprintf("ipc.maxRetries %d < 1", c.IPC.MaxRetries))
	}
	if c.Gap.BatchSize < 1 {
		bad = append(bad, fmt.Sprintf("gap.batchSize %d < 1", c.Gap.BatchSize))
	}
	if c.Store.RetentionHours < 1 {
		bad = append(bad, fmt.Sprintf("store.retentionHours %d < 1", c.Store.RetentionHours))
	}
	for i, s := range c.Symbols {
		if s.Symbol == "" {
			bad = append(bad, fmt.Sprintf("symbols[%d].symbol is empty", i))
		}
		if s.TickValue <= 0 {
			bad = append(bad, fmt.Sprintf("symbols[%d].tickValue %v <= 0", i, s.TickValue))
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("config: %s", strings.Join(bad, "; "))
	}
	return nil
}

// SymbolNames returns the configured symbols in file order.
func (c *Config) SymbolNames() []string {
	names := make([]string, len(c.Symbols))
	for i, s := range c.Symbols {
		names[i] = s.Symbol
	}
	return names
}

func parseSymbols(s string) []SymbolEntry {
	var out []SymbolEntry
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		seg := strings.SplitN(part, ":", 2)
		entry := SymbolEntry{Symbol: seg[0], TickValue: 0.01}
		if len(seg) == 2 {
			if tv, err := strconv.ParseFloat(seg[1], 64); err == nil {
				entry.TickValue = tv
			}
		}
		out = append(out, entry)
	}
	return out
}

// getEnv returns the env value or fallback when unset/empty.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
