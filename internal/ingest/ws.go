// Package ingest provides the engine's trade sources: a WebSocket client
// for live (or simulated) exchange feeds and a JSONL replayer for
// deterministic local runs. Both emit model.Trade in per-symbol feed
// order.
package ingest

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"footprint-systemv1/internal/model"
)

// WSConfig holds configuration for the WebSocket trade source.
type WSConfig struct {
	// URL of the trade WebSocket server, e.g. "ws://localhost:9001/ws"
	URL string

	// Exchange stamped onto trades the feed leaves unlabeled.
	Exchange string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *WSConfig) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// WS connects to a plain-JSON WebSocket trade feed and pushes model.Trade
// values into the out channel. The send blocks: per-symbol order must
// survive, so backpressure reaches the socket instead of dropping trades.
type WS struct {
	cfg WSConfig

	// Optional hook, called each time a reconnection happens.
	OnReconnect func()
}

// NewWS creates a WebSocket trade source. Returns an error if the URL is
// unparseable.
func NewWS(cfg WSConfig) (*WS, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, err
	}
	return &WS{cfg: cfg}, nil
}

// Run connects and streams trades into out until ctx is cancelled.
// Reconnects automatically on disconnect.
func (ing *WS) Run(ctx context.Context, out chan<- model.Trade) error {
	delay := ing.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := ing.runOnce(ctx, out)
		if err == nil {
			// Context cancelled cleanly
			return nil
		}

		log.Printf("[ingest] disconnected (%v), reconnecting in %s...", err, delay)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		// Exponential backoff
		delay *= 2
		if delay > ing.cfg.MaxReconnectDelay {
			delay = ing.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel.
func (ing *WS) runOnce(ctx context.Context, out chan<- model.Trade) error {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("[ingest] connected to %s", ing.cfg.URL)

	// Async context watcher closes the connection when ctx is cancelled.
	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		var trade model.Trade
		if err := json.Unmarshal(raw, &trade); err != nil {
			log.Printf("[ingest] parse error: %v (raw: %s)", err, raw)
			continue
		}
		if trade.Symbol == "" {
			log.Printf("[ingest] skipping trade with empty symbol")
			continue
		}
		if trade.Exchange == "" {
			trade.Exchange = ing.cfg.Exchange
		}

		select {
		case out <- trade:
		case <-ctx.Done():
			return nil
		}
	}
}
