// cmd/tradesim — Synthetic exchange trade feed.
// Broadcasts simulated trades over WebSocket so fpengine can run without
// real exchange connectivity. Trade ids are monotone per symbol, with
// configurable gap jumps and duplicate re-sends to exercise the engine's
// gap detection and dedup paths.
//
// Trade JSON shape is identical to model.Trade:
//
//	{"symbol":"BTCUSDT","tradeId":10234,"price":64250.5,"qty":0.031,"side":"buy","ts":...}
//
// Usage:
//
//	tradesim -config config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"footprint-systemv1/config"
	"footprint-systemv1/internal/model"
)

// instrument holds one symbol's simulation state.
type instrument struct {
	Symbol    string
	TickValue float64
	Price     float64
	NextID    int64

	limiter *rate.Limiter
	last    *model.Trade // for duplicate injection
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client — drop trade
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tradesim] upgrade error: %v", err)
			return
		}
		log.Printf("[tradesim] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[tradesim] client disconnected: %s", r.RemoteAddr)
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Trade generator ─────────────────────────────────────────────────────────

// walkPrice applies a ±0.1% random walk, floored at one tick.
func walkPrice(rng *rand.Rand, price, tick float64) float64 {
	pct := (rng.Float64()*0.2 - 0.1) / 100.0
	next := price * (1 + pct)
	if next < tick {
		next = tick
	}
	return next
}

func runGenerator(ctx context.Context, h *hub, instruments []*instrument, sim config.SimConfig, exchange string) {
	ticker := time.NewTicker(time.Duration(sim.IntervalMs) * time.Millisecond)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	sent := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, inst := range instruments {
			if !inst.limiter.Allow() {
				continue
			}

			// Duplicate injection: re-send the previous trade unchanged.
			if sim.DupEvery > 0 && inst.last != nil && rng.Intn(sim.DupEvery) == 0 {
				h.broadcast(inst.last.JSON())
				continue
			}

			// Gap injection: jump the id forward as if trades were missed.
			if sim.GapEvery > 0 && inst.NextID > 1 && rng.Intn(sim.GapEvery) == 0 {
				jump := int64(rng.Intn(48) + 2)
				log.Printf("[tradesim] %s: injecting id gap %d..%d",
					inst.Symbol, inst.NextID, inst.NextID+jump-1)
				inst.NextID += jump
			}

			inst.Price = walkPrice(rng, inst.Price, inst.TickValue)
			tr := model.Trade{
				Exchange:  exchange,
				Symbol:    inst.Symbol,
				TradeID:   inst.NextID,
				Price:     inst.Price,
				Qty:       rng.Float64()*2 + 0.001,
				Side:      randomSide(rng),
				Timestamp: time.Now().UnixMilli(),
			}
			// A sliver of non-market records; they advance the id but must
			// not touch the footprint aggregates.
			if rng.Intn(200) == 0 {
				tr.TradeType = "LIQUIDATION"
			}
			inst.NextID++
			inst.last = &tr

			h.broadcast(tr.JSON())
			sent++
			if sent%10000 == 0 {
				log.Printf("[tradesim] %d trades broadcast", sent)
			}
		}
	}
}

func randomSide(rng *rand.Rand) model.Side {
	if rng.Intn(2) == 0 {
		return model.SideBuy
	}
	return model.SideSell
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfgPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[tradesim] %v", err)
	}
	if len(cfg.Symbols) == 0 {
		log.Fatalf("[tradesim] no symbols configured")
	}

	instruments := buildInstruments(cfg)
	log.Printf("[tradesim] %d symbols, interval=%dms, rate=%d/s/symbol, gapEvery=%d, dupEvery=%d",
		len(instruments), cfg.Sim.IntervalMs, cfg.Sim.TradesPerSec, cfg.Sim.GapEvery, cfg.Sim.DupEvery)

	h := newHub()
	go runGenerator(context.Background(), h, instruments, cfg.Sim, cfg.Exchange)

	http.HandleFunc("/ws", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tradesim"}`)
	})

	log.Printf("[tradesim] listening on %s  (WebSocket: ws://localhost%s/ws)", cfg.Sim.Addr, cfg.Sim.Addr)
	if err := http.ListenAndServe(cfg.Sim.Addr, nil); err != nil {
		log.Fatalf("[tradesim] server error: %v", err)
	}
}

func buildInstruments(cfg *config.Config) []*instrument {
	perSec := cfg.Sim.TradesPerSec
	if perSec <= 0 {
		perSec = 50
	}
	var out []*instrument
	for _, s := range cfg.Symbols {
		price := s.Price
		if price <= 0 {
			price = 1000 * s.TickValue / 0.01 // rough default scaled by tick
		}
		out = append(out, &instrument{
			Symbol:    s.Symbol,
			TickValue: s.TickValue,
			Price:     price,
			NextID:    1,
			limiter:   rate.NewLimiter(rate.Limit(perSec), perSec),
		})
	}
	return out
}
