package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrTimeout       = errors.New("ipc: request timed out")
	ErrDisconnected  = errors.New("ipc: connection lost")
	ErrConnExhausted = errors.New("ipc: connect attempts exhausted")
	ErrClientClosed  = errors.New("ipc: client closed")
)

// ClientConfig configures a state server client.
type ClientConfig struct {
	SocketPath     string
	ConnectTimeout time.Duration // per dial attempt
	RequestTimeout time.Duration // per Call, on top of ctx
	MaxRetries     int           // dial attempts before ErrConnExhausted
	RetryDelay     time.Duration // first backoff step, doubled per attempt
	MaxRetryDelay  time.Duration // backoff ceiling
}

func (c *ClientConfig) withDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 5 * time.Second
	}
}

// Client talks the framed protocol to the state server. Calls may come
// from any goroutine; frames are written whole under a lock and matched
// back to callers by request id. A lost connection fails every waiter
// with ErrDisconnected and the next call redials.
type Client struct {
	cfg ClientConfig

	mu   sync.Mutex // guards conn and writes
	conn net.Conn

	pendingMu sync.Mutex
	pending   map[string]chan Response

	closed    atomic.Bool
	unmatched atomic.Uint64 // late or unsolicited responses, dropped
}

// Dial connects to the state server, retrying with exponential backoff.
func Dial(cfg ClientConfig) (*Client, error) {
	cfg.withDefaults()
	c := &Client{
		cfg:     cfg,
		pending: make(map[string]chan Response),
	}
	c.mu.Lock()
	err := c.redial()
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c, nil
}

// redial dials with backoff and installs the new connection. c.mu must be
// held; senders queue behind the lock until the dial resolves.
func (c *Client) redial() error {
	delay := c.cfg.RetryDelay
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		conn, err := net.DialTimeout("unix", c.cfg.SocketPath, c.cfg.ConnectTimeout)
		if err == nil {
			c.conn = conn
			go c.readLoop(conn)
			if attempt > 1 {
				log.Printf("[ipc] connected to %s after %d attempts", c.cfg.SocketPath, attempt)
			}
			return nil
		}
		lastErr = err
		if attempt < c.cfg.MaxRetries {
			log.Printf("[ipc] dial %s attempt %d/%d failed: %v, retrying in %v",
				c.cfg.SocketPath, attempt, c.cfg.MaxRetries, err, delay)
			time.Sleep(delay)
			delay *= 2
			if delay > c.cfg.MaxRetryDelay {
				delay = c.cfg.MaxRetryDelay
			}
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrConnExhausted, c.cfg.SocketPath, lastErr)
}

// Call sends a request and waits for its response. It redials first if
// the connection is down, and gives up after the request timeout or when
// ctx is cancelled, whichever comes first. A response arriving after that
// is dropped by the read loop.
func (c *Client) Call(ctx context.Context, msgType string, payload interface{}) (Response, error) {
	if c.closed.Load() {
		return Response{}, ErrClientClosed
	}
	req, err := NewRequest(msgType, payload)
	if err != nil {
		return Response{}, err
	}

	ch := make(chan Response, 1)
	c.pendingMu.Lock()
	c.pending[req.ID] = ch
	c.pendingMu.Unlock()

	if err := c.send(req); err != nil {
		c.unregister(req.ID)
		return Response{}, err
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return Response{}, ErrDisconnected
		}
		return resp, nil
	case <-timer.C:
		c.unregister(req.ID)
		return Response{}, fmt.Errorf("%w: %s %s after %v", ErrTimeout, msgType, req.ID, c.cfg.RequestTimeout)
	case <-ctx.Done():
		c.unregister(req.ID)
		return Response{}, ctx.Err()
	}
}

// Notify sends a request without waiting for the response. The server's
// answer, if any, is discarded by the read loop.
func (c *Client) Notify(msgType string, payload interface{}) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	req, err := NewRequest(msgType, payload)
	if err != nil {
		return err
	}
	return c.send(req)
}

func (c *Client) send(req Request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("ipc: marshal request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		if err := c.redial(); err != nil {
			return err
		}
	}
	if err := WriteFrame(c.conn, raw); err != nil {
		c.conn.Close()
		c.conn = nil
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

func (c *Client) readLoop(conn net.Conn) {
	br := bufio.NewReader(conn)
	for {
		payload, err := ReadFrame(br)
		if err != nil {
			if !c.closed.Load() {
				log.Printf("[ipc] read loop ended: %v", err)
			}
			c.dropConn(conn)
			return
		}
		var resp Response
		if err := json.Unmarshal(payload, &resp); err != nil {
			log.Printf("[ipc] bad response frame: %v", err)
			continue
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.pendingMu.Unlock()
		if !ok {
			c.unmatched.Add(1)
			continue
		}
		ch <- resp
	}
}

// dropConn clears the dead connection and fails every in-flight call.
func (c *Client) dropConn(conn net.Conn) {
	conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

func (c *Client) unregister(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// Unmatched reports how many responses arrived with no waiting call.
func (c *Client) Unmatched() uint64 { return c.unmatched.Load() }

// Close shuts the connection down and fails any in-flight calls.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	return nil
}
