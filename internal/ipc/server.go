package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Handler processes one request and returns its response. The server fills
// in the response id and processing time.
type Handler func(ctx context.Context, req Request) Response

// NotifyHandler processes a fire-and-forget request. No response is written.
type NotifyHandler func(ctx context.Context, req Request)

// ServerConfig configures the unix socket listener.
type ServerConfig struct {
	SocketPath string
	MaxConns   int
}

// Server accepts framed-protocol connections and dispatches requests to
// per-type handlers. Requests on one connection are handled in order; the
// persistence layer behind the handlers is single-writer anyway.
type Server struct {
	cfg      ServerConfig
	handlers map[string]Handler
	notify   map[string]NotifyHandler

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewServer builds a server; register handlers before Start.
func NewServer(cfg ServerConfig) *Server {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 64
	}
	return &Server{
		cfg:      cfg,
		handlers: make(map[string]Handler),
		notify:   make(map[string]NotifyHandler),
		conns:    make(map[net.Conn]struct{}),
	}
}

// Handle registers the request-mode handler for one message type.
func (s *Server) Handle(msgType string, h Handler) {
	s.handlers[msgType] = h
}

// HandleNotify registers a fire-and-forget handler for one message type.
// Requests of this type never produce a response frame.
func (s *Server) HandleNotify(msgType string, h NotifyHandler) {
	s.notify[msgType] = h
}

// Start listens on the socket and accepts connections in the background.
// A stale socket file from a previous run is removed first. The server
// stops when ctx is cancelled or Close is called.
func (s *Server) Start(ctx context.Context) error {
	if err := os.Remove(s.cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ipc: remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("ipc: listen %s: %w", s.cfg.SocketPath, err)
	}
	if err := os.Chmod(s.cfg.SocketPath, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("ipc: chmod socket: %w", err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	log.Printf("[ipc] listening on %s", s.cfg.SocketPath)

	go func() {
		<-ctx.Done()
		s.Close()
	}()
	s.wg.Add(1)
	go s.acceptLoop(ctx, ln)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.closed.Load() {
				log.Printf("[ipc] accept error: %v", err)
				continue
			}
			return
		}
		s.mu.Lock()
		if len(s.conns) >= s.cfg.MaxConns {
			s.mu.Unlock()
			log.Printf("[ipc] connection limit %d reached, rejecting", s.cfg.MaxConns)
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.wg.Done()
	}()

	br := bufio.NewReader(conn)
	for {
		payload, err := ReadFrame(br)
		if err != nil {
			if err != io.EOF && !s.closed.Load() {
				log.Printf("[ipc] connection read error: %v", err)
			}
			return
		}
		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			// Framing is still intact, so drop the frame and keep reading.
			log.Printf("[ipc] dropping malformed frame: %v", err)
			continue
		}

		if h, ok := s.notify[req.Type]; ok {
			h(ctx, req)
			continue
		}

		start := time.Now()
		var resp Response
		if h, ok := s.handlers[req.Type]; ok {
			resp = h(ctx, req)
		} else {
			resp = Fail(req, fmt.Errorf("unknown message type %q", req.Type))
		}
		resp.ID = req.ID
		resp.ProcessingTimeMs = time.Since(start).Seconds() * 1000

		raw, err := json.Marshal(resp)
		if err != nil {
			log.Printf("[ipc] marshal response %s: %v", req.ID, err)
			continue
		}
		if err := WriteFrame(conn, raw); err != nil {
			if !s.closed.Load() {
				log.Printf("[ipc] write response %s: %v", req.ID, err)
			}
			return
		}
	}
}

// Close stops the listener, closes every connection and waits for the
// connection goroutines to drain. Safe to call more than once.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	if s.ln != nil {
		s.ln.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}
