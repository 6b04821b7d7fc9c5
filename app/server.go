package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/libp2p/go-reuseport"
	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	appbufio "github.com/respkv/respkv/app/bufio"
	"github.com/respkv/respkv/app/command"
	"github.com/respkv/respkv/app/config"
	"github.com/respkv/respkv/app/database"
	"github.com/respkv/respkv/app/metrics"
	"github.com/respkv/respkv/app/resp"
)

const readChunkSize = 4096

type server struct {
	cfg     *config.Config
	db      *database.DB
	logger  *slog.Logger
	metrics *metrics.Registry

	ln      net.Listener
	running atomic.Bool
	wg      sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func newServer(cfg *config.Config, db *database.DB, logger *slog.Logger, m *metrics.Registry) *server {
	return &server{
		cfg:     cfg,
		db:      db,
		logger:  logger,
		metrics: m,
		conns:   make(map[net.Conn]struct{}),
	}
}

func (s *server) listen() (net.Listener, error) {
	addr := s.cfg.Addr()
	if s.cfg.ReusePort {
		return reuseport.Listen("tcp", addr)
	}
	return net.Listen("tcp", addr)
}

// Serve accepts connections on ln until Shutdown is called.
func (s *server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.running.Store(true)
	s.mu.Unlock()

	s.logger.Info("listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.running.Load() {
				return nil
			}
			return fmt.Errorf("error accepting connection: %w", err)
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		go func(conn net.Conn) {
			defer s.untrack(conn)
			if err := s.handler(conn); err != nil {
				s.logger.Debug("connection dropped", "remote", conn.RemoteAddr().String(), "error", err)
			}
		}(conn)
	}
}

// Shutdown stops accepting and waits for open connections to finish. When
// ctx ends first, remaining connections are closed.
func (s *server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.running.Store(false)
	ln := s.ln
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

// track registers conn unless the server is shutting down.
func (s *server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

// handler serves one connection. It returns nil when the client hangs up
// between requests and an error when the connection is dropped for a
// malformed request.
func (s *server) handler(conn net.Conn) error {
	defer conn.Close()

	logger := s.logger.With("conn", ulid.Make().String(), "remote", conn.RemoteAddr().String())
	s.metrics.ConnectionsTotal.Inc()
	s.metrics.ConnectionsActive.Inc()
	defer s.metrics.ConnectionsActive.Dec()
	logger.Debug("connection accepted")

	var limiter *rate.Limiter
	if s.cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateLimit)
	}

	// Replies are flushed before every blocking read and on return.
	w := bufio.NewWriter(conn)
	defer w.Flush()
	r := appbufio.NewFrameReader(conn, readChunkSize, s.cfg.MaxFrameSize)
	r.BeforeRead(w.Flush)
	for {
		tokens, err := r.Next(resp.DecodeRequest)
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Debug("connection closed by client", "bytes", r.Consumed())
				return nil
			}
			if errors.Is(err, resp.ErrProtocol) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.metrics.ProtocolErrors.Inc()
				logger.Debug("malformed request", "error", err)
			}
			return fmt.Errorf("error reading request: %w", err)
		}

		var reply []byte
		if limiter != nil && !limiter.Allow() {
			s.metrics.RateLimited.Inc()
			reply = resp.NewErrorMSG("rate limit exceeded")
		} else {
			cmd, err := command.Interpret(tokens)
			if err != nil {
				s.metrics.ProtocolErrors.Inc()
				logger.Debug("invalid argument", "command", tokens[0], "error", err)
				return err
			}
			s.metrics.CommandsTotal.WithLabelValues(cmd.Name()).Inc()
			reply = s.execute(cmd)
		}

		if _, err := w.Write(reply); err != nil {
			return fmt.Errorf("error writing to connection: %w", err)
		}
	}
}

func (s *server) execute(cmd command.Command) []byte {
	switch c := cmd.(type) {
	case command.Ping:
		return resp.NewSimpleString("PONG")
	case command.Echo:
		return resp.NewSimpleString(c.Message)
	case command.Set:
		if c.HasExpiry {
			s.db.SetWithExpire(c.Key, c.Value, c.TTL())
		} else {
			s.db.Set(c.Key, c.Value)
		}
		return resp.NewSimpleString("OK")
	case command.Get:
		v, ok := s.db.Get(c.Key)
		if !ok {
			return resp.NewNullBulkString()
		}
		return resp.NewSimpleString(v)
	case command.Keys:
		return resp.NewBulkStringArray(s.db.Keys(c.Pattern)...)
	case command.ConfigGet:
		v, ok := s.cfg.Get(c.Parameter)
		if !ok {
			return resp.NewNullBulkString()
		}
		return resp.NewBulkStringArray(c.Parameter, v)
	default:
		return resp.NewErrorMSG("unknown command")
	}
}
