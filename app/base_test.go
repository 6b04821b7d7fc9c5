package main

import (
	"bufio"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/respkv/respkv/app/config"
	"github.com/respkv/respkv/app/database"
	"github.com/respkv/respkv/app/logger"
	"github.com/respkv/respkv/app/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestServer(cfg *config.Config, opts ...database.Option) *server {
	return newServer(cfg, database.NewDB(opts...), logger.Discard(), metrics.NewRegistry())
}

// servePipe runs the handler on one end of a pipe and returns the other end
// along with a channel receiving the handler's result.
func servePipe(t *testing.T, s *server) (net.Conn, *bufio.Reader, <-chan error) {
	t.Helper()
	client, srv := net.Pipe()
	require.NoError(t, client.SetDeadline(time.Now().Add(2*time.Second)))
	t.Cleanup(func() { client.Close() })

	errc := make(chan error, 1)
	go func() {
		errc <- s.handler(srv)
	}()
	return client, bufio.NewReader(client), errc
}

func requireReply(t *testing.T, r *bufio.Reader, want string) {
	t.Helper()
	got := make([]byte, len(want))
	_, err := io.ReadFull(r, got)
	require.NoError(t, err)
	require.Equal(t, want, string(got))
}

func dialWithRetry(maxRetry int, addr string) (net.Conn, error) {
	var conn net.Conn
	var err error
	for i := 0; i < maxRetry; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			return conn, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil, err
}
