package resptest

import (
	"net"
	"sync"

	"github.com/eternalApril/moonwire/internal/resp"
)

// Conn is a connected client as seen by the server.
// Sends are synchronized, so handlers and PUBLISH fan-out may write concurrently
type Conn struct {
	srv     *Server
	netConn net.Conn
	writer  *resp.Encoder
	mu      sync.Mutex

	// owned by the serving goroutine
	authenticated bool

	subMu    sync.Mutex
	channels map[string]struct{}
	patterns map[string]struct{}
}

func newConn(s *Server, nc net.Conn) *Conn {
	return &Conn{
		srv:      s,
		netConn:  nc,
		writer:   resp.NewEncoder(nc),
		channels: make(map[string]struct{}),
		patterns: make(map[string]struct{}),
	}
}

// Send encodes and flushes a value to the client
func (c *Conn) Send(v resp.Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writer.Write(v); err != nil {
		return err
	}
	return c.writer.Flush()
}

// SendRaw writes pre-encoded bytes to the client
func (c *Conn) SendRaw(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writer.WriteRaw(b); err != nil {
		return err
	}
	return c.writer.Flush()
}

// Close terminates the underlying network connection
func (c *Conn) Close() error {
	return c.netConn.Close()
}

func (c *Conn) subscriptions() int64 {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return int64(len(c.channels) + len(c.patterns))
}

func (c *Conn) subscribed() bool {
	return c.subscriptions() > 0
}
