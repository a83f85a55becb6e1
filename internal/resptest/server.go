// Package resptest runs an in-process RESP server for tests.
// It speaks enough of the command set to exercise clients: strings, AUTH,
// SELECT and publish/subscribe. Handle and Raw override single commands.
package resptest

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/eternalApril/moonwire/internal/resp"
)

// HandlerFunc answers one request. args[0] is the command name as sent
type HandlerFunc func(c *Conn, args [][]byte)

// Option configures a Server
type Option func(*Server)

// WithPassword makes every command except AUTH fail until the client authenticates
func WithPassword(password string) Option {
	return func(s *Server) {
		s.password = password
	}
}

// WithLogger sets the server logger
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// Server is a RESP server listening on a random loopback port
type Server struct {
	listener net.Listener
	password string
	log      *zap.Logger

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	data     map[string][]byte
	conns    map[*Conn]struct{}
	accepted int

	wg sync.WaitGroup
}

// NewServer starts a server and registers its shutdown with tb.Cleanup
func NewServer(tb testing.TB, opts ...Option) *Server {
	tb.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("resptest: listen: %v", err)
	}

	s := &Server{
		listener: listener,
		log:      zap.NewNop(),
		handlers: make(map[string]HandlerFunc),
		data:     make(map[string][]byte),
		conns:    make(map[*Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerBasicCommands()

	s.wg.Add(1)
	go s.acceptLoop()

	tb.Cleanup(s.Close)
	return s
}

// Addr returns host:port of the listener
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Handle registers or replaces the handler of a command. The name is case-insensitive
func (s *Server) Handle(name string, fn HandlerFunc) {
	s.mu.Lock()
	s.handlers[strings.ToUpper(name)] = fn
	s.mu.Unlock()
}

// Raw makes a command answer with the given bytes verbatim
func (s *Server) Raw(name string, raw []byte) {
	s.Handle(name, func(c *Conn, _ [][]byte) {
		c.SendRaw(raw) //nolint:errcheck
	})
}

// Get reads a key written with SET
func (s *Server) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// Accepted returns the number of connections accepted so far
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// DropConnections closes every client connection, the listener keeps accepting
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close() //nolint:errcheck
	}
}

// Close stops the listener, drops all clients and waits for their goroutines
func (s *Server) Close() {
	s.listener.Close() //nolint:errcheck
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Error("accept error", zap.Error(err))
			}
			return
		}

		c := newConn(s, nc)

		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.accepted++
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(c)
		}()
	}
}

// serve reads requests for a single client until it disconnects
func (s *Server) serve(c *Conn) {
	if s.log.Core().Enabled(zap.DebugLevel) {
		s.log.Debug("client connected", zap.String("addr", c.netConn.RemoteAddr().String()))
	}

	defer func() {
		c.Close() //nolint:errcheck
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()

	var in bytes.Buffer
	dec := resp.NewDecoder()
	chunk := make([]byte, 4096)

	for {
		req, ok, err := dec.Decode(&in)
		if err != nil {
			c.Send(resp.MakeError("ERR Protocol error: " + err.Error())) //nolint:errcheck
			return
		}

		if !ok {
			n, err := c.netConn.Read(chunk)
			if n > 0 {
				in.Write(chunk[:n])
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
					s.log.Warn("read command failed", zap.Error(err))
				}
				return
			}
			continue
		}

		if req.Type != resp.TypeArray || len(req.Array) == 0 {
			s.log.Error("invalid request type")
			continue
		}

		args := make([][]byte, len(req.Array))
		for i, el := range req.Array {
			args[i] = el.String
		}

		if !s.execute(c, args) {
			return
		}
	}
}

// execute dispatches one request. It returns false when the connection must close
func (s *Server) execute(c *Conn, args [][]byte) bool {
	name := strings.ToUpper(string(args[0]))

	s.mu.Lock()
	handler, ok := s.handlers[name]
	s.mu.Unlock()

	if s.password != "" && !c.authenticated && name != "AUTH" {
		c.Send(resp.MakeError("NOAUTH Authentication required.")) //nolint:errcheck
		return true
	}

	if !ok {
		c.Send(resp.MakeError("ERR unknown command '" + string(args[0]) + "'")) //nolint:errcheck
		return true
	}

	handler(c, args)
	return name != "QUIT"
}
