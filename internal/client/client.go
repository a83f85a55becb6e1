package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/eternalApril/moonwire/internal/resp"
)

var (
	ErrClosed       = errors.New("client: closed")
	ErrNotConnected = errors.New("client: not connected")
)

// call is a request written to the socket and waiting for its reply
type call struct {
	reply resp.Value
	err   error
	done  chan struct{}
}

// Client sends commands over one connection. Replies are paired with requests
// in FIFO order, so concurrent callers and pipelines share the connection.
type Client struct {
	opts    Options
	log     *zap.Logger
	limiter *rate.Limiter

	writeMu sync.Mutex // serializes socket writes; guards conn and closed
	conn    *conn
	closed  bool

	pendingMu sync.Mutex
	pending   []*call

	ctx    context.Context // cancelled by Close, stops reconnecting
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New connects to opts.Addr, authenticates and starts the read loop
func New(ctx context.Context, opts Options) (*Client, error) {
	opts.setDefaults()

	cn, err := dial(ctx, &opts)
	if err != nil {
		return nil, err
	}

	c := &Client{
		opts: opts,
		log:  opts.Logger.Named("client"),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst)
	}

	c.conn = cn
	c.wg.Add(1)
	go c.readLoop(cn)

	c.log.Info("connected", zap.String("addr", opts.Addr))
	return c, nil
}

// Do sends one command and waits for its reply. Error replies are returned as
// *resp.ServerError together with the reply value; the client stays usable
func (c *Client) Do(ctx context.Context, name string, args ...string) (resp.Value, error) {
	return c.DoBytes(ctx, toBytes(name, args)...)
}

// DoBytes is Do for binary arguments. args[0] is the command name
func (c *Client) DoBytes(ctx context.Context, args ...[]byte) (resp.Value, error) {
	calls, err := c.send(ctx, [][][]byte{args})
	if err != nil {
		return resp.Value{}, err
	}

	v, err := c.wait(ctx, calls[0])
	if err != nil {
		return resp.Value{}, err
	}
	return v, v.Err()
}

// Pipeline writes all commands in a single socket write and collects the replies in order.
// Error replies stay in the result as error values; only transport errors are returned
func (c *Client) Pipeline(ctx context.Context, cmds ...[]string) ([]resp.Value, error) {
	reqs := make([][][]byte, len(cmds))
	for i, cmd := range cmds {
		if len(cmd) == 0 {
			return nil, resp.ErrInvalidRequest
		}
		reqs[i] = toBytes(cmd[0], cmd[1:])
	}
	return c.PipelineBytes(ctx, reqs...)
}

// PipelineBytes is Pipeline for binary arguments
func (c *Client) PipelineBytes(ctx context.Context, reqs ...[][]byte) ([]resp.Value, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	calls, err := c.send(ctx, reqs)
	if err != nil {
		return nil, err
	}

	out := make([]resp.Value, 0, len(calls))
	for _, cl := range calls {
		v, err := c.wait(ctx, cl)
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Ping checks the connection with a PING round trip
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Do(ctx, "PING")
	return err
}

// Close stops reconnecting, closes the connection and fails pending calls with ErrClosed
func (c *Client) Close() error {
	c.writeMu.Lock()
	if c.closed {
		c.writeMu.Unlock()
		return nil
	}
	c.closed = true
	cn := c.conn
	c.conn = nil
	c.cancel()
	c.writeMu.Unlock()

	var err error
	if cn != nil {
		if err = cn.close(); errors.Is(err, net.ErrClosed) {
			err = nil
		}
	}

	c.wg.Wait()
	c.failPending(ErrClosed)
	return err
}

// send encodes the requests, queues a call per request and writes them.
// The queue is appended under writeMu so its order always matches the wire order
func (c *Client) send(ctx context.Context, reqs [][][]byte) ([]*call, error) {
	if c.limiter != nil {
		for range reqs {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
	}

	var payload []byte
	for _, args := range reqs {
		var err error
		if payload, err = resp.AppendRequest(payload, args...); err != nil {
			return nil, err
		}
	}

	calls := make([]*call, len(reqs))
	for i := range calls {
		calls[i] = &call{done: make(chan struct{})}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.conn == nil {
		return nil, ErrNotConnected
	}

	c.pendingMu.Lock()
	c.pending = append(c.pending, calls...)
	c.pendingMu.Unlock()
	c.opts.Metrics.RequestsQueued(len(calls))

	if err := c.conn.write(payload, c.opts.WriteTimeout); err != nil {
		// the read loop fails the queued calls once it sees the closed socket
		c.conn.close() //nolint:errcheck
		return nil, fmt.Errorf("client: write: %w", err)
	}

	for _, args := range reqs {
		c.opts.Metrics.CommandSent(string(args[0]))
	}
	if c.opts.Journal != nil {
		c.opts.Journal.Write(payload)
	}

	if c.log.Core().Enabled(zap.DebugLevel) {
		c.log.Debug("requests written",
			zap.Int("count", len(reqs)),
			zap.Int("bytes", len(payload)),
		)
	}

	return calls, nil
}

func (c *Client) wait(ctx context.Context, cl *call) (resp.Value, error) {
	select {
	case <-cl.done:
		return cl.reply, cl.err
	case <-ctx.Done():
		return resp.Value{}, ctx.Err()
	}
}

func (c *Client) readLoop(cn *conn) {
	defer c.wg.Done()

	for {
		v, err := cn.readReply()
		if err != nil {
			if c.teardown(cn, err) && c.opts.Reconnect {
				c.reconnect()
			}
			return
		}
		c.deliver(v)
	}
}

// deliver hands a reply to the oldest pending call
func (c *Client) deliver(v resp.Value) {
	c.pendingMu.Lock()
	if len(c.pending) == 0 {
		c.pendingMu.Unlock()
		c.opts.Metrics.ReplyReceived(v.Type, false)
		c.log.Warn("reply without pending request", zap.String("reply", v.GoString()))
		return
	}
	cl := c.pending[0]
	c.pending[0] = nil
	c.pending = c.pending[1:]
	c.pendingMu.Unlock()

	c.opts.Metrics.ReplyReceived(v.Type, true)
	cl.reply = v
	close(cl.done)
}

// teardown closes a broken connection and fails every call queued on it.
// It reports whether the client is still open
func (c *Client) teardown(cn *conn, cause error) bool {
	cn.close() //nolint:errcheck

	c.writeMu.Lock()
	if c.conn == cn {
		c.conn = nil
	}
	open := !c.closed
	c.writeMu.Unlock()

	if !open {
		c.failPending(ErrClosed)
		return false
	}

	if errors.Is(cause, resp.ErrProtocol) {
		c.opts.Metrics.ProtocolError()
		c.log.Error("protocol error, dropping connection", zap.Error(cause))
	} else {
		c.log.Warn("connection lost", zap.Error(cause))
	}

	c.failPending(fmt.Errorf("client: connection lost: %w", cause))
	return true
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	calls := c.pending
	c.pending = nil
	c.pendingMu.Unlock()

	for _, cl := range calls {
		cl.err = err
		close(cl.done)
	}
	c.opts.Metrics.RequestsFailed(len(calls))
}

// reconnect redials with exponential backoff until it succeeds or the client is closed
func (c *Client) reconnect() {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.ReconnectInitial
	b.MaxInterval = c.opts.ReconnectMax
	b.MaxElapsedTime = 0

	op := func() error {
		cn, err := dial(c.ctx, &c.opts)
		if err != nil {
			return err
		}

		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		if c.closed {
			cn.close() //nolint:errcheck
			return backoff.Permanent(ErrClosed)
		}
		c.conn = cn
		c.wg.Add(1)
		go c.readLoop(cn)
		return nil
	}

	notify := func(err error, d time.Duration) {
		c.log.Warn("reconnect failed", zap.Error(err), zap.Duration("retry_in", d))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, c.ctx), notify); err != nil {
		c.log.Info("reconnect stopped", zap.Error(err))
		return
	}

	c.opts.Metrics.Reconnected()
	c.log.Info("reconnected", zap.String("addr", c.opts.Addr))
}

func toBytes(name string, args []string) [][]byte {
	out := make([][]byte, 0, 1+len(args))
	out = append(out, []byte(name))
	for _, a := range args {
		out = append(out, []byte(a))
	}
	return out
}
