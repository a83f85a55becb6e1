package client

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/eternalApril/moonwire/internal/resp"
)

const readChunk = 16 * 1024

// conn is one TCP connection and the decoder state of its inbound stream.
// Only one goroutine may call readReply at a time
type conn struct {
	netConn net.Conn
	dec     *resp.Decoder
	in      bytes.Buffer
	chunk   []byte
}

// dial connects to opts.Addr and runs the AUTH/SELECT handshake
func dial(ctx context.Context, opts *Options) (*conn, error) {
	dialer := net.Dialer{
		Timeout:   opts.DialTimeout,
		KeepAlive: opts.KeepAlive,
	}

	nc, err := dialer.DialContext(ctx, "tcp", opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", opts.Addr, err)
	}

	if tcp, ok := nc.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(opts.NoDelay); err != nil {
			nc.Close() //nolint:errcheck
			return nil, fmt.Errorf("client: set nodelay: %w", err)
		}
	}

	dec := resp.NewDecoder()
	dec.MaxBulkLen = opts.MaxBulkLen
	dec.MaxArrayLen = opts.MaxArrayLen

	c := &conn{
		netConn: nc,
		dec:     dec,
		chunk:   make([]byte, readChunk),
	}

	if err := c.handshake(ctx, opts); err != nil {
		nc.Close() //nolint:errcheck
		return nil, err
	}

	return c, nil
}

func (c *conn) handshake(ctx context.Context, opts *Options) error {
	if opts.Password == "" && opts.DB == 0 {
		return nil
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(opts.DialTimeout)
	}
	if err := c.netConn.SetDeadline(deadline); err != nil {
		return err
	}
	defer c.netConn.SetDeadline(time.Time{}) //nolint:errcheck

	if opts.Password != "" {
		args := []string{"AUTH"}
		if opts.Username != "" {
			args = append(args, opts.Username)
		}
		args = append(args, opts.Password)

		if err := c.roundTrip(args...); err != nil {
			return fmt.Errorf("client: auth: %w", err)
		}
	}

	if opts.DB != 0 {
		if err := c.roundTrip("SELECT", strconv.Itoa(opts.DB)); err != nil {
			return fmt.Errorf("client: select %d: %w", opts.DB, err)
		}
	}

	return nil
}

// roundTrip writes one command and waits for its reply synchronously.
// It is used before the read loop owns the connection
func (c *conn) roundTrip(args ...string) error {
	req, err := resp.Command(args[0], args[1:]...)
	if err != nil {
		return err
	}
	if _, err = c.netConn.Write(req); err != nil {
		return err
	}

	v, err := c.readReply()
	if err != nil {
		return err
	}
	return v.Err()
}

// readReply returns the next reply, reading from the socket only when the
// buffered bytes do not hold a complete one
func (c *conn) readReply() (resp.Value, error) {
	for {
		v, ok, err := c.dec.Decode(&c.in)
		if err != nil {
			return resp.Value{}, err
		}
		if ok {
			return v, nil
		}

		n, err := c.netConn.Read(c.chunk)
		if n > 0 {
			c.in.Write(c.chunk[:n])
		}
		if err != nil {
			return resp.Value{}, err
		}
	}
}

func (c *conn) write(b []byte, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.netConn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := c.netConn.Write(b)
	return err
}

func (c *conn) close() error {
	return c.netConn.Close()
}
