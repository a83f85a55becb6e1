package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/eternalApril/moonwire/internal/resp"
)

const messageBuffer = 256

// Message is one push received on a subscribed connection
type Message struct {
	Kind    string // message, pmessage, subscribe, unsubscribe, psubscribe, punsubscribe, pong
	Channel string
	Pattern string
	Payload []byte
	Count   int64 // active subscriptions after a (un)subscribe confirmation
}

// PubSub owns a dedicated connection in subscribed mode.
// Pushes are delivered on Messages until the connection is closed
type PubSub struct {
	opts Options
	log  *zap.Logger

	writeMu  sync.Mutex // guards conn, closed and the subscription sets
	conn     *conn
	closed   bool
	channels map[string]struct{}
	patterns map[string]struct{}

	msgs   chan *Message
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPubSub connects a dedicated subscriber connection
func NewPubSub(ctx context.Context, opts Options) (*PubSub, error) {
	opts.setDefaults()

	cn, err := dial(ctx, &opts)
	if err != nil {
		return nil, err
	}

	p := &PubSub{
		opts:     opts,
		log:      opts.Logger.Named("pubsub"),
		conn:     cn,
		channels: make(map[string]struct{}),
		patterns: make(map[string]struct{}),
		msgs:     make(chan *Message, messageBuffer),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.wg.Add(1)
	go p.readLoop(cn)

	return p, nil
}

// Messages returns the push channel. It is closed when the PubSub stops
func (p *PubSub) Messages() <-chan *Message {
	return p.msgs
}

// Subscribe joins the given channels. Confirmations arrive on Messages
func (p *PubSub) Subscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return resp.ErrInvalidRequest
	}
	return p.command(ctx, "SUBSCRIBE", channels, func() {
		for _, ch := range channels {
			p.channels[ch] = struct{}{}
		}
	})
}

// PSubscribe joins every channel matching the given glob patterns
func (p *PubSub) PSubscribe(ctx context.Context, patterns ...string) error {
	if len(patterns) == 0 {
		return resp.ErrInvalidRequest
	}
	return p.command(ctx, "PSUBSCRIBE", patterns, func() {
		for _, pat := range patterns {
			p.patterns[pat] = struct{}{}
		}
	})
}

// Unsubscribe leaves the given channels, or every channel when none are given
func (p *PubSub) Unsubscribe(ctx context.Context, channels ...string) error {
	return p.command(ctx, "UNSUBSCRIBE", channels, func() {
		if len(channels) == 0 {
			clear(p.channels)
		}
		for _, ch := range channels {
			delete(p.channels, ch)
		}
	})
}

// PUnsubscribe leaves the given patterns, or every pattern when none are given
func (p *PubSub) PUnsubscribe(ctx context.Context, patterns ...string) error {
	return p.command(ctx, "PUNSUBSCRIBE", patterns, func() {
		if len(patterns) == 0 {
			clear(p.patterns)
		}
		for _, pat := range patterns {
			delete(p.patterns, pat)
		}
	})
}

// Ping asks the server for a pong push
func (p *PubSub) Ping(ctx context.Context) error {
	return p.command(ctx, "PING", nil, nil)
}

// Close stops the read loop and closes the Messages channel
func (p *PubSub) Close() error {
	p.writeMu.Lock()
	if p.closed {
		p.writeMu.Unlock()
		return nil
	}
	p.closed = true
	cn := p.conn
	p.conn = nil
	p.cancel()
	p.writeMu.Unlock()

	var err error
	if cn != nil {
		if err = cn.close(); errors.Is(err, net.ErrClosed) {
			err = nil
		}
	}

	p.wg.Wait()
	return err
}

// command writes a subscription command. update records the new subscription
// state so it can be replayed after a reconnect
func (p *PubSub) command(ctx context.Context, name string, args []string, update func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req, err := resp.Command(name, args...)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.conn == nil {
		return ErrNotConnected
	}

	timeout := p.opts.WriteTimeout
	if deadline, ok := ctx.Deadline(); ok {
		// a zero or negative timeout means no deadline to conn.write
		if timeout = time.Until(deadline); timeout <= 0 {
			return context.DeadlineExceeded
		}
	}
	if err := p.conn.write(req, timeout); err != nil {
		p.conn.close() //nolint:errcheck
		return fmt.Errorf("pubsub: write: %w", err)
	}

	p.opts.Metrics.CommandSent(name)
	if update != nil {
		update()
	}
	return nil
}

func (p *PubSub) readLoop(cn *conn) {
	defer p.wg.Done()

	for {
		v, err := cn.readReply()
		if err != nil {
			cn.close() //nolint:errcheck
			if next := p.reestablish(cn, err); next != nil {
				cn = next
				continue
			}
			close(p.msgs)
			return
		}

		p.opts.Metrics.ReplyReceived(v.Type, false)

		msg, err := parseMessage(v)
		if err != nil {
			p.log.Warn("dropping push", zap.Error(err), zap.String("reply", v.GoString()))
			continue
		}

		select {
		case p.msgs <- msg:
		case <-p.ctx.Done():
			close(p.msgs)
			return
		}
	}
}

// reestablish replaces a broken connection and replays the subscriptions.
// It returns nil when the PubSub is closed or reconnecting is disabled
func (p *PubSub) reestablish(old *conn, cause error) *conn {
	p.writeMu.Lock()
	if p.conn == old {
		p.conn = nil
	}
	closed := p.closed
	p.writeMu.Unlock()

	if closed {
		return nil
	}

	if errors.Is(cause, resp.ErrProtocol) {
		p.opts.Metrics.ProtocolError()
	}
	p.log.Warn("subscriber connection lost", zap.Error(cause))

	if !p.opts.Reconnect {
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.ReconnectInitial
	b.MaxInterval = p.opts.ReconnectMax
	b.MaxElapsedTime = 0

	var next *conn
	var channels, patterns int
	op := func() error {
		cn, err := dial(p.ctx, &p.opts)
		if err != nil {
			return err
		}

		p.writeMu.Lock()
		defer p.writeMu.Unlock()
		if p.closed {
			cn.close() //nolint:errcheck
			return backoff.Permanent(ErrClosed)
		}

		if err := p.resubscribe(cn); err != nil {
			cn.close() //nolint:errcheck
			return err
		}

		p.conn = cn
		next = cn
		channels, patterns = len(p.channels), len(p.patterns)
		return nil
	}

	notify := func(err error, d time.Duration) {
		p.log.Warn("reconnect failed", zap.Error(err), zap.Duration("retry_in", d))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, p.ctx), notify); err != nil {
		return nil
	}

	p.opts.Metrics.Reconnected()
	p.log.Info("subscriber reconnected",
		zap.Int("channels", channels),
		zap.Int("patterns", patterns),
	)
	return next
}

// resubscribe must be called with writeMu held
func (p *PubSub) resubscribe(cn *conn) error {
	var payload []byte
	var err error

	if len(p.channels) > 0 {
		args := [][]byte{[]byte("SUBSCRIBE")}
		for ch := range p.channels {
			args = append(args, []byte(ch))
		}
		if payload, err = resp.AppendRequest(payload, args...); err != nil {
			return err
		}
	}

	if len(p.patterns) > 0 {
		args := [][]byte{[]byte("PSUBSCRIBE")}
		for pat := range p.patterns {
			args = append(args, []byte(pat))
		}
		if payload, err = resp.AppendRequest(payload, args...); err != nil {
			return err
		}
	}

	if len(payload) == 0 {
		return nil
	}
	return cn.write(payload, p.opts.WriteTimeout)
}

// parseMessage classifies a push by its first element
func parseMessage(v resp.Value) (*Message, error) {
	switch v.Type {
	case resp.TypeSimpleString:
		if strings.EqualFold(v.Text(), "PONG") {
			return &Message{Kind: "pong"}, nil
		}
		return nil, fmt.Errorf("pubsub: unexpected status %q", v.Text())
	case resp.TypeError:
		return nil, v.Err()
	case resp.TypeArray:
	default:
		return nil, fmt.Errorf("pubsub: unexpected reply type %q", v.Type)
	}

	if len(v.Array) == 0 {
		return nil, errors.New("pubsub: empty push")
	}

	kind := strings.ToLower(v.Array[0].Text())
	msg := &Message{Kind: kind}

	switch kind {
	case "message":
		if len(v.Array) != 3 {
			return nil, fmt.Errorf("pubsub: message push has %d elements", len(v.Array))
		}
		msg.Channel = v.Array[1].Text()
		msg.Payload = v.Array[2].String

	case "pmessage":
		if len(v.Array) != 4 {
			return nil, fmt.Errorf("pubsub: pmessage push has %d elements", len(v.Array))
		}
		msg.Pattern = v.Array[1].Text()
		msg.Channel = v.Array[2].Text()
		msg.Payload = v.Array[3].String

	case "subscribe", "unsubscribe", "psubscribe", "punsubscribe":
		if len(v.Array) != 3 || v.Array[2].Type != resp.TypeInteger {
			return nil, fmt.Errorf("pubsub: malformed %s confirmation", kind)
		}
		if kind[0] == 'p' {
			msg.Pattern = v.Array[1].Text()
		} else {
			msg.Channel = v.Array[1].Text()
		}
		msg.Count = v.Array[2].Integer

	case "pong":
		if len(v.Array) > 1 {
			msg.Payload = v.Array[1].String
		}

	default:
		return nil, fmt.Errorf("pubsub: unknown push kind %q", kind)
	}

	return msg, nil
}
