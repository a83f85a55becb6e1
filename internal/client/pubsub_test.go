package client

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eternalApril/moonwire/internal/metrics"
	"github.com/eternalApril/moonwire/internal/resp"
	"github.com/eternalApril/moonwire/internal/resptest"
)

func newTestPubSub(t *testing.T, srv *resptest.Server, opts Options) *PubSub {
	t.Helper()

	opts.Addr = srv.Addr()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := NewPubSub(ctx, opts)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() }) //nolint:errcheck
	return p
}

func receive(t *testing.T, p *PubSub) *Message {
	t.Helper()

	select {
	case msg, ok := <-p.Messages():
		require.True(t, ok, "messages channel closed")
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a push")
		return nil
	}
}

func TestPubSub_Subscribe(t *testing.T) {
	srv := resptest.NewServer(t)
	sub := newTestPubSub(t, srv, Options{})
	pub := newTestClient(t, srv, Options{})
	ctx := testContext(t)

	require.NoError(t, sub.Subscribe(ctx, "news", "sport"))
	assert.Equal(t, &Message{Kind: "subscribe", Channel: "news", Count: 1}, receive(t, sub))
	assert.Equal(t, &Message{Kind: "subscribe", Channel: "sport", Count: 2}, receive(t, sub))

	v, err := pub.Do(ctx, "PUBLISH", "news", "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Integer)

	assert.Equal(t, &Message{Kind: "message", Channel: "news", Payload: []byte("hello")}, receive(t, sub))

	require.NoError(t, sub.Unsubscribe(ctx, "news"))
	assert.Equal(t, &Message{Kind: "unsubscribe", Channel: "news", Count: 1}, receive(t, sub))

	v, err = pub.Do(ctx, "PUBLISH", "news", "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v.Integer)
}

func TestPubSub_PSubscribe(t *testing.T) {
	srv := resptest.NewServer(t)
	sub := newTestPubSub(t, srv, Options{})
	pub := newTestClient(t, srv, Options{})
	ctx := testContext(t)

	require.NoError(t, sub.PSubscribe(ctx, "user.*"))
	assert.Equal(t, &Message{Kind: "psubscribe", Pattern: "user.*", Count: 1}, receive(t, sub))

	_, err := pub.Do(ctx, "PUBLISH", "user.42", "login")
	require.NoError(t, err)

	assert.Equal(t, &Message{
		Kind:    "pmessage",
		Pattern: "user.*",
		Channel: "user.42",
		Payload: []byte("login"),
	}, receive(t, sub))

	require.NoError(t, sub.PUnsubscribe(ctx))
	assert.Equal(t, &Message{Kind: "punsubscribe", Pattern: "user.*", Count: 0}, receive(t, sub))
}

func TestPubSub_Ping(t *testing.T) {
	srv := resptest.NewServer(t)
	sub := newTestPubSub(t, srv, Options{})
	ctx := testContext(t)

	require.NoError(t, sub.Subscribe(ctx, "x"))
	receive(t, sub)

	require.NoError(t, sub.Ping(ctx))
	assert.Equal(t, &Message{Kind: "pong", Payload: []byte{}}, receive(t, sub))
}

func TestPubSub_PendingGaugeUntouched(t *testing.T) {
	srv := resptest.NewServer(t)

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	sub := newTestPubSub(t, srv, Options{Metrics: m})
	ctx := testContext(t)

	for i := 0; i < 3; i++ {
		ch := fmt.Sprintf("ch%d", i)
		require.NoError(t, sub.Subscribe(ctx, ch))
		assert.Equal(t, "subscribe", receive(t, sub).Kind)

		require.NoError(t, sub.Ping(ctx))
		assert.Equal(t, "pong", receive(t, sub).Kind)
	}

	assert.Equal(t, 0.0, pendingGauge(t, reg), "pushes are not paired with requests")
}

func TestPubSub_ExpiredContext(t *testing.T) {
	srv := resptest.NewServer(t)
	sub := newTestPubSub(t, srv, Options{})

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	assert.ErrorIs(t, sub.Subscribe(expired, "late"), context.DeadlineExceeded)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sub.Ping(canceled), context.Canceled)

	// Nothing was written, so the next push is the confirmation for "on-time"
	ctx := testContext(t)
	require.NoError(t, sub.Subscribe(ctx, "on-time"))
	assert.Equal(t, &Message{Kind: "subscribe", Channel: "on-time", Count: 1}, receive(t, sub))
}

func TestPubSub_EmptySubscribe(t *testing.T) {
	srv := resptest.NewServer(t)
	sub := newTestPubSub(t, srv, Options{})
	ctx := testContext(t)

	assert.ErrorIs(t, sub.Subscribe(ctx), resp.ErrInvalidRequest)
	assert.ErrorIs(t, sub.PSubscribe(ctx), resp.ErrInvalidRequest)
}

func TestPubSub_ResubscribeAfterReconnect(t *testing.T) {
	srv := resptest.NewServer(t)
	sub := newTestPubSub(t, srv, Options{
		Reconnect:        true,
		ReconnectInitial: 10 * time.Millisecond,
		ReconnectMax:     50 * time.Millisecond,
	})
	ctx := testContext(t)

	require.NoError(t, sub.Subscribe(ctx, "events"))
	receive(t, sub)

	srv.DropConnections()

	assert.Equal(t, &Message{Kind: "subscribe", Channel: "events", Count: 1}, receive(t, sub))

	pub := newTestClient(t, srv, Options{})
	_, err := pub.Do(ctx, "PUBLISH", "events", "after drop")
	require.NoError(t, err)

	assert.Equal(t, &Message{Kind: "message", Channel: "events", Payload: []byte("after drop")}, receive(t, sub))
}

func TestPubSub_Close(t *testing.T) {
	srv := resptest.NewServer(t)
	sub := newTestPubSub(t, srv, Options{})

	require.NoError(t, sub.Close())

	select {
	case _, ok := <-sub.Messages():
		assert.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("messages channel was not closed")
	}

	assert.ErrorIs(t, sub.Subscribe(context.Background(), "late"), ErrClosed)
	assert.NoError(t, sub.Close())
}

func TestParseMessage(t *testing.T) {
	bulk := resp.MakeBulkString

	tests := []struct {
		name    string
		push    resp.Value
		want    *Message
		wantErr bool
	}{
		{
			name: "message",
			push: resp.MakeBulkArray("message", "ch", "data"),
			want: &Message{Kind: "message", Channel: "ch", Payload: []byte("data")},
		},
		{
			name: "pmessage",
			push: resp.MakeBulkArray("pmessage", "c*", "ch", "data"),
			want: &Message{Kind: "pmessage", Pattern: "c*", Channel: "ch", Payload: []byte("data")},
		},
		{
			name: "subscribe confirmation",
			push: resp.MakeArray([]resp.Value{bulk("subscribe"), bulk("ch"), resp.MakeInteger(3)}),
			want: &Message{Kind: "subscribe", Channel: "ch", Count: 3},
		},
		{
			name: "unsubscribe from nothing",
			push: resp.MakeArray([]resp.Value{bulk("unsubscribe"), resp.MakeNilBulkString(), resp.MakeInteger(0)}),
			want: &Message{Kind: "unsubscribe"},
		},
		{
			name: "status pong",
			push: resp.MakeSimpleString("PONG"),
			want: &Message{Kind: "pong"},
		},
		{
			name:    "error reply",
			push:    resp.MakeError("ERR only (P)SUBSCRIBE allowed"),
			wantErr: true,
		},
		{
			name:    "short message",
			push:    resp.MakeArray([]resp.Value{bulk("message"), bulk("ch")}),
			wantErr: true,
		},
		{
			name:    "unknown kind",
			push:    resp.MakeArray([]resp.Value{bulk("smessage"), bulk("ch"), bulk("x")}),
			wantErr: true,
		},
		{
			name:    "integer",
			push:    resp.MakeInteger(1),
			wantErr: true,
		},
		{
			name:    "empty array",
			push:    resp.MakeArray(nil),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMessage(tt.push)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
