package client

import (
	"time"

	"go.uber.org/zap"

	"github.com/eternalApril/moonwire/internal/metrics"
)

// Journal receives every encoded request batch after it is written to the socket
type Journal interface {
	Write(payload []byte)
}

// Options configures a Client or PubSub connection
type Options struct {
	Addr     string
	Username string // sent with AUTH only when Password is set
	Password string
	DB       int // SELECTed after connect when non-zero

	DialTimeout  time.Duration
	WriteTimeout time.Duration // 0 disables the write deadline
	KeepAlive    time.Duration // negative disables TCP keep-alive
	NoDelay      bool

	Reconnect        bool
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration

	RateLimit float64 // commands per second, 0 disables limiting
	Burst     int

	MaxBulkLen  int64
	MaxArrayLen int64

	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Journal Journal // optional, Client only
}

func (o *Options) setDefaults() {
	if o.Addr == "" {
		o.Addr = "127.0.0.1:6379"
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.KeepAlive == 0 {
		o.KeepAlive = 15 * time.Second
	}
	if o.ReconnectInitial == 0 {
		o.ReconnectInitial = 100 * time.Millisecond
	}
	if o.ReconnectMax == 0 {
		o.ReconnectMax = 5 * time.Second
	}
	if o.RateLimit > 0 && o.Burst <= 0 {
		o.Burst = 1
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}
