package config

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/eternalApril/moonwire/internal/client"
	"github.com/eternalApril/moonwire/internal/metrics"
)

// Config represents the root configuration structure for the application
type Config struct {
	Client    ClientConfig    `mapstructure:"client"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	RESP      RESPConfig      `mapstructure:"resp"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Journal   JournalConfig   `mapstructure:"journal"`
}

// ClientConfig holds the connection settings
type ClientConfig struct {
	Addr         string        `mapstructure:"addr"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeepAlive    time.Duration `mapstructure:"keepalive"`
	NoDelay      bool          `mapstructure:"nodelay"`
}

// ReconnectConfig defines the backoff used after a lost connection
type ReconnectConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// RateLimitConfig caps outgoing commands. rps 0 disables the limiter
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// RESPConfig bounds the headers the reply decoder accepts
type RESPConfig struct {
	MaxBulkLen  int64 `mapstructure:"max_bulk_len"`
	MaxArrayLen int64 `mapstructure:"max_array_len"`
}

// LogConfig defines logging verbosity and output style
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// MetricsConfig enables the client collectors
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	PushGateway string `mapstructure:"pushgateway"` // pushed on exit when set
}

// JournalConfig defines the append only record of sent commands
type JournalConfig struct {
	File  string `mapstructure:"file"`  // empty disables recording
	Fsync string `mapstructure:"fsync"` // always, everysec, no
}

// Load reads the configuration from a file and overrides it with environment variables.
// The file is config.yaml searched in path, ~/.moonwire and the working directory
func Load(path string) (*Config, error) {
	setDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	if path != "" {
		viper.AddConfigPath(path)
	}
	if dir, err := Dir(); err == nil {
		viper.AddConfigPath(dir)
	}
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("MOONWIRE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Dir returns ~/.moonwire, where the config file and the REPL history live
func Dir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".moonwire"), nil
}

// ClientOptions maps the loaded configuration onto client options
func (c *Config) ClientOptions(log *zap.Logger, m *metrics.Metrics) client.Options {
	return client.Options{
		Addr:             c.Client.Addr,
		Username:         c.Client.Username,
		Password:         c.Client.Password,
		DB:               c.Client.DB,
		DialTimeout:      c.Client.DialTimeout,
		WriteTimeout:     c.Client.WriteTimeout,
		KeepAlive:        c.Client.KeepAlive,
		NoDelay:          c.Client.NoDelay,
		Reconnect:        c.Reconnect.Enabled,
		ReconnectInitial: c.Reconnect.InitialInterval,
		ReconnectMax:     c.Reconnect.MaxInterval,
		RateLimit:        c.RateLimit.RPS,
		Burst:            c.RateLimit.Burst,
		MaxBulkLen:       c.RESP.MaxBulkLen,
		MaxArrayLen:      c.RESP.MaxArrayLen,
		Logger:           log,
		Metrics:          m,
	}
}

// setDefaults populates viper with fallback values if they are not provided via file or ENV
func setDefaults() {
	// Client
	viper.SetDefault("client.addr", "127.0.0.1:6379")
	viper.SetDefault("client.username", "")
	viper.SetDefault("client.password", "")
	viper.SetDefault("client.db", 0)
	viper.SetDefault("client.dial_timeout", "5s")
	viper.SetDefault("client.write_timeout", "3s")
	viper.SetDefault("client.keepalive", "15s")
	viper.SetDefault("client.nodelay", true)

	// Reconnect
	viper.SetDefault("reconnect.enabled", true)
	viper.SetDefault("reconnect.initial_interval", "100ms")
	viper.SetDefault("reconnect.max_interval", "5s")

	// Rate limit
	viper.SetDefault("ratelimit.rps", 0)
	viper.SetDefault("ratelimit.burst", 1)

	// RESP
	viper.SetDefault("resp.max_bulk_len", 512<<20)
	viper.SetDefault("resp.max_array_len", 1<<24)

	// Logger
	viper.SetDefault("log.level", "warn")
	viper.SetDefault("log.format", "console")

	// Metrics
	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.pushgateway", "")

	// Journal
	viper.SetDefault("journal.file", "")
	viper.SetDefault("journal.fsync", "everysec")
}
