package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the CLI logger.
// level: "debug", "info", "warn", "error"; anything else means info.
// encoding: "console" for humans, anything else means json.
// Output goes to stderr unless paths are given, stdout carries command replies
func New(level string, encoding string, paths ...string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig = zap.NewProductionEncoderConfig()
	if encoding == "console" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Sampling = nil
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	cfg.OutputPaths = []string{"stderr"}
	if len(paths) > 0 {
		cfg.OutputPaths = paths
	}
	cfg.ErrorOutputPaths = []string{"stderr"}

	return cfg.Build()
}
