package observability

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestParseLogLevel verifies case-insensitive, whitespace-tolerant parsing of LOG_LEVEL.
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		env    string
		expect zapcore.Level
	}{
		{"", zap.InfoLevel},
		{"INFO", zap.InfoLevel},
		{"DEBUG", zap.DebugLevel},
		{"WARN", zap.WarnLevel},
		{"ERROR", zap.ErrorLevel},
		{"debug", zap.DebugLevel},
		{"  warn  ", zap.WarnLevel},
		{"invalid", zap.InfoLevel},
	}
	for _, tt := range tests {
		level := parseLogLevel(tt.env)
		if got := level.Level(); got != tt.expect {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.env, got, tt.expect)
		}
	}
}

func TestNewLogger(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	logger, err := NewLogger("city-weather-service")
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Error("LOG_LEVEL=debug not applied")
	}
	logger.Info("test message")
	_ = logger.Sync()
}

func TestNewLogger_Console(t *testing.T) {
	t.Setenv("LOG_FORMAT", "console")
	if _, err := NewLogger(""); err != nil {
		t.Fatalf("NewLogger() console error = %v", err)
	}
}

func TestFlushTelemetry(t *testing.T) {
	if err := FlushTelemetry(context.Background(), nil); err != nil {
		t.Errorf("FlushTelemetry(nil) = %v", err)
	}

	core, _ := observer.New(zapcore.InfoLevel)
	if err := FlushTelemetry(context.Background(), zap.New(core)); err != nil {
		t.Errorf("FlushTelemetry() = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := FlushTelemetry(ctx, zap.New(blockingCore{Core: core}))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("FlushTelemetry(canceled) = %v, want context.Canceled", err)
	}
}

// blockingCore never finishes Sync.
type blockingCore struct{ zapcore.Core }

func (blockingCore) Sync() error { select {} }
