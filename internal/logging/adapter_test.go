package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewSlogAdapter_WithNil(t *testing.T) {
	adapter := NewSlogAdapter(nil)
	if adapter == nil {
		t.Fatal("NewSlogAdapter returned nil")
	}
	if adapter.logger == nil {
		t.Error("adapter.logger should not be nil when created with nil")
	}
}

func TestNewSlogAdapter_WithLogger(t *testing.T) {
	logger := slog.Default()
	adapter := NewSlogAdapter(logger)
	if adapter == nil {
		t.Fatal("NewSlogAdapter returned nil")
	}
	if adapter.logger != logger {
		t.Error("adapter.logger should be the provided logger")
	}
}

func TestSlogAdapter_Levels(t *testing.T) {
	adapter := NewSlogAdapter(slog.Default())
	// Should not panic
	adapter.Debug("test message", "key", "value")
	adapter.Info("test message", "key", "value")
	adapter.Warn("test message", "key", "value")
	adapter.Error("test message", "key", "value")
}

func TestSlogAdapter_Logf(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	adapter := NewSlogAdapter(logger)

	adapter.Logf("driver said %s %d", "hello", 42)
	if !strings.Contains(buf.String(), "driver said hello 42") {
		t.Errorf("Logf output missing formatted message: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "level=DEBUG") {
		t.Errorf("Logf should log at debug level: %q", buf.String())
	}
}

func TestSlogAdapter_Errorf(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	adapter := NewSlogAdapter(logger)

	adapter.Errorf("driver failed: %v", "boom")
	if !strings.Contains(buf.String(), "driver failed: boom") {
		t.Errorf("Errorf output missing formatted message: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "level=ERROR") {
		t.Errorf("Errorf should log at error level: %q", buf.String())
	}
}

func TestSlogAdapter_Logger(t *testing.T) {
	logger := slog.Default()
	adapter := NewSlogAdapter(logger)
	if adapter.Logger() != logger {
		t.Error("Logger() should return the underlying logger")
	}
}

func TestDefaultLogger(t *testing.T) {
	adapter := DefaultLogger()
	if adapter == nil {
		t.Fatal("DefaultLogger returned nil")
	}
	if adapter.logger == nil {
		t.Error("DefaultLogger().logger should not be nil")
	}
}

func TestLoggerInterface(t *testing.T) {
	// Verify SlogAdapter implements Logger interface
	var _ Logger = (*SlogAdapter)(nil)
}
