package logger

import (
	"testing"

	"marinebms/internal/config"
)

func TestNewLoggerFallsBackOnInvalidLevel(t *testing.T) {
	log, err := NewLogger(config.LoggerConfig{Level: "not-a-level", Format: "json"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if log == nil {
		t.Fatal("expected a non-nil logger even with an invalid level")
	}
}

func TestNewLoggerConsoleFormat(t *testing.T) {
	log, err := NewLogger(config.LoggerConfig{Level: "DEBUG", Format: "console"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if log == nil {
		t.Fatal("expected a non-nil logger")
	}
}
