package common

import (
	"errors"
	"testing"

	"github.com/lni/dragonboat/v4/logger"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected logger.LogLevel
		wantErr  bool
	}{
		{"debug", logger.DEBUG, false},
		{"INFO", logger.INFO, false},
		{"", logger.INFO, false},
		{"warn", logger.WARNING, false},
		{"warning", logger.WARNING, false},
		{"error", logger.ERROR, false},
		{"trace", logger.INFO, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := ParseLogLevel(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidOptions) {
					t.Errorf("Expected ErrInvalidOptions, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if level != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, level)
			}
		})
	}
}

func TestInitLoggers(t *testing.T) {
	opts := DefaultOptions()
	opts.LogLevel = "bogus"
	if err := InitLoggers(*opts); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("Expected ErrInvalidOptions, got %v", err)
	}

	opts.LogLevel = "error"
	if err := InitLoggers(*opts); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
}

func TestInitLoggersRepeatedly(t *testing.T) {
	// every collector of a process initializes the loggers again
	for _, level := range []string{"info", "debug", "error"} {
		opts := DefaultOptions()
		opts.LogLevel = level
		if err := InitLoggers(*opts); err != nil {
			t.Fatalf("Expected no error for level %s, got %v", level, err)
		}
	}
	logger.GetLogger("collector").Debugf("suppressed at error level")
}

func TestGCLoggerLevels(t *testing.T) {
	l := CreateLogger("test").(*gcLogger)
	if l.level != logger.INFO {
		t.Errorf("Expected new loggers to start at INFO, got %v", l.level)
	}

	l.SetLevel(logger.ERROR)
	if l.level != logger.ERROR {
		t.Errorf("Expected ERROR, got %v", l.level)
	}

	defer func() {
		if recover() == nil {
			t.Errorf("Expected Panicf to panic")
		}
	}()
	l.Panicf("boom %d", 1)
}
