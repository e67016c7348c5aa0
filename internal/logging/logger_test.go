package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		raw      string
		expected zapcore.Level
		invalid  bool
	}{
		{raw: "", expected: zapcore.InfoLevel},
		{raw: "DEBUG", expected: zapcore.DebugLevel},
		{raw: " warning ", expected: zapcore.WarnLevel},
		{raw: "error", expected: zapcore.ErrorLevel},
		{raw: "verbose", invalid: true},
	}
	for _, testCase := range testCases {
		level, err := ParseLevel(testCase.raw)
		if testCase.invalid {
			if err == nil {
				t.Fatalf("expected error for %q", testCase.raw)
			}
			continue
		}
		if err != nil || level != testCase.expected {
			t.Fatalf("ParseLevel(%q) = %v, %v", testCase.raw, level, err)
		}
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	logger, err := NewLogger("debug")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug level to be enabled")
	}
}
