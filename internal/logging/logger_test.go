package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{" INFO ", INFO},
		{"warning", WARN},
		{"warn", WARN},
		{"error", ERROR},
		{"", INFO},
		{"verbose", INFO},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// withDefaultOutput redirects the package logger for the duration of a test.
func withDefaultOutput(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	origOutput := defaultLogger.sink.output
	origLevel := defaultLogger.sink.level
	t.Cleanup(func() {
		SetOutput(origOutput)
		SetLevel(origLevel)
	})
	SetOutput(&buf)
	SetLevel(level)
	return &buf
}

func TestWithField(t *testing.T) {
	logger := WithField("key", "value")

	if logger.fields["key"] != "value" {
		t.Error("field not set correctly")
	}
	if len(defaultLogger.fields) > 0 {
		t.Error("should not modify default logger")
	}
}

func TestLogger_WithFields_PreservesParent(t *testing.T) {
	base := New(&bytes.Buffer{}, INFO).WithField("existing", "value")
	logger := base.WithFields(map[string]interface{}{"new1": "value1", "new2": "value2"})

	if len(logger.fields) != 3 {
		t.Errorf("got %d fields, want 3", len(logger.fields))
	}
	if _, ok := base.fields["new1"]; ok {
		t.Error("original logger was modified")
	}
}

func TestLogger_DerivedSharesLevel(t *testing.T) {
	buf := withDefaultOutput(t, ERROR)

	// Created before the level changes, like package-level component loggers
	component := Component("vault")
	component.Info("hidden")
	if buf.Len() > 0 {
		t.Fatal("INFO should be filtered at ERROR level")
	}

	SetLevel(DEBUG)
	component.Info("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("derived logger should follow SetLevel, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "component=vault") {
		t.Errorf("component field missing: %q", buf.String())
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, WARN)

	logger.Debug("debug message")
	logger.Info("info message")
	if buf.Len() > 0 {
		t.Error("DEBUG and INFO should be filtered when level is WARN")
	}

	logger.Warn("warn message")
	if !strings.Contains(buf.String(), "[WARN]") {
		t.Error("WARN should not be filtered")
	}

	buf.Reset()
	logger.Error("error message")
	if !strings.Contains(buf.String(), "[ERROR]") {
		t.Error("ERROR should not be filtered")
	}
}

func TestLogger_FormatWithArgsAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, DEBUG).WithFields(map[string]interface{}{
		"provider": "google",
		"count":    42,
	})

	logger.Info("synced %d events", 3)

	output := buf.String()
	if !strings.Contains(output, "synced 3 events") {
		t.Errorf("output should contain formatted message: %s", output)
	}
	// Fields are sorted by key
	if !strings.Contains(output, "| count=42 provider=google") {
		t.Errorf("fields not rendered in sorted order: %s", output)
	}
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, DEBUG)

	if logger.WithError(nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}

	logger.WithError(errors.New("boom")).Warn("refresh failed")
	if !strings.Contains(buf.String(), "error=boom") {
		t.Errorf("error field missing: %s", buf.String())
	}
}

func TestPackageFunctions(t *testing.T) {
	buf := withDefaultOutput(t, DEBUG)

	Debug("d")
	Info("i")
	Warn("w")
	Error("e")

	for _, want := range []string{"[DEBUG] d", "[INFO] i", "[WARN] w", "[ERROR] e"} {
		if !strings.Contains(stripColor(buf.String()), want) {
			t.Errorf("output missing %q: %s", want, buf.String())
		}
	}
}

func stripColor(s string) string {
	for _, code := range []string{"\033[36m", "\033[32m", "\033[33m", "\033[31m", "\033[0m"} {
		s = strings.ReplaceAll(s, code, "")
	}
	return s
}

func TestLogger_ConcurrentAccess(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, DEBUG)

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(n int) {
			logger.WithField("n", n).Info("message %d", n)
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 10 {
		t.Errorf("expected 10 log lines, got %d", len(lines))
	}
}
