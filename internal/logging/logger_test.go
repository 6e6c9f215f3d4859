package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerFormatsMessagesAndFields(t *testing.T) {
	buf := &bytes.Buffer{}
	base := New(Config{Level: "debug", Format: "text", Output: buf})
	logger := base.With(F("component", "test"))

	logger.Info("hello %s", "world")

	if got := buf.String(); !strings.Contains(got, "hello world") {
		t.Fatalf("expected message in output, got %q", got)
	}
	if got := buf.String(); !strings.Contains(got, "component=test") {
		t.Fatalf("expected component field in output, got %q", got)
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(Config{Level: "warn", Output: buf})

	logger.Debug("should be dropped")
	logger.Info("should also be dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below configured level, got %q", buf.String())
	}

	logger.Warn("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Fatalf("expected warn message, got %q", buf.String())
	}
}

func TestJSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(Config{Format: "json", Output: buf})
	logger.Info("json message")

	got := buf.String()
	if !strings.HasPrefix(strings.TrimSpace(got), "{") {
		t.Fatalf("expected json object, got %q", got)
	}
	if !strings.Contains(got, `"msg":"json message"`) {
		t.Fatalf("expected msg field, got %q", got)
	}
}

func TestOrNopHandlesNil(t *testing.T) {
	var logger Logger
	if !IsNil(logger) {
		t.Fatalf("expected nil interface to be detected")
	}
	safe := OrNop(logger)
	if IsNil(safe) {
		t.Fatalf("expected OrNop to return a usable logger")
	}
	safe.Info("hello %s", "world")
}

func TestNewComponentLoggerDoesNotPanic(t *testing.T) {
	logger := NewComponentLogger("widget")
	logger.Debug("noop")
}
