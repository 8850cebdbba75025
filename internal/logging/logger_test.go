package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrettyHandler_levelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	log.Info("hidden")
	log.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "WARN")
}

func TestPrettyHandler_boundAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewPrettyHandler(&buf, nil)).With("service", "agency")

	log.Info("saga finished", "correlationId", "abc", "state", "RESPONDED")

	out := buf.String()
	assert.Contains(t, out, "saga finished service=agency correlationId=abc state=RESPONDED")
}

func TestPrettyHandler_groups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewPrettyHandler(&buf, nil)).WithGroup("rpc").With("target", "university_requests")

	log.Info("call", "outcome", "ok")

	assert.Contains(t, buf.String(), "rpc.target=university_requests rpc.outcome=ok")
}

func TestPrettyHandler_errorAtWarnHasNoStack(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewPrettyHandler(&buf, nil))

	log.Warn("redelivering", "error", errors.New("boom"))

	assert.Contains(t, buf.String(), "error=boom")
	assert.NotContains(t, buf.String(), "goroutine")
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}
