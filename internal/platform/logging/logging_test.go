package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)

	l, err = ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestToJournalKey(t *testing.T) {
	assert.Equal(t, "SESSIONID", toJournalKey("sessionID"))
	assert.Equal(t, "JOB_ID", toJournalKey("job.id"))
	assert.Equal(t, "WORKER_ID_2", toJournalKey("worker-id 2"))
}

func TestNewRespectsLevel(t *testing.T) {
	if isSystemdService() {
		t.Skip("running under systemd, terminal handler disabled")
	}
	var buf bytes.Buffer
	logger := New(Options{Level: "warn", Writer: &buf})

	logger.Info("hidden")
	logger.Warn("shown", "sessionID", "s1")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "sessionID=s1")
}

func TestNewJSONFormat(t *testing.T) {
	if isSystemdService() {
		t.Skip("running under systemd, terminal handler disabled")
	}
	var buf bytes.Buffer
	logger := New(Options{Level: "info", Format: "json", Writer: &buf})
	logger.Info("hello", "backend", "starlark")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "starlark", rec["backend"])
}
