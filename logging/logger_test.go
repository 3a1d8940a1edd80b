package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capturedLogger(t *testing.T, level LogLevel) (*BoardroomLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: level, Format: "json", Output: &buf})
	return logger, &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestBoardroomLoggerKeyValueArgs(t *testing.T) {
	logger, buf := capturedLogger(t, LogLevelDebug)
	logger.Info("cache opened", "path", "/tmp/research.db", "entries", 3)

	entry := lastEntry(t, buf)
	assert.Equal(t, "cache opened", entry["msg"])
	assert.Equal(t, "/tmp/research.db", entry["path"])
	assert.EqualValues(t, 3, entry["entries"])
}

func TestBoardroomLoggerLevelFiltering(t *testing.T) {
	logger, buf := capturedLogger(t, LogLevelWarn)
	logger.Info("suppressed", "k", "v")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	entry := lastEntry(t, buf)
	assert.Equal(t, "kept", entry["msg"])
}

func TestLogModelCallSuccess(t *testing.T) {
	logger, buf := capturedLogger(t, LogLevelInfo)
	logger.WithComponent("executor").WithSession("sess-1").
		LogModelCall("claude-sonnet", "contribution", 1200, 800*time.Millisecond, true, nil)

	entry := lastEntry(t, buf)
	assert.Equal(t, "Model call completed", entry["msg"])
	assert.Equal(t, "claude-sonnet", entry["model"])
	assert.Equal(t, "contribution", entry["operation"])
	assert.EqualValues(t, 1200, entry["token_count"])
	assert.Equal(t, true, entry["success"])
	assert.Equal(t, "executor", entry["component"])
	assert.Equal(t, "sess-1", entry["session_id"])
}

func TestLogModelCallFailure(t *testing.T) {
	logger, buf := capturedLogger(t, LogLevelInfo)
	logger.LogModelCall("claude-sonnet", "synthesis", 0, time.Second, false, errors.New("rate limited"))

	entry := lastEntry(t, buf)
	assert.Equal(t, "Model call failed", entry["msg"])
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "rate limited", entry["error"])
}

func TestLogResearchLookup(t *testing.T) {
	logger, buf := capturedLogger(t, LogLevelInfo)
	logger.LogResearchLookup(0.91, 0.85, true)

	entry := lastEntry(t, buf)
	assert.Equal(t, "Research cache lookup", entry["msg"])
	assert.InDelta(t, 0.91, entry["similarity"], 1e-9)
	assert.InDelta(t, 0.85, entry["threshold"], 1e-9)
	assert.Equal(t, true, entry["hit"])
}

func TestLogDecision(t *testing.T) {
	logger, buf := capturedLogger(t, LogLevelInfo)
	logger.LogDecision("speak", 2, "alpha has spoken least")

	entry := lastEntry(t, buf)
	assert.Equal(t, "Facilitator decision", entry["msg"])
	assert.Equal(t, "speak", entry["decision"])
	assert.EqualValues(t, 2, entry["round"])
	assert.Equal(t, "alpha has spoken least", entry["reasoning"])
}
