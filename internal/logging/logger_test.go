package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlward/sqlward/internal/config"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LoggingConfig{Level: "warn", Format: "text", Output: "stderr"})
	logger.output = &buf

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message", nil)

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(&buf)

	logger.WithField("request_id", "r-1").Info("validated sql", map[string]interface{}{
		"tables": 2,
	})

	line := strings.TrimSpace(buf.String())

	var entry LogEntry
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "validated sql", entry.Message)
	assert.Equal(t, "r-1", entry.Fields["request_id"])
	assert.EqualValues(t, 2, entry.Fields["tables"])
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(&buf)

	child := logger.WithField("attempt", 1)
	assert.Empty(t, logger.fields)
	assert.Len(t, child.fields, 1)
}
