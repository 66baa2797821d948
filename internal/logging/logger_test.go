package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "lifecycle-worker", "prod", "warn")

	logger.Info().Msg("dropped")
	logger.Warn().Str("job", "survey").Msg("kept")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "lifecycle-worker", entry["service"])
	assert.Equal(t, "survey", entry["job"])
	assert.Equal(t, "kept", entry["message"])
	assert.Contains(t, entry, "caller")
}

func TestNewLoggerUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "api-server", "prod", "chatty")

	logger.Debug().Msg("hidden")
	assert.Empty(t, buf.String())
	logger.Info().Msg("shown")
	assert.NotEmpty(t, buf.String())
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := newLogger(&buf, "api-server", "prod", "info")

	ctx := WithRequestID(context.Background(), "req-42")
	assert.Equal(t, "req-42", RequestID(ctx))

	logger := FromContext(ctx, base)
	logger.Info().Msg("handled")
	assert.Contains(t, buf.String(), `"request_id":"req-42"`)
}
