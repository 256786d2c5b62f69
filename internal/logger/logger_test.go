package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithConfig_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithConfig(Config{Level: "debug", Output: &buf})

	log.Info().Str("session_id", "room-1").Msg("tick applied")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "readerline-billing", entry["service"])
	assert.Equal(t, "room-1", entry["session_id"])
	assert.Equal(t, "tick applied", entry["message"])
}

func TestNewWithConfig_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithConfig(Config{Level: "loud", Output: &buf})

	log.Debug().Msg("hidden")
	assert.Empty(t, buf.String())

	log.Info().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}
