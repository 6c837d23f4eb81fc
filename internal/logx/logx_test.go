package logx

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONWithServiceAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "order-api", "warn", false)
	require.NoError(t, err)

	l.Info().Msg("dropped")
	l.Warn().Str("order_id", "o-1").Msg("kept")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "order-api", line["service"])
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "o-1", line["order_id"])
	assert.Equal(t, "kept", line["message"])
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "x", "loud", false)
	assert.Error(t, err)
}

func TestNew_EmptyLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "x", "", true)
	require.NoError(t, err)
	l.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())
	l.Info().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}
