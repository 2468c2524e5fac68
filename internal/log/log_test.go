package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOmitsTime(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, false).Info("hello", "k", "v")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.NotContains(t, line, "time")
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "v", line["k"])
}

func TestDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, false).Debug("hidden")
	assert.Empty(t, buf.String())

	New(&buf, true).Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	ctx := NewContext(context.Background(), New(&buf, false))

	FromContextOrDiscard(ctx).Info("from slog")
	logr.FromContextOrDiscard(ctx).Info("from logr")

	assert.Contains(t, buf.String(), "from slog")
	assert.Contains(t, buf.String(), "from logr")
}

func TestFromContextOrDiscardWithoutLogger(t *testing.T) {
	assert.NotNil(t, FromContextOrDiscard(context.Background()))
}
