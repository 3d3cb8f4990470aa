package coljar

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerCarriesJarContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	jar := buildJar(t, 10, defaultConfig(), WithLogger(logger))

	buf.Reset()
	_, found, err := jar.Lookup(rowKey(3))
	require.NoError(t, err)
	require.True(t, found)

	require.NoError(t, jar.Scan(2, func(uint64, []byte, [][]byte) (bool, error) {
		return true, nil
	}))

	out := buf.String()

	// Query lines carry the generation the jar was opened from.
	assert.Contains(t, out, "lookup completed")
	assert.Contains(t, out, "dir=")
	assert.Contains(t, out, "rows=10")

	// The scan reports its start row and how many rows it delivered.
	assert.Contains(t, out, "scan completed")
	assert.Contains(t, out, "start=2")
	assert.Contains(t, out, "count=8")
}
