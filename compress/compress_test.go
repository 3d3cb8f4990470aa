package compress

import (
	"bytes"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByKind(t *testing.T) {
	for _, k := range []Kind{KindNone, KindLZ4, KindZstd} {
		c, err := ByKind(k)
		require.NoError(t, err)
		assert.Equal(t, k, c.Kind())
	}

	_, err := ByKind(Kind(99))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestRoundTrip(t *testing.T) {
	compressible := bytes.Repeat([]byte("columnar storage "), 256)

	rng := rand.New(rand.NewSource(42))
	incompressible := make([]byte, 4096)
	rng.Read(incompressible)

	cases := map[string][]byte{
		"empty":          {},
		"tiny":           []byte("x"),
		"compressible":   compressible,
		"incompressible": incompressible,
	}

	for _, k := range []Kind{KindNone, KindLZ4, KindZstd} {
		c, err := ByKind(k)
		require.NoError(t, err)

		for name, src := range cases {
			framed, err := c.Compress(src)
			require.NoError(t, err, "%d/%s", k, name)

			got, err := c.Decompress(framed)
			require.NoError(t, err, "%d/%s", k, name)
			assert.Equal(t, src, got, "%d/%s", k, name)
		}
	}
}

func TestCompressionShrinksRedundantData(t *testing.T) {
	src := bytes.Repeat([]byte("0123456789abcdef"), 1024)

	for _, k := range []Kind{KindLZ4, KindZstd} {
		c, err := ByKind(k)
		require.NoError(t, err)

		framed, err := c.Compress(src)
		require.NoError(t, err)
		assert.Less(t, len(framed), len(src), "kind %d", k)
	}
}

func TestIncompressibleStoredRaw(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	src := make([]byte, 1024)
	rng.Read(src)

	for _, k := range []Kind{KindLZ4, KindZstd} {
		c, err := ByKind(k)
		require.NoError(t, err)

		framed, err := c.Compress(src)
		require.NoError(t, err)
		// Raw framing costs the header, nothing more.
		assert.Equal(t, len(src)+cellHeaderSize, len(framed), "kind %d", k)
	}
}

func TestDecompressRejectsMalformed(t *testing.T) {
	for _, k := range []Kind{KindLZ4, KindZstd} {
		c, err := ByKind(k)
		require.NoError(t, err)

		_, err = c.Decompress([]byte{0x01, 0x02})
		assert.ErrorIs(t, err, ErrMalformedCell, "kind %d", k)
	}
}

func TestCellSizeLimit(t *testing.T) {
	// Frame sizes are uint32; anything beyond 4 GiB must be refused, not
	// silently truncated.
	require.NoError(t, checkCellSize(0))
	require.NoError(t, checkCellSize(math.MaxUint32))
	assert.ErrorIs(t, checkCellSize(math.MaxUint32+1), ErrCellTooLarge)
}
