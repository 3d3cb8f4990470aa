package coljar

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/coljar/compress"
	"github.com/hupe1980/coljar/filter"
	"github.com/hupe1980/coljar/phf"
)

func TestLookupRoundTrip(t *testing.T) {
	configs := map[string]Config{
		"minimal":        WithFilters(filter.KindCuckoo, phf.KindMinimal),
		"groupOptimized": WithFilters(filter.KindCuckoo, phf.KindGroupOptimized),
	}

	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			jar := buildJar(t, 1000, cfg,
				WithColumnCodecs([]compress.Kind{compress.KindNone, compress.KindLZ4, compress.KindZstd}))

			require.Equal(t, uint64(1000), jar.Rows())
			require.Equal(t, 3, jar.Columns())

			// Every stored key resolves to its exact row.
			for i := 0; i < 1000; i++ {
				cells, found, err := jar.Lookup(rowKey(i))
				require.NoError(t, err)
				require.True(t, found, "key %d", i)
				assert.Equal(t, rowColumns(i), cells)
			}

			// Absent keys are never found: filter false positives and
			// arbitrary perfect-hash ordinals die on key verification.
			for i := 0; i < 2000; i++ {
				cells, found, err := jar.Lookup([]byte(fmt.Sprintf("absent-%d", i)))
				require.NoError(t, err)
				assert.False(t, found)
				assert.Nil(t, cells)
			}
		})
	}
}

func TestLookupBridgesHashOrdinals(t *testing.T) {
	// Rows are laid out in append order while the perfect hash assigns
	// rank-based ordinals; the row table must reconcile the two so every
	// appended key still lands on its own row.
	for _, kind := range []phf.Kind{phf.KindMinimal, phf.KindGroupOptimized} {
		jar := buildJar(t, 500, WithFilters(filter.KindCuckoo, kind))

		for i := 0; i < 500; i++ {
			key, err := jar.Key(uint64(i))
			require.NoError(t, err)
			require.Equal(t, rowKey(i), key, "row %d not in append order", i)

			cells, found, err := jar.Lookup(rowKey(i))
			require.NoError(t, err)
			require.True(t, found, "key %d", i)
			assert.Equal(t, rowColumns(i), cells)
		}
	}
}

func TestLookupColumnSubset(t *testing.T) {
	jar := buildJar(t, 100, defaultConfig())

	cells, found, err := jar.Lookup(rowKey(42), 2, 0)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, cells, 2)
	assert.Equal(t, rowColumns(42)[2], cells[0])
	assert.Equal(t, rowColumns(42)[0], cells[1])

	cell, found, err := jar.LookupColumn(rowKey(42), 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rowColumns(42)[1], cell)

	_, _, err = jar.Lookup(rowKey(42), 3)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestRowAndKey(t *testing.T) {
	jar := buildJar(t, 100, defaultConfig())

	cells, err := jar.Row(7)
	require.NoError(t, err)
	assert.Equal(t, rowColumns(7), cells)

	key, err := jar.Key(7)
	require.NoError(t, err)
	assert.Equal(t, rowKey(7), key)

	_, err = jar.Row(100)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	_, err = jar.Key(100)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestScan(t *testing.T) {
	jar := buildJar(t, 100, defaultConfig())

	// 1. Full scan in ordinal order
	var visited []uint64
	err := jar.Scan(0, func(row uint64, key []byte, columns [][]byte) (bool, error) {
		assert.Equal(t, rowKey(int(row)), key)
		assert.Equal(t, rowColumns(int(row)), columns)
		visited = append(visited, row)
		return true, nil
	})
	require.NoError(t, err)
	require.Len(t, visited, 100)
	for i, row := range visited {
		assert.Equal(t, uint64(i), row)
	}

	// 2. Offset start and early stop
	var count int
	err = jar.Scan(90, func(row uint64, _ []byte, _ [][]byte) (bool, error) {
		count++
		return row < 94, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	// 3. Callback errors propagate
	boom := fmt.Errorf("boom")
	err = jar.Scan(0, func(uint64, []byte, [][]byte) (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)

	// 4. Starting past the end is out of bounds; at the end is an empty scan
	require.NoError(t, jar.Scan(100, func(uint64, []byte, [][]byte) (bool, error) {
		t.Fatal("must not be called")
		return false, nil
	}))
	assert.ErrorIs(t, jar.Scan(101, nil), ErrOutOfBounds)
}

func TestWithoutFilters(t *testing.T) {
	jar := buildJar(t, 50, WithoutFilters())

	assert.False(t, jar.Config().Enabled())

	// Keyed lookups need the indexes.
	_, _, err := jar.Lookup(rowKey(1))
	assert.ErrorIs(t, err, ErrUnsupported)

	// Ordinal access still works.
	cells, err := jar.Row(1)
	require.NoError(t, err)
	assert.Equal(t, rowColumns(1), cells)

	require.NoError(t, jar.Scan(0, func(uint64, []byte, [][]byte) (bool, error) {
		return true, nil
	}))
}

func TestUnusedFilterKind(t *testing.T) {
	// The Unused sentinel reserves the filter slot; lookups skip the probe
	// and rely on the stored-key comparison instead.
	jar := buildJar(t, 10, WithFilters(filter.KindUnused, phf.KindMinimal))

	require.True(t, jar.Config().Enabled())
	assert.Equal(t, filter.KindUnused, jar.Config().FilterKind())

	cells, found, err := jar.Lookup(rowKey(1))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rowColumns(1), cells)

	// Absent keys land on an arbitrary row and the key comparison rejects it.
	for i := 0; i < 100; i++ {
		_, found, err := jar.Lookup([]byte(fmt.Sprintf("absent-%04d", i)))
		require.NoError(t, err)
		assert.False(t, found)
	}

	cells, err = jar.Row(1)
	require.NoError(t, err)
	assert.Equal(t, rowColumns(1), cells)
}

func TestConcurrentLookups(t *testing.T) {
	jar := buildJar(t, 1000, defaultConfig(), WithCodec(compress.KindZstd))

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				cells, found, err := jar.Lookup(rowKey(i))
				if !assert.NoError(t, err) || !assert.True(t, found) {
					return
				}
				assert.Equal(t, rowColumns(i), cells)
			}
		}(g)
	}
	wg.Wait()
}

func TestOpenRejectsCorruption(t *testing.T) {
	build := func(t *testing.T) string {
		b, err := NewBuilder(3, 100, defaultConfig())
		require.NoError(t, err)
		for i := 0; i < 100; i++ {
			require.NoError(t, b.AppendRow(rowColumns(i), rowKey(i)))
		}
		dir := filepath.Join(t.TempDir(), "gen-00000001")
		jar, err := b.Freeze(context.Background(), dir)
		require.NoError(t, err)
		require.NoError(t, jar.Close())
		return dir
	}

	for _, name := range SidecarFileNames() {
		t.Run("flip/"+name, func(t *testing.T) {
			dir := build(t)
			path := filepath.Join(dir, name)
			data, err := os.ReadFile(path)
			require.NoError(t, err)

			data[len(data)/2] ^= 0xff
			require.NoError(t, os.WriteFile(path, data, 0644))

			_, err = Open(dir)
			assert.ErrorIs(t, err, ErrCorrupted)
		})

		t.Run("truncate/"+name, func(t *testing.T) {
			dir := build(t)
			path := filepath.Join(dir, name)
			require.NoError(t, os.Truncate(path, 3))

			_, err := Open(dir)
			assert.ErrorIs(t, err, ErrCorrupted)
		})

		t.Run("missing/"+name, func(t *testing.T) {
			dir := build(t)
			require.NoError(t, os.Remove(filepath.Join(dir, name)))

			_, err := Open(dir)
			assert.ErrorIs(t, err, ErrCorrupted)
		})
	}
}

func TestReopen(t *testing.T) {
	b, err := NewBuilder(3, 100, defaultConfig())
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, b.AppendRow(rowColumns(i), rowKey(i)))
	}

	dir := filepath.Join(t.TempDir(), "gen-00000001")
	jar, err := b.Freeze(context.Background(), dir)
	require.NoError(t, err)
	require.NoError(t, jar.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(100), reopened.Rows())
	cells, found, err := reopened.Lookup(rowKey(33))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rowColumns(33), cells)
}

func TestClosedJar(t *testing.T) {
	jar := buildJar(t, 10, defaultConfig())
	require.NoError(t, jar.Close())
	require.NoError(t, jar.Close())

	_, _, err := jar.Lookup(rowKey(1))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = jar.Row(1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = jar.Key(1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, jar.Scan(0, nil), ErrClosed)
}

func TestEmptyJar(t *testing.T) {
	b, err := NewBuilder(2, 0, defaultConfig())
	require.NoError(t, err)

	jar, err := b.Freeze(context.Background(), filepath.Join(t.TempDir(), "gen-00000001"))
	require.NoError(t, err)
	defer jar.Close()

	assert.Equal(t, uint64(0), jar.Rows())

	_, found, err := jar.Lookup([]byte("anything"))
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, jar.Scan(0, func(uint64, []byte, [][]byte) (bool, error) {
		t.Fatal("must not be called")
		return false, nil
	}))
}
