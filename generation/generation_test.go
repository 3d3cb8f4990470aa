package generation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/coljar"
	"github.com/hupe1980/coljar/filter"
	"github.com/hupe1980/coljar/phf"
)

func freezeGeneration(t *testing.T, m *Manager, rows int) (uint64, string) {
	t.Helper()

	gen, dir := m.NextGeneration()
	b, err := coljar.NewBuilder(2, uint64(rows), coljar.WithFilters(filter.KindCuckoo, phf.KindMinimal))
	require.NoError(t, err)
	for i := 0; i < rows; i++ {
		cols := [][]byte{
			[]byte(fmt.Sprintf("value-%d", i)),
			[]byte(fmt.Sprintf("extra-%d", i)),
		}
		require.NoError(t, b.AppendRow(cols, []byte(fmt.Sprintf("key-%d", i))))
	}
	jar, err := b.Freeze(context.Background(), dir)
	require.NoError(t, err)
	require.NoError(t, jar.Close())
	return gen, dir
}

func TestCommitAndCurrent(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	defer m.Close()

	_, _, err = m.Current()
	assert.ErrorIs(t, err, ErrNoCurrent)

	gen, dir := freezeGeneration(t, m, 10)
	require.NoError(t, m.Commit(context.Background(), gen, 10))

	cur, curDir, err := m.Current()
	require.NoError(t, err)
	assert.Equal(t, gen, cur)
	assert.Equal(t, dir, curDir)

	// The committed generation opens cleanly.
	jar, err := coljar.Open(curDir)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), jar.Rows())
	require.NoError(t, jar.Close())
}

func TestCommitUnknownGeneration(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	defer m.Close()

	err = m.Commit(context.Background(), 42, 0)
	assert.ErrorIs(t, err, ErrUnknownGeneration)
}

func TestRecovery(t *testing.T) {
	dir := t.TempDir()

	m, err := NewManager(dir)
	require.NoError(t, err)
	gen, _ := freezeGeneration(t, m, 5)
	require.NoError(t, m.Commit(context.Background(), gen, 5))
	require.NoError(t, m.Close())

	// A fresh manager over the same dir recovers the committed state and
	// never reuses generation numbers.
	m2, err := NewManager(dir)
	require.NoError(t, err)
	defer m2.Close()

	cur, _, err := m2.Current()
	require.NoError(t, err)
	assert.Equal(t, gen, cur)

	next, _ := m2.NextGeneration()
	assert.Greater(t, next, gen)
}

func TestRetire(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	defer m.Close()

	gen1, dir1 := freezeGeneration(t, m, 5)
	require.NoError(t, m.Commit(context.Background(), gen1, 5))

	// 1. Current generation cannot be retired.
	assert.ErrorIs(t, m.Retire(context.Background(), gen1), ErrRetireCurrent)

	h, err := m.Acquire()
	require.NoError(t, err)
	assert.Equal(t, gen1, h.Generation())
	assert.Equal(t, dir1, h.Dir())

	gen2, _ := freezeGeneration(t, m, 7)
	require.NoError(t, m.Commit(context.Background(), gen2, 7))

	// 2. Retire blocks while a handle pins the superseded generation.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	err = m.Retire(ctx, gen1)
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	_, statErr := os.Stat(dir1)
	require.NoError(t, statErr)

	// 3. After release, retirement proceeds and the dir is gone.
	h.Release()
	h.Release() // safe to call twice
	require.NoError(t, m.Retire(context.Background(), gen1))
	_, statErr = os.Stat(dir1)
	assert.True(t, os.IsNotExist(statErr))

	// 4. Retire is idempotent.
	require.NoError(t, m.Retire(context.Background(), gen1))
}

func TestCommitNotifiesSubscribers(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	defer m.Close()

	token, ch := m.Subscribe()
	defer m.Unsubscribe(token)

	gen, _ := freezeGeneration(t, m, 3)
	require.NoError(t, m.Commit(context.Background(), gen, 3))

	select {
	case got := <-ch:
		assert.Equal(t, gen, got)
	case <-time.After(time.Second):
		t.Fatal("no commit notification")
	}
}

func TestGenerations(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	defer m.Close()

	g1, _ := freezeGeneration(t, m, 1)
	g2, _ := freezeGeneration(t, m, 1)

	gens, err := m.Generations()
	require.NoError(t, err)
	assert.Equal(t, []uint64{g1, g2}, gens)
}

func TestManifestVersionCheck(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)
	gen, _ := freezeGeneration(t, m, 1)
	require.NoError(t, m.Commit(context.Background(), gen, 1))
	require.NoError(t, m.Close())

	current, err := os.ReadFile(filepath.Join(dir, CurrentFileName))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, string(current)), []byte(`{"version":99}`), 0644))

	_, err = NewManager(dir)
	assert.Error(t, err)
}
