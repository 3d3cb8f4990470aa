package fsutil

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveToFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "data.bin")

	err := SaveToFile(target, func(w io.Writer) error {
		_, err := w.Write([]byte("hello"))
		return err
	})
	require.NoError(t, err)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSaveToFileWriteErrorLeavesTargetUntouched(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0644))

	boom := errors.New("boom")
	err := SaveToFile(target, func(io.Writer) error { return boom })
	require.ErrorIs(t, err, boom)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), got, "failed save must not clobber the target")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be cleaned up")
}

func TestWriteDirAndPublishDir(t *testing.T) {
	root := t.TempDir()
	staging := filepath.Join(root, ".staging")
	final := filepath.Join(root, "gen-00000001")

	err := WriteDir(staging, map[string]func(io.Writer) error{
		"a.bin": func(w io.Writer) error { _, err := w.Write([]byte("aaa")); return err },
		"b.bin": func(w io.Writer) error { _, err := w.Write([]byte("bbb")); return err },
	})
	require.NoError(t, err)

	require.NoError(t, PublishDir(staging, final))

	_, err = os.Stat(staging)
	assert.True(t, os.IsNotExist(err))

	got, err := os.ReadFile(filepath.Join(final, "a.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte("aaa"), got)
	got, err = os.ReadFile(filepath.Join(final, "b.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte("bbb"), got)
}

func TestWriteDirCleansUpOnError(t *testing.T) {
	root := t.TempDir()
	staging := filepath.Join(root, ".staging")

	boom := errors.New("boom")
	err := WriteDir(staging, map[string]func(io.Writer) error{
		"a.bin": func(io.Writer) error { return boom },
	})
	require.ErrorIs(t, err, boom)

	_, err = os.Stat(staging)
	assert.True(t, os.IsNotExist(err), "staging dir created by WriteDir must be removed")
}
