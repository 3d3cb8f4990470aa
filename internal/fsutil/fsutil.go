// Package fsutil provides atomic file publication helpers.
//
// Frozen jar artifacts must never be visible in a partially written state, so
// everything is written to temporary names first and renamed into place.
package fsutil

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// SaveToFile writes a file atomically: the content goes to a temp file in the
// same directory, which is synced, closed, and renamed over the target.
func SaveToFile(filename string, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(filename)
	base := filepath.Base(filename)

	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	_ = tmp.Chmod(0644)

	buf := bufio.NewWriterSize(tmp, 256*1024)
	if err := writeFunc(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, filename); err != nil {
		return err
	}

	// Best-effort: fsync the directory so the rename is durable on POSIX.
	SyncDir(dir)

	// Success: prevent deferred cleanup from removing the final file.
	tmpName = ""
	return nil
}

// WriteDir writes a set of files into dir, creating it if needed. Each file is
// synced before close. On error, files already written are removed along with
// the directory if it was created by this call.
//
// Combined with a final rename of dir itself (see PublishDir), this yields an
// all-or-nothing multi-file publish.
func WriteDir(dir string, files map[string]func(io.Writer) error) error {
	created := false
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("fsutil: create %s: %w", dir, err)
		}
		created = true
	}

	cleanup := func() {
		if created {
			_ = os.RemoveAll(dir)
		}
	}

	for filename, writeFunc := range files {
		f, err := os.OpenFile(filepath.Join(dir, filename), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			cleanup()
			return fmt.Errorf("fsutil: create %s: %w", filename, err)
		}

		buf := bufio.NewWriterSize(f, 256*1024)
		if err := writeFunc(buf); err != nil {
			_ = f.Close()
			cleanup()
			return fmt.Errorf("fsutil: write %s: %w", filename, err)
		}
		if err := buf.Flush(); err != nil {
			_ = f.Close()
			cleanup()
			return fmt.Errorf("fsutil: flush %s: %w", filename, err)
		}
		if err := f.Sync(); err != nil {
			_ = f.Close()
			cleanup()
			return fmt.Errorf("fsutil: sync %s: %w", filename, err)
		}
		if err := f.Close(); err != nil {
			cleanup()
			return fmt.Errorf("fsutil: close %s: %w", filename, err)
		}
	}

	return nil
}

// PublishDir atomically renames a fully written staging directory to its final
// name and fsyncs the parent so the rename is durable.
func PublishDir(staging, final string) error {
	if err := os.Rename(staging, final); err != nil {
		return fmt.Errorf("fsutil: publish %s: %w", final, err)
	}
	SyncDir(filepath.Dir(final))
	return nil
}

// SyncDir fsyncs a directory, best-effort.
func SyncDir(dir string) {
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
}
