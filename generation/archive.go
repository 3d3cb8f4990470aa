package generation

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hupe1980/coljar"
	"github.com/hupe1980/coljar/blobstore"
	"github.com/hupe1980/coljar/internal/fsutil"
	"github.com/hupe1980/coljar/resource"
)

// Archive streams a frozen generation's sidecar artifacts to a blob store
// under the given prefix. The artifacts are immutable, so archiving a live
// generation is safe; uploads are rate-limited when rc is non-nil.
func Archive(ctx context.Context, dir string, store blobstore.BlobStore, prefix string, rc *resource.Controller) error {
	for _, name := range coljar.SidecarFileNames() {
		if err := archiveFile(ctx, filepath.Join(dir, name), store, blobName(prefix, name), rc); err != nil {
			return fmt.Errorf("generation: archive %s: %w", name, err)
		}
	}
	return nil
}

func archiveFile(ctx context.Context, path string, store blobstore.BlobStore, name string, rc *resource.Controller) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := store.Create(ctx, name)
	if err != nil {
		return err
	}

	var src io.Reader = f
	if rc != nil {
		src = resource.NewRateLimitedReader(ctx, f, rc)
	}
	if _, err := io.Copy(w, src); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Restore downloads an archived generation into dir. The sidecars land in a
// staging directory first and dir appears atomically, so a crashed restore
// never leaves a partial generation behind. Opening the result still runs
// the full integrity checks.
func Restore(ctx context.Context, store blobstore.BlobStore, prefix string, dir string, rc *resource.Controller) error {
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	staging, err := os.MkdirTemp(parent, ".restore-*")
	if err != nil {
		return err
	}

	files := make(map[string]func(io.Writer) error)
	for _, name := range coljar.SidecarFileNames() {
		files[name] = func(w io.Writer) error {
			return restoreFile(ctx, store, blobName(prefix, name), w, rc)
		}
	}

	if err := fsutil.WriteDir(staging, files); err != nil {
		_ = os.RemoveAll(staging)
		return err
	}
	if err := fsutil.PublishDir(staging, dir); err != nil {
		_ = os.RemoveAll(staging)
		return err
	}
	return nil
}

func restoreFile(ctx context.Context, store blobstore.BlobStore, name string, w io.Writer, rc *resource.Controller) error {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return err
	}
	defer blob.Close()

	var src io.Reader = io.NewSectionReader(blob, 0, blob.Size())
	if rc != nil {
		src = resource.NewRateLimitedReader(ctx, src, rc)
	}
	_, err = io.Copy(w, src)
	return err
}

func blobName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
