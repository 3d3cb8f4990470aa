package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hupe1980/coljar/internal/mmap"
)

// LocalStore implements BlobStore on the local file system. Reads are served
// from read-only memory mappings, the cheapest way to share immutable
// sidecars between concurrent readers.
type LocalStore struct {
	root string
}

// NewLocalStore creates a LocalStore rooted at the given directory.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

// Open implements BlobStore.
func (s *LocalStore) Open(_ context.Context, name string) (Blob, error) {
	m, err := mmap.Open(filepath.Join(s.root, name))
	if err != nil {
		return nil, err
	}
	return &localBlob{m: m}, nil
}

// Create implements BlobStore. The blob is written to a temp file and renamed
// into place on Close.
func (s *LocalStore) Create(_ context.Context, name string) (WritableBlob, error) {
	target := filepath.Join(s.root, name)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".tmp-*")
	if err != nil {
		return nil, err
	}
	_ = tmp.Chmod(0644)
	return &localWritableBlob{f: tmp, target: target}, nil
}

// Delete implements BlobStore.
func (s *LocalStore) Delete(_ context.Context, name string) error {
	err := os.Remove(filepath.Join(s.root, name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// List implements BlobStore.
func (s *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			names = append(names, rel)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

type localBlob struct {
	m *mmap.Mapping
}

func (b *localBlob) ReadAt(p []byte, off int64) (int, error) {
	return b.m.ReadAt(p, off)
}

func (b *localBlob) Close() error { return b.m.Close() }

func (b *localBlob) Size() int64 { return int64(b.m.Size()) }

func (b *localBlob) Bytes() ([]byte, error) { return b.m.Bytes(), nil }

type localWritableBlob struct {
	f      *os.File
	target string
}

func (b *localWritableBlob) Write(p []byte) (int, error) { return b.f.Write(p) }

func (b *localWritableBlob) Sync() error { return b.f.Sync() }

func (b *localWritableBlob) Close() error {
	tmpName := b.f.Name()
	if err := b.f.Sync(); err != nil {
		_ = b.f.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := b.f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, b.target); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if d, err := os.Open(filepath.Dir(b.target)); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

var (
	_ BlobStore = (*LocalStore)(nil)
	_ Mappable  = (*localBlob)(nil)
)
