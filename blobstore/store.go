// Package blobstore abstracts where frozen jar generations are kept.
//
// A generation's sidecar artifacts are immutable blobs, which keeps the store
// contract small: whole-blob streaming writes, random-access reads. Local
// disk, in-memory (tests), S3 and MinIO implementations are provided.
package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error satisfying
// errors.Is(err, ErrNotFound). The default maps to os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

// BlobStore is an abstraction for storing immutable jar artifacts.
type BlobStore interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)

	// Create creates a blob for streaming writes. The blob becomes visible
	// only after a successful Close.
	Create(ctx context.Context, name string) (WritableBlob, error)

	// Delete removes a blob. Deleting an absent blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns all blob names with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a stored artifact.
type Blob interface {
	io.ReaderAt
	io.Closer
	// Size returns the size of the blob in bytes.
	Size() int64
}

// Mappable is an optional interface for Blobs that expose their backing
// bytes without copying.
type Mappable interface {
	// Bytes returns the underlying byte slice, valid until Close.
	Bytes() ([]byte, error)
}

// WritableBlob is a streaming write handle. Close finalizes the blob.
type WritableBlob interface {
	io.WriteCloser
	// Sync flushes buffered data to stable storage where the backend
	// supports it; object stores finalize on Close instead.
	Sync() error
}
