// Package phf provides minimal perfect hash functions over a closed key set.
//
// A function built from n distinct keys maps each of them to a unique ordinal
// in [0, n). Keys outside the build set yield an arbitrary in-range ordinal,
// never a sentinel: the function alone cannot refute membership, so callers
// must establish it independently (inclusion filter and/or stored-key
// verification) before trusting the ordinal as a row index.
package phf

import (
	"errors"
	"fmt"
	"io"

	"github.com/spaolacci/murmur3"
)

var (
	// ErrDuplicateKey is returned when the build set contains duplicates.
	ErrDuplicateKey = errors.New("phf: duplicate key in build set")

	// ErrBuildFailed is returned when construction cannot place every key.
	ErrBuildFailed = errors.New("phf: build failed")

	// ErrCorrupted is returned when serialized function data fails validation.
	ErrCorrupted = errors.New("phf: corrupted function data")
)

// Kind selects a construction strategy. Persisted; never renumber.
type Kind uint8

const (
	// KindMinimal is the baseline multi-level minimal PHF (smallest index).
	KindMinimal Kind = 1
	// KindGroupOptimized trades a larger index for single-probe queries.
	KindGroupOptimized Kind = 2
)

// Function is an immutable bijective map from the build-time key set to row
// ordinals. Safe for concurrent use.
type Function interface {
	// Get returns the ordinal for a key. For keys in the build set the result
	// is the key's unique assigned ordinal; for any other key it is an
	// arbitrary value in [0, Len()).
	Get(key []byte) uint64

	// Len returns the number of keys in the build set.
	Len() uint64

	// Kind returns the construction strategy.
	Kind() Kind

	// WriteTo serializes the function, kind byte included.
	WriteTo(w io.Writer) (int64, error)
}

// Build constructs a Function of the given kind over the complete key set.
// The key set is closed-world: it must be known in full up front, and
// duplicates are a build error.
func Build(kind Kind, keys [][]byte) (Function, error) {
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[string(k)]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, k)
		}
		seen[string(k)] = struct{}{}
	}

	switch kind {
	case KindMinimal:
		return buildMinimal(keys)
	case KindGroupOptimized:
		return buildGroupOptimized(keys)
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrBuildFailed, kind)
	}
}

// Read decodes a serialized Function of either kind.
func Read(r io.Reader) (Function, error) {
	var kind [1]byte
	if _, err := io.ReadFull(r, kind[:]); err != nil {
		return nil, err
	}

	switch Kind(kind[0]) {
	case KindMinimal:
		return readMinimal(r)
	case KindGroupOptimized:
		return readGroupOptimized(r)
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrCorrupted, kind[0])
	}
}

// hashKey is the common seeded key hash. Seeds are fixed per construction
// step so identical builds are byte-identical.
func hashKey(key []byte, seed uint32) uint64 {
	return murmur3.Sum64WithSeed(key, seed)
}
