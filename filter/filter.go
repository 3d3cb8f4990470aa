// Package filter provides the probabilistic membership filters that guard jar
// point lookups. A filter-negative is authoritative: the key was never added.
// A filter-positive only means the key might be present and must be confirmed
// by the caller.
package filter

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrUnsupported is returned when Add/Contains is called on a jar
	// configured without filters.
	ErrUnsupported = errors.New("filter: unsupported filter query")

	// ErrCapacityExceeded is returned when an insertion cannot complete after
	// exhausting relocation attempts. The build must be retried with a larger
	// capacity or with filtering disabled.
	ErrCapacityExceeded = errors.New("filter: capacity exceeded")

	// ErrCorrupted is returned when serialized filter data fails validation.
	ErrCorrupted = errors.New("filter: corrupted filter data")
)

// Kind identifies a filter implementation. Persisted; never renumber.
type Kind uint8

const (
	// KindCuckoo is a bucketed cuckoo filter.
	KindCuckoo Kind = 1
	// KindUnused is the disabled sentinel used by jars built without filters.
	KindUnused Kind = 2
)

// Filter is a probabilistic membership set over byte elements.
//
// Every element successfully added is reported present for the lifetime of the
// filter (no false negatives). Elements never added may be reported present
// with a bounded probability fixed at construction.
type Filter interface {
	// Add inserts an element. A capacity error means the filter is saturated;
	// it is never silently dropped.
	Add(element []byte) error

	// Contains reports whether the element might have been added.
	Contains(element []byte) (bool, error)

	// Kind returns the filter implementation kind.
	Kind() Kind

	// WriteTo serializes the filter, kind byte included.
	WriteTo(w io.Writer) (int64, error)
}

// Read decodes a serialized filter. The switch over kinds is exhaustive: an
// unknown kind is a corruption error, not a silent fallthrough.
func Read(r io.Reader) (Filter, error) {
	var kind [1]byte
	if _, err := io.ReadFull(r, kind[:]); err != nil {
		return nil, err
	}

	switch Kind(kind[0]) {
	case KindCuckoo:
		return readCuckoo(r)
	case KindUnused:
		return Unused{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrCorrupted, kind[0])
	}
}

// Unused is the sentinel filter for jars configured without filters. Both
// operations fail with ErrUnsupported, preserving an explicit decision point
// for future filter kinds instead of an unreachable panic.
type Unused struct{}

// Add implements Filter.
func (Unused) Add([]byte) error { return ErrUnsupported }

// Contains implements Filter.
func (Unused) Contains([]byte) (bool, error) { return false, ErrUnsupported }

// Kind implements Filter.
func (Unused) Kind() Kind { return KindUnused }

// WriteTo implements Filter.
func (Unused) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write([]byte{byte(KindUnused)})
	return int64(n), err
}
