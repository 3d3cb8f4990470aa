package coljar

import (
	"errors"

	"github.com/hupe1980/coljar/filter"
	"github.com/hupe1980/coljar/phf"
)

// The query-time error surface is a closed taxonomy. Absence of a key is not
// part of it: lookups report "not found" through their boolean result.
var (
	// ErrUnsupported is returned when an operation is invalid for the jar's
	// filter configuration.
	ErrUnsupported = filter.ErrUnsupported

	// ErrCapacityExceeded is returned when the inclusion filter saturates
	// during a build. Retry with a larger capacity or without filters.
	ErrCapacityExceeded = filter.ErrCapacityExceeded

	// ErrDuplicateKey is returned when the same key is appended twice.
	ErrDuplicateKey = phf.ErrDuplicateKey

	// ErrCorrupted is returned when a sidecar artifact fails its integrity
	// check at open time. The jar is refused; rebuilding from source data is
	// a decision for the caller, never attempted silently here.
	ErrCorrupted = errors.New("coljar: corrupted jar artifact")

	// ErrFrozen is returned when appending to or re-freezing a builder that
	// has already been frozen.
	ErrFrozen = errors.New("coljar: builder already frozen")

	// ErrColumnCount is returned when an appended row or a column index does
	// not match the jar's column count.
	ErrColumnCount = errors.New("coljar: column count mismatch")

	// ErrOutOfBounds is returned when a row ordinal is outside [0, rows).
	ErrOutOfBounds = errors.New("coljar: row out of bounds")

	// ErrClosed is returned when querying a closed jar.
	ErrClosed = errors.New("coljar: jar is closed")
)
