package coljar

import (
	"github.com/hupe1980/coljar/filter"
	"github.com/hupe1980/coljar/phf"
)

// Config is the filter configuration of a jar: a closed choice made at
// creation time and fixed for the jar's lifetime. It decides which query path
// the reader takes — filter probe plus perfect-hash lookup, or offset-table
// access only.
type Config struct {
	enabled    bool
	filterKind filter.Kind
	phfKind    phf.Kind
}

// WithFilters enables the inclusion filter and perfect hash index. Keyed point
// lookups become available; appends feed the filter incrementally and Freeze
// builds the perfect hash over the full key set.
func WithFilters(filterKind filter.Kind, phfKind phf.Kind) Config {
	return Config{
		enabled:    true,
		filterKind: filterKind,
		phfKind:    phfKind,
	}
}

// WithoutFilters disables both indexes. The jar answers row and range queries
// only; Add/Contains on the filter surface report ErrUnsupported.
func WithoutFilters() Config {
	return Config{enabled: false}
}

// Enabled reports whether the filter and perfect hash index are configured.
func (c Config) Enabled() bool { return c.enabled }

// FilterKind returns the configured filter kind (valid only when enabled).
func (c Config) FilterKind() filter.Kind { return c.filterKind }

// PHFKind returns the configured perfect hash kind (valid only when enabled).
func (c Config) PHFKind() phf.Kind { return c.phfKind }
