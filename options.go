package coljar

import (
	"log/slog"

	"github.com/hupe1980/coljar/compress"
	"github.com/hupe1980/coljar/resource"
)

type options struct {
	codec             compress.Kind
	columnCodecs      []compress.Kind
	falsePositiveRate float64
	resourceCtrl      *resource.Controller
	logger            *Logger
}

// Option configures builder and reader behavior.
//
// Today options primarily exist to avoid exploding the API surface
// (e.g. codec-specific constructor variants).
type Option func(*options)

// WithCodec sets the compression codec applied to every column.
// Default: compress.KindNone.
func WithCodec(kind compress.Kind) Option {
	return func(o *options) {
		o.codec = kind
	}
}

// WithColumnCodecs sets a per-column compression codec. The slice length
// must match the builder's column count; the stored-key column is always
// kept uncompressed. Overrides WithCodec for the columns it covers.
func WithColumnCodecs(kinds []compress.Kind) Option {
	return func(o *options) {
		o.columnCodecs = kinds
	}
}

// WithFalsePositiveRate tunes the inclusion filter's target false positive
// probability. Values outside (0, 1) fall back to the default of 1%.
func WithFalsePositiveRate(fpp float64) Option {
	return func(o *options) {
		o.falsePositiveRate = fpp
	}
}

// WithResourceController attaches a resource controller that rate-limits
// freeze I/O and bounds background work. Pass nil to run unthrottled.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resourceCtrl = rc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := coljar.NewJSONLogger(slog.LevelInfo)
//	b, _ := coljar.NewBuilder(3, 1000, coljar.WithFilters(filter.KindCuckoo, phf.KindMinimal), coljar.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:             compress.KindNone,
		falsePositiveRate: defaultFalsePositiveRate,
		logger:            NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
