package coljar

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/coljar/compress"
	"github.com/hupe1980/coljar/filter"
	"github.com/hupe1980/coljar/internal/fsutil"
	"github.com/hupe1980/coljar/phf"
	"github.com/hupe1980/coljar/resource"
)

const defaultFalsePositiveRate = 0.01

// columnBuffer accumulates one column's cells plus the cumulative offset of
// every cell boundary. offsets always holds rows+1 entries, starting at 0.
type columnBuffer struct {
	data    []byte
	offsets []uint64
}

func newColumnBuffer() *columnBuffer {
	return &columnBuffer{offsets: []uint64{0}}
}

func (b *columnBuffer) append(cell []byte) {
	b.data = append(b.data, cell...)
	b.offsets = append(b.offsets, uint64(len(b.data)))
}

// Builder accumulates rows for a single jar generation. It is single-writer:
// one goroutine appends, then freezes exactly once. Freeze consumes the
// builder; the row data moves into the immutable frozen artifacts and any
// later append or freeze returns ErrFrozen.
type Builder struct {
	mu sync.Mutex

	columnCount int
	cfg         Config
	opts        options
	codecs      []compress.Codec

	// columns[0..columnCount-1] are the user columns; the final buffer is the
	// stored-key region, always uncompressed.
	columns []*columnBuffer
	keys    [][]byte
	seen    map[string]struct{}

	filter filter.Filter
	rows   uint64
	frozen bool
}

// NewBuilder creates a builder for a jar with the given column count. The
// expectedRows hint sizes the inclusion filter; underestimating it risks
// ErrCapacityExceeded during appends.
func NewBuilder(columnCount int, expectedRows uint64, cfg Config, optFns ...Option) (*Builder, error) {
	if columnCount < 1 {
		return nil, fmt.Errorf("coljar: column count must be positive, got %d", columnCount)
	}

	opts := applyOptions(optFns)

	codecs, err := resolveCodecs(columnCount, opts)
	if err != nil {
		return nil, err
	}

	b := &Builder{
		columnCount: columnCount,
		cfg:         cfg,
		opts:        opts,
		codecs:      codecs,
		columns:     make([]*columnBuffer, columnCount+1),
		seen:        make(map[string]struct{}),
	}
	for i := range b.columns {
		b.columns[i] = newColumnBuffer()
	}

	if cfg.Enabled() {
		switch cfg.FilterKind() {
		case filter.KindCuckoo:
			b.filter = filter.NewCuckooWithFPP(expectedRows, opts.falsePositiveRate)
		case filter.KindUnused:
			b.filter = filter.Unused{}
		default:
			return nil, fmt.Errorf("%w: filter kind %d", ErrUnsupported, cfg.FilterKind())
		}

		switch cfg.PHFKind() {
		case phf.KindMinimal, phf.KindGroupOptimized:
		default:
			return nil, fmt.Errorf("%w: perfect hash kind %d", ErrUnsupported, cfg.PHFKind())
		}
	}

	return b, nil
}

func resolveCodecs(columnCount int, opts options) ([]compress.Codec, error) {
	kinds := opts.columnCodecs
	if kinds == nil {
		kinds = make([]compress.Kind, columnCount)
		for i := range kinds {
			kinds[i] = opts.codec
		}
	}
	if len(kinds) != columnCount {
		return nil, fmt.Errorf("%w: %d codecs for %d columns", ErrColumnCount, len(kinds), columnCount)
	}

	codecs := make([]compress.Codec, columnCount)
	for i, k := range kinds {
		c, err := compress.ByKind(k)
		if err != nil {
			return nil, err
		}
		codecs[i] = c
	}
	return codecs, nil
}

// AppendRow buffers one row. columns must match the builder's column count
// and key must be unique across the build; the key is stored verbatim for
// read-time verification. Cells are compressed as they arrive so memory
// tracks the compressed size.
func (b *Builder) AppendRow(columns [][]byte, key []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen {
		return ErrFrozen
	}
	if len(columns) != b.columnCount {
		return fmt.Errorf("%w: got %d columns, want %d", ErrColumnCount, len(columns), b.columnCount)
	}
	if _, dup := b.seen[string(key)]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicateKey, key)
	}

	// Feed the filter before mutating buffers so a saturated filter leaves
	// the builder row-consistent.
	if b.cfg.Enabled() && b.cfg.FilterKind() == filter.KindCuckoo {
		if err := b.filter.Add(key); err != nil {
			b.opts.logger.LogAppend(context.Background(), b.rows, err)
			return err
		}
	}

	for i, cell := range columns {
		framed, err := b.codecs[i].Compress(cell)
		if err != nil {
			return fmt.Errorf("coljar: compress column %d: %w", i, err)
		}
		b.columns[i].append(framed)
	}

	keyCopy := append([]byte(nil), key...)
	b.columns[b.columnCount].append(keyCopy)
	b.keys = append(b.keys, keyCopy)
	b.seen[string(key)] = struct{}{}
	b.rows++

	return nil
}

// Rows returns the number of rows appended so far.
func (b *Builder) Rows() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rows
}

// Freeze seals the builder into the generation directory dir and opens the
// result for reading. The sidecar artifacts are written concurrently into a
// staging directory next to dir and published with a single rename, so an
// interrupted or cancelled freeze never leaves a partial generation visible.
func (b *Builder) Freeze(ctx context.Context, dir string) (*Jar, error) {
	b.mu.Lock()
	if b.frozen {
		b.mu.Unlock()
		return nil, ErrFrozen
	}
	b.frozen = true
	b.mu.Unlock()

	started := time.Now()

	var fn phf.Function
	var rowTable []uint64
	if b.cfg.Enabled() {
		var err error
		fn, err = phf.Build(b.cfg.PHFKind(), b.keys)
		if err != nil {
			b.opts.logger.LogFreeze(ctx, dir, b.rows, time.Since(started), err)
			return nil, err
		}

		// The hash assigns ordinals in rank order while rows sit in append
		// order; the table bridges ordinal to physical row.
		rowTable = make([]uint64, b.rows)
		for i, key := range b.keys {
			rowTable[fn.Get(key)] = uint64(i)
		}
	}

	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, err
	}
	staging, err := os.MkdirTemp(parent, ".freeze-*")
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.writeSidecarFile(gctx, staging, ColumnsFileName, magicColumns, b.writeColumnsBody)
	})
	g.Go(func() error {
		return b.writeSidecarFile(gctx, staging, OffsetsFileName, magicOffsets, b.writeOffsetsBody)
	})
	g.Go(func() error {
		return b.writeSidecarFile(gctx, staging, FilterFileName, magicFilter, b.writeFilterBody)
	})
	g.Go(func() error {
		return b.writeSidecarFile(gctx, staging, PHFFileName, magicPHF, func(w io.Writer) error {
			return writePHFBody(w, fn, rowTable)
		})
	})

	if err := g.Wait(); err != nil {
		_ = os.RemoveAll(staging)
		b.opts.logger.LogFreeze(ctx, dir, b.rows, time.Since(started), err)
		return nil, err
	}

	if err := fsutil.PublishDir(staging, dir); err != nil {
		_ = os.RemoveAll(staging)
		b.opts.logger.LogFreeze(ctx, dir, b.rows, time.Since(started), err)
		return nil, err
	}

	b.releaseBuffers()
	b.opts.logger.LogFreeze(ctx, dir, b.rows, time.Since(started), nil)

	return Open(dir, WithLogger(b.opts.logger), WithResourceController(b.opts.resourceCtrl))
}

func (b *Builder) releaseBuffers() {
	b.columns = nil
	b.keys = nil
	b.seen = nil
}

func (b *Builder) writeSidecarFile(ctx context.Context, dir, name string, magic uint32, body func(io.Writer) error) error {
	return fsutil.SaveToFile(filepath.Join(dir, name), func(w io.Writer) error {
		if b.opts.resourceCtrl != nil {
			w = resource.NewRateLimitedWriter(ctx, w, b.opts.resourceCtrl)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return writeSidecar(w, magic, body)
	})
}

func (b *Builder) writeColumnsBody(w io.Writer) error {
	var header [columnsHeaderSize - sidecarHeaderSize]byte
	h := columnsHeader{columnCount: uint32(b.columnCount), rowCount: b.rows}
	h.encode(header[:])
	if _, err := w.Write(header[:]); err != nil {
		return err
	}

	kinds := make([]byte, b.columnCount)
	for i, c := range b.codecs {
		kinds[i] = byte(c.Kind())
	}
	if _, err := w.Write(kinds); err != nil {
		return err
	}

	for _, col := range b.columns {
		if _, err := w.Write(col.data); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) writeOffsetsBody(w io.Writer) error {
	var header [offsetsHeaderSize - sidecarHeaderSize]byte
	h := offsetsHeader{columnCount: uint32(b.columnCount), rowCount: b.rows}
	h.encode(header[:])
	if _, err := w.Write(header[:]); err != nil {
		return err
	}

	var buf [8]byte
	for _, col := range b.columns {
		for _, off := range col.offsets {
			binary.LittleEndian.PutUint64(buf[:], off)
			if _, err := w.Write(buf[:]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Builder) writeFilterBody(w io.Writer) error {
	if !b.cfg.Enabled() {
		_, err := w.Write([]byte{0})
		return err
	}
	if _, err := w.Write([]byte{1}); err != nil {
		return err
	}
	_, err := b.filter.WriteTo(w)
	return err
}

func writePHFBody(w io.Writer, fn phf.Function, rowTable []uint64) error {
	if fn == nil {
		_, err := w.Write([]byte{0})
		return err
	}
	if _, err := w.Write([]byte{1}); err != nil {
		return err
	}
	if _, err := fn.WriteTo(w); err != nil {
		return err
	}

	var buf [8]byte
	for _, row := range rowTable {
		binary.LittleEndian.PutUint64(buf[:], row)
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}
