package coljar

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/hupe1980/coljar/blobstore"
	"github.com/hupe1980/coljar/compress"
	"github.com/hupe1980/coljar/filter"
	"github.com/hupe1980/coljar/phf"
)

// Jar is a single frozen generation opened for reading. All state is
// immutable after Open, so any number of goroutines may query concurrently
// without locking. New data never mutates a jar; it becomes a new generation.
type Jar struct {
	dir  string
	opts options

	columnCount int
	rows        uint64
	cfg         Config
	codecs      []compress.Codec

	flt filter.Filter
	fn  phf.Function

	// rowTable maps perfect-hash ordinals to physical rows; rows are stored
	// in append order, which the hash knows nothing about.
	rowTable []byte

	// data is the concatenation of columnCount+1 regions (user columns, then
	// the stored-key region); regionStart[c] is region c's absolute start.
	data        []byte
	offsets     []byte
	regionStart []uint64

	blobs  []blobstore.Blob
	closed atomic.Bool
}

// Open maps the sidecar artifacts of a frozen generation directory and
// verifies each one's header and checksum. Any mismatch refuses the jar with
// ErrCorrupted.
func Open(dir string, optFns ...Option) (*Jar, error) {
	opts := applyOptions(optFns)
	ctx := context.Background()
	store := blobstore.NewLocalStore(dir)

	j := &Jar{dir: dir, opts: opts}
	ok := false
	defer func() {
		if !ok {
			j.closeBlobs()
		}
	}()

	columnsBody, err := j.openSidecar(ctx, store, ColumnsFileName, magicColumns)
	if err != nil {
		opts.logger.LogOpen(ctx, dir, 0, err)
		return nil, err
	}
	offsetsBody, err := j.openSidecar(ctx, store, OffsetsFileName, magicOffsets)
	if err != nil {
		opts.logger.LogOpen(ctx, dir, 0, err)
		return nil, err
	}
	filterBody, err := j.openSidecar(ctx, store, FilterFileName, magicFilter)
	if err != nil {
		opts.logger.LogOpen(ctx, dir, 0, err)
		return nil, err
	}
	phfBody, err := j.openSidecar(ctx, store, PHFFileName, magicPHF)
	if err != nil {
		opts.logger.LogOpen(ctx, dir, 0, err)
		return nil, err
	}

	if err := j.decode(columnsBody, offsetsBody, filterBody, phfBody); err != nil {
		opts.logger.LogOpen(ctx, dir, 0, err)
		return nil, err
	}

	ok = true
	opts.logger.LogOpen(ctx, dir, j.rows, nil)

	// Per-query log lines carry the generation they came from.
	j.opts.logger = opts.logger.WithDir(dir).WithRows(j.rows)
	return j, nil
}

func (j *Jar) openSidecar(ctx context.Context, store blobstore.BlobStore, name string, magic uint32) ([]byte, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupted, name, err)
	}
	j.blobs = append(j.blobs, blob)

	data, err := blobBytes(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupted, name, err)
	}
	return sidecarBody(data, magic, name)
}

func blobBytes(b blobstore.Blob) ([]byte, error) {
	if m, ok := b.(blobstore.Mappable); ok {
		return m.Bytes()
	}
	buf := make([]byte, b.Size())
	_, err := io.ReadFull(io.NewSectionReader(b, 0, b.Size()), buf)
	return buf, err
}

func (j *Jar) decode(columnsBody, offsetsBody, filterBody, phfBody []byte) error {
	ch, err := decodeColumnsHeader(columnsBody)
	if err != nil {
		return err
	}
	if ch.columnCount == 0 {
		return fmt.Errorf("%w: %s zero columns", ErrCorrupted, ColumnsFileName)
	}
	j.columnCount = int(ch.columnCount)
	j.rows = ch.rowCount

	kindsStart := columnsHeaderSize - sidecarHeaderSize
	if len(columnsBody) < kindsStart+j.columnCount {
		return fmt.Errorf("%w: %s codec table truncated", ErrCorrupted, ColumnsFileName)
	}
	j.codecs = make([]compress.Codec, j.columnCount)
	for i := 0; i < j.columnCount; i++ {
		c, err := compress.ByKind(compress.Kind(columnsBody[kindsStart+i]))
		if err != nil {
			return fmt.Errorf("%w: column %d: %v", ErrCorrupted, i, err)
		}
		j.codecs[i] = c
	}
	j.data = columnsBody[kindsStart+j.columnCount:]

	oh, err := decodeOffsetsHeader(offsetsBody)
	if err != nil {
		return err
	}
	if oh.columnCount != ch.columnCount || oh.rowCount != ch.rowCount {
		return fmt.Errorf("%w: %s disagrees with %s on shape", ErrCorrupted, OffsetsFileName, ColumnsFileName)
	}
	j.offsets = offsetsBody[offsetsHeaderSize-sidecarHeaderSize:]

	regions := j.columnCount + 1
	wantOffsets := uint64(regions) * (j.rows + 1) * 8
	if uint64(len(j.offsets)) != wantOffsets {
		return fmt.Errorf("%w: %s has %d offset bytes, want %d", ErrCorrupted, OffsetsFileName, len(j.offsets), wantOffsets)
	}

	// Region boundaries follow from each column's final offset.
	j.regionStart = make([]uint64, regions+1)
	for c := 0; c < regions; c++ {
		if j.offsetAt(c, 0) != 0 {
			return fmt.Errorf("%w: %s column %d does not start at zero", ErrCorrupted, OffsetsFileName, c)
		}
		j.regionStart[c+1] = j.regionStart[c] + j.offsetAt(c, j.rows)
	}
	if j.regionStart[regions] != uint64(len(j.data)) {
		return fmt.Errorf("%w: %s data section is %d bytes, offsets cover %d", ErrCorrupted, ColumnsFileName, len(j.data), j.regionStart[regions])
	}

	if err := j.decodeIndexes(filterBody, phfBody); err != nil {
		return err
	}
	return nil
}

func (j *Jar) decodeIndexes(filterBody, phfBody []byte) error {
	if len(filterBody) < 1 || len(phfBody) < 1 {
		return fmt.Errorf("%w: index sidecar truncated", ErrCorrupted)
	}

	enabled := filterBody[0] == 1
	present := phfBody[0] == 1
	if enabled != present {
		return fmt.Errorf("%w: filter/perfect-hash sidecars disagree on configuration", ErrCorrupted)
	}
	if !enabled {
		j.cfg = WithoutFilters()
		return nil
	}

	flt, err := filter.Read(bytes.NewReader(filterBody[1:]))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupted, FilterFileName, err)
	}
	phfReader := bytes.NewReader(phfBody[1:])
	fn, err := phf.Read(phfReader)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupted, PHFFileName, err)
	}
	if fn.Len() != j.rows {
		return fmt.Errorf("%w: perfect hash covers %d keys, jar has %d rows", ErrCorrupted, fn.Len(), j.rows)
	}

	// The ordinal-to-row table follows the hash function bytes.
	if uint64(phfReader.Len()) != j.rows*8 {
		return fmt.Errorf("%w: %s row table is %d bytes, want %d", ErrCorrupted, PHFFileName, phfReader.Len(), j.rows*8)
	}
	j.rowTable = phfBody[uint64(len(phfBody))-j.rows*8:]
	for ord := uint64(0); ord < j.rows; ord++ {
		if j.rowAt(ord) >= j.rows {
			return fmt.Errorf("%w: %s row table entry %d out of range", ErrCorrupted, PHFFileName, ord)
		}
	}

	j.flt = flt
	j.fn = fn
	j.cfg = WithFilters(flt.Kind(), fn.Kind())
	return nil
}

// rowAt returns the physical row of a perfect-hash ordinal.
func (j *Jar) rowAt(ord uint64) uint64 {
	return binary.LittleEndian.Uint64(j.rowTable[ord*8:])
}

// offsetAt returns entry i of column c's offset table, relative to the
// column's region start.
func (j *Jar) offsetAt(c int, i uint64) uint64 {
	pos := (uint64(c)*(j.rows+1) + i) * 8
	return binary.LittleEndian.Uint64(j.offsets[pos:])
}

// cell returns the stored bytes of column c at the given row, still framed by
// the column's codec.
func (j *Jar) cell(c int, row uint64) ([]byte, error) {
	start := j.offsetAt(c, row)
	end := j.offsetAt(c, row+1)
	if start > end || j.regionStart[c]+end > j.regionStart[c+1] {
		return nil, fmt.Errorf("%w: column %d row %d offsets out of order", ErrCorrupted, c, row)
	}
	base := j.regionStart[c]
	return j.data[base+start : base+end], nil
}

// Rows returns the number of rows in the jar.
func (j *Jar) Rows() uint64 { return j.rows }

// Columns returns the number of user columns.
func (j *Jar) Columns() int { return j.columnCount }

// Config returns the jar's filter configuration.
func (j *Jar) Config() Config { return j.cfg }

// Dir returns the generation directory the jar was opened from.
func (j *Jar) Dir() string { return j.dir }

// Key returns the stored key of a row.
func (j *Jar) Key(row uint64) ([]byte, error) {
	if j.closed.Load() {
		return nil, ErrClosed
	}
	if row >= j.rows {
		return nil, fmt.Errorf("%w: row %d of %d", ErrOutOfBounds, row, j.rows)
	}
	return j.cell(j.columnCount, row)
}

// Lookup resolves a key to its row and returns the decompressed cells of the
// requested columns (all columns when none are named). A missing key is
// (nil, false, nil), never an error. Jars built without filters cannot answer
// keyed lookups and return ErrUnsupported.
func (j *Jar) Lookup(key []byte, cols ...int) ([][]byte, bool, error) {
	out, found, err := j.lookup(key, cols)
	j.opts.logger.LogLookup(context.Background(), found, err)
	return out, found, err
}

func (j *Jar) lookup(key []byte, cols []int) ([][]byte, bool, error) {
	if j.closed.Load() {
		return nil, false, ErrClosed
	}
	if !j.cfg.Enabled() {
		return nil, false, fmt.Errorf("%w: jar built without filters", ErrUnsupported)
	}

	// The Unused sentinel reserves the filter slot without serving probes;
	// the stored-key comparison below still makes every hit authoritative.
	if j.cfg.FilterKind() != filter.KindUnused {
		hit, err := j.flt.Contains(key)
		if err != nil {
			return nil, false, err
		}
		if !hit {
			return nil, false, nil
		}
	}

	ord := j.fn.Get(key)
	if ord >= j.rows {
		return nil, false, nil
	}
	row := j.rowAt(ord)

	// The filter admits false positives and the perfect hash maps unknown
	// keys to arbitrary rows; comparing against the stored key is what makes
	// a hit authoritative.
	stored, err := j.cell(j.columnCount, row)
	if err != nil {
		return nil, false, err
	}
	if !bytes.Equal(stored, key) {
		return nil, false, nil
	}

	out, err := j.fetchRow(row, cols)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// LookupColumn is Lookup restricted to a single column.
func (j *Jar) LookupColumn(key []byte, col int) ([]byte, bool, error) {
	cells, found, err := j.Lookup(key, col)
	if err != nil || !found {
		return nil, found, err
	}
	return cells[0], true, nil
}

// Row returns the decompressed cells of the requested columns at the given
// row ordinal (all columns when none are named), bypassing the indexes.
func (j *Jar) Row(row uint64, cols ...int) ([][]byte, error) {
	if j.closed.Load() {
		return nil, ErrClosed
	}
	if row >= j.rows {
		return nil, fmt.Errorf("%w: row %d of %d", ErrOutOfBounds, row, j.rows)
	}
	return j.fetchRow(row, cols)
}

// Scan walks rows in ordinal order starting at start, invoking fn with each
// row's key and decompressed columns. fn returns false to stop early. The
// scan never consults the filter or the perfect hash.
func (j *Jar) Scan(start uint64, fn func(row uint64, key []byte, columns [][]byte) (bool, error)) error {
	if j.closed.Load() {
		return ErrClosed
	}
	if start > j.rows {
		return fmt.Errorf("%w: row %d of %d", ErrOutOfBounds, start, j.rows)
	}

	var count uint64
	for row := start; row < j.rows; row++ {
		key, err := j.cell(j.columnCount, row)
		if err != nil {
			j.opts.logger.LogScan(context.Background(), start, count, err)
			return err
		}
		columns, err := j.fetchRow(row, nil)
		if err != nil {
			j.opts.logger.LogScan(context.Background(), start, count, err)
			return err
		}
		cont, err := fn(row, key, columns)
		if err != nil {
			j.opts.logger.LogScan(context.Background(), start, count, err)
			return err
		}
		count++
		if !cont {
			break
		}
	}
	j.opts.logger.LogScan(context.Background(), start, count, nil)
	return nil
}

func (j *Jar) fetchRow(row uint64, cols []int) ([][]byte, error) {
	if cols == nil {
		cols = make([]int, j.columnCount)
		for i := range cols {
			cols[i] = i
		}
	}

	out := make([][]byte, len(cols))
	for i, c := range cols {
		if c < 0 || c >= j.columnCount {
			return nil, fmt.Errorf("%w: column %d of %d", ErrOutOfBounds, c, j.columnCount)
		}
		framed, err := j.cell(c, row)
		if err != nil {
			return nil, err
		}
		cell, err := j.codecs[c].Decompress(framed)
		if err != nil {
			return nil, fmt.Errorf("%w: column %d row %d: %v", ErrCorrupted, c, row, err)
		}
		out[i] = cell
	}
	return out, nil
}

// Close releases the underlying mappings. Outstanding slices returned by
// lookups into uncompressed columns must not be used after Close.
func (j *Jar) Close() error {
	if !j.closed.CompareAndSwap(false, true) {
		return nil
	}
	return j.closeBlobs()
}

func (j *Jar) closeBlobs() error {
	var firstErr error
	for _, b := range j.blobs {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	j.blobs = nil
	return firstErr
}
