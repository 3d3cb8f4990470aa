package coljar

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// A frozen jar generation is a directory of four sidecar artifacts. Each is
// independently serialized and independently verifiable: an 8-byte
// magic+version header, a body, and a trailing CRC32-Castagnoli checksum over
// everything before the trailer.
const (
	// ColumnsFileName holds the column data regions plus the stored-key region.
	ColumnsFileName = "columns.dat"
	// OffsetsFileName holds the per-column offset tables.
	OffsetsFileName = "offsets.idx"
	// FilterFileName holds the serialized inclusion filter (or the disabled
	// sentinel, which also records the jar's filter configuration).
	FilterFileName = "filter.flt"
	// PHFFileName holds the serialized perfect hash function, if any.
	PHFFileName = "phf.idx"
)

const (
	magicColumns uint32 = 0x434a4152 // "CJAR"
	magicOffsets uint32 = 0x434a4f46 // "CJOF"
	magicFilter  uint32 = 0x434a464c // "CJFL"
	magicPHF     uint32 = 0x434a5048 // "CJPH"

	// FormatVersion is the current sidecar format version.
	FormatVersion uint32 = 1

	sidecarHeaderSize  = 8
	sidecarTrailerSize = 4

	columnsHeaderSize = 32
	offsetsHeaderSize = 24
)

// CRC32-Castagnoli: hardware-accelerated on modern CPUs and the standard
// choice for storage engines.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// SidecarFileNames lists the artifacts of one frozen generation.
func SidecarFileNames() []string {
	return []string{ColumnsFileName, OffsetsFileName, FilterFileName, PHFFileName}
}

// writeSidecar frames a sidecar body with the magic+version header and the
// CRC trailer.
func writeSidecar(w io.Writer, magic uint32, body func(io.Writer) error) error {
	crc := crc32.New(castagnoli)
	mw := io.MultiWriter(w, crc)

	var header [sidecarHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:8], FormatVersion)
	if _, err := mw.Write(header[:]); err != nil {
		return err
	}

	if err := body(mw); err != nil {
		return err
	}

	var trailer [sidecarTrailerSize]byte
	binary.LittleEndian.PutUint32(trailer[:], crc.Sum32())
	_, err := w.Write(trailer[:])
	return err
}

// sidecarBody validates a mapped sidecar and returns its body slice. Any
// mismatch — length, magic, version, checksum — refuses the artifact as
// corrupted; repair is never attempted here.
func sidecarBody(data []byte, wantMagic uint32, name string) ([]byte, error) {
	if len(data) < sidecarHeaderSize+sidecarTrailerSize {
		return nil, fmt.Errorf("%w: %s truncated (%d bytes)", ErrCorrupted, name, len(data))
	}

	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != wantMagic {
		return nil, fmt.Errorf("%w: %s bad magic 0x%08x", ErrCorrupted, name, magic)
	}

	version := binary.LittleEndian.Uint32(data[4:8])
	if version == 0 || version > FormatVersion {
		return nil, fmt.Errorf("%w: %s unsupported version %d", ErrCorrupted, name, version)
	}

	want := binary.LittleEndian.Uint32(data[len(data)-sidecarTrailerSize:])
	got := crc32.Checksum(data[:len(data)-sidecarTrailerSize], castagnoli)
	if got != want {
		return nil, fmt.Errorf("%w: %s checksum mismatch (expected 0x%08x, got 0x%08x)", ErrCorrupted, name, want, got)
	}

	return data[sidecarHeaderSize : len(data)-sidecarTrailerSize], nil
}

// columnsHeader is the fixed-size prefix of the columns.dat body.
type columnsHeader struct {
	columnCount uint32
	rowCount    uint64
}

func (h *columnsHeader) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.columnCount)
	binary.LittleEndian.PutUint64(buf[8:16], h.rowCount)
}

func decodeColumnsHeader(body []byte) (columnsHeader, error) {
	if len(body) < columnsHeaderSize-sidecarHeaderSize {
		return columnsHeader{}, fmt.Errorf("%w: %s header truncated", ErrCorrupted, ColumnsFileName)
	}
	return columnsHeader{
		columnCount: binary.LittleEndian.Uint32(body[0:4]),
		rowCount:    binary.LittleEndian.Uint64(body[8:16]),
	}, nil
}

// offsetsHeader is the fixed-size prefix of the offsets.idx body.
type offsetsHeader struct {
	columnCount uint32
	rowCount    uint64
}

func (h *offsetsHeader) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.columnCount)
	binary.LittleEndian.PutUint64(buf[8:16], h.rowCount)
}

func decodeOffsetsHeader(body []byte) (offsetsHeader, error) {
	if len(body) < offsetsHeaderSize-sidecarHeaderSize {
		return offsetsHeader{}, fmt.Errorf("%w: %s header truncated", ErrCorrupted, OffsetsFileName)
	}
	return offsetsHeader{
		columnCount: binary.LittleEndian.Uint32(body[0:4]),
		rowCount:    binary.LittleEndian.Uint64(body[8:16]),
	}, nil
}
