package phf

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"
	"sort"
)

const (
	// minimalGamma is the bits-per-key budget for each level. 2.0 keeps the
	// expected number of levels small without bloating the index.
	minimalGamma = 2.0

	// minimalMaxLevels bounds construction; keys still unplaced afterwards go
	// to the exact fallback table.
	minimalMaxLevels = 32

	// fallbackSeed hashes leftover keys into the fallback table.
	fallbackSeed uint32 = 0xffff_fffe
)

func minimalLevelSeed(level int) uint32 {
	return 0x5bd1e995 + uint32(level)*0x9e3779b9
}

// Minimal is the baseline multi-level minimal PHF.
//
// Each level is a bitmap sized gamma * remaining keys. A key whose hashed
// position is hit by no other remaining key sets that bit and is done; keys
// that collide retry on the next level with a fresh seed. A set bit's rank
// across all levels is the key's ordinal, which makes the function minimal:
// the ordinals are exactly [0, n) with no gaps.
type Minimal struct {
	n      uint64
	levels []minimalLevel

	// Exact table for keys that collided on every level. Sorted by hash.
	fallbackHashes   []uint64
	fallbackOrdinals []uint64
}

type minimalLevel struct {
	size       uint64   // bit count, multiple of 64
	rankOffset uint64   // ordinals assigned by prior levels
	words      []uint64 // bitmap
	ranks      []uint64 // cumulative popcount per word, rebuilt on load
}

func (l *minimalLevel) buildRanks() {
	l.ranks = make([]uint64, len(l.words))
	var cum uint64
	for i, w := range l.words {
		l.ranks[i] = cum
		cum += uint64(bits.OnesCount64(w))
	}
}

func (l *minimalLevel) rank(pos uint64) uint64 {
	word := pos / 64
	return l.ranks[word] + uint64(bits.OnesCount64(l.words[word]&((1<<(pos%64))-1)))
}

func buildMinimal(keys [][]byte) (*Minimal, error) {
	m := &Minimal{n: uint64(len(keys))}
	if m.n == 0 {
		return m, nil
	}

	remaining := keys
	var rankOffset uint64

	for level := 0; level < minimalMaxLevels && len(remaining) > 0; level++ {
		size := uint64(minimalGamma * float64(len(remaining)))
		size = (size + 63) / 64 * 64
		if size < 64 {
			size = 64
		}

		seed := minimalLevelSeed(level)
		words := make([]uint64, size/64)
		collide := make([]uint64, size/64)

		for _, k := range remaining {
			pos := hashKey(k, seed) % size
			w, b := pos/64, pos%64
			if words[w]&(1<<b) != 0 {
				collide[w] |= 1 << b
			}
			words[w] |= 1 << b
		}

		var next [][]byte
		for _, k := range remaining {
			pos := hashKey(k, seed) % size
			if collide[pos/64]&(1<<(pos%64)) != 0 {
				next = append(next, k)
			}
		}

		for i := range words {
			words[i] &^= collide[i]
		}

		lvl := minimalLevel{size: size, rankOffset: rankOffset, words: words}
		lvl.buildRanks()
		for _, w := range words {
			rankOffset += uint64(bits.OnesCount64(w))
		}
		m.levels = append(m.levels, lvl)
		remaining = next
	}

	// Leftovers after the level budget are stored exactly. With gamma 2 this
	// is empty for any realistic key set, but correctness cannot depend on it.
	if len(remaining) > 0 {
		type pair struct{ hash, ordinal uint64 }
		pairs := make([]pair, len(remaining))
		for i, k := range remaining {
			pairs[i] = pair{hash: hashKey(k, fallbackSeed), ordinal: rankOffset + uint64(i)}
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].hash < pairs[j].hash })
		for i := 1; i < len(pairs); i++ {
			if pairs[i].hash == pairs[i-1].hash {
				return nil, fmt.Errorf("%w: fallback hash collision", ErrBuildFailed)
			}
		}
		m.fallbackHashes = make([]uint64, len(pairs))
		m.fallbackOrdinals = make([]uint64, len(pairs))
		for i, p := range pairs {
			m.fallbackHashes[i] = p.hash
			m.fallbackOrdinals[i] = p.ordinal
		}
	}

	return m, nil
}

// Get implements Function.
func (m *Minimal) Get(key []byte) uint64 {
	if m.n == 0 {
		return 0
	}

	for level := range m.levels {
		lvl := &m.levels[level]
		pos := hashKey(key, minimalLevelSeed(level)) % lvl.size
		if lvl.words[pos/64]&(1<<(pos%64)) != 0 {
			return lvl.rankOffset + lvl.rank(pos)
		}
	}

	if len(m.fallbackHashes) > 0 {
		h := hashKey(key, fallbackSeed)
		i := sort.Search(len(m.fallbackHashes), func(i int) bool { return m.fallbackHashes[i] >= h })
		if i < len(m.fallbackHashes) && m.fallbackHashes[i] == h {
			return m.fallbackOrdinals[i]
		}
	}

	// Out-of-set key: arbitrary but in range.
	return hashKey(key, fallbackSeed) % m.n
}

// Len implements Function.
func (m *Minimal) Len() uint64 { return m.n }

// Kind implements Function.
func (m *Minimal) Kind() Kind { return KindMinimal }

// WriteTo implements Function.
//
// Layout: kind(1) reserved(7) n(8) numLevels(4) numFallback(4), then per
// level size(8) rankOffset(8) words, then fallback hash/ordinal pairs.
func (m *Minimal) WriteTo(w io.Writer) (int64, error) {
	header := make([]byte, 24)
	header[0] = byte(KindMinimal)
	binary.LittleEndian.PutUint64(header[8:16], m.n)
	binary.LittleEndian.PutUint32(header[16:20], uint32(len(m.levels)))
	binary.LittleEndian.PutUint32(header[20:24], uint32(len(m.fallbackHashes)))

	var written int64
	n, err := w.Write(header)
	written += int64(n)
	if err != nil {
		return written, err
	}

	for i := range m.levels {
		lvl := &m.levels[i]
		buf := make([]byte, 16+len(lvl.words)*8)
		binary.LittleEndian.PutUint64(buf[0:8], lvl.size)
		binary.LittleEndian.PutUint64(buf[8:16], lvl.rankOffset)
		for j, word := range lvl.words {
			binary.LittleEndian.PutUint64(buf[16+j*8:], word)
		}
		n, err := w.Write(buf)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}

	for i := range m.fallbackHashes {
		var buf [16]byte
		binary.LittleEndian.PutUint64(buf[0:8], m.fallbackHashes[i])
		binary.LittleEndian.PutUint64(buf[8:16], m.fallbackOrdinals[i])
		n, err := w.Write(buf[:])
		written += int64(n)
		if err != nil {
			return written, err
		}
	}

	return written, nil
}

func readMinimal(r io.Reader) (*Minimal, error) {
	header := make([]byte, 23)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	m := &Minimal{n: binary.LittleEndian.Uint64(header[7:15])}
	numLevels := binary.LittleEndian.Uint32(header[15:19])
	numFallback := binary.LittleEndian.Uint32(header[19:23])

	if numLevels > minimalMaxLevels {
		return nil, fmt.Errorf("%w: %d levels", ErrCorrupted, numLevels)
	}

	for i := uint32(0); i < numLevels; i++ {
		var lh [16]byte
		if _, err := io.ReadFull(r, lh[:]); err != nil {
			return nil, err
		}
		size := binary.LittleEndian.Uint64(lh[0:8])
		if size == 0 || size%64 != 0 {
			return nil, fmt.Errorf("%w: level size %d", ErrCorrupted, size)
		}

		lvl := minimalLevel{
			size:       size,
			rankOffset: binary.LittleEndian.Uint64(lh[8:16]),
			words:      make([]uint64, size/64),
		}
		buf := make([]byte, size/64*8)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		for j := range lvl.words {
			lvl.words[j] = binary.LittleEndian.Uint64(buf[j*8:])
		}
		lvl.buildRanks()
		m.levels = append(m.levels, lvl)
	}

	if numFallback > 0 {
		m.fallbackHashes = make([]uint64, numFallback)
		m.fallbackOrdinals = make([]uint64, numFallback)
		buf := make([]byte, 16)
		for i := uint32(0); i < numFallback; i++ {
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, err
			}
			m.fallbackHashes[i] = binary.LittleEndian.Uint64(buf[0:8])
			m.fallbackOrdinals[i] = binary.LittleEndian.Uint64(buf[8:16])
		}
	}

	return m, nil
}
