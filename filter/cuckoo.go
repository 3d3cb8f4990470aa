package filter

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/bits"

	"github.com/spaolacci/murmur3"
)

const (
	slotsPerBucket = 4
	maxKicks       = 500
	maxLoadFactor  = 0.95

	// prngSeed makes eviction choices deterministic: freezing identical input
	// in identical order must produce byte-identical filter data.
	prngSeed = 0x9e3779b97f4a7c15
)

// Cuckoo is a bucketed cuckoo filter with 4 fingerprint slots per bucket.
//
// An element hashes to two candidate buckets; its fingerprint is stored in
// either. The alternate bucket is derived from the current bucket XOR a hash
// of the fingerprint (partial-key cuckoo hashing), so relocation never needs
// the original element. The false-positive rate is a function of the
// fingerprint width and slot occupancy, both fixed at construction.
type Cuckoo struct {
	buckets    []uint16 // numBuckets * slotsPerBucket fingerprints, 0 = empty
	numBuckets uint64   // power of two
	fpMask     uint16
	fpBits     uint8
	count      uint64
	prng       uint64
}

// NewCuckoo creates a filter sized for capacity elements with a ~1% target
// false-positive rate.
func NewCuckoo(capacity uint64) *Cuckoo {
	return NewCuckooWithFPP(capacity, 0.01)
}

// NewCuckooWithFPP creates a filter sized for capacity elements targeting the
// given false-positive probability. The fingerprint width is derived from the
// target: fpBits = ceil(log2(2 * slotsPerBucket / fpp)), clamped to [4, 16].
func NewCuckooWithFPP(capacity uint64, fpp float64) *Cuckoo {
	if capacity == 0 {
		capacity = 1
	}
	if fpp <= 0 || fpp >= 1 {
		fpp = 0.01
	}

	fpBits := uint8(math.Ceil(math.Log2(2 * slotsPerBucket / fpp)))
	if fpBits < 4 {
		fpBits = 4
	}
	if fpBits > 16 {
		fpBits = 16
	}

	need := uint64(math.Ceil(float64(capacity) / (slotsPerBucket * maxLoadFactor)))
	numBuckets := nextPow2(need)

	return &Cuckoo{
		buckets:    make([]uint16, numBuckets*slotsPerBucket),
		numBuckets: numBuckets,
		fpBits:     fpBits,
		fpMask:     uint16(1<<fpBits) - 1,
		prng:       prngSeed,
	}
}

func nextPow2(v uint64) uint64 {
	if v <= 1 {
		return 1
	}
	return 1 << bits.Len64(v-1)
}

func (c *Cuckoo) hashes(element []byte) (bucket uint64, fp uint16) {
	h1, h2 := murmur3.Sum128(element)
	fp = uint16(h2) & c.fpMask
	if fp == 0 {
		fp = 1
	}
	return h1 & (c.numBuckets - 1), fp
}

// altBucket derives the other candidate bucket from a bucket and fingerprint.
// XOR keeps it an involution: altBucket(altBucket(i, fp), fp) == i.
func (c *Cuckoo) altBucket(bucket uint64, fp uint16) uint64 {
	h := uint64(fp) * 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return (bucket ^ h) & (c.numBuckets - 1)
}

func (c *Cuckoo) nextRand() uint64 {
	x := c.prng
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	c.prng = x
	return x
}

func (c *Cuckoo) tryInsert(bucket uint64, fp uint16) bool {
	base := bucket * slotsPerBucket
	for s := uint64(0); s < slotsPerBucket; s++ {
		if c.buckets[base+s] == 0 {
			c.buckets[base+s] = fp
			return true
		}
	}
	return false
}

// Add implements Filter. After a successful Add, Contains on the same element
// returns true for the lifetime of the filter. A capacity failure strands the
// last evicted fingerprint, so the filter must be discarded with the build.
func (c *Cuckoo) Add(element []byte) error {
	i1, fp := c.hashes(element)
	i2 := c.altBucket(i1, fp)

	if c.tryInsert(i1, fp) || c.tryInsert(i2, fp) {
		c.count++
		return nil
	}

	// Both candidates full: evict a resident fingerprint and relocate it to
	// its own alternate bucket, repeating up to the kick limit.
	i := i1
	if c.nextRand()&1 == 1 {
		i = i2
	}
	for k := 0; k < maxKicks; k++ {
		slot := i*slotsPerBucket + c.nextRand()%slotsPerBucket
		fp, c.buckets[slot] = c.buckets[slot], fp

		i = c.altBucket(i, fp)
		if c.tryInsert(i, fp) {
			c.count++
			return nil
		}
	}

	return fmt.Errorf("%w: %d elements after %d kicks", ErrCapacityExceeded, c.count, maxKicks)
}

// Contains implements Filter.
func (c *Cuckoo) Contains(element []byte) (bool, error) {
	i1, fp := c.hashes(element)
	i2 := c.altBucket(i1, fp)

	for s := uint64(0); s < slotsPerBucket; s++ {
		if c.buckets[i1*slotsPerBucket+s] == fp || c.buckets[i2*slotsPerBucket+s] == fp {
			return true, nil
		}
	}
	return false, nil
}

// Kind implements Filter.
func (c *Cuckoo) Kind() Kind { return KindCuckoo }

// Count returns the number of elements added.
func (c *Cuckoo) Count() uint64 { return c.count }

// LoadFactor returns the fraction of occupied slots.
func (c *Cuckoo) LoadFactor() float64 {
	return float64(c.count) / float64(c.numBuckets*slotsPerBucket)
}

// SizeBytes returns the in-memory size of the bucket array.
func (c *Cuckoo) SizeBytes() int { return len(c.buckets) * 2 }

// WriteTo implements Filter.
//
// Layout: kind(1) fpBits(1) reserved(6) numBuckets(8) count(8) prng(8)
// followed by the bucket array as little-endian uint16 values.
func (c *Cuckoo) WriteTo(w io.Writer) (int64, error) {
	header := make([]byte, 32)
	header[0] = byte(KindCuckoo)
	header[1] = c.fpBits
	binary.LittleEndian.PutUint64(header[8:16], c.numBuckets)
	binary.LittleEndian.PutUint64(header[16:24], c.count)
	binary.LittleEndian.PutUint64(header[24:32], c.prng)

	var written int64
	n, err := w.Write(header)
	written += int64(n)
	if err != nil {
		return written, err
	}

	buf := make([]byte, len(c.buckets)*2)
	for i, fp := range c.buckets {
		binary.LittleEndian.PutUint16(buf[i*2:], fp)
	}
	n, err = w.Write(buf)
	written += int64(n)
	return written, err
}

// readCuckoo decodes a cuckoo filter body; the kind byte has already been
// consumed by Read.
func readCuckoo(r io.Reader) (*Cuckoo, error) {
	header := make([]byte, 31)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	fpBits := header[0]
	numBuckets := binary.LittleEndian.Uint64(header[7:15])
	count := binary.LittleEndian.Uint64(header[15:23])
	prng := binary.LittleEndian.Uint64(header[23:31])

	if fpBits < 4 || fpBits > 16 {
		return nil, fmt.Errorf("%w: fingerprint width %d", ErrCorrupted, fpBits)
	}
	if numBuckets == 0 || numBuckets&(numBuckets-1) != 0 {
		return nil, fmt.Errorf("%w: bucket count %d not a power of two", ErrCorrupted, numBuckets)
	}

	buf := make([]byte, numBuckets*slotsPerBucket*2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	buckets := make([]uint16, numBuckets*slotsPerBucket)
	for i := range buckets {
		buckets[i] = binary.LittleEndian.Uint16(buf[i*2:])
	}

	return &Cuckoo{
		buckets:    buckets,
		numBuckets: numBuckets,
		fpBits:     fpBits,
		fpMask:     uint16(1<<fpBits) - 1,
		count:      count,
		prng:       prng,
	}, nil
}
