package phf

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

const (
	// groupLoad is the average keys per group.
	groupLoad = 4

	// groupSeed routes keys to groups; per-group displacement seeds start at 1.
	groupSeed uint32 = 0xcafe_f00d

	// groupMaxSeed bounds the displacement search per group.
	groupMaxSeed uint32 = 1 << 24
)

// GroupOptimized is a hash-and-displace minimal PHF.
//
// Keys are routed into groups; each group stores one displacement seed chosen
// at build time so that every member lands on a distinct free slot of an
// n-slot table. The per-group seeds make the index larger than the baseline,
// but a query is a single group lookup plus one seeded hash.
type GroupOptimized struct {
	n         uint64
	numGroups uint64
	seeds     []uint32
}

func buildGroupOptimized(keys [][]byte) (*GroupOptimized, error) {
	n := uint64(len(keys))
	g := &GroupOptimized{n: n}
	if n == 0 {
		return g, nil
	}

	g.numGroups = (n + groupLoad - 1) / groupLoad
	g.seeds = make([]uint32, g.numGroups)

	groups := make([][][]byte, g.numGroups)
	for _, k := range keys {
		id := hashKey(k, groupSeed) % g.numGroups
		groups[id] = append(groups[id], k)
	}

	// Place the largest groups first, while the table is still mostly free.
	order := make([]uint64, 0, g.numGroups)
	for id := uint64(0); id < g.numGroups; id++ {
		if len(groups[id]) > 0 {
			order = append(order, id)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return len(groups[order[i]]) > len(groups[order[j]])
	})

	occupied := make([]uint64, (n+63)/64)
	trial := make([]uint64, 0, groupLoad*4)

	for _, id := range order {
		members := groups[id]
		placed := false

	seedSearch:
		for seed := uint32(1); seed < groupMaxSeed; seed++ {
			trial = trial[:0]
			for _, k := range members {
				pos := hashKey(k, seed) % n
				if occupied[pos/64]&(1<<(pos%64)) != 0 {
					continue seedSearch
				}
				for _, p := range trial {
					if p == pos {
						continue seedSearch
					}
				}
				trial = append(trial, pos)
			}

			for _, pos := range trial {
				occupied[pos/64] |= 1 << (pos % 64)
			}
			g.seeds[id] = seed
			placed = true
			break
		}

		if !placed {
			return nil, fmt.Errorf("%w: no displacement seed for group of %d keys", ErrBuildFailed, len(members))
		}
	}

	return g, nil
}

// Get implements Function.
func (g *GroupOptimized) Get(key []byte) uint64 {
	if g.n == 0 {
		return 0
	}
	seed := g.seeds[hashKey(key, groupSeed)%g.numGroups]
	if seed == 0 {
		// Empty group: only reachable by out-of-set keys.
		seed = 1
	}
	return hashKey(key, seed) % g.n
}

// Len implements Function.
func (g *GroupOptimized) Len() uint64 { return g.n }

// Kind implements Function.
func (g *GroupOptimized) Kind() Kind { return KindGroupOptimized }

// WriteTo implements Function.
//
// Layout: kind(1) reserved(7) n(8) numGroups(8), then the seed array as
// little-endian uint32 values.
func (g *GroupOptimized) WriteTo(w io.Writer) (int64, error) {
	header := make([]byte, 24)
	header[0] = byte(KindGroupOptimized)
	binary.LittleEndian.PutUint64(header[8:16], g.n)
	binary.LittleEndian.PutUint64(header[16:24], g.numGroups)

	var written int64
	n, err := w.Write(header)
	written += int64(n)
	if err != nil {
		return written, err
	}

	buf := make([]byte, len(g.seeds)*4)
	for i, seed := range g.seeds {
		binary.LittleEndian.PutUint32(buf[i*4:], seed)
	}
	n, err = w.Write(buf)
	written += int64(n)
	return written, err
}

func readGroupOptimized(r io.Reader) (*GroupOptimized, error) {
	header := make([]byte, 23)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	g := &GroupOptimized{
		n:         binary.LittleEndian.Uint64(header[7:15]),
		numGroups: binary.LittleEndian.Uint64(header[15:23]),
	}

	if g.n > 0 {
		want := (g.n + groupLoad - 1) / groupLoad
		if g.numGroups != want {
			return nil, fmt.Errorf("%w: group count %d for %d keys", ErrCorrupted, g.numGroups, g.n)
		}
		g.seeds = make([]uint32, g.numGroups)
		buf := make([]byte, g.numGroups*4)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		for i := range g.seeds {
			g.seeds[i] = binary.LittleEndian.Uint32(buf[i*4:])
		}
	}

	return g, nil
}
