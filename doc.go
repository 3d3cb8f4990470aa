// Package coljar provides an immutable, columnar, append-once storage format
// with probabilistic point-lookup indexes.
//
// A jar is built once, frozen, and then only read. Rows carry a fixed number
// of byte-slice columns plus a unique key. Two cooperating indexes serve
// keyed lookups: a cuckoo inclusion filter that cheaply rejects absent keys
// (no false negatives, bounded false positives) and a minimal perfect hash
// function that maps each known key to its row ordinal. Every index hit is
// verified against the stored key, so lookups are exact despite both indexes
// being probabilistic.
//
// # Quick Start
//
//	b, _ := coljar.NewBuilder(3, 1000, coljar.WithFilters(filter.KindCuckoo, phf.KindMinimal))
//	for _, r := range rows {
//	    _ = b.AppendRow(r.Columns, r.Key)
//	}
//	jar, _ := b.Freeze(ctx, "./data/gen-00000001")
//	defer jar.Close()
//
//	cells, found, _ := jar.Lookup([]byte("key"))
//
// Jars built with coljar.WithoutFilters() carry no indexes; they serve
// ordinal access (Row, Scan) only and keyed lookups return ErrUnsupported.
//
// # Generations
//
// Frozen jars never change. New data becomes a new generation directory,
// published atomically by rename; the generation package manages the
// manifest, the CURRENT pointer, and retirement of superseded generations
// once their readers drain.
//
// # Compression
//
// Each cell is compressed independently (LZ4 or Zstandard per column), so a
// point lookup decompresses only the cells it returns. Range scans walk the
// offset tables directly and never touch the indexes.
package coljar
