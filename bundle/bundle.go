// Package bundle defines the carrier types that move across the pipeline's
// bounded swap-queues (spec.md §3, §9): FastBundle, ReadBundle, SuperBundle,
// KmerBundle, and KmcBundle. Each bundle is pre-allocated by a Pool sized by
// the memory planner and reused for the life of the run — queues move
// bundle tokens, not bytes, and no bundle is allocated in steady state.
package bundle

// FastBundle holds up to len(Data) raw bytes read from an input file,
// finalized to a record boundary by the parser (spec §4.2: the reader itself
// never trims to a boundary).
type FastBundle struct {
	Data     []byte // fixed backing array, reused across swaps
	Size     int    // valid bytes in Data[:Size]
	Finished bool   // true once the owning file has been fully read
}

// Reset prepares a FastBundle for reuse.
func (f *FastBundle) Reset() {
	f.Size = 0
	f.Finished = false
}

// NewFastBundle allocates a FastBundle with a data buffer of capacity bytes.
func NewFastBundle(capacity int) *FastBundle {
	return &FastBundle{Data: make([]byte, capacity)}
}

// Record is a single read's sequence, owned by the ReadBundle that holds it.
type Record struct {
	Seq []byte // base sequence, bytes outside {A,C,G,T} mark boundary separators
}

// ReadBundle holds N parsed read records (spec §4.3).
type ReadBundle struct {
	Records []Record
	backing []byte // single allocation all Records[i].Seq slice into
}

// NewReadBundle allocates a ReadBundle able to hold up to maxRecords records
// totalling up to backingBytes bytes of sequence.
func NewReadBundle(maxRecords, backingBytes int) *ReadBundle {
	return &ReadBundle{
		Records: make([]Record, 0, maxRecords),
		backing: make([]byte, 0, backingBytes),
	}
}

// Reset clears the bundle for reuse, retaining its backing allocations.
func (r *ReadBundle) Reset() {
	r.Records = r.Records[:0]
	r.backing = r.backing[:0]
}

// Append copies seq into the bundle's backing array and records it as a new
// Record. Returns false if the bundle has no room left (caller must flush
// and retry against a fresh bundle).
func (r *ReadBundle) Append(seq []byte) bool {
	if len(r.Records) == cap(r.Records) || len(r.backing)+len(seq) > cap(r.backing) {
		return false
	}
	start := len(r.backing)
	r.backing = append(r.backing, seq...)
	r.Records = append(r.Records, Record{Seq: r.backing[start : start+len(seq)]})
	return true
}

// SuperMer is a maximal substring of a read over which one minimizer holds,
// already canonicalized if normalization is enabled (spec §3, §4.4).
type SuperMer struct {
	Seq []byte
	Bin int
}

// SuperBundle packs a list of super-mers destined for one bin (spec §3).
type SuperBundle struct {
	Bin   int
	Items []SuperMer
	bytes int // running total, tracked for BinWriter's stack-memory accounting
}

// NewSuperBundle allocates a SuperBundle able to hold up to maxItems super-mers.
func NewSuperBundle(maxItems int) *SuperBundle {
	return &SuperBundle{Items: make([]SuperMer, 0, maxItems)}
}

// Reset clears the bundle for reuse.
func (s *SuperBundle) Reset() {
	s.Items = s.Items[:0]
	s.bytes = 0
}

// Full reports whether the bundle has no room for another super-mer.
func (s *SuperBundle) Full() bool { return len(s.Items) == cap(s.Items) }

// Append adds a super-mer to the bundle. The caller retains ownership of seq
// only until Append returns: SuperBundle copies it so the sequence survives
// queue swaps and disk writes (the underlying ReadBundle it was sliced from
// may be recycled immediately after).
func (s *SuperBundle) Append(bin int, seq []byte) bool {
	if s.Full() {
		return false
	}
	cp := make([]byte, len(seq))
	copy(cp, seq)
	s.Items = append(s.Items, SuperMer{Seq: cp, Bin: bin})
	s.bytes += len(cp)
	return true
}

// Bytes returns the total sequence bytes currently held, used by the bin
// writer to pick the largest in-memory stack to flush under memory pressure.
func (s *SuperBundle) Bytes() int { return s.bytes }

// KmerBundle packs encoded k-mers (each ⌈2k/8⌉ bytes) belonging to one bin
// (spec §3).
type KmerBundle struct {
	Bin   int
	K     int
	Items [][]byte
}

// NewKmerBundle allocates a KmerBundle able to hold up to maxItems k-mers.
func NewKmerBundle(maxItems int) *KmerBundle {
	return &KmerBundle{Items: make([][]byte, 0, maxItems)}
}

// Reset clears the bundle for reuse.
func (k *KmerBundle) Reset() { k.Items = k.Items[:0] }

// Full reports whether the bundle has no room for another k-mer.
func (k *KmerBundle) Full() bool { return len(k.Items) == cap(k.Items) }

// Append adds an encoded k-mer to the bundle.
func (k *KmerBundle) Append(enc []byte) bool {
	if k.Full() {
		return false
	}
	k.Items = append(k.Items, enc)
	return true
}

// KmcPair is one (k-mer, multiplicity) observation emitted by a hasher.
type KmcPair struct {
	Kmer  []byte // canonical, packed encoding
	Count uint32
}

// KmcBundle packs a list of (k-mer, counter) pairs (spec §3).
type KmcBundle struct {
	Items []KmcPair
}

// NewKmcBundle allocates a KmcBundle able to hold up to maxItems pairs.
func NewKmcBundle(maxItems int) *KmcBundle {
	return &KmcBundle{Items: make([]KmcPair, 0, maxItems)}
}

// Reset clears the bundle for reuse.
func (k *KmcBundle) Reset() { k.Items = k.Items[:0] }

// Full reports whether the bundle has no room for another pair.
func (k *KmcBundle) Full() bool { return len(k.Items) == cap(k.Items) }

// Append adds a (k-mer, count) pair to the bundle.
func (k *KmcBundle) Append(kmerEnc []byte, count uint32) bool {
	if k.Full() {
		return false
	}
	k.Items = append(k.Items, KmcPair{Kmer: kmerEnc, Count: count})
	return true
}
