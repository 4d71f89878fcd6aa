package hasher

import (
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/biostreamio/kmerflow/bundle"
	"github.com/biostreamio/kmerflow/kerrors"
	"github.com/biostreamio/kmerflow/kmer"
	"github.com/biostreamio/kmerflow/metrics"
)

// Options configures one bin's CPU hash pass.
type Options struct {
	K             int
	Capacity      int // initial table capacity, from the planner
	ThresholdMin  uint32
	Normalize     bool // canonicalize each k-mer before insertion
	MaxProbe      int  // bounded probe distance; 0 means "whole table"
	SubBinFactor  int  // spill fan-out; spec §4.7 "new minimizer-of-minimizer partition (or a simple hash-of-k-mer partition)"
	MaxSpillDepth int  // recursion bound; exceeding it means even a single-entry sub-bin couldn't fit, which should be impossible
}

// HashBin runs the CPU hashing algorithm over one bin's super-mers (spec
// §4.7 steps 1-5) and returns every (k-mer, count) pair clearing
// opts.ThresholdMin. All of a bin's super-mers are expanded into k-mers up
// front rather than streamed; the planner sizes one table capacity for all
// bins from the bins' BinStat, and overflow is handled by spilling into sub-bins and
// recursing exactly as the spec describes, just over an in-memory slice
// instead of a re-read of the bin file.
func HashBin(bin int, superMers []bundle.SuperMer, opts Options) ([]bundle.KmcPair, error) {
	keys := make([][]byte, 0, len(superMers))
	for _, sm := range superMers {
		ks, err := expandKmers(sm.Seq, opts.K, opts.Normalize)
		if err != nil {
			return nil, kerrors.Format("hasher", err)
		}
		keys = append(keys, ks...)
	}
	return processKmers(bin, keys, opts.Capacity, opts, 0)
}

// expandKmers slides a length-K window over seq and returns every window's
// packed encoding, canonicalized if normalize is set.
func expandKmers(seq []byte, k int, normalize bool) ([][]byte, error) {
	if len(seq) < k {
		return nil, nil
	}
	out := make([][]byte, 0, len(seq)-k+1)
	for i := 0; i+k <= len(seq); i++ {
		win := seq[i : i+k]
		fwd, ok := kmer.Encode(win)
		if !ok {
			return nil, errInvalidBase{}
		}
		if !normalize {
			out = append(out, fwd)
			continue
		}
		rev := kmer.ReverseComplementEncoded(fwd, k)
		out = append(out, kmer.CanonicalEncoded(fwd, rev))
	}
	return out, nil
}

// processKmers inserts keys into a fresh table of the given capacity; on
// overflow it partitions every key (already-placed and not-yet-tried alike)
// into opts.SubBinFactor sub-bins by a hash of the packed k-mer, then
// recurses on each non-empty sub-bin with a correspondingly smaller table
// (spec §4.7 step 4), bottoming out once insertion succeeds outright.
func processKmers(bin int, keys [][]byte, capacity int, opts Options, depth int) ([]bundle.KmcPair, error) {
	t := NewTable(capacity)
	overflowAt := -1
	for i, key := range keys {
		if !t.Insert(key, opts.MaxProbe) {
			overflowAt = i
			break
		}
	}
	if overflowAt < 0 {
		return t.Entries(opts.ThresholdMin), nil
	}
	if depth >= opts.MaxSpillDepth {
		return nil, kerrors.Internal("hasher", bin, errSpillExhausted{depth})
	}
	metrics.HashTableSpills.Inc()

	subBins := opts.SubBinFactor
	if subBins < 2 {
		subBins = 2
	}
	buckets := make([][][]byte, subBins)
	for _, key := range keys {
		b := partitionHash(key, depth) % uint64(subBins)
		buckets[b] = append(buckets[b], key)
	}

	subCapacity := capacity / subBins
	if subCapacity < 1 {
		subCapacity = 1
	}

	var merged []bundle.KmcPair
	for _, bucket := range buckets {
		if len(bucket) == 0 {
			continue
		}
		pairs, err := processKmers(bin, bucket, subCapacity, opts, depth+1)
		if err != nil {
			return nil, err
		}
		merged = append(merged, pairs...)
	}
	return merged, nil
}

// partitionHash derives a fresh hash per recursion depth so that two keys
// colliding in the same sub-bin at one depth are not guaranteed to collide
// again at the next: xxhash.Sum64(key) alone, reduced mod the same
// sub-bin count every level, would never separate such a pair and spill
// recursion would never make progress.
func partitionHash(key []byte, depth int) uint64 {
	buf := make([]byte, len(key)+1)
	copy(buf, key)
	buf[len(key)] = byte(depth)
	return xxhash.Sum64(buf)
}

type errInvalidBase struct{}

func (errInvalidBase) Error() string { return "k-mer window contains a non-ACGT base" }

type errSpillExhausted struct{ depth int }

func (e errSpillExhausted) Error() string {
	return "hash table spill recursion exceeded its depth bound at depth " + strconv.Itoa(e.depth)
}
