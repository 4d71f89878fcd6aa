package hasher

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/biostreamio/kmerflow/bundle"
	"github.com/biostreamio/kmerflow/kmer"
	"github.com/biostreamio/kmerflow/metrics"
)

func defaultOptions(k, capacity int) Options {
	return Options{
		K:             k,
		Capacity:      capacity,
		ThresholdMin:  1,
		Normalize:     false,
		MaxProbe:      0,
		SubBinFactor:  4,
		MaxSpillDepth: 16,
	}
}

func TestTableInsertCountsOccurrencesExactly(t *testing.T) {
	t.Parallel()
	tab := NewTable(16)
	enc, _ := kmer.Encode([]byte("ACGT"))
	for i := 0; i < 5; i++ {
		if !tab.Insert(enc, 0) {
			t.Fatalf("Insert #%d failed unexpectedly", i)
		}
	}
	entries := tab.Entries(1)
	if len(entries) != 1 {
		t.Fatalf("got %d distinct entries, want 1", len(entries))
	}
	if entries[0].Count != 5 {
		t.Fatalf("count = %d, want 5", entries[0].Count)
	}
}

func TestTableEntriesFiltersByThreshold(t *testing.T) {
	t.Parallel()
	tab := NewTable(16)
	a, _ := kmer.Encode([]byte("AAAA"))
	b, _ := kmer.Encode([]byte("CCCC"))
	tab.Insert(a, 0)
	tab.Insert(b, 0)
	tab.Insert(b, 0)
	entries := tab.Entries(2)
	if len(entries) != 1 || entries[0].Count != 2 {
		t.Fatalf("got %+v, want a single entry with count 2", entries)
	}
}

func TestHashBinCountsAllWindowsOfASuperMer(t *testing.T) {
	t.Parallel()
	k := 4
	seq := []byte("ACGTACGTAC") // 7 overlapping 4-mers
	sm := []bundle.SuperMer{{Seq: seq, Bin: 0}}
	pairs, err := HashBin(0, sm, defaultOptions(k, 64))
	if err != nil {
		t.Fatalf("HashBin: %v", err)
	}
	var total uint32
	for _, p := range pairs {
		total += p.Count
	}
	want := uint32(len(seq) - k + 1)
	if total != want {
		t.Fatalf("total occurrences = %d, want %d", total, want)
	}
}

func TestHashBinNormalizeMergesCanonicalPairs(t *testing.T) {
	t.Parallel()
	k := 4
	fwd := []byte("AAAC") // reverse complement GTTT; both canonicalize to AAAC
	sm := []bundle.SuperMer{
		{Seq: fwd, Bin: 0},
		{Seq: kmer.ReverseComplement(fwd), Bin: 0},
	}
	opts := defaultOptions(k, 64)
	opts.Normalize = true
	pairs, err := HashBin(0, sm, opts)
	if err != nil {
		t.Fatalf("HashBin: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("got %d distinct canonical k-mers, want 1 (AAAC and GTTT share a canonical form)", len(pairs))
	}
	if pairs[0].Count != 2 {
		t.Fatalf("count = %d, want 2", pairs[0].Count)
	}
}

func TestHashBinSpillsAndRecoversExactCountsUnderTinyCapacity(t *testing.T) {
	t.Parallel()
	k := 4
	seq := []byte("ACGTACGTTTTTGGGGCCCCAAAATACGGATTACA")
	sm := []bundle.SuperMer{{Seq: seq, Bin: 3}}
	opts := defaultOptions(k, 2) // forces at least one spill
	opts.MaxProbe = 1
	spillsBefore := testutil.ToFloat64(metrics.HashTableSpills)
	pairs, err := HashBin(3, sm, opts)
	if err != nil {
		t.Fatalf("HashBin with tiny capacity: %v", err)
	}
	var total uint32
	for _, p := range pairs {
		total += p.Count
	}
	want := uint32(len(seq) - k + 1)
	if total != want {
		t.Fatalf("total occurrences after spill = %d, want %d (counts must stay exact regardless of table size)", total, want)
	}
	if spillsAfter := testutil.ToFloat64(metrics.HashTableSpills); spillsAfter <= spillsBefore {
		t.Fatalf("HashTableSpills did not increment: before=%v after=%v", spillsBefore, spillsAfter)
	}
}

func TestHashGPUBinFallsBackToCPU(t *testing.T) {
	t.Parallel()
	if GPUAvailable() {
		t.Fatal("no GPU backend is wired in; GPUAvailable must report false")
	}
	k := 4
	seq := []byte("ACGTACGTAC")
	sm := []bundle.SuperMer{{Seq: seq, Bin: 0}}
	pairs, err := HashGPUBin(0, sm, defaultOptions(k, 64), zerolog.Nop())
	if err != nil {
		t.Fatalf("HashGPUBin: %v", err)
	}
	var total uint32
	for _, p := range pairs {
		total += p.Count
	}
	if want := uint32(len(seq) - k + 1); total != want {
		t.Fatalf("total occurrences = %d, want %d", total, want)
	}
}

func TestPoolHistogramAggregatesAcrossBins(t *testing.T) {
	t.Parallel()
	p := NewPool()
	p.Record([]bundle.KmcPair{{Kmer: []byte("a"), Count: 3}, {Kmer: []byte("b"), Count: 3}})
	p.Record([]bundle.KmcPair{{Kmer: []byte("c"), Count: 7}})
	hist := p.Histogram()
	if hist[3] != 2 {
		t.Fatalf("hist[3] = %d, want 2", hist[3])
	}
	if hist[7] != 1 {
		t.Fatalf("hist[7] = %d, want 1", hist[7])
	}
}
