package hasher

import (
	"sync"

	"github.com/biostreamio/kmerflow/bundle"
)

// Pool aggregates the emitted (k-mer, count) pairs from every bin into a
// count -> distinct-k-mer-count histogram (SPEC_FULL.md §4, restoring
// Gerbil's `kmerHasher.saveHistogram()` behind `--histogram`). It holds no
// per-k-mer data, only the histogram, so its memory footprint is bounded by
// the range of observed counts rather than the number of distinct k-mers.
type Pool struct {
	mu   sync.Mutex
	hist map[uint32]uint64
}

// NewPool creates an empty histogram aggregator.
func NewPool() *Pool {
	return &Pool{hist: make(map[uint32]uint64)}
}

// Record folds one bin's hasher output into the running histogram. Safe to
// call concurrently from multiple hasher workers.
func (p *Pool) Record(pairs []bundle.KmcPair) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, kc := range pairs {
		p.hist[kc.Count]++
	}
}

// Histogram returns a snapshot copy of the count -> distinct-k-mer-count map.
func (p *Pool) Histogram() map[uint32]uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[uint32]uint64, len(p.hist))
	for k, v := range p.hist {
		out[k] = v
	}
	return out
}
