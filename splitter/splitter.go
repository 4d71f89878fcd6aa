// Package splitter implements stage 1's Splitter component (spec.md §4.4):
// enumerating each read's super-mers by minimizer and routing them into the
// bin-partitioned SuperBundle sink.
package splitter

import (
	"github.com/biostreamio/kmerflow/bundle"
	"github.com/biostreamio/kmerflow/kmer"
	"github.com/biostreamio/kmerflow/minimizer"
	"github.com/biostreamio/kmerflow/queue"
)

// Splitter pulls ReadBundles from one shared input queue and emits
// super-mers into the bin-partitioned output sink. Multiple Splitters can
// run concurrently, each with its own set of open per-bin SuperBundles
// (spec §4.4: "each maintains its own per-bin open SuperBundles").
type Splitter struct {
	order     *minimizer.Order
	binFunc   *minimizer.Func
	k         int
	normalize bool

	in  *queue.SPSC[*bundle.ReadBundle]
	out *queue.Binned[*bundle.SuperBundle]

	readPool *bundle.Pool[bundle.ReadBundle]
	superPool *bundle.Pool[bundle.SuperBundle]

	open map[int]*bundle.SuperBundle
}

// New builds a Splitter for k-mers of size k and minimizers of size
// order.M(), assigning bins via binFunc. normalize enables canonical orientation
// (spec §4.4, I3).
func New(order *minimizer.Order, binFunc *minimizer.Func, k int, normalize bool,
	in *queue.SPSC[*bundle.ReadBundle], out *queue.Binned[*bundle.SuperBundle],
	readPool *bundle.Pool[bundle.ReadBundle], superPool *bundle.Pool[bundle.SuperBundle]) *Splitter {
	return &Splitter{
		order:     order,
		binFunc:   binFunc,
		k:         k,
		normalize: normalize,
		in:        in,
		out:       out,
		readPool:  readPool,
		superPool: superPool,
		open:      make(map[int]*bundle.SuperBundle),
	}
}

// Run drains `in` until end-of-stream, pushing full SuperBundles to `out`
// as they fill. The caller is responsible for coordinating Finalize of the
// shared per-bin output queues once every Splitter goroutine returns.
func (s *Splitter) Run() error {
	for {
		rb, ok := s.in.Pop()
		if !ok {
			break
		}
		for _, rec := range rb.Records {
			s.splitRead(rec.Seq)
		}
		s.readPool.Put(rb)
	}
	s.flushAll()
	return nil
}

// flushAll pushes every still-open SuperBundle downstream; called once at
// end of stream (spec §4.5 expects the bin writer to see every super-mer
// eventually, even ones sitting in a not-yet-full bundle).
func (s *Splitter) flushAll() {
	for bin, sb := range s.open {
		if len(sb.Items) > 0 {
			s.out.Push(bin, sb)
			s.open[bin] = s.superPool.Get()
			s.open[bin].Reset()
		}
	}
}

func (s *Splitter) bundleFor(bin int) *bundle.SuperBundle {
	sb, ok := s.open[bin]
	if !ok {
		sb = s.superPool.Get()
		sb.Reset()
		s.open[bin] = sb
	}
	return sb
}

func (s *Splitter) emit(bin int, seq []byte) {
	sb := s.bundleFor(bin)
	if !sb.Append(bin, seq) {
		s.out.Push(bin, sb)
		sb = s.superPool.Get()
		sb.Reset()
		s.open[bin] = sb
		sb.Append(bin, seq)
	}
}

// minimizerHit records the winning minimizer for one k-mer window, plus
// which strand it came from when normalization is enabled.
type minimizerHit struct {
	code   uint64
	rank   uint32
	strand int8 // 0 = forward, 1 = reverse-complement
}

// splitRead enumerates super-mers for one read, skipping runs shorter than k
// and treating any base outside {A,C,G,T} as a boundary separator (spec
// §4.3, E3).
func (s *Splitter) splitRead(seq []byte) {
	start := 0
	for start < len(seq) {
		for start < len(seq) && !isACGT(seq[start]) {
			start++
		}
		end := start
		for end < len(seq) && isACGT(seq[end]) {
			end++
		}
		if end-start >= s.k {
			s.splitRun(seq[start:end])
		}
		start = end
	}
}

func isACGT(c byte) bool {
	switch c {
	case 'A', 'a', 'C', 'c', 'G', 'g', 'T', 't':
		return true
	default:
		return false
	}
}

// splitRun enumerates super-mers within one maximal valid-base run.
func (s *Splitter) splitRun(run []byte) {
	k := s.k
	L := len(run)
	numKmers := L - k + 1
	if numKmers <= 0 {
		return
	}

	fwdCode := make([]uint64, numKmers)
	fd := minimizer.NewSlidingDeque(s.order, k)
	for i := 0; i < numKmers; i++ {
		_, c, ok := fd.Advance(run, i)
		if !ok {
			return
		}
		fwdCode[i] = c
	}

	var hits []minimizerHit
	if !s.normalize {
		hits = make([]minimizerHit, numKmers)
		for i := 0; i < numKmers; i++ {
			hits[i] = minimizerHit{code: fwdCode[i], rank: s.order.Rank(fwdCode[i])}
		}
	} else {
		revRun := kmer.ReverseComplement(run)
		revCode := make([]uint64, numKmers)
		rd := minimizer.NewSlidingDeque(s.order, k)
		for j := 0; j < numKmers; j++ {
			_, c, ok := rd.Advance(revRun, j)
			if !ok {
				return
			}
			revCode[j] = c
		}
		hits = make([]minimizerHit, numKmers)
		for i := 0; i < numKmers; i++ {
			fr := s.order.Rank(fwdCode[i])
			j := numKmers - 1 - i
			rr := s.order.Rank(revCode[j])
			if fr <= rr {
				hits[i] = minimizerHit{code: fwdCode[i], rank: fr, strand: 0}
			} else {
				hits[i] = minimizerHit{code: revCode[j], rank: rr, strand: 1}
			}
		}
	}

	superStart := 0
	for i := 1; i <= numKmers; i++ {
		if i == numKmers || hits[i].code != hits[superStart].code || hits[i].strand != hits[superStart].strand {
			s.emitSuperMer(run, superStart, i-1, k, hits[superStart])
			superStart = i
		}
	}
}

// emitSuperMer closes out the super-mer spanning k-mer indices
// [kStart,kEnd] (inclusive) of run, choosing the strand recorded in hit.
func (s *Splitter) emitSuperMer(run []byte, kStart, kEnd, k int, hit minimizerHit) {
	var seq []byte
	if hit.strand == 0 {
		seq = run[kStart : kEnd+k]
	} else {
		revRun := kmer.ReverseComplement(run)
		numKmers := len(run) - k + 1
		jStart := numKmers - 1 - kEnd
		jEnd := numKmers - 1 - kStart
		seq = revRun[jStart : jEnd+k]
	}
	bin := s.binFunc.Bin(hit.code)
	s.emit(bin, seq)
}
