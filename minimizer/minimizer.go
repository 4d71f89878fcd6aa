// Package minimizer computes the minimizer of a k-mer under a fixed total
// order on length-m strings, and assigns bins to minimizers (spec.md §3, §4.4).
//
// The order is a deterministic permutation of all 4^m encodings of length-m
// strings, built once from a non-cryptographic hash so that runs of the same
// base (AA...A) are rare minimizers rather than the most common one — this is
// what keeps bins balanced. Since the permutation is injective, two positions
// tie only when they hold the same m-mer; such ties are broken by leftmost
// position, which the sliding window below implements by only evicting a
// candidate for a strictly smaller one.
package minimizer

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Order is a fixed total order over all 4^m encodings of length-m strings.
// Build once per (m) and reuse across every k-mer in the run, so minimizer
// selection is deterministic regardless of thread scheduling (spec §4.4).
type Order struct {
	m    int
	rank []uint32 // rank[code] = position of code in the permutation; smaller rank sorts first
}

// entry pairs a length-m encoding with the hash NewOrder sorts by.
type entry struct {
	code uint64
	hash uint64
}

// NewOrder builds the permutation table for length-m strings. m must be in
// [1,31] (2*m bits must fit in a uint64 code).
func NewOrder(m int) *Order {
	n := uint64(1) << uint(2*m)
	entries := make([]entry, n)
	var buf [8]byte
	for code := uint64(0); code < n; code++ {
		binary.LittleEndian.PutUint64(buf[:], code)
		entries[code] = entry{code: code, hash: xxhash.Sum64(buf[:])}
	}
	sortEntries(entries)

	// AA...A (code 0) is forced to the worst rank so it is essentially never
	// chosen as a minimizer, per spec §3 ("a deterministic hash making AA…A
	// rare, to balance bin sizes"). Whatever code naturally sorted to the
	// worst rank takes code 0's vacated sorted position, so every rank in
	// [0,n) is still used exactly once.
	zeroPos := 0
	for i, e := range entries {
		if e.code == 0 {
			zeroPos = i
			break
		}
	}
	rank := make([]uint32, n)
	for i, e := range entries {
		switch {
		case e.code == 0:
			rank[e.code] = uint32(n) - 1
		case i == int(n)-1:
			rank[e.code] = uint32(zeroPos)
		default:
			rank[e.code] = uint32(i)
		}
	}
	return &Order{m: m, rank: rank}
}

// sortEntries is an allocation-free insertion sort kept simple since this
// only runs once per process at size 4^m (m is small, typically 4-10).
func sortEntries(es []entry) {
	for i := 1; i < len(es); i++ {
		j := i
		for j > 0 && es[j-1].hash > es[j].hash {
			es[j-1], es[j] = es[j], es[j-1]
			j--
		}
	}
}

// M returns the minimizer length this order was built for.
func (o *Order) M() int { return o.m }

// Rank returns the order position of the m-length encoding code: smaller
// sorts first (is a "smaller" minimizer).
func (o *Order) Rank(code uint64) uint32 { return o.rank[code] }

// code2 packs an ASCII base slice into a uint64 at 2 bits per base (first base
// in the highest bits) for table lookup. Callers pass exactly m bases.
func code2(seq []byte) uint64 {
	var code uint64
	for _, c := range seq {
		var b uint64
		switch c {
		case 'A', 'a':
			b = 0
		case 'C', 'c':
			b = 1
		case 'G', 'g':
			b = 2
		case 'T', 't':
			b = 3
		}
		code = code<<2 | b
	}
	return code
}

// Window computes the minimizer of a single k-mer (length k >= m) by
// evaluating all k-m+1 substrings of length m and keeping the one with the
// smallest rank, leftmost on ties.
func (o *Order) Window(kmerSeq []byte) (pos int, code uint64) {
	bestRank := ^uint32(0)
	for i := 0; i+o.m <= len(kmerSeq); i++ {
		c := code2(kmerSeq[i : i+o.m])
		r := o.Rank(c)
		if r < bestRank {
			bestRank = r
			pos = i
			code = c
		}
	}
	return pos, code
}

// Func maps a minimizer encoding to a bin id in [0, B). B should be a power
// of 4 (spec §3), but any B > 0 is accepted; f is well-dispersed because the
// bin is xxhash of the minimizer code modulo B, so adjacent minimizer codes
// do not map to adjacent bins.
type Func struct {
	b int
}

// NewFunc returns the bin-assignment function f: minimizer code -> [0,B).
func NewFunc(b int) *Func { return &Func{b: b} }

// Bin returns f(minimizerCode).
func (bf *Func) Bin(code uint64) int {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], code)
	h := xxhash.Sum64(buf[:])
	return int(h % uint64(bf.b))
}

// SlidingDeque maintains the minimizer over a sliding window of k-mers within
// a read in amortized O(1) per step, using a monotone deque of (position,
// code, rank) candidates (spec §4.4). It is used by the splitter to detect
// when the active minimizer changes as the window advances by one base.
type SlidingDeque struct {
	order *Order
	k     int
	items []item // non-decreasing rank from front to back; equal ranks keep arrival order
	next  int    // next m-mer start position not yet pushed
}

type item struct {
	pos  int // absolute read position of the m-mer's start
	rank uint32
	code uint64
}

// NewSlidingDeque creates a deque for k-mers of size k under order o.
func NewSlidingDeque(o *Order, k int) *SlidingDeque {
	return &SlidingDeque{order: o, k: k, items: make([]item, 0, k)}
}

// Reset clears the deque for a new read or a new super-mer boundary.
func (d *SlidingDeque) Reset() {
	d.items = d.items[:0]
	d.next = 0
}

// push evaluates the m-mer at pos and inserts it, evicting from the back any
// candidate the new one dominates (monotone deque).
func (d *SlidingDeque) push(read []byte, pos int) bool {
	m := d.order.m
	if pos < 0 || pos+m > len(read) {
		return false
	}
	c := code2(read[pos : pos+m])
	r := d.order.Rank(c)
	for len(d.items) > 0 && d.items[len(d.items)-1].rank > r {
		d.items = d.items[:len(d.items)-1]
	}
	d.items = append(d.items, item{pos: pos, rank: r, code: c})
	return true
}

// Advance brings the deque up to date for the k-mer window starting at
// kmerStart (i.e. [kmerStart, kmerStart+k)), pushing every not-yet-seen
// m-mer up to the window's rightmost one (absolute position
// kmerStart+k-m) and evicting from the front any candidate that fell out of
// the window. On the very first call for a fresh deque this seeds every
// m-mer in [0, k-m], not just the rightmost one — otherwise the first
// k-m windows of a run would have their minimizer computed over only a
// suffix of the window, making the minimizer (and therefore the bin) of a
// k-mer depend on its position within the read. Returns the current
// minimizer (position, code) for the k-mer window.
func (d *SlidingDeque) Advance(read []byte, kmerStart int) (pos int, code uint64, ok bool) {
	m := d.order.m
	newPos := kmerStart + d.k - m
	if newPos < 0 || newPos+m > len(read) {
		return 0, 0, false
	}
	for d.next <= newPos {
		if !d.push(read, d.next) {
			return 0, 0, false
		}
		d.next++
	}

	// evict from the front any candidate that fell out of the window.
	windowStart := kmerStart
	for len(d.items) > 0 && d.items[0].pos < windowStart {
		d.items = d.items[1:]
	}
	if len(d.items) == 0 {
		return 0, 0, false
	}
	front := d.items[0]
	return front.pos, front.code, true
}
