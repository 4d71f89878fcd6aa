// Package distributor implements the shared distributor state from spec.md
// §4.6: it orders bins largest-first, hands the bin reader its next bin to
// pre-read, and hands hashers the next bin to claim, while bounding how far
// the reader is allowed to run ahead of the slowest hasher.
package distributor

import (
	"sort"

	"github.com/biostreamio/kmerflow/binio"
)

// Distributor is "a single small struct protected by a mutex + condition
// variable; operations are O(1)" (spec §5). It owns no bin data itself —
// just the assignment order and the claim/read-ahead bookkeeping — so the
// BinReader and hashers stay free to plumb SuperBundles however the caller
// wires them.
type Distributor struct {
	order []int // bin ids, largest BinStat.Bytes first

	mu       chan struct{} // binary semaphore; see lock/unlock below
	readIdx  int           // next_bin: next bin index the reader may pre-read
	claimIdx int           // next bin index a hasher may claim
	current  []int         // current[h]: bin currently owned by hasher h, or -1

	maxReadAhead int
	waiters      []chan struct{} // parked goroutines woken on state change
}

// New builds a Distributor over len(sizes) bins, ordering them largest-first
// by the byte sizes reported in sizes (sizes[b] is bin b's total bytes).
// GPU hashers are expected to
// register as the lowest hasher ids so they claim the heaviest bins first
// (spec §5), which falls out naturally here since Claim always returns the
// next unclaimed bin in the largest-first order regardless of which hasher
// asks. maxReadAhead bounds how many bins the reader may have pre-read
// beyond the bins hashers have claimed so far; a value < 1 means "no
// look-ahead beyond one bin".
func New(sizes []int64, numHashers, maxReadAhead int) *Distributor {
	numBins := len(sizes)
	order := make([]int, numBins)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return sizes[order[i]] > sizes[order[j]]
	})
	if maxReadAhead < 1 {
		maxReadAhead = 1
	}
	current := make([]int, numHashers)
	for i := range current {
		current[i] = -1
	}
	d := &Distributor{
		order:        order,
		mu:           make(chan struct{}, 1),
		current:      current,
		maxReadAhead: maxReadAhead,
	}
	d.mu <- struct{}{}
	return d
}

func (d *Distributor) lock()   { <-d.mu }
func (d *Distributor) unlock() { d.mu <- struct{}{} }

// wake is called with the lock held; it notifies every parked waiter that
// state changed, letting them re-check their condition.
func (d *Distributor) wake() {
	for _, c := range d.waiters {
		close(c)
	}
	d.waiters = d.waiters[:0]
}

// park must be called with the lock held and returns a channel that closes
// on the next wake(); the caller releases the lock, waits on the channel,
// then re-acquires the lock before re-checking its condition.
func (d *Distributor) park() chan struct{} {
	c := make(chan struct{})
	d.waiters = append(d.waiters, c)
	return c
}

// NextForReader returns the next bin the bin reader should pre-read, in
// largest-first order, blocking while the reader is already maxReadAhead
// bins ahead of the last hasher claim. ok is false once every bin has been
// handed out.
func (d *Distributor) NextForReader() (bin int, ok bool) {
	d.lock()
	for {
		if d.readIdx >= len(d.order) {
			d.unlock()
			return 0, false
		}
		if d.readIdx-d.claimIdx < d.maxReadAhead {
			bin = d.order[d.readIdx]
			d.readIdx++
			d.wake()
			d.unlock()
			return bin, true
		}
		c := d.park()
		d.unlock()
		<-c
		d.lock()
	}
}

// Claim assigns hasherID the next bin in order, blocking until the reader
// has made one available. ok is false once every bin has been claimed.
func (d *Distributor) Claim(hasherID int) (bin int, ok bool) {
	d.lock()
	for {
		if d.claimIdx >= len(d.order) {
			d.unlock()
			return 0, false
		}
		if d.claimIdx < d.readIdx {
			bin = d.order[d.claimIdx]
			d.claimIdx++
			d.current[hasherID] = bin
			d.wake()
			d.unlock()
			return bin, true
		}
		c := d.park()
		d.unlock()
		<-c
		d.lock()
	}
}

// Release marks hasherID idle after it finishes emitting a bin's counts.
func (d *Distributor) Release(hasherID int) {
	d.lock()
	d.current[hasherID] = -1
	d.wake()
	d.unlock()
}

// Current reports the bin hasherID currently owns, or -1 if idle.
func (d *Distributor) Current(hasherID int) int {
	d.lock()
	defer d.unlock()
	return d.current[hasherID]
}

// NewFromStats builds a Distributor directly from the BinStat gathered
// during stage 1, ordering bins by BinStat.Bytes (spec §4.6: "Assignment
// strategy: largest bins first (by BinStat.size)").
func NewFromStats(stats []binio.BinStat, numHashers, maxReadAhead int) *Distributor {
	sizes := make([]int64, len(stats))
	for i, s := range stats {
		sizes[i] = s.Bytes
	}
	return New(sizes, numHashers, maxReadAhead)
}

// NumBins returns the total number of bins in the assignment order.
func (d *Distributor) NumBins() int { return len(d.order) }

// Order returns the largest-first bin assignment order, for inspection and
// testing. The caller must not mutate the returned slice.
func (d *Distributor) Order() []int { return d.order }
