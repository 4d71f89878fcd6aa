// Package queue implements the bounded swap-queues described in spec.md §4.1.
//
// A Go channel already gives us FIFO blocking push/pop and a natural
// finalize-then-drain close semantics, so rather than hand-rolling the
// C++ source's mutex+condvar SyncSwapQueue, each queue here is a thin typed
// wrapper over a buffered channel. "Swap" ownership transfer — a producer
// trades a filled bundle for a recycled empty one — is expressed by pairing
// a Queue with a bundle.Pool: the producer calls Pool.Get, fills it, and
// Push()es it; the consumer Pop()s it, drains it, and Pool.Put()s it back.
// That pairing is Push/Pop plus the pool, not a queue responsibility, which
// keeps the queue itself a one-concept type.
package queue

// SPSC is a single-producer single-consumer bounded queue (spec §4.1): FIFO,
// `Push` blocks while full, `Pop` blocks while empty, `Finalize` causes
// subsequent `Pop`s to drain remaining items and then report end-of-stream.
type SPSC[T any] struct {
	ch chan T
}

// NewSPSC creates an SPSC queue with capacity >= 1.
func NewSPSC[T any](capacity int) *SPSC[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &SPSC[T]{ch: make(chan T, capacity)}
}

// Push enqueues an item, blocking if the queue is full. Must not be called
// after Finalize.
func (q *SPSC[T]) Push(item T) { q.ch <- item }

// Pop dequeues the next item in FIFO order. ok is false once the queue is
// finalized and drained.
func (q *SPSC[T]) Pop() (item T, ok bool) {
	item, ok = <-q.ch
	return item, ok
}

// Finalize closes the queue: no further Push is permitted, and Pop drains
// whatever remains before reporting end-of-stream. A queue never reopens
// (spec §4.1: "open → finalized → drained").
func (q *SPSC[T]) Finalize() { close(q.ch) }

// Cap returns the queue's configured capacity.
func (q *SPSC[T]) Cap() int { return cap(q.ch) }

// Len returns the number of items currently buffered.
func (q *SPSC[T]) Len() int { return len(q.ch) }

// MPSC is a multi-producer single-consumer bounded queue (spec §4.1).
// Ordering across producers is not guaranteed, matching the OutputFilter's
// order-insensitivity (spec §4.1, §5). Finalize is not per-producer: the
// caller is responsible for calling it exactly once after coordinating
// that every producer is done (e.g. via a sync.WaitGroup), since a second
// close on the same channel panics.
type MPSC[T any] struct {
	ch chan T
}

// NewMPSC creates an MPSC queue with capacity >= 1.
func NewMPSC[T any](capacity int) *MPSC[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &MPSC[T]{ch: make(chan T, capacity)}
}

// Push enqueues an item from any producer goroutine, blocking if full.
func (q *MPSC[T]) Push(item T) { q.ch <- item }

// Pop dequeues the next available item, in arrival order across producers.
func (q *MPSC[T]) Pop() (item T, ok bool) {
	item, ok = <-q.ch
	return item, ok
}

// Finalize closes the queue once all producers are done.
func (q *MPSC[T]) Finalize() { close(q.ch) }

// Cap returns the queue's configured capacity.
func (q *MPSC[T]) Cap() int { return cap(q.ch) }

// Len returns the number of items currently buffered.
func (q *MPSC[T]) Len() int { return len(q.ch) }

// Binned is the "multiplexed variant partitioned by bin id" from spec §4.1,
// used for the splitter-to-binwriter edge: one logical sink, but physically
// B independent per-bin queues so the bin writer can track per-bin memory
// pressure (spec §4.5) without contending on a single channel.
type Binned[T any] struct {
	queues []*MPSC[T]
}

// NewBinned creates B per-bin MPSC queues, each with the given capacity.
func NewBinned[T any](b, capacity int) *Binned[T] {
	bn := &Binned[T]{queues: make([]*MPSC[T], b)}
	for i := range bn.queues {
		bn.queues[i] = NewMPSC[T](capacity)
	}
	return bn
}

// Push enqueues an item onto the queue for the given bin.
func (bn *Binned[T]) Push(bin int, item T) { bn.queues[bin].Push(item) }

// Pop dequeues the next item for the given bin.
func (bn *Binned[T]) Pop(bin int) (item T, ok bool) { return bn.queues[bin].Pop() }

// Finalize closes the queue for the given bin.
func (bn *Binned[T]) Finalize(bin int) { bn.queues[bin].Finalize() }

// NumBins returns the number of bins.
func (bn *Binned[T]) NumBins() int { return len(bn.queues) }

// Depth returns the number of items currently buffered for the given bin.
func (bn *Binned[T]) Depth(bin int) int { return bn.queues[bin].Len() }

// TotalDepth returns the number of items currently buffered across all bins.
func (bn *Binned[T]) TotalDepth() int {
	total := 0
	for _, q := range bn.queues {
		total += q.Len()
	}
	return total
}
