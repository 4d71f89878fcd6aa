package bundle

// Pool is a fixed-size, pre-allocated set of reusable bundles of type T. The
// memory planner (package planner) decides how many to allocate; after that
// the pool's capacity never grows, so steady-state operation performs no
// allocation (spec §9: "a pre-allocated bundle pool sized by the planner;
// queues move bundle tokens, not bytes").
type Pool[T any] struct {
	free chan *T
}

// NewPool builds a Pool with n bundles, each constructed by newFn.
func NewPool[T any](n int, newFn func() *T) *Pool[T] {
	p := &Pool[T]{free: make(chan *T, n)}
	for i := 0; i < n; i++ {
		p.free <- newFn()
	}
	return p
}

// Get blocks until a free bundle is available.
func (p *Pool[T]) Get() *T { return <-p.free }

// TryGet returns a free bundle without blocking, or nil if none is available.
func (p *Pool[T]) TryGet() *T {
	select {
	case b := <-p.free:
		return b
	default:
		return nil
	}
}

// Put returns a bundle to the pool after the caller is done with it.
func (p *Pool[T]) Put(b *T) { p.free <- b }

// Len reports how many bundles are currently free.
func (p *Pool[T]) Len() int { return len(p.free) }
