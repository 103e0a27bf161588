// Package pool provides fixed-capacity object free lists for the
// channelizer's hot path: beam packets, channel sample vectors, and
// anything else that must never allocate once steady state is reached.
//
// Grounded on the original BeamPacketList/ChannelPacketList/PartitionSet
// (fixed preallocated free lists that call Fatal on exhaustion rather than
// growing) and on a sync.Mutex-guarded shared-state idiom.
package pool

import (
	"sync"

	"github.com/sigblips/sonata-channelizer/internal/fatal"
)

// Pool is a fixed-capacity free list of *T. New fills it with cap items
// built by newFn; Alloc/Free never grow or shrink it.
type Pool[T any] struct {
	mu      sync.Mutex
	free    []*T
	newFn   func() *T
	resetFn func(*T)
	name    string
}

// New creates a pool of the given capacity, pre-populated by calling newFn
// cap times. resetFn, if non-nil, is called on an item when it is returned
// to the pool via Free, before it re-enters the free list.
func New[T any](name string, capacity int, newFn func() *T, resetFn func(*T)) *Pool[T] {
	p := &Pool[T]{
		free:    make([]*T, 0, capacity),
		newFn:   newFn,
		resetFn: resetFn,
		name:    name,
	}
	for i := 0; i < capacity; i++ {
		p.free = append(p.free, newFn())
	}
	return p
}

// Alloc removes an item from the free list. It calls fatal.Fatalf and never
// returns if the pool is exhausted — matching the original's
// Fatal(ERR_NBA)/Fatal(ERR_NPV) behaviour: this system has no backpressure
// path for a full packet pool, so running out is a configuration error, not
// a recoverable condition.
func (p *Pool[T]) Alloc() *T {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		fatal.Fatalf("pool %q exhausted (capacity reached)", p.name)
	}
	item := p.free[n-1]
	p.free[n-1] = nil
	p.free = p.free[:n-1]
	return item
}

// Free returns an item to the pool, resetting it first if a reset function
// was supplied to New.
func (p *Pool[T]) Free(item *T) {
	if p.resetFn != nil {
		p.resetFn(item)
	}
	p.mu.Lock()
	p.free = append(p.free, item)
	p.mu.Unlock()
}

// Available reports the number of items currently free. It is a diagnostic
// accessor, not a synchronization point — a concurrent Alloc/Free can change
// the result the instant after it's read.
func (p *Pool[T]) Available() int {
	p.mu.Lock()
	n := len(p.free)
	p.mu.Unlock()
	return n
}

// Lease is a scoped acquisition: Release must be called exactly once,
// typically via defer, so an item is returned to its pool on every return
// path. A fatal.Fatalf exit does not release it: os.Exit skips deferred
// calls.
type Lease[T any] struct {
	pool *Pool[T]
	item *T
}

// Acquire takes an item from p and wraps it in a Lease.
func Acquire[T any](p *Pool[T]) Lease[T] {
	return Lease[T]{pool: p, item: p.Alloc()}
}

// Item returns the leased value.
func (l Lease[T]) Item() *T { return l.item }

// Release returns the leased item to its pool. Calling Release more than
// once double-frees the item; callers must guarantee exactly one call.
func (l Lease[T]) Release() { l.pool.Free(l.item) }
