// Package ring implements the channelizer's single shared sample buffer:
// a fixed-capacity circular array of complex-int8 samples addressed by
// four monotonically increasing cursors (first, last, next, done).
//
// Grounded on the InputBuffer/Buffer usage in the original Beam.cpp
// (buf->getWrite, buf->getSampleBlk, buf->setLast, buf->setDone,
// buf->getNext) — this package is a direct Go port of that buffer's public
// surface, generalized into explicit operations The ring
// performs no locking of its own; Beam is the sole lock owner (see
// internal/beam), exactly as the original relies on bLock around the ring's
// done/next cursors while last is advanced lock-free by the single writer.
package ring

import (
	"fmt"

	"github.com/sigblips/sonata-channelizer/internal/wire"
)

// ErrNoBufferSpace is returned by ReserveWrite when n exceeds free space.
var ErrNoBufferSpace = fmt.Errorf("ring: no buffer space available")

// Ring is a fixed-capacity circular buffer of wire.Sample, addressed by
// absolute (never-wrapping) 64-bit sample indices. Only index % capacity
// addresses storage; all cursor comparisons use the absolute values.
type Ring struct {
	buf      []wire.Sample
	capacity int64

	first int64 // oldest sample still retained
	last  int64 // one past the newest stored sample
	next  int64 // next sample index a DFB will start from
	done  int64 // newest sample index below which flushing is allowed
}

// New creates a ring with room for capacitySamples complex-int8 samples.
func New(capacitySamples int) *Ring {
	return &Ring{
		buf:      make([]wire.Sample, capacitySamples),
		capacity: int64(capacitySamples),
	}
}

// View is a (possibly two-segment) contiguous-in-absolute-index region of
// the ring, returned by ReserveWrite. A write fills A fully, then B if
// non-empty, so the caller deals with wraparound exactly once per call
// instead of issuing a second reservation.
type View struct {
	A, B []wire.Sample
}

// Len returns the total number of samples spanned by the view.
func (v View) Len() int { return len(v.A) + len(v.B) }

// ReserveWrite returns a writable view of n samples starting at the
// current `last` cursor. It does not advance any cursor; the caller must
// call AdvanceLast(n) after filling the view.
func (r *Ring) ReserveWrite(n int) (View, error) {
	free := r.capacity - (r.last - r.first)
	if int64(n) > free {
		return View{}, ErrNoBufferSpace
	}
	return r.viewAt(r.last, n), nil
}

// ReadSlice returns the longest contiguous run of up to n samples starting
// at the absolute index startIdx. The returned slice may be shorter than n
// when the underlying storage wraps; the caller issues a second call
// starting at startIdx+len(result) for the remainder
func (r *Ring) ReadSlice(startIdx int64, n int) []wire.Sample {
	if n <= 0 {
		return nil
	}
	off := int(startIdx % r.capacity)
	end := off + n
	if int64(end) > r.capacity {
		end = int(r.capacity)
	}
	return r.buf[off:end]
}

// viewAt builds a (possibly wrapping) two-segment view of n samples
// starting at the absolute index idx, without bounds-checking against
// first/last — callers (ReserveWrite) are responsible for that.
func (r *Ring) viewAt(idx int64, n int) View {
	off := int(idx % r.capacity)
	if off+n <= int(r.capacity) {
		return View{A: r.buf[off : off+n]}
	}
	firstLen := int(r.capacity) - off
	return View{
		A: r.buf[off:],
		B: r.buf[:n-firstLen],
	}
}

// AdvanceLast moves the `last` cursor forward by n after a successful
// write into a view previously returned by ReserveWrite.
func (r *Ring) AdvanceLast(n int) { r.last += int64(n) }

// AdvanceDone moves the `done` cursor forward to idx. Callers must ensure
// idx never exceeds `next` and never decreases; Beam enforces this by only
// calling AdvanceDone with completed PendingList entries under its lock.
func (r *Ring) AdvanceDone(idx int64) { r.done = idx }

// AdvanceFirst moves the `first` cursor forward to idx, reclaiming storage
// below it. It is used once `done` has advanced past samples no longer
// reachable by any in-flight read.
func (r *Ring) AdvanceFirst(idx int64) { r.first = idx }

// AdvanceNext moves the `next` cursor forward by n samples after a DFB
// iteration has been scheduled starting at the old `next`.
func (r *Ring) AdvanceNext(n int) { r.next += int64(n) }

// First, Last, Next, Done return the four cursors.
func (r *Ring) First() int64 { return r.first }
func (r *Ring) Last() int64  { return r.last }
func (r *Ring) Next() int64  { return r.next }
func (r *Ring) Done() int64  { return r.done }

// Free returns the number of samples that can still be written before
// ReserveWrite would fail.
func (r *Ring) Free() int64 { return r.capacity - (r.last - r.first) }

// Samples returns the number of samples currently stored, i.e. available
// to read between `first` and `last`.
func (r *Ring) Samples() int64 { return r.last - r.first }

// Capacity returns the ring's fixed sample capacity.
func (r *Ring) Capacity() int64 { return r.capacity }

// CheckInvariants reports whether the four cursors satisfy
// first <= done <= next <= last and last-first <= capacity. It exists for
// tests and for fatal-path diagnostics, not for hot-path use.
func (r *Ring) CheckInvariants() bool {
	return r.first <= r.done && r.done <= r.next && r.next <= r.last &&
		r.last-r.first <= r.capacity
}

// Diagnose implements fatal.Diagnoser, dumping cursor state for a fatal
// error's diagnostic trailer.
func (r *Ring) Diagnose() string {
	return fmt.Sprintf("ring{first=%d done=%d next=%d last=%d cap=%d}",
		r.first, r.done, r.next, r.last, r.capacity)
}

// Reset returns the ring to its zero state (all four cursors at 0). Used
// by Beam when re-entering RUNNING from PENDING.
func (r *Ring) Reset() {
	r.first, r.last, r.next, r.done = 0, 0, 0, 0
}
