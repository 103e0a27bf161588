package transmitter

import (
	"testing"

	"github.com/sigblips/sonata-channelizer/internal/pool"
	"github.com/sigblips/sonata-channelizer/internal/wire"
	"github.com/sigblips/sonata-channelizer/internal/worker"
)

// alwaysRunning satisfies runningChecker for tests that don't exercise the
// stop/drain path.
type alwaysRunning struct{}

func (alwaysRunning) IsRunning() bool { return true }

// recordingTransmitter wraps a Transmitter without sockets: its
// handleRecording repeats handle's reorder logic but appends each emitted
// vector's OutputSeq to emitted instead of sending it.
type recordingTransmitter struct {
	*Transmitter
	emitted []uint32
}

func newRecordingTransmitter(channelPool *pool.Pool[wire.ChannelPacket]) *recordingTransmitter {
	rt := &recordingTransmitter{}
	rt.Transmitter = &Transmitter{
		beam:        alwaysRunning{},
		channelPool: channelPool,
		pending:     make(map[uint32]worker.Vector),
		buf:         make([]byte, 0),
		conns:       nil, // handleRecording never calls emit, so conns is never dereferenced
	}
	return rt
}

func (rt *recordingTransmitter) handleRecording(vec worker.Vector) {
	if !rt.beam.IsRunning() {
		rt.curSeq = 0
		for seq := range rt.pending {
			delete(rt.pending, seq)
		}
		return
	}
	if vec.OutputSeq != rt.curSeq {
		rt.pending[vec.OutputSeq] = vec
		return
	}
	rt.emitted = append(rt.emitted, vec.OutputSeq)
	rt.curSeq++
	for {
		v, ok := rt.pending[rt.curSeq]
		if !ok {
			break
		}
		delete(rt.pending, rt.curSeq)
		rt.emitted = append(rt.emitted, v.OutputSeq)
		rt.curSeq++
	}
}

func emptyVector(seq uint32) worker.Vector {
	return worker.Vector{OutputSeq: seq, Packets: nil}
}

// TestWorkerReorderRestoresSequence covers the case where vectors
// arrive out of OutputSeq order (as independent workers finish at different
// times) and the Transmitter must still emit 0,1,2,... with no duplicates
// or gaps.
func TestWorkerReorderRestoresSequence(t *testing.T) {
	channelPool := pool.New("test-channel-packets", 8, func() *wire.ChannelPacket { return &wire.ChannelPacket{} }, nil)
	rt := newRecordingTransmitter(channelPool)

	arrivalOrder := []uint32{2, 1, 3, 0, 4}
	for _, seq := range arrivalOrder {
		rt.handleRecording(emptyVector(seq))
	}

	want := []uint32{0, 1, 2, 3, 4}
	if len(rt.emitted) != len(want) {
		t.Fatalf("emitted %v, want %v", rt.emitted, want)
	}
	for i, w := range want {
		if rt.emitted[i] != w {
			t.Fatalf("emitted[%d] = %d, want %d (full: %v)", i, rt.emitted[i], w, rt.emitted)
		}
	}
}

// TestStopDrainsPendingAndResetsSeq exercises the curSeq/outputSeq restart
// behavior: once the beam is no longer RUNNING, queued vectors
// are dropped and curSeq resets to 0 for the next RUNNING epoch.
func TestStopDrainsPendingAndResetsSeq(t *testing.T) {
	channelPool := pool.New("test-channel-packets", 8, func() *wire.ChannelPacket { return &wire.ChannelPacket{} }, nil)
	rt := newRecordingTransmitter(channelPool)

	rt.handleRecording(emptyVector(1)) // out of order, buffered
	if len(rt.pending) != 1 {
		t.Fatalf("expected 1 buffered vector, got %d", len(rt.pending))
	}

	rt.beam = notRunning{}
	rt.handleRecording(emptyVector(5))
	if len(rt.pending) != 0 {
		t.Fatalf("expected pending drained on stop, got %d entries", len(rt.pending))
	}
	if rt.curSeq != 0 {
		t.Fatalf("curSeq = %d, want 0 after stop", rt.curSeq)
	}
}

type notRunning struct{}

func (notRunning) IsRunning() bool { return false }
