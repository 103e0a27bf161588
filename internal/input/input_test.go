package input

import (
	"errors"
	"testing"
	"time"

	"github.com/sigblips/sonata-channelizer/internal/beam"
	"github.com/sigblips/sonata-channelizer/internal/wire"
)

type fakeBeam struct {
	startFlag  bool
	err        error
	calls      int
	lastPacket *wire.BeamPacket
}

func (f *fakeBeam) HandlePacket(pkt *wire.BeamPacket) (bool, error) {
	f.calls++
	f.lastPacket = pkt
	return f.startFlag, f.err
}

func TestHandlePacketEmitsStartedOnStartFlag(t *testing.T) {
	fb := &fakeBeam{startFlag: true}
	queue := make(chan *wire.BeamPacket, 1)
	in := New(fb, queue, nil)

	in.handle(&wire.BeamPacket{})

	select {
	case <-in.Started():
	default:
		t.Fatalf("expected a STARTED notification")
	}
	if fb.calls != 1 {
		t.Fatalf("calls = %d, want 1", fb.calls)
	}
}

func TestHandlePacketCallsOnIPVAndDoesNotEmitStarted(t *testing.T) {
	fb := &fakeBeam{err: beam.ErrIPV}
	queue := make(chan *wire.BeamPacket, 1)
	called := false
	in := New(fb, queue, func(err error) {
		called = true
		if !errors.Is(err, beam.ErrIPV) {
			t.Fatalf("onIPV called with wrong error: %v", err)
		}
	})

	in.handle(&wire.BeamPacket{})

	if !called {
		t.Fatalf("expected onIPV callback")
	}
	select {
	case <-in.Started():
		t.Fatalf("unexpected STARTED notification on IPV")
	default:
	}
}

func TestHandlePacketSTAPLogsAndContinues(t *testing.T) {
	fb := &fakeBeam{err: beam.ErrSTAP}
	queue := make(chan *wire.BeamPacket, 1)
	in := New(fb, queue, func(error) { t.Fatalf("onIPV should not fire for STAP") })

	in.handle(&wire.BeamPacket{}) // should not panic or block
}

func TestRunDrainsQueueUntilStop(t *testing.T) {
	fb := &fakeBeam{}
	queue := make(chan *wire.BeamPacket, 4)
	in := New(fb, queue, nil)
	in.Start()

	for i := 0; i < 3; i++ {
		queue <- &wire.BeamPacket{}
	}

	deadline := time.After(time.Second)
	for {
		if fb.calls >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d calls, got %d", 3, fb.calls)
		case <-time.After(time.Millisecond):
		}
	}

	in.Stop()
}
