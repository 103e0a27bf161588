package receiver

import (
	"testing"

	"github.com/sigblips/sonata-channelizer/internal/pool"
	"github.com/sigblips/sonata-channelizer/internal/wire"
)

type fakeIdle struct{ idle bool }

func (f fakeIdle) IsIdle() bool { return f.idle }

func newTestReceiver(idle bool) (*Receiver, chan *wire.BeamPacket) {
	queue := make(chan *wire.BeamPacket, 4)
	p := pool.New("test-beam-packets", 8, func() *wire.BeamPacket { return &wire.BeamPacket{} }, nil)
	return &Receiver{pool: p, queue: queue, beam: fakeIdle{idle: idle}}, queue
}

func validDatagram(t *testing.T) []byte {
	t.Helper()
	pkt := &wire.BeamPacket{
		Header: wire.BeamPacketHeader{Version: wire.CurrentVersion, Len: 2, Flags: wire.DataValid},
		Samples: []wire.Sample{{I: 1, Q: -1}, {I: 2, Q: -2}},
	}
	buf := make([]byte, wire.BeamPacketSize(2))
	n := wire.MarshalBeamPacket(pkt, buf)
	return buf[:n]
}

func TestProcessDatagramSkipsWhileIdle(t *testing.T) {
	r, queue := newTestReceiver(true)
	r.processDatagram(validDatagram(t))

	select {
	case <-queue:
		t.Fatalf("expected no packet enqueued while idle")
	default:
	}
}

func TestProcessDatagramEnqueuesValidPacket(t *testing.T) {
	r, queue := newTestReceiver(false)
	r.processDatagram(validDatagram(t))

	select {
	case pkt := <-queue:
		if pkt.Header.Len != 2 || len(pkt.Samples) != 2 {
			t.Fatalf("unexpected decoded packet: %+v", pkt)
		}
	default:
		t.Fatalf("expected a packet enqueued")
	}
}

func TestProcessDatagramDropsMalformedPacket(t *testing.T) {
	r, queue := newTestReceiver(false)
	r.processDatagram([]byte{1, 2, 3}) // too short for a header

	select {
	case <-queue:
		t.Fatalf("expected no packet enqueued for malformed datagram")
	default:
	}
}
