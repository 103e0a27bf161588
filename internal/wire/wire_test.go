package wire

import "testing"

func TestAbsTimeRoundTrip(t *testing.T) {
	cases := []float64{0, 1, 1753900000.5, 0.25, 123456.999999999}
	for _, sec := range cases {
		t := AbsTimeFromSeconds(sec)
		got := t.Seconds()
		if diff := got - sec; diff > 1e-6 || diff < -1e-6 {
			panic("absTime round trip out of tolerance")
		}
	}
}

func TestAbsTimeSecFrac(t *testing.T) {
	at := AbsTimeFromSeconds(42.5)
	if at.Sec() != 42 {
		t.Fatalf("Sec() = %d, want 42", at.Sec())
	}
	if diff := at.Frac() - 0.5; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("Frac() = %v, want ~0.5", at.Frac())
	}
}

func TestBeamPacketRoundTrip(t *testing.T) {
	pkt := &BeamPacket{
		Header: BeamPacketHeader{
			Version:    CurrentVersion,
			Src:        7,
			PolCode:    1,
			Flags:      DataValid,
			Seq:        1234,
			AbsTime:    AbsTimeFromSeconds(1000.25),
			Len:        4,
			Freq:       1420.0,
			SampleRate: 104.8576e6,
		},
		Samples: []Sample{{1, -1}, {2, -2}, {3, -3}, {4, -4}},
	}
	buf := make([]byte, BeamPacketSize(len(pkt.Samples)))
	n := MarshalBeamPacket(pkt, buf)
	if n != len(buf) {
		t.Fatalf("MarshalBeamPacket wrote %d bytes, want %d", n, len(buf))
	}

	var got BeamPacket
	if err := UnmarshalBeamPacket(buf, &got); err != nil {
		t.Fatalf("UnmarshalBeamPacket: %v", err)
	}
	if got.Header != pkt.Header {
		t.Fatalf("header mismatch: got %+v, want %+v", got.Header, pkt.Header)
	}
	if len(got.Samples) != len(pkt.Samples) {
		t.Fatalf("sample count mismatch: got %d, want %d", len(got.Samples), len(pkt.Samples))
	}
	for i := range pkt.Samples {
		if got.Samples[i] != pkt.Samples[i] {
			t.Fatalf("sample %d mismatch: got %+v, want %+v", i, got.Samples[i], pkt.Samples[i])
		}
	}
}

func TestUnmarshalBeamPacketShort(t *testing.T) {
	if err := UnmarshalBeamPacket(make([]byte, 4), &BeamPacket{}); err != ErrShortPacket {
		t.Fatalf("expected ErrShortPacket, got %v", err)
	}
}

func TestUnmarshalBeamPacketBadLength(t *testing.T) {
	buf := make([]byte, BeamHeaderSize+4)
	hdr := BeamPacketHeader{Len: 10}
	hdr.marshal(buf)
	if err := UnmarshalBeamPacket(buf, &BeamPacket{}); err != ErrBadLength {
		t.Fatalf("expected ErrBadLength, got %v", err)
	}
}

func TestChannelPacketRoundTrip(t *testing.T) {
	pkt := &ChannelPacket{
		Header: ChannelPacketHeader{
			Chan:           5,
			Src:            ChanSrc400kHz,
			Flags:          DataValid,
			Seq:            99,
			AbsTime:        AbsTimeFromSeconds(500.125),
			Len:            3,
			Freq:           1420.406,
			SampleRate:     409600,
			UsableFraction: 0.796875,
		},
		Samples: []ChannelSample{{100, -100}, {0, 0}, {32767, -32768}},
	}
	buf := make([]byte, ChannelPacketSize(len(pkt.Samples)))
	n := MarshalChannelPacket(pkt, buf)
	if n != len(buf) {
		t.Fatalf("MarshalChannelPacket wrote %d bytes, want %d", n, len(buf))
	}

	var got ChannelPacket
	if err := UnmarshalChannelPacket(buf, &got); err != nil {
		t.Fatalf("UnmarshalChannelPacket: %v", err)
	}
	if got.Header != pkt.Header {
		t.Fatalf("header mismatch: got %+v, want %+v", got.Header, pkt.Header)
	}
	for i := range pkt.Samples {
		if got.Samples[i] != pkt.Samples[i] {
			t.Fatalf("sample %d mismatch: got %+v, want %+v", i, got.Samples[i], pkt.Samples[i])
		}
	}
}

func TestSampleReusesBackingArray(t *testing.T) {
	var pkt BeamPacket
	pkt.Samples = make([]Sample, 0, 16)
	buf := make([]byte, BeamPacketSize(4))
	hdr := BeamPacketHeader{Len: 4}
	hdr.marshal(buf)
	if err := UnmarshalBeamPacket(buf, &pkt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cap(pkt.Samples) != 16 {
		t.Fatalf("expected backing array reuse, cap = %d", cap(pkt.Samples))
	}
}
