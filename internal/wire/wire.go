// Package wire defines the on-the-wire packet formats consumed and produced
// by the channelizer core: the input BeamPacket (one polarization of one
// beam, complex-int8 samples) and the output ChannelPacket (one sub-channel,
// complex-int16 samples), plus the 32.32 fixed-point absolute time format
// shared by both headers.
//
// Layouts are grounded on the BeamPacket/ChannelPacket header fields named
// for this channelizer and on the original ATADataPacketHeader from
// OpenSonATA; encoding follows a hand-rolled fixed-header binary framing
// style (encoding/binary, explicit offsets), as in pcm_binary.go.
package wire

import (
	"encoding/binary"
	"errors"
	"math"
)

// CurrentVersion is the only BeamPacketHeader.Version this core accepts.
const CurrentVersion uint16 = 1

// DataValid is the sole defined bit of BeamPacketHeader.Flags.
const DataValid uint8 = 1 << 0

// ChanSrc400kHz is the fixed channel-packet source code (CHAN_400KHZ in the
// original), stamped into every outgoing ChannelPacketHeader.
const ChanSrc400kHz uint16 = 0x0190

// BeamHeaderSize is the fixed size in bytes of a BeamPacketHeader on the
// wire, reserved trailing bytes included.
const BeamHeaderSize = 40

// ErrShortPacket is returned when a buffer is too small to hold a header.
var ErrShortPacket = errors.New("wire: packet shorter than header")

// ErrBadLength is returned when a header's declared sample count needs more
// bytes than are actually present in the packet.
var ErrBadLength = errors.New("wire: declared length exceeds payload")

// Sample is one complex-int8 time-domain sample: I then Q on the wire.
type Sample struct {
	I, Q int8
}

// ChannelSample is one complex-int16 output sample.
type ChannelSample struct {
	I, Q int16
}

// AbsTime is a 64-bit fixed-point timestamp: the upper 32 bits are integer
// seconds, the lower 32 bits are fractional seconds in units of 2^-32 s.
type AbsTime uint64

// Sec returns the integer-seconds part.
func (t AbsTime) Sec() uint32 { return uint32(t >> 32) }

// Frac returns the fractional-seconds part as a float in [0, 1).
func (t AbsTime) Frac() float64 { return float64(uint32(t)) / 4294967296.0 }

// Seconds returns the timestamp as a float64 number of seconds.
func (t AbsTime) Seconds() float64 { return float64(t.Sec()) + t.Frac() }

// AbsTimeFromSeconds packs a float64 second count into the 32.32 format,
// matching ATADataPacketHeader::float96ToAbsTime.
func AbsTimeFromSeconds(sec float64) AbsTime {
	whole := math.Floor(sec)
	frac := sec - whole
	return AbsTime(uint64(whole)<<32 | uint64(frac*4294967296.0))
}

// BeamPacketHeader is the fixed-size header of an input beam packet.
//
// Wire layout (big-endian), 40 bytes total:
//
//	0  u16  version
//	2  u16  src
//	4  u8   polCode
//	5  u8   flags (bit 0 = DATA_VALID)
//	6  u32  seq
//	10 u64  absTime (32.32)
//	18 u32  len
//	22 f64  freq
//	30 f64  sampleRate
//	38 ..   reserved to 40
type BeamPacketHeader struct {
	Version    uint16
	Src        uint16
	PolCode    uint8
	Flags      uint8
	Seq        uint32
	AbsTime    AbsTime
	Len        uint32
	Freq       float64
	SampleRate float64
}

// BeamPacket is a header plus its complex-int8 sample payload.
type BeamPacket struct {
	Header  BeamPacketHeader
	Samples []Sample
}

func (h *BeamPacketHeader) marshal(buf []byte) {
	binary.BigEndian.PutUint16(buf[0:2], h.Version)
	binary.BigEndian.PutUint16(buf[2:4], h.Src)
	buf[4] = h.PolCode
	buf[5] = h.Flags
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint64(buf[10:18], uint64(h.AbsTime))
	binary.BigEndian.PutUint32(buf[18:22], h.Len)
	binary.BigEndian.PutUint64(buf[22:30], math.Float64bits(h.Freq))
	binary.BigEndian.PutUint64(buf[30:38], math.Float64bits(h.SampleRate))
}

func (h *BeamPacketHeader) unmarshal(buf []byte) {
	h.Version = binary.BigEndian.Uint16(buf[0:2])
	h.Src = binary.BigEndian.Uint16(buf[2:4])
	h.PolCode = buf[4]
	h.Flags = buf[5]
	h.Seq = binary.BigEndian.Uint32(buf[6:10])
	h.AbsTime = AbsTime(binary.BigEndian.Uint64(buf[10:18]))
	h.Len = binary.BigEndian.Uint32(buf[18:22])
	h.Freq = math.Float64frombits(binary.BigEndian.Uint64(buf[22:30]))
	h.SampleRate = math.Float64frombits(binary.BigEndian.Uint64(buf[30:38]))
}

// UnmarshalBeamPacket decodes a big-endian wire packet into pkt, reusing
// pkt.Samples' backing array when it is already large enough.
func UnmarshalBeamPacket(buf []byte, pkt *BeamPacket) error {
	if len(buf) < BeamHeaderSize {
		return ErrShortPacket
	}
	pkt.Header.unmarshal(buf)
	payload := buf[BeamHeaderSize:]
	n := int(pkt.Header.Len)
	if n*2 > len(payload) {
		return ErrBadLength
	}
	if cap(pkt.Samples) < n {
		pkt.Samples = make([]Sample, n)
	} else {
		pkt.Samples = pkt.Samples[:n]
	}
	for i := 0; i < n; i++ {
		pkt.Samples[i] = Sample{
			I: int8(payload[i*2]),
			Q: int8(payload[i*2+1]),
		}
	}
	return nil
}

// MarshalBeamPacket encodes pkt in big-endian wire format into buf, which
// must be at least BeamPacketSize(len(pkt.Samples)) bytes, and returns the
// number of bytes written. Each complex-int8 sample is packed tightly as I
// then Q, one byte apiece.
func MarshalBeamPacket(pkt *BeamPacket, buf []byte) int {
	pkt.Header.marshal(buf)
	for i, s := range pkt.Samples {
		off := BeamHeaderSize + i*2
		buf[off] = byte(s.I)
		buf[off+1] = byte(s.Q)
	}
	return BeamHeaderSize + len(pkt.Samples)*2
}

// ChannelPacketHeader is the fixed-size header of an output channel packet.
//
// Wire layout (big-endian), 42 bytes total: as BeamPacketHeader but with
// `chan` in place of version at offset 0, flags at offset 4 (byte 5
// unused), and an added usableFraction f32 at offset 38 after sampleRate.
type ChannelPacketHeader struct {
	Chan           uint16
	Src            uint16
	Flags          uint8
	Seq            uint32
	AbsTime        AbsTime
	Len            uint32
	Freq           float64
	SampleRate     float64
	UsableFraction float32
}

// ChannelPacket is a header plus its complex-int16 sample payload.
type ChannelPacket struct {
	Header  ChannelPacketHeader
	Samples []ChannelSample
}

func (h *ChannelPacketHeader) marshal(buf []byte) {
	binary.BigEndian.PutUint16(buf[0:2], h.Chan)
	binary.BigEndian.PutUint16(buf[2:4], h.Src)
	buf[4] = h.Flags
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint64(buf[10:18], uint64(h.AbsTime))
	binary.BigEndian.PutUint32(buf[18:22], h.Len)
	binary.BigEndian.PutUint64(buf[22:30], math.Float64bits(h.Freq))
	binary.BigEndian.PutUint64(buf[30:38], math.Float64bits(h.SampleRate))
	binary.BigEndian.PutUint32(buf[38:42], math.Float32bits(h.UsableFraction))
}

func (h *ChannelPacketHeader) unmarshal(buf []byte) {
	h.Chan = binary.BigEndian.Uint16(buf[0:2])
	h.Src = binary.BigEndian.Uint16(buf[2:4])
	h.Flags = buf[4]
	h.Seq = binary.BigEndian.Uint32(buf[6:10])
	h.AbsTime = AbsTime(binary.BigEndian.Uint64(buf[10:18]))
	h.Len = binary.BigEndian.Uint32(buf[18:22])
	h.Freq = math.Float64frombits(binary.BigEndian.Uint64(buf[22:30]))
	h.SampleRate = math.Float64frombits(binary.BigEndian.Uint64(buf[30:38]))
	h.UsableFraction = math.Float32frombits(binary.BigEndian.Uint32(buf[38:42]))
}

// MarshalChannelPacket encodes pkt in big-endian wire format into buf and
// returns the number of bytes written.
func MarshalChannelPacket(pkt *ChannelPacket, buf []byte) int {
	pkt.Header.marshal(buf)
	off := channelHeaderPayloadOffset
	for _, s := range pkt.Samples {
		binary.BigEndian.PutUint16(buf[off:off+2], uint16(s.I))
		binary.BigEndian.PutUint16(buf[off+2:off+4], uint16(s.Q))
		off += 4
	}
	return off
}

// UnmarshalChannelPacket decodes a big-endian wire packet into pkt. Provided
// for round-trip testing and for clients of the channel stream.
func UnmarshalChannelPacket(buf []byte, pkt *ChannelPacket) error {
	if len(buf) < channelHeaderPayloadOffset {
		return ErrShortPacket
	}
	pkt.Header.unmarshal(buf)
	payload := buf[channelHeaderPayloadOffset:]
	n := int(pkt.Header.Len)
	if n*4 > len(payload) {
		return ErrBadLength
	}
	if cap(pkt.Samples) < n {
		pkt.Samples = make([]ChannelSample, n)
	} else {
		pkt.Samples = pkt.Samples[:n]
	}
	for i := 0; i < n; i++ {
		off := i * 4
		pkt.Samples[i] = ChannelSample{
			I: int16(binary.BigEndian.Uint16(payload[off : off+2])),
			Q: int16(binary.BigEndian.Uint16(payload[off+2 : off+4])),
		}
	}
	return nil
}

// channelHeaderPayloadOffset is where the channel packet payload starts: the
// channel header carries one more field (usableFraction) than the beam
// header, so it runs 2 bytes past BeamHeaderSize.
const channelHeaderPayloadOffset = 42

// ChannelPacketSize returns the wire size in bytes of a channel packet
// carrying n samples.
func ChannelPacketSize(n int) int { return channelHeaderPayloadOffset + n*4 }

// BeamPacketSize returns the wire size in bytes of a beam packet carrying n
// samples.
func BeamPacketSize(n int) int { return BeamHeaderSize + n*2 }
