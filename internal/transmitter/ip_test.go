package transmitter

import (
	"net"
	"testing"
)

// TestChannelAddressBijection exercises: ip(channel) =
// ntoh(hton(baseAddr) + channel) is bijective for channel in [0, 2^24).
// We don't need the full range to catch a broken rollover; a handful of
// values spanning an octet boundary suffices.
func TestChannelAddressBijection(t *testing.T) {
	base := net.ParseIP("239.1.2.255").To4()
	baseVal := ipToUint32(base)

	seen := make(map[string]int)
	for ch := 0; ch < 300; ch++ {
		ip := uint32ToIP(baseVal + uint32(ch))
		if prev, ok := seen[ip.String()]; ok {
			t.Fatalf("channel %d collides with channel %d at %s", ch, prev, ip)
		}
		seen[ip.String()] = ch
	}

	// Spans the .255 -> next-octet rollover at channel 1.
	want := net.ParseIP("239.1.3.0").To4()
	got := uint32ToIP(baseVal + 1)
	if !got.Equal(want) {
		t.Fatalf("channel 1 address = %s, want %s", got, want)
	}
}
