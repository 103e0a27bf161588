// Package transmitter implements the channelizer's output stage: a single
// goroutine that restores strict outputSeq ordering across all workers and
// emits each channel packet on its own multicast group
//
// Grounded on Transmitter.cpp (transmit/sendVector/convertChanToIp/restart)
// and a setupControlSocket-style multicast send socket setup.
package transmitter

import (
	"encoding/binary"
	"fmt"
	"log"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/sigblips/sonata-channelizer/internal/pool"
	"github.com/sigblips/sonata-channelizer/internal/wire"
	"github.com/sigblips/sonata-channelizer/internal/worker"
)

// runningChecker reports whether the beam is currently RUNNING; Beam
// satisfies this via its exported State()/IsRunning().
type runningChecker interface {
	IsRunning() bool
}

// Transmitter drains TransmitQueue on a single goroutine, reorders vectors
// by OutputSeq, and fans each ChannelPacket out to its per-channel
// multicast group.
type Transmitter struct {
	beam        runningChecker
	queue       <-chan worker.Vector
	channelPool *pool.Pool[wire.ChannelPacket]
	conns       []*net.UDPConn // one per usable channel, indices [0, usableChannels)

	curSeq  uint32
	pending map[uint32]worker.Vector

	buf  []byte
	stop chan struct{}
	done chan struct{}
}

// New builds a Transmitter. baseAddr/basePort give channel 0's multicast
// destination; channel i sends to (baseAddr+i, basePort+i). iface selects
// the outbound interface for IP_MULTICAST_IF (nil uses the system default).
func New(b runningChecker, queue <-chan worker.Vector, channelPool *pool.Pool[wire.ChannelPacket],
	baseAddr net.IP, basePort int, usableChannels int, iface *net.Interface) (*Transmitter, error) {
	conns := make([]*net.UDPConn, usableChannels)
	base := ipToUint32(baseAddr.To4())
	for i := 0; i < usableChannels; i++ {
		addr := &net.UDPAddr{IP: uint32ToIP(base + uint32(i)), Port: basePort + i}
		conn, err := setupOutputSocket(addr, iface)
		if err != nil {
			for _, c := range conns[:i] {
				if c != nil {
					c.Close()
				}
			}
			return nil, fmt.Errorf("transmitter: channel %d: %w", i, err)
		}
		conns[i] = conn
	}

	return &Transmitter{
		beam:        b,
		queue:       queue,
		channelPool: channelPool,
		conns:       conns,
		pending:     make(map[uint32]worker.Vector),
		buf:         make([]byte, 1<<16),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}, nil
}

// ipToUint32 / uint32ToIP implement ip(channel) = ntoh(hton(base) + channel):
// the address is added to in host byte order, then restored to network
// order for the outgoing packet
func ipToUint32(ip net.IP) uint32 { return binary.BigEndian.Uint32(ip) }

func uint32ToIP(v uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, v)
	return ip
}

func setupOutputSocket(addr *net.UDPAddr, iface *net.Interface) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	rawConn, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("raw conn: %w", err)
	}

	var sockErr error
	err = rawConn.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MULTICAST_LOOP, 1); err != nil {
			sockErr = fmt.Errorf("IP_MULTICAST_LOOP: %w", err)
			return
		}
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, 1); err != nil {
			sockErr = fmt.Errorf("IP_MULTICAST_TTL: %w", err)
		}
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if sockErr != nil {
		conn.Close()
		return nil, sockErr
	}

	if iface != nil {
		p := ipv4.NewPacketConn(conn)
		if err := p.SetMulticastInterface(iface); err != nil {
			log.Printf("transmitter: failed to set multicast interface %s: %v", iface.Name, err)
		}
	}

	if err := conn.Connect(addr); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return conn, nil
}

// Start launches the transmit goroutine.
func (t *Transmitter) Start() { go t.run() }

// Stop requests the transmit goroutine exit.
func (t *Transmitter) Stop() {
	close(t.stop)
	<-t.done
}

func (t *Transmitter) run() {
	defer close(t.done)
	for {
		select {
		case <-t.stop:
			return
		case vec, ok := <-t.queue:
			if !ok {
				return
			}
			t.handle(vec)
		}
	}
}

func (t *Transmitter) handle(vec worker.Vector) {
	if !t.beam.IsRunning() {
		t.freeVector(vec)
		for seq, v := range t.pending {
			t.freeVector(v)
			delete(t.pending, seq)
		}
		t.curSeq = 0
		return
	}

	if vec.OutputSeq != t.curSeq {
		t.pending[vec.OutputSeq] = vec
		return
	}

	t.emit(vec)
	t.curSeq++

	for {
		v, ok := t.pending[t.curSeq]
		if !ok {
			break
		}
		delete(t.pending, t.curSeq)
		t.emit(v)
		t.curSeq++
	}
}

func (t *Transmitter) emit(vec worker.Vector) {
	for i, pkt := range vec.Packets {
		n := wire.MarshalChannelPacket(pkt, t.buf)
		if _, err := t.conns[i].Write(t.buf[:n]); err != nil {
			log.Printf("transmitter: channel %d send: %v", i, err)
		}
	}
	t.freeVector(vec)
}

func (t *Transmitter) freeVector(vec worker.Vector) {
	for _, pkt := range vec.Packets {
		t.channelPool.Free(pkt)
	}
}
