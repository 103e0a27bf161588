// Package receiver implements the channelizer's input stage: a
// single-goroutine multicast UDP receive loop that decodes BeamPackets and
// hands them to the Input component.
//
// Grounded on Receiver.cpp's routine() loop and a setupDataSocket-style
// socket option and JoinGroup sequence.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/sigblips/sonata-channelizer/internal/fatal"
	"github.com/sigblips/sonata-channelizer/internal/pool"
	"github.com/sigblips/sonata-channelizer/internal/wire"
)

// maxDatagram is sized to comfortably hold BeamPacketSize(ChannelSamples)
// for any configuration this core supports.
const maxDatagram = 1 << 16

// idleChecker lets the Receiver skip the queue entirely while the beam is
// IDLE, rather than paying for an allocation and an enqueue that Beam would
// immediately free anyway . Beam satisfies this.
type idleChecker interface {
	IsIdle() bool
}

// Receiver owns the data-plane multicast socket and pushes decoded
// BeamPackets onto InputQueue.
type Receiver struct {
	conn  *net.UDPConn
	pool  *pool.Pool[wire.BeamPacket]
	queue chan<- *wire.BeamPacket
	beam  idleChecker

	mu      sync.RWMutex
	running bool
}

// New opens and joins the data multicast group addr on iface (nil for the
// default interface) and returns a Receiver ready for Start.
func New(addr *net.UDPAddr, iface *net.Interface, beamPool *pool.Pool[wire.BeamPacket], queue chan<- *wire.BeamPacket, beam idleChecker) (*Receiver, error) {
	conn, err := setupDataSocket(addr, iface)
	if err != nil {
		return nil, fmt.Errorf("receiver: %w", err)
	}
	return &Receiver{conn: conn, pool: beamPool, queue: queue, beam: beam}, nil
}

// setupDataSocket mirrors a listen_mcast()-derived socket setup:
// SO_REUSEADDR/SO_REUSEPORT so a restarted process can rebind, a 4MB
// read buffer, and JoinGroup on both the given interface and loopback.
func setupDataSocket(addr *net.UDPAddr, iface *net.Interface) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					sockErr = fmt.Errorf("SO_REUSEPORT: %w", err)
					return
				}
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					sockErr = fmt.Errorf("SO_REUSEADDR: %w", err)
					return
				}
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	conn, err := lc.ListenPacket(context.Background(), "udp4", addr.String())
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	udpConn := conn.(*net.UDPConn)

	if err := udpConn.SetReadBuffer(4 * 1024 * 1024); err != nil {
		log.Printf("receiver: failed to set read buffer size: %v", err)
	}

	p := ipv4.NewPacketConn(udpConn)
	if iface != nil {
		if err := p.JoinGroup(iface, addr); err != nil {
			log.Printf("receiver: failed to join multicast group on %s: %v", iface.Name, err)
		}
	}
	if loopback, err := loopbackInterface(); err == nil && loopback != nil {
		if err := p.JoinGroup(loopback, addr); err != nil {
			log.Printf("receiver: failed to join multicast group on loopback: %v", err)
		}
	}

	return udpConn, nil
}

func loopbackInterface() (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			return &iface, nil
		}
	}
	return nil, fmt.Errorf("no loopback interface found")
}

// Start launches the receive loop goroutine.
func (r *Receiver) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	go r.loop()
}

// Stop closes the socket, unblocking the receive loop.
func (r *Receiver) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	r.conn.Close()
}

func (r *Receiver) isRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

func (r *Receiver) loop() {
	buf := make([]byte, maxDatagram)
	for r.isRunning() {
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if !r.isRunning() {
				return
			}
			var ne net.Error
			if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) ||
				(errors.As(err, &ne) && ne.Timeout()) {
				continue
			}
			fatal.Fatalf("receiver: read error: %v", err)
		}
		r.processDatagram(buf[:n])
	}
}

// processDatagram handles one received datagram:
// skip entirely while IDLE, otherwise allocate, decode, and enqueue.
func (r *Receiver) processDatagram(buf []byte) {
	if r.beam.IsIdle() {
		return
	}

	pkt := r.pool.Alloc()
	if err := wire.UnmarshalBeamPacket(buf, pkt); err != nil {
		log.Printf("receiver: dropping malformed packet: %v", err)
		r.pool.Free(pkt)
		return
	}
	r.queue <- pkt
}
