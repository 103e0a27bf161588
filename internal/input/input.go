// Package input implements the channelizer's single-consumer InputQueue
// drain: it hands each BeamPacket to Beam.HandlePacket and reacts to the
// result
//
// Grounded on Input.cpp's handleMsg/sendStart.
package input

import (
	"errors"
	"log"

	"github.com/sigblips/sonata-channelizer/internal/beam"
	"github.com/sigblips/sonata-channelizer/internal/wire"
)

// handlePacketer is the part of Beam that Input drives.
type handlePacketer interface {
	HandlePacket(pkt *wire.BeamPacket) (startFlag bool, err error)
}

// Input drains queue on a single goroutine, calling beam.HandlePacket for
// every packet.
type Input struct {
	beam    handlePacketer
	queue   <-chan *wire.BeamPacket
	started chan struct{}
	stop    chan struct{}
	done    chan struct{}

	// onIPV, if set, is invoked (once) when a version mismatch stops
	// channelisation, so the composition root can surface the fault.
	onIPV func(error)
}

// New builds an Input consuming queue and driving beam.
func New(b handlePacketer, queue <-chan *wire.BeamPacket, onIPV func(error)) *Input {
	return &Input{
		beam:    b,
		queue:   queue,
		started: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		onIPV:   onIPV,
	}
}

// Started delivers one notification per PENDING->RUNNING transition.
func (in *Input) Started() <-chan struct{} { return in.started }

// Start launches the consumer goroutine.
func (in *Input) Start() { go in.run() }

// Stop requests the consumer goroutine exit; it does not close queue.
func (in *Input) Stop() {
	close(in.stop)
	<-in.done
}

func (in *Input) run() {
	defer close(in.done)
	for {
		select {
		case <-in.stop:
			return
		case pkt, ok := <-in.queue:
			if !ok {
				return
			}
			in.handle(pkt)
		}
	}
}

func (in *Input) handle(pkt *wire.BeamPacket) {
	startFlag, err := in.beam.HandlePacket(pkt)
	switch {
	case errors.Is(err, beam.ErrIPV):
		log.Printf("input: protocol version mismatch, stopping channelisation: %v", err)
		if in.onIPV != nil {
			in.onIPV(err)
		}
	case errors.Is(err, beam.ErrSTAP):
		log.Printf("input: start time already passed: %v", err)
	case err != nil:
		log.Printf("input: handlePacket: %v", err)
	}

	if startFlag {
		select {
		case in.started <- struct{}{}:
		default:
		}
	}
}
