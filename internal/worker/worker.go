// Package worker implements the channelizer's worker pool: N goroutines,
// each owning one DfbKernel, that turn a scheduled PacketInfo into a vector
// of outgoing ChannelPackets.
//
// Grounded on Worker.cpp's WorkerTask (extractArgs/processData/
// buildOutputArray/buildPacketArray/createPacketVector).
package worker

import (
	"log"
	"math"
	"sync/atomic"

	"github.com/sigblips/sonata-channelizer/internal/beam"
	"github.com/sigblips/sonata-channelizer/internal/pool"
	"github.com/sigblips/sonata-channelizer/internal/wire"
)

// Vector is one worker's output for a single DFB iteration: usableChannels
// ChannelPackets sharing an OutputSeq, handed to the Transmitter.
type Vector struct {
	OutputSeq uint32
	Packets   []*wire.ChannelPacket
}

// Pool is the set of N workers sharing WorkQueue and TransmitQueue.
type Pool struct {
	beam       *beam.Beam
	workQueue  <-chan beam.PacketInfo
	transmitQ  chan<- Vector
	channelPool *pool.Pool[wire.ChannelPacket]

	totalChannels  int
	usableChannels int
	channelSamples int
	chanSpacing    float64
	channelSrc     uint16

	stop chan struct{}
	done chan struct{}

	dfbErrors int64
}

// New builds a worker pool. Call Start(n) to launch n goroutines, each
// allocating its own DfbKernel via beam.AllocDfb().
func New(b *beam.Beam, workQueue <-chan beam.PacketInfo, transmitQ chan<- Vector,
	channelPool *pool.Pool[wire.ChannelPacket], totalChannels, usableChannels, channelSamples int,
	bandwidth float64, channelSrc uint16) *Pool {
	return &Pool{
		beam:           b,
		workQueue:      workQueue,
		transmitQ:      transmitQ,
		channelPool:    channelPool,
		totalChannels:  totalChannels,
		usableChannels: usableChannels,
		channelSamples: channelSamples,
		chanSpacing:    bandwidth / float64(totalChannels),
		channelSrc:     channelSrc,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Start launches n worker goroutines.
func (p *Pool) Start(n int) {
	p.done = make(chan struct{}, n)
	for i := 0; i < n; i++ {
		id := p.beam.AllocDfb()
		go p.run(id)
	}
}

// Stop signals every worker goroutine to exit after its current job.
func (p *Pool) Stop() { close(p.stop) }

// DfbErrors returns the running count of DfbProcess iterations that
// returned an error (and were dropped rather than transmitted).
func (p *Pool) DfbErrors() int64 { return atomic.LoadInt64(&p.dfbErrors) }

func (p *Pool) run(dfbID int) {
	scratchTD := make([]complex128, p.beam.Threshold())
	channelOut := make([][]complex64, p.totalChannels)
	for c := range channelOut {
		channelOut[c] = make([]complex64, p.channelSamples)
	}

	for {
		select {
		case <-p.stop:
			p.done <- struct{}{}
			return
		case info, ok := <-p.workQueue:
			if !ok {
				p.done <- struct{}{}
				return
			}
			p.process(dfbID, info, scratchTD, channelOut)
		}
	}
}

func (p *Pool) process(dfbID int, info beam.PacketInfo, scratchTD []complex128, channelOut [][]complex64) {
	if err := p.beam.DfbProcess(dfbID, info.Sample, scratchTD, channelOut); err != nil {
		atomic.AddInt64(&p.dfbErrors, 1)
		log.Printf("worker: dfb %d: iteration at sample %d dropped: %v", dfbID, info.Sample, err)
		return
	}

	half := p.usableChannels / 2
	vec := Vector{OutputSeq: info.OutputSeq, Packets: make([]*wire.ChannelPacket, p.usableChannels)}
	for i := 0; i < p.usableChannels; i++ {
		nat := beam.ChannelIndexForOutput(i, p.totalChannels, p.usableChannels)
		pkt := p.channelPool.Alloc()
		pkt.Header = wire.ChannelPacketHeader{
			Chan:           uint16(i),
			Src:            p.channelSrc,
			Flags:          wire.DataValid,
			Seq:            info.OutputSeq,
			AbsTime:        info.AbsTime,
			Len:            uint32(p.channelSamples),
			Freq:           info.Freq + float64(i-half)*p.chanSpacing,
			SampleRate:     info.SampleRate,
			UsableFraction: info.UsableFraction,
		}
		if cap(pkt.Samples) < p.channelSamples {
			pkt.Samples = make([]wire.ChannelSample, p.channelSamples)
		} else {
			pkt.Samples = pkt.Samples[:p.channelSamples]
		}
		for s := 0; s < p.channelSamples; s++ {
			pkt.Samples[s] = toInt16Sample(channelOut[nat][s])
		}
		vec.Packets[i] = pkt
	}

	p.transmitQ <- vec
}

// toInt16Sample converts one complex64 DFB output sample to complex-int16
// wire format, rounding half to even and saturating to the int16 range.
func toInt16Sample(c complex64) wire.ChannelSample {
	return wire.ChannelSample{
		I: roundSaturate(float64(real(c))),
		Q: roundSaturate(float64(imag(c))),
	}
}

func roundSaturate(v float64) int16 {
	r := math.RoundToEven(v)
	switch {
	case r > math.MaxInt16:
		return math.MaxInt16
	case r < math.MinInt16:
		return math.MinInt16
	default:
		return int16(r)
	}
}
