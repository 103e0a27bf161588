// Package beam implements the channelizer's per-beam state machine: packet
// validation and gap-fill, the shared sample ring, the pending-iteration
// list that gates ring flushing, and DFB job scheduling and completion.
//
// This is a direct Go port of Beam.cpp/Beam.h from the original OpenSonATA
// channelizer, kept line-for-line in its state transitions and edge cases
// (armed/STAP/IPV handling, the PendingList flush discipline, the
// negative-frequency-first channel stats indexing) and generalized only
// where Go's concurrency primitives replace the original's raw mutexes.
package beam

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sigblips/sonata-channelizer/internal/dfb"
	"github.com/sigblips/sonata-channelizer/internal/fatal"
	"github.com/sigblips/sonata-channelizer/internal/pool"
	"github.com/sigblips/sonata-channelizer/internal/ring"
	"github.com/sigblips/sonata-channelizer/internal/wire"
)

// ErrIPV is returned by HandlePacket when a packet's protocol version does
// not match while PENDING; the beam transitions to IDLE.
var ErrIPV = errors.New("beam: packet version mismatch (IPV)")

// ErrSTAP is returned by HandlePacket when the first packet seen while
// PENDING already has an absTime at or past startTime. That packet is freed
// without being ingested; the beam stays PENDING, now armed, so the next
// packet at or past startTime starts it (the error is informational, not
// fatal).
var ErrSTAP = errors.New("beam: start time already passed (STAP)")

// State is the beam's top-level lifecycle state.
type State int

const (
	StatePending State = iota
	StateRunning
	StateIdle
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateRunning:
		return "RUNNING"
	case StateIdle:
		return "IDLE"
	default:
		return "UNKNOWN"
	}
}

// StartNever is the explicit sentinel for "never start" (the original
// source's undocumented startTime == -1 convention, named per spec's open
// question #3). A beam configured with this start time begins life IDLE
// rather than PENDING and a real startTime must be supplied via Start
// before it will ever ingest.
const StartNever = math.Inf(1)

// Config holds the setup-time parameters of one beam.
type Config struct {
	TotalChannels  int
	UsableChannels int
	Foldings       int
	Oversampling   float64 // overlap = TotalChannels*Oversampling, must be even
	ChannelSamples int     // CHANNEL_SAMPLES, output samples per channel per iteration
	Decimation     int     // >1 sums consecutive input samples
	SwapInputs     bool
	Src            uint16
	PolCode        uint8
	CenterFreq     float64 // Hz
	Bandwidth      float64 // Hz
	RingCapacity   int     // ring capacity in (post-decimation) samples
	StartTimeSec   float64 // StartNever for "begin IDLE"
}

// SampleStatistics accumulates (count, min, max, sum, sumSq) over sample
// magnitudes, matching BeamStatistics in the original.
type SampleStatistics struct {
	Count int64
	Min   float64
	Max   float64
	Sum   float64
	SumSq float64
}

func (s *SampleStatistics) reset() { *s = SampleStatistics{Min: math.Inf(1), Max: math.Inf(-1)} }

func (s *SampleStatistics) observe(mag float64) {
	s.Count++
	s.Sum += mag
	s.SumSq += mag * mag
	if mag < s.Min {
		s.Min = mag
	}
	if mag > s.Max {
		s.Max = mag
	}
}

// NetStats counts packet-level outcomes, surfaced as status.
type NetStats struct {
	Total, Wrong, Missed, Late, Invalid uint64
}

// PacketInfo describes one scheduled DFB iteration, handed to a worker via
// the work queue.
type PacketInfo struct {
	Sample         int64
	OutputSeq      uint32
	AbsTime        wire.AbsTime
	Freq           float64
	SampleRate     float64
	UsableFraction float32
}

// Beam holds all per-beam state: the ring, the pending list, statistics,
// and the DFB kernels workers use.
type Beam struct {
	cfg      Config
	overlap  int
	threshold int
	consumed int

	beamSecPerSample    float64
	channelSecPerSample float64
	channelSecPerPacket float64
	chanSpacing         float64
	sampleRate          float64

	beamPool  *pool.Pool[wire.BeamPacket]
	workQueue chan<- PacketInfo

	mu      sync.Mutex // bLock: PendingList, ring done/next cursors, state
	ring    *ring.Ring
	pending *pendingList
	state   State
	armed   bool

	inputSeq  uint32
	outputSeq uint32
	beamTime    float64
	channelTime float64

	sMu            sync.Mutex // sLock: cumulative stats counters
	net            NetStats
	inputStats     SampleStatistics
	outputStats    SampleStatistics
	channelStats   []SampleStatistics

	coeff   []float32
	kernels []*dfb.Kernel
}

// New constructs a Beam from cfg. It returns an error if overlap
// (TotalChannels*Oversampling) is not an even integer
// boundary behaviour.
func New(cfg Config, beamPool *pool.Pool[wire.BeamPacket], workQueue chan<- PacketInfo) (*Beam, error) {
	overlapF := float64(cfg.TotalChannels) * cfg.Oversampling
	overlap := int(math.Round(overlapF))
	if math.Abs(overlapF-float64(overlap)) > 1e-9 || overlap%2 != 0 {
		return nil, errors.New("beam: totalChannels*oversampling must be an even integer")
	}

	b := &Beam{
		cfg:       cfg,
		overlap:   overlap,
		threshold: dfb.Threshold(cfg.TotalChannels, cfg.Foldings, overlap, cfg.ChannelSamples),
		consumed:  dfb.Consumed(cfg.TotalChannels, overlap, cfg.ChannelSamples),
		beamPool:  beamPool,
		workQueue: workQueue,
		ring:      ring.New(cfg.RingCapacity),
		pending:   newPendingList(),
		channelStats: make([]SampleStatistics, cfg.UsableChannels),
	}
	b.beamSecPerSample = 1.0 / cfg.Bandwidth
	b.channelSecPerSample = float64(cfg.TotalChannels-overlap) * b.beamSecPerSample
	b.channelSecPerPacket = float64(cfg.ChannelSamples) * b.channelSecPerSample
	b.chanSpacing = cfg.Bandwidth / float64(cfg.TotalChannels)
	b.sampleRate = cfg.Bandwidth / (1 - cfg.Oversampling) / float64(cfg.TotalChannels)
	b.inputStats.reset()
	b.outputStats.reset()
	for i := range b.channelStats {
		b.channelStats[i].reset()
	}

	if cfg.StartTimeSec == StartNever {
		b.state = StateIdle
	} else {
		b.state = StatePending
		b.inputSeq = 0
	}
	return b, nil
}

// Threshold and Consumed expose the setup-time scheduling constants, used
// by tests to check invariant 6.
func (b *Beam) Threshold() int { return b.threshold }
func (b *Beam) Consumed() int  { return b.consumed }
func (b *Beam) Overlap() int   { return b.overlap }

// AllocDfb allocates a new DfbKernel owned by the beam and returns its
// index; callers (WorkerPool) hold only the non-owning index's
// resolution of the Beam/Worker cyclic reference.
func (b *Beam) AllocDfb() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := dfb.NewKernel(b.cfg.TotalChannels, b.cfg.Foldings, b.overlap)
	if b.coeff != nil {
		_ = k.SetCoeff(b.coeff)
	}
	b.kernels = append(b.kernels, k)
	return len(b.kernels) - 1
}

// Kernel returns the DfbKernel previously allocated at id.
func (b *Beam) Kernel(id int) *dfb.Kernel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.kernels[id]
}

// SetCoeff installs the WOLA prototype filter on every kernel allocated so
// far and on any allocated afterward.
func (b *Beam) SetCoeff(coeff []float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range b.kernels {
		if err := k.SetCoeff(coeff); err != nil {
			return err
		}
	}
	b.coeff = coeff
	return nil
}

// SetFreq updates the beam's center frequency. Valid in any state.
func (b *Beam) SetFreq(freq float64) {
	b.mu.Lock()
	b.cfg.CenterFreq = freq
	b.mu.Unlock()
}

// Start transitions IDLE -> PENDING with a new start time (external start
// command, per §4.5.1).
func (b *Beam) Start(startTimeSec float64) {
	b.mu.Lock()
	b.cfg.StartTimeSec = startTimeSec
	b.state = StatePending
	b.armed = false
	b.mu.Unlock()
}

// Stop transitions to IDLE (external stop command). In-flight workers
// observe this at the top of DfbProcess and abandon their job; the
// Transmitter drops queued vectors when it observes IDLE.
func (b *Beam) Stop() {
	b.mu.Lock()
	b.state = StateIdle
	b.mu.Unlock()
}

// State returns the current lifecycle state.
func (b *Beam) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsIdle lets the Receiver skip a packet before it ever reaches the pool or
// the queue.
func (b *Beam) IsIdle() bool {
	return b.State() == StateIdle
}

// IsRunning lets the Transmitter decide whether to emit or drain queued
// vectors.
func (b *Beam) IsRunning() bool {
	return b.State() == StateRunning
}

func modularLess(a, bSeq uint32) bool { return int32(a-bSeq) < 0 }

// HandlePacket always consumes pkt (returning it
// to beamPool before returning) and reports whether this call caused a
// PENDING -> RUNNING transition (startFlag).
func (b *Beam) HandlePacket(pkt *wire.BeamPacket) (startFlag bool, err error) {
	b.mu.Lock()
	state := b.state
	b.mu.Unlock()

	if state == StateIdle {
		b.beamPool.Free(pkt)
		return false, nil
	}

	b.sMu.Lock()
	b.net.Total++
	b.sMu.Unlock()

	if pkt.Header.Flags&wire.DataValid == 0 {
		b.sMu.Lock()
		b.inputStats.reset()
		b.net.Invalid++
		b.sMu.Unlock()
		b.armed = false
		b.inputSeq = 0
		b.beamPool.Free(pkt)
		return false, nil
	}

	if pkt.Header.Src != b.cfg.Src || pkt.Header.PolCode != b.cfg.PolCode {
		b.sMu.Lock()
		b.net.Wrong++
		b.sMu.Unlock()
		b.beamPool.Free(pkt)
		return false, nil
	}

	if state == StatePending {
		if pkt.Header.Version != wire.CurrentVersion {
			b.mu.Lock()
			b.state = StateIdle
			b.mu.Unlock()
			b.beamPool.Free(pkt)
			return false, ErrIPV
		}

		t := float64(pkt.Header.AbsTime.Sec())
		if !b.armed || t < b.cfg.StartTimeSec {
			b.armed = true
			if b.cfg.StartTimeSec > 0 && t >= b.cfg.StartTimeSec {
				b.beamPool.Free(pkt)
				return false, ErrSTAP
			}
			b.beamPool.Free(pkt)
			return false, nil
		}

		// Otherwise: armed and t >= startTime. Transition PENDING -> RUNNING.
		b.inputSeq = pkt.Header.Seq
		b.outputSeq = 0
		b.setPacketTimeBase(pkt.Header.AbsTime)
		b.mu.Lock()
		b.pending = newPendingList()
		b.ring.Reset()
		b.state = StateRunning
		b.outputStats.reset()
		for i := range b.channelStats {
			b.channelStats[i].reset()
		}
		b.mu.Unlock()
		b.armed = false
		b.sMu.Lock()
		b.inputStats.reset()
		b.sMu.Unlock()
		startFlag = true
	}

	if modularLess(pkt.Header.Seq, b.inputSeq) {
		b.sMu.Lock()
		b.net.Late++
		b.sMu.Unlock()
		b.beamPool.Free(pkt)
		return startFlag, nil
	}

	b.addPacket(pkt)
	b.beamPool.Free(pkt)
	return startFlag, nil
}

// setPacketTimeBase sets up packet timing: the first channel packet's
// time is half a WOLA frame later than the first input sample's time.
func (b *Beam) setPacketTimeBase(at wire.AbsTime) {
	b.beamTime = at.Seconds()
	b.channelTime = b.beamTime + float64(b.cfg.TotalChannels)*float64(b.cfg.Foldings)*b.beamSecPerSample/2
}

// addPacket gap-fills any skipped sequence numbers
// with synthesized zero-sample packets, ingest the real packet, then
// schedule DFB iterations while enough samples are available.
func (b *Beam) addPacket(pkt *wire.BeamPacket) {
	for modularLess(b.inputSeq, pkt.Header.Seq) {
		zero := make([]wire.Sample, len(pkt.Samples))
		b.addSampleData(b.inputSeq, pkt.Header.AbsTime, zero)
		b.sMu.Lock()
		b.net.Missed++
		b.sMu.Unlock()
	}

	b.addSampleData(pkt.Header.Seq, pkt.Header.AbsTime, pkt.Samples)

	for b.ring.Last()-b.ring.Next() >= int64(b.threshold) {
		b.scheduleDfb()
		b.ring.AdvanceNext(b.consumed)
	}
}

// addSampleData implements flush-on-demand, decimation-by-sum (with the
// original's undocumented wraparound-on-overflow behaviour deliberately
// preserved), first-sample statistics, and the inputSeq/last cursor
// advance.
func (b *Beam) addSampleData(seq uint32, at wire.AbsTime, samples []wire.Sample) {
	n := len(samples) / b.cfg.Decimation
	if n == 0 && len(samples) > 0 {
		n = 1
	}

	if b.ring.Free() < int64(n) {
		b.ensureSpace(int64(n))
		if b.ring.Free() < int64(n) {
			fatal.Fatalf("addSampleData: no buffer available after flush (need %d, free %d): %s", n, b.ring.Free(), b.Diagnose())
		}
	}

	view, err := b.ring.ReserveWrite(n)
	if err != nil {
		fatal.Fatalf("addSampleData: ReserveWrite failed: %v", err)
	}
	writeDecimated(view, samples, b.cfg.Decimation)

	if len(samples) > 0 {
		mag := magnitude(samples[0])
		b.sMu.Lock()
		b.inputStats.observe(mag)
		b.sMu.Unlock()
	}

	b.ring.AdvanceLast(n)
	b.inputSeq = seq + 1
}

// ensureSpace walks the pending list from its oldest entry under bLock,
// removing the contiguous completed prefix and moving `done` (and `first`)
// to the start sample of the last entry removed, per §4.5.4.
func (b *Beam) ensureSpace(need int64) {
	b.mu.Lock()
	newDone, advanced := b.pending.FlushPrefix()
	if advanced {
		b.ring.AdvanceDone(newDone)
		b.ring.AdvanceFirst(newDone)
	}
	b.mu.Unlock()
}

func writeDecimated(view ring.View, samples []wire.Sample, decimation int) {
	dst := make([]wire.Sample, 0, view.Len())
	if decimation <= 1 {
		dst = append(dst, samples...)
	} else {
		for i := 0; i+decimation <= len(samples); i += decimation {
			var sum wire.Sample
			for j := 0; j < decimation; j++ {
				sum.I = sum.I + samples[i+j].I
				sum.Q = sum.Q + samples[i+j].Q
			}
			dst = append(dst, sum)
		}
	}
	copy(view.A, dst)
	if len(view.B) > 0 {
		copy(view.B, dst[len(view.A):])
	}
}

func magnitude(s wire.Sample) float64 {
	i, q := float64(s.I), float64(s.Q)
	return math.Sqrt(i*i + q*q)
}

// scheduleDfb: the PendingList insert happens under
// bLock; the work-queue send happens without any lock held, honouring the
// "hold at most one of {bLock, sLock, pool lock, queue lock}" rule.
func (b *Beam) scheduleDfb() {
	sample := b.ring.Next()

	b.mu.Lock()
	b.pending.Insert(sample)
	b.mu.Unlock()

	info := PacketInfo{
		Sample:         sample,
		OutputSeq:      b.outputSeq,
		AbsTime:        wire.AbsTimeFromSeconds(b.channelTime),
		Freq:           b.cfg.CenterFreq,
		SampleRate:     b.sampleRate,
		UsableFraction: float32(1 - b.cfg.Oversampling),
	}
	b.outputSeq++
	b.channelTime += b.channelSecPerPacket

	b.workQueue <- info
}

// ChannelIndexForOutput maps a packet-order channel index i
// (i in [0, usableChannels), negative frequencies first) to the DFB's
// natural FFT-order channel index
func ChannelIndexForOutput(i, totalChannels, usableChannels int) int {
	half := usableChannels / 2
	if i < half {
		return totalChannels - half + i
	}
	return i - half
}

// DfbProcess is called by a worker holding kernel id.
// It reads `threshold` ring samples starting at sample into scratchTD
// (converting complex-int8 to complex128, swapping I/Q if configured),
// runs the kernel, and records completion/statistics.
func (b *Beam) DfbProcess(id int, sample int64, scratchTD []complex128, channelOut [][]complex64) error {
	b.mu.Lock()
	if b.state != StateRunning {
		b.pending.Discard(sample)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	remaining := b.threshold
	idx := sample
	pos := 0
	for remaining > 0 {
		seg := b.ring.ReadSlice(idx, remaining)
		if len(seg) == 0 {
			break
		}
		for _, s := range seg {
			if b.cfg.SwapInputs {
				scratchTD[pos] = complex(float64(s.Q), float64(s.I))
			} else {
				scratchTD[pos] = complex(float64(s.I), float64(s.Q))
			}
			pos++
		}
		idx += int64(len(seg))
		remaining -= len(seg)
	}

	k := b.Kernel(id)
	if err := k.Iterate(scratchTD, b.cfg.ChannelSamples, channelOut); err != nil {
		b.mu.Lock()
		b.pending.Discard(sample)
		newDone, advanced := b.pending.FlushPrefix()
		if advanced {
			b.ring.AdvanceDone(newDone)
			b.ring.AdvanceFirst(newDone)
		}
		b.mu.Unlock()
		return err
	}

	b.mu.Lock()
	b.pending.MarkComplete(sample)
	newDone, advanced := b.pending.FlushPrefix()
	if advanced {
		b.ring.AdvanceDone(newDone)
		b.ring.AdvanceFirst(newDone)
	}
	// Stats updated under bLock here deliberately rather than sLock, the
	// one case where beam and output stats are folded into the same
	// critical section as the ring/pending bookkeeping above.
	for i := 0; i < b.cfg.UsableChannels; i++ {
		nat := ChannelIndexForOutput(i, b.cfg.TotalChannels, b.cfg.UsableChannels)
		if len(channelOut[nat]) == 0 {
			continue
		}
		first := channelOut[nat][0]
		mag := math.Hypot(float64(real(first)), float64(imag(first)))
		b.channelStats[i].observe(mag)
		b.outputStats.observe(mag)
	}
	b.mu.Unlock()

	return nil
}

// GetNetStats returns a copy of the packet-outcome counters.
func (b *Beam) GetNetStats() NetStats {
	b.sMu.Lock()
	defer b.sMu.Unlock()
	return b.net
}

// GetBeamStats returns a copy of the input-sample statistics.
func (b *Beam) GetBeamStats() SampleStatistics {
	b.sMu.Lock()
	defer b.sMu.Unlock()
	return b.inputStats
}

// GetOutputStats returns a copy of the aggregate output-sample statistics.
// Guarded by bLock, not sLock, matching DfbProcess's update site (spec
// §4.5.6 step 4 names the beam lock explicitly for this one case).
func (b *Beam) GetOutputStats() SampleStatistics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outputStats
}

// GetChannelStats returns a copy of the per-channel statistics, indexed
// negative-frequency-first
func (b *Beam) GetChannelStats() []SampleStatistics {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]SampleStatistics, len(b.channelStats))
	copy(out, b.channelStats)
	return out
}

// Ring exposes the beam's ring for diagnostics and tests only; production
// code outside this package reads samples solely through DfbProcess.
func (b *Beam) Ring() *ring.Ring { return b.ring }

// PendingLen reports the number of scheduled DFB iterations not yet
// completed and flushed, for status reporting.
func (b *Beam) PendingLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending.Len()
}

// InputSeq and OutputSeq return the current sequence counters. Both fields
// are written only by the single goroutine driving HandlePacket/addPacket;
// the lock here exists for the benefit of concurrent readers (status/metrics
// reporting), not to serialize against another writer.
func (b *Beam) InputSeq() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inputSeq
}

func (b *Beam) OutputSeq() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outputSeq
}

// Diagnose implements fatal.Diagnoser.
func (b *Beam) Diagnose() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fmt.Sprintf("beam{state=%s %s pending=%d}", b.state, b.ring.Diagnose(), b.pending.Len())
}
