// Package app is the channelizer's composition root: it constructs
// PacketPools, Beam, WorkerPool, Transmitter, Receiver, and Input in
// leaf-first order, favoring explicit handles over singletons.
//
// Dependencies are constructed before their dependents (pools, then
// beam, then the data-plane stages). Shutdown stops the data-plane stages
// in the reverse of the order Run starts them.
package app

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sigblips/sonata-channelizer/internal/beam"
	"github.com/sigblips/sonata-channelizer/internal/config"
	"github.com/sigblips/sonata-channelizer/internal/control"
	"github.com/sigblips/sonata-channelizer/internal/dfb"
	"github.com/sigblips/sonata-channelizer/internal/fatal"
	"github.com/sigblips/sonata-channelizer/internal/input"
	"github.com/sigblips/sonata-channelizer/internal/metrics"
	"github.com/sigblips/sonata-channelizer/internal/pool"
	"github.com/sigblips/sonata-channelizer/internal/receiver"
	"github.com/sigblips/sonata-channelizer/internal/transmitter"
	"github.com/sigblips/sonata-channelizer/internal/wire"
	"github.com/sigblips/sonata-channelizer/internal/worker"
)

const (
	inputQueueDepth = 4096
	workQueueDepth  = 4096
	transmitQDepth  = 4096
	beamPoolSize    = 8192
	channelPoolSize = 8192
)

// App owns every long-lived component of one channelizer instance.
type App struct {
	cfg *config.Config

	beam        *beam.Beam
	beamPool    *pool.Pool[wire.BeamPacket]
	channelPool *pool.Pool[wire.ChannelPacket]

	receiver    *receiver.Receiver
	input       *input.Input
	workers     *worker.Pool
	transmitter *transmitter.Transmitter
	metrics     *metrics.Metrics
	control     *control.Server
}

// New constructs every component but does not start any goroutines.
func New(cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	a.beamPool = pool.New("beam-packets", beamPoolSize,
		func() *wire.BeamPacket { return &wire.BeamPacket{} }, nil)
	a.channelPool = pool.New("channel-packets", channelPoolSize,
		func() *wire.ChannelPacket { return &wire.ChannelPacket{} }, nil)

	inputQueue := make(chan *wire.BeamPacket, inputQueueDepth)
	workQueue := make(chan beam.PacketInfo, workQueueDepth)
	transmitQueue := make(chan worker.Vector, transmitQDepth)

	startAt := cfg.Beam.StartAt
	if startAt == 0 {
		startAt = beam.StartNever
	}
	bc := beam.Config{
		TotalChannels:  cfg.Beam.TotalChannels,
		UsableChannels: cfg.Beam.UsableChannels,
		Foldings:       cfg.Beam.Foldings,
		Oversampling:   cfg.Beam.Oversampling,
		ChannelSamples: cfg.Beam.ChannelSamples,
		Decimation:     cfg.Beam.Decimation,
		SwapInputs:     cfg.Beam.SwapInputs,
		Src:            cfg.Beam.Src,
		PolCode:        cfg.Beam.PolCode,
		CenterFreq:     cfg.Beam.CenterFreq,
		Bandwidth:      cfg.Beam.Bandwidth,
		RingCapacity:   cfg.Beam.RingCapacity,
		StartTimeSec:   startAt,
	}
	b, err := beam.New(bc, a.beamPool, workQueue)
	if err != nil {
		return nil, fmt.Errorf("app: beam: %w", err)
	}
	a.beam = b
	fatal.Register(b)

	coeff := dfb.DefaultCoeff(cfg.Beam.TotalChannels, cfg.Beam.Foldings)
	if cfg.Filter.CoeffPath != "" {
		loaded, err := dfb.LoadCoeff(cfg.Filter.CoeffPath)
		if err != nil {
			return nil, fmt.Errorf("app: filter coefficients: %w", err)
		}
		coeff = loaded
	}
	if err := b.SetCoeff(coeff); err != nil {
		return nil, fmt.Errorf("app: filter coefficients: %w", err)
	}

	beamIface, err := resolveInterface(cfg.Network.Interface)
	if err != nil {
		return nil, fmt.Errorf("app: network interface: %w", err)
	}

	beamAddr, err := net.ResolveUDPAddr("udp4", cfg.Network.BeamGroup)
	if err != nil {
		return nil, fmt.Errorf("app: beam_group: %w", err)
	}
	rcv, err := receiver.New(beamAddr, beamIface, a.beamPool, inputQueue, b)
	if err != nil {
		return nil, fmt.Errorf("app: receiver: %w", err)
	}
	a.receiver = rcv

	a.input = input.New(b, inputQueue, func(err error) {
		log.Printf("app: stopping on protocol version mismatch: %v", err)
		b.Stop()
	})

	a.workers = worker.New(b, workQueue, transmitQueue, a.channelPool,
		cfg.Beam.TotalChannels, cfg.Beam.UsableChannels, cfg.Beam.ChannelSamples,
		cfg.Beam.Bandwidth, wire.ChanSrc400kHz)

	channelHost, channelPortStr, err := net.SplitHostPort(cfg.Network.ChannelBase)
	if err != nil {
		return nil, fmt.Errorf("app: channel_base_group: %w", err)
	}
	channelIP := net.ParseIP(channelHost)
	if channelIP == nil {
		return nil, fmt.Errorf("app: channel_base_group: invalid address %q", channelHost)
	}
	channelPort, err := strconv.Atoi(channelPortStr)
	if err != nil {
		return nil, fmt.Errorf("app: channel_base_group: invalid port %q", channelPortStr)
	}
	tx, err := transmitter.New(b, transmitQueue, a.channelPool, channelIP, channelPort,
		cfg.Beam.UsableChannels, beamIface)
	if err != nil {
		return nil, fmt.Errorf("app: transmitter: %w", err)
	}
	a.transmitter = tx

	if cfg.Prometheus.Enabled {
		a.metrics = metrics.New()
	}

	return a, nil
}

func resolveInterface(name string) (*net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	return net.InterfaceByName(name)
}

// Run starts every component and launches the worker pool, in leaf-first
// order: Transmitter and workers before Input, Input before Receiver, since
// each stage must be ready to accept from the one upstream of it.
func (a *App) Run() error {
	a.transmitter.Start()
	a.workers.Start(a.cfg.Workers.Count)
	a.input.Start()
	a.receiver.Start()

	if a.cfg.Control.Listen != "" {
		srv, err := control.Listen(a.cfg.Control.Listen, a)
		if err != nil {
			return fmt.Errorf("app: control: %w", err)
		}
		a.control = srv
		go srv.Serve()
	}

	if a.metrics != nil && a.cfg.Prometheus.Listen != "" {
		go a.serveMetrics()
		go a.statusLoop()
	}

	return nil
}

// serveMetrics mounts the Prometheus /metrics endpoint.
func (a *App) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(a.cfg.Prometheus.Listen, mux); err != nil {
		log.Printf("app: metrics server: %v", err)
	}
}

// statusLoop periodically samples the beam's running stats into the
// registered Prometheus collectors.
func (a *App) statusLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		a.metrics.Observe(a.beam, a.workers)
	}
}

// Shutdown closes the control listener, then stops the data-plane stages in
// the reverse of Run's start order: Receiver, Input, workers, Transmitter.
func (a *App) Shutdown() {
	if a.control != nil {
		a.control.Close()
	}
	a.receiver.Stop()
	a.input.Stop()
	a.workers.Stop()
	a.transmitter.Stop()
}

// Start implements control.Commander.
func (a *App) Start(startTimeSec float64) { a.beam.Start(startTimeSec) }

// Stop implements control.Commander.
func (a *App) Stop() { a.beam.Stop() }

// SetFreq implements control.Commander.
func (a *App) SetFreq(freq float64) { a.beam.SetFreq(freq) }

// Status implements control.Commander.
func (a *App) Status() control.Status {
	return control.Status{
		State:   a.beam.State().String(),
		Net:     a.beam.GetNetStats(),
		Pending: a.beam.PendingLen(),
	}
}
