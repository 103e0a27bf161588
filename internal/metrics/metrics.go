// Package metrics exposes channelizer-core counters and gauges to
// Prometheus: net stats, ring occupancy, pending-list depth, and per-channel
// sample statistics.
//
// Follows the package-scope promauto constructors gathered into one
// struct returned by a New* constructor, plus promhttp.Handler() wiring
// for the /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sigblips/sonata-channelizer/internal/beam"
	"github.com/sigblips/sonata-channelizer/internal/worker"
)

// Metrics holds the channelizer core's Prometheus collectors.
type Metrics struct {
	// These mirror beam.NetStats, which is already a cumulative running
	// count maintained under the beam's lock; Observe sets rather than
	// adds, so polling twice never double-counts.
	netTotal   prometheus.Gauge
	netWrong   prometheus.Gauge
	netMissed  prometheus.Gauge
	netLate    prometheus.Gauge
	netInvalid prometheus.Gauge

	ringFree     prometheus.Gauge
	ringCapacity prometheus.Gauge
	pendingDepth prometheus.Gauge

	inputMagnitudeMean  prometheus.Gauge
	outputMagnitudeMean prometheus.Gauge
	channelMagnitude    *prometheus.GaugeVec

	dfbErrors prometheus.Gauge
}

// New constructs and registers the channelizer's collectors.
func New() *Metrics {
	return &Metrics{
		netTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "channelizer_net_packets_total",
			Help: "Total beam packets received.",
		}),
		netWrong: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "channelizer_net_packets_wrong_source_total",
			Help: "Beam packets dropped for source/polarization mismatch.",
		}),
		netMissed: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "channelizer_net_packets_missed_total",
			Help: "Gap-filled (synthesized) beam packets.",
		}),
		netLate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "channelizer_net_packets_late_total",
			Help: "Beam packets arriving behind the current sequence number.",
		}),
		netInvalid: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "channelizer_net_packets_invalid_total",
			Help: "Beam packets with DATA_VALID unset.",
		}),
		ringFree: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "channelizer_ring_free_samples",
			Help: "Free samples remaining in the input ring buffer.",
		}),
		ringCapacity: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "channelizer_ring_capacity_samples",
			Help: "Total capacity of the input ring buffer in samples.",
		}),
		pendingDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "channelizer_pending_jobs",
			Help: "Scheduled DFB iterations not yet completed and flushed.",
		}),
		inputMagnitudeMean: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "channelizer_input_sample_magnitude_mean",
			Help: "Running mean magnitude of the first sample of each input packet.",
		}),
		outputMagnitudeMean: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "channelizer_output_sample_magnitude_mean",
			Help: "Running mean magnitude of the first sample of each output packet.",
		}),
		channelMagnitude: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "channelizer_channel_sample_magnitude_mean",
			Help: "Running mean magnitude of the first sample of each output channel.",
		}, []string{"channel"}),
		dfbErrors: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "channelizer_dfb_errors_total",
			Help: "DFB iterations that errored and were dropped instead of transmitted.",
		}),
	}
}

// Observe samples the current beam and worker pool state into the
// registered collectors. Callers typically invoke this periodically (see
// app.statusLoop).
func (m *Metrics) Observe(b *beam.Beam, w *worker.Pool) {
	net := b.GetNetStats()
	m.netTotal.Set(float64(net.Total))
	m.netWrong.Set(float64(net.Wrong))
	m.netMissed.Set(float64(net.Missed))
	m.netLate.Set(float64(net.Late))
	m.netInvalid.Set(float64(net.Invalid))

	r := b.Ring()
	m.ringFree.Set(float64(r.Free()))
	m.ringCapacity.Set(float64(r.Capacity()))
	m.pendingDepth.Set(float64(b.PendingLen()))

	m.inputMagnitudeMean.Set(meanOf(b.GetBeamStats()))
	m.outputMagnitudeMean.Set(meanOf(b.GetOutputStats()))

	for i, cs := range b.GetChannelStats() {
		m.channelMagnitude.WithLabelValues(itoa(i)).Set(meanOf(cs))
	}

	m.dfbErrors.Set(float64(w.DfbErrors()))
}

func meanOf(s beam.SampleStatistics) float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler { return promhttp.Handler() }
