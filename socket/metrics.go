package socket

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nitroio/nitro/pipe"
)

// metricsInterval paces collectMetrics's sweep, the same ticker-driven
// shape as the pipe package's subscription resync loop.
const metricsInterval = 2 * time.Second

// Recovered from original_source/src/socket.h's per-socket stats block
// (§1 of SPEC_FULL.md), these gauges/counters are fed by Socket.Each
// rather than incremented inline at every call site, mirroring how the
// service-mirror metrics in this retrieval pack derive gauges from a
// periodic sweep instead of threading counters through every code path.
var (
	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nitro_queue_depth",
			Help: "Current occupancy of a socket's bounded queues.",
		},
		[]string{"socket", "queue"},
	)
	pipesRegistered = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nitro_pipes_registered",
			Help: "Number of pipes currently registered on a socket.",
		},
		[]string{"socket"},
	)
	// Gauges, not Counters: collectMetrics re-derives each value from the
	// live sum of per-pipe cumulative counters on every sweep rather than
	// tracking a delta since the last sweep, so Set (not Add) is correct.
	framesTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nitro_frames_total",
			Help: "Frames sent or received by a socket, by direction.",
		},
		[]string{"socket", "direction"},
	)
	bytesTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nitro_bytes_total",
			Help: "Payload bytes sent or received by a socket, by direction.",
		},
		[]string{"socket", "direction"},
	)
)

// metricsLoop runs for the lifetime of the socket, sweeping collectMetrics
// on every tick until the socket halts.
func (s *Socket) metricsLoop() {
	t := time.NewTicker(metricsInterval)
	defer t.Stop()
	for {
		select {
		case <-s.HaltCh():
			return
		case <-t.C:
			s.collectMetrics()
		}
	}
}

// collectMetrics walks every registered pipe via Each and publishes its
// aggregate counters, plus the receive queue depth and pipe count.
func (s *Socket) collectMetrics() {
	pipesRegistered.WithLabelValues(s.name).Set(0)
	n := 0
	var inFrames, outFrames, inBytes, outBytes uint64
	s.Each(func(p *pipe.Pipe) bool {
		n++
		inFrames += p.FramesIn
		outFrames += p.FramesOut
		inBytes += p.BytesIn
		outBytes += p.BytesOut
		return true
	})
	pipesRegistered.WithLabelValues(s.name).Set(float64(n))
	framesTotal.WithLabelValues(s.name, "in").Set(float64(inFrames))
	framesTotal.WithLabelValues(s.name, "out").Set(float64(outFrames))
	bytesTotal.WithLabelValues(s.name, "in").Set(float64(inBytes))
	bytesTotal.WithLabelValues(s.name, "out").Set(float64(outBytes))
	queueDepth.WithLabelValues(s.name, "recv").Set(float64(s.RecvQ.Count()))
}
