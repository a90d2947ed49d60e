package node

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeTransferred = "transferred"
	outcomeSkipped     = "skipped"
	outcomeDevice      = "device_error"
	outcomeLink        = "link_error"
	outcomeContention  = "contention"
)

type metrics struct {
	triggers    *prometheus.CounterVec
	tasks       *prometheus.CounterVec
	inFlight    prometheus.Gauge
	ackWait     prometheus.Histogram
	framesSent  prometheus.Counter
	bytesSent   prometheus.Counter
	uploadFails prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_node_triggers_total",
			Help: "Trigger edges seen, by debounce result.",
		}, []string{"result"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_node_tasks_total",
			Help: "Finished capture tasks, by outcome.",
		}, []string{"outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "capture_node_tasks_in_flight",
			Help: "Capture tasks started and not yet finished.",
		}),
		ackWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "capture_node_ack_wait_seconds",
			Help:    "Time spent waiting for the artifact request keyword.",
			Buckets: prometheus.LinearBuckets(0.5, 1, 12),
		}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_node_chunk_frames_sent_total",
			Help: "Chunk frames written to the serial link.",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_node_artifact_bytes_sent_total",
			Help: "Artifact payload bytes written to the serial link.",
		}),
		uploadFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_node_dev_upload_failures_total",
			Help: "Failed dev-mode uploads.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.triggers, m.tasks, m.inFlight, m.ackWait, m.framesSent, m.bytesSent, m.uploadFails)
	}
	return m
}

func (m *metrics) taskFinished(err error, transferred bool) {
	m.tasks.WithLabelValues(outcomeOf(err, transferred)).Inc()
}

func outcomeOf(err error, transferred bool) string {
	switch {
	case err == nil && transferred:
		return outcomeTransferred
	case err == nil:
		return outcomeSkipped
	case errors.Is(err, ErrContention):
		return outcomeContention
	case errors.Is(err, ErrLink):
		return outcomeLink
	default:
		return outcomeDevice
	}
}
