package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danmuck/actionrpc/internal/action"
	"github.com/danmuck/actionrpc/internal/protocol/schema"
)

const namespace = "actionrpc"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Dispatched actions by terminal state.",
		},
		[]string{"action", "state"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time from receipt to encoded reply in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"action", "state"},
	)
	transportFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_total",
			Help:      "Frames read and written by message type.",
		},
		[]string{"direction", "type"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, dispatchTotal, dispatchDuration, transportFrames)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordDispatch(actionName string, outcome action.State, duration time.Duration) {
	RegisterMetrics()
	state := outcome.String()
	dispatchTotal.WithLabelValues(actionName, state).Inc()
	dispatchDuration.WithLabelValues(actionName, state).Observe(duration.Seconds())
}

func RecordFrame(direction string, messageType uint32) {
	RegisterMetrics()
	transportFrames.WithLabelValues(direction, schema.MessageTypeName(messageType)).Inc()
}

// DispatchMetrics feeds dispatcher outcomes into the dispatch series.
type DispatchMetrics struct{}

func (DispatchMetrics) ObserveDispatch(actionName string, outcome action.State, elapsed time.Duration) {
	RecordDispatch(actionName, outcome, elapsed)
}

// FrameMetrics counts transport frames.
type FrameMetrics struct{}

func (FrameMetrics) ObserveFrame(direction string, messageType uint32) {
	RecordFrame(direction, messageType)
}
