package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tdispd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tdispd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	dispatchRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tdispd",
			Subsystem: "responder",
			Name:      "requests_total",
			Help:      "TDISP requests handled, by request and outcome.",
		},
		[]string{"tdi", "request", "outcome"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tdispd",
			Subsystem: "responder",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent producing one TDISP response.",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		},
		[]string{"request"},
	)
	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tdispd",
			Subsystem: "tdi",
			Name:      "transitions_total",
			Help:      "Committed TDI state transitions.",
		},
		[]string{"tdi", "event", "from", "to"},
	)
	tdiState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tdispd",
			Subsystem: "tdi",
			Name:      "state",
			Help:      "Current TDI state (0 unlocked, 1 locked, 2 run, 3 error).",
		},
		[]string{"tdi"},
	)
	transportFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tdispd",
			Subsystem: "transport",
			Name:      "frames_total",
			Help:      "Transport frames by direction and result.",
		},
		[]string{"direction", "result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			dispatchRequests, dispatchDuration,
			transitions, tdiState,
			transportFrames,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// RecordDispatch counts one responder outcome. outcome is "ok" or the TDISP
// error code name.
func RecordDispatch(tdi, request, outcome string, duration time.Duration) {
	RegisterMetrics()
	dispatchRequests.WithLabelValues(tdi, request, outcome).Inc()
	dispatchDuration.WithLabelValues(request).Observe(duration.Seconds())
}

func RecordTransition(tdi, event, from, to string, state uint8) {
	RegisterMetrics()
	transitions.WithLabelValues(tdi, event, from, to).Inc()
	tdiState.WithLabelValues(tdi).Set(float64(state))
}

func SetTDIState(tdi string, state uint8) {
	RegisterMetrics()
	tdiState.WithLabelValues(tdi).Set(float64(state))
}

func RecordFrame(direction string, ok bool) {
	RegisterMetrics()
	result := "ok"
	if !ok {
		result = "error"
	}
	transportFrames.WithLabelValues(direction, result).Inc()
}
