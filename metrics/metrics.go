package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ddnsd"

var TotalRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Number of requests served by the control and health servers.",
	},
	[]string{"route"},
)

var Detections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "detections_total",
		Help:      "Number of IP detections by method and result.",
	},
	[]string{"method", "family", "result"},
)

var ProviderRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_requests_total",
		Help:      "Number of update attempts sent to a DNS provider.",
	},
	[]string{"provider", "result"},
)

var Updates = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "updates_total",
		Help:      "Number of update history entries by status.",
	},
	[]string{"provider", "status"},
)

var ActiveWorkers = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_workers",
		Help:      "Number of running domain workers.",
	},
)

func InitMetrics() {
	for _, c := range []prometheus.Collector{TotalRequests, Detections, ProviderRequests, Updates, ActiveWorkers} {
		// Already registered collectors are left in place on reinit.
		_ = prometheus.Register(c)
	}
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// IncrementReqs counts r under the ServeMux pattern that matched it, so
// path values like domain ids do not become label values.
func IncrementReqs(r *http.Request) {
	route := r.Pattern
	if route == "" {
		route = "unmatched"
	}
	TotalRequests.WithLabelValues(route).Inc()
}

func IncrementDetection(method, family string, err error) {
	Detections.WithLabelValues(method, family, result(err)).Inc()
}

func IncrementProvider(provider string, err error) {
	ProviderRequests.WithLabelValues(provider, result(err)).Inc()
}

func IncrementUpdate(provider, status string) {
	Updates.WithLabelValues(provider, status).Inc()
}
