package api

import (
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-surface metrics, bounded cardinality only (no per-client labels).
var (
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gridclash_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridclash_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridclash_connection_rejected_total",
		Help: "HTTP/WebSocket connections rejected",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "ws_total_limit", "ws_ip_limit"

	spectatorConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridclash_spectator_connections_active",
		Help: "Currently connected WebSocket spectators",
	})

	spectatorMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridclash_spectator_messages_total",
		Help: "Messages pushed to spectators",
	})
)

// RecordConnectionRejected increments the rejection counter.
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// UpdateSpectatorCount updates the spectator gauge.
func UpdateSpectatorCount(count int) {
	spectatorConnections.Set(float64(count))
}

// IncrementSpectatorMessages increments the push counter.
func IncrementSpectatorMessages() {
	spectatorMessages.Inc()
}

// metricsMiddleware records latency and counts per method/path. The path is
// the raw URL path, which is fine here: the route surface is tiny and fixed.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		requestLatency.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
		requestTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(ww.Status())).Inc()
	})
}

// ObservabilityConfig configures the internal debug server.
type ObservabilityConfig struct {
	Enabled    bool
	ListenAddr string // localhost only in production
}

// DefaultObservabilityConfig returns safe defaults.
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
	}
}

// StartDebugServer serves pprof and Prometheus metrics on the loopback
// interface. Exposing pprof externally is a DoS vector, so non-localhost
// addresses are refused unless explicitly overridden.
func StartDebugServer(cfg ObservabilityConfig) error {
	if !cfg.Enabled {
		log.Println("📊 Debug server disabled")
		return nil
	}

	if cfg.ListenAddr != "127.0.0.1:6060" && cfg.ListenAddr != "localhost:6060" {
		if os.Getenv("GRIDCLASH_ALLOW_DEBUG_EXTERNAL") != "true" {
			log.Println("⚠️ Debug server forced to localhost")
			cfg.ListenAddr = "127.0.0.1:6060"
		}
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	go func() {
		log.Printf("📊 Debug server on %s", cfg.ListenAddr)
		log.Printf("   - pprof:   http://%s/debug/pprof/", cfg.ListenAddr)
		log.Printf("   - metrics: http://%s/metrics", cfg.ListenAddr)

		if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
			log.Printf("⚠️ Debug server error: %v", err)
		}
	}()

	return nil
}
