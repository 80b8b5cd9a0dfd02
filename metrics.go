package prospector

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/time/rate"
)

// -------------- Prometheus Metrics --------------

// Metrics holds all Prometheus metrics used by the application
type Metrics struct {
	// Probe metrics
	ProbesTotal  *prometheus.CounterVec
	ProbeLatency *prometheus.HistogramVec
	OpenPorts    *prometheus.CounterVec

	// Run metrics
	EnumeratedHosts *prometheus.GaugeVec
	ScanDuration    *prometheus.HistogramVec
	OperationStatus *prometheus.CounterVec
	TasksInFlight   *prometheus.GaugeVec

	// Vulnerability metrics
	FindingsTotal    *prometheus.CounterVec
	ExternalFailures *prometheus.CounterVec
}

// NewMetrics initializes and returns a new Metrics instance. Metrics are
// created unregistered so multiple engines can coexist in tests; call
// Register once on the instance that serves /metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ProbesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prospector_probes_total",
				Help: "Total number of port probes by resulting state.",
			},
			[]string{"state"},
		),
		ProbeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prospector_probe_latency_ms",
				Help:    "Latency of individual port probes in milliseconds.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"state"},
		),
		OpenPorts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prospector_open_ports_total",
				Help: "Total number of open ports discovered, by service.",
			},
			[]string{"service"},
		),
		EnumeratedHosts: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "prospector_enumerated_hosts",
				Help: "Number of addresses expanded from the target specification.",
			},
			[]string{"run_id"},
		),
		ScanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prospector_scan_duration_seconds",
				Help:    "Duration of scanning operations in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
			[]string{"operation_type", "run_id"},
		),
		OperationStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prospector_operation_status",
				Help: "Status of operations (success or failure).",
			},
			[]string{"operation", "status"},
		),
		TasksInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "prospector_tasks_in_flight",
				Help: "Number of probe tasks currently holding a worker slot.",
			},
			[]string{"operation"},
		),
		FindingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prospector_findings_total",
				Help: "Total number of vulnerability findings by source and severity.",
			},
			[]string{"source", "severity"},
		),
		ExternalFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prospector_external_failures_total",
				Help: "Total number of failed external CVE queries by source.",
			},
			[]string{"source"},
		),
	}
}

// Register registers all metrics with Prometheus
func (m *Metrics) Register() {
	prometheus.MustRegister(
		m.ProbesTotal,
		m.ProbeLatency,
		m.OpenPorts,
		m.EnumeratedHosts,
		m.ScanDuration,
		m.OperationStatus,
		m.TasksInFlight,
		m.FindingsTotal,
		m.ExternalFailures,
	)
}

// -------------- Metrics Server --------------

// StartMetricsServer initializes and starts the metrics HTTP server
func StartMetricsServer(config *Config, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()

	// Rate limit and log the scrape endpoint
	var handler http.Handler = promhttp.Handler()
	handler = rateLimitMiddleware(handler, rate.NewLimiter(5, 10))
	handler = loggerMiddleware(handler, logger)

	mux.Handle("/metrics", handler)
	mux.HandleFunc("/health", healthCheckHandler)

	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "Prospector version %s\n", Version)
	})

	var srv *http.Server

	if config.MetricsTLS {
		// Configure TLS using autocert for automatic certificate management
		certManager := autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			Cache:      autocert.DirCache("certs"),
			HostPolicy: autocert.HostWhitelist(config.MetricsHostname),
		}

		srv = &http.Server{
			Addr:    ":" + config.MetricsPort,
			Handler: mux,
			TLSConfig: &tls.Config{
				GetCertificate: certManager.GetCertificate,
				MinVersion:     tls.VersionTLS12,
				CipherSuites: []uint16{
					tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
					tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
					tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
					tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
					tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
					tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
				},
			},
		}

		go func() {
			logger.Info("Starting TLS metrics server", zap.String("port", config.MetricsPort))
			if err := srv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server listen failed", zap.Error(err))
			}
		}()
	} else {
		srv = &http.Server{
			Addr:    ":" + config.MetricsPort,
			Handler: mux,
		}

		go func() {
			logger.Info("Starting metrics server", zap.String("port", config.MetricsPort))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server listen failed", zap.Error(err))
			}
		}()
	}

	return srv
}

// -------------- HTTP Middleware --------------

// rateLimitMiddleware adds rate limiting to an HTTP handler
func rateLimitMiddleware(next http.Handler, limiter *rate.Limiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggerMiddleware adds request logging to an HTTP handler
func loggerMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Capture the status code for the log line
		rw := &responseWriter{w, http.StatusOK}

		next.ServeHTTP(rw, r)

		logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", rw.statusCode),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// healthCheckHandler responds to health check requests
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
