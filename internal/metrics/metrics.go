package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SearchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsweep_search_requests_total",
			Help: "Search engine requests by engine and outcome",
		},
		[]string{"engine", "outcome"},
	)

	SearchCandidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsweep_search_candidates_total",
			Help: "Candidates returned by each search engine",
		},
		[]string{"engine"},
	)

	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docsweep_search_duration_seconds",
			Help:    "Duration of search engine requests in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"engine"},
	)

	TranslationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsweep_translations_total",
			Help: "Translation lookups by outcome (cache_hit, translated, unavailable)",
		},
		[]string{"outcome"},
	)

	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsweep_downloads_total",
			Help: "Resolved downloads by terminal status and reason",
		},
		[]string{"status", "reason"},
	)

	DownloadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsweep_download_bytes_total",
			Help: "Bytes written to disk by file type",
		},
		[]string{"file_type"},
	)

	DownloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docsweep_download_duration_seconds",
			Help:    "Duration of document downloads in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	DownloadRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docsweep_download_retries_total",
			Help: "Download attempts repeated after a transient failure",
		},
	)

	ScoresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsweep_scores_total",
			Help: "Relevance scoring calls by backend and outcome",
		},
		[]string{"backend", "outcome"},
	)

	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsweep_sessions_total",
			Help: "Finished sessions by terminal status",
		},
		[]string{"status"},
	)

	SessionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docsweep_sessions_in_flight",
			Help: "Sessions currently running",
		},
	)
)

// RecordSearch updates the search metrics for one provider call.
func RecordSearch(engine, outcome string, candidates int, d time.Duration) {
	SearchRequestsTotal.WithLabelValues(engine, outcome).Inc()
	SearchCandidatesTotal.WithLabelValues(engine).Add(float64(candidates))
	SearchDuration.WithLabelValues(engine).Observe(d.Seconds())
}

// RecordTranslation counts one translation lookup.
func RecordTranslation(outcome string) {
	TranslationsTotal.WithLabelValues(outcome).Inc()
}

// RecordDownload updates the download metrics for one resolved Result.
func RecordDownload(status, reason, fileType string, size int64, d time.Duration) {
	DownloadsTotal.WithLabelValues(status, reason).Inc()
	if size > 0 {
		DownloadBytesTotal.WithLabelValues(fileType).Add(float64(size))
	}
	DownloadDuration.Observe(d.Seconds())
}

// RecordScore counts one scoring call.
func RecordScore(backend, outcome string) {
	ScoresTotal.WithLabelValues(backend, outcome).Inc()
}

// SessionStarted marks a session as running.
func SessionStarted() {
	SessionsInFlight.Inc()
}

// SessionFinished records the terminal status of a running session.
func SessionFinished(status string) {
	SessionsInFlight.Dec()
	SessionsTotal.WithLabelValues(status).Inc()
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on the specified port and exposes /metrics.
func Start(port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
