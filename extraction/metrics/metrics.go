// Package metrics exposes Prometheus instruments for a scan run.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Chunk statuses.
const (
	ChunkOK      = "ok"
	ChunkFailed  = "failed"
	ChunkSkipped = "skipped"
)

// Quote outcomes.
const (
	QuoteWritten       = "written"
	QuoteDuplicate     = "duplicate"
	QuoteRejected      = "rejected"
	QuoteSchemaDropped = "schema_dropped"
)

// Metrics holds the scan instruments on a private registry. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	chunks     *prometheus.CounterVec
	candidates prometheus.Counter
	quotes     *prometheus.CounterVec
	extraction prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quotemine",
			Name:      "chunks_total",
			Help:      "Chunks processed, by status.",
		}, []string{"status"}),
		candidates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quotemine",
			Name:      "candidates_total",
			Help:      "Candidate quotes decoded from extraction replies.",
		}),
		quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quotemine",
			Name:      "quotes_total",
			Help:      "Candidate quotes by outcome.",
		}, []string{"outcome"}),
		extraction: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quotemine",
			Name:      "extraction_seconds",
			Help:      "Latency of one extraction call, including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
	m.Registry.MustRegister(m.chunks, m.candidates, m.quotes, m.extraction)
	return m
}

func (m *Metrics) Chunk(status string) {
	if m == nil {
		return
	}
	m.chunks.WithLabelValues(status).Inc()
}

func (m *Metrics) Candidates(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.candidates.Add(float64(n))
}

func (m *Metrics) Quotes(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.quotes.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) ObserveExtraction(d time.Duration) {
	if m == nil {
		return
	}
	m.extraction.Observe(d.Seconds())
}

// ChunkCount returns the current value of the chunk counter for status.
func (m *Metrics) ChunkCount(status string) prometheus.Counter {
	return m.chunks.WithLabelValues(status)
}

// QuoteCount returns the quote counter for outcome.
func (m *Metrics) QuoteCount(outcome string) prometheus.Counter {
	return m.quotes.WithLabelValues(outcome)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, m *Metrics, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("metrics listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
