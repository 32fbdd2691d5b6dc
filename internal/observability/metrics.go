// File: internal/observability/metrics.go
package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xkilldash9x/autoapply/internal/config"
	"go.uber.org/zap"
)

// Metrics holds the counters and histograms recorded during a tab run.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	questionsResolved  *prometheus.CounterVec
	questionsExhausted *prometheus.CounterVec
	llmBatches         *prometheus.CounterVec
	corrections        *prometheus.CounterVec
	pages              *prometheus.CounterVec
	handlerDuration    *prometheus.HistogramVec
}

// NewMetrics registers all collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		questionsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoapply",
			Name:      "questions_resolved_total",
			Help:      "Questions resolved, by platform and answer source.",
		}, []string{"platform", "source"}),
		questionsExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoapply",
			Name:      "questions_exhausted_total",
			Help:      "Questions that ran out of attempts.",
		}, []string{"platform"}),
		llmBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoapply",
			Name:      "llm_batches_total",
			Help:      "Batched LLM escalations, by outcome.",
		}, []string{"outcome"}),
		corrections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoapply",
			Name:      "corrections_applied_total",
			Help:      "Structural corrections applied between iterations.",
		}, []string{"kind"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoapply",
			Name:      "pages_processed_total",
			Help:      "Application pages processed, by platform and page kind.",
		}, []string{"platform", "page"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "autoapply",
			Name:      "handler_duration_seconds",
			Help:      "Field handler execution latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"kind", "status"}),
	}
	m.registry.MustRegister(
		m.questionsResolved,
		m.questionsExhausted,
		m.llmBatches,
		m.corrections,
		m.pages,
		m.handlerDuration,
	)
	return m
}

func (m *Metrics) QuestionResolved(platform, source string) {
	if m == nil {
		return
	}
	m.questionsResolved.WithLabelValues(platform, source).Inc()
}

func (m *Metrics) QuestionExhausted(platform string) {
	if m == nil {
		return
	}
	m.questionsExhausted.WithLabelValues(platform).Inc()
}

func (m *Metrics) LLMBatch(outcome string) {
	if m == nil {
		return
	}
	m.llmBatches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CorrectionApplied(kind string) {
	if m == nil {
		return
	}
	m.corrections.WithLabelValues(kind).Inc()
}

func (m *Metrics) PageProcessed(platform, page string) {
	if m == nil {
		return
	}
	m.pages.WithLabelValues(platform, page).Inc()
}

func (m *Metrics) ObserveHandler(kind, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.handlerDuration.WithLabelValues(kind, status).Observe(d.Seconds())
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// StartMetricsServer serves the registry on cfg.Addr until ctx is cancelled.
// It returns immediately; a disabled config starts nothing.
func StartMetricsServer(ctx context.Context, cfg config.MetricsConfig, m *Metrics, logger *zap.Logger) error {
	if !cfg.Enabled || m == nil {
		return nil
	}
	if cfg.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Endpoint, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("Serving metrics", zap.String("addr", cfg.Addr), zap.String("endpoint", cfg.Endpoint))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	return nil
}
