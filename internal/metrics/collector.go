package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes metrics
type Collector struct {
	registry     *prometheus.Registry
	decisions    *prometheus.CounterVec
	passes       *prometheus.CounterVec
	passDuration *prometheus.HistogramVec
	lastSuccess  *prometheus.GaugeVec
}

// New creates a new metrics collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "s3indexer_decisions_total",
				Help: "Retry policy decisions by bucket and outcome",
			},
			[]string{"bucket", "decision"},
		),
		passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "s3indexer_bucket_passes_total",
				Help: "Completed bucket passes by strategy and status",
			},
			[]string{"strategy", "status"},
		),
		passDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "s3indexer_bucket_pass_duration_seconds",
				Help:    "Time taken by one bucket pass",
				Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
			},
			[]string{"strategy"},
		),
		lastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "s3indexer_bucket_last_success_timestamp_seconds",
				Help: "Unix time of the last successful pass per bucket",
			},
			[]string{"bucket"},
		),
	}

	c.registry.MustRegister(c.decisions, c.passes, c.passDuration, c.lastSuccess)

	return c
}

// ObserveDecision counts one retry policy decision.
func (c *Collector) ObserveDecision(bucket, decision string) {
	c.decisions.WithLabelValues(bucket, decision).Inc()
}

// ObservePass records the outcome and duration of a bucket pass.
func (c *Collector) ObservePass(bucket, strategy string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	} else {
		c.lastSuccess.WithLabelValues(bucket).SetToCurrentTime()
	}
	c.passes.WithLabelValues(strategy, status).Inc()
	c.passDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// StartServer serves /metrics on addr until ctx is cancelled.
func (c *Collector) StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// WriteTextfile writes the current metrics in the node_exporter textfile format.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}
