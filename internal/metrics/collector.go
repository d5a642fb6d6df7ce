package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Object status label values.
const (
	StatusSuccess       = "success"
	StatusAlreadyExists = "already_exists"
	StatusFailed        = "failed"
	StatusSkipped       = "skipped"
)

// Collector exposes migration metrics to Prometheus.
type Collector struct {
	registry        *prometheus.Registry
	objectsTotal    *prometheus.CounterVec
	bytesTotal      prometheus.Counter
	retriesTotal    prometheus.Counter
	inflightWorkers prometheus.Gauge
	duration        prometheus.Histogram
}

// New creates a collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		objectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "migrate_objects_total",
				Help: "Total number of objects processed",
			},
			[]string{"status"},
		),
		bytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "migrate_bytes_total",
				Help: "Total bytes uploaded",
			},
		),
		retriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "migrate_upload_retries_total",
				Help: "Total number of upload retries",
			},
		),
		inflightWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "migrate_inflight_workers",
				Help: "Number of workers currently processing an object",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "migrate_object_duration_seconds",
				Help:    "Time taken to fetch and upload an object",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
	}

	c.registry.MustRegister(
		c.objectsTotal,
		c.bytesTotal,
		c.retriesTotal,
		c.inflightWorkers,
		c.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// IncObjects increments the object counter for a status label.
func (c *Collector) IncObjects(status string) {
	c.objectsTotal.WithLabelValues(status).Inc()
}

// AddBytes adds to total bytes uploaded.
func (c *Collector) AddBytes(bytes int) {
	c.bytesTotal.Add(float64(bytes))
}

// IncRetries counts one upload retry.
func (c *Collector) IncRetries() {
	c.retriesTotal.Inc()
}

// IncInflight marks a worker busy.
func (c *Collector) IncInflight() {
	c.inflightWorkers.Inc()
}

// DecInflight marks a worker idle.
func (c *Collector) DecInflight() {
	c.inflightWorkers.Dec()
}

// ObserveDuration observes the processing time of one object.
func (c *Collector) ObserveDuration(d time.Duration) {
	c.duration.Observe(d.Seconds())
}

// Handler returns the HTTP handler serving the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve runs the metrics HTTP server on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
