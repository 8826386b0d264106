// Package metrics exposes Prometheus counters for every stage between capture
// and output.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/daniellavrushin/hellotrace/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hellotrace"

// Filter and drop reasons.
const (
	ReasonDecode     = "decode"
	ReasonNotHello   = "not_client_hello"
	ReasonKind       = "kind"
	ReasonTimestamp  = "timestamp"
	ReasonFlushError = "flush_error"
)

type Metrics struct {
	reg *prometheus.Registry

	Frames      *prometheus.CounterVec
	Samples     *prometheus.CounterVec
	Filtered    *prometheus.CounterVec
	Dropped     *prometheus.CounterVec
	Lookups     *prometheus.CounterVec
	Records     prometheus.Counter
	Batches     prometheus.Counter
	FlushErrors prometheus.Counter
	BatchSize   prometheus.Histogram
}

// New registers every collector on a private registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_total",
			Help: "Frames read from a capture source.",
		}, []string{"source"}),
		Samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "samples_total",
			Help: "Samples received by the pipeline, by kind hint.",
		}, []string{"kind"}),
		Filtered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "samples_filtered_total",
			Help: "Samples that turned out not to be of interest.",
		}, []string{"reason"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_dropped_total",
			Help: "Records discarded before reaching the sink.",
		}, []string{"reason"}),
		Lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "asn_lookups_total",
			Help: "ASN lookups by address family and outcome.",
		}, []string{"family", "result"}),
		Records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_total",
			Help: "Records handed to the batcher.",
		}),
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "batches_flushed_total",
			Help: "Batches written to the sink.",
		}),
		FlushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "flush_errors_total",
			Help: "Batches the sink failed to write.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "batch_records",
			Help:    "Records per flushed batch.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
	m.reg.MustRegister(
		m.Frames, m.Samples, m.Filtered, m.Dropped, m.Lookups,
		m.Records, m.Batches, m.FlushErrors, m.BatchSize,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Infof("metrics: listening on %s", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
