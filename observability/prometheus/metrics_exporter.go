package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-fiber-runner/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "fiberrunner"

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	resumeDurationSeconds *prom.HistogramVec
	fiberPanicTotal       *prom.CounterVec
	workRejectedTotal     *prom.CounterVec
	tickleTotal           *prom.CounterVec
	queueDepth            *prom.GaugeVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "resume_duration_seconds",
		Help:      "Time from resuming a work item until it yielded or terminated.",
		Buckets:   buckets,
	}, []string{"scheduler", "kind"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "fiber_panic_total",
		Help:      "Total number of fiber panics.",
	}, []string{"scheduler"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "work_rejected_total",
		Help:      "Total number of rejected operations.",
	}, []string{"scheduler", "reason"})
	tickleVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "tickle_total",
		Help:      "Total number of worker notifications.",
	}, []string{"scheduler"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Work queue depth observed at the last submission.",
	}, []string{"scheduler"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if tickleVec, err = registerCollector(reg, tickleVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		resumeDurationSeconds: durationVec,
		fiberPanicTotal:       panicVec,
		workRejectedTotal:     rejectedVec,
		tickleTotal:           tickleVec,
		queueDepth:            queueDepthVec,
	}, nil
}

// RecordResumeDuration records how long one resume took.
func (m *MetricsExporter) RecordResumeDuration(schedulerName string, kind core.WorkKind, duration time.Duration) {
	if m == nil {
		return
	}
	m.resumeDurationSeconds.WithLabelValues(normalizeLabel(schedulerName, "unknown"), normalizeLabel(string(kind), "unknown")).Observe(duration.Seconds())
}

// RecordFiberPanic records fiber panic events.
func (m *MetricsExporter) RecordFiberPanic(schedulerName string, panicInfo any) {
	if m == nil {
		return
	}
	m.fiberPanicTotal.WithLabelValues(normalizeLabel(schedulerName, "unknown")).Inc()
}

// RecordQueueDepth records queue depth.
func (m *MetricsExporter) RecordQueueDepth(schedulerName string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(schedulerName, "unknown")).Set(float64(depth))
}

// RecordWorkRejected records rejection events.
func (m *MetricsExporter) RecordWorkRejected(schedulerName string, reason string) {
	if m == nil {
		return
	}
	m.workRejectedTotal.WithLabelValues(normalizeLabel(schedulerName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordTickle counts worker notifications.
func (m *MetricsExporter) RecordTickle(schedulerName string) {
	if m == nil {
		return
	}
	m.tickleTotal.WithLabelValues(normalizeLabel(schedulerName, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
