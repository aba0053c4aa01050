package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/cooptariff/internal/rateledger"
	"github.com/smallbiznis/cooptariff/pkg/db"
)

const (
	SchedulerJobReasonDeadlineExceeded = "deadline_exceeded"
	SchedulerJobReasonTransient        = "transient"
	SchedulerJobReasonBusinessRule     = "business_rule"
	SchedulerJobReasonUnknown          = "unknown"

	SchedulerSkipReasonLockHeld = "lock_held"
)

const (
	LedgerServices    = "services"
	LedgerAssignments = "assignments"
)

// SchedulerMetrics captures expiry sweep health signals.
type SchedulerMetrics struct {
	jobRuns       *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobTimeouts   *prometheus.CounterVec
	jobErrors     *prometheus.CounterVec
	jobSkipped    *prometheus.CounterVec
	deactivations *prometheus.CounterVec
	runLoopLag    prometheus.Observer
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	return SchedulerWithConfig(Config{})
}

// SchedulerWithConfig returns the singleton scheduler metrics registry using config labels.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

// ResetSchedulerMetricsForTest swaps the singleton for one bound to a private registry.
func ResetSchedulerMetricsForTest(registerer prometheus.Registerer) *SchedulerMetrics {
	schedulerMetricsOnce = sync.Once{}
	schedulerMetrics = nil
	var m *SchedulerMetrics
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(registerer, Config{ServiceName: "cooptariff", Environment: "test"})
		m = schedulerMetrics
	})
	return m
}

func newSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "cooptariff"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "cooptariff_scheduler_job_runs_total",
		Help:        "Scheduler job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "cooptariff_scheduler_job_duration_seconds",
		Help:        "Scheduler job latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "cooptariff_scheduler_job_timeouts_total",
		Help:        "Scheduler jobs that hit their deadline.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "cooptariff_scheduler_job_errors_total",
		Help:        "Scheduler job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	jobSkipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "cooptariff_scheduler_job_skipped_total",
		Help:        "Scheduler job runs skipped before doing work.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	deactivations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "cooptariff_expiry_deactivations_total",
		Help:        "Records deactivated because their tariff ledger ran out.",
		ConstLabels: constLabels,
	}, []string{"ledger"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "cooptariff_scheduler_runloop_lag_seconds",
		Help:        "Scheduler run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		jobSkipped,
		deactivations,
		runLoopLag,
	)

	return &SchedulerMetrics{
		jobRuns:       jobRuns,
		jobDuration:   jobDuration,
		jobTimeouts:   jobTimeouts,
		jobErrors:     jobErrors,
		jobSkipped:    jobSkipped,
		deactivations: deactivations,
		runLoopLag:    runLoopLag,
	}
}

// IncJobRun increments the run counter for a scheduler job.
func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records scheduler job latency in seconds.
func (m *SchedulerMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the scheduler job error counter with classification.
func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
}

func (m *SchedulerMetrics) IncJobSkipped(job, reason string) {
	if m == nil {
		return
	}
	m.jobSkipped.WithLabelValues(job, reason).Inc()
}

// AddDeactivations counts records switched off by the expiry sweep.
func (m *SchedulerMetrics) AddDeactivations(ledger string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.deactivations.WithLabelValues(ledger).Add(float64(count))
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *SchedulerMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.runLoopLag.Observe(duration.Seconds())
}

// ClassifySchedulerJobReason maps scheduler job errors to low-cardinality reasons.
func ClassifySchedulerJobReason(err error) string {
	switch {
	case err == nil:
		return SchedulerJobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return SchedulerJobReasonDeadlineExceeded
	case db.IsTransientErr(err):
		return SchedulerJobReasonTransient
	case rateledger.IsBusinessError(err):
		return SchedulerJobReasonBusinessRule
	default:
		return SchedulerJobReasonUnknown
	}
}
