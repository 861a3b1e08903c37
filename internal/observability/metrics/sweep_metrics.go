package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	gatewaydomain "github.com/smallbiznis/dojopay/internal/gateway/domain"
	"gorm.io/gorm"
)

const (
	SweepErrorTypeDeadlineExceeded = "deadline_exceeded"
	SweepErrorTypeProcessor        = "processor"
	SweepErrorTypeBusinessRule     = "business_rule"
	SweepErrorTypeDB               = "db"
	SweepErrorTypeUnknown          = "unknown"
)

const (
	SweepReasonDeadlineExceeded     = "deadline_exceeded"
	SweepReasonDBLockTimeout        = "db_lock_timeout"
	SweepReasonSerializationFailure = "serialization_failure"
	SweepReasonUniqueViolation      = "unique_violation"
	SweepReasonCardDeclined         = "card_declined"
	SweepReasonAuthRequired         = "authentication_required"
	SweepReasonProcessorUnavailable = "processor_unavailable"
	SweepReasonUnknownOutcome       = "unknown_outcome"
	SweepReasonUnknown              = "unknown"

	SweepDeferredReasonLockHeld = "lock_held"
)

// SweepMetrics captures scheduled sweep health signals.
type SweepMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	jobTimeouts *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec
	items       *prometheus.CounterVec
	deferred    *prometheus.CounterVec
	runLoopLag  prometheus.Observer
}

var (
	sweepMetricsOnce sync.Once
	sweepMetrics     *SweepMetrics
)

// Sweeps returns the singleton sweep metrics registry.
func Sweeps() *SweepMetrics {
	return SweepsWithConfig(Config{})
}

// SweepsWithConfig returns the singleton sweep metrics registry using config labels.
func SweepsWithConfig(cfg Config) *SweepMetrics {
	sweepMetricsOnce.Do(func() {
		sweepMetrics = newSweepMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return sweepMetrics
}

// ResetSweepMetricsForTest resets the sweep metrics singleton for tests.
func ResetSweepMetricsForTest() {
	sweepMetricsOnce = sync.Once{}
	sweepMetrics = nil
}

func serviceLabels(cfg Config) prometheus.Labels {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "dojopay"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}
}

func newSweepMetrics(registerer prometheus.Registerer, cfg Config) *SweepMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := serviceLabels(cfg)

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "dojopay_sweep_runs_total",
		Help:        "Sweep runs by job.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "dojopay_sweep_duration_seconds",
		Help:        "Sweep latency by job.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "dojopay_sweep_timeouts_total",
		Help:        "Sweeps that hit their deadline.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "dojopay_sweep_errors_total",
		Help:        "Sweep errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "dojopay_sweep_items_total",
		Help:        "Sweep items by outcome.",
		ConstLabels: constLabels,
	}, []string{"job", "outcome"})
	deferred := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "dojopay_sweep_deferred_total",
		Help:        "Sweep runs skipped before doing work.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "dojopay_sweep_runloop_lag_seconds",
		Help:        "Scheduler run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(jobRuns, jobDuration, jobTimeouts, jobErrors, items, deferred, runLoopLag)

	return &SweepMetrics{
		jobRuns:     jobRuns,
		jobDuration: jobDuration,
		jobTimeouts: jobTimeouts,
		jobErrors:   jobErrors,
		items:       items,
		deferred:    deferred,
		runLoopLag:  runLoopLag,
	}
}

// IncJobRun increments the run counter for a sweep.
func (m *SweepMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records sweep latency in seconds.
func (m *SweepMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobTimeout increments the timeout counter for the sweep.
func (m *SweepMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the sweep error counter with classification.
func (m *SweepMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySweepReason(err)).Inc()
}

// AddItems increments the per-outcome item counter.
func (m *SweepMetrics) AddItems(job, outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.items.WithLabelValues(job, outcome).Add(float64(count))
}

// IncDeferred records a sweep run that was skipped.
func (m *SweepMetrics) IncDeferred(job, reason string) {
	if m == nil {
		return
	}
	m.deferred.WithLabelValues(job, reason).Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *SweepMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.runLoopLag.Observe(duration.Seconds())
}

// ClassifySweepErrorType returns a low-cardinality error type for logging.
func ClassifySweepErrorType(err error) string {
	if err == nil {
		return SweepErrorTypeUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return SweepErrorTypeDeadlineExceeded
	}
	var procErr *gatewaydomain.ProcessorError
	if errors.As(err, &procErr) {
		return SweepErrorTypeProcessor
	}
	if isDBError(err) {
		return SweepErrorTypeDB
	}
	return SweepErrorTypeBusinessRule
}

// IsSweepErrorRetryable reports whether the job-level error is transient.
func IsSweepErrorRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, gatewaydomain.ErrUnavailable) {
		return true
	}
	return isDBLockTimeout(err) || isSerializationFailure(err)
}

// ClassifySweepReason maps sweep errors to low-cardinality reasons.
func ClassifySweepReason(err error) string {
	switch {
	case err == nil:
		return SweepReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return SweepReasonDeadlineExceeded
	case errors.Is(err, gatewaydomain.ErrCardDeclined):
		return SweepReasonCardDeclined
	case errors.Is(err, gatewaydomain.ErrAuthenticationRequired):
		return SweepReasonAuthRequired
	case errors.Is(err, gatewaydomain.ErrUnknownOutcome):
		return SweepReasonUnknownOutcome
	case errors.Is(err, gatewaydomain.ErrUnavailable):
		return SweepReasonProcessorUnavailable
	case isDBLockTimeout(err):
		return SweepReasonDBLockTimeout
	case isSerializationFailure(err):
		return SweepReasonSerializationFailure
	case isUniqueViolation(err):
		return SweepReasonUniqueViolation
	default:
		return SweepReasonUnknown
	}
}

func isDBLockTimeout(err error) bool {
	return hasPGCode(err, "55P03")
}

func isSerializationFailure(err error) bool {
	return hasPGCode(err, "40001")
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return hasPGCode(err, "23505")
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidField) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
