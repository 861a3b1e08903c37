package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	checkoutdomain "github.com/smallbiznis/dojopay/internal/checkout/domain"
	"github.com/smallbiznis/dojopay/internal/clock"
	"github.com/smallbiznis/dojopay/internal/config"
	gatewaydomain "github.com/smallbiznis/dojopay/internal/gateway/domain"
	ledgerdomain "github.com/smallbiznis/dojopay/internal/ledger/domain"
	notificationdomain "github.com/smallbiznis/dojopay/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/dojopay/internal/observability/metrics"
	"github.com/smallbiznis/dojopay/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     ledgerdomain.Repository
	Checkout checkoutdomain.Service
	Gateway  gatewaydomain.Gateway
	Notifier notificationdomain.Dispatcher
	Policy   *config.BillingPolicyHolder
	Locker   *ratelimit.Locker `optional:"true"`
	Config   Config            `optional:"true"`
}

type Scheduler struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	repo     ledgerdomain.Repository
	checkout checkoutdomain.Service
	gateway  gatewaydomain.Gateway
	notifier notificationdomain.Dispatcher
	policy   *config.BillingPolicyHolder
	locker   *ratelimit.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Repo == nil ||
		p.Checkout == nil || p.Gateway == nil || p.Notifier == nil || p.Policy == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:       p.DB,
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		checkout: p.Checkout,
		gateway:  p.Gateway,
		notifier: p.Notifier,
		policy:   p.Policy,
		locker:   p.Locker,
	}, nil
}

type sweepFunc func(ctx context.Context, result *SweepResult) error

func (s *Scheduler) sweep(name string) (sweepFunc, bool) {
	switch name {
	case JobRetryFailedPayments:
		return s.RetryFailedPaymentsJob, true
	case JobApplyLateFees:
		return s.ApplyLateFeesJob, true
	case JobRolloverMemberships:
		return s.RolloverMembershipsJob, true
	case JobNotifyUpcomingRenewal:
		return s.NotifyUpcomingRenewalsJob, true
	case JobRenewClassPacks:
		return s.RenewClassPacksJob, true
	case JobNotifyExpiringTrials:
		return s.NotifyExpiringTrialsJob, true
	}
	return nil, false
}

// RunJob runs one sweep by name regardless of the enabled job list.
func (s *Scheduler) RunJob(ctx context.Context, name string) (*SweepResult, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	fn, ok := s.sweep(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.runJob(ctx, name, s.cfg.BatchSize, s.cfg.JobTimeout, fn)
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn sweepFunc,
) (*SweepResult, error) {
	start := time.Now()
	sweepMetrics := obsmetrics.Sweeps()

	ctx, run, owner := s.ensureJobRun(parent, name, batchSize)
	result := &SweepResult{Job: name, RunID: run.runID, Items: []ItemOutcome{}}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)

	release, acquired := s.acquireSweepLock(ctx, name)
	if !acquired {
		sweepMetrics.IncDeferred(name, obsmetrics.SweepDeferredReasonLockHeld)
		log.Info("scheduler.job.deferred", zap.String("reason", obsmetrics.SweepDeferredReasonLockHeld))
		result.Deferred = true
		return result, nil
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if owner {
		s.logJobStart(ctx, run)
	}
	sweepMetrics.IncJobRun(name)

	err := fn(ctx, result)
	sweepMetrics.ObserveJobDuration(name, time.Since(start))
	for _, status := range []ItemStatus{ItemSucceeded, ItemFailed, ItemSkipped, ItemEscalated} {
		sweepMetrics.AddItems(name, string(status), countStatus(result, status))
	}
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run, result.Summary)
	}
	if err == nil {
		return result, nil
	}

	// A deadline is a soft stop; the next run resumes where this one ended.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		sweepMetrics.IncJobTimeout(name)
	}
	sweepMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		result.TimedOut = true
		return result, nil
	}

	return result, fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	for _, name := range Jobs {
		if !s.isJobEnabled(name) {
			continue
		}
		fn, _ := s.sweep(name)
		_, jobErr := s.runJob(parent, name, s.cfg.BatchSize, s.cfg.JobTimeout, fn)
		err = errors.Join(err, jobErr)
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)
	sweepMetrics := obsmetrics.Sweeps()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			sweepMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// record appends one item outcome and logs failures.
func (s *Scheduler) record(ctx context.Context, result *SweepResult, item ItemOutcome) {
	result.add(item)
	run := jobRunFromContext(ctx)
	run.AddProcessed(1)
	if item.Status == ItemFailed {
		s.logItemFailed(ctx, run, result.Job, item)
	}
}

// drain hands rows from fetch to handle until a fetch yields nothing new.
// Rows already handled in this run are skipped, and the fetch limit grows by
// their count so they never hide unseen rows.
func drain[T any](
	ctx context.Context,
	batchSize int,
	fetch func(ctx context.Context, limit int) ([]T, error),
	key func(T) snowflake.ID,
	handle func(ctx context.Context, item T),
) error {
	seen := make(map[snowflake.ID]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		items, err := fetch(ctx, batchSize+len(seen))
		if err != nil {
			return err
		}
		fresh := 0
		for _, item := range items {
			id := key(item)
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			fresh++
			handle(ctx, item)
			if err := ctx.Err(); err != nil {
				return err
			}
			if fresh == batchSize {
				break
			}
		}
		if fresh == 0 {
			return nil
		}
	}
}

func countStatus(result *SweepResult, status ItemStatus) int {
	switch status {
	case ItemSucceeded:
		return result.Summary.Succeeded
	case ItemFailed:
		return result.Summary.Failed
	case ItemSkipped:
		return result.Summary.Skipped
	case ItemEscalated:
		return result.Summary.Escalated
	}
	return 0
}

// notify sends n and folds the dispatcher result into a short reason.
func (s *Scheduler) notify(ctx context.Context, n notificationdomain.Notification) (notificationdomain.Status, error) {
	res, err := s.notifier.Notify(ctx, n)
	if err != nil {
		s.logger(ctx).Warn("scheduler.notify.failed",
			zap.String("type", string(n.Type)),
			zap.String("payer_id", idString(n.PayerID)),
			zap.Error(err),
		)
		return notificationdomain.StatusFailed, err
	}
	return res.Status, nil
}
