package scheduler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dojopay/internal/clock"
	ledgerdomain "github.com/smallbiznis/dojopay/internal/ledger/domain"
	notificationdomain "github.com/smallbiznis/dojopay/internal/notification/domain"
)

// NotifyUpcomingRenewalsJob reminds payers whose cycle ends within the
// lookahead window. It never changes subscription state.
func (s *Scheduler) NotifyUpcomingRenewalsJob(ctx context.Context, result *SweepResult) error {
	policy := s.policy.Get()
	today := clock.Today(s.clock)
	until := today.AddDate(0, 0, policy.Renewal.NoticeLookaheadDays)

	return drain(ctx, s.cfg.BatchSize,
		func(ctx context.Context, limit int) ([]ledgerdomain.MembershipSubscription, error) {
			return s.repo.ListSubscriptionsRenewingBetween(ctx, s.db, today, until, limit)
		},
		func(sub ledgerdomain.MembershipSubscription) snowflake.ID { return sub.ID },
		func(ctx context.Context, sub ledgerdomain.MembershipSubscription) {
			renewsOn := clock.Date(*sub.EndDate)
			s.record(ctx, result, s.sendNotice(ctx, sub.ID, notificationdomain.Notification{
				Type:      notificationdomain.TypeRenewalNotice,
				PayerID:   sub.PayerID,
				Reference: "renewal_notice:" + sub.ID.String() + ":" + strconv.Itoa(sub.CycleNumber),
				Data: map[string]any{
					"subscription_id": sub.ID.String(),
					"renewal_date":    renewsOn.Format(time.DateOnly),
					"days_until":      clock.DaysBetween(today, renewsOn),
					"amount":          sub.Amount,
					"currency":        sub.Currency,
					"auto_renewal":    sub.AutoRenewal && !sub.CancelAtPeriodEnd,
				},
			}))
		},
	)
}

// NotifyExpiringTrialsJob warns payers whose trial ends within the lookahead window.
func (s *Scheduler) NotifyExpiringTrialsJob(ctx context.Context, result *SweepResult) error {
	policy := s.policy.Get()
	today := clock.Today(s.clock)
	until := today.AddDate(0, 0, policy.Trial.NoticeLookaheadDays)

	return drain(ctx, s.cfg.BatchSize,
		func(ctx context.Context, limit int) ([]ledgerdomain.MembershipSubscription, error) {
			return s.repo.ListTrialsEndingBetween(ctx, s.db, today, until, limit)
		},
		func(sub ledgerdomain.MembershipSubscription) snowflake.ID { return sub.ID },
		func(ctx context.Context, sub ledgerdomain.MembershipSubscription) {
			endsOn := clock.Date(*sub.TrialEndsAt)
			s.record(ctx, result, s.sendNotice(ctx, sub.ID, notificationdomain.Notification{
				Type:      notificationdomain.TypeTrialEnding,
				PayerID:   sub.PayerID,
				Reference: "trial_ending:" + sub.ID.String(),
				Data: map[string]any{
					"subscription_id": sub.ID.String(),
					"trial_ends_at":   endsOn.Format(time.DateOnly),
					"days_until":      clock.DaysBetween(today, endsOn),
					"amount":          sub.Amount,
					"currency":        sub.Currency,
				},
			}))
		},
	)
}

func (s *Scheduler) sendNotice(ctx context.Context, id snowflake.ID, n notificationdomain.Notification) ItemOutcome {
	status, err := s.notify(ctx, n)
	switch {
	case errors.Is(err, notificationdomain.ErrPayerNotFound):
		return failed(id, "payer_not_found", err)
	case err != nil:
		return failed(id, "notification_failed", err)
	case status == notificationdomain.StatusDuplicate:
		return skipped(id, "already_notified")
	}
	return succeeded(id, "")
}
