package scheduler

import (
	"context"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/dojopay/internal/clock"
	ledgerdomain "github.com/smallbiznis/dojopay/internal/ledger/domain"
	notificationdomain "github.com/smallbiznis/dojopay/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/dojopay/internal/observability/metrics"
	"github.com/smallbiznis/dojopay/internal/scheduler/guard"
)

// NextCycle rolls an annual subscription one calendar year forward. A
// renewal discount that expired by the end of the elapsed cycle is cleared.
func NextCycle(sub ledgerdomain.MembershipSubscription) ledgerdomain.MembershipSubscription {
	next := sub
	next.CycleNumber = sub.CycleNumber + 1
	next.StartDate = clock.AddMonths(sub.StartDate, 12)
	if sub.EndDate != nil {
		elapsedEnd := *sub.EndDate
		end := clock.AddMonths(elapsedEnd, 12)
		next.EndDate = &end
		nextBilling := end
		next.NextBillingDate = &nextBilling

		if sub.DiscountExpiresAt != nil && !sub.DiscountExpiresAt.After(elapsedEnd) {
			next.RenewalDiscountPercentage = decimal.Zero
			next.DiscountExpiresAt = nil
		}
	}
	return next
}

// RolloverMembershipsJob renews or expires annual memberships whose cycle ended.
func (s *Scheduler) RolloverMembershipsJob(ctx context.Context, result *SweepResult) error {
	today := clock.Today(s.clock)

	return drain(ctx, s.cfg.BatchSize,
		func(ctx context.Context, limit int) ([]ledgerdomain.MembershipSubscription, error) {
			return s.repo.ListSubscriptionsForRollover(ctx, s.db, today, limit)
		},
		func(sub ledgerdomain.MembershipSubscription) snowflake.ID { return sub.ID },
		func(ctx context.Context, sub ledgerdomain.MembershipSubscription) {
			s.record(ctx, result, s.rollover(ctx, sub, today))
		},
	)
}

func (s *Scheduler) rollover(ctx context.Context, sub ledgerdomain.MembershipSubscription, today time.Time) ItemOutcome {
	if err := guard.EnsureSubscriptionCanRollover(sub.Status, sub.BillingFrequency, sub.EndDate, today); err != nil {
		return skipped(sub.ID, err.Error())
	}
	now := s.clock.Now()

	if !sub.AutoRenewal || sub.CancelAtPeriodEnd {
		changed, err := s.repo.TransitionSubscription(ctx, s.db, sub.ID, ledgerdomain.SubscriptionStatusActive, ledgerdomain.SubscriptionStatusExpired, now)
		if err != nil {
			return failed(sub.ID, obsmetrics.ClassifySweepReason(err), err)
		}
		if !changed {
			return skipped(sub.ID, "concurrent_update")
		}
		s.notify(ctx, notificationdomain.Notification{
			Type:      notificationdomain.TypeMembershipExpired,
			PayerID:   sub.PayerID,
			Reference: "membership_expired:" + sub.ID.String(),
			Data: map[string]any{
				"subscription_id": sub.ID.String(),
				"end_date":        sub.EndDate.Format(time.DateOnly),
			},
		})
		return succeeded(sub.ID, "expired")
	}

	next := NextCycle(sub)
	changed, err := s.repo.RolloverSubscription(ctx, s.db, &next, sub.CycleNumber, now)
	if err != nil {
		return failed(sub.ID, obsmetrics.ClassifySweepReason(err), err)
	}
	if !changed {
		return skipped(sub.ID, "concurrent_update")
	}
	s.notify(ctx, notificationdomain.Notification{
		Type:      notificationdomain.TypeMembershipRenewed,
		PayerID:   sub.PayerID,
		Reference: "membership_renewed:" + sub.ID.String() + ":" + strconv.Itoa(next.CycleNumber),
		Data: map[string]any{
			"subscription_id":     sub.ID.String(),
			"cycle_number":        next.CycleNumber,
			"start_date":          next.StartDate.Format(time.DateOnly),
			"end_date":            next.EndDate.Format(time.DateOnly),
			"amount":              sub.Amount,
			"currency":            sub.Currency,
			"discount_percentage": next.RenewalDiscountPercentage.String(),
		},
	})
	return succeeded(sub.ID, "renewed")
}
