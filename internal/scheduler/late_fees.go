package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/dojopay/internal/clock"
	"github.com/smallbiznis/dojopay/internal/config"
	ledgerdomain "github.com/smallbiznis/dojopay/internal/ledger/domain"
	notificationdomain "github.com/smallbiznis/dojopay/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/dojopay/internal/observability/metrics"
	"github.com/smallbiznis/dojopay/internal/scheduler/guard"
)

// LateFeeAmount is max(rate × amount, minimum) in cents, rounding half up.
func LateFeeAmount(amount int64, rate decimal.Decimal, minimum int64) int64 {
	fee := decimal.NewFromInt(amount).Mul(rate).Round(0).IntPart()
	if fee < minimum {
		return minimum
	}
	return fee
}

// ApplyLateFeesJob charges one late fee per pending payment past the grace period.
func (s *Scheduler) ApplyLateFeesJob(ctx context.Context, result *SweepResult) error {
	policy := s.policy.Get()
	today := clock.Today(s.clock)
	cutoff := today.AddDate(0, 0, -policy.LateFee.GraceDays)

	return drain(ctx, s.cfg.BatchSize,
		func(ctx context.Context, limit int) ([]ledgerdomain.Payment, error) {
			return s.repo.ListOverduePayments(ctx, s.db, cutoff, limit)
		},
		func(p ledgerdomain.Payment) snowflake.ID { return p.ID },
		func(ctx context.Context, p ledgerdomain.Payment) {
			s.record(ctx, result, s.applyLateFee(ctx, p, today, policy))
		},
	)
}

func (s *Scheduler) applyLateFee(ctx context.Context, payment ledgerdomain.Payment, today time.Time, policy config.BillingPolicy) ItemOutcome {
	due := payment.CreatedAt
	if payment.ScheduledFor != nil {
		due = *payment.ScheduledFor
	}
	daysOverdue := clock.DaysBetween(due, today)
	if err := guard.EnsureLateFeeDue(payment.Status, daysOverdue, policy.LateFee.GraceDays); err != nil {
		return skipped(payment.ID, err.Error())
	}

	rate := policy.LateFee.Rate()
	fee := &ledgerdomain.LateFee{
		ID:             s.genID.Generate(),
		PaymentID:      payment.ID,
		PayerID:        payment.PayerID,
		OriginalAmount: payment.Amount,
		LateFeeAmount:  LateFeeAmount(payment.Amount, rate, policy.LateFee.MinimumCents),
		DaysOverdue:    daysOverdue,
		FeePercentage:  rate,
		Status:         ledgerdomain.LateFeeStatusPending,
		CreatedAt:      s.clock.Now(),
	}
	inserted, err := s.repo.InsertLateFee(ctx, s.db, fee)
	if err != nil {
		return failed(payment.ID, obsmetrics.ClassifySweepReason(err), err)
	}
	if !inserted {
		return skipped(payment.ID, "already_applied")
	}

	reason := ""
	if _, err := s.notify(ctx, notificationdomain.Notification{
		Type:      notificationdomain.TypeLateFeeApplied,
		PayerID:   payment.PayerID,
		Reference: "late_fee_applied:" + payment.ID.String(),
		Data: map[string]any{
			"payment_id":      payment.ID.String(),
			"original_amount": payment.Amount,
			"late_fee_amount": fee.LateFeeAmount,
			"days_overdue":    daysOverdue,
			"currency":        payment.Currency,
		},
	}); err != nil {
		reason = "notification_failed"
	}
	return succeeded(payment.ID, reason)
}
