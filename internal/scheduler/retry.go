package scheduler

import (
	"context"
	"errors"
	"strconv"

	"github.com/bwmarrin/snowflake"
	checkoutdomain "github.com/smallbiznis/dojopay/internal/checkout/domain"
	"github.com/smallbiznis/dojopay/internal/config"
	ledgerdomain "github.com/smallbiznis/dojopay/internal/ledger/domain"
	notificationdomain "github.com/smallbiznis/dojopay/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/dojopay/internal/observability/metrics"
	"github.com/smallbiznis/dojopay/internal/scheduler/guard"
	"go.uber.org/zap"
)

const reasonRetryCapReached = "retry_cap_reached"

// RetryFailedPaymentsJob re-charges failed payments inside the lookback
// window. The attempt that reaches the cap suspends the payer instead of
// leaving the payment to be retried forever.
func (s *Scheduler) RetryFailedPaymentsJob(ctx context.Context, result *SweepResult) error {
	policy := s.policy.Get()
	since := s.clock.Now().AddDate(0, 0, -policy.Retry.LookbackDays)

	return drain(ctx, s.cfg.BatchSize,
		func(ctx context.Context, limit int) ([]ledgerdomain.Payment, error) {
			return s.repo.ListRetryablePayments(ctx, s.db, since, policy.Retry.MaxAttempts, limit)
		},
		func(p ledgerdomain.Payment) snowflake.ID { return p.ID },
		func(ctx context.Context, p ledgerdomain.Payment) {
			s.record(ctx, result, s.retryPayment(ctx, p, policy))
		},
	)
}

func (s *Scheduler) retryPayment(ctx context.Context, payment ledgerdomain.Payment, policy config.BillingPolicy) ItemOutcome {
	maxAttempts := policy.Retry.MaxAttempts
	if err := guard.EnsurePaymentCanRetry(payment.Status, payment.RetryCount, maxAttempts); err != nil {
		return skipped(payment.ID, err.Error())
	}

	res, err := s.checkout.RetryPayment(ctx, payment.ID)
	if errors.Is(err, checkoutdomain.ErrPaymentNotRetryable) {
		return skipped(payment.ID, "not_retryable")
	}
	switch res.Outcome {
	case checkoutdomain.OutcomeSucceeded:
		return succeeded(payment.ID, "")
	case checkoutdomain.OutcomeProcessing, checkoutdomain.OutcomeUnknown:
		return skipped(payment.ID, string(res.Outcome))
	case "":
		// No attempt reached the processor.
		return failed(payment.ID, obsmetrics.ClassifySweepReason(err), err)
	}

	reason := res.FailureReason
	if reason == "" {
		reason = obsmetrics.ClassifySweepReason(err)
	}
	attempts := payment.RetryCount + 1
	if attempts >= maxAttempts {
		return s.escalatePayer(ctx, payment, attempts, reason)
	}

	s.notify(ctx, notificationdomain.Notification{
		Type:      notificationdomain.TypePaymentFailed,
		PayerID:   payment.PayerID,
		Reference: "payment_failed:" + payment.ID.String() + ":" + strconv.Itoa(attempts),
		Data: map[string]any{
			"payment_id":     payment.ID.String(),
			"amount":         payment.Amount,
			"currency":       payment.Currency,
			"retry_count":    attempts,
			"failure_reason": reason,
		},
	})
	return failed(payment.ID, reason, err)
}

// escalatePayer suspends the payer and tells them why.
func (s *Scheduler) escalatePayer(ctx context.Context, payment ledgerdomain.Payment, attempts int, reason string) ItemOutcome {
	suspended, err := s.repo.SuspendPayer(ctx, s.db, payment.PayerID, s.clock.Now())
	if err != nil {
		return failed(payment.ID, obsmetrics.ClassifySweepReason(err), err)
	}
	s.logger(ctx).Warn("scheduler.payer.suspended",
		zap.String("payer_id", payment.PayerID.String()),
		zap.String("payment_id", payment.ID.String()),
		zap.Int("retry_count", attempts),
		zap.Bool("changed", suspended),
	)
	s.notify(ctx, notificationdomain.Notification{
		Type:      notificationdomain.TypeAccountSuspended,
		PayerID:   payment.PayerID,
		Reference: "account_suspended:" + payment.PayerID.String() + ":" + payment.ID.String(),
		Data: map[string]any{
			"payment_id":     payment.ID.String(),
			"amount":         payment.Amount,
			"currency":       payment.Currency,
			"retry_count":    attempts,
			"failure_reason": reason,
		},
	})
	return ItemOutcome{ID: payment.ID, Status: ItemEscalated, Reason: reasonRetryCapReached}
}
