package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dojopay/internal/clock"
	gatewaydomain "github.com/smallbiznis/dojopay/internal/gateway/domain"
	ledgerdomain "github.com/smallbiznis/dojopay/internal/ledger/domain"
	notificationdomain "github.com/smallbiznis/dojopay/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/dojopay/internal/observability/metrics"
	"github.com/smallbiznis/dojopay/internal/scheduler/guard"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultClassPackValidityDays = 90

// RenewedExpiry keeps the validity length of the old pack, counted from its
// expiry or from today when it already lapsed.
func RenewedExpiry(pack ledgerdomain.ClassPack, today time.Time) time.Time {
	validity := clock.DaysBetween(pack.CreatedAt, pack.ExpiresAt)
	if validity <= 0 {
		validity = defaultClassPackValidityDays
	}
	base := clock.Date(pack.ExpiresAt)
	if base.Before(today) {
		base = today
	}
	return base.AddDate(0, 0, validity)
}

// RenewClassPacksJob bills auto-renewing packs that are nearly used up or
// about to expire and issues a fresh pack for each paid invoice.
func (s *Scheduler) RenewClassPacksJob(ctx context.Context, result *SweepResult) error {
	policy := s.policy.Get()
	today := clock.Today(s.clock)
	expiresBy := today.AddDate(0, 0, policy.ClassPack.ExpiryLookaheadDays)

	return drain(ctx, s.cfg.BatchSize,
		func(ctx context.Context, limit int) ([]ledgerdomain.ClassPack, error) {
			return s.repo.ListClassPacksForRenewal(ctx, s.db, expiresBy, policy.ClassPack.RenewalThreshold, limit)
		},
		func(p ledgerdomain.ClassPack) snowflake.ID { return p.ID },
		func(ctx context.Context, p ledgerdomain.ClassPack) {
			s.record(ctx, result, s.renewClassPack(ctx, p, today))
		},
	)
}

func (s *Scheduler) renewClassPack(ctx context.Context, pack ledgerdomain.ClassPack, today time.Time) ItemOutcome {
	if err := guard.EnsureClassPackCanRenew(pack.Status, pack.AutoRenew); err != nil {
		return skipped(pack.ID, err.Error())
	}
	now := s.clock.Now()

	existing, err := s.repo.FindRenewalOf(ctx, s.db, pack.ID)
	if err != nil {
		return failed(pack.ID, obsmetrics.ClassifySweepReason(err), err)
	}
	if existing != nil {
		if _, err := s.repo.TransitionClassPack(ctx, s.db, pack.ID, ledgerdomain.ClassPackStatusActive, ledgerdomain.ClassPackStatusRenewed, now); err != nil {
			return failed(pack.ID, obsmetrics.ClassifySweepReason(err), err)
		}
		return skipped(pack.ID, "already_renewed")
	}

	payer, err := s.repo.FindPayer(ctx, s.db, pack.PayerID)
	if err != nil {
		return failed(pack.ID, obsmetrics.ClassifySweepReason(err), err)
	}
	if payer == nil {
		return failed(pack.ID, "payer_not_found", nil)
	}
	if payer.ProcessorCustomerID == nil || *payer.ProcessorCustomerID == "" {
		return failed(pack.ID, "payment_method_required", nil)
	}

	invoice, err := s.gateway.CreateInvoiceCharge(ctx, gatewaydomain.InvoiceChargeInput{
		CustomerID:     *payer.ProcessorCustomerID,
		Amount:         pack.PriceAmount,
		Currency:       pack.Currency,
		Description:    "Class pack renewal",
		IdempotencyKey: "class_pack_renewal:" + pack.ID.String(),
		Metadata: map[string]string{
			"class_pack_id": pack.ID.String(),
			"payer_id":      pack.PayerID.String(),
		},
	})
	if err != nil {
		return failed(pack.ID, obsmetrics.ClassifySweepReason(err), err)
	}
	if !invoice.Paid {
		s.logger(ctx).Warn("scheduler.class_pack.invoice_unpaid",
			zap.String("class_pack_id", pack.ID.String()),
			zap.String("invoice_id", invoice.ID),
			zap.String("invoice_status", invoice.Status),
		)
		return failed(pack.ID, "invoice_unpaid", nil)
	}

	renewed := &ledgerdomain.ClassPack{
		ID:                 s.genID.Generate(),
		PayerID:            pack.PayerID,
		TotalClasses:       pack.TotalClasses,
		RemainingClasses:   pack.TotalClasses,
		PriceAmount:        pack.PriceAmount,
		Currency:           pack.Currency,
		ExpiresAt:          RenewedExpiry(pack, today),
		AutoRenew:          true,
		Status:             ledgerdomain.ClassPackStatusActive,
		RenewedFromID:      &pack.ID,
		ProcessorInvoiceID: &invoice.ID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	inserted := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		inserted, err = s.repo.InsertClassPack(ctx, tx, renewed)
		if err != nil {
			return err
		}
		_, err = s.repo.TransitionClassPack(ctx, tx, pack.ID, ledgerdomain.ClassPackStatusActive, ledgerdomain.ClassPackStatusRenewed, now)
		return err
	})
	if err != nil {
		// The invoice is paid; a re-run reuses the same idempotency key.
		return failed(pack.ID, obsmetrics.ClassifySweepReason(err), err)
	}
	if !inserted {
		return skipped(pack.ID, "already_renewed")
	}

	s.notify(ctx, notificationdomain.Notification{
		Type:      notificationdomain.TypeClassPackRenewed,
		PayerID:   pack.PayerID,
		Reference: "class_pack_renewed:" + renewed.ID.String(),
		Data: map[string]any{
			"class_pack_id": renewed.ID.String(),
			"total_classes": renewed.TotalClasses,
			"expires_at":    renewed.ExpiresAt.Format(time.DateOnly),
			"amount":        renewed.PriceAmount,
			"currency":      renewed.Currency,
			"invoice_id":    invoice.ID,
		},
	})
	return succeeded(pack.ID, "")
}
