// Package settlement records the ledger side effects of a completed payment.
package settlement

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dojopay/internal/clock"
	"github.com/smallbiznis/dojopay/internal/ledger/domain"
	"gorm.io/gorm"
)

type Settler struct {
	repo  domain.Repository
	genID *snowflake.Node
}

func New(repo domain.Repository, genID *snowflake.Node) *Settler {
	return &Settler{repo: repo, genID: genID}
}

// Settle marks the payment's schedule entry paid and records a paid billing
// cycle when the payment belongs to a subscription. Calling it again for
// the same payment changes nothing.
func (s *Settler) Settle(ctx context.Context, db *gorm.DB, payment *domain.Payment, now time.Time) error {
	if payment == nil || payment.Status != domain.PaymentStatusCompleted {
		return nil
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		periodStart := clock.Date(now)
		if payment.ScheduleEntryID != nil {
			entry, err := s.repo.FindScheduleEntry(ctx, tx, *payment.ScheduleEntryID)
			if err != nil {
				return err
			}
			if entry != nil {
				periodStart = entry.ScheduledDate
				if entry.Status == domain.ScheduleStatusPending && entry.DeletedAt == nil {
					if _, err := s.repo.MarkScheduleEntryPaid(ctx, tx, entry.ID, payment.ID, now); err != nil {
						return err
					}
				}
			}
		}

		if payment.SubscriptionID == nil {
			return nil
		}
		sub, err := s.repo.FindSubscription(ctx, tx, *payment.SubscriptionID)
		if err != nil || sub == nil {
			return err
		}
		cycleNumber := sub.CycleNumber
		if cycleNumber < 1 {
			cycleNumber = 1
		}
		paymentID := payment.ID
		return s.repo.UpsertPaymentCycle(ctx, tx, &domain.BillingCycle{
			ID:             s.genID.Generate(),
			SubscriptionID: sub.ID,
			PaymentID:      &paymentID,
			CycleNumber:    cycleNumber,
			PeriodStart:    periodStart,
			PeriodEnd:      sub.BillingFrequency.Advance(periodStart, 1),
			AmountDue:      payment.Amount,
			AmountPaid:     payment.Amount,
			Status:         domain.BillingCycleStatusPaid,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	})
}
