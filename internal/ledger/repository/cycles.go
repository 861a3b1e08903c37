package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dojopay/internal/ledger/domain"
	"gorm.io/gorm"
)

const cycleColumns = `id, subscription_id, payment_id, cycle_number, period_start, period_end,
	amount_due, amount_paid, status, processor_invoice_id, next_retry_date, created_at, updated_at`

func cycleArgs(cycle *domain.BillingCycle) []any {
	return []any{
		cycle.ID,
		cycle.SubscriptionID,
		cycle.PaymentID,
		cycle.CycleNumber,
		cycle.PeriodStart,
		cycle.PeriodEnd,
		cycle.AmountDue,
		cycle.AmountPaid,
		cycle.Status,
		cycle.ProcessorInvoiceID,
		cycle.NextRetryDate,
		cycle.CreatedAt,
		cycle.UpdatedAt,
	}
}

func (r *repo) UpsertInvoiceCycle(ctx context.Context, db *gorm.DB, cycle *domain.BillingCycle) error {
	paid := domain.BillingCycleStatusPaid
	args := append(cycleArgs(cycle), paid, paid, paid, paid)
	return db.WithContext(ctx).Exec(
		`INSERT INTO billing_cycles (`+cycleColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (processor_invoice_id) DO UPDATE SET
			status = CASE WHEN billing_cycles.status = ? THEN billing_cycles.status ELSE excluded.status END,
			amount_paid = CASE WHEN billing_cycles.status = ? THEN billing_cycles.amount_paid ELSE excluded.amount_paid END,
			next_retry_date = CASE
				WHEN excluded.status = ? THEN NULL
				WHEN billing_cycles.status = ? THEN billing_cycles.next_retry_date
				ELSE excluded.next_retry_date END,
			period_start = excluded.period_start,
			period_end = excluded.period_end,
			amount_due = excluded.amount_due,
			updated_at = excluded.updated_at`,
		args...,
	).Error
}

func (r *repo) UpsertPaymentCycle(ctx context.Context, db *gorm.DB, cycle *domain.BillingCycle) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO billing_cycles (`+cycleColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (payment_id) DO UPDATE SET
			status = excluded.status,
			amount_paid = excluded.amount_paid,
			updated_at = excluded.updated_at`,
		cycleArgs(cycle)...,
	).Error
}

func (r *repo) FindCycleByInvoice(ctx context.Context, db *gorm.DB, invoiceID string) (*domain.BillingCycle, error) {
	var cycle domain.BillingCycle
	err := db.WithContext(ctx).Raw(
		`SELECT `+cycleColumns+` FROM billing_cycles WHERE processor_invoice_id = ? LIMIT 1`,
		invoiceID,
	).Scan(&cycle).Error
	if err != nil {
		return nil, err
	}
	if cycle.ID == 0 {
		return nil, nil
	}
	return &cycle, nil
}

func (r *repo) ListCycles(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]domain.BillingCycle, error) {
	var items []domain.BillingCycle
	err := db.WithContext(ctx).Raw(
		`SELECT `+cycleColumns+` FROM billing_cycles
		 WHERE subscription_id = ?
		 ORDER BY period_start ASC, id ASC`,
		subscriptionID,
	).Scan(&items).Error
	return items, err
}
