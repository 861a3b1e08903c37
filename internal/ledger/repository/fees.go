package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dojopay/internal/ledger/domain"
	"gorm.io/gorm"
)

func (r *repo) InsertLateFee(ctx context.Context, db *gorm.DB, fee *domain.LateFee) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO late_fees (
			id, payment_id, payer_id, original_amount, late_fee_amount, days_overdue,
			fee_percentage, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (payment_id) DO NOTHING`,
		fee.ID,
		fee.PaymentID,
		fee.PayerID,
		fee.OriginalAmount,
		fee.LateFeeAmount,
		fee.DaysOverdue,
		fee.FeePercentage,
		fee.Status,
		fee.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) CountLateFees(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM late_fees WHERE payment_id = ?`,
		paymentID,
	).Scan(&count).Error
	return count, err
}

func (r *repo) InsertRefund(ctx context.Context, db *gorm.DB, refund *domain.Refund) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO refunds (id, payment_id, amount, reason, processor_refund_id, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		refund.ID,
		refund.PaymentID,
		refund.Amount,
		refund.Reason,
		refund.ProcessorRefundID,
		refund.Status,
		refund.CreatedAt,
	).Error
}

// SumRefunds totals refunds that were not rejected by the processor.
func (r *repo) SumRefunds(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT CAST(COALESCE(SUM(amount), 0) AS BIGINT) FROM refunds
		 WHERE payment_id = ? AND status <> ?`,
		paymentID,
		domain.RefundStatusFailed,
	).Scan(&total).Error
	return total, err
}

// SumCredits totals account credit booked against refunds of the payment.
func (r *repo) SumCredits(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT CAST(COALESCE(SUM(c.amount), 0) AS BIGINT)
		 FROM account_credits c JOIN refunds r ON r.id = c.refund_id
		 WHERE r.payment_id = ? AND r.status <> ?`,
		paymentID,
		domain.RefundStatusFailed,
	).Scan(&total).Error
	return total, err
}

func (r *repo) FindRefund(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Refund, error) {
	return r.findRefund(ctx, db, `id = ?`, id)
}

func (r *repo) FindRefundByProcessorID(ctx context.Context, db *gorm.DB, processorRefundID string) (*domain.Refund, error) {
	return r.findRefund(ctx, db, `processor_refund_id = ?`, processorRefundID)
}

func (r *repo) findRefund(ctx context.Context, db *gorm.DB, where string, args ...any) (*domain.Refund, error) {
	var refund domain.Refund
	err := db.WithContext(ctx).Raw(
		`SELECT id, payment_id, amount, reason, processor_refund_id, status, created_at
		 FROM refunds WHERE `+where+` LIMIT 1`,
		args...,
	).Scan(&refund).Error
	if err != nil {
		return nil, err
	}
	if refund.ID == 0 {
		return nil, nil
	}
	return &refund, nil
}

// ResolveRefund moves a pending refund to status and links the processor
// refund id when the row has none yet.
func (r *repo) ResolveRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.RefundStatus, processorRefundID *string) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE refunds
		 SET status = ?, processor_refund_id = COALESCE(processor_refund_id, ?)
		 WHERE id = ? AND status = ?`,
		status,
		processorRefundID,
		id,
		domain.RefundStatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertAccountCredit(ctx context.Context, db *gorm.DB, credit *domain.AccountCredit) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO account_credits (id, payer_id, refund_id, amount, remaining_amount, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		credit.ID,
		credit.PayerID,
		credit.RefundID,
		credit.Amount,
		credit.RemainingAmount,
		credit.Reason,
		credit.CreatedAt,
	).Error
}

func (r *repo) ListAccountCredits(ctx context.Context, db *gorm.DB, payerID snowflake.ID) ([]domain.AccountCredit, error) {
	var items []domain.AccountCredit
	err := db.WithContext(ctx).Raw(
		`SELECT id, payer_id, refund_id, amount, remaining_amount, reason, created_at
		 FROM account_credits WHERE payer_id = ? ORDER BY created_at ASC, id ASC`,
		payerID,
	).Scan(&items).Error
	return items, err
}
