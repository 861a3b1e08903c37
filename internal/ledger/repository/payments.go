package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dojopay/internal/ledger/domain"
	"gorm.io/gorm"
)

const paymentColumns = `id, payer_id, subscription_id, schedule_entry_id, amount, currency, status,
	description, payment_method_id, processor_id, retry_count, failure_reason, last_attempt_at,
	scheduled_for, created_at, updated_at`

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.PayerID,
		payment.SubscriptionID,
		payment.ScheduleEntryID,
		payment.Amount,
		payment.Currency,
		payment.Status,
		payment.Description,
		payment.PaymentMethodID,
		payment.ProcessorID,
		payment.RetryCount,
		payment.FailureReason,
		payment.LastAttemptAt,
		payment.ScheduledFor,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) FindPayment(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	return r.findPayment(ctx, db, `id = ?`, id)
}

func (r *repo) FindPaymentByProcessorID(ctx context.Context, db *gorm.DB, processorID string) (*domain.Payment, error) {
	return r.findPayment(ctx, db, `processor_id = ?`, processorID)
}

func (r *repo) FindOpenPaymentForEntry(ctx context.Context, db *gorm.DB, entryID snowflake.ID) (*domain.Payment, error) {
	return r.findPayment(ctx, db,
		`schedule_entry_id = ? AND status IN ?`,
		entryID,
		[]domain.PaymentStatus{
			domain.PaymentStatusPending,
			domain.PaymentStatusRequiresAction,
			domain.PaymentStatusCompleted,
		},
	)
}

func (r *repo) CountPaymentsForEntry(ctx context.Context, db *gorm.DB, entryID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM payments WHERE schedule_entry_id = ?`,
		entryID,
	).Scan(&count).Error
	return count, err
}

func (r *repo) findPayment(ctx context.Context, db *gorm.DB, where string, args ...any) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE `+where+` ORDER BY created_at DESC, id DESC LIMIT 1`,
		args...,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) ApplyPaymentAttempt(ctx context.Context, db *gorm.DB, attempt domain.PaymentAttempt) (bool, error) {
	increment := 0
	if attempt.IncrementRetry {
		increment = 1
	}
	from := attempt.From
	if len(from) == 0 {
		from = []domain.PaymentStatus{domain.PaymentStatusPending}
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?,
			processor_id = COALESCE(?, processor_id),
			payment_method_id = COALESCE(?, payment_method_id),
			failure_reason = ?,
			retry_count = retry_count + ?,
			last_attempt_at = ?,
			updated_at = ?
		 WHERE id = ? AND status IN ?`,
		attempt.Status,
		attempt.ProcessorID,
		attempt.PaymentMethodID,
		attempt.FailureReason,
		increment,
		attempt.AttemptedAt,
		attempt.AttemptedAt,
		attempt.PaymentID,
		from,
	)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return false, fmt.Errorf("%w: %v", domain.ErrDuplicateProcessorID, res.Error)
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpsertCompletedPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (processor_id) DO UPDATE SET
			status = excluded.status,
			failure_reason = NULL,
			payment_method_id = COALESCE(excluded.payment_method_id, payments.payment_method_id),
			updated_at = excluded.updated_at
		 WHERE payments.status <> ?`,
		payment.ID,
		payment.PayerID,
		payment.SubscriptionID,
		payment.ScheduleEntryID,
		payment.Amount,
		payment.Currency,
		domain.PaymentStatusCompleted,
		payment.Description,
		payment.PaymentMethodID,
		payment.ProcessorID,
		payment.RetryCount,
		nil,
		payment.LastAttemptAt,
		payment.ScheduledFor,
		payment.CreatedAt,
		payment.UpdatedAt,
		domain.PaymentStatusRefunded,
	).Error
}

func (r *repo) ListRetryablePayments(ctx context.Context, db *gorm.DB, since time.Time, maxRetries int, limit int) ([]domain.Payment, error) {
	var items []domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments
		 WHERE status = ?
			AND retry_count < ?
			AND created_at >= ?
			AND payer_id IN (SELECT id FROM payers WHERE account_status = ?)
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		domain.PaymentStatusFailed,
		maxRetries,
		since,
		domain.AccountStatusActive,
		limit,
	).Scan(&items).Error
	return items, err
}

func (r *repo) ListOverduePayments(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.Payment, error) {
	var items []domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments p
		 WHERE p.status = ?
			AND COALESCE(p.scheduled_for, p.created_at) <= ?
			AND (p.failure_reason IS NULL OR p.failure_reason <> ?)
			AND NOT EXISTS (SELECT 1 FROM late_fees lf WHERE lf.payment_id = p.id)
		 ORDER BY p.created_at ASC, p.id ASC
		 LIMIT ?`,
		domain.PaymentStatusPending,
		cutoff,
		domain.FailureReasonUnknownOutcome,
		limit,
	).Scan(&items).Error
	return items, err
}

func (r *repo) TransitionPayment(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.PaymentStatus, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to,
		now,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
