package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dojopay/internal/ledger/domain"
	"gorm.io/gorm"
)

const scheduleColumns = `id, subscription_id, payer_id, payment_id, scheduled_date, amount, status,
	installment_number, total_installments, freeze_compensation, freeze_id, deleted_at,
	created_at, updated_at`

func (r *repo) InsertScheduleEntry(ctx context.Context, db *gorm.DB, entry *domain.ScheduleEntry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_schedule (`+scheduleColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.SubscriptionID,
		entry.PayerID,
		entry.PaymentID,
		entry.ScheduledDate,
		entry.Amount,
		entry.Status,
		entry.InstallmentNumber,
		entry.TotalInstallments,
		entry.FreezeCompensation,
		entry.FreezeID,
		entry.DeletedAt,
		entry.CreatedAt,
		entry.UpdatedAt,
	).Error
}

func (r *repo) FindScheduleEntry(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ScheduleEntry, error) {
	var entry domain.ScheduleEntry
	err := db.WithContext(ctx).Raw(
		`SELECT `+scheduleColumns+` FROM payment_schedule WHERE id = ?`,
		id,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (r *repo) ListActiveSchedule(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]domain.ScheduleEntry, error) {
	var items []domain.ScheduleEntry
	err := db.WithContext(ctx).Raw(
		`SELECT `+scheduleColumns+` FROM payment_schedule
		 WHERE subscription_id = ? AND deleted_at IS NULL
		 ORDER BY scheduled_date ASC, installment_number ASC, id ASC`,
		subscriptionID,
	).Scan(&items).Error
	return items, err
}

func (r *repo) MarkScheduleEntryPaid(ctx context.Context, db *gorm.DB, id, paymentID snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_schedule SET status = ?, payment_id = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND deleted_at IS NULL`,
		domain.ScheduleStatusPaid,
		paymentID,
		now,
		id,
		domain.ScheduleStatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkScheduleEntryReallocated(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_schedule SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND deleted_at IS NULL`,
		domain.ScheduleStatusReallocated,
		now,
		id,
		domain.ScheduleStatusPaid,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetScheduleNumbering(ctx context.Context, db *gorm.DB, id snowflake.ID, installment, total int, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_schedule SET installment_number = ?, total_installments = ?, updated_at = ?
		 WHERE id = ?`,
		installment,
		total,
		now,
		id,
	).Error
}

func (r *repo) DeletePendingCompensation(ctx context.Context, db *gorm.DB, freezeID snowflake.ID, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_schedule SET deleted_at = ?, updated_at = ?
		 WHERE freeze_id = ? AND freeze_compensation = ? AND status = ? AND deleted_at IS NULL`,
		now,
		now,
		freezeID,
		true,
		domain.ScheduleStatusPending,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
