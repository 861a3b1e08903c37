package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dojopay/internal/ledger/domain"
	"gorm.io/gorm"
)

const freezeColumns = `id, subscription_id, start_date, end_date, frozen_amount, reason, status,
	compensation_count, created_at, updated_at`

func (r *repo) InsertFreeze(ctx context.Context, db *gorm.DB, freeze *domain.MembershipFreeze) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO membership_freezes (`+freezeColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		freeze.ID,
		freeze.SubscriptionID,
		freeze.StartDate,
		freeze.EndDate,
		freeze.FrozenAmount,
		freeze.Reason,
		freeze.Status,
		freeze.CompensationCount,
		freeze.CreatedAt,
		freeze.UpdatedAt,
	).Error
}

func (r *repo) FindFreeze(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.MembershipFreeze, error) {
	var freeze domain.MembershipFreeze
	err := db.WithContext(ctx).Raw(
		`SELECT `+freezeColumns+` FROM membership_freezes WHERE id = ?`,
		id,
	).Scan(&freeze).Error
	if err != nil {
		return nil, err
	}
	if freeze.ID == 0 {
		return nil, nil
	}
	return &freeze, nil
}

func (r *repo) UpdateFreeze(ctx context.Context, db *gorm.DB, freeze *domain.MembershipFreeze, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE membership_freezes
		 SET start_date = ?, end_date = ?, frozen_amount = ?, reason = ?, compensation_count = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		freeze.StartDate,
		freeze.EndDate,
		freeze.FrozenAmount,
		freeze.Reason,
		freeze.CompensationCount,
		now,
		freeze.ID,
		domain.FreezeStatusActive,
	).Error
}

func (r *repo) EndFreeze(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE membership_freezes SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		domain.FreezeStatusEnded,
		now,
		id,
		domain.FreezeStatusActive,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertReallocation(ctx context.Context, db *gorm.DB, item *domain.PaymentReallocation) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_reallocations (id, freeze_id, schedule_entry_id, payment_id, amount, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (schedule_entry_id) DO NOTHING`,
		item.ID,
		item.FreezeID,
		item.ScheduleEntryID,
		item.PaymentID,
		item.Amount,
		item.Reason,
		item.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListReallocations(ctx context.Context, db *gorm.DB, freezeID snowflake.ID) ([]domain.PaymentReallocation, error) {
	var items []domain.PaymentReallocation
	err := db.WithContext(ctx).Raw(
		`SELECT id, freeze_id, schedule_entry_id, payment_id, amount, reason, created_at
		 FROM payment_reallocations WHERE freeze_id = ? ORDER BY created_at ASC, id ASC`,
		freezeID,
	).Scan(&items).Error
	return items, err
}
