package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dojopay/internal/ledger/domain"
	"gorm.io/gorm"
)

const classPackColumns = `id, payer_id, total_classes, remaining_classes, price_amount, currency,
	expires_at, auto_renew, status, renewed_from_id, processor_invoice_id, created_at, updated_at`

func (r *repo) InsertClassPack(ctx context.Context, db *gorm.DB, pack *domain.ClassPack) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO class_packs (`+classPackColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (renewed_from_id) DO NOTHING`,
		pack.ID,
		pack.PayerID,
		pack.TotalClasses,
		pack.RemainingClasses,
		pack.PriceAmount,
		pack.Currency,
		pack.ExpiresAt,
		pack.AutoRenew,
		pack.Status,
		pack.RenewedFromID,
		pack.ProcessorInvoiceID,
		pack.CreatedAt,
		pack.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindClassPack(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ClassPack, error) {
	return r.findClassPack(ctx, db, `id = ?`, id)
}

func (r *repo) FindRenewalOf(ctx context.Context, db *gorm.DB, packID snowflake.ID) (*domain.ClassPack, error) {
	return r.findClassPack(ctx, db, `renewed_from_id = ?`, packID)
}

func (r *repo) findClassPack(ctx context.Context, db *gorm.DB, where string, args ...any) (*domain.ClassPack, error) {
	var pack domain.ClassPack
	err := db.WithContext(ctx).Raw(
		`SELECT `+classPackColumns+` FROM class_packs WHERE `+where+` LIMIT 1`,
		args...,
	).Scan(&pack).Error
	if err != nil {
		return nil, err
	}
	if pack.ID == 0 {
		return nil, nil
	}
	return &pack, nil
}

func (r *repo) ListClassPacksForRenewal(ctx context.Context, db *gorm.DB, expiresBy time.Time, threshold int, limit int) ([]domain.ClassPack, error) {
	var items []domain.ClassPack
	err := db.WithContext(ctx).Raw(
		`SELECT `+classPackColumns+` FROM class_packs
		 WHERE status = ? AND auto_renew = ?
			AND (expires_at <= ? OR remaining_classes <= ?)
		 ORDER BY expires_at ASC, id ASC
		 LIMIT ?`,
		domain.ClassPackStatusActive,
		true,
		expiresBy,
		threshold,
		limit,
	).Scan(&items).Error
	return items, err
}

func (r *repo) TransitionClassPack(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.ClassPackStatus, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE class_packs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
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
