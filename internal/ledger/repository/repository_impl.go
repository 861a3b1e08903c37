package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smallbiznis/dojopay/internal/ledger/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// sqlite drivers only expose the message.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const payerColumns = `id, email, name, parent_id, processor_customer_id, default_payment_method_id,
	account_status, created_at, updated_at`

func (r *repo) InsertPayer(ctx context.Context, db *gorm.DB, payer *domain.Payer) error {
	if payer.AccountStatus == "" {
		payer.AccountStatus = domain.AccountStatusActive
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO payers (`+payerColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payer.ID,
		payer.Email,
		payer.Name,
		payer.ParentID,
		payer.ProcessorCustomerID,
		payer.DefaultPaymentMethodID,
		payer.AccountStatus,
		payer.CreatedAt,
		payer.UpdatedAt,
	).Error
}

func (r *repo) FindPayer(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payer, error) {
	var payer domain.Payer
	err := db.WithContext(ctx).Raw(
		`SELECT `+payerColumns+` FROM payers WHERE id = ?`,
		id,
	).Scan(&payer).Error
	if err != nil {
		return nil, err
	}
	if payer.ID == 0 {
		return nil, nil
	}
	return &payer, nil
}

func (r *repo) FindPayerByProcessorCustomer(ctx context.Context, db *gorm.DB, customerID string) (*domain.Payer, error) {
	var payer domain.Payer
	err := db.WithContext(ctx).Raw(
		`SELECT `+payerColumns+` FROM payers WHERE processor_customer_id = ? LIMIT 1`,
		customerID,
	).Scan(&payer).Error
	if err != nil {
		return nil, err
	}
	if payer.ID == 0 {
		return nil, nil
	}
	return &payer, nil
}

func (r *repo) SetPayerProcessorCustomer(ctx context.Context, db *gorm.DB, id snowflake.ID, customerID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payers SET processor_customer_id = ?, updated_at = ? WHERE id = ?`,
		customerID,
		now,
		id,
	).Error
}

func (r *repo) SetPayerDefaultPaymentMethod(ctx context.Context, db *gorm.DB, id snowflake.ID, paymentMethodID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payers SET default_payment_method_id = ?, updated_at = ? WHERE id = ?`,
		paymentMethodID,
		now,
		id,
	).Error
}

func (r *repo) SuspendPayer(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payers SET account_status = ?, updated_at = ?
		 WHERE id = ? AND account_status = ?`,
		domain.AccountStatusSuspended,
		now,
		id,
		domain.AccountStatusActive,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertPlan(ctx context.Context, db *gorm.DB, plan *domain.Plan) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO plans (id, name, amount, currency, billing_frequency, processor_price_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID,
		plan.Name,
		plan.Amount,
		plan.Currency,
		plan.BillingFrequency,
		plan.ProcessorPriceID,
		plan.CreatedAt,
		plan.UpdatedAt,
	).Error
}

func (r *repo) FindPlan(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, amount, currency, billing_frequency, processor_price_id, created_at, updated_at
		 FROM plans WHERE id = ?`,
		id,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}
