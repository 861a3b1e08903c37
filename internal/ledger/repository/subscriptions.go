package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dojopay/internal/ledger/domain"
	"gorm.io/gorm"
)

const subscriptionColumns = `id, payer_id, plan_id, status, billing_frequency, amount, currency,
	start_date, end_date, next_billing_date, cycle_number, trial_ends_at,
	renewal_discount_percentage, discount_expires_at, auto_renewal, cancel_at_period_end,
	processor_subscription_id, processor_checkout_session_id, created_at, updated_at`

const subscriptionValues = `?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?`

func subscriptionArgs(sub *domain.MembershipSubscription) []any {
	return []any{
		sub.ID,
		sub.PayerID,
		sub.PlanID,
		sub.Status,
		sub.BillingFrequency,
		sub.Amount,
		sub.Currency,
		sub.StartDate,
		sub.EndDate,
		sub.NextBillingDate,
		sub.CycleNumber,
		sub.TrialEndsAt,
		sub.RenewalDiscountPercentage,
		sub.DiscountExpiresAt,
		sub.AutoRenewal,
		sub.CancelAtPeriodEnd,
		sub.ProcessorSubscriptionID,
		sub.ProcessorCheckoutSessionID,
		sub.CreatedAt,
		sub.UpdatedAt,
	}
}

func (r *repo) InsertSubscription(ctx context.Context, db *gorm.DB, sub *domain.MembershipSubscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO membership_subscriptions (`+subscriptionColumns+`) VALUES (`+subscriptionValues+`)`,
		subscriptionArgs(sub)...,
	).Error
}

func (r *repo) FindSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.MembershipSubscription, error) {
	return r.findSubscription(ctx, db, `id = ?`, id)
}

func (r *repo) FindSubscriptionByProcessorID(ctx context.Context, db *gorm.DB, processorSubscriptionID string) (*domain.MembershipSubscription, error) {
	return r.findSubscription(ctx, db, `processor_subscription_id = ?`, processorSubscriptionID)
}

func (r *repo) findSubscription(ctx context.Context, db *gorm.DB, where string, args ...any) (*domain.MembershipSubscription, error) {
	var sub domain.MembershipSubscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM membership_subscriptions WHERE `+where+` LIMIT 1`,
		args...,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) UpsertProcessorSubscription(ctx context.Context, db *gorm.DB, sub *domain.MembershipSubscription) error {
	args := append(subscriptionArgs(sub),
		domain.SubscriptionStatusCancelled,
		domain.SubscriptionStatusExpired,
	)
	return db.WithContext(ctx).Exec(
		`INSERT INTO membership_subscriptions (`+subscriptionColumns+`) VALUES (`+subscriptionValues+`)
		 ON CONFLICT (processor_subscription_id) DO UPDATE SET
			status = excluded.status,
			next_billing_date = excluded.next_billing_date,
			trial_ends_at = excluded.trial_ends_at,
			cancel_at_period_end = excluded.cancel_at_period_end,
			auto_renewal = excluded.auto_renewal,
			plan_id = COALESCE(membership_subscriptions.plan_id, excluded.plan_id),
			updated_at = excluded.updated_at
		 WHERE membership_subscriptions.status NOT IN (?, ?)`,
		args...,
	).Error
}

// AttachCheckoutSubscription creates the subscription on first sight and
// otherwise only links the checkout session. Status stays processor-driven.
func (r *repo) AttachCheckoutSubscription(ctx context.Context, db *gorm.DB, sub *domain.MembershipSubscription) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO membership_subscriptions (`+subscriptionColumns+`) VALUES (`+subscriptionValues+`)
		 ON CONFLICT (processor_subscription_id) DO UPDATE SET
			processor_checkout_session_id = COALESCE(membership_subscriptions.processor_checkout_session_id, excluded.processor_checkout_session_id),
			plan_id = COALESCE(membership_subscriptions.plan_id, excluded.plan_id),
			updated_at = excluded.updated_at`,
		subscriptionArgs(sub)...,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) CancelSubscriptionByProcessorID(ctx context.Context, db *gorm.DB, processorSubscriptionID string, endDate time.Time, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE membership_subscriptions
		 SET status = ?, end_date = ?, auto_renewal = ?, updated_at = ?
		 WHERE processor_subscription_id = ? AND status NOT IN ?`,
		domain.SubscriptionStatusCancelled,
		endDate,
		false,
		now,
		processorSubscriptionID,
		[]domain.SubscriptionStatus{domain.SubscriptionStatusCancelled, domain.SubscriptionStatusExpired},
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) TransitionSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.SubscriptionStatus, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE membership_subscriptions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
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

func (r *repo) ListSubscriptionsForRollover(ctx context.Context, db *gorm.DB, today time.Time, limit int) ([]domain.MembershipSubscription, error) {
	var items []domain.MembershipSubscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM membership_subscriptions
		 WHERE status = ? AND billing_frequency = ? AND end_date IS NOT NULL AND end_date < ?
		 ORDER BY end_date ASC, id ASC
		 LIMIT ?`,
		domain.SubscriptionStatusActive,
		domain.BillingFrequencyAnnually,
		today,
		limit,
	).Scan(&items).Error
	return items, err
}

func (r *repo) RolloverSubscription(ctx context.Context, db *gorm.DB, sub *domain.MembershipSubscription, expectedCycle int, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE membership_subscriptions
		 SET cycle_number = ?, start_date = ?, end_date = ?, next_billing_date = ?,
			renewal_discount_percentage = ?, discount_expires_at = ?, updated_at = ?
		 WHERE id = ? AND cycle_number = ? AND status = ?`,
		sub.CycleNumber,
		sub.StartDate,
		sub.EndDate,
		sub.NextBillingDate,
		sub.RenewalDiscountPercentage,
		sub.DiscountExpiresAt,
		now,
		sub.ID,
		expectedCycle,
		domain.SubscriptionStatusActive,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListSubscriptionsRenewingBetween(ctx context.Context, db *gorm.DB, from, to time.Time, limit int) ([]domain.MembershipSubscription, error) {
	var items []domain.MembershipSubscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM membership_subscriptions
		 WHERE status = ? AND end_date IS NOT NULL AND end_date >= ? AND end_date <= ?
		 ORDER BY end_date ASC, id ASC
		 LIMIT ?`,
		domain.SubscriptionStatusActive,
		from,
		to,
		limit,
	).Scan(&items).Error
	return items, err
}

func (r *repo) ListTrialsEndingBetween(ctx context.Context, db *gorm.DB, from, to time.Time, limit int) ([]domain.MembershipSubscription, error) {
	var items []domain.MembershipSubscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM membership_subscriptions
		 WHERE status = ? AND trial_ends_at IS NOT NULL AND trial_ends_at >= ? AND trial_ends_at <= ?
		 ORDER BY trial_ends_at ASC, id ASC
		 LIMIT ?`,
		domain.SubscriptionStatusTrialing,
		from,
		to,
		limit,
	).Scan(&items).Error
	return items, err
}

func (r *repo) InsertSubscriptionEvent(ctx context.Context, db *gorm.DB, event *domain.SubscriptionEvent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscription_events (id, subscription_id, event_type, processor_event_id, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.SubscriptionID,
		event.EventType,
		event.ProcessorEventID,
		event.Payload,
		event.CreatedAt,
	).Error
}
