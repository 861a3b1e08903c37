package guard

import (
	"errors"
	"time"

	ledgerdomain "github.com/smallbiznis/dojopay/internal/ledger/domain"
)

var (
	ErrPaymentNotFailed      = errors.New("payment_not_failed")
	ErrRetryCapReached       = errors.New("retry_cap_reached")
	ErrPaymentNotPending     = errors.New("payment_not_pending")
	ErrWithinGracePeriod     = errors.New("within_grace_period")
	ErrSubscriptionNotActive = errors.New("subscription_not_active")
	ErrNotAnnual             = errors.New("subscription_not_annual")
	ErrCycleNotEnded         = errors.New("cycle_not_ended")
	ErrClassPackNotActive    = errors.New("class_pack_not_active")
	ErrAutoRenewDisabled     = errors.New("auto_renew_disabled")
)

func EnsurePaymentCanRetry(status ledgerdomain.PaymentStatus, retryCount, maxAttempts int) error {
	if status != ledgerdomain.PaymentStatusFailed {
		return ErrPaymentNotFailed
	}
	if retryCount >= maxAttempts {
		return ErrRetryCapReached
	}
	return nil
}

func EnsureLateFeeDue(status ledgerdomain.PaymentStatus, daysOverdue, graceDays int) error {
	if status != ledgerdomain.PaymentStatusPending {
		return ErrPaymentNotPending
	}
	if daysOverdue < graceDays {
		return ErrWithinGracePeriod
	}
	return nil
}

func EnsureSubscriptionCanRollover(status ledgerdomain.SubscriptionStatus, frequency ledgerdomain.BillingFrequency, endDate *time.Time, today time.Time) error {
	if status != ledgerdomain.SubscriptionStatusActive {
		return ErrSubscriptionNotActive
	}
	if frequency != ledgerdomain.BillingFrequencyAnnually {
		return ErrNotAnnual
	}
	if endDate == nil || !endDate.Before(today) {
		return ErrCycleNotEnded
	}
	return nil
}

func EnsureClassPackCanRenew(status ledgerdomain.ClassPackStatus, autoRenew bool) error {
	if status != ledgerdomain.ClassPackStatusActive {
		return ErrClassPackNotActive
	}
	if !autoRenew {
		return ErrAutoRenewDisabled
	}
	return nil
}
