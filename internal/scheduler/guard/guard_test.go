package guard

import (
	"testing"
	"time"

	ledgerdomain "github.com/smallbiznis/dojopay/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
)

func TestEnsurePaymentCanRetry(t *testing.T) {
	assert.NoError(t, EnsurePaymentCanRetry(ledgerdomain.PaymentStatusFailed, 2, 3))
	assert.ErrorIs(t, EnsurePaymentCanRetry(ledgerdomain.PaymentStatusFailed, 3, 3), ErrRetryCapReached)
	assert.ErrorIs(t, EnsurePaymentCanRetry(ledgerdomain.PaymentStatusCompleted, 0, 3), ErrPaymentNotFailed)
}

func TestEnsureLateFeeDue(t *testing.T) {
	assert.NoError(t, EnsureLateFeeDue(ledgerdomain.PaymentStatusPending, 7, 7))
	assert.ErrorIs(t, EnsureLateFeeDue(ledgerdomain.PaymentStatusPending, 6, 7), ErrWithinGracePeriod)
	assert.ErrorIs(t, EnsureLateFeeDue(ledgerdomain.PaymentStatusFailed, 30, 7), ErrPaymentNotPending)
}

func TestEnsureSubscriptionCanRollover(t *testing.T) {
	today := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	past := today.AddDate(0, 0, -1)

	assert.NoError(t, EnsureSubscriptionCanRollover(ledgerdomain.SubscriptionStatusActive, ledgerdomain.BillingFrequencyAnnually, &past, today))
	assert.ErrorIs(t, EnsureSubscriptionCanRollover(ledgerdomain.SubscriptionStatusActive, ledgerdomain.BillingFrequencyAnnually, &today, today), ErrCycleNotEnded)
	assert.ErrorIs(t, EnsureSubscriptionCanRollover(ledgerdomain.SubscriptionStatusActive, ledgerdomain.BillingFrequencyAnnually, nil, today), ErrCycleNotEnded)
	assert.ErrorIs(t, EnsureSubscriptionCanRollover(ledgerdomain.SubscriptionStatusActive, ledgerdomain.BillingFrequencyMonthly, &past, today), ErrNotAnnual)
	assert.ErrorIs(t, EnsureSubscriptionCanRollover(ledgerdomain.SubscriptionStatusExpired, ledgerdomain.BillingFrequencyAnnually, &past, today), ErrSubscriptionNotActive)
}

func TestEnsureClassPackCanRenew(t *testing.T) {
	assert.NoError(t, EnsureClassPackCanRenew(ledgerdomain.ClassPackStatusActive, true))
	assert.ErrorIs(t, EnsureClassPackCanRenew(ledgerdomain.ClassPackStatusActive, false), ErrAutoRenewDisabled)
	assert.ErrorIs(t, EnsureClassPackCanRenew(ledgerdomain.ClassPackStatusRenewed, true), ErrClassPackNotActive)
}
