package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/dojopay/internal/ledger/domain"
)

type Purpose string

const (
	PurposeSubscription Purpose = "subscription"
	PurposeOneTime      Purpose = "one_time"
)

type CheckoutRequest struct {
	PayerID     snowflake.ID  `json:"payer_id"`
	PlanID      *snowflake.ID `json:"plan_id,omitempty"`
	Amount      int64         `json:"amount,omitempty"`
	Description string        `json:"description,omitempty"`
	Purpose     Purpose       `json:"purpose"`
	SuccessURL  string        `json:"success_url"`
	CancelURL   string        `json:"cancel_url"`
}

type CheckoutResponse struct {
	SessionID string        `json:"session_id"`
	URL       string        `json:"url"`
	PaymentID *snowflake.ID `json:"payment_id,omitempty"`
}

type ChargeRequest struct {
	PayerID         snowflake.ID  `json:"payer_id"`
	Amount          int64         `json:"amount"`
	Description     string        `json:"description,omitempty"`
	ScheduleEntryID *snowflake.ID `json:"schedule_entry_id,omitempty"`
	SubscriptionID  *snowflake.ID `json:"subscription_id,omitempty"`
	ScheduledDate   *time.Time    `json:"scheduled_date,omitempty"`
	// IdempotencyKey lets a client retry an ad-hoc charge safely.
	IdempotencyKey string `json:"-"`
}

type Outcome string

const (
	OutcomeSucceeded      Outcome = "succeeded"
	OutcomeProcessing     Outcome = "processing"
	OutcomeRequiresAction Outcome = "requires_action"
	OutcomeFailed         Outcome = "failed"
	OutcomeUnknown        Outcome = "unknown"
	OutcomeScheduled      Outcome = "scheduled"
)

// ChargeResult describes what happened to one off-session charge. It is
// populated even when the accompanying error is non-nil so callers can
// report the payment that was recorded.
type ChargeResult struct {
	PaymentID        snowflake.ID               `json:"payment_id"`
	Status           ledgerdomain.PaymentStatus `json:"status"`
	Outcome          Outcome                    `json:"outcome"`
	Amount           int64                      `json:"amount"`
	ProcessorID      string                     `json:"processor_id,omitempty"`
	PaymentMethodID  string                     `json:"payment_method_id,omitempty"`
	BillingContactID snowflake.ID               `json:"billing_contact_id,omitempty"`
	FailureReason    string                     `json:"failure_reason,omitempty"`
}

type Service interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutResponse, error)
	ChargeStoredMethod(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	// RetryPayment re-attempts a failed payment against the payer's stored
	// method and increments its retry count.
	RetryPayment(ctx context.Context, paymentID snowflake.ID) (ChargeResult, error)
}

var (
	ErrInvalidPayer            = errors.New("invalid_payer")
	ErrInvalidAmount           = errors.New("invalid_amount")
	ErrInvalidPurpose          = errors.New("invalid_purpose")
	ErrInvalidRedirectURL      = errors.New("invalid_redirect_url")
	ErrPayerNotFound           = errors.New("payer_not_found")
	ErrPlanRequired            = errors.New("plan_required")
	ErrPlanNotFound            = errors.New("plan_not_found")
	ErrPaymentNotFound         = errors.New("payment_not_found")
	ErrPaymentNotRetryable     = errors.New("payment_not_retryable")
	ErrScheduleEntryNotFound   = errors.New("schedule_entry_not_found")
	ErrScheduleEntryNotPending = errors.New("schedule_entry_not_pending")
	ErrChargeInProgress        = errors.New("charge_in_progress")
	ErrPaymentMethodRequired   = errors.New("payment_method_required")
	ErrAuthenticationRequired  = errors.New("authentication_required")
	ErrCardDeclined            = errors.New("card_declined")
)
