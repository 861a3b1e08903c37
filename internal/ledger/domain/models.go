package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/dojopay/internal/clock"
	"gorm.io/datatypes"
)

type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusSuspended AccountStatus = "suspended"
)

type BillingFrequency string

const (
	BillingFrequencyWeekly    BillingFrequency = "weekly"
	BillingFrequencyMonthly   BillingFrequency = "monthly"
	BillingFrequencyQuarterly BillingFrequency = "quarterly"
	BillingFrequencyAnnually  BillingFrequency = "annually"
)

// Valid reports whether f is one of the supported frequencies.
func (f BillingFrequency) Valid() bool {
	switch f {
	case BillingFrequencyWeekly, BillingFrequencyMonthly, BillingFrequencyQuarterly, BillingFrequencyAnnually:
		return true
	}
	return false
}

// Advance moves t forward by n billing periods using calendar arithmetic.
func (f BillingFrequency) Advance(t time.Time, n int) time.Time {
	switch f {
	case BillingFrequencyWeekly:
		return t.AddDate(0, 0, 7*n)
	case BillingFrequencyQuarterly:
		return clock.AddMonths(t, 3*n)
	case BillingFrequencyAnnually:
		return clock.AddMonths(t, 12*n)
	default:
		return clock.AddMonths(t, n)
	}
}

type PaymentStatus string

const (
	PaymentStatusPending        PaymentStatus = "pending"
	PaymentStatusCompleted      PaymentStatus = "completed"
	PaymentStatusFailed         PaymentStatus = "failed"
	PaymentStatusRefunded       PaymentStatus = "refunded"
	PaymentStatusScheduled      PaymentStatus = "scheduled"
	PaymentStatusRequiresAction PaymentStatus = "requires_action"
)

// FailureReasonUnknownOutcome marks a payment whose processor result was
// never observed. Such payments wait for a webhook or status check.
const FailureReasonUnknownOutcome = "unknown_outcome"

type ScheduleStatus string

const (
	ScheduleStatusPending     ScheduleStatus = "pending"
	ScheduleStatusPaid        ScheduleStatus = "paid"
	ScheduleStatusVoided      ScheduleStatus = "voided"
	ScheduleStatusPastDue     ScheduleStatus = "past_due"
	ScheduleStatusReallocated ScheduleStatus = "reallocated"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusTrialing  SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

// Terminal reports whether no further transitions are allowed.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionStatusCancelled || s == SubscriptionStatusExpired
}

type BillingCycleStatus string

const (
	BillingCycleStatusPending BillingCycleStatus = "pending"
	BillingCycleStatusPaid    BillingCycleStatus = "paid"
	BillingCycleStatusFailed  BillingCycleStatus = "failed"
)

type FreezeStatus string

const (
	FreezeStatusActive FreezeStatus = "active"
	FreezeStatusEnded  FreezeStatus = "ended"
)

type LateFeeStatus string

const (
	LateFeeStatusPending LateFeeStatus = "pending"
	LateFeeStatusPaid    LateFeeStatus = "paid"
	LateFeeStatusWaived  LateFeeStatus = "waived"
)

type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusSucceeded RefundStatus = "succeeded"
	RefundStatusFailed    RefundStatus = "failed"
)

// RefundStatusFromProcessor maps a processor refund status. Anything not yet
// final stays pending.
func RefundStatusFromProcessor(status string) RefundStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "succeeded":
		return RefundStatusSucceeded
	case "failed", "canceled":
		return RefundStatusFailed
	default:
		return RefundStatusPending
	}
}

type ClassPackStatus string

const (
	ClassPackStatusActive  ClassPackStatus = "active"
	ClassPackStatusRenewed ClassPackStatus = "renewed"
	ClassPackStatusExpired ClassPackStatus = "expired"
)

type CommunicationStatus string

const (
	CommunicationStatusQueued CommunicationStatus = "queued"
	CommunicationStatusSent   CommunicationStatus = "sent"
	CommunicationStatusFailed CommunicationStatus = "failed"
)

// Payer is the contact responsible for funding payments. ParentID links a
// member to the guardian who pays on their behalf.
type Payer struct {
	ID                     snowflake.ID  `gorm:"primaryKey" json:"id"`
	Email                  string        `gorm:"not null" json:"email"`
	Name                   string        `gorm:"not null" json:"name"`
	ParentID               *snowflake.ID `gorm:"index" json:"parent_id,omitempty"`
	ProcessorCustomerID    *string       `gorm:"uniqueIndex" json:"processor_customer_id,omitempty"`
	DefaultPaymentMethodID *string       `json:"default_payment_method_id,omitempty"`
	AccountStatus          AccountStatus `gorm:"not null;default:active" json:"account_status"`
	CreatedAt              time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt              time.Time     `gorm:"not null" json:"updated_at"`
}

func (Payer) TableName() string { return "payers" }

type Plan struct {
	ID               snowflake.ID     `gorm:"primaryKey" json:"id"`
	Name             string           `gorm:"not null" json:"name"`
	Amount           int64            `gorm:"not null" json:"amount"`
	Currency         string           `gorm:"not null" json:"currency"`
	BillingFrequency BillingFrequency `gorm:"not null" json:"billing_frequency"`
	ProcessorPriceID *string          `json:"processor_price_id,omitempty"`
	CreatedAt        time.Time        `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"not null" json:"updated_at"`
}

func (Plan) TableName() string { return "plans" }

// Payment is a single money movement attempt. Amount is in cents.
type Payment struct {
	ID              snowflake.ID  `gorm:"primaryKey" json:"id"`
	PayerID         snowflake.ID  `gorm:"not null;index" json:"payer_id"`
	SubscriptionID  *snowflake.ID `gorm:"index" json:"subscription_id,omitempty"`
	ScheduleEntryID *snowflake.ID `gorm:"index" json:"schedule_entry_id,omitempty"`
	Amount          int64         `gorm:"not null" json:"amount"`
	Currency        string        `gorm:"not null" json:"currency"`
	Status          PaymentStatus `gorm:"not null;index" json:"status"`
	Description     string        `json:"description"`
	PaymentMethodID *string       `json:"payment_method_id,omitempty"`
	ProcessorID     *string       `gorm:"uniqueIndex" json:"processor_id,omitempty"`
	RetryCount      int           `gorm:"not null;default:0" json:"retry_count"`
	FailureReason   *string       `json:"failure_reason,omitempty"`
	LastAttemptAt   *time.Time    `json:"last_attempt_at,omitempty"`
	ScheduledFor    *time.Time    `json:"scheduled_for,omitempty"`
	CreatedAt       time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"not null" json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

// ScheduleEntry is one planned installment of a subscription.
type ScheduleEntry struct {
	ID                 snowflake.ID   `gorm:"primaryKey" json:"id"`
	SubscriptionID     snowflake.ID   `gorm:"not null;index" json:"subscription_id"`
	PayerID            snowflake.ID   `gorm:"not null" json:"payer_id"`
	PaymentID          *snowflake.ID  `json:"payment_id,omitempty"`
	ScheduledDate      time.Time      `gorm:"not null" json:"scheduled_date"`
	Amount             int64          `gorm:"not null" json:"amount"`
	Status             ScheduleStatus `gorm:"not null" json:"status"`
	InstallmentNumber  int            `gorm:"not null" json:"installment_number"`
	TotalInstallments  int            `gorm:"not null" json:"total_installments"`
	FreezeCompensation bool           `gorm:"not null" json:"freeze_compensation"`
	FreezeID           *snowflake.ID  `gorm:"index" json:"freeze_id,omitempty"`
	DeletedAt          *time.Time     `json:"deleted_at,omitempty"`
	CreatedAt          time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null" json:"updated_at"`
}

func (ScheduleEntry) TableName() string { return "payment_schedule" }

type BillingCycle struct {
	ID                 snowflake.ID       `gorm:"primaryKey" json:"id"`
	SubscriptionID     snowflake.ID       `gorm:"not null;index" json:"subscription_id"`
	PaymentID          *snowflake.ID      `gorm:"uniqueIndex" json:"payment_id,omitempty"`
	CycleNumber        int                `gorm:"not null" json:"cycle_number"`
	PeriodStart        time.Time          `gorm:"not null" json:"period_start"`
	PeriodEnd          time.Time          `gorm:"not null" json:"period_end"`
	AmountDue          int64              `gorm:"not null" json:"amount_due"`
	AmountPaid         int64              `gorm:"not null" json:"amount_paid"`
	Status             BillingCycleStatus `gorm:"not null" json:"status"`
	ProcessorInvoiceID *string            `gorm:"uniqueIndex" json:"processor_invoice_id,omitempty"`
	NextRetryDate      *time.Time         `json:"next_retry_date,omitempty"`
	CreatedAt          time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time          `gorm:"not null" json:"updated_at"`
}

func (BillingCycle) TableName() string { return "billing_cycles" }

type MembershipSubscription struct {
	ID                         snowflake.ID       `gorm:"primaryKey" json:"id"`
	PayerID                    snowflake.ID       `gorm:"not null;index" json:"payer_id"`
	PlanID                     *snowflake.ID      `json:"plan_id,omitempty"`
	Status                     SubscriptionStatus `gorm:"not null;index" json:"status"`
	BillingFrequency           BillingFrequency   `gorm:"not null" json:"billing_frequency"`
	Amount                     int64              `gorm:"not null" json:"amount"`
	Currency                   string             `gorm:"not null" json:"currency"`
	StartDate                  time.Time          `gorm:"not null" json:"start_date"`
	EndDate                    *time.Time         `json:"end_date,omitempty"`
	NextBillingDate            *time.Time         `json:"next_billing_date,omitempty"`
	CycleNumber                int                `gorm:"not null" json:"cycle_number"`
	TrialEndsAt                *time.Time         `json:"trial_ends_at,omitempty"`
	RenewalDiscountPercentage  decimal.Decimal    `gorm:"type:numeric(5,2);not null;default:0" json:"renewal_discount_percentage"`
	DiscountExpiresAt          *time.Time         `json:"discount_expires_at,omitempty"`
	AutoRenewal                bool               `gorm:"not null" json:"auto_renewal"`
	CancelAtPeriodEnd          bool               `gorm:"not null" json:"cancel_at_period_end"`
	ProcessorSubscriptionID    *string            `gorm:"uniqueIndex" json:"processor_subscription_id,omitempty"`
	ProcessorCheckoutSessionID *string            `gorm:"uniqueIndex" json:"processor_checkout_session_id,omitempty"`
	CreatedAt                  time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt                  time.Time          `gorm:"not null" json:"updated_at"`
}

func (MembershipSubscription) TableName() string { return "membership_subscriptions" }

type MembershipFreeze struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	SubscriptionID    snowflake.ID `gorm:"not null;index" json:"subscription_id"`
	StartDate         time.Time    `gorm:"not null" json:"start_date"`
	EndDate           *time.Time   `json:"end_date,omitempty"`
	FrozenAmount      int64        `gorm:"not null" json:"frozen_amount"`
	Reason            string       `json:"reason"`
	Status            FreezeStatus `gorm:"not null" json:"status"`
	CompensationCount int          `gorm:"not null;default:0" json:"compensation_count"`
	CreatedAt         time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"not null" json:"updated_at"`
}

func (MembershipFreeze) TableName() string { return "membership_freezes" }

type PaymentReallocation struct {
	ID              snowflake.ID  `gorm:"primaryKey" json:"id"`
	FreezeID        snowflake.ID  `gorm:"not null;index" json:"freeze_id"`
	ScheduleEntryID snowflake.ID  `gorm:"not null;uniqueIndex" json:"schedule_entry_id"`
	PaymentID       *snowflake.ID `json:"payment_id,omitempty"`
	Amount          int64         `gorm:"not null" json:"amount"`
	Reason          string        `json:"reason"`
	CreatedAt       time.Time     `gorm:"not null" json:"created_at"`
}

func (PaymentReallocation) TableName() string { return "payment_reallocations" }

// LateFee is at most one per payment.
type LateFee struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	PaymentID      snowflake.ID    `gorm:"not null;uniqueIndex" json:"payment_id"`
	PayerID        snowflake.ID    `gorm:"not null" json:"payer_id"`
	OriginalAmount int64           `gorm:"not null" json:"original_amount"`
	LateFeeAmount  int64           `gorm:"not null" json:"late_fee_amount"`
	DaysOverdue    int             `gorm:"not null" json:"days_overdue"`
	FeePercentage  decimal.Decimal `gorm:"type:numeric(7,4);not null" json:"fee_percentage"`
	Status         LateFeeStatus   `gorm:"not null" json:"status"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
}

func (LateFee) TableName() string { return "late_fees" }

type Refund struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	PaymentID         snowflake.ID `gorm:"not null;index" json:"payment_id"`
	Amount            int64        `gorm:"not null" json:"amount"`
	Reason            string       `json:"reason"`
	ProcessorRefundID *string      `gorm:"uniqueIndex" json:"processor_refund_id,omitempty"`
	Status            RefundStatus `gorm:"not null" json:"status"`
	CreatedAt         time.Time    `gorm:"not null" json:"created_at"`
}

func (Refund) TableName() string { return "refunds" }

type AccountCredit struct {
	ID              snowflake.ID  `gorm:"primaryKey" json:"id"`
	PayerID         snowflake.ID  `gorm:"not null;index" json:"payer_id"`
	RefundID        *snowflake.ID `json:"refund_id,omitempty"`
	Amount          int64         `gorm:"not null" json:"amount"`
	RemainingAmount int64         `gorm:"not null" json:"remaining_amount"`
	Reason          string        `json:"reason"`
	CreatedAt       time.Time     `gorm:"not null" json:"created_at"`
}

func (AccountCredit) TableName() string { return "account_credits" }

// ClassPack is a prepaid allotment of classes. RenewedFromID is unique so a
// pack can be renewed at most once.
type ClassPack struct {
	ID                 snowflake.ID    `gorm:"primaryKey" json:"id"`
	PayerID            snowflake.ID    `gorm:"not null;index" json:"payer_id"`
	TotalClasses       int             `gorm:"not null" json:"total_classes"`
	RemainingClasses   int             `gorm:"not null" json:"remaining_classes"`
	PriceAmount        int64           `gorm:"not null" json:"price_amount"`
	Currency           string          `gorm:"not null" json:"currency"`
	ExpiresAt          time.Time       `gorm:"not null" json:"expires_at"`
	AutoRenew          bool            `gorm:"not null" json:"auto_renew"`
	Status             ClassPackStatus `gorm:"not null" json:"status"`
	RenewedFromID      *snowflake.ID   `gorm:"uniqueIndex" json:"renewed_from_id,omitempty"`
	ProcessorInvoiceID *string         `json:"processor_invoice_id,omitempty"`
	CreatedAt          time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"not null" json:"updated_at"`
}

func (ClassPack) TableName() string { return "class_packs" }

type SubscriptionEvent struct {
	ID               snowflake.ID   `gorm:"primaryKey" json:"id"`
	SubscriptionID   snowflake.ID   `gorm:"not null;index" json:"subscription_id"`
	EventType        string         `gorm:"not null" json:"event_type"`
	ProcessorEventID *string        `json:"processor_event_id,omitempty"`
	Payload          datatypes.JSON `json:"payload"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
}

func (SubscriptionEvent) TableName() string { return "subscription_events" }

// CommunicationLog records every notification attempt. Reference is unique
// when set and keeps re-run sweeps from notifying twice.
type CommunicationLog struct {
	ID        snowflake.ID        `gorm:"primaryKey" json:"id"`
	PayerID   *snowflake.ID       `gorm:"index" json:"payer_id,omitempty"`
	Type      string              `gorm:"not null" json:"type"`
	Channel   string              `gorm:"not null" json:"channel"`
	Recipient string              `json:"recipient"`
	Status    CommunicationStatus `gorm:"not null" json:"status"`
	Reference *string             `gorm:"uniqueIndex" json:"reference,omitempty"`
	Payload   datatypes.JSONMap   `json:"payload"`
	Error     *string             `json:"error,omitempty"`
	CreatedAt time.Time           `gorm:"not null" json:"created_at"`
}

func (CommunicationLog) TableName() string { return "communication_logs" }

// ProcessorEvent is the webhook delivery log used to short-circuit redeliveries.
type ProcessorEvent struct {
	ID               snowflake.ID   `gorm:"primaryKey" json:"id"`
	ProcessorEventID string         `gorm:"not null;uniqueIndex" json:"processor_event_id"`
	EventType        string         `gorm:"not null" json:"event_type"`
	Payload          datatypes.JSON `json:"payload"`
	ReceivedAt       time.Time      `gorm:"not null" json:"received_at"`
	ProcessedAt      *time.Time     `json:"processed_at,omitempty"`
}

func (ProcessorEvent) TableName() string { return "processor_events" }

// Models lists every ledger table, in dependency order, for schema tooling.
func Models() []any {
	return []any{
		&Payer{},
		&Plan{},
		&MembershipSubscription{},
		&ScheduleEntry{},
		&Payment{},
		&BillingCycle{},
		&MembershipFreeze{},
		&PaymentReallocation{},
		&LateFee{},
		&Refund{},
		&AccountCredit{},
		&ClassPack{},
		&SubscriptionEvent{},
		&CommunicationLog{},
		&ProcessorEvent{},
	}
}
