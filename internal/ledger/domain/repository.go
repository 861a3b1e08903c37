package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the full ledger store. Every method runs against the given
// handle so callers decide the transaction boundary.
type Repository interface {
	PayerRepository
	PlanRepository
	PaymentRepository
	ScheduleRepository
	SubscriptionRepository
	BillingCycleRepository
	FreezeRepository
	LateFeeRepository
	RefundRepository
	ClassPackRepository
	EventRepository
	CommunicationRepository
}

type PayerRepository interface {
	InsertPayer(ctx context.Context, db *gorm.DB, payer *Payer) error
	FindPayer(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payer, error)
	FindPayerByProcessorCustomer(ctx context.Context, db *gorm.DB, customerID string) (*Payer, error)
	SetPayerProcessorCustomer(ctx context.Context, db *gorm.DB, id snowflake.ID, customerID string, now time.Time) error
	SetPayerDefaultPaymentMethod(ctx context.Context, db *gorm.DB, id snowflake.ID, paymentMethodID string, now time.Time) error
	// SuspendPayer flags an active payer. It reports whether the row changed.
	SuspendPayer(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
}

type PlanRepository interface {
	InsertPlan(ctx context.Context, db *gorm.DB, plan *Plan) error
	FindPlan(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
}

// PaymentAttempt is the outcome of one processor round trip applied to a
// payment row.
type PaymentAttempt struct {
	PaymentID       snowflake.ID
	From            []PaymentStatus
	Status          PaymentStatus
	ProcessorID     *string
	PaymentMethodID *string
	FailureReason   *string
	IncrementRetry  bool
	AttemptedAt     time.Time
}

type PaymentRepository interface {
	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindPayment(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindPaymentByProcessorID(ctx context.Context, db *gorm.DB, processorID string) (*Payment, error)
	// FindOpenPaymentForEntry returns a payment for the schedule entry that is
	// still in flight (pending, requires_action or completed).
	FindOpenPaymentForEntry(ctx context.Context, db *gorm.DB, entryID snowflake.ID) (*Payment, error)
	CountPaymentsForEntry(ctx context.Context, db *gorm.DB, entryID snowflake.ID) (int64, error)
	// ApplyPaymentAttempt is a compare-and-set on the current status. It
	// returns ErrDuplicateProcessorID when the processor id belongs to
	// another payment.
	ApplyPaymentAttempt(ctx context.Context, db *gorm.DB, attempt PaymentAttempt) (bool, error)
	// UpsertCompletedPayment inserts or completes a payment keyed by processor id.
	// Refunded payments are left untouched.
	UpsertCompletedPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	ListRetryablePayments(ctx context.Context, db *gorm.DB, since time.Time, maxRetries int, limit int) ([]Payment, error)
	ListOverduePayments(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]Payment, error)
	TransitionPayment(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to PaymentStatus, now time.Time) (bool, error)
}

type ScheduleRepository interface {
	InsertScheduleEntry(ctx context.Context, db *gorm.DB, entry *ScheduleEntry) error
	FindScheduleEntry(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ScheduleEntry, error)
	// ListActiveSchedule returns non-deleted entries ordered by date,
	// installment number and id.
	ListActiveSchedule(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]ScheduleEntry, error)
	MarkScheduleEntryPaid(ctx context.Context, db *gorm.DB, id, paymentID snowflake.ID, now time.Time) (bool, error)
	MarkScheduleEntryReallocated(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	SetScheduleNumbering(ctx context.Context, db *gorm.DB, id snowflake.ID, installment, total int, now time.Time) error
	// DeletePendingCompensation soft-deletes pending compensation entries of a
	// freeze and returns how many were removed.
	DeletePendingCompensation(ctx context.Context, db *gorm.DB, freezeID snowflake.ID, now time.Time) (int64, error)
}

type SubscriptionRepository interface {
	InsertSubscription(ctx context.Context, db *gorm.DB, sub *MembershipSubscription) error
	FindSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID) (*MembershipSubscription, error)
	FindSubscriptionByProcessorID(ctx context.Context, db *gorm.DB, processorSubscriptionID string) (*MembershipSubscription, error)
	// UpsertProcessorSubscription applies authoritative processor fields keyed
	// by processor subscription id. Terminal rows keep their status.
	UpsertProcessorSubscription(ctx context.Context, db *gorm.DB, sub *MembershipSubscription) error
	// AttachCheckoutSubscription inserts on first sight or links the checkout
	// session to an existing row without touching its status.
	AttachCheckoutSubscription(ctx context.Context, db *gorm.DB, sub *MembershipSubscription) (bool, error)
	CancelSubscriptionByProcessorID(ctx context.Context, db *gorm.DB, processorSubscriptionID string, endDate time.Time, now time.Time) (bool, error)
	TransitionSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to SubscriptionStatus, now time.Time) (bool, error)
	ListSubscriptionsForRollover(ctx context.Context, db *gorm.DB, today time.Time, limit int) ([]MembershipSubscription, error)
	// RolloverSubscription advances a cycle, guarded by the expected cycle number.
	RolloverSubscription(ctx context.Context, db *gorm.DB, sub *MembershipSubscription, expectedCycle int, now time.Time) (bool, error)
	ListSubscriptionsRenewingBetween(ctx context.Context, db *gorm.DB, from, to time.Time, limit int) ([]MembershipSubscription, error)
	ListTrialsEndingBetween(ctx context.Context, db *gorm.DB, from, to time.Time, limit int) ([]MembershipSubscription, error)
	InsertSubscriptionEvent(ctx context.Context, db *gorm.DB, event *SubscriptionEvent) error
}

type BillingCycleRepository interface {
	// UpsertInvoiceCycle is keyed by processor invoice id. A paid cycle is
	// never downgraded to failed.
	UpsertInvoiceCycle(ctx context.Context, db *gorm.DB, cycle *BillingCycle) error
	// UpsertPaymentCycle is keyed by payment id.
	UpsertPaymentCycle(ctx context.Context, db *gorm.DB, cycle *BillingCycle) error
	FindCycleByInvoice(ctx context.Context, db *gorm.DB, invoiceID string) (*BillingCycle, error)
	ListCycles(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]BillingCycle, error)
}

type FreezeRepository interface {
	InsertFreeze(ctx context.Context, db *gorm.DB, freeze *MembershipFreeze) error
	FindFreeze(ctx context.Context, db *gorm.DB, id snowflake.ID) (*MembershipFreeze, error)
	UpdateFreeze(ctx context.Context, db *gorm.DB, freeze *MembershipFreeze, now time.Time) error
	EndFreeze(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	InsertReallocation(ctx context.Context, db *gorm.DB, item *PaymentReallocation) (bool, error)
	ListReallocations(ctx context.Context, db *gorm.DB, freezeID snowflake.ID) ([]PaymentReallocation, error)
}

type LateFeeRepository interface {
	// InsertLateFee reports false when the payment already carries a fee.
	InsertLateFee(ctx context.Context, db *gorm.DB, fee *LateFee) (bool, error)
	CountLateFees(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (int64, error)
}

type RefundRepository interface {
	InsertRefund(ctx context.Context, db *gorm.DB, refund *Refund) error
	// SumRefunds counts pending refunds; their money may already have moved.
	SumRefunds(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (int64, error)
	SumCredits(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (int64, error)
	FindRefund(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Refund, error)
	FindRefundByProcessorID(ctx context.Context, db *gorm.DB, processorRefundID string) (*Refund, error)
	// ResolveRefund reports false when the refund is no longer pending.
	ResolveRefund(ctx context.Context, db *gorm.DB, id snowflake.ID, status RefundStatus, processorRefundID *string) (bool, error)
	InsertAccountCredit(ctx context.Context, db *gorm.DB, credit *AccountCredit) error
	ListAccountCredits(ctx context.Context, db *gorm.DB, payerID snowflake.ID) ([]AccountCredit, error)
}

type ClassPackRepository interface {
	InsertClassPack(ctx context.Context, db *gorm.DB, pack *ClassPack) (bool, error)
	FindClassPack(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ClassPack, error)
	FindRenewalOf(ctx context.Context, db *gorm.DB, packID snowflake.ID) (*ClassPack, error)
	// ListClassPacksForRenewal returns active auto-renew packs expiring by
	// expiresBy or with at most threshold classes left.
	ListClassPacksForRenewal(ctx context.Context, db *gorm.DB, expiresBy time.Time, threshold int, limit int) ([]ClassPack, error)
	TransitionClassPack(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to ClassPackStatus, now time.Time) (bool, error)
}

type EventRepository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *ProcessorEvent) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, processorEventID string) (*ProcessorEvent, error)
	MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}

type CommunicationRepository interface {
	// InsertCommunicationLog reports false when the reference was already logged.
	InsertCommunicationLog(ctx context.Context, db *gorm.DB, entry *CommunicationLog) (bool, error)
	UpdateCommunicationStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status CommunicationStatus, errMsg *string) error
}
