package domain

import "time"

const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventSubscriptionCreated      = "customer.subscription.created"
	EventSubscriptionUpdated      = "customer.subscription.updated"
	EventSubscriptionDeleted      = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded  = "invoice.payment_succeeded"
	EventInvoicePaymentFailed     = "invoice.payment_failed"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
	EventChargeRefundUpdated      = "charge.refund.updated"
)

// Event is a verified processor event. Concrete values are one of the
// variants below, always as a pointer; consumers switch on the type.
type Event interface {
	Meta() EventMeta
}

type EventMeta struct {
	ID      string
	Type    string
	Created time.Time
	Raw     []byte
}

func (m EventMeta) Meta() EventMeta { return m }

type CheckoutSessionCompleted struct {
	EventMeta
	SessionID       string
	Mode            CheckoutMode
	CustomerID      string
	SubscriptionID  string
	PaymentIntentID string
	AmountTotal     int64
	Currency        string
	Metadata        map[string]string
}

// SubscriptionUpdated covers both created and updated deliveries.
type SubscriptionUpdated struct {
	EventMeta
	SubscriptionID     string
	CustomerID         string
	Status             string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	TrialEnd           *time.Time
	Metadata           map[string]string
}

type SubscriptionDeleted struct {
	EventMeta
	SubscriptionID string
	Metadata       map[string]string
}

type InvoicePaymentSucceeded struct {
	EventMeta
	InvoiceID      string
	SubscriptionID string
	CustomerID     string
	AmountDue      int64
	AmountPaid     int64
	PeriodStart    time.Time
	PeriodEnd      time.Time
}

type InvoicePaymentFailed struct {
	EventMeta
	InvoiceID      string
	SubscriptionID string
	CustomerID     string
	AmountDue      int64
	AttemptCount   int64
	PeriodStart    time.Time
	PeriodEnd      time.Time
}

type PaymentIntentSucceeded struct {
	EventMeta
	PaymentIntentID string
	CustomerID      string
	Amount          int64
	Currency        string
	Description     string
	PaymentMethodID string
	Metadata        map[string]string
}

// RefundUpdated reports a refund reaching a new processor status. Metadata
// carries the refund_id the core sent when creating it.
type RefundUpdated struct {
	EventMeta
	RefundID        string
	PaymentIntentID string
	Amount          int64
	Status          string
	Metadata        map[string]string
}

// UnhandledEvent is a verified event of a type the reconciler ignores.
type UnhandledEvent struct {
	EventMeta
}
