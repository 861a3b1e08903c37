package domain

import (
	"context"
	"time"
)

//go:generate mockgen -destination=../mock/gateway.go -package=mock github.com/smallbiznis/dojopay/internal/gateway/domain Gateway

// Gateway translates billing operations to an external payment processor.
// It owns no durable state; every amount is in minor currency units.
type Gateway interface {
	Provider() string

	// FindOrCreateCustomer looks the customer up by email before creating one.
	FindOrCreateCustomer(ctx context.Context, input CustomerInput) (*Customer, error)
	// DefaultPaymentMethod returns "" when the customer has no stored method.
	DefaultPaymentMethod(ctx context.Context, customerID string) (string, error)
	CreatePaymentIntent(ctx context.Context, input PaymentIntentInput) (*PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, paymentIntentID string) (*PaymentIntent, error)
	CreateCheckoutSession(ctx context.Context, input CheckoutSessionInput) (*CheckoutSession, error)
	CreateRefund(ctx context.Context, input RefundInput) (*Refund, error)
	// CreateInvoiceCharge bills a one-off amount through an invoice item,
	// an invoice, and an immediate pay attempt.
	CreateInvoiceCharge(ctx context.Context, input InvoiceChargeInput) (*Invoice, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error

	// ParseWebhook verifies the signature over the raw payload and decodes
	// the event into one of the Event variants.
	ParseWebhook(payload []byte, signature string) (Event, error)
}

// Factory builds a Gateway for one processor.
type Factory interface {
	Provider() string
	NewGateway(cfg Config) (Gateway, error)
}

// Config carries processor credentials and transport settings.
type Config struct {
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
	BackendURL    string
}

type CustomerInput struct {
	PayerID string
	Email   string
	Name    string
}

type Customer struct {
	ID    string
	Email string
	Name  string
}

type PaymentIntentInput struct {
	CustomerID      string
	PaymentMethodID string
	Amount          int64
	Currency        string
	Description     string
	IdempotencyKey  string
	Metadata        map[string]string
}

type IntentStatus string

const (
	IntentSucceeded             IntentStatus = "succeeded"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentCanceled              IntentStatus = "canceled"
)

type PaymentIntent struct {
	ID              string
	Status          IntentStatus
	Amount          int64
	Currency        string
	CustomerID      string
	PaymentMethodID string
	LastError       string
	Metadata        map[string]string
}

type CheckoutMode string

const (
	CheckoutModeSubscription CheckoutMode = "subscription"
	CheckoutModePayment      CheckoutMode = "payment"
)

type CheckoutSessionInput struct {
	CustomerID  string
	Mode        CheckoutMode
	Amount      int64
	Currency    string
	ProductName string
	// PriceID takes precedence over inline price data when set.
	PriceID        string
	Interval       string
	IntervalCount  int64
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
	Metadata       map[string]string
}

type CheckoutSession struct {
	ID  string
	URL string
}

type RefundInput struct {
	PaymentIntentID string
	Amount          int64
	IdempotencyKey  string
	Metadata        map[string]string
}

type Refund struct {
	ID     string
	Status string
	Amount int64
}

type InvoiceChargeInput struct {
	CustomerID     string
	Amount         int64
	Currency       string
	Description    string
	IdempotencyKey string
	Metadata       map[string]string
}

type Invoice struct {
	ID              string
	Status          string
	Paid            bool
	AmountPaid      int64
	PaymentIntentID string
}
