package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/dojopay/internal/gateway/domain"
)

type unconfigured struct {
	provider string
	err      error
}

// Unconfigured returns a Gateway whose every call fails with cause, which
// must wrap domain.ErrInvalidConfig.
func Unconfigured(provider string, cause error) domain.Gateway {
	if cause == nil || !errors.Is(cause, domain.ErrInvalidConfig) {
		cause = fmt.Errorf("%w: %v", domain.ErrInvalidConfig, cause)
	}
	return &unconfigured{provider: provider, err: cause}
}

func (u *unconfigured) Provider() string { return u.provider }

func (u *unconfigured) FindOrCreateCustomer(context.Context, domain.CustomerInput) (*domain.Customer, error) {
	return nil, u.err
}

func (u *unconfigured) DefaultPaymentMethod(context.Context, string) (string, error) {
	return "", u.err
}

func (u *unconfigured) CreatePaymentIntent(context.Context, domain.PaymentIntentInput) (*domain.PaymentIntent, error) {
	return nil, u.err
}

func (u *unconfigured) GetPaymentIntent(context.Context, string) (*domain.PaymentIntent, error) {
	return nil, u.err
}

func (u *unconfigured) CreateCheckoutSession(context.Context, domain.CheckoutSessionInput) (*domain.CheckoutSession, error) {
	return nil, u.err
}

func (u *unconfigured) CreateRefund(context.Context, domain.RefundInput) (*domain.Refund, error) {
	return nil, u.err
}

func (u *unconfigured) CreateInvoiceCharge(context.Context, domain.InvoiceChargeInput) (*domain.Invoice, error) {
	return nil, u.err
}

func (u *unconfigured) CancelSubscription(context.Context, string) error {
	return u.err
}

func (u *unconfigured) ParseWebhook([]byte, string) (domain.Event, error) {
	return nil, u.err
}
