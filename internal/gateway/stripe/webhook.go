package stripe

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	gatewaydomain "github.com/smallbiznis/dojopay/internal/gateway/domain"
	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

func (a *Adapter) ParseWebhook(payload []byte, signature string) (gatewaydomain.Event, error) {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return nil, gatewaydomain.ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, a.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) ||
			errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) ||
			errors.Is(err, webhook.ErrTooOld) {
			return nil, gatewaydomain.ErrInvalidSignature
		}
		return nil, gatewaydomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" || event.Data == nil {
		return nil, gatewaydomain.ErrInvalidEvent
	}

	meta := gatewaydomain.EventMeta{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: timestamp(event.Created, 0),
		Raw:     payload,
	}

	switch meta.Type {
	case gatewaydomain.EventCheckoutSessionCompleted:
		return parseCheckoutSession(meta, event.Data.Raw)
	case gatewaydomain.EventSubscriptionCreated, gatewaydomain.EventSubscriptionUpdated:
		return parseSubscriptionUpdated(meta, event.Data.Raw)
	case gatewaydomain.EventSubscriptionDeleted:
		return parseSubscriptionDeleted(meta, event.Data.Raw)
	case gatewaydomain.EventInvoicePaymentSucceeded:
		return parseInvoiceSucceeded(meta, event.Data.Raw)
	case gatewaydomain.EventInvoicePaymentFailed:
		return parseInvoiceFailed(meta, event.Data.Raw)
	case gatewaydomain.EventPaymentIntentSucceeded:
		return parsePaymentIntent(meta, event.Data.Raw)
	case gatewaydomain.EventChargeRefundUpdated:
		return parseRefund(meta, event.Data.Raw)
	default:
		return &gatewaydomain.UnhandledEvent{EventMeta: meta}, nil
	}
}

func parseCheckoutSession(meta gatewaydomain.EventMeta, raw json.RawMessage) (gatewaydomain.Event, error) {
	var session stripego.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, gatewaydomain.ErrInvalidEvent
	}

	out := gatewaydomain.CheckoutSessionCompleted{
		EventMeta:   meta,
		SessionID:   session.ID,
		Mode:        gatewaydomain.CheckoutMode(session.Mode),
		AmountTotal: session.AmountTotal,
		Currency:    string(session.Currency),
		Metadata:    session.Metadata,
	}
	if session.Customer != nil {
		out.CustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		out.SubscriptionID = session.Subscription.ID
	}
	if session.PaymentIntent != nil {
		out.PaymentIntentID = session.PaymentIntent.ID
	}
	if out.Mode == gatewaydomain.CheckoutModeSubscription && out.SubscriptionID == "" {
		return nil, gatewaydomain.ErrInvalidEvent
	}
	return &out, nil
}

func parseSubscriptionUpdated(meta gatewaydomain.EventMeta, raw json.RawMessage) (gatewaydomain.Event, error) {
	var sub stripego.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.ID) == "" || sub.CurrentPeriodStart == 0 || sub.CurrentPeriodEnd == 0 {
		return nil, gatewaydomain.ErrInvalidEvent
	}

	out := gatewaydomain.SubscriptionUpdated{
		EventMeta:          meta,
		SubscriptionID:     sub.ID,
		Status:             string(sub.Status),
		CurrentPeriodStart: timestamp(sub.CurrentPeriodStart, 0),
		CurrentPeriodEnd:   timestamp(sub.CurrentPeriodEnd, 0),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		Metadata:           sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.TrialEnd > 0 {
		trialEnd := timestamp(sub.TrialEnd, 0)
		out.TrialEnd = &trialEnd
	}
	return &out, nil
}

func parseSubscriptionDeleted(meta gatewaydomain.EventMeta, raw json.RawMessage) (gatewaydomain.Event, error) {
	var sub stripego.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.ID) == "" {
		return nil, gatewaydomain.ErrInvalidEvent
	}
	return &gatewaydomain.SubscriptionDeleted{
		EventMeta:      meta,
		SubscriptionID: sub.ID,
		Metadata:       sub.Metadata,
	}, nil
}

func decodeInvoice(raw json.RawMessage) (*stripego.Invoice, error) {
	var inv stripego.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	if strings.TrimSpace(inv.ID) == "" || inv.Subscription == nil || strings.TrimSpace(inv.Subscription.ID) == "" {
		return nil, gatewaydomain.ErrInvalidEvent
	}
	return &inv, nil
}

func parseInvoiceSucceeded(meta gatewaydomain.EventMeta, raw json.RawMessage) (gatewaydomain.Event, error) {
	inv, err := decodeInvoice(raw)
	if err != nil {
		return nil, err
	}
	out := gatewaydomain.InvoicePaymentSucceeded{
		EventMeta:      meta,
		InvoiceID:      inv.ID,
		SubscriptionID: inv.Subscription.ID,
		AmountDue:      inv.AmountDue,
		AmountPaid:     inv.AmountPaid,
		PeriodStart:    timestamp(inv.PeriodStart, meta.Created.Unix()),
		PeriodEnd:      timestamp(inv.PeriodEnd, meta.Created.Unix()),
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	return &out, nil
}

func parseInvoiceFailed(meta gatewaydomain.EventMeta, raw json.RawMessage) (gatewaydomain.Event, error) {
	inv, err := decodeInvoice(raw)
	if err != nil {
		return nil, err
	}
	out := gatewaydomain.InvoicePaymentFailed{
		EventMeta:      meta,
		InvoiceID:      inv.ID,
		SubscriptionID: inv.Subscription.ID,
		AmountDue:      inv.AmountDue,
		AttemptCount:   inv.AttemptCount,
		PeriodStart:    timestamp(inv.PeriodStart, meta.Created.Unix()),
		PeriodEnd:      timestamp(inv.PeriodEnd, meta.Created.Unix()),
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	return &out, nil
}

func parsePaymentIntent(meta gatewaydomain.EventMeta, raw json.RawMessage) (gatewaydomain.Event, error) {
	var intent stripego.PaymentIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, gatewaydomain.ErrInvalidEvent
	}

	amount := intent.AmountReceived
	if amount <= 0 {
		amount = intent.Amount
	}
	out := gatewaydomain.PaymentIntentSucceeded{
		EventMeta:       meta,
		PaymentIntentID: intent.ID,
		Amount:          amount,
		Currency:        string(intent.Currency),
		Description:     intent.Description,
		Metadata:        intent.Metadata,
	}
	if intent.Customer != nil {
		out.CustomerID = intent.Customer.ID
	}
	if intent.PaymentMethod != nil {
		out.PaymentMethodID = intent.PaymentMethod.ID
	}
	return &out, nil
}

func parseRefund(meta gatewaydomain.EventMeta, raw json.RawMessage) (gatewaydomain.Event, error) {
	var refund stripego.Refund
	if err := json.Unmarshal(raw, &refund); err != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	if strings.TrimSpace(refund.ID) == "" {
		return nil, gatewaydomain.ErrInvalidEvent
	}

	out := gatewaydomain.RefundUpdated{
		EventMeta: meta,
		RefundID:  refund.ID,
		Amount:    refund.Amount,
		Status:    string(refund.Status),
		Metadata:  refund.Metadata,
	}
	if refund.PaymentIntent != nil {
		out.PaymentIntentID = refund.PaymentIntent.ID
	}
	return &out, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}
