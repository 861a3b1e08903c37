package stripe

import (
	"context"
	"fmt"
	"strings"

	gatewaydomain "github.com/smallbiznis/dojopay/internal/gateway/domain"
	stripego "github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"
)

func (a *Adapter) FindOrCreateCustomer(ctx context.Context, input gatewaydomain.CustomerInput) (*gatewaydomain.Customer, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, gatewaydomain.NewProcessorError(gatewaydomain.KindInvalidRequest, "email_required", "", "customer email is required")
	}

	listParams := &stripego.CustomerListParams{Email: stripego.String(email)}
	listParams.Context = ctx
	listParams.Limit = stripego.Int64(1)
	iter := a.api.Customers.List(listParams)
	if iter.Next() {
		existing := iter.Customer()
		return &gatewaydomain.Customer{ID: existing.ID, Email: existing.Email, Name: existing.Name}, nil
	}
	if err := iter.Err(); err != nil {
		return nil, classify(err, false)
	}

	params := &stripego.CustomerParams{Email: stripego.String(email)}
	params.Context = ctx
	if name := strings.TrimSpace(input.Name); name != "" {
		params.Name = stripego.String(name)
	}
	if payerID := strings.TrimSpace(input.PayerID); payerID != "" {
		params.AddMetadata("payer_id", payerID)
		params.SetIdempotencyKey("customer:" + payerID)
	}
	created, err := a.api.Customers.New(params)
	if err != nil {
		return nil, classify(err, true)
	}
	a.log.Info("created processor customer", zap.String("customer_id", created.ID))
	return &gatewaydomain.Customer{ID: created.ID, Email: created.Email, Name: created.Name}, nil
}

func (a *Adapter) DefaultPaymentMethod(ctx context.Context, customerID string) (string, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return "", nil
	}

	params := &stripego.CustomerParams{}
	params.Context = ctx
	cust, err := a.api.Customers.Get(customerID, params)
	if err != nil {
		return "", classify(err, false)
	}
	if cust.InvoiceSettings != nil && cust.InvoiceSettings.DefaultPaymentMethod != nil {
		if id := strings.TrimSpace(cust.InvoiceSettings.DefaultPaymentMethod.ID); id != "" {
			return id, nil
		}
	}

	listParams := &stripego.PaymentMethodListParams{
		Customer: stripego.String(customerID),
		Type:     stripego.String(string(stripego.PaymentMethodTypeCard)),
	}
	listParams.Context = ctx
	listParams.Limit = stripego.Int64(1)
	iter := a.api.PaymentMethods.List(listParams)
	if iter.Next() {
		return iter.PaymentMethod().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", classify(err, false)
	}
	return "", nil
}

// CreatePaymentIntent confirms an off-session charge immediately.
func (a *Adapter) CreatePaymentIntent(ctx context.Context, input gatewaydomain.PaymentIntentInput) (*gatewaydomain.PaymentIntent, error) {
	if input.Amount <= 0 {
		return nil, gatewaydomain.NewProcessorError(gatewaydomain.KindInvalidRequest, "amount_invalid", "", "amount must be positive")
	}

	params := &stripego.PaymentIntentParams{
		Amount:        stripego.Int64(input.Amount),
		Currency:      stripego.String(currency(input.Currency)),
		Customer:      stripego.String(input.CustomerID),
		PaymentMethod: stripego.String(input.PaymentMethodID),
		OffSession:    stripego.Bool(true),
		Confirm:       stripego.Bool(true),
	}
	params.Context = ctx
	if desc := strings.TrimSpace(input.Description); desc != "" {
		params.Description = stripego.String(desc)
	}
	for key, value := range input.Metadata {
		params.AddMetadata(key, value)
	}
	if key := strings.TrimSpace(input.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	intent, err := a.api.PaymentIntents.New(params)
	if err != nil {
		return nil, classify(err, true)
	}
	return toPaymentIntent(intent), nil
}

func (a *Adapter) GetPaymentIntent(ctx context.Context, paymentIntentID string) (*gatewaydomain.PaymentIntent, error) {
	params := &stripego.PaymentIntentParams{}
	params.Context = ctx
	intent, err := a.api.PaymentIntents.Get(strings.TrimSpace(paymentIntentID), params)
	if err != nil {
		return nil, classify(err, false)
	}
	return toPaymentIntent(intent), nil
}

func (a *Adapter) CreateCheckoutSession(ctx context.Context, input gatewaydomain.CheckoutSessionInput) (*gatewaydomain.CheckoutSession, error) {
	item := &stripego.CheckoutSessionLineItemParams{Quantity: stripego.Int64(1)}
	if priceID := strings.TrimSpace(input.PriceID); priceID != "" {
		item.Price = stripego.String(priceID)
	} else {
		if input.Amount <= 0 {
			return nil, gatewaydomain.NewProcessorError(gatewaydomain.KindInvalidRequest, "amount_invalid", "", "amount must be positive")
		}
		item.PriceData = &stripego.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripego.String(currency(input.Currency)),
			UnitAmount: stripego.Int64(input.Amount),
			ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripego.String(input.ProductName),
			},
		}
		if input.Mode == gatewaydomain.CheckoutModeSubscription {
			recurring := &stripego.CheckoutSessionLineItemPriceDataRecurringParams{
				Interval: stripego.String(input.Interval),
			}
			if input.IntervalCount > 1 {
				recurring.IntervalCount = stripego.Int64(input.IntervalCount)
			}
			item.PriceData.Recurring = recurring
		}
	}

	params := &stripego.CheckoutSessionParams{
		Customer:   stripego.String(input.CustomerID),
		Mode:       stripego.String(string(input.Mode)),
		LineItems:  []*stripego.CheckoutSessionLineItemParams{item},
		SuccessURL: stripego.String(input.SuccessURL),
		CancelURL:  stripego.String(input.CancelURL),
	}
	params.Context = ctx
	for key, value := range input.Metadata {
		params.AddMetadata(key, value)
	}
	// Metadata is copied onto the child object so later subscription and
	// payment intent events can be correlated without the session.
	if input.Mode == gatewaydomain.CheckoutModeSubscription {
		params.SubscriptionData = &stripego.CheckoutSessionSubscriptionDataParams{Metadata: copyMetadata(input.Metadata)}
	} else {
		params.PaymentIntentData = &stripego.CheckoutSessionPaymentIntentDataParams{Metadata: copyMetadata(input.Metadata)}
	}
	if key := strings.TrimSpace(input.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	session, err := a.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, classify(err, true)
	}
	return &gatewaydomain.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (a *Adapter) CreateRefund(ctx context.Context, input gatewaydomain.RefundInput) (*gatewaydomain.Refund, error) {
	params := &stripego.RefundParams{
		PaymentIntent: stripego.String(strings.TrimSpace(input.PaymentIntentID)),
		Amount:        stripego.Int64(input.Amount),
		Reason:        stripego.String(string(stripego.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	for key, value := range input.Metadata {
		params.AddMetadata(key, value)
	}
	if key := strings.TrimSpace(input.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}

	refund, err := a.api.Refunds.New(params)
	if err != nil {
		return nil, classify(err, true)
	}
	return &gatewaydomain.Refund{ID: refund.ID, Status: string(refund.Status), Amount: refund.Amount}, nil
}

// CreateInvoiceCharge creates a draft invoice, attaches one item, finalizes
// and pays it. Each step carries a derived idempotency key, and a retried
// call resumes from the invoice's current status instead of duplicating.
func (a *Adapter) CreateInvoiceCharge(ctx context.Context, input gatewaydomain.InvoiceChargeInput) (*gatewaydomain.Invoice, error) {
	if input.Amount <= 0 {
		return nil, gatewaydomain.NewProcessorError(gatewaydomain.KindInvalidRequest, "amount_invalid", "", "amount must be positive")
	}
	key := strings.TrimSpace(input.IdempotencyKey)

	invParams := &stripego.InvoiceParams{
		Customer:                    stripego.String(input.CustomerID),
		AutoAdvance:                 stripego.Bool(false),
		CollectionMethod:            stripego.String(string(stripego.InvoiceCollectionMethodChargeAutomatically)),
		PendingInvoiceItemsBehavior: stripego.String("exclude"),
	}
	invParams.Context = ctx
	if desc := strings.TrimSpace(input.Description); desc != "" {
		invParams.Description = stripego.String(desc)
	}
	for k, v := range input.Metadata {
		invParams.AddMetadata(k, v)
	}
	if key != "" {
		invParams.SetIdempotencyKey(key + ":invoice")
	}
	created, err := a.api.Invoices.New(invParams)
	if err != nil {
		return nil, classify(err, true)
	}

	// A replayed create answers with the original draft.
	getParams := &stripego.InvoiceParams{}
	getParams.Context = ctx
	inv, err := a.api.Invoices.Get(created.ID, getParams)
	if err != nil {
		return nil, classify(err, false)
	}

	if inv.Status == stripego.InvoiceStatusDraft {
		itemParams := &stripego.InvoiceItemParams{
			Customer:    stripego.String(input.CustomerID),
			Invoice:     stripego.String(inv.ID),
			Amount:      stripego.Int64(input.Amount),
			Currency:    stripego.String(currency(input.Currency)),
			Description: stripego.String(input.Description),
		}
		itemParams.Context = ctx
		if key != "" {
			itemParams.SetIdempotencyKey(key + ":item")
		}
		if _, err := a.api.InvoiceItems.New(itemParams); err != nil {
			return nil, classify(err, true)
		}

		finalizeParams := &stripego.InvoiceFinalizeInvoiceParams{}
		finalizeParams.Context = ctx
		if key != "" {
			finalizeParams.SetIdempotencyKey(key + ":finalize")
		}
		inv, err = a.api.Invoices.FinalizeInvoice(inv.ID, finalizeParams)
		if err != nil {
			return nil, classify(err, true)
		}
	}

	if inv.Status != stripego.InvoiceStatusOpen {
		return toInvoice(inv), nil
	}

	payParams := &stripego.InvoicePayParams{OffSession: stripego.Bool(true)}
	payParams.Context = ctx
	if key != "" {
		// Keyed per attempt so a declined invoice can be paid on a later run.
		payParams.SetIdempotencyKey(fmt.Sprintf("%s:pay:%d", key, inv.AttemptCount))
	}
	paid, err := a.api.Invoices.Pay(inv.ID, payParams)
	if err != nil {
		return nil, classify(err, true)
	}
	return toInvoice(paid), nil
}

func toInvoice(inv *stripego.Invoice) *gatewaydomain.Invoice {
	out := &gatewaydomain.Invoice{
		ID:         inv.ID,
		Status:     string(inv.Status),
		Paid:       inv.Paid,
		AmountPaid: inv.AmountPaid,
	}
	if inv.PaymentIntent != nil {
		out.PaymentIntentID = inv.PaymentIntent.ID
	}
	return out
}

func (a *Adapter) CancelSubscription(ctx context.Context, subscriptionID string) error {
	params := &stripego.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := a.api.Subscriptions.Cancel(strings.TrimSpace(subscriptionID), params); err != nil {
		return classify(err, true)
	}
	return nil
}

func toPaymentIntent(intent *stripego.PaymentIntent) *gatewaydomain.PaymentIntent {
	if intent == nil {
		return nil
	}
	out := &gatewaydomain.PaymentIntent{
		ID:       intent.ID,
		Status:   gatewaydomain.IntentStatus(intent.Status),
		Amount:   intent.Amount,
		Currency: string(intent.Currency),
		Metadata: intent.Metadata,
	}
	if intent.Customer != nil {
		out.CustomerID = intent.Customer.ID
	}
	if intent.PaymentMethod != nil {
		out.PaymentMethodID = intent.PaymentMethod.ID
	}
	if intent.LastPaymentError != nil {
		out.LastError = intent.LastPaymentError.Msg
	}
	return out
}

func currency(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return string(stripego.CurrencyUSD)
	}
	return value
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
