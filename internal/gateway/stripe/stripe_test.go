package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	gatewaydomain "github.com/smallbiznis/dojopay/internal/gateway/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testWebhookSecret = "whsec_test"

func buildStripeSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func newTestAdapter(t *testing.T, backendURL string, timeout time.Duration) *Adapter {
	t.Helper()
	gw, err := NewFactory(zap.NewNop()).NewGateway(gatewaydomain.Config{
		SecretKey:     "sk_test_123",
		WebhookSecret: testWebhookSecret,
		Timeout:       timeout,
		BackendURL:    backendURL,
	})
	require.NoError(t, err)
	return gw.(*Adapter)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	out, err := json.Marshal(v)
	require.NoError(t, err)
	return out
}

func TestParseWebhookVerifiesSignature(t *testing.T) {
	adapter := newTestAdapter(t, "", 0)
	payload := mustJSON(t, map[string]any{
		"id":      "evt_1",
		"object":  "event",
		"type":    "payment_intent.succeeded",
		"created": time.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":              "pi_1",
				"object":          "payment_intent",
				"amount":          2500,
				"amount_received": 2500,
				"currency":        "usd",
				"customer":        "cus_1",
				"metadata":        map[string]any{"payer_id": "42"},
			},
		},
	})
	now := time.Now().Unix()

	event, err := adapter.ParseWebhook(payload, buildStripeSignatureHeader(testWebhookSecret, payload, now))
	require.NoError(t, err)
	intent, ok := event.(*gatewaydomain.PaymentIntentSucceeded)
	require.True(t, ok, "expected PaymentIntentSucceeded, got %T", event)
	assert.Equal(t, "pi_1", intent.PaymentIntentID)
	assert.Equal(t, int64(2500), intent.Amount)
	assert.Equal(t, "cus_1", intent.CustomerID)
	assert.Equal(t, "42", intent.Metadata["payer_id"])
	assert.Equal(t, "evt_1", intent.Meta().ID)

	_, err = adapter.ParseWebhook(payload, buildStripeSignatureHeader("wrong", payload, now))
	assert.ErrorIs(t, err, gatewaydomain.ErrInvalidSignature)

	_, err = adapter.ParseWebhook(payload, "")
	assert.ErrorIs(t, err, gatewaydomain.ErrInvalidSignature)

	tampered := append([]byte{}, payload...)
	tampered[len(tampered)-2] = ' '
	_, err = adapter.ParseWebhook(tampered, buildStripeSignatureHeader(testWebhookSecret, payload, now))
	assert.ErrorIs(t, err, gatewaydomain.ErrInvalidSignature)
}

func TestParseWebhookVariants(t *testing.T) {
	adapter := newTestAdapter(t, "", 0)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Unix()

	tests := []struct {
		name    string
		typ     string
		object  map[string]any
		check   func(t *testing.T, event gatewaydomain.Event)
		wantErr error
	}{{
		name: "checkout subscription",
		typ:  "checkout.session.completed",
		object: map[string]any{
			"id": "cs_1", "object": "checkout.session", "mode": "subscription",
			"customer": "cus_1", "subscription": "sub_1", "amount_total": 9900, "currency": "usd",
			"metadata": map[string]any{"payer_id": "7", "plan_id": "9", "purpose": "subscription"},
		},
		check: func(t *testing.T, event gatewaydomain.Event) {
			session := event.(*gatewaydomain.CheckoutSessionCompleted)
			assert.Equal(t, gatewaydomain.CheckoutModeSubscription, session.Mode)
			assert.Equal(t, "sub_1", session.SubscriptionID)
			assert.Equal(t, "9", session.Metadata["plan_id"])
		},
	}, {
		name: "checkout subscription without subscription id",
		typ:  "checkout.session.completed",
		object: map[string]any{
			"id": "cs_2", "object": "checkout.session", "mode": "subscription",
		},
		wantErr: gatewaydomain.ErrInvalidEvent,
	}, {
		name: "subscription created",
		typ:  "customer.subscription.created",
		object: map[string]any{
			"id": "sub_1", "object": "subscription", "status": "trialing", "customer": "cus_1",
			"current_period_start": start, "current_period_end": end, "trial_end": end,
		},
		check: func(t *testing.T, event gatewaydomain.Event) {
			sub := event.(*gatewaydomain.SubscriptionUpdated)
			assert.Equal(t, "trialing", sub.Status)
			assert.Equal(t, time.Unix(start, 0).UTC(), sub.CurrentPeriodStart)
			require.NotNil(t, sub.TrialEnd)
		},
	}, {
		name:    "subscription without period",
		typ:     "customer.subscription.updated",
		object:  map[string]any{"id": "sub_1", "object": "subscription", "status": "active"},
		wantErr: gatewaydomain.ErrInvalidEvent,
	}, {
		name:   "subscription deleted",
		typ:    "customer.subscription.deleted",
		object: map[string]any{"id": "sub_1", "object": "subscription", "status": "canceled"},
		check: func(t *testing.T, event gatewaydomain.Event) {
			assert.Equal(t, "sub_1", event.(*gatewaydomain.SubscriptionDeleted).SubscriptionID)
		},
	}, {
		name: "invoice failed",
		typ:  "invoice.payment_failed",
		object: map[string]any{
			"id": "in_1", "object": "invoice", "subscription": "sub_1", "customer": "cus_1",
			"amount_due": 9900, "attempt_count": 2, "period_start": start, "period_end": end,
		},
		check: func(t *testing.T, event gatewaydomain.Event) {
			inv := event.(*gatewaydomain.InvoicePaymentFailed)
			assert.Equal(t, int64(2), inv.AttemptCount)
			assert.Equal(t, "sub_1", inv.SubscriptionID)
		},
	}, {
		name:    "invoice without subscription",
		typ:     "invoice.payment_succeeded",
		object:  map[string]any{"id": "in_2", "object": "invoice", "amount_paid": 100},
		wantErr: gatewaydomain.ErrInvalidEvent,
	}, {
		name: "refund updated",
		typ:  "charge.refund.updated",
		object: map[string]any{
			"id": "re_1", "object": "refund", "amount": 2000, "status": "succeeded",
			"payment_intent": "pi_1", "metadata": map[string]any{"refund_id": "77"},
		},
		check: func(t *testing.T, event gatewaydomain.Event) {
			refund := event.(*gatewaydomain.RefundUpdated)
			assert.Equal(t, "re_1", refund.RefundID)
			assert.Equal(t, "pi_1", refund.PaymentIntentID)
			assert.Equal(t, "succeeded", refund.Status)
			assert.Equal(t, "77", refund.Metadata["refund_id"])
		},
	}, {
		name:   "unhandled",
		typ:    "customer.created",
		object: map[string]any{"id": "cus_1", "object": "customer"},
		check: func(t *testing.T, event gatewaydomain.Event) {
			_, ok := event.(*gatewaydomain.UnhandledEvent)
			assert.True(t, ok)
			assert.Equal(t, "customer.created", event.Meta().Type)
		},
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := mustJSON(t, map[string]any{
				"id": "evt_" + tt.name, "object": "event", "type": tt.typ,
				"created": time.Now().Unix(), "data": map[string]any{"object": tt.object},
			})
			event, err := adapter.ParseWebhook(payload, buildStripeSignatureHeader(testWebhookSecret, payload, time.Now().Unix()))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, event)
		})
	}
}

func writeStripeError(w http.ResponseWriter, status int, typ, code, decline string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"type": typ, "code": code, "decline_code": decline, "message": "failed"},
	})
}

func TestCreatePaymentIntentClassifiesErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		typ    string
		code   string
		reply  string
		want   error
		reason string
	}{
		{name: "declined", status: 402, typ: "card_error", code: "card_declined", reply: "insufficient_funds", want: gatewaydomain.ErrCardDeclined, reason: "insufficient_funds"},
		{name: "authentication", status: 402, typ: "card_error", code: "authentication_required", reply: "authentication_required", want: gatewaydomain.ErrAuthenticationRequired, reason: "authentication_required"},
		{name: "invalid", status: 400, typ: "invalid_request_error", code: "parameter_missing", want: gatewaydomain.ErrInvalidRequest, reason: "parameter_missing"},
		{name: "api", status: 500, typ: "api_error", want: gatewaydomain.ErrUnknownOutcome, reason: "unknown_outcome"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeStripeError(w, tt.status, tt.typ, tt.code, tt.reply)
			}))
			defer srv.Close()

			adapter := newTestAdapter(t, srv.URL, time.Second)
			_, err := adapter.CreatePaymentIntent(context.Background(), gatewaydomain.PaymentIntentInput{
				CustomerID: "cus_1", PaymentMethodID: "pm_1", Amount: 1000, Currency: "usd",
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var procErr *gatewaydomain.ProcessorError
			require.True(t, errors.As(err, &procErr))
			assert.Equal(t, tt.reason, procErr.FailureReason())
		})
	}
}

func TestCreatePaymentIntentSendsOffSessionConfirm(t *testing.T) {
	var form url.Values
	var idempotencyKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment_intents", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		idempotencyKey = r.Header.Get("Idempotency-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_9","object":"payment_intent","status":"succeeded","amount":1000,"currency":"usd","customer":"cus_1","payment_method":"pm_1"}`))
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv.URL, time.Second)
	intent, err := adapter.CreatePaymentIntent(context.Background(), gatewaydomain.PaymentIntentInput{
		CustomerID:      "cus_1",
		PaymentMethodID: "pm_1",
		Amount:          1000,
		Currency:        "USD",
		IdempotencyKey:  "charge:1:2",
		Metadata:        map[string]string{"payment_id": "55"},
	})
	require.NoError(t, err)
	assert.Equal(t, gatewaydomain.IntentSucceeded, intent.Status)
	assert.Equal(t, "pm_1", intent.PaymentMethodID)

	assert.Equal(t, "true", form.Get("off_session"))
	assert.Equal(t, "true", form.Get("confirm"))
	assert.Equal(t, "usd", form.Get("currency"))
	assert.Equal(t, "55", form.Get("metadata[payment_id]"))
	assert.Equal(t, "charge:1:2", idempotencyKey)
}

func TestCreatePaymentIntentTimeoutIsUnknownOutcome(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	adapter := newTestAdapter(t, srv.URL, 50*time.Millisecond)
	_, err := adapter.CreatePaymentIntent(context.Background(), gatewaydomain.PaymentIntentInput{
		CustomerID: "cus_1", PaymentMethodID: "pm_1", Amount: 1000,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, gatewaydomain.ErrUnknownOutcome)
	assert.False(t, errors.Is(err, gatewaydomain.ErrCardDeclined))
}

func TestDroppedConnectionClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			return
		}
		if conn, _, err := hj.Hijack(); err == nil {
			_ = conn.Close()
		}
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv.URL, time.Second)
	_, err := adapter.CreatePaymentIntent(context.Background(), gatewaydomain.PaymentIntentInput{
		CustomerID: "cus_1", PaymentMethodID: "pm_1", Amount: 1000,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, gatewaydomain.ErrUnknownOutcome)

	_, err = adapter.GetPaymentIntent(context.Background(), "pi_1")
	require.Error(t, err)
	assert.ErrorIs(t, err, gatewaydomain.ErrUnavailable)
}

func TestRefusedConnectionIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	backendURL := srv.URL
	srv.Close()

	adapter := newTestAdapter(t, backendURL, time.Second)
	_, err := adapter.CreatePaymentIntent(context.Background(), gatewaydomain.PaymentIntentInput{
		CustomerID: "cus_1", PaymentMethodID: "pm_1", Amount: 1000,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, gatewaydomain.ErrUnavailable)
}

func TestFindOrCreateCustomerReusesExisting(t *testing.T) {
	var creates atomic.Int32
	existing := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/customers":
			assert.Equal(t, "kid@example.com", r.URL.Query().Get("email"))
			if existing {
				_, _ = w.Write([]byte(`{"object":"list","url":"/v1/customers","has_more":false,"data":[{"id":"cus_existing","object":"customer","email":"kid@example.com"}]}`))
				return
			}
			_, _ = w.Write([]byte(`{"object":"list","url":"/v1/customers","has_more":false,"data":[]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/customers":
			creates.Add(1)
			_, _ = w.Write([]byte(`{"id":"cus_new","object":"customer","email":"kid@example.com"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv.URL, time.Second)
	cust, err := adapter.FindOrCreateCustomer(context.Background(), gatewaydomain.CustomerInput{PayerID: "1", Email: "Kid@Example.com"})
	require.NoError(t, err)
	assert.Equal(t, "cus_existing", cust.ID)
	assert.Equal(t, int32(0), creates.Load())

	existing = false
	cust, err = adapter.FindOrCreateCustomer(context.Background(), gatewaydomain.CustomerInput{PayerID: "1", Email: "kid@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "cus_new", cust.ID)
	assert.Equal(t, int32(1), creates.Load())
}

func TestDefaultPaymentMethodFallsBackToCardList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/customers/cus_1":
			_, _ = w.Write([]byte(`{"id":"cus_1","object":"customer","invoice_settings":{"default_payment_method":null}}`))
		case "/v1/payment_methods":
			_, _ = w.Write([]byte(`{"object":"list","url":"/v1/payment_methods","has_more":false,"data":[{"id":"pm_card","object":"payment_method","type":"card"}]}`))
		case "/v1/customers/cus_2":
			_, _ = w.Write([]byte(`{"id":"cus_2","object":"customer","invoice_settings":{"default_payment_method":"pm_default"}}`))
		default:
			writeStripeError(w, 404, "invalid_request_error", "resource_missing", "")
		}
	}))
	defer srv.Close()

	adapter := newTestAdapter(t, srv.URL, time.Second)
	pm, err := adapter.DefaultPaymentMethod(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "pm_card", pm)

	pm, err = adapter.DefaultPaymentMethod(context.Background(), "cus_2")
	require.NoError(t, err)
	assert.Equal(t, "pm_default", pm)

	_, err = adapter.DefaultPaymentMethod(context.Background(), "cus_missing")
	assert.ErrorIs(t, err, gatewaydomain.ErrNotFound)

	pm, err = adapter.DefaultPaymentMethod(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, pm)
}
