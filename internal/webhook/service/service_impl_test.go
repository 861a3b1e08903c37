package service_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/dojopay/internal/clock"
	"github.com/smallbiznis/dojopay/internal/config"
	gatewaydomain "github.com/smallbiznis/dojopay/internal/gateway/domain"
	"github.com/smallbiznis/dojopay/internal/gateway/mock"
	gwstripe "github.com/smallbiznis/dojopay/internal/gateway/stripe"
	ledgerdomain "github.com/smallbiznis/dojopay/internal/ledger/domain"
	"github.com/smallbiznis/dojopay/internal/ledger/ledgertest"
	ledgerrepo "github.com/smallbiznis/dojopay/internal/ledger/repository"
	"github.com/smallbiznis/dojopay/internal/ledger/settlement"
	"github.com/smallbiznis/dojopay/internal/webhook/domain"
	"github.com/smallbiznis/dojopay/internal/webhook/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sig = "t=1,v1=abc"

type fixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	repo  ledgerdomain.Repository
	gw    *mock.MockGateway
	clock *clock.FakeClock
	svc   domain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	db := ledgertest.OpenDB(t)
	node := ledgertest.Node(t)
	repo := ledgerrepo.Provide()
	fc := clock.NewFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	gw := mock.NewMockGateway(ctrl)

	svc := service.NewService(service.Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fc,
		Repo:    repo,
		Gateway: gw,
		Settler: settlement.New(repo, node),
		Policy:  config.NewStaticBillingPolicy(config.DefaultBillingPolicy()),
	})
	return &fixture{db: db, node: node, repo: repo, gw: gw, clock: fc, svc: svc}
}

// withGateway builds a second service over the same ledger, backed by gw.
func (f *fixture) withGateway(gw gatewaydomain.Gateway) domain.Service {
	return service.NewService(service.Params{
		DB:      f.db,
		Log:     zap.NewNop(),
		GenID:   f.node,
		Clock:   f.clock,
		Repo:    f.repo,
		Gateway: gw,
		Settler: settlement.New(f.repo, f.node),
		Policy:  config.NewStaticBillingPolicy(config.DefaultBillingPolicy()),
	})
}

func signPayload(secret string, payload []byte, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", timestamp, payload)))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func (f *fixture) deliver(payload string, event gatewaydomain.Event) {
	f.gw.EXPECT().ParseWebhook([]byte(payload), sig).Return(event, nil)
}

func (f *fixture) payer(t *testing.T, customerID string) *ledgerdomain.Payer {
	t.Helper()
	now := f.clock.Now()
	payer := &ledgerdomain.Payer{
		ID:                  f.node.Generate(),
		Email:               "parent@example.com",
		Name:                "Aiko",
		ProcessorCustomerID: &customerID,
		AccountStatus:       ledgerdomain.AccountStatusActive,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	require.NoError(t, f.repo.InsertPayer(context.Background(), f.db, payer))
	return payer
}

func (f *fixture) count(t *testing.T, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM `+table).Scan(&n).Error)
	return n
}

func meta(id, eventType string) gatewaydomain.EventMeta {
	return gatewaydomain.EventMeta{
		ID:      id,
		Type:    eventType,
		Created: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Raw:     []byte(`{"id":"` + id + `"}`),
	}
}

func TestHandleWebhookRejectsMissingSignature(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HandleWebhook(context.Background(), []byte(`{}`), " ")
	require.ErrorIs(t, err, domain.ErrMissingSignature)
	assert.Zero(t, f.count(t, "processor_events"))
}

func TestHandleWebhookPropagatesInvalidSignature(t *testing.T) {
	f := newFixture(t)
	f.gw.EXPECT().ParseWebhook(gomock.Any(), sig).Return(nil, gatewaydomain.ErrInvalidSignature)

	_, err := f.svc.HandleWebhook(context.Background(), []byte(`{}`), sig)
	require.ErrorIs(t, err, gatewaydomain.ErrInvalidSignature)
	assert.Zero(t, f.count(t, "processor_events"))
}

func TestReplayedCheckoutCompletedRecordsOnePayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.payer(t, "cus_1")

	event := &gatewaydomain.CheckoutSessionCompleted{
		EventMeta:       meta("evt_1", gatewaydomain.EventCheckoutSessionCompleted),
		SessionID:       "cs_1",
		Mode:            gatewaydomain.CheckoutModePayment,
		CustomerID:      "cus_1",
		PaymentIntentID: "pi_1",
		AmountTotal:     4500,
		Currency:        "usd",
		Metadata:        map[string]string{"payer_id": payer.ID.String()},
	}
	f.gw.EXPECT().ParseWebhook(gomock.Any(), sig).Return(event, nil).Times(2)

	res, err := f.svc.HandleWebhook(ctx, []byte(`{"id":"evt_1"}`), sig)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessed, res.Outcome)

	res, err = f.svc.HandleWebhook(ctx, []byte(`{"id":"evt_1"}`), sig)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, res.Outcome)

	assert.EqualValues(t, 1, f.count(t, "payments"))
	payment, err := f.repo.FindPaymentByProcessorID(ctx, f.db, "pi_1")
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, ledgerdomain.PaymentStatusCompleted, payment.Status)
	assert.Equal(t, int64(4500), payment.Amount)
}

func TestCheckoutCompletedFinalizesPrecreatedPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.payer(t, "cus_1")
	now := f.clock.Now()

	paymentID := f.node.Generate()
	session := "cs_9"
	ledgertest.MustCreate(t, f.db, &ledgerdomain.Payment{
		ID:          paymentID,
		PayerID:     payer.ID,
		Amount:      12000,
		Currency:    "usd",
		Status:      ledgerdomain.PaymentStatusScheduled,
		ProcessorID: &session,
		CreatedAt:   now,
		UpdatedAt:   now,
	})

	f.deliver(`{"id":"evt_2"}`, &gatewaydomain.CheckoutSessionCompleted{
		EventMeta:       meta("evt_2", gatewaydomain.EventCheckoutSessionCompleted),
		SessionID:       session,
		Mode:            gatewaydomain.CheckoutModePayment,
		CustomerID:      "cus_1",
		PaymentIntentID: "pi_9",
		AmountTotal:     12000,
		Metadata: map[string]string{
			"payer_id":   payer.ID.String(),
			"payment_id": paymentID.String(),
		},
	})

	res, err := f.svc.HandleWebhook(ctx, []byte(`{"id":"evt_2"}`), sig)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessed, res.Outcome)

	assert.EqualValues(t, 1, f.count(t, "payments"))
	payment, err := f.repo.FindPayment(ctx, f.db, paymentID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.PaymentStatusCompleted, payment.Status)
	require.NotNil(t, payment.ProcessorID)
	assert.Equal(t, "pi_9", *payment.ProcessorID)
}

func TestPaymentIntentSucceededSettlesScheduleEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.payer(t, "cus_1")
	now := f.clock.Now()

	sub := &ledgerdomain.MembershipSubscription{
		ID:               f.node.Generate(),
		PayerID:          payer.ID,
		Status:           ledgerdomain.SubscriptionStatusActive,
		BillingFrequency: ledgerdomain.BillingFrequencyMonthly,
		Amount:           9900,
		Currency:         "usd",
		StartDate:        ledgertest.Date(2024, 1, 1),
		CycleNumber:      3,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	entry := &ledgerdomain.ScheduleEntry{
		ID:                f.node.Generate(),
		SubscriptionID:    sub.ID,
		PayerID:           payer.ID,
		ScheduledDate:     ledgertest.Date(2024, 3, 1),
		Amount:            9900,
		Status:            ledgerdomain.ScheduleStatusPending,
		InstallmentNumber: 3,
		TotalInstallments: 12,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	reason := ledgerdomain.FailureReasonUnknownOutcome
	payment := &ledgerdomain.Payment{
		ID:              f.node.Generate(),
		PayerID:         payer.ID,
		SubscriptionID:  &sub.ID,
		ScheduleEntryID: &entry.ID,
		Amount:          9900,
		Currency:        "usd",
		Status:          ledgerdomain.PaymentStatusPending,
		FailureReason:   &reason,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	ledgertest.MustCreate(t, f.db, sub, entry, payment)

	f.deliver(`{"id":"evt_3"}`, &gatewaydomain.PaymentIntentSucceeded{
		EventMeta:       meta("evt_3", gatewaydomain.EventPaymentIntentSucceeded),
		PaymentIntentID: "pi_3",
		CustomerID:      "cus_1",
		Amount:          9900,
		Currency:        "usd",
		PaymentMethodID: "pm_1",
		Metadata:        map[string]string{"payment_id": payment.ID.String()},
	})

	_, err := f.svc.HandleWebhook(ctx, []byte(`{"id":"evt_3"}`), sig)
	require.NoError(t, err)

	stored, err := f.repo.FindPayment(ctx, f.db, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.PaymentStatusCompleted, stored.Status)
	assert.Nil(t, stored.FailureReason)

	gotEntry, err := f.repo.FindScheduleEntry(ctx, f.db, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.ScheduleStatusPaid, gotEntry.Status)

	cycles, err := f.repo.ListCycles(ctx, f.db, sub.ID)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, ledgerdomain.BillingCycleStatusPaid, cycles[0].Status)
	assert.Equal(t, 3, cycles[0].CycleNumber)
}

func TestSubscriptionUpdatedBeforeCheckoutCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.payer(t, "cus_1")

	f.deliver(`{"id":"evt_sub"}`, &gatewaydomain.SubscriptionUpdated{
		EventMeta:          meta("evt_sub", gatewaydomain.EventSubscriptionUpdated),
		SubscriptionID:     "sub_1",
		CustomerID:         "cus_1",
		Status:             "active",
		CurrentPeriodStart: ledgertest.Date(2024, 3, 1),
		CurrentPeriodEnd:   ledgertest.Date(2024, 4, 1),
	})
	_, err := f.svc.HandleWebhook(ctx, []byte(`{"id":"evt_sub"}`), sig)
	require.NoError(t, err)

	f.deliver(`{"id":"evt_cs"}`, &gatewaydomain.CheckoutSessionCompleted{
		EventMeta:      meta("evt_cs", gatewaydomain.EventCheckoutSessionCompleted),
		SessionID:      "cs_1",
		Mode:           gatewaydomain.CheckoutModeSubscription,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		AmountTotal:    9900,
		Metadata:       map[string]string{"payer_id": payer.ID.String()},
	})
	_, err = f.svc.HandleWebhook(ctx, []byte(`{"id":"evt_cs"}`), sig)
	require.NoError(t, err)

	assert.EqualValues(t, 1, f.count(t, "membership_subscriptions"))
	sub, err := f.repo.FindSubscriptionByProcessorID(ctx, f.db, "sub_1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, payer.ID, sub.PayerID)
	assert.Equal(t, ledgerdomain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, ledgerdomain.BillingFrequencyMonthly, sub.BillingFrequency)
	assert.Nil(t, sub.EndDate)
	require.NotNil(t, sub.ProcessorCheckoutSessionID)
	assert.Equal(t, "cs_1", *sub.ProcessorCheckoutSessionID)
	assert.EqualValues(t, 2, f.count(t, "subscription_events"))
}

func TestSubscriptionDeletedBeforeCreatedStaysCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.payer(t, "cus_1")

	f.deliver(`{"id":"evt_del"}`, &gatewaydomain.SubscriptionDeleted{
		EventMeta:      meta("evt_del", gatewaydomain.EventSubscriptionDeleted),
		SubscriptionID: "sub_2",
		Metadata:       map[string]string{"payer_id": payer.ID.String()},
	})
	_, err := f.svc.HandleWebhook(ctx, []byte(`{"id":"evt_del"}`), sig)
	require.NoError(t, err)

	f.deliver(`{"id":"evt_upd"}`, &gatewaydomain.SubscriptionUpdated{
		EventMeta:          meta("evt_upd", gatewaydomain.EventSubscriptionCreated),
		SubscriptionID:     "sub_2",
		CustomerID:         "cus_1",
		Status:             "active",
		CurrentPeriodStart: ledgertest.Date(2024, 2, 1),
		CurrentPeriodEnd:   ledgertest.Date(2024, 3, 1),
	})
	_, err = f.svc.HandleWebhook(ctx, []byte(`{"id":"evt_upd"}`), sig)
	require.NoError(t, err)

	sub, err := f.repo.FindSubscriptionByProcessorID(ctx, f.db, "sub_2")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, ledgerdomain.SubscriptionStatusCancelled, sub.Status)
	require.NotNil(t, sub.EndDate)
	assert.True(t, sub.EndDate.Equal(ledgertest.Date(2024, 3, 1)))
}

func TestInvoiceFailedMarksPastDueAndSchedulesRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.payer(t, "cus_1")
	now := f.clock.Now()
	processorID := "sub_3"
	sub := &ledgerdomain.MembershipSubscription{
		ID:                      f.node.Generate(),
		PayerID:                 payer.ID,
		Status:                  ledgerdomain.SubscriptionStatusActive,
		BillingFrequency:        ledgerdomain.BillingFrequencyMonthly,
		Amount:                  9900,
		Currency:                "usd",
		StartDate:               ledgertest.Date(2024, 1, 1),
		CycleNumber:             2,
		ProcessorSubscriptionID: &processorID,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	ledgertest.MustCreate(t, f.db, sub)

	f.deliver(`{"id":"evt_if"}`, &gatewaydomain.InvoicePaymentFailed{
		EventMeta:      meta("evt_if", gatewaydomain.EventInvoicePaymentFailed),
		InvoiceID:      "in_1",
		SubscriptionID: processorID,
		CustomerID:     "cus_1",
		AmountDue:      9900,
		AttemptCount:   1,
		PeriodStart:    ledgertest.Date(2024, 3, 1),
		PeriodEnd:      ledgertest.Date(2024, 4, 1),
	})
	_, err := f.svc.HandleWebhook(ctx, []byte(`{"id":"evt_if"}`), sig)
	require.NoError(t, err)

	cycle, err := f.repo.FindCycleByInvoice(ctx, f.db, "in_1")
	require.NoError(t, err)
	require.NotNil(t, cycle)
	assert.Equal(t, ledgerdomain.BillingCycleStatusFailed, cycle.Status)
	require.NotNil(t, cycle.NextRetryDate)
	offset := config.DefaultBillingPolicy().Retry.InvoiceRetryOffsetDays
	assert.True(t, cycle.NextRetryDate.Equal(ledgertest.Date(2024, 3, 1).AddDate(0, 0, offset)))

	stored, err := f.repo.FindSubscription(ctx, f.db, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.SubscriptionStatusPastDue, stored.Status)

	f.deliver(`{"id":"evt_is"}`, &gatewaydomain.InvoicePaymentSucceeded{
		EventMeta:      meta("evt_is", gatewaydomain.EventInvoicePaymentSucceeded),
		InvoiceID:      "in_1",
		SubscriptionID: processorID,
		CustomerID:     "cus_1",
		AmountDue:      9900,
		AmountPaid:     9900,
		PeriodStart:    ledgertest.Date(2024, 3, 1),
		PeriodEnd:      ledgertest.Date(2024, 4, 1),
	})
	_, err = f.svc.HandleWebhook(ctx, []byte(`{"id":"evt_is"}`), sig)
	require.NoError(t, err)

	cycle, err = f.repo.FindCycleByInvoice(ctx, f.db, "in_1")
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.BillingCycleStatusPaid, cycle.Status)
	assert.Equal(t, int64(9900), cycle.AmountPaid)
	assert.Nil(t, cycle.NextRetryDate)

	stored, err = f.repo.FindSubscription(ctx, f.db, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.SubscriptionStatusActive, stored.Status)
	assert.EqualValues(t, 1, f.count(t, "billing_cycles"))
}

func TestInvoiceForUnknownSubscriptionIsRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	event := &gatewaydomain.InvoicePaymentSucceeded{
		EventMeta:      meta("evt_early", gatewaydomain.EventInvoicePaymentSucceeded),
		InvoiceID:      "in_2",
		SubscriptionID: "sub_later",
		AmountPaid:     9900,
	}
	f.gw.EXPECT().ParseWebhook(gomock.Any(), sig).Return(event, nil).Times(2)

	_, err := f.svc.HandleWebhook(ctx, []byte(`{"id":"evt_early"}`), sig)
	require.True(t, errors.Is(err, domain.ErrSubscriptionNotFound))

	stored, err := f.repo.FindEvent(ctx, f.db, "evt_early")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Nil(t, stored.ProcessedAt)

	// Redeliveries are reprocessed while the event stays unmarked.
	_, err = f.svc.HandleWebhook(ctx, []byte(`{"id":"evt_early"}`), sig)
	require.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
	assert.EqualValues(t, 1, f.count(t, "processor_events"))
}

func TestUnknownPayerIsIgnoredAndMarked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deliver(`{"id":"evt_x"}`, &gatewaydomain.PaymentIntentSucceeded{
		EventMeta:       meta("evt_x", gatewaydomain.EventPaymentIntentSucceeded),
		PaymentIntentID: "pi_x",
		CustomerID:      "cus_nobody",
		Amount:          100,
	})
	res, err := f.svc.HandleWebhook(ctx, []byte(`{"id":"evt_x"}`), sig)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeIgnored, res.Outcome)
	assert.Zero(t, f.count(t, "payments"))

	stored, err := f.repo.FindEvent(ctx, f.db, "evt_x")
	require.NoError(t, err)
	assert.NotNil(t, stored.ProcessedAt)
}

func TestUnhandledEventIsAcknowledged(t *testing.T) {
	f := newFixture(t)

	f.deliver(`{"id":"evt_u"}`, &gatewaydomain.UnhandledEvent{
		EventMeta: meta("evt_u", "charge.dispute.created"),
	})
	res, err := f.svc.HandleWebhook(context.Background(), []byte(`{"id":"evt_u"}`), sig)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUnhandled, res.Outcome)
	assert.Equal(t, "charge.dispute.created", res.EventType)
}

func TestSignedStripeDeliveryIsApplied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.payer(t, "cus_1")

	gw, err := gwstripe.NewFactory(zap.NewNop()).NewGateway(gatewaydomain.Config{
		SecretKey:     "sk_test_123",
		WebhookSecret: "whsec_test",
	})
	require.NoError(t, err)
	svc := f.withGateway(gw)

	now := time.Now().Unix()
	payload := []byte(fmt.Sprintf(`{
		"id": "evt_live",
		"object": "event",
		"type": "payment_intent.succeeded",
		"created": %d,
		"data": {"object": {
			"id": "pi_live",
			"object": "payment_intent",
			"amount": 2500,
			"amount_received": 2500,
			"currency": "usd",
			"customer": "cus_1",
			"metadata": {"payer_id": "%s"}
		}}
	}`, now, payer.ID.String()))
	signature := signPayload("whsec_test", payload, now)

	res, err := svc.HandleWebhook(ctx, payload, signature)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessed, res.Outcome)
	assert.Equal(t, "evt_live", res.EventID)

	payment, err := f.repo.FindPaymentByProcessorID(ctx, f.db, "pi_live")
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, payer.ID, payment.PayerID)
	assert.Equal(t, int64(2500), payment.Amount)
	assert.Equal(t, ledgerdomain.PaymentStatusCompleted, payment.Status)

	res, err = svc.HandleWebhook(ctx, payload, signature)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, res.Outcome)
	assert.EqualValues(t, 1, f.count(t, "payments"))
}

func TestInvoiceBeforeSubscriptionRecordsPlaceholder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.payer(t, "cus_1")

	f.deliver(`{"id":"evt_inv"}`, &gatewaydomain.InvoicePaymentFailed{
		EventMeta:      meta("evt_inv", gatewaydomain.EventInvoicePaymentFailed),
		InvoiceID:      "in_early",
		SubscriptionID: "sub_early",
		CustomerID:     "cus_1",
		AmountDue:      9900,
		AttemptCount:   1,
		PeriodStart:    ledgertest.Date(2024, 3, 1),
		PeriodEnd:      ledgertest.Date(2024, 4, 1),
	})
	res, err := f.svc.HandleWebhook(ctx, []byte(`{"id":"evt_inv"}`), sig)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessed, res.Outcome)

	sub, err := f.repo.FindSubscriptionByProcessorID(ctx, f.db, "sub_early")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, payer.ID, sub.PayerID)
	assert.Equal(t, ledgerdomain.SubscriptionStatusPastDue, sub.Status)
	assert.Equal(t, ledgerdomain.BillingFrequencyMonthly, sub.BillingFrequency)

	cycle, err := f.repo.FindCycleByInvoice(ctx, f.db, "in_early")
	require.NoError(t, err)
	require.NotNil(t, cycle)
	assert.Equal(t, sub.ID, cycle.SubscriptionID)
	assert.Equal(t, ledgerdomain.BillingCycleStatusFailed, cycle.Status)

	f.deliver(`{"id":"evt_sub_late"}`, &gatewaydomain.SubscriptionUpdated{
		EventMeta:          meta("evt_sub_late", gatewaydomain.EventSubscriptionUpdated),
		SubscriptionID:     "sub_early",
		CustomerID:         "cus_1",
		Status:             "active",
		CurrentPeriodStart: ledgertest.Date(2024, 3, 1),
		CurrentPeriodEnd:   ledgertest.Date(2024, 4, 1),
	})
	_, err = f.svc.HandleWebhook(ctx, []byte(`{"id":"evt_sub_late"}`), sig)
	require.NoError(t, err)

	sub, err = f.repo.FindSubscriptionByProcessorID(ctx, f.db, "sub_early")
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.SubscriptionStatusActive, sub.Status)
	assert.EqualValues(t, 1, f.count(t, "membership_subscriptions"))
}

func TestRefundUpdatedResolvesPendingRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.payer(t, "cus_1")
	now := f.clock.Now()
	intentID := "pi_refunded"
	payment := &ledgerdomain.Payment{
		ID:          f.node.Generate(),
		PayerID:     payer.ID,
		Amount:      5000,
		Currency:    "usd",
		Status:      ledgerdomain.PaymentStatusCompleted,
		ProcessorID: &intentID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	refund := &ledgerdomain.Refund{
		ID:        f.node.Generate(),
		PaymentID: payment.ID,
		Amount:    5000,
		Status:    ledgerdomain.RefundStatusPending,
		CreatedAt: now,
	}
	ledgertest.MustCreate(t, f.db, payment, refund)

	f.deliver(`{"id":"evt_re"}`, &gatewaydomain.RefundUpdated{
		EventMeta:       meta("evt_re", gatewaydomain.EventChargeRefundUpdated),
		RefundID:        "re_late",
		PaymentIntentID: intentID,
		Amount:          5000,
		Status:          "succeeded",
		Metadata:        map[string]string{"refund_id": refund.ID.String()},
	})
	res, err := f.svc.HandleWebhook(ctx, []byte(`{"id":"evt_re"}`), sig)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessed, res.Outcome)

	stored, err := f.repo.FindRefund(ctx, f.db, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.RefundStatusSucceeded, stored.Status)
	require.NotNil(t, stored.ProcessorRefundID)
	assert.Equal(t, "re_late", *stored.ProcessorRefundID)

	gotPayment, err := f.repo.FindPayment(ctx, f.db, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.PaymentStatusRefunded, gotPayment.Status)
}

func TestFailedRefundReleasesAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.payer(t, "cus_1")
	now := f.clock.Now()
	intentID := "pi_kept"
	payment := &ledgerdomain.Payment{
		ID:          f.node.Generate(),
		PayerID:     payer.ID,
		Amount:      5000,
		Currency:    "usd",
		Status:      ledgerdomain.PaymentStatusCompleted,
		ProcessorID: &intentID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	refundID := "re_failed"
	refund := &ledgerdomain.Refund{
		ID:                f.node.Generate(),
		PaymentID:         payment.ID,
		Amount:            2000,
		ProcessorRefundID: &refundID,
		Status:            ledgerdomain.RefundStatusPending,
		CreatedAt:         now,
	}
	ledgertest.MustCreate(t, f.db, payment, refund)

	f.deliver(`{"id":"evt_rf"}`, &gatewaydomain.RefundUpdated{
		EventMeta: meta("evt_rf", gatewaydomain.EventChargeRefundUpdated),
		RefundID:  refundID,
		Amount:    2000,
		Status:    "failed",
	})
	_, err := f.svc.HandleWebhook(ctx, []byte(`{"id":"evt_rf"}`), sig)
	require.NoError(t, err)

	total, err := f.repo.SumRefunds(ctx, f.db, payment.ID)
	require.NoError(t, err)
	assert.Zero(t, total)

	gotPayment, err := f.repo.FindPayment(ctx, f.db, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.PaymentStatusCompleted, gotPayment.Status)
}
