package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/dojopay/internal/checkout/domain"
	"github.com/smallbiznis/dojopay/internal/checkout/service"
	"github.com/smallbiznis/dojopay/internal/clock"
	"github.com/smallbiznis/dojopay/internal/config"
	gatewaydomain "github.com/smallbiznis/dojopay/internal/gateway/domain"
	"github.com/smallbiznis/dojopay/internal/gateway/mock"
	ledgerdomain "github.com/smallbiznis/dojopay/internal/ledger/domain"
	"github.com/smallbiznis/dojopay/internal/ledger/ledgertest"
	ledgerrepo "github.com/smallbiznis/dojopay/internal/ledger/repository"
	"github.com/smallbiznis/dojopay/internal/ledger/settlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

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

func (f *fixture) payer(t *testing.T, customerID, methodID string, parentID *snowflake.ID) *ledgerdomain.Payer {
	t.Helper()
	now := f.clock.Now()
	payer := &ledgerdomain.Payer{
		ID:            f.node.Generate(),
		Email:         "member@example.com",
		Name:          "Kenji",
		ParentID:      parentID,
		AccountStatus: ledgerdomain.AccountStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if customerID != "" {
		payer.ProcessorCustomerID = &customerID
	}
	if methodID != "" {
		payer.DefaultPaymentMethodID = &methodID
	}
	require.NoError(t, f.repo.InsertPayer(context.Background(), f.db, payer))
	return payer
}

func (f *fixture) paymentCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM payments`).Scan(&count).Error)
	return count
}

func (f *fixture) subscriptionWithEntry(t *testing.T, payer *ledgerdomain.Payer) (*ledgerdomain.MembershipSubscription, *ledgerdomain.ScheduleEntry) {
	t.Helper()
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
		AutoRenewal:      true,
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
	ledgertest.MustCreate(t, f.db, sub, entry)
	return sub, entry
}

func TestChargeFallsBackToParentPaymentMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := f.payer(t, "cus_parent", "pm_parent", nil)
	child := f.payer(t, "", "", &parent.ID)

	f.gw.EXPECT().
		CreatePaymentIntent(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, in gatewaydomain.PaymentIntentInput) (*gatewaydomain.PaymentIntent, error) {
			assert.Equal(t, "cus_parent", in.CustomerID)
			assert.Equal(t, "pm_parent", in.PaymentMethodID)
			assert.Equal(t, int64(4500), in.Amount)
			assert.Equal(t, parent.ID.String(), in.Metadata["billing_contact_id"])
			assert.NotEmpty(t, in.IdempotencyKey)
			return &gatewaydomain.PaymentIntent{ID: "pi_parent", Status: gatewaydomain.IntentSucceeded}, nil
		})

	result, err := f.svc.ChargeStoredMethod(ctx, domain.ChargeRequest{PayerID: child.ID, Amount: 4500, Description: "Gi and belt"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSucceeded, result.Outcome)
	assert.Equal(t, parent.ID, result.BillingContactID)

	stored, err := f.repo.FindPayment(ctx, f.db, result.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.PaymentStatusCompleted, stored.Status)
	assert.Equal(t, child.ID, stored.PayerID)
	require.NotNil(t, stored.ProcessorID)
	assert.Equal(t, "pi_parent", *stored.ProcessorID)
}

func TestChargeWithoutAnyStoredMethodIsDistinguishable(t *testing.T) {
	f := newFixture(t)
	parent := f.payer(t, "", "", nil)
	child := f.payer(t, "", "", &parent.ID)

	_, err := f.svc.ChargeStoredMethod(context.Background(), domain.ChargeRequest{PayerID: child.ID, Amount: 1000})
	require.ErrorIs(t, err, domain.ErrPaymentMethodRequired)
	assert.Equal(t, int64(0), f.paymentCount(t))
}

func TestChargeLooksUpProcessorDefaultMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.payer(t, "cus_1", "", nil)

	f.gw.EXPECT().DefaultPaymentMethod(gomock.Any(), "cus_1").Return("pm_remote", nil)
	f.gw.EXPECT().
		CreatePaymentIntent(gomock.Any(), gomock.Any()).
		Return(&gatewaydomain.PaymentIntent{ID: "pi_remote", Status: gatewaydomain.IntentProcessing}, nil)

	result, err := f.svc.ChargeStoredMethod(ctx, domain.ChargeRequest{PayerID: payer.ID, Amount: 2500})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessing, result.Outcome)
	assert.Equal(t, ledgerdomain.PaymentStatusPending, result.Status)

	reloaded, err := f.repo.FindPayer(ctx, f.db, payer.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.DefaultPaymentMethodID)
	assert.Equal(t, "pm_remote", *reloaded.DefaultPaymentMethodID)
}

func TestChargeProcessorLookupFailureIsNotMissingMethod(t *testing.T) {
	f := newFixture(t)
	payer := f.payer(t, "cus_1", "", nil)

	f.gw.EXPECT().DefaultPaymentMethod(gomock.Any(), "cus_1").
		Return("", gatewaydomain.NewProcessorError(gatewaydomain.KindUnavailable, "timeout", "", "processor request timed out"))

	_, err := f.svc.ChargeStoredMethod(context.Background(), domain.ChargeRequest{PayerID: payer.ID, Amount: 2500})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrPaymentMethodRequired)
	assert.ErrorIs(t, err, gatewaydomain.ErrUnavailable)
}

func TestChargeScheduleEntryIsPaidOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.payer(t, "cus_1", "pm_1", nil)
	sub, entry := f.subscriptionWithEntry(t, payer)

	f.gw.EXPECT().
		CreatePaymentIntent(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, in gatewaydomain.PaymentIntentInput) (*gatewaydomain.PaymentIntent, error) {
			assert.Equal(t, "charge:"+payer.ID.String()+":"+entry.ID.String()+":0", in.IdempotencyKey)
			assert.Equal(t, int64(9900), in.Amount)
			return &gatewaydomain.PaymentIntent{ID: "pi_entry", Status: gatewaydomain.IntentSucceeded}, nil
		})

	result, err := f.svc.ChargeStoredMethod(ctx, domain.ChargeRequest{PayerID: payer.ID, ScheduleEntryID: &entry.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSucceeded, result.Outcome)

	storedEntry, err := f.repo.FindScheduleEntry(ctx, f.db, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.ScheduleStatusPaid, storedEntry.Status)

	cycles, err := f.repo.ListCycles(ctx, f.db, sub.ID)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, ledgerdomain.BillingCycleStatusPaid, cycles[0].Status)
	assert.Equal(t, int64(9900), cycles[0].AmountPaid)

	_, err = f.svc.ChargeStoredMethod(ctx, domain.ChargeRequest{PayerID: payer.ID, ScheduleEntryID: &entry.ID})
	require.ErrorIs(t, err, domain.ErrScheduleEntryNotPending)
	assert.Equal(t, int64(1), f.paymentCount(t))
}

func TestChargeBlocksWhileEntryPaymentIsInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.payer(t, "cus_1", "pm_1", nil)
	_, entry := f.subscriptionWithEntry(t, payer)

	f.gw.EXPECT().
		CreatePaymentIntent(gomock.Any(), gomock.Any()).
		Return(&gatewaydomain.PaymentIntent{ID: "pi_slow", Status: gatewaydomain.IntentProcessing}, nil)

	_, err := f.svc.ChargeStoredMethod(ctx, domain.ChargeRequest{PayerID: payer.ID, ScheduleEntryID: &entry.ID})
	require.NoError(t, err)

	_, err = f.svc.ChargeStoredMethod(ctx, domain.ChargeRequest{PayerID: payer.ID, ScheduleEntryID: &entry.ID})
	require.ErrorIs(t, err, domain.ErrChargeInProgress)
}

func TestChargeTimeoutIsUnknownOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.payer(t, "cus_1", "pm_1", nil)

	f.gw.EXPECT().
		CreatePaymentIntent(gomock.Any(), gomock.Any()).
		Return(nil, gatewaydomain.NewProcessorError(gatewaydomain.KindUnknownOutcome, "timeout", "", "processor request timed out"))

	result, err := f.svc.ChargeStoredMethod(ctx, domain.ChargeRequest{PayerID: payer.ID, Amount: 3000})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUnknown, result.Outcome)

	stored, err := f.repo.FindPayment(ctx, f.db, result.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.PaymentStatusPending, stored.Status)
	require.NotNil(t, stored.FailureReason)
	assert.Equal(t, ledgerdomain.FailureReasonUnknownOutcome, *stored.FailureReason)
}

func TestChargeAuthenticationRequiredIsNotADecline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.payer(t, "cus_1", "pm_1", nil)

	f.gw.EXPECT().
		CreatePaymentIntent(gomock.Any(), gomock.Any()).
		Return(nil, gatewaydomain.NewProcessorError(gatewaydomain.KindAuthenticationRequired, "authentication_required", "authentication_required", "3ds"))

	result, err := f.svc.ChargeStoredMethod(ctx, domain.ChargeRequest{PayerID: payer.ID, Amount: 3000})
	require.ErrorIs(t, err, domain.ErrAuthenticationRequired)
	assert.NotErrorIs(t, err, domain.ErrCardDeclined)
	assert.Equal(t, domain.OutcomeRequiresAction, result.Outcome)

	stored, err := f.repo.FindPayment(ctx, f.db, result.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.PaymentStatusRequiresAction, stored.Status)
}

func TestChargeDeclineRecordsFailureReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.payer(t, "cus_1", "pm_1", nil)

	f.gw.EXPECT().
		CreatePaymentIntent(gomock.Any(), gomock.Any()).
		Return(nil, gatewaydomain.NewProcessorError(gatewaydomain.KindCardDeclined, "card_declined", "insufficient_funds", "Your card has insufficient funds."))

	result, err := f.svc.ChargeStoredMethod(ctx, domain.ChargeRequest{PayerID: payer.ID, Amount: 3000})
	require.ErrorIs(t, err, domain.ErrCardDeclined)
	assert.Equal(t, "insufficient_funds", result.FailureReason)

	stored, err := f.repo.FindPayment(ctx, f.db, result.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.PaymentStatusFailed, stored.Status)
	require.NotNil(t, stored.FailureReason)
	assert.Equal(t, "insufficient_funds", *stored.FailureReason)
}

func TestChargeWithFutureDateIsScheduledWithoutProcessorCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.payer(t, "cus_1", "pm_1", nil)
	later := ledgertest.Date(2024, 4, 15)

	result, err := f.svc.ChargeStoredMethod(ctx, domain.ChargeRequest{PayerID: payer.ID, Amount: 5000, ScheduledDate: &later})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeScheduled, result.Outcome)

	stored, err := f.repo.FindPayment(ctx, f.db, result.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.PaymentStatusScheduled, stored.Status)
	require.NotNil(t, stored.ScheduledFor)
	assert.True(t, stored.ScheduledFor.Equal(later))
}

func TestChargeRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.payer(t, "cus_1", "pm_1", nil)

	_, err := f.svc.ChargeStoredMethod(ctx, domain.ChargeRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidPayer)

	_, err = f.svc.ChargeStoredMethod(ctx, domain.ChargeRequest{PayerID: payer.ID, Amount: -5})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.svc.ChargeStoredMethod(ctx, domain.ChargeRequest{PayerID: f.node.Generate(), Amount: 100})
	assert.ErrorIs(t, err, domain.ErrPayerNotFound)
}

func TestRetryPaymentCountsAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.payer(t, "cus_1", "pm_1", nil)
	now := f.clock.Now()
	reason := "card_declined"
	payment := &ledgerdomain.Payment{
		ID:            f.node.Generate(),
		PayerID:       payer.ID,
		Amount:        7000,
		Currency:      "usd",
		Status:        ledgerdomain.PaymentStatusFailed,
		FailureReason: &reason,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, f.repo.InsertPayment(ctx, f.db, payment))

	f.gw.EXPECT().
		CreatePaymentIntent(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, in gatewaydomain.PaymentIntentInput) (*gatewaydomain.PaymentIntent, error) {
			assert.Equal(t, "retry:"+payment.ID.String()+":1", in.IdempotencyKey)
			return nil, gatewaydomain.NewProcessorError(gatewaydomain.KindCardDeclined, "card_declined", "do_not_honor", "declined")
		})

	_, err := f.svc.RetryPayment(ctx, payment.ID)
	require.ErrorIs(t, err, domain.ErrCardDeclined)

	stored, err := f.repo.FindPayment(ctx, f.db, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.PaymentStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)

	_, err = f.svc.RetryPayment(ctx, f.node.Generate())
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func TestCreateOneTimeCheckoutWritesScheduledPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.payer(t, "", "", nil)

	f.gw.EXPECT().
		FindOrCreateCustomer(gomock.Any(), gomock.Any()).
		Return(&gatewaydomain.Customer{ID: "cus_new", Email: payer.Email}, nil)
	var metadata map[string]string
	f.gw.EXPECT().
		CreateCheckoutSession(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, in gatewaydomain.CheckoutSessionInput) (*gatewaydomain.CheckoutSession, error) {
			assert.Equal(t, gatewaydomain.CheckoutModePayment, in.Mode)
			assert.Equal(t, "cus_new", in.CustomerID)
			assert.Equal(t, int64(8000), in.Amount)
			metadata = in.Metadata
			return &gatewaydomain.CheckoutSession{ID: "cs_1", URL: "https://checkout.example/cs_1"}, nil
		})

	resp, err := f.svc.CreateCheckoutSession(ctx, domain.CheckoutRequest{
		PayerID:     payer.ID,
		Amount:      8000,
		Description: "Grading fee",
		Purpose:     domain.PurposeOneTime,
		SuccessURL:  "https://dojo.example/ok",
		CancelURL:   "https://dojo.example/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example/cs_1", resp.URL)
	require.NotNil(t, resp.PaymentID)
	assert.Equal(t, payer.ID.String(), metadata["payer_id"])
	assert.Equal(t, "one_time", metadata["purpose"])
	assert.Equal(t, resp.PaymentID.String(), metadata["payment_id"])

	stored, err := f.repo.FindPaymentByProcessorID(ctx, f.db, "cs_1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, ledgerdomain.PaymentStatusScheduled, stored.Status)

	reloaded, err := f.repo.FindPayer(ctx, f.db, payer.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.ProcessorCustomerID)
	assert.Equal(t, "cus_new", *reloaded.ProcessorCustomerID)
}

func TestCreateSubscriptionCheckoutUsesPlanFrequency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payer := f.payer(t, "cus_1", "", nil)
	now := f.clock.Now()
	plan := &ledgerdomain.Plan{
		ID:               f.node.Generate(),
		Name:             "Adult Quarterly",
		Amount:           27000,
		Currency:         "usd",
		BillingFrequency: ledgerdomain.BillingFrequencyQuarterly,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, f.repo.InsertPlan(ctx, f.db, plan))

	_, err := f.svc.CreateCheckoutSession(ctx, domain.CheckoutRequest{
		PayerID:    payer.ID,
		Purpose:    domain.PurposeSubscription,
		SuccessURL: "https://dojo.example/ok",
		CancelURL:  "https://dojo.example/cancel",
	})
	require.ErrorIs(t, err, domain.ErrPlanRequired)

	f.gw.EXPECT().
		CreateCheckoutSession(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, in gatewaydomain.CheckoutSessionInput) (*gatewaydomain.CheckoutSession, error) {
			assert.Equal(t, gatewaydomain.CheckoutModeSubscription, in.Mode)
			assert.Equal(t, "month", in.Interval)
			assert.Equal(t, int64(3), in.IntervalCount)
			assert.Equal(t, "adult-quarterly", in.Metadata["plan_key"])
			assert.Equal(t, plan.ID.String(), in.Metadata["plan_id"])
			return &gatewaydomain.CheckoutSession{ID: "cs_sub", URL: "https://checkout.example/cs_sub"}, nil
		})

	resp, err := f.svc.CreateCheckoutSession(ctx, domain.CheckoutRequest{
		PayerID:    payer.ID,
		PlanID:     &plan.ID,
		Purpose:    domain.PurposeSubscription,
		SuccessURL: "https://dojo.example/ok",
		CancelURL:  "https://dojo.example/cancel",
	})
	require.NoError(t, err)
	assert.Nil(t, resp.PaymentID)
	assert.Equal(t, int64(0), f.paymentCount(t))
}
