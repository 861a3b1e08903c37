package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/dojopay/internal/clock"
	gatewaydomain "github.com/smallbiznis/dojopay/internal/gateway/domain"
	"github.com/smallbiznis/dojopay/internal/gateway/mock"
	ledgerdomain "github.com/smallbiznis/dojopay/internal/ledger/domain"
	"github.com/smallbiznis/dojopay/internal/ledger/ledgertest"
	ledgerrepo "github.com/smallbiznis/dojopay/internal/ledger/repository"
	"github.com/smallbiznis/dojopay/internal/refund/domain"
	"github.com/smallbiznis/dojopay/internal/refund/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db   *gorm.DB
	node *snowflake.Node
	repo ledgerdomain.Repository
	gw   *mock.MockGateway
	svc  domain.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	db := ledgertest.OpenDB(t)
	node := ledgertest.Node(t)
	repo := ledgerrepo.Provide()
	gw := mock.NewMockGateway(ctrl)
	svc := service.NewService(service.Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clock.NewFakeClock(time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)),
		Repo:    repo,
		Gateway: gw,
	})
	return &fixture{db: db, node: node, repo: repo, gw: gw, svc: svc}
}

func (f *fixture) completedPayment(t *testing.T, amount int64) *ledgerdomain.Payment {
	t.Helper()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	payerID := f.node.Generate()
	processorID := "pi_" + payerID.String()
	payment := &ledgerdomain.Payment{
		ID:          f.node.Generate(),
		PayerID:     payerID,
		Amount:      amount,
		Currency:    "usd",
		Status:      ledgerdomain.PaymentStatusCompleted,
		ProcessorID: &processorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	ledgertest.MustCreate(t, f.db, &ledgerdomain.Payer{
		ID:            payerID,
		Email:         "member@example.com",
		Name:          "Ren",
		AccountStatus: ledgerdomain.AccountStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, payment)
	return payment
}

func (f *fixture) expectRefund(id string, amount int64) *gomock.Call {
	return f.gw.EXPECT().
		CreateRefund(gomock.Any(), gomock.Any()).
		Return(&gatewaydomain.Refund{ID: id, Status: "succeeded", Amount: amount}, nil)
}

func TestPartialThenFullRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payment := f.completedPayment(t, 10000)

	f.gw.EXPECT().
		CreateRefund(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, in gatewaydomain.RefundInput) (*gatewaydomain.Refund, error) {
			assert.Equal(t, *payment.ProcessorID, in.PaymentIntentID)
			assert.Equal(t, "refund:"+payment.ID.String()+":0:4000", in.IdempotencyKey)
			return &gatewaydomain.Refund{ID: "re_1", Status: "succeeded", Amount: in.Amount}, nil
		})

	res, err := f.svc.RefundPayment(ctx, domain.RefundRequest{PaymentID: payment.ID, Amount: 4000, Reason: "missed classes"})
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.RefundStatusSucceeded, res.Status)
	assert.Equal(t, int64(4000), res.TotalRefunded)
	assert.Equal(t, ledgerdomain.PaymentStatusCompleted, res.PaymentStatus)

	f.expectRefund("re_2", 6000)
	res, err = f.svc.RefundPayment(ctx, domain.RefundRequest{PaymentID: payment.ID, Amount: 6000})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), res.TotalRefunded)
	assert.Equal(t, ledgerdomain.PaymentStatusRefunded, res.PaymentStatus)

	stored, err := f.repo.FindPayment(ctx, f.db, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.PaymentStatusRefunded, stored.Status)
}

func TestRefundExceedingPaymentIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payment := f.completedPayment(t, 5000)

	f.expectRefund("re_1", 3000)
	_, err := f.svc.RefundPayment(ctx, domain.RefundRequest{PaymentID: payment.ID, Amount: 3000})
	require.NoError(t, err)

	_, err = f.svc.RefundPayment(ctx, domain.RefundRequest{PaymentID: payment.ID, Amount: 2001})
	require.ErrorIs(t, err, domain.ErrRefundExceedsPayment)

	total, err := f.repo.SumRefunds(ctx, f.db, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), total)
}

func TestRefundWithCreditRemainderBlocksFurtherRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payment := f.completedPayment(t, 12000)

	f.expectRefund("re_1", 2000)
	res, err := f.svc.RefundPayment(ctx, domain.RefundRequest{
		PaymentID:       payment.ID,
		Amount:          2000,
		CreditRemainder: true,
	})
	require.NoError(t, err)
	require.NotNil(t, res.CreditID)
	assert.Equal(t, int64(10000), res.CreditAmount)
	assert.Equal(t, int64(2000), res.TotalRefunded)
	assert.Equal(t, ledgerdomain.PaymentStatusCompleted, res.PaymentStatus)

	credits, err := f.repo.ListAccountCredits(ctx, f.db, payment.PayerID)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, int64(10000), credits[0].RemainingAmount)
	require.NotNil(t, credits[0].RefundID)
	assert.Equal(t, res.RefundID, *credits[0].RefundID)

	credited, err := f.repo.SumCredits(ctx, f.db, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), credited)

	_, err = f.svc.RefundPayment(ctx, domain.RefundRequest{PaymentID: payment.ID, Amount: 100})
	require.ErrorIs(t, err, domain.ErrRefundExceedsPayment)

	stored, err := f.repo.FindPayment(ctx, f.db, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.PaymentStatusCompleted, stored.Status)
}

func TestFullRefundWithCreditRemainderBooksNoCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payment := f.completedPayment(t, 3000)

	f.expectRefund("re_1", 3000)
	res, err := f.svc.RefundPayment(ctx, domain.RefundRequest{
		PaymentID:       payment.ID,
		Amount:          3000,
		CreditRemainder: true,
	})
	require.NoError(t, err)
	assert.Nil(t, res.CreditID)
	assert.Equal(t, ledgerdomain.PaymentStatusRefunded, res.PaymentStatus)

	credits, err := f.repo.ListAccountCredits(ctx, f.db, payment.PayerID)
	require.NoError(t, err)
	assert.Empty(t, credits)
}

func TestRefundTimeoutStaysPendingAndCountsTowardTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payment := f.completedPayment(t, 5000)

	f.gw.EXPECT().
		CreateRefund(gomock.Any(), gomock.Any()).
		Return(nil, gatewaydomain.NewProcessorError(gatewaydomain.KindUnknownOutcome, "timeout", "", "request timed out"))

	res, err := f.svc.RefundPayment(ctx, domain.RefundRequest{PaymentID: payment.ID, Amount: 3000})
	require.NoError(t, err)
	assert.True(t, res.Unresolved)
	assert.Equal(t, ledgerdomain.RefundStatusPending, res.Status)
	assert.Equal(t, int64(3000), res.TotalRefunded)
	assert.Equal(t, ledgerdomain.PaymentStatusCompleted, res.PaymentStatus)

	stored, err := f.repo.FindRefund(ctx, f.db, res.RefundID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, ledgerdomain.RefundStatusPending, stored.Status)
	assert.Nil(t, stored.ProcessorRefundID)

	total, err := f.repo.SumRefunds(ctx, f.db, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), total)

	// Conservation holds against the unresolved refund; no processor call is made.
	_, err = f.svc.RefundPayment(ctx, domain.RefundRequest{PaymentID: payment.ID, Amount: 2001})
	require.ErrorIs(t, err, domain.ErrRefundExceedsPayment)

	f.expectRefund("re_2", 2000)
	res, err = f.svc.RefundPayment(ctx, domain.RefundRequest{PaymentID: payment.ID, Amount: 2000})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), res.TotalRefunded)
}

func TestRefundRejectedByProcessorIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payment := f.completedPayment(t, 5000)

	f.gw.EXPECT().
		CreateRefund(gomock.Any(), gomock.Any()).
		Return(nil, gatewaydomain.NewProcessorError(gatewaydomain.KindInvalidRequest, "charge_already_refunded", "", "already refunded"))

	_, err := f.svc.RefundPayment(ctx, domain.RefundRequest{PaymentID: payment.ID, Amount: 5000})
	require.ErrorIs(t, err, domain.ErrRefundRejected)

	var statuses []string
	require.NoError(t, f.db.Raw(`SELECT status FROM refunds WHERE payment_id = ?`, payment.ID).Scan(&statuses).Error)
	assert.Equal(t, []string{string(ledgerdomain.RefundStatusFailed)}, statuses)

	stored, err := f.repo.FindPayment(ctx, f.db, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.PaymentStatusCompleted, stored.Status)
}

func TestRefundValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RefundPayment(ctx, domain.RefundRequest{PaymentID: f.node.Generate(), Amount: 0})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.svc.RefundPayment(ctx, domain.RefundRequest{Amount: 100})
	require.ErrorIs(t, err, domain.ErrInvalidPayment)

	_, err = f.svc.RefundPayment(ctx, domain.RefundRequest{PaymentID: f.node.Generate(), Amount: 100})
	require.ErrorIs(t, err, domain.ErrPaymentNotFound)
}
