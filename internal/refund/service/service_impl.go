package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dojopay/internal/clock"
	gatewaydomain "github.com/smallbiznis/dojopay/internal/gateway/domain"
	ledgerdomain "github.com/smallbiznis/dojopay/internal/ledger/domain"
	obslogger "github.com/smallbiznis/dojopay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/dojopay/internal/observability/metrics"
	"github.com/smallbiznis/dojopay/internal/refund/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const creditReason = "refund_remainder"

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    ledgerdomain.Repository
	Gateway gatewaydomain.Gateway
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    ledgerdomain.Repository
	gateway gatewaydomain.Gateway
	metrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("refund.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		gateway: p.Gateway,
		metrics: p.Metrics,
	}
}

func (s *Service) RefundPayment(ctx context.Context, req domain.RefundRequest) (*domain.RefundResult, error) {
	if req.PaymentID == 0 {
		return nil, domain.ErrInvalidPayment
	}
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	payment, err := s.repo.FindPayment(ctx, s.db, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}
	if payment.Status != ledgerdomain.PaymentStatusCompleted || payment.ProcessorID == nil {
		return nil, domain.ErrPaymentNotRefundable
	}
	refunded, err := s.repo.SumRefunds(ctx, s.db, payment.ID)
	if err != nil {
		return nil, err
	}
	credited, err := s.repo.SumCredits(ctx, s.db, payment.ID)
	if err != nil {
		return nil, err
	}
	if refunded+credited+req.Amount > payment.Amount {
		return nil, domain.ErrRefundExceedsPayment
	}

	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("payment_id", payment.ID.String()),
		zap.Int64("amount", req.Amount),
	)

	refundID := s.genID.Generate()
	processorRefund, procErr := s.gateway.CreateRefund(ctx, gatewaydomain.RefundInput{
		PaymentIntentID: *payment.ProcessorID,
		Amount:          req.Amount,
		IdempotencyKey:  fmt.Sprintf("refund:%s:%d:%d", payment.ID, refunded, req.Amount),
		Metadata: map[string]string{
			"payment_id": payment.ID.String(),
			"refund_id":  refundID.String(),
		},
	})

	now := s.clock.Now()
	refund := &ledgerdomain.Refund{
		ID:        refundID,
		PaymentID: payment.ID,
		Amount:    req.Amount,
		Reason:    strings.TrimSpace(req.Reason),
		Status:    ledgerdomain.RefundStatusFailed,
		CreatedAt: now,
	}
	if procErr != nil && !errors.Is(procErr, gatewaydomain.ErrUnknownOutcome) {
		if err := s.repo.InsertRefund(ctx, s.db, refund); err != nil {
			log.Error("refund.record_failed", zap.Error(err))
		}
		log.Warn("refund.rejected", zap.Error(procErr))
		return nil, fmt.Errorf("%w: %v", domain.ErrRefundRejected, procErr)
	}

	result := &domain.RefundResult{
		RefundID:      refund.ID,
		PaymentID:     payment.ID,
		Amount:        refund.Amount,
		PaymentStatus: payment.Status,
	}
	if procErr != nil {
		// The processor may have moved the money. The row stays pending and
		// counts toward the refunded total until its webhook resolves it.
		refund.Status = ledgerdomain.RefundStatusPending
		if err := s.repo.InsertRefund(ctx, s.db, refund); err != nil {
			log.Error("refund.record_failed", zap.Error(err))
			return nil, err
		}
		total, err := s.repo.SumRefunds(ctx, s.db, payment.ID)
		if err != nil {
			return nil, err
		}
		result.Status = refund.Status
		result.TotalRefunded = total
		result.Unresolved = true
		log.Warn("refund.outcome_unknown", zap.String("refund_id", refund.ID.String()), zap.Error(procErr))
		return result, nil
	}

	refund.Status = ledgerdomain.RefundStatusFromProcessor(processorRefund.Status)
	if processorRefund.ID != "" {
		refund.ProcessorRefundID = &processorRefund.ID
	}
	result.Status = refund.Status
	result.ProcessorRefundID = processorRefund.ID

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertRefund(ctx, tx, refund); err != nil {
			return err
		}
		total, err := s.repo.SumRefunds(ctx, tx, payment.ID)
		if err != nil {
			return err
		}
		result.TotalRefunded = total

		if total >= payment.Amount {
			ok, err := s.repo.TransitionPayment(ctx, tx, payment.ID, ledgerdomain.PaymentStatusCompleted, ledgerdomain.PaymentStatusRefunded, now)
			if err != nil {
				return err
			}
			if ok {
				result.PaymentStatus = ledgerdomain.PaymentStatusRefunded
			}
			return nil
		}

		// The payment stays completed; the credit counts against later refunds.
		if req.CreditRemainder {
			remainder := payment.Amount - total - credited
			if remainder <= 0 {
				return nil
			}
			creditID := s.genID.Generate()
			credit := &ledgerdomain.AccountCredit{
				ID:              creditID,
				PayerID:         payment.PayerID,
				RefundID:        &refund.ID,
				Amount:          remainder,
				RemainingAmount: remainder,
				Reason:          creditReason,
				CreatedAt:       now,
			}
			if err := s.repo.InsertAccountCredit(ctx, tx, credit); err != nil {
				return err
			}
			result.CreditID = &creditID
			result.CreditAmount = credit.Amount
		}
		return nil
	})
	if err != nil {
		// The processor already moved the money; the row must be reconciled by hand.
		log.Error("refund.persist_failed", zap.String("processor_refund_id", processorRefund.ID), zap.Error(err))
		return nil, err
	}

	full := result.PaymentStatus == ledgerdomain.PaymentStatusRefunded
	s.metrics.RecordRefund(ctx, full)
	log.Info("refund.created",
		zap.String("refund_id", refund.ID.String()),
		zap.Int64("total_refunded", result.TotalRefunded),
		zap.Bool("full", full),
	)
	return result, nil
}
