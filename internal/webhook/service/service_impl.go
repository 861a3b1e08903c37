package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dojopay/internal/clock"
	"github.com/smallbiznis/dojopay/internal/config"
	gatewaydomain "github.com/smallbiznis/dojopay/internal/gateway/domain"
	ledgerdomain "github.com/smallbiznis/dojopay/internal/ledger/domain"
	"github.com/smallbiznis/dojopay/internal/ledger/settlement"
	obslogger "github.com/smallbiznis/dojopay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/dojopay/internal/observability/metrics"
	"github.com/smallbiznis/dojopay/internal/webhook/domain"
	"github.com/smallbiznis/dojopay/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const reasonSuperseded = "superseded"

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    ledgerdomain.Repository
	Gateway gatewaydomain.Gateway
	Settler *settlement.Settler
	Policy  *config.BillingPolicyHolder
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    ledgerdomain.Repository
	gateway gatewaydomain.Gateway
	settler *settlement.Settler
	policy  *config.BillingPolicyHolder
	metrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("webhook.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		gateway: p.Gateway,
		settler: p.Settler,
		policy:  p.Policy,
		metrics: p.Metrics,
	}
}

func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (domain.Result, error) {
	if strings.TrimSpace(signature) == "" {
		s.metrics.RecordWebhookEvent(ctx, "unknown", "rejected")
		return domain.Result{}, domain.ErrMissingSignature
	}
	event, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		s.metrics.RecordWebhookEvent(ctx, "unknown", "rejected")
		return domain.Result{}, err
	}

	meta := event.Meta()
	result := domain.Result{EventID: meta.ID, EventType: meta.Type}
	ctx = correlation.ForEvent(ctx, meta.ID)
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("event_id", meta.ID),
		zap.String("event_type", meta.Type),
	)

	now := s.clock.Now()
	received := ledgerdomain.ProcessorEvent{
		ID:               s.genID.Generate(),
		ProcessorEventID: meta.ID,
		EventType:        meta.Type,
		Payload:          datatypes.JSON(payload),
		ReceivedAt:       now,
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return result, err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, meta.ID)
		if err != nil {
			return result, err
		}
		if stored == nil {
			return result, domain.ErrEventStateMissing
		}
		if stored.ProcessedAt != nil {
			result.Outcome = domain.OutcomeDuplicate
			s.metrics.RecordWebhookEvent(ctx, meta.Type, string(result.Outcome))
			log.Info("webhook.duplicate")
			return result, nil
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		outcome, err := s.apply(ctx, tx, event, log)
		if err != nil {
			return err
		}
		result.Outcome = outcome
		return s.repo.MarkEventProcessed(ctx, tx, stored.ID, now)
	})
	if err != nil {
		s.metrics.RecordWebhookEvent(ctx, meta.Type, "failed")
		log.Error("webhook.failed", zap.Error(err))
		return result, err
	}

	s.metrics.RecordWebhookEvent(ctx, meta.Type, string(result.Outcome))
	log.Info("webhook.applied", zap.String("outcome", string(result.Outcome)))
	return result, nil
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, event gatewaydomain.Event, log *zap.Logger) (domain.Outcome, error) {
	switch e := event.(type) {
	case *gatewaydomain.CheckoutSessionCompleted:
		return s.onCheckoutCompleted(ctx, tx, e, log)
	case *gatewaydomain.SubscriptionUpdated:
		return s.onSubscriptionUpdated(ctx, tx, e, log)
	case *gatewaydomain.SubscriptionDeleted:
		return s.onSubscriptionDeleted(ctx, tx, e, log)
	case *gatewaydomain.InvoicePaymentSucceeded:
		return s.onInvoiceSucceeded(ctx, tx, e, log)
	case *gatewaydomain.InvoicePaymentFailed:
		return s.onInvoiceFailed(ctx, tx, e, log)
	case *gatewaydomain.PaymentIntentSucceeded:
		return s.onPaymentIntentSucceeded(ctx, tx, e, log)
	case *gatewaydomain.RefundUpdated:
		return s.onRefundUpdated(ctx, tx, e, log)
	default:
		log.Info("webhook.unhandled")
		return domain.OutcomeUnhandled, nil
	}
}

func (s *Service) onCheckoutCompleted(ctx context.Context, tx *gorm.DB, e *gatewaydomain.CheckoutSessionCompleted, log *zap.Logger) (domain.Outcome, error) {
	payer, err := s.resolvePayer(ctx, tx, e.Metadata, e.CustomerID)
	if err != nil {
		return "", err
	}
	if payer == nil {
		log.Warn("webhook.payer_unresolved", zap.String("customer_id", e.CustomerID))
		return domain.OutcomeIgnored, nil
	}
	now := s.clock.Now()

	if e.Mode == gatewaydomain.CheckoutModeSubscription {
		if e.SubscriptionID == "" {
			return "", gatewaydomain.ErrInvalidEvent
		}
		plan, err := s.planFromMetadata(ctx, tx, e.Metadata)
		if err != nil {
			return "", err
		}
		start := eventDate(e.EventMeta, now)
		sub := &ledgerdomain.MembershipSubscription{
			ID:                         s.genID.Generate(),
			PayerID:                    payer.ID,
			Status:                     ledgerdomain.SubscriptionStatusActive,
			BillingFrequency:           ledgerdomain.BillingFrequencyMonthly,
			Amount:                     e.AmountTotal,
			Currency:                   currencyOr(e.Currency, s.policy.Get().Currency),
			StartDate:                  start,
			CycleNumber:                1,
			AutoRenewal:                true,
			ProcessorSubscriptionID:    stringPtr(e.SubscriptionID),
			ProcessorCheckoutSessionID: stringPtr(e.SessionID),
			CreatedAt:                  now,
			UpdatedAt:                  now,
		}
		if plan != nil {
			sub.PlanID = &plan.ID
			sub.BillingFrequency = plan.BillingFrequency
			sub.Amount = plan.Amount
		}
		next := sub.BillingFrequency.Advance(start, 1)
		sub.NextBillingDate = &next
		if _, err := s.repo.AttachCheckoutSubscription(ctx, tx, sub); err != nil {
			return "", err
		}
		if err := s.recordSubscriptionEvent(ctx, tx, e.SubscriptionID, e.EventMeta); err != nil {
			return "", err
		}
		return domain.OutcomeProcessed, nil
	}

	if paymentID, ok := metadataID(e.Metadata, "payment_id"); ok {
		payment, err := s.completePayment(ctx, tx, paymentID, e.PaymentIntentID, "", now, log)
		if err != nil {
			return "", err
		}
		if payment != nil {
			return domain.OutcomeProcessed, s.settler.Settle(ctx, tx, payment, now)
		}
	}
	if e.PaymentIntentID == "" {
		log.Warn("webhook.checkout_without_payment_intent", zap.String("session_id", e.SessionID))
		return domain.OutcomeIgnored, nil
	}
	return domain.OutcomeProcessed, s.upsertIntentPayment(ctx, tx, payer, e.PaymentIntentID, e.AmountTotal, e.Currency, "", "", now)
}

func (s *Service) onSubscriptionUpdated(ctx context.Context, tx *gorm.DB, e *gatewaydomain.SubscriptionUpdated, log *zap.Logger) (domain.Outcome, error) {
	payer, err := s.resolvePayer(ctx, tx, e.Metadata, e.CustomerID)
	if err != nil {
		return "", err
	}
	if payer == nil {
		log.Warn("webhook.payer_unresolved", zap.String("customer_id", e.CustomerID))
		return domain.OutcomeIgnored, nil
	}
	plan, err := s.planFromMetadata(ctx, tx, e.Metadata)
	if err != nil {
		return "", err
	}

	now := s.clock.Now()
	start := clock.Date(e.CurrentPeriodStart)
	if e.CurrentPeriodStart.IsZero() {
		start = eventDate(e.EventMeta, now)
	}
	next := clock.Date(e.CurrentPeriodEnd)
	if e.CurrentPeriodEnd.IsZero() || next.Before(start) {
		next = start
	}

	sub := &ledgerdomain.MembershipSubscription{
		ID:                      s.genID.Generate(),
		PayerID:                 payer.ID,
		Status:                  mapSubscriptionStatus(e.Status),
		BillingFrequency:        inferFrequency(e.CurrentPeriodStart, e.CurrentPeriodEnd),
		Currency:                s.policy.Get().Currency,
		StartDate:               start,
		NextBillingDate:         &next,
		CycleNumber:             1,
		AutoRenewal:             !e.CancelAtPeriodEnd,
		CancelAtPeriodEnd:       e.CancelAtPeriodEnd,
		ProcessorSubscriptionID: stringPtr(e.SubscriptionID),
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if e.TrialEnd != nil {
		trial := clock.Date(*e.TrialEnd)
		sub.TrialEndsAt = &trial
	}
	if plan != nil {
		sub.PlanID = &plan.ID
		sub.BillingFrequency = plan.BillingFrequency
		sub.Amount = plan.Amount
		if plan.Currency != "" {
			sub.Currency = plan.Currency
		}
	}
	if err := s.repo.UpsertProcessorSubscription(ctx, tx, sub); err != nil {
		return "", err
	}
	if err := s.recordSubscriptionEvent(ctx, tx, e.SubscriptionID, e.EventMeta); err != nil {
		return "", err
	}
	return domain.OutcomeProcessed, nil
}

func (s *Service) onSubscriptionDeleted(ctx context.Context, tx *gorm.DB, e *gatewaydomain.SubscriptionDeleted, log *zap.Logger) (domain.Outcome, error) {
	now := s.clock.Now()
	endDate := eventDate(e.EventMeta, now)

	cancelled, err := s.repo.CancelSubscriptionByProcessorID(ctx, tx, e.SubscriptionID, endDate, now)
	if err != nil {
		return "", err
	}
	if !cancelled {
		existing, err := s.repo.FindSubscriptionByProcessorID(ctx, tx, e.SubscriptionID)
		if err != nil {
			return "", err
		}
		if existing == nil {
			// Deleted arrived before created: record the terminal row so a
			// late created event cannot resurrect it.
			payer, err := s.resolvePayer(ctx, tx, e.Metadata, "")
			if err != nil {
				return "", err
			}
			if payer == nil {
				log.Warn("webhook.payer_unresolved", zap.String("subscription_id", e.SubscriptionID))
				return domain.OutcomeIgnored, nil
			}
			plan, err := s.planFromMetadata(ctx, tx, e.Metadata)
			if err != nil {
				return "", err
			}
			sub := &ledgerdomain.MembershipSubscription{
				ID:                      s.genID.Generate(),
				PayerID:                 payer.ID,
				Status:                  ledgerdomain.SubscriptionStatusCancelled,
				BillingFrequency:        ledgerdomain.BillingFrequencyMonthly,
				Currency:                s.policy.Get().Currency,
				StartDate:               endDate,
				EndDate:                 &endDate,
				NextBillingDate:         &endDate,
				CycleNumber:             1,
				ProcessorSubscriptionID: stringPtr(e.SubscriptionID),
				CreatedAt:               now,
				UpdatedAt:               now,
			}
			if plan != nil {
				sub.PlanID = &plan.ID
				sub.BillingFrequency = plan.BillingFrequency
				sub.Amount = plan.Amount
			}
			if err := s.repo.InsertSubscription(ctx, tx, sub); err != nil {
				return "", err
			}
		}
	}
	if err := s.recordSubscriptionEvent(ctx, tx, e.SubscriptionID, e.EventMeta); err != nil {
		return "", err
	}
	return domain.OutcomeProcessed, nil
}

func (s *Service) onInvoiceSucceeded(ctx context.Context, tx *gorm.DB, e *gatewaydomain.InvoicePaymentSucceeded, log *zap.Logger) (domain.Outcome, error) {
	if e.SubscriptionID == "" {
		log.Info("webhook.invoice_without_subscription", zap.String("invoice_id", e.InvoiceID))
		return domain.OutcomeIgnored, nil
	}
	sub, err := s.repo.FindSubscriptionByProcessorID(ctx, tx, e.SubscriptionID)
	if err != nil {
		return "", err
	}
	if sub == nil {
		sub, err = s.placeholderSubscription(ctx, tx, e.SubscriptionID, e.CustomerID, e.PeriodStart, e.PeriodEnd, e.AmountDue, ledgerdomain.SubscriptionStatusActive, e.EventMeta, log)
		if err != nil {
			return "", err
		}
	}

	now := s.clock.Now()
	if err := s.repo.UpsertInvoiceCycle(ctx, tx, &ledgerdomain.BillingCycle{
		ID:                 s.genID.Generate(),
		SubscriptionID:     sub.ID,
		CycleNumber:        cycleNumber(sub),
		PeriodStart:        clock.Date(e.PeriodStart),
		PeriodEnd:          clock.Date(e.PeriodEnd),
		AmountDue:          e.AmountDue,
		AmountPaid:         e.AmountPaid,
		Status:             ledgerdomain.BillingCycleStatusPaid,
		ProcessorInvoiceID: stringPtr(e.InvoiceID),
		CreatedAt:          now,
		UpdatedAt:          now,
	}); err != nil {
		return "", err
	}
	if sub.Status == ledgerdomain.SubscriptionStatusPastDue {
		if _, err := s.repo.TransitionSubscription(ctx, tx, sub.ID, ledgerdomain.SubscriptionStatusPastDue, ledgerdomain.SubscriptionStatusActive, now); err != nil {
			return "", err
		}
	}
	if err := s.recordSubscriptionEvent(ctx, tx, e.SubscriptionID, e.EventMeta); err != nil {
		return "", err
	}
	return domain.OutcomeProcessed, nil
}

func (s *Service) onInvoiceFailed(ctx context.Context, tx *gorm.DB, e *gatewaydomain.InvoicePaymentFailed, log *zap.Logger) (domain.Outcome, error) {
	if e.SubscriptionID == "" {
		log.Info("webhook.invoice_without_subscription", zap.String("invoice_id", e.InvoiceID))
		return domain.OutcomeIgnored, nil
	}
	sub, err := s.repo.FindSubscriptionByProcessorID(ctx, tx, e.SubscriptionID)
	if err != nil {
		return "", err
	}
	if sub == nil {
		sub, err = s.placeholderSubscription(ctx, tx, e.SubscriptionID, e.CustomerID, e.PeriodStart, e.PeriodEnd, e.AmountDue, ledgerdomain.SubscriptionStatusPastDue, e.EventMeta, log)
		if err != nil {
			return "", err
		}
	}

	now := s.clock.Now()
	nextRetry := eventDate(e.EventMeta, now).AddDate(0, 0, s.policy.Get().Retry.InvoiceRetryOffsetDays)
	if err := s.repo.UpsertInvoiceCycle(ctx, tx, &ledgerdomain.BillingCycle{
		ID:                 s.genID.Generate(),
		SubscriptionID:     sub.ID,
		CycleNumber:        cycleNumber(sub),
		PeriodStart:        clock.Date(e.PeriodStart),
		PeriodEnd:          clock.Date(e.PeriodEnd),
		AmountDue:          e.AmountDue,
		Status:             ledgerdomain.BillingCycleStatusFailed,
		ProcessorInvoiceID: stringPtr(e.InvoiceID),
		NextRetryDate:      &nextRetry,
		CreatedAt:          now,
		UpdatedAt:          now,
	}); err != nil {
		return "", err
	}
	if sub.Status == ledgerdomain.SubscriptionStatusActive || sub.Status == ledgerdomain.SubscriptionStatusTrialing {
		if _, err := s.repo.TransitionSubscription(ctx, tx, sub.ID, sub.Status, ledgerdomain.SubscriptionStatusPastDue, now); err != nil {
			return "", err
		}
	}
	if err := s.recordSubscriptionEvent(ctx, tx, e.SubscriptionID, e.EventMeta); err != nil {
		return "", err
	}
	return domain.OutcomeProcessed, nil
}

func (s *Service) onPaymentIntentSucceeded(ctx context.Context, tx *gorm.DB, e *gatewaydomain.PaymentIntentSucceeded, log *zap.Logger) (domain.Outcome, error) {
	now := s.clock.Now()
	if paymentID, ok := metadataID(e.Metadata, "payment_id"); ok {
		payment, err := s.completePayment(ctx, tx, paymentID, e.PaymentIntentID, e.PaymentMethodID, now, log)
		if err != nil {
			return "", err
		}
		if payment != nil {
			return domain.OutcomeProcessed, s.settler.Settle(ctx, tx, payment, now)
		}
	}

	payer, err := s.resolvePayer(ctx, tx, e.Metadata, e.CustomerID)
	if err != nil {
		return "", err
	}
	if payer == nil {
		log.Warn("webhook.payer_unresolved", zap.String("customer_id", e.CustomerID))
		return domain.OutcomeIgnored, nil
	}
	return domain.OutcomeProcessed, s.upsertIntentPayment(ctx, tx, payer, e.PaymentIntentID, e.Amount, e.Currency, e.Description, e.PaymentMethodID, now)
}

// onRefundUpdated resolves a refund the core left pending, including one
// whose create call timed out, and closes the payment once refunds cover it.
func (s *Service) onRefundUpdated(ctx context.Context, tx *gorm.DB, e *gatewaydomain.RefundUpdated, log *zap.Logger) (domain.Outcome, error) {
	var refund *ledgerdomain.Refund
	var err error
	if refundID, ok := metadataID(e.Metadata, "refund_id"); ok {
		refund, err = s.repo.FindRefund(ctx, tx, refundID)
		if err != nil {
			return "", err
		}
	}
	if refund == nil {
		refund, err = s.repo.FindRefundByProcessorID(ctx, tx, e.RefundID)
		if err != nil {
			return "", err
		}
	}
	if refund == nil {
		log.Warn("webhook.refund_unresolved", zap.String("refund_id", e.RefundID))
		return domain.OutcomeIgnored, nil
	}

	status := ledgerdomain.RefundStatusFromProcessor(e.Status)
	changed, err := s.repo.ResolveRefund(ctx, tx, refund.ID, status, stringPtr(e.RefundID))
	if err != nil {
		return "", err
	}
	if !changed || status != ledgerdomain.RefundStatusSucceeded {
		return domain.OutcomeProcessed, nil
	}

	payment, err := s.repo.FindPayment(ctx, tx, refund.PaymentID)
	if err != nil {
		return "", err
	}
	if payment == nil {
		return domain.OutcomeProcessed, nil
	}
	total, err := s.repo.SumRefunds(ctx, tx, payment.ID)
	if err != nil {
		return "", err
	}
	if total >= payment.Amount {
		if _, err := s.repo.TransitionPayment(ctx, tx, payment.ID, ledgerdomain.PaymentStatusCompleted, ledgerdomain.PaymentStatusRefunded, s.clock.Now()); err != nil {
			return "", err
		}
	}
	return domain.OutcomeProcessed, nil
}

// placeholderSubscription records a subscription first seen through one of
// its invoices. Later subscription events fill in status and plan. Without
// a known payer the event is left unprocessed for redelivery.
func (s *Service) placeholderSubscription(
	ctx context.Context,
	tx *gorm.DB,
	processorSubscriptionID string,
	customerID string,
	periodStart time.Time,
	periodEnd time.Time,
	amount int64,
	status ledgerdomain.SubscriptionStatus,
	meta gatewaydomain.EventMeta,
	log *zap.Logger,
) (*ledgerdomain.MembershipSubscription, error) {
	payer, err := s.resolvePayer(ctx, tx, nil, customerID)
	if err != nil {
		return nil, err
	}
	if payer == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrSubscriptionNotFound, processorSubscriptionID)
	}

	now := s.clock.Now()
	start := clock.Date(periodStart)
	if periodStart.IsZero() {
		start = eventDate(meta, now)
	}
	next := clock.Date(periodEnd)
	if periodEnd.IsZero() || next.Before(start) {
		next = start
	}
	if err := s.repo.UpsertProcessorSubscription(ctx, tx, &ledgerdomain.MembershipSubscription{
		ID:                      s.genID.Generate(),
		PayerID:                 payer.ID,
		Status:                  status,
		BillingFrequency:        inferFrequency(periodStart, periodEnd),
		Amount:                  amount,
		Currency:                s.policy.Get().Currency,
		StartDate:               start,
		NextBillingDate:         &next,
		CycleNumber:             1,
		AutoRenewal:             true,
		ProcessorSubscriptionID: stringPtr(processorSubscriptionID),
		CreatedAt:               now,
		UpdatedAt:               now,
	}); err != nil {
		return nil, err
	}
	log.Info("webhook.subscription_placeholder", zap.String("subscription_id", processorSubscriptionID))

	sub, err := s.repo.FindSubscriptionByProcessorID(ctx, tx, processorSubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrSubscriptionNotFound, processorSubscriptionID)
	}
	return sub, nil
}

// completePayment finalizes a payment the core created before redirecting
// or charging. It returns nil when no such payment exists.
func (s *Service) completePayment(
	ctx context.Context,
	tx *gorm.DB,
	paymentID snowflake.ID,
	intentID string,
	methodID string,
	now time.Time,
	log *zap.Logger,
) (*ledgerdomain.Payment, error) {
	payment, err := s.repo.FindPayment(ctx, tx, paymentID)
	if err != nil || payment == nil {
		return nil, err
	}

	attempt := ledgerdomain.PaymentAttempt{
		PaymentID: payment.ID,
		From: []ledgerdomain.PaymentStatus{
			ledgerdomain.PaymentStatusScheduled,
			ledgerdomain.PaymentStatusPending,
			ledgerdomain.PaymentStatusRequiresAction,
			ledgerdomain.PaymentStatusFailed,
		},
		Status:          ledgerdomain.PaymentStatusCompleted,
		ProcessorID:     stringPtr(intentID),
		PaymentMethodID: stringPtr(methodID),
		AttemptedAt:     now,
	}
	_, err = s.repo.ApplyPaymentAttempt(ctx, tx, attempt)
	if errors.Is(err, ledgerdomain.ErrDuplicateProcessorID) {
		// The intent was already recorded on its own row.
		reason := reasonSuperseded
		if _, err := s.repo.ApplyPaymentAttempt(ctx, tx, ledgerdomain.PaymentAttempt{
			PaymentID:     payment.ID,
			From:          attempt.From,
			Status:        ledgerdomain.PaymentStatusFailed,
			FailureReason: &reason,
			AttemptedAt:   now,
		}); err != nil {
			return nil, err
		}
		log.Warn("webhook.payment_superseded", zap.String("payment_id", payment.ID.String()), zap.String("processor_id", intentID))
		return s.repo.FindPaymentByProcessorID(ctx, tx, intentID)
	}
	if err != nil {
		return nil, err
	}
	return s.repo.FindPayment(ctx, tx, payment.ID)
}

func (s *Service) upsertIntentPayment(
	ctx context.Context,
	tx *gorm.DB,
	payer *ledgerdomain.Payer,
	intentID string,
	amount int64,
	currency string,
	description string,
	methodID string,
	now time.Time,
) error {
	payment := &ledgerdomain.Payment{
		ID:              s.genID.Generate(),
		PayerID:         payer.ID,
		Amount:          amount,
		Currency:        currencyOr(currency, s.policy.Get().Currency),
		Status:          ledgerdomain.PaymentStatusCompleted,
		Description:     description,
		PaymentMethodID: stringPtr(methodID),
		ProcessorID:     stringPtr(intentID),
		LastAttemptAt:   &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return s.repo.UpsertCompletedPayment(ctx, tx, payment)
}

func (s *Service) resolvePayer(ctx context.Context, tx *gorm.DB, metadata map[string]string, customerID string) (*ledgerdomain.Payer, error) {
	if payerID, ok := metadataID(metadata, "payer_id"); ok {
		payer, err := s.repo.FindPayer(ctx, tx, payerID)
		if err != nil || payer != nil {
			return payer, err
		}
	}
	if strings.TrimSpace(customerID) == "" {
		return nil, nil
	}
	return s.repo.FindPayerByProcessorCustomer(ctx, tx, customerID)
}

func (s *Service) planFromMetadata(ctx context.Context, tx *gorm.DB, metadata map[string]string) (*ledgerdomain.Plan, error) {
	planID, ok := metadataID(metadata, "plan_id")
	if !ok {
		return nil, nil
	}
	return s.repo.FindPlan(ctx, tx, planID)
}

func (s *Service) recordSubscriptionEvent(ctx context.Context, tx *gorm.DB, processorSubscriptionID string, meta gatewaydomain.EventMeta) error {
	sub, err := s.repo.FindSubscriptionByProcessorID(ctx, tx, processorSubscriptionID)
	if err != nil || sub == nil {
		return err
	}
	payload := datatypes.JSON(meta.Raw)
	if len(payload) == 0 {
		payload = datatypes.JSON(`{}`)
	}
	return s.repo.InsertSubscriptionEvent(ctx, tx, &ledgerdomain.SubscriptionEvent{
		ID:               s.genID.Generate(),
		SubscriptionID:   sub.ID,
		EventType:        meta.Type,
		ProcessorEventID: stringPtr(meta.ID),
		Payload:          payload,
		CreatedAt:        s.clock.Now(),
	})
}

func mapSubscriptionStatus(status string) ledgerdomain.SubscriptionStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "trialing":
		return ledgerdomain.SubscriptionStatusTrialing
	case "past_due", "unpaid", "incomplete", "paused":
		return ledgerdomain.SubscriptionStatusPastDue
	case "canceled", "cancelled":
		return ledgerdomain.SubscriptionStatusCancelled
	case "incomplete_expired":
		return ledgerdomain.SubscriptionStatusExpired
	default:
		return ledgerdomain.SubscriptionStatusActive
	}
}

// inferFrequency derives the billing frequency from the processor period
// when no plan is linked.
func inferFrequency(start, end time.Time) ledgerdomain.BillingFrequency {
	if start.IsZero() || end.IsZero() {
		return ledgerdomain.BillingFrequencyMonthly
	}
	days := clock.DaysBetween(start, end)
	switch {
	case days <= 8:
		return ledgerdomain.BillingFrequencyWeekly
	case days <= 32:
		return ledgerdomain.BillingFrequencyMonthly
	case days <= 95:
		return ledgerdomain.BillingFrequencyQuarterly
	default:
		return ledgerdomain.BillingFrequencyAnnually
	}
}

func cycleNumber(sub *ledgerdomain.MembershipSubscription) int {
	if sub.CycleNumber < 1 {
		return 1
	}
	return sub.CycleNumber
}

func eventDate(meta gatewaydomain.EventMeta, fallback time.Time) time.Time {
	if meta.Created.IsZero() {
		return clock.Date(fallback)
	}
	return clock.Date(meta.Created)
}

func metadataID(metadata map[string]string, key string) (snowflake.ID, bool) {
	raw := strings.TrimSpace(metadata[key])
	if raw == "" {
		return 0, false
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func currencyOr(value, fallback string) string {
	if v := strings.ToLower(strings.TrimSpace(value)); v != "" {
		return v
	}
	return fallback
}

func stringPtr(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
