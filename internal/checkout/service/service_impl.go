package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/dojopay/internal/checkout/domain"
	"github.com/smallbiznis/dojopay/internal/clock"
	"github.com/smallbiznis/dojopay/internal/config"
	gatewaydomain "github.com/smallbiznis/dojopay/internal/gateway/domain"
	ledgerdomain "github.com/smallbiznis/dojopay/internal/ledger/domain"
	"github.com/smallbiznis/dojopay/internal/ledger/settlement"
	obslogger "github.com/smallbiznis/dojopay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/dojopay/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sourceCharge = "charge"
	sourceRetry  = "retry"

	reasonDuplicateRequest = "duplicate_request"
)

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
		log:     p.Log.Named("checkout.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		gateway: p.Gateway,
		settler: p.Settler,
		policy:  p.Policy,
		metrics: p.Metrics,
	}
}

// paymentSource is the stored method a charge is billed to.
type paymentSource struct {
	payerID         snowflake.ID
	customerID      string
	paymentMethodID string
}

// CreateCheckoutSession starts a hosted checkout. Nothing recorded here
// implies success; the one-time pre-provisional payment stays scheduled
// until the processor reports completion.
func (s *Service) CreateCheckoutSession(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	if req.PayerID == 0 {
		return domain.CheckoutResponse{}, domain.ErrInvalidPayer
	}
	if req.Purpose != domain.PurposeSubscription && req.Purpose != domain.PurposeOneTime {
		return domain.CheckoutResponse{}, domain.ErrInvalidPurpose
	}
	if strings.TrimSpace(req.SuccessURL) == "" || strings.TrimSpace(req.CancelURL) == "" {
		return domain.CheckoutResponse{}, domain.ErrInvalidRedirectURL
	}

	payer, err := s.repo.FindPayer(ctx, s.db, req.PayerID)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	if payer == nil {
		return domain.CheckoutResponse{}, domain.ErrPayerNotFound
	}

	policy := s.policy.Get()
	input := gatewaydomain.CheckoutSessionInput{
		Currency:   policy.Currency,
		SuccessURL: strings.TrimSpace(req.SuccessURL),
		CancelURL:  strings.TrimSpace(req.CancelURL),
	}
	metadata := map[string]string{
		"payer_id": payer.ID.String(),
		"purpose":  string(req.Purpose),
	}

	var plan *ledgerdomain.Plan
	if req.PlanID != nil {
		plan, err = s.repo.FindPlan(ctx, s.db, *req.PlanID)
		if err != nil {
			return domain.CheckoutResponse{}, err
		}
		if plan == nil {
			return domain.CheckoutResponse{}, domain.ErrPlanNotFound
		}
		metadata["plan_id"] = plan.ID.String()
		metadata["plan_key"] = slug.Make(plan.Name)
	}

	switch req.Purpose {
	case domain.PurposeSubscription:
		if plan == nil {
			return domain.CheckoutResponse{}, domain.ErrPlanRequired
		}
		interval, count := recurringInterval(plan.BillingFrequency)
		input.Mode = gatewaydomain.CheckoutModeSubscription
		input.Amount = plan.Amount
		input.ProductName = plan.Name
		input.Interval = interval
		input.IntervalCount = count
		if plan.Currency != "" {
			input.Currency = plan.Currency
		}
		if plan.ProcessorPriceID != nil {
			input.PriceID = *plan.ProcessorPriceID
		}
	case domain.PurposeOneTime:
		amount := req.Amount
		if amount == 0 && plan != nil {
			amount = plan.Amount
		}
		if amount <= 0 {
			return domain.CheckoutResponse{}, domain.ErrInvalidAmount
		}
		input.Mode = gatewaydomain.CheckoutModePayment
		input.Amount = amount
		input.ProductName = productName(req.Description, plan)
	}

	customerID, err := s.ensureCustomer(ctx, payer)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	input.CustomerID = customerID

	var paymentID snowflake.ID
	if req.Purpose == domain.PurposeOneTime {
		paymentID = s.genID.Generate()
		metadata["payment_id"] = paymentID.String()
	}
	input.Metadata = metadata

	session, err := s.gateway.CreateCheckoutSession(ctx, input)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	resp := domain.CheckoutResponse{SessionID: session.ID, URL: session.URL}
	if paymentID != 0 {
		now := s.clock.Now()
		sessionID := session.ID
		payment := &ledgerdomain.Payment{
			ID:           paymentID,
			PayerID:      payer.ID,
			Amount:       input.Amount,
			Currency:     input.Currency,
			Status:       ledgerdomain.PaymentStatusScheduled,
			Description:  input.ProductName,
			ProcessorID:  &sessionID,
			ScheduledFor: &now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.repo.InsertPayment(ctx, s.db, payment); err != nil {
			return domain.CheckoutResponse{}, err
		}
		resp.PaymentID = &paymentID
	}

	obslogger.WithContext(ctx, s.log).Info("checkout.session_created",
		zap.String("payer_id", payer.ID.String()),
		zap.String("purpose", string(req.Purpose)),
		zap.String("session_id", session.ID),
	)
	return resp, nil
}

// ChargeStoredMethod charges the payer's stored method off-session. The
// pending payment is written before the processor call so a crash leaves a
// visible in-flight row instead of an unrecorded charge.
func (s *Service) ChargeStoredMethod(ctx context.Context, req domain.ChargeRequest) (domain.ChargeResult, error) {
	if req.PayerID == 0 {
		return domain.ChargeResult{}, domain.ErrInvalidPayer
	}
	payer, err := s.repo.FindPayer(ctx, s.db, req.PayerID)
	if err != nil {
		return domain.ChargeResult{}, err
	}
	if payer == nil {
		return domain.ChargeResult{}, domain.ErrPayerNotFound
	}

	var entry *ledgerdomain.ScheduleEntry
	if req.ScheduleEntryID != nil {
		entry, err = s.repo.FindScheduleEntry(ctx, s.db, *req.ScheduleEntryID)
		if err != nil {
			return domain.ChargeResult{}, err
		}
		if entry == nil || entry.DeletedAt != nil {
			return domain.ChargeResult{}, domain.ErrScheduleEntryNotFound
		}
		if entry.Status != ledgerdomain.ScheduleStatusPending {
			return domain.ChargeResult{}, domain.ErrScheduleEntryNotPending
		}
		if req.Amount == 0 {
			req.Amount = entry.Amount
		}
		if req.SubscriptionID == nil {
			subID := entry.SubscriptionID
			req.SubscriptionID = &subID
		}
	}
	if req.Amount <= 0 {
		return domain.ChargeResult{}, domain.ErrInvalidAmount
	}

	policy := s.policy.Get()
	now := s.clock.Now()
	payment := &ledgerdomain.Payment{
		ID:              s.genID.Generate(),
		PayerID:         payer.ID,
		SubscriptionID:  req.SubscriptionID,
		ScheduleEntryID: req.ScheduleEntryID,
		Amount:          req.Amount,
		Currency:        policy.Currency,
		Description:     strings.TrimSpace(req.Description),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if req.ScheduledDate != nil && clock.Date(*req.ScheduledDate).After(clock.Date(now)) {
		scheduledFor := clock.Date(*req.ScheduledDate)
		payment.Status = ledgerdomain.PaymentStatusScheduled
		payment.ScheduledFor = &scheduledFor
		if err := s.repo.InsertPayment(ctx, s.db, payment); err != nil {
			return domain.ChargeResult{}, err
		}
		s.metrics.RecordCharge(ctx, sourceCharge, string(domain.OutcomeScheduled), 0)
		return domain.ChargeResult{
			PaymentID: payment.ID,
			Status:    payment.Status,
			Outcome:   domain.OutcomeScheduled,
			Amount:    payment.Amount,
		}, nil
	}

	var priorAttempts int64
	if entry != nil {
		open, err := s.repo.FindOpenPaymentForEntry(ctx, s.db, entry.ID)
		if err != nil {
			return domain.ChargeResult{}, err
		}
		if open != nil {
			return domain.ChargeResult{PaymentID: open.ID, Status: open.Status, Amount: open.Amount}, domain.ErrChargeInProgress
		}
		priorAttempts, err = s.repo.CountPaymentsForEntry(ctx, s.db, entry.ID)
		if err != nil {
			return domain.ChargeResult{}, err
		}
	}

	source, err := s.resolvePaymentMethod(ctx, payer)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentMethodRequired) {
			s.metrics.RecordCharge(ctx, sourceCharge, "payment_method_required", 0)
		}
		return domain.ChargeResult{}, err
	}

	payment.Status = ledgerdomain.PaymentStatusPending
	payment.PaymentMethodID = &source.paymentMethodID
	payment.LastAttemptAt = &now
	if err := s.repo.InsertPayment(ctx, s.db, payment); err != nil {
		return domain.ChargeResult{}, err
	}

	key := chargeIdempotencyKey(payer.ID, entry, priorAttempts, payment, req.IdempotencyKey)
	intent, chargeErr := s.gateway.CreatePaymentIntent(ctx, gatewaydomain.PaymentIntentInput{
		CustomerID:      source.customerID,
		PaymentMethodID: source.paymentMethodID,
		Amount:          payment.Amount,
		Currency:        payment.Currency,
		Description:     payment.Description,
		IdempotencyKey:  key,
		Metadata:        chargeMetadata(payment, source),
	})
	return s.applyOutcome(ctx, payment, source, intent, chargeErr, sourceCharge)
}

// RetryPayment claims a failed payment by moving it back to pending, then
// charges it again. The retry count is incremented by the claim, so a
// crashed attempt still counts toward the cap.
func (s *Service) RetryPayment(ctx context.Context, paymentID snowflake.ID) (domain.ChargeResult, error) {
	payment, err := s.repo.FindPayment(ctx, s.db, paymentID)
	if err != nil {
		return domain.ChargeResult{}, err
	}
	if payment == nil {
		return domain.ChargeResult{}, domain.ErrPaymentNotFound
	}
	if payment.Status != ledgerdomain.PaymentStatusFailed {
		return domain.ChargeResult{}, domain.ErrPaymentNotRetryable
	}
	payer, err := s.repo.FindPayer(ctx, s.db, payment.PayerID)
	if err != nil {
		return domain.ChargeResult{}, err
	}
	if payer == nil {
		return domain.ChargeResult{}, domain.ErrPayerNotFound
	}

	now := s.clock.Now()
	claimed, err := s.repo.ApplyPaymentAttempt(ctx, s.db, ledgerdomain.PaymentAttempt{
		PaymentID:      payment.ID,
		From:           []ledgerdomain.PaymentStatus{ledgerdomain.PaymentStatusFailed},
		Status:         ledgerdomain.PaymentStatusPending,
		IncrementRetry: true,
		AttemptedAt:    now,
	})
	if err != nil {
		return domain.ChargeResult{}, err
	}
	if !claimed {
		return domain.ChargeResult{}, domain.ErrPaymentNotRetryable
	}
	payment.Status = ledgerdomain.PaymentStatusPending
	payment.RetryCount++

	source, err := s.resolvePaymentMethod(ctx, payer)
	if err != nil {
		reason := metricsReason(err)
		if _, markErr := s.repo.ApplyPaymentAttempt(ctx, s.db, ledgerdomain.PaymentAttempt{
			PaymentID:     payment.ID,
			Status:        ledgerdomain.PaymentStatusFailed,
			FailureReason: &reason,
			AttemptedAt:   now,
		}); markErr != nil {
			return domain.ChargeResult{}, errors.Join(err, markErr)
		}
		s.metrics.RecordCharge(ctx, sourceRetry, reason, 0)
		return domain.ChargeResult{
			PaymentID:     payment.ID,
			Status:        ledgerdomain.PaymentStatusFailed,
			Outcome:       domain.OutcomeFailed,
			Amount:        payment.Amount,
			FailureReason: reason,
		}, err
	}

	intent, chargeErr := s.gateway.CreatePaymentIntent(ctx, gatewaydomain.PaymentIntentInput{
		CustomerID:      source.customerID,
		PaymentMethodID: source.paymentMethodID,
		Amount:          payment.Amount,
		Currency:        payment.Currency,
		Description:     payment.Description,
		IdempotencyKey:  "retry:" + payment.ID.String() + ":" + strconv.Itoa(payment.RetryCount),
		Metadata:        chargeMetadata(payment, source),
	})
	return s.applyOutcome(ctx, payment, source, intent, chargeErr, sourceRetry)
}

// applyOutcome maps the processor response onto the pending payment.
func (s *Service) applyOutcome(
	ctx context.Context,
	payment *ledgerdomain.Payment,
	source paymentSource,
	intent *gatewaydomain.PaymentIntent,
	chargeErr error,
	origin string,
) (domain.ChargeResult, error) {
	now := s.clock.Now()
	result := domain.ChargeResult{
		PaymentID:        payment.ID,
		Amount:           payment.Amount,
		PaymentMethodID:  source.paymentMethodID,
		BillingContactID: source.payerID,
	}
	attempt := ledgerdomain.PaymentAttempt{
		PaymentID:       payment.ID,
		PaymentMethodID: &source.paymentMethodID,
		AttemptedAt:     now,
	}

	var retErr error
	if chargeErr != nil {
		var reason string
		switch {
		case errors.Is(chargeErr, gatewaydomain.ErrUnknownOutcome):
			attempt.Status = ledgerdomain.PaymentStatusPending
			result.Outcome = domain.OutcomeUnknown
			reason = ledgerdomain.FailureReasonUnknownOutcome
		case errors.Is(chargeErr, gatewaydomain.ErrAuthenticationRequired):
			attempt.Status = ledgerdomain.PaymentStatusRequiresAction
			result.Outcome = domain.OutcomeRequiresAction
			reason = string(gatewaydomain.KindAuthenticationRequired)
			retErr = fmt.Errorf("%w: %v", domain.ErrAuthenticationRequired, chargeErr)
		case errors.Is(chargeErr, gatewaydomain.ErrCardDeclined):
			attempt.Status = ledgerdomain.PaymentStatusFailed
			result.Outcome = domain.OutcomeFailed
			reason = failureReason(chargeErr)
			retErr = fmt.Errorf("%w: %v", domain.ErrCardDeclined, chargeErr)
		default:
			attempt.Status = ledgerdomain.PaymentStatusFailed
			result.Outcome = domain.OutcomeFailed
			reason = failureReason(chargeErr)
			retErr = chargeErr
		}
		attempt.FailureReason = &reason
		result.FailureReason = reason
	} else {
		processorID := intent.ID
		attempt.ProcessorID = &processorID
		result.ProcessorID = processorID
		switch intent.Status {
		case gatewaydomain.IntentSucceeded:
			attempt.Status = ledgerdomain.PaymentStatusCompleted
			result.Outcome = domain.OutcomeSucceeded
		case gatewaydomain.IntentRequiresAction, gatewaydomain.IntentRequiresConfirmation:
			reason := string(gatewaydomain.KindAuthenticationRequired)
			attempt.Status = ledgerdomain.PaymentStatusRequiresAction
			attempt.FailureReason = &reason
			result.Outcome = domain.OutcomeRequiresAction
			result.FailureReason = reason
			retErr = domain.ErrAuthenticationRequired
		case gatewaydomain.IntentRequiresPaymentMethod, gatewaydomain.IntentCanceled:
			reason := strings.TrimSpace(intent.LastError)
			if reason == "" {
				reason = string(intent.Status)
			}
			attempt.Status = ledgerdomain.PaymentStatusFailed
			attempt.FailureReason = &reason
			result.Outcome = domain.OutcomeFailed
			result.FailureReason = reason
			retErr = domain.ErrCardDeclined
		default:
			attempt.Status = ledgerdomain.PaymentStatusPending
			result.Outcome = domain.OutcomeProcessing
		}
	}
	result.Status = attempt.Status

	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("payment_id", payment.ID.String()),
		zap.String("billing_contact_id", source.payerID.String()),
		zap.String("source", origin),
	)

	applied, err := s.repo.ApplyPaymentAttempt(ctx, s.db, attempt)
	if errors.Is(err, ledgerdomain.ErrDuplicateProcessorID) {
		// A concurrent request already owns this processor charge.
		reason := reasonDuplicateRequest
		if _, markErr := s.repo.ApplyPaymentAttempt(ctx, s.db, ledgerdomain.PaymentAttempt{
			PaymentID:     payment.ID,
			Status:        ledgerdomain.PaymentStatusFailed,
			FailureReason: &reason,
			AttemptedAt:   now,
		}); markErr != nil {
			return result, errors.Join(err, markErr)
		}
		log.Warn("charge.duplicate_request", zap.String("processor_id", result.ProcessorID))
		return domain.ChargeResult{PaymentID: payment.ID, Status: ledgerdomain.PaymentStatusFailed, FailureReason: reason}, domain.ErrChargeInProgress
	}
	if err != nil {
		return result, err
	}
	if !applied {
		// The webhook got there first; report what it recorded.
		stored, err := s.repo.FindPayment(ctx, s.db, payment.ID)
		if err != nil {
			return result, err
		}
		if stored != nil {
			result.Status = stored.Status
			payment = stored
		}
	} else {
		payment.Status = attempt.Status
	}

	if payment.Status == ledgerdomain.PaymentStatusCompleted {
		if err := s.settler.Settle(ctx, s.db, payment, now); err != nil {
			return result, err
		}
	}

	s.metrics.RecordCharge(ctx, origin, string(result.Outcome), payment.Amount)
	fields := []zap.Field{zap.String("outcome", string(result.Outcome))}
	if result.FailureReason != "" {
		fields = append(fields, zap.String("failure_reason", result.FailureReason))
	}
	if chargeErr != nil {
		log.Warn("charge.attempted", append(fields, zap.Error(chargeErr))...)
	} else {
		log.Info("charge.attempted", fields...)
	}
	return result, retErr
}

// resolvePaymentMethod walks the payer and then, one level up, the payer's
// parent. A processor lookup failure is returned as is so callers can tell
// it apart from a missing method.
func (s *Service) resolvePaymentMethod(ctx context.Context, payer *ledgerdomain.Payer) (paymentSource, error) {
	source, ok, err := s.storedMethod(ctx, payer)
	if err != nil || ok {
		return source, err
	}
	if payer.ParentID == nil {
		return paymentSource{}, domain.ErrPaymentMethodRequired
	}
	parent, err := s.repo.FindPayer(ctx, s.db, *payer.ParentID)
	if err != nil {
		return paymentSource{}, err
	}
	if parent == nil {
		return paymentSource{}, domain.ErrPaymentMethodRequired
	}
	source, ok, err = s.storedMethod(ctx, parent)
	if err != nil {
		return paymentSource{}, err
	}
	if !ok {
		return paymentSource{}, domain.ErrPaymentMethodRequired
	}
	return source, nil
}

func (s *Service) storedMethod(ctx context.Context, payer *ledgerdomain.Payer) (paymentSource, bool, error) {
	if payer.ProcessorCustomerID == nil || strings.TrimSpace(*payer.ProcessorCustomerID) == "" {
		return paymentSource{}, false, nil
	}
	source := paymentSource{payerID: payer.ID, customerID: *payer.ProcessorCustomerID}
	if payer.DefaultPaymentMethodID != nil && strings.TrimSpace(*payer.DefaultPaymentMethodID) != "" {
		source.paymentMethodID = *payer.DefaultPaymentMethodID
		return source, true, nil
	}

	methodID, err := s.gateway.DefaultPaymentMethod(ctx, source.customerID)
	if err != nil {
		return paymentSource{}, false, err
	}
	if methodID == "" {
		return paymentSource{}, false, nil
	}
	if err := s.repo.SetPayerDefaultPaymentMethod(ctx, s.db, payer.ID, methodID, s.clock.Now()); err != nil {
		return paymentSource{}, false, err
	}
	source.paymentMethodID = methodID
	return source, true, nil
}

func (s *Service) ensureCustomer(ctx context.Context, payer *ledgerdomain.Payer) (string, error) {
	if payer.ProcessorCustomerID != nil && strings.TrimSpace(*payer.ProcessorCustomerID) != "" {
		return *payer.ProcessorCustomerID, nil
	}
	customer, err := s.gateway.FindOrCreateCustomer(ctx, gatewaydomain.CustomerInput{
		PayerID: payer.ID.String(),
		Email:   payer.Email,
		Name:    payer.Name,
	})
	if err != nil {
		return "", err
	}
	if err := s.repo.SetPayerProcessorCustomer(ctx, s.db, payer.ID, customer.ID, s.clock.Now()); err != nil {
		return "", err
	}
	return customer.ID, nil
}

// chargeIdempotencyKey is stable for one logical charge. Schedule entries
// include the number of earlier attempts so a declined entry can be charged
// again after the payer updates their card.
func chargeIdempotencyKey(payerID snowflake.ID, entry *ledgerdomain.ScheduleEntry, priorAttempts int64, payment *ledgerdomain.Payment, clientKey string) string {
	if entry != nil {
		return fmt.Sprintf("charge:%s:%s:%d", payerID, entry.ID, priorAttempts)
	}
	token := strings.TrimSpace(clientKey)
	if token == "" {
		token = payment.ID.String()
	}
	subscription := ""
	if payment.SubscriptionID != nil {
		subscription = payment.SubscriptionID.String()
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{
		payerID.String(),
		strconv.FormatInt(payment.Amount, 10),
		payment.Currency,
		payment.Description,
		subscription,
		token,
	}, "|")))
	return "charge:" + payerID.String() + ":" + hex.EncodeToString(sum[:16])
}

func chargeMetadata(payment *ledgerdomain.Payment, source paymentSource) map[string]string {
	metadata := map[string]string{
		"payer_id":           payment.PayerID.String(),
		"payment_id":         payment.ID.String(),
		"billing_contact_id": source.payerID.String(),
		"purpose":            sourceCharge,
	}
	if payment.ScheduleEntryID != nil {
		metadata["schedule_entry_id"] = payment.ScheduleEntryID.String()
	}
	if payment.SubscriptionID != nil {
		metadata["subscription_id"] = payment.SubscriptionID.String()
	}
	return metadata
}

func recurringInterval(freq ledgerdomain.BillingFrequency) (string, int64) {
	switch freq {
	case ledgerdomain.BillingFrequencyWeekly:
		return "week", 1
	case ledgerdomain.BillingFrequencyQuarterly:
		return "month", 3
	case ledgerdomain.BillingFrequencyAnnually:
		return "year", 1
	default:
		return "month", 1
	}
}

func productName(description string, plan *ledgerdomain.Plan) string {
	if name := strings.TrimSpace(description); name != "" {
		return name
	}
	if plan != nil {
		return plan.Name
	}
	return "Dojo payment"
}

func failureReason(err error) string {
	var procErr *gatewaydomain.ProcessorError
	if errors.As(err, &procErr) {
		return procErr.FailureReason()
	}
	return "processor_error"
}

func metricsReason(err error) string {
	if errors.Is(err, domain.ErrPaymentMethodRequired) {
		return domain.ErrPaymentMethodRequired.Error()
	}
	return failureReason(err)
}
