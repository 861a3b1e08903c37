package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	checkoutdomain "github.com/smallbiznis/dojopay/internal/checkout/domain"
)

const headerIdempotencyKey = "Idempotency-Key"

type createCheckoutSessionRequest struct {
	PayerID     string          `json:"payer_id" binding:"required"`
	PlanID      string          `json:"plan_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" binding:"max=500"`
	Purpose     string          `json:"purpose" binding:"required,oneof=subscription one_time"`
	SuccessURL  string          `json:"success_url" binding:"required,url"`
	CancelURL   string          `json:"cancel_url" binding:"required,url"`
}

func (s *Server) CreateCheckoutSession(c *gin.Context) {
	var req createCheckoutSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	payerID, err := parseRequiredID("payer_id", req.PayerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	planID, err := parseOptionalSnowflakeID(req.PlanID)
	if err != nil {
		AbortWithError(c, newValidationError("plan_id", "invalid_plan_id", "invalid plan id"))
		return
	}

	var amount int64
	if !req.Amount.IsZero() {
		amount, err = dollarsToCents(req.Amount)
		if err != nil {
			AbortWithError(c, err)
			return
		}
	}

	resp, err := s.checkout.CreateCheckoutSession(c.Request.Context(), checkoutdomain.CheckoutRequest{
		PayerID:     payerID,
		PlanID:      planID,
		Amount:      amount,
		Description: strings.TrimSpace(req.Description),
		Purpose:     checkoutdomain.Purpose(req.Purpose),
		SuccessURL:  strings.TrimSpace(req.SuccessURL),
		CancelURL:   strings.TrimSpace(req.CancelURL),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type createChargeRequest struct {
	PayerID         string          `json:"payer_id" binding:"required"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description" binding:"max=500"`
	ScheduleEntryID string          `json:"schedule_entry_id"`
	SubscriptionID  string          `json:"subscription_id"`
	ScheduledDate   string          `json:"scheduled_date"`
}

// CreateCharge charges a payer's stored method. Amounts arrive in dollars.
func (s *Server) CreateCharge(c *gin.Context) {
	var req createChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindError(err))
		return
	}

	payerID, err := parseRequiredID("payer_id", req.PayerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	amount, err := dollarsToCents(req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	entryID, err := parseOptionalSnowflakeID(req.ScheduleEntryID)
	if err != nil {
		AbortWithError(c, newValidationError("schedule_entry_id", "invalid_schedule_entry_id", "invalid schedule entry id"))
		return
	}
	subscriptionID, err := parseOptionalSnowflakeID(req.SubscriptionID)
	if err != nil {
		AbortWithError(c, newValidationError("subscription_id", "invalid_subscription_id", "invalid subscription id"))
		return
	}
	scheduledDate, err := parseOptionalTime(req.ScheduledDate, false)
	if err != nil {
		AbortWithError(c, newValidationError("scheduled_date", "invalid_scheduled_date", "scheduled date must be YYYY-MM-DD"))
		return
	}

	result, err := s.checkout.ChargeStoredMethod(c.Request.Context(), checkoutdomain.ChargeRequest{
		PayerID:         payerID,
		Amount:          amount,
		Description:     strings.TrimSpace(req.Description),
		ScheduleEntryID: entryID,
		SubscriptionID:  subscriptionID,
		ScheduledDate:   scheduledDate,
		IdempotencyKey:  strings.TrimSpace(c.GetHeader(headerIdempotencyKey)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	switch result.Outcome {
	case checkoutdomain.OutcomeSucceeded:
		c.JSON(http.StatusOK, gin.H{"data": result})
	case checkoutdomain.OutcomeUnknown:
		c.JSON(http.StatusAccepted, gin.H{
			"data": result,
			"error": errorPayload{
				Type:    "payment_processing",
				Message: "payment outcome is not yet known; it will be reconciled",
			},
		})
	default:
		c.JSON(http.StatusAccepted, gin.H{"data": result})
	}
}

// dollarsToCents converts a positive dollar amount with at most two decimal
// places.
func dollarsToCents(amount decimal.Decimal) (int64, error) {
	if amount.Sign() <= 0 {
		return 0, newValidationError("amount", "invalid_amount", "amount must be positive")
	}
	cents := amount.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, newValidationError("amount", "invalid_amount", "amount has more than two decimal places")
	}
	return cents.IntPart(), nil
}

func parseRequiredID(field, value string) (snowflake.ID, error) {
	id, err := parseOptionalSnowflakeID(value)
	if err != nil || id == nil {
		return 0, newValidationError(field, "invalid_"+field, "invalid "+strings.ReplaceAll(field, "_", " "))
	}
	return *id, nil
}
