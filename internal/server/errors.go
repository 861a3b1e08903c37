package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	auditdomain "github.com/smallbiznis/dojopay/internal/audit/domain"
	"github.com/smallbiznis/dojopay/internal/authorization"
	checkoutdomain "github.com/smallbiznis/dojopay/internal/checkout/domain"
	"github.com/smallbiznis/dojopay/internal/config"
	freezedomain "github.com/smallbiznis/dojopay/internal/freeze/domain"
	gatewaydomain "github.com/smallbiznis/dojopay/internal/gateway/domain"
	ledgerdomain "github.com/smallbiznis/dojopay/internal/ledger/domain"
	refunddomain "github.com/smallbiznis/dojopay/internal/refund/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrRateLimited        = errors.New("rate_limited")
	ErrConfiguration      = errors.New("configuration_error")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// bindError turns a gin binding failure into field level validation errors.
func bindError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return invalidRequestError()
	}
	out := &ValidationErrors{}
	for _, fe := range fieldErrs {
		out.Errors = append(out.Errors, ValidationError{
			Field:   toSnake(fe.Field()),
			Code:    fe.Tag(),
			Message: "invalid value",
		})
	}
	return out
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if code, ok := validationErrorCode(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	if match, ok := matchAny(err, ErrUnauthorized); ok {
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: match.Error(),
		}
	}

	if match, ok := matchAny(err,
		checkoutdomain.ErrPaymentMethodRequired,
	); ok {
		return http.StatusPaymentRequired, errorPayload{
			Type:    "payment_method_required",
			Message: match.Error(),
		}
	}

	if _, ok := matchAny(err,
		checkoutdomain.ErrAuthenticationRequired,
		gatewaydomain.ErrAuthenticationRequired,
	); ok {
		return http.StatusPaymentRequired, errorPayload{
			Type:    "authentication_required",
			Message: "the payment method requires customer authentication",
		}
	}

	if _, ok := matchAny(err,
		checkoutdomain.ErrCardDeclined,
		gatewaydomain.ErrCardDeclined,
	); ok {
		return http.StatusPaymentRequired, errorPayload{
			Type:    "card_declined",
			Message: "the card was declined",
		}
	}

	if match, ok := matchAny(err,
		refunddomain.ErrRefundRejected,
	); ok {
		return http.StatusPaymentRequired, errorPayload{
			Type:    "refund_rejected",
			Message: match.Error(),
		}
	}

	if _, ok := matchAny(err,
		gatewaydomain.ErrUnknownOutcome,
	); ok {
		return http.StatusAccepted, errorPayload{
			Type:    "payment_processing",
			Message: "payment outcome is not yet known",
		}
	}

	if match, ok := matchAny(err,
		ErrForbidden,
		authorization.ErrForbidden,
	); ok {
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: match.Error(),
		}
	}

	if match, ok := matchAny(err,
		ErrNotFound,
		checkoutdomain.ErrPayerNotFound,
		checkoutdomain.ErrPlanNotFound,
		checkoutdomain.ErrPaymentNotFound,
		checkoutdomain.ErrScheduleEntryNotFound,
		freezedomain.ErrSubscriptionNotFound,
		freezedomain.ErrFreezeNotFound,
		refunddomain.ErrPaymentNotFound,
		ledgerdomain.ErrNotFound,
		gorm.ErrRecordNotFound,
	); ok {
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: match.Error(),
		}
	}

	if match, ok := matchAny(err,
		ErrConflict,
		checkoutdomain.ErrScheduleEntryNotPending,
		checkoutdomain.ErrChargeInProgress,
		checkoutdomain.ErrPaymentNotRetryable,
		freezedomain.ErrSubscriptionInactive,
		freezedomain.ErrFreezeEnded,
		refunddomain.ErrPaymentNotRefundable,
		refunddomain.ErrRefundExceedsPayment,
		ledgerdomain.ErrStatusConflict,
		ledgerdomain.ErrScheduleEntryDeleted,
		ledgerdomain.ErrDuplicateProcessorID,
	); ok {
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: match.Error(),
		}
	}

	if _, ok := matchAny(err, ErrRateLimited); ok {
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	}

	if match, ok := matchAny(err,
		ErrConfiguration,
		gatewaydomain.ErrInvalidConfig,
		config.ErrMissingStripeSecretKey,
		config.ErrMissingStripeWebhookSecret,
		config.ErrMissingSweepTriggerSecret,
	); ok {
		return http.StatusInternalServerError, errorPayload{
			Type:    "configuration_error",
			Message: match.Error(),
		}
	}

	if _, ok := matchAny(err,
		ErrServiceUnavailable,
		gatewaydomain.ErrUnavailable,
	); ok {
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

// classifyErrorForLog returns the response type and code for the access log.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	code := payload.Message
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	if status == http.StatusInternalServerError && payload.Type == "internal_error" {
		code = "internal_error"
	}
	return payload.Type, code
}

func matchAny(err error, targets ...error) (error, bool) {
	for _, target := range targets {
		if errors.Is(err, target) {
			return target, true
		}
	}
	return nil, false
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationErrorCode(err error) (string, bool) {
	match, ok := matchAny(err,
		ErrInvalidRequest,
		checkoutdomain.ErrInvalidPayer,
		checkoutdomain.ErrInvalidAmount,
		checkoutdomain.ErrInvalidPurpose,
		checkoutdomain.ErrInvalidRedirectURL,
		checkoutdomain.ErrPlanRequired,
		freezedomain.ErrInvalidSubscription,
		freezedomain.ErrInvalidFreeze,
		freezedomain.ErrInvalidDateRange,
		freezedomain.ErrInvalidAmount,
		refunddomain.ErrInvalidPayment,
		refunddomain.ErrInvalidAmount,
		ledgerdomain.ErrInvalidAmount,
		gatewaydomain.ErrInvalidRequest,
		auditdomain.ErrInvalidPageToken,
		auditdomain.ErrInvalidTimeRange,
	)
	if !ok {
		return "", false
	}
	return match.Error(), true
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	if code == "plan_required" {
		return "plan_id"
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "plan_required":
		return "a plan is required for subscriptions"
	default:
		return "invalid value"
	}
}

// toSnake maps Go field names like PayerID to payer_id.
func toSnake(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
