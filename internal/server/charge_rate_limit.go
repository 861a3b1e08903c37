package server

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/dojopay/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	rateLimitReasonPayerRate        = "payer-rate"
	rateLimitReasonPayerConcurrency = "payer-concurrency"
)

type chargeRateLimitKey struct {
	PayerID string `json:"payer_id"`
}

// ChargeRateLimit throttles charges per payer and holds a per-payer lock for
// the duration of the request.
func (s *Server) ChargeRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		payerID, err := readChargePayerID(c)
		if err != nil {
			logger.FromContext(ctx).Warn("charge rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}
		if payerID == "" {
			// Binding reports the missing payer.
			c.Next()
			return
		}

		res, err := s.limiter.AllowPayer(ctx, payerID)
		if err != nil {
			logger.FromContext(ctx).Warn("charge rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			denyChargeRateLimit(c, rateLimitReasonPayerRate, strconv.Itoa(retryAfter))
			return
		}

		token, acquired, err := s.limiter.TryLockPayer(ctx, payerID)
		if err != nil {
			logger.FromContext(ctx).Warn("charge concurrency lock failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !acquired {
			denyChargeRateLimit(c, rateLimitReasonPayerConcurrency, "1")
			return
		}
		defer func() {
			if err := s.limiter.ReleasePayer(ctx, payerID, token); err != nil {
				logger.FromContext(ctx).Warn("charge concurrency unlock failed", zap.Error(err))
			}
		}()

		c.Next()
	}
}

func denyChargeRateLimit(c *gin.Context, reason, retryAfter string) {
	logger.FromContext(c.Request.Context()).Warn("charge rate limit exceeded",
		zap.String("reason", reason),
	)
	c.Header("Retry-After", retryAfter)
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

func readChargePayerID(c *gin.Context) (string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "", nil
	}

	var payload chargeRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}
	return strings.TrimSpace(payload.PayerID), nil
}
