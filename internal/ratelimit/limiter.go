package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/dojopay/internal/config"
)

const (
	keyChargePayer     = "charge:payer:%s"
	keyChargePayerLock = "charge:lock:%s"

	chargeLockTTL = 30 * time.Second
)

// ChargeLimiter throttles charge attempts per payer and serializes
// concurrent charges for the same payer. A nil limiter allows everything.
type ChargeLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	rate  float64
	burst int
}

func NewChargeLimiter(cfg config.Config, client *redis.Client) (*ChargeLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit requires REDIS_ADDR")
	}
	if limitCfg.ChargeRate <= 0 || limitCfg.ChargeBurst <= 0 {
		return nil, errors.New("charge rate limit must be positive")
	}
	return &ChargeLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
		rate:    limitCfg.ChargeRate,
		burst:   limitCfg.ChargeBurst,
	}, nil
}

func (l *ChargeLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *ChargeLimiter) AllowPayer(ctx context.Context, payerID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, payerKey(keyChargePayer, payerID), l.rate, l.burst)
}

func (l *ChargeLimiter) TryLockPayer(ctx context.Context, payerID string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, payerKey(keyChargePayerLock, payerID), chargeLockTTL)
}

func (l *ChargeLimiter) ReleasePayer(ctx context.Context, payerID, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, payerKey(keyChargePayerLock, payerID), token)
}

func payerKey(format, payerID string) string {
	return fmt.Sprintf(format, strings.TrimSpace(payerID))
}
