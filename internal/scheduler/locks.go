package scheduler

import (
	"context"
	"errors"

	"github.com/smallbiznis/dojopay/internal/ratelimit"
	"go.uber.org/zap"
)

const sweepLockPrefix = "sweep:"

// acquireSweepLock takes the per-job redis lock. Without redis, or when
// redis fails, the sweep runs unlocked.
func (s *Scheduler) acquireSweepLock(ctx context.Context, job string) (func(), bool) {
	noop := func() {}
	if s.locker == nil {
		return noop, true
	}
	key := sweepLockPrefix + job
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		if !errors.Is(err, ratelimit.ErrLockNotConfigured) {
			s.logger(ctx).Warn("scheduler.lock.failed", zap.String("job", job), zap.Error(err))
		}
		return noop, true
	}
	if !ok {
		return noop, false
	}
	return func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger(ctx).Warn("scheduler.lock.release_failed", zap.String("job", job), zap.Error(err))
		}
	}, true
}
