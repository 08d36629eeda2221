package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"autoposter/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverDayGuard uses the primary guard and switches to the fallback while
// the primary is failing, probing it again after recoveryInterval.
type FailoverDayGuard struct {
	primary   domain.DayGuard
	fallback  domain.DayGuard
	logger    *zerolog.Logger
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverDayGuard(primary, fallback domain.DayGuard, logger *zerolog.Logger) *FailoverDayGuard {
	return &FailoverDayGuard{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverDayGuard) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.lastCheck) > recoveryInterval
}

func (r *FailoverDayGuard) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary day guard failed, falling back to memory")
	}
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

func (r *FailoverDayGuard) Claim(ctx context.Context, userID string, day time.Time) (bool, error) {
	if r.usePrimary() {
		ok, err := r.primary.Claim(ctx, userID, day)
		if err == nil {
			if r.isDown.Swap(false) {
				r.logger.Info().Msg("Primary day guard recovered")
			}
			return ok, nil
		}
		r.markDown(err)
	}
	return r.fallback.Claim(ctx, userID, day)
}

// Release clears the claim in both guards; the fallback may hold it from an outage.
func (r *FailoverDayGuard) Release(ctx context.Context, userID string, day time.Time) error {
	_ = r.fallback.Release(ctx, userID, day)
	if err := r.primary.Release(ctx, userID, day); err != nil {
		r.markDown(err)
	}
	return nil
}
