package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryDayGuard keeps day claims in process memory.
type MemoryDayGuard struct {
	mu     sync.Mutex
	claims map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
}

func NewMemoryDayGuard(ttl time.Duration) *MemoryDayGuard {
	return &MemoryDayGuard{
		claims: make(map[string]time.Time),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (r *MemoryDayGuard) Claim(_ context.Context, userID string, day time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for key, expires := range r.claims {
		if now.After(expires) {
			delete(r.claims, key)
		}
	}

	key := dayKey(userID, day)
	if _, ok := r.claims[key]; ok {
		return false, nil
	}
	r.claims[key] = now.Add(r.ttl)
	return true, nil
}

func (r *MemoryDayGuard) Release(_ context.Context, userID string, day time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claims, dayKey(userID, day))
	return nil
}
