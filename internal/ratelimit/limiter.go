package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Class partitions quotas by endpoint weight: interactive chat and the
// heavier grounded-analysis endpoints carry independent quotas.
type Class string

const (
	ClassChat     Class = "chat"
	ClassAnalysis Class = "analysis"
)

type Quota struct {
	Limit  int
	Window time.Duration
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter admits or rejects a request for a (user, class) pair. It must be
// consulted strictly before any upstream provider call.
type Limiter interface {
	Admit(ctx context.Context, userID uint64, class Class) (Decision, error)
}

// MemoryLimiter is a process-local sliding-window log limiter. Contention is
// naturally partitioned by key, so a single mutex over the map is enough.
type MemoryLimiter struct {
	mu     sync.Mutex
	quotas map[Class]Quota
	hits   map[string][]time.Time
	now    func() time.Time
}

func NewMemoryLimiter(quotas map[Class]Quota) *MemoryLimiter {
	return &MemoryLimiter{
		quotas: quotas,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

func (l *MemoryLimiter) Admit(ctx context.Context, userID uint64, class Class) (Decision, error) {
	_ = ctx
	q, ok := l.quotas[class]
	if !ok || q.Limit <= 0 || q.Window <= 0 {
		return Decision{Allowed: true}, nil
	}

	key := fmt.Sprintf("%d:%s", userID, class)
	now := l.now()
	cutoff := now.Add(-q.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	window := l.hits[key]
	kept := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= q.Limit {
		l.hits[key] = kept
		return Decision{
			Allowed:    false,
			RetryAfter: kept[0].Add(q.Window).Sub(now),
		}, nil
	}

	l.hits[key] = append(kept, now)
	return Decision{Allowed: true}, nil
}
