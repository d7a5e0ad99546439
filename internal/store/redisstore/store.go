package redisstore

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/fretwise/fretwise/internal/ratelimit"
)

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// Limiter is a fixed-window counter shared across instances. Used when the
// relay runs behind more than one process and per-instance quotas are not
// acceptable.
type Limiter struct {
	store  *Store
	quotas map[ratelimit.Class]ratelimit.Quota
}

func NewLimiter(store *Store, quotas map[ratelimit.Class]ratelimit.Quota) *Limiter {
	return &Limiter{store: store, quotas: quotas}
}

func (l *Limiter) Admit(ctx context.Context, userID uint64, class ratelimit.Class) (ratelimit.Decision, error) {
	q, ok := l.quotas[class]
	if !ok || q.Limit <= 0 || q.Window <= 0 {
		return ratelimit.Decision{Allowed: true}, nil
	}

	key := fmt.Sprintf("rate:%d:%s", userID, class)
	n, err := l.store.rdb.Incr(ctx, key).Result()
	if err != nil {
		// Fail open: a redis outage should not take chat down with it.
		log.Printf("redisstore: rate counter incr failed key=%s err=%v", key, err)
		return ratelimit.Decision{Allowed: true}, nil
	}
	if n == 1 {
		if err := l.store.rdb.Expire(ctx, key, q.Window).Err(); err != nil {
			log.Printf("redisstore: rate counter expire failed key=%s err=%v", key, err)
		}
	}
	if n > int64(q.Limit) {
		ttl, err := l.store.rdb.TTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = q.Window
		}
		return ratelimit.Decision{Allowed: false, RetryAfter: ttl}, nil
	}
	return ratelimit.Decision{Allowed: true}, nil
}
