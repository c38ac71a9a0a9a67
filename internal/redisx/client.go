package redisx

import (
	"context"
	"fmt"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"time"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb redis.Cmdable, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// Dedup claims key for ttl. It reports false when the key was already claimed.
type Dedup struct {
	RDB     redis.Cmdable
	Service string
	TTL     time.Duration
}

func (d *Dedup) key(id string) string { return fmt.Sprintf(KeyDedup, d.Service, id) }

func (d *Dedup) Claim(ctx context.Context, id string) (bool, error) {
	ttl := d.TTL
	if ttl <= 0 {
		ttl = TTLDedup
	}
	return d.RDB.SetNX(ctx, d.key(id), "1", ttl).Result()
}

// Release forgets id so a redelivery is processed again.
func (d *Dedup) Release(ctx context.Context, id string) error {
	return d.RDB.Del(ctx, d.key(id)).Err()
}

// Cooldown reports whether kind may fire now and, if so, starts its cooldown.
func Cooldown(ctx context.Context, rdb redis.Cmdable, kind string, d time.Duration) (bool, error) {
	return rdb.SetNX(ctx, fmt.Sprintf(KeyAlertCooldown, kind), time.Now().UTC().Format(time.RFC3339), d).Result()
}

// Locker hands out per-job distributed locks.
type Locker struct {
	client *redislock.Client
}

func NewLocker(rdb redis.Cmdable) *Locker {
	return &Locker{client: redislock.New(rdb)}
}

// TryRun runs fn while holding the job lock. It reports false without running fn
// when another holder owns the lock. The lock is refreshed every ttl/2 for as
// long as fn runs; if a refresh fails fn's context is cancelled.
func (l *Locker) TryRun(ctx context.Context, job string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	lock, err := l.client.Obtain(ctx, fmt.Sprintf(KeyJobLock, job), ttl, nil)
	if err == redislock.ErrNotObtained {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("obtain %s lock: %w", job, err)
	}
	defer func() { _ = lock.Release(context.Background()) }()

	jctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		t := time.NewTicker(ttl / 2)
		defer t.Stop()
		for {
			select {
			case <-jctx.Done():
				return
			case <-t.C:
				if err := lock.Refresh(jctx, ttl, nil); err != nil && jctx.Err() == nil {
					cancel(fmt.Errorf("%s lock lost: %w", job, err))
					return
				}
			}
		}
	}()
	return true, fn(jctx)
}
