// Package retry runs adapter calls with exponential backoff and a per-attempt
// timeout that doubles on every retry.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/fortune-orders/internal/fault"
	"go.uber.org/zap"
)

type Policy struct {
	// MaxRetries is the number of attempts after the first.
	MaxRetries  int
	BaseTimeout time.Duration
	BackoffUnit time.Duration
	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Attempt describes one try. Index 0 is the first call.
type Attempt struct {
	Index   int
	Timeout time.Duration
}

// AttemptTimeout is BaseTimeout * 2^k.
func (p Policy) AttemptTimeout(k int) time.Duration {
	return p.BaseTimeout << uint(k)
}

// Backoff is the wait before attempt k: none before the first, then 2^(k-1) units.
func (p Policy) Backoff(k int) time.Duration {
	if k <= 0 {
		return 0
	}
	return p.BackoffUnit << uint(k-1)
}

func (p Policy) Attempts() int { return p.MaxRetries + 1 }

// TotalAttemptTime sums every attempt timeout.
func (p Policy) TotalAttemptTime() time.Duration {
	var total time.Duration
	for k := 0; k < p.Attempts(); k++ {
		total += p.AttemptTimeout(k)
	}
	return total
}

// Do calls fn until it succeeds, returns a non-retryable error, or the attempts
// run out. A Parse failure is retried at most once more.
func Do[T any](ctx context.Context, p Policy, log *zap.Logger, op string, fn func(ctx context.Context, a Attempt) (T, error)) (T, error) {
	var (
		zero      T
		lastErr   error
		parseErrs int
	)
	if log == nil {
		log = zap.NewNop()
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	for k := 0; k < p.Attempts(); k++ {
		if wait := p.Backoff(k); wait > 0 {
			if err := sleep(ctx, wait); err != nil {
				return zero, fault.New(fault.Transient, op, errors.Join(lastErr, err))
			}
		}
		a := Attempt{Index: k, Timeout: p.AttemptTimeout(k)}
		v, err := runAttempt(ctx, a, fn)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, fault.New(fault.Transient, op, errors.Join(err, ctx.Err()))
		}
		lastErr = err

		kind := fault.KindOf(err)
		if kind == fault.Parse {
			parseErrs++
		}
		log.Warn("attempt failed",
			zap.String("op", op),
			zap.Int("attempt", k+1),
			zap.Int("max_attempts", p.Attempts()),
			zap.Duration("timeout", a.Timeout),
			zap.Stringer("kind", kind),
			zap.Error(err),
		)
		if !fault.IsRetryable(err) || parseErrs > 1 {
			break
		}
	}
	if fault.KindOf(lastErr) == fault.Unknown {
		lastErr = fault.New(fault.Transient, op, lastErr)
	}
	return zero, lastErr
}

func runAttempt[T any](ctx context.Context, a Attempt, fn func(ctx context.Context, a Attempt) (T, error)) (T, error) {
	actx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()
	v, err := fn(actx, a)
	if err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil && fault.KindOf(err) == fault.Unknown {
		err = fault.New(fault.Transient, "attempt timeout", err)
	}
	return v, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
