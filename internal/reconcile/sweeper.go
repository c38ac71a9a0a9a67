// Package reconcile runs the periodic safety nets: re-driving orders whose
// trigger was lost, expiring unpaid orders and watching the failure rate.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/fortune-orders/internal/orders"
	"go.uber.org/zap"
)

const (
	jobSweep = "reconcile"

	reasonPaymentTimeout = "Payment timeout"
)

type Store interface {
	ListByStatus(ctx context.Context, status orders.Status, before time.Time, limit int) ([]*orders.Order, error)
	Rearm(ctx context.Context, id string, observedUpdatedAt time.Time) error
	MarkPaymentFailed(ctx context.Context, id, reason string) error
}

type Fulfiller interface {
	Fulfill(ctx context.Context, orderID string) (bool, error)
}

// Locker is satisfied by redisx.Locker.
type Locker interface {
	TryRun(ctx context.Context, job string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error)
}

type Config struct {
	Interval       time.Duration
	StuckAfter     time.Duration
	PaymentTimeout time.Duration
	BatchSize      int
}

// Report counts what one sweep did.
type Report struct {
	Rearmed   int
	Redriven  int
	Completed int
	Expired   int
}

type Sweeper struct {
	cfg    Config
	store  Store
	saga   Fulfiller
	locker Locker
	log    *zap.Logger
	now    func() time.Time
}

func NewSweeper(cfg Config, store Store, saga Fulfiller, locker Locker, log *zap.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 15 * time.Minute
	}
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = 30 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{cfg: cfg, store: store, saga: saga, locker: locker, log: log.Named("reconcile"), now: time.Now}
}

// Run sweeps every interval until ctx is cancelled. Only one replica sweeps
// at a time when a Locker is set.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Tick runs one sweep under the job lock. It reports false when another
// replica holds the lock.
func (s *Sweeper) Tick(ctx context.Context) (bool, error) {
	if s.locker == nil {
		_, err := s.Sweep(ctx)
		return true, err
	}
	return s.locker.TryRun(ctx, jobSweep, s.cfg.Interval, func(ctx context.Context) error {
		_, err := s.Sweep(ctx)
		return err
	})
}

// Sweep re-arms stuck generating orders, re-drives paid orders nobody
// claimed and fails orders whose payment never arrived.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var (
		rep  Report
		errs []error
	)
	now := s.now()
	stuckBefore := now.Add(-s.cfg.StuckAfter)

	stuck, err := s.store.ListByStatus(ctx, orders.StatusGenerating, stuckBefore, s.cfg.BatchSize)
	if err != nil {
		errs = append(errs, err)
	}
	for _, o := range stuck {
		log := s.log.With(zap.String("order_id", o.ID), zap.Time("updated_at", o.UpdatedAt))
		if err := s.store.Rearm(ctx, o.ID, o.UpdatedAt); err != nil {
			if !errors.Is(err, orders.ErrInvalidTransition) {
				errs = append(errs, err)
			}
			log.Info("stuck order moved on, not re-armed", zap.Error(err))
			continue
		}
		rep.Rearmed++
		log.Warn("stuck order re-armed")
		s.redrive(ctx, log, o.ID, &rep, &errs)
	}

	paid, err := s.store.ListByStatus(ctx, orders.StatusPaid, stuckBefore, s.cfg.BatchSize)
	if err != nil {
		errs = append(errs, err)
	}
	for _, o := range paid {
		log := s.log.With(zap.String("order_id", o.ID))
		log.Warn("paid order never claimed, re-driving")
		s.redrive(ctx, log, o.ID, &rep, &errs)
	}

	expired, err := s.store.ListByStatus(ctx, orders.StatusPendingPayment, now.Add(-s.cfg.PaymentTimeout), s.cfg.BatchSize)
	if err != nil {
		errs = append(errs, err)
	}
	for _, o := range expired {
		if err := s.store.MarkPaymentFailed(ctx, o.ID, reasonPaymentTimeout); err != nil {
			if !errors.Is(err, orders.ErrInvalidTransition) {
				errs = append(errs, err)
			}
			continue
		}
		rep.Expired++
		s.log.Info("order payment timed out", zap.String("order_id", o.ID))
	}

	if rep != (Report{}) {
		s.log.Info("sweep done",
			zap.Int("rearmed", rep.Rearmed),
			zap.Int("redriven", rep.Redriven),
			zap.Int("completed", rep.Completed),
			zap.Int("expired", rep.Expired))
	}
	return rep, errors.Join(errs...)
}

func (s *Sweeper) redrive(ctx context.Context, log *zap.Logger, id string, rep *Report, errs *[]error) {
	rep.Redriven++
	ok, err := s.saga.Fulfill(ctx, id)
	if err != nil {
		log.Error("re-driven fulfillment failed", zap.Error(err))
		*errs = append(*errs, err)
		return
	}
	if ok {
		rep.Completed++
	}
}
