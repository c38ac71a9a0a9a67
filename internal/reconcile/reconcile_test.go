package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/fortune-orders/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type claimingFulfiller struct {
	store *orders.MemoryStore
	ids   []string
}

func (f *claimingFulfiller) Fulfill(ctx context.Context, id string) (bool, error) {
	f.ids = append(f.ids, id)
	if _, err := f.store.Claim(ctx, id); err != nil {
		return false, nil
	}
	_, err := f.store.Complete(ctx, id, "report", nil)
	return err == nil, err
}

type busyLocker struct{}

func (busyLocker) TryRun(context.Context, string, time.Duration, func(context.Context) error) (bool, error) {
	return false, nil
}

type inlineLocker struct{ jobs []string }

func (l *inlineLocker) TryRun(ctx context.Context, job string, _ time.Duration, fn func(context.Context) error) (bool, error) {
	l.jobs = append(l.jobs, job)
	return true, fn(ctx)
}

type sweepFixture struct {
	store *orders.MemoryStore
	clock time.Time
	saga  *claimingFulfiller
}

func newSweepFixture() *sweepFixture {
	f := &sweepFixture{clock: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
	f.store = orders.NewMemoryStore().WithClock(func() time.Time { return f.clock })
	f.saga = &claimingFulfiller{store: f.store}
	return f
}

func (f *sweepFixture) order(t *testing.T, id string, to orders.Status) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, &orders.Order{ID: id, ProductID: 2, Amount: decimal.RequireFromString("4.99")}))
	if to == orders.StatusPendingPayment {
		return
	}
	_, err := f.store.MarkPaid(ctx, id, "PAY_"+id, "card")
	require.NoError(t, err)
	if to == orders.StatusGenerating {
		_, err = f.store.Claim(ctx, id)
		require.NoError(t, err)
	}
}

func (f *sweepFixture) sweeper(locker Locker) *Sweeper {
	s := NewSweeper(Config{StuckAfter: 15 * time.Minute, PaymentTimeout: 30 * time.Minute}, f.store, f.saga, locker, zap.NewNop())
	s.now = func() time.Time { return f.clock }
	return s
}

func (f *sweepFixture) status(t *testing.T, id string) orders.Status {
	t.Helper()
	o, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return o.Status
}

func TestSweepRedrivesStuckAndUnclaimedOrders(t *testing.T) {
	f := newSweepFixture()
	f.clock = f.clock.Add(-time.Hour)
	f.order(t, "ORD_expired", orders.StatusPendingPayment)
	f.clock = f.clock.Add(time.Hour)
	f.order(t, "ORD_stuck", orders.StatusGenerating)
	f.order(t, "ORD_lost", orders.StatusPaid)
	f.order(t, "ORD_waiting", orders.StatusPendingPayment)

	f.clock = f.clock.Add(20 * time.Minute)
	f.order(t, "ORD_fresh", orders.StatusGenerating)

	rep, err := f.sweeper(nil).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Rearmed: 1, Redriven: 2, Completed: 2, Expired: 1}, rep)

	assert.Equal(t, orders.StatusCompleted, f.status(t, "ORD_stuck"))
	assert.Equal(t, orders.StatusCompleted, f.status(t, "ORD_lost"))
	assert.Equal(t, orders.StatusGenerating, f.status(t, "ORD_fresh"))
	assert.Equal(t, orders.StatusPendingPayment, f.status(t, "ORD_waiting"))

	expired, err := f.store.Get(context.Background(), "ORD_expired")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusFailed, expired.Status)
	require.NotNil(t, expired.ErrorDetail)
	assert.Equal(t, "Payment timeout", *expired.ErrorDetail)
}

func TestSweepSkipsWhenLockHeld(t *testing.T) {
	f := newSweepFixture()
	f.order(t, "ORD_stuck", orders.StatusGenerating)
	f.clock = f.clock.Add(time.Hour)

	ran, err := f.sweeper(busyLocker{}).Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, orders.StatusGenerating, f.status(t, "ORD_stuck"))
	assert.Empty(t, f.saga.ids)

	l := &inlineLocker{}
	ran, err = f.sweeper(l).Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, []string{"reconcile"}, l.jobs)
	assert.Equal(t, orders.StatusCompleted, f.status(t, "ORD_stuck"))
}

type fixedStats struct {
	st  orders.AuditStats
	err error
}

func (s fixedStats) AuditStats(context.Context, time.Time) (orders.AuditStats, error) {
	return s.st, s.err
}

type alerts struct{ msgs []string }

func (a *alerts) NotifyOperator(_ context.Context, msg string) error {
	a.msgs = append(a.msgs, msg)
	return nil
}

func memoryGate() Gate {
	var mu sync.Mutex
	open := map[string]bool{}
	return func(_ context.Context, kind string, _ time.Duration) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		if open[kind] {
			return false, nil
		}
		open[kind] = true
		return true, nil
	}
}

func TestMonitorAlertsAboveThresholdOnce(t *testing.T) {
	a := &alerts{}
	m := NewMonitor(MonitorConfig{}, fixedStats{st: orders.AuditStats{Total: 40, Failed: 4}}, a, memoryGate(), zap.NewNop())

	sent, err := m.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, sent)
	require.Len(t, a.msgs, 1)
	assert.Contains(t, a.msgs[0], "10.00%")
	assert.Contains(t, a.msgs[0], "4 of 40")

	sent, err = m.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Len(t, a.msgs, 1)
}

func TestMonitorQuietCases(t *testing.T) {
	cases := map[string]orders.AuditStats{
		"too few samples": {Total: 9, Failed: 9},
		"at threshold":    {Total: 100, Failed: 5},
		"healthy":         {Total: 100, Failed: 1},
	}
	for name, st := range cases {
		t.Run(name, func(t *testing.T) {
			a := &alerts{}
			m := NewMonitor(MonitorConfig{}, fixedStats{st: st}, a, memoryGate(), zap.NewNop())
			sent, err := m.Check(context.Background())
			require.NoError(t, err)
			assert.False(t, sent)
			assert.Empty(t, a.msgs)
		})
	}
}

func TestMonitorPropagatesStatsError(t *testing.T) {
	m := NewMonitor(MonitorConfig{}, fixedStats{err: errors.New("db down")}, &alerts{}, nil, zap.NewNop())
	_, err := m.Check(context.Background())
	assert.Error(t, err)
}

func TestMonitorReadsStoreWindow(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	clock := now.Add(-time.Hour)
	store := orders.NewMemoryStore().WithClock(func() time.Time { return clock })
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, store.AppendAudit(ctx, orders.AuditEntry{Operation: orders.OpGenerationCall, Outcome: orders.OutcomeFailed}))
	}
	clock = now.Add(-time.Minute)
	for i := 0; i < 10; i++ {
		require.NoError(t, store.AppendAudit(ctx, orders.AuditEntry{Operation: orders.OpGenerationCall, Outcome: orders.OutcomeSuccess}))
	}

	a := &alerts{}
	m := NewMonitor(MonitorConfig{}, store, a, memoryGate(), zap.NewNop())
	m.now = func() time.Time { return now }
	sent, err := m.Check(ctx)
	require.NoError(t, err)
	assert.False(t, sent, "failures outside the window must not count")
}
