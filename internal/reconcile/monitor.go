package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/fortune-orders/internal/orders"
	"go.uber.org/zap"
)

const alertFailureRate = "failure_rate"

type StatsSource interface {
	AuditStats(ctx context.Context, since time.Time) (orders.AuditStats, error)
}

type Alerter interface {
	NotifyOperator(ctx context.Context, msg string) error
}

// Gate reports whether an alert of kind may fire and, if so, starts its
// cooldown. redisx.Cooldown bound to a client satisfies it.
type Gate func(ctx context.Context, kind string, cooldown time.Duration) (bool, error)

type MonitorConfig struct {
	Interval   time.Duration
	Window     time.Duration
	Threshold  float64
	MinSamples int
	Cooldown   time.Duration
}

// Monitor alerts operators when the share of failed external calls in the
// recent window exceeds the threshold.
type Monitor struct {
	cfg   MonitorConfig
	stats StatsSource
	alert Alerter
	gate  Gate
	log   *zap.Logger
	now   func() time.Time
}

func NewMonitor(cfg MonitorConfig, stats StatsSource, alert Alerter, gate Gate, log *zap.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Minute
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.05
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 10
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{cfg: cfg, stats: stats, alert: alert, gate: gate, log: log.Named("monitor"), now: time.Now}
}

func (m *Monitor) Run(ctx context.Context) error {
	t := time.NewTicker(m.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := m.Check(ctx); err != nil && ctx.Err() == nil {
				m.log.Error("failure rate check", zap.Error(err))
			}
		}
	}
}

// Check reports whether an alert was sent.
func (m *Monitor) Check(ctx context.Context) (bool, error) {
	st, err := m.stats.AuditStats(ctx, m.now().Add(-m.cfg.Window))
	if err != nil {
		return false, err
	}
	if st.Total < m.cfg.MinSamples {
		m.log.Debug("not enough samples", zap.Int("total", st.Total))
		return false, nil
	}
	rate := st.FailureRate()
	if rate <= m.cfg.Threshold {
		return false, nil
	}
	if m.gate != nil {
		open, err := m.gate(ctx, alertFailureRate, m.cfg.Cooldown)
		if err != nil {
			return false, err
		}
		if !open {
			m.log.Debug("alert cooling down", zap.Float64("rate", rate))
			return false, nil
		}
	}
	msg := fmt.Sprintf("failure rate %.2f%% over the last %s: %d of %d operations failed (threshold %.0f%%)",
		rate*100, m.cfg.Window, st.Failed, st.Total, m.cfg.Threshold*100)
	m.log.Warn("failure rate above threshold",
		zap.Float64("rate", rate), zap.Int("failed", st.Failed), zap.Int("total", st.Total))
	if err := m.alert.NotifyOperator(ctx, msg); err != nil {
		return false, err
	}
	return true, nil
}
