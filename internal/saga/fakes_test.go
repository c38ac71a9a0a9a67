package saga

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ariefcatur/fortune-orders/internal/enrichment"
	"github.com/ariefcatur/fortune-orders/internal/generation"
	"github.com/ariefcatur/fortune-orders/internal/orders"
)

type fakeEnricher struct {
	calls atomic.Int32
	err   error
}

func (f *fakeEnricher) Fetch(_ context.Context, req enrichment.Request) (*enrichment.Chart, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &enrichment.Chart{
		Name:      req.Name,
		Birthday:  req.Birthday,
		BirthTime: req.BirthTime,
		Gender:    req.Gender,
		Bazi:      []byte(`{"day_master":"甲木"}`),
	}, nil
}

type fakeGenerator struct {
	calls  atomic.Int32
	budget time.Duration
	fn     func(ctx context.Context, req generation.Request) (string, error)

	mu   sync.Mutex
	reqs []generation.Request
}

func (f *fakeGenerator) Budget() time.Duration { return f.budget }

func (f *fakeGenerator) Generate(ctx context.Context, req generation.Request) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, req)
	}
	return "Your reading: calm waters ahead.", nil
}

func (f *fakeGenerator) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reqs) == 0 {
		return ""
	}
	return f.reqs[len(f.reqs)-1].Prompt
}

type fakeRefunder struct {
	store *orders.MemoryStore
	err   error

	mu      sync.Mutex
	reasons []string
}

func (f *fakeRefunder) Refund(ctx context.Context, o *orders.Order, reason string) error {
	f.mu.Lock()
	f.reasons = append(f.reasons, reason)
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	return f.store.MarkRefunded(ctx, o.ID)
}

func (f *fakeRefunder) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reasons...)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingNotifier) add(s string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, s)
	return nil
}

func (r *recordingNotifier) NotifyPaymentConfirmed(_ context.Context, o *orders.Order) error {
	return r.add("payment_confirmed:" + o.ID)
}

func (r *recordingNotifier) NotifyReportReady(_ context.Context, o *orders.Order, _ string) error {
	return r.add("report_ready:" + o.ID)
}

func (r *recordingNotifier) NotifyGenerationFailed(_ context.Context, orderID string, free bool) error {
	return r.add(fmt.Sprintf("generation_failed:%s:%t", orderID, free))
}

func (r *recordingNotifier) NotifyOperator(_ context.Context, msg string) error {
	return r.add("operator:" + msg)
}

func (r *recordingNotifier) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

type recordingEmitter struct {
	mu        sync.Mutex
	finalized []orders.OrderFinalizedPayload
}

func (r *recordingEmitter) Emit(_ context.Context, _ string, eventType string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := payload.(orders.OrderFinalizedPayload); ok && eventType == orders.EventOrderFinalized {
		r.finalized = append(r.finalized, p)
	}
	return nil
}

func (r *recordingEmitter) all() []orders.OrderFinalizedPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]orders.OrderFinalizedPayload(nil), r.finalized...)
}
