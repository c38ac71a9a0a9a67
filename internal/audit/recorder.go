// Package audit records external calls and their outcomes.
package audit

import (
	"context"
	"time"

	"github.com/ariefcatur/fortune-orders/internal/orders"
	"go.uber.org/zap"
)

// Sink is satisfied by orders.Store.
type Sink interface {
	AppendAudit(ctx context.Context, e orders.AuditEntry) error
}

// Recorder never fails the caller: a write error is logged and dropped.
type Recorder struct {
	sink Sink
	log  *zap.Logger
}

func NewRecorder(sink Sink, log *zap.Logger) *Recorder {
	return &Recorder{sink: sink, log: log}
}

func (r *Recorder) Success(ctx context.Context, o *orders.Order, op orders.Operation, detail map[string]any) {
	r.record(ctx, o, op, orders.OutcomeSuccess, detail, nil)
}

func (r *Recorder) Failure(ctx context.Context, o *orders.Order, op orders.Operation, detail map[string]any, err error) {
	r.record(ctx, o, op, orders.OutcomeFailed, detail, err)
}

func (r *Recorder) record(ctx context.Context, o *orders.Order, op orders.Operation, outcome orders.Outcome, detail map[string]any, err error) {
	e := orders.AuditEntry{
		Operation: op,
		Outcome:   outcome,
		Detail:    detail,
	}
	if o != nil {
		e.OrderID = o.ID
		e.UserID = o.UserID
	}
	if err != nil {
		e.Error = err.Error()
	}
	// Detached so a cancelled saga still leaves its trail.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if werr := r.sink.AppendAudit(wctx, e); werr != nil {
		r.log.Error("audit write failed",
			zap.String("order_id", e.OrderID),
			zap.String("operation", string(op)),
			zap.Error(werr))
	}
}
