package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/ariefcatur/fortune-orders/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type failingSink struct{}

func (failingSink) AppendAudit(context.Context, orders.AuditEntry) error {
	return errors.New("db down")
}

func TestRecorderWritesEntries(t *testing.T) {
	store := orders.NewMemoryStore()
	r := NewRecorder(store, zap.NewNop())
	o := &orders.Order{ID: "ORD_9", UserID: 42}

	r.Success(context.Background(), o, orders.OpGenerationCall, map[string]any{"attempts": 1})
	r.Failure(context.Background(), o, orders.OpRefund, nil, errors.New("gateway said no"))

	gen := store.AuditEntries(orders.OpGenerationCall)
	require.Len(t, gen, 1)
	assert.Equal(t, orders.OutcomeSuccess, gen[0].Outcome)
	assert.Equal(t, int64(42), gen[0].UserID)

	ref := store.AuditEntries(orders.OpRefund)
	require.Len(t, ref, 1)
	assert.Equal(t, orders.OutcomeFailed, ref[0].Outcome)
	assert.Equal(t, "gateway said no", ref[0].Error)
}

func TestRecorderSurvivesCancelledContext(t *testing.T) {
	store := orders.NewMemoryStore()
	r := NewRecorder(store, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r.Success(ctx, &orders.Order{ID: "ORD_1"}, orders.OpCommissionUpdate, nil)
	assert.Len(t, store.AuditEntries(orders.OpCommissionUpdate), 1)
}

func TestRecorderSwallowsSinkErrors(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	r := NewRecorder(failingSink{}, zap.New(core))

	r.Success(context.Background(), &orders.Order{ID: "ORD_1"}, orders.OpRefund, nil)
	assert.Equal(t, 1, logs.FilterMessage("audit write failed").Len())
}
