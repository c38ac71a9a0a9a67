package checkout

import (
	"context"
	"testing"

	"github.com/ariefcatur/fortune-orders/internal/commission"
	"github.com/ariefcatur/fortune-orders/internal/fault"
	"github.com/ariefcatur/fortune-orders/internal/orders"
	"github.com/ariefcatur/fortune-orders/internal/products"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type paidEvent struct {
	orderID string
	payload orders.OrderPaidPayload
}

type recordingEmitter struct{ paid []paidEvent }

func (r *recordingEmitter) Emit(_ context.Context, orderID, eventType string, payload any) error {
	if eventType == orders.EventOrderPaid {
		r.paid = append(r.paid, paidEvent{orderID, payload.(orders.OrderPaidPayload)})
	}
	return nil
}

func newService(t *testing.T) (*Service, *orders.MemoryStore, *recordingEmitter) {
	t.Helper()
	store := orders.NewMemoryStore()
	ev := &recordingEmitter{}
	return NewService(store, products.Default(), commission.Default(), ev, zap.NewNop()), store, ev
}

func TestCheckoutPaidProductWaitsForPayment(t *testing.T) {
	svc, _, ev := newService(t)

	o, err := svc.Checkout(context.Background(), Request{UserID: 1, ProductID: products.BaziChart, Input: map[string]any{"birthday": "1990-05-17"}})
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPendingPayment, o.Status)
	assert.Equal(t, "29.99", o.Amount.StringFixed(2))
	assert.Equal(t, "Bazi Chart", o.ProductName)
	assert.Regexp(t, `^ORD_\d+_[0-9A-F]{8}$`, o.ID)
	assert.Nil(t, o.ReferralCode)
	assert.Empty(t, ev.paid)
}

func TestCheckoutFreeProductIsPaidImmediately(t *testing.T) {
	svc, store, ev := newService(t)

	o, err := svc.Checkout(context.Background(), Request{UserID: 1, ProductID: products.DailyTarot, Language: "zh"})
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, o.Status)
	assert.Equal(t, "每日塔罗", o.ProductName)

	require.Len(t, ev.paid, 1)
	assert.Equal(t, o.ID, ev.paid[0].orderID)
	assert.Equal(t, orders.SourceFree, ev.paid[0].payload.Source)

	got, err := store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, got.Status)
}

func TestCheckoutFreezesCommission(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, store.CreateReferralAccount(ctx, &orders.ReferralAccount{
		Code: "AGENT1", UserID: 99, Tier: 2, TotalSales: decimal.RequireFromString("1500"),
	}))

	o, err := svc.Checkout(ctx, Request{UserID: 5, ProductID: products.BaziChart, ReferralCode: "agent1"})
	require.NoError(t, err)
	require.NotNil(t, o.ReferralCode)
	assert.Equal(t, "AGENT1", *o.ReferralCode)
	assert.Equal(t, "0.25", o.CommissionRate.StringFixed(2))
	assert.Equal(t, "7.50", o.CommissionAmount.StringFixed(2))

	// The binding sticks: a later checkout without a code is still attributed.
	o2, err := svc.Checkout(ctx, Request{UserID: 5, ProductID: products.WeeklyHoroscope})
	require.NoError(t, err)
	require.NotNil(t, o2.ReferralCode)
	assert.Equal(t, "AGENT1", *o2.ReferralCode)
}

func TestCheckoutReferralBoundOnce(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, store.CreateReferralAccount(ctx, &orders.ReferralAccount{Code: "FIRST", UserID: 90, Tier: 1}))
	require.NoError(t, store.CreateReferralAccount(ctx, &orders.ReferralAccount{Code: "SECOND", UserID: 91, Tier: 1}))

	_, err := svc.Checkout(ctx, Request{UserID: 5, ProductID: products.NameInterpretation, ReferralCode: "FIRST"})
	require.NoError(t, err)
	o, err := svc.Checkout(ctx, Request{UserID: 5, ProductID: products.NameInterpretation, ReferralCode: "SECOND"})
	require.NoError(t, err)
	assert.Equal(t, "FIRST", *o.ReferralCode)
}

func TestCheckoutIgnoresUnknownAndSelfReferral(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, store.CreateReferralAccount(ctx, &orders.ReferralAccount{Code: "SELF", UserID: 5, Tier: 1}))

	o, err := svc.Checkout(ctx, Request{UserID: 6, ProductID: products.Compatibility, ReferralCode: "NOPE"})
	require.NoError(t, err)
	assert.Nil(t, o.ReferralCode)

	o, err = svc.Checkout(ctx, Request{UserID: 5, ProductID: products.Compatibility, ReferralCode: "SELF"})
	require.NoError(t, err)
	assert.Nil(t, o.CommissionAmount)
}

func TestCheckoutRejectsInvalidRequests(t *testing.T) {
	svc, _, _ := newService(t)
	for name, req := range map[string]Request{
		"missing user":    {ProductID: products.DailyTarot},
		"unknown product": {UserID: 1, ProductID: 42},
		"bad language":    {UserID: 1, ProductID: products.DailyTarot, Language: "klingon"},
	} {
		_, err := svc.Checkout(context.Background(), req)
		assert.True(t, fault.Is(err, fault.Validation), name)
	}
}

func TestCheckoutFreezesThresholdBonus(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, store.CreateReferralAccount(ctx, &orders.ReferralAccount{
		Code: "AGENT2", UserID: 99, Tier: 4, TotalSales: decimal.RequireFromString("7990"),
	}))

	o, err := svc.Checkout(ctx, Request{UserID: 5, ProductID: products.BaziChart, ReferralCode: "AGENT2"})
	require.NoError(t, err)
	assert.Equal(t, "0.35", o.CommissionRate.StringFixed(2))
	// 29.99 * 0.35 plus the 500 bonus for crossing 8000.
	assert.Equal(t, "510.50", o.CommissionAmount.StringFixed(2))
}
