package orders

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises behaviour every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	newOrder := func(t *testing.T, s Store, amount string, code *string) *Order {
		t.Helper()
		o := &Order{
			ID:          NewOrderID(time.Now()) + "_" + uuid.NewString()[:4],
			UserID:      42,
			ProductID:   5,
			ProductName: "Bazi Chart",
			Language:    "en",
			Amount:      decimal.RequireFromString(amount),
			Currency:    "USD",
			UserInput:   map[string]any{"birthday": "1990-05-17"},
		}
		if code != nil {
			rate := decimal.RequireFromString("0.20")
			comm := o.Amount.Mul(rate).Round(2)
			o.ReferralCode, o.CommissionRate, o.CommissionAmount = code, &rate, &comm
		}
		require.NoError(t, s.Create(ctx, o))
		return o
	}

	newAccount := func(t *testing.T, s Store) string {
		t.Helper()
		code := "REF" + uuid.NewString()[:8]
		require.NoError(t, s.CreateReferralAccount(ctx, &ReferralAccount{Code: code, UserID: 7, Tier: 1}))
		return code
	}

	credit := func(acc ReferralAccount, o *Order) AccountUpdate {
		return AccountUpdate{
			TotalSales:      acc.TotalSales.Add(o.Amount),
			TotalCommission: acc.TotalCommission.Add(*o.CommissionAmount),
			Tier:            acc.Tier,
			Credited:        *o.CommissionAmount,
		}
	}

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		o := newOrder(t, s, "29.99", nil)
		got, err := s.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPendingPayment, got.Status)
		assert.True(t, got.Amount.Equal(decimal.RequireFromString("29.99")))
		assert.Equal(t, "1990-05-17", got.InputString("birthday"))

		_, err = s.Get(ctx, "ORD_missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("claim only from paid", func(t *testing.T) {
		s := newStore(t)
		o := newOrder(t, s, "9.99", nil)

		_, err := s.Claim(ctx, o.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)

		paid, err := s.MarkPaid(ctx, o.ID, "PAY1", "card")
		require.NoError(t, err)
		assert.Equal(t, "PAY1", *paid.PaymentID)

		claimed, err := s.Claim(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusGenerating, claimed.Status)

		_, err = s.Claim(ctx, o.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)

		_, err = s.Claim(ctx, "ORD_missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent claims admit one winner", func(t *testing.T) {
		s := newStore(t)
		o := newOrder(t, s, "9.99", nil)
		_, err := s.MarkPaid(ctx, o.ID, "", "")
		require.NoError(t, err)

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Claim(ctx, o.ID); err == nil {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)
	})

	t.Run("enrichment persisted only while generating", func(t *testing.T) {
		s := newStore(t)
		o := newOrder(t, s, "29.99", nil)
		payload := json.RawMessage(`{"day_master":"甲"}`)
		assert.ErrorIs(t, s.SaveEnrichment(ctx, o.ID, payload), ErrInvalidTransition)

		_, err := s.MarkPaid(ctx, o.ID, "", "")
		require.NoError(t, err)
		_, err = s.Claim(ctx, o.ID)
		require.NoError(t, err)
		require.NoError(t, s.SaveEnrichment(ctx, o.ID, payload))

		got, err := s.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.JSONEq(t, string(payload), string(got.Enrichment))
	})

	t.Run("complete applies commission once", func(t *testing.T) {
		s := newStore(t)
		code := newAccount(t, s)
		o := newOrder(t, s, "29.99", &code)
		_, err := s.MarkPaid(ctx, o.ID, "", "")
		require.NoError(t, err)
		_, err = s.Claim(ctx, o.ID)
		require.NoError(t, err)

		upd, err := s.Complete(ctx, o.ID, "report", credit)
		require.NoError(t, err)
		require.NotNil(t, upd)

		_, err = s.Complete(ctx, o.ID, "report", credit)
		assert.ErrorIs(t, err, ErrAlreadyCompleted)

		acc, err := s.GetReferralAccount(ctx, code)
		require.NoError(t, err)
		assert.True(t, acc.TotalSales.Equal(decimal.RequireFromString("29.99")), acc.TotalSales.String())
		assert.True(t, acc.TotalCommission.Equal(decimal.RequireFromString("6.00")), acc.TotalCommission.String())

		got, err := s.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		assert.True(t, got.CommissionApplied)
		assert.NotNil(t, got.CompletedAt)
		assert.Equal(t, "report", *got.Content)
	})

	t.Run("failure then refund", func(t *testing.T) {
		s := newStore(t)
		o := newOrder(t, s, "29.99", nil)
		_, err := s.MarkPaid(ctx, o.ID, "", "")
		require.NoError(t, err)
		_, err = s.Claim(ctx, o.ID)
		require.NoError(t, err)

		require.NoError(t, s.MarkFailed(ctx, o.ID, "generation failed: timeout"))
		require.NoError(t, s.MarkRefunded(ctx, o.ID))
		assert.ErrorIs(t, s.MarkRefunded(ctx, o.ID), ErrInvalidTransition)

		got, err := s.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusRefunded, got.Status)
		assert.Equal(t, "generation failed: timeout", *got.ErrorDetail)
	})

	t.Run("payment failure is terminal", func(t *testing.T) {
		s := newStore(t)
		o := newOrder(t, s, "4.99", nil)
		require.NoError(t, s.MarkPaymentFailed(ctx, o.ID, "cancelled"))
		_, err := s.MarkPaid(ctx, o.ID, "", "")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("rearm requires unchanged order", func(t *testing.T) {
		s := newStore(t)
		o := newOrder(t, s, "9.99", nil)
		_, err := s.MarkPaid(ctx, o.ID, "", "")
		require.NoError(t, err)
		claimed, err := s.Claim(ctx, o.ID)
		require.NoError(t, err)

		stuck, err := s.ListByStatus(ctx, StatusGenerating, time.Now().Add(time.Hour), 1000)
		require.NoError(t, err)
		assert.True(t, containsOrder(stuck, o.ID))

		assert.ErrorIs(t, s.Rearm(ctx, o.ID, claimed.UpdatedAt.Add(-time.Minute)), ErrInvalidTransition)
		require.NoError(t, s.Rearm(ctx, o.ID, claimed.UpdatedAt))

		got, err := s.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPaid, got.Status)
	})

	t.Run("referral bound once", func(t *testing.T) {
		s := newStore(t)
		first := newAccount(t, s)
		second := newAccount(t, s)
		user := time.Now().UnixNano()

		bound, err := s.BindReferral(ctx, user, first)
		require.NoError(t, err)
		assert.Equal(t, first, bound)

		bound, err = s.BindReferral(ctx, user, second)
		require.NoError(t, err)
		assert.Equal(t, first, bound)

		_, err = s.BindReferral(ctx, user+1, "NOPE"+uuid.NewString()[:4])
		assert.True(t, errors.Is(err, ErrAccountNotFound))
	})

	t.Run("audit stats", func(t *testing.T) {
		s := newStore(t)
		since := time.Now().Add(-time.Minute)
		before, err := s.AuditStats(ctx, since)
		require.NoError(t, err)

		require.NoError(t, s.AppendAudit(ctx, AuditEntry{Operation: OpRefund, Outcome: OutcomeSuccess}))
		require.NoError(t, s.AppendAudit(ctx, AuditEntry{Operation: OpGenerationCall, Outcome: OutcomeFailed, Error: "timeout"}))

		after, err := s.AuditStats(ctx, since)
		require.NoError(t, err)
		assert.Equal(t, before.Total+2, after.Total)
		assert.Equal(t, before.Failed+1, after.Failed)
	})
}

func containsOrder(list []*Order, id string) bool {
	for _, o := range list {
		if o.ID == id {
			return true
		}
	}
	return false
}
