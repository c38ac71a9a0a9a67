package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ariefcatur/fortune-orders/internal/audit"
	"github.com/ariefcatur/fortune-orders/internal/fault"
	"github.com/ariefcatur/fortune-orders/internal/notify"
	"github.com/ariefcatur/fortune-orders/internal/orders"
	"github.com/ariefcatur/fortune-orders/internal/payment"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	HeaderSignature = "X-Signature"
	maxWebhookBody  = 1 << 20
)

type Payments interface {
	MockMode() bool
	ProcessWebhook(ctx context.Context, payload map[string]any, signature string) (*payment.WebhookResult, error)
	SimulatePayment(ctx context.Context, orderID, status string) (*payment.WebhookResult, error)
}

type Emitter interface {
	Emit(ctx context.Context, orderID, eventType string, payload any) error
}

// PaymentsHandler accepts gateway webhooks and, in mock mode, simulated payments.
type PaymentsHandler struct {
	Payments Payments
	Notifier notify.Notifier
	Events   Emitter
	Cache    StatusCache
	Audit    *audit.Recorder
	Log      *zap.Logger
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Post("/webhooks/payment", h.webhook)
	r.Post("/orders/{id}/simulate-payment", h.simulate)
}

func (h *PaymentsHandler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	payload, err := payment.DecodePayload(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	sig := r.Header.Get(HeaderSignature)
	if sig == "" {
		if s, ok := payload["signature"].(string); ok {
			sig = s
		}
	}
	if sig == "" {
		writeError(w, http.StatusUnauthorized, "missing signature")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Payments.ProcessWebhook(ctx, payload, sig)
	if err != nil {
		h.Audit.Failure(ctx, nil, orders.OpPaymentWebhook, map[string]any{"kind": fault.KindOf(err).String()}, err)
		if fault.Is(err, fault.Persistence) {
			h.Log.Error("webhook not applied", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "try again")
			return
		}
		writeError(w, http.StatusBadRequest, "webhook rejected")
		return
	}
	h.settled(ctx, res)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"order_id":  res.OrderID,
		"duplicate": res.Duplicate,
	})
}

func (h *PaymentsHandler) simulate(w http.ResponseWriter, r *http.Request) {
	if !h.Payments.MockMode() {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	status := r.URL.Query().Get("status")
	if status == "" {
		status = payment.StatusPaid
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Payments.SimulatePayment(ctx, chi.URLParam(r, "id"), status)
	switch {
	case errors.Is(err, orders.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.settled(ctx, res)
	writeJSON(w, http.StatusOK, map[string]any{
		"order_id":  res.OrderID,
		"status":    res.Status,
		"duplicate": res.Duplicate,
	})
}

// settled runs the side effects of an accepted payment outcome. A confirmed
// payment publishes the fulfillment trigger; a lost publish is picked up by
// the reconciliation sweep.
func (h *PaymentsHandler) settled(ctx context.Context, res *payment.WebhookResult) {
	log := h.Log.With(zap.String("order_id", res.OrderID), zap.String("status", res.Status))
	h.Audit.Success(ctx, res.Order, orders.OpPaymentWebhook, map[string]any{
		"status":    res.Status,
		"duplicate": res.Duplicate,
	})
	if h.Cache != nil {
		if err := h.Cache.Invalidate(ctx, res.OrderID); err != nil {
			log.Warn("invalidate status cache", zap.Error(err))
		}
	}
	if res.Duplicate || res.Status != payment.StatusPaid {
		return
	}
	if err := h.Events.Emit(ctx, res.OrderID, orders.EventOrderPaid, orders.OrderPaidPayload{
		OrderID: res.OrderID,
		Source:  orders.SourceWebhook,
	}); err != nil {
		log.Error("publish order paid", zap.Error(err))
	}
	if res.Order != nil {
		if err := h.Notifier.NotifyPaymentConfirmed(ctx, res.Order); err != nil {
			log.Error("notify payment confirmed", zap.Error(err))
		}
	}
}
