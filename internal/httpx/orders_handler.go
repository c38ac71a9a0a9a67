package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/ariefcatur/fortune-orders/internal/checkout"
	"github.com/ariefcatur/fortune-orders/internal/fault"
	"github.com/ariefcatur/fortune-orders/internal/orders"
	"github.com/ariefcatur/fortune-orders/internal/products"
	"github.com/ariefcatur/fortune-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type OrderReader interface {
	Get(ctx context.Context, id string) (*orders.Order, error)
}

type LinkCreator interface {
	CreatePaymentLink(ctx context.Context, o *orders.Order, returnURL, cancelURL string) (string, error)
}

// StatusCache is satisfied by redisx.StatusCache.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (*redisx.OrderStatus, bool)
	Set(ctx context.Context, st redisx.OrderStatus) error
	Invalidate(ctx context.Context, orderID string) error
}

type OrdersHandler struct {
	Checkout      *checkout.Service
	Orders        OrderReader
	Links         LinkCreator
	Catalog       *products.Catalog
	Cache         StatusCache
	PublicBaseURL string
	Log           *zap.Logger
}

type CreateOrderResp struct {
	OrderID         string `json:"order_id"`
	Status          string `json:"status"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	PaymentRequired bool   `json:"payment_required"`
}

type productView struct {
	ID                 int      `json:"id"`
	Name               string   `json:"name"`
	Price              string   `json:"price"`
	Fields             []string `json:"fields,omitempty"`
	RequiresEnrichment bool     `json:"requires_enrichment"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/payment-link", h.paymentLink)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	lang := r.URL.Query().Get("lang")
	ps := h.Catalog.All()
	out := make([]productView, 0, len(ps))
	for _, p := range ps {
		out = append(out, productView{
			ID:                 p.ID,
			Name:               p.Name(lang),
			Price:              p.Price.StringFixed(2),
			Fields:             p.Fields,
			RequiresEnrichment: p.RequiresEnrichment,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req checkout.Request
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Checkout.Checkout(ctx, req)
	if err != nil {
		if fault.Is(err, fault.Validation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.Log.Error("checkout", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "checkout failed")
		return
	}
	writeJSON(w, http.StatusCreated, CreateOrderResp{
		OrderID:         o.ID,
		Status:          string(o.Status),
		Amount:          o.Amount.StringFixed(2),
		Currency:        o.Currency,
		PaymentRequired: o.Status == orders.StatusPendingPayment,
	})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Cache != nil {
		if st, ok := h.Cache.Get(ctx, orderID); ok {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	o, err := h.Orders.Get(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		h.Log.Error("get order", zap.String("order_id", orderID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	st := h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, st)
}

func (h *OrdersHandler) paymentLink(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	o, err := h.Orders.Get(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	q := url.Values{"order_id": {o.ID}}.Encode()
	link, err := h.Links.CreatePaymentLink(ctx, o,
		h.PublicBaseURL+"/payment/success?"+q,
		h.PublicBaseURL+"/payment/cancel?"+q)
	switch {
	case errors.Is(err, orders.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "order is not awaiting payment")
		return
	case err != nil:
		h.Log.Error("create payment link", zap.String("order_id", o.ID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "payment gateway unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": o.ID, "url": link})
}

// cacheStatus caches orders in a final status only, so a cached answer is never
// overtaken by a later transition.
func (h *OrdersHandler) cacheStatus(ctx context.Context, o *orders.Order) redisx.OrderStatus {
	st := redisx.OrderStatus{OrderID: o.ID, Status: string(o.Status)}
	if h.Cache != nil && o.Status.Final() {
		if err := h.Cache.Set(ctx, st); err != nil {
			h.Log.Warn("cache order status", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	return st
}
