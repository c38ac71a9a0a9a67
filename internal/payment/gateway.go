// Package payment talks to the PingPong-style payment gateway: hosted payment
// links, signed webhooks and refunds.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ariefcatur/fortune-orders/internal/fault"
	"github.com/ariefcatur/fortune-orders/internal/orders"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrUnknownStatus    = errors.New("unknown payment status")
	ErrMissingOrderID   = errors.New("webhook without order_id")
	ErrNoPaymentID      = errors.New("order has no payment id")
	ErrNotMockMode      = errors.New("payment simulation requires mock mode")
)

const (
	StatusPaid      = "paid"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"

	defaultMockURL = "https://example.com/mock-pingpong-payment"
)

type Config struct {
	BaseURL    string
	MerchantID string
	APIKey     string
	Secret     string
	Currency   string
	NotifyURL  string
	Timeout    time.Duration
	// Mock skips the gateway: links are synthetic and refunds succeed locally.
	Mock    bool
	MockURL string
}

// OrderStore is the part of orders.Store the gateway mutates.
type OrderStore interface {
	Get(ctx context.Context, id string) (*orders.Order, error)
	MarkPaid(ctx context.Context, id, paymentID, method string) (*orders.Order, error)
	MarkPaymentFailed(ctx context.Context, id, reason string) error
	MarkRefunded(ctx context.Context, id string) error
}

type Gateway struct {
	cfg   Config
	store OrderStore
	http  *http.Client
	log   *zap.Logger
	now   func() time.Time
}

type Option func(*Gateway)

func WithHTTPClient(h *http.Client) Option { return func(g *Gateway) { g.http = h } }

func WithClock(now func() time.Time) Option { return func(g *Gateway) { g.now = now } }

func NewGateway(cfg Config, store OrderStore, log *zap.Logger, opts ...Option) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.MockURL == "" {
		cfg.MockURL = defaultMockURL
	}
	g := &Gateway{cfg: cfg, store: store, http: &http.Client{}, log: log.Named("payment"), now: time.Now}
	for _, o := range opts {
		o(g)
	}
	if cfg.Mock {
		g.log.Warn("payment gateway in mock mode", zap.Bool("mock", true))
	}
	return g
}

func (g *Gateway) MockMode() bool { return g.cfg.Mock }

func (g *Gateway) Sign(fields map[string]any) string { return Sign(fields, g.cfg.Secret) }

func (g *Gateway) VerifyWebhookSignature(payload map[string]any, signature string) bool {
	return Verify(payload, signature, g.cfg.Secret)
}

// CreatePaymentLink returns the hosted checkout URL for a pending order.
func (g *Gateway) CreatePaymentLink(ctx context.Context, o *orders.Order, returnURL, cancelURL string) (string, error) {
	if o.Status != orders.StatusPendingPayment {
		return "", fmt.Errorf("payment link for %s: %w", o.Status, orders.ErrInvalidTransition)
	}
	if g.cfg.Mock {
		link := g.cfg.MockURL + "?order_id=" + url.QueryEscape(o.ID)
		g.log.Warn("mock payment link", zap.String("order_id", o.ID), zap.Bool("mock", true))
		return link, nil
	}

	fields := map[string]any{
		"merchant_id": g.cfg.MerchantID,
		"order_id":    o.ID,
		"amount":      json.Number(o.Amount.StringFixed(2)),
		"currency":    g.cfg.Currency,
		"description": fmt.Sprintf("%s - Order %s", o.ProductName, o.ID),
		"return_url":  returnURL,
		"cancel_url":  cancelURL,
		"notify_url":  g.cfg.NotifyURL,
		"timestamp":   json.Number(fmt.Sprint(g.now().Unix())),
	}
	var out struct {
		PaymentURL string `json:"payment_url"`
	}
	status, err := g.post(ctx, "/v1/payments/create", fields, &out)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fault.Newf(classify(status), "payment.create_link", "status %d", status)
	}
	if out.PaymentURL == "" {
		return "", fault.Newf(fault.Parse, "payment.create_link", "no payment_url in response")
	}
	g.log.Info("payment link created", zap.String("order_id", o.ID))
	return out.PaymentURL, nil
}

// WebhookResult describes an accepted webhook.
type WebhookResult struct {
	OrderID string
	Status  string
	Order   *orders.Order
	// Duplicate is set when the order had already left pending_payment.
	Duplicate bool
}

// ProcessWebhook verifies the signature and applies the payment outcome.
// Any error means the webhook was rejected and nothing was mutated.
func (g *Gateway) ProcessWebhook(ctx context.Context, payload map[string]any, signature string) (*WebhookResult, error) {
	if !g.VerifyWebhookSignature(payload, signature) {
		g.log.Warn("webhook rejected: bad signature")
		return nil, fault.New(fault.Auth, "payment.webhook", ErrInvalidSignature)
	}
	orderID := canonicalValue(payload["order_id"])
	if orderID == "" {
		return nil, fault.New(fault.Validation, "payment.webhook", ErrMissingOrderID)
	}
	status := strings.ToLower(canonicalValue(payload["status"]))
	if status != StatusPaid && status != StatusFailed && status != StatusCancelled {
		g.log.Warn("webhook rejected: unknown status", zap.String("order_id", orderID), zap.String("status", status))
		return nil, fault.New(fault.Validation, "payment.webhook", fmt.Errorf("%w: %q", ErrUnknownStatus, status))
	}

	current, err := g.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	res := &WebhookResult{OrderID: orderID, Status: status, Order: current}
	if current.Status != orders.StatusPendingPayment {
		res.Duplicate = true
		g.log.Info("webhook for settled order ignored",
			zap.String("order_id", orderID), zap.String("status", status), zap.String("order_status", string(current.Status)))
		return res, nil
	}

	switch status {
	case StatusPaid:
		method := canonicalValue(payload["payment_method"])
		if method == "" {
			method = "unknown"
		}
		o, err := g.store.MarkPaid(ctx, orderID, canonicalValue(payload["payment_id"]), method)
		if errors.Is(err, orders.ErrInvalidTransition) {
			res.Duplicate = true
			return res, nil
		}
		if err != nil {
			return nil, err
		}
		res.Order = o
		g.log.Info("payment confirmed", zap.String("order_id", orderID))
	default:
		reason := "Payment cancelled by user"
		if status == StatusFailed {
			reason = canonicalValue(payload["error_message"])
			if reason == "" {
				reason = "Payment failed"
			}
		}
		err := g.store.MarkPaymentFailed(ctx, orderID, reason)
		if errors.Is(err, orders.ErrInvalidTransition) {
			res.Duplicate = true
			return res, nil
		}
		if err != nil {
			return nil, err
		}
		res.Order, _ = g.store.Get(ctx, orderID)
		g.log.Info("payment not completed", zap.String("order_id", orderID), zap.String("status", status))
	}
	return res, nil
}

// Refund returns the payment for a failed order. A nil error means the gateway
// acknowledged the refund explicitly; timeouts, 5xx and unclear answers are errors.
func (g *Gateway) Refund(ctx context.Context, o *orders.Order, reason string) error {
	const op = "payment.refund"
	log := g.log.With(zap.String("order_id", o.ID))
	if g.cfg.Mock {
		log.Warn("mock refund", zap.Bool("mock", true), zap.String("reason", reason))
		return g.store.MarkRefunded(ctx, o.ID)
	}
	if o.PaymentID == nil || *o.PaymentID == "" {
		return fault.New(fault.Validation, op, ErrNoPaymentID)
	}

	fields := map[string]any{
		"merchant_id": g.cfg.MerchantID,
		"payment_id":  *o.PaymentID,
		"amount":      json.Number(o.Amount.StringFixed(2)),
		"reason":      reason,
		"timestamp":   json.Number(fmt.Sprint(g.now().Unix())),
	}
	var out struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	status, err := g.post(ctx, "/v1/payments/refund", fields, &out)
	if err != nil {
		log.Error("refund call failed", zap.Error(err))
		return err
	}
	if status != http.StatusOK {
		return fault.Newf(classify(status), op, "status %d", status)
	}
	if out.Status != "success" {
		return fault.Newf(fault.Client, op, "refund not confirmed: status=%q message=%q", out.Status, out.Message)
	}
	if err := g.store.MarkRefunded(ctx, o.ID); err != nil {
		// The money has moved; the order stays failed until an operator reconciles it.
		log.Error("refund confirmed but order not marked refunded", zap.Error(err))
	}
	log.Info("refund confirmed", zap.String("reason", reason))
	return nil
}

// SimulatePayment signs a synthetic webhook and processes it. Mock mode only.
func (g *Gateway) SimulatePayment(ctx context.Context, orderID, status string) (*WebhookResult, error) {
	if !g.cfg.Mock {
		return nil, ErrNotMockMode
	}
	o, err := g.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	paymentID := "MOCKPAY-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	if o.PaymentID != nil && *o.PaymentID != "" {
		paymentID = *o.PaymentID
	}
	payload := map[string]any{
		"order_id":       orderID,
		"status":         status,
		"payment_id":     paymentID,
		"payment_method": "mock",
		"amount":         json.Number(o.Amount.StringFixed(2)),
		"currency":       g.cfg.Currency,
		"timestamp":      json.Number(fmt.Sprint(g.now().Unix())),
	}
	return g.ProcessWebhook(ctx, payload, g.Sign(payload))
}

func (g *Gateway) post(ctx context.Context, path string, fields map[string]any, out any) (int, error) {
	op := "payment.post " + path
	fields[signatureField] = g.Sign(fields)
	body, err := json.Marshal(fields)
	if err != nil {
		return 0, fault.New(fault.Validation, op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(g.cfg.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return 0, fault.New(fault.Validation, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return 0, fault.New(fault.Transient, op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fault.New(fault.Transient, op, err)
	}
	if resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fault.New(fault.Parse, op, err)
		}
	}
	return resp.StatusCode, nil
}

func classify(status int) fault.Kind {
	switch {
	case status >= 500:
		return fault.Transient
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fault.Auth
	default:
		return fault.Client
	}
}
