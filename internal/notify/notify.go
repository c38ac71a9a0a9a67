// Package notify delivers user and operator notifications.
package notify

import (
	"context"

	"github.com/ariefcatur/fortune-orders/internal/orders"
	"go.uber.org/zap"
)

const (
	KindPaymentConfirmed = "payment_confirmed"
	KindReportReady      = "report_ready"
	KindGenerationFailed = "generation_failed"
	KindOperator         = "operator"
)

// Notifier is best effort. Errors are logged by callers, never propagated
// into order state.
type Notifier interface {
	NotifyPaymentConfirmed(ctx context.Context, o *orders.Order) error
	NotifyReportReady(ctx context.Context, o *orders.Order, content string) error
	NotifyGenerationFailed(ctx context.Context, orderID string, free bool) error
	NotifyOperator(ctx context.Context, msg string) error
}

// Emitter is satisfied by kafka.EventWriter.
type Emitter interface {
	Emit(ctx context.Context, orderID, eventType string, payload any) error
}

// Kafka publishes notifications to the notifications topic for the delivery
// service to pick up.
type Kafka struct {
	E Emitter
}

func (k *Kafka) NotifyPaymentConfirmed(ctx context.Context, o *orders.Order) error {
	return k.E.Emit(ctx, o.ID, orders.EventNotification, orders.NotificationPayload{
		Kind: KindPaymentConfirmed, OrderID: o.ID,
	})
}

func (k *Kafka) NotifyReportReady(ctx context.Context, o *orders.Order, content string) error {
	return k.E.Emit(ctx, o.ID, orders.EventNotification, orders.NotificationPayload{
		Kind: KindReportReady, OrderID: o.ID, Content: content,
	})
}

func (k *Kafka) NotifyGenerationFailed(ctx context.Context, orderID string, free bool) error {
	return k.E.Emit(ctx, orderID, orders.EventNotification, orders.NotificationPayload{
		Kind: KindGenerationFailed, OrderID: orderID, Free: free,
	})
}

func (k *Kafka) NotifyOperator(ctx context.Context, msg string) error {
	return k.E.Emit(ctx, "", orders.EventNotification, orders.NotificationPayload{
		Kind: KindOperator, Message: msg,
	})
}

// Log writes notifications to the logger only.
type Log struct {
	L *zap.Logger
}

func (l *Log) NotifyPaymentConfirmed(_ context.Context, o *orders.Order) error {
	l.L.Info("notify payment confirmed", zap.String("order_id", o.ID), zap.Int64("user_id", o.UserID))
	return nil
}

func (l *Log) NotifyReportReady(_ context.Context, o *orders.Order, content string) error {
	l.L.Info("notify report ready", zap.String("order_id", o.ID), zap.Int64("user_id", o.UserID), zap.Int("content_len", len(content)))
	return nil
}

func (l *Log) NotifyGenerationFailed(_ context.Context, orderID string, free bool) error {
	l.L.Info("notify generation failed", zap.String("order_id", orderID), zap.Bool("free", free))
	return nil
}

func (l *Log) NotifyOperator(_ context.Context, msg string) error {
	l.L.Warn("operator alert", zap.String("message", msg))
	return nil
}

var (
	_ Notifier = (*Kafka)(nil)
	_ Notifier = (*Log)(nil)
)
