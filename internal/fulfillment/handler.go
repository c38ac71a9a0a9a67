// Package fulfillment consumes order.paid triggers and runs the saga.
package fulfillment

import (
	"context"

	kafkax "github.com/ariefcatur/fortune-orders/internal/kafka"
	"github.com/ariefcatur/fortune-orders/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Fulfiller interface {
	Fulfill(ctx context.Context, orderID string) (bool, error)
}

// Deduper is satisfied by redisx.Dedup.
type Deduper interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

type CacheInvalidator interface {
	Invalidate(ctx context.Context, orderID string) error
}

type Handler struct {
	Saga  Fulfiller
	Dedup Deduper
	Cache CacheInvalidator
	Log   *zap.Logger
}

// HandleOrderPaid is installed as the consumer handler. Event dedup only saves
// work: the saga's atomic claim is what keeps a redelivered trigger harmless.
// Undecodable messages are logged and committed so they do not block the
// partition.
func (h *Handler) HandleOrderPaid(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		h.Log.Error("dropping undecodable message", zap.ByteString("key", m.Key), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventOrderPaid {
		return nil
	}
	p, err := kafkax.UnwrapPayload[orders.OrderPaidPayload](env.Payload)
	if err != nil || p.OrderID == "" {
		h.Log.Error("dropping order paid event without order", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	ctx = kafkax.WithTraceID(ctx, env.TraceID)
	log := h.Log.With(zap.String("order_id", p.OrderID), zap.String("event_id", env.EventID), zap.String("source", p.Source))

	if h.Dedup != nil {
		first, err := h.Dedup.Claim(ctx, env.EventID)
		switch {
		case err != nil:
			log.Warn("dedup unavailable, relying on claim", zap.Error(err))
		case !first:
			log.Info("duplicate event skipped")
			return nil
		}
	}

	completed, err := h.Saga.Fulfill(ctx, p.OrderID)
	if h.Cache != nil {
		if cerr := h.Cache.Invalidate(context.WithoutCancel(ctx), p.OrderID); cerr != nil {
			log.Warn("invalidate status cache", zap.Error(cerr))
		}
	}
	if err != nil {
		if h.Dedup != nil {
			if rerr := h.Dedup.Release(context.WithoutCancel(ctx), env.EventID); rerr != nil {
				log.Warn("release dedup key", zap.Error(rerr))
			}
		}
		return err
	}
	log.Info("order paid handled", zap.Bool("completed", completed))
	return nil
}
