// Package saga drives a paid order to a terminal state: enrichment, report
// generation, completion with commission, or failure with refund.
package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/fortune-orders/internal/audit"
	"github.com/ariefcatur/fortune-orders/internal/commission"
	"github.com/ariefcatur/fortune-orders/internal/enrichment"
	"github.com/ariefcatur/fortune-orders/internal/fault"
	"github.com/ariefcatur/fortune-orders/internal/generation"
	"github.com/ariefcatur/fortune-orders/internal/notify"
	"github.com/ariefcatur/fortune-orders/internal/observability"
	"github.com/ariefcatur/fortune-orders/internal/orders"
	"github.com/ariefcatur/fortune-orders/internal/products"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	stageEnrichment = "enrichment failed"
	stageGeneration = "generation failed"
)

// Store is the subset of orders.Store the saga mutates.
type Store interface {
	Claim(ctx context.Context, id string) (*orders.Order, error)
	SaveEnrichment(ctx context.Context, id string, payload json.RawMessage) error
	Complete(ctx context.Context, id, content string, fn orders.CommissionFunc) (*orders.AccountUpdate, error)
	MarkFailed(ctx context.Context, id, detail string) error
	AppendAudit(ctx context.Context, e orders.AuditEntry) error
}

type Enricher interface {
	Fetch(ctx context.Context, req enrichment.Request) (*enrichment.Chart, error)
}

type Generator interface {
	Generate(ctx context.Context, req generation.Request) (string, error)
	// Budget bounds one Generate call including its retries.
	Budget() time.Duration
}

// Refunder returns nil only when the refund is confirmed.
type Refunder interface {
	Refund(ctx context.Context, o *orders.Order, reason string) error
}

type Emitter interface {
	Emit(ctx context.Context, orderID, eventType string, payload any) error
}

type Deps struct {
	Store     Store
	Catalog   *products.Catalog
	Enricher  Enricher
	Generator Generator
	Refunder  Refunder
	Notifier  notify.Notifier
	Events    Emitter
	Engine    *commission.Engine
	Log       *zap.Logger

	// CompensationTimeout bounds the failure path, which runs detached from
	// the caller's context. Defaults to 30s.
	CompensationTimeout time.Duration
	Now                 func() time.Time
}

type Processor struct {
	store     Store
	catalog   *products.Catalog
	enricher  Enricher
	generator Generator
	refunder  Refunder
	notifier  notify.Notifier
	events    Emitter
	engine    *commission.Engine
	audit     *audit.Recorder
	log       *zap.Logger
	compTO    time.Duration
	now       func() time.Time
}

func New(d Deps) *Processor {
	p := &Processor{
		store:     d.Store,
		catalog:   d.Catalog,
		enricher:  d.Enricher,
		generator: d.Generator,
		refunder:  d.Refunder,
		notifier:  d.Notifier,
		events:    d.Events,
		engine:    d.Engine,
		log:       d.Log,
		compTO:    d.CompensationTimeout,
		now:       d.Now,
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	if p.engine == nil {
		p.engine = commission.Default()
	}
	if p.catalog == nil {
		p.catalog = products.Default()
	}
	if p.compTO <= 0 {
		p.compTO = 30 * time.Second
	}
	if p.now == nil {
		p.now = time.Now
	}
	p.audit = audit.NewRecorder(d.Store, p.log)
	return p
}

// Fulfill runs the saga for one order. It returns true when the order was
// completed by this call. Orders that are missing or not in paid are skipped
// without side effects. A non-nil error means order state could not be
// persisted; the order is left in paid or generating, where the reconcile
// sweep picks it up again.
func (p *Processor) Fulfill(ctx context.Context, orderID string) (bool, error) {
	log := observability.ForOrder(p.log, orderID)

	o, err := p.store.Claim(ctx, orderID)
	switch {
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, orders.ErrInvalidTransition):
		log.Info("order not claimable, skipping", zap.Error(err))
		return false, nil
	case err != nil:
		return false, err
	}
	log = log.With(zap.Int("product_id", o.ProductID), zap.Bool("free", o.IsFree()))
	log.Info("order claimed")

	product, err := p.catalog.Get(o.ProductID)
	if err != nil {
		return p.compensate(ctx, log, o, stageGeneration, fault.New(fault.Validation, "saga.product", err))
	}

	var chart json.RawMessage
	if product.RequiresEnrichment {
		chart, err = p.enrich(ctx, log, o)
		if err != nil {
			if fault.Is(err, fault.Persistence) {
				return false, err
			}
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return p.compensate(ctx, log, o, stageEnrichment, err)
		}
	}

	req := generation.Request{
		Prompt:   p.prompt(log, o, product, chart),
		Language: o.Language,
		Persona:  product.Persona,
	}
	started := p.now()
	content, err := p.generate(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a failed order. The reconciler re-drives it.
			return false, ctx.Err()
		}
		p.audit.Failure(ctx, o, orders.OpGenerationCall, map[string]any{"elapsed_ms": p.now().Sub(started).Milliseconds()}, err)
		return p.compensate(ctx, log, o, stageGeneration, err)
	}
	p.audit.Success(ctx, o, orders.OpGenerationCall, map[string]any{
		"elapsed_ms": p.now().Sub(started).Milliseconds(),
		"length":     len(content),
	})

	return p.complete(ctx, log, o, content)
}

func (p *Processor) enrich(ctx context.Context, log *zap.Logger, o *orders.Order) (json.RawMessage, error) {
	if len(o.Enrichment) > 0 {
		log.Info("reusing persisted enrichment")
		return o.Enrichment, nil
	}
	req := enrichment.NewRequest(
		o.InputString("name"),
		o.InputString("birthday"),
		o.InputString("birth_time"),
		enrichment.ParseGender(o.InputString("gender")),
	)
	chart, err := p.enricher.Fetch(ctx, req)
	if err != nil {
		p.audit.Failure(ctx, o, orders.OpEnrichmentCall, map[string]any{"kind": fault.KindOf(err).String()}, err)
		return nil, err
	}
	payload, err := json.Marshal(chart)
	if err != nil {
		return nil, fault.New(fault.Parse, "saga.enrich", err)
	}
	p.audit.Success(ctx, o, orders.OpEnrichmentCall, map[string]any{"mock": chart.Mock})
	if err := p.store.SaveEnrichment(ctx, o.ID, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (p *Processor) prompt(log *zap.Logger, o *orders.Order, product products.Product, chart json.RawMessage) string {
	lang := o.Language
	name := o.ProductName
	if name == "" {
		name = product.Name(lang)
	}
	data := generation.NewPromptData(o.ProductID, name, lang, o.UserInput, chart, p.now())
	out, err := generation.RenderPrompt(product.Template(lang), data)
	if err != nil {
		log.Warn("prompt template failed, using fallback", zap.Error(err))
		return generation.FallbackPrompt(data)
	}
	return out
}

// generate stops waiting once the generator's budget elapses, whatever the
// state of in-flight attempts.
func (p *Processor) generate(ctx context.Context, req generation.Request) (string, error) {
	budget := p.generator.Budget()
	gctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type result struct {
		content string
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		content, err := p.generator.Generate(gctx, req)
		ch <- result{content, err}
	}()

	select {
	case r := <-ch:
		return r.content, r.err
	case <-gctx.Done():
		return "", fault.New(fault.Transient, "saga.generate",
			fmt.Errorf("budget %s exceeded: %w", budget, gctx.Err()))
	}
}

func (p *Processor) complete(ctx context.Context, log *zap.Logger, o *orders.Order, content string) (bool, error) {
	upd, err := p.store.Complete(ctx, o.ID, content, p.accountUpdate)
	switch {
	case errors.Is(err, orders.ErrAlreadyCompleted):
		log.Info("order already completed")
		return false, nil
	case errors.Is(err, orders.ErrInvalidTransition), errors.Is(err, orders.ErrNotFound):
		log.Warn("order moved during generation, result discarded", zap.Error(err))
		return false, nil
	case err != nil:
		log.Error("complete order", zap.Error(err))
		return false, err
	}
	log.Info("order completed")

	if upd != nil {
		p.audit.Success(ctx, o, orders.OpCommissionUpdate, map[string]any{
			"referral_code": *o.ReferralCode,
			"credited":      upd.Credited.StringFixed(2),
			"tier":          upd.Tier,
		})
		log.Info("referral commission credited",
			zap.String("credited", upd.Credited.StringFixed(2)),
			zap.Int("tier", upd.Tier))
	}

	p.emit(ctx, log, o.ID, orders.EventOrderFinalized, orders.OrderFinalizedPayload{
		OrderID:     o.ID,
		FinalStatus: orders.StatusCompleted,
	})
	if err := p.notifier.NotifyReportReady(ctx, o, content); err != nil {
		log.Error("notify report ready", zap.Error(err))
	}
	return true, nil
}

// accountUpdate credits exactly the commission frozen on the order at
// checkout. Only the tier is derived from the account's sales at completion.
func (p *Processor) accountUpdate(acc orders.ReferralAccount, o *orders.Order) orders.AccountUpdate {
	credited := decimal.Zero
	if o.CommissionAmount != nil {
		credited = *o.CommissionAmount
	}
	sales := acc.TotalSales.Add(o.Amount)
	return orders.AccountUpdate{
		TotalSales:      sales,
		TotalCommission: acc.TotalCommission.Add(credited),
		Tier:            p.engine.TierFor(sales).Level,
		Credited:        credited,
	}
}

// compensate moves the order to failed, refunds paid orders and notifies.
// Each step runs regardless of the others; their errors are logged.
func (p *Processor) compensate(ctx context.Context, log *zap.Logger, o *orders.Order, stage string, cause error) (bool, error) {
	reason := fmt.Sprintf("%s: %v", stage, cause)
	log.Error("fulfillment failed, compensating",
		zap.String("stage", stage),
		zap.String("kind", fault.KindOf(cause).String()),
		zap.Error(cause))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.compTO)
	defer cancel()

	if err := p.store.MarkFailed(ctx, o.ID, reason); err != nil {
		log.Error("mark order failed", zap.Error(err))
	}

	free := o.IsFree()
	refunded := false
	if !free {
		if err := p.refunder.Refund(ctx, o, reason); err != nil {
			p.audit.Failure(ctx, o, orders.OpRefund, map[string]any{"reason": reason}, err)
			log.Error("refund failed", zap.Error(err))
		} else {
			refunded = true
			p.audit.Success(ctx, o, orders.OpRefund, map[string]any{
				"reason": reason,
				"amount": o.Amount.StringFixed(2),
			})
		}
	}

	if free || refunded {
		if err := p.notifier.NotifyGenerationFailed(ctx, o.ID, free); err != nil {
			log.Error("notify generation failed", zap.Error(err))
		}
	} else {
		msg := fmt.Sprintf("order %s failed and the refund of %s %s did not go through, refund manually: %s",
			o.ID, o.Amount.StringFixed(2), o.Currency, reason)
		if err := p.notifier.NotifyOperator(ctx, msg); err != nil {
			log.Error("notify operator of refund failure", zap.Error(err))
		}
	}
	summary := fmt.Sprintf("order %s (user %d, product %d) failed: %s", o.ID, o.UserID, o.ProductID, reason)
	if err := p.notifier.NotifyOperator(ctx, summary); err != nil {
		log.Error("notify operator", zap.Error(err))
	}

	final := orders.StatusFailed
	if refunded {
		final = orders.StatusRefunded
	}
	p.emit(ctx, log, o.ID, orders.EventOrderFinalized, orders.OrderFinalizedPayload{
		OrderID:     o.ID,
		FinalStatus: final,
		Refunded:    refunded,
		Reasons:     []string{reason},
	})
	return false, nil
}

func (p *Processor) emit(ctx context.Context, log *zap.Logger, orderID, eventType string, payload any) {
	if p.events == nil {
		return
	}
	if err := p.events.Emit(ctx, orderID, eventType, payload); err != nil {
		log.Error("publish event", zap.String("event_type", eventType), zap.Error(err))
	}
}
