// Package checkout creates orders and freezes their referral commission.
package checkout

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ariefcatur/fortune-orders/internal/commission"
	"github.com/ariefcatur/fortune-orders/internal/fault"
	"github.com/ariefcatur/fortune-orders/internal/orders"
	"github.com/ariefcatur/fortune-orders/internal/products"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type Store interface {
	Create(ctx context.Context, o *orders.Order) error
	MarkPaid(ctx context.Context, id, paymentID, method string) (*orders.Order, error)
	GetReferralAccount(ctx context.Context, code string) (*orders.ReferralAccount, error)
	BindReferral(ctx context.Context, userID int64, code string) (string, error)
	ReferralFor(ctx context.Context, userID int64) (string, error)
}

type Emitter interface {
	Emit(ctx context.Context, orderID, eventType string, payload any) error
}

type Request struct {
	UserID       int64          `json:"user_id" validate:"required,gt=0"`
	ProductID    int            `json:"product_id" validate:"required,gt=0"`
	Language     string         `json:"language" validate:"omitempty,oneof=en zh zh-CN zh-TW"`
	Input        map[string]any `json:"input"`
	ReferralCode string         `json:"referral_code" validate:"omitempty,alphanum,max=32"`
}

type Service struct {
	store    Store
	catalog  *products.Catalog
	engine   *commission.Engine
	events   Emitter
	log      *zap.Logger
	validate *validator.Validate
	currency string
	now      func() time.Time
}

func NewService(store Store, catalog *products.Catalog, engine *commission.Engine, events Emitter, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:    store,
		catalog:  catalog,
		engine:   engine,
		events:   events,
		log:      log.Named("checkout"),
		validate: validator.New(),
		currency: "USD",
		now:      time.Now,
	}
}

func (s *Service) WithCurrency(c string) *Service {
	if c != "" {
		s.currency = c
	}
	return s
}

// Checkout creates a pending order. A free product skips payment: the order
// is marked paid at once and the fulfillment trigger is published.
func (s *Service) Checkout(ctx context.Context, req Request) (*orders.Order, error) {
	const op = "checkout"
	if err := s.validate.Struct(req); err != nil {
		return nil, fault.New(fault.Validation, op, err)
	}
	product, err := s.catalog.Get(req.ProductID)
	if err != nil {
		return nil, fault.New(fault.Validation, op, err)
	}
	lang := req.Language
	if lang == "" {
		lang = "en"
	}

	o := &orders.Order{
		ID:          orders.NewOrderID(s.now()),
		UserID:      req.UserID,
		ProductID:   product.ID,
		ProductName: product.Name(lang),
		Language:    lang,
		Amount:      product.Price,
		Currency:    s.currency,
		UserInput:   req.Input,
	}
	if !product.IsFree() {
		if err := s.freezeCommission(ctx, o, strings.ToUpper(strings.TrimSpace(req.ReferralCode))); err != nil {
			return nil, err
		}
	}
	if err := s.store.Create(ctx, o); err != nil {
		return nil, err
	}
	log := s.log.With(zap.String("order_id", o.ID), zap.Int("product_id", o.ProductID))
	log.Info("order created", zap.String("amount", o.Amount.StringFixed(2)))

	if !product.IsFree() {
		return o, nil
	}
	paid, err := s.store.MarkPaid(ctx, o.ID, "", "free")
	if err != nil {
		return nil, err
	}
	if err := s.events.Emit(ctx, o.ID, orders.EventOrderPaid, orders.OrderPaidPayload{
		OrderID: o.ID,
		Source:  orders.SourceFree,
	}); err != nil {
		// The reconciler picks up paid orders that never got a trigger.
		log.Error("publish order paid", zap.Error(err))
	}
	return paid, nil
}

// freezeCommission binds the referral once per user and prices the commission,
// bonus included, against the account's current sales. The amount does not
// change afterwards.
func (s *Service) freezeCommission(ctx context.Context, o *orders.Order, code string) error {
	var err error
	if code != "" {
		code, err = s.store.BindReferral(ctx, o.UserID, code)
		if errors.Is(err, orders.ErrAccountNotFound) {
			s.log.Info("unknown referral code ignored", zap.Int64("user_id", o.UserID))
			code, err = s.store.ReferralFor(ctx, o.UserID)
		}
	} else {
		code, err = s.store.ReferralFor(ctx, o.UserID)
	}
	if err != nil || code == "" {
		return err
	}

	acc, err := s.store.GetReferralAccount(ctx, code)
	if errors.Is(err, orders.ErrAccountNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if acc.UserID == o.UserID {
		return nil
	}
	res := s.engine.Compute(acc.TotalSales, o.Amount)
	o.ReferralCode = &acc.Code
	o.CommissionRate = &res.Rate
	o.CommissionAmount = &res.Total
	return nil
}
