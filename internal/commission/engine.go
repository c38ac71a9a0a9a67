// Package commission computes referral commission. It performs no I/O.
package commission

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Tier is a sales band [Min, Max). A zero Max means unbounded.
type Tier struct {
	Level int
	Min   decimal.Decimal
	Max   decimal.Decimal
	Rate  decimal.Decimal
}

func (t Tier) contains(sales decimal.Decimal) bool {
	if sales.LessThan(t.Min) {
		return false
	}
	return t.Max.IsZero() || sales.LessThan(t.Max)
}

type Engine struct {
	tiers          []Tier
	bonusThreshold decimal.Decimal
	bonusAmount    decimal.Decimal
}

// Result is the effect of crediting one order to an account.
type Result struct {
	Rate               decimal.Decimal
	Commission         decimal.Decimal
	Bonus              decimal.Decimal
	Total              decimal.Decimal
	NewCumulativeSales decimal.Decimal
	PriorTier          int
	NewTier            int
}

func DefaultTiers() []Tier {
	d := decimal.RequireFromString
	return []Tier{
		{Level: 1, Min: d("0"), Max: d("1000"), Rate: d("0.20")},
		{Level: 2, Min: d("1000"), Max: d("3000"), Rate: d("0.25")},
		{Level: 3, Min: d("3000"), Max: d("5000"), Rate: d("0.30")},
		{Level: 4, Min: d("5000"), Rate: d("0.35")},
	}
}

// NewEngine validates that tiers are contiguous from zero and sorts them ascending.
func NewEngine(tiers []Tier, bonusThreshold, bonusAmount decimal.Decimal) (*Engine, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("commission: no tiers")
	}
	sorted := append([]Tier(nil), tiers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Min.LessThan(sorted[j].Min) })
	if !sorted[0].Min.IsZero() {
		return nil, fmt.Errorf("commission: first tier must start at 0, got %s", sorted[0].Min)
	}
	for i, t := range sorted {
		if t.Rate.IsNegative() || t.Rate.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("commission: tier %d rate %s out of range", t.Level, t.Rate)
		}
		last := i == len(sorted)-1
		if !last && !t.Max.Equal(sorted[i+1].Min) {
			return nil, fmt.Errorf("commission: gap or overlap after tier %d", t.Level)
		}
		if last && !t.Max.IsZero() {
			return nil, fmt.Errorf("commission: last tier must be unbounded")
		}
	}
	return &Engine{tiers: sorted, bonusThreshold: bonusThreshold, bonusAmount: bonusAmount}, nil
}

// Default uses 20/25/30/35% bands at 1000/3000/5000 and a 500 bonus at 8000.
func Default() *Engine {
	e, err := NewEngine(DefaultTiers(), decimal.NewFromInt(8000), decimal.NewFromInt(500))
	if err != nil {
		panic(err)
	}
	return e
}

// TierFor returns the first band, ascending, whose [Min, Max) contains sales.
func (e *Engine) TierFor(sales decimal.Decimal) Tier {
	for _, t := range e.tiers {
		if t.contains(sales) {
			return t
		}
	}
	return e.tiers[0]
}

// Compute prices an order against the account's sales before the order.
func (e *Engine) Compute(prior, amount decimal.Decimal) Result {
	tier := e.TierFor(prior)
	next := prior.Add(amount)
	r := Result{
		Rate:               tier.Rate,
		Commission:         amount.Mul(tier.Rate).Round(2),
		Bonus:              decimal.Zero,
		NewCumulativeSales: next,
		PriorTier:          tier.Level,
		NewTier:            e.TierFor(next).Level,
	}
	if e.bonusAmount.IsPositive() && prior.LessThan(e.bonusThreshold) && !next.LessThan(e.bonusThreshold) {
		r.Bonus = e.bonusAmount
	}
	r.Total = r.Commission.Add(r.Bonus)
	return r
}
