package orders

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID          string
	UserID      int64
	ProductID   int
	ProductName string
	Language    string
	Status      Status
	Amount      decimal.Decimal
	Currency    string
	UserInput   map[string]any
	// Enrichment is the persisted enrichment payload, stored verbatim.
	Enrichment  json.RawMessage
	Content     *string
	ErrorDetail *string

	ReferralCode      *string
	CommissionRate    *decimal.Decimal
	CommissionAmount  *decimal.Decimal
	CommissionApplied bool

	PaymentID     *string
	PaymentMethod *string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

func (o *Order) IsFree() bool { return o.Amount.Sign() <= 0 }

// HasCommission reports whether completing the order credits a referral account.
func (o *Order) HasCommission() bool {
	return o.ReferralCode != nil && *o.ReferralCode != "" && o.CommissionAmount != nil && !o.IsFree()
}

// InputString returns a trimmed string field from the user input.
func (o *Order) InputString(key string) string {
	v, ok := o.UserInput[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

type ReferralAccount struct {
	Code            string
	UserID          int64
	TotalSales      decimal.Decimal
	TotalCommission decimal.Decimal
	Tier            int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AccountUpdate is the new state of a referral account after crediting one order.
type AccountUpdate struct {
	TotalSales      decimal.Decimal
	TotalCommission decimal.Decimal
	Tier            int
	// Credited is the commission frozen on the order, bonus included.
	Credited decimal.Decimal
}

// CommissionFunc derives the account update for an order. It runs inside the
// completion transaction against the locked account row.
type CommissionFunc func(acc ReferralAccount, o *Order) AccountUpdate

type Operation string

const (
	OpEnrichmentCall   Operation = "enrichment_call"
	OpGenerationCall   Operation = "generation_call"
	OpRefund           Operation = "refund"
	OpCommissionUpdate Operation = "commission_update"
	OpPaymentWebhook   Operation = "payment_webhook"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

type AuditEntry struct {
	ID        int64
	OrderID   string
	UserID    int64
	Operation Operation
	Outcome   Outcome
	Detail    map[string]any
	Error     string
	CreatedAt time.Time
}

// AuditStats counts audit outcomes in a window.
type AuditStats struct {
	Total  int
	Failed int
}

func (s AuditStats) FailureRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Failed) / float64(s.Total)
}

// NewOrderID returns an identifier of the form ORD_<unix>_<8 upper hex>.
func NewOrderID(now time.Time) string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("ORD_%d_%s", now.Unix(), strings.ToUpper(hex.EncodeToString(b[:])))
}
