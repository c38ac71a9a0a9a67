package orders

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyCompleted  = errors.New("order already completed")
	ErrAccountNotFound   = errors.New("referral account not found")
)

// Store owns every order mutation. Each transition is a conditional update on
// the current status, so concurrent callers cannot both move the same order.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)

	// MarkPaid moves pending_payment -> paid.
	MarkPaid(ctx context.Context, id, paymentID, method string) (*Order, error)
	// MarkPaymentFailed moves pending_payment -> failed.
	MarkPaymentFailed(ctx context.Context, id, reason string) error
	// Claim moves paid -> generating and returns the claimed order.
	Claim(ctx context.Context, id string) (*Order, error)
	// SaveEnrichment persists the payload while the order is generating.
	SaveEnrichment(ctx context.Context, id string, payload json.RawMessage) error
	// Complete stores content, moves generating -> completed and, unless already
	// applied, credits the referral account in the same transaction.
	Complete(ctx context.Context, id, content string, fn CommissionFunc) (*AccountUpdate, error)
	// MarkFailed moves generating -> failed.
	MarkFailed(ctx context.Context, id, detail string) error
	// MarkRefunded moves failed -> refunded.
	MarkRefunded(ctx context.Context, id string) error
	// Rearm moves a stuck generating order back to paid if it has not been
	// touched since observedUpdatedAt.
	Rearm(ctx context.Context, id string, observedUpdatedAt time.Time) error
	// ListByStatus returns orders in status last updated before cutoff, oldest first.
	ListByStatus(ctx context.Context, status Status, before time.Time, limit int) ([]*Order, error)

	CreateReferralAccount(ctx context.Context, acc *ReferralAccount) error
	GetReferralAccount(ctx context.Context, code string) (*ReferralAccount, error)
	// BindReferral binds code to the user unless one is already bound and
	// returns the code in effect.
	BindReferral(ctx context.Context, userID int64, code string) (string, error)
	ReferralFor(ctx context.Context, userID int64) (string, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	AuditStats(ctx context.Context, since time.Time) (AuditStats, error)
}
