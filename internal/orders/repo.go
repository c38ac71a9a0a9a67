package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ariefcatur/fortune-orders/internal/fault"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"time"
)

// Repo is the Postgres Store. Money columns are numeric and cross the wire as text.
type Repo struct{ DB *pgxpool.Pool }

const orderColumns = `id, user_id, product_id, product_name, language, status, amount::text, currency,
	user_input, enrichment, content, error_detail, referral_code, commission_rate::text,
	commission_amount::text, commission_applied, payment_id, payment_method, created_at, updated_at, completed_at`

func (r *Repo) Create(ctx context.Context, o *Order) error {
	input, err := json.Marshal(o.UserInput)
	if err != nil {
		return fault.New(fault.Validation, "orders.create", err)
	}
	if o.Status == "" {
		o.Status = StatusPendingPayment
	}
	err = r.DB.QueryRow(ctx, `
		INSERT INTO orders(id, user_id, product_id, product_name, language, status, amount, currency,
		                   user_input, referral_code, commission_rate, commission_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11::numeric, $12::numeric)
		RETURNING created_at, updated_at`,
		o.ID, o.UserID, o.ProductID, o.ProductName, o.Language, string(o.Status), o.Amount.String(), o.Currency,
		input, o.ReferralCode, decimalText(o.CommissionRate), decimalText(o.CommissionAmount),
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return persistence("orders.create", err)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistence("orders.get", err)
	}
	return o, nil
}

// transition runs a conditional update and tells a missing order apart from one in another status.
func (r *Repo) transition(ctx context.Context, op, id string, from, to Status, set string, args ...any) (*Order, error) {
	q := `UPDATE orders SET status=$2, updated_at=now()` + set + ` WHERE id=$1 AND status=$3 RETURNING ` + orderColumns
	o, err := scanOrder(r.DB.QueryRow(ctx, q, append([]any{id, string(to), string(from)}, args...)...))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, persistence(op, err)
	}
	cur, gerr := r.Get(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	return nil, fmt.Errorf("%w: %s -> %s (current %s)", ErrInvalidTransition, from, to, cur.Status)
}

func (r *Repo) MarkPaid(ctx context.Context, id, paymentID, method string) (*Order, error) {
	return r.transition(ctx, "orders.mark_paid", id, StatusPendingPayment, StatusPaid,
		`, payment_id=COALESCE(NULLIF($4, ''), payment_id), payment_method=COALESCE(NULLIF($5, ''), payment_method)`,
		paymentID, method)
}

func (r *Repo) MarkPaymentFailed(ctx context.Context, id, reason string) error {
	_, err := r.transition(ctx, "orders.mark_payment_failed", id, StatusPendingPayment, StatusFailed,
		`, error_detail=$4`, reason)
	return err
}

func (r *Repo) Claim(ctx context.Context, id string) (*Order, error) {
	return r.transition(ctx, "orders.claim", id, StatusPaid, StatusGenerating, "")
}

func (r *Repo) SaveEnrichment(ctx context.Context, id string, payload json.RawMessage) error {
	tag, err := r.DB.Exec(ctx, `UPDATE orders SET enrichment=$2, updated_at=now() WHERE id=$1 AND status=$3`,
		id, []byte(payload), string(StatusGenerating))
	if err != nil {
		return persistence("orders.save_enrichment", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: save enrichment for %s", ErrInvalidTransition, id)
	}
	return nil
}

func (r *Repo) Complete(ctx context.Context, id, content string, fn CommissionFunc) (*AccountUpdate, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, persistence("orders.complete", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistence("orders.complete", err)
	}
	if o.Status == StatusCompleted {
		return nil, ErrAlreadyCompleted
	}
	if o.Status != StatusGenerating {
		return nil, fmt.Errorf("%w: complete in %s", ErrInvalidTransition, o.Status)
	}

	var upd *AccountUpdate
	if o.HasCommission() && !o.CommissionApplied && fn != nil {
		acc, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM referral_accounts WHERE code=$1 FOR UPDATE`, *o.ReferralCode))
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return nil, persistence("orders.complete", err)
		default:
			u := fn(*acc, o)
			if _, err := tx.Exec(ctx, `
				UPDATE referral_accounts
				SET total_sales=$2::numeric, total_commission=$3::numeric, tier=$4, updated_at=now()
				WHERE code=$1`, acc.Code, u.TotalSales.String(), u.TotalCommission.String(), u.Tier); err != nil {
				return nil, persistence("orders.complete", err)
			}
			upd = &u
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders
		SET content=$2, status=$3, completed_at=now(), updated_at=now(),
		    commission_applied = commission_applied OR $4
		WHERE id=$1`, id, content, string(StatusCompleted), upd != nil); err != nil {
		return nil, persistence("orders.complete", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, persistence("orders.complete", err)
	}
	return upd, nil
}

func (r *Repo) MarkFailed(ctx context.Context, id, detail string) error {
	_, err := r.transition(ctx, "orders.mark_failed", id, StatusGenerating, StatusFailed, `, error_detail=$4`, detail)
	return err
}

func (r *Repo) MarkRefunded(ctx context.Context, id string) error {
	_, err := r.transition(ctx, "orders.mark_refunded", id, StatusFailed, StatusRefunded, "")
	return err
}

func (r *Repo) Rearm(ctx context.Context, id string, observed time.Time) error {
	tag, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$2, updated_at=now()
		WHERE id=$1 AND status=$3 AND updated_at=$4`,
		id, string(StatusPaid), string(StatusGenerating), observed)
	if err != nil {
		return persistence("orders.rearm", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: rearm %s", ErrInvalidTransition, id)
	}
	return nil
}

func (r *Repo) ListByStatus(ctx context.Context, status Status, before time.Time, limit int) ([]*Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status=$1 AND updated_at < $2 ORDER BY updated_at LIMIT $3`, string(status), before, limit)
	if err != nil {
		return nil, persistence("orders.list_by_status", err)
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, persistence("orders.list_by_status", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("orders.list_by_status", err)
	}
	return out, nil
}

const accountColumns = `code, user_id, total_sales::text, total_commission::text, tier, created_at, updated_at`

func (r *Repo) CreateReferralAccount(ctx context.Context, acc *ReferralAccount) error {
	err := r.DB.QueryRow(ctx, `
		INSERT INTO referral_accounts(code, user_id, total_sales, total_commission, tier)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5)
		RETURNING created_at, updated_at`,
		acc.Code, acc.UserID, acc.TotalSales.String(), acc.TotalCommission.String(), acc.Tier,
	).Scan(&acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return persistence("orders.create_referral_account", err)
	}
	return nil
}

func (r *Repo) GetReferralAccount(ctx context.Context, code string) (*ReferralAccount, error) {
	acc, err := scanAccount(r.DB.QueryRow(ctx, `SELECT `+accountColumns+` FROM referral_accounts WHERE code=$1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, persistence("orders.get_referral_account", err)
	}
	return acc, nil
}

func (r *Repo) BindReferral(ctx context.Context, userID int64, code string) (string, error) {
	if _, err := r.GetReferralAccount(ctx, code); err != nil {
		if existing, ferr := r.ReferralFor(ctx, userID); ferr == nil && existing != "" {
			return existing, nil
		}
		return "", err
	}
	if _, err := r.DB.Exec(ctx, `
		INSERT INTO referral_bindings(user_id, code) VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING`, userID, code); err != nil {
		return "", persistence("orders.bind_referral", err)
	}
	return r.ReferralFor(ctx, userID)
}

func (r *Repo) ReferralFor(ctx context.Context, userID int64) (string, error) {
	var code string
	err := r.DB.QueryRow(ctx, `SELECT code FROM referral_bindings WHERE user_id=$1`, userID).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", persistence("orders.referral_for", err)
	}
	return code, nil
}

func (r *Repo) AppendAudit(ctx context.Context, e AuditEntry) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		detail = []byte("{}")
	}
	var orderID any
	if e.OrderID != "" {
		orderID = e.OrderID
	}
	if _, err := r.DB.Exec(ctx, `
		INSERT INTO audit_log(order_id, user_id, operation, outcome, detail, error)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))`,
		orderID, e.UserID, string(e.Operation), string(e.Outcome), detail, e.Error); err != nil {
		return persistence("orders.append_audit", err)
	}
	return nil
}

func (r *Repo) AuditStats(ctx context.Context, since time.Time) (AuditStats, error) {
	var s AuditStats
	err := r.DB.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE outcome = 'failed')
		FROM audit_log WHERE created_at >= $1`, since).Scan(&s.Total, &s.Failed)
	if err != nil {
		return AuditStats{}, persistence("orders.audit_stats", err)
	}
	return s, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o                 Order
		status, amount    string
		input, enrichment []byte
		rate, commission  *string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.ProductID, &o.ProductName, &o.Language, &status, &amount, &o.Currency,
		&input, &enrichment, &o.Content, &o.ErrorDetail, &o.ReferralCode, &rate,
		&commission, &o.CommissionApplied, &o.PaymentID, &o.PaymentMethod, &o.CreatedAt, &o.UpdatedAt, &o.CompletedAt)
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)
	if !o.Status.Valid() {
		return nil, fmt.Errorf("order %s: unknown status %q", o.ID, status)
	}
	if len(enrichment) > 0 {
		o.Enrichment = json.RawMessage(enrichment)
	}
	if o.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("amount %q: %w", amount, err)
	}
	if len(input) > 0 {
		dec := json.NewDecoder(bytes.NewReader(input))
		dec.UseNumber()
		if err := dec.Decode(&o.UserInput); err != nil {
			return nil, fmt.Errorf("user_input: %w", err)
		}
	}
	if o.CommissionRate, err = parseDecimalPtr(rate); err != nil {
		return nil, err
	}
	if o.CommissionAmount, err = parseDecimalPtr(commission); err != nil {
		return nil, err
	}
	return &o, nil
}

func scanAccount(row pgx.Row) (*ReferralAccount, error) {
	var (
		acc               ReferralAccount
		sales, commission string
	)
	if err := row.Scan(&acc.Code, &acc.UserID, &sales, &commission, &acc.Tier, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if acc.TotalSales, err = decimal.NewFromString(sales); err != nil {
		return nil, err
	}
	if acc.TotalCommission, err = decimal.NewFromString(commission); err != nil {
		return nil, err
	}
	return &acc, nil
}

func parseDecimalPtr(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func decimalText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func persistence(op string, err error) error {
	return fault.New(fault.Persistence, op, err)
}

var _ Store = (*Repo)(nil)
