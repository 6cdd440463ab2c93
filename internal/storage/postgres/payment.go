package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/payment"
)

const paymentColumns = `id, order_id, method, amount, provider_ref, provider_txn_id, status, message, created_at, updated_at`

const (
	insertPaymentSQL = `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (provider_ref) DO NOTHING`

	getPaymentSQL      = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	getPaymentByRefSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE provider_ref = $1`
	lockPaymentSQL     = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`

	updatePaymentSQL = `UPDATE payments SET status = $3, provider_txn_id = $4, message = $5, updated_at = $6
		WHERE id = $1 AND status = $2`

	paymentExistsSQL = `SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)`

	countPaymentsSQL = `SELECT count(*) FROM payments WHERE order_id = $1 AND status = $2`

	inFlightSQL = `SELECT EXISTS (SELECT 1 FROM payments WHERE order_id = $1 AND status IN ('PENDING', 'UNKNOWN'))`

	listPaymentsSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1 ORDER BY updated_at, id`

	listUnresolvedSQL = `SELECT ` + paymentColumns + ` FROM payments
		WHERE status IN ('PENDING', 'UNKNOWN') AND updated_at < $1
		ORDER BY updated_at, id LIMIT $2`

	insertTransactionSQL = `INSERT INTO order_transactions (id, order_id, payment_id, amount, method, reference, status, transaction_date)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8)`

	listTransactionsSQL = `SELECT id, order_id, COALESCE(payment_id::text, ''), amount, method, reference, status, transaction_date
		FROM order_transactions WHERE order_id = $1 ORDER BY transaction_date, id`
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	db *DB
}

// NewPaymentRepository returns a PaymentRepository.
func NewPaymentRepository(db *DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts p. A recorded provider reference yields payment.ErrDuplicateRef.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	ct, err := r.db.q(ctx).Exec(ctx, insertPaymentSQL,
		p.ID, p.OrderID, string(p.Method), p.Amount, p.ProviderRef, p.ProviderTxnID,
		string(p.Status), p.Message, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating payment %q: %w", p.ProviderRef, err)
	}
	if ct.RowsAffected() == 0 {
		return payment.ErrDuplicateRef
	}
	return nil
}

// Get implements payment.Repository.
func (r *PaymentRepository) Get(ctx context.Context, id string) (*payment.Payment, error) {
	return r.one(ctx, getPaymentSQL, id)
}

// GetByRef implements payment.Repository.
func (r *PaymentRepository) GetByRef(ctx context.Context, ref string) (*payment.Payment, error) {
	return r.one(ctx, getPaymentByRefSQL, ref)
}

// Lock implements payment.Repository.
func (r *PaymentRepository) Lock(ctx context.Context, id string) (*payment.Payment, error) {
	return r.one(ctx, lockPaymentSQL, id)
}

func (r *PaymentRepository) one(ctx context.Context, query, key string) (*payment.Payment, error) {
	rows, err := r.db.q(ctx).Query(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("getting payment %q: %w", key, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("getting payment %q: %w", key, err)
	}
	return &p, nil
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var p payment.Payment
	err := row.Scan(
		&p.ID, &p.OrderID, &p.Method, &p.Amount, &p.ProviderRef, &p.ProviderTxnID,
		&p.Status, &p.Message, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

// UpdateStatus implements payment.Repository.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, p *payment.Payment, from payment.Status) error {
	q := r.db.q(ctx)
	ct, err := q.Exec(ctx, updatePaymentSQL,
		p.ID, string(from), string(p.Status), p.ProviderTxnID, p.Message, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating payment %q: %w", p.ID, err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, paymentExistsSQL, p.ID).Scan(&exists); err != nil {
		return fmt.Errorf("checking payment %q: %w", p.ID, err)
	}
	if !exists {
		return payment.ErrNotFound
	}
	return errors.Wrapf(fault.ErrConflict, "payment %s is no longer %s", p.ID, from)
}

// CountByStatus implements payment.Repository.
func (r *PaymentRepository) CountByStatus(ctx context.Context, orderID string, status payment.Status) (int, error) {
	var n int
	if err := r.db.q(ctx).QueryRow(ctx, countPaymentsSQL, orderID, string(status)).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting payments of %q: %w", orderID, err)
	}
	return n, nil
}

// HasInFlight implements payment.Repository.
func (r *PaymentRepository) HasInFlight(ctx context.Context, orderID string) (bool, error) {
	var ok bool
	if err := r.db.q(ctx).QueryRow(ctx, inFlightSQL, orderID).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking in-flight payments of %q: %w", orderID, err)
	}
	return ok, nil
}

// ListByOrder implements payment.Repository.
func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]payment.Payment, error) {
	rows, err := r.db.q(ctx).Query(ctx, listPaymentsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing payments of %q: %w", orderID, err)
	}
	out, err := pgx.CollectRows(rows, scanPayment)
	if err != nil {
		return nil, fmt.Errorf("scanning payments of %q: %w", orderID, err)
	}
	return out, nil
}

// ListUnresolved implements payment.Repository.
func (r *PaymentRepository) ListUnresolved(ctx context.Context, before time.Time, limit int) ([]payment.Payment, error) {
	rows, err := r.db.q(ctx).Query(ctx, listUnresolvedSQL, before, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unresolved payments: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanPayment)
	if err != nil {
		return nil, fmt.Errorf("scanning unresolved payments: %w", err)
	}
	return out, nil
}

// AddTransaction implements payment.Repository.
func (r *PaymentRepository) AddTransaction(ctx context.Context, t *payment.Transaction) error {
	_, err := r.db.q(ctx).Exec(ctx, insertTransactionSQL,
		t.ID, t.OrderID, t.PaymentID, t.Amount, string(t.Method), t.Reference, string(t.Status), t.Date,
	)
	if err != nil {
		return fmt.Errorf("adding transaction to %q: %w", t.OrderID, err)
	}
	return nil
}

// ListTransactions implements payment.Repository.
func (r *PaymentRepository) ListTransactions(ctx context.Context, orderID string) ([]payment.Transaction, error) {
	rows, err := r.db.q(ctx).Query(ctx, listTransactionsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing transactions of %q: %w", orderID, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (payment.Transaction, error) {
		var t payment.Transaction
		err := row.Scan(&t.ID, &t.OrderID, &t.PaymentID, &t.Amount, &t.Method, &t.Reference, &t.Status, &t.Date)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning transactions of %q: %w", orderID, err)
	}
	return out, nil
}
