package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/payment"
)

// Create implements payment.Repository.
func (r *Payments) Create(ctx context.Context, p *payment.Payment) error {
	defer r.s.lock(ctx)()
	if _, dup := r.s.st.refs[p.ProviderRef]; dup {
		return payment.ErrDuplicateRef
	}
	if _, ok := r.s.st.orders[p.OrderID]; !ok {
		return errors.Wrapf(fault.ErrNotFound, "order %s", p.OrderID)
	}
	c := *p
	r.s.st.payments[p.ID] = &c
	r.s.st.refs[p.ProviderRef] = p.ID
	return nil
}

// Get implements payment.Repository.
func (r *Payments) Get(ctx context.Context, id string) (*payment.Payment, error) {
	defer r.s.lock(ctx)()
	p, ok := r.s.st.payments[id]
	if !ok {
		return nil, payment.ErrNotFound
	}
	c := *p
	return &c, nil
}

// GetByRef implements payment.Repository.
func (r *Payments) GetByRef(ctx context.Context, ref string) (*payment.Payment, error) {
	defer r.s.lock(ctx)()
	id, ok := r.s.st.refs[ref]
	if !ok {
		return nil, payment.ErrNotFound
	}
	c := *r.s.st.payments[id]
	return &c, nil
}

// Lock implements payment.Repository.
func (r *Payments) Lock(ctx context.Context, id string) (*payment.Payment, error) {
	return r.Get(ctx, id)
}

// UpdateStatus implements payment.Repository.
func (r *Payments) UpdateStatus(ctx context.Context, p *payment.Payment, from payment.Status) error {
	defer r.s.lock(ctx)()
	cur, ok := r.s.st.payments[p.ID]
	if !ok {
		return payment.ErrNotFound
	}
	if cur.Status != from {
		return errors.Wrapf(fault.ErrConflict, "payment %s status is %s, expected %s", p.ID, cur.Status, from)
	}
	cur.Status = p.Status
	cur.ProviderTxnID = p.ProviderTxnID
	cur.Message = p.Message
	cur.UpdatedAt = p.UpdatedAt
	return nil
}

// CountByStatus implements payment.Repository.
func (r *Payments) CountByStatus(ctx context.Context, orderID string, status payment.Status) (int, error) {
	defer r.s.lock(ctx)()
	n := 0
	for _, p := range r.s.st.payments {
		if p.OrderID == orderID && p.Status == status {
			n++
		}
	}
	return n, nil
}

// HasInFlight implements payment.Repository.
func (r *Payments) HasInFlight(ctx context.Context, orderID string) (bool, error) {
	defer r.s.lock(ctx)()
	for _, p := range r.s.st.payments {
		if p.OrderID == orderID && (p.Status == payment.StatusPending || p.Status == payment.StatusUnknown) {
			return true, nil
		}
	}
	return false, nil
}

// ListByOrder implements payment.Repository.
func (r *Payments) ListByOrder(ctx context.Context, orderID string) ([]payment.Payment, error) {
	defer r.s.lock(ctx)()
	var out []payment.Payment
	for _, p := range r.s.st.payments {
		if p.OrderID == orderID {
			out = append(out, *p)
		}
	}
	sortPayments(out)
	return out, nil
}

// ListUnresolved implements payment.Repository.
func (r *Payments) ListUnresolved(ctx context.Context, before time.Time, limit int) ([]payment.Payment, error) {
	defer r.s.lock(ctx)()
	var out []payment.Payment
	for _, p := range r.s.st.payments {
		if (p.Status == payment.StatusPending || p.Status == payment.StatusUnknown) && p.UpdatedAt.Before(before) {
			out = append(out, *p)
		}
	}
	sortPayments(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AddTransaction implements payment.Repository.
func (r *Payments) AddTransaction(ctx context.Context, t *payment.Transaction) error {
	defer r.s.lock(ctx)()
	r.s.st.transactions = append(r.s.st.transactions, *t)
	return nil
}

// ListTransactions implements payment.Repository.
func (r *Payments) ListTransactions(ctx context.Context, orderID string) ([]payment.Transaction, error) {
	defer r.s.lock(ctx)()
	var out []payment.Transaction
	for _, t := range r.s.st.transactions {
		if t.OrderID == orderID {
			out = append(out, t)
		}
	}
	return out, nil
}

// SetUpdatedAt backdates a payment so the reconciler picks it up.
func (r *Payments) SetUpdatedAt(id string, at time.Time) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.st.payments[id]; ok {
		p.UpdatedAt = at
	}
}

func sortPayments(ps []payment.Payment) {
	slices.SortFunc(ps, func(a, b payment.Payment) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	})
}
