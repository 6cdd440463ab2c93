package memstore

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/order"
)

// PutProfile stores contact defaults for a registered user.
func (r *Orders) PutProfile(userID string, c order.Contact) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.st.profiles[userID] = c
}

// Profile implements order.ProfileRepository.
func (r *Orders) Profile(ctx context.Context, userID string) (*order.Contact, error) {
	defer r.s.lock(ctx)()
	c, ok := r.s.st.profiles[userID]
	if !ok {
		return nil, errors.Wrapf(fault.ErrNotFound, "user %s", userID)
	}
	return &c, nil
}

// Create implements order.Repository.
func (r *Orders) Create(ctx context.Context, o *order.Order) error {
	defer r.s.lock(ctx)()
	if _, taken := r.s.st.codes[o.Code]; taken {
		return order.ErrCodeTaken
	}
	r.s.st.orders[o.ID] = cloneOrder(o)
	r.s.st.codes[o.Code] = o.ID
	return nil
}

// CodeExists implements order.Repository.
func (r *Orders) CodeExists(ctx context.Context, code string) (bool, error) {
	defer r.s.lock(ctx)()
	_, ok := r.s.st.codes[code]
	return ok, nil
}

// Get implements order.Repository.
func (r *Orders) Get(ctx context.Context, id string) (*order.Order, error) {
	defer r.s.lock(ctx)()
	o, ok := r.s.st.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

// GetByCode implements order.Repository.
func (r *Orders) GetByCode(ctx context.Context, code string) (*order.Order, error) {
	defer r.s.lock(ctx)()
	id, ok := r.s.st.codes[code]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(r.s.st.orders[id]), nil
}

// Lock implements order.Repository. Transactions already hold the store lock.
func (r *Orders) Lock(ctx context.Context, id string) (*order.Order, error) {
	return r.Get(ctx, id)
}

// UpdateStatus implements order.Repository.
func (r *Orders) UpdateStatus(ctx context.Context, id string, from, to order.Status, at time.Time) error {
	defer r.s.lock(ctx)()
	o, ok := r.s.st.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	if o.Status != from {
		return errors.Wrapf(fault.ErrConflict, "order %s status is %s, expected %s", id, o.Status, from)
	}
	o.Status = to
	o.UpdatedAt = at
	return nil
}

// SetPaymentStatus implements order.Repository.
func (r *Orders) SetPaymentStatus(ctx context.Context, id string, from, to order.PaymentStatus, at time.Time) error {
	defer r.s.lock(ctx)()
	o, ok := r.s.st.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	if o.PaymentStatus != from {
		return errors.Wrapf(fault.ErrConflict, "order %s payment status is %s, expected %s", id, o.PaymentStatus, from)
	}
	o.PaymentStatus = to
	o.UpdatedAt = at
	return nil
}

// MarkDelivered implements order.Repository.
func (r *Orders) MarkDelivered(ctx context.Context, id, by string, at time.Time) (bool, error) {
	defer r.s.lock(ctx)()
	o, ok := r.s.st.orders[id]
	if !ok {
		return false, order.ErrNotFound
	}
	if o.QRScanned || (o.Status != order.StatusPending && o.Status != order.StatusProcessing) {
		return false, nil
	}
	o.QRScanned = true
	o.Status = order.StatusDelivered
	o.DeliveredAt = &at
	o.DeliveredBy = by
	o.UpdatedAt = at
	return true, nil
}

// MarkRestocked implements order.Repository.
func (r *Orders) MarkRestocked(ctx context.Context, id string, at time.Time) (bool, error) {
	defer r.s.lock(ctx)()
	o, ok := r.s.st.orders[id]
	if !ok {
		return false, order.ErrNotFound
	}
	if o.RestockedAt != nil {
		return false, nil
	}
	o.RestockedAt = &at
	o.UpdatedAt = at
	return true, nil
}

// Delete implements order.Repository. Payments and transactions go with it.
func (r *Orders) Delete(ctx context.Context, id string) error {
	defer r.s.lock(ctx)()
	o, ok := r.s.st.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	delete(r.s.st.orders, id)
	delete(r.s.st.codes, o.Code)
	for pid, p := range r.s.st.payments {
		if p.OrderID == id {
			delete(r.s.st.refs, p.ProviderRef)
			delete(r.s.st.payments, pid)
		}
	}
	kept := r.s.st.transactions[:0]
	for _, t := range r.s.st.transactions {
		if t.OrderID != id {
			kept = append(kept, t)
		}
	}
	r.s.st.transactions = kept
	return nil
}
