// Package stock implements the stock ledger: atomic reserve, release and
// commit of per-product and per-size inventory.
package stock

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/txn"
)

// Request describes a reservation of Quantity units of a product size.
type Request struct {
	OrderID   string
	ProductID string
	Size      catalog.Size
	Quantity  int
}

// Ledger reserves and releases stock. Reservation decrements immediately; there
// is no separate hold table.
type Ledger struct {
	tx    txn.Runner
	repo  Repository
	now   func() time.Time
	newID func() string
}

// NewLedger creates a Ledger backed by repo.
func NewLedger(tx txn.Runner, repo Repository) *Ledger {
	return &Ledger{
		tx:    tx,
		repo:  repo,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// Reserve decrements stock for req and returns a token describing the change.
// It fails with *InsufficientStockError without touching stock when the
// requested quantity exceeds what is available.
func (l *Ledger) Reserve(ctx context.Context, req Request) (*Reservation, error) {
	if req.Quantity <= 0 {
		return nil, fault.Invalid("quantity", "must be greater than 0")
	}
	if req.ProductID == "" {
		return nil, fault.Invalid("product_id", "required")
	}

	r := &Reservation{
		ID:        l.newID(),
		OrderID:   req.OrderID,
		ProductID: req.ProductID,
		Size:      req.Size,
		Quantity:  req.Quantity,
		State:     StateReserved,
	}

	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		if err := l.repo.Decrement(ctx, r.ProductID, r.Size, r.Quantity); err != nil {
			return err
		}
		return l.repo.RecordMovement(ctx, l.movement(r, MovementReserve))
	})
	if err != nil {
		return nil, errors.Wrapf(err, "reserve %s", describe(r))
	}
	return r, nil
}

// Release restores exactly what r decremented. Releasing a committed
// reservation is a restock. Releasing twice fails with ErrReservationClosed.
func (l *Ledger) Release(ctx context.Context, r *Reservation) error {
	if r.State == StateReleased {
		return ErrReservationClosed
	}
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		if err := l.repo.Increment(ctx, r.ProductID, r.Size, r.Quantity); err != nil {
			return err
		}
		return l.repo.RecordMovement(ctx, l.movement(r, MovementRelease))
	})
	if err != nil {
		return errors.Wrapf(err, "release %s", describe(r))
	}
	r.State = StateReleased
	return nil
}

// ReleaseAll releases every open reservation in rs, returning the first error.
func (l *Ledger) ReleaseAll(ctx context.Context, rs []*Reservation) error {
	var first error
	for _, r := range rs {
		if r.State == StateReleased {
			continue
		}
		if err := l.Release(ctx, r); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Commit marks r as finalized for audit. Stock was already decremented by
// Reserve, so no counts change.
func (l *Ledger) Commit(ctx context.Context, r *Reservation) error {
	switch r.State {
	case StateCommitted:
		return nil
	case StateReleased:
		return ErrReservationClosed
	}
	if err := l.repo.RecordMovement(ctx, l.movement(r, MovementCommit)); err != nil {
		return errors.Wrapf(err, "commit %s", describe(r))
	}
	r.State = StateCommitted
	return nil
}

func (l *Ledger) movement(r *Reservation, kind MovementKind) Movement {
	return Movement{
		ReservationID: r.ID,
		OrderID:       r.OrderID,
		ProductID:     r.ProductID,
		Size:          r.Size,
		Quantity:      r.Quantity,
		Kind:          kind,
		At:            l.now(),
	}
}

func describe(r *Reservation) string {
	if r.Size == catalog.SizeNone {
		return r.ProductID
	}
	return r.ProductID + "/" + string(r.Size)
}
