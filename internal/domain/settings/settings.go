// Package settings holds the shop-wide configuration row and the delivery cost
// and tax collaborators derived from it.
//
// Exactly one row is active at a time. Activation is explicit; creating a row
// never changes which one is current.
package settings

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/txn"
)

// ErrNoActive is returned when no settings row has been activated.
var ErrNoActive = errors.Wrap(fault.ErrNotFound, "active shop settings")

// Settings is one shop configuration revision.
type Settings struct {
	ID           int64
	ShippingCost decimal.Decimal
	// TaxRate is a fraction, e.g. 0.18 for 18%.
	TaxRate     decimal.Decimal
	Currency    string
	Active      bool
	CreatedAt   time.Time
	ActivatedAt *time.Time
}

// Validate checks s before it is stored.
func (s *Settings) Validate() error {
	switch {
	case s.ShippingCost.IsNegative():
		return fault.Invalid("shipping_cost", "must not be negative")
	case s.TaxRate.IsNegative() || s.TaxRate.GreaterThan(decimal.NewFromInt(1)):
		return fault.Invalid("tax_rate", "must be between 0 and 1")
	case len(s.Currency) != 3:
		return fault.Invalid("currency", "must be an ISO 4217 code")
	}
	return nil
}

// Repository persists settings revisions.
type Repository interface {
	// Current returns the active row or ErrNoActive.
	Current(ctx context.Context) (*Settings, error)
	Create(ctx context.Context, s *Settings) error
	// Activate deactivates the current row and activates id.
	Activate(ctx context.Context, id int64, at time.Time) error
}

// Service exposes the current configuration.
type Service struct {
	tx   txn.Runner
	repo Repository
	now  func() time.Time
}

// NewService creates a Service.
func NewService(tx txn.Runner, repo Repository) *Service {
	return &Service{tx: tx, repo: repo, now: time.Now}
}

// Current returns the active settings.
func (s *Service) Current(ctx context.Context) (*Settings, error) {
	return s.repo.Current(ctx)
}

// Create stores a new inactive revision.
func (s *Service) Create(ctx context.Context, st *Settings) error {
	if err := st.Validate(); err != nil {
		return err
	}
	st.Active = false
	st.CreatedAt = s.now()
	return s.repo.Create(ctx, st)
}

// Activate makes id the current revision.
func (s *Service) Activate(ctx context.Context, id int64) error {
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Activate(ctx, id, s.now()); err != nil {
			return errors.Wrapf(err, "activate settings %d", id)
		}
		return nil
	})
}

// FlatDelivery returns the shipping cost of the active revision regardless of
// destination. It satisfies order.DeliveryCostFunc.
func (s *Service) FlatDelivery(ctx context.Context, _ order.Address) (decimal.Decimal, error) {
	cur, err := s.repo.Current(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return cur.ShippingCost, nil
}

// FlatTax applies the active tax rate to subtotal. It satisfies order.TaxFunc.
func (s *Service) FlatTax(ctx context.Context, subtotal decimal.Decimal, _ order.Address) (decimal.Decimal, error) {
	cur, err := s.repo.Current(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return subtotal.Mul(cur.TaxRate).Round(2), nil
}
