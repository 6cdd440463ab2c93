package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported discount strategies.
type Kind string

const (
	// KindPercentage takes a percentage off the list price.
	KindPercentage Kind = "percentage"
	// KindFixed takes a fixed amount off the list price.
	KindFixed Kind = "fixed"
)

var hundred = decimal.NewFromInt(100)

// Discount is a time-bounded price reduction attached to products directly or
// through their categories.
type Discount struct {
	Code        string
	Kind        Kind
	Value       decimal.Decimal
	StartDate   time.Time
	EndDate     time.Time
	Active      bool
	Description string
	ProductIDs  []string
	CategoryIDs []string
}

// ActiveAt reports whether the discount is switched on and at lies within its
// inclusive activity window.
func (d *Discount) ActiveAt(at time.Time) bool {
	return d.Active && !at.Before(d.StartDate) && !at.After(d.EndDate)
}

// Check reports inconsistent discount data that must not be applied.
func (d *Discount) Check(listPrice decimal.Decimal) error {
	if d.EndDate.Before(d.StartDate) {
		return errors.Errorf("discount %s ends before it starts", d.Code)
	}
	if d.Value.IsNegative() {
		return errors.Errorf("discount %s has negative value %s", d.Code, d.Value)
	}
	switch d.Kind {
	case KindPercentage:
		if d.Value.GreaterThan(hundred) {
			return errors.Errorf("discount %s exceeds 100%%: %s", d.Code, d.Value)
		}
	case KindFixed:
		if d.Value.GreaterThan(listPrice) {
			return errors.Errorf("discount %s amount %s exceeds price %s", d.Code, d.Value, listPrice)
		}
	default:
		return errors.Errorf("discount %s has unsupported kind %q", d.Code, d.Kind)
	}
	return nil
}

// Apply returns listPrice reduced by d, rounded to cents and floored at zero.
// Callers must Check the discount first.
func (d *Discount) Apply(listPrice decimal.Decimal) decimal.Decimal {
	var price decimal.Decimal
	switch d.Kind {
	case KindPercentage:
		price = listPrice.Sub(listPrice.Mul(d.Value).Div(hundred))
	case KindFixed:
		price = listPrice.Sub(d.Value)
	default:
		return listPrice
	}
	if price.IsNegative() {
		return decimal.Zero
	}
	return price.Round(2)
}

// Repository provides discount lookups.
type Repository interface {
	// ForProduct returns every discount associated with the product directly or
	// with any of the given categories, regardless of activity.
	ForProduct(ctx context.Context, productID string, categoryIDs []string) ([]Discount, error)
}
