// Package discount resolves the best time-bounded discount for a product.
package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/catalog"
)

// Resolution is the outcome of pricing a single product.
type Resolution struct {
	ListPrice decimal.Decimal
	Price     decimal.Decimal
	// Applied is nil when no discount applies.
	Applied *Discount
}

// Resolver picks the discount that yields the lowest price at a point in time.
type Resolver struct {
	repo Repository
	now  func() time.Time
}

// NewResolver creates a Resolver backed by repo.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo, now: time.Now}
}

// ResolveBestPrice gathers the discounts tied to p or its categories, keeps the
// ones active at at (now when zero) and returns the lowest resulting price.
// Ties go to the discount with the earliest end date, then the lowest code.
//
// Inconsistent discounts are skipped with a warning rather than failing the
// lookup, so the worst case is the list price.
func (r *Resolver) ResolveBestPrice(ctx context.Context, p *catalog.Product, at time.Time) (Resolution, error) {
	if p == nil {
		return Resolution{}, catalog.ErrProductNotFound
	}
	if at.IsZero() {
		at = r.now()
	}

	res := Resolution{ListPrice: p.Price, Price: p.Price}

	candidates, err := r.repo.ForProduct(ctx, p.ID, p.CategoryIDs)
	if err != nil {
		return Resolution{}, errors.Wrapf(err, "discounts for product %s", p.ID)
	}

	for i := range candidates {
		d := &candidates[i]
		if !d.ActiveAt(at) {
			continue
		}
		if err := d.Check(p.Price); err != nil {
			zctx.From(ctx).Warn("Skipping inconsistent discount",
				zap.String("product_id", p.ID),
				zap.String("discount", d.Code),
				zap.Error(err),
			)
			continue
		}

		price := d.Apply(p.Price)
		if res.Applied == nil || better(price, d, res.Price, res.Applied) {
			res.Price = price
			res.Applied = d
		}
	}

	if res.Applied != nil && !res.Price.LessThan(p.Price) {
		// A zero-value discount changes nothing; report the list price as is.
		res.Applied = nil
		res.Price = p.Price
	}

	return res, nil
}

func better(price decimal.Decimal, d *Discount, bestPrice decimal.Decimal, best *Discount) bool {
	if c := price.Cmp(bestPrice); c != 0 {
		return c < 0
	}
	if !d.EndDate.Equal(best.EndDate) {
		return d.EndDate.Before(best.EndDate)
	}
	return d.Code < best.Code
}
