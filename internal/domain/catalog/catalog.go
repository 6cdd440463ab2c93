// Package catalog holds the read-side snapshot of products used when pricing
// and reserving order lines. Catalog management itself lives elsewhere.
package catalog

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/fault"
)

// ErrProductNotFound is returned when a requested product does not exist.
var ErrProductNotFound = errors.Wrap(fault.ErrNotFound, "product")

// Size enumerates garment sizes. The empty Size means "no size variant".
type Size string

const (
	SizeNone Size = ""
	SizeXS   Size = "XS"
	SizeS    Size = "S"
	SizeM    Size = "M"
	SizeL    Size = "L"
	SizeXL   Size = "XL"
	SizeXXL  Size = "XXL"
)

var knownSizes = []Size{SizeXS, SizeS, SizeM, SizeL, SizeXL, SizeXXL}

// Valid reports whether s is a known size or SizeNone.
func (s Size) Valid() bool {
	return s == SizeNone || slices.Contains(knownSizes, s)
}

// ProductSize is the per-size stock record of a product.
type ProductSize struct {
	Size  Size
	Stock int
}

// Product is a point-in-time snapshot of a catalog product.
type Product struct {
	ID          string
	Name        string
	Price       decimal.Decimal
	Stock       int
	Popular     bool
	Gender      string
	CategoryIDs []string
	Colors      []string
	Sizes       []ProductSize
}

// HasSizes reports whether stock for p is tracked per size.
func (p *Product) HasSizes() bool {
	return len(p.Sizes) > 0
}

// Available returns the authoritative stock count for size: the per-size count
// when the product has size variants, the aggregate count otherwise.
func (p *Product) Available(size Size) (int, bool) {
	if !p.HasSizes() {
		return p.Stock, size == SizeNone
	}
	for _, s := range p.Sizes {
		if s.Size == size {
			return s.Stock, true
		}
	}
	return 0, false
}

// Repository is the Catalog Snapshot Provider.
type Repository interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
}
