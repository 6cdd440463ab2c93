package memstore

import (
	"context"
	"slices"

	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/stock"
)

// PutProduct inserts or replaces p.
func (r *Catalog) PutProduct(p catalog.Product) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.st.products[p.ID] = cloneProduct(&p)
}

// PutDiscount inserts or replaces d.
func (r *Catalog) PutDiscount(d discount.Discount) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.st.discounts[d.Code] = d
}

// GetProduct implements catalog.Repository.
func (r *Catalog) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	defer r.s.lock(ctx)()
	p, ok := r.s.st.products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return cloneProduct(p), nil
}

// ForProduct implements discount.Repository.
func (r *Catalog) ForProduct(ctx context.Context, productID string, categoryIDs []string) ([]discount.Discount, error) {
	defer r.s.lock(ctx)()
	var out []discount.Discount
	for _, d := range r.s.st.discounts {
		if slices.Contains(d.ProductIDs, productID) || slices.ContainsFunc(d.CategoryIDs, func(c string) bool {
			return slices.Contains(categoryIDs, c)
		}) {
			out = append(out, d)
		}
	}
	return out, nil
}

// Decrement implements stock.Repository.
func (r *Catalog) Decrement(ctx context.Context, productID string, size catalog.Size, qty int) error {
	defer r.s.lock(ctx)()
	level, err := r.level(productID, size)
	if err != nil {
		return err
	}
	if *level < qty {
		return &stock.InsufficientStockError{ProductID: productID, Size: size, Requested: qty, Available: *level}
	}
	*level -= qty
	return nil
}

// Increment implements stock.Repository.
func (r *Catalog) Increment(ctx context.Context, productID string, size catalog.Size, qty int) error {
	defer r.s.lock(ctx)()
	level, err := r.level(productID, size)
	if err != nil {
		return err
	}
	*level += qty
	return nil
}

// RecordMovement implements stock.Repository.
func (r *Catalog) RecordMovement(ctx context.Context, m stock.Movement) error {
	defer r.s.lock(ctx)()
	r.s.st.movements = append(r.s.st.movements, m)
	return nil
}

// Movements returns the stock audit trail.
func (r *Catalog) Movements() []stock.Movement {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return slices.Clone(r.s.st.movements)
}

// Level returns the current count for (productID, size), or -1 if unknown.
func (r *Catalog) Level(productID string, size catalog.Size) int {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	level, err := r.level(productID, size)
	if err != nil {
		return -1
	}
	return *level
}

func (r *Catalog) level(productID string, size catalog.Size) (*int, error) {
	p, ok := r.s.st.products[productID]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	if size == catalog.SizeNone {
		return &p.Stock, nil
	}
	for i := range p.Sizes {
		if p.Sizes[i].Size == size {
			return &p.Sizes[i].Stock, nil
		}
	}
	return nil, &stock.InsufficientStockError{ProductID: productID, Size: size}
}
