package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/stock"
)

const (
	getProductSQL = `SELECT p.id, p.name, p.price, p.stock, p.popular, p.gender,
		COALESCE((SELECT array_agg(category_id ORDER BY category_id) FROM product_categories WHERE product_id = p.id), '{}'),
		COALESCE((SELECT array_agg(color ORDER BY color) FROM product_colors WHERE product_id = p.id), '{}')
		FROM products p WHERE p.id = $1`

	listProductSizesSQL = `SELECT size, stock FROM product_sizes WHERE product_id = $1 ORDER BY size`

	decrementSizeSQL = `UPDATE product_sizes SET stock = stock - $3
		WHERE product_id = $1 AND size = $2 AND stock >= $3`

	decrementProductSQL = `UPDATE products SET stock = stock - $2
		WHERE id = $1 AND stock >= $2`

	incrementSizeSQL = `UPDATE product_sizes SET stock = stock + $3
		WHERE product_id = $1 AND size = $2`

	incrementProductSQL = `UPDATE products SET stock = stock + $2 WHERE id = $1`

	sizeStockSQL    = `SELECT stock FROM product_sizes WHERE product_id = $1 AND size = $2`
	productStockSQL = `SELECT stock FROM products WHERE id = $1`

	insertMovementSQL = `INSERT INTO stock_movements (reservation, order_id, product_id, size, quantity, kind, created_at)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7)`

	discountsForProductSQL = `SELECT d.code, d.kind, d.value, d.start_date, d.end_date, d.active, d.description
		FROM discounts d
		WHERE EXISTS (SELECT 1 FROM discount_products dp WHERE dp.discount_code = d.code AND dp.product_id = $1)
		   OR EXISTS (SELECT 1 FROM discount_categories dc WHERE dc.discount_code = d.code AND dc.category_id = ANY($2))
		ORDER BY d.code`
)

var (
	_ catalog.Repository  = (*CatalogRepository)(nil)
	_ stock.Repository    = (*CatalogRepository)(nil)
	_ discount.Repository = (*CatalogRepository)(nil)
)

// CatalogRepository serves product snapshots, discounts and stock counts.
type CatalogRepository struct {
	db *DB
}

// NewCatalogRepository returns a CatalogRepository.
func NewCatalogRepository(db *DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// GetProduct returns the product with its categories, colors and sizes.
func (r *CatalogRepository) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	q := r.db.q(ctx)

	var p catalog.Product
	err := q.QueryRow(ctx, getProductSQL, id).Scan(
		&p.ID, &p.Name, &p.Price, &p.Stock, &p.Popular, &p.Gender, &p.CategoryIDs, &p.Colors,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrProductNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	rows, err := q.Query(ctx, listProductSizesSQL, id)
	if err != nil {
		return nil, fmt.Errorf("listing sizes of %q: %w", id, err)
	}
	p.Sizes, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.ProductSize, error) {
		var s catalog.ProductSize
		err := row.Scan(&s.Size, &s.Stock)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning sizes of %q: %w", id, err)
	}
	return &p, nil
}

// ForProduct returns discounts tied to the product or any of its categories.
func (r *CatalogRepository) ForProduct(ctx context.Context, productID string, categoryIDs []string) ([]discount.Discount, error) {
	if categoryIDs == nil {
		categoryIDs = []string{}
	}
	rows, err := r.db.q(ctx).Query(ctx, discountsForProductSQL, productID, categoryIDs)
	if err != nil {
		return nil, fmt.Errorf("listing discounts for %q: %w", productID, err)
	}
	return pgx.CollectRows(rows, scanDiscount)
}

func scanDiscount(row pgx.CollectableRow) (discount.Discount, error) {
	var d discount.Discount
	err := row.Scan(&d.Code, &d.Kind, &d.Value, &d.StartDate, &d.EndDate, &d.Active, &d.Description)
	return d, err
}

// Decrement subtracts qty in a single conditional UPDATE; the row lock it
// takes serializes concurrent reservations of the same product or size.
func (r *CatalogRepository) Decrement(ctx context.Context, productID string, size catalog.Size, qty int) error {
	q := r.db.q(ctx)

	var (
		affected int64
		err      error
	)
	if size == catalog.SizeNone {
		ct, execErr := q.Exec(ctx, decrementProductSQL, productID, qty)
		affected, err = ct.RowsAffected(), execErr
	} else {
		ct, execErr := q.Exec(ctx, decrementSizeSQL, productID, string(size), qty)
		affected, err = ct.RowsAffected(), execErr
	}
	if err != nil {
		return fmt.Errorf("decrementing stock of %q: %w", productID, err)
	}
	if affected == 1 {
		return nil
	}

	available, err := r.available(ctx, productID, size)
	if err != nil {
		return err
	}
	return &stock.InsufficientStockError{
		ProductID: productID,
		Size:      size,
		Requested: qty,
		Available: available,
	}
}

// available reads the current count for an error message. A missing size row
// counts as zero; a missing product is reported as not found.
func (r *CatalogRepository) available(ctx context.Context, productID string, size catalog.Size) (int, error) {
	q := r.db.q(ctx)

	var n int
	var err error
	if size == catalog.SizeNone {
		err = q.QueryRow(ctx, productStockSQL, productID).Scan(&n)
	} else {
		err = q.QueryRow(ctx, sizeStockSQL, productID, string(size)).Scan(&n)
	}
	switch {
	case err == nil:
		return n, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return 0, fmt.Errorf("reading stock of %q: %w", productID, err)
	case size == catalog.SizeNone:
		return 0, catalog.ErrProductNotFound
	default:
		return 0, nil
	}
}

// Increment adds qty back.
func (r *CatalogRepository) Increment(ctx context.Context, productID string, size catalog.Size, qty int) error {
	q := r.db.q(ctx)

	var (
		affected int64
		err      error
	)
	if size == catalog.SizeNone {
		ct, execErr := q.Exec(ctx, incrementProductSQL, productID, qty)
		affected, err = ct.RowsAffected(), execErr
	} else {
		ct, execErr := q.Exec(ctx, incrementSizeSQL, productID, string(size), qty)
		affected, err = ct.RowsAffected(), execErr
	}
	if err != nil {
		return fmt.Errorf("incrementing stock of %q: %w", productID, err)
	}
	if affected == 0 {
		return catalog.ErrProductNotFound
	}
	return nil
}

// RecordMovement appends a stock audit row.
func (r *CatalogRepository) RecordMovement(ctx context.Context, m stock.Movement) error {
	_, err := r.db.q(ctx).Exec(ctx, insertMovementSQL,
		m.ReservationID, m.OrderID, m.ProductID, string(m.Size), m.Quantity, string(m.Kind), m.At,
	)
	if err != nil {
		return fmt.Errorf("recording %s movement: %w", m.Kind, err)
	}
	return nil
}
