package postgres

import (
	"context"
	"fmt"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/order"
)

// Write-side statements used by the seed and import tools. The API never
// mutates the catalog except through stock counts.
const (
	upsertCategorySQL = `INSERT INTO categories (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`

	upsertProductSQL = `INSERT INTO products (id, name, price, stock, popular, gender)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price,
			stock = EXCLUDED.stock, popular = EXCLUDED.popular, gender = EXCLUDED.gender`

	clearProductCategoriesSQL = `DELETE FROM product_categories WHERE product_id = $1`
	insertProductCategorySQL  = `INSERT INTO product_categories (product_id, category_id) VALUES ($1, $2)`
	clearProductColorsSQL     = `DELETE FROM product_colors WHERE product_id = $1`
	insertProductColorSQL     = `INSERT INTO product_colors (product_id, color) VALUES ($1, $2)`
	clearProductSizesSQL      = `DELETE FROM product_sizes WHERE product_id = $1`
	insertProductSizeSQL      = `INSERT INTO product_sizes (product_id, size, stock) VALUES ($1, $2, $3)`

	upsertDiscountSQL = `INSERT INTO discounts (code, kind, value, start_date, end_date, active, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (code) DO UPDATE SET kind = EXCLUDED.kind, value = EXCLUDED.value,
			start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date,
			active = EXCLUDED.active, description = EXCLUDED.description`

	clearDiscountProductsSQL   = `DELETE FROM discount_products WHERE discount_code = $1`
	insertDiscountProductSQL   = `INSERT INTO discount_products (discount_code, product_id) VALUES ($1, $2)`
	clearDiscountCategoriesSQL = `DELETE FROM discount_categories WHERE discount_code = $1`
	insertDiscountCategorySQL  = `INSERT INTO discount_categories (discount_code, category_id) VALUES ($1, $2)`

	upsertUserSQL = `INSERT INTO users (id, name, email, phone) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, phone = EXCLUDED.phone`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, scopes, active) VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (id) DO UPDATE SET key_hash = EXCLUDED.key_hash, name = EXCLUDED.name,
			scopes = EXCLUDED.scopes, active = TRUE`
)

// SaveCategory creates or renames a category.
func (r *CatalogRepository) SaveCategory(ctx context.Context, id, name string) error {
	if _, err := r.db.q(ctx).Exec(ctx, upsertCategorySQL, id, name); err != nil {
		return fmt.Errorf("saving category %q: %w", id, err)
	}
	return nil
}

// SaveProduct creates or replaces p together with its categories, colors and
// sizes. Referenced categories must exist.
func (r *CatalogRepository) SaveProduct(ctx context.Context, p *catalog.Product) error {
	return r.db.InTx(ctx, func(ctx context.Context) error {
		q := r.db.q(ctx)
		if _, err := q.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Price, p.Stock, p.Popular, p.Gender); err != nil {
			return fmt.Errorf("saving product %q: %w", p.ID, err)
		}
		if err := replace(ctx, q, clearProductCategoriesSQL, insertProductCategorySQL, p.ID, p.CategoryIDs); err != nil {
			return fmt.Errorf("saving categories of %q: %w", p.ID, err)
		}
		if err := replace(ctx, q, clearProductColorsSQL, insertProductColorSQL, p.ID, p.Colors); err != nil {
			return fmt.Errorf("saving colors of %q: %w", p.ID, err)
		}
		if _, err := q.Exec(ctx, clearProductSizesSQL, p.ID); err != nil {
			return fmt.Errorf("clearing sizes of %q: %w", p.ID, err)
		}
		for _, s := range p.Sizes {
			if _, err := q.Exec(ctx, insertProductSizeSQL, p.ID, string(s.Size), s.Stock); err != nil {
				return fmt.Errorf("saving size %s of %q: %w", s.Size, p.ID, err)
			}
		}
		return nil
	})
}

// SaveDiscount creates or replaces d and its product and category targets.
func (r *CatalogRepository) SaveDiscount(ctx context.Context, d *discount.Discount) error {
	return r.db.InTx(ctx, func(ctx context.Context) error {
		q := r.db.q(ctx)
		_, err := q.Exec(ctx, upsertDiscountSQL,
			d.Code, string(d.Kind), d.Value, d.StartDate, d.EndDate, d.Active, d.Description,
		)
		if err != nil {
			return fmt.Errorf("saving discount %q: %w", d.Code, err)
		}
		if err := replace(ctx, q, clearDiscountProductsSQL, insertDiscountProductSQL, d.Code, d.ProductIDs); err != nil {
			return fmt.Errorf("saving products of discount %q: %w", d.Code, err)
		}
		if err := replace(ctx, q, clearDiscountCategoriesSQL, insertDiscountCategorySQL, d.Code, d.CategoryIDs); err != nil {
			return fmt.Errorf("saving categories of discount %q: %w", d.Code, err)
		}
		return nil
	})
}

func replace(ctx context.Context, q querier, clearSQL, insertSQL, key string, values []string) error {
	if _, err := q.Exec(ctx, clearSQL, key); err != nil {
		return err
	}
	for _, v := range values {
		if _, err := q.Exec(ctx, insertSQL, key, v); err != nil {
			return err
		}
	}
	return nil
}

// SaveUser creates or updates the profile of a registered user.
func (r *OrderRepository) SaveUser(ctx context.Context, id string, c order.Contact) error {
	if _, err := r.db.q(ctx).Exec(ctx, upsertUserSQL, id, c.Name, c.Email, c.Phone); err != nil {
		return fmt.Errorf("saving user %q: %w", id, err)
	}
	return nil
}

// SaveAPIKey stores an active key. Only KeyHash is persisted, never the key.
func (r *SettingsRepository) SaveAPIKey(ctx context.Context, k *auth.APIKeyInfo) error {
	scopes := k.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	if _, err := r.db.q(ctx).Exec(ctx, upsertAPIKeySQL, k.ID, k.KeyHash, k.Name, scopes); err != nil {
		return fmt.Errorf("saving api key %q: %w", k.ID, err)
	}
	return nil
}
