package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/settings"
)

const (
	currentSettingsSQL = `SELECT id, shipping_cost, tax_rate, currency, active, created_at, activated_at
		FROM shop_settings WHERE active`

	insertSettingsSQL = `INSERT INTO shop_settings (shipping_cost, tax_rate, currency, active, created_at)
		VALUES ($1, $2, $3, FALSE, $4) RETURNING id`

	deactivateSettingsSQL = `UPDATE shop_settings SET active = FALSE WHERE active AND id <> $1`

	activateSettingsSQL = `UPDATE shop_settings SET active = TRUE, activated_at = $2 WHERE id = $1`

	getAPIKeyByHashSQL = `SELECT id, key_hash, name, scopes
		FROM api_keys WHERE key_hash = $1 AND active = TRUE`
)

var (
	_ settings.Repository = (*SettingsRepository)(nil)
	_ auth.Repository     = (*SettingsRepository)(nil)
)

// SettingsRepository stores shop settings revisions and API keys.
type SettingsRepository struct {
	db *DB
}

// NewSettingsRepository returns a SettingsRepository.
func NewSettingsRepository(db *DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Current implements settings.Repository.
func (r *SettingsRepository) Current(ctx context.Context) (*settings.Settings, error) {
	var s settings.Settings
	err := r.db.q(ctx).QueryRow(ctx, currentSettingsSQL).Scan(
		&s.ID, &s.ShippingCost, &s.TaxRate, &s.Currency, &s.Active, &s.CreatedAt, &s.ActivatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, settings.ErrNoActive
		}
		return nil, fmt.Errorf("getting active settings: %w", err)
	}
	return &s, nil
}

// Create implements settings.Repository.
func (r *SettingsRepository) Create(ctx context.Context, s *settings.Settings) error {
	err := r.db.q(ctx).QueryRow(ctx, insertSettingsSQL, s.ShippingCost, s.TaxRate, s.Currency, s.CreatedAt).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("creating settings: %w", err)
	}
	return nil
}

// Activate implements settings.Repository. It must run inside a transaction
// so the partial unique index never sees two active rows.
func (r *SettingsRepository) Activate(ctx context.Context, id int64, at time.Time) error {
	return r.db.InTx(ctx, func(ctx context.Context) error {
		q := r.db.q(ctx)
		if _, err := q.Exec(ctx, deactivateSettingsSQL, id); err != nil {
			return fmt.Errorf("deactivating settings: %w", err)
		}
		ct, err := q.Exec(ctx, activateSettingsSQL, id, at)
		if err != nil {
			return fmt.Errorf("activating settings %d: %w", id, err)
		}
		if ct.RowsAffected() == 0 {
			return errors.Wrapf(fault.ErrNotFound, "settings %d", id)
		}
		return nil
	})
}

// FindByHash looks up an active API key by its HMAC-SHA256 hash.
func (r *SettingsRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var info auth.APIKeyInfo
	err := r.db.q(ctx).QueryRow(ctx, getAPIKeyByHashSQL, hash).Scan(
		&info.ID, &info.KeyHash, &info.Name, &info.Scopes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrInvalidKey
		}
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	return &info, nil
}
