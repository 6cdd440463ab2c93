package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/order"
)

const orderColumns = `id, order_code, order_status, payment_status, COALESCE(user_id, ''),
	contact_name, contact_email, contact_phone,
	ship_line1, ship_line2, ship_city, ship_region, ship_postcode, ship_country,
	subtotal, shipping_cost, tax_amount, discount_amount, total,
	is_qr_scanned, delivered_at, delivered_by, restocked_at, created_at, updated_at`

const (
	insertOrderSQL = `INSERT INTO orders (id, order_code, order_status, payment_status, user_id,
		contact_name, contact_email, contact_phone,
		ship_line1, ship_line2, ship_city, ship_region, ship_postcode, ship_country,
		subtotal, shipping_cost, tax_amount, discount_amount, total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $13, $14,
		$15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (order_code) DO NOTHING`

	insertItemSQL = `INSERT INTO order_items (id, order_id, product_id, product_name, size, quantity,
		unit_price, list_price, discount_code, reservation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	orderCodeExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE order_code = $1)`

	getOrderSQL       = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderByCodeSQL = `SELECT ` + orderColumns + ` FROM orders WHERE order_code = $1`
	lockOrderSQL      = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	listItemsSQL = `SELECT id, product_id, product_name, size, quantity, unit_price, list_price,
		discount_code, reservation_id
		FROM order_items WHERE order_id = $1 ORDER BY product_id, size, id`

	updateOrderStatusSQL = `UPDATE orders SET order_status = $3, updated_at = $4
		WHERE id = $1 AND order_status = $2`

	updatePaymentStatusSQL = `UPDATE orders SET payment_status = $3, updated_at = $4
		WHERE id = $1 AND payment_status = $2`

	markDeliveredSQL = `UPDATE orders
		SET is_qr_scanned = TRUE, order_status = 'DELIVERED', delivered_at = $3, delivered_by = $2, updated_at = $3
		WHERE id = $1 AND NOT is_qr_scanned AND order_status IN ('PENDING', 'PROCESSING')`

	markRestockedSQL = `UPDATE orders SET restocked_at = $2, updated_at = $2
		WHERE id = $1 AND restocked_at IS NULL`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`

	getProfileSQL = `SELECT name, email, phone FROM users WHERE id = $1`
)

var (
	_ order.Repository        = (*OrderRepository)(nil)
	_ order.ProfileRepository = (*OrderRepository)(nil)
)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db *DB
}

// NewOrderRepository returns an OrderRepository.
func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts the order and its items. A taken order code is reported as
// order.ErrCodeTaken without aborting the surrounding transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	userID, _ := order.UserID(o.Orderer)
	q := r.db.q(ctx)

	ct, err := q.Exec(ctx, insertOrderSQL,
		o.ID, o.Code, string(o.Status), string(o.PaymentStatus), userID,
		o.Contact.Name, o.Contact.Email, o.Contact.Phone,
		o.Shipping.Line1, o.Shipping.Line2, o.Shipping.City, o.Shipping.Region, o.Shipping.Postcode, o.Shipping.Country,
		o.Subtotal, o.ShippingCost, o.TaxAmount, o.DiscountAmount, o.Total, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	if ct.RowsAffected() == 0 {
		return order.ErrCodeTaken
	}

	for _, it := range o.Items {
		_, err := q.Exec(ctx, insertItemSQL,
			it.ID, o.ID, it.ProductID, it.ProductName, string(it.Size), it.Quantity,
			it.UnitPrice, it.ListPrice, it.DiscountCode, it.ReservationID,
		)
		if err != nil {
			return fmt.Errorf("creating item of order %q: %w", o.ID, err)
		}
	}
	return nil
}

// CodeExists reports whether code is already used.
func (r *OrderRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := r.db.q(ctx).QueryRow(ctx, orderCodeExistsSQL, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking order code: %w", err)
	}
	return exists, nil
}

// Get returns the order with its items.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.load(ctx, getOrderSQL, id)
}

// GetByCode returns the order with its items.
func (r *OrderRepository) GetByCode(ctx context.Context, code string) (*order.Order, error) {
	return r.load(ctx, getOrderByCodeSQL, code)
}

// Lock returns the order holding a row lock until the transaction ends.
func (r *OrderRepository) Lock(ctx context.Context, id string) (*order.Order, error) {
	return r.load(ctx, lockOrderSQL, id)
}

func (r *OrderRepository) load(ctx context.Context, query, key string) (*order.Order, error) {
	q := r.db.q(ctx)

	rows, err := q.Query(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", key, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", key, err)
	}

	rows, err = q.Query(ctx, listItemsSQL, o.ID)
	if err != nil {
		return nil, fmt.Errorf("listing items of %q: %w", o.ID, err)
	}
	o.Items, err = pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, fmt.Errorf("scanning items of %q: %w", o.ID, err)
	}
	return o, nil
}

func scanOrder(row pgx.CollectableRow) (*order.Order, error) {
	var (
		o      order.Order
		userID string
	)
	err := row.Scan(
		&o.ID, &o.Code, &o.Status, &o.PaymentStatus, &userID,
		&o.Contact.Name, &o.Contact.Email, &o.Contact.Phone,
		&o.Shipping.Line1, &o.Shipping.Line2, &o.Shipping.City, &o.Shipping.Region, &o.Shipping.Postcode, &o.Shipping.Country,
		&o.Subtotal, &o.ShippingCost, &o.TaxAmount, &o.DiscountAmount, &o.Total,
		&o.QRScanned, &o.DeliveredAt, &o.DeliveredBy, &o.RestockedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if userID != "" {
		o.Orderer = order.Registered{UserID: userID}
	} else {
		o.Orderer = order.Guest{Contact: o.Contact}
	}
	return &o, nil
}

func scanItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(
		&it.ID, &it.ProductID, &it.ProductName, &it.Size, &it.Quantity,
		&it.UnitPrice, &it.ListPrice, &it.DiscountCode, &it.ReservationID,
	)
	return it, err
}

// UpdateStatus changes order_status only if it still equals from.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status, at time.Time) error {
	ct, err := r.db.q(ctx).Exec(ctx, updateOrderStatusSQL, id, string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("updating status of %q: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return r.missingOrConflict(ctx, id)
	}
	return nil
}

// SetPaymentStatus changes payment_status only if it still equals from.
func (r *OrderRepository) SetPaymentStatus(ctx context.Context, id string, from, to order.PaymentStatus, at time.Time) error {
	ct, err := r.db.q(ctx).Exec(ctx, updatePaymentStatusSQL, id, string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("updating payment status of %q: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return r.missingOrConflict(ctx, id)
	}
	return nil
}

func (r *OrderRepository) missingOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := r.db.q(ctx).QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return errors.Wrapf(fault.ErrConflict, "order %s changed concurrently", id)
}

// MarkDelivered performs the QR check-and-set in one statement.
func (r *OrderRepository) MarkDelivered(ctx context.Context, id, by string, at time.Time) (bool, error) {
	ct, err := r.db.q(ctx).Exec(ctx, markDeliveredSQL, id, by, at)
	if err != nil {
		return false, fmt.Errorf("marking %q delivered: %w", id, err)
	}
	return ct.RowsAffected() == 1, nil
}

// MarkRestocked stamps restocked_at once.
func (r *OrderRepository) MarkRestocked(ctx context.Context, id string, at time.Time) (bool, error) {
	ct, err := r.db.q(ctx).Exec(ctx, markRestockedSQL, id, at)
	if err != nil {
		return false, fmt.Errorf("marking %q restocked: %w", id, err)
	}
	return ct.RowsAffected() == 1, nil
}

// Delete removes the order; items, payments and transactions cascade.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	ct, err := r.db.q(ctx).Exec(ctx, deleteOrderSQL, id)
	if err != nil {
		return fmt.Errorf("deleting order %q: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// Profile returns the contact details stored for a user.
func (r *OrderRepository) Profile(ctx context.Context, userID string) (*order.Contact, error) {
	var c order.Contact
	err := r.db.q(ctx).QueryRow(ctx, getProfileSQL, userID).Scan(&c.Name, &c.Email, &c.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(fault.ErrNotFound, "user %s", userID)
		}
		return nil, fmt.Errorf("getting user %q: %w", userID, err)
	}
	return &c, nil
}
