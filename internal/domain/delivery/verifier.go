// Package delivery confirms physical delivery of an order exactly once, by
// order code (QR scan) or by order ID for the registered orderer.
package delivery

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/order"
)

var (
	// ErrAlreadyDelivered is returned when the order's QR code was already used.
	ErrAlreadyDelivered = errors.New("order already delivered")
	// ErrNotEligible is returned for cancelled or delivered orders.
	ErrNotEligible = errors.New("order not eligible for delivery")
)

// Orders is the subset of order persistence the verifier needs.
type Orders interface {
	Get(ctx context.Context, id string) (*order.Order, error)
	GetByCode(ctx context.Context, code string) (*order.Order, error)
	MarkDelivered(ctx context.Context, id, by string, at time.Time) (bool, error)
}

// Verifier validates delivery claims.
type Verifier struct {
	orders Orders
	now    func() time.Time
}

// NewVerifier creates a Verifier.
func NewVerifier(orders Orders) *Verifier {
	return &Verifier{orders: orders, now: time.Now}
}

// VerifyCode delivers the order identified by code. Possession of the code is
// the only credential.
func (v *Verifier) VerifyCode(ctx context.Context, code, scannedBy string) (*order.Order, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, fault.Invalid("order_code", "required")
	}
	o, err := v.orders.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if scannedBy == "" {
		scannedBy = "guest"
	}
	return v.deliver(ctx, o, scannedBy)
}

// VerifyOrder delivers orderID on behalf of actor, who must be the registered
// orderer or staff.
func (v *Verifier) VerifyOrder(ctx context.Context, orderID string, actor order.Actor) (*order.Order, error) {
	o, err := v.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.Staff && !o.OwnedBy(actor) {
		return nil, errors.Wrapf(fault.ErrUnauthorized, "order %s", orderID)
	}
	by := actor.UserID
	if by == "" {
		by = "staff"
	}
	return v.deliver(ctx, o, by)
}

func (v *Verifier) deliver(ctx context.Context, o *order.Order, by string) (*order.Order, error) {
	if err := eligible(o); err != nil {
		return nil, err
	}

	at := v.now()
	ok, err := v.orders.MarkDelivered(ctx, o.ID, by, at)
	if err != nil {
		return nil, errors.Wrap(err, "mark delivered")
	}
	if !ok {
		// Lost a race; report why from the current state.
		cur, err := v.orders.Get(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		if err := eligible(cur); err != nil {
			return nil, err
		}
		return nil, errors.Wrapf(fault.ErrConflict, "deliver order %s", o.ID)
	}

	o.QRScanned = true
	o.Status = order.StatusDelivered
	o.DeliveredAt = &at
	o.DeliveredBy = by
	o.UpdatedAt = at
	return o, nil
}

func eligible(o *order.Order) error {
	if o.QRScanned {
		return errors.Wrapf(ErrAlreadyDelivered, "order %s", o.Code)
	}
	switch o.Status {
	case order.StatusPending, order.StatusProcessing:
		return nil
	default:
		return errors.Wrapf(ErrNotEligible, "order %s is %s", o.Code, o.Status)
	}
}

// NormalizeCode canonicalizes a typed or scanned order code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
