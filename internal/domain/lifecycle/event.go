package lifecycle

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/order"
)

// EventKind names a lifecycle notification.
type EventKind string

const (
	EventCreated   EventKind = "order.created"
	EventPaid      EventKind = "order.paid"
	EventCancelled EventKind = "order.cancelled"
	EventDelivered EventKind = "order.delivered"
	EventRefunded  EventKind = "order.refunded"
	EventDeleted   EventKind = "order.deleted"
)

// Event is published after the change it describes has committed.
type Event struct {
	Kind          EventKind
	OrderID       string
	OrderCode     string
	Status        order.Status
	PaymentStatus order.PaymentStatus
	Total         decimal.Decimal
	Email         string
	At            time.Time
}

// Notifier delivers events to customers and downstream systems. Delivery is
// best effort; errors are logged and never undo the change.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e Event) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, e Event) error { return f(ctx, e) }

func newEvent(kind EventKind, o *order.Order, at time.Time) Event {
	return Event{
		Kind:          kind,
		OrderID:       o.ID,
		OrderCode:     o.Code,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Total:         o.Total,
		Email:         o.Contact.Email,
		At:            at,
	}
}
