package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/fault"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.Wrap(fault.ErrNotFound, "order")
	// ErrCodeTaken is returned by Repository.Create when the order code is
	// already in use. The order is not persisted.
	ErrCodeTaken = errors.New("order code already taken")
)

// Status is the fulfillment status of an order.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
)

// PaymentStatus is the payment status of an order.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentRefunded PaymentStatus = "REFUNDED"
	PaymentFailed   PaymentStatus = "FAILED"
)

// Contact holds the person to reach about an order.
type Contact struct {
	Name  string
	Email string
	Phone string
}

// Address is a shipping address.
type Address struct {
	Line1    string
	Line2    string
	City     string
	Region   string
	Postcode string
	Country  string
}

// Orderer identifies who placed an order: Registered or Guest.
type Orderer interface {
	isOrderer()
}

// Registered is an order placed by an authenticated user.
type Registered struct {
	UserID string
}

// Guest is an order placed without an account.
type Guest struct {
	Contact Contact
}

func (Registered) isOrderer() {}
func (Guest) isOrderer()      {}

// UserID returns the registered user behind o, if any.
func UserID(o Orderer) (string, bool) {
	if r, ok := o.(Registered); ok {
		return r.UserID, true
	}
	return "", false
}

// Actor is the verified identity making a request. The zero Actor is an
// anonymous guest.
type Actor struct {
	UserID string
	Staff  bool
}

// Order is a placed order. Monetary fields are frozen at build time.
type Order struct {
	ID             string
	Code           string
	Status         Status
	PaymentStatus  PaymentStatus
	Orderer        Orderer
	Contact        Contact
	Shipping       Address
	Subtotal       decimal.Decimal
	ShippingCost   decimal.Decimal
	TaxAmount      decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal
	QRScanned      bool
	DeliveredAt    *time.Time
	DeliveredBy    string
	RestockedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Items          []Item
}

// Item is an order line. UnitPrice is copied from the catalog at build time.
type Item struct {
	ID            string
	ProductID     string
	ProductName   string
	Size          catalog.Size
	Quantity      int
	UnitPrice     decimal.Decimal
	ListPrice     decimal.Decimal
	DiscountCode  string
	ReservationID string
}

// LineTotal returns UnitPrice × Quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OwnedBy reports whether a is the registered orderer of o.
func (o *Order) OwnedBy(a Actor) bool {
	uid, ok := UserID(o.Orderer)
	return ok && a.UserID != "" && uid == a.UserID
}

// AccessibleBy reports whether a may read or act on o by order ID: staff, the
// owner, or anyone for guest orders.
func (o *Order) AccessibleBy(a Actor) bool {
	if a.Staff || o.OwnedBy(a) {
		return true
	}
	_, registered := UserID(o.Orderer)
	return !registered
}

// Holding reports whether o still holds decremented stock that a cancel or
// delete must give back.
func (o *Order) Holding() bool {
	return o.RestockedAt == nil && (o.Status == StatusPending || o.Status == StatusProcessing)
}

// ComputeTotal returns subtotal + shipping + tax - discount.
func ComputeTotal(subtotal, shipping, tax, discount decimal.Decimal) decimal.Decimal {
	return subtotal.Add(shipping).Add(tax).Sub(discount)
}

// Repository defines persistence for orders and their items.
type Repository interface {
	// Create inserts o and its items. It returns ErrCodeTaken without writing
	// anything when o.Code is already used.
	Create(ctx context.Context, o *Order) error
	CodeExists(ctx context.Context, code string) (bool, error)
	Get(ctx context.Context, id string) (*Order, error)
	GetByCode(ctx context.Context, code string) (*Order, error)
	// Lock loads the order with a row lock held until the surrounding
	// transaction ends.
	Lock(ctx context.Context, id string) (*Order, error)
	// UpdateStatus moves the order from one status to another. It returns
	// fault.ErrConflict when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) error
	// SetPaymentStatus is the payment-status counterpart of UpdateStatus.
	SetPaymentStatus(ctx context.Context, id string, from, to PaymentStatus, at time.Time) error
	// MarkDelivered sets the QR flag and DELIVERED status in one check-and-set,
	// only when the flag is unset and the status is PENDING or PROCESSING.
	// It reports whether the row changed.
	MarkDelivered(ctx context.Context, id, by string, at time.Time) (bool, error)
	// MarkRestocked stamps restocked_at when unset and reports whether it did.
	MarkRestocked(ctx context.Context, id string, at time.Time) (bool, error)
	Delete(ctx context.Context, id string) error
}

// ProfileRepository provides contact defaults for registered users.
type ProfileRepository interface {
	Profile(ctx context.Context, userID string) (*Contact, error)
}
