package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/catalog"
)

// ErrInsufficientStock matches every InsufficientStockError via errors.Is.
var ErrInsufficientStock = errors.New("insufficient stock")

// ErrReservationClosed is returned when releasing or committing a reservation
// that was already released.
var ErrReservationClosed = errors.New("reservation already released")

// InsufficientStockError names the product and size that could not be reserved.
type InsufficientStockError struct {
	ProductID string
	Size      catalog.Size
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	if e.Size == catalog.SizeNone {
		return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
			e.ProductID, e.Requested, e.Available)
	}
	return fmt.Sprintf("insufficient stock for product %s size %s: requested %d, available %d",
		e.ProductID, e.Size, e.Requested, e.Available)
}

// Is makes errors.Is(err, ErrInsufficientStock) true.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// State is the lifecycle state of a reservation.
type State string

const (
	StateReserved  State = "reserved"
	StateCommitted State = "committed"
	StateReleased  State = "released"
)

// Reservation is the token returned by Reserve. It records exactly what was
// decremented so Release can restore it.
type Reservation struct {
	ID        string
	OrderID   string
	ProductID string
	Size      catalog.Size
	Quantity  int
	State     State
}

// MovementKind classifies stock audit entries.
type MovementKind string

const (
	MovementReserve MovementKind = "reserve"
	MovementRelease MovementKind = "release"
	MovementCommit  MovementKind = "commit"
)

// Movement is an audit row describing a change to a reservation.
type Movement struct {
	ReservationID string
	OrderID       string
	ProductID     string
	Size          catalog.Size
	Quantity      int
	Kind          MovementKind
	At            time.Time
}

// Repository owns the authoritative stock counts.
type Repository interface {
	// Decrement subtracts qty from the count for (productID, size) in a single
	// atomic check-and-write. When the count is too low it changes nothing and
	// returns *InsufficientStockError. Products with size variants must be
	// addressed by size; sizeless products by catalog.SizeNone.
	Decrement(ctx context.Context, productID string, size catalog.Size, qty int) error
	// Increment adds qty back to the count for (productID, size).
	Increment(ctx context.Context, productID string, size catalog.Size, qty int) error
	// RecordMovement appends an audit entry.
	RecordMovement(ctx context.Context, m Movement) error
}
