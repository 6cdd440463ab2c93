package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrInvalidTransition matches every InvalidTransitionError via errors.Is.
var ErrInvalidTransition = errors.New("invalid status transition")

// InvalidTransitionError names the rejected transition.
type InvalidTransitionError struct {
	From, To string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidTransition) true.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

var statusTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusDelivered, StatusCancelled},
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentPaid, PaymentFailed},
	PaymentPaid:    {PaymentRefunded},
}

// CheckTransition returns *InvalidTransitionError unless from → to is allowed.
func CheckTransition(from, to Status) error {
	for _, s := range statusTransitions[from] {
		if s == to {
			return nil
		}
	}
	return &InvalidTransitionError{From: string(from), To: string(to)}
}

// CheckPaymentTransition is CheckTransition for payment statuses.
func CheckPaymentTransition(from, to PaymentStatus) error {
	for _, s := range paymentTransitions[from] {
		if s == to {
			return nil
		}
	}
	return &InvalidTransitionError{From: string(from), To: string(to)}
}

// ParseStatus validates an order status name.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusDelivered, StatusCancelled:
		return st, true
	}
	return "", false
}
