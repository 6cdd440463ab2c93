// Package payment records payment attempts against orders and reconciles
// attempts whose provider outcome is unknown.
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/fault"
)

var (
	// ErrNotFound is returned when a payment does not exist.
	ErrNotFound = errors.Wrap(fault.ErrNotFound, "payment")
	// ErrDuplicateRef is returned by Repository.Create when the provider
	// reference is already recorded. Nothing is written.
	ErrDuplicateRef = errors.New("provider reference already recorded")
	// ErrAmountMismatch matches every AmountMismatchError via errors.Is.
	ErrAmountMismatch = errors.New("amount mismatch")
	// ErrNotPayable is returned for orders that no longer accept payment.
	ErrNotPayable = errors.New("order is not payable")
	// ErrNotRefundable is returned when refunding a payment that did not succeed.
	ErrNotRefundable = errors.New("payment is not refundable")
)

// AmountMismatchError reports a payment amount that differs from the order total.
type AmountMismatchError struct {
	Expected decimal.Decimal
	Got      decimal.Decimal
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("amount mismatch: order total %s, got %s", e.Expected, e.Got)
}

// Is makes errors.Is(err, ErrAmountMismatch) true.
func (e *AmountMismatchError) Is(target error) bool {
	return target == ErrAmountMismatch
}

// Method is a payment method.
type Method string

const (
	MethodCard        Method = "card"
	MethodMobileMoney Method = "mobile_money"
)

// Valid reports whether m is supported.
func (m Method) Valid() bool {
	return m == MethodCard || m == MethodMobileMoney
}

// Status is the gateway-side status of an attempt.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	// StatusUnknown marks an attempt whose provider call timed out or errored.
	// The reconciler resolves it later.
	StatusUnknown  Status = "UNKNOWN"
	StatusRefunded Status = "REFUNDED"
)

// Payment is a single attempt to charge an order.
type Payment struct {
	ID            string
	OrderID       string
	Method        Method
	Amount        decimal.Decimal
	ProviderRef   string
	ProviderTxnID string
	Status        Status
	Message       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TransactionStatus is the order-side ledger status.
type TransactionStatus string

const (
	TransactionPaid     TransactionStatus = "PAID"
	TransactionRefunded TransactionStatus = "REFUNDED"
)

// Transaction is an order-centric ledger entry. Refunds are negative.
type Transaction struct {
	ID        string
	OrderID   string
	PaymentID string
	Amount    decimal.Decimal
	Method    Method
	Reference string
	Status    TransactionStatus
	Date      time.Time
}

// Outcome of a provider call.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePending Outcome = "pending"
)

// ChargeRequest is sent to the provider.
type ChargeRequest struct {
	Method    Method
	Amount    decimal.Decimal
	Reference string
	OrderCode string
}

// ProviderResult is the provider's answer.
type ProviderResult struct {
	Outcome       Outcome
	TransactionID string
	Message       string
}

// Provider is the external card / mobile-money gateway.
type Provider interface {
	Charge(ctx context.Context, req ChargeRequest) (ProviderResult, error)
	// Status looks up the outcome of an earlier charge by reference.
	Status(ctx context.Context, reference string) (ProviderResult, error)
}

// Repository persists payments and order transactions.
type Repository interface {
	// Create inserts p. It returns ErrDuplicateRef when p.ProviderRef exists.
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	GetByRef(ctx context.Context, ref string) (*Payment, error)
	// Lock loads the payment with a row lock held until the transaction ends.
	Lock(ctx context.Context, id string) (*Payment, error)
	// UpdateStatus moves p from one status to another. It returns
	// fault.ErrConflict when the stored status is no longer from.
	UpdateStatus(ctx context.Context, p *Payment, from Status) error
	CountByStatus(ctx context.Context, orderID string, status Status) (int, error)
	// HasInFlight reports whether orderID has a PENDING or UNKNOWN attempt.
	HasInFlight(ctx context.Context, orderID string) (bool, error)
	ListByOrder(ctx context.Context, orderID string) ([]Payment, error)
	// ListUnresolved returns PENDING and UNKNOWN attempts last updated before
	// the cutoff, oldest first.
	ListUnresolved(ctx context.Context, before time.Time, limit int) ([]Payment, error)

	AddTransaction(ctx context.Context, t *Transaction) error
	ListTransactions(ctx context.Context, orderID string) ([]Transaction, error)
}
