package payment

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/txn"
)

// Orders is the subset of order persistence the recorder needs.
type Orders interface {
	Get(ctx context.Context, id string) (*order.Order, error)
	Lock(ctx context.Context, id string) (*order.Order, error)
	SetPaymentStatus(ctx context.Context, id string, from, to order.PaymentStatus, at time.Time) error
}

// Attempt is the input of RecordAttempt.
type Attempt struct {
	OrderID     string
	Method      Method
	Amount      decimal.Decimal
	ProviderRef string
}

// Result describes what an attempt or refund did.
type Result struct {
	Payment     *Payment
	Transaction *Transaction
	// OrderPaymentStatus is the order payment status after the call.
	OrderPaymentStatus order.PaymentStatus
	// Duplicate is set when the provider reference was already recorded and
	// the stored outcome is returned instead of charging again.
	Duplicate bool
	// Exhausted is set when this failure used up the last permitted attempt.
	Exhausted bool
}

// RecorderConfig tunes the recorder.
type RecorderConfig struct {
	// Timeout bounds a single provider call.
	Timeout time.Duration
	// MaxAttempts is the number of failed attempts after which the order
	// payment status becomes FAILED. Zero disables the limit.
	MaxAttempts int
}

// Recorder charges orders through a Provider and records the outcome.
type Recorder struct {
	tx       txn.Runner
	orders   Orders
	payments Repository
	provider Provider
	cfg      RecorderConfig
	now      func() time.Time
	newID    func() string
}

// NewRecorder creates a Recorder.
func NewRecorder(tx txn.Runner, orders Orders, payments Repository, provider Provider, cfg RecorderConfig) *Recorder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Recorder{
		tx:       tx,
		orders:   orders,
		payments: payments,
		provider: provider,
		cfg:      cfg,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// RecordAttempt charges a.Amount against the order. The amount must equal the
// order total exactly. A repeated call with the same ProviderRef returns the
// stored outcome without contacting the provider.
//
// When the provider times out or errors the attempt is stored as UNKNOWN and
// an error wrapping fault.ErrTransientProvider is returned alongside the
// Result.
func (r *Recorder) RecordAttempt(ctx context.Context, a Attempt) (*Result, error) {
	if err := validateAttempt(a); err != nil {
		return nil, err
	}
	if res, err := r.existing(ctx, a); res != nil || err != nil {
		return res, err
	}

	var (
		o *order.Order
		p *Payment
	)
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if o, err = r.orders.Lock(ctx, a.OrderID); err != nil {
			return err
		}
		// Another request with this reference may have settled while we
		// waited for the lock.
		if _, err := r.payments.GetByRef(ctx, a.ProviderRef); err == nil {
			return ErrDuplicateRef
		} else if !errors.Is(err, ErrNotFound) {
			return errors.Wrap(err, "lookup provider reference")
		}
		if !a.Amount.Equal(o.Total) {
			return &AmountMismatchError{Expected: o.Total, Got: a.Amount}
		}
		if o.Status == order.StatusCancelled || o.PaymentStatus != order.PaymentPending {
			return errors.Wrapf(ErrNotPayable, "order %s is %s/%s", o.ID, o.Status, o.PaymentStatus)
		}
		inFlight, err := r.payments.HasInFlight(ctx, o.ID)
		if err != nil {
			return errors.Wrap(err, "check in-flight payments")
		}
		if inFlight {
			return errors.Wrap(fault.ErrConflict, "another payment attempt is in flight")
		}

		now := r.now()
		p = &Payment{
			ID:          r.newID(),
			OrderID:     o.ID,
			Method:      a.Method,
			Amount:      a.Amount,
			ProviderRef: a.ProviderRef,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return r.payments.Create(ctx, p)
	})
	if errors.Is(err, ErrDuplicateRef) {
		return r.existing(ctx, a)
	}
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	pr, callErr := r.provider.Charge(callCtx, ChargeRequest{
		Method:    p.Method,
		Amount:    p.Amount,
		Reference: p.ProviderRef,
		OrderCode: o.Code,
	})

	// Settle even if the caller went away; the provider may have charged.
	return r.settle(context.WithoutCancel(ctx), p, pr, callErr)
}

// existing returns the stored outcome for a.ProviderRef, or nil if unseen.
func (r *Recorder) existing(ctx context.Context, a Attempt) (*Result, error) {
	p, err := r.payments.GetByRef(ctx, a.ProviderRef)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "lookup provider reference")
	}
	if p.OrderID != a.OrderID {
		return nil, fault.Invalid("provider_ref", "already used for another order")
	}
	if !p.Amount.Equal(a.Amount) {
		return nil, fault.Invalid("provider_ref", "already used with a different amount")
	}
	return r.result(ctx, p, true)
}

func (r *Recorder) result(ctx context.Context, p *Payment, dup bool) (*Result, error) {
	res := &Result{Payment: p, Duplicate: dup}
	txns, err := r.payments.ListTransactions(ctx, p.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "list transactions")
	}
	for i := range txns {
		if txns[i].PaymentID == p.ID && txns[i].Status == TransactionPaid {
			res.Transaction = &txns[i]
		}
	}
	o, err := r.orders.Get(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	res.OrderPaymentStatus = o.PaymentStatus
	return res, nil
}

// settle applies a provider answer to a stored attempt. It is shared by the
// recorder and the reconciler, so p may be PENDING or UNKNOWN.
func (r *Recorder) settle(ctx context.Context, p *Payment, pr ProviderResult, callErr error) (*Result, error) {
	lg := zctx.From(ctx).With(
		zap.String("payment_id", p.ID),
		zap.String("order_id", p.OrderID),
		zap.String("provider_ref", p.ProviderRef),
	)

	if callErr != nil || pr.Outcome == OutcomePending {
		if p.Status != StatusUnknown {
			msg := pr.Message
			if callErr != nil {
				msg = callErr.Error()
			}
			if err := r.transition(ctx, p, StatusUnknown, pr.TransactionID, msg); err != nil {
				return nil, err
			}
		}
		lg.Warn("Payment outcome unknown", zap.Error(callErr), zap.String("outcome", string(pr.Outcome)))
		res := &Result{Payment: p, OrderPaymentStatus: order.PaymentPending}
		if callErr == nil {
			callErr = errors.New("provider reported pending")
		}
		return res, errors.Wrapf(fault.ErrTransientProvider, "charge %s: %v", p.ProviderRef, callErr)
	}

	res := &Result{Payment: p}
	from := p.Status
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		o, err := r.orders.Lock(ctx, p.OrderID)
		if err != nil {
			return err
		}
		res.OrderPaymentStatus = o.PaymentStatus

		switch pr.Outcome {
		case OutcomeSuccess:
			if err := r.apply(ctx, p, from, StatusSucceeded, pr); err != nil {
				return err
			}
			t := &Transaction{
				ID:        r.newID(),
				OrderID:   p.OrderID,
				PaymentID: p.ID,
				Amount:    p.Amount,
				Method:    p.Method,
				Reference: p.ProviderRef,
				Status:    TransactionPaid,
				Date:      r.now(),
			}
			if err := r.payments.AddTransaction(ctx, t); err != nil {
				return errors.Wrap(err, "add transaction")
			}
			res.Transaction = t
			if o.PaymentStatus != order.PaymentPending || o.Status == order.StatusCancelled {
				// Charged after the order stopped accepting payment, e.g. a
				// reconciled attempt for an order that failed or was cancelled
				// meanwhile. Staff must refund.
				lg.Warn("Payment succeeded for order that is not payable",
					zap.String("status", string(o.Status)),
					zap.String("payment_status", string(o.PaymentStatus)))
				return nil
			}
			if err := r.orders.SetPaymentStatus(ctx, o.ID, order.PaymentPending, order.PaymentPaid, r.now()); err != nil {
				return errors.Wrap(err, "mark order paid")
			}
			res.OrderPaymentStatus = order.PaymentPaid

		case OutcomeFailure:
			if err := r.apply(ctx, p, from, StatusFailed, pr); err != nil {
				return err
			}
			if r.cfg.MaxAttempts <= 0 || o.PaymentStatus != order.PaymentPending {
				return nil
			}
			failed, err := r.payments.CountByStatus(ctx, o.ID, StatusFailed)
			if err != nil {
				return errors.Wrap(err, "count failed attempts")
			}
			if failed < r.cfg.MaxAttempts {
				return nil
			}
			if err := r.orders.SetPaymentStatus(ctx, o.ID, order.PaymentPending, order.PaymentFailed, r.now()); err != nil {
				return errors.Wrap(err, "mark order payment failed")
			}
			res.OrderPaymentStatus = order.PaymentFailed
			res.Exhausted = true

		default:
			return errors.Errorf("unexpected provider outcome %q", pr.Outcome)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "settle payment")
	}

	lg.Info("Payment settled",
		zap.String("status", string(p.Status)),
		zap.String("order_payment_status", string(res.OrderPaymentStatus)),
		zap.Bool("exhausted", res.Exhausted),
	)
	return res, nil
}

func (r *Recorder) apply(ctx context.Context, p *Payment, from, to Status, pr ProviderResult) error {
	next := *p
	next.Status = to
	next.ProviderTxnID = pr.TransactionID
	next.Message = pr.Message
	next.UpdatedAt = r.now()
	if err := r.payments.UpdateStatus(ctx, &next, from); err != nil {
		return errors.Wrapf(err, "payment %s %s -> %s", p.ID, from, to)
	}
	*p = next
	return nil
}

func (r *Recorder) transition(ctx context.Context, p *Payment, to Status, txnID, msg string) error {
	return r.tx.InTx(ctx, func(ctx context.Context) error {
		return r.apply(ctx, p, p.Status, to, ProviderResult{TransactionID: txnID, Message: msg})
	})
}

// Refund reverses a succeeded payment: it records a negative REFUNDED
// transaction and moves both the payment and the order to REFUNDED. Stock is
// not touched.
func (r *Recorder) Refund(ctx context.Context, paymentID string) (*Result, error) {
	res := &Result{}
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := r.payments.Lock(ctx, paymentID)
		if err != nil {
			return err
		}
		o, err := r.orders.Lock(ctx, p.OrderID)
		if err != nil {
			return err
		}
		if err := order.CheckPaymentTransition(o.PaymentStatus, order.PaymentRefunded); err != nil {
			return err
		}
		if p.Status != StatusSucceeded {
			return errors.Wrapf(ErrNotRefundable, "payment %s is %s", p.ID, p.Status)
		}

		if err := r.apply(ctx, p, StatusSucceeded, StatusRefunded, ProviderResult{
			TransactionID: p.ProviderTxnID,
			Message:       "refunded",
		}); err != nil {
			return err
		}
		t := &Transaction{
			ID:        r.newID(),
			OrderID:   o.ID,
			PaymentID: p.ID,
			Amount:    p.Amount.Neg(),
			Method:    p.Method,
			Reference: p.ProviderRef,
			Status:    TransactionRefunded,
			Date:      r.now(),
		}
		if err := r.payments.AddTransaction(ctx, t); err != nil {
			return errors.Wrap(err, "add refund transaction")
		}
		if err := r.orders.SetPaymentStatus(ctx, o.ID, order.PaymentPaid, order.PaymentRefunded, r.now()); err != nil {
			return errors.Wrap(err, "mark order refunded")
		}

		res.Payment = p
		res.Transaction = t
		res.OrderPaymentStatus = order.PaymentRefunded
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "refund payment %s", paymentID)
	}
	return res, nil
}

func validateAttempt(a Attempt) error {
	switch {
	case a.OrderID == "":
		return fault.Invalid("order_id", "required")
	case !a.Method.Valid():
		return fault.Invalid("method", "must be card or mobile_money")
	case !a.Amount.IsPositive():
		return fault.Invalid("amount", "must be positive")
	case strings.TrimSpace(a.ProviderRef) == "":
		return fault.Invalid("provider_ref", "required")
	}
	return nil
}
