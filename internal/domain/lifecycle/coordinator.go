// Package lifecycle orchestrates order creation, status changes, payment,
// refunds and delivery. It is the only writer of order status.
package lifecycle

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/delivery"
	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/stock"
	"github.com/xenking/storefront/internal/domain/txn"
)

var (
	// ErrAlreadyRestocked is returned when an order's stock was already returned.
	ErrAlreadyRestocked = errors.New("order already restocked")
	// ErrNotRestockable is returned when restocking an order that still counts
	// as sold.
	ErrNotRestockable = errors.New("order is not restockable")
)

// Builder builds orders.
type Builder interface {
	Build(ctx context.Context, req order.BuildRequest) (*order.Order, error)
}

// Releaser returns reserved stock.
type Releaser interface {
	Release(ctx context.Context, r *stock.Reservation) error
}

// Payments charges and refunds orders.
type Payments interface {
	RecordAttempt(ctx context.Context, a payment.Attempt) (*payment.Result, error)
	Refund(ctx context.Context, paymentID string) (*payment.Result, error)
}

// Deliveries confirms delivery.
type Deliveries interface {
	VerifyCode(ctx context.Context, code, scannedBy string) (*order.Order, error)
	VerifyOrder(ctx context.Context, orderID string, actor order.Actor) (*order.Order, error)
}

// Policy holds order lifecycle rules that are configuration, not invariants.
type Policy struct {
	// CancelOnPaymentExhausted cancels and restocks an order once its payment
	// status becomes FAILED.
	CancelOnPaymentExhausted bool
	// AdvanceOnPaid moves a PENDING order to PROCESSING when payment clears.
	AdvanceOnPaid bool
}

// Config holds the collaborators of a Coordinator.
type Config struct {
	Tx             txn.Runner
	Orders         order.Repository
	PaymentRecords payment.Repository
	Builder        Builder
	Stock          Releaser
	Payments       Payments
	Deliveries     Deliveries
	Notifier       Notifier
	Policy         Policy

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Details is an order with its payment history.
type Details struct {
	Order        *order.Order
	Payments     []payment.Payment
	Transactions []payment.Transaction
}

// Coordinator exposes the order lifecycle operations.
type Coordinator struct {
	cfg     Config
	tracer  trace.Tracer
	metrics *metrics
	now     func() time.Time
}

// New creates a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = tracenoop.NewTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = metricnoop.NewMeterProvider()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NotifierFunc(func(context.Context, Event) error { return nil })
	}
	m, err := newMetrics(cfg.MeterProvider.Meter("github.com/xenking/storefront/lifecycle"))
	if err != nil {
		return nil, errors.Wrap(err, "metrics")
	}
	return &Coordinator{
		cfg:     cfg,
		tracer:  cfg.TracerProvider.Tracer("github.com/xenking/storefront/lifecycle"),
		metrics: m,
		now:     time.Now,
	}, nil
}

func (c *Coordinator) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "lifecycle."+name, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CreateOrder builds and persists an order in one transaction. On failure no
// stock stays reserved.
func (c *Coordinator) CreateOrder(ctx context.Context, req order.BuildRequest) (_ *order.Order, err error) {
	ctx, span := c.start(ctx, "CreateOrder", attribute.Int("order.lines", len(req.Lines)))
	defer func() { finish(span, err) }()

	var o *order.Order
	err = c.cfg.Tx.InTx(ctx, func(ctx context.Context) error {
		o, err = c.cfg.Builder.Build(ctx, req)
		return err
	})
	if err != nil {
		c.metrics.buildFailures.Add(ctx, 1)
		return nil, err
	}

	span.SetAttributes(attribute.String("order.id", o.ID))
	c.metrics.ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.Bool("guest", isGuest(o))))
	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("code", o.Code),
		zap.Stringer("total", o.Total),
	)
	c.notify(ctx, newEvent(EventCreated, o, o.CreatedAt))
	return o, nil
}

// GetOrder returns the order and its payments when actor may see it.
func (c *Coordinator) GetOrder(ctx context.Context, id string, actor order.Actor) (*Details, error) {
	o, err := c.cfg.Orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.AccessibleBy(actor) {
		return nil, errors.Wrapf(fault.ErrUnauthorized, "order %s", id)
	}
	return c.details(ctx, o)
}

// TrackOrder returns the order identified by its code.
func (c *Coordinator) TrackOrder(ctx context.Context, code string) (*Details, error) {
	o, err := c.cfg.Orders.GetByCode(ctx, delivery.NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	return c.details(ctx, o)
}

func (c *Coordinator) details(ctx context.Context, o *order.Order) (*Details, error) {
	ps, err := c.cfg.PaymentRecords.ListByOrder(ctx, o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list payments")
	}
	ts, err := c.cfg.PaymentRecords.ListTransactions(ctx, o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list transactions")
	}
	return &Details{Order: o, Payments: ps, Transactions: ts}, nil
}

// UpdateStatus moves an order to status to. Staff may make any allowed
// transition; the registered orderer may only cancel a PENDING order.
// Cancelling returns the order's stock.
func (c *Coordinator) UpdateStatus(ctx context.Context, id string, to order.Status, actor order.Actor) (_ *order.Order, err error) {
	ctx, span := c.start(ctx, "UpdateStatus",
		attribute.String("order.id", id),
		attribute.String("order.status", string(to)),
	)
	defer func() { finish(span, err) }()

	var o *order.Order
	err = c.cfg.Tx.InTx(ctx, func(ctx context.Context) error {
		if o, err = c.cfg.Orders.Lock(ctx, id); err != nil {
			return err
		}
		if !actor.Staff {
			if !o.OwnedBy(actor) {
				return errors.Wrapf(fault.ErrUnauthorized, "order %s", id)
			}
			if to != order.StatusCancelled || o.Status != order.StatusPending {
				return errors.Wrap(fault.ErrUnauthorized, "customers may only cancel pending orders")
			}
		}
		if to == order.StatusCancelled {
			if err := c.noPaymentInFlight(ctx, o.ID); err != nil {
				return err
			}
		}
		return c.transition(ctx, o, to)
	})
	if err != nil {
		return nil, err
	}

	switch to {
	case order.StatusCancelled:
		c.notify(ctx, newEvent(EventCancelled, o, o.UpdatedAt))
	case order.StatusDelivered:
		c.metrics.deliveries.Add(ctx, 1)
		c.notify(ctx, newEvent(EventDelivered, o, o.UpdatedAt))
	}
	return o, nil
}

// transition applies a checked status change to a locked order.
func (c *Coordinator) transition(ctx context.Context, o *order.Order, to order.Status) error {
	if err := order.CheckTransition(o.Status, to); err != nil {
		return err
	}
	now := c.now()
	if to == order.StatusCancelled {
		if err := c.restock(ctx, o, now); err != nil {
			return err
		}
		c.metrics.ordersCancelled.Add(ctx, 1)
	}
	if err := c.cfg.Orders.UpdateStatus(ctx, o.ID, o.Status, to, now); err != nil {
		return errors.Wrap(err, "update status")
	}
	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", o.ID),
		zap.String("from", string(o.Status)),
		zap.String("to", string(to)),
	)
	o.Status = to
	o.UpdatedAt = now
	return nil
}

// noPaymentInFlight refuses to end an order while a charge against it may
// still succeed. It must run with the order row locked.
func (c *Coordinator) noPaymentInFlight(ctx context.Context, orderID string) error {
	inFlight, err := c.cfg.PaymentRecords.HasInFlight(ctx, orderID)
	if err != nil {
		return errors.Wrap(err, "check in-flight payments")
	}
	if inFlight {
		return errors.Wrapf(fault.ErrConflict, "order %s has a payment in flight", orderID)
	}
	return nil
}

// restock returns every item of o to stock once. It is a no-op when the order
// was already restocked.
func (c *Coordinator) restock(ctx context.Context, o *order.Order, at time.Time) error {
	ok, err := c.cfg.Orders.MarkRestocked(ctx, o.ID, at)
	if err != nil {
		return errors.Wrap(err, "mark restocked")
	}
	if !ok {
		return nil
	}
	units := 0
	for _, it := range o.Items {
		err := c.cfg.Stock.Release(ctx, &stock.Reservation{
			ID:        it.ReservationID,
			OrderID:   o.ID,
			ProductID: it.ProductID,
			Size:      it.Size,
			Quantity:  it.Quantity,
			State:     stock.StateCommitted,
		})
		if err != nil {
			return err
		}
		units += it.Quantity
	}
	o.RestockedAt = &at
	c.metrics.restockedUnits.Add(ctx, int64(units))
	return nil
}

// Delete removes an order. The registered orderer may delete their own
// PENDING order; staff may delete any order. Stock still held by the order is
// returned.
func (c *Coordinator) Delete(ctx context.Context, id string, actor order.Actor) (err error) {
	ctx, span := c.start(ctx, "Delete", attribute.String("order.id", id))
	defer func() { finish(span, err) }()

	var o *order.Order
	err = c.cfg.Tx.InTx(ctx, func(ctx context.Context) error {
		if o, err = c.cfg.Orders.Lock(ctx, id); err != nil {
			return err
		}
		if !actor.Staff {
			if !o.OwnedBy(actor) {
				return errors.Wrapf(fault.ErrUnauthorized, "order %s", id)
			}
			if o.Status != order.StatusPending {
				return &order.InvalidTransitionError{From: string(o.Status), To: "DELETED"}
			}
		}
		if err := c.noPaymentInFlight(ctx, o.ID); err != nil {
			return err
		}
		if o.Holding() {
			if err := c.restock(ctx, o, c.now()); err != nil {
				return err
			}
		}
		return c.cfg.Orders.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	c.metrics.ordersCancelled.Add(ctx, 1, metric.WithAttributes(attribute.Bool("deleted", true)))
	zctx.From(ctx).Info("Order deleted", zap.String("order_id", id), zap.Bool("staff", actor.Staff))
	c.notify(ctx, newEvent(EventDeleted, o, c.now()))
	return nil
}

// Pay records a payment attempt. Registered orders may be paid by their
// owner or staff; guest orders by whoever holds the order ID.
//
// A transient provider failure returns both the stored Result and an error
// wrapping fault.ErrTransientProvider.
func (c *Coordinator) Pay(ctx context.Context, a payment.Attempt, actor order.Actor) (_ *payment.Result, err error) {
	ctx, span := c.start(ctx, "Pay",
		attribute.String("order.id", a.OrderID),
		attribute.String("payment.method", string(a.Method)),
	)
	defer func() { finish(span, err) }()

	o, err := c.cfg.Orders.Get(ctx, a.OrderID)
	if err != nil {
		return nil, err
	}
	if !o.AccessibleBy(actor) {
		return nil, errors.Wrapf(fault.ErrUnauthorized, "order %s", a.OrderID)
	}

	res, err := c.cfg.Payments.RecordAttempt(ctx, a)
	if res == nil {
		return nil, err
	}
	if !res.Duplicate {
		c.metrics.payments.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(res.Payment.Status)),
			attribute.String("method", string(res.Payment.Method)),
		))
	}
	if err != nil {
		return res, err
	}
	if !res.Duplicate {
		c.Settled(ctx, res)
	}
	return res, nil
}

// Settled applies policy after a payment reached a final status, whether by
// Pay or by reconciliation. Failures are logged; the payment itself stands.
func (c *Coordinator) Settled(ctx context.Context, res *payment.Result) {
	lg := zctx.From(ctx).With(zap.String("order_id", res.Payment.OrderID))

	switch {
	case res.OrderPaymentStatus == order.PaymentPaid:
		var o *order.Order
		err := c.cfg.Tx.InTx(ctx, func(ctx context.Context) error {
			var err error
			if o, err = c.cfg.Orders.Lock(ctx, res.Payment.OrderID); err != nil {
				return err
			}
			if c.cfg.Policy.AdvanceOnPaid && o.Status == order.StatusPending {
				return c.transition(ctx, o, order.StatusProcessing)
			}
			return nil
		})
		if err != nil {
			lg.Error("Advance paid order", zap.Error(err))
			return
		}
		c.notify(ctx, newEvent(EventPaid, o, c.now()))

	case res.Exhausted && c.cfg.Policy.CancelOnPaymentExhausted:
		var o *order.Order
		err := c.cfg.Tx.InTx(ctx, func(ctx context.Context) error {
			var err error
			if o, err = c.cfg.Orders.Lock(ctx, res.Payment.OrderID); err != nil {
				return err
			}
			if o.Status == order.StatusCancelled {
				return nil
			}
			return c.transition(ctx, o, order.StatusCancelled)
		})
		if err != nil {
			lg.Error("Cancel order after exhausted payments", zap.Error(err))
			return
		}
		lg.Info("Order cancelled after exhausted payment attempts")
		c.notify(ctx, newEvent(EventCancelled, o, c.now()))
	}
}

// Refund reverses a payment. When restock is set the order's stock is
// returned in the same transaction, unless it already was.
func (c *Coordinator) Refund(ctx context.Context, paymentID string, actor order.Actor, restock bool) (_ *payment.Result, err error) {
	ctx, span := c.start(ctx, "Refund",
		attribute.String("payment.id", paymentID),
		attribute.Bool("restock", restock),
	)
	defer func() { finish(span, err) }()

	if !actor.Staff {
		return nil, errors.Wrap(fault.ErrUnauthorized, "refunds are staff only")
	}

	var (
		res *payment.Result
		o   *order.Order
	)
	err = c.cfg.Tx.InTx(ctx, func(ctx context.Context) error {
		if res, err = c.cfg.Payments.Refund(ctx, paymentID); err != nil {
			return err
		}
		if o, err = c.cfg.Orders.Lock(ctx, res.Payment.OrderID); err != nil {
			return err
		}
		if restock {
			return c.restock(ctx, o, c.now())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.metrics.payments.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(payment.StatusRefunded)),
		attribute.String("method", string(res.Payment.Method)),
	))
	c.notify(ctx, newEvent(EventRefunded, o, c.now()))
	return res, nil
}

// Restock returns the stock of a refunded order. It succeeds once per order.
func (c *Coordinator) Restock(ctx context.Context, orderID string, actor order.Actor) (_ *order.Order, err error) {
	ctx, span := c.start(ctx, "Restock", attribute.String("order.id", orderID))
	defer func() { finish(span, err) }()

	if !actor.Staff {
		return nil, errors.Wrap(fault.ErrUnauthorized, "restock is staff only")
	}

	var o *order.Order
	err = c.cfg.Tx.InTx(ctx, func(ctx context.Context) error {
		if o, err = c.cfg.Orders.Lock(ctx, orderID); err != nil {
			return err
		}
		if o.RestockedAt != nil {
			return errors.Wrapf(ErrAlreadyRestocked, "order %s", orderID)
		}
		if o.PaymentStatus != order.PaymentRefunded {
			return errors.Wrapf(ErrNotRestockable, "order %s payment is %s", orderID, o.PaymentStatus)
		}
		return c.restock(ctx, o, c.now())
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// ScanQR confirms delivery by order code.
func (c *Coordinator) ScanQR(ctx context.Context, code, scannedBy string) (_ *order.Order, err error) {
	ctx, span := c.start(ctx, "ScanQR")
	defer func() { finish(span, err) }()

	o, err := c.cfg.Deliveries.VerifyCode(ctx, code, scannedBy)
	if err != nil {
		return nil, err
	}
	c.delivered(ctx, o)
	return o, nil
}

// ConfirmDelivery confirms delivery of orderID on behalf of its orderer.
func (c *Coordinator) ConfirmDelivery(ctx context.Context, orderID string, actor order.Actor) (_ *order.Order, err error) {
	ctx, span := c.start(ctx, "ConfirmDelivery", attribute.String("order.id", orderID))
	defer func() { finish(span, err) }()

	o, err := c.cfg.Deliveries.VerifyOrder(ctx, orderID, actor)
	if err != nil {
		return nil, err
	}
	c.delivered(ctx, o)
	return o, nil
}

func (c *Coordinator) delivered(ctx context.Context, o *order.Order) {
	c.metrics.deliveries.Add(ctx, 1)
	zctx.From(ctx).Info("Order delivered",
		zap.String("order_id", o.ID),
		zap.String("by", o.DeliveredBy),
	)
	c.notify(ctx, newEvent(EventDelivered, o, *o.DeliveredAt))
}

func (c *Coordinator) notify(ctx context.Context, e Event) {
	if err := c.cfg.Notifier.Notify(ctx, e); err != nil {
		zctx.From(ctx).Warn("Notification failed",
			zap.String("event", string(e.Kind)),
			zap.String("order_id", e.OrderID),
			zap.Error(err),
		)
	}
}

func isGuest(o *order.Order) bool {
	_, ok := o.Orderer.(order.Guest)
	return ok
}
