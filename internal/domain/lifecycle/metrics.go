package lifecycle

import (
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	ordersCreated   metric.Int64Counter
	ordersCancelled metric.Int64Counter
	buildFailures   metric.Int64Counter
	payments        metric.Int64Counter
	deliveries      metric.Int64Counter
	restockedUnits  metric.Int64Counter
}

func newMetrics(m metric.Meter) (*metrics, error) {
	var (
		out metrics
		err error
	)
	if out.ordersCreated, err = m.Int64Counter("shop.orders.created",
		metric.WithDescription("Orders successfully built and persisted"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.created")
	}
	if out.ordersCancelled, err = m.Int64Counter("shop.orders.cancelled",
		metric.WithDescription("Orders cancelled or deleted"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.cancelled")
	}
	if out.buildFailures, err = m.Int64Counter("shop.orders.build_failures",
		metric.WithDescription("Order builds that failed and released their reservations"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.build_failures")
	}
	if out.payments, err = m.Int64Counter("shop.payments",
		metric.WithDescription("Payment attempts by resulting status"),
	); err != nil {
		return nil, errors.Wrap(err, "payments")
	}
	if out.deliveries, err = m.Int64Counter("shop.deliveries",
		metric.WithDescription("Orders confirmed delivered"),
	); err != nil {
		return nil, errors.Wrap(err, "deliveries")
	}
	if out.restockedUnits, err = m.Int64Counter("shop.stock.restocked_units",
		metric.WithDescription("Units returned to stock by cancel, delete or restock"),
		metric.WithUnit("{unit}"),
	); err != nil {
		return nil, errors.Wrap(err, "stock.restocked_units")
	}
	return &out, nil
}
