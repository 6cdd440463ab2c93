// Package notify delivers order lifecycle events to downstream systems.
package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/lifecycle"
)

var (
	_ lifecycle.Notifier = (*Kafka)(nil)
	_ lifecycle.Notifier = Log{}
)

// Writer is the subset of *kafka.Writer used by Kafka.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events to a topic keyed by order id, so all events of one
// order land on the same partition in commit order.
type Kafka struct {
	w Writer
}

// NewKafka creates a publisher writing to topic on brokers.
func NewKafka(brokers []string, topic string) *Kafka {
	return NewKafkaWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	})
}

// NewKafkaWriter wraps an existing writer.
func NewKafkaWriter(w Writer) *Kafka {
	return &Kafka{w: w}
}

// Notify implements lifecycle.Notifier.
func (k *Kafka) Notify(ctx context.Context, e lifecycle.Event) error {
	msg := kafka.Message{
		Key:   []byte(e.OrderID),
		Value: Encode(e),
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(e.Kind)},
		},
		Time: e.At,
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish %s for %s", e.Kind, e.OrderID)
	}
	return nil
}

// Close flushes pending messages.
func (k *Kafka) Close() error {
	return k.w.Close()
}

// Log writes events to the request logger. It is used when no broker is
// configured.
type Log struct{}

// Notify implements lifecycle.Notifier.
func (Log) Notify(ctx context.Context, e lifecycle.Event) error {
	zctx.From(ctx).Info("Order event",
		zap.String("kind", string(e.Kind)),
		zap.String("order_id", e.OrderID),
		zap.String("order_code", e.OrderCode),
		zap.String("status", string(e.Status)),
		zap.String("payment_status", string(e.PaymentStatus)),
		zap.String("total", e.Total.StringFixed(2)),
	)
	return nil
}

// Encode renders e as the JSON message body.
func Encode(e lifecycle.Event) []byte {
	var w jx.Encoder
	w.ObjStart()
	w.FieldStart("kind")
	w.Str(string(e.Kind))
	w.FieldStart("order_id")
	w.Str(e.OrderID)
	w.FieldStart("order_code")
	w.Str(e.OrderCode)
	w.FieldStart("status")
	w.Str(string(e.Status))
	w.FieldStart("payment_status")
	w.Str(string(e.PaymentStatus))
	w.FieldStart("total")
	w.Str(e.Total.StringFixed(2))
	if e.Email != "" {
		w.FieldStart("email")
		w.Str(e.Email)
	}
	w.FieldStart("at")
	w.Str(e.At.UTC().Format(time.RFC3339Nano))
	w.ObjEnd()
	return w.Bytes()
}
