package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

var (
	// ErrOutboxFull is returned when an event is dropped because the queue is full.
	ErrOutboxFull = errors.New("notification queue full")
	// ErrOutboxClosed is returned for events offered after Close.
	ErrOutboxClosed = errors.New("notification queue closed")
)

const (
	defaultOutboxSize    = 1024
	defaultOutboxTimeout = 5 * time.Second
)

// OutboxConfig bounds an Outbox.
type OutboxConfig struct {
	// Size is the number of events queued before new ones are dropped.
	Size int
	// Timeout bounds a single delivery to the wrapped Notifier.
	Timeout time.Duration
}

type queued struct {
	ctx context.Context
	e   Event
}

// Outbox is a Notifier that hands events to a background goroutine, so the
// operation that produced them never waits on delivery. Events reach the
// wrapped Notifier in the order they were queued.
type Outbox struct {
	next    Notifier
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan queued
	done   chan struct{}
}

// NewOutbox starts delivering queued events to next. Call Close to drain.
func NewOutbox(next Notifier, cfg OutboxConfig) *Outbox {
	if cfg.Size <= 0 {
		cfg.Size = defaultOutboxSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultOutboxTimeout
	}
	o := &Outbox{
		next:    next,
		timeout: cfg.Timeout,
		queue:   make(chan queued, cfg.Size),
		done:    make(chan struct{}),
	}
	go o.run()
	return o
}

// Notify queues e without blocking.
func (o *Outbox) Notify(ctx context.Context, e Event) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrOutboxClosed
	}
	select {
	case o.queue <- queued{ctx: context.WithoutCancel(ctx), e: e}:
		return nil
	default:
		return errors.Wrapf(ErrOutboxFull, "drop %s for %s", e.Kind, e.OrderID)
	}
}

func (o *Outbox) run() {
	defer close(o.done)
	for q := range o.queue {
		ctx, cancel := context.WithTimeout(q.ctx, o.timeout)
		err := o.next.Notify(ctx, q.e)
		cancel()
		if err != nil {
			zctx.From(q.ctx).Warn("Notification failed",
				zap.String("event", string(q.e.Kind)),
				zap.String("order_id", q.e.OrderID),
				zap.Error(err),
			)
		}
	}
}

// Close stops accepting events and waits until the queued ones are delivered.
func (o *Outbox) Close() error {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.mu.Unlock()
	<-o.done
	return nil
}
