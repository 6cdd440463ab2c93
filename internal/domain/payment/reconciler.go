package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/fault"
)

// Reconciler resolves attempts left PENDING or UNKNOWN by a timed-out or
// interrupted provider call, by asking the provider for the final outcome.
type Reconciler struct {
	rec   *Recorder
	after time.Duration
	batch int
	// OnSettled is called for every attempt the pass resolves.
	OnSettled func(ctx context.Context, res *Result)
}

// NewReconciler creates a Reconciler that considers attempts untouched for at
// least after.
func NewReconciler(rec *Recorder, after time.Duration) *Reconciler {
	if after <= 0 {
		after = time.Minute
	}
	return &Reconciler{rec: rec, after: after, batch: 100}
}

// Resolve runs one pass and returns how many attempts reached a final status.
func (r *Reconciler) Resolve(ctx context.Context) (int, error) {
	lg := zctx.From(ctx)

	pending, err := r.rec.payments.ListUnresolved(ctx, r.rec.now().Add(-r.after), r.batch)
	if err != nil {
		return 0, errors.Wrap(err, "list unresolved payments")
	}

	resolved := 0
	for i := range pending {
		p := &pending[i]

		callCtx, cancel := context.WithTimeout(ctx, r.rec.cfg.Timeout)
		pr, callErr := r.rec.provider.Status(callCtx, p.ProviderRef)
		cancel()

		res, err := r.rec.settle(ctx, p, pr, callErr)
		switch {
		case errors.Is(err, fault.ErrTransientProvider):
			continue
		case err != nil:
			lg.Error("Reconcile payment", zap.String("payment_id", p.ID), zap.Error(err))
			continue
		}
		resolved++
		if r.OnSettled != nil {
			r.OnSettled(ctx, res)
		}
	}

	if len(pending) > 0 {
		lg.Info("Reconciled payments",
			zap.Int("unresolved", len(pending)),
			zap.Int("resolved", resolved),
		)
	}
	return resolved, nil
}

// Run calls Resolve every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Resolve(ctx); err != nil {
				zctx.From(ctx).Error("Reconciliation pass failed", zap.Error(err))
			}
		}
	}
}
