package payment_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
)

func TestReconciler_ResolvesUnknown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, payment.RecorderConfig{Timeout: 10 * time.Millisecond})
	f.placeOrder(t, "o1", "10")
	f.placeOrder(t, "o2", "10")
	f.provider.block = make(chan struct{})

	for _, id := range []string{"o1", "o2"} {
		_, err := f.recorder.RecordAttempt(ctx, attempt(id, "10", "ref-"+id))
		require.ErrorIs(t, err, fault.ErrTransientProvider)
	}

	rec := payment.NewReconciler(f.recorder, time.Minute)
	var settled []*payment.Result
	rec.OnSettled = func(_ context.Context, res *payment.Result) { settled = append(settled, res) }

	// Nothing is old enough yet.
	n, err := rec.Resolve(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, id := range []string{"o1", "o2"} {
		p, err := f.payments.GetByRef(ctx, "ref-"+id)
		require.NoError(t, err)
		f.payments.SetUpdatedAt(p.ID, time.Now().Add(-time.Hour))
	}
	// o1 went through at the provider; o2 is still unknown to it.
	f.provider.status = map[string]payment.ProviderResult{
		"ref-o1": {Outcome: payment.OutcomeSuccess, TransactionID: "t1"},
	}

	n, err = rec.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, settled, 1)
	assert.Equal(t, order.PaymentPaid, settled[0].OrderPaymentStatus)

	o1, err := f.orders.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPaid, o1.PaymentStatus)

	p2, err := f.payments.GetByRef(ctx, "ref-o2")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusUnknown, p2.Status)
}

func TestReconciler_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t, payment.RecorderConfig{})
	rec := payment.NewReconciler(f.recorder, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx, 5*time.Millisecond) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
