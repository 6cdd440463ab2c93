package payment_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/storage/memstore"
)

// --- Mock implementations ---

type mockProvider struct {
	mu      sync.Mutex
	charges int
	result  payment.ProviderResult
	err     error
	// block, when set, is waited on before answering Charge.
	block  chan struct{}
	status map[string]payment.ProviderResult
}

func (m *mockProvider) Charge(ctx context.Context, req payment.ChargeRequest) (payment.ProviderResult, error) {
	m.mu.Lock()
	m.charges++
	res, err, block := m.result, m.err, m.block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return payment.ProviderResult{}, ctx.Err()
		}
	}
	if res.TransactionID == "" && err == nil {
		res.TransactionID = "txn-" + req.Reference
	}
	return res, err
}

func (m *mockProvider) Status(_ context.Context, ref string) (payment.ProviderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.status[ref]
	if !ok {
		return payment.ProviderResult{}, errors.New("provider down")
	}
	return res, nil
}

func (m *mockProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.charges
}

// --- Helpers ---

type fixture struct {
	store    *memstore.Store
	orders   *memstore.Orders
	payments *memstore.Payments
	provider *mockProvider
	recorder *payment.Recorder
}

func newFixture(t *testing.T, cfg payment.RecorderConfig) *fixture {
	t.Helper()
	s := memstore.New()
	f := &fixture{
		store:    s,
		orders:   s.Orders(),
		payments: s.Payments(),
		provider: &mockProvider{result: payment.ProviderResult{Outcome: payment.OutcomeSuccess}},
	}
	f.recorder = payment.NewRecorder(s, f.orders, f.payments, f.provider, cfg)
	return f
}

func (f *fixture) placeOrder(t *testing.T, id, total string) *order.Order {
	t.Helper()
	o := &order.Order{
		ID:            id,
		Code:          "CODE" + id,
		Status:        order.StatusPending,
		PaymentStatus: order.PaymentPending,
		Orderer:       order.Guest{},
		Total:         decimal.RequireFromString(total),
	}
	require.NoError(t, f.orders.Create(context.Background(), o))
	return o
}

func attempt(orderID, amount, ref string) payment.Attempt {
	return payment.Attempt{
		OrderID:     orderID,
		Method:      payment.MethodCard,
		Amount:      decimal.RequireFromString(amount),
		ProviderRef: ref,
	}
}

// --- Tests ---

func TestRecordAttempt_PaidThenDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, payment.RecorderConfig{})
	f.placeOrder(t, "o1", "49.99")

	res, err := f.recorder.RecordAttempt(ctx, attempt("o1", "49.99", "ref-1"))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, payment.StatusSucceeded, res.Payment.Status)
	assert.Equal(t, order.PaymentPaid, res.OrderPaymentStatus)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, payment.TransactionPaid, res.Transaction.Status)

	again, err := f.recorder.RecordAttempt(ctx, attempt("o1", "49.99", "ref-1"))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, res.Payment.ID, again.Payment.ID)
	assert.Equal(t, res.Transaction.ID, again.Transaction.ID)
	assert.Equal(t, order.PaymentPaid, again.OrderPaymentStatus)

	assert.Equal(t, 1, f.provider.calls())
	txns, err := f.payments.ListTransactions(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, txns, 1)

	o, err := f.orders.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, o.Status, "recorder must not advance order status")
}

func TestRecordAttempt_AmountMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, payment.RecorderConfig{})
	f.placeOrder(t, "o1", "49.99")

	_, err := f.recorder.RecordAttempt(ctx, attempt("o1", "49.98", "ref-1"))
	require.ErrorIs(t, err, payment.ErrAmountMismatch)

	var ame *payment.AmountMismatchError
	require.ErrorAs(t, err, &ame)
	assert.True(t, decimal.RequireFromString("49.99").Equal(ame.Expected))

	o, err := f.orders.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPending, o.PaymentStatus)
	assert.Zero(t, f.provider.calls())

	_, err = f.payments.GetByRef(ctx, "ref-1")
	assert.ErrorIs(t, err, payment.ErrNotFound)
}

func TestRecordAttempt_Validation(t *testing.T) {
	f := newFixture(t, payment.RecorderConfig{})
	f.placeOrder(t, "o1", "10")

	tests := []struct {
		name  string
		a     payment.Attempt
		field string
	}{
		{"no order", payment.Attempt{Method: payment.MethodCard, Amount: decimal.NewFromInt(10), ProviderRef: "r"}, "order_id"},
		{"bad method", payment.Attempt{OrderID: "o1", Method: "cash", Amount: decimal.NewFromInt(10), ProviderRef: "r"}, "method"},
		{"zero amount", payment.Attempt{OrderID: "o1", Method: payment.MethodCard, ProviderRef: "r"}, "amount"},
		{"no ref", payment.Attempt{OrderID: "o1", Method: payment.MethodMobileMoney, Amount: decimal.NewFromInt(10)}, "provider_ref"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.recorder.RecordAttempt(context.Background(), tt.a)
			var ve *fault.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestRecordAttempt_RefReusedForOtherOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, payment.RecorderConfig{})
	f.placeOrder(t, "o1", "10")
	f.placeOrder(t, "o2", "10")

	_, err := f.recorder.RecordAttempt(ctx, attempt("o1", "10", "ref-1"))
	require.NoError(t, err)

	_, err = f.recorder.RecordAttempt(ctx, attempt("o2", "10", "ref-1"))
	assert.True(t, fault.IsValidation(err))
}

func TestRecordAttempt_FailureThenExhausted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, payment.RecorderConfig{MaxAttempts: 2})
	f.placeOrder(t, "o1", "10")
	f.provider.result = payment.ProviderResult{Outcome: payment.OutcomeFailure, Message: "declined"}

	res, err := f.recorder.RecordAttempt(ctx, attempt("o1", "10", "ref-1"))
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, res.Payment.Status)
	assert.Equal(t, order.PaymentPending, res.OrderPaymentStatus)
	assert.False(t, res.Exhausted)
	assert.Nil(t, res.Transaction)

	res, err = f.recorder.RecordAttempt(ctx, attempt("o1", "10", "ref-2"))
	require.NoError(t, err)
	assert.True(t, res.Exhausted)
	assert.Equal(t, order.PaymentFailed, res.OrderPaymentStatus)

	_, err = f.recorder.RecordAttempt(ctx, attempt("o1", "10", "ref-3"))
	require.ErrorIs(t, err, payment.ErrNotPayable)
}

func TestRecordAttempt_TimeoutIsUnknown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, payment.RecorderConfig{Timeout: 20 * time.Millisecond})
	f.placeOrder(t, "o1", "10")
	f.provider.block = make(chan struct{})

	res, err := f.recorder.RecordAttempt(ctx, attempt("o1", "10", "ref-1"))
	require.ErrorIs(t, err, fault.ErrTransientProvider)
	assert.True(t, fault.Retryable(err))
	require.NotNil(t, res)
	assert.Equal(t, payment.StatusUnknown, res.Payment.Status)

	o, err := f.orders.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPending, o.PaymentStatus)

	// A second attempt must wait for reconciliation.
	_, err = f.recorder.RecordAttempt(ctx, attempt("o1", "10", "ref-2"))
	require.ErrorIs(t, err, fault.ErrConflict)
}

func TestRecordAttempt_CancelledOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, payment.RecorderConfig{})
	o := f.placeOrder(t, "o1", "10")
	require.NoError(t, f.orders.UpdateStatus(ctx, o.ID, order.StatusPending, order.StatusCancelled, time.Now()))

	_, err := f.recorder.RecordAttempt(ctx, attempt("o1", "10", "ref-1"))
	require.ErrorIs(t, err, payment.ErrNotPayable)
}

func TestRecordAttempt_CancelledWhileCharging(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, payment.RecorderConfig{})
	f.placeOrder(t, "o1", "10")
	f.provider.block = make(chan struct{})

	type outcome struct {
		res *payment.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := f.recorder.RecordAttempt(ctx, attempt("o1", "10", "ref-1"))
		done <- outcome{res, err}
	}()

	require.Eventually(t, func() bool {
		inFlight, err := f.payments.HasInFlight(ctx, "o1")
		return err == nil && inFlight
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, f.orders.UpdateStatus(ctx, "o1", order.StatusPending, order.StatusCancelled, time.Now()))
	close(f.provider.block)

	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, payment.StatusSucceeded, got.res.Payment.Status)
	require.NotNil(t, got.res.Transaction, "the charge is kept for refund")
	assert.Equal(t, order.PaymentPending, got.res.OrderPaymentStatus)

	o, err := f.orders.Get(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, o.Status)
	assert.Equal(t, order.PaymentPending, o.PaymentStatus)
}

func TestRecordAttempt_ConcurrentSameRef(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, payment.RecorderConfig{})
	f.placeOrder(t, "o1", "49.99")

	var wg sync.WaitGroup
	results := make([]*payment.Result, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.recorder.RecordAttempt(ctx, attempt("o1", "49.99", "ref-1"))
		}()
	}
	wg.Wait()

	// Late arrivals either see the stored outcome or the in-flight attempt.
	for i, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, fault.ErrConflict)
			continue
		}
		assert.Equal(t, "ref-1", results[i].Payment.ProviderRef)
	}
	assert.Equal(t, 1, f.provider.calls())

	txns, err := f.payments.ListTransactions(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, payment.RecorderConfig{})
	f.placeOrder(t, "o1", "25.00")

	paid, err := f.recorder.RecordAttempt(ctx, attempt("o1", "25.00", "ref-1"))
	require.NoError(t, err)

	res, err := f.recorder.Refund(ctx, paid.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentRefunded, res.OrderPaymentStatus)
	assert.Equal(t, payment.StatusRefunded, res.Payment.Status)
	assert.True(t, decimal.RequireFromString("-25.00").Equal(res.Transaction.Amount))

	txns, err := f.payments.ListTransactions(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, txns, 2)
	sum := decimal.Zero
	for _, tx := range txns {
		sum = sum.Add(tx.Amount)
	}
	assert.True(t, sum.IsZero())

	_, err = f.recorder.Refund(ctx, paid.Payment.ID)
	require.ErrorIs(t, err, order.ErrInvalidTransition)
	assert.Equal(t, 1, f.provider.calls())
}

func TestRefund_NotPaid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, payment.RecorderConfig{})
	f.placeOrder(t, "o1", "10")
	f.provider.result = payment.ProviderResult{Outcome: payment.OutcomeFailure}

	failed, err := f.recorder.RecordAttempt(ctx, attempt("o1", "10", "ref-1"))
	require.NoError(t, err)

	_, err = f.recorder.Refund(ctx, failed.Payment.ID)
	require.ErrorIs(t, err, order.ErrInvalidTransition)

	_, err = f.recorder.Refund(ctx, "missing")
	require.ErrorIs(t, err, fault.ErrNotFound)
}
