package delivery_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/delivery"
	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/storage/memstore"
)

func seed(t *testing.T, orders *memstore.Orders, id, code string, status order.Status, orderer order.Orderer) {
	t.Helper()
	require.NoError(t, orders.Create(context.Background(), &order.Order{
		ID:            id,
		Code:          code,
		Status:        status,
		PaymentStatus: order.PaymentPaid,
		Orderer:       orderer,
	}))
}

func TestVerifyCode(t *testing.T) {
	tests := []struct {
		name    string
		status  order.Status
		scanned bool
		code    string
		wantErr error
	}{
		{name: "pending", status: order.StatusPending, code: "ABC123"},
		{name: "processing lower case", status: order.StatusProcessing, code: " abc123 "},
		{name: "unknown code", status: order.StatusPending, code: "ZZZ999", wantErr: fault.ErrNotFound},
		{name: "cancelled", status: order.StatusCancelled, code: "ABC123", wantErr: delivery.ErrNotEligible},
		{name: "delivered without scan", status: order.StatusDelivered, code: "ABC123", wantErr: delivery.ErrNotEligible},
		{name: "already scanned", status: order.StatusProcessing, scanned: true, code: "ABC123", wantErr: delivery.ErrAlreadyDelivered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			orders := memstore.New().Orders()
			seed(t, orders, "o1", "ABC123", tt.status, order.Guest{})
			if tt.scanned {
				// The scan flag is reported ahead of the DELIVERED status.
				_, err := orders.MarkDelivered(ctx, "o1", "x", time.Now())
				require.NoError(t, err)
			}

			o, err := delivery.NewVerifier(orders).VerifyCode(ctx, tt.code, "courier-1")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, order.StatusDelivered, o.Status)
			assert.True(t, o.QRScanned)
			assert.NotNil(t, o.DeliveredAt)

			stored, err := orders.Get(ctx, "o1")
			require.NoError(t, err)
			assert.Equal(t, order.StatusDelivered, stored.Status)
			assert.Equal(t, "courier-1", stored.DeliveredBy)
		})
	}
}

func TestVerifyCode_ConcurrentScans(t *testing.T) {
	ctx := context.Background()
	orders := memstore.New().Orders()
	seed(t, orders, "o1", "ABC123", order.StatusProcessing, order.Guest{})
	v := delivery.NewVerifier(orders)

	const scans = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
		already   int
	)
	for range scans {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := v.VerifyCode(ctx, "ABC123", "courier")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				delivered++
			case errors.Is(err, delivery.ErrAlreadyDelivered):
				already++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, delivered)
	assert.Equal(t, scans-1, already)
}

func TestVerifyOrder(t *testing.T) {
	ctx := context.Background()
	orders := memstore.New().Orders()
	seed(t, orders, "o1", "AAA111", order.StatusProcessing, order.Registered{UserID: "u1"})
	seed(t, orders, "o2", "BBB222", order.StatusProcessing, order.Guest{})
	seed(t, orders, "o3", "CCC333", order.StatusPending, order.Registered{UserID: "u1"})
	v := delivery.NewVerifier(orders)

	_, err := v.VerifyOrder(ctx, "o1", order.Actor{UserID: "u2"})
	require.ErrorIs(t, err, fault.ErrUnauthorized)

	_, err = v.VerifyOrder(ctx, "o2", order.Actor{UserID: "u1"})
	require.ErrorIs(t, err, fault.ErrUnauthorized, "guest orders are delivered by code")

	_, err = v.VerifyOrder(ctx, "missing", order.Actor{UserID: "u1"})
	require.ErrorIs(t, err, fault.ErrNotFound)

	o, err := v.VerifyOrder(ctx, "o1", order.Actor{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", o.DeliveredBy)

	_, err = v.VerifyOrder(ctx, "o1", order.Actor{UserID: "u1"})
	require.ErrorIs(t, err, delivery.ErrAlreadyDelivered)

	o, err = v.VerifyOrder(ctx, "o3", order.Actor{Staff: true})
	require.NoError(t, err)
	assert.Equal(t, "staff", o.DeliveredBy)
}

func TestRenderQR(t *testing.T) {
	png, err := delivery.RenderQR("abc123", 0)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
	assert.Equal(t, "ABC123", delivery.QRPayload(" abc123"))

	_, err = delivery.RenderQR("  ", 128)
	require.Error(t, err)
}
