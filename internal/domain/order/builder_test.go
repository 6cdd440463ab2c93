package order

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/stock"
)

// --- Mock implementations ---

type mockCatalog map[string]*catalog.Product

func (m mockCatalog) GetProduct(_ context.Context, id string) (*catalog.Product, error) {
	p, ok := m[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return p, nil
}

// mockPricer applies a fixed per-product price override.
type mockPricer map[string]decimal.Decimal

func (m mockPricer) ResolveBestPrice(_ context.Context, p *catalog.Product, _ time.Time) (discount.Resolution, error) {
	res := discount.Resolution{ListPrice: p.Price, Price: p.Price}
	if price, ok := m[p.ID]; ok {
		res.Price = price
		res.Applied = &discount.Discount{Code: "PROMO-" + p.ID}
	}
	return res, nil
}

type stockKey struct {
	product string
	size    catalog.Size
}

type mockStock struct {
	levels    map[stockKey]int
	committed int
}

func (m *mockStock) Reserve(_ context.Context, req stock.Request) (*stock.Reservation, error) {
	k := stockKey{req.ProductID, req.Size}
	if m.levels[k] < req.Quantity {
		return nil, &stock.InsufficientStockError{
			ProductID: req.ProductID,
			Size:      req.Size,
			Requested: req.Quantity,
			Available: m.levels[k],
		}
	}
	m.levels[k] -= req.Quantity
	return &stock.Reservation{
		ID:        "r-" + req.ProductID,
		OrderID:   req.OrderID,
		ProductID: req.ProductID,
		Size:      req.Size,
		Quantity:  req.Quantity,
		State:     stock.StateReserved,
	}, nil
}

func (m *mockStock) ReleaseAll(_ context.Context, rs []*stock.Reservation) error {
	for _, r := range rs {
		m.levels[stockKey{r.ProductID, r.Size}] += r.Quantity
		r.State = stock.StateReleased
	}
	return nil
}

func (m *mockStock) Commit(_ context.Context, r *stock.Reservation) error {
	r.State = stock.StateCommitted
	m.committed++
	return nil
}

type mockOrderRepo struct {
	Repository
	created  *Order
	existing map[string]bool
	// takenOnCreate makes Create report a concurrent collision this many times.
	takenOnCreate int
}

func (m *mockOrderRepo) CodeExists(_ context.Context, code string) (bool, error) {
	return m.existing[code], nil
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	if m.takenOnCreate > 0 {
		m.takenOnCreate--
		return ErrCodeTaken
	}
	m.created = o
	return nil
}

type mockProfiles map[string]Contact

func (m mockProfiles) Profile(_ context.Context, userID string) (*Contact, error) {
	c, ok := m[userID]
	if !ok {
		return nil, fault.ErrNotFound
	}
	return &c, nil
}

// --- Helpers ---

var testAddress = Address{Line1: "1 Main St", City: "Kampala", Country: "UG"}

var testGuest = Guest{Contact: Contact{Name: "Ann", Email: "ann@example.com", Phone: "+256700000000"}}

func flatShipping(amount string) DeliveryCostFunc {
	return func(context.Context, Address) (decimal.Decimal, error) {
		return decimal.RequireFromString(amount), nil
	}
}

func rateTax(rate string) TaxFunc {
	return func(_ context.Context, subtotal decimal.Decimal, _ Address) (decimal.Decimal, error) {
		return subtotal.Mul(decimal.RequireFromString(rate)).Round(2), nil
	}
}

type fixture struct {
	builder *Builder
	stock   *mockStock
	orders  *mockOrderRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	products := mockCatalog{
		"shirt": {
			ID:    "shirt",
			Name:  "Shirt",
			Price: decimal.RequireFromString("20.00"),
			Sizes: []catalog.ProductSize{{Size: catalog.SizeM, Stock: 5}, {Size: catalog.SizeL, Stock: 1}},
		},
		"mug": {ID: "mug", Name: "Mug", Price: decimal.RequireFromString("7.50"), Stock: 10},
	}
	st := &mockStock{levels: map[stockKey]int{
		{"shirt", catalog.SizeM}: 5,
		{"shirt", catalog.SizeL}: 1,
		{"mug", catalog.SizeNone}: 10,
	}}
	orders := &mockOrderRepo{existing: map[string]bool{}}

	b := NewBuilder(BuilderConfig{
		Catalog:      products,
		Pricer:       mockPricer{"shirt": decimal.RequireFromString("15.99")},
		Stock:        st,
		Orders:       orders,
		Profiles:     mockProfiles{"u1": {Name: "Bob", Email: "bob@example.com", Phone: "+1"}},
		DeliveryCost: flatShipping("5.00"),
		Tax:          rateTax("0.10"),
	})
	return &fixture{builder: b, stock: st, orders: orders}
}

// --- Tests ---

func TestBuild_Totals(t *testing.T) {
	f := newFixture(t)

	o, err := f.builder.Build(context.Background(), BuildRequest{
		Lines: []Line{
			{ProductID: "shirt", Size: catalog.SizeM, Quantity: 2},
			{ProductID: "mug", Quantity: 3},
		},
		Shipping:       testAddress,
		Orderer:        testGuest,
		DiscountAmount: decimal.RequireFromString("1.00"),
	})
	require.NoError(t, err)

	// 2×15.99 + 3×7.50 = 54.48; tax 5.45; shipping 5.00; adjustment 1.00.
	assert.True(t, decimal.RequireFromString("54.48").Equal(o.Subtotal), o.Subtotal.String())
	assert.True(t, decimal.RequireFromString("5.45").Equal(o.TaxAmount), o.TaxAmount.String())
	assert.True(t, decimal.RequireFromString("63.93").Equal(o.Total), o.Total.String())

	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.LineTotal())
	}
	assert.True(t, o.Total.Equal(sum.Add(o.ShippingCost).Add(o.TaxAmount).Sub(o.DiscountAmount)))

	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
	assert.Len(t, o.Code, DefaultCodeLength)
	assert.Same(t, o, f.orders.created)
	assert.Equal(t, 2, f.stock.committed)

	require.Len(t, o.Items, 2)
	assert.Equal(t, "PROMO-shirt", o.Items[0].DiscountCode)
	assert.True(t, decimal.RequireFromString("20.00").Equal(o.Items[0].ListPrice))
	assert.Empty(t, o.Items[1].DiscountCode)
	assert.Equal(t, "r-shirt", o.Items[0].ReservationID)
}

func TestBuild_InsufficientStockReleasesPriorLines(t *testing.T) {
	f := newFixture(t)

	_, err := f.builder.Build(context.Background(), BuildRequest{
		Lines: []Line{
			{ProductID: "mug", Quantity: 4},
			{ProductID: "shirt", Size: catalog.SizeL, Quantity: 2},
		},
		Shipping: testAddress,
		Orderer:  testGuest,
	})
	require.ErrorIs(t, err, stock.ErrInsufficientStock)

	var ise *stock.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, "shirt", ise.ProductID)
	assert.Equal(t, catalog.SizeL, ise.Size)

	assert.Equal(t, 10, f.stock.levels[stockKey{"mug", catalog.SizeNone}])
	assert.Equal(t, 1, f.stock.levels[stockKey{"shirt", catalog.SizeL}])
	assert.Nil(t, f.orders.created)
}

func TestBuild_Validation(t *testing.T) {
	tests := []struct {
		name  string
		req   BuildRequest
		field string
	}{
		{
			name:  "no lines",
			req:   BuildRequest{Shipping: testAddress, Orderer: testGuest},
			field: "lines",
		},
		{
			name: "zero quantity",
			req: BuildRequest{
				Lines:    []Line{{ProductID: "mug"}},
				Shipping: testAddress, Orderer: testGuest,
			},
			field: "lines[0].quantity",
		},
		{
			name: "unknown size",
			req: BuildRequest{
				Lines:    []Line{{ProductID: "shirt", Size: "XXXL", Quantity: 1}},
				Shipping: testAddress, Orderer: testGuest,
			},
			field: "lines[0].size",
		},
		{
			name: "missing shipping city",
			req: BuildRequest{
				Lines:    []Line{{ProductID: "mug", Quantity: 1}},
				Shipping: Address{Line1: "x", Country: "UG"}, Orderer: testGuest,
			},
			field: "shipping.city",
		},
		{
			name: "guest without phone",
			req: BuildRequest{
				Lines:    []Line{{ProductID: "mug", Quantity: 1}},
				Shipping: testAddress,
				Orderer:  Guest{Contact: Contact{Name: "Ann", Email: "ann@example.com"}},
			},
			field: "contact.phone",
		},
		{
			name: "no orderer",
			req: BuildRequest{
				Lines:    []Line{{ProductID: "mug", Quantity: 1}},
				Shipping: testAddress,
			},
			field: "orderer",
		},
		{
			name: "size on sizeless product",
			req: BuildRequest{
				Lines:    []Line{{ProductID: "mug", Size: catalog.SizeM, Quantity: 1}},
				Shipping: testAddress, Orderer: testGuest,
			},
			field: "size",
		},
		{
			name: "size required",
			req: BuildRequest{
				Lines:    []Line{{ProductID: "shirt", Quantity: 1}},
				Shipping: testAddress, Orderer: testGuest,
			},
			field: "size",
		},
		{
			name: "adjustment above total",
			req: BuildRequest{
				Lines:          []Line{{ProductID: "mug", Quantity: 1}},
				Shipping:       testAddress,
				Orderer:        testGuest,
				DiscountAmount: decimal.RequireFromString("100"),
			},
			field: "discount_amount",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.builder.Build(context.Background(), tt.req)

			var ve *fault.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.Equal(t, 10, f.stock.levels[stockKey{"mug", catalog.SizeNone}])
			assert.Nil(t, f.orders.created)
		})
	}
}

func TestBuild_ProductNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.builder.Build(context.Background(), BuildRequest{
		Lines:    []Line{{ProductID: "mug", Quantity: 1}, {ProductID: "ghost", Quantity: 1}},
		Shipping: testAddress,
		Orderer:  testGuest,
	})
	require.ErrorIs(t, err, fault.ErrNotFound)
	assert.Equal(t, 10, f.stock.levels[stockKey{"mug", catalog.SizeNone}])
}

func TestBuild_RegisteredDefaultsContact(t *testing.T) {
	f := newFixture(t)
	o, err := f.builder.Build(context.Background(), BuildRequest{
		Lines:    []Line{{ProductID: "mug", Quantity: 1}},
		Shipping: testAddress,
		Orderer:  Registered{UserID: "u1"},
		Contact:  Contact{Phone: "+999"},
	})
	require.NoError(t, err)
	assert.Equal(t, Contact{Name: "Bob", Email: "bob@example.com", Phone: "+999"}, o.Contact)

	uid, ok := UserID(o.Orderer)
	assert.True(t, ok)
	assert.Equal(t, "u1", uid)
}

func TestBuild_RegeneratesCodeOnCollision(t *testing.T) {
	f := newFixture(t)
	f.orders.takenOnCreate = 2

	o, err := f.builder.Build(context.Background(), BuildRequest{
		Lines:    []Line{{ProductID: "mug", Quantity: 1}},
		Shipping: testAddress,
		Orderer:  testGuest,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, o.Code)
}

func TestBuild_RemembersTakenCodes(t *testing.T) {
	f := newFixture(t)
	f.orders.existing["AAAA"] = true

	// AAAA is already stored, BBBB is free, then AAAA and CCCC for the next order.
	var src []byte
	for _, b := range []byte{0, 1, 0, 2} {
		src = append(src, bytes.Repeat([]byte{b}, 4)...)
	}
	g := NewCodeGenerator(4)
	g.rand = bytes.NewReader(src)
	f.builder.cfg.Codes = g

	req := BuildRequest{
		Lines:    []Line{{ProductID: "mug", Quantity: 1}},
		Shipping: testAddress,
		Orderer:  testGuest,
	}
	o, err := f.builder.Build(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "BBBB", o.Code)

	// The taken code is skipped without asking the repository again.
	o, err = f.builder.Build(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "CCCC", o.Code)
	assert.True(t, g.issued.TestString("AAAA"))
	assert.True(t, g.issued.TestString("BBBB"))
}

func TestBuild_CodeAttemptsExhausted(t *testing.T) {
	f := newFixture(t)
	f.orders.takenOnCreate = 100

	_, err := f.builder.Build(context.Background(), BuildRequest{
		Lines:    []Line{{ProductID: "mug", Quantity: 2}},
		Shipping: testAddress,
		Orderer:  testGuest,
	})
	require.True(t, errors.Is(err, fault.ErrConflict))
	assert.Equal(t, 10, f.stock.levels[stockKey{"mug", catalog.SizeNone}])
}

func TestOrder_AccessibleBy(t *testing.T) {
	owned := &Order{Orderer: Registered{UserID: "u1"}}
	guest := &Order{Orderer: testGuest}

	assert.True(t, owned.AccessibleBy(Actor{UserID: "u1"}))
	assert.False(t, owned.AccessibleBy(Actor{UserID: "u2"}))
	assert.False(t, owned.AccessibleBy(Actor{}))
	assert.True(t, owned.AccessibleBy(Actor{Staff: true}))
	assert.True(t, guest.AccessibleBy(Actor{}))
	assert.False(t, guest.OwnedBy(Actor{UserID: "u1"}))
}
