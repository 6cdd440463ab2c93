// Package memstore is an in-memory implementation of every domain repository.
//
// Transactions are serialized on a single mutex and roll back by restoring a
// snapshot, which gives the same all-or-nothing behavior as the postgres
// store for tests that exercise concurrency.
package memstore

import (
	"context"
	"slices"
	"sync"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/settings"
	"github.com/xenking/storefront/internal/domain/stock"
	"github.com/xenking/storefront/internal/domain/txn"
)

var (
	_ txn.Runner              = (*Store)(nil)
	_ catalog.Repository      = (*Catalog)(nil)
	_ stock.Repository        = (*Catalog)(nil)
	_ discount.Repository     = (*Catalog)(nil)
	_ order.Repository        = (*Orders)(nil)
	_ order.ProfileRepository = (*Orders)(nil)
	_ payment.Repository      = (*Payments)(nil)
	_ settings.Repository     = (*Settings)(nil)
	_ auth.Repository         = (*APIKeys)(nil)
)

type txKey struct{}

type state struct {
	products     map[string]*catalog.Product
	discounts    map[string]discount.Discount
	profiles     map[string]order.Contact
	orders       map[string]*order.Order
	codes        map[string]string
	payments     map[string]*payment.Payment
	refs         map[string]string
	transactions []payment.Transaction
	movements    []stock.Movement
	settings     map[int64]*settings.Settings
	settingsSeq  int64
	apiKeys      map[string]auth.APIKeyInfo
}

// Store holds all state in memory. The zero value is not usable; call New.
type Store struct {
	mu sync.Mutex
	st state
}

// Catalog serves products, discounts and stock counts.
type Catalog struct{ s *Store }

// Orders serves orders and user profiles.
type Orders struct{ s *Store }

// Payments serves payment attempts and order transactions.
type Payments struct{ s *Store }

// Settings serves shop settings revisions.
type Settings struct{ s *Store }

// APIKeys serves staff API keys.
type APIKeys struct{ s *Store }

// Catalog returns the catalog view of s.
func (s *Store) Catalog() *Catalog { return &Catalog{s: s} }

// Orders returns the order view of s.
func (s *Store) Orders() *Orders { return &Orders{s: s} }

// Payments returns the payment view of s.
func (s *Store) Payments() *Payments { return &Payments{s: s} }

// Settings returns the settings view of s.
func (s *Store) Settings() *Settings { return &Settings{s: s} }

// APIKeys returns the API key view of s.
func (s *Store) APIKeys() *APIKeys { return &APIKeys{s: s} }

// New returns an empty Store.
func New() *Store {
	return &Store{st: state{
		products:  map[string]*catalog.Product{},
		discounts: map[string]discount.Discount{},
		profiles:  map[string]order.Contact{},
		orders:    map[string]*order.Order{},
		codes:     map[string]string{},
		payments:  map[string]*payment.Payment{},
		refs:      map[string]string{},
		settings:  map[int64]*settings.Settings{},
		apiKeys:   map[string]auth.APIKeyInfo{},
	}}
}

// InTx runs fn holding the store lock. Any error restores the state observed
// when the outermost transaction began.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.st = snap
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(*Store)
	return v == s
}

// lock acquires the store mutex unless ctx already holds it.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (st state) clone() state {
	out := state{
		products:     make(map[string]*catalog.Product, len(st.products)),
		discounts:    make(map[string]discount.Discount, len(st.discounts)),
		profiles:     make(map[string]order.Contact, len(st.profiles)),
		orders:       make(map[string]*order.Order, len(st.orders)),
		codes:        make(map[string]string, len(st.codes)),
		payments:     make(map[string]*payment.Payment, len(st.payments)),
		refs:         make(map[string]string, len(st.refs)),
		transactions: slices.Clone(st.transactions),
		movements:    slices.Clone(st.movements),
		settings:     make(map[int64]*settings.Settings, len(st.settings)),
		settingsSeq:  st.settingsSeq,
		apiKeys:      make(map[string]auth.APIKeyInfo, len(st.apiKeys)),
	}
	for k, v := range st.products {
		out.products[k] = cloneProduct(v)
	}
	for k, v := range st.discounts {
		out.discounts[k] = v
	}
	for k, v := range st.profiles {
		out.profiles[k] = v
	}
	for k, v := range st.orders {
		out.orders[k] = cloneOrder(v)
	}
	for k, v := range st.codes {
		out.codes[k] = v
	}
	for k, v := range st.payments {
		p := *v
		out.payments[k] = &p
	}
	for k, v := range st.refs {
		out.refs[k] = v
	}
	for k, v := range st.settings {
		c := *v
		out.settings[k] = &c
	}
	for k, v := range st.apiKeys {
		out.apiKeys[k] = v
	}
	return out
}

func cloneProduct(p *catalog.Product) *catalog.Product {
	c := *p
	c.CategoryIDs = slices.Clone(p.CategoryIDs)
	c.Colors = slices.Clone(p.Colors)
	c.Sizes = slices.Clone(p.Sizes)
	return &c
}

func cloneOrder(o *order.Order) *order.Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	return &c
}
