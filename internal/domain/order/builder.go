package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/stock"
)

// Line is a requested (product, size, quantity) tuple.
type Line struct {
	ProductID string
	Size      catalog.Size
	Quantity  int
}

// BuildRequest holds the fully described input of an order build.
type BuildRequest struct {
	Lines    []Line
	Shipping Address
	Orderer  Orderer
	// Contact overrides profile defaults for registered orderers. Ignored for
	// guests, whose contact comes from Guest.
	Contact Contact
	// DiscountAmount is an optional order-level markdown on top of per-line
	// discounts already reflected in unit prices.
	DiscountAmount decimal.Decimal
	// At is the pricing instant; zero means now.
	At time.Time
}

// DeliveryCostFunc computes the shipping cost for an address.
type DeliveryCostFunc func(ctx context.Context, addr Address) (decimal.Decimal, error)

// TaxFunc computes the tax owed on subtotal shipped to addr.
type TaxFunc func(ctx context.Context, subtotal decimal.Decimal, addr Address) (decimal.Decimal, error)

// Pricer resolves the effective price of a product.
type Pricer interface {
	ResolveBestPrice(ctx context.Context, p *catalog.Product, at time.Time) (discount.Resolution, error)
}

// Stock reserves inventory for order lines.
type Stock interface {
	Reserve(ctx context.Context, req stock.Request) (*stock.Reservation, error)
	ReleaseAll(ctx context.Context, rs []*stock.Reservation) error
	Commit(ctx context.Context, r *stock.Reservation) error
}

// BuilderConfig holds the collaborators of a Builder.
type BuilderConfig struct {
	Catalog      catalog.Repository
	Pricer       Pricer
	Stock        Stock
	Orders       Repository
	Profiles     ProfileRepository
	DeliveryCost DeliveryCostFunc
	Tax          TaxFunc
	Codes        *CodeGenerator
	// CodeAttempts bounds order code regeneration on collision.
	CodeAttempts int
}

// Builder turns validated lines into a priced, persisted order.
type Builder struct {
	cfg   BuilderConfig
	now   func() time.Time
	newID func() string
}

// NewBuilder creates a Builder.
func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.Codes == nil {
		cfg.Codes = NewCodeGenerator(DefaultCodeLength)
	}
	if cfg.CodeAttempts <= 0 {
		cfg.CodeAttempts = 5
	}
	return &Builder{
		cfg:   cfg,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// Build prices each line, reserves its stock and persists the order as
// PENDING/PENDING. Either every line is reserved and the order is stored, or
// every reservation made so far is released and an error is returned.
//
// Build is expected to run inside a transaction owned by the caller.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*Order, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	contact, err := b.contact(ctx, req)
	if err != nil {
		return nil, err
	}
	at := req.At
	if at.IsZero() {
		at = b.now()
	}

	o := &Order{
		ID:            b.newID(),
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		Orderer:       req.Orderer,
		Contact:       contact,
		Shipping:      req.Shipping,
		CreatedAt:     at,
		UpdatedAt:     at,
	}

	var reserved []*stock.Reservation
	release := func(cause error) error {
		if err := b.cfg.Stock.ReleaseAll(ctx, reserved); err != nil {
			zctx.From(ctx).Error("Release reservations after failed build",
				zap.String("order_id", o.ID),
				zap.Error(err),
			)
		}
		return cause
	}

	subtotal := decimal.Zero
	for i, line := range req.Lines {
		item, err := b.price(ctx, line, at)
		if err != nil {
			return nil, release(errors.Wrapf(err, "line %d", i))
		}

		r, err := b.cfg.Stock.Reserve(ctx, stock.Request{
			OrderID:   o.ID,
			ProductID: line.ProductID,
			Size:      line.Size,
			Quantity:  line.Quantity,
		})
		if err != nil {
			return nil, release(err)
		}
		reserved = append(reserved, r)

		item.ID = b.newID()
		item.ReservationID = r.ID
		o.Items = append(o.Items, item)
		subtotal = subtotal.Add(item.LineTotal())
	}

	if err := b.totals(ctx, o, subtotal, req.DiscountAmount); err != nil {
		return nil, release(err)
	}
	if err := b.persist(ctx, o); err != nil {
		return nil, release(err)
	}

	for _, r := range reserved {
		if err := b.cfg.Stock.Commit(ctx, r); err != nil {
			return nil, release(err)
		}
	}
	return o, nil
}

func (b *Builder) price(ctx context.Context, line Line, at time.Time) (Item, error) {
	p, err := b.cfg.Catalog.GetProduct(ctx, line.ProductID)
	if err != nil {
		return Item{}, errors.Wrap(err, "get product")
	}
	if _, ok := p.Available(line.Size); !ok {
		if p.HasSizes() && line.Size == catalog.SizeNone {
			return Item{}, fault.Invalid("size", fmt.Sprintf("required for product %s", p.ID))
		}
		return Item{}, fault.Invalid("size", fmt.Sprintf("%q not offered for product %s", line.Size, p.ID))
	}

	res, err := b.cfg.Pricer.ResolveBestPrice(ctx, p, at)
	if err != nil {
		return Item{}, errors.Wrap(err, "resolve price")
	}

	item := Item{
		ProductID:   p.ID,
		ProductName: p.Name,
		Size:        line.Size,
		Quantity:    line.Quantity,
		UnitPrice:   res.Price,
		ListPrice:   res.ListPrice,
	}
	if res.Applied != nil {
		item.DiscountCode = res.Applied.Code
	}
	return item, nil
}

func (b *Builder) totals(ctx context.Context, o *Order, subtotal, adjust decimal.Decimal) error {
	shipping, err := b.cfg.DeliveryCost(ctx, o.Shipping)
	if err != nil {
		return errors.Wrap(err, "delivery cost")
	}
	tax, err := b.cfg.Tax(ctx, subtotal, o.Shipping)
	if err != nil {
		return errors.Wrap(err, "tax")
	}

	gross := subtotal.Add(shipping).Add(tax)
	if adjust.GreaterThan(gross) {
		return fault.Invalid("discount_amount", "exceeds order total")
	}

	o.Subtotal = subtotal
	o.ShippingCost = shipping
	o.TaxAmount = tax
	o.DiscountAmount = adjust
	o.Total = ComputeTotal(subtotal, shipping, tax, adjust)
	return nil
}

// persist stores o under a fresh order code, regenerating on collision.
func (b *Builder) persist(ctx context.Context, o *Order) error {
	lg := zctx.From(ctx)
	for attempt := 1; attempt <= b.cfg.CodeAttempts; attempt++ {
		code, err := b.cfg.Codes.Next()
		if err != nil {
			return errors.Wrap(err, "generate order code")
		}
		taken, err := b.cfg.Orders.CodeExists(ctx, code)
		if err != nil {
			return errors.Wrap(err, "check order code")
		}
		if taken {
			b.cfg.Codes.Remember(code)
			lg.Debug("Order code collision", zap.String("code", code), zap.Int("attempt", attempt))
			continue
		}

		o.Code = code
		err = b.cfg.Orders.Create(ctx, o)
		switch {
		case err == nil:
			b.cfg.Codes.Remember(code)
			return nil
		case errors.Is(err, ErrCodeTaken):
			b.cfg.Codes.Remember(code)
			lg.Debug("Order code taken concurrently", zap.String("code", code), zap.Int("attempt", attempt))
			continue
		default:
			return errors.Wrap(err, "create order")
		}
	}
	return errors.Wrapf(fault.ErrConflict, "no free order code after %d attempts", b.cfg.CodeAttempts)
}

func (b *Builder) contact(ctx context.Context, req BuildRequest) (Contact, error) {
	switch o := req.Orderer.(type) {
	case Guest:
		return o.Contact, nil
	case Registered:
		c := req.Contact
		if c.Name != "" && c.Email != "" && c.Phone != "" || b.cfg.Profiles == nil {
			return c, nil
		}
		profile, err := b.cfg.Profiles.Profile(ctx, o.UserID)
		if err != nil {
			return Contact{}, errors.Wrap(err, "user profile")
		}
		if c.Name == "" {
			c.Name = profile.Name
		}
		if c.Email == "" {
			c.Email = profile.Email
		}
		if c.Phone == "" {
			c.Phone = profile.Phone
		}
		return c, nil
	default:
		return Contact{}, fault.Invalid("orderer", "required")
	}
}

func validateRequest(req BuildRequest) error {
	if len(req.Lines) == 0 {
		return fault.Invalid("lines", "at least one line required")
	}
	for i, l := range req.Lines {
		if strings.TrimSpace(l.ProductID) == "" {
			return fault.Invalid(fmt.Sprintf("lines[%d].product_id", i), "required")
		}
		if l.Quantity <= 0 {
			return fault.Invalid(fmt.Sprintf("lines[%d].quantity", i), "must be greater than 0")
		}
		if !l.Size.Valid() {
			return fault.Invalid(fmt.Sprintf("lines[%d].size", i), fmt.Sprintf("unknown size %q", l.Size))
		}
	}

	if err := validateAddress(req.Shipping); err != nil {
		return err
	}
	if req.DiscountAmount.IsNegative() {
		return fault.Invalid("discount_amount", "must not be negative")
	}

	switch o := req.Orderer.(type) {
	case Guest:
		return validateGuestContact(o.Contact)
	case Registered:
		if o.UserID == "" {
			return fault.Invalid("orderer.user_id", "required")
		}
		return nil
	default:
		return fault.Invalid("orderer", "required")
	}
}

func validateAddress(a Address) error {
	switch {
	case strings.TrimSpace(a.Line1) == "":
		return fault.Invalid("shipping.line1", "required")
	case strings.TrimSpace(a.City) == "":
		return fault.Invalid("shipping.city", "required")
	case strings.TrimSpace(a.Country) == "":
		return fault.Invalid("shipping.country", "required")
	}
	return nil
}

func validateGuestContact(c Contact) error {
	switch {
	case strings.TrimSpace(c.Name) == "":
		return fault.Invalid("contact.name", "required for guest orders")
	case strings.TrimSpace(c.Email) == "":
		return fault.Invalid("contact.email", "required for guest orders")
	case !strings.Contains(c.Email, "@"):
		return fault.Invalid("contact.email", "malformed")
	case strings.TrimSpace(c.Phone) == "":
		return fault.Invalid("contact.phone", "required for guest orders")
	}
	return nil
}
