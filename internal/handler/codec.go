package handler

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/lifecycle"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
)

const maxRequestBody = 1 << 20

// decodeObject reads the request body as a JSON object. An empty body is an
// empty object.
func decodeObject(r *http.Request, f func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if strings.TrimSpace(string(body)) == "" {
		return nil
	}
	err = jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		return f(d, string(key))
	})
	if err != nil {
		if fault.IsValidation(err) {
			return err
		}
		return fault.Invalid("body", err.Error())
	}
	return nil
}

// decodeDecimal accepts a JSON number or a numeric string.
func decodeDecimal(d *jx.Decoder, field string) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = string(n)
	default:
		return decimal.Zero, fault.Invalid(field, "must be a number")
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fault.Invalid(field, "must be a number")
	}
	return v, nil
}

func decodeContact(d *jx.Decoder) (order.Contact, error) {
	var c order.Contact
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "name":
			c.Name, err = d.Str()
		case "email":
			c.Email, err = d.Str()
		case "phone":
			c.Phone, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return c, err
}

func decodeAddress(d *jx.Decoder) (order.Address, error) {
	var a order.Address
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "line1":
			a.Line1, err = d.Str()
		case "line2":
			a.Line2, err = d.Str()
		case "city":
			a.City, err = d.Str()
		case "region":
			a.Region, err = d.Str()
		case "postcode":
			a.Postcode, err = d.Str()
		case "country":
			a.Country, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return a, err
}

func decodeLine(d *jx.Decoder) (order.Line, error) {
	var l order.Line
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "product_id":
			l.ProductID, err = d.Str()
		case "size":
			var s string
			s, err = d.Str()
			l.Size = catalog.Size(strings.ToUpper(s))
		case "quantity":
			l.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	return l, err
}

func writeJSON(w http.ResponseWriter, status int, f func(e *jx.Encoder)) {
	var e jx.Encoder
	f(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func money(e *jx.Encoder, field string, v decimal.Decimal) {
	e.FieldStart(field)
	e.Str(v.StringFixed(2))
}

func str(e *jx.Encoder, field, v string) {
	e.FieldStart(field)
	e.Str(v)
}

func timestamp(e *jx.Encoder, field string, t *time.Time) {
	if t == nil {
		return
	}
	e.FieldStart(field)
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	str(e, "id", o.ID)
	str(e, "code", o.Code)
	str(e, "status", string(o.Status))
	str(e, "payment_status", string(o.PaymentStatus))
	if id, ok := order.UserID(o.Orderer); ok {
		str(e, "user_id", id)
	}
	e.FieldStart("contact")
	e.ObjStart()
	str(e, "name", o.Contact.Name)
	str(e, "email", o.Contact.Email)
	str(e, "phone", o.Contact.Phone)
	e.ObjEnd()
	e.FieldStart("shipping")
	e.ObjStart()
	str(e, "line1", o.Shipping.Line1)
	str(e, "line2", o.Shipping.Line2)
	str(e, "city", o.Shipping.City)
	str(e, "region", o.Shipping.Region)
	str(e, "postcode", o.Shipping.Postcode)
	str(e, "country", o.Shipping.Country)
	e.ObjEnd()
	money(e, "subtotal", o.Subtotal)
	money(e, "shipping_cost", o.ShippingCost)
	money(e, "tax_amount", o.TaxAmount)
	money(e, "discount_amount", o.DiscountAmount)
	money(e, "total", o.Total)
	e.FieldStart("is_qr_scanned")
	e.Bool(o.QRScanned)
	timestamp(e, "delivered_at", o.DeliveredAt)
	if o.DeliveredBy != "" {
		str(e, "delivered_by", o.DeliveredBy)
	}
	timestamp(e, "restocked_at", o.RestockedAt)
	timestamp(e, "created_at", &o.CreatedAt)
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		str(e, "product_id", it.ProductID)
		str(e, "product_name", it.ProductName)
		if it.Size != catalog.SizeNone {
			str(e, "size", string(it.Size))
		}
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		money(e, "unit_price", it.UnitPrice)
		money(e, "list_price", it.ListPrice)
		if it.DiscountCode != "" {
			str(e, "discount_code", it.DiscountCode)
		}
		money(e, "line_total", it.LineTotal())
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodePayment(e *jx.Encoder, p *payment.Payment) {
	e.ObjStart()
	str(e, "id", p.ID)
	str(e, "order_id", p.OrderID)
	str(e, "method", string(p.Method))
	money(e, "amount", p.Amount)
	str(e, "provider_ref", p.ProviderRef)
	if p.ProviderTxnID != "" {
		str(e, "provider_txn_id", p.ProviderTxnID)
	}
	str(e, "status", string(p.Status))
	if p.Message != "" {
		str(e, "message", p.Message)
	}
	e.ObjEnd()
}

func encodeTransaction(e *jx.Encoder, t *payment.Transaction) {
	e.ObjStart()
	str(e, "id", t.ID)
	money(e, "amount", t.Amount)
	str(e, "method", string(t.Method))
	str(e, "reference", t.Reference)
	str(e, "status", string(t.Status))
	timestamp(e, "date", &t.Date)
	e.ObjEnd()
}

func encodeDetails(e *jx.Encoder, d *lifecycle.Details) {
	e.ObjStart()
	e.FieldStart("order")
	encodeOrder(e, d.Order)
	e.FieldStart("payments")
	e.ArrStart()
	for i := range d.Payments {
		encodePayment(e, &d.Payments[i])
	}
	e.ArrEnd()
	e.FieldStart("transactions")
	e.ArrStart()
	for i := range d.Transactions {
		encodeTransaction(e, &d.Transactions[i])
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeResult(e *jx.Encoder, res *payment.Result) {
	e.ObjStart()
	e.FieldStart("payment")
	encodePayment(e, res.Payment)
	if res.Transaction != nil {
		e.FieldStart("transaction")
		encodeTransaction(e, res.Transaction)
	}
	str(e, "order_payment_status", string(res.OrderPaymentStatus))
	e.FieldStart("duplicate")
	e.Bool(res.Duplicate)
	if res.Exhausted {
		e.FieldStart("exhausted")
		e.Bool(true)
	}
	e.ObjEnd()
}
