package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/delivery"
	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/lifecycle"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/internal/domain/settings"
	"github.com/xenking/storefront/internal/domain/stock"
)

// statusOf maps the domain error taxonomy to an HTTP status.
func statusOf(err error) int {
	switch {
	case fault.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidKey):
		return http.StatusUnauthorized
	case errors.Is(err, fault.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, settings.ErrNoActive):
		return http.StatusServiceUnavailable
	case errors.Is(err, fault.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, stock.ErrInsufficientStock),
		errors.Is(err, fault.ErrConflict),
		errors.Is(err, payment.ErrDuplicateRef),
		errors.Is(err, delivery.ErrAlreadyDelivered),
		errors.Is(err, lifecycle.ErrAlreadyRestocked):
		return http.StatusConflict
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, payment.ErrAmountMismatch),
		errors.Is(err, payment.ErrNotPayable),
		errors.Is(err, payment.ErrNotRefundable),
		errors.Is(err, delivery.ErrNotEligible),
		errors.Is(err, lifecycle.ErrNotRestockable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, fault.ErrTransientProvider):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError responds with {"code", "message", "retryable"} plus whatever
// context the error carries. Internal errors are logged and not echoed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		msg = http.StatusText(status)
	}

	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		str(e, "message", msg)
		e.FieldStart("retryable")
		e.Bool(fault.Retryable(err))

		var ve *fault.ValidationError
		if errors.As(err, &ve) && ve.Field != "" {
			str(e, "field", ve.Field)
		}
		var se *stock.InsufficientStockError
		if errors.As(err, &se) {
			str(e, "product_id", se.ProductID)
			if se.Size != catalog.SizeNone {
				str(e, "size", string(se.Size))
			}
			e.FieldStart("requested")
			e.Int(se.Requested)
			e.FieldStart("available")
			e.Int(se.Available)
		}
		var te *order.InvalidTransitionError
		if errors.As(err, &te) {
			str(e, "from", te.From)
			str(e, "to", te.To)
		}
		var ae *payment.AmountMismatchError
		if errors.As(err, &ae) {
			money(e, "expected", ae.Expected)
			money(e, "got", ae.Got)
		}
		e.ObjEnd()
	})
}
