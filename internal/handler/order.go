package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/delivery"
	"github.com/xenking/storefront/internal/domain/fault"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
)

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var (
		req     order.BuildRequest
		contact order.Contact
	)
	err = decodeObject(r, func(d *jx.Decoder, key string) error {
		switch key {
		case "lines":
			return d.Arr(func(d *jx.Decoder) error {
				l, err := decodeLine(d)
				if err != nil {
					return err
				}
				req.Lines = append(req.Lines, l)
				return nil
			})
		case "shipping":
			a, err := decodeAddress(d)
			req.Shipping = a
			return err
		case "contact":
			c, err := decodeContact(d)
			contact = c
			return err
		case "discount_amount":
			v, err := decodeDecimal(d, "discount_amount")
			req.DiscountAmount = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if actor.UserID != "" {
		req.Orderer = order.Registered{UserID: actor.UserID}
		req.Contact = contact
	} else {
		req.Orderer = order.Guest{Contact: contact}
	}

	o, err := h.svc.CreateOrder(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := h.svc.GetOrder(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeDetails(e, d) })
}

func (h *Handler) trackOrder(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.TrackOrder(r.Context(), r.PathValue("code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeDetails(e, d) })
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var raw string
	err = decodeObject(r, func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		s, err := d.Str()
		raw = s
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, ok := order.ParseStatus(strings.ToUpper(raw))
	if !ok {
		writeError(w, r, fault.Invalid("status", "unknown status "+raw))
		return
	}

	o, err := h.svc.UpdateStatus(r.Context(), r.PathValue("id"), to, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.Delete(r.Context(), r.PathValue("id"), actor); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	a := payment.Attempt{OrderID: r.PathValue("id")}
	err = decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "method":
			var s string
			s, err = d.Str()
			a.Method = payment.Method(strings.ToLower(s))
		case "amount":
			a.Amount, err = decodeDecimal(d, "amount")
		case "provider_ref":
			a.ProviderRef, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.svc.Pay(r.Context(), a, actor)
	if err != nil {
		if res != nil && errors.Is(err, fault.ErrTransientProvider) {
			// Recorded as UNKNOWN; the client may poll the order or retry.
			writeJSON(w, http.StatusAccepted, func(e *jx.Encoder) { encodeResult(e, res) })
			return
		}
		writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, func(e *jx.Encoder) { encodeResult(e, res) })
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var restock bool
	err = decodeObject(r, func(d *jx.Decoder, key string) error {
		if key != "restock" {
			return d.Skip()
		}
		v, err := d.Bool()
		restock = v
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.svc.Refund(r.Context(), r.PathValue("id"), actor, restock)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeResult(e, res) })
}

func (h *Handler) restock(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.svc.Restock(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) scan(w http.ResponseWriter, r *http.Request) {
	var code, by string
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			code, err = d.Str()
		case "scanned_by":
			by, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(code) == "" {
		writeError(w, r, fault.Invalid("code", "required"))
		return
	}

	o, err := h.svc.ScanQR(r.Context(), code, by)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.svc.ConfirmDelivery(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// qr renders the code of an existing order as a PNG. The image encodes only
// the code, so it is served to anyone who already knows it.
func (h *Handler) qr(w http.ResponseWriter, r *http.Request) {
	code := delivery.NormalizeCode(r.PathValue("code"))
	if code == "" {
		writeError(w, r, fault.Invalid("code", "required"))
		return
	}
	d, err := h.svc.TrackOrder(r.Context(), code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	png, err := delivery.RenderQR(d.Order.Code, h.qrSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
