package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/order"
)

const (
	// headerAPIKey carries a staff API key.
	headerAPIKey = "api_key"
	// headerUserID carries the customer id set by the upstream identity proxy.
	headerUserID = "X-User-ID"
)

var errNotStaff = errors.Wrap(auth.ErrInvalidKey, "key lacks staff scope")

// actor resolves the caller. A presented API key must be valid and carry the
// staff scope; otherwise the caller is the user named by X-User-ID, or an
// anonymous guest.
func (h *Handler) actor(r *http.Request) (order.Actor, error) {
	if key := r.Header.Get(headerAPIKey); key != "" {
		info, err := h.keys.Authenticate(r.Context(), key)
		if err != nil {
			return order.Actor{}, err
		}
		if !info.HasScope(auth.ScopeStaff) {
			return order.Actor{}, errNotStaff
		}
		return order.Actor{Staff: true}, nil
	}
	return order.Actor{UserID: strings.TrimSpace(r.Header.Get(headerUserID))}, nil
}
