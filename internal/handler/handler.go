// Package handler exposes the order lifecycle over a JSON HTTP API.
package handler

import (
	"context"
	"net/http"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/delivery"
	"github.com/xenking/storefront/internal/domain/lifecycle"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/payment"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Service is the lifecycle surface the handlers call.
type Service interface {
	CreateOrder(ctx context.Context, req order.BuildRequest) (*order.Order, error)
	GetOrder(ctx context.Context, id string, actor order.Actor) (*lifecycle.Details, error)
	TrackOrder(ctx context.Context, code string) (*lifecycle.Details, error)
	UpdateStatus(ctx context.Context, id string, to order.Status, actor order.Actor) (*order.Order, error)
	Delete(ctx context.Context, id string, actor order.Actor) error
	Pay(ctx context.Context, a payment.Attempt, actor order.Actor) (*payment.Result, error)
	Refund(ctx context.Context, paymentID string, actor order.Actor, restock bool) (*payment.Result, error)
	Restock(ctx context.Context, orderID string, actor order.Actor) (*order.Order, error)
	ScanQR(ctx context.Context, code, scannedBy string) (*order.Order, error)
	ConfirmDelivery(ctx context.Context, orderID string, actor order.Actor) (*order.Order, error)
}

var _ Service = (*lifecycle.Coordinator)(nil)

// Authenticator resolves staff API keys.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error)
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// QRSize is the edge length of rendered QR images in pixels.
	QRSize int
}

// Handler serves the order API.
type Handler struct {
	svc    Service
	keys   Authenticator
	qrSize int
}

// New constructs a Handler.
func New(cfg Config, svc Service, keys Authenticator) *Handler {
	if cfg.QRSize <= 0 {
		cfg.QRSize = delivery.DefaultQRSize
	}
	return &Handler{svc: svc, keys: keys, qrSize: cfg.QRSize}
}

// Register mounts the API on mux. Endpoints reachable by order code alone are
// wrapped with guest, typically a rate limiter.
func (h *Handler) Register(mux *http.ServeMux, guest httpmiddleware.Middleware) {
	if guest == nil {
		guest = func(next http.Handler) http.Handler { return next }
	}

	mux.HandleFunc("POST /api/orders", h.createOrder)
	mux.HandleFunc("GET /api/orders/{id}", h.getOrder)
	mux.HandleFunc("PATCH /api/orders/{id}/status", h.updateStatus)
	mux.HandleFunc("DELETE /api/orders/{id}", h.deleteOrder)
	mux.HandleFunc("POST /api/orders/{id}/payments", h.pay)
	mux.HandleFunc("POST /api/orders/{id}/restock", h.restock)
	mux.HandleFunc("POST /api/orders/{id}/deliver", h.confirmDelivery)
	mux.HandleFunc("POST /api/payments/{id}/refund", h.refund)

	mux.Handle("GET /api/track/{code}", guest(http.HandlerFunc(h.trackOrder)))
	mux.Handle("GET /api/orders/{code}/qr", guest(http.HandlerFunc(h.qr)))
	mux.Handle("POST /api/delivery/scan", guest(http.HandlerFunc(h.scan)))
}
