package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/payment"
)

// --- Helpers ---

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/v1/", Options{APIKey: "secret", Timeout: time.Second})
	require.NoError(t, err)
	return c
}

func charge() payment.ChargeRequest {
	return payment.ChargeRequest{
		Method:    payment.MethodMobileMoney,
		Amount:    decimal.RequireFromString("53.98"),
		Reference: "ref-42",
		OrderCode: "K7QX2M9A",
	}
}

// --- Tests ---

func TestClient_Charge(t *testing.T) {
	var got map[string]string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/charges", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "ref-42", r.Header.Get("Idempotency-Key"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		got = map[string]string{}
		assert.NoError(t, jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
			v, err := d.Str()
			got[string(key)] = v
			return err
		}))

		_, _ = io.WriteString(w, `{"status":"success","transaction_id":"tx-1","message":"ok","extra":{"a":1}}`)
	})

	res, err := c.Charge(context.Background(), charge())
	require.NoError(t, err)
	assert.Equal(t, payment.ProviderResult{Outcome: payment.OutcomeSuccess, TransactionID: "tx-1", Message: "ok"}, res)
	assert.Equal(t, map[string]string{
		"method":     "mobile_money",
		"amount":     "53.98",
		"reference":  "ref-42",
		"order_code": "K7QX2M9A",
	}, got)
}

func TestClient_ChargeResponses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    payment.Outcome
		wantErr bool
	}{
		{name: "declined", status: http.StatusOK, body: `{"status":"failure","message":"insufficient funds"}`, want: payment.OutcomeFailure},
		{name: "pending", status: http.StatusOK, body: `{"status":"PENDING"}`, want: payment.OutcomePending},
		{name: "payment required without body", status: http.StatusPaymentRequired, want: payment.OutcomeFailure},
		{name: "server error", status: http.StatusBadGateway, body: `oops`, wantErr: true},
		{name: "bad request", status: http.StatusBadRequest, body: `{}`, wantErr: true},
		{name: "unknown status", status: http.StatusOK, body: `{"status":"maybe"}`, wantErr: true},
		{name: "missing status", status: http.StatusOK, body: `{"message":"?"}`, wantErr: true},
		{name: "malformed", status: http.StatusOK, body: `{`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			res, err := c.Charge(context.Background(), charge())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Outcome)
		})
	}
}

func TestClient_ChargeTimeout(t *testing.T) {
	release := make(chan struct{})
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Charge(ctx, charge())
	require.Error(t, err)
}

func TestClient_Status(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/v1/charges/ref-42":
			_, _ = io.WriteString(w, `{"status":"success","transaction_id":"tx-9"}`)
		default:
			http.NotFound(w, r)
		}
	})

	res, err := c.Status(context.Background(), "ref-42")
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeSuccess, res.Outcome)
	assert.Equal(t, "tx-9", res.TransactionID)

	res, err = c.Status(context.Background(), "never-sent")
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeFailure, res.Outcome)
}

func TestNew_RejectsRelativeURL(t *testing.T) {
	_, err := New("/charges", Options{})
	assert.Error(t, err)
}
