// Package gateway is the HTTP client of the card / mobile-money payment
// provider.
package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/storefront/internal/domain/payment"
)

var _ payment.Provider = (*Client)(nil)

// maxBody bounds provider responses.
const maxBody = 64 << 10

// Client talks to the provider's charge API:
//
//	POST {base}/charges            create a charge, idempotent by reference
//	GET  {base}/charges/{ref}      look up a charge
//
// Both answer {"status": "success"|"failure"|"pending", "transaction_id", "message"}.
type Client struct {
	base   *url.URL
	apiKey string
	http   *http.Client
}

// Options configures a Client.
type Options struct {
	APIKey string
	// Timeout bounds a whole request. The recorder applies its own deadline
	// as well.
	Timeout time.Duration
	// Transport overrides the base round tripper. It is wrapped with otelhttp.
	Transport http.RoundTripper

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// New creates a client for the provider at baseURL.
func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse provider url")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("provider url %q must be absolute", baseURL)
	}

	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	var otelOpts []otelhttp.Option
	if opts.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(opts.TracerProvider))
	}
	if opts.MeterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(opts.MeterProvider))
	}
	return &Client{
		base:   u,
		apiKey: opts.APIKey,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(base, otelOpts...),
		},
	}, nil
}

// Charge implements payment.Provider.
func (c *Client) Charge(ctx context.Context, req payment.ChargeRequest) (payment.ProviderResult, error) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("method")
	e.Str(string(req.Method))
	e.FieldStart("amount")
	e.Str(req.Amount.StringFixed(2))
	e.FieldStart("reference")
	e.Str(req.Reference)
	e.FieldStart("order_code")
	e.Str(req.OrderCode)
	e.ObjEnd()

	r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("charges"), bytes.NewReader(e.Bytes()))
	if err != nil {
		return payment.ProviderResult{}, errors.Wrap(err, "build charge request")
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Idempotency-Key", req.Reference)
	return c.do(r)
}

// Status implements payment.Provider. An unknown reference means the charge
// never reached the provider and is reported as a failure.
func (c *Client) Status(ctx context.Context, reference string) (payment.ProviderResult, error) {
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("charges", url.PathEscape(reference)), http.NoBody)
	if err != nil {
		return payment.ProviderResult{}, errors.Wrap(err, "build status request")
	}
	res, err := c.do(r)
	if errors.Is(err, errUnknownReference) {
		return payment.ProviderResult{Outcome: payment.OutcomeFailure, Message: "unknown reference"}, nil
	}
	return res, err
}

var errUnknownReference = errors.New("unknown reference")

func (c *Client) endpoint(parts ...string) string {
	return c.base.JoinPath(parts...).String()
}

func (c *Client) do(r *http.Request) (payment.ProviderResult, error) {
	r.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(r)
	if err != nil {
		return payment.ProviderResult{}, errors.Wrap(err, "call provider")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return payment.ProviderResult{}, errors.Wrap(err, "read provider response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound && r.Method == http.MethodGet:
		return payment.ProviderResult{}, errUnknownReference
	case resp.StatusCode >= 500:
		return payment.ProviderResult{}, errors.Errorf("provider returned %d", resp.StatusCode)
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		// Declines may come without a body.
		res, err := decodeResult(body)
		if err != nil || res.Outcome == "" {
			res = payment.ProviderResult{Outcome: payment.OutcomeFailure, Message: http.StatusText(resp.StatusCode)}
		}
		return res, nil
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return payment.ProviderResult{}, errors.Errorf("provider returned %d", resp.StatusCode)
	}

	res, err := decodeResult(body)
	if err != nil {
		return payment.ProviderResult{}, errors.Wrap(err, "decode provider response")
	}
	if res.Outcome == "" {
		return payment.ProviderResult{}, errors.New("provider response has no status")
	}
	return res, nil
}

func decodeResult(body []byte) (payment.ProviderResult, error) {
	var res payment.ProviderResult
	err := jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "status":
			s, err := d.Str()
			if err != nil {
				return err
			}
			switch o := payment.Outcome(strings.ToLower(s)); o {
			case payment.OutcomeSuccess, payment.OutcomeFailure, payment.OutcomePending:
				res.Outcome = o
			default:
				return errors.Errorf("unknown status %q", s)
			}
		case "transaction_id":
			s, err := d.Str()
			if err != nil {
				return err
			}
			res.TransactionID = s
		case "message":
			s, err := d.Str()
			if err != nil {
				return err
			}
			res.Message = s
		default:
			return d.Skip()
		}
		return nil
	})
	return res, err
}
