// Package razorpay is the adapter for the Razorpay payment gateway: order
// intents, refunds, signature verification and webhook decoding.
package razorpay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.razorpay.com"

// maxResponseSize caps gateway response bodies.
const maxResponseSize = 1 << 20

// Config holds the API credentials and transport settings.
type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	// Timeout bounds each API call. Zero means 10s.
	Timeout time.Duration
}

// APIError is a non-2xx response from the gateway.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("razorpay: %d %s: %s", e.StatusCode, e.Code, e.Description)
}

// Order is a gateway order intent.
type Order struct {
	ID        string
	Amount    int64
	Currency  string
	Receipt   string
	Status    string
	CreatedAt time.Time
}

// Refund is a gateway refund.
type Refund struct {
	ID        string
	PaymentID string
	Amount    int64
	Currency  string
	Status    string
	CreatedAt time.Time
}

// CreateOrderRequest is the input of CreateOrder. Amount is in minor units.
type CreateOrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// Option configures a Client.
type Option func(c *Client)

// WithHTTPClient overrides the HTTP client. Its Timeout is left untouched.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTracerProvider sets the tracer provider for outgoing requests.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tracerProvider = tp
	}
}

// Client calls the gateway REST API through a circuit breaker.
type Client struct {
	baseURL        *url.URL
	keyID          string
	keySecret      string
	timeout        time.Duration
	http           *http.Client
	tracerProvider trace.TracerProvider
	breaker        *gobreaker.CircuitBreaker[[]byte]
}

// NewClient creates a gateway client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, errors.New("razorpay: key id and secret are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	c := &Client{
		baseURL:   u,
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		timeout:   cfg.Timeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		var topts []otelhttp.Option
		if c.tracerProvider != nil {
			topts = append(topts, otelhttp.WithTracerProvider(c.tracerProvider))
		}
		c.http = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport, topts...),
		}
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "razorpay",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Client errors mean the gateway is up.
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < http.StatusInternalServerError
			}
			return err == nil
		},
	})
	return c, nil
}

// KeyID returns the public key id handed to the checkout widget.
func (c *Client) KeyID() string {
	return c.keyID
}

// BreakerState reports the circuit breaker state, for readiness checks.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// CreateOrder opens an order intent for the given amount.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("amount", func(e *jx.Encoder) { e.Int64(req.Amount) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(req.Currency) })
		if req.Receipt != "" {
			e.Field("receipt", func(e *jx.Encoder) { e.Str(req.Receipt) })
		}
		if len(req.Notes) > 0 {
			e.Field("notes", func(e *jx.Encoder) { encodeNotes(e, req.Notes) })
		}
	})

	body, err := c.do(ctx, http.MethodPost, "/v1/orders", e.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	o, err := decodeOrder(jx.DecodeBytes(body))
	if err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	return o, nil
}

// Refund refunds amount minor units of a captured payment. Zero refunds
// the full amount.
func (c *Client) Refund(ctx context.Context, paymentID string, amount int64) (*Refund, error) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		if amount > 0 {
			e.Field("amount", func(e *jx.Encoder) { e.Int64(amount) })
		}
	})

	body, err := c.do(ctx, http.MethodPost, "/v1/payments/"+url.PathEscape(paymentID)+"/refund", e.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "refund payment")
	}
	r, err := decodeRefund(jx.DecodeBytes(body))
	if err != nil {
		return nil, errors.Wrap(err, "decode refund")
	}
	return r, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		u := c.baseURL.JoinPath(path)
		req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.keyID, c.keySecret)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return nil, errors.Wrap(err, "read body")
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, decodeAPIError(resp.StatusCode, body)
		}
		return body, nil
	})
}

func encodeNotes(e *jx.Encoder, notes map[string]string) {
	keys := make([]string, 0, len(notes))
	for k := range notes {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	e.Obj(func(e *jx.Encoder) {
		for _, k := range keys {
			e.Field(k, func(e *jx.Encoder) { e.Str(notes[k]) })
		}
	})
}

func decodeAPIError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status, Description: http.StatusText(status)}
	d := jx.DecodeBytes(body)
	_ = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "error" {
			return d.Skip()
		}
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "code":
				apiErr.Code, err = optStr(d)
			case "description":
				apiErr.Description, err = optStr(d)
			default:
				return d.Skip()
			}
			return err
		})
	})
	return apiErr
}

func decodeOrder(d *jx.Decoder) (*Order, error) {
	var o Order
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			o.ID, err = d.Str()
		case "amount":
			o.Amount, err = d.Int64()
		case "currency":
			o.Currency, err = d.Str()
		case "receipt":
			o.Receipt, err = optStr(d)
		case "status":
			o.Status, err = d.Str()
		case "created_at":
			o.CreatedAt, err = unixTime(d)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if o.ID == "" {
		return nil, errors.New("missing order id")
	}
	return &o, nil
}

func decodeRefund(d *jx.Decoder) (*Refund, error) {
	var r Refund
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			r.ID, err = d.Str()
		case "payment_id":
			r.PaymentID, err = d.Str()
		case "amount":
			r.Amount, err = d.Int64()
		case "currency":
			r.Currency, err = d.Str()
		case "status":
			r.Status, err = d.Str()
		case "created_at":
			r.CreatedAt, err = unixTime(d)
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if r.ID == "" {
		return nil, errors.New("missing refund id")
	}
	return &r, nil
}

// optStr reads a string that the gateway may send as null.
func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func unixTime(d *jx.Decoder) (time.Time, error) {
	if d.Next() == jx.Null {
		return time.Time{}, d.Null()
	}
	v, err := d.Int64()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(v, 0).UTC(), nil
}
