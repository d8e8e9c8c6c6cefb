package razorpay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:   srv.URL,
		KeyID:     "rzp_test_key",
		KeySecret: "secret",
		Timeout:   time.Second,
	}, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(Config{KeyID: "id"})
	require.Error(t, err)
}

func TestCreateOrder(t *testing.T) {
	var (
		gotAmount   int64
		gotCurrency string
		gotReceipt  string
		gotNotes    = map[string]string{}
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_test_key", user)
		assert.Equal(t, "secret", pass)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		err = jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "amount":
				gotAmount, err = d.Int64()
			case "currency":
				gotCurrency, err = d.Str()
			case "receipt":
				gotReceipt, err = d.Str()
			case "notes":
				err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					v, err := d.Str()
					gotNotes[string(key)] = v
					return err
				})
			default:
				err = d.Skip()
			}
			return err
		})
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"order_EKwxwAgItmmXdp","entity":"order","amount":51250,
			"amount_paid":0,"amount_due":51250,"currency":"INR","receipt":"ORD1","offer_id":null,
			"status":"created","attempts":0,"notes":[],"created_at":1582628071}`)
	})

	o, err := c.CreateOrder(context.Background(), CreateOrderRequest{
		Amount:   51250,
		Currency: "INR",
		Receipt:  "ORD1",
		Notes:    map[string]string{"order_id": "o-1", "buyer_id": "u-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(51250), gotAmount)
	assert.Equal(t, "INR", gotCurrency)
	assert.Equal(t, "ORD1", gotReceipt)
	assert.Equal(t, map[string]string{"order_id": "o-1", "buyer_id": "u-1"}, gotNotes)

	assert.Equal(t, "order_EKwxwAgItmmXdp", o.ID)
	assert.Equal(t, int64(51250), o.Amount)
	assert.Equal(t, "created", o.Status)
	assert.Equal(t, int64(1582628071), o.CreatedAt.Unix())
}

func TestCreateOrder_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":"BAD_REQUEST_ERROR","description":"The amount must be atleast INR 1.00","source":"business","field":"amount"}}`)
	})

	_, err := c.CreateOrder(context.Background(), CreateOrderRequest{Amount: 10, Currency: "INR"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "BAD_REQUEST_ERROR", apiErr.Code)
	assert.Equal(t, "The amount must be atleast INR 1.00", apiErr.Description)
}

func TestCreateOrder_Timeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	c.timeout = 50 * time.Millisecond

	_, err := c.CreateOrder(context.Background(), CreateOrderRequest{Amount: 100, Currency: "INR"})
	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr), "timeout is a transport error, got %v", err)
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})

	for range 5 {
		_, err := c.CreateOrder(context.Background(), CreateOrderRequest{Amount: 100, Currency: "INR"})
		require.Error(t, err)
	}
	assert.Equal(t, "open", c.BreakerState())

	_, err := c.CreateOrder(context.Background(), CreateOrderRequest{Amount: 100, Currency: "INR"})
	require.Error(t, err)
	assert.Equal(t, 5, calls, "open breaker must not reach the gateway")
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	for range 10 {
		_, _ = c.CreateOrder(context.Background(), CreateOrderRequest{Amount: 1, Currency: "INR"})
	}
	assert.Equal(t, "closed", c.BreakerState())
}

func TestRefund(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/pay_1/refund", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"amount":1000}`, string(body))
		_, _ = io.WriteString(w, `{"id":"rfnd_FP8QHiV938haTz","entity":"refund","amount":1000,
			"currency":"INR","payment_id":"pay_1","status":"pending","created_at":1597078866}`)
	})

	r, err := c.Refund(context.Background(), "pay_1", 1000)
	require.NoError(t, err)
	assert.Equal(t, "rfnd_FP8QHiV938haTz", r.ID)
	assert.Equal(t, "pay_1", r.PaymentID)
	assert.Equal(t, int64(1000), r.Amount)
	assert.Equal(t, "pending", r.Status)
}

func TestRefund_FullAmountOmitsField(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{}`, string(body))
		_, _ = io.WriteString(w, `{"id":"rfnd_1","payment_id":"pay_1","amount":5000,"currency":"INR","status":"processed"}`)
	})

	r, err := c.Refund(context.Background(), "pay_1", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), r.Amount)
}
