package razorpay

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSandboxClient(t *testing.T, secret string) (*Client, *Sandbox) {
	t.Helper()
	sb := NewSandbox("rzp_test_key", "secret")
	srv := httptest.NewServer(sb.Handler())
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:   srv.URL,
		KeyID:     "rzp_test_key",
		KeySecret: secret,
		Timeout:   time.Second,
	}, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c, sb
}

func TestSandbox_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c, sb := newSandboxClient(t, "secret")

	o, err := c.CreateOrder(ctx, CreateOrderRequest{
		Amount: 51250, Currency: "INR", Receipt: "ORD20240309083507ABCDEF",
		Notes: map[string]string{"order_id": "o-1"},
	})
	require.NoError(t, err)
	assert.Regexp(t, `^order_[A-Za-z0-9]{14}$`, o.ID)
	assert.EqualValues(t, 51250, o.Amount)
	assert.Equal(t, "created", o.Status)
	assert.False(t, o.CreatedAt.IsZero())

	stored, ok := sb.Order(o.ID)
	require.True(t, ok)
	assert.Equal(t, "ORD20240309083507ABCDEF", stored.Receipt)

	r, err := c.Refund(ctx, "pay_1", 10050)
	require.NoError(t, err)
	assert.Equal(t, "pay_1", r.PaymentID)
	assert.EqualValues(t, 10050, r.Amount)

	_, err = c.Refund(ctx, "pay_1", 0)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 400, apiErr.StatusCode)
	assert.Equal(t, "BAD_REQUEST_ERROR", apiErr.Code)
}

func TestSandbox_Validation(t *testing.T) {
	c, _ := newSandboxClient(t, "secret")

	_, err := c.CreateOrder(context.Background(), CreateOrderRequest{Amount: 50, Currency: "INR"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Contains(t, apiErr.Description, "minimum amount")
}

func TestSandbox_Unauthorized(t *testing.T) {
	c, _ := newSandboxClient(t, "wrong")

	_, err := c.CreateOrder(context.Background(), CreateOrderRequest{Amount: 1000, Currency: "INR"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 401, apiErr.StatusCode)
}
