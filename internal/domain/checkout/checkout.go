// Package checkout converts carts into paid orders: it opens gateway order
// intents, verifies client payment confirmations, reconciles webhook events
// and issues refunds. Every payment state change happens under the payment
// row lock so the client and webhook paths apply a transition at most once.
package checkout

import (
	"context"
	"time"

	"github.com/xenking/agrimarket/internal/domain/apperr"
	"github.com/xenking/agrimarket/internal/domain/order"
	"github.com/xenking/agrimarket/internal/domain/payment"
	"github.com/xenking/agrimarket/internal/gateway/razorpay"
)

const (
	reasonInvalidSignature = "invalid signature"
	msgOrderClosed         = "Order was cancelled before payment completed; the payment will be refunded"
)

var (
	// ErrEmptyCart is returned when checking out an empty cart.
	ErrEmptyCart = apperr.New(apperr.BadRequest, "cart is empty")
	// ErrMultipleSellers is returned when the cart spans several sellers.
	ErrMultipleSellers = apperr.New(apperr.BadRequest, "cart contains items from more than one seller; check out each seller separately")
	// ErrShippingRequired is returned when the shipping address is incomplete.
	ErrShippingRequired = apperr.New(apperr.BadRequest, "shipping name, address, city and postal code are required")
	// ErrContactRequired is returned when neither email nor phone is given.
	ErrContactRequired = apperr.New(apperr.BadRequest, "contact email or phone is required")
	// ErrMalformedVerification is returned when verification fields are missing.
	ErrMalformedVerification = apperr.New(apperr.BadRequest, "gateway order id, payment id and signature are required")
	// ErrUnknownPayment is returned when no payment matches the gateway order id.
	ErrUnknownPayment = apperr.New(apperr.BadRequest, "no payment found for gateway order")
	// ErrNotBuyer is returned when the caller is not the buyer of the paid order.
	ErrNotBuyer = apperr.New(apperr.BadRequest, "payment does not belong to the current user")
	// ErrOrderMismatch is returned when the order id does not match the payment.
	ErrOrderMismatch = apperr.New(apperr.BadRequest, "order id does not match payment")
	// ErrInvalidWebhookSignature is returned for webhooks failing verification.
	ErrInvalidWebhookSignature = apperr.New(apperr.BadRequest, "invalid webhook signature")
)

// Transactor runs fn inside a database transaction carried by the context.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Gateway is the subset of the payment gateway client checkout needs.
type Gateway interface {
	CreateOrder(ctx context.Context, req razorpay.CreateOrderRequest) (*razorpay.Order, error)
	Refund(ctx context.Context, paymentID string, amount int64) (*razorpay.Refund, error)
	KeyID() string
}

// Verifier checks payment and webhook signatures.
type Verifier interface {
	VerifyPayment(orderID, paymentID, signature string) bool
	VerifyWebhook(body []byte, signature string) bool
}

// Config holds checkout settings.
type Config struct {
	Currency    string
	DisplayName string
	// GatewayTimeout bounds the intent creation and refund calls.
	GatewayTimeout time.Duration
	// RedirectURL is a format string receiving the order id.
	RedirectURL string
}

// PublicConfig is what the browser needs to open the checkout widget.
type PublicConfig struct {
	KeyID       string
	Currency    string
	DisplayName string
}

// InitializeRequest holds phase one input.
type InitializeRequest struct {
	Shipping order.ShippingDetails
	Contact  order.Contact
	Notes    string
}

// InitializeResult holds what the client needs to complete payment.
type InitializeResult struct {
	Order       *order.Order
	Payment     *payment.Payment
	KeyID       string
	AmountMinor int64
	DisplayName string
}

// VerifyRequest holds the fields the checkout widget returns on success.
type VerifyRequest struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	OrderID          string
}

// VerifyResult reports the outcome of phase two. An invalid signature is
// Success=false, not an error.
type VerifyResult struct {
	Success     bool
	Message     string
	Order       *order.Order
	Payment     *payment.Payment
	RedirectURL string
}
