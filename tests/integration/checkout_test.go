//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

var shipping = map[string]any{
	"shippingDetails": map[string]string{
		"name":         "Asha Patil",
		"addressLine1": "12 Market Road",
		"city":         "Nashik",
		"state":        "Maharashtra",
		"postalCode":   "422001",
		"country":      "IN",
	},
	"contact": map[string]string{
		"name":  "Asha Patil",
		"email": "asha@example.com",
		"phone": "+919800000000",
	},
}

// uniquePaymentID returns a gateway-shaped payment id that does not collide
// across test runs against the same database.
func uniquePaymentID() string {
	return fmt.Sprintf("pay_it%d", time.Now().UnixNano())
}

// startCheckout fills the buyer's cart with two crates of tomatoes and opens
// a payment intent for it.
func startCheckout(t *testing.T) initializeResponse {
	t.Helper()
	resetCart(t, buyerKey)
	addToCart(t, buyerKey, "lst-tomato-nashik", 2)

	return expect[initializeResponse](t,
		doRequest(t, http.MethodPost, "/api/checkout/initialize", buyerKey, shipping), http.StatusCreated)
}

func verifyPayment(t *testing.T, init initializeResponse, paymentID, signature string) verifyResponse {
	t.Helper()
	return expect[verifyResponse](t, doRequest(t, http.MethodPost, "/api/checkout/verify-payment", buyerKey, map[string]string{
		"razorpayOrderId":   init.RazorpayOrderID,
		"razorpayPaymentId": paymentID,
		"razorpaySignature": signature,
		"orderId":           init.OrderID,
	}), http.StatusOK)
}

func TestCheckout_GatewayConfig(t *testing.T) {
	cfg := expect[map[string]string](t, doGet(t, "/api/checkout/razorpay-config"), http.StatusOK)
	if cfg["keyId"] != "rzp_test_integration" {
		t.Errorf("keyId: got %q", cfg["keyId"])
	}
	if cfg["currency"] != "INR" {
		t.Errorf("currency: got %q", cfg["currency"])
	}
}

func TestCheckout_Initialize(t *testing.T) {
	init := startCheckout(t)

	if !strings.HasPrefix(init.RazorpayOrderID, "order_") {
		t.Errorf("razorpayOrderId: got %q", init.RazorpayOrderID)
	}
	if !strings.HasPrefix(init.OrderNumber, "ORD") || len(init.OrderNumber) != 23 {
		t.Errorf("orderNumber: got %q", init.OrderNumber)
	}
	if init.Amount != 35500 || init.Total != 355 {
		t.Errorf("amount: got %d (total %v), want 35500 (355)", init.Amount, init.Total)
	}

	o := expect[orderResponse](t, doRequest(t, http.MethodGet, "/api/orders/"+init.OrderID, buyerKey, nil), http.StatusOK)
	if o.Status != "PENDING" || len(o.StatusHistory) != 1 {
		t.Errorf("order: status %q history %d, want PENDING and 1", o.Status, len(o.StatusHistory))
	}

	// The cart survives until payment is confirmed.
	c := expect[cartResponse](t, doRequest(t, http.MethodGet, "/api/cart", buyerKey, nil), http.StatusOK)
	if len(c.Items) != 1 {
		t.Errorf("cart items after initialize: got %d, want 1", len(c.Items))
	}

	byNumber := expect[orderResponse](t, doRequest(t, http.MethodGet, "/api/orders/number/"+init.OrderNumber, sellerKey, nil), http.StatusOK)
	if byNumber.ID != init.OrderID {
		t.Errorf("order by number: got %q, want %q", byNumber.ID, init.OrderID)
	}
}

func TestCheckout_Errors(t *testing.T) {
	resetCart(t, buyerKey)
	expect[errorResponse](t, doRequest(t, http.MethodPost, "/api/checkout/initialize", buyerKey, shipping), http.StatusBadRequest)

	addToCart(t, buyerKey, "lst-tomato-nashik", 1)
	addToCart(t, buyerKey, "lst-mango-alphonso", 1)
	expect[errorResponse](t, doRequest(t, http.MethodPost, "/api/checkout/initialize", buyerKey, shipping), http.StatusBadRequest)

	resetCart(t, buyerKey)
	addToCart(t, buyerKey, "lst-tomato-nashik", 1)
	expect[errorResponse](t, doRequest(t, http.MethodPost, "/api/checkout/initialize", buyerKey, map[string]any{}), http.StatusBadRequest)

	expect[errorResponse](t, doRequest(t, http.MethodPost, "/api/checkout/verify-payment", buyerKey, map[string]string{
		"razorpayOrderId": "order_unknown", "razorpayPaymentId": "pay_x", "razorpaySignature": "00",
	}), http.StatusBadRequest)
}

func TestCheckout_VerifyPayment(t *testing.T) {
	init := startCheckout(t)
	paymentID := uniquePaymentID()

	forged := verifyPayment(t, init, paymentID, strings.Repeat("0", 64))
	if forged.Success || forged.PaymentStatus != "FAILED" {
		t.Fatalf("forged signature: got %+v", forged)
	}
	// A failed attempt leaves the order open for another try.
	if forged.OrderStatus != "PENDING" {
		t.Errorf("order after forged signature: got %q, want PENDING", forged.OrderStatus)
	}

	// Retrying needs a fresh payment intent since FAILED is terminal.
	init = startCheckout(t)
	paymentID = uniquePaymentID()
	sig := sign(init.RazorpayOrderID+"|"+paymentID, keySecret)
	for range 2 {
		got := verifyPayment(t, init, paymentID, sig)
		if !got.Success || got.OrderStatus != "CONFIRMED" || got.PaymentStatus != "COMPLETED" {
			t.Fatalf("verify: got %+v", got)
		}
		if got.RedirectURL == "" {
			t.Error("redirectUrl is empty")
		}
	}

	o := expect[orderResponse](t, doRequest(t, http.MethodGet, "/api/orders/"+init.OrderID, buyerKey, nil), http.StatusOK)
	if len(o.StatusHistory) != 2 {
		t.Errorf("history after double verify: got %d entries, want 2", len(o.StatusHistory))
	}

	count := expect[map[string]int](t, doRequest(t, http.MethodGet, "/api/cart/count", buyerKey, nil), http.StatusOK)
	if count["count"] != 0 {
		t.Errorf("cart count after payment: got %d, want 0", count["count"])
	}
}

func TestCheckout_Webhook(t *testing.T) {
	init := startCheckout(t)
	paymentID := uniquePaymentID()
	eventID := "evt_" + paymentID

	body := []byte(fmt.Sprintf(
		`{"event":"payment.captured","payload":{"payment":{"entity":{"id":%q,"order_id":%q,"amount":%d,"currency":"INR","status":"captured","method":"upi"}}}}`,
		paymentID, init.RazorpayOrderID, init.Amount,
	))

	expect[errorResponse](t, doRequest(t, http.MethodPost, "/api/checkout/webhook", "", body,
		"X-Razorpay-Signature", "bad", "X-Razorpay-Event-Id", eventID), http.StatusBadRequest)

	for range 2 {
		got := expect[map[string]string](t, doRequest(t, http.MethodPost, "/api/checkout/webhook", "", body,
			"X-Razorpay-Signature", sign(string(body), webhookSecret), "X-Razorpay-Event-Id", eventID), http.StatusOK)
		if got["status"] != "ok" {
			t.Errorf("webhook response: got %v", got)
		}
	}

	o := expect[orderResponse](t, doRequest(t, http.MethodGet, "/api/orders/"+init.OrderID, buyerKey, nil), http.StatusOK)
	if o.Status != "CONFIRMED" || len(o.StatusHistory) != 2 {
		t.Fatalf("order after webhook: status %q history %d", o.Status, len(o.StatusHistory))
	}
	if o.StatusHistory[1].Actor != "system" {
		t.Errorf("webhook actor: got %q, want system", o.StatusHistory[1].Actor)
	}

	payments := expect[[]paymentResponse](t, doRequest(t, http.MethodGet, "/api/orders/"+init.OrderID+"/payments", buyerKey, nil), http.StatusOK)
	if len(payments) != 1 || payments[0].Status != "COMPLETED" || payments[0].RazorpayPaymentID != paymentID {
		t.Errorf("payments: got %+v", payments)
	}

	// Events for payments the service never created are acknowledged.
	unknown := []byte(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_ghost","order_id":"order_ghost","amount":100,"currency":"INR","status":"failed"}}}}`)
	expect[map[string]string](t, doRequest(t, http.MethodPost, "/api/checkout/webhook", "", unknown,
		"X-Razorpay-Signature", sign(string(unknown), webhookSecret)), http.StatusOK)
}
