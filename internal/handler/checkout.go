package handler

import (
	"net/http"

	"github.com/xenking/agrimarket/internal/domain/checkout"
	"github.com/xenking/agrimarket/internal/domain/order"
)

type initializeRequest struct {
	ShippingDetails order.ShippingDetails `json:"shippingDetails"`
	Contact         order.Contact         `json:"contact"`
	Notes           string                `json:"notes"`
}

type initializeResponse struct {
	OrderID         string                `json:"orderId"`
	OrderNumber     string                `json:"orderNumber"`
	RazorpayOrderID string                `json:"razorpayOrderId"`
	RazorpayKeyID   string                `json:"razorpayKeyId"`
	Amount          int64                 `json:"amount"`
	Currency        string                `json:"currency"`
	Name            string                `json:"name"`
	Items           []orderItemResponse   `json:"items"`
	ShippingDetails order.ShippingDetails `json:"shippingDetails"`
	Contact         order.Contact         `json:"contact"`
	totalsResponse
}

type verifyRequest struct {
	RazorpayOrderID   string `json:"razorpayOrderId"`
	RazorpayPaymentID string `json:"razorpayPaymentId"`
	RazorpaySignature string `json:"razorpaySignature"`
	OrderID           string `json:"orderId"`
}

type verifyResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	OrderID       string `json:"orderId"`
	OrderNumber   string `json:"orderNumber"`
	OrderStatus   string `json:"orderStatus"`
	PaymentStatus string `json:"paymentStatus"`
	RedirectURL   string `json:"redirectUrl,omitempty"`
}

type configResponse struct {
	KeyID    string `json:"keyId"`
	Currency string `json:"currency"`
	Name     string `json:"name"`
}

// InitializeCheckout turns the cart into a PENDING order and a gateway
// order intent. The email, name and phone query parameters override the
// contact fields of the body.
func (h *Handler) InitializeCheckout(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	if v := q.Get("email"); v != "" {
		req.Contact.Email = v
	}
	if v := q.Get("name"); v != "" {
		req.Contact.Name = v
	}
	if v := q.Get("phone"); v != "" {
		req.Contact.Phone = v
	}

	res, err := h.checkout.Initialize(r.Context(), principal(r), checkout.InitializeRequest{
		Shipping: req.ShippingDetails,
		Contact:  req.Contact,
		Notes:    req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	o := res.Order
	writeJSON(w, http.StatusCreated, initializeResponse{
		OrderID:         o.ID,
		OrderNumber:     o.Number,
		RazorpayOrderID: res.Payment.GatewayOrderID,
		RazorpayKeyID:   res.KeyID,
		Amount:          res.AmountMinor,
		Currency:        o.Currency,
		Name:            res.DisplayName,
		Items:           toOrderItems(o.Items),
		ShippingDetails: o.ShippingDetails,
		Contact:         o.Contact,
		totalsResponse:  orderTotals(o),
	})
}

// VerifyPayment completes checkout with the signature returned by the
// gateway widget. A bad signature is a 200 with success=false.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.checkout.Complete(r.Context(), principal(r), checkout.VerifyRequest{
		GatewayOrderID:   req.RazorpayOrderID,
		GatewayPaymentID: req.RazorpayPaymentID,
		Signature:        req.RazorpaySignature,
		OrderID:          req.OrderID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		Success:       res.Success,
		Message:       res.Message,
		OrderID:       res.Order.ID,
		OrderNumber:   res.Order.Number,
		OrderStatus:   res.Order.Status.String(),
		PaymentStatus: res.Payment.Status.String(),
		RedirectURL:   res.RedirectURL,
	})
}

// Webhook applies a gateway event. Anything other than 200 makes the
// gateway redeliver.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	err = h.checkout.HandleWebhook(r.Context(), checkout.WebhookDelivery{
		EventID:   r.Header.Get("X-Razorpay-Event-Id"),
		Signature: r.Header.Get("X-Razorpay-Signature"),
		Body:      body,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GatewayConfig returns the public settings the checkout widget needs.
func (h *Handler) GatewayConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := h.checkout.Config()
	writeJSON(w, http.StatusOK, configResponse{
		KeyID:    cfg.KeyID,
		Currency: cfg.Currency,
		Name:     cfg.DisplayName,
	})
}
