package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/agrimarket/internal/domain/order"
)

type createOrderRequest struct {
	ListingID       string                `json:"listingId"`
	Quantity        int                   `json:"quantity"`
	ShippingDetails order.ShippingDetails `json:"shippingDetails"`
	Contact         order.Contact         `json:"contact"`
	Notes           string                `json:"notes"`
}

type noteRequest struct {
	Note   string `json:"note"`
	Reason string `json:"reason"`
}

type refundRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

// CreateOrder places a buy-now order for a single listing.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.Create(r.Context(), principal(r), order.CreateRequest{
		ListingID: req.ListingID,
		Quantity:  req.Quantity,
		Shipping:  req.ShippingDetails,
		Contact:   req.Contact,
		Notes:     req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrder(o))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

func (h *Handler) GetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetByNumber(r.Context(), principal(r), chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListPurchases(r.Context(), principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrders(orders))
}

func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListSales(r.Context(), principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrders(orders))
}

// OrderPayments lists every payment attempt for the order.
func (h *Handler) OrderPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.orders.Payments(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayments(payments))
}

// CancelOrder accepts an optional {"reason"}.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = req.Note
	}
	o, err := h.orders.Cancel(r.Context(), principal(r), chi.URLParam(r, "id"), reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

type transitionFunc func(s *order.Service, ctx context.Context, actor, id, note string) (*order.Order, error)

// transition serves the status endpoints that take an optional {"note"}.
func (h *Handler) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req noteRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		o, err := fn(h.orders, r.Context(), principal(r), chi.URLParam(r, "id"), req.Note)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toOrder(o))
	}
}

// RefundPayment starts a refund. Without an amount the payment is refunded
// in full.
func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.checkout.InitiateRefund(r.Context(), principal(r), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toPayment(p))
}
