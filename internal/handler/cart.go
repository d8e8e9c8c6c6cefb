package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type addItemRequest struct {
	ListingID string `json:"listingId"`
	Quantity  *int   `json:"quantity"`
}

type updateItemRequest struct {
	ListingID string `json:"listingId"`
	Quantity  int    `json:"quantity"`
}

// GetCart returns the caller's cart, creating it on first access.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	sum, err := h.carts.Get(r.Context(), principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCart(sum))
}

// AddCartItem adds a listing to the cart. Quantity defaults to 1.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	sum, err := h.carts.AddItem(r.Context(), principal(r), req.ListingID, qty)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCart(sum))
}

// UpdateCartItem sets a line's quantity. PUT /cart carries the listing id in
// the body; the item route takes it from the path.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req updateItemRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if id := chi.URLParam(r, "listingId"); id != "" {
		req.ListingID = id
	}
	sum, err := h.carts.UpdateItem(r.Context(), principal(r), req.ListingID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCart(sum))
}

func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	sum, err := h.carts.RemoveItem(r.Context(), principal(r), chi.URLParam(r, "listingId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCart(sum))
}

func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.Clear(r.Context(), principal(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CartCount serves the header badge.
func (h *Handler) CartCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.carts.Count(r.Context(), principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}
