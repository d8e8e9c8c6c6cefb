// Package handler exposes the cart, checkout and order services over HTTP.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/agrimarket/internal/domain/cart"
	"github.com/xenking/agrimarket/internal/domain/checkout"
	"github.com/xenking/agrimarket/internal/domain/order"
)

// Handler serves the marketplace API.
type Handler struct {
	carts    *cart.Service
	checkout *checkout.Service
	orders   *order.Service
	auth     *Authenticator
}

// New constructs a Handler.
func New(
	carts *cart.Service,
	checkoutService *checkout.Service,
	orders *order.Service,
	authenticator *Authenticator,
) *Handler {
	return &Handler{
		carts:    carts,
		checkout: checkoutService,
		orders:   orders,
		auth:     authenticator,
	}
}

// Routes returns the API router, meant to be mounted under /api.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Code: http.StatusNotFound, Message: "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Code: http.StatusMethodNotAllowed, Message: "method not allowed"})
	})

	// Called by the gateway and the storefront before login.
	r.Post("/checkout/webhook", h.Webhook)
	r.Get("/checkout/razorpay-config", h.GatewayConfig)

	r.Group(func(r chi.Router) {
		r.Use(h.auth.Middleware)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Post("/", h.AddCartItem)
			r.Put("/", h.UpdateCartItem)
			r.Delete("/", h.ClearCart)
			r.Get("/count", h.CartCount)
			r.Post("/items", h.AddCartItem)
			r.Put("/items/{listingId}", h.UpdateCartItem)
			r.Delete("/items/{listingId}", h.RemoveCartItem)
		})

		r.Post("/checkout/initialize", h.InitializeCheckout)
		r.Post("/checkout/verify-payment", h.VerifyPayment)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/my/purchases", h.ListPurchases)
			r.Get("/my/sales", h.ListSales)
			r.Get("/number/{number}", h.GetOrderByNumber)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetOrder)
				r.Get("/payments", h.OrderPayments)
				r.Post("/cancel", h.CancelOrder)
				r.Post("/confirm", h.transition((*order.Service).Confirm))
				r.Post("/process", h.transition((*order.Service).Process))
				r.Post("/ship", h.transition((*order.Service).Ship))
				r.Post("/deliver", h.transition((*order.Service).Deliver))
				r.Post("/complete", h.transition((*order.Service).Complete))
			})
		})

		r.Post("/payments/{id}/refund", h.RefundPayment)
	})
	return r
}
