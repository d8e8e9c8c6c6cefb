package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/agrimarket/internal/domain/cart"
	"github.com/xenking/agrimarket/internal/domain/order"
	"github.com/xenking/agrimarket/internal/domain/payment"
	"github.com/xenking/agrimarket/internal/domain/pricing"
)

// Money is rendered as a JSON number.
func money(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

type totalsResponse struct {
	Subtotal     float64 `json:"subtotal"`
	ShippingCost float64 `json:"shippingCost"`
	Tax          float64 `json:"tax"`
	Total        float64 `json:"total"`
}

func toTotals(t pricing.Totals) totalsResponse {
	return totalsResponse{
		Subtotal:     money(t.Subtotal),
		ShippingCost: money(t.Shipping),
		Tax:          money(t.Tax),
		Total:        money(t.Total),
	}
}

type cartItemResponse struct {
	ListingID         string    `json:"listingId"`
	SellerID          string    `json:"sellerId"`
	Title             string    `json:"title"`
	ImageURL          string    `json:"imageUrl,omitempty"`
	Unit              string    `json:"unit,omitempty"`
	Quantity          int       `json:"quantity"`
	UnitPrice         float64   `json:"unitPrice"`
	Subtotal          float64   `json:"subtotal"`
	AvailableQuantity int       `json:"availableQuantity"`
	AddedAt           time.Time `json:"addedAt"`
}

type cartResponse struct {
	ID        string             `json:"id"`
	UserID    string             `json:"userId"`
	Items     []cartItemResponse `json:"items"`
	ItemCount int                `json:"itemCount"`
	totalsResponse
}

func toCart(s *cart.Summary) cartResponse {
	items := make([]cartItemResponse, len(s.Cart.Items))
	for i, it := range s.Cart.Items {
		items[i] = cartItemResponse{
			ListingID:         it.ListingID,
			SellerID:          it.SellerID,
			Title:             it.Title,
			ImageURL:          it.ImageURL,
			Unit:              it.Unit,
			Quantity:          it.Quantity,
			UnitPrice:         money(it.UnitPrice),
			Subtotal:          money(it.Subtotal()),
			AvailableQuantity: it.AvailableQuantity,
			AddedAt:           it.AddedAt,
		}
	}
	return cartResponse{
		ID:             s.Cart.ID,
		UserID:         s.Cart.UserID,
		Items:          items,
		ItemCount:      s.Cart.Count(),
		totalsResponse: toTotals(s.Totals),
	}
}

type orderItemResponse struct {
	ID          string  `json:"id"`
	ListingID   string  `json:"listingId"`
	ProductName string  `json:"productName"`
	ImageURL    string  `json:"imageUrl,omitempty"`
	Unit        string  `json:"unit,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	Subtotal    float64 `json:"subtotal"`
}

type historyResponse struct {
	Status    string    `json:"status"`
	Note      string    `json:"note"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"createdAt"`
}

type orderResponse struct {
	ID              string                `json:"id"`
	OrderNumber     string                `json:"orderNumber"`
	BuyerID         string                `json:"buyerId"`
	SellerID        string                `json:"sellerId"`
	Status          string                `json:"status"`
	Currency        string                `json:"currency"`
	ShippingDetails order.ShippingDetails `json:"shippingDetails"`
	Contact         order.Contact         `json:"contact"`
	Notes           string                `json:"notes,omitempty"`
	Items           []orderItemResponse   `json:"items"`
	StatusHistory   []historyResponse     `json:"statusHistory"`
	CreatedAt       time.Time             `json:"createdAt"`
	UpdatedAt       time.Time             `json:"updatedAt"`
	totalsResponse
}

func toOrderItems(items []order.Item) []orderItemResponse {
	out := make([]orderItemResponse, len(items))
	for i, it := range items {
		out[i] = orderItemResponse{
			ID:          it.ID,
			ListingID:   it.ListingID,
			ProductName: it.ProductName,
			ImageURL:    it.ImageURL,
			Unit:        it.Unit,
			Quantity:    it.Quantity,
			UnitPrice:   money(it.UnitPrice),
			Subtotal:    money(it.Subtotal),
		}
	}
	return out
}

func orderTotals(o *order.Order) totalsResponse {
	return toTotals(pricing.Totals{Subtotal: o.Subtotal, Shipping: o.Shipping, Tax: o.Tax, Total: o.Total})
}

func toOrder(o *order.Order) orderResponse {
	history := make([]historyResponse, len(o.History))
	for i, h := range o.History {
		history[i] = historyResponse{
			Status:    h.Status.String(),
			Note:      h.Note,
			Actor:     h.Actor,
			CreatedAt: h.CreatedAt,
		}
	}
	return orderResponse{
		ID:              o.ID,
		OrderNumber:     o.Number,
		BuyerID:         o.BuyerID,
		SellerID:        o.SellerID,
		Status:          o.Status.String(),
		Currency:        o.Currency,
		ShippingDetails: o.ShippingDetails,
		Contact:         o.Contact,
		Notes:           o.Notes,
		Items:           toOrderItems(o.Items),
		StatusHistory:   history,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		totalsResponse:  orderTotals(o),
	}
}

func toOrders(orders []order.Order) []orderResponse {
	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = toOrder(&orders[i])
	}
	return out
}

type paymentResponse struct {
	ID                string     `json:"id"`
	OrderID           string     `json:"orderId"`
	RazorpayOrderID   string     `json:"razorpayOrderId"`
	RazorpayPaymentID string     `json:"razorpayPaymentId,omitempty"`
	TransactionID     string     `json:"transactionId,omitempty"`
	Amount            float64    `json:"amount"`
	Currency          string     `json:"currency"`
	Status            string     `json:"status"`
	FailureReason     string     `json:"failureReason,omitempty"`
	RefundID          string     `json:"refundId,omitempty"`
	RefundAmount      *float64   `json:"refundAmount,omitempty"`
	RefundedAt        *time.Time `json:"refundedAt,omitempty"`
	PaidAt            *time.Time `json:"paidAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

func toPayment(p *payment.Payment) paymentResponse {
	resp := paymentResponse{
		ID:                p.ID,
		OrderID:           p.OrderID,
		RazorpayOrderID:   p.GatewayOrderID,
		RazorpayPaymentID: p.GatewayPaymentID,
		TransactionID:     p.TransactionID,
		Amount:            money(p.Amount),
		Currency:          p.Currency,
		Status:            p.Status.String(),
		FailureReason:     p.FailureReason,
		RefundID:          p.RefundID,
		RefundedAt:        p.RefundedAt,
		PaidAt:            p.PaidAt,
		CreatedAt:         p.CreatedAt,
	}
	if !p.RefundAmount.IsZero() {
		v := money(p.RefundAmount)
		resp.RefundAmount = &v
	}
	return resp
}

func toPayments(payments []payment.Payment) []paymentResponse {
	out := make([]paymentResponse, len(payments))
	for i := range payments {
		out[i] = toPayment(&payments[i])
	}
	return out
}
