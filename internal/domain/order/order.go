package order

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/agrimarket/internal/domain/apperr"
	"github.com/xenking/agrimarket/internal/domain/pricing"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = apperr.New(apperr.NotFound, "order not found")
	// ErrDuplicateNumber is returned by Repository.Create when the order
	// number is already taken.
	ErrDuplicateNumber = apperr.New(apperr.Conflict, "order number already exists")
)

// InvalidTransitionError indicates the order cannot reach the requested status.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order cannot move from %s to %s", e.From, e.To)
}

// ShippingDetails is the delivery address captured at checkout.
type ShippingDetails struct {
	Name         string `json:"name"`
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state"`
	PostalCode   string `json:"postalCode"`
	Country      string `json:"country"`
}

// Contact is how the seller reaches the buyer about this order.
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Item is a line snapshotted from the listing when the order was placed.
type Item struct {
	ID          string
	ListingID   string
	ProductName string
	ImageURL    string
	Unit        string
	Quantity    int
	UnitPrice   decimal.Decimal
	Subtotal    decimal.Decimal
}

// NewItem snapshots a listing line, computing its subtotal.
func NewItem(listingID, name, imageURL, unit string, quantity int, unitPrice decimal.Decimal) Item {
	return Item{
		ListingID:   listingID,
		ProductName: name,
		ImageURL:    imageURL,
		Unit:        unit,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		Subtotal:    pricing.Line{UnitPrice: unitPrice, Quantity: quantity}.Subtotal(),
	}
}

// HistoryEntry is one append-only audit record. Entries with an empty ID
// have not been persisted yet.
type HistoryEntry struct {
	ID        string
	Status    Status
	Note      string
	Actor     string
	CreatedAt time.Time
}

// Order is the aggregate root owning its items and status history.
type Order struct {
	ID       string
	Number   string
	BuyerID  string
	SellerID string
	Currency string
	Status   Status

	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal

	ShippingDetails ShippingDetails
	Contact         Contact
	Notes           string

	Items   []Item
	History []HistoryEntry

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New builds a PENDING order from snapshotted items and totals and records
// the initial history entry.
func New(
	number, buyerID, sellerID, currency string,
	items []Item,
	totals pricing.Totals,
	note string,
	now time.Time,
) *Order {
	o := &Order{
		Number:    number,
		BuyerID:   buyerID,
		SellerID:  sellerID,
		Currency:  currency,
		Status:    StatusPending,
		Subtotal:  totals.Subtotal,
		Shipping:  totals.Shipping,
		Tax:       totals.Tax,
		Total:     totals.Total,
		Items:     items,
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.appendHistory(StatusPending, note, buyerID, now)
	return o
}

// Transition moves the order to status to, appending one history entry.
func (o *Order) Transition(to Status, actor, note string, now time.Time) error {
	if !CanTransition(o.Status, to) {
		return &InvalidTransitionError{From: o.Status, To: to}
	}
	o.Status = to
	o.UpdatedAt = now
	o.appendHistory(to, note, actor, now)
	return nil
}

// ConfirmPayment moves a PENDING order to CONFIRMED. It reports false and
// changes nothing when the order is already past PENDING, so repeated
// confirmations from the client and the gateway collapse into one.
func (o *Order) ConfirmPayment(actor, note string, now time.Time) bool {
	if o.Status != StatusPending {
		return false
	}
	o.Status = StatusConfirmed
	o.UpdatedAt = now
	o.appendHistory(StatusConfirmed, note, actor, now)
	return true
}

// PendingHistory returns entries appended since the order was loaded.
func (o *Order) PendingHistory() []HistoryEntry {
	var out []HistoryEntry
	for _, h := range o.History {
		if h.ID == "" {
			out = append(out, h)
		}
	}
	return out
}

// IsParty reports whether userID is the buyer or the seller.
func (o *Order) IsParty(userID string) bool {
	return userID != "" && (userID == o.BuyerID || userID == o.SellerID)
}

func (o *Order) appendHistory(status Status, note, actor string, now time.Time) {
	o.History = append(o.History, HistoryEntry{
		Status:    status,
		Note:      note,
		Actor:     actor,
		CreatedAt: now,
	})
}

// Repository defines persistence operations for orders. GetForUpdate and
// Save are expected to run inside a caller-owned transaction.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]Order, error)
	ListBySeller(ctx context.Context, sellerID string) ([]Order, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]string, error)
	// Save persists the status and appends PendingHistory entries.
	Save(ctx context.Context, o *Order) error
}
