package cart

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/agrimarket/internal/domain/apperr"
	"github.com/xenking/agrimarket/internal/domain/pricing"
)

var (
	// ErrItemNotFound is returned when updating or removing a listing that is not in the cart.
	ErrItemNotFound = apperr.New(apperr.NotFound, "cart item not found")
	// ErrNotFound is returned when the user has no cart yet.
	ErrNotFound = apperr.New(apperr.NotFound, "cart not found")
	// ErrInvalidQuantity is returned for quantities below 1.
	ErrInvalidQuantity = apperr.New(apperr.BadRequest, "quantity must be at least 1")
	// ErrInsufficientStock is returned when the merged quantity exceeds availability.
	ErrInsufficientStock = apperr.New(apperr.BadRequest, "requested quantity exceeds available stock")
	// ErrOwnListing is returned when a seller tries to buy their own listing.
	ErrOwnListing = apperr.New(apperr.BadRequest, "cannot add your own listing to the cart")
)

// Item is one listing line in a cart. Price, title and availability are
// snapshots taken when the item was last added.
type Item struct {
	ListingID         string
	SellerID          string
	Title             string
	ImageURL          string
	Unit              string
	Quantity          int
	UnitPrice         decimal.Decimal
	AvailableQuantity int
	AddedAt           time.Time
}

// Subtotal returns UnitPrice × Quantity.
func (i Item) Subtotal() decimal.Decimal {
	return i.Line().Subtotal()
}

// Line converts the item to a pricing line.
func (i Item) Line() pricing.Line {
	return pricing.Line{UnitPrice: i.UnitPrice, Quantity: i.Quantity}
}

// Cart is a user's mutable basket. At most one Item exists per listing.
type Cart struct {
	ID        string
	UserID    string
	Items     []Item
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Add merges item into the cart. An existing line for the same listing has
// its quantity summed and its snapshots refreshed from item.
func (c *Cart) Add(item Item) error {
	if item.Quantity < 1 {
		return ErrInvalidQuantity
	}
	if idx := c.index(item.ListingID); idx >= 0 {
		existing := c.Items[idx]
		item.Quantity += existing.Quantity
		item.AddedAt = existing.AddedAt
		if err := checkStock(item); err != nil {
			return err
		}
		c.Items[idx] = item
		return nil
	}
	if err := checkStock(item); err != nil {
		return err
	}
	c.Items = append(c.Items, item)
	return nil
}

// Update replaces the quantity of an existing line.
func (c *Cart) Update(listingID string, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	idx := c.index(listingID)
	if idx < 0 {
		return ErrItemNotFound
	}
	item := c.Items[idx]
	item.Quantity = quantity
	if err := checkStock(item); err != nil {
		return err
	}
	c.Items[idx] = item
	return nil
}

// Remove deletes the line for listingID.
func (c *Cart) Remove(listingID string) error {
	idx := c.index(listingID)
	if idx < 0 {
		return ErrItemNotFound
	}
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	return nil
}

// Clear removes every line.
func (c *Cart) Clear() {
	c.Items = nil
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Count returns the sum of quantities across lines.
func (c *Cart) Count() int {
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

// Lines returns the pricing lines of the cart.
func (c *Cart) Lines() []pricing.Line {
	lines := make([]pricing.Line, len(c.Items))
	for i, it := range c.Items {
		lines[i] = it.Line()
	}
	return lines
}

func (c *Cart) index(listingID string) int {
	for i, it := range c.Items {
		if it.ListingID == listingID {
			return i
		}
	}
	return -1
}

func checkStock(item Item) error {
	if item.AvailableQuantity >= 0 && item.Quantity > item.AvailableQuantity {
		return ErrInsufficientStock
	}
	return nil
}

// Repository persists carts. GetOrCreate and Save are expected to run inside
// a transaction opened by the caller; GetOrCreate locks the cart row so
// concurrent mutations of the same user's cart serialize.
type Repository interface {
	GetOrCreate(ctx context.Context, userID string) (*Cart, error)
	Get(ctx context.Context, userID string) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
	Count(ctx context.Context, userID string) (int, error)
}

// Counter caches the per-user quantity badge. Invalidate bumps a per-user
// version and Set stores a count only while the version it was read under is
// current, so a count read before a concurrent mutation is never cached.
type Counter interface {
	Get(ctx context.Context, userID string) (int, bool, error)
	Version(ctx context.Context, userID string) (int64, error)
	Set(ctx context.Context, userID string, count int, version int64) error
	Invalidate(ctx context.Context, userID string) error
}

// NopCounter is a Counter that caches nothing.
type NopCounter struct{}

func (NopCounter) Get(context.Context, string) (int, bool, error) { return 0, false, nil }
func (NopCounter) Version(context.Context, string) (int64, error) { return 0, nil }
func (NopCounter) Set(context.Context, string, int, int64) error  { return nil }
func (NopCounter) Invalidate(context.Context, string) error       { return nil }
