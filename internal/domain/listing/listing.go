package listing

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/agrimarket/internal/domain/apperr"
)

// ErrNotFound is returned when a requested listing does not exist or is inactive.
var ErrNotFound = apperr.New(apperr.NotFound, "listing not found")

// Listing is a seller's offer of produce. The catalog is owned by another
// service; this module only reads it to take price and availability snapshots.
type Listing struct {
	ID                string
	SellerID          string
	Title             string
	ImageURL          string
	Unit              string
	Price             decimal.Decimal
	Currency          string
	AvailableQuantity int
}

// Repository defines read operations for the listing catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Listing, error)
}
