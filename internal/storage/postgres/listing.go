package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/agrimarket/internal/domain/listing"
)

const getListingSQL = `SELECT id, seller_id, title, image_url, unit, price, currency, available_quantity
	FROM listings WHERE id = $1 AND active`

var _ listing.Repository = (*ListingRepository)(nil)

// ListingRepository reads the listing catalog.
type ListingRepository struct {
	db *DB
}

// NewListingRepository returns a ListingRepository.
func NewListingRepository(db *DB) *ListingRepository {
	return &ListingRepository{db: db}
}

// GetByID returns an active listing.
func (r *ListingRepository) GetByID(ctx context.Context, id string) (*listing.Listing, error) {
	var l listing.Listing
	err := r.db.q(ctx).QueryRow(ctx, getListingSQL, id).Scan(
		&l.ID, &l.SellerID, &l.Title, &l.ImageURL, &l.Unit,
		&l.Price, &l.Currency, &l.AvailableQuantity,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, listing.ErrNotFound
		}
		return nil, fmt.Errorf("getting listing %q: %w", id, err)
	}
	return &l, nil
}

const upsertListingSQL = `INSERT INTO listings (id, seller_id, title, image_url, unit, price, currency, available_quantity, active)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
	ON CONFLICT (id) DO UPDATE SET
		seller_id = EXCLUDED.seller_id,
		title = EXCLUDED.title,
		image_url = EXCLUDED.image_url,
		unit = EXCLUDED.unit,
		price = EXCLUDED.price,
		currency = EXCLUDED.currency,
		available_quantity = EXCLUDED.available_quantity,
		active = TRUE`

// Upsert writes a listing snapshot. The catalog service owns listings in
// production; this is used by seeding and tests.
func (r *ListingRepository) Upsert(ctx context.Context, l listing.Listing) error {
	_, err := r.db.q(ctx).Exec(ctx, upsertListingSQL,
		l.ID, l.SellerID, l.Title, l.ImageURL, l.Unit, l.Price, l.Currency, l.AvailableQuantity,
	)
	if err != nil {
		return fmt.Errorf("upserting listing %q: %w", l.ID, err)
	}
	return nil
}
