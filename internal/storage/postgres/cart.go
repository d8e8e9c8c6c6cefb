package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/agrimarket/internal/domain/cart"
)

const (
	ensureCartSQL = `INSERT INTO carts (id, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $3) ON CONFLICT (user_id) DO NOTHING`

	lockCartSQL = `SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1 FOR UPDATE`

	getCartSQL = `SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1`

	listCartItemsSQL = `SELECT listing_id, seller_id, title, image_url, unit, quantity, unit_price,
		available_quantity, added_at
		FROM cart_items WHERE cart_id = $1 ORDER BY added_at, listing_id`

	touchCartSQL = `UPDATE carts SET updated_at = $2 WHERE id = $1`

	deleteCartItemsSQL = `DELETE FROM cart_items WHERE cart_id = $1`

	insertCartItemSQL = `INSERT INTO cart_items (cart_id, listing_id, seller_id, title, image_url, unit,
		quantity, unit_price, available_quantity, added_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	countCartSQL = `SELECT COALESCE(SUM(ci.quantity), 0)
		FROM cart_items ci JOIN carts c ON c.id = ci.cart_id
		WHERE c.user_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	db *DB
}

// NewCartRepository returns a CartRepository.
func NewCartRepository(db *DB) *CartRepository {
	return &CartRepository{db: db}
}

// GetOrCreate returns the user's cart, creating it if needed, and locks the
// cart row until the surrounding transaction ends.
func (r *CartRepository) GetOrCreate(ctx context.Context, userID string) (*cart.Cart, error) {
	q := r.db.q(ctx)
	if _, err := q.Exec(ctx, ensureCartSQL, uuid.NewString(), userID, time.Now()); err != nil {
		return nil, fmt.Errorf("creating cart for %q: %w", userID, err)
	}

	var c cart.Cart
	if err := q.QueryRow(ctx, lockCartSQL, userID).Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("locking cart for %q: %w", userID, err)
	}
	if err := r.loadItems(ctx, q, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Get returns the user's cart without locking it.
func (r *CartRepository) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	q := r.db.q(ctx)
	var c cart.Cart
	err := q.QueryRow(ctx, getCartSQL, userID).Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("getting cart for %q: %w", userID, err)
	}
	if err := r.loadItems(ctx, q, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Save replaces the cart's items with c.Items.
func (r *CartRepository) Save(ctx context.Context, c *cart.Cart) error {
	b := &pgx.Batch{}
	b.Queue(touchCartSQL, c.ID, c.UpdatedAt)
	b.Queue(deleteCartItemsSQL, c.ID)
	for _, it := range c.Items {
		b.Queue(insertCartItemSQL,
			c.ID, it.ListingID, it.SellerID, it.Title, it.ImageURL, it.Unit,
			it.Quantity, it.UnitPrice, it.AvailableQuantity, it.AddedAt,
		)
	}
	if err := r.db.q(ctx).SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("saving cart %q: %w", c.ID, err)
	}
	return nil
}

// Count returns the summed quantity of the user's cart.
func (r *CartRepository) Count(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.db.q(ctx).QueryRow(ctx, countCartSQL, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting cart for %q: %w", userID, err)
	}
	return n, nil
}

func (r *CartRepository) loadItems(ctx context.Context, q querier, c *cart.Cart) error {
	rows, err := q.Query(ctx, listCartItemsSQL, c.ID)
	if err != nil {
		return fmt.Errorf("listing cart items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Item, error) {
		var it cart.Item
		err := row.Scan(
			&it.ListingID, &it.SellerID, &it.Title, &it.ImageURL, &it.Unit,
			&it.Quantity, &it.UnitPrice, &it.AvailableQuantity, &it.AddedAt,
		)
		return it, err
	})
	if err != nil {
		return fmt.Errorf("scanning cart items: %w", err)
	}
	c.Items = items
	return nil
}
