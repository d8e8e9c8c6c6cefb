package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/agrimarket/internal/domain/order"
)

const (
	orderColumns = `id, number, buyer_id, seller_id, currency, status, subtotal, shipping, tax, total,
		shipping_details, contact, notes, created_at, updated_at`

	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	insertOrderItemSQL = `INSERT INTO order_items (id, order_id, position, listing_id, product_name,
		image_url, unit, quantity, unit_price, subtotal)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	insertHistorySQL = `INSERT INTO order_status_history (id, order_id, status, note, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	getOrderSQL          = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderForUpdateSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
	getOrderByNumberSQL  = `SELECT ` + orderColumns + ` FROM orders WHERE number = $1`

	listOrdersByBuyerSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE buyer_id = $1 ORDER BY created_at DESC`

	listOrdersBySellerSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE seller_id = $1 ORDER BY created_at DESC`

	listStalePendingSQL = `SELECT id FROM orders
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at LIMIT $2`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`

	listOrderItemsSQL = `SELECT order_id, id, listing_id, product_name, image_url, unit, quantity,
		unit_price, subtotal
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`

	listHistorySQL = `SELECT order_id, id, status, note, actor, created_at
		FROM order_status_history WHERE order_id = ANY($1) ORDER BY order_id, seq`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Items
// and history live in child tables loaded alongside the order row.
type OrderRepository struct {
	db *DB
}

// NewOrderRepository returns an OrderRepository.
func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists a new order with its items and initial history. A taken
// order number yields order.ErrDuplicateNumber and leaves the surrounding
// transaction usable.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	id := o.ID
	if id == "" {
		id = uuid.NewString()
	}
	itemIDs := make([]string, len(o.Items))
	historyIDs := make([]string, len(o.History))

	err := r.db.atomic(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insertOrderSQL,
			id, o.Number, o.BuyerID, o.SellerID, o.Currency, o.Status,
			o.Subtotal, o.Shipping, o.Tax, o.Total,
			o.ShippingDetails, o.Contact, o.Notes, o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			return err
		}

		b := &pgx.Batch{}
		for i, it := range o.Items {
			itemIDs[i] = uuid.NewString()
			b.Queue(insertOrderItemSQL,
				itemIDs[i], id, i, it.ListingID, it.ProductName, it.ImageURL, it.Unit,
				it.Quantity, it.UnitPrice, it.Subtotal,
			)
		}
		for i, h := range o.History {
			historyIDs[i] = uuid.NewString()
			b.Queue(insertHistorySQL, historyIDs[i], id, h.Status, h.Note, h.Actor, h.CreatedAt)
		}
		return tx.SendBatch(ctx, b).Close()
	})
	if err != nil {
		if isUniqueViolation(err) {
			return order.ErrDuplicateNumber
		}
		return fmt.Errorf("creating order %q: %w", o.Number, err)
	}

	o.ID = id
	for i := range o.Items {
		o.Items[i].ID = itemIDs[i]
	}
	for i := range o.History {
		o.History[i].ID = historyIDs[i]
	}
	return nil
}

// Get returns an order with its items and history.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, getOrderSQL, id)
}

// GetForUpdate returns an order and locks its row.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, getOrderForUpdateSQL, id)
}

// GetByNumber returns an order by its human-readable number.
func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByNumberSQL, number)
}

// ListByBuyer returns the buyer's orders, newest first.
func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID string) ([]order.Order, error) {
	return r.list(ctx, listOrdersByBuyerSQL, buyerID)
}

// ListBySeller returns the seller's orders, newest first.
func (r *OrderRepository) ListBySeller(ctx context.Context, sellerID string) ([]order.Order, error) {
	return r.list(ctx, listOrdersBySellerSQL, sellerID)
}

// ListStalePending returns ids of PENDING orders created before the cutoff,
// oldest first.
func (r *OrderRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]string, error) {
	rows, err := r.db.q(ctx).Query(ctx, listStalePendingSQL, before, limit)
	if err != nil {
		return nil, fmt.Errorf("listing stale orders: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Save updates the order status and appends history entries that have not
// been persisted yet. Earlier history rows are never touched.
func (r *OrderRepository) Save(ctx context.Context, o *order.Order) error {
	b := &pgx.Batch{}
	b.Queue(updateOrderStatusSQL, o.ID, o.Status, o.UpdatedAt)

	var fresh []int
	for i, h := range o.History {
		if h.ID != "" {
			continue
		}
		o.History[i].ID = uuid.NewString()
		fresh = append(fresh, i)
		b.Queue(insertHistorySQL, o.History[i].ID, o.ID, h.Status, h.Note, h.Actor, h.CreatedAt)
	}

	if err := r.db.q(ctx).SendBatch(ctx, b).Close(); err != nil {
		for _, i := range fresh {
			o.History[i].ID = ""
		}
		return fmt.Errorf("saving order %q: %w", o.ID, err)
	}
	return nil
}

func (r *OrderRepository) getOne(ctx context.Context, sql, arg string) (*order.Order, error) {
	q := r.db.q(ctx)
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	orders := []order.Order{o}
	if err := r.loadChildren(ctx, q, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

func (r *OrderRepository) list(ctx context.Context, sql, arg string) ([]order.Order, error) {
	q := r.db.q(ctx)
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	if err := r.loadChildren(ctx, q, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// loadChildren fills Items and History for orders with one query per table.
func (r *OrderRepository) loadChildren(ctx context.Context, q querier, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	byID := make(map[string]*order.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		byID[orders[i].ID] = &orders[i]
	}

	rows, err := q.Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	var orderID string
	var it order.Item
	_, err = pgx.ForEachRow(rows, []any{
		&orderID, &it.ID, &it.ListingID, &it.ProductName, &it.ImageURL, &it.Unit,
		&it.Quantity, &it.UnitPrice, &it.Subtotal,
	}, func() error {
		o := byID[orderID]
		o.Items = append(o.Items, it)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning order items: %w", err)
	}

	rows, err = q.Query(ctx, listHistorySQL, ids)
	if err != nil {
		return fmt.Errorf("listing order history: %w", err)
	}
	var h order.HistoryEntry
	_, err = pgx.ForEachRow(rows, []any{
		&orderID, &h.ID, &h.Status, &h.Note, &h.Actor, &h.CreatedAt,
	}, func() error {
		o := byID[orderID]
		o.History = append(o.History, h)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning order history: %w", err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var o order.Order
	err := row.Scan(
		&o.ID, &o.Number, &o.BuyerID, &o.SellerID, &o.Currency, &o.Status,
		&o.Subtotal, &o.Shipping, &o.Tax, &o.Total,
		&o.ShippingDetails, &o.Contact, &o.Notes, &o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}
