// Package memory provides in-process implementations of the repositories.
// Transactions are serialized by a single lock and rolled back by restoring
// a snapshot, which gives the same isolation the row locks give in
// PostgreSQL. Intended for tests and local runs without a database.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/agrimarket/internal/domain/cart"
	"github.com/xenking/agrimarket/internal/domain/listing"
	"github.com/xenking/agrimarket/internal/domain/order"
	"github.com/xenking/agrimarket/internal/domain/payment"
)

type txKey struct{}

type state struct {
	carts    map[string]*cart.Cart // by user id
	orders   map[string]*order.Order
	payments map[string]*payment.Payment
	events   map[string]string
}

func (s *state) clone() *state {
	c := &state{
		carts:    make(map[string]*cart.Cart, len(s.carts)),
		orders:   make(map[string]*order.Order, len(s.orders)),
		payments: make(map[string]*payment.Payment, len(s.payments)),
		events:   make(map[string]string, len(s.events)),
	}
	for k, v := range s.carts {
		c.carts[k] = cloneCart(v)
	}
	for k, v := range s.orders {
		c.orders[k] = cloneOrder(v)
	}
	for k, v := range s.payments {
		p := *v
		c.payments[k] = &p
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	return c
}

// Store holds all in-memory state.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state

	listings map[string]listing.Listing
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		st: &state{
			carts:    map[string]*cart.Cart{},
			orders:   map[string]*order.Order{},
			payments: map[string]*payment.Payment{},
			events:   map[string]string{},
		},
		listings: map[string]listing.Listing{},
	}
}

// WithinTx runs fn with exclusive access to the store. Nested calls reuse
// the outer transaction. If fn returns an error every change is discarded.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.st.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// PutListing seeds the read-only listing catalog.
func (s *Store) PutListing(l listing.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[l.ID] = l
}

// Listings returns a listing.Repository view of the store.
func (s *Store) Listings() *ListingRepository { return &ListingRepository{s: s} }

// Carts returns a cart.Repository view of the store.
func (s *Store) Carts() *CartRepository { return &CartRepository{s: s} }

// Orders returns an order.Repository view of the store.
func (s *Store) Orders() *OrderRepository { return &OrderRepository{s: s} }

// Payments returns a payment.Repository view of the store.
func (s *Store) Payments() *PaymentRepository { return &PaymentRepository{s: s} }

// Events returns a payment.EventLog view of the store.
func (s *Store) Events() *EventLog { return &EventLog{s: s} }

var (
	_ listing.Repository = (*ListingRepository)(nil)
	_ cart.Repository    = (*CartRepository)(nil)
	_ order.Repository   = (*OrderRepository)(nil)
	_ payment.Repository = (*PaymentRepository)(nil)
	_ payment.EventLog   = (*EventLog)(nil)
)

// ListingRepository implements listing.Repository.
type ListingRepository struct{ s *Store }

func (r *ListingRepository) GetByID(_ context.Context, id string) (*listing.Listing, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	l, ok := r.s.listings[id]
	if !ok {
		return nil, listing.ErrNotFound
	}
	return &l, nil
}

// CartRepository implements cart.Repository.
type CartRepository struct{ s *Store }

func (r *CartRepository) GetOrCreate(_ context.Context, userID string) (*cart.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.st.carts[userID]
	if !ok {
		now := time.Now()
		c = &cart.Cart{ID: uuid.NewString(), UserID: userID, CreatedAt: now, UpdatedAt: now}
		r.s.st.carts[userID] = c
	}
	return cloneCart(c), nil
}

func (r *CartRepository) Get(_ context.Context, userID string) (*cart.Cart, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.st.carts[userID]
	if !ok {
		return nil, cart.ErrNotFound
	}
	return cloneCart(c), nil
}

func (r *CartRepository) Save(_ context.Context, c *cart.Cart) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.st.carts[c.UserID] = cloneCart(c)
	return nil
}

func (r *CartRepository) Count(_ context.Context, userID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.st.carts[userID]
	if !ok {
		return 0, nil
	}
	return c.Count(), nil
}

// OrderRepository implements order.Repository.
type OrderRepository struct{ s *Store }

func (r *OrderRepository) Create(_ context.Context, o *order.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.st.orders {
		if existing.Number == o.Number {
			return order.ErrDuplicateNumber
		}
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	for i := range o.Items {
		if o.Items[i].ID == "" {
			o.Items[i].ID = uuid.NewString()
		}
	}
	assignHistoryIDs(o)
	r.s.st.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r *OrderRepository) Get(_ context.Context, id string) (*order.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	o, ok := r.s.st.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (r *OrderRepository) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.Get(ctx, id)
}

func (r *OrderRepository) GetByNumber(_ context.Context, number string) (*order.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, o := range r.s.st.orders {
		if o.Number == number {
			return cloneOrder(o), nil
		}
	}
	return nil, order.ErrNotFound
}

func (r *OrderRepository) ListByBuyer(_ context.Context, buyerID string) ([]order.Order, error) {
	return r.list(func(o *order.Order) bool { return o.BuyerID == buyerID }), nil
}

func (r *OrderRepository) ListBySeller(_ context.Context, sellerID string) ([]order.Order, error) {
	return r.list(func(o *order.Order) bool { return o.SellerID == sellerID }), nil
}

func (r *OrderRepository) ListStalePending(_ context.Context, before time.Time, limit int) ([]string, error) {
	orders := r.list(func(o *order.Order) bool {
		return o.Status == order.StatusPending && o.CreatedAt.Before(before)
	})
	var ids []string
	for i := len(orders) - 1; i >= 0 && len(ids) < limit; i-- {
		ids = append(ids, orders[i].ID)
	}
	return ids, nil
}

func (r *OrderRepository) Save(_ context.Context, o *order.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.orders[o.ID]; !ok {
		return order.ErrNotFound
	}
	assignHistoryIDs(o)
	r.s.st.orders[o.ID] = cloneOrder(o)
	return nil
}

// list returns matching orders newest first.
func (r *OrderRepository) list(match func(o *order.Order) bool) []order.Order {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []order.Order
	for _, o := range r.s.st.orders {
		if match(o) {
			out = append(out, *cloneOrder(o))
		}
	}
	slices.SortFunc(out, func(a, b order.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

// PaymentRepository implements payment.Repository.
type PaymentRepository struct{ s *Store }

func (r *PaymentRepository) Create(_ context.Context, p *payment.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	cp := *p
	r.s.st.payments[p.ID] = &cp
	return nil
}

func (r *PaymentRepository) Get(_ context.Context, id string) (*payment.Payment, error) {
	return r.find(func(p *payment.Payment) bool { return p.ID == id })
}

func (r *PaymentRepository) GetForUpdate(ctx context.Context, id string) (*payment.Payment, error) {
	return r.Get(ctx, id)
}

func (r *PaymentRepository) GetByGatewayOrderIDForUpdate(_ context.Context, gatewayOrderID string) (*payment.Payment, error) {
	if gatewayOrderID == "" {
		return nil, payment.ErrNotFound
	}
	return r.find(func(p *payment.Payment) bool { return p.GatewayOrderID == gatewayOrderID })
}

func (r *PaymentRepository) GetByGatewayPaymentIDForUpdate(_ context.Context, gatewayPaymentID string) (*payment.Payment, error) {
	if gatewayPaymentID == "" {
		return nil, payment.ErrNotFound
	}
	return r.find(func(p *payment.Payment) bool { return p.GatewayPaymentID == gatewayPaymentID })
}

func (r *PaymentRepository) ListByOrder(_ context.Context, orderID string) ([]payment.Payment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []payment.Payment
	for _, p := range r.s.st.payments {
		if p.OrderID == orderID {
			out = append(out, *p)
		}
	}
	slices.SortFunc(out, func(a, b payment.Payment) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (r *PaymentRepository) Update(_ context.Context, p *payment.Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.payments[p.ID]; !ok {
		return payment.ErrNotFound
	}
	cp := *p
	r.s.st.payments[p.ID] = &cp
	return nil
}

func (r *PaymentRepository) find(match func(p *payment.Payment) bool) (*payment.Payment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, p := range r.s.st.payments {
		if match(p) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, payment.ErrNotFound
}

// EventLog implements payment.EventLog.
type EventLog struct{ s *Store }

func (l *EventLog) MarkProcessed(_ context.Context, eventID, eventType string) (bool, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if _, ok := l.s.st.events[eventID]; ok {
		return false, nil
	}
	l.s.st.events[eventID] = eventType
	return true, nil
}

func assignHistoryIDs(o *order.Order) {
	for i := range o.History {
		if o.History[i].ID == "" {
			o.History[i].ID = uuid.NewString()
		}
	}
}

func cloneCart(c *cart.Cart) *cart.Cart {
	cp := *c
	cp.Items = slices.Clone(c.Items)
	return &cp
}

func cloneOrder(o *order.Order) *order.Order {
	cp := *o
	cp.Items = slices.Clone(o.Items)
	cp.History = slices.Clone(o.History)
	return &cp
}
