package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/agrimarket/internal/domain/apperr"
	"github.com/xenking/agrimarket/internal/domain/auth"
	"github.com/xenking/agrimarket/internal/domain/listing"
	"github.com/xenking/agrimarket/internal/domain/payment"
	"github.com/xenking/agrimarket/internal/domain/pricing"
)

// numberAttempts bounds retries when a generated order number collides.
const numberAttempts = 3

var (
	// ErrInvalidQuantity is returned for direct orders with quantity below 1.
	ErrInvalidQuantity = apperr.New(apperr.BadRequest, "quantity must be at least 1")
	// ErrInsufficientStock is returned when a direct order exceeds availability.
	ErrInsufficientStock = apperr.New(apperr.BadRequest, "requested quantity exceeds available stock")
	// ErrOwnListing is returned when a seller orders their own listing.
	ErrOwnListing = apperr.New(apperr.BadRequest, "cannot order your own listing")
	// ErrAwaitingPayment is returned when a seller confirms an unpaid order.
	ErrAwaitingPayment = apperr.New(apperr.Conflict, "order has no completed payment")
)

// Transactor runs fn inside a database transaction carried by the context.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PaymentLister loads the payment attempts of an order.
type PaymentLister interface {
	ListByOrder(ctx context.Context, orderID string) ([]payment.Payment, error)
}

// CreateRequest holds the input of a direct single-listing order.
type CreateRequest struct {
	ListingID string
	Quantity  int
	Shipping  ShippingDetails
	Contact   Contact
	Notes     string
}

// Service implements the order status operations.
type Service struct {
	tx       Transactor
	orders   Repository
	payments PaymentLister
	listings listing.Repository
	pricing  pricing.Config
	currency string
	now      func() time.Time
}

// NewService creates an order Service.
func NewService(
	tx Transactor,
	orders Repository,
	payments PaymentLister,
	listings listing.Repository,
	pricingCfg pricing.Config,
	currency string,
) *Service {
	return &Service{
		tx:       tx,
		orders:   orders,
		payments: payments,
		listings: listings,
		pricing:  pricingCfg,
		currency: currency,
		now:      time.Now,
	}
}

// Create places a PENDING order for a single listing outside the cart flow.
func (s *Service) Create(ctx context.Context, buyerID string, req CreateRequest) (*Order, error) {
	if req.Quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	l, err := s.listings.GetByID(ctx, req.ListingID)
	if err != nil {
		return nil, fmt.Errorf("get listing %q: %w", req.ListingID, err)
	}
	if l.SellerID == buyerID {
		return nil, ErrOwnListing
	}
	if req.Quantity > l.AvailableQuantity {
		return nil, ErrInsufficientStock
	}

	item := NewItem(l.ID, l.Title, l.ImageURL, l.Unit, req.Quantity, l.Price)
	totals := s.pricing.Calculate([]pricing.Line{{UnitPrice: l.Price, Quantity: req.Quantity}})

	currency := l.Currency
	if currency == "" {
		currency = s.currency
	}
	o := New("", buyerID, l.SellerID, currency, []Item{item}, totals, "Order placed", s.now())
	o.ShippingDetails = req.Shipping
	o.Contact = req.Contact
	o.Notes = req.Notes

	if err := CreateWithNumber(ctx, s.orders, o); err != nil {
		return nil, err
	}
	return o, nil
}

// CreateWithNumber assigns a fresh order number and persists o, drawing a
// new number when the repository reports a collision.
func CreateWithNumber(ctx context.Context, orders Repository, o *Order) error {
	var err error
	for attempt := 1; attempt <= numberAttempts; attempt++ {
		o.Number = NewNumber(o.CreatedAt)
		err = orders.Create(ctx, o)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicateNumber) {
			return fmt.Errorf("create order: %w", err)
		}
		zctx.From(ctx).Warn("Order number collision, retrying",
			zap.String("number", o.Number),
			zap.Int("attempt", attempt),
		)
	}
	return fmt.Errorf("create order: %w", err)
}

// Get returns an order visible to actor.
func (s *Service) Get(ctx context.Context, actor, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(ActionView, actor, o); err != nil {
		return nil, err
	}
	return o, nil
}

// GetByNumber returns an order visible to actor by its human-readable number.
func (s *Service) GetByNumber(ctx context.Context, actor, number string) (*Order, error) {
	o, err := s.orders.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if err := Authorize(ActionView, actor, o); err != nil {
		return nil, err
	}
	return o, nil
}

// ListPurchases returns orders where actor is the buyer, newest first.
func (s *Service) ListPurchases(ctx context.Context, actor string) ([]Order, error) {
	return s.orders.ListByBuyer(ctx, actor)
}

// ListSales returns orders where actor is the seller, newest first.
func (s *Service) ListSales(ctx context.Context, actor string) ([]Order, error) {
	return s.orders.ListBySeller(ctx, actor)
}

// Payments returns every payment attempt of an order visible to actor.
func (s *Service) Payments(ctx context.Context, actor, id string) ([]payment.Payment, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.payments.ListByOrder(ctx, id)
}

// Cancel cancels the order. Buyer or seller.
func (s *Service) Cancel(ctx context.Context, actor, id, reason string) (*Order, error) {
	note := "Order cancelled"
	if reason != "" {
		note += ": " + reason
	}
	return s.transition(ctx, ActionCancel, actor, id, StatusCancelled, note)
}

// Confirm accepts the order. Seller only.
func (s *Service) Confirm(ctx context.Context, actor, id, note string) (*Order, error) {
	return s.transition(ctx, ActionConfirm, actor, id, StatusConfirmed, orDefault(note, "Order confirmed by seller"))
}

// Process marks the order as being prepared. Seller only.
func (s *Service) Process(ctx context.Context, actor, id, note string) (*Order, error) {
	return s.transition(ctx, ActionProcess, actor, id, StatusProcessing, orDefault(note, "Order is being processed"))
}

// Ship marks the order as handed to the carrier. Seller only.
func (s *Service) Ship(ctx context.Context, actor, id, note string) (*Order, error) {
	return s.transition(ctx, ActionShip, actor, id, StatusShipped, orDefault(note, "Order shipped"))
}

// Deliver marks the order as delivered. Seller only.
func (s *Service) Deliver(ctx context.Context, actor, id, note string) (*Order, error) {
	return s.transition(ctx, ActionDeliver, actor, id, StatusDelivered, orDefault(note, "Order delivered"))
}

// Complete closes the order. Buyer or seller.
func (s *Service) Complete(ctx context.Context, actor, id, note string) (*Order, error) {
	return s.transition(ctx, ActionComplete, actor, id, StatusCompleted, orDefault(note, "Order completed"))
}

func (s *Service) transition(ctx context.Context, action Action, actor, id string, to Status, note string) (*Order, error) {
	var o *Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		o, err = s.orders.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := Authorize(action, actor, o); err != nil {
			return err
		}
		if to == StatusConfirmed && o.Status == StatusPending {
			if err := s.requirePayment(ctx, o.ID); err != nil {
				return err
			}
		}
		if err := o.Transition(to, actor, note, s.now()); err != nil {
			return apperr.Wrap(apperr.Conflict, err, err.Error())
		}
		return s.orders.Save(ctx, o)
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", o.ID),
		zap.String("status", o.Status.String()),
		zap.String("actor", actor),
	)
	return o, nil
}

// requirePayment fails unless the order has a COMPLETED payment. Payment
// settlement confirms orders itself, so a PENDING order confirmed by hand
// must already be paid.
func (s *Service) requirePayment(ctx context.Context, orderID string) error {
	payments, err := s.payments.ListByOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("list payments: %w", err)
	}
	for _, p := range payments {
		if p.Status == payment.StatusCompleted {
			return nil
		}
	}
	return ErrAwaitingPayment
}

// ExpireStale cancels PENDING orders created before now-ttl. Orders that
// have a completed payment are left for the webhook to settle.
func (s *Service) ExpireStale(ctx context.Context, ttl time.Duration) (int, error) {
	ids, err := s.orders.ListStalePending(ctx, s.now().Add(-ttl), 100)
	if err != nil {
		return 0, fmt.Errorf("list stale orders: %w", err)
	}

	expired := 0
	for _, id := range ids {
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			o, err := s.orders.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if o.Status != StatusPending {
				return nil
			}
			payments, err := s.payments.ListByOrder(ctx, id)
			if err != nil {
				return err
			}
			for _, p := range payments {
				if p.Status.Settled() {
					return nil
				}
			}
			if err := o.Transition(StatusCancelled, auth.SystemActor, "Payment not received in time", s.now()); err != nil {
				return err
			}
			if err := s.orders.Save(ctx, o); err != nil {
				return err
			}
			expired++
			return nil
		})
		if err != nil {
			return expired, fmt.Errorf("expire order %q: %w", id, err)
		}
	}
	return expired, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
