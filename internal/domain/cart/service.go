package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/agrimarket/internal/domain/listing"
	"github.com/xenking/agrimarket/internal/domain/pricing"
)

// Transactor runs fn inside a database transaction carried by the context.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Summary is a cart with its derived totals.
type Summary struct {
	Cart   *Cart
	Totals pricing.Totals
}

// Service implements the cart store operations.
type Service struct {
	tx       Transactor
	carts    Repository
	listings listing.Repository
	counter  Counter
	pricing  pricing.Config
	now      func() time.Time
}

// NewService creates a cart Service. A nil counter disables badge caching.
func NewService(
	tx Transactor,
	carts Repository,
	listings listing.Repository,
	counter Counter,
	pricingCfg pricing.Config,
) *Service {
	if counter == nil {
		counter = NopCounter{}
	}
	return &Service{
		tx:       tx,
		carts:    carts,
		listings: listings,
		counter:  counter,
		pricing:  pricingCfg,
		now:      time.Now,
	}
}

// Get returns the user's cart, creating an empty one on first access.
func (s *Service) Get(ctx context.Context, userID string) (*Summary, error) {
	var c *Cart
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		c, err = s.carts.GetOrCreate(ctx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return s.summarize(c), nil
}

// AddItem adds quantity of the listing to the cart, summing with any
// existing line and refreshing its price and availability snapshot.
func (s *Service) AddItem(ctx context.Context, userID, listingID string, quantity int) (*Summary, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	l, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("get listing %q: %w", listingID, err)
	}
	if l.SellerID == userID {
		return nil, ErrOwnListing
	}

	item := Item{
		ListingID:         l.ID,
		SellerID:          l.SellerID,
		Title:             l.Title,
		ImageURL:          l.ImageURL,
		Unit:              l.Unit,
		Quantity:          quantity,
		UnitPrice:         l.Price,
		AvailableQuantity: l.AvailableQuantity,
		AddedAt:           s.now(),
	}
	return s.mutate(ctx, userID, func(c *Cart) error {
		return c.Add(item)
	})
}

// UpdateItem sets the quantity of an existing line.
func (s *Service) UpdateItem(ctx context.Context, userID, listingID string, quantity int) (*Summary, error) {
	return s.mutate(ctx, userID, func(c *Cart) error {
		return c.Update(listingID, quantity)
	})
}

// RemoveItem deletes an existing line.
func (s *Service) RemoveItem(ctx context.Context, userID, listingID string) (*Summary, error) {
	return s.mutate(ctx, userID, func(c *Cart) error {
		return c.Remove(listingID)
	})
}

// Clear empties the user's cart.
func (s *Service) Clear(ctx context.Context, userID string) error {
	_, err := s.mutate(ctx, userID, func(c *Cart) error {
		c.Clear()
		return nil
	})
	return err
}

// Count returns the total quantity in the user's cart without loading items.
func (s *Service) Count(ctx context.Context, userID string) (int, error) {
	lg := zctx.From(ctx)
	if n, ok, err := s.counter.Get(ctx, userID); err != nil {
		lg.Warn("Cart count cache read failed", zap.Error(err))
	} else if ok {
		return n, nil
	}

	version, verr := s.counter.Version(ctx, userID)
	if verr != nil {
		lg.Warn("Cart count cache version read failed", zap.Error(verr))
	}
	n, err := s.carts.Count(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count cart: %w", err)
	}
	if verr != nil {
		return n, nil
	}
	if err := s.counter.Set(ctx, userID, n, version); err != nil {
		lg.Warn("Cart count cache write failed", zap.Error(err))
	}
	return n, nil
}

// mutate loads the cart under its row lock, applies fn and persists the
// whole cart in the same transaction.
func (s *Service) mutate(ctx context.Context, userID string, fn func(c *Cart) error) (*Summary, error) {
	var c *Cart
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		c, err = s.carts.GetOrCreate(ctx, userID)
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
		c.UpdatedAt = s.now()
		return s.carts.Save(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	if err := s.counter.Invalidate(ctx, userID); err != nil {
		zctx.From(ctx).Warn("Cart count cache invalidate failed", zap.Error(err))
	}
	return s.summarize(c), nil
}

func (s *Service) summarize(c *Cart) *Summary {
	return &Summary{Cart: c, Totals: s.pricing.Calculate(c.Lines())}
}
