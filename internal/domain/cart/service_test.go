package cart_test

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/agrimarket/internal/domain/apperr"
	"github.com/xenking/agrimarket/internal/domain/cart"
	"github.com/xenking/agrimarket/internal/domain/listing"
	"github.com/xenking/agrimarket/internal/domain/pricing"
	"github.com/xenking/agrimarket/internal/storage/memory"
)

type mapCounter struct {
	mu          sync.Mutex
	counts      map[string]int
	versions    map[string]int64
	invalidated int
	failGet     bool
	// beforeSet runs before a count is written back, outside the lock.
	beforeSet func()
}

func newMapCounter() *mapCounter {
	return &mapCounter{counts: map[string]int{}, versions: map[string]int64{}}
}

func (c *mapCounter) Get(_ context.Context, userID string) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return 0, false, errors.New("cache down")
	}
	n, ok := c.counts[userID]
	return n, ok, nil
}

func (c *mapCounter) Version(_ context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[userID], nil
}

func (c *mapCounter) Set(_ context.Context, userID string, count int, version int64) error {
	if hook := c.beforeSet; hook != nil {
		c.beforeSet = nil
		hook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[userID] != version {
		return nil
	}
	c.counts[userID] = count
	return nil
}

func (c *mapCounter) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, userID)
	c.versions[userID]++
	c.invalidated++
	return nil
}

func newService(t *testing.T, counter cart.Counter) *cart.Service {
	t.Helper()
	store := memory.New()
	store.PutListing(listing.Listing{
		ID: "carrots", SellerID: "farmer", Title: "Carrots", Unit: "kg",
		Price: decimal.NewFromInt(150), Currency: "INR", AvailableQuantity: 20,
	})
	store.PutListing(listing.Listing{
		ID: "millet", SellerID: "farmer", Title: "Pearl millet", Unit: "kg",
		Price: decimal.RequireFromString("62.5"), Currency: "INR", AvailableQuantity: 100,
	})
	return cart.NewService(store, store.Carts(), store.Listings(), counter, pricing.DefaultConfig())
}

func TestService_AddItem(t *testing.T) {
	svc := newService(t, nil)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user", "carrots", 3)
	require.NoError(t, err)
	sum, err := svc.AddItem(ctx, "user", "carrots", 4)
	require.NoError(t, err)

	require.Len(t, sum.Cart.Items, 1)
	item := sum.Cart.Items[0]
	assert.Equal(t, 7, item.Quantity)
	assert.Equal(t, "Carrots", item.Title)
	assert.Equal(t, "farmer", item.SellerID)
	assert.True(t, decimal.NewFromInt(1050).Equal(sum.Totals.Subtotal))
	assert.True(t, decimal.Zero.Equal(sum.Totals.Shipping))
	assert.True(t, decimal.RequireFromString("52.5").Equal(sum.Totals.Tax))
	assert.True(t, decimal.RequireFromString("1102.5").Equal(sum.Totals.Total))
}

func TestService_AddItemErrors(t *testing.T) {
	svc := newService(t, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		user    string
		listing string
		qty     int
		want    error
		kind    apperr.Kind
	}{
		{"ZeroQuantity", "user", "carrots", 0, cart.ErrInvalidQuantity, apperr.BadRequest},
		{"UnknownListing", "user", "beans", 1, listing.ErrNotFound, apperr.NotFound},
		{"OwnListing", "farmer", "carrots", 1, cart.ErrOwnListing, apperr.BadRequest},
		{"OverStock", "user", "carrots", 21, cart.ErrInsufficientStock, apperr.BadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddItem(ctx, tt.user, tt.listing, tt.qty)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}

	sum, err := svc.Get(ctx, "user")
	require.NoError(t, err)
	assert.True(t, sum.Cart.IsEmpty())
	assert.True(t, sum.Totals.Subtotal.IsZero())
}

func TestService_UpdateRemoveClear(t *testing.T) {
	svc := newService(t, nil)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user", "carrots", 2)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "user", "millet", 4)
	require.NoError(t, err)

	sum, err := svc.UpdateItem(ctx, "user", "carrots", 5)
	require.NoError(t, err)
	assert.Equal(t, 9, sum.Cart.Count())

	_, err = svc.UpdateItem(ctx, "user", "beans", 1)
	require.ErrorIs(t, err, cart.ErrItemNotFound)

	sum, err = svc.RemoveItem(ctx, "user", "carrots")
	require.NoError(t, err)
	require.Len(t, sum.Cart.Items, 1)
	assert.True(t, decimal.NewFromInt(250).Equal(sum.Totals.Subtotal))

	require.NoError(t, svc.Clear(ctx, "user"))
	n, err := svc.Count(ctx, "user")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestService_CountCache(t *testing.T) {
	counter := newMapCounter()
	svc := newService(t, counter)
	ctx := context.Background()

	n, err := svc.Count(ctx, "user")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Contains(t, counter.counts, "user")

	_, err = svc.AddItem(ctx, "user", "carrots", 3)
	require.NoError(t, err)
	assert.NotContains(t, counter.counts, "user", "mutation invalidates the cached count")

	n, err = svc.Count(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// A cached value is served as is.
	counter.counts["user"] = 42
	n, err = svc.Count(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	// A failing cache falls back to the store.
	counter.failGet = true
	n, err = svc.Count(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestService_CountRacingMutation(t *testing.T) {
	counter := newMapCounter()
	svc := newService(t, counter)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user", "carrots", 2)
	require.NoError(t, err)

	// The add lands between the store read and the cache write.
	counter.beforeSet = func() {
		_, err := svc.AddItem(ctx, "user", "carrots", 3)
		require.NoError(t, err)
	}
	n, err := svc.Count(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NotContains(t, counter.counts, "user", "count read before the add is not cached")

	n, err = svc.Count(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, counter.counts["user"])
}

func TestService_ConcurrentAdds(t *testing.T) {
	svc := newService(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddItem(ctx, "user", "millet", 2)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := svc.Count(ctx, "user")
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}
