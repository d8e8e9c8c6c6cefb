//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go/modules/compose"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/agrimarket/internal/domain/auth"
	"github.com/xenking/agrimarket/internal/domain/cart"
	"github.com/xenking/agrimarket/internal/domain/listing"
	"github.com/xenking/agrimarket/internal/domain/order"
	"github.com/xenking/agrimarket/internal/domain/payment"
	"github.com/xenking/agrimarket/internal/domain/pricing"
	"github.com/xenking/agrimarket/internal/storage/postgres"
)

var pool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	dc, err := tc.NewDockerCompose("testdata/compose.yml")
	if err != nil {
		log.Fatalf("compose init: %v", err)
	}
	err = dc.
		WaitForService("postgres", wait.ForLog("database system is ready to accept connections").WithOccurrence(2)).
		Up(ctx, tc.Wait(true))
	if err != nil {
		log.Fatalf("compose up: %v", err)
	}
	defer func() {
		if err := dc.Down(context.Background(), tc.RemoveOrphans(true)); err != nil {
			log.Printf("compose down: %v", err)
		}
	}()

	c, err := dc.ServiceContainer(ctx, "postgres")
	if err != nil {
		log.Fatalf("postgres container: %v", err)
	}
	host, err := c.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://market:market@%s:%s/market?sslmode=disable", host, port.Port())
	pool, err = postgres.NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	_, err = pool.Exec(ctx, `INSERT INTO listings (id, seller_id, title, unit, price, available_quantity)
		VALUES ('pg-okra', 'pg-seller', 'Okra', 'kg', 80, 50)
		ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}

	return m.Run()
}

func newOrder(buyer string) *order.Order {
	items := []order.Item{order.NewItem("pg-okra", "Okra", "", "kg", 2, decimal.NewFromInt(80))}
	totals := pricing.DefaultConfig().Calculate([]pricing.Line{{UnitPrice: decimal.NewFromInt(80), Quantity: 2}})
	o := order.New("", buyer, "pg-seller", "INR", items, totals, "Order placed", time.Now().UTC().Truncate(time.Microsecond))
	o.ShippingDetails = order.ShippingDetails{Name: "Meera", City: "Pune"}
	o.Contact = order.Contact{Email: "meera@example.com"}
	return o
}

func TestListingRepository(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewListingRepository(postgres.NewDB(pool))

	l, err := repo.GetByID(ctx, "pg-okra")
	require.NoError(t, err)
	assert.Equal(t, "pg-seller", l.SellerID)
	assert.True(t, decimal.NewFromInt(80).Equal(l.Price))

	_, err = repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, listing.ErrNotFound)

	require.NoError(t, repo.Upsert(ctx, listing.Listing{
		ID: "pg-garlic", SellerID: "pg-seller", Title: "Garlic", Unit: "kg",
		Price: decimal.RequireFromString("120.50"), Currency: "INR", AvailableQuantity: 5,
	}))
	require.NoError(t, repo.Upsert(ctx, listing.Listing{
		ID: "pg-garlic", SellerID: "pg-seller", Title: "Garlic", Unit: "kg",
		Price: decimal.RequireFromString("99.75"), Currency: "INR", AvailableQuantity: 8,
	}))
	l, err = repo.GetByID(ctx, "pg-garlic")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("99.75").Equal(l.Price))
	assert.Equal(t, 8, l.AvailableQuantity)
}

func TestAPIKeyRepository(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewAPIKeyRepository(postgres.NewDB(pool))

	hash := fmt.Sprintf("%064x", time.Now().UnixNano())
	require.NoError(t, repo.Upsert(ctx, auth.APIKeyInfo{ID: "pg-key", UserID: "pg-user", KeyHash: hash, Name: "pg"}))

	k, err := repo.FindByHash(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "pg-user", k.UserID)
	assert.Equal(t, "pg-key", k.ID)

	_, err = repo.FindByHash(ctx, "nope")
	require.Error(t, err)
}

func TestCartRepository(t *testing.T) {
	ctx := context.Background()
	db := postgres.NewDB(pool)
	listings := postgres.NewListingRepository(db)
	svc := cart.NewService(db, postgres.NewCartRepository(db), listings, nil, pricing.DefaultConfig())
	user := fmt.Sprintf("cart-user-%d", time.Now().UnixNano())

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddItem(ctx, user, "pg-okra", 2)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	sum, err := svc.Get(ctx, user)
	require.NoError(t, err)
	require.Len(t, sum.Cart.Items, 1)
	assert.Equal(t, 10, sum.Cart.Items[0].Quantity)
	assert.True(t, decimal.NewFromInt(800).Equal(sum.Totals.Subtotal))

	n, err := svc.Count(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	require.NoError(t, svc.Clear(ctx, user))
	n, err = svc.Count(ctx, user)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOrderRepository(t *testing.T) {
	ctx := context.Background()
	db := postgres.NewDB(pool)
	repo := postgres.NewOrderRepository(db)
	buyer := fmt.Sprintf("order-user-%d", time.Now().UnixNano())

	first := newOrder(buyer)
	require.NoError(t, order.CreateWithNumber(ctx, repo, first))
	assert.NotEmpty(t, first.ID)
	assert.NotEmpty(t, first.History[0].ID)

	// A duplicate number inside a transaction does not poison it.
	err := db.WithinTx(ctx, func(ctx context.Context) error {
		dup := newOrder(buyer)
		dup.Number = first.Number
		require.ErrorIs(t, repo.Create(ctx, dup), order.ErrDuplicateNumber)

		o, err := repo.GetForUpdate(ctx, first.ID)
		if err != nil {
			return err
		}
		if err := o.Transition(order.StatusConfirmed, "pg-seller", "accepted", time.Now()); err != nil {
			return err
		}
		return repo.Save(ctx, o)
	})
	require.NoError(t, err)

	got, err := repo.GetByNumber(ctx, first.Number)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, got.Status)
	require.Len(t, got.History, 2)
	assert.Equal(t, order.StatusPending, got.History[0].Status)
	assert.Equal(t, "accepted", got.History[1].Note)
	require.Len(t, got.Items, 1)
	assert.True(t, decimal.NewFromInt(160).Equal(got.Items[0].Subtotal))
	assert.Equal(t, "Pune", got.ShippingDetails.City)
	assert.Equal(t, "meera@example.com", got.Contact.Email)

	second := newOrder(buyer)
	require.NoError(t, order.CreateWithNumber(ctx, repo, second))
	list, err := repo.ListByBuyer(ctx, buyer)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Len(t, list[0].History, 1)

	stale, err := repo.ListStalePending(ctx, time.Now().Add(time.Minute), 1000)
	require.NoError(t, err)
	assert.Contains(t, stale, second.ID)
	assert.NotContains(t, stale, first.ID)

	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestPaymentRepository(t *testing.T) {
	ctx := context.Background()
	db := postgres.NewDB(pool)
	orders := postgres.NewOrderRepository(db)
	payments := postgres.NewPaymentRepository(db)
	events := postgres.NewEventLog(db)

	o := newOrder(fmt.Sprintf("pay-user-%d", time.Now().UnixNano()))
	require.NoError(t, order.CreateWithNumber(ctx, orders, o))

	now := time.Now().UTC().Truncate(time.Microsecond)
	gwOrder := fmt.Sprintf("order_pg_%d", now.UnixNano())
	p := &payment.Payment{
		OrderID: o.ID, GatewayOrderID: gwOrder, Amount: o.Total, Currency: "INR",
		Status: payment.StatusCreated, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, payments.Create(ctx, p))

	err := db.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := payments.GetByGatewayOrderIDForUpdate(ctx, gwOrder)
		if err != nil {
			return err
		}
		if err := locked.Complete("pay_pg_1", "sig", now); err != nil {
			return err
		}
		return payments.Update(ctx, locked)
	})
	require.NoError(t, err)

	got, err := payments.GetByGatewayPaymentIDForUpdate(ctx, "pay_pg_1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, payment.StatusCompleted, got.Status)
	require.NotNil(t, got.PaidAt)
	assert.True(t, now.Equal(*got.PaidAt))
	assert.Nil(t, got.RefundedAt)

	list, err := payments.ListByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = payments.GetByGatewayOrderIDForUpdate(ctx, "order_unknown")
	require.ErrorIs(t, err, payment.ErrNotFound)

	eventID := "evt_" + gwOrder
	fresh, err := events.MarkProcessed(ctx, eventID, "payment.captured")
	require.NoError(t, err)
	assert.True(t, fresh)
	fresh, err = events.MarkProcessed(ctx, eventID, "payment.captured")
	require.NoError(t, err)
	assert.False(t, fresh)
}
