package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/agrimarket/internal/domain/auth"
	"github.com/xenking/agrimarket/internal/domain/listing"
	"github.com/xenking/agrimarket/internal/handler"
	"github.com/xenking/agrimarket/internal/storage/postgres"
)

type listingJSON struct {
	ID                string          `json:"id"`
	SellerID          string          `json:"sellerId"`
	Title             string          `json:"title"`
	ImageURL          string          `json:"imageUrl"`
	Unit              string          `json:"unit"`
	Price             decimal.Decimal `json:"price"`
	Currency          string          `json:"currency"`
	AvailableQuantity int             `json:"availableQuantity"`
}

// apiKeyFlag collects repeated --api-key user=key values.
type apiKeyFlag map[string]string

func (f apiKeyFlag) String() string {
	users := make([]string, 0, len(f))
	for u := range f {
		users = append(users, u)
	}
	return strings.Join(users, ",")
}

func (f apiKeyFlag) Set(v string) error {
	user, key, ok := strings.Cut(v, "=")
	if !ok || user == "" || key == "" {
		return fmt.Errorf("expected user=key, got %q", v)
	}
	f[user] = key
	return nil
}

func main() {
	var (
		databaseURL  string
		listingsFile string
		apiKeyPepper string
		apiKeys      = apiKeyFlag{}
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&listingsFile, "listings-file", "db/seed/listings.json", "path to listings JSON file")
	flag.Var(apiKeys, "api-key", "user=key pair to seed, repeatable (or MARKET_SEED_API_KEYS env, comma separated)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or MARKET_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if len(apiKeys) == 0 {
		for _, pair := range strings.Split(os.Getenv("MARKET_SEED_API_KEYS"), ",") {
			if pair == "" {
				continue
			}
			if err := apiKeys.Set(strings.TrimSpace(pair)); err != nil {
				slog.Error("invalid MARKET_SEED_API_KEYS", slog.String("error", err.Error()))
				os.Exit(1)
			}
		}
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("MARKET_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, listingsFile, apiKeys, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, listingsFile string, apiKeys map[string]string, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	db := postgres.NewDB(pool)
	return db.WithinTx(ctx, func(ctx context.Context) error {
		if err := seedListings(ctx, postgres.NewListingRepository(db), listingsFile); err != nil {
			return errors.Wrap(err, "seed listings")
		}
		if err := seedAPIKeys(ctx, postgres.NewAPIKeyRepository(db), apiKeys, pepper); err != nil {
			return errors.Wrap(err, "seed api keys")
		}
		return nil
	})
}

func seedListings(ctx context.Context, repo *postgres.ListingRepository, listingsFile string) error {
	slog.Info("reading listings file", slog.String("path", listingsFile))

	data, err := os.ReadFile(listingsFile)
	if err != nil {
		return errors.Wrap(err, "read listings file")
	}

	var listings []listingJSON
	if err := json.Unmarshal(data, &listings); err != nil {
		return errors.Wrap(err, "parse listings JSON")
	}

	slog.Info("upserting listings", slog.Int("count", len(listings)))
	for _, l := range listings {
		currency := l.Currency
		if currency == "" {
			currency = "INR"
		}
		if err := repo.Upsert(ctx, listing.Listing{
			ID:                l.ID,
			SellerID:          l.SellerID,
			Title:             l.Title,
			ImageURL:          l.ImageURL,
			Unit:              l.Unit,
			Price:             l.Price,
			Currency:          currency,
			AvailableQuantity: l.AvailableQuantity,
		}); err != nil {
			return err
		}
		slog.Info("upserted listing", slog.String("id", l.ID), slog.String("seller", l.SellerID))
	}
	return nil
}

func seedAPIKeys(ctx context.Context, repo *postgres.APIKeyRepository, apiKeys map[string]string, pepper string) error {
	for user, key := range apiKeys {
		id := "seed-" + user
		if err := repo.Upsert(ctx, auth.APIKeyInfo{
			ID:      id,
			UserID:  user,
			KeyHash: handler.HashKey([]byte(pepper), key),
			Name:    "Seeded key for " + user,
		}); err != nil {
			return err
		}
		slog.Info("upserted API key", slog.String("id", id), slog.String("user", user))
	}
	return nil
}
