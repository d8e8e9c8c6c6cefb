package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/agrimarket/internal/domain/cart"
	"github.com/xenking/agrimarket/internal/domain/checkout"
	"github.com/xenking/agrimarket/internal/domain/order"
	"github.com/xenking/agrimarket/internal/gateway/razorpay"
	"github.com/xenking/agrimarket/internal/handler"
	"github.com/xenking/agrimarket/internal/storage/postgres"
	redisstore "github.com/xenking/agrimarket/internal/storage/redis"
	"github.com/xenking/agrimarket/pkg/health"
	"github.com/xenking/agrimarket/pkg/httpmiddleware"
)

const serviceName = "agrimarket-api"

// Run creates all dependencies, starts the HTTP server and the stale order
// sweeper, and handles graceful shutdown. It is the single wiring point for
// the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pricingCfg, err := cfg.Pricing.Config()
	if err != nil {
		return err
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	db := postgres.NewDB(pool)

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck("postgres", db))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(time.Second))

	var (
		counter   cart.Counter = cart.NopCounter{}
		rlCounter httpmiddleware.Counter
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return errors.Wrap(err, "parse redis url")
		}
		client := redis.NewClient(opts)
		defer func() { _ = client.Close() }()

		cc := redisstore.NewCartCounter(client, 0)
		counter = cc
		rlCounter = redisstore.NewRateLimitCounter(client)
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck("redis", cc))
		lg.Info("Redis enabled for cart counts and rate limits", zap.String("addr", opts.Addr))
	}

	// Repositories.
	listings := postgres.NewListingRepository(db)
	carts := postgres.NewCartRepository(db)
	orders := postgres.NewOrderRepository(db)
	payments := postgres.NewPaymentRepository(db)
	events := postgres.NewEventLog(db)
	apikeys := postgres.NewAPIKeyRepository(db)

	// Gateway.
	gateway, err := razorpay.NewClient(razorpay.Config{
		BaseURL:   cfg.Razorpay.BaseURL,
		KeyID:     cfg.Razorpay.KeyID,
		KeySecret: cfg.Razorpay.KeySecret,
		Timeout:   cfg.Razorpay.Timeout,
	}, razorpay.WithTracerProvider(m.TracerProvider()))
	if err != nil {
		return errors.Wrap(err, "create gateway client")
	}
	signer := razorpay.NewSigner(cfg.Razorpay.KeySecret, cfg.Razorpay.WebhookSecret)

	// Domain services.
	cartService := cart.NewService(db, carts, listings, counter, pricingCfg)
	orderService := order.NewService(db, orders, payments, listings, pricingCfg, cfg.Checkout.Currency)
	checkoutService, err := checkout.NewService(checkout.Deps{
		Tx:             db,
		Carts:          carts,
		Counter:        counter,
		Orders:         orders,
		Payments:       payments,
		Events:         events,
		Gateway:        gateway,
		Verifier:       signer,
		Pricing:        pricingCfg,
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	}, checkout.Config{
		Currency:       cfg.Checkout.Currency,
		DisplayName:    cfg.Checkout.DisplayName,
		GatewayTimeout: cfg.Razorpay.Timeout,
		RedirectURL:    cfg.Checkout.RedirectURL,
	})
	if err != nil {
		return errors.Wrap(err, "create checkout service")
	}

	h := handler.New(
		cartService,
		checkoutService,
		orderService,
		handler.NewAuthenticator(apikeys, []byte(cfg.APIKeyPepper)),
	)

	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Mount("/api", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Checkout waits on the gateway.
		WriteTimeout:   cfg.Razorpay.Timeout + 10*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				KeyFunc: httpmiddleware.HeaderKeyFunc(handler.APIKeyHeader),
				Skip:    httpmiddleware.PathPrefixSkip("/api/checkout/webhook", "/livez", "/readyz"),
				Counter: rlCounter,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument(serviceName, m),
			httpmiddleware.LogRequests(),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweepStaleOrders(ctx, orderService, cfg.Orders.PendingTTL, cfg.Orders.SweepInterval)
	}()

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	<-sweepDone
	return nil
}
