// Command gateway-sandbox serves an in-memory payment gateway for local runs
// and the compose test suite.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/agrimarket/internal/gateway/razorpay"
)

type config struct {
	Addr      string `default:"0.0.0.0:9090" env:"ADDR"`
	KeyID     string `env:"KEY_ID" required:"true"`
	KeySecret string `env:"KEY_SECRET" required:"true"`
}

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		var cfg config
		loader := aconfig.LoaderFor(&cfg, aconfig.Config{
			EnvPrefix: "SANDBOX",
			SkipFlags: true,
			SkipFiles: true,
		})
		if err := loader.Load(); err != nil {
			return errors.Wrap(err, "load config")
		}

		srv := &http.Server{
			Addr:              cfg.Addr,
			Handler:           razorpay.NewSandbox(cfg.KeyID, cfg.KeySecret).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			lg.Info("Gateway sandbox listening", zap.String("addr", cfg.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "listen")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	})
}
