package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/agrimarket/internal/domain/pricing"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (MARKET_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (MARKET_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL     string `usage:"Redis URL for the cart count cache, empty disables it (MARKET_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (MARKET_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Razorpay     RazorpayConfig
	Checkout     CheckoutConfig
	Pricing      PricingConfig
	Orders       OrdersConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// RazorpayConfig holds gateway credentials. Secrets never leave the server.
type RazorpayConfig struct {
	BaseURL       string        `default:"https://api.razorpay.com" usage:"Razorpay API base URL"`
	KeyID         string        `usage:"Razorpay key id, shared with the checkout widget"`
	KeySecret     string        `usage:"Razorpay key secret, signs payment confirmations"`
	WebhookSecret string        `usage:"Razorpay webhook secret"`
	Timeout       time.Duration `default:"10s" usage:"Timeout of a single gateway call"`
}

// CheckoutConfig controls what the storefront shows during payment.
type CheckoutConfig struct {
	Currency    string `default:"INR" usage:"Order currency"`
	DisplayName string `default:"Agrimarket" usage:"Merchant name shown in the checkout widget"`
	RedirectURL string `default:"/orders/%s" usage:"Post-payment redirect, %s is the order id"`
}

// PricingConfig holds decimal strings so money never passes through floats.
type PricingConfig struct {
	FreeShippingThreshold string `default:"500" usage:"Subtotal from which shipping is free"`
	ShippingFee           string `default:"40" usage:"Flat shipping fee below the threshold"`
	TaxRate               string `default:"0.05" usage:"Tax rate as a fraction"`
}

// OrdersConfig controls the stale order sweeper.
type OrdersConfig struct {
	PendingTTL    time.Duration `default:"30m" usage:"Age after which unpaid PENDING orders are cancelled, 0 disables" flag:"pending-ttl"`
	SweepInterval time.Duration `default:"5m" usage:"How often stale orders are swept" flag:"sweep-interval"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, flags and YAML
// config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "MARKET",
		Files:     []string{"config.yaml", "/etc/agrimarket/config.yaml"},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	var cfg Config
	ac.FileDecoders = map[string]aconfig.FileDecoder{
		".yaml": aconfigyaml.New(),
	}
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the standard DATABASE_URL, REDIS_URL and PORT
// variables set by hosting platforms.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set MARKET_DATABASE_URL or DATABASE_URL")
	case c.Razorpay.KeyID == "" || c.Razorpay.KeySecret == "":
		return errors.New("razorpay key id and secret are required")
	case c.Razorpay.WebhookSecret == "":
		return errors.New("razorpay webhook secret is required")
	}
	if _, err := c.Pricing.Config(); err != nil {
		return err
	}
	return nil
}

// Config parses the pricing parameters.
func (p PricingConfig) Config() (pricing.Config, error) {
	parse := func(name, v string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, errors.Wrapf(err, "parse pricing %s", name)
		}
		if d.IsNegative() {
			return decimal.Zero, errors.Errorf("pricing %s must not be negative", name)
		}
		return d, nil
	}
	threshold, err := parse("free shipping threshold", p.FreeShippingThreshold)
	if err != nil {
		return pricing.Config{}, err
	}
	fee, err := parse("shipping fee", p.ShippingFee)
	if err != nil {
		return pricing.Config{}, err
	}
	rate, err := parse("tax rate", p.TaxRate)
	if err != nil {
		return pricing.Config{}, err
	}
	return pricing.Config{FreeShippingThreshold: threshold, ShippingFee: fee, TaxRate: rate}, nil
}
