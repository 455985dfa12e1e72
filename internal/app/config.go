package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/outbox"
	"github.com/xenking/bazaar/internal/payment/stripe"
)

// Config holds the complete application configuration, loadable from
// environment variables (BAZAAR_ prefix), flags, a .env file or YAML config
// files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (BAZAAR_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	JWT         JWTConfig
	Order       OrderConfig
	Stripe      stripe.Config
	Kafka       KafkaConfig
	Outbox      outbox.Config
	RateLimit   RateLimitConfig
	Graceful    GracefulConfig
}

// JWTConfig configures bearer token verification.
type JWTConfig struct {
	Secret string `usage:"HS256 signing secret" flag:"jwt-secret"`
	Issuer string `default:"bazaar" usage:"Expected token issuer"`
}

// OrderConfig holds order pricing settings.
type OrderConfig struct {
	ShippingFee string `default:"0" usage:"Flat shipping fee added to every order" flag:"shipping-fee"`
}

// KafkaConfig configures the outbox relay. No brokers disables the relay.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers"`
	Topic   string   `default:"order-events" usage:"Topic for order events"`
}

// RateLimitConfig controls the per-actor sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads an optional .env file, then environment variables and
// YAML config files, and validates the result.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "BAZAAR",
		Files:     []string{"config.yaml", "/etc/bazaar/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set BAZAAR_DATABASE_URL or DATABASE_URL")
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt secret is required: set BAZAAR_JWT_SECRET")
	}
	if _, err := c.ShippingFee(); err != nil {
		return err
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}

// ShippingFee parses Order.ShippingFee.
func (c *Config) ShippingFee() (decimal.Decimal, error) {
	fee, err := decimal.NewFromString(c.Order.ShippingFee)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse shipping fee %q", c.Order.ShippingFee)
	}
	if fee.IsNegative() {
		return decimal.Zero, errors.Errorf("shipping fee %s is negative", fee)
	}
	return fee, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's BAZAAR_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
