package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for staff API key hashing" flag:"api-key-pepper"`
	QRSize       int    `default:"256" usage:"Edge length of order QR images in pixels" flag:"qr-size"`
	Tx           TxConfig
	Payment      PaymentConfig
	Kafka        KafkaConfig
	OrderCode    OrderCodeConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// TxConfig controls transaction retries and lock waits.
type TxConfig struct {
	MaxRetries   int           `default:"3"    usage:"Retries on serialization failure, deadlock or lock timeout"`
	LockTimeout  time.Duration `default:"2s"   usage:"Row lock wait bound per transaction"`
	RetryBackoff time.Duration `default:"20ms" usage:"Backoff step between transaction retries"`
}

// PaymentConfig controls the payment provider client and payment policy.
type PaymentConfig struct {
	ProviderURL       string        `usage:"Payment provider base URL" flag:"payment-provider-url"`
	APIKey            string        `usage:"Payment provider API key" flag:"payment-api-key"`
	Timeout           time.Duration `default:"15s" usage:"Bound on a single provider call"`
	MaxAttempts       int           `default:"5"   usage:"Failed attempts before an order's payment status becomes FAILED (0 disables)"`
	CancelOnExhausted bool          `default:"false" usage:"Cancel and restock orders whose payment status becomes FAILED"`
	AdvanceOnPaid     bool          `default:"true"  usage:"Move PENDING orders to PROCESSING once paid"`
	ReconcileInterval time.Duration `default:"1m"  usage:"Period of the unresolved payment reconciliation pass"`
	ReconcileAfter    time.Duration `default:"2m"  usage:"Age at which a PENDING or UNKNOWN payment is reconciled"`
}

// KafkaConfig controls order event publishing. Events are only logged when
// Brokers is empty. Publishing happens off the request path.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers"`
	Topic   string   `default:"order-events" usage:"Order events topic"`

	QueueSize      int           `default:"1024" usage:"Order events buffered before new ones are dropped"`
	PublishTimeout time.Duration `default:"5s"   usage:"Bound on publishing one order event"`
}

// OrderCodeConfig controls order code generation.
type OrderCodeConfig struct {
	Length      int `default:"8" usage:"Order code length"`
	MaxAttempts int `default:"5" usage:"Regenerations on order code collision"`
}

// RateLimitConfig controls the per-client sliding window rate limiter applied
// to guest endpoints.
type RateLimitConfig struct {
	Max            int           `default:"30"    usage:"Max guest requests per window"`
	Window         time.Duration `default:"1m"    usage:"Rate limit window duration"`
	TrustForwarded bool          `default:"false" usage:"Key clients by X-Forwarded-For / X-Real-IP" flag:"trust-forwarded"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
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
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	case c.Payment.ProviderURL == "":
		return errors.New("payment provider URL is required: set SHOP_PAYMENT_PROVIDER_URL")
	case c.APIKeyPepper == "":
		return errors.New("API key pepper is required: set SHOP_API_KEY_PEPPER")
	case c.Payment.MaxAttempts < 0:
		return errors.New("payment max attempts must not be negative")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT.
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
