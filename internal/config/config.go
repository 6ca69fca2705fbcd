// Package config loads process configuration from the environment,
// optionally seeded from a local .env file.
package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
)

// Config carries every tunable the service reads at startup.
type Config struct {
	Environment string `env:"POINTSD_ENV" envDefault:"development"`
	HTTPAddr    string `env:"POINTSD_HTTP_ADDR" envDefault:":8080"`

	// Database. Driver is "postgres" or "sqlite"; DSN is driver-specific.
	DBDriver string `env:"POINTSD_DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"POINTSD_DB_DSN" envDefault:"file:pointsd.db?_busy_timeout=5000"`

	// Daily caps per capped source. Uncapped sources ignore these.
	DailyLimitMessages  int `env:"POINTSD_DAILY_LIMIT_MESSAGES" envDefault:"10"`
	DailyLimitReactions int `env:"POINTSD_DAILY_LIMIT_REACTIONS" envDefault:"10"`

	// Reconciliation. Discrepancies with |difference| above the threshold
	// are reported for manual review instead of being auto-corrected.
	ReconcileInterval       time.Duration `env:"POINTSD_RECONCILE_INTERVAL" envDefault:"1h"`
	ReconcileAutoCorrectMax int64         `env:"POINTSD_RECONCILE_AUTOCORRECT_MAX" envDefault:"100"`
	ReconcileBatchSize      int           `env:"POINTSD_RECONCILE_BATCH_SIZE" envDefault:"200"`
	ReconcileWorkerEnabled  bool          `env:"POINTSD_RECONCILE_WORKER" envDefault:"true"`

	// XP catalog cache.
	XPConfigCacheTTL time.Duration `env:"POINTSD_XPCONFIG_CACHE_TTL" envDefault:"30s"`

	// Bootstrap admin token minted by the seeder on first start.
	BootstrapAdminToken string `env:"POINTSD_BOOTSTRAP_ADMIN_TOKEN"`

	// Tracing.
	TracingEnabled  bool    `env:"POINTSD_TRACING_ENABLED" envDefault:"false"`
	TracingEndpoint string  `env:"POINTSD_TRACING_ENDPOINT"`
	TracingProtocol string  `env:"POINTSD_TRACING_PROTOCOL" envDefault:"grpc"`
	TracingSampling float64 `env:"POINTSD_TRACING_SAMPLING" envDefault:"1.0"`

	ServiceName    string `env:"POINTSD_SERVICE_NAME" envDefault:"pointsd"`
	ServiceVersion string `env:"POINTSD_SERVICE_VERSION" envDefault:"dev"`
}

// IsProduction reports whether the process runs with production safeguards.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Load reads .env (if present) and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
