package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Stripe       StripeConfig
	Square       SquareConfig
	Sync         SyncConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if cfg.Sync.Workers <= 0 {
		return nil, fmt.Errorf("%s must be positive", EnvSyncWorkers)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOCKFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"STOCKFLOW_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"STOCKFLOW_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"STOCKFLOW_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"STOCKFLOW_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"STOCKFLOW_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"STOCKFLOW_SERVICE_KIND" default:"api"`
	// MetricsAddr is where the worker binaries serve /metrics. Empty disables the listener.
	MetricsAddr string `envconfig:"STOCKFLOW_METRICS_ADDR" default:":9090"`
}

type DBConfig struct {
	DSN string `envconfig:"STOCKFLOW_DB_DSN"`

	LegacyHost     string `envconfig:"STOCKFLOW_DB_HOST"`
	LegacyPort     int    `envconfig:"STOCKFLOW_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STOCKFLOW_DB_USER"`
	LegacyPassword string `envconfig:"STOCKFLOW_DB_PASSWORD"`
	LegacyName     string `envconfig:"STOCKFLOW_DB_NAME"`
	LegacySSLMode  string `envconfig:"STOCKFLOW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOCKFLOW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOCKFLOW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOCKFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOCKFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	ConnectTimeout  time.Duration `envconfig:"STOCKFLOW_DB_CONNECT_TIMEOUT" default:"5s"`
	// SlowQuery is the threshold above which statements are logged at warn. Zero disables it.
	SlowQuery time.Duration `envconfig:"STOCKFLOW_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOCKFLOW_REDIS_URL" required:"true"`
	Password     string        `envconfig:"STOCKFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOCKFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOCKFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOCKFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOCKFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOCKFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOCKFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"STOCKFLOW_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"STOCKFLOW_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"STOCKFLOW_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"STOCKFLOW_AUTO_MIGRATE" default:"false"`
	// DevTokens enables the -mint-token flag on cmd/api for local testing.
	DevTokens bool `envconfig:"STOCKFLOW_DEV_TOKENS" default:"false"`
}

type EventingConfig struct {
	APIIdempotencyTTL time.Duration `envconfig:"STOCKFLOW_API_IDEMPOTENCY_TTL" default:"24h"`
	WebhookRateLimit  int           `envconfig:"STOCKFLOW_WEBHOOK_RATE_LIMIT" default:"600"`
	WebhookRateWindow time.Duration `envconfig:"STOCKFLOW_WEBHOOK_RATE_WINDOW" default:"1m"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"STOCKFLOW_GCP_PROJECT_ID"`
	// Inline service account JSON wins over a key file path. With neither set
	// the client uses application default credentials or the emulator.
	CredentialsJSON string `envconfig:"STOCKFLOW_GCP_CREDENTIALS_JSON"`
	CredentialsFile string `envconfig:"STOCKFLOW_GCP_CREDENTIALS_FILE"`
}

type PubSubConfig struct {
	OrdersTopic    string `envconfig:"STOCKFLOW_PUBSUB_ORDERS_TOPIC" default:"stockflow-order-events"`
	InventoryTopic string `envconfig:"STOCKFLOW_PUBSUB_INVENTORY_TOPIC" default:"stockflow-inventory-events"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"STOCKFLOW_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"STOCKFLOW_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"STOCKFLOW_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"STOCKFLOW_OUTBOX_RETENTION" default:"720h"`
	DLQRetention   time.Duration `envconfig:"STOCKFLOW_OUTBOX_DLQ_RETENTION" default:"2160h"`
}

type StripeConfig struct {
	APIKey              string        `envconfig:"STOCKFLOW_STRIPE_API_KEY"`
	WebhookSecret       string        `envconfig:"STOCKFLOW_STRIPE_WEBHOOK_SECRET"`
	Env                 string        `envconfig:"STOCKFLOW_STRIPE_ENV" default:"test"`
	InvoiceDaysUntilDue int64         `envconfig:"STOCKFLOW_STRIPE_INVOICE_DAYS_UNTIL_DUE" default:"30"`
	InvoiceTimeout      time.Duration `envconfig:"STOCKFLOW_STRIPE_INVOICE_TIMEOUT" default:"20s"`
	ShippingDescription string        `envconfig:"STOCKFLOW_STRIPE_SHIPPING_DESCRIPTION" default:"Shipping"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	return normalizeEnv(s.Env, "test")
}

type SquareConfig struct {
	AccessToken   string `envconfig:"STOCKFLOW_SQUARE_ACCESS_TOKEN"`
	WebhookSecret string `envconfig:"STOCKFLOW_SQUARE_WEBHOOK_SECRET"`
	// WebhookURL is the notification URL registered with Square; it is part of the signed payload.
	WebhookURL string `envconfig:"STOCKFLOW_SQUARE_WEBHOOK_URL"`
	Env        string `envconfig:"STOCKFLOW_SQUARE_ENV" default:"sandbox"`
	BaseURL    string `envconfig:"STOCKFLOW_SQUARE_BASE_URL"`
	LocationID string `envconfig:"STOCKFLOW_SQUARE_LOCATION_ID"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	return normalizeEnv(s.Env, "sandbox")
}

type SyncConfig struct {
	Workers     int           `envconfig:"STOCKFLOW_SYNC_WORKERS" default:"4"`
	QueueSize   int           `envconfig:"STOCKFLOW_SYNC_QUEUE_SIZE" default:"256"`
	PushTimeout time.Duration `envconfig:"STOCKFLOW_SYNC_PUSH_TIMEOUT" default:"10s"`

	BreakerMaxRequests  uint32        `envconfig:"STOCKFLOW_SYNC_BREAKER_MAX_REQUESTS" default:"1"`
	BreakerInterval     time.Duration `envconfig:"STOCKFLOW_SYNC_BREAKER_INTERVAL" default:"60s"`
	BreakerTimeout      time.Duration `envconfig:"STOCKFLOW_SYNC_BREAKER_TIMEOUT" default:"30s"`
	BreakerFailureRatio float64       `envconfig:"STOCKFLOW_SYNC_BREAKER_FAILURE_RATIO" default:"0.5"`
	BreakerMinRequests  uint32        `envconfig:"STOCKFLOW_SYNC_BREAKER_MIN_REQUESTS" default:"5"`
}

type CronConfig struct {
	Interval           time.Duration `envconfig:"STOCKFLOW_CRON_INTERVAL" default:"5m"`
	LockTTL            time.Duration `envconfig:"STOCKFLOW_CRON_LOCK_TTL" default:"4m"`
	AuditRetentionDays int           `envconfig:"STOCKFLOW_CRON_AUDIT_RETENTION_DAYS" default:"90"`
	ReconcileBatchSize int           `envconfig:"STOCKFLOW_CRON_RECONCILE_BATCH_SIZE" default:"100"`
	ReconcileParallel  int           `envconfig:"STOCKFLOW_CRON_RECONCILE_PARALLEL" default:"4"`
}

// AuditRetention converts the configured days into a duration.
func (c CronConfig) AuditRetention() time.Duration {
	if c.AuditRetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.AuditRetentionDays) * 24 * time.Hour
}

func normalizeEnv(value, fallback string) string {
	env := strings.TrimSpace(strings.ToLower(value))
	if env == "" {
		return fallback
	}
	return env
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
