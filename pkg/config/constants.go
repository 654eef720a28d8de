package config

// EnvPrefix namespaces every variable read by Load.
const EnvPrefix = "STOCKFLOW"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv    = "STOCKFLOW_APP_ENV"
	EnvPort      = "STOCKFLOW_APP_PORT"
	EnvLogLevel  = "STOCKFLOW_LOG_LEVEL"
	EnvLogFormat = "STOCKFLOW_LOG_FORMAT"

	EnvDBDSN  = "STOCKFLOW_DB_DSN"
	EnvDBHost = "STOCKFLOW_DB_HOST"
	EnvDBUser = "STOCKFLOW_DB_USER"
	EnvDBName = "STOCKFLOW_DB_NAME"

	EnvRedisURL = "STOCKFLOW_REDIS_URL"

	EnvJWTSecret  = "STOCKFLOW_JWT_SECRET"
	EnvJWTIssuer  = "STOCKFLOW_JWT_ISSUER"
	EnvJWTExpMins = "STOCKFLOW_JWT_EXPIRATION_MINUTES"

	EnvGCPProjectID         = "STOCKFLOW_GCP_PROJECT_ID"
	EnvPubSubOrdersTopic    = "STOCKFLOW_PUBSUB_ORDERS_TOPIC"
	EnvPubSubInventoryTopic = "STOCKFLOW_PUBSUB_INVENTORY_TOPIC"

	EnvStripeAPIKey         = "STOCKFLOW_STRIPE_API_KEY"
	EnvStripeWebhookSecret  = "STOCKFLOW_STRIPE_WEBHOOK_SECRET"
	EnvStripeInvoiceTimeout = "STOCKFLOW_STRIPE_INVOICE_TIMEOUT"

	EnvSquareAccessToken   = "STOCKFLOW_SQUARE_ACCESS_TOKEN"
	EnvSquareWebhookSecret = "STOCKFLOW_SQUARE_WEBHOOK_SECRET"

	EnvSyncWorkers = "STOCKFLOW_SYNC_WORKERS"

	EnvCronAuditRetentionDays = "STOCKFLOW_CRON_AUDIT_RETENTION_DAYS"
)

// legacyDBEnvVars must all be present when no DSN is configured.
var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
