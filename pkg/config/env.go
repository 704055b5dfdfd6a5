package config

const (
	EnvPrefix = "P2P"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv        = "P2P_APP_ENV"
	EnvPort          = "P2P_APP_PORT"
	EnvDBDSN         = "P2P_DB_DSN"
	EnvDBHost        = "P2P_DB_HOST"
	EnvDBUser        = "P2P_DB_USER"
	EnvDBName        = "P2P_DB_NAME"
	EnvRedisURL      = "P2P_REDIS_URL"
	EnvJWTSecret     = "P2P_JWT_SECRET"
	EnvJWTIssuer     = "P2P_JWT_ISSUER"
	EnvOrdersLimits  = "P2P_ORDERS_LIMITS"
	EnvOrdersTTL     = "P2P_ORDERS_PENDING_TTL"
	EnvTasksTimezone = "P2P_TASKS_TIMEZONE"
	EnvGCPProjectID  = "P2P_GCP_PROJECT_ID"
	EnvPubSubTopic   = "P2P_PUBSUB_LIFECYCLE_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
