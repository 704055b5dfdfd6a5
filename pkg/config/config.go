package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	HTTP         HTTPConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Orders       OrdersConfig
	Tasks        TasksConfig
	Cron         CronConfig
	WebSocket    WebSocketConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if _, err := cfg.Orders.AmountLimits(); err != nil {
		return nil, err
	}
	if _, err := cfg.Tasks.Location(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"P2P_APP_ENV" required:"true"`
	Port         string `envconfig:"P2P_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"P2P_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"P2P_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"P2P_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"P2P_DB_DSN"`
	Driver string `envconfig:"P2P_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"P2P_DB_HOST"`
	LegacyPort     int    `envconfig:"P2P_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"P2P_DB_USER"`
	LegacyPassword string `envconfig:"P2P_DB_PASSWORD"`
	LegacyName     string `envconfig:"P2P_DB_NAME"`
	LegacySSLMode  string `envconfig:"P2P_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"P2P_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"P2P_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"P2P_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"P2P_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"P2P_REDIS_URL" required:"true"`
	Address      string        `envconfig:"P2P_REDIS_ADDR"`
	Password     string        `envconfig:"P2P_REDIS_PASSWORD"`
	DB           int           `envconfig:"P2P_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"P2P_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"P2P_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"P2P_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"P2P_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"P2P_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies access tokens minted by the identity service.
type JWTConfig struct {
	Secret            string `envconfig:"P2P_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"P2P_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"P2P_JWT_EXPIRATION_MINUTES" default:"60"`
}

type HTTPConfig struct {
	ReadTimeout     time.Duration `envconfig:"P2P_HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"P2P_HTTP_WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `envconfig:"P2P_HTTP_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"P2P_HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate        bool `envconfig:"P2P_AUTO_MIGRATE" default:"false"`
	OutboxNotification bool `envconfig:"P2P_FEATURE_OUTBOX_NOTIFICATIONS" default:"true"`
}

type EventingConfig struct {
	IdempotencyTTL      time.Duration `envconfig:"P2P_EVENTING_IDEMPOTENCY_TTL" default:"24h"`
	NotificationChannel string        `envconfig:"P2P_EVENTING_NOTIFICATION_CHANNEL" default:"p2p:notifications"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"P2P_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	LifecycleTopic        string `envconfig:"P2P_PUBSUB_LIFECYCLE_TOPIC" default:"p2p-lifecycle-events"`
	LifecycleSubscription string `envconfig:"P2P_PUBSUB_LIFECYCLE_SUBSCRIPTION" default:"p2p-lifecycle-notifications"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"P2P_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"P2P_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"P2P_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"P2P_OUTBOX_RETENTION" default:"720h"`
}

// OrdersConfig holds order book policy.
type OrdersConfig struct {
	PendingTTL time.Duration `envconfig:"P2P_ORDERS_PENDING_TTL" default:"24h"`
	// Limits is a comma separated list of currency:min:max triples.
	Limits string `envconfig:"P2P_ORDERS_LIMITS"`
}

// AmountRange bounds the amount of a single order in one currency. A zero Max
// means the range is open ended.
type AmountRange struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// AmountLimits parses Limits into a per-currency lookup.
func (o OrdersConfig) AmountLimits() (map[uuid.UUID]AmountRange, error) {
	out := map[uuid.UUID]AmountRange{}
	raw := strings.TrimSpace(o.Limits)
	if raw == "" {
		return out, nil
	}
	for _, item := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(item), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%s: expected currency:min:max, got %q", EnvOrdersLimits, item)
		}
		currencyID, err := uuid.Parse(parts[0])
		if err != nil {
			return nil, fmt.Errorf("%s: invalid currency id %q: %w", EnvOrdersLimits, parts[0], err)
		}
		minAmount, err := decimal.NewFromString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("%s: invalid min %q: %w", EnvOrdersLimits, parts[1], err)
		}
		maxAmount, err := decimal.NewFromString(parts[2])
		if err != nil {
			return nil, fmt.Errorf("%s: invalid max %q: %w", EnvOrdersLimits, parts[2], err)
		}
		if minAmount.IsNegative() || maxAmount.IsNegative() || (!maxAmount.IsZero() && maxAmount.LessThan(minAmount)) {
			return nil, fmt.Errorf("%s: invalid range %q", EnvOrdersLimits, item)
		}
		out[currencyID] = AmountRange{Min: minAmount, Max: maxAmount}
	}
	return out, nil
}

type TasksConfig struct {
	Timezone          string        `envconfig:"P2P_TASKS_TIMEZONE" default:"UTC"`
	CompleteRateLimit int           `envconfig:"P2P_TASKS_COMPLETE_RATE_LIMIT" default:"10"`
	CompleteWindow    time.Duration `envconfig:"P2P_TASKS_COMPLETE_WINDOW" default:"1m"`
}

// Location resolves the timezone used to compute task windows.
func (t TasksConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(t.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", EnvTasksTimezone, err)
	}
	return loc, nil
}

type CronConfig struct {
	Interval time.Duration `envconfig:"P2P_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"P2P_CRON_LOCK_TTL" default:"4m"`
}

type WebSocketConfig struct {
	AllowedOrigins string        `envconfig:"P2P_WS_ALLOWED_ORIGINS"`
	PingInterval   time.Duration `envconfig:"P2P_WS_PING_INTERVAL" default:"30s"`
}

// Origins returns the normalized list of allowed browser origins.
func (w WebSocketConfig) Origins() []string {
	var out []string
	for _, origin := range strings.Split(w.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
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
