package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	Bridge    BridgeConfig
	Gateway   GatewayConfig
	Notify    NotifyConfig
	Retention RetentionConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	GuestTokenTTLDays     int
	BcryptCost            int
}

// BridgeConfig tunes cross-context messaging.
type BridgeConfig struct {
	CallTimeoutMillis int
	BindingTTLSeconds int
}

// GatewayConfig points the background host at the companion API.
type GatewayConfig struct {
	BaseURL            string
	HTTPTimeoutSeconds int
}

// NotifyConfig holds stub notification endpoints for transfer events.
type NotifyConfig struct {
	WebhookURL string
}

// RetentionConfig governs cleanup of retired identities. Retirement makes
// an identity unusable immediately; deletion happens after the window.
type RetentionConfig struct {
	RetiredIdentityDays  int
	SweepIntervalMinutes int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "clip-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			GuestTokenTTLDays:     getEnvAsInt("AUTH_GUEST_TOKEN_TTL_DAYS", 180),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Bridge: BridgeConfig{
			CallTimeoutMillis: getEnvAsInt("BRIDGE_CALL_TIMEOUT_MILLIS", 1500),
			BindingTTLSeconds: getEnvAsInt("BRIDGE_BINDING_TTL_SECONDS", 30),
		},
		Gateway: GatewayConfig{
			BaseURL:            getEnv("GATEWAY_BASE_URL", "http://127.0.0.1:8080"),
			HTTPTimeoutSeconds: getEnvAsInt("GATEWAY_HTTP_TIMEOUT_SECONDS", 10),
		},
		Notify: NotifyConfig{
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
		Retention: RetentionConfig{
			RetiredIdentityDays:  getEnvAsInt("RETENTION_RETIRED_IDENTITY_DAYS", 30),
			SweepIntervalMinutes: getEnvAsInt("RETENTION_SWEEP_INTERVAL_MINUTES", 60),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// CallTimeout returns the bridge call deadline, clamped to the supported
// 500ms-2000ms window.
func (b BridgeConfig) CallTimeout() time.Duration {
	millis := b.CallTimeoutMillis
	if millis < 500 {
		millis = 500
	}
	if millis > 2000 {
		millis = 2000
	}
	return time.Duration(millis) * time.Millisecond
}

// BindingTTL returns how long a context trusts its cached identity binding.
func (b BridgeConfig) BindingTTL() time.Duration {
	if b.BindingTTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(b.BindingTTLSeconds) * time.Second
}

// SweepInterval returns how often the retention worker runs.
func (r RetentionConfig) SweepInterval() time.Duration {
	if r.SweepIntervalMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(r.SweepIntervalMinutes) * time.Minute
}

// HTTPTimeout returns the gateway client timeout.
func (g GatewayConfig) HTTPTimeout() time.Duration {
	if g.HTTPTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(g.HTTPTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
