package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	OpenExchange OpenExchangeConfig
	Sync         SyncConfig
	NATS         NATSConfig
	Tracing      TracingConfig
	Sentry       SentryConfig
	Secrets      SecretsConfig
	RateLimit    RateLimitConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port           string
	Environment    string
	ServiceName    string
	ReadTimeout    int
	WriteTimeout   int
	RequestTimeout time.Duration
	CORSOrigins    string // Comma-separated list of allowed origins
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

// OpenExchangeConfig holds the exchange rate API configuration
type OpenExchangeConfig struct {
	BaseURL     string
	AppID       string
	AppIDRef    string // secret reference, resolved through the secrets manager
	Timeout     time.Duration
	HTTPRetries int
}

// SyncConfig holds background synchronization settings
type SyncConfig struct {
	TTL            time.Duration
	Interval       time.Duration // zero means sync once on startup only
	Debounce       time.Duration
	LockTTL        time.Duration
	ProbeURL       string
	ProbeInterval  time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL     string
	Enabled bool
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	SampleRatio float64
}

// SentryConfig holds Sentry configuration
type SentryConfig struct {
	DSN              string
	TracesSampleRate float64
}

// SecretsConfig holds secret backend configuration
type SecretsConfig struct {
	Provider       string
	CacheTTL       time.Duration
	VaultAddress   string
	VaultToken     string
	VaultNamespace string
	VaultMount     string
	KubernetesPath string

	AWSRegion          string
	AWSProfile         string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSSessionToken    string
	AWSEndpoint        string

	GCPProjectID       string
	GCPCredentialsFile string
	GCPCredentialsJSON string
}

// RateLimitConfig holds REST rate limiting configuration
type RateLimitConfig struct {
	Enabled bool
	Rate    string // ulule/limiter formatted rate, e.g. "120-M"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("READ_TIMEOUT", 10)
	v.SetDefault("WRITE_TIMEOUT", 10)
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	v.SetDefault("DB_DRIVER", "pgx")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "konversi")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("OXR_BASE_URL", "https://openexchangerates.org/api")
	v.SetDefault("OXR_APP_ID", "")
	v.SetDefault("OXR_APP_ID_REF", "")
	v.SetDefault("OXR_TIMEOUT", "30s")
	v.SetDefault("OXR_HTTP_RETRIES", 0)

	v.SetDefault("SYNC_TTL", "30m")
	v.SetDefault("SYNC_INTERVAL", "0s")
	v.SetDefault("SYNC_DEBOUNCE", "250ms")
	v.SetDefault("SYNC_LOCK_TTL", "2m")
	v.SetDefault("NETWORK_PROBE_URL", "")
	v.SetDefault("NETWORK_PROBE_INTERVAL", "15s")
	v.SetDefault("SYNC_MAX_ATTEMPTS", 5)
	v.SetDefault("SYNC_INITIAL_BACKOFF", "30s")
	v.SetDefault("SYNC_MAX_BACKOFF", "5m")

	v.SetDefault("NATS_URL", "nats://localhost:4222")
	v.SetDefault("NATS_ENABLED", false)

	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("TRACING_SAMPLE_RATIO", 1.0)

	v.SetDefault("SENTRY_DSN", "")
	v.SetDefault("SENTRY_TRACES_SAMPLE_RATE", 0.1)

	v.SetDefault("SECRETS_PROVIDER", "")
	v.SetDefault("SECRETS_CACHE_TTL", "5m")
	v.SetDefault("VAULT_ADDR", "")
	v.SetDefault("VAULT_TOKEN", "")
	v.SetDefault("VAULT_NAMESPACE", "")
	v.SetDefault("VAULT_MOUNT", "secret")
	v.SetDefault("SECRETS_K8S_PATH", "/var/run/secrets/konversi")
	v.SetDefault("AWS_REGION", "")
	v.SetDefault("AWS_PROFILE", "")
	v.SetDefault("AWS_ACCESS_KEY_ID", "")
	v.SetDefault("AWS_SECRET_ACCESS_KEY", "")
	v.SetDefault("AWS_SESSION_TOKEN", "")
	v.SetDefault("SECRETS_AWS_ENDPOINT", "")
	v.SetDefault("GCP_PROJECT_ID", "")
	v.SetDefault("GOOGLE_APPLICATION_CREDENTIALS", "")
	v.SetDefault("SECRETS_GCP_CREDENTIALS_JSON", "")

	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_RATE", "120-M")
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return fromViper(v, serviceName)
}

func fromViper(v *viper.Viper, serviceName string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           v.GetString("PORT"),
			Environment:    v.GetString("ENVIRONMENT"),
			ServiceName:    serviceName,
			ReadTimeout:    v.GetInt("READ_TIMEOUT"),
			WriteTimeout:   v.GetInt("WRITE_TIMEOUT"),
			RequestTimeout: v.GetDuration("REQUEST_TIMEOUT"),
			CORSOrigins:    v.GetString("CORS_ORIGINS"),
		},
		Database: DatabaseConfig{
			Driver:   v.GetString("DB_DRIVER"),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
			MaxConns: v.GetInt("DB_MAX_CONNS"),
			MinConns: v.GetInt("DB_MIN_CONNS"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("REDIS_ENABLED"),
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		OpenExchange: OpenExchangeConfig{
			BaseURL:     strings.TrimRight(v.GetString("OXR_BASE_URL"), "/"),
			AppID:       v.GetString("OXR_APP_ID"),
			AppIDRef:    v.GetString("OXR_APP_ID_REF"),
			Timeout:     v.GetDuration("OXR_TIMEOUT"),
			HTTPRetries: v.GetInt("OXR_HTTP_RETRIES"),
		},
		Sync: SyncConfig{
			TTL:            v.GetDuration("SYNC_TTL"),
			Interval:       v.GetDuration("SYNC_INTERVAL"),
			Debounce:       v.GetDuration("SYNC_DEBOUNCE"),
			LockTTL:        v.GetDuration("SYNC_LOCK_TTL"),
			ProbeURL:       v.GetString("NETWORK_PROBE_URL"),
			ProbeInterval:  v.GetDuration("NETWORK_PROBE_INTERVAL"),
			MaxAttempts:    v.GetInt("SYNC_MAX_ATTEMPTS"),
			InitialBackoff: v.GetDuration("SYNC_INITIAL_BACKOFF"),
			MaxBackoff:     v.GetDuration("SYNC_MAX_BACKOFF"),
		},
		NATS: NATSConfig{
			URL:     v.GetString("NATS_URL"),
			Enabled: v.GetBool("NATS_ENABLED"),
		},
		Tracing: TracingConfig{
			Enabled:     v.GetBool("TRACING_ENABLED"),
			Endpoint:    v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
			SampleRatio: v.GetFloat64("TRACING_SAMPLE_RATIO"),
		},
		Sentry: SentryConfig{
			DSN:              v.GetString("SENTRY_DSN"),
			TracesSampleRate: v.GetFloat64("SENTRY_TRACES_SAMPLE_RATE"),
		},
		Secrets: SecretsConfig{
			Provider:       v.GetString("SECRETS_PROVIDER"),
			CacheTTL:       v.GetDuration("SECRETS_CACHE_TTL"),
			VaultAddress:   v.GetString("VAULT_ADDR"),
			VaultToken:     v.GetString("VAULT_TOKEN"),
			VaultNamespace: v.GetString("VAULT_NAMESPACE"),
			VaultMount:     v.GetString("VAULT_MOUNT"),
			KubernetesPath: v.GetString("SECRETS_K8S_PATH"),

			AWSRegion:          v.GetString("AWS_REGION"),
			AWSProfile:         v.GetString("AWS_PROFILE"),
			AWSAccessKeyID:     v.GetString("AWS_ACCESS_KEY_ID"),
			AWSSecretAccessKey: v.GetString("AWS_SECRET_ACCESS_KEY"),
			AWSSessionToken:    v.GetString("AWS_SESSION_TOKEN"),
			AWSEndpoint:        v.GetString("SECRETS_AWS_ENDPOINT"),

			GCPProjectID:       v.GetString("GCP_PROJECT_ID"),
			GCPCredentialsFile: v.GetString("GOOGLE_APPLICATION_CREDENTIALS"),
			GCPCredentialsJSON: v.GetString("SECRETS_GCP_CREDENTIALS_JSON"),
		},
		RateLimit: RateLimitConfig{
			Enabled: v.GetBool("RATE_LIMIT_ENABLED"),
			Rate:    v.GetString("RATE_LIMIT_RATE"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that cannot be defaulted sensibly.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "pgx", "postgres":
	default:
		return fmt.Errorf("config: unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Sync.TTL <= 0 {
		return fmt.Errorf("config: SYNC_TTL must be positive, got %s", c.Sync.TTL)
	}
	if c.Sync.Debounce < 0 {
		return fmt.Errorf("config: SYNC_DEBOUNCE must not be negative, got %s", c.Sync.Debounce)
	}
	if c.OpenExchange.BaseURL == "" {
		return fmt.Errorf("config: OXR_BASE_URL is required")
	}
	return nil
}

// IsProduction reports whether the service runs in production mode.
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}
