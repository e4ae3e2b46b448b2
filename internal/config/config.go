// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// minSessionSecretLen is the shortest SESSION_SECRET accepted in production.
const minSessionSecretLen = 32

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the web server listens on (e.g. :3000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health server; empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// PublicURL is the externally visible origin; used for email redirect targets (e.g. http://localhost:3000).
	PublicURL string `mapstructure:"PUBLIC_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is the zap level: debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// SupabaseURL is the project URL of the identity provider (e.g. https://xyz.supabase.co). Required.
	SupabaseURL string `mapstructure:"SUPABASE_URL"`
	// SupabaseAnonKey is the public anon API key sent as apikey header. Required.
	SupabaseAnonKey string `mapstructure:"SUPABASE_ANON_KEY"`
	// SupabaseJWTSecret is the HS256 secret used to verify provider access tokens; optional.
	SupabaseJWTSecret string `mapstructure:"SUPABASE_JWT_SECRET"`
	// SupabaseJWTPublicKey is a PEM public key (inline or path) for RS256/ES256 provider tokens; optional.
	SupabaseJWTPublicKey string `mapstructure:"SUPABASE_JWT_PUBLIC_KEY"`
	// ProviderTimeout is the HTTP timeout for provider calls (e.g. "15s").
	ProviderTimeout string `mapstructure:"PROVIDER_TIMEOUT"`

	// SessionTTL is how long a browser session record lives (e.g. "168h").
	SessionTTL string `mapstructure:"SESSION_TTL"`
	// SessionCookieName is the cookie carrying the session record id.
	SessionCookieName string `mapstructure:"SESSION_COOKIE_NAME"`
	// SessionSecret seals provider tokens at rest in Redis. Required in production.
	SessionSecret string `mapstructure:"SESSION_SECRET"`
	// RedisURL selects the Redis session store (e.g. redis://localhost:6379/0); empty uses the in-memory store.
	RedisURL string `mapstructure:"REDIS_URL"`

	// DatabaseURL is the Postgres DSN for the audit trail; empty disables auditing.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// AccessPolicyFile is an optional Rego file replacing the built-in access policy.
	AccessPolicyFile string `mapstructure:"ACCESS_POLICY_FILE"`
	// RateLimitPerMinute caps form posts per client IP; 0 disables limiting.
	RateLimitPerMinute int `mapstructure:"RATE_LIMIT_PER_MINUTE"`

	// OTLPEndpoint is the OTLP gRPC collector (e.g. localhost:4317); empty uses no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext to the collector even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// Telemetry (optional). When Kafka brokers are set, the server emits auth events to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for telemetry events (default mfa-demo-telemetry).
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the telemetry worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the telemetry worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":3000")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("PUBLIC_URL", "http://localhost:3000")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SUPABASE_URL", "")
	v.SetDefault("SUPABASE_ANON_KEY", "")
	v.SetDefault("SUPABASE_JWT_SECRET", "")
	v.SetDefault("SUPABASE_JWT_PUBLIC_KEY", "")
	v.SetDefault("PROVIDER_TIMEOUT", "15s")
	v.SetDefault("SESSION_TTL", "168h") // 7d
	v.SetDefault("SESSION_COOKIE_NAME", "mfa_session")
	v.SetDefault("SESSION_SECRET", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("ACCESS_POLICY_FILE", "")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 30)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "mfa-demo-telemetry")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "mfa-demo-telemetry-worker")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	cfg.SupabaseURL = strings.TrimSuffix(strings.TrimSpace(cfg.SupabaseURL), "/")
	if cfg.SupabaseURL == "" {
		return nil, errors.New("config: SUPABASE_URL must be set")
	}
	if cfg.SupabaseAnonKey == "" {
		return nil, errors.New("config: SUPABASE_ANON_KEY must be set")
	}
	cfg.PublicURL = strings.TrimSuffix(strings.TrimSpace(cfg.PublicURL), "/")
	if cfg.SessionCookieName == "" {
		cfg.SessionCookieName = "mfa_session"
	}
	if cfg.IsProduction() && len(cfg.SessionSecret) < minSessionSecretLen {
		return nil, errors.New("config: SESSION_SECRET must be at least 32 bytes when APP_ENV=production")
	}
	if cfg.RateLimitPerMinute < 0 {
		return nil, errors.New("config: RATE_LIMIT_PER_MINUTE must not be negative")
	}

	return &cfg, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c != nil && c.Env == "production"
}

// ProviderTimeoutDuration parses ProviderTimeout. Returns 15s if unset or invalid.
func (c *Config) ProviderTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.ProviderTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// SessionTTLDuration parses SessionTTL. Returns 168h if unset or invalid.
func (c *Config) SessionTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.SessionTTL)
	if err != nil || d <= 0 {
		return 168 * time.Hour
	}
	return d
}

// AuthCallbackURL is the email confirmation redirect target handed to the provider on sign-up.
func (c *Config) AuthCallbackURL() string {
	return c.PublicURL + "/auth/callback"
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if telemetry is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
