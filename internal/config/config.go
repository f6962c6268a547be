package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "REFERRAL"

type Config struct {
	Environment   string              `mapstructure:"environment"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Security      SecurityConfig      `mapstructure:"security"`
	Appointments  AppointmentsConfig  `mapstructure:"appointments"`
	Beds          BedsConfig          `mapstructure:"beds"`
	Routing       RoutingConfig       `mapstructure:"routing"`
	LiveCache     LiveCacheConfig     `mapstructure:"live_cache"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Outbox        OutboxConfig        `mapstructure:"outbox"`
	Reservations  ReservationsConfig  `mapstructure:"reservations"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Audit         AuditConfig         `mapstructure:"audit"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type JWTConfig struct {
	Secret   string `mapstructure:"secret"`
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	HSTSMaxAge     int      `mapstructure:"hsts_max_age"`
}

type AppointmentsConfig struct {
	CancellationCutoff time.Duration `mapstructure:"cancellation_cutoff"`
}

type BedsConfig struct {
	ReservationTTL time.Duration `mapstructure:"reservation_ttl"`
}

type RoutingConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	Timeout          time.Duration `mapstructure:"timeout"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
	// SuggestionLimit caps how many ambulances are ranked per request.
	SuggestionLimit int `mapstructure:"suggestion_limit"`
}

type LiveCacheConfig struct {
	// Backend is "redis" or "memory".
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type NotificationsConfig struct {
	SMTP     SMTPConfig    `mapstructure:"smtp"`
	WhatsApp GatewayConfig `mapstructure:"whatsapp"`
	SMS      GatewayConfig `mapstructure:"sms"`
	// InAppChannel is the Redis pub/sub channel prefix, suffixed with the user id.
	InAppChannel string `mapstructure:"in_app_channel"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type GatewayConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Sender  string        `mapstructure:"sender"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type OutboxConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	RetainFor     time.Duration `mapstructure:"retain_for"`
}

type ReservationsConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type TelemetryConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Topic    string `mapstructure:"topic"`
	QoS      byte   `mapstructure:"qos"`
}

type AuditConfig struct {
	RetentionDays   int           `mapstructure:"retention_days"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Secrets are read only from the environment, e.g. REFERRAL_JWT_SECRET.
type Secrets struct {
	DatabasePassword string `envconfig:"DB_PASSWORD"`
	JWTSecret        string `envconfig:"JWT_SECRET"`
	RedisURL         string `envconfig:"REDIS_URL"`
	SMTPPassword     string `envconfig:"SMTP_PASSWORD"`
	WhatsAppToken    string `envconfig:"WHATSAPP_TOKEN"`
	SMSToken         string `envconfig:"SMS_TOKEN"`
	RoutingAPIKey    string `envconfig:"ROUTING_API_KEY"`
	MQTTPassword     string `envconfig:"MQTT_PASSWORD"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)
	v.SetDefault("security.hsts_max_age", 31536000)
	v.SetDefault("appointments.cancellation_cutoff", "2h")
	v.SetDefault("beds.reservation_ttl", "4h")
	v.SetDefault("routing.timeout", "5s")
	v.SetDefault("routing.cache_ttl", "2m")
	v.SetDefault("routing.failure_threshold", 5)
	v.SetDefault("routing.open_timeout", "30s")
	v.SetDefault("routing.suggestion_limit", 5)
	v.SetDefault("live_cache.backend", "redis")
	v.SetDefault("live_cache.ttl", "10m")
	v.SetDefault("notifications.smtp.port", 587)
	v.SetDefault("notifications.whatsapp.timeout", "10s")
	v.SetDefault("notifications.sms.timeout", "10s")
	v.SetDefault("notifications.in_app_channel", "notifications")
	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.poll_interval", "2s")
	v.SetDefault("outbox.retry_attempts", 3)
	v.SetDefault("outbox.retry_delay", "1s")
	v.SetDefault("outbox.stale_after", "5m")
	v.SetDefault("outbox.retain_for", "168h")
	v.SetDefault("reservations.sweep_interval", "1m")
	v.SetDefault("telemetry.client_id", "referral-telemetry")
	v.SetDefault("telemetry.topic", "ambulances/+/location")
	v.SetDefault("telemetry.qos", 1)
	v.SetDefault("audit.retention_days", 365)
	v.SetDefault("audit.cleanup_interval", "24h")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// LoadConfig reads config.yml from the given paths (default ".", "./config",
// "/app/config"), then applies REFERRAL_* overrides.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config", "/app/config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var secrets Secrets
	if err := envconfig.Process(EnvPrefix, &secrets); err != nil {
		return nil, fmt.Errorf("failed to read secrets from environment: %w", err)
	}
	config.applySecrets(secrets)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applySecrets(s Secrets) {
	set := func(dst *string, val string) {
		if val != "" {
			*dst = val
		}
	}
	set(&c.Database.Password, s.DatabasePassword)
	set(&c.JWT.Secret, s.JWTSecret)
	set(&c.Redis.URL, s.RedisURL)
	set(&c.Notifications.SMTP.Password, s.SMTPPassword)
	set(&c.Notifications.WhatsApp.Token, s.WhatsAppToken)
	set(&c.Notifications.SMS.Token, s.SMSToken)
	set(&c.Routing.APIKey, s.RoutingAPIKey)
	set(&c.Telemetry.Password, s.MQTTPassword)
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret must be set (REFERRAL_JWT_SECRET)")
	}
	if c.Appointments.CancellationCutoff < 0 {
		return fmt.Errorf("appointments.cancellation_cutoff must not be negative")
	}
	if c.Outbox.BatchSize <= 0 || c.Outbox.RetryAttempts <= 0 {
		return fmt.Errorf("outbox.batch_size and outbox.retry_attempts must be positive")
	}
	if c.Outbox.PollInterval <= 0 || c.Outbox.RetryDelay <= 0 {
		return fmt.Errorf("outbox.poll_interval and outbox.retry_delay must be positive")
	}
	switch c.LiveCache.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("live_cache.backend must be redis or memory, got %q", c.LiveCache.Backend)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
