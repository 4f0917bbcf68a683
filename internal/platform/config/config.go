package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	platformstrings "ehrconsent/pkg/platform/strings"
)

// Bounds for the configured secrets and durations.
const (
	MinSecretLength    = 32
	MaxConsentDuration = 30 * 24 * time.Hour
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr           string        `mapstructure:"ADDR"`
	Env            string        `mapstructure:"ENV"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`

	ConsentSigningKey  string `mapstructure:"CONSENT_SIGNING_KEY"`
	IdentitySigningKey string `mapstructure:"IDENTITY_SIGNING_KEY"`
	TokenIssuer        string `mapstructure:"TOKEN_ISSUER"`

	ConsentDefaultDuration time.Duration `mapstructure:"CONSENT_DEFAULT_DURATION"`
	ConsentMaxDuration     time.Duration `mapstructure:"CONSENT_MAX_DURATION"`
	AllowRecipientRevoke   bool          `mapstructure:"ALLOW_RECIPIENT_REVOKE"`
	QRTTL                  time.Duration `mapstructure:"QR_TTL"`

	Redis    RedisConfig    `mapstructure:",squash"`
	Database DatabaseConfig `mapstructure:",squash"`
	Kafka    KafkaConfig    `mapstructure:",squash"`

	EHRUpstreamURL     string        `mapstructure:"EHR_UPSTREAM_URL"`
	EHRUpstreamTimeout time.Duration `mapstructure:"EHR_UPSTREAM_TIMEOUT"`
	EHRBreakerFailures int           `mapstructure:"EHR_BREAKER_FAILURES"`
	EHRBreakerCooldown time.Duration `mapstructure:"EHR_BREAKER_COOLDOWN"`

	// RequestRetention is how long decided consent requests are kept. Zero
	// keeps them forever.
	RequestRetention  time.Duration `mapstructure:"REQUEST_RETENTION"`
	RetentionSchedule string        `mapstructure:"RETENTION_SCHEDULE"`

	// MetricsToken, when set, is required in X-Admin-Token to scrape /metrics.
	MetricsToken string `mapstructure:"METRICS_TOKEN"`
}

// RedisConfig configures the consent record store. An empty URL selects the
// in-memory store.
type RedisConfig struct {
	URL          string        `mapstructure:"REDIS_URL"`
	PoolSize     int           `mapstructure:"REDIS_POOL_SIZE"`
	MinIdleConns int           `mapstructure:"REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `mapstructure:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `mapstructure:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"REDIS_WRITE_TIMEOUT"`
}

// DatabaseConfig configures the consent request store. An empty URL selects
// the in-memory store.
type DatabaseConfig struct {
	URL             string        `mapstructure:"DATABASE_URL"`
	MaxOpenConns    int           `mapstructure:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `mapstructure:"DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `mapstructure:"DB_CONN_MAX_LIFETIME"`
}

// KafkaConfig configures the audit sink. No brokers selects the in-memory sink.
type KafkaConfig struct {
	Brokers    []string `mapstructure:"KAFKA_BROKERS"`
	AuditTopic string   `mapstructure:"AUDIT_TOPIC"`
}

var keys = []string{
	"ADDR", "ENV", "REQUEST_TIMEOUT", "LOG_LEVEL",
	"CONSENT_SIGNING_KEY", "IDENTITY_SIGNING_KEY", "TOKEN_ISSUER",
	"CONSENT_DEFAULT_DURATION", "CONSENT_MAX_DURATION", "ALLOW_RECIPIENT_REVOKE", "QR_TTL",
	"REDIS_URL", "REDIS_POOL_SIZE", "REDIS_MIN_IDLE_CONNS",
	"REDIS_DIAL_TIMEOUT", "REDIS_READ_TIMEOUT", "REDIS_WRITE_TIMEOUT",
	"DATABASE_URL", "DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "DB_CONN_MAX_LIFETIME",
	"KAFKA_BROKERS", "AUDIT_TOPIC",
	"EHR_UPSTREAM_URL", "EHR_UPSTREAM_TIMEOUT", "EHR_BREAKER_FAILURES", "EHR_BREAKER_COOLDOWN",
	"REQUEST_RETENTION", "RETENTION_SCHEDULE",
	"METRICS_TOKEN",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ADDR", ":8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("REQUEST_TIMEOUT", 15*time.Second)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TOKEN_ISSUER", "ehrconsent")
	v.SetDefault("CONSENT_DEFAULT_DURATION", 60*time.Minute)
	v.SetDefault("CONSENT_MAX_DURATION", MaxConsentDuration)
	v.SetDefault("ALLOW_RECIPIENT_REVOKE", true)
	v.SetDefault("QR_TTL", 5*time.Minute)
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 2)
	v.SetDefault("REDIS_DIAL_TIMEOUT", 5*time.Second)
	v.SetDefault("REDIS_READ_TIMEOUT", 3*time.Second)
	v.SetDefault("REDIS_WRITE_TIMEOUT", 3*time.Second)
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	v.SetDefault("AUDIT_TOPIC", "ehrconsent.audit")
	v.SetDefault("EHR_UPSTREAM_TIMEOUT", 5*time.Second)
	v.SetDefault("EHR_BREAKER_FAILURES", 5)
	v.SetDefault("EHR_BREAKER_COOLDOWN", 30*time.Second)
	v.SetDefault("REQUEST_RETENTION", time.Duration(0))
	v.SetDefault("RETENTION_SCHEDULE", "@daily")
}

// Load reads configuration from the environment, falling back to an optional
// env file. An empty path means ".env" in the working directory.
func Load(path string) (*Server, error) {
	if path == "" {
		path = ".env"
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// The env file is optional.
	_ = v.ReadInConfig()

	cfg := &Server{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Kafka.Brokers = platformstrings.SplitList(v.GetString("KAFKA_BROKERS"), ",")
	return cfg, nil
}

func (c *Server) IsDev() bool {
	return c.Env == "development"
}

// Validate refuses configurations the service cannot run safely with.
func (c *Server) Validate() error {
	if len(c.ConsentSigningKey) < MinSecretLength {
		return fmt.Errorf("CONSENT_SIGNING_KEY must be at least %d bytes", MinSecretLength)
	}
	if len(c.IdentitySigningKey) < MinSecretLength {
		return fmt.Errorf("IDENTITY_SIGNING_KEY must be at least %d bytes", MinSecretLength)
	}
	if c.ConsentSigningKey == c.IdentitySigningKey {
		return fmt.Errorf("CONSENT_SIGNING_KEY and IDENTITY_SIGNING_KEY must differ")
	}
	if c.TokenIssuer == "" {
		return fmt.Errorf("TOKEN_ISSUER is required")
	}
	if c.ConsentMaxDuration <= 0 || c.ConsentMaxDuration > MaxConsentDuration {
		return fmt.Errorf("CONSENT_MAX_DURATION must be in (0, %s], got %s", MaxConsentDuration, c.ConsentMaxDuration)
	}
	if c.ConsentDefaultDuration <= 0 || c.ConsentDefaultDuration > c.ConsentMaxDuration {
		return fmt.Errorf("CONSENT_DEFAULT_DURATION must be in (0, %s], got %s", c.ConsentMaxDuration, c.ConsentDefaultDuration)
	}
	if c.EHRUpstreamURL != "" && (c.EHRBreakerFailures <= 0 || c.EHRUpstreamTimeout <= 0) {
		return fmt.Errorf("EHR_BREAKER_FAILURES and EHR_UPSTREAM_TIMEOUT must be positive when EHR_UPSTREAM_URL is set")
	}
	if c.MetricsToken != "" && len(c.MetricsToken) < 16 {
		return fmt.Errorf("METRICS_TOKEN must be at least 16 bytes")
	}
	if c.QRTTL <= 0 {
		return fmt.Errorf("QR_TTL must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if c.RequestRetention < 0 {
		return fmt.Errorf("REQUEST_RETENTION must not be negative")
	}
	if c.RequestRetention > 0 && c.RetentionSchedule == "" {
		return fmt.Errorf("RETENTION_SCHEDULE is required when REQUEST_RETENTION is set")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.AuditTopic == "" {
		return fmt.Errorf("AUDIT_TOPIC is required when KAFKA_BROKERS is set")
	}
	if !c.IsDev() {
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required outside development")
		}
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required outside development")
		}
	}
	return nil
}
