package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"wallet-auth-service/internal/apperrors"
)

type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	KMS           KMSConfig
	KDF           KDFConfig
	OTP           OTPConfig
	RateLimit     RateLimitConfig
	WebAuthn      WebAuthnConfig
	Bucketing     BucketingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	DeliveryTopic string
	AuditTopic    string
}

type ElasticsearchConfig struct {
	Enabled    bool
	URL        string
	Username   string
	Password   string
	AuditIndex string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

// KDFConfig drives key derivation for the credential cipher. MemoryExponent
// is the log2 of the Argon2id memory cost in KiB (e.g. 16 -> 64 MiB).
type KDFConfig struct {
	Backend          string // "argon2id" or "pbkdf2"
	MemoryExponent   int
	TimeCost         int
	Parallelism      int
	PBKDF2Iterations int
	Timeout          time.Duration
	MaxConcurrent    int
}

type OTPConfig struct {
	TTL         time.Duration
	MaxAttempts int
}

// RateLimitConfig holds the four counter namespaces of the limiter.
type RateLimitConfig struct {
	InitiatePerIPHour         int
	InitiatePerIdentifierHour int
	VerifyPerSessionMinute    int
	VerifyPerIPMinute         int
}

type WebAuthnConfig struct {
	RPID         string
	Origin       string
	ChallengeTTL time.Duration
	TimeoutMs    int
	SessionTTL   time.Duration
}

type BucketingConfig struct {
	EventBuckets  int
	CounterShards int
}

var (
	globalConfig *Config
	configOnce   sync.Once
)

// LoadConfig reads .env (if present) plus the process environment and builds
// the process-wide configuration. Call once from main; Get returns the same
// instance afterwards.
func LoadConfig() *Config {
	configOnce.Do(func() {
		_ = godotenv.Load()

		globalConfig = &Config{
			Environment: getEnv("ENVIRONMENT", "development"),
			Server: ServerConfig{
				Host:         getEnv("SERVER_HOST", "0.0.0.0"),
				Port:         getEnvInt("SERVER_PORT", 8080),
				TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
				EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
				AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
				Domain:       getEnv("SERVER_DOMAIN", ""),
				CertFile:     getEnv("SERVER_CERT_FILE", ""),
				KeyFile:      getEnv("SERVER_KEY_FILE", ""),
				AutoCertDir:  getEnv("SERVER_AUTO_CERT_DIR", "/var/cache/autocert"),
				Email:        getEnv("SERVER_ACME_EMAIL", ""),
				ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
				WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
				IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
			Redis: RedisConfig{
				URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
				PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
			},
			Scylla: ScyllaConfig{
				Nodes:    getEnvSlice("SCYLLA_NODES", []string{"localhost:9042"}),
				Keyspace: getEnv("SCYLLA_KEYSPACE", "wallet_auth"),
				Username: getEnv("SCYLLA_USERNAME", ""),
				Password: getEnv("SCYLLA_PASSWORD", ""),
			},
			Kafka: KafkaConfig{
				Enabled:       getEnvBool("KAFKA_ENABLED", false),
				Brokers:       getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
				DeliveryTopic: getEnv("KAFKA_DELIVERY_TOPIC", "otp-delivery"),
				AuditTopic:    getEnv("KAFKA_AUDIT_TOPIC", "auth-audit-events"),
			},
			Elasticsearch: ElasticsearchConfig{
				Enabled:    getEnvBool("ELASTICSEARCH_ENABLED", false),
				URL:        getEnv("ELASTICSEARCH_URL", "https://localhost:9200"),
				Username:   getEnv("ELASTICSEARCH_USERNAME", "elastic"),
				Password:   getEnv("ELASTICSEARCH_PASSWORD", ""),
				AuditIndex: getEnv("ELASTICSEARCH_AUDIT_INDEX", "auth-audit"),
			},
			Clickhouse: ClickhouseConfig{
				URL:      getEnv("CLICKHOUSE_URL", "http://localhost:8123"),
				Username: getEnv("CLICKHOUSE_USERNAME", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
				Database: getEnv("CLICKHOUSE_DATABASE", "wallet_auth"),
			},
			KMS: KMSConfig{
				Enabled: getEnvBool("KMS_ENABLED", false),
				KeyID:   getEnv("KMS_KEY_ID", ""),
				Region:  getEnv("KMS_REGION", "us-east-1"),
			},
			KDF: KDFConfig{
				Backend:          getEnv("KDF_BACKEND", "argon2id"),
				MemoryExponent:   getEnvInt("KDF_MEMORY_EXPONENT", 16),
				TimeCost:         getEnvInt("KDF_TIME_COST", 3),
				Parallelism:      getEnvInt("KDF_PARALLELISM", 1),
				PBKDF2Iterations: getEnvInt("KDF_PBKDF2_ITERATIONS", 210000),
				Timeout:          getEnvDuration("KDF_TIMEOUT", 5*time.Second),
				MaxConcurrent:    getEnvInt("KDF_MAX_CONCURRENT", 4),
			},
			OTP: OTPConfig{
				TTL:         getEnvDuration("OTP_TTL", 5*time.Minute),
				MaxAttempts: getEnvInt("OTP_MAX_ATTEMPTS", 3),
			},
			RateLimit: RateLimitConfig{
				InitiatePerIPHour:         getEnvInt("RATE_LIMIT_INITIATE_IP_HOUR", 10),
				InitiatePerIdentifierHour: getEnvInt("RATE_LIMIT_INITIATE_IDENTIFIER_HOUR", 5),
				VerifyPerSessionMinute:    getEnvInt("RATE_LIMIT_VERIFY_SESSION_MINUTE", 10),
				VerifyPerIPMinute:         getEnvInt("RATE_LIMIT_VERIFY_IP_MINUTE", 30),
			},
			WebAuthn: WebAuthnConfig{
				RPID:         getEnv("WEBAUTHN_RP_ID", "localhost"),
				Origin:       getEnv("WEBAUTHN_ORIGIN", "http://localhost:8080"),
				ChallengeTTL: getEnvDuration("WEBAUTHN_CHALLENGE_TTL", 10*time.Minute),
				TimeoutMs:    getEnvInt("WEBAUTHN_TIMEOUT_MS", 60000),
				SessionTTL:   getEnvDuration("WEBAUTHN_SESSION_TTL", 24*time.Hour),
			},
			Bucketing: BucketingConfig{
				EventBuckets:  getEnvInt("BUCKETING_EVENT_BUCKETS", 64),
				CounterShards: getEnvInt("BUCKETING_COUNTER_SHARDS", 16),
			},
		}
	})

	return globalConfig
}

// Get returns the loaded configuration
func Get() *Config {
	if globalConfig == nil {
		return LoadConfig()
	}
	return globalConfig
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate checks startup invariants. KDF parameters outside their allowed
// ranges are fatal in production and clamped with a warning otherwise; the
// returned warnings are logged by the caller (config must not depend on the
// logger package).
func (c *Config) Validate() ([]string, error) {
	var warnings []string

	switch c.KDF.Backend {
	case "argon2id", "pbkdf2":
	default:
		return nil, fmt.Errorf("%w: unknown KDF backend %q", apperrors.ErrConfiguration, c.KDF.Backend)
	}

	if c.KDF.MemoryExponent < 12 || c.KDF.MemoryExponent > 18 {
		if c.IsProduction() {
			return nil, fmt.Errorf("%w: KDF memory exponent %d outside [12,18]", apperrors.ErrConfiguration, c.KDF.MemoryExponent)
		}
		warnings = append(warnings, fmt.Sprintf("KDF memory exponent %d outside [12,18], clamping", c.KDF.MemoryExponent))
		c.KDF.MemoryExponent = clamp(c.KDF.MemoryExponent, 12, 18)
	}

	if c.KDF.TimeCost < 2 || c.KDF.TimeCost > 10 {
		if c.IsProduction() {
			return nil, fmt.Errorf("%w: KDF time cost %d outside [2,10]", apperrors.ErrConfiguration, c.KDF.TimeCost)
		}
		warnings = append(warnings, fmt.Sprintf("KDF time cost %d outside [2,10], clamping", c.KDF.TimeCost))
		c.KDF.TimeCost = clamp(c.KDF.TimeCost, 2, 10)
	}

	if c.KDF.PBKDF2Iterations < 100000 {
		if c.IsProduction() {
			return nil, fmt.Errorf("%w: PBKDF2 iterations %d below 100000", apperrors.ErrConfiguration, c.KDF.PBKDF2Iterations)
		}
		warnings = append(warnings, fmt.Sprintf("PBKDF2 iterations %d below 100000, raising", c.KDF.PBKDF2Iterations))
		c.KDF.PBKDF2Iterations = 100000
	}

	if c.OTP.MaxAttempts < 1 {
		return nil, fmt.Errorf("%w: OTP max attempts must be >= 1", apperrors.ErrConfiguration)
	}
	if c.OTP.TTL <= 0 {
		return nil, fmt.Errorf("%w: OTP TTL must be positive", apperrors.ErrConfiguration)
	}
	if c.KMS.Enabled && c.KMS.KeyID == "" {
		return nil, fmt.Errorf("%w: KMS enabled without a key ID", apperrors.ErrConfiguration)
	}
	if c.IsProduction() && c.WebAuthn.RPID == "localhost" {
		warnings = append(warnings, "WebAuthn RP ID is localhost in production")
	}

	return warnings, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
