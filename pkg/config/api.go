package config

import "time"

// Store drivers understood by the API.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment        string
	Addr               string
	LogLevel           string
	StoreDriver        string
	DatabaseURL        string
	SeedFile           string
	JWTSecret          string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	ShutdownTimeout    time.Duration
	SMTP               SMTPConfig
	Notify             NotifyConfig
}

// SMTPConfig configures outbound mail. An empty Host disables the mail sink.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// NotifyConfig tunes the notification dispatcher and its optional Kafka sink.
type NotifyConfig struct {
	Workers       int
	QueueSize     int
	MaxRetries    int
	RetryBase     time.Duration
	KafkaBrokers  []string
	KafkaTopic    string
	WebhookURL    string
	WebhookSecret string
	StreamEnabled bool
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":5000"),
		LogLevel:           GetString("LOG_LEVEL", "info"),
		StoreDriver:        GetString("STORE_DRIVER", StoreDriverPostgres),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://ceer:ceer@db:5432/ceer?sslmode=disable"),
		SeedFile:           GetString("SEED_FILE", ""),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		AccessTokenTTL:     time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 60)) * time.Minute,
		RefreshTokenTTL:    time.Duration(GetInt("REFRESH_TOKEN_TTL_HOURS", 24*7)) * time.Hour,
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		ShutdownTimeout:    GetDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		SMTP: SMTPConfig{
			Host:     GetString("SMTP_HOST", ""),
			Port:     GetInt("SMTP_PORT", 587),
			Username: GetString("SMTP_USER", ""),
			Password: GetString("SMTP_PASSWORD", ""),
			From:     GetString("SMTP_FROM", "CEER Lab <no-reply@ceer.local>"),
		},
		Notify: NotifyConfig{
			Workers:       GetInt("NOTIFY_WORKERS", 4),
			QueueSize:     GetInt("NOTIFY_QUEUE_SIZE", 256),
			MaxRetries:    GetInt("NOTIFY_MAX_RETRIES", 3),
			RetryBase:     time.Duration(GetInt("NOTIFY_RETRY_BASE_MS", 200)) * time.Millisecond,
			KafkaBrokers:  GetList("NOTIFY_KAFKA_BROKERS", nil),
			KafkaTopic:    GetString("NOTIFY_KAFKA_TOPIC", "ceer.notifications"),
			WebhookURL:    GetString("NOTIFY_WEBHOOK_URL", ""),
			WebhookSecret: GetString("NOTIFY_WEBHOOK_SECRET", ""),
			StreamEnabled: GetBool("NOTIFY_STREAM_ENABLED", true),
		},
	}
}
