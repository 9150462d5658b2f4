package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	NewRelic     NewRelicConfig
	Log          LogConfig
	Bus          BusConfig
	AWS          AWSConfig
	Pricing      PricingConfig
	Matching     MatchingConfig
	Payment      PaymentConfig
	Stream       StreamConfig
	Reconciler   ReconcilerConfig
	Notification NotificationConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	AllowOrigins []string
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN returns the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return "host=" + c.Host + " port=" + c.Port + " user=" + c.User + " password=" + c.Password +
		" dbname=" + c.DBName + " sslmode=" + c.SSLMode
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string
	Format string // json, text
}

// BusConfig holds event bus configuration.
type BusConfig struct {
	Driver           string // redis, memory
	Name             string
	Stream           string
	DeadLetterStream string
	Consumer         string
	MaxLen           int64
	BatchSize        int64
	BlockTimeout     time.Duration
	RetryAfter       time.Duration
	MaxDeliveries    int64
	HandlerTimeout   time.Duration
	EventBridgeBus   string
}

// RetryHorizon is how long a failing message keeps being redelivered before it is dead-lettered.
// The memory driver never redelivers.
func (c BusConfig) RetryHorizon() time.Duration {
	if c.Driver == "memory" || c.MaxDeliveries <= 0 {
		return 0
	}
	return c.RetryAfter * time.Duration(c.MaxDeliveries+1)
}

// AWSConfig holds shared AWS SDK configuration.
type AWSConfig struct {
	Region string
}

// PricingConfig holds pricing engine configuration.
type PricingConfig struct {
	MinBasePrice         float64
	MaxBasePrice         float64
	MultiplierSecretName string
	StaticMultiplier     float64
	MultiplierCacheTTL   time.Duration
}

// MatchingConfig holds driver matcher configuration.
type MatchingConfig struct {
	Ranker      string // first, proximity
	RideLockTTL time.Duration
}

// PaymentConfig holds payment processor configuration.
type PaymentConfig struct {
	IdempotencyTTL time.Duration
	InProgressTTL  time.Duration
	FailureRate    float64
	MinLatency     time.Duration
	MaxLatency     time.Duration
	SlowMethod     string
	SlowLatency    time.Duration
	GatewayTimeout time.Duration
}

// StreamConfig holds payment change stream configuration.
type StreamConfig struct {
	Channel           string
	BatchSize         int
	BatchWindow       time.Duration
	InvocationTimeout time.Duration
	MinRemaining      time.Duration
	MaxAttempts       int
	RetryBackoff      time.Duration
	PartialBatch      bool
}

// ReconcilerConfig holds stranded ride reconciler configuration.
type ReconcilerConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

// NotificationConfig holds rider notification configuration.
type NotificationConfig struct {
	SNSTopicARN string
}

// Load loads configuration from environment variables.
// A .env file in the working directory is read first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			AllowOrigins: getListEnv("SERVER_ALLOW_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "ridesaga"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "ridesaga"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Bus: BusConfig{
			Driver:           getEnv("BUS_DRIVER", "redis"),
			Name:             getEnv("BUS_NAME", "ride-booking"),
			Stream:           getEnv("BUS_STREAM", "ride-booking:events"),
			DeadLetterStream: getEnv("BUS_DEAD_LETTER_STREAM", "ride-booking:dead-letter"),
			Consumer:         getEnv("BUS_CONSUMER", hostname()),
			MaxLen:           int64(getIntEnv("BUS_MAX_LEN", 100000)),
			BatchSize:        int64(getIntEnv("BUS_BATCH_SIZE", 10)),
			BlockTimeout:     getDurationEnv("BUS_BLOCK_TIMEOUT", 5*time.Second),
			RetryAfter:       getDurationEnv("BUS_RETRY_AFTER", time.Minute),
			MaxDeliveries:    int64(getIntEnv("BUS_MAX_DELIVERIES", 5)),
			HandlerTimeout:   getDurationEnv("BUS_HANDLER_TIMEOUT", 30*time.Second),
			EventBridgeBus:   getEnv("EVENTBRIDGE_BUS_NAME", ""),
		},
		AWS: AWSConfig{
			Region: getEnv("AWS_REGION", "us-east-1"),
		},
		Pricing: PricingConfig{
			MinBasePrice:         getFloatEnv("PRICING_MIN_BASE_PRICE", 5.0),
			MaxBasePrice:         getFloatEnv("PRICING_MAX_BASE_PRICE", 20.0),
			MultiplierSecretName: getEnv("RUSH_HOUR_MULTIPLIER_SECRET_NAME", ""),
			StaticMultiplier:     getFloatEnv("RUSH_HOUR_MULTIPLIER", 1.0),
			MultiplierCacheTTL:   getDurationEnv("RUSH_HOUR_MULTIPLIER_CACHE_TTL", 5*time.Second),
		},
		Matching: MatchingConfig{
			Ranker:      getEnv("MATCHING_RANKER", "first"),
			RideLockTTL: getDurationEnv("MATCHING_RIDE_LOCK_TTL", 30*time.Second),
		},
		Payment: PaymentConfig{
			IdempotencyTTL: getDurationEnv("PAYMENT_IDEMPOTENCY_TTL", 2*time.Hour),
			InProgressTTL:  getDurationEnv("PAYMENT_IN_PROGRESS_TTL", 30*time.Second),
			FailureRate:    getFloatEnv("PAYMENT_FAILURE_RATE", 0.05),
			MinLatency:     getDurationEnv("PAYMENT_MIN_LATENCY", 100*time.Millisecond),
			MaxLatency:     getDurationEnv("PAYMENT_MAX_LATENCY", 300*time.Millisecond),
			SlowMethod:     getEnv("PAYMENT_SLOW_METHOD", "somecompany-pay"),
			SlowLatency:    getDurationEnv("PAYMENT_SLOW_LATENCY", 5*time.Second),
			GatewayTimeout: getDurationEnv("PAYMENT_GATEWAY_TIMEOUT", 0),
		},
		Stream: StreamConfig{
			Channel:           getEnv("STREAM_CHANNEL", "payment_changes"),
			BatchSize:         getIntEnv("STREAM_BATCH_SIZE", 25),
			BatchWindow:       getDurationEnv("STREAM_BATCH_WINDOW", time.Second),
			InvocationTimeout: getDurationEnv("STREAM_INVOCATION_TIMEOUT", 30*time.Second),
			MinRemaining:      getDurationEnv("STREAM_MIN_REMAINING", time.Second),
			MaxAttempts:       getIntEnv("STREAM_MAX_ATTEMPTS", 3),
			RetryBackoff:      getDurationEnv("STREAM_RETRY_BACKOFF", 2*time.Second),
			PartialBatch:      getBoolEnv("STREAM_PARTIAL_BATCH", false),
		},
		Reconciler: ReconcilerConfig{
			Interval:   getDurationEnv("RECONCILER_INTERVAL", time.Minute),
			StaleAfter: getDurationEnv("RECONCILER_STALE_AFTER", 10*time.Minute),
			BatchSize:  getIntEnv("RECONCILER_BATCH_SIZE", 50),
		},
		Notification: NotificationConfig{
			SNSTopicARN: getEnv("NOTIFICATION_SNS_TOPIC_ARN", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func hostname() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "ridesaga"
}
