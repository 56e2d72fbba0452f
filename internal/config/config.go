package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Channel modes
const (
	ChannelModeSimulated = "simulated"
	ChannelModeAWS       = "aws"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// StoreBackend selects the audit store: postgres or memory.
	StoreBackend string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBMaxConns int

	// Redis backs idempotency, rate limiting and the inbox channel.
	RedisEnabled  bool
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS Services
	AWSRegion    string
	SESFromEmail string
	SESSubject   string
	SNSRegion    string

	// SQS async intake; empty URL disables it
	SQSRegion   string
	SQSQueueURL string

	// EventsTopicARN receives dispatch outcome events; empty disables them
	EventsTopicARN string

	// Channels
	ChannelMode    string
	RoutingFile    string
	AdapterTimeout time.Duration
	InboxMaxItems  int

	// Circuit breaker per channel
	BreakerMaxFailures     int
	BreakerRecoveryTimeout time.Duration

	// RateLimitPerMinute is requests per client IP; 0 disables limiting.
	RateLimitPerMinute int

	WorkerConcurrency int
}

// Load reads a .env file when present, then environment variables over
// defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		StoreBackend: StorePostgres,

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "cascade",
		DBName:     "cascade",
		DBSSLMode:  "disable",
		DBMaxConns: 25,

		RedisEnabled: true,
		RedisHost:    "localhost",
		RedisPort:    6379,

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@cascade.local",
		SESSubject:   "Notification",

		ChannelMode:   ChannelModeSimulated,
		InboxMaxItems: 100,

		BreakerMaxFailures:     5,
		BreakerRecoveryTimeout: 30 * time.Second,

		RateLimitPerMinute: 120,
		WorkerConcurrency:  4,
	}

	var err error

	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}
	cfg.LogLevel = stringEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Env = stringEnv("ENV", cfg.Env)

	cfg.StoreBackend = stringEnv("STORE_BACKEND", cfg.StoreBackend)
	if cfg.StoreBackend != StorePostgres && cfg.StoreBackend != StoreMemory {
		return nil, fmt.Errorf("invalid STORE_BACKEND %q: want %s or %s", cfg.StoreBackend, StorePostgres, StoreMemory)
	}

	// Database config
	cfg.DBHost = stringEnv("DB_HOST", cfg.DBHost)
	if cfg.DBPort, err = intEnv("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}
	cfg.DBUser = stringEnv("DB_USER", cfg.DBUser)
	cfg.DBPassword = stringEnv("DB_PASSWORD", cfg.DBPassword)
	cfg.DBName = stringEnv("DB_NAME", cfg.DBName)
	cfg.DBSSLMode = stringEnv("DB_SSLMODE", cfg.DBSSLMode)
	if cfg.DBMaxConns, err = intEnv("DB_MAX_CONNS", cfg.DBMaxConns); err != nil {
		return nil, err
	}

	// Redis config
	if cfg.RedisEnabled, err = boolEnv("REDIS_ENABLED", cfg.RedisEnabled); err != nil {
		return nil, err
	}
	cfg.RedisHost = stringEnv("REDIS_HOST", cfg.RedisHost)
	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}
	cfg.RedisPassword = stringEnv("REDIS_PASSWORD", cfg.RedisPassword)
	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	// AWS config; service regions fall back to AWS_REGION
	cfg.AWSRegion = stringEnv("AWS_REGION", cfg.AWSRegion)
	cfg.SESFromEmail = stringEnv("SES_FROM_EMAIL", cfg.SESFromEmail)
	cfg.SESSubject = stringEnv("SES_SUBJECT", cfg.SESSubject)
	cfg.SNSRegion = stringEnv("SNS_REGION", cfg.AWSRegion)
	cfg.SQSRegion = stringEnv("SQS_REGION", cfg.AWSRegion)
	cfg.SQSQueueURL = stringEnv("SQS_QUEUE_URL", cfg.SQSQueueURL)
	cfg.EventsTopicARN = stringEnv("EVENTS_TOPIC_ARN", cfg.EventsTopicARN)

	// Channels
	cfg.ChannelMode = stringEnv("CHANNEL_MODE", cfg.ChannelMode)
	if cfg.ChannelMode != ChannelModeSimulated && cfg.ChannelMode != ChannelModeAWS {
		return nil, fmt.Errorf("invalid CHANNEL_MODE %q: want %s or %s", cfg.ChannelMode, ChannelModeSimulated, ChannelModeAWS)
	}
	cfg.RoutingFile = stringEnv("ROUTING_FILE", cfg.RoutingFile)
	if cfg.AdapterTimeout, err = durationEnv("ADAPTER_TIMEOUT", cfg.AdapterTimeout); err != nil {
		return nil, err
	}
	if cfg.InboxMaxItems, err = intEnv("INBOX_MAX_ITEMS", cfg.InboxMaxItems); err != nil {
		return nil, err
	}

	if cfg.BreakerMaxFailures, err = intEnv("BREAKER_MAX_FAILURES", cfg.BreakerMaxFailures); err != nil {
		return nil, err
	}
	if cfg.BreakerRecoveryTimeout, err = durationEnv("BREAKER_RECOVERY_TIMEOUT", cfg.BreakerRecoveryTimeout); err != nil {
		return nil, err
	}

	if cfg.RateLimitPerMinute, err = intEnv("RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute); err != nil {
		return nil, err
	}
	if cfg.WorkerConcurrency, err = intEnv("WORKER_CONCURRENCY", cfg.WorkerConcurrency); err != nil {
		return nil, err
	}
	if cfg.WorkerConcurrency < 1 {
		return nil, fmt.Errorf("invalid WORKER_CONCURRENCY: must be at least 1")
	}

	return cfg, nil
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// durationEnv accepts Go durations ("5s") or a bare number of seconds.
func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
