package config

import (
	"os"
	"strconv"
	"time"
)

type CommsService struct {
	Port        string
	PostgresCfg PostgresConfig
	RedisCfg    RedisConfig
	RabbitMQCfg RabbitMQConfig
	ProviderCfg ProviderConfig
	RetryCfg    RetryConfig
	StatusCfg   StatusCheckConfig
	ConsumerCfg ConsumerConfig
}

type PostgresConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	DBname   string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type RabbitMQConfig struct {
	Host     string
	Port     string
	Username string
	Password string
}

type ProviderConfig struct {
	BaseURL   string
	ServiceID string
	SecretKey string
	Timeout   time.Duration
}

type RetryConfig struct {
	// Delay before a retry request is considered sent again.
	Delay time.Duration
	// Window measured from the original request's creation inside which
	// a temporary failure may still be retried.
	TemporaryFailureTimeout time.Duration
}

type StatusCheckConfig struct {
	MaxAttempts  int
	PollInterval time.Duration
	// Cron spec for the background reconciliation sweep.
	SweepSchedule string
	SweepLockTTL  time.Duration
}

type ConsumerConfig struct {
	QueueName       string
	DeadLetterQueue string
	EventsQueue     string
	PrefetchCount   int
	Workers         int
}

func New() *CommsService {
	return &CommsService{
		Port: getEnvOrDefault("COMMS_SERVICE_PORT", "8087"),
		PostgresCfg: PostgresConfig{
			Host:     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			Port:     getEnvOrDefault("POSTGRES_PORT", "5432"),
			Username: getEnvOrDefault("POSTGRES_USER", "postgres"),
			Password: getEnvOrDefault("POSTGRES_PWD", "postgres"),
			DBname:   getEnvOrDefault("POSTGRES_DB", "comms_service"),
		},
		RedisCfg: RedisConfig{
			Host:     getEnvOrDefault("REDIS_HOST", "localhost"),
			Port:     getEnvOrDefault("REDIS_PORT", "6379"),
			Password: getEnvOrDefault("REDIS_PWD", ""),
			DB:       getEnvIntOrDefault("REDIS_DB", 0),
		},
		RabbitMQCfg: RabbitMQConfig{
			Host:     getEnvOrDefault("RABBITMQ_HOST", "rabbitmq"),
			Port:     getEnvOrDefault("RABBITMQ_PORT", "5672"),
			Username: getEnvOrDefault("RABBITMQ_USER", "admin"),
			Password: getEnvOrDefault("RABBITMQ_PWD", "admin"),
		},
		ProviderCfg: ProviderConfig{
			BaseURL:   getEnvOrDefault("NOTIFY_BASE_URL", "https://api.notifications.service.gov.uk"),
			ServiceID: getEnvOrDefault("NOTIFY_SERVICE_ID", ""),
			SecretKey: getEnvOrDefault("NOTIFY_SECRET_KEY", ""),
			Timeout:   time.Duration(getEnvIntOrDefault("NOTIFY_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		RetryCfg: RetryConfig{
			Delay:                   time.Duration(getEnvIntOrDefault("RETRY_DELAY_MINUTES", 15)) * time.Minute,
			TemporaryFailureTimeout: time.Duration(getEnvIntOrDefault("TEMPORARY_FAILURE_TIMEOUT_HOURS", 168)) * time.Hour,
		},
		StatusCfg: StatusCheckConfig{
			MaxAttempts:  getEnvIntOrDefault("STATUS_CHECK_MAX_ATTEMPTS", 10),
			PollInterval: time.Duration(getEnvIntOrDefault("STATUS_CHECK_INTERVAL_MS", 5000)) * time.Millisecond,
			SweepSchedule: getEnvOrDefault("STATUS_SWEEP_SCHEDULE", "*/5 * * * *"),
			SweepLockTTL:  time.Duration(getEnvIntOrDefault("STATUS_SWEEP_LOCK_TTL_SECONDS", 240)) * time.Second,
		},
		ConsumerCfg: ConsumerConfig{
			QueueName:       getEnvOrDefault("COMMS_REQUEST_QUEUE", "comms_requests"),
			DeadLetterQueue: getEnvOrDefault("COMMS_REQUEST_DLQ", "comms_requests.dlq"),
			EventsQueue:     getEnvOrDefault("COMMS_EVENTS_QUEUE", "comms_events"),
			PrefetchCount:   getEnvIntOrDefault("CONSUMER_PREFETCH", 10),
			Workers:         getEnvIntOrDefault("CONSUMER_WORKERS", 10),
		},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
