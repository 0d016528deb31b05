package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"ticketsaga/internal/database"
	"ticketsaga/internal/messaging"

	"github.com/joho/godotenv"
)

// Config содержит конфигурацию приложения
type Config struct {
	Port           string
	GinMode        string
	LogLevel       string
	LogFormat      string
	RequestTimeout time.Duration

	// postgres | memory
	StoreDriver string

	Database database.Config
	Broker   messaging.Config
	Redis    RedisConfig
	Gateway  GatewayConfig
	Outbox   OutboxConfig
	Wallet   WalletConfig
	Hold     HoldConfig
}

type RedisConfig struct {
	// Empty address switches the gateway to in-process cache and locks.
	Addr     string
	Password string
	DB       int
}

type GatewayConfig struct {
	LockWait       time.Duration
	LockLease      time.Duration
	ResultCacheTTL time.Duration
}

type OutboxConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	MaxRetries      int
	Retention       time.Duration
	CleanupInterval time.Duration
}

type WalletConfig struct {
	LockTimeout   time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

type HoldConfig struct {
	Duration            time.Duration
	MaxSeatsPerRequest  int
	ExpirySweepInterval time.Duration
	ExpirySweepBatch    int
}

// Load загружает конфигурацию из .env (если есть) и переменных окружения
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	return &Config{
		Port:           getEnv("PORT", "8081"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		StoreDriver:    getEnv("STORE_DRIVER", "postgres"),

		Database: database.Config{
			Host:               getEnv("DB_HOST", "localhost"),
			Port:               getEnvInt("DB_PORT", 5432),
			User:               getEnv("DB_USER", "ticketsaga"),
			Password:           getEnv("DB_PASSWORD", "ticketsaga"),
			DBName:             getEnv("DB_NAME", "ticketsaga"),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetimeMin: getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 5),
			ConnMaxIdleTimeMin: getEnvInt("DB_CONN_MAX_IDLE_TIME_MIN", 1),
		},

		Broker: messaging.Config{
			Driver:        getEnv("BROKER_DRIVER", "nats"),
			NATSURL:       getEnv("NATS_URL", "nats://localhost:4222"),
			ClusterID:     getEnv("NATS_CLUSTER_ID", "ticketsaga"),
			ClientID:      getEnv("NATS_CLIENT_ID", "ticketsaga-api"),
			AckWait:       getEnvDuration("NATS_ACK_WAIT", 30*time.Second),
			KafkaBrokers:  getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			GroupPrefix:   getEnv("KAFKA_GROUP_PREFIX", "ticketsaga"),
			RedeliveryGap: getEnvDuration("BROKER_REDELIVERY_DELAY", time.Second),
		},

		Redis: RedisConfig{
			Addr:     lookupEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},

		Gateway: GatewayConfig{
			LockWait:       getEnvDuration("LOCK_WAIT", 3*time.Second),
			LockLease:      getEnvDuration("LOCK_LEASE", 10*time.Second),
			ResultCacheTTL: getEnvDuration("RESULT_CACHE_TTL", 10*time.Minute),
		},

		Outbox: OutboxConfig{
			PollInterval:    getEnvDuration("OUTBOX_POLL_INTERVAL", 5*time.Second),
			BatchSize:       getEnvInt("OUTBOX_BATCH_SIZE", 100),
			MaxRetries:      getEnvInt("OUTBOX_MAX_RETRIES", 3),
			Retention:       getEnvDuration("OUTBOX_RETENTION", 7*24*time.Hour),
			CleanupInterval: getEnvDuration("OUTBOX_CLEANUP_INTERVAL", time.Hour),
		},

		Wallet: WalletConfig{
			LockTimeout:   getEnvDuration("WALLET_LOCK_TIMEOUT", 5*time.Second),
			RetryAttempts: getEnvInt("WALLET_RETRY_ATTEMPTS", 3),
			RetryDelay:    getEnvDuration("WALLET_RETRY_DELAY", 50*time.Millisecond),
		},

		Hold: HoldConfig{
			Duration:            getEnvDuration("HOLD_DURATION", 10*time.Minute),
			MaxSeatsPerRequest:  getEnvInt("MAX_SEATS_PER_RESERVATION", 4),
			ExpirySweepInterval: getEnvDuration("HOLD_EXPIRY_SWEEP_INTERVAL", 30*time.Second),
			ExpirySweepBatch:    getEnvInt("HOLD_EXPIRY_SWEEP_BATCH", 500),
		},
	}
}

// getEnv получает значение переменной окружения или возвращает значение по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// lookupEnv, в отличие от getEnv, сохраняет явно заданное пустое значение
func lookupEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

// getEnvInt получает целочисленное значение переменной окружения
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration понимает формат time.ParseDuration ("5s", "10m")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		slog.Warn("Invalid duration in environment, using default", "key", key, "value", value)
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
