// Package config provides configuration management for the prize distribution engine.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Chain     ChainConfig
	Scheduler SchedulerConfig
	Monitor   MonitorConfig
	Admin     AdminConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string
	Port string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ChainConfig holds blockchain connectivity and contract configuration
type ChainConfig struct {
	RPCEndpoint       string
	ChainID           int64
	PrizePoolContract string
	RegistryContract  string
	// OperatorKey signs distribution transactions. When empty the gateway
	// runs in read-only mode: reads and monitoring work, writes fail.
	OperatorKey      string
	GasBase          uint64
	GasPerRecipient  uint64
	RequestsPerSec   int
	RequestBurst     int
}

// SchedulerConfig holds distribution scheduler configuration
type SchedulerConfig struct {
	TickInterval time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

// MonitorConfig holds transaction monitor configuration
type MonitorConfig struct {
	PollInterval      time.Duration
	ConfirmationDepth uint64
	StuckTimeout      time.Duration
}

// AdminConfig holds admin API authentication configuration
type AdminConfig struct {
	APIToken       string
	HealthCacheTTL time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "prize_distributor"),
				User:           getEnv("POSTGRES_USER", "distributor"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Chain: ChainConfig{
			RPCEndpoint:       getEnv("CHAIN_RPC_ENDPOINT", ""),
			ChainID:           int64(getEnvAsInt("CHAIN_ID", 1)),
			PrizePoolContract: getEnv("PRIZE_POOL_CONTRACT", ""),
			RegistryContract:  getEnv("HACKATHON_REGISTRY_CONTRACT", ""),
			OperatorKey:       getEnv("OPERATOR_PRIVATE_KEY", ""),
			GasBase:           uint64(getEnvAsInt("GAS_BASE", 100000)),
			GasPerRecipient:   uint64(getEnvAsInt("GAS_PER_RECIPIENT", 60000)),
			RequestsPerSec:    getEnvAsInt("CHAIN_REQUESTS_PER_SEC", 10),
			RequestBurst:      getEnvAsInt("CHAIN_REQUEST_BURST", 20),
		},
		Scheduler: SchedulerConfig{
			TickInterval: getEnvAsDuration("SCHEDULER_TICK_INTERVAL", 15*time.Second),
			MaxRetries:   getEnvAsInt("SCHEDULER_MAX_RETRIES", 4),
			RetryBackoff: getEnvAsDuration("SCHEDULER_RETRY_BACKOFF", 2*time.Second),
			MaxBackoff:   getEnvAsDuration("SCHEDULER_MAX_BACKOFF", 60*time.Second),
		},
		Monitor: MonitorConfig{
			PollInterval:      getEnvAsDuration("MONITOR_POLL_INTERVAL", 10*time.Second),
			ConfirmationDepth: uint64(getEnvAsInt("MONITOR_CONFIRMATION_DEPTH", 6)),
			StuckTimeout:      getEnvAsDuration("MONITOR_STUCK_TIMEOUT", 5*time.Minute),
		},
		Admin: AdminConfig{
			APIToken:       getEnv("ADMIN_API_TOKEN", ""),
			HealthCacheTTL: getEnvAsDuration("HEALTH_CACHE_TTL", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks invariants the rest of the system relies on
func (c *Config) validate() error {
	if c.Scheduler.MaxRetries < 1 {
		return fmt.Errorf("SCHEDULER_MAX_RETRIES must be at least 1, got %d", c.Scheduler.MaxRetries)
	}
	if c.Monitor.ConfirmationDepth < 1 {
		return fmt.Errorf("MONITOR_CONFIRMATION_DEPTH must be at least 1, got %d", c.Monitor.ConfirmationDepth)
	}
	if c.Monitor.StuckTimeout <= c.Monitor.PollInterval {
		return fmt.Errorf("MONITOR_STUCK_TIMEOUT (%v) must exceed MONITOR_POLL_INTERVAL (%v)",
			c.Monitor.StuckTimeout, c.Monitor.PollInterval)
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
