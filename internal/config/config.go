// Package config provides configuration management for the token sale ledger.
// It loads configuration from environment variables and .env files.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cfd-ledger/internal/types"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Sale      SaleConfig
	Chain     ChainConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
	// OperatorKey guards operator-only routes; empty leaves them unregistered
	OperatorKey string
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

// URL returns the postgres:// connection URL used by migrations
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
	Enabled        bool
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	StatusTTL time.Duration
}

// SaleConfig holds token sale and profit sharing policy
type SaleConfig struct {
	Store                StoreBackend
	TotalSupply          decimal.Decimal
	DistributionShare    decimal.Decimal // fraction of monthly profit paid to holders
	MinimumHoldingPeriod time.Duration
	MigrationsPath       string
	PhaseCheckInterval   time.Duration // how often expired phases are closed; 0 disables
}

// StoreBackend is an alias kept here so callers only import config
type StoreBackend = types.StoreBackend

// ChainConfig holds the on-chain balance oracle configuration
type ChainConfig struct {
	Enabled       bool
	RPCURL        string
	TokenContract string
	TokenDecimals int
	CallTimeout   time.Duration
	CUBudget      int // compute units per second shared through Redis; 0 disables metering
	CUReserved    int // part of CUBudget kept for claims and distributions
}

// RateLimitConfig holds API rate limiting configuration (requests per second)
type RateLimitConfig struct {
	AnonymousRPS int
	HolderRPS    int
	Burst        int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	totalSupply, err := getEnvAsDecimal("SALE_TOTAL_SUPPLY", decimal.NewFromInt(21_000_000))
	if err != nil {
		return nil, err
	}
	share, err := getEnvAsDecimal("SALE_DISTRIBUTION_SHARE", decimal.RequireFromString("0.6"))
	if err != nil {
		return nil, err
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			OperatorKey: getEnv("API_OPERATOR_KEY", ""),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "cfd_ledger"),
				User:           getEnv("POSTGRES_USER", "ledger"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
				Enabled:        getEnvAsBool("REDIS_ENABLED", true),
			},
		},
		Cache: CacheConfig{
			StatusTTL: getEnvAsDuration("CACHE_STATUS_TTL", 10*time.Second),
		},
		Sale: SaleConfig{
			Store:                types.StoreBackend(getEnv("SALE_STORE", string(types.StorePostgres))),
			TotalSupply:          totalSupply,
			DistributionShare:    share,
			MinimumHoldingPeriod: getEnvAsDuration("SALE_MIN_HOLDING_PERIOD", 30*24*time.Hour),
			MigrationsPath:       getEnv("MIGRATIONS_PATH", "migrations/postgres"),
			PhaseCheckInterval:   getEnvAsDuration("SALE_PHASE_CHECK_INTERVAL", time.Minute),
		},
		Chain: ChainConfig{
			Enabled:       getEnvAsBool("CHAIN_ORACLE_ENABLED", false),
			RPCURL:        getEnv("CHAIN_RPC_URL", ""),
			TokenContract: getEnv("CHAIN_TOKEN_CONTRACT", ""),
			TokenDecimals: getEnvAsInt("CHAIN_TOKEN_DECIMALS", 18),
			CallTimeout:   getEnvAsDuration("CHAIN_CALL_TIMEOUT", 5*time.Second),
			CUBudget:      getEnvAsInt("CHAIN_CU_BUDGET", 500),
			CUReserved:    getEnvAsInt("CHAIN_CU_RESERVED", 300),
		},
		RateLimit: RateLimitConfig{
			AnonymousRPS: getEnvAsInt("RATE_LIMIT_ANONYMOUS", 5),
			HolderRPS:    getEnvAsInt("RATE_LIMIT_HOLDER", 20),
			Burst:        getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the sale policy and chain settings
func (c *Config) Validate() error {
	if !c.Sale.TotalSupply.IsPositive() {
		return errors.New("SALE_TOTAL_SUPPLY must be positive")
	}
	if !c.Sale.DistributionShare.IsPositive() || c.Sale.DistributionShare.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("SALE_DISTRIBUTION_SHARE must be in (0, 1], got %s", c.Sale.DistributionShare)
	}
	if c.Sale.MinimumHoldingPeriod < 0 {
		return errors.New("SALE_MIN_HOLDING_PERIOD cannot be negative")
	}
	if c.Sale.PhaseCheckInterval < 0 {
		return errors.New("SALE_PHASE_CHECK_INTERVAL cannot be negative")
	}
	switch c.Sale.Store {
	case types.StorePostgres, types.StoreMemory:
	default:
		return fmt.Errorf("SALE_STORE must be %q or %q, got %q", types.StorePostgres, types.StoreMemory, c.Sale.Store)
	}
	if c.Chain.Enabled {
		if c.Chain.RPCURL == "" {
			return errors.New("CHAIN_RPC_URL is required when the chain oracle is enabled")
		}
		if _, err := types.NormalizeAddress(c.Chain.TokenContract); err != nil {
			return fmt.Errorf("CHAIN_TOKEN_CONTRACT: %w", err)
		}
		if c.Chain.TokenDecimals < 0 || c.Chain.TokenDecimals > 36 {
			return fmt.Errorf("CHAIN_TOKEN_DECIMALS out of range: %d", c.Chain.TokenDecimals)
		}
		if c.Chain.CUBudget < 0 || c.Chain.CUReserved < 0 || c.Chain.CUReserved > c.Chain.CUBudget {
			return fmt.Errorf("CHAIN_CU_RESERVED (%d) must be between 0 and CHAIN_CU_BUDGET (%d)", c.Chain.CUReserved, c.Chain.CUBudget)
		}
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

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
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

// getEnvAsDecimal gets an environment variable as a decimal.
// Unlike the other helpers a malformed value is an error: money policy must not silently fall back.
func getEnvAsDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}

	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return value, nil
}
