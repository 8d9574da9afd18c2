package config

import (
	"os"
	"testing"
	"time"

	"github.com/cfd-ledger/internal/types"
	"github.com/shopspring/decimal"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("POSTGRES_HOST", "testhost")
	t.Setenv("CACHE_STATUS_TTL", "30s")
	t.Setenv("SALE_STORE", "memory")
	t.Setenv("SALE_DISTRIBUTION_SHARE", "0.5")
	t.Setenv("API_OPERATOR_KEY", "op-secret")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}

	if cfg.Server.OperatorKey != "op-secret" {
		t.Errorf("Server.OperatorKey = %v, want %v", cfg.Server.OperatorKey, "op-secret")
	}

	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}

	if cfg.Cache.StatusTTL != 30*time.Second {
		t.Errorf("Cache.StatusTTL = %v, want %v", cfg.Cache.StatusTTL, 30*time.Second)
	}

	if cfg.Sale.Store != types.StoreMemory {
		t.Errorf("Sale.Store = %v, want %v", cfg.Sale.Store, types.StoreMemory)
	}

	if !cfg.Sale.DistributionShare.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("Sale.DistributionShare = %v, want 0.5", cfg.Sale.DistributionShare)
	}

	if !cfg.Sale.TotalSupply.Equal(decimal.NewFromInt(21_000_000)) {
		t.Errorf("Sale.TotalSupply = %v, want 21000000", cfg.Sale.TotalSupply)
	}

	if cfg.Sale.MinimumHoldingPeriod != 30*24*time.Hour {
		t.Errorf("Sale.MinimumHoldingPeriod = %v, want 720h", cfg.Sale.MinimumHoldingPeriod)
	}
}

func TestLoadConfig_MalformedDecimal(t *testing.T) {
	t.Setenv("SALE_TOTAL_SUPPLY", "lots")

	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig() expected error for malformed SALE_TOTAL_SUPPLY")
	}
}

func validConfig() *Config {
	return &Config{
		Sale: SaleConfig{
			Store:                types.StoreMemory,
			TotalSupply:          decimal.NewFromInt(21_000_000),
			DistributionShare:    decimal.RequireFromString("0.6"),
			MinimumHoldingPeriod: 30 * 24 * time.Hour,
			PhaseCheckInterval:   time.Minute,
		},
		Chain: ChainConfig{
			RPCURL:        "http://localhost:8545",
			TokenContract: "0x00000000000000000000000000000000000000aa",
			TokenDecimals: 18,
			CUBudget:      500,
			CUReserved:    300,
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "zero supply", mutate: func(c *Config) { c.Sale.TotalSupply = decimal.Zero }, wantErr: true},
		{name: "share above one", mutate: func(c *Config) { c.Sale.DistributionShare = decimal.RequireFromString("1.1") }, wantErr: true},
		{name: "share of one", mutate: func(c *Config) { c.Sale.DistributionShare = decimal.NewFromInt(1) }},
		{name: "negative holding period", mutate: func(c *Config) { c.Sale.MinimumHoldingPeriod = -time.Second }, wantErr: true},
		{name: "negative phase interval", mutate: func(c *Config) { c.Sale.PhaseCheckInterval = -time.Second }, wantErr: true},
		{name: "unknown store", mutate: func(c *Config) { c.Sale.Store = "sqlite" }, wantErr: true},
		{name: "chain disabled skips chain checks", mutate: func(c *Config) { c.Chain.TokenContract = "nope" }},
		{name: "chain without rpc url", mutate: func(c *Config) { c.Chain.Enabled = true; c.Chain.RPCURL = "" }, wantErr: true},
		{name: "chain with bad contract", mutate: func(c *Config) { c.Chain.Enabled = true; c.Chain.TokenContract = "nope" }, wantErr: true},
		{name: "chain with bad decimals", mutate: func(c *Config) { c.Chain.Enabled = true; c.Chain.TokenDecimals = 40 }, wantErr: true},
		{name: "reserved above budget", mutate: func(c *Config) { c.Chain.Enabled = true; c.Chain.CUReserved = 600 }, wantErr: true},
		{name: "chain enabled", mutate: func(c *Config) { c.Chain.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPostgresConfigURL(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: "5432", Database: "cfd_ledger", User: "ledger", Password: "secret"}

	want := "postgres://ledger:secret@db:5432/cfd_ledger?sslmode=disable"
	if got := cfg.URL(); got != want {
		t.Errorf("URL() = %v, want %v", got, want)
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "NONEXISTENT_KEY",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{
			name:         "returns integer when valid",
			key:          "TEST_INT",
			defaultValue: 100,
			envValue:     "200",
			want:         200,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_INT_INVALID",
			defaultValue: 100,
			envValue:     "invalid",
			want:         100,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_INT_NOTSET",
			defaultValue: 100,
			envValue:     "",
			want:         100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{
			name:         "returns duration when valid",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "30s",
			want:         30 * time.Second,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_DURATION_INVALID",
			defaultValue: 10 * time.Second,
			envValue:     "invalid",
			want:         10 * time.Second,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_DURATION_NOTSET",
			defaultValue: 10 * time.Second,
			envValue:     "",
			want:         10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsDuration(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsDecimal(t *testing.T) {
	t.Setenv("TEST_DECIMAL", "0.25")
	got, err := getEnvAsDecimal("TEST_DECIMAL", decimal.Zero)
	if err != nil || !got.Equal(decimal.RequireFromString("0.25")) {
		t.Errorf("getEnvAsDecimal() = %v, %v, want 0.25", got, err)
	}

	got, err = getEnvAsDecimal("TEST_DECIMAL_NOTSET", decimal.NewFromInt(7))
	if err != nil || !got.Equal(decimal.NewFromInt(7)) {
		t.Errorf("getEnvAsDecimal() = %v, %v, want default 7", got, err)
	}

	if err := os.Setenv("TEST_DECIMAL_INVALID", "seven"); err != nil {
		t.Fatalf("Failed to set env var: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("TEST_DECIMAL_INVALID")
	}()
	if _, err := getEnvAsDecimal("TEST_DECIMAL_INVALID", decimal.Zero); err == nil {
		t.Error("getEnvAsDecimal() expected error for malformed value")
	}
}
