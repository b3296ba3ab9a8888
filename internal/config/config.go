// Package config handles application configuration from environment variables
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
	// Process settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Wallet node
	HubURL  string // websocket URL of the headless wallet node
	Testnet bool

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Forwarding flow
	WithdrawalFee int64 // flat fee kept on every forwarded deposit, in bytes
	DefaultAmount int64 // amount suggested in the payment link when none was entered

	// Staking flow
	MinStake     int64         // smallest stake that produces an escrow contract
	RewardBPS    int64         // reward rate in basis points (200 = 2%)
	VestingHours time.Duration // depositor claim delay; claw-back is twice this

	// Ledger limits
	MaxOutputsPerMessage int // ledger cap on outputs in one payment message
}

// Defaults
const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultHubURL        = "ws://127.0.0.1:6611"
	DefaultWithdrawalFee = 1000
	DefaultMinStake      = 50000
	DefaultRewardBPS     = 200 // 2%
	DefaultVestingHours  = 24
	DefaultMaxOutputs    = 128
	DefaultPaymentAmount = 10000
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:            getEnv("LOG_FORMAT", DefaultLogFormat),
		HubURL:               getEnv("HUB_URL", DefaultHubURL),
		Testnet:              getEnvBool("TESTNET", false),
		DatabaseURL:          os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		WithdrawalFee:        getEnvInt64("WITHDRAWAL_FEE", DefaultWithdrawalFee),
		DefaultAmount:        getEnvInt64("DEFAULT_AMOUNT", DefaultPaymentAmount),
		MinStake:             getEnvInt64("MIN_STAKE", DefaultMinStake),
		RewardBPS:            getEnvInt64("REWARD_RATE_BPS", DefaultRewardBPS),
		VestingHours:         time.Duration(getEnvInt64("VESTING_HOURS", DefaultVestingHours)) * time.Hour,
		MaxOutputsPerMessage: int(getEnvInt64("MAX_OUTPUTS_PER_MESSAGE", DefaultMaxOutputs)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and sane
func (c *Config) Validate() error {
	if c.HubURL == "" {
		return fmt.Errorf("HUB_URL is required")
	}
	if c.WithdrawalFee < 0 {
		return fmt.Errorf("WITHDRAWAL_FEE must not be negative")
	}
	if c.MinStake <= 0 {
		return fmt.Errorf("MIN_STAKE must be positive")
	}
	if c.RewardBPS <= 0 || c.RewardBPS >= 10000 {
		return fmt.Errorf("REWARD_RATE_BPS must be between 0 and 10000 exclusive")
	}
	if c.VestingHours <= 0 {
		return fmt.Errorf("VESTING_HOURS must be positive")
	}
	if c.MaxOutputsPerMessage < 2 {
		return fmt.Errorf("MAX_OUTPUTS_PER_MESSAGE must be at least 2")
	}
	return nil
}

// PairingProtocol returns the payment link protocol for the configured network.
func (c *Config) PairingProtocol() string {
	if c.Testnet {
		return "obyte-tn:"
	}
	return "obyte:"
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
