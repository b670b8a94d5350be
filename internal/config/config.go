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
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Blockchain settings
	RPCURL  string
	ChainID int64

	// Risk thresholds
	AutoExecuteMax float64 // Scores at or below this band proceed without any record
	ApprovalMin    float64 // Scores at or above require human approval
	BlockMin       float64 // Scores at or above are blocked outright

	// Classification band cutoffs
	CriticalMin float64
	HighMin     float64
	MediumMin   float64

	// Approval settings
	ApprovalTTL   time.Duration // How long a pending approval stays actionable
	SweepInterval time.Duration // Expiration sweep frequency

	// Notification webhook
	WebhookURL    string
	WebhookSecret string

	// Tracing
	OTLPEndpoint string
}

// Defaults for the Base Sepolia testnet deployment.
const (
	DefaultRPCURL   = "https://sepolia.base.org"
	DefaultChainID  = 84532 // Base Sepolia
	DefaultPort     = "8080"
	DefaultEnv      = "development"
	DefaultLogLevel = "info"

	DefaultAutoExecuteMax = 0.35
	DefaultApprovalMin    = 0.6
	DefaultBlockMin       = 0.85

	DefaultCriticalMin = 0.85
	DefaultHighMin     = 0.65
	DefaultMediumMin   = 0.35

	DefaultApprovalTTLMinutes = 60
	DefaultSweepSeconds       = 30
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", DefaultPort),
		Env:            getEnv("ENV", DefaultEnv),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:    os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RPCURL:         getEnv("RPC_URL", DefaultRPCURL),
		ChainID:        getEnvInt64("CHAIN_ID", DefaultChainID),
		AutoExecuteMax: getEnvFloat("AUTO_EXECUTE_MAX", DefaultAutoExecuteMax),
		ApprovalMin:    getEnvFloat("APPROVAL_MIN", DefaultApprovalMin),
		BlockMin:       getEnvFloat("BLOCK_MIN", DefaultBlockMin),
		CriticalMin:    getEnvFloat("RISK_CRITICAL_MIN", DefaultCriticalMin),
		HighMin:        getEnvFloat("RISK_HIGH_MIN", DefaultHighMin),
		MediumMin:      getEnvFloat("RISK_MEDIUM_MIN", DefaultMediumMin),
		ApprovalTTL:    time.Duration(getEnvInt64("APPROVAL_TTL_MINUTES", DefaultApprovalTTLMinutes)) * time.Minute,
		SweepInterval:  time.Duration(getEnvInt64("SWEEP_INTERVAL_SECONDS", DefaultSweepSeconds)) * time.Second,
		WebhookURL:     os.Getenv("WEBHOOK_URL"),
		WebhookSecret:  os.Getenv("WEBHOOK_SECRET"),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}

	for name, v := range map[string]float64{
		"AUTO_EXECUTE_MAX": c.AutoExecuteMax,
		"APPROVAL_MIN":     c.ApprovalMin,
		"BLOCK_MIN":        c.BlockMin,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, v)
		}
	}

	// Cutoffs must be monotonically ordered or the bands overlap.
	if c.AutoExecuteMax > c.ApprovalMin {
		return fmt.Errorf("AUTO_EXECUTE_MAX (%v) must not exceed APPROVAL_MIN (%v)", c.AutoExecuteMax, c.ApprovalMin)
	}
	if c.ApprovalMin > c.BlockMin {
		return fmt.Errorf("APPROVAL_MIN (%v) must not exceed BLOCK_MIN (%v)", c.ApprovalMin, c.BlockMin)
	}

	if c.MediumMin > c.HighMin || c.HighMin > c.CriticalMin {
		return fmt.Errorf("risk band cutoffs must be ordered: medium <= high <= critical")
	}

	if c.ApprovalTTL <= 0 {
		return fmt.Errorf("APPROVAL_TTL_MINUTES must be positive")
	}

	return nil
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
