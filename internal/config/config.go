package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Ledger modes.
const (
	LedgerSimulator = "simulator"
	LedgerLocal     = "local"
	LedgerEthereum  = "ethereum"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	JWTSecret         string        `mapstructure:"JWT_SECRET"`
	JWTTTL            time.Duration `mapstructure:"JWT_TTL"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	LedgerMode        string        `mapstructure:"LEDGER_MODE"`
	LedgerRPCURL      string        `mapstructure:"LEDGER_RPC_URL"`
	LedgerDataDir     string        `mapstructure:"LEDGER_DATA_DIR"`
	LedgerTimeout     time.Duration `mapstructure:"LEDGER_TIMEOUT"`
	LedgerFromAddress string        `mapstructure:"LEDGER_FROM_ADDRESS"`
	AnchorLockTTL     time.Duration `mapstructure:"ANCHOR_LOCK_TTL"`
	FingerprintScheme string        `mapstructure:"FINGERPRINT_SCHEME"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "5000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("JWT_TTL", "24h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("LEDGER_MODE", LedgerSimulator)
	v.SetDefault("LEDGER_RPC_URL", "http://localhost:8545")
	v.SetDefault("LEDGER_DATA_DIR", "./data/ledger")
	v.SetDefault("LEDGER_TIMEOUT", "5s")
	v.SetDefault("ANCHOR_LOCK_TTL", "30s")
	v.SetDefault("FINGERPRINT_SCHEME", "legacy")

	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
		"JWT_SECRET", "JWT_TTL", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"LEDGER_MODE", "LEDGER_RPC_URL", "LEDGER_DATA_DIR", "LEDGER_TIMEOUT",
		"LEDGER_FROM_ADDRESS", "ANCHOR_LOCK_TTL", "FINGERPRINT_SCHEME",
	} {
		_ = v.BindEnv(key)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	cfg.LedgerMode = strings.ToLower(strings.TrimSpace(cfg.LedgerMode))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in development mode (ENV=development); requests without a token get admin access")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.LedgerMode {
	case LedgerSimulator, LedgerLocal:
	case LedgerEthereum:
		if c.LedgerRPCURL == "" {
			return fmt.Errorf("LEDGER_RPC_URL is required when LEDGER_MODE is %q", LedgerEthereum)
		}
	default:
		return fmt.Errorf("LEDGER_MODE must be %q, %q, or %q, got %q",
			LedgerSimulator, LedgerLocal, LedgerEthereum, c.LedgerMode)
	}

	if c.LedgerMode == LedgerLocal && c.LedgerDataDir == "" {
		return fmt.Errorf("LEDGER_DATA_DIR is required when LEDGER_MODE is %q", LedgerLocal)
	}

	if c.FingerprintScheme != "legacy" && c.FingerprintScheme != "v2" {
		return fmt.Errorf("FINGERPRINT_SCHEME must be \"legacy\" or \"v2\", got %q", c.FingerprintScheme)
	}

	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required outside development (current ENV=%q)", c.Env)
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 && c.IsProduction() {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}

	if c.LedgerTimeout < 0 {
		return fmt.Errorf("LEDGER_TIMEOUT must not be negative")
	}

	return nil
}
