// Package config loads daemon configuration from the environment and the
// optional token bootstrap file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the full daemon configuration.
type Config struct {
	HTTP      HTTPConfig
	Staking   StakingConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Logging   LoggingConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	PriceFeed PriceFeedConfig
}

type HTTPConfig struct {
	Addr            string        `env:"STAKING_HTTP_ADDR,default=:8080"`
	ShutdownTimeout time.Duration `env:"STAKING_SHUTDOWN_TIMEOUT,default=10s"`
}

type StakingConfig struct {
	Owner       string `env:"STAKING_OWNER"`
	Custody     string `env:"STAKING_CUSTODY,default=staking-vault"`
	RewardToken string `env:"STAKING_REWARD_TOKEN,default=KLA"`
	LockDays    int    `env:"STAKING_LOCK_DAYS,default=30"`
	TokensFile  string `env:"STAKING_TOKENS_FILE"`
}

// LockDuration converts LockDays to a duration.
func (c StakingConfig) LockDuration() time.Duration {
	return time.Duration(c.LockDays) * 24 * time.Hour
}

type DatabaseConfig struct {
	DSN             string        `env:"DATABASE_DSN"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME,default=5m"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,default=0"`
}

type LoggingConfig struct {
	Level      string `env:"LOG_LEVEL,default=info"`
	Format     string `env:"LOG_FORMAT,default=text"`
	Output     string `env:"LOG_OUTPUT,default=stdout"`
	FilePrefix string `env:"LOG_FILE_PREFIX"`
}

type AuthConfig struct {
	JWTSecret string `env:"AUTH_JWT_SECRET"`
}

type RateLimitConfig struct {
	RPS   float64 `env:"RATE_LIMIT_RPS,default=20"`
	Burst int     `env:"RATE_LIMIT_BURST,default=40"`
}

type PriceFeedConfig struct {
	FetchURL  string `env:"PRICEFEED_FETCH_URL"`
	FetchKey  string `env:"PRICEFEED_FETCH_KEY"`
	PricePath string `env:"PRICEFEED_PRICE_PATH,default=price"`
}

// Load reads the given .env files (missing files are skipped; with no
// arguments ".env" is tried) and decodes the environment into a Config.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the daemon cannot run without.
func (c *Config) Validate() error {
	c.Staking.Owner = strings.TrimSpace(c.Staking.Owner)
	if c.Staking.Owner == "" {
		return errors.New("STAKING_OWNER is required")
	}
	if strings.TrimSpace(c.Staking.Custody) == "" {
		return errors.New("STAKING_CUSTODY cannot be empty")
	}
	if c.Staking.LockDays <= 0 {
		return fmt.Errorf("STAKING_LOCK_DAYS must be positive, got %d", c.Staking.LockDays)
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return errors.New("rate limit settings must be non-negative")
	}
	return nil
}
