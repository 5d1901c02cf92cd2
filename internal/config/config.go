package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"

	"github.com/qoshimcha/support-chat-go/internal/util"
)

type Config struct {
	Port                      int               `env:"PORT" envDefault:"8080"`
	DatabaseURL               string            `env:"DATABASE_URL,required"`
	RedisURL                  string            `env:"REDIS_URL"`
	LogLevel                  string            `env:"LOG_LEVEL" envDefault:"info"`
	StaffTokens               map[string]string `env:"STAFF_TOKENS" envSeparator:"," envKeyValSeparator:"="`
	SessionIdleTimeoutMinutes int               `env:"SESSION_IDLE_TIMEOUT_MINUTES" envDefault:"1440"`
	CreateSessionLimitPerMin  int               `env:"CREATE_SESSION_LIMIT_PER_MIN" envDefault:"10"`
	SendMessageLimitPerMin    int               `env:"SEND_MESSAGE_LIMIT_PER_MIN" envDefault:"30"`
	MaxMessageLength          int               `env:"MAX_MESSAGE_LENGTH" envDefault:"4000"`
}

// SessionIdleTimeout is zero when idle archival is disabled.
func (c *Config) SessionIdleTimeout() time.Duration {
	if c.SessionIdleTimeoutMinutes <= 0 {
		return 0
	}
	return time.Duration(c.SessionIdleTimeoutMinutes) * time.Minute
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	for staffID, hash := range c.StaffTokens {
		if strings.TrimSpace(staffID) == "" {
			return fmt.Errorf("STAFF_TOKENS contains an empty staff id")
		}
		if strings.Contains(staffID, ".") {
			return fmt.Errorf("STAFF_TOKENS staff id %q must not contain '.'", staffID)
		}
		if !util.IsBcryptHash(hash) {
			return fmt.Errorf("STAFF_TOKENS entry for %q must be a bcrypt hash (generate with: go run scripts/hash-staff-token.go <staff-id>)", staffID)
		}
	}

	if c.MaxMessageLength <= 0 {
		return fmt.Errorf("MAX_MESSAGE_LENGTH must be positive")
	}

	if len(c.StaffTokens) == 0 {
		log.Warn().Msg("STAFF_TOKENS is empty: staff console endpoints will reject every request")
	}

	if isProduction {
		if c.RedisURL == "" {
			log.Warn().Msg("REDIS_URL is empty in production: fan-out and rate limits are process-local")
		} else if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
