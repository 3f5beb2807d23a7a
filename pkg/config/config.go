// Cricket Bridge - WhatsApp relay for the CSCC cricket agent
// License: MIT
//
// Copyright (c) 2026 Cricket Bridge contributors

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process-wide bridge configuration. It is loaded once at
// startup and never mutated afterwards.
type Config struct {
	// Port is the listen port of the relay HTTP surface.
	Port int `env:"PORT" envDefault:"8080"`

	// AgentBaseURL is the base URL of the upstream answering service.
	AgentBaseURL string `env:"AGENT_BASE_URL" envDefault:"http://localhost:8000"`

	// TriggerPrefix marks a chat message as addressed to the bridge.
	TriggerPrefix string `env:"TRIGGER_PREFIX" envDefault:"!cscc"`

	// MentionTrigger also accepts messages that mention the bridge's own
	// WhatsApp identity instead of carrying the prefix.
	MentionTrigger bool `env:"MENTION_TRIGGER" envDefault:"true"`

	// RelayToken authenticates POST /relay callers and is forwarded to the
	// upstream service as X-Relay-Token. Never logged.
	RelayToken string `env:"RELAY_TOKEN"`

	// SocketURL is the WhatsApp sidecar's websocket endpoint.
	SocketURL string `env:"WA_SOCKET_URL" envDefault:"ws://localhost:3001/ws"`

	// SessionBucket enables the GCS session backend when non-empty.
	SessionBucket string `env:"SESSION_BUCKET"`

	// SessionSecret enables the Secret Manager session backend when
	// non-empty. Full resource name, e.g.
	// projects/<p>/secrets/wa-session.
	SessionSecret string `env:"SESSION_SECRET_NAME"`

	// AllowedGroups restricts group chats the bridge answers in.
	// Empty means all groups are allowed.
	AllowedGroups []string `env:"ALLOWED_GROUPS" envSeparator:","`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// HealthCron is the gronx schedule for the upstream health watcher.
	HealthCron string `env:"HEALTH_CRON" envDefault:"* * * * *"`

	// Rate limiting: per-chat burst within a rolling window.
	RateLimitBurst  int           `env:"RATE_LIMIT_BURST" envDefault:"3"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`

	// Reconnect policy for the transport socket. The delay is flat per
	// attempt; the forwarder's exponential backoff is a separate policy.
	ReconnectAttempts int           `env:"RECONNECT_ATTEMPTS" envDefault:"5"`
	ReconnectDelay    time.Duration `env:"RECONNECT_DELAY" envDefault:"5s"`
}

// Load reads configuration from the environment, with an optional .env file
// applied first. A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	// Trim stray whitespace from the CSV allow-list.
	groups := cfg.AllowedGroups[:0]
	for _, g := range cfg.AllowedGroups {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}
	cfg.AllowedGroups = groups

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the parts of the configuration the bridge cannot run
// without.
func (c *Config) Validate() error {
	if c.RelayToken == "" {
		return &Error{Field: "RELAY_TOKEN", Message: "required"}
	}
	if c.AgentBaseURL == "" {
		return &Error{Field: "AGENT_BASE_URL", Message: "required"}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return &Error{Field: "PORT", Message: fmt.Sprintf("invalid port %d", c.Port)}
	}
	if c.RateLimitBurst < 1 {
		return &Error{Field: "RATE_LIMIT_BURST", Message: "must be at least 1"}
	}
	return nil
}

// Error reports an invalid or missing configuration value.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return e.Field + ": " + e.Message
}
