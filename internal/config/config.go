// Package config defines runtime configuration for the relay: the listen
// address, WebSocket security controls, the ghost passphrase, and store
// backend selection. Values come from an optional TOML file with environment
// variables layered on top; anything left unset falls back to a sane
// default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Store backend names accepted in configuration.
const (
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
)

// Environment variable names recognized by ApplyEnv.
const (
	EnvAddr              = "SPECTRECHAT_ADDR"
	EnvAllowedOrigins    = "SPECTRECHAT_ALLOWED_ORIGINS"
	EnvMaxMessageSize    = "SPECTRECHAT_MAX_MESSAGE_SIZE"
	EnvRateLimitBurst    = "SPECTRECHAT_RATE_LIMIT_BURST"
	EnvRateLimitRefill   = "SPECTRECHAT_RATE_LIMIT_REFILL_SECONDS"
	EnvGhostPasskey      = "SPECTRECHAT_GHOST_PASSKEY"
	EnvStoreBackend      = "SPECTRECHAT_STORE_BACKEND"
	EnvDynamoConnections = "SPECTRECHAT_DYNAMO_CONNECTIONS_TABLE"
	EnvDynamoCounters    = "SPECTRECHAT_DYNAMO_COUNTERS_TABLE"
	EnvDynamoRegion      = "SPECTRECHAT_DYNAMO_REGION"
	EnvDynamoEndpoint    = "SPECTRECHAT_DYNAMO_ENDPOINT"
)

// RateLimitConfig defines per-connection message rate limiting.
type RateLimitConfig struct {
	Burst         int `toml:"burst"`
	RefillSeconds int `toml:"refill_seconds"`
}

// RefillInterval returns the refill window as a duration.
func (rl RateLimitConfig) RefillInterval() time.Duration {
	return time.Duration(rl.RefillSeconds) * time.Second
}

// StoreConfig selects and parameterizes the store backend.
type StoreConfig struct {
	Backend string       `toml:"backend"`
	Dynamo  DynamoConfig `toml:"dynamo"`
}

// DynamoConfig holds DynamoDB table names and region settings. Endpoint is
// an optional override for local stacks.
type DynamoConfig struct {
	ConnectionsTable string `toml:"connections_table"`
	CountersTable    string `toml:"counters_table"`
	Region           string `toml:"region"`
	Endpoint         string `toml:"endpoint"`
}

// Config holds the full server configuration.
type Config struct {
	Addr           string          `toml:"addr"`
	AllowedOrigins []string        `toml:"allowed_origins"`
	MaxMessageSize int64           `toml:"max_message_size"`
	RateLimit      RateLimitConfig `toml:"rate_limit"`
	GhostPasskey   string          `toml:"ghost_passkey"`
	Store          StoreConfig     `toml:"store"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		Addr:           ":8080",
		AllowedOrigins: []string{"http://localhost:8080"},
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:         5,
			RefillSeconds: 1,
		},
		GhostPasskey: "Akm032",
		Store: StoreConfig{
			Backend: BackendMemory,
			Dynamo: DynamoConfig{
				ConnectionsTable: "ChatConnections",
				CountersTable:    "ChatCounters",
			},
		},
	}
}

// Load reads the TOML file at path over the defaults, then applies
// environment overrides and sanitization. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}
	cfg.ApplyEnv()
	cfg.sanitize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays recognized environment variables onto the config.
func (c *Config) ApplyEnv() {
	if addr := os.Getenv(EnvAddr); addr != "" {
		c.Addr = addr
	}
	if origins := os.Getenv(EnvAllowedOrigins); origins != "" {
		c.AllowedOrigins = splitList(origins)
	}
	if size := os.Getenv(EnvMaxMessageSize); size != "" {
		if parsed, err := strconv.ParseInt(size, 10, 64); err == nil && parsed > 0 {
			c.MaxMessageSize = parsed
		}
	}
	if burst := os.Getenv(EnvRateLimitBurst); burst != "" {
		if parsed, err := strconv.Atoi(burst); err == nil && parsed > 0 {
			c.RateLimit.Burst = parsed
		}
	}
	if refill := os.Getenv(EnvRateLimitRefill); refill != "" {
		if parsed, err := strconv.Atoi(refill); err == nil && parsed > 0 {
			c.RateLimit.RefillSeconds = parsed
		}
	}
	if passkey := os.Getenv(EnvGhostPasskey); passkey != "" {
		c.GhostPasskey = passkey
	}
	if backend := os.Getenv(EnvStoreBackend); backend != "" {
		c.Store.Backend = backend
	}
	if table := os.Getenv(EnvDynamoConnections); table != "" {
		c.Store.Dynamo.ConnectionsTable = table
	}
	if table := os.Getenv(EnvDynamoCounters); table != "" {
		c.Store.Dynamo.CountersTable = table
	}
	if region := os.Getenv(EnvDynamoRegion); region != "" {
		c.Store.Dynamo.Region = region
	}
	if endpoint := os.Getenv(EnvDynamoEndpoint); endpoint != "" {
		c.Store.Dynamo.Endpoint = endpoint
	}
}

func (c *Config) sanitize() {
	defaults := Default()
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = defaults.Addr
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = defaults.RateLimit.Burst
	}
	if c.RateLimit.RefillSeconds <= 0 {
		c.RateLimit.RefillSeconds = defaults.RateLimit.RefillSeconds
	}
	if strings.TrimSpace(c.GhostPasskey) == "" {
		c.GhostPasskey = defaults.GhostPasskey
	}
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = BackendMemory
	}
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case BackendMemory:
		return nil
	case BackendDynamoDB:
		if strings.TrimSpace(c.Store.Dynamo.ConnectionsTable) == "" {
			return fmt.Errorf("dynamodb backend requires a connections table name")
		}
		if strings.TrimSpace(c.Store.Dynamo.CountersTable) == "" {
			return fmt.Errorf("dynamodb backend requires a counters table name")
		}
		return nil
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
