package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPPort    int    `envconfig:"HTTP_PORT" default:"8080"` // observer websocket, /metrics, /health

	// Browser origins allowed to open the observer websocket, comma
	// separated; "*" allows any. Requests without an Origin are always accepted.
	ObserverOrigins string `envconfig:"OBSERVER_ALLOWED_ORIGINS"`

	// Project layout. The root is mandatory: both the assembler and the
	// process supervisor derive every path from it.
	ProjectRoot   string `envconfig:"ORDER_PARSER_PROCESSOR_ROOT" required:"true"`
	SourceRoot    string `envconfig:"BUILD_SOURCE_ROOT"`    // default <root>/backend
	GeneratedRoot string `envconfig:"BUILD_GENERATED_ROOT"` // default <root>/backend/generated
	OutputRoot    string `envconfig:"BUILD_OUTPUT_ROOT"`    // default <root>/../output_bin

	// Process supervisor
	ProcessGracePeriod time.Duration `envconfig:"PROCESS_GRACE_PERIOD" default:"5s"`

	// RPC endpoints
	AlertListenAddr string `envconfig:"ALERT_LISTEN_ADDR" default:":50053"`
	MarketDataAddr  string `envconfig:"MARKET_DATA_ADDR" default:"localhost:50052"`
	CoreAddr        string `envconfig:"CORE_ADDR" default:"localhost:50051"`

	// Script catalog
	DBPath string `envconfig:"DB_PATH" default:"scripts.db"`

	// Management API
	MgmtListenAddr     string `envconfig:"MGMT_LISTEN_ADDR" default:":8090"`
	MgmtAuthMode       string `envconfig:"MGMT_AUTH_MODE" default:"none"` // none, api-key, jwt
	MgmtAPIKey         string `envconfig:"MGMT_API_KEY"`
	MgmtJWTSecret      string `envconfig:"MGMT_JWT_SECRET"`
	MgmtRateLimitRPS   int    `envconfig:"MGMT_RATE_LIMIT_RPS" default:"100"`
	MgmtRateLimitBurst int    `envconfig:"MGMT_RATE_LIMIT_BURST" default:"200"`
	MgmtCORSOrigins    string `envconfig:"MGMT_CORS_ORIGINS"`

	// Housekeeping: audit retention and abandoned build trees
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// ResolvedSourceRoot returns the directory holding includes/ and src/.
func (c *Config) ResolvedSourceRoot() string {
	if c.SourceRoot != "" {
		return c.SourceRoot
	}
	return filepath.Join(c.ProjectRoot, "backend")
}

// ResolvedGeneratedRoot returns the directory holding the generated
// protocol code (messages/ and services/).
func (c *Config) ResolvedGeneratedRoot() string {
	if c.GeneratedRoot != "" {
		return c.GeneratedRoot
	}
	return filepath.Join(c.ResolvedSourceRoot(), "generated")
}

// ResolvedOutputRoot returns the root under which per-script build trees
// and binaries live.
func (c *Config) ResolvedOutputRoot() string {
	if c.OutputRoot != "" {
		return c.OutputRoot
	}
	return filepath.Clean(filepath.Join(c.ProjectRoot, "..", "output_bin"))
}

// ObserverOriginList splits ObserverOrigins.
func (c *Config) ObserverOriginList() []string {
	var out []string
	for _, o := range strings.Split(c.ObserverOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// IsDevelopment reports whether human-readable console logging should be used.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.ProjectRoot) == "" {
		return fmt.Errorf("ORDER_PARSER_PROCESSOR_ROOT is not set")
	}
	switch c.MgmtAuthMode {
	case "none", "api-key", "jwt":
	default:
		return fmt.Errorf("invalid MGMT_AUTH_MODE %q", c.MgmtAuthMode)
	}
	if c.MgmtAuthMode == "jwt" && c.MgmtJWTSecret == "" {
		return fmt.Errorf("MGMT_JWT_SECRET is required when MGMT_AUTH_MODE=jwt")
	}
	if c.ProcessGracePeriod <= 0 {
		return fmt.Errorf("PROCESS_GRACE_PERIOD must be positive")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return LoadWithPrefix("")
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}
