// Package config loads service configuration from defaults, an optional YAML
// file and INTERVENE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/triage-ai/intervene/internal/engine"
	"github.com/triage-ai/intervene/internal/engine/handlers"
)

// EnvPrefix is the prefix of environment overrides. A double underscore
// separates nesting levels: INTERVENE_CHAIN__SINGLE_ACTION__MAX_PER_TURN.
const EnvPrefix = "INTERVENE_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Chain     ChainConfig     `koanf:"chain"`
	Storage   StorageConfig   `koanf:"storage"`
	Postgres  PostgresConfig  `koanf:"postgres"`
	Auth      AuthConfig      `koanf:"auth"`
	Session   SessionConfig   `koanf:"session"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// CORSOrigins lists origins allowed to call the API from a browser.
	// "*" allows any origin.
	CORSOrigins []string `koanf:"cors_origins"`
}

type LogConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
}

// ChainConfig holds server-wide handler defaults. Projects override them
// through their stored policy.
type ChainConfig struct {
	Order        []string           `koanf:"order"`
	Tripwire     TripwireConfig     `koanf:"tripwire"`
	DepthGuard   ToggleConfig       `koanf:"depth_guard"`
	SingleAction SingleActionConfig `koanf:"single_action"`
	Convergence  ConvergenceConfig  `koanf:"convergence"`
}

type ToggleConfig struct {
	Enabled bool `koanf:"enabled"`
}

type TripwireConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Patterns []string `koanf:"patterns"`
}

type SingleActionConfig struct {
	Enabled    bool `koanf:"enabled"`
	MaxPerTurn int  `koanf:"max_per_turn"`
}

type ConvergenceConfig struct {
	Enabled   bool    `koanf:"enabled"`
	Threshold float64 `koanf:"threshold"`
}

type StorageConfig struct {
	ClickHouseDSN string `koanf:"clickhouse_dsn"`
	SQLitePath    string `koanf:"sqlite_path"`
}

type PostgresConfig struct {
	DSN string `koanf:"dsn"`
}

type AuthConfig struct {
	CacheTTL time.Duration `koanf:"cache_ttl"`
	// StaticKey, when set without a Postgres DSN, authenticates every request
	// bearing it as StaticProjectID. Development only.
	StaticKey       string `koanf:"static_key"`
	StaticProjectID string `koanf:"static_project_id"`
}

type SessionConfig struct {
	IdleTTL       time.Duration `koanf:"idle_ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// Defaults returns the built-in configuration.
func Defaults() map[string]any {
	return map[string]any{
		"server.port":             8080,
		"server.read_timeout":     "10s",
		"server.write_timeout":    "30s",
		"server.idle_timeout":     "60s",
		"server.shutdown_timeout": "10s",
		"server.cors_origins":     []string{"*"},

		"log.level": "info",

		"chain.order":                      engine.DefaultOrder,
		"chain.tripwire.enabled":           true,
		"chain.tripwire.patterns":          handlers.DefaultTripwirePatterns,
		"chain.depth_guard.enabled":        true,
		"chain.single_action.enabled":      true,
		"chain.single_action.max_per_turn": handlers.DefaultMaxActionsPerTurn,
		"chain.convergence.enabled":        true,
		"chain.convergence.threshold":      handlers.DefaultConvergenceThreshold,

		"auth.cache_ttl":         "30s",
		"auth.static_project_id": "local",

		"session.idle_ttl":       "1h",
		"session.sweep_interval": "1m",

		"telemetry.enabled":      false,
		"telemetry.service_name": "intervene",
	}
}

// Load builds a Config. path may be empty; a missing file is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, val := range Defaults() {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("config.Load: default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config.Load: %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config.Load: env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	seen := make(map[string]bool, len(c.Chain.Order))
	for _, name := range c.Chain.Order {
		if !engine.IsKnownHandler(name) {
			errs = append(errs, fmt.Errorf("chain.order: unknown handler %q", name))
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("chain.order: duplicate handler %q", name))
		}
		seen[name] = true
	}
	if c.Chain.SingleAction.MaxPerTurn < 0 {
		errs = append(errs, fmt.Errorf("chain.single_action.max_per_turn must be >= 0, got %d", c.Chain.SingleAction.MaxPerTurn))
	}
	// Out-of-range thresholds are clamped when the detector is built.
	if math.IsNaN(c.Chain.Convergence.Threshold) {
		errs = append(errs, fmt.Errorf("chain.convergence.threshold must be a number"))
	}
	if c.Session.IdleTTL < 0 {
		errs = append(errs, fmt.Errorf("session.idle_ttl must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config.Validate: %w", errors.Join(errs...))
	}
	return nil
}

// HandlerSettings converts the chain section into builder settings.
func (c *Config) HandlerSettings() handlers.Settings {
	return handlers.Settings{
		Order:                append([]string(nil), c.Chain.Order...),
		TripwireEnabled:      c.Chain.Tripwire.Enabled,
		TripwirePatterns:     append([]string(nil), c.Chain.Tripwire.Patterns...),
		DepthGuardEnabled:    c.Chain.DepthGuard.Enabled,
		SingleActionEnabled:  c.Chain.SingleAction.Enabled,
		MaxActionsPerTurn:    c.Chain.SingleAction.MaxPerTurn,
		ConvergenceEnabled:   c.Chain.Convergence.Enabled,
		ConvergenceThreshold: c.Chain.Convergence.Threshold,
	}
}
