// Package config loads domain.Config from a YAML file and KESTREL_*
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Environment overrides, applied after the file.
const (
	EnvTier       = "KESTREL_TIER"
	EnvDebug      = "KESTREL_DEBUG"
	EnvSeed       = "KESTREL_SEED"
	EnvPopulation = "KESTREL_POPULATION"
	EnvFraudRatio = "KESTREL_FRAUD_RATIO"
	EnvDBPath     = "KESTREL_DB_PATH"
	EnvPort       = "KESTREL_PORT"
)

// Load builds the configuration. The base is DefaultConfig, or ProConfig when
// KESTREL_TIER=pro. An empty path skips the file.
func Load(path string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if os.Getenv(EnvTier) == string(domain.TierPro) {
		cfg = domain.ProConfig()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to parse config file: %v", domain.ErrConfiguration, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *domain.Config) error {
	if os.Getenv(EnvDebug) == "true" {
		cfg.Logging.Level = "debug"
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv(EnvSeed); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return &domain.ConfigurationError{Field: EnvSeed, Reason: err.Error()}
		}
		cfg.Generation.Seed = n
	}
	if v := os.Getenv(EnvPopulation); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &domain.ConfigurationError{Field: EnvPopulation, Reason: err.Error()}
		}
		cfg.Generation.Population = n
	}
	if v := os.Getenv(EnvFraudRatio); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &domain.ConfigurationError{Field: EnvFraudRatio, Reason: err.Error()}
		}
		cfg.Generation.FraudRatio = f
	}
	if v := os.Getenv(EnvPort); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &domain.ConfigurationError{Field: EnvPort, Reason: err.Error()}
		}
		cfg.Server.Port = n
	}
	return nil
}

// Validate checks the collaborator settings and the generation config.
func Validate(cfg *domain.Config) error {
	switch {
	case cfg.Server.Port <= 0 || cfg.Server.Port > 65535:
		return &domain.ConfigurationError{Field: "server.port", Reason: fmt.Sprintf("%d is not a valid port", cfg.Server.Port)}
	case cfg.Tier != domain.TierCommunity && cfg.Tier != domain.TierPro:
		return &domain.ConfigurationError{Field: "tier", Reason: fmt.Sprintf("unknown tier %q", cfg.Tier)}
	}

	switch cfg.Repository.Driver {
	case "sqlite":
		if cfg.Repository.SQLitePath == "" {
			return &domain.ConfigurationError{Field: "repository.sqlitePath", Reason: "required for the sqlite driver"}
		}
	case "postgres":
	default:
		return &domain.ConfigurationError{Field: "repository.driver", Reason: fmt.Sprintf("unknown driver %q", cfg.Repository.Driver)}
	}

	if cfg.Cache.Type != "memory" && cfg.Cache.Type != "redis" {
		return &domain.ConfigurationError{Field: "cache.type", Reason: fmt.Sprintf("unknown cache %q", cfg.Cache.Type)}
	}
	if cfg.EventBus.Type != "channel" && cfg.EventBus.Type != "nats" {
		return &domain.ConfigurationError{Field: "eventBus.type", Reason: fmt.Sprintf("unknown event bus %q", cfg.EventBus.Type)}
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return &domain.ConfigurationError{Field: "logging.level", Reason: fmt.Sprintf("unknown level %q", cfg.Logging.Level)}
	}
	switch cfg.Logging.Format {
	case "", "json", "text":
	default:
		return &domain.ConfigurationError{Field: "logging.format", Reason: fmt.Sprintf("unknown format %q", cfg.Logging.Format)}
	}

	if t := cfg.Scoring.AlertThreshold; t <= 0 || t > 1 {
		return &domain.ConfigurationError{Field: "scoring.alertThreshold", Reason: fmt.Sprintf("%v is outside (0,1]", t)}
	}
	if cfg.Scoring.VectorTTL < 0 || cfg.Scoring.SharedIPBucket < 0 {
		return &domain.ConfigurationError{Field: "scoring", Reason: "durations must not be negative"}
	}

	return cfg.Generation.Validate()
}
