package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/loanpricer/internal/domain"
)

// loadConfig builds the configuration: tier defaults, then the optional YAML
// file, then LOANPRICER_* environment overrides.
func loadConfig(path string) (*domain.Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	tier := domain.TierCommunity
	if len(data) > 0 {
		var probe struct {
			Tier domain.Tier `yaml:"tier"`
		}
		if err := yaml.Unmarshal(data, &probe); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if probe.Tier != "" {
			tier = probe.Tier
		}
	}
	if env := os.Getenv("LOANPRICER_TIER"); env != "" {
		tier = domain.Tier(env)
	}

	var cfg *domain.Config
	switch tier {
	case domain.TierCommunity:
		cfg = domain.DefaultConfig()
	case domain.TierPro:
		cfg = domain.ProConfig()
	default:
		return nil, fmt.Errorf("unknown tier %q", tier)
	}

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.Tier = tier
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *domain.Config) error {
	if v := os.Getenv("LOANPRICER_DB_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("LOANPRICER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LOANPRICER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("LOANPRICER_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("LOANPRICER_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}

	if v := os.Getenv("LOANPRICER_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("LOANPRICER_POSTGRES_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LOANPRICER_POSTGRES_PORT: %w", err)
		}
		cfg.Repository.PostgresPort = port
	}
	if v := os.Getenv("LOANPRICER_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("LOANPRICER_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("LOANPRICER_POSTGRES_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := os.Getenv("LOANPRICER_POSTGRES_SSLMODE"); v != "" {
		cfg.Repository.PostgresSSLMode = v
	}

	if os.Getenv("LOANPRICER_ASYNC_WORKER") == "true" {
		cfg.Worker.Enabled = true
	}
	if v := os.Getenv("LOANPRICER_TENANTS"); v != "" {
		cfg.Worker.TenantIDs = nil
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				cfg.Worker.TenantIDs = append(cfg.Worker.TenantIDs, t)
			}
		}
	}
	return nil
}

// newLogger returns a slog logger honouring the configured level and format.
// LOANPRICER_DEBUG=true forces debug.
func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv("LOANPRICER_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
