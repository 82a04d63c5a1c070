package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectConfigFile is the name of the project-level config file.
const ProjectConfigFile = "agentboard.yaml"

// Loader handles configuration loading with layered precedence.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load builds configuration with layered precedence:
// 1. Built-in defaults
// 2. YAML file (explicit path, else agentboard.yaml in the working dir)
// 3. Environment variables
func (l *Loader) Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		if _, err := os.Stat(ProjectConfigFile); err == nil {
			path = ProjectConfigFile
		}
	}
	if path != "" {
		if err := l.mergeFile(cfg, path); err != nil {
			return nil, err
		}
	}

	l.applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (l *Loader) mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	l.logger.Debug("Loaded config file", "path", path)
	return nil
}

// applyEnv overlays environment variables onto the config. Every knob of
// the configuration surface has an env name; unset or malformed values
// leave the current layer untouched.
func (l *Loader) applyEnv(cfg *Config) {
	envString(&cfg.Data.Root, "DATA_ROOT")
	envInt(&cfg.Data.EventCap, "EVENT_CAP")

	envSeconds(&cfg.Dispatch.Interval, "DISPATCH_INTERVAL_SEC")
	envSeconds(&cfg.Dispatch.HealthInterval, "HEALTH_INTERVAL_SEC")
	envSeconds(&cfg.Dispatch.AutoRetryDelay, "AUTO_RETRY_DELAY_SEC")
	envSeconds(&cfg.Dispatch.RateLimitRetryDelay, "RATE_LIMIT_RETRY_DELAY_SEC")
	envBool(&cfg.Dispatch.Enabled, "DISPATCH_ENABLED")

	envSeconds(&cfg.Workers.HeartbeatTimeout, "WORKER_HEARTBEAT_TIMEOUT_SEC")
	envSeconds(&cfg.Workers.Cooldown, "WORKER_COOLDOWN_SEC")
	envInt(&cfg.Workers.MaxConsecutiveFailures, "WORKER_MAX_CONSECUTIVE_FAILURES")

	envString(&cfg.Engines.ACLI, "ENGINE_A_CLI")
	envString(&cfg.Engines.BCLI, "ENGINE_B_CLI")
	envSeconds(&cfg.Engines.PlanTimeout, "PLAN_TIMEOUT_SEC")
	if v := os.Getenv("WORKER_EXEC_MODE"); v != "" {
		cfg.Engines.ExecMode = ExecMode(strings.ToLower(v))
	}

	envInt(&cfg.Review.MaxRounds, "MAX_REVIEW_ROUNDS")

	envString(&cfg.Worktree.Provider, "WORKTREE_PROVIDER")
	envString(&cfg.Worktree.ExternalCommand, "WORKTREE_EXTERNAL_CMD")
	envString(&cfg.Worktree.Mainline, "WORKTREE_MAINLINE")

	envString(&cfg.Stream.NATSURL, "NATS_URL")
	envString(&cfg.Stream.Subject, "STREAM_SUBJECT")

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORS.AllowedOrigins = strings.Split(v, ",")
	}
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envSeconds(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = time.Duration(n) * time.Second
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
