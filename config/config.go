// Package config provides configuration loading and management for
// Agentboard. Configuration layers: built-in defaults, an optional
// agentboard.yaml file, then environment variables.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/c360studio/agentboard/model"
)

// ExecMode selects real CLI execution or the dry-run short circuit.
type ExecMode string

const (
	ExecReal   ExecMode = "real"
	ExecDryRun ExecMode = "dry-run"
)

// Config is the complete Agentboard configuration.
type Config struct {
	Data     DataConfig     `yaml:"data"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Workers  WorkersConfig  `yaml:"workers"`
	Engines  EnginesConfig  `yaml:"engines"`
	Review   ReviewConfig   `yaml:"review"`
	Worktree WorktreeConfig `yaml:"worktree"`
	Stream   StreamConfig   `yaml:"stream"`
	CORS     CORSConfig     `yaml:"cors"`
}

// DataConfig locates the persisted documents.
type DataConfig struct {
	// Root is the directory holding projects.json and projects/<id>/.
	Root string `yaml:"root"`
	// EventCap bounds the per-project event ring.
	EventCap int `yaml:"event_cap"`
}

// DispatchConfig drives the two background loops.
type DispatchConfig struct {
	Interval            time.Duration `yaml:"interval"`
	HealthInterval      time.Duration `yaml:"health_interval"`
	AutoRetryDelay      time.Duration `yaml:"auto_retry_delay"`
	RateLimitRetryDelay time.Duration `yaml:"rate_limit_retry_delay"`
	// Enabled gates the dispatch loop; the health loop runs regardless.
	Enabled bool `yaml:"enabled"`
}

// WorkersConfig shapes the fixed worker pool.
type WorkersConfig struct {
	Pool                   []model.WorkerSpec `yaml:"pool"`
	HeartbeatTimeout       time.Duration      `yaml:"heartbeat_timeout"`
	Cooldown               time.Duration      `yaml:"cooldown"`
	MaxConsecutiveFailures int                `yaml:"max_consecutive_failures"`
}

// EnginesConfig names the two engine CLIs and the execution mode.
type EnginesConfig struct {
	ACLI        string        `yaml:"a_cli"`
	BCLI        string        `yaml:"b_cli"`
	ExecMode    ExecMode      `yaml:"exec_mode"`
	PlanTimeout time.Duration `yaml:"plan_timeout"`
}

// ReviewConfig bounds the adversarial fix-verify loop.
type ReviewConfig struct {
	MaxRounds int `yaml:"max_rounds"`
}

// WorktreeConfig selects the worktree provider.
type WorktreeConfig struct {
	// Provider is "git", "external", or "auto" (external when a command
	// template is configured, git otherwise).
	Provider string `yaml:"provider"`
	// ExternalCommand is a template with {repo} {path} {branch}
	// placeholders, run instead of the native git provider.
	ExternalCommand string `yaml:"external_command"`
	// Mainline is the integration branch completed work merges into.
	Mainline string `yaml:"mainline"`
	// FetchTimeout, ResetTimeout and MergeTimeout bound the git
	// subprocess calls.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	MergeTimeout time.Duration `yaml:"merge_timeout"`
}

// StreamConfig configures the change-stream broadcast.
type StreamConfig struct {
	// NATSURL, when set, mirrors every change-stream envelope to NATS
	// in addition to in-process subscribers.
	NATSURL string `yaml:"nats_url"`
	// Subject is the NATS subject prefix for mirrored envelopes.
	Subject string `yaml:"subject"`
}

// CORSConfig is consumed by the out-of-scope HTTP surface.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DefaultConfig returns a Config with safe defaults.
func DefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			Root:     "data",
			EventCap: 2000,
		},
		Dispatch: DispatchConfig{
			Interval:            5 * time.Second,
			HealthInterval:      30 * time.Second,
			AutoRetryDelay:      10 * time.Second,
			RateLimitRetryDelay: 15 * time.Minute,
			Enabled:             true,
		},
		Workers: WorkersConfig{
			Pool:                   DefaultWorkerPool(),
			HeartbeatTimeout:       120 * time.Second,
			Cooldown:               60 * time.Second,
			MaxConsecutiveFailures: 5,
		},
		Engines: EnginesConfig{
			ACLI:        "a-cli",
			BCLI:        "b-cli",
			ExecMode:    ExecReal,
			PlanTimeout: 45 * time.Second,
		},
		Review: ReviewConfig{
			MaxRounds: 3,
		},
		Worktree: WorktreeConfig{
			Provider:     "auto",
			Mainline:     "main",
			FetchTimeout: 30 * time.Second,
			ResetTimeout: 15 * time.Second,
			MergeTimeout: 30 * time.Second,
		},
		Stream: StreamConfig{
			Subject: "agentboard.events",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Data.Root == "" {
		return fmt.Errorf("data.root is required")
	}
	if c.Data.EventCap < 1 {
		return fmt.Errorf("data.event_cap must be positive")
	}
	if c.Dispatch.Interval <= 0 {
		return fmt.Errorf("dispatch.interval must be positive")
	}
	if c.Dispatch.HealthInterval <= 0 {
		return fmt.Errorf("dispatch.health_interval must be positive")
	}
	if len(c.Workers.Pool) == 0 {
		return fmt.Errorf("workers.pool must not be empty")
	}
	seen := make(map[string]bool, len(c.Workers.Pool))
	for _, spec := range c.Workers.Pool {
		if spec.ID == "" {
			return fmt.Errorf("workers.pool entries need an id")
		}
		if seen[spec.ID] {
			return fmt.Errorf("duplicate worker id %q", spec.ID)
		}
		seen[spec.ID] = true
		if !spec.Engine.Valid() {
			return fmt.Errorf("worker %s: engine must be %s or %s", spec.ID, model.EngineA, model.EngineB)
		}
	}
	if c.Engines.ACLI == "" || c.Engines.BCLI == "" {
		return fmt.Errorf("engine CLI names are required")
	}
	if c.Engines.ExecMode != ExecReal && c.Engines.ExecMode != ExecDryRun {
		return fmt.Errorf("engines.exec_mode must be %q or %q", ExecReal, ExecDryRun)
	}
	if c.Review.MaxRounds < 1 {
		return fmt.Errorf("review.max_rounds must be positive")
	}
	if c.Worktree.Mainline == "" {
		return fmt.Errorf("worktree.mainline is required")
	}
	return nil
}

// CLIFor returns the configured CLI binary for an engine.
func (c *Config) CLIFor(engine model.Engine) string {
	if engine == model.EngineB {
		return c.Engines.BCLI
	}
	return c.Engines.ACLI
}

// ProjectsFile is the registry path under the data root.
func (c *Config) ProjectsFile() string {
	return filepath.Join(c.Data.Root, "projects.json")
}

// TasksFile is the per-project document path under the data root.
func (c *Config) TasksFile(projectID string) string {
	return filepath.Join(c.Data.Root, "projects", projectID, "tasks.json")
}
