package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Agent         AgentConfig         `toml:"agent"`
	Scheduler     SchedulerConfig     `toml:"scheduler"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
	Batches       []BatchConfig       `toml:"batches"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	RepoPath     string `toml:"repo_path"`
	WorktreeDir  string `toml:"worktree_dir"`
	DatabasePath string `toml:"database_path"`
	ProgressFile string `toml:"progress_file"`
}

// AgentConfig holds coding-agent subprocess settings
type AgentConfig struct {
	Command        string `toml:"command"`
	AttemptTimeout string `toml:"attempt_timeout"`
}

// SchedulerConfig holds worker-loop settings
type SchedulerConfig struct {
	MaxWorkers       int    `toml:"max_workers"`
	RetryLimit       int    `toml:"retry_limit"`
	PollInterval     string `toml:"poll_interval"`
	FixPriorityBonus int    `toml:"fix_priority_bonus"`
	RequirePlans     bool   `toml:"require_plans"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds HTTP API settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// BatchConfig describes one recurring prompt on a cron schedule
type BatchConfig struct {
	Name     string `toml:"name"`
	Cron     string `toml:"cron"`
	Prompt   string `toml:"prompt"`
	Priority int    `toml:"priority"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			RepoPath:     ".",
			WorktreeDir:  filepath.Join(home, ".cc-boss", "worktrees"),
			DatabasePath: filepath.Join(home, ".cc-boss", "cc-boss.db"),
			ProgressFile: "PROGRESS.md",
		},
		Agent: AgentConfig{
			Command:        "claude",
			AttemptTimeout: "30m",
		},
		Scheduler: SchedulerConfig{
			MaxWorkers:       5,
			RetryLimit:       2,
			PollInterval:     "2s",
			FixPriorityBonus: 1,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.RepoPath = ExpandPath(cfg.General.RepoPath)
	cfg.General.WorktreeDir = ExpandPath(cfg.General.WorktreeDir)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values that would wedge the scheduler at startup
func (c *Config) Validate() error {
	if c.Scheduler.MaxWorkers < 1 {
		return fmt.Errorf("scheduler.max_workers must be at least 1, got %d", c.Scheduler.MaxWorkers)
	}
	if c.Scheduler.RetryLimit < 0 {
		return fmt.Errorf("scheduler.retry_limit must not be negative, got %d", c.Scheduler.RetryLimit)
	}
	if _, err := time.ParseDuration(c.Agent.AttemptTimeout); err != nil {
		return fmt.Errorf("agent.attempt_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Scheduler.PollInterval); err != nil {
		return fmt.Errorf("scheduler.poll_interval: %w", err)
	}
	for i, b := range c.Batches {
		if b.Name == "" {
			return fmt.Errorf("batches[%d]: name is required", i)
		}
		if b.Cron == "" || b.Prompt == "" {
			return fmt.Errorf("batch %q: cron and prompt are required", b.Name)
		}
	}
	return nil
}

// AttemptTimeout returns the parsed per-attempt ceiling
func (c *Config) AttemptTimeout() time.Duration {
	d, err := time.ParseDuration(c.Agent.AttemptTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

// PollInterval returns the parsed idle-queue poll interval
func (c *Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.Scheduler.PollInterval)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// ProgressPath returns the absolute path of the shared progress file
func (c *Config) ProgressPath() string {
	if filepath.IsAbs(c.General.ProgressFile) {
		return c.General.ProgressFile
	}
	return filepath.Join(c.General.RepoPath, c.General.ProgressFile)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "cc-boss", "config.toml")
}
