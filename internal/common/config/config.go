// Package config provides configuration management for Archon.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for Archon.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Worktree     WorktreeConfig     `mapstructure:"worktree"`
	Platforms    PlatformsConfig    `mapstructure:"platforms"`
	Assistant    AssistantConfig    `mapstructure:"assistant"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds the SQLite database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// WorktreeConfig holds git worktree configuration.
type WorktreeConfig struct {
	BasePath           string `mapstructure:"basePath"`           // Base directory for worktrees
	MaxPerCodebase     int    `mapstructure:"maxPerCodebase"`     // Active worktree ceiling per codebase
	StaleThresholdDays int    `mapstructure:"staleThresholdDays"` // Days without activity before a worktree counts as stale
}

// PlatformConfig holds the credentials and allowlist for one chat platform.
type PlatformConfig struct {
	Token        string `mapstructure:"token"`
	AllowedUsers string `mapstructure:"allowedUsers"` // comma-separated; empty means open access
}

// PlatformsConfig groups the per-platform configurations.
type PlatformsConfig struct {
	Telegram PlatformConfig `mapstructure:"telegram"`
	Discord  PlatformConfig `mapstructure:"discord"`
	Slack    PlatformConfig `mapstructure:"slack"`
	GitHub   PlatformConfig `mapstructure:"github"`
}

// AssistantConfig holds AI assistant client configuration.
type AssistantConfig struct {
	ClaudeBinary string `mapstructure:"claudeBinary"`
	CodexBinary  string `mapstructure:"codexBinary"`
	DefaultType  string `mapstructure:"defaultType"`
}

// OrchestratorConfig holds message dispatch configuration.
type OrchestratorConfig struct {
	MaxConcurrent int `mapstructure:"maxConcurrent"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// StaleThreshold returns the stale worktree threshold as a time.Duration.
func (w *WorktreeConfig) StaleThreshold() time.Duration {
	return time.Duration(w.StaleThresholdDays) * 24 * time.Hour
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults
	v.SetDefault("database.path", "archon.db")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "archon")
	v.SetDefault("nats.maxReconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "")
	v.SetDefault("logging.outputPath", "stdout")

	// Worktree defaults
	v.SetDefault("worktree.basePath", "~/.archon/worktrees")
	v.SetDefault("worktree.maxPerCodebase", 25)
	v.SetDefault("worktree.staleThresholdDays", 7)

	// Platform defaults - empty allowlists mean open access
	v.SetDefault("platforms.telegram.token", "")
	v.SetDefault("platforms.telegram.allowedUsers", "")
	v.SetDefault("platforms.discord.token", "")
	v.SetDefault("platforms.discord.allowedUsers", "")
	v.SetDefault("platforms.slack.token", "")
	v.SetDefault("platforms.slack.allowedUsers", "")
	v.SetDefault("platforms.github.token", "")
	v.SetDefault("platforms.github.allowedUsers", "")

	// Assistant defaults
	v.SetDefault("assistant.claudeBinary", "claude")
	v.SetDefault("assistant.codexBinary", "codex")
	v.SetDefault("assistant.defaultType", "claude-code")

	// Orchestrator defaults
	v.SetDefault("orchestrator.maxConcurrent", 10)
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix ARCHON_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/archon/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("ARCHON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings where env var naming differs from the config key naming.
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("platforms.telegram.allowedUsers", "ARCHON_TELEGRAM_ALLOWED_USERS")
	_ = v.BindEnv("platforms.discord.allowedUsers", "ARCHON_DISCORD_ALLOWED_USERS")
	_ = v.BindEnv("platforms.slack.allowedUsers", "ARCHON_SLACK_ALLOWED_USERS")
	_ = v.BindEnv("platforms.github.allowedUsers", "ARCHON_GITHUB_ALLOWED_USERS")
	_ = v.BindEnv("worktree.basePath", "ARCHON_WORKTREE_BASE_PATH")
	_ = v.BindEnv("worktree.maxPerCodebase", "ARCHON_WORKTREE_MAX_PER_CODEBASE")
	_ = v.BindEnv("worktree.staleThresholdDays", "ARCHON_WORKTREE_STALE_THRESHOLD_DAYS")
	_ = v.BindEnv("orchestrator.maxConcurrent", "ARCHON_ORCHESTRATOR_MAX_CONCURRENT")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/archon/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if cfg.Worktree.MaxPerCodebase <= 0 {
		errs = append(errs, "worktree.maxPerCodebase must be positive")
	}
	if cfg.Worktree.StaleThresholdDays <= 0 {
		errs = append(errs, "worktree.staleThresholdDays must be positive")
	}

	if cfg.Orchestrator.MaxConcurrent <= 0 {
		errs = append(errs, "orchestrator.maxConcurrent must be positive")
	}

	validAssistants := map[string]bool{"claude-code": true, "codex": true, "mock": true}
	if !validAssistants[cfg.Assistant.DefaultType] {
		errs = append(errs, "assistant.defaultType must be one of: claude-code, codex, mock")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
