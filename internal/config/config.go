// Package config handles configuration loading for atelier. It supports
// XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for atelier.
type Config struct {
	Anthropic    AnthropicConfig    `mapstructure:"anthropic" yaml:"anthropic"`
	Workspace    WorkspaceConfig    `mapstructure:"workspace" yaml:"workspace"`
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Log          LogConfig          `mapstructure:"log" yaml:"log"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey        string `mapstructure:"api_key" yaml:"api_key"`
	Model         string `mapstructure:"model" yaml:"model"`
	MaxTokens     int64  `mapstructure:"max_tokens" yaml:"max_tokens"`
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock" yaml:"use_aws_bedrock"`
	AWSRegion     string `mapstructure:"aws_region" yaml:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile" yaml:"aws_profile"`
}

// WorkspaceConfig holds the project workspace settings.
type WorkspaceConfig struct {
	// Root is the directory holding all project sandboxes.
	Root string `mapstructure:"root" yaml:"root"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// OrchestratorConfig holds loop limits.
type OrchestratorConfig struct {
	// MaxIterations caps model calls per run.
	MaxIterations int `mapstructure:"max_iterations" yaml:"max_iterations"`
	// MaxFailures is the consecutive-failure streak that stops a run.
	MaxFailures int `mapstructure:"max_failures" yaml:"max_failures"`
	// HistoryReplay is how many stored messages seed a chat run.
	HistoryReplay int `mapstructure:"history_replay" yaml:"history_replay"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables. Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.atelier.yaml in current directory or a parent)
// 3. User config (~/.config/atelier/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	cfg.Workspace.Root = os.ExpandEnv(cfg.Workspace.Root)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	cfg.Workspace.Root = os.ExpandEnv(cfg.Workspace.Root)

	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("anthropic.use_aws_bedrock", false)

	v.SetDefault("workspace.root", defaultWorkspaceRoot())

	v.SetDefault("server.addr", "127.0.0.1:8480")

	v.SetDefault("orchestrator.max_iterations", 20)
	v.SetDefault("orchestrator.max_failures", 3)
	v.SetDefault("orchestrator.history_replay", 40)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
}

func defaultWorkspaceRoot() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "atelier", "projects")
}

func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "atelier")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "atelier")
	}
	return filepath.Join(home, ".config", "atelier")
}

// findProjectConfig searches for .atelier.yaml in the current directory
// and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".atelier.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Save writes the config to the user config file.
func Save(cfg *Config) error {
	dir := getUserConfigDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(GetUserConfigPath(), data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			MaxTokens: 8192,
		},
		Workspace: WorkspaceConfig{
			Root: defaultWorkspaceRoot(),
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8480",
		},
		Orchestrator: OrchestratorConfig{
			MaxIterations: 20,
			MaxFailures:   3,
			HistoryReplay: 40,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}
