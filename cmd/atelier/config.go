package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atelierhq/atelier/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify atelier configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/atelier/config.yaml
Project-specific overrides can be placed in .atelier.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	apiKeyDisplay := "(not set)"
	if cfg.Anthropic.APIKey != "" {
		apiKeyDisplay = "****"
	}

	fmt.Printf("anthropic.api_key: %s\n", apiKeyDisplay)
	fmt.Printf("anthropic.model: %s\n", cfg.Anthropic.Model)
	fmt.Printf("anthropic.max_tokens: %d\n", cfg.Anthropic.MaxTokens)
	fmt.Printf("anthropic.use_aws_bedrock: %t\n", cfg.Anthropic.UseAWSBedrock)
	fmt.Printf("workspace.root: %s\n", cfg.Workspace.Root)
	fmt.Printf("server.addr: %s\n", cfg.Server.Addr)
	fmt.Printf("orchestrator.max_iterations: %d\n", cfg.Orchestrator.MaxIterations)
	fmt.Printf("orchestrator.max_failures: %d\n", cfg.Orchestrator.MaxFailures)
	fmt.Printf("orchestrator.history_replay: %d\n", cfg.Orchestrator.HistoryReplay)
	fmt.Printf("log.level: %s\n", cfg.Log.Level)
	fmt.Printf("log.pretty: %t\n", cfg.Log.Pretty)
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		if cfg.Anthropic.APIKey == "" {
			return "(not set)", nil
		}
		return "****", nil
	case "anthropic.model":
		return cfg.Anthropic.Model, nil
	case "anthropic.max_tokens":
		return strconv.FormatInt(cfg.Anthropic.MaxTokens, 10), nil
	case "anthropic.use_aws_bedrock":
		return strconv.FormatBool(cfg.Anthropic.UseAWSBedrock), nil
	case "workspace.root":
		return cfg.Workspace.Root, nil
	case "server.addr":
		return cfg.Server.Addr, nil
	case "orchestrator.max_iterations":
		return strconv.Itoa(cfg.Orchestrator.MaxIterations), nil
	case "orchestrator.max_failures":
		return strconv.Itoa(cfg.Orchestrator.MaxFailures), nil
	case "orchestrator.history_replay":
		return strconv.Itoa(cfg.Orchestrator.HistoryReplay), nil
	case "log.level":
		return cfg.Log.Level, nil
	case "log.pretty":
		return strconv.FormatBool(cfg.Log.Pretty), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "anthropic.model":
		cfg.Anthropic.Model = value
	case "anthropic.max_tokens":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid value for max_tokens: %w", err)
		}
		cfg.Anthropic.MaxTokens = n
	case "anthropic.use_aws_bedrock":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for use_aws_bedrock: %w", err)
		}
		cfg.Anthropic.UseAWSBedrock = b
	case "workspace.root":
		cfg.Workspace.Root = value
	case "server.addr":
		cfg.Server.Addr = value
	case "orchestrator.max_iterations":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_iterations: %w", err)
		}
		cfg.Orchestrator.MaxIterations = n
	case "orchestrator.max_failures":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_failures: %w", err)
		}
		cfg.Orchestrator.MaxFailures = n
	case "orchestrator.history_replay":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for history_replay: %w", err)
		}
		cfg.Orchestrator.HistoryReplay = n
	case "log.level":
		cfg.Log.Level = value
	case "log.pretty":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for pretty: %w", err)
		}
		cfg.Log.Pretty = b
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
