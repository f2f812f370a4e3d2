package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage nimbus-demo configuration",
	Long:  "View or modify the configuration stored in ~/.nimbus/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a summary of the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Println("No configuration file found. Run 'nimbus-demo init <subscribe-key>' to create one.")
			return nil
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Printf("config file:    %s\n", path)
		fmt.Printf("base_url:       %s\n", valueOrDefault(cfg.Default.BaseURL, "(default)"))
		if cfg.Default.SubscribeKey != "" {
			fmt.Printf("subscribe_key:  %s\n", maskKey(cfg.Default.SubscribeKey))
		} else {
			fmt.Println("subscribe_key:  (not set)")
		}
		if cfg.Default.AuthKey != "" {
			fmt.Printf("auth_key:       %s\n", maskKey(cfg.Default.AuthKey))
		} else {
			fmt.Println("auth_key:       (not set)")
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key=value> [key=value ...]",
	Short: "Set one or more configuration values",
	Long:  "Set configuration values using dot notation key=value pairs.\nExample: nimbus-demo config set default.base_url=https://nimbus.example.com default.auth_key=s3cr3t",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		for _, pair := range args {
			key, value, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("argument %q must be in key=value form", pair)
			}
			if err := setConfigValue(cfg, key, value); err != nil {
				return err
			}
			fmt.Printf("Set %s = %s\n", key, value)
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		return nil
	},
}

func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.base_url)")
	}
	section, field := parts[0], parts[1]

	if section != "default" {
		return fmt.Errorf("unknown config section %q (valid: default)", section)
	}
	switch field {
	case "subscribe_key":
		cfg.Default.SubscribeKey = value
	case "auth_key":
		cfg.Default.AuthKey = value
	case "base_url":
		cfg.Default.BaseURL = value
	default:
		return fmt.Errorf("unknown field %q in section [default]", field)
	}
	return nil
}
