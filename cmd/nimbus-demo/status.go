package main

import (
	"context"
	"fmt"
	"time"

	nimbus "github.com/nimbus-stream/nimbus-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and reachability",
	Long:  "Display the current configuration and probe the configured base URL.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:      %s\n", valueOrDefault(cfg.Default.BaseURL, nimbus.DefaultBaseURL))
		if cfg.Default.SubscribeKey != "" {
			fmt.Printf("  Subscribe Key: %s\n", maskKey(cfg.Default.SubscribeKey))
		} else {
			fmt.Println("  Subscribe Key: (not set)")
		}

		if cfg.Default.SubscribeKey == "" {
			return nil
		}

		var opts []nimbus.ClientOption
		if cfg.Default.BaseURL != "" {
			opts = append(opts, nimbus.WithBaseURL(cfg.Default.BaseURL))
		}
		if cfg.Default.AuthKey != "" {
			opts = append(opts, nimbus.WithAuthKey(cfg.Default.AuthKey))
		}
		client := nimbus.NewClient(cfg.Default.SubscribeKey, opts...)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		fmt.Println()
		fmt.Println("Live status:")
		if err := client.Probe(ctx); err != nil {
			fmt.Printf("  Error probing base URL: %v\n", err)
			return nil
		}
		fmt.Println("  Reachable: yes")
		return nil
	},
}

func maskKey(key string) string {
	if len(key) <= 16 {
		return key[:4] + "..." + key[len(key)-4:]
	}
	return key[:12] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
