package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <subscribe-key>",
	Short: "Store a subscribe key in ~/.nimbus/config.toml",
	Long:  "Initialize the CLI by storing your subscribe key in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subscribeKey := strings.TrimSpace(args[0])
		if subscribeKey == "" || strings.ContainsAny(subscribeKey, " \t\n") {
			return fmt.Errorf("subscribe key %q is not valid", args[0])
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if cfg.Default.SubscribeKey != "" && cfg.Default.SubscribeKey != subscribeKey {
			fmt.Printf("Replacing existing subscribe key %s\n", maskKey(cfg.Default.SubscribeKey))
		}
		cfg.Default.SubscribeKey = subscribeKey

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Subscribe key saved to %s\n", path)
		return nil
	},
}
