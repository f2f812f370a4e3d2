package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	nimbus "github.com/nimbus-stream/nimbus-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(subscribeCmd)
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <channel,channel,...>",
	Short: "Hold a subscription open and print events as they arrive",
	Long:  "Subscribe to a comma-separated channel list and print every status, message, and presence event until interrupted.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Default.SubscribeKey == "" {
			return fmt.Errorf("no subscribe key configured, run 'nimbus-demo init <subscribe-key>' first")
		}

		var opts []nimbus.ClientOption
		if cfg.Default.BaseURL != "" {
			opts = append(opts, nimbus.WithBaseURL(cfg.Default.BaseURL))
		}
		if cfg.Default.AuthKey != "" {
			opts = append(opts, nimbus.WithAuthKey(cfg.Default.AuthKey))
		}
		client := nimbus.NewClient(cfg.Default.SubscribeKey, opts...)

		manager := nimbus.NewManager(client)
		defer manager.Destroy(true)

		manager.AddListener(&nimbus.Listener{
			OnStatus: func(s nimbus.Status) {
				fmt.Printf("[status] category=%s error=%v channels=%v\n", s.Category, s.Error, s.AffectedChannels)
			},
			OnMessage: func(m nimbus.RawMessage) {
				fmt.Printf("[message] channel=%s payload=%s\n", m.Channel, string(m.Payload))
			},
			OnPresence: func(m nimbus.RawMessage) {
				fmt.Printf("[presence] channel=%s payload=%s\n", m.Channel, string(m.Payload))
			},
		})

		channels := strings.Split(args[0], ",")
		manager.Subscribe(nimbus.SubscribeOp{Channels: channels, WithPresence: true})

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		fmt.Printf("Subscribed to %v. Press Ctrl-C to stop.\n", channels)
		<-sigCh

		manager.UnsubscribeAll()
		return nil
	},
}
