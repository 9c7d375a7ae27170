// Package main is the shop-assist entry point: the API server plus operator commands.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"shop-assist/internal/config"
)

var version = "1.0.0"

// cfg is loaded once before any subcommand runs
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "shop-assist",
	Short: "Storefront customer-service chat backend",
	Long: `shop-assist relays storefront chat to the Coze assistant, fans messages
out to live dashboard and widget sockets, and processes EverShop webhooks
through a retrying job queue.

Examples:
  shop-assist serve
  shop-assist migrate
  shop-assist queue stats
  shop-assist queue retry 5f0c...
  shop-assist watch --conversation conv_123 --admin`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		setupLogger(cfg.App)
		log.Debug().Str("command", cmd.CommandPath()).Msg("configuration loaded")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(watchCmd)
}
