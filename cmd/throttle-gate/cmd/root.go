// Package cmd provides the CLI commands for Throttle Gate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/throttle-gate/throttlegate/internal/config"
)

var cfgFile string
var stateFilePath string

var rootCmd = &cobra.Command{
	Use:   "throttle-gate",
	Short: "Throttle Gate - HTTP rate-limiting gateway",
	Long: `Throttle Gate is a sidecar HTTP gateway that rate-limits traffic in
front of an upstream service.

Requests are matched to a named budget profile by routing rules, counted
against a fixed window per client, and either proxied upstream with
X-RateLimit-* headers attached or answered 429 with a Retry-After hint.

Quick start:
  1. Create a config file: throttle-gate.yaml
  2. Run: throttle-gate start

Configuration:
  Config is loaded from throttle-gate.yaml in the current directory,
  $HOME/.throttlegate/, or /etc/throttle-gate/.

  Environment variables can override config values with the THROTTLE_GATE_ prefix.
  Example: THROTTLE_GATE_SERVER_ADDR=127.0.0.1:9090

Commands:
  start         Start the gateway
  stop          Stop the running gateway
  reset         Reset to clean state (remove state.json)
  check-config  Validate a config file without starting
  hash-key      Generate SHA256 hash for an admin API key
  version       Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./throttle-gate.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateFilePath, "state", "", "path to state.json file (default: ./state.json)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
