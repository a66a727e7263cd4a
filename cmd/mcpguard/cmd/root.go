// Package cmd provides the CLI commands for mcpguard.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpguard/mcpguard/internal/config"
)

var cfgFile string
var traceEnabled bool

var rootCmd = &cobra.Command{
	Use:   "mcpguard",
	Short: "mcpguard - MCP security posture scanner and proxy",
	Long: `mcpguard inspects and guards Model Context Protocol (MCP) servers.

It provides two independent capabilities:

  scan   Connect to configured MCP servers, enumerate their tools and
         resources, and run a fixed set of threat detectors (description
         injection, excessive permission scope, missing authentication,
         cross-server tool shadowing, and description drift).

  proxy  Sit between an AI client and an MCP server, enforcing
         block/rate-limit rules on tools/call invocations and persisting
         an audit log of every call.

Configuration:
  Config is loaded from mcpguard.yaml in the current directory,
  $HOME/.mcpguard/, or /etc/mcpguard/.

  Environment variables can override config values with the MCPGUARD_ prefix.
  Example: MCPGUARD_LOG_LEVEL=debug`,
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./mcpguard.yaml)")
	rootCmd.PersistentFlags().BoolVar(&traceEnabled, "trace", false, "emit OpenTelemetry spans as JSON on stdout")
}

func initConfig() {
	config.InitViper(cfgFile)
}
