// Package cmd provides the CLI commands for Superego.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/superego-ai/superego/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "superego",
	Short: "Superego - security policy decisions for AI coding agents",
	Long: `Superego is an inline security-policy decision service for AI coding agents.

Agents submit each tool call (shell command, file edit, web fetch) before
executing it; Superego answers allow or deny by matching an ordered rule
file, escalating uncertain requests to an AI advisor. The same evaluation
path serves stdio MCP, HTTP, and WebSocket clients.

Quick start:
  1. Write a rule file: rules.yaml
  2. Run: superego mcp

Configuration:
  Config is loaded from superego.yaml in the current directory,
  $HOME/.superego/, or /etc/superego/.

  Environment variables can override config values with the SUPEREGO_ prefix.
  Example: SUPEREGO_RULES_FILE=/etc/superego/rules.yaml

Commands:
  mcp         Start the decision server
  validate    Check a rule file without serving
  version     Print version information`,
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./superego.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
