// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tomtom215/realmgate/internal/config"
	"github.com/tomtom215/realmgate/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "realmgate",
	Short: "Multi-tenant authentication gateway and token proxy",
	Long: `realmgate authenticates users against a per-realm identity provider or
local accounts and proxies their requests to registered external
applications with per-user application tokens.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(createUserCmd)
	rootCmd.AddCommand(checkAppCmd)
}

// loadConfig loads and validates the configuration and initializes logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	return cfg, nil
}
