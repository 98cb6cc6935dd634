// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomtom215/realmgate/internal/apptoken"
	"github.com/tomtom215/realmgate/internal/config"
	"github.com/tomtom215/realmgate/internal/httpclient"
)

var checkAppCmd = &cobra.Command{
	Use:   "check-app [name...]",
	Short: "Check that external apps are reachable and accept their service token",
	Long: `Checks every named external app, or all registered apps when no name is
given. Exits non-zero when any check fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		failed := checkApps(cmd.Context(), cfg, args)
		if len(failed) > 0 {
			return fmt.Errorf("app check failed: %v", failed)
		}
		return nil
	},
}

// checkApps runs the external app check for names, or every registered app,
// and returns the names that failed.
func checkApps(ctx context.Context, cfg *config.Config, names []string, opts ...httpclient.Option) []string {
	if ctx == nil {
		ctx = context.Background()
	}
	registry := apptoken.NewRegistry(cfg.Apps, cfg.Deployment())
	// Checks never touch stored tokens.
	manager := apptoken.NewManager(registry, nil, httpclient.New(cfg.HTTPClient, opts...))

	if len(names) == 0 {
		names = registry.Names()
	}
	var failed []string
	for _, name := range names {
		if !manager.CheckExternalApp(ctx, name) {
			failed = append(failed, name)
		}
	}
	return failed
}
