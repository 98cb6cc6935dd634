// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/cobra"

	"github.com/tomtom215/realmgate/internal/api"
	"github.com/tomtom215/realmgate/internal/config"
	"github.com/tomtom215/realmgate/internal/logging"
	"github.com/tomtom215/realmgate/internal/session"
	"github.com/tomtom215/realmgate/internal/storage"
	"github.com/tomtom215/realmgate/internal/supervisor"
	"github.com/tomtom215/realmgate/internal/supervisor/services"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing storage")
		}
	}()

	store := sessionStore(cfg, db)
	deps, err := api.NewDependencies(cfg, db, store)
	if err != nil {
		return err
	}
	logStartup(cfg)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(deps).SetupChi(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       60 * time.Second,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewComponentSlogLogger("supervisor"), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  shutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}
	tree.AddMaintenanceService(services.NewSessionSweeper(store, cfg.Security.SessionCleanupInterval))
	if cfg.Storage.Path != "" {
		tree.AddMaintenanceService(services.NewStorageGC(db, cfg.Storage.GCInterval))
	}
	tree.AddAPIService(services.NewHTTPServerService(server, shutdownTimeout))

	logging.Info().Str("addr", server.Addr).Msg("Starting realmgate")
	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		logging.Warn().Int("count", len(report)).Msg("Services did not stop within the shutdown timeout")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor tree: %w", err)
	}
	logging.Info().Msg("realmgate stopped")
	return nil
}

// sessionStore keeps sessions in badger when storage is persistent and in
// memory otherwise.
func sessionStore(cfg *config.Config, db *badger.DB) session.Store {
	if cfg.Storage.Path == "" {
		return session.NewMemoryStore()
	}
	return session.NewBadgerStore(db)
}

func logStartup(cfg *config.Config) {
	deploy := cfg.Deployment()
	logging.Info().
		Bool("multitenancy", deploy.Multitenancy).
		Str("default_realm", deploy.DefaultRealm).
		Bool("keycloak", cfg.Keycloak.Enabled()).
		Bool("gateway", deploy.GatewayEnabled()).
		Strs("apps", cfg.Apps.Names).
		Msg("Configuration loaded")

	if cfg.Storage.Path == "" {
		logging.Warn().Msg("STORAGE_PATH is empty: sessions, users and tokens are lost on restart")
	}
	if !cfg.Security.SessionSecure {
		logging.Warn().Msg("Session cookies are sent without the Secure flag (SESSION_SECURE=false)")
	}
	for _, origin := range cfg.Security.CORSOrigins {
		if origin == "*" {
			logging.Warn().Msg("CORS allows any origin; credentials are not shared cross-origin")
			break
		}
	}
}
