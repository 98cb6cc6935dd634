// Realmgate - Multi-tenant Authentication Gateway and Token Proxy
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmgate

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomtom215/realmgate/internal/storage"
	"github.com/tomtom215/realmgate/internal/users"
)

type createUserOptions struct {
	username string
	password string
	token    string
	realm    string
	staff    bool
}

var createUserOpts createUserOptions

var createUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Create or update a local user",
	Long: `Creates a local user, or updates the password and token of an existing one.
The realm is required when multitenancy is enabled; the user becomes a member
of it. Requires persistent storage (STORAGE_PATH).`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Storage.Path == "" {
			return errors.New("create-user needs persistent storage: set STORAGE_PATH")
		}
		db, err := storage.Open(cfg.Storage)
		if err != nil {
			return err
		}
		defer db.Close()

		svc, err := users.NewService(users.NewBadgerStore(db), cfg.Deployment())
		if err != nil {
			return err
		}
		u, err := createUser(cmd.Context(), svc, createUserOpts)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "User %q saved.\n", u.Username)
		return nil
	},
}

func init() {
	f := createUserCmd.Flags()
	f.StringVar(&createUserOpts.username, "username", "", "username (required)")
	f.StringVar(&createUserOpts.password, "password", "", "password")
	f.StringVar(&createUserOpts.token, "token", "", "API token to assign")
	f.StringVar(&createUserOpts.realm, "realm", "", "realm of the user")
	f.BoolVar(&createUserOpts.staff, "staff", false, "grant staff status")
	_ = createUserCmd.MarkFlagRequired("username")
}

func createUser(ctx context.Context, svc *users.Service, opts createUserOptions) (*users.User, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	u, err := svc.Upsert(ctx, users.UpsertOptions{
		Realm:    opts.realm,
		Username: opts.username,
		Password: opts.password,
		Token:    opts.token,
		Staff:    opts.staff,
	})
	if err != nil {
		return nil, fmt.Errorf("save user %q: %w", opts.username, err)
	}
	return u, nil
}
