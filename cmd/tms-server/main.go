// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

// Command tms-server runs the Trust Manager System: a multi-tenant broker
// for short-lived SSH credentials. The root command starts the HTTP server;
// --install performs first-time setup and exits, --init-dirs-only just
// materializes the directory layout.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/trustmgr/tms/internal/bootstrap"
	"github.com/trustmgr/tms/internal/config"
	"github.com/trustmgr/tms/internal/db"
	"github.com/trustmgr/tms/internal/logging"
	"github.com/trustmgr/tms/internal/server"
	"github.com/trustmgr/tms/internal/version"
)

var (
	flagRootDir      string
	flagInstall      bool
	flagInitDirsOnly bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tms-server",
		Short:         "Trust Manager System server",
		Long:          "tms-server brokers short-lived SSH credentials between client applications and target login hosts.",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version.Version, version.Commit, version.Date),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          run,
	}
	cmd.Flags().StringVar(&flagRootDir, "root-dir", "", "root data directory (default ~/.tms; TMS_ROOT_DIR wins over this flag)")
	cmd.Flags().BoolVar(&flagInstall, "install", false, "run first-time setup (directories, config, database seeding) and exit")
	cmd.Flags().BoolVar(&flagInitDirsOnly, "init-dirs-only", false, "materialize the directory layout and exit")
	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	rootDir, err := config.ResolveRootDir(flagRootDir)
	if err != nil {
		return err
	}
	dirs := config.NewDirs(rootDir)

	if flagInitDirsOnly {
		if err := dirs.Init(); err != nil {
			return err
		}
		logging.Infof("initialized directory layout under %s", rootDir)
		return nil
	}

	if flagInstall {
		return install(cmd.Context(), dirs)
	}
	return serve(cmd.Context(), dirs)
}

// install performs first-time setup: directories, default configuration,
// logging template, TLS material, migrations on disk, and database seeding.
// It prints generated administrator passwords exactly once.
func install(ctx context.Context, dirs *config.Dirs) error {
	if err := dirs.Init(); err != nil {
		return err
	}
	if err := dirs.WriteDefaultConfig(); err != nil {
		return err
	}
	if _, err := os.Stat(dirs.LogConfigFile()); os.IsNotExist(err) {
		rendered := logging.RenderTemplate(dirs.Root)
		if err := os.WriteFile(dirs.LogConfigFile(), []byte(rendered), 0o600); err != nil {
			return fmt.Errorf("could not write logging configuration: %w", err)
		}
	}
	if err := dirs.EnsureSelfSignedCert(); err != nil {
		return err
	}
	if err := db.MaterializeMigrations(dirs.Migrations); err != nil {
		return err
	}
	cfg, err := config.Load(dirs.Root)
	if err != nil {
		return err
	}

	store, err := db.Open(dirs.DatabaseFile())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	creds, err := bootstrap.Seed(ctx, store, cfg.EnableTestTenant)
	if err != nil {
		return err
	}
	for _, cred := range creds {
		// The only time the plaintext exists outside memory.
		fmt.Printf("created administrator %q for tenant %q with password: %s\n",
			cred.AdminUser, cred.Tenant, cred.Password)
	}
	logging.Infof("install complete under %s", dirs.Root)
	return nil
}

func serve(ctx context.Context, dirs *config.Dirs) error {
	if err := logging.Configure(dirs.LogConfigFile()); err != nil {
		return err
	}
	cfg, err := config.Load(dirs.Root)
	if err != nil {
		return err
	}
	if err := dirs.Init(); err != nil {
		return err
	}
	if cfg.TLS() {
		if err := dirs.EnsureSelfSignedCert(); err != nil {
			return err
		}
	}

	store, err := db.Open(dirs.DatabaseFile())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	// Seeding is idempotent; a server started without --install still gets
	// its tenants, and any fresh admin passwords go to stdout once.
	creds, err := bootstrap.Seed(ctx, store, cfg.EnableTestTenant)
	if err != nil {
		return err
	}
	for _, cred := range creds {
		fmt.Printf("created administrator %q for tenant %q with password: %s\n",
			cred.AdminUser, cred.Tenant, cred.Password)
	}

	return server.New(cfg, store).Run(dirs)
}
