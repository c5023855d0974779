// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Revora Contributors

package main

import (
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/RevoraOrg/revora/internal/store"
)

// MigrateDeps contains injectable dependencies for the migrate command.
type MigrateDeps struct {
	// MigratorFactory creates the schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (Migrator, error)
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
	}

	cmd.PersistentFlags().String("database.url", "", "PostgreSQL connection URL")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cmd, nil, migrateUp)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations, dropping the auth schema",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cmd, nil, migrateDown)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the current migration version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cmd, nil, migrateStatus)
			},
		},
	)

	return cmd
}

func runMigrate(cmd *cobra.Command, deps *MigrateDeps, action func(*cobra.Command, Migrator) error) error {
	if deps == nil {
		deps = &MigrateDeps{}
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(url string) (Migrator, error) {
			return store.NewMigrator(url)
		}
	}

	databaseURL, err := cmd.Flags().GetString("database.url")
	if err != nil {
		return err
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return oops.Code("CONFIG_MISSING_DATABASE").
			Errorf("database.url flag or DATABASE_URL environment variable is required")
	}

	migrator, err := deps.MigratorFactory(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			cmd.PrintErrln("warning: failed to close migrator:", closeErr)
		}
	}()

	return action(cmd, migrator)
}

func migrateUp(cmd *cobra.Command, m Migrator) error {
	cmd.Println("Applying migrations...")
	if err := m.Up(); err != nil {
		return err
	}
	cmd.Println("Migrations completed successfully")
	return nil
}

func migrateDown(cmd *cobra.Command, m Migrator) error {
	cmd.Println("Rolling back migrations...")
	if err := m.Down(); err != nil {
		return err
	}
	cmd.Println("Rollback completed successfully")
	return nil
}

func migrateStatus(cmd *cobra.Command, m Migrator) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if version == 0 {
		cmd.Println("No migrations applied")
		return nil
	}
	cmd.Printf("Current version: %d (dirty: %t)\n", version, dirty)
	return nil
}
