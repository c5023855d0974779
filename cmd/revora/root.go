// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Revora Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Revora auth CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revora",
		Short: "Revora - authentication and account security service",
		Long: `Revora is the authentication service for the Revora platform:
account signup and login, bearer-token sessions, password reset,
and per-client rate limiting.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
