// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

package main

import (
	"github.com/spf13/cobra"
)

var (
	baseDir string

	rootCmd = &cobra.Command{
		Use:   "aerie",
		Short: "Backend server for the team's part management app",
		Long: `Aerie serves the part management API: part CRUD, drawing uploads,
Onshape OAuth integration with PDF drawing import, schema migrations
and scheduled database backups.`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run migrations, then start the HTTP server and backup scheduler",
		RunE:  runServe, // cmd_serve.go
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		RunE:  runMigrate, // cmd_migrate.go
	}

	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Create a database backup now, or show backup status",
		RunE:  runBackup, // cmd_backup.go
	}

	backupStatusFlag bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&baseDir, "base-dir", ".",
		"directory holding config.json, the database and data folders")

	backupCmd.Flags().BoolVar(&backupStatusFlag, "status", false,
		"print backup inventory instead of creating one")

	rootCmd.AddCommand(serveCmd, migrateCmd, backupCmd)
}
