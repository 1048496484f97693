// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/frc3322/Aerie-Part-Management/pkg/config"
	"github.com/frc3322/Aerie-Part-Management/pkg/logging"
	"github.com/frc3322/Aerie-Part-Management/store"
)

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(baseDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.IsSQLite() {
		return fmt.Errorf("backups require a sqlite database, got %q", cfg.DatabaseURL)
	}

	log := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		Service: "backup",
	})
	defer log.Close()

	if backupStatusFlag {
		printBackupStatus(cfg.BackupDir)
		return nil
	}

	path, err := store.CreateBackup(cmd.Context(), cfg.DatabasePath, cfg.BackupDir)
	if err != nil {
		return err
	}
	removed := store.CleanupOldBackups(cfg.BackupDir, cfg.BackupRetentionDays, log)
	fmt.Printf("backup created: %s\n", path)
	if removed > 0 {
		fmt.Printf("removed %d expired backup(s)\n", removed)
	}
	return nil
}

func printBackupStatus(backupDir string) {
	status := store.ReadBackupStatus(backupDir)
	if !status.Exists || status.Count == 0 {
		fmt.Println("no backups found")
		return
	}
	fmt.Printf("%d backup(s), %d bytes total\n", status.Count, status.TotalSize)
	for _, b := range status.Backups {
		fmt.Printf("  %s  %10d  %s\n", b.Created.Format("2006-01-02 15:04:05"), b.Size, b.Filename)
	}
}
