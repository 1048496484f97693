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

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(baseDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		Service: "migrate",
	})
	defer log.Close()

	return store.RunFromConfig(cmd.Context(), cfg, log)
}
