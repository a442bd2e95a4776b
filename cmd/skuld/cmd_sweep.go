/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/skuld/internal/conflict"
	"github.com/friendsincode/skuld/internal/db"
	"github.com/friendsincode/skuld/internal/engine"
	"github.com/friendsincode/skuld/internal/ledger"
)

var sweepTimeout time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one completion sweep and exit",
	Long: `Transition every approved booking whose window has fully elapsed to
completed, then exit. Useful from cron when no server instance runs
the sweep loop.`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepTimeout, "timeout", 30*time.Second, "Maximum time for the sweep")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() { _ = db.Close(database) }()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	eng := engine.New(engine.Config{
		DB:     database,
		Ledger: ledger.New(database, logger),
		Index:  conflict.NewIndex(),
	}, logger)
	if err := eng.Rebuild(ctx); err != nil {
		return fmt.Errorf("rebuild conflict index: %w", err)
	}

	completed, err := eng.RunCompletionSweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	logger.Info().Int("completed", completed).Msg("sweep finished")
	return nil
}
