/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/friendsincode/skuld/internal/db"
	"github.com/friendsincode/skuld/internal/models"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load resources from a YAML file",
	Long: `Create or update resources from a YAML fixture. Existing resources are
matched by name and updated in place.

Example fixture:

  resources:
    - name: studio-a
      timezone: America/New_York
      open_hour: 8
      close_hour: 22
      min_duration_minutes: 30
      max_duration_hours: 8
      min_advance_hours: 24`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "YAML fixture file (required)")
	_ = seedCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(seedCmd)
}

type seedFixture struct {
	Resources []struct {
		Name               string `yaml:"name"`
		Description        string `yaml:"description"`
		Timezone           string `yaml:"timezone"`
		OpenHour           int    `yaml:"open_hour"`
		CloseHour          int    `yaml:"close_hour"`
		Open24Hours        bool   `yaml:"open_24_hours"`
		MinDurationMinutes int    `yaml:"min_duration_minutes"`
		MaxDurationHours   int    `yaml:"max_duration_hours"`
		MinAdvanceHours    int    `yaml:"min_advance_hours"`
	} `yaml:"resources"`
}

func runSeed(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	data, err := os.ReadFile(seedFile)
	if err != nil {
		return fmt.Errorf("read fixture: %w", err)
	}

	var fixture seedFixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return fmt.Errorf("parse fixture: %w", err)
	}
	if len(fixture.Resources) == 0 {
		return fmt.Errorf("fixture contains no resources")
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() { _ = db.Close(database) }()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	created, updated := 0, 0
	for _, item := range fixture.Resources {
		if item.Name == "" {
			return fmt.Errorf("resource without a name in fixture")
		}
		if item.Timezone != "" {
			if _, err := time.LoadLocation(item.Timezone); err != nil {
				return fmt.Errorf("resource %q: unknown timezone %q", item.Name, item.Timezone)
			}
		}

		var existing models.Resource
		err := database.First(&existing, "name = ?", item.Name).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("lookup resource %q: %w", item.Name, err)
		}

		res := models.Resource{
			Name:               item.Name,
			Description:        item.Description,
			Timezone:           item.Timezone,
			OpenHour:           item.OpenHour,
			CloseHour:          item.CloseHour,
			Open24Hours:        item.Open24Hours,
			MinDurationMinutes: item.MinDurationMinutes,
			MaxDurationHours:   item.MaxDurationHours,
			MinAdvanceHours:    item.MinAdvanceHours,
		}
		if res.Timezone == "" {
			res.Timezone = "UTC"
		}

		if err == nil {
			res.ID = existing.ID
			res.CreatedAt = existing.CreatedAt
			if err := database.Save(&res).Error; err != nil {
				return fmt.Errorf("update resource %q: %w", item.Name, err)
			}
			updated++
			continue
		}

		res.ID = uuid.NewString()
		if err := database.Create(&res).Error; err != nil {
			return fmt.Errorf("create resource %q: %w", item.Name, err)
		}
		created++
	}

	logger.Info().
		Int("created", created).
		Int("updated", updated).
		Msg("seed finished")
	return nil
}
