// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aronjanosch/readmeabook/internal/dbinterface"
)

// FlagModifier adjusts candidate scores for releases carrying a named flag
// (freeleech, internal, vip...). Percent of the base score, stacking with
// other matched flags.
type FlagModifier struct {
	Flag    string  `json:"flag"`
	Percent float64 `json:"percent"`
}

// AppSettings is the single-row runtime configuration. Deployment concerns
// (endpoints, directories) live in the config file; these are the knobs an
// operator tunes while the system runs.
type AppSettings struct {
	RequireApproval               bool           `json:"requireApproval"`
	RequireAuthorMatch            bool           `json:"requireAuthorMatch"`
	MaxImportRetries              int            `json:"maxImportRetries"`
	FlagModifiers                 []FlagModifier `json:"flagModifiers"`
	RejectExpression              string         `json:"rejectExpression"`
	SearchBatchSize               int            `json:"searchBatchSize"`
	SeedingBatchSize              int            `json:"seedingBatchSize"`
	StalledSearchThresholdMinutes int            `json:"stalledSearchThresholdMinutes"`
	FeedSweepIntervalMinutes      int            `json:"feedSweepIntervalMinutes"`
	FeedRetentionDays             int            `json:"feedRetentionDays"`
	UpdatedAt                     time.Time      `json:"updatedAt"`
}

func DefaultAppSettings() AppSettings {
	return AppSettings{
		RequireAuthorMatch:            true,
		MaxImportRetries:              3,
		FlagModifiers:                 []FlagModifier{},
		SearchBatchSize:               25,
		SeedingBatchSize:              100,
		StalledSearchThresholdMinutes: 360,
		FeedSweepIntervalMinutes:      15,
		FeedRetentionDays:             14,
	}
}

func (s *AppSettings) Validate() error {
	if s.MaxImportRetries < 1 {
		return errors.New("maxImportRetries must be at least 1")
	}
	if s.SearchBatchSize < 1 {
		return errors.New("searchBatchSize must be at least 1")
	}
	if s.SeedingBatchSize < 1 {
		return errors.New("seedingBatchSize must be at least 1")
	}
	if s.StalledSearchThresholdMinutes < 1 {
		return errors.New("stalledSearchThresholdMinutes must be at least 1")
	}
	if s.FeedSweepIntervalMinutes < 1 {
		return errors.New("feedSweepIntervalMinutes must be at least 1")
	}
	if s.FeedRetentionDays < 1 {
		return errors.New("feedRetentionDays must be at least 1")
	}
	for _, fm := range s.FlagModifiers {
		if strings.TrimSpace(fm.Flag) == "" {
			return errors.New("flag modifier name cannot be empty")
		}
		if fm.Percent < -100 || fm.Percent > 100 {
			return fmt.Errorf("flag modifier %q percent must be within [-100, 100]", fm.Flag)
		}
	}
	return nil
}

type SettingsStore struct {
	db dbinterface.Querier
}

func NewSettingsStore(db dbinterface.Querier) *SettingsStore {
	return &SettingsStore{db: db}
}

func (s *SettingsStore) Get(ctx context.Context) (*AppSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT require_approval, require_author_match, max_import_retries, flag_modifiers,
		       reject_expression, search_batch_size, seeding_batch_size,
		       stalled_search_threshold_minutes, feed_sweep_interval_minutes, feed_retention_days, updated_at
		FROM app_settings WHERE id = 1
	`)

	var (
		settings      AppSettings
		modifiersJSON string
	)
	err := row.Scan(
		&settings.RequireApproval, &settings.RequireAuthorMatch, &settings.MaxImportRetries,
		&modifiersJSON, &settings.RejectExpression, &settings.SearchBatchSize,
		&settings.SeedingBatchSize, &settings.StalledSearchThresholdMinutes,
		&settings.FeedSweepIntervalMinutes, &settings.FeedRetentionDays, &settings.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	settings.FlagModifiers = []FlagModifier{}
	if modifiersJSON != "" && modifiersJSON != "[]" {
		if err := json.Unmarshal([]byte(modifiersJSON), &settings.FlagModifiers); err != nil {
			return nil, fmt.Errorf("failed to parse flag modifiers: %w", err)
		}
	}

	return &settings, nil
}

func (s *SettingsStore) Update(ctx context.Context, settings *AppSettings) (*AppSettings, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	modifiersJSON, err := json.Marshal(settings.FlagModifiers)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal flag modifiers: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE app_settings
		SET require_approval = ?, require_author_match = ?, max_import_retries = ?, flag_modifiers = ?,
		    reject_expression = ?, search_batch_size = ?, seeding_batch_size = ?,
		    stalled_search_threshold_minutes = ?, feed_sweep_interval_minutes = ?, feed_retention_days = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
	`, settings.RequireApproval, settings.RequireAuthorMatch, settings.MaxImportRetries, string(modifiersJSON),
		settings.RejectExpression, settings.SearchBatchSize, settings.SeedingBatchSize,
		settings.StalledSearchThresholdMinutes, settings.FeedSweepIntervalMinutes, settings.FeedRetentionDays)
	if err != nil {
		return nil, fmt.Errorf("failed to update settings: %w", err)
	}

	return s.Get(ctx)
}
