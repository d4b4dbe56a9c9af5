// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/aronjanosch/readmeabook/internal/models"
)

type SettingsHandler struct {
	store *models.SettingsStore
}

func NewSettingsHandler(store *models.SettingsStore) *SettingsHandler {
	return &SettingsHandler{store: store}
}

// optionalString distinguishes an absent field from an explicit null or
// empty string, so callers can clear a value.
type optionalString struct {
	Set   bool
	Value *string
}

func (o *optionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	o.Value = &value
	return nil
}

// settingsPatchRequest updates only the fields the caller sent.
type settingsPatchRequest struct {
	RequireApproval               *bool                  `json:"requireApproval,omitempty"`
	RequireAuthorMatch            *bool                  `json:"requireAuthorMatch,omitempty"`
	MaxImportRetries              *int                   `json:"maxImportRetries,omitempty"`
	FlagModifiers                 *[]models.FlagModifier `json:"flagModifiers,omitempty"`
	RejectExpression              optionalString         `json:"rejectExpression"`
	SearchBatchSize               *int                   `json:"searchBatchSize,omitempty"`
	SeedingBatchSize              *int                   `json:"seedingBatchSize,omitempty"`
	StalledSearchThresholdMinutes *int                   `json:"stalledSearchThresholdMinutes,omitempty"`
	FeedSweepIntervalMinutes      *int                   `json:"feedSweepIntervalMinutes,omitempty"`
	FeedRetentionDays             *int                   `json:"feedRetentionDays,omitempty"`
}

func (p settingsPatchRequest) isEmpty() bool {
	return p.RequireApproval == nil &&
		p.RequireAuthorMatch == nil &&
		p.MaxImportRetries == nil &&
		p.FlagModifiers == nil &&
		!p.RejectExpression.Set &&
		p.SearchBatchSize == nil &&
		p.SeedingBatchSize == nil &&
		p.StalledSearchThresholdMinutes == nil &&
		p.FeedSweepIntervalMinutes == nil &&
		p.FeedRetentionDays == nil
}

func applySettingsPatch(settings *models.AppSettings, patch settingsPatchRequest) {
	if patch.RequireApproval != nil {
		settings.RequireApproval = *patch.RequireApproval
	}
	if patch.RequireAuthorMatch != nil {
		settings.RequireAuthorMatch = *patch.RequireAuthorMatch
	}
	if patch.MaxImportRetries != nil {
		settings.MaxImportRetries = *patch.MaxImportRetries
	}
	if patch.FlagModifiers != nil {
		settings.FlagModifiers = *patch.FlagModifiers
	}
	if patch.RejectExpression.Set {
		if patch.RejectExpression.Value == nil {
			settings.RejectExpression = ""
		} else {
			settings.RejectExpression = strings.TrimSpace(*patch.RejectExpression.Value)
		}
	}
	if patch.SearchBatchSize != nil {
		settings.SearchBatchSize = *patch.SearchBatchSize
	}
	if patch.SeedingBatchSize != nil {
		settings.SeedingBatchSize = *patch.SeedingBatchSize
	}
	if patch.StalledSearchThresholdMinutes != nil {
		settings.StalledSearchThresholdMinutes = *patch.StalledSearchThresholdMinutes
	}
	if patch.FeedSweepIntervalMinutes != nil {
		settings.FeedSweepIntervalMinutes = *patch.FeedSweepIntervalMinutes
	}
	if patch.FeedRetentionDays != nil {
		settings.FeedRetentionDays = *patch.FeedRetentionDays
	}
}

func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.Get(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to get settings")
		RespondError(w, http.StatusInternalServerError, "Failed to load settings")
		return
	}

	RespondJSON(w, http.StatusOK, settings)
}

func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch settingsPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if patch.isEmpty() {
		RespondError(w, http.StatusBadRequest, "No fields to update")
		return
	}

	settings, err := h.store.Get(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to load settings for update")
		RespondError(w, http.StatusInternalServerError, "Failed to update settings")
		return
	}

	applySettingsPatch(settings, patch)
	if err := settings.Validate(); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.store.Update(r.Context(), settings)
	if err != nil {
		log.Error().Err(err).Msg("failed to update settings")
		RespondError(w, http.StatusInternalServerError, "Failed to update settings")
		return
	}

	RespondJSON(w, http.StatusOK, updated)
}
