// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/aronjanosch/readmeabook/internal/models"
)

type IndexersHandler struct {
	store *models.IndexerStore
}

func NewIndexersHandler(store *models.IndexerStore) *IndexersHandler {
	return &IndexersHandler{store: store}
}

// indexerPatchRequest updates only the fields the caller sent.
type indexerPatchRequest struct {
	Name                  *string          `json:"name,omitempty"`
	Protocol              *models.Protocol `json:"protocol,omitempty"`
	Priority              *int             `json:"priority,omitempty"`
	SeedingTimeMinutes    *int             `json:"seedingTimeMinutes,omitempty"`
	RemoveAfterProcessing *bool            `json:"removeAfterProcessing,omitempty"`
	RSSEnabled            *bool            `json:"rssEnabled,omitempty"`
	Categories            *[]int           `json:"categories,omitempty"`
	Enabled               *bool            `json:"enabled,omitempty"`
}

func (p indexerPatchRequest) isEmpty() bool {
	return p.Name == nil &&
		p.Protocol == nil &&
		p.Priority == nil &&
		p.SeedingTimeMinutes == nil &&
		p.RemoveAfterProcessing == nil &&
		p.RSSEnabled == nil &&
		p.Categories == nil &&
		p.Enabled == nil
}

func applyIndexerPatch(cfg *models.IndexerConfig, patch indexerPatchRequest) {
	if patch.Name != nil {
		cfg.Name = *patch.Name
	}
	if patch.Protocol != nil {
		cfg.Protocol = *patch.Protocol
	}
	if patch.Priority != nil {
		cfg.Priority = *patch.Priority
	}
	if patch.SeedingTimeMinutes != nil {
		cfg.SeedingTimeMinutes = *patch.SeedingTimeMinutes
	}
	if patch.RemoveAfterProcessing != nil {
		cfg.RemoveAfterProcessing = *patch.RemoveAfterProcessing
	}
	if patch.RSSEnabled != nil {
		cfg.RSSEnabled = *patch.RSSEnabled
	}
	if patch.Categories != nil {
		cfg.Categories = *patch.Categories
	}
	if patch.Enabled != nil {
		cfg.Enabled = *patch.Enabled
	}
}

func (h *IndexersHandler) List(w http.ResponseWriter, r *http.Request) {
	indexers, err := h.store.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list indexers")
		RespondError(w, http.StatusInternalServerError, "Failed to load indexers")
		return
	}
	if indexers == nil {
		indexers = []*models.IndexerConfig{}
	}

	RespondJSON(w, http.StatusOK, indexers)
}

func (h *IndexersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var cfg models.IndexerConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := cfg.Validate(); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.store.Get(r.Context(), cfg.ID); err == nil {
		RespondError(w, http.StatusConflict, "Indexer already exists")
		return
	} else if !errors.Is(err, models.ErrIndexerNotFound) {
		log.Error().Err(err).Int("indexerID", cfg.ID).Msg("failed to check indexer")
		RespondError(w, http.StatusInternalServerError, "Failed to create indexer")
		return
	}

	created, err := h.store.Create(r.Context(), &cfg)
	if err != nil {
		log.Error().Err(err).Int("indexerID", cfg.ID).Msg("failed to create indexer")
		RespondError(w, http.StatusInternalServerError, "Failed to create indexer")
		return
	}

	RespondJSON(w, http.StatusCreated, created)
}

func (h *IndexersHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		RespondError(w, http.StatusBadRequest, "Invalid indexer ID")
		return
	}

	var patch indexerPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if patch.isEmpty() {
		RespondError(w, http.StatusBadRequest, "No fields to update")
		return
	}

	cfg, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrIndexerNotFound) {
			RespondError(w, http.StatusNotFound, "Indexer not found")
			return
		}
		log.Error().Err(err).Int("indexerID", id).Msg("failed to load indexer")
		RespondError(w, http.StatusInternalServerError, "Failed to update indexer")
		return
	}

	applyIndexerPatch(cfg, patch)
	if err := cfg.Validate(); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.store.Update(r.Context(), cfg)
	if err != nil {
		if errors.Is(err, models.ErrIndexerNotFound) {
			RespondError(w, http.StatusNotFound, "Indexer not found")
			return
		}
		log.Error().Err(err).Int("indexerID", id).Msg("failed to update indexer")
		RespondError(w, http.StatusInternalServerError, "Failed to update indexer")
		return
	}

	RespondJSON(w, http.StatusOK, updated)
}

func (h *IndexersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		RespondError(w, http.StatusBadRequest, "Invalid indexer ID")
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrIndexerNotFound) {
			RespondError(w, http.StatusNotFound, "Indexer not found")
			return
		}
		log.Error().Err(err).Int("indexerID", id).Msg("failed to delete indexer")
		RespondError(w, http.StatusInternalServerError, "Failed to delete indexer")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
