// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/aronjanosch/readmeabook/internal/scheduler"
)

type JobsHandler struct {
	scheduler *scheduler.Scheduler
}

func NewJobsHandler(s *scheduler.Scheduler) *JobsHandler {
	return &JobsHandler{scheduler: s}
}

type runJobPayload struct {
	CorrelationID string `json:"correlationId"`
}

// jobRunResponse is the contract for on-demand job runs.
type jobRunResponse struct {
	Success       bool           `json:"success"`
	Message       string         `json:"message,omitempty"`
	CorrelationID string         `json:"correlationId"`
	Counts        map[string]int `json:"counts,omitempty"`
}

// Run executes one background job synchronously and reports its outcome.
func (h *JobsHandler) Run(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var payload runJobPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	result, err := h.scheduler.RunNow(r.Context(), name, payload.CorrelationID)
	if err != nil {
		if errors.Is(err, scheduler.ErrUnknownJob) {
			RespondError(w, http.StatusNotFound, "Unknown job "+name)
			return
		}
		log.Error().Err(err).Str("job", name).Msg("failed to run job")
		RespondError(w, http.StatusInternalServerError, "Failed to run job")
		return
	}

	RespondJSON(w, http.StatusOK, jobRunResponse{
		Success:       result.Success,
		Message:       result.Message,
		CorrelationID: result.CorrelationID,
		Counts:        result.Counts,
	})
}

// List reports every job with its last run summary.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.scheduler.List())
}
