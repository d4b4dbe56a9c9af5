// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/aronjanosch/readmeabook/internal/models"
	"github.com/aronjanosch/readmeabook/internal/services/acquisition"
	"github.com/aronjanosch/readmeabook/internal/services/notifications"
	"github.com/aronjanosch/readmeabook/internal/services/ranker"
	"github.com/aronjanosch/readmeabook/internal/services/search"
)

const defaultListLimit = 50

type RequestsHandler struct {
	requests *models.RequestStore
	books    *models.AudiobookStore
	users    *models.UserStore
	history  *models.DownloadHistoryStore
	settings *models.SettingsStore
	search   *search.Service
	imports  *acquisition.Service
	notifier notifications.Service
}

func NewRequestsHandler(
	requests *models.RequestStore,
	books *models.AudiobookStore,
	users *models.UserStore,
	history *models.DownloadHistoryStore,
	settings *models.SettingsStore,
	searchService *search.Service,
	imports *acquisition.Service,
	notifier notifications.Service,
) *RequestsHandler {
	return &RequestsHandler{
		requests: requests,
		books:    books,
		users:    users,
		history:  history,
		settings: settings,
		search:   searchService,
		imports:  imports,
		notifier: notifier,
	}
}

type createRequestPayload struct {
	models.CreateAudiobookInput
	Username string `json:"username"`
}

// requestDetailResponse is the single-request view with download history.
type requestDetailResponse struct {
	*models.RequestDetails
	History []*models.DownloadHistory `json:"history"`
}

func (h *RequestsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload createRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if strings.TrimSpace(payload.Username) == "" {
		RespondError(w, http.StatusBadRequest, "Username is required")
		return
	}
	if err := payload.CreateAudiobookInput.Validate(); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()

	settings, err := h.settings.Get(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load settings for request creation")
		RespondError(w, http.StatusInternalServerError, "Failed to create request")
		return
	}

	book, err := h.books.FindOrCreate(ctx, payload.CreateAudiobookInput)
	if err != nil {
		log.Error().Err(err).Msg("failed to resolve audiobook")
		RespondError(w, http.StatusInternalServerError, "Failed to create request")
		return
	}

	user, err := h.users.FindOrCreate(ctx, payload.Username)
	if err != nil {
		log.Error().Err(err).Msg("failed to resolve user")
		RespondError(w, http.StatusInternalServerError, "Failed to create request")
		return
	}

	status := models.StatusPending
	if settings.RequireApproval {
		status = models.StatusAwaitingApproval
	}

	request, err := h.requests.Create(ctx, book.ID, user.ID, status, settings.MaxImportRetries)
	if err != nil {
		log.Error().Err(err).Int("audiobookID", book.ID).Msg("failed to create request")
		RespondError(w, http.StatusInternalServerError, "Failed to create request")
		return
	}

	if status == models.StatusPending {
		if _, err := h.search.EnqueueSearch(ctx, request.ID, "new request"); err != nil {
			log.Warn().Err(err).Int("requestID", request.ID).Msg("failed to enqueue initial search")
		}
	}

	if err := h.notifier.NotifyRequestSubmitted(ctx, book.Title, book.Author, user.Username); err != nil {
		log.Warn().Err(err).Msg("failed to send request notification")
	}

	details, err := h.requests.GetDetails(ctx, request.ID)
	if err != nil {
		log.Error().Err(err).Int("requestID", request.ID).Msg("failed to load created request")
		RespondError(w, http.StatusInternalServerError, "Failed to create request")
		return
	}

	RespondJSON(w, http.StatusCreated, details)
}

func (h *RequestsHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := models.ListOptions{Limit: defaultListLimit}

	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := models.ParseRequestStatus(raw)
		if !ok {
			RespondError(w, http.StatusBadRequest, "Unknown status "+raw)
			return
		}
		opts.Status = status
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			RespondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		opts.Limit = limit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			RespondError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		opts.Offset = offset
	}

	requests, err := h.requests.List(r.Context(), opts)
	if err != nil {
		log.Error().Err(err).Msg("failed to list requests")
		RespondError(w, http.StatusInternalServerError, "Failed to list requests")
		return
	}
	if requests == nil {
		requests = []*models.RequestDetails{}
	}

	RespondJSON(w, http.StatusOK, requests)
}

func (h *RequestsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}

	details, err := h.requests.GetDetails(r.Context(), id)
	if err != nil {
		respondRequestError(w, id, err, "load")
		return
	}

	history, err := h.history.ListByRequest(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Int("requestID", id).Msg("failed to load download history")
		RespondError(w, http.StatusInternalServerError, "Failed to load request")
		return
	}
	if history == nil {
		history = []*models.DownloadHistory{}
	}

	RespondJSON(w, http.StatusOK, requestDetailResponse{RequestDetails: details, History: history})
}

func (h *RequestsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}

	if err := h.requests.SoftDelete(r.Context(), id); err != nil {
		respondRequestError(w, id, err, "delete")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *RequestsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}

	request, err := h.requests.Transition(r.Context(), id, models.EventApprove)
	if err != nil {
		respondRequestError(w, id, err, "approve")
		return
	}

	if _, err := h.search.EnqueueSearch(r.Context(), id, "approved"); err != nil {
		log.Warn().Err(err).Int("requestID", id).Msg("failed to enqueue search after approval")
	}

	RespondJSON(w, http.StatusOK, request)
}

func (h *RequestsHandler) Deny(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}

	request, err := h.requests.Transition(r.Context(), id, models.EventDeny)
	if err != nil {
		respondRequestError(w, id, err, "deny")
		return
	}

	RespondJSON(w, http.StatusOK, request)
}

func (h *RequestsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}

	request, err := h.requests.Transition(r.Context(), id, models.EventCancel)
	if err != nil {
		respondRequestError(w, id, err, "cancel")
		return
	}

	RespondJSON(w, http.StatusOK, request)
}

// Retry re-runs the import for a request parked in awaiting_import or warn.
func (h *RequestsHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}

	if err := h.imports.Retry(r.Context(), id); err != nil {
		respondRequestError(w, id, err, "retry import for")
		return
	}

	details, err := h.requests.GetDetails(r.Context(), id)
	if err != nil {
		respondRequestError(w, id, err, "load")
		return
	}

	RespondJSON(w, http.StatusOK, details)
}

// SearchNow queues the request for the next search pass and wakes the
// processor.
func (h *RequestsHandler) SearchNow(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}

	if _, err := h.requests.Get(r.Context(), id); err != nil {
		respondRequestError(w, id, err, "load")
		return
	}

	queued, err := h.search.EnqueueSearch(r.Context(), id, "manual")
	if err != nil {
		log.Error().Err(err).Int("requestID", id).Msg("failed to enqueue search")
		RespondError(w, http.StatusInternalServerError, "Failed to enqueue search")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]bool{"queued": queued})
}

// Candidates runs an interactive search and returns the ranked list without
// touching the request.
func (h *RequestsHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}

	candidates, err := h.search.Candidates(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrRequestNotFound) {
			RespondError(w, http.StatusNotFound, "Request not found")
			return
		}
		log.Error().Err(err).Int("requestID", id).Msg("failed to search candidates")
		RespondError(w, http.StatusInternalServerError, "Search failed")
		return
	}
	if candidates == nil {
		candidates = []search.ScoredRelease{}
	}

	RespondJSON(w, http.StatusOK, candidates)
}

// Grab acquires one specific candidate picked by the operator.
func (h *RequestsHandler) Grab(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}

	var pick ranker.Candidate
	if err := json.NewDecoder(r.Body).Decode(&pick); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if strings.TrimSpace(pick.DownloadURL) == "" {
		RespondError(w, http.StatusBadRequest, "Candidate downloadUrl is required")
		return
	}

	if err := h.search.Grab(r.Context(), id, pick); err != nil {
		if errors.Is(err, models.ErrRequestNotFound) {
			RespondError(w, http.StatusNotFound, "Request not found")
			return
		}
		if errors.Is(err, models.ErrIllegalTransition) {
			RespondError(w, http.StatusConflict, "Request is not in a searchable state")
			return
		}
		log.Error().Err(err).Int("requestID", id).Msg("failed to grab candidate")
		RespondError(w, http.StatusInternalServerError, "Failed to grab candidate")
		return
	}

	details, err := h.requests.GetDetails(r.Context(), id)
	if err != nil {
		respondRequestError(w, id, err, "load")
		return
	}

	RespondJSON(w, http.StatusOK, details)
}

func requestID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		RespondError(w, http.StatusBadRequest, "Invalid request ID")
		return 0, false
	}
	return id, true
}

// respondRequestError maps store sentinels onto HTTP statuses.
func respondRequestError(w http.ResponseWriter, id int, err error, action string) {
	switch {
	case errors.Is(err, models.ErrRequestNotFound):
		RespondError(w, http.StatusNotFound, "Request not found")
	case errors.Is(err, models.ErrIllegalTransition):
		RespondError(w, http.StatusConflict, "Request state does not allow this action")
	case errors.Is(err, models.ErrConflict):
		RespondError(w, http.StatusConflict, "Request was modified concurrently, retry")
	default:
		log.Error().Err(err).Int("requestID", id).Msgf("failed to %s request", action)
		RespondError(w, http.StatusInternalServerError, "Request operation failed")
	}
}
