// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aronjanosch/readmeabook/internal/database"
)

func TestHealthEndpoints(t *testing.T) {
	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	handler := NewHealthHandler(db)
	r := chi.NewRouter()
	r.Get("/health", handler.HandleHealth)
	r.Get("/healthz/liveness", handler.HandleLiveness)
	r.Get("/healthz/readiness", handler.HandleReady)

	rec := doJSON(t, r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = doJSON(t, r, http.MethodGet, "/healthz/liveness", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alive", decodeBody[map[string]string](t, rec)["status"])

	rec = doJSON(t, r, http.MethodGet, "/healthz/readiness", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decodeBody[map[string]string](t, rec)["status"])
}

func TestReadinessReportsDatabaseOutage(t *testing.T) {
	db, err := database.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	handler := NewHealthHandler(db)
	r := chi.NewRouter()
	r.Get("/healthz/readiness", handler.HandleReady)

	rec := doJSON(t, r, http.MethodGet, "/healthz/readiness", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
