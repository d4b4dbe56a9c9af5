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
	"github.com/aronjanosch/readmeabook/internal/models"
)

func newIndexersRouter(t *testing.T) http.Handler {
	t.Helper()

	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	handler := NewIndexersHandler(models.NewIndexerStore(db))
	r := chi.NewRouter()
	r.Get("/api/indexers", handler.List)
	r.Post("/api/indexers", handler.Create)
	r.Put("/api/indexers/{id}", handler.Update)
	r.Delete("/api/indexers/{id}", handler.Delete)
	return r
}

func validIndexerPayload() map[string]any {
	return map[string]any{
		"id":         12,
		"name":       "AudioBookBay",
		"protocol":   "torrent",
		"priority":   5,
		"rssEnabled": true,
		"categories": []int{3030},
		"enabled":    true,
	}
}

func TestIndexersCreateAndList(t *testing.T) {
	router := newIndexersRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/indexers", validIndexerPayload())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decodeBody[models.IndexerConfig](t, rec)
	assert.Equal(t, 12, created.ID)
	assert.Equal(t, "AudioBookBay", created.Name)

	rec = doJSON(t, router, http.MethodGet, "/api/indexers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]models.IndexerConfig](t, rec), 1)

	rec = doJSON(t, router, http.MethodPost, "/api/indexers", validIndexerPayload())
	assert.Equal(t, http.StatusConflict, rec.Code, "duplicate aggregator id")

	invalid := validIndexerPayload()
	invalid["id"] = 13
	invalid["priority"] = 0
	rec = doJSON(t, router, http.MethodPost, "/api/indexers", invalid)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIndexersPatch(t *testing.T) {
	router := newIndexersRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/indexers", validIndexerPayload())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodPut, "/api/indexers/12", map[string]any{
		"priority": 1,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	updated := decodeBody[models.IndexerConfig](t, rec)
	assert.Equal(t, 1, updated.Priority)
	assert.Equal(t, "AudioBookBay", updated.Name, "unsent fields keep their values")
	assert.True(t, updated.RSSEnabled)

	rec = doJSON(t, router, http.MethodPut, "/api/indexers/12", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty patch is rejected")

	rec = doJSON(t, router, http.MethodPut, "/api/indexers/12", map[string]any{
		"priority": 99,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "patched config is re-validated")

	rec = doJSON(t, router, http.MethodPut, "/api/indexers/404", map[string]any{
		"priority": 1,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIndexersDelete(t *testing.T) {
	router := newIndexersRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/indexers", validIndexerPayload())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodDelete, "/api/indexers/12", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/api/indexers/12", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
