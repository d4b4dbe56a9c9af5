// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package audiobookshelf

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLibraries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/libraries", r.URL.Path)
		assert.Equal(t, "Bearer token123", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"libraries": [
			{"id": "lib-audio", "name": "Audiobooks", "mediaType": "book"},
			{"id": "lib-pod", "name": "Podcasts", "mediaType": "podcast"}
		]}`))
	}))
	defer srv.Close()

	client := NewClient(Config{Host: srv.URL, APIKey: "token123"})
	libs, err := client.Libraries(context.Background())
	require.NoError(t, err)
	require.Len(t, libs, 2)
	assert.Equal(t, "lib-audio", libs[0].ID)
	assert.Equal(t, "book", libs[0].MediaType)
}

func TestSearchBooks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/libraries/lib-audio/search", r.URL.Path)
		assert.Equal(t, "project hail mary", r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"book": [
			{"libraryItem": {"id": "li_1", "media": {"metadata": {"title": "Project Hail Mary", "authorName": "Andy Weir"}}}}
		], "podcast": []}`))
	}))
	defer srv.Close()

	client := NewClient(Config{Host: srv.URL, APIKey: "token123"})
	results, err := client.SearchBooks(context.Background(), "lib-audio", "project hail mary", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "li_1", results[0].LibraryItemID)
	assert.Equal(t, "Project Hail Mary", results[0].Title)
	assert.Equal(t, "Andy Weir", results[0].Author)
}

func TestTriggerScan(t *testing.T) {
	var scanned bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/libraries/lib-audio/scan", r.URL.Path)
		scanned = true
	}))
	defer srv.Close()

	client := NewClient(Config{Host: srv.URL, APIKey: "token123"})
	require.NoError(t, client.TriggerScan(context.Background(), "lib-audio"))
	assert.True(t, scanned)
}

func TestTriggerScan_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient(Config{Host: srv.URL})
	err := client.TriggerScan(context.Background(), "lib-audio")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}
