// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloads

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aronjanosch/readmeabook/internal/models"
)

func newUsenetManager(t *testing.T, handler http.HandlerFunc) *Manager {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewManager(Config{
		SabnzbdHost:     srv.URL,
		SabnzbdAPIKey:   "test-key",
		SabnzbdCategory: "audiobooks",
	})
}

func TestManagerGrabNZB(t *testing.T) {
	manager := newUsenetManager(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "addfile", r.URL.Query().Get("mode"))
		require.Equal(t, "audiobooks", r.URL.Query().Get("cat"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  true,
			"nzo_ids": []string{"SABnzbd_nzo_p1x2y3"},
		})
	})

	handle, err := manager.GrabNZB(context.Background(), []byte("<nzb/>"), "Project Hail Mary")
	require.NoError(t, err)

	assert.Equal(t, models.ProtocolUsenet, handle.Protocol())
	nzoID, ok := handle.NZBID()
	require.True(t, ok, "usenet handle should carry an nzb id")
	assert.Equal(t, "SABnzbd_nzo_p1x2y3", nzoID)
}

func TestManagerStatus_UsenetDownloading(t *testing.T) {
	manager := newUsenetManager(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "queue", r.URL.Query().Get("mode"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"queue": map[string]any{
				"slots": []map[string]any{
					{"nzo_id": "SABnzbd_nzo_p1", "status": "Downloading", "percentage": "42"},
				},
			},
		})
	})

	status, err := manager.Status(context.Background(), models.UsenetHandle("SABnzbd_nzo_p1"))
	require.NoError(t, err)

	assert.Equal(t, StateDownloading, status.State)
	assert.Equal(t, 42.0, status.Progress)
}

func TestManagerStatus_UsenetCompleted(t *testing.T) {
	manager := newUsenetManager(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("mode") {
		case "queue":
			_ = json.NewEncoder(w).Encode(map[string]any{"queue": map[string]any{"slots": []any{}}})
		case "history":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"history": map[string]any{
					"slots": []map[string]any{
						{"nzo_id": "SABnzbd_nzo_p1", "status": "Completed", "storage": "/downloads/complete/Project Hail Mary"},
					},
				},
			})
		default:
			t.Errorf("unexpected mode %q", r.URL.Query().Get("mode"))
		}
	})

	status, err := manager.Status(context.Background(), models.UsenetHandle("SABnzbd_nzo_p1"))
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 100.0, status.Progress)
	assert.Equal(t, "/downloads/complete/Project Hail Mary", status.ContentPath)
}

func TestManagerStatus_UsenetFailed(t *testing.T) {
	manager := newUsenetManager(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("mode") {
		case "queue":
			_ = json.NewEncoder(w).Encode(map[string]any{"queue": map[string]any{"slots": []any{}}})
		case "history":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"history": map[string]any{
					"slots": []map[string]any{
						{"nzo_id": "SABnzbd_nzo_p1", "status": "Failed", "fail_message": "Aborted, cannot be completed"},
					},
				},
			})
		}
	})

	status, err := manager.Status(context.Background(), models.UsenetHandle("SABnzbd_nzo_p1"))
	require.NoError(t, err)

	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, "Aborted, cannot be completed", status.Message)
}

func TestManagerStatus_UsenetMissingIsNotAnError(t *testing.T) {
	manager := newUsenetManager(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("mode") {
		case "queue":
			_ = json.NewEncoder(w).Encode(map[string]any{"queue": map[string]any{"slots": []any{}}})
		case "history":
			_ = json.NewEncoder(w).Encode(map[string]any{"history": map[string]any{"slots": []any{}}})
		}
	})

	status, err := manager.Status(context.Background(), models.UsenetHandle("SABnzbd_nzo_gone"))
	require.NoError(t, err, "a vanished job is a state, not an error")

	assert.Equal(t, StateMissing, status.State)
}

func TestManagerRemove_Usenet(t *testing.T) {
	var modes []string
	manager := newUsenetManager(t, func(w http.ResponseWriter, r *http.Request) {
		modes = append(modes, r.URL.Query().Get("mode"))
		require.Equal(t, "delete", r.URL.Query().Get("name"))
		require.Equal(t, "1", r.URL.Query().Get("del_files"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": true})
	})

	err := manager.Remove(context.Background(), models.UsenetHandle("SABnzbd_nzo_p1"), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"queue", "history"}, modes, "removal should sweep queue and history")
}

func TestManagerTorrentPathsRequireConfiguration(t *testing.T) {
	manager := NewManager(Config{})

	_, err := manager.GrabTorrent(context.Background(), []byte("d4:infoe"))
	assert.ErrorIs(t, err, ErrTorrentNotConfigured)

	_, err = manager.Status(context.Background(), models.TorrentHandle("aabbcc"))
	assert.ErrorIs(t, err, ErrTorrentNotConfigured)

	_, err = manager.TorrentSeedInfo(context.Background(), "aabbcc")
	assert.ErrorIs(t, err, ErrTorrentNotConfigured)
}

func TestManagerUsenetPathsRequireConfiguration(t *testing.T) {
	manager := NewManager(Config{})

	_, err := manager.GrabNZB(context.Background(), []byte("<nzb/>"), "name")
	assert.ErrorIs(t, err, ErrUsenetNotConfigured)

	_, err = manager.Status(context.Background(), models.UsenetHandle("SABnzbd_nzo_p1"))
	assert.ErrorIs(t, err, ErrUsenetNotConfigured)
}

func TestManagerStatus_ZeroHandle(t *testing.T) {
	manager := NewManager(Config{})

	_, err := manager.Status(context.Background(), models.DownloadHandle{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown download protocol")
}
