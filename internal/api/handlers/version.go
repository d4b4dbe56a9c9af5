// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/aronjanosch/readmeabook/internal/buildinfo"
	"github.com/aronjanosch/readmeabook/internal/update"
)

type VersionHandler struct {
	updateService *update.Service
}

func NewVersionHandler(updateService *update.Service) *VersionHandler {
	return &VersionHandler{updateService: updateService}
}

// GetVersion reports the running build.
func (h *VersionHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{
		"version": buildinfo.Version,
		"commit":  buildinfo.Commit,
		"date":    buildinfo.Date,
	})
}

// GetLatestVersion reports the newest published release, if the periodic
// check has found one.
func (h *VersionHandler) GetLatestVersion(w http.ResponseWriter, r *http.Request) {
	release := h.updateService.GetLatestRelease(r.Context())
	if release == nil {
		RespondJSON(w, http.StatusOK, map[string]any{"updateAvailable": false})
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"updateAvailable": true,
		"release":         release,
	})
}
