// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package update checks GitHub for newer releases and can swap the running
// binary for the latest one.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
)

const (
	// Repository is the GitHub slug releases are published under.
	Repository = "aronjanosch/readmeabook"

	checkInterval = 24 * time.Hour
	initialDelay  = 30 * time.Second
	fetchTimeout  = 30 * time.Second
)

// Release is the slice of a GitHub release the API surfaces.
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	HTMLURL     string    `json:"html_url"`
	Body        string    `json:"body"`
	PublishedAt time.Time `json:"published_at"`
}

// Service periodically checks for a newer release and caches the result for
// the version endpoint. Checks are skipped entirely while disabled, and dev
// builds never report an update.
type Service struct {
	log        zerolog.Logger
	version    string
	userAgent  string
	httpClient *http.Client
	baseURL    string

	enabled atomic.Bool

	mu     sync.RWMutex
	latest *Release
}

func NewService(logger zerolog.Logger, enabled bool, version, userAgent string) *Service {
	s := &Service{
		log:        logger.With().Str("module", "update").Logger(),
		version:    version,
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: fetchTimeout},
		baseURL:    "https://api.github.com",
	}
	s.enabled.Store(enabled)
	return s
}

// SetEnabled toggles the periodic check, wired to config reloads.
func (s *Service) SetEnabled(enabled bool) {
	if s.enabled.Swap(enabled) != enabled {
		s.log.Debug().Bool("enabled", enabled).Msg("Update checks toggled")
	}
}

// Start launches the check loop. The first check waits out a short delay so
// startup is never gated on GitHub.
func (s *Service) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Service) run(ctx context.Context) {
	delay := time.NewTimer(initialDelay)
	defer delay.Stop()
	select {
	case <-ctx.Done():
		return
	case <-delay.C:
	}
	s.CheckUpdates(ctx)

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckUpdates(ctx)
		}
	}
}

// CheckUpdates refreshes the cached latest release if checks are enabled.
func (s *Service) CheckUpdates(ctx context.Context) {
	if !s.enabled.Load() {
		return
	}

	release, err := s.detectNewer(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Update check failed")
		return
	}

	s.mu.Lock()
	s.latest = release
	s.mu.Unlock()

	if release != nil {
		s.log.Info().
			Str("currentVersion", s.version).
			Str("latestVersion", release.TagName).
			Str("url", release.HTMLURL).
			Msg("New release available")
	}
}

// GetLatestRelease returns the most recent newer release seen, or nil when
// up to date or unchecked.
func (s *Service) GetLatestRelease(_ context.Context) *Release {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *Service) detectNewer(ctx context.Context) (*Release, error) {
	current, err := semver.NewVersion(strings.TrimPrefix(s.version, "v"))
	if err != nil {
		// Dev builds have no comparable version.
		s.log.Debug().Str("version", s.version).Msg("Skipping update check for unversioned build")
		return nil, nil
	}

	release, err := s.fetchLatest(ctx)
	if err != nil || release == nil {
		return nil, err
	}

	latest, err := semver.NewVersion(strings.TrimPrefix(release.TagName, "v"))
	if err != nil {
		return nil, fmt.Errorf("parse release tag %q: %w", release.TagName, err)
	}
	if !latest.GreaterThan(current) {
		return nil, nil
	}
	return release, nil
}

func (s *Service) fetchLatest(ctx context.Context) (*Release, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/latest", s.baseURL, Repository)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch latest release: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		// Nothing published yet.
		return nil, nil
	default:
		return nil, fmt.Errorf("fetch latest release: unexpected status %d", resp.StatusCode)
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}
	return &release, nil
}
