// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package seeding reclaims finished downloads: once a torrent has met its
// indexer's seeding requirement (and no other request still needs it) the
// reconciler deletes it from the client, and soft-deleted requests are
// purged from the database after their client-side cleanup is settled.
package seeding

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/aronjanosch/readmeabook/internal/downloads"
	"github.com/aronjanosch/readmeabook/internal/models"
)

// Client is the slice of the download manager the reconciler uses.
type Client interface {
	TorrentSeedInfo(ctx context.Context, hash string) (downloads.SeedInfo, error)
	Remove(ctx context.Context, handle models.DownloadHandle, deleteFiles bool) error
}

// Service runs the periodic seeding reconcile pass.
type Service struct {
	requests *models.RequestStore
	history  *models.DownloadHistoryStore
	indexers *models.IndexerStore
	settings *models.SettingsStore
	client   Client
}

func NewService(
	requests *models.RequestStore,
	history *models.DownloadHistoryStore,
	indexers *models.IndexerStore,
	settings *models.SettingsStore,
	client Client,
) *Service {
	return &Service{
		requests: requests,
		history:  history,
		indexers: indexers,
		settings: settings,
		client:   client,
	}
}

// Summary counts one reconcile pass.
type Summary struct {
	Processed      int `json:"processed"`
	ClientDeletes  int `json:"clientDeletes"`
	PurgedRequests int `json:"purgedRequests"`
	Skipped        int `json:"skipped"`
	Errors         int `json:"errors"`
}

// outcome describes what reconcileOne did with a single candidate.
type outcome struct {
	clientDeleted bool
	purged        bool
	skipped       bool
}

// Reconcile sweeps one bounded batch of seeding candidates: available
// requests plus soft-deleted requests of any status. A failure on one item
// logs and counts, the rest of the batch still runs.
func (s *Service) Reconcile(ctx context.Context) (Summary, error) {
	var summary Summary

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return summary, err
	}

	candidates, err := s.requests.ListSeedingCandidates(ctx, settings.SeedingBatchSize)
	if err != nil {
		return summary, err
	}

	var configs map[int]*models.IndexerConfig
	if len(candidates) > 0 {
		list, err := s.indexers.List(ctx)
		if err != nil {
			return summary, err
		}
		configs = make(map[int]*models.IndexerConfig, len(list))
		for _, cfg := range list {
			configs[cfg.ID] = cfg
		}
	}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Processed++

		out, err := s.reconcileOne(ctx, c, configs)
		if err != nil {
			summary.Errors++
			log.Error().Err(err).
				Int("requestID", c.Request.ID).
				Stringer("handle", c.History.Handle).
				Msg("Seeding reconcile failed for request")
			continue
		}
		if out.clientDeleted {
			summary.ClientDeletes++
		}
		if out.purged {
			summary.PurgedRequests++
		}
		if out.skipped {
			summary.Skipped++
		}
	}

	if summary.Processed > 0 {
		log.Info().
			Int("processed", summary.Processed).
			Int("clientDeletes", summary.ClientDeletes).
			Int("purged", summary.PurgedRequests).
			Int("skipped", summary.Skipped).
			Int("errors", summary.Errors).
			Msg("Seeding reconcile pass finished")
	}
	return summary, nil
}

func (s *Service) reconcileOne(ctx context.Context, c models.SeedingCandidate, configs map[int]*models.IndexerConfig) (outcome, error) {
	deleted := c.Request.DeletedAt != nil

	hash, isTorrent := c.History.Handle.TorrentHash()
	if !isTorrent {
		// Usenet jobs have no seeding obligation to wait out.
		if deleted {
			return s.purge(ctx, c.Request.ID)
		}
		return outcome{skipped: true}, nil
	}

	cfg := s.indexerFor(c.History, configs)
	if cfg == nil || cfg.SeedingTimeMinutes == 0 {
		// Unknown indexer or unlimited seeding: the client keeps the
		// torrent forever. Orphaned rows are still released.
		if deleted {
			return s.purge(ctx, c.Request.ID)
		}
		return outcome{skipped: true}, nil
	}

	info, err := s.client.TorrentSeedInfo(ctx, hash)
	if err != nil {
		return outcome{}, err
	}

	if info.Exists && info.SeedingMinutes < cfg.SeedingTimeMinutes {
		log.Debug().
			Int("requestID", c.Request.ID).
			Str("hash", hash).
			Int("seededMinutes", info.SeedingMinutes).
			Int("requiredMinutes", cfg.SeedingTimeMinutes).
			Msg("Seeding requirement not met yet")
		return outcome{skipped: true}, nil
	}

	// Requirement met, or the torrent is already gone from the client and
	// there is nothing left to seed.
	others, err := s.requests.CountOthersSharingTorrent(ctx, c.Request.ID, hash)
	if err != nil {
		return outcome{}, err
	}
	if others > 0 {
		log.Debug().
			Int("requestID", c.Request.ID).
			Str("hash", hash).
			Int("sharedBy", others).
			Msg("Torrent still referenced by other requests; leaving it")
		if deleted {
			// The other requests keep the torrent alive; this request's
			// rows are no longer needed.
			return s.purge(ctx, c.Request.ID)
		}
		return outcome{skipped: true}, nil
	}

	var out outcome
	if info.Exists {
		if err := s.client.Remove(ctx, c.History.Handle, true); err != nil {
			return outcome{}, err
		}
		out.clientDeleted = true
		log.Info().
			Int("requestID", c.Request.ID).
			Str("hash", hash).
			Str("release", c.History.ReleaseTitle).
			Int("seededMinutes", info.SeedingMinutes).
			Msg("Deleted torrent after meeting its seeding requirement")
	}

	if deleted {
		purged, err := s.purge(ctx, c.Request.ID)
		if err != nil {
			return out, err
		}
		out.purged = purged.purged
		return out, nil
	}

	if err := s.history.SetStatus(ctx, c.History.ID, models.DownloadRemoved); err != nil {
		return out, err
	}
	return out, nil
}

// indexerFor resolves the history row's indexer config, by id when the row
// still carries one, by name otherwise.
func (s *Service) indexerFor(h models.DownloadHistory, configs map[int]*models.IndexerConfig) *models.IndexerConfig {
	if h.IndexerID != nil {
		if cfg, ok := configs[*h.IndexerID]; ok {
			return cfg
		}
	}
	for _, cfg := range configs {
		if cfg.Name == h.IndexerName {
			return cfg
		}
	}
	return nil
}

func (s *Service) purge(ctx context.Context, requestID int) (outcome, error) {
	if err := s.requests.HardDelete(ctx, requestID); err != nil {
		return outcome{}, err
	}
	log.Info().Int("requestID", requestID).Msg("Purged soft-deleted request")
	return outcome{purged: true}, nil
}
