// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package indexer mediates between local indexer configuration and the
// Torznab aggregator: it syncs the indexer inventory, fans searches out
// across enabled indexers and shields flaky hosts behind a failure backoff.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/aronjanosch/readmeabook/internal/models"
	"github.com/aronjanosch/readmeabook/internal/services/ranker"
	"github.com/aronjanosch/readmeabook/pkg/stringutils"
	"github.com/aronjanosch/readmeabook/pkg/torznab"
)

const (
	searchLimit    = 100
	searchParallel = 4
	searchCacheTTL = 10 * time.Minute

	// Newznab audiobook category.
	audiobookCategory = 3030
)

var (
	ErrNoIndexersConfigured = errors.New("no enabled indexers configured")
	ErrAllIndexersFailed    = errors.New("all indexer searches failed")
	ErrIndexerCoolingDown   = errors.New("indexer is cooling down after repeated failures")
)

// Aggregator is the slice of the Torznab client the service uses.
type Aggregator interface {
	Indexers(ctx context.Context) ([]torznab.Indexer, error)
	Search(ctx context.Context, indexerID int, query string, categories []int, limit int) ([]torznab.Result, error)
	Feed(ctx context.Context, indexerID int, categories []int) ([]torznab.Result, error)
	Download(ctx context.Context, downloadURL string) ([]byte, error)
}

type Service struct {
	store      *models.IndexerStore
	agg        Aggregator
	backoff    *Backoff
	cache      *ttlcache.Cache[string, []ranker.Candidate]
	normalizer *stringutils.Normalizer[string, string]
}

func NewService(store *models.IndexerStore, agg Aggregator) *Service {
	cache := ttlcache.New(ttlcache.Options[string, []ranker.Candidate]{}.
		SetDefaultTTL(searchCacheTTL))

	return &Service{
		store:      store,
		agg:        agg,
		backoff:    NewBackoff(),
		cache:      cache,
		normalizer: stringutils.NewDefaultNormalizer(),
	}
}

// SyncSummary counts what one inventory sync did.
type SyncSummary struct {
	Added    int `json:"added"`
	Updated  int `json:"updated"`
	Disabled int `json:"disabled"`
}

// Sync reconciles local indexer configs against the aggregator's inventory.
// New indexers are created with defaults, renamed ones are refreshed, and
// configs whose aggregator entry vanished are disabled. Local tuning
// (priority, seeding time, RSS participation, categories) is never
// overwritten.
func (s *Service) Sync(ctx context.Context) (SyncSummary, error) {
	remote, err := s.agg.Indexers(ctx)
	if err != nil {
		return SyncSummary{}, fmt.Errorf("list aggregator indexers: %w", err)
	}

	local, err := s.store.List(ctx)
	if err != nil {
		return SyncSummary{}, err
	}
	byID := make(map[int]*models.IndexerConfig, len(local))
	for _, cfg := range local {
		byID[cfg.ID] = cfg
	}

	var summary SyncSummary
	seen := make(map[int]struct{}, len(remote))

	for _, idx := range remote {
		protocol := models.Protocol(idx.Protocol)
		if protocol != models.ProtocolTorrent && protocol != models.ProtocolUsenet {
			log.Warn().Int("indexerID", idx.ID).Str("protocol", idx.Protocol).Msg("Skipping indexer with unknown protocol")
			continue
		}
		seen[idx.ID] = struct{}{}

		existing, ok := byID[idx.ID]
		if !ok {
			cfg := &models.IndexerConfig{
				ID:         idx.ID,
				Name:       idx.Name,
				Protocol:   protocol,
				Priority:   models.DefaultIndexerPriority,
				Categories: audiobookCategories(idx),
				Enabled:    idx.Enable,
			}
			if _, err := s.store.Create(ctx, cfg); err != nil {
				log.Error().Err(err).Int("indexerID", idx.ID).Str("indexer", idx.Name).Msg("Failed to create indexer config")
				continue
			}
			summary.Added++
			continue
		}

		if existing.Name != idx.Name || existing.Protocol != protocol {
			existing.Name = idx.Name
			existing.Protocol = protocol
			if _, err := s.store.Update(ctx, existing); err != nil {
				log.Error().Err(err).Int("indexerID", idx.ID).Msg("Failed to refresh indexer config")
				continue
			}
			summary.Updated++
		}
	}

	for _, cfg := range local {
		if _, ok := seen[cfg.ID]; ok || !cfg.Enabled {
			continue
		}
		cfg.Enabled = false
		if _, err := s.store.Update(ctx, cfg); err != nil {
			log.Error().Err(err).Int("indexerID", cfg.ID).Msg("Failed to disable vanished indexer")
			continue
		}
		summary.Disabled++
		log.Info().Int("indexerID", cfg.ID).Str("indexer", cfg.Name).Msg("Disabled indexer no longer known to the aggregator")
	}

	return summary, nil
}

// audiobookCategories narrows new indexers to the audiobook category when
// the aggregator reports it; otherwise searches run uncategorized.
func audiobookCategories(idx torznab.Indexer) []int {
	for _, cat := range idx.Capabilities.Categories {
		if cat.ID == audiobookCategory {
			return []int{audiobookCategory}
		}
	}
	return nil
}

// Search queries every enabled indexer for the book and returns the merged
// candidate list. Individual indexer failures are tolerated (and escalate
// that indexer's cooldown); the search fails only when no indexer could
// answer. Results are cached briefly to absorb queue and manual double-hits.
func (s *Service) Search(ctx context.Context, title, author string) ([]ranker.Candidate, error) {
	key := s.cacheKey(title, author)
	if cached, ok := s.cache.Get(key); ok {
		return cloneCandidates(cached), nil
	}

	indexers, err := s.store.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	if len(indexers) == 0 {
		return nil, ErrNoIndexersConfigured
	}

	query := strings.TrimSpace(strings.TrimSpace(title) + " " + strings.TrimSpace(author))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(searchParallel)

	var (
		mu         sync.Mutex
		candidates []ranker.Candidate
		failures   []error
	)
	searched := 0

	for _, cfg := range indexers {
		if cooling, until := s.backoff.InCooldown(cfg.ID); cooling {
			log.Debug().Str("indexer", cfg.Name).Time("until", until).Msg("Skipping indexer in cooldown")
			continue
		}
		searched++

		cfg := cfg
		g.Go(func() error {
			results, err := s.agg.Search(gctx, cfg.ID, query, cfg.Categories, searchLimit)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				cooldown := s.backoff.RecordFailure(cfg.ID)
				log.Warn().Err(err).Str("indexer", cfg.Name).Dur("cooldown", cooldown).Msg("Indexer search failed")
				mu.Lock()
				failures = append(failures, fmt.Errorf("%s: %w", cfg.Name, err))
				mu.Unlock()
				return nil
			}
			s.backoff.RecordSuccess(cfg.ID)

			converted := make([]ranker.Candidate, 0, len(results))
			for _, r := range results {
				converted = append(converted, candidateFromResult(cfg, r))
			}
			mu.Lock()
			candidates = append(candidates, converted...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if searched == 0 {
		return nil, fmt.Errorf("%w: every enabled indexer is cooling down", ErrAllIndexersFailed)
	}
	if len(failures) == searched {
		return nil, fmt.Errorf("%w: %w", ErrAllIndexersFailed, errors.Join(failures...))
	}

	s.cache.Set(key, cloneCandidates(candidates), ttlcache.DefaultTTL)
	return candidates, nil
}

// Feed fetches one indexer's RSS page through the aggregator, honoring the
// indexer's cooldown.
func (s *Service) Feed(ctx context.Context, cfg *models.IndexerConfig) ([]torznab.Result, error) {
	if cooling, until := s.backoff.InCooldown(cfg.ID); cooling {
		return nil, fmt.Errorf("%w (until %s)", ErrIndexerCoolingDown, until.Format(time.RFC3339))
	}

	results, err := s.agg.Feed(ctx, cfg.ID, cfg.Categories)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		cooldown := s.backoff.RecordFailure(cfg.ID)
		log.Warn().Err(err).Str("indexer", cfg.Name).Dur("cooldown", cooldown).Msg("Feed fetch failed")
		return nil, err
	}

	s.backoff.RecordSuccess(cfg.ID)
	return results, nil
}

// Download fetches a release payload through the aggregator. Rate limits and
// server errors escalate the indexer's cooldown so the next sweep backs off.
func (s *Service) Download(ctx context.Context, indexerID int, downloadURL string) ([]byte, error) {
	blob, err := s.agg.Download(ctx, downloadURL)
	if err != nil {
		var dlErr *torznab.DownloadError
		if errors.As(err, &dlErr) && (dlErr.IsRateLimited() || dlErr.StatusCode >= 500) {
			s.backoff.RecordFailure(indexerID)
		}
		return nil, err
	}
	return blob, nil
}

// Priorities maps enabled indexer ids to their ranking priority.
func (s *Service) Priorities(ctx context.Context) (map[int]int, error) {
	indexers, err := s.store.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int]int, len(indexers))
	for _, cfg := range indexers {
		out[cfg.ID] = cfg.Priority
	}
	return out, nil
}

func (s *Service) cacheKey(title, author string) string {
	return s.normalizer.Normalize(title) + "|" + s.normalizer.Normalize(author)
}

// candidateFromResult shapes an aggregator result for the ranker. A zero
// download volume factor marks a freeleech grab. The Torznab peers attribute
// counts the whole swarm, so leechers are peers minus seeders.
func candidateFromResult(cfg *models.IndexerConfig, r torznab.Result) ranker.Candidate {
	var flags []string
	if cfg.Protocol == models.ProtocolTorrent && r.DownloadVolumeFactor == 0 {
		flags = append(flags, "freeleech")
	}

	var leechers *int
	if r.Seeders != nil && r.Peers != nil {
		l := *r.Peers - *r.Seeders
		if l < 0 {
			l = 0
		}
		leechers = &l
	}

	return ranker.Candidate{
		IndexerID:   cfg.ID,
		Indexer:     cfg.Name,
		GUID:        r.GUID,
		Title:       r.Title,
		SizeBytes:   r.Size,
		Seeders:     r.Seeders,
		Leechers:    leechers,
		PublishDate: r.PublishDate,
		DownloadURL: r.DownloadURL,
		InfoURL:     r.InfoURL,
		Format:      r.Attributes["format"],
		Protocol:    cfg.Protocol,
		Flags:       flags,
	}
}

func cloneCandidates(in []ranker.Candidate) []ranker.Candidate {
	return append([]ranker.Candidate(nil), in...)
}
