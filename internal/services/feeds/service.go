// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package feeds watches indexer RSS feeds for releases matching wanted
// requests and rescues searches that stalled. Matches never grab directly;
// they feed the search queue so the full rank-and-grab pipeline decides.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/aronjanosch/readmeabook/internal/models"
	"github.com/aronjanosch/readmeabook/internal/services/ranker"
	"github.com/aronjanosch/readmeabook/pkg/torznab"
)

const (
	feedParallel      = 4
	fallbackBatchSize = 100
)

// FeedSource fetches RSS pages per indexer.
type FeedSource interface {
	Feed(ctx context.Context, cfg *models.IndexerConfig) ([]torznab.Result, error)
}

// SearchQueue enqueues requests for the search processor.
type SearchQueue interface {
	EnqueueSearch(ctx context.Context, requestID int, reason string) (bool, error)
}

// Service runs the RSS sweep and the stalled-search fallback sweep.
type Service struct {
	requests *models.RequestStore
	indexers *models.IndexerStore
	items    *models.FeedItemStore
	settings *models.SettingsStore
	source   FeedSource
	queue    SearchQueue
	ranker   *ranker.Ranker
}

func NewService(
	requests *models.RequestStore,
	indexers *models.IndexerStore,
	items *models.FeedItemStore,
	settings *models.SettingsStore,
	source FeedSource,
	queue SearchQueue,
) *Service {
	return &Service{
		requests: requests,
		indexers: indexers,
		items:    items,
		settings: settings,
		source:   source,
		queue:    queue,
		ranker:   ranker.New(),
	}
}

// SweepSummary counts one RSS sweep.
type SweepSummary struct {
	Indexers int `json:"indexers"`
	Items    int `json:"items"`
	NewItems int `json:"newItems"`
	Matched  int `json:"matched"`
	Enqueued int `json:"enqueued"`
	Pruned   int `json:"pruned"`
	Errors   int `json:"errors"`
}

type indexerFeed struct {
	cfg     *models.IndexerConfig
	results []torznab.Result
}

// Sweep fetches every RSS-enabled indexer's feed, evaluates unseen items
// against the wanted requests and enqueues matches for the search
// processor. Items are marked seen regardless of outcome, and old seen
// records are pruned by the retention window.
func (s *Service) Sweep(ctx context.Context) (SweepSummary, error) {
	var summary SweepSummary

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return summary, err
	}

	indexers, err := s.indexers.ListRSSEnabled(ctx)
	if err != nil {
		return summary, err
	}
	summary.Indexers = len(indexers)

	if len(indexers) > 0 {
		wanted, err := s.requests.ListDetailsByStatuses(ctx, models.StatusAwaitingSearch, models.StatusPending)
		if err != nil {
			return summary, err
		}

		feeds, fetchErrors := s.fetchFeeds(ctx, indexers)
		summary.Errors += fetchErrors
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		for _, feed := range feeds {
			if err := s.sweepFeed(ctx, feed, wanted, settings.RequireAuthorMatch, &summary); err != nil {
				return summary, err
			}
		}
	}

	retention := time.Duration(settings.FeedRetentionDays) * 24 * time.Hour
	pruned, err := s.items.Prune(ctx, retention)
	if err != nil {
		summary.Errors++
		log.Warn().Err(err).Msg("Failed to prune seen feed items")
	}
	summary.Pruned = int(pruned)

	if summary.Items > 0 || summary.Pruned > 0 {
		log.Info().
			Int("indexers", summary.Indexers).
			Int("items", summary.Items).
			Int("new", summary.NewItems).
			Int("matched", summary.Matched).
			Int("enqueued", summary.Enqueued).
			Int("pruned", summary.Pruned).
			Int("errors", summary.Errors).
			Msg("Feed sweep finished")
	}
	return summary, nil
}

// fetchFeeds pulls all feeds with bounded parallelism. A failing indexer
// counts as one error and the sweep continues with the rest.
func (s *Service) fetchFeeds(ctx context.Context, indexers []*models.IndexerConfig) ([]indexerFeed, int) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(feedParallel)

	var (
		mu     sync.Mutex
		feeds  []indexerFeed
		errors int
	)

	for _, cfg := range indexers {
		cfg := cfg
		g.Go(func() error {
			results, err := s.source.Feed(gctx, cfg)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn().Err(err).Str("indexer", cfg.Name).Msg("Feed fetch failed")
				mu.Lock()
				errors++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			feeds = append(feeds, indexerFeed{cfg: cfg, results: results})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return feeds, errors
	}
	return feeds, errors
}

// sweepFeed dedups one indexer's feed page in a single lookup, evaluates the
// unseen items and records the evaluated keys in one batch. Items whose
// evaluation failed stay unrecorded so the next sweep retries them. Only
// context errors propagate.
func (s *Service) sweepFeed(ctx context.Context, feed indexerFeed, wanted []*models.RequestDetails, requireAuthor bool, summary *SweepSummary) error {
	summary.Items += len(feed.results)

	keys := make([]string, len(feed.results))
	for i, item := range feed.results {
		keys[i] = itemKey(item)
	}

	unseen, err := s.items.Unseen(ctx, feed.cfg.ID, keys...)
	if err != nil {
		summary.Errors++
		log.Error().Err(err).Str("indexer", feed.cfg.Name).Msg("Could not dedup feed items")
		return ctx.Err()
	}
	pending := make(map[string]bool, len(unseen))
	for _, k := range unseen {
		pending[k] = true
	}

	evaluated := make([]string, 0, len(unseen))
	for i, item := range feed.results {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !pending[keys[i]] {
			// Seen on an earlier sweep, or a duplicate within this page.
			continue
		}
		pending[keys[i]] = false
		summary.NewItems++

		if err := s.evaluateItem(ctx, feed.cfg, item, wanted, requireAuthor, summary); err != nil {
			summary.Errors++
			log.Error().Err(err).Str("indexer", feed.cfg.Name).Str("item", item.Title).
				Msg("Feed item evaluation failed")
			continue
		}
		evaluated = append(evaluated, keys[i])
	}

	if err := s.items.MarkSeen(ctx, feed.cfg.ID, evaluated...); err != nil {
		summary.Errors++
		log.Warn().Err(err).Str("indexer", feed.cfg.Name).Msg("Failed to record seen feed items")
	}
	return ctx.Err()
}

// evaluateItem matches one unseen feed item against every wanted request and
// enqueues the hits. The decision is the ranker's hard gates reduced to a
// yes/no: a gate-passing feed item only triggers a full search, and the
// rank-and-grab pipeline judges the actual releases.
func (s *Service) evaluateItem(ctx context.Context, cfg *models.IndexerConfig, item torznab.Result, wanted []*models.RequestDetails, requireAuthor bool, summary *SweepSummary) error {
	for _, req := range wanted {
		match := s.ranker.EvaluateMatch(req.Audiobook.Title, req.Audiobook.Author, item.Title, requireAuthor)
		if !match.CoveragePassed || (requireAuthor && !match.AuthorPassed) {
			continue
		}
		summary.Matched++

		queued, err := s.queue.EnqueueSearch(ctx, req.ID, fmt.Sprintf("feed match on %s", cfg.Name))
		if err != nil {
			return err
		}
		if queued {
			summary.Enqueued++
			log.Info().
				Int("requestID", req.ID).
				Str("title", req.Audiobook.Title).
				Str("release", item.Title).
				Str("indexer", cfg.Name).
				Float64("score", match.Score).
				Msg("Feed item matches a wanted request")
		}
	}

	return nil
}

// itemKey builds the per-indexer dedup key: the feed GUID when present,
// otherwise a hash of title and size.
func itemKey(item torznab.Result) string {
	if item.GUID != "" {
		return item.GUID
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(item.Title+"|"+strconv.FormatInt(item.Size, 10)))
}

// FallbackSummary counts one fallback sweep.
type FallbackSummary struct {
	Stalled  int `json:"stalled"`
	Requeued int `json:"requeued"`
	Rescued  int `json:"rescued"`
	Errors   int `json:"errors"`
}

// Fallback re-enqueues requests that sat in awaiting_search past the stall
// threshold and rescues requests wedged in searching (a crashed pass left
// them claimed): those are failed back to awaiting_search first, then
// enqueued like the rest.
func (s *Service) Fallback(ctx context.Context) (FallbackSummary, error) {
	var summary FallbackSummary

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return summary, err
	}
	threshold := time.Duration(settings.StalledSearchThresholdMinutes) * time.Minute

	waiting, err := s.requests.ListStalled(ctx, models.StatusAwaitingSearch, threshold, fallbackBatchSize)
	if err != nil {
		return summary, err
	}
	for _, id := range waiting {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Stalled++

		queued, err := s.queue.EnqueueSearch(ctx, id, "stalled in awaiting_search")
		if err != nil {
			summary.Errors++
			log.Warn().Err(err).Int("requestID", id).Msg("Failed to requeue stalled request")
			continue
		}
		if queued {
			summary.Requeued++
		}
	}

	wedged, err := s.requests.ListStalled(ctx, models.StatusSearching, threshold, fallbackBatchSize)
	if err != nil {
		return summary, err
	}
	for _, id := range wedged {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Stalled++

		if _, err := s.requests.TransitionWithMessage(ctx, id, models.EventSearchFailed,
			"search pass never finished"); err != nil {
			if errors.Is(err, models.ErrIllegalTransition) || errors.Is(err, models.ErrConflict) {
				// The pass finished after all, or someone cancelled.
				log.Debug().Int("requestID", id).Msg("Wedged search resolved itself")
				continue
			}
			summary.Errors++
			log.Warn().Err(err).Int("requestID", id).Msg("Could not reclaim wedged search")
			continue
		}
		summary.Rescued++

		queued, err := s.queue.EnqueueSearch(ctx, id, "rescued from wedged search")
		if err != nil {
			summary.Errors++
			log.Warn().Err(err).Int("requestID", id).Msg("Failed to requeue rescued request")
			continue
		}
		if queued {
			summary.Requeued++
		}
	}

	if summary.Stalled > 0 {
		log.Info().
			Int("stalled", summary.Stalled).
			Int("requeued", summary.Requeued).
			Int("rescued", summary.Rescued).
			Int("errors", summary.Errors).
			Msg("Fallback sweep finished")
	}
	return summary, nil
}
