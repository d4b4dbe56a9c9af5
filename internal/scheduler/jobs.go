// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scheduler

import (
	"context"
	"time"

	"github.com/aronjanosch/readmeabook/internal/downloads"
	"github.com/aronjanosch/readmeabook/internal/models"
	"github.com/aronjanosch/readmeabook/internal/services/acquisition"
	"github.com/aronjanosch/readmeabook/internal/services/feeds"
	"github.com/aronjanosch/readmeabook/internal/services/indexer"
	"github.com/aronjanosch/readmeabook/internal/services/library"
	"github.com/aronjanosch/readmeabook/internal/services/search"
	"github.com/aronjanosch/readmeabook/internal/services/seeding"
)

// Job names, shared with the jobs API.
const (
	JobSearchQueue      = "search-queue"
	JobDownloadsMonitor = "downloads-monitor"
	JobFeedsSweep       = "feeds-sweep"
	JobFeedsFallback    = "feeds-fallback"
	JobSeedingReconcile = "seeding-reconcile"
	JobLibrarySync      = "library-sync"
	JobImportRetries    = "import-retries"
	JobIndexerSync      = "indexer-sync"
)

const (
	searchQueueInterval   = 30 * time.Second
	monitorInterval       = 15 * time.Second
	feedsFallbackInterval = 10 * time.Minute
	seedingInterval       = time.Hour
	librarySyncInterval   = 10 * time.Minute
	importRetryInterval   = 2 * time.Minute
	indexerSyncInterval   = 6 * time.Hour

	feedSweepDefault = 15 * time.Minute
	settingsTimeout  = 5 * time.Second
)

// Deps collects the processors the standard jobs drive. They are the same
// services the API handlers call directly.
type Deps struct {
	Search   *search.Service
	Monitor  *downloads.Monitor
	Feeds    *feeds.Service
	Seeding  *seeding.Service
	Library  *library.Service
	Imports  *acquisition.Service
	Indexers *indexer.Service
	Settings *models.SettingsStore
}

// StandardJobs builds the full background job set. The feed sweep interval
// follows app settings; everything else runs on a fixed cadence.
func StandardJobs(deps Deps) []Job {
	return []Job{
		{
			Name:  JobSearchQueue,
			Every: searchQueueInterval,
			Wake:  deps.Search.WakeChan(),
			Run: func(ctx context.Context) (map[string]int, error) {
				sum, err := deps.Search.ProcessQueue(ctx)
				return map[string]int{
					"checked": sum.Checked,
					"grabbed": sum.Grabbed,
					"noMatch": sum.NoMatch,
					"failed":  sum.Failed,
					"skipped": sum.Skipped,
				}, err
			},
		},
		{
			Name:  JobDownloadsMonitor,
			Every: monitorInterval,
			Run: func(ctx context.Context) (map[string]int, error) {
				sum, err := deps.Monitor.Poll(ctx)
				return map[string]int{
					"checked":    sum.Checked,
					"progressed": sum.Progressed,
					"completed":  sum.Completed,
					"failed":     sum.Failed,
				}, err
			},
		},
		{
			Name:      JobFeedsSweep,
			Every:     feedSweepDefault,
			EveryFunc: feedSweepInterval(deps.Settings),
			Run: func(ctx context.Context) (map[string]int, error) {
				sum, err := deps.Feeds.Sweep(ctx)
				return map[string]int{
					"indexers": sum.Indexers,
					"items":    sum.Items,
					"newItems": sum.NewItems,
					"matched":  sum.Matched,
					"enqueued": sum.Enqueued,
					"pruned":   sum.Pruned,
					"errors":   sum.Errors,
				}, err
			},
		},
		{
			Name:  JobFeedsFallback,
			Every: feedsFallbackInterval,
			Run: func(ctx context.Context) (map[string]int, error) {
				sum, err := deps.Feeds.Fallback(ctx)
				return map[string]int{
					"stalled":  sum.Stalled,
					"requeued": sum.Requeued,
					"rescued":  sum.Rescued,
					"errors":   sum.Errors,
				}, err
			},
		},
		{
			Name:  JobSeedingReconcile,
			Every: seedingInterval,
			Run: func(ctx context.Context) (map[string]int, error) {
				sum, err := deps.Seeding.Reconcile(ctx)
				return map[string]int{
					"processed":      sum.Processed,
					"clientDeletes":  sum.ClientDeletes,
					"purgedRequests": sum.PurgedRequests,
					"skipped":        sum.Skipped,
					"errors":         sum.Errors,
				}, err
			},
		},
		{
			Name:  JobLibrarySync,
			Every: librarySyncInterval,
			Run: func(ctx context.Context) (map[string]int, error) {
				sum, err := deps.Library.Sync(ctx)
				return map[string]int{
					"checked":  sum.Checked,
					"matched":  sum.Matched,
					"verified": sum.Verified,
					"errors":   sum.Errors,
				}, err
			},
		},
		{
			Name:  JobImportRetries,
			Every: importRetryInterval,
			Run: func(ctx context.Context) (map[string]int, error) {
				sum, err := deps.Imports.RetryImports(ctx)
				return map[string]int{
					"checked":   sum.Checked,
					"processed": sum.Processed,
					"errors":    sum.Errors,
				}, err
			},
		},
		{
			Name:  JobIndexerSync,
			Every: indexerSyncInterval,
			Run: func(ctx context.Context) (map[string]int, error) {
				sum, err := deps.Indexers.Sync(ctx)
				return map[string]int{
					"added":    sum.Added,
					"updated":  sum.Updated,
					"disabled": sum.Disabled,
				}, err
			},
		},
	}
}

func feedSweepInterval(settings *models.SettingsStore) func() time.Duration {
	return func() time.Duration {
		ctx, cancel := context.WithTimeout(context.Background(), settingsTimeout)
		defer cancel()
		s, err := settings.Get(ctx)
		if err != nil || s.FeedSweepIntervalMinutes < 1 {
			return feedSweepDefault
		}
		return time.Duration(s.FeedSweepIntervalMinutes) * time.Minute
	}
}
