// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes the acquisition pipeline on a dedicated
// Prometheus listener, kept off the main API port.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aronjanosch/readmeabook/internal/models"
)

// PipelineMetrics counts what the background passes accomplish. The
// scheduler records each job's summary after the run; nothing in the hot
// path touches Prometheus directly.
type PipelineMetrics struct {
	SearchesTotal       prometheus.Counter
	GrabsTotal          prometheus.Counter
	SearchNoMatchTotal  prometheus.Counter
	SearchFailuresTotal prometheus.Counter
	ImportsTotal        *prometheus.CounterVec
	ImportRetriesTotal  prometheus.Counter
	SeedingDeletesTotal prometheus.Counter
	FeedItemsTotal      prometheus.Counter
	FeedMatchesTotal    prometheus.Counter
	JobRunsTotal        *prometheus.CounterVec
	JobDuration         *prometheus.HistogramVec
}

// MetricsManager owns the metrics registry: the pipeline counters plus a
// collector that reads request states and queue depth from the database on
// every scrape.
type MetricsManager struct {
	registry *prometheus.Registry
	Pipeline *PipelineMetrics
}

func NewMetricsManager(requests *models.RequestStore, queue *models.SearchQueueStore) *MetricsManager {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	pipeline := &PipelineMetrics{
		SearchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "readmeabook_searches_total",
			Help: "Queued searches processed",
		}),
		GrabsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "readmeabook_grabs_total",
			Help: "Releases sent to a download client",
		}),
		SearchNoMatchTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "readmeabook_search_no_match_total",
			Help: "Searches that found no eligible candidate",
		}),
		SearchFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "readmeabook_search_failures_total",
			Help: "Searches that failed against the indexers or the client",
		}),
		ImportsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "readmeabook_imports_total",
			Help: "Completed downloads organized into the library, by result",
		}, []string{"result"}),
		ImportRetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "readmeabook_import_retries_total",
			Help: "Import retries scheduled after an organize failure",
		}),
		SeedingDeletesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "readmeabook_seeding_deletes_total",
			Help: "Torrents removed from the client after meeting their seeding requirement",
		}),
		FeedItemsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "readmeabook_feed_items_total",
			Help: "Feed items inspected across RSS sweeps",
		}),
		FeedMatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "readmeabook_feed_matches_total",
			Help: "Feed items that matched a wanted audiobook",
		}),
		JobRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "readmeabook_job_runs_total",
			Help: "Background job runs, by job and result",
		}, []string{"job", "result"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "readmeabook_job_duration_seconds",
			Help:    "Background job run duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}

	registry.MustRegister(newStateCollector(requests, queue))

	return &MetricsManager{registry: registry, Pipeline: pipeline}
}

// Registry returns the gatherer for the metrics endpoint.
func (m *MetricsManager) Registry() *prometheus.Registry {
	return m.registry
}
