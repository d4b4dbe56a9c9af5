// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/aronjanosch/readmeabook/internal/models"
)

const collectTimeout = 5 * time.Second

// stateCollector reads pipeline state from the database at scrape time, so
// gauges never drift from what the stores actually hold.
type stateCollector struct {
	requests *models.RequestStore
	queue    *models.SearchQueueStore

	states     *prometheus.Desc
	queueDepth *prometheus.Desc
}

func newStateCollector(requests *models.RequestStore, queue *models.SearchQueueStore) *stateCollector {
	return &stateCollector{
		requests: requests,
		queue:    queue,
		states: prometheus.NewDesc(
			"readmeabook_requests",
			"Requests per lifecycle state",
			[]string{"status"}, nil,
		),
		queueDepth: prometheus.NewDesc(
			"readmeabook_search_queue_depth",
			"Requests waiting in the search queue",
			nil, nil,
		),
	}
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.states
	ch <- c.queueDepth
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	counts, err := c.requests.CountByStatus(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Metrics scrape could not count requests")
	} else {
		// Emit every known status so absent states read as zero.
		for _, status := range models.AllRequestStatuses {
			ch <- prometheus.MustNewConstMetric(
				c.states, prometheus.GaugeValue,
				float64(counts[status]), string(status),
			)
		}
	}

	depth, err := c.queue.Size(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Metrics scrape could not size the search queue")
		return
	}
	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(depth))
}
