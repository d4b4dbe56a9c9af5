// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package search drains the search queue: it shops each queued request
// across the indexers, ranks what comes back, and hands the best eligible
// candidate to a download client.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moistari/rls"
	"github.com/rs/zerolog/log"

	"github.com/aronjanosch/readmeabook/internal/models"
	"github.com/aronjanosch/readmeabook/internal/services/ranker"
)

// failCleanupGrace bounds the bookkeeping transition when a search pass is
// cut short by shutdown.
const failCleanupGrace = 5 * time.Second

// CandidateSource searches the indexer layer and fetches release payloads.
type CandidateSource interface {
	Search(ctx context.Context, title, author string) ([]ranker.Candidate, error)
	Download(ctx context.Context, indexerID int, downloadURL string) ([]byte, error)
	Priorities(ctx context.Context) (map[int]int, error)
}

// Grabber submits release payloads to the download clients.
type Grabber interface {
	GrabTorrent(ctx context.Context, torrentBytes []byte) (models.DownloadHandle, error)
	GrabNZB(ctx context.Context, nzbData []byte, name string) (models.DownloadHandle, error)
}

// GrabNotifier announces successful grabs.
type GrabNotifier interface {
	NotifyGrabbed(ctx context.Context, title, releaseName, indexer string, sizeBytes int64) error
}

// Service owns search orchestration: the scheduled queue drain, the
// interactive candidate listing, and manual grabs.
type Service struct {
	requests *models.RequestStore
	queue    *models.SearchQueueStore
	history  *models.DownloadHistoryStore
	settings *models.SettingsStore
	source   CandidateSource
	grabber  Grabber
	notifier GrabNotifier
	ranker   *ranker.Ranker
	rejects  *rejectFilter
	wake     chan struct{}
}

func NewService(
	requests *models.RequestStore,
	queue *models.SearchQueueStore,
	history *models.DownloadHistoryStore,
	settings *models.SettingsStore,
	source CandidateSource,
	grabber Grabber,
	notifier GrabNotifier,
) *Service {
	return &Service{
		requests: requests,
		queue:    queue,
		history:  history,
		settings: settings,
		source:   source,
		grabber:  grabber,
		notifier: notifier,
		ranker:   ranker.New(),
		rejects:  newRejectFilter(),
		wake:     make(chan struct{}, 1),
	}
}

// EnqueueSearch queues the request for the next drain and wakes the
// processor. Re-enqueueing an already queued request is a no-op.
func (s *Service) EnqueueSearch(ctx context.Context, requestID int, reason string) (bool, error) {
	queued, err := s.queue.Enqueue(ctx, requestID, reason)
	if err != nil {
		return false, err
	}
	if queued {
		s.Wake()
	}
	return queued, nil
}

// Wake nudges the queue processor without waiting for its ticker.
func (s *Service) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// WakeChan is consumed by the scheduler's drain loop.
func (s *Service) WakeChan() <-chan struct{} { return s.wake }

// Summary reports one drain of the search queue.
type Summary struct {
	Checked int `json:"checked"`
	Grabbed int `json:"grabbed"`
	NoMatch int `json:"noMatch"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

type searchOutcome int

const (
	outcomeSkipped searchOutcome = iota
	outcomeGrabbed
	outcomeNoMatch
	outcomeFailed
)

// ProcessQueue drains up to a batch of queued searches. Per-request
// failures are recorded on the request and never abort the pass.
func (s *Service) ProcessQueue(ctx context.Context) (Summary, error) {
	var summary Summary

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return summary, err
	}

	batch, err := s.queue.NextBatch(ctx, settings.SearchBatchSize)
	if err != nil {
		return summary, err
	}

	for _, queued := range batch {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Checked++

		outcome, err := s.processOne(ctx, queued.RequestID, settings)
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			summary.Failed++
			log.Error().Err(err).Int("requestID", queued.RequestID).Msg("Search pass failed")
			continue
		}

		switch outcome {
		case outcomeGrabbed:
			summary.Grabbed++
		case outcomeNoMatch:
			summary.NoMatch++
		case outcomeFailed:
			summary.Failed++
		case outcomeSkipped:
			summary.Skipped++
		}
	}

	return summary, nil
}

func (s *Service) processOne(ctx context.Context, requestID int, settings *models.AppSettings) (searchOutcome, error) {
	details, err := s.requests.GetDetails(ctx, requestID)
	if err != nil {
		if errors.Is(err, models.ErrRequestNotFound) {
			s.dropQueued(ctx, requestID)
			return outcomeSkipped, nil
		}
		return outcomeSkipped, err
	}

	if _, err := s.requests.Transition(ctx, requestID, models.EventSearchStarted); err != nil {
		if errors.Is(err, models.ErrIllegalTransition) || errors.Is(err, models.ErrConflict) {
			// The request no longer wants a search; the entry is stale.
			log.Debug().Int("requestID", requestID).Str("status", string(details.Status)).
				Msg("Dropping queued search for request that moved on")
			s.dropQueued(ctx, requestID)
			return outcomeSkipped, nil
		}
		return outcomeSkipped, err
	}

	pick, ranked, err := s.findBest(ctx, details, settings)
	if err != nil {
		s.failSearch(ctx, requestID, err)
		s.dropQueued(ctx, requestID)
		if ctx.Err() != nil {
			return outcomeFailed, ctx.Err()
		}
		log.Warn().Err(err).Int("requestID", requestID).
			Str("title", details.Audiobook.Title).
			Msg("Search failed; fallback sweep will retry")
		return outcomeFailed, nil
	}

	if pick == nil {
		if _, err := s.requests.Transition(ctx, requestID, models.EventNoCandidates); err != nil &&
			!errors.Is(err, models.ErrIllegalTransition) && !errors.Is(err, models.ErrConflict) {
			return outcomeNoMatch, err
		}
		log.Info().Int("requestID", requestID).
			Str("title", details.Audiobook.Title).
			Int("candidates", len(ranked)).
			Msg("No eligible candidates")
		s.dropQueued(ctx, requestID)
		return outcomeNoMatch, nil
	}

	if err := s.grab(ctx, details, pick.Candidate); err != nil {
		s.failSearch(ctx, requestID, err)
		s.dropQueued(ctx, requestID)
		if ctx.Err() != nil {
			return outcomeFailed, ctx.Err()
		}
		log.Warn().Err(err).Int("requestID", requestID).
			Str("release", pick.Title).
			Msg("Grab failed; fallback sweep will retry")
		return outcomeFailed, nil
	}

	log.Info().Int("requestID", requestID).
		Str("title", details.Audiobook.Title).
		Str("release", pick.Title).
		Str("indexer", pick.Indexer).
		Float64("score", pick.Breakdown.Final).
		Msg("Grabbed best candidate")
	s.dropQueued(ctx, requestID)
	return outcomeGrabbed, nil
}

// findBest searches and ranks. A nil pick with nil error means nothing
// eligible came back.
func (s *Service) findBest(ctx context.Context, details *models.RequestDetails, settings *models.AppSettings) (*ranker.ScoredCandidate, []ranker.ScoredCandidate, error) {
	ranked, err := s.rankedCandidates(ctx, details, settings)
	if err != nil {
		return nil, nil, err
	}
	for i := range ranked {
		if ranked[i].Eligible() {
			return &ranked[i], ranked, nil
		}
	}
	return nil, ranked, nil
}

func (s *Service) rankedCandidates(ctx context.Context, details *models.RequestDetails, settings *models.AppSettings) ([]ranker.ScoredCandidate, error) {
	candidates, err := s.source.Search(ctx, details.Audiobook.Title, details.Audiobook.Author)
	if err != nil {
		return nil, fmt.Errorf("search indexers: %w", err)
	}

	priorities, err := s.source.Priorities(ctx)
	if err != nil {
		return nil, fmt.Errorf("load indexer priorities: %w", err)
	}

	book := ranker.Book{
		Title:          details.Audiobook.Title,
		Author:         details.Audiobook.Author,
		RuntimeMinutes: details.Audiobook.RuntimeMinutes,
	}
	opts := ranker.Options{
		RequireAuthor:     settings.RequireAuthorMatch,
		IndexerPriorities: priorities,
		FlagModifiers:     settings.FlagModifiers,
	}

	ranked := s.ranker.Rank(book, candidates, opts)
	s.rejects.Apply(ranked, settings.RejectExpression)
	return ranked, nil
}

// grab fetches the release payload, submits it to the matching client and
// records the selected history row.
func (s *Service) grab(ctx context.Context, details *models.RequestDetails, pick ranker.Candidate) error {
	payload, err := s.source.Download(ctx, pick.IndexerID, pick.DownloadURL)
	if err != nil {
		return fmt.Errorf("download release: %w", err)
	}

	var handle models.DownloadHandle
	switch pick.Protocol {
	case models.ProtocolTorrent:
		handle, err = s.grabber.GrabTorrent(ctx, payload)
		if err != nil {
			return fmt.Errorf("submit torrent: %w", err)
		}
	case models.ProtocolUsenet:
		handle, err = s.grabber.GrabNZB(ctx, payload, pick.Title)
		if err != nil {
			return fmt.Errorf("submit nzb: %w", err)
		}
	default:
		return fmt.Errorf("unknown protocol %q for candidate %s", pick.Protocol, pick.GUID)
	}

	var indexerID *int
	if pick.IndexerID > 0 {
		id := pick.IndexerID
		indexerID = &id
	}
	if _, err := s.history.Create(ctx, models.CreateDownloadInput{
		RequestID:    details.ID,
		IndexerID:    indexerID,
		IndexerName:  pick.Indexer,
		Handle:       handle,
		ReleaseTitle: pick.Title,
		SizeBytes:    pick.SizeBytes,
		Selected:     true,
	}); err != nil {
		return fmt.Errorf("record grab: %w", err)
	}

	if _, err := s.requests.Transition(ctx, details.ID, models.EventCandidateGrabbed); err != nil {
		if errors.Is(err, models.ErrIllegalTransition) || errors.Is(err, models.ErrConflict) {
			log.Warn().Int("requestID", details.ID).Err(err).
				Msg("Request moved on mid-grab; download left for the seeding reconciler")
			return nil
		}
		return err
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyGrabbed(ctx, details.Audiobook.Title, pick.Title, pick.Indexer, pick.SizeBytes); err != nil {
			log.Warn().Err(err).Msg("Failed to send grab notification")
		}
	}
	return nil
}

// failSearch records a failed pass so the fallback sweep retries later. On
// shutdown the transition gets a short grace context so requests do not
// wedge in searching.
func (s *Service) failSearch(ctx context.Context, requestID int, cause error) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), failCleanupGrace)
		defer cancel()
	}
	if _, err := s.requests.TransitionWithMessage(ctx, requestID, models.EventSearchFailed, cause.Error()); err != nil {
		if errors.Is(err, models.ErrIllegalTransition) || errors.Is(err, models.ErrConflict) {
			return
		}
		log.Warn().Err(err).Int("requestID", requestID).Msg("Could not record search failure")
	}
}

func (s *Service) dropQueued(ctx context.Context, requestID int) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), failCleanupGrace)
		defer cancel()
	}
	if err := s.queue.Remove(ctx, requestID); err != nil {
		log.Warn().Err(err).Int("requestID", requestID).Msg("Could not remove request from search queue")
	}
}

// ReleaseInfo is parsed display metadata for one candidate title.
type ReleaseInfo struct {
	Title  string   `json:"title,omitempty"`
	Artist string   `json:"artist,omitempty"`
	Year   int      `json:"year,omitempty"`
	Group  string   `json:"group,omitempty"`
	Source string   `json:"source,omitempty"`
	Audio  []string `json:"audio,omitempty"`
}

// ScoredRelease is a ranked candidate decorated with parsed release
// metadata for interactive listings.
type ScoredRelease struct {
	ranker.ScoredCandidate
	Release ReleaseInfo `json:"release"`
}

// Candidates runs the search pipeline for one request without grabbing or
// touching its state. Gated candidates stay in the list, marked, so the
// operator can override by grabbing manually.
func (s *Service) Candidates(ctx context.Context, requestID int) ([]ScoredRelease, error) {
	details, err := s.requests.GetDetails(ctx, requestID)
	if err != nil {
		return nil, err
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	ranked, err := s.rankedCandidates(ctx, details, settings)
	if err != nil {
		return nil, err
	}

	out := make([]ScoredRelease, 0, len(ranked))
	for _, sc := range ranked {
		out = append(out, ScoredRelease{ScoredCandidate: sc, Release: parseRelease(sc.Title)})
	}
	return out, nil
}

// Grab acquires one specific candidate for the request, bypassing the
// automatic gates. The request must be in a searchable state.
func (s *Service) Grab(ctx context.Context, requestID int, pick ranker.Candidate) error {
	details, err := s.requests.GetDetails(ctx, requestID)
	if err != nil {
		return err
	}

	if _, err := s.requests.Transition(ctx, requestID, models.EventSearchStarted); err != nil {
		return err
	}

	if err := s.grab(ctx, details, pick); err != nil {
		s.failSearch(ctx, requestID, err)
		return err
	}
	s.dropQueued(ctx, requestID)
	return nil
}

func parseRelease(title string) ReleaseInfo {
	r := rls.ParseString(title)
	return ReleaseInfo{
		Title:  r.Title,
		Artist: r.Artist,
		Year:   r.Year,
		Group:  r.Group,
		Source: r.Source,
		Audio:  r.Audio,
	}
}
