// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aronjanosch/readmeabook/internal/database"
	"github.com/aronjanosch/readmeabook/internal/models"
	"github.com/aronjanosch/readmeabook/internal/services/ranker"
)

type downloadCall struct {
	indexerID int
	url       string
}

type fakeSource struct {
	candidates  []ranker.Candidate
	searchErr   error
	downloadErr error
	priorities  map[int]int
	searches    []string
	downloads   []downloadCall
}

func (f *fakeSource) Search(_ context.Context, title, author string) ([]ranker.Candidate, error) {
	f.searches = append(f.searches, title+" / "+author)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.candidates, nil
}

func (f *fakeSource) Download(_ context.Context, indexerID int, downloadURL string) ([]byte, error) {
	f.downloads = append(f.downloads, downloadCall{indexerID: indexerID, url: downloadURL})
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return []byte("release payload"), nil
}

func (f *fakeSource) Priorities(context.Context) (map[int]int, error) {
	return f.priorities, nil
}

type nzbCall struct {
	payload []byte
	name    string
}

type fakeGrabber struct {
	grabErr  error
	torrents [][]byte
	nzbs     []nzbCall
}

func (f *fakeGrabber) GrabTorrent(_ context.Context, torrentBytes []byte) (models.DownloadHandle, error) {
	if f.grabErr != nil {
		return models.DownloadHandle{}, f.grabErr
	}
	f.torrents = append(f.torrents, torrentBytes)
	return models.TorrentHandle("f0e1d2c3b4a5968778695a4b3c2d1e0f00112233"), nil
}

func (f *fakeGrabber) GrabNZB(_ context.Context, nzbData []byte, name string) (models.DownloadHandle, error) {
	if f.grabErr != nil {
		return models.DownloadHandle{}, f.grabErr
	}
	f.nzbs = append(f.nzbs, nzbCall{payload: nzbData, name: name})
	return models.UsenetHandle("nzo_42"), nil
}

type fakeGrabNotifier struct {
	grabs []string
}

func (f *fakeGrabNotifier) NotifyGrabbed(_ context.Context, title, releaseName, indexer string, sizeBytes int64) error {
	f.grabs = append(f.grabs, fmt.Sprintf("%s | %s | %s | %d", title, releaseName, indexer, sizeBytes))
	return nil
}

type searchEnv struct {
	db       *database.DB
	users    *models.UserStore
	books    *models.AudiobookStore
	requests *models.RequestStore
	queue    *models.SearchQueueStore
	history  *models.DownloadHistoryStore
	settings *models.SettingsStore
	source   *fakeSource
	grabber  *fakeGrabber
	notifier *fakeGrabNotifier
	service  *Service
}

func newSearchEnv(t *testing.T) *searchEnv {
	t.Helper()

	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	env := &searchEnv{
		db:       db,
		users:    models.NewUserStore(db),
		books:    models.NewAudiobookStore(db),
		requests: models.NewRequestStore(db),
		queue:    models.NewSearchQueueStore(db),
		history:  models.NewDownloadHistoryStore(db),
		settings: models.NewSettingsStore(db),
		source:   &fakeSource{},
		grabber:  &fakeGrabber{},
		notifier: &fakeGrabNotifier{},
	}
	env.service = NewService(env.requests, env.queue, env.history, env.settings,
		env.source, env.grabber, env.notifier)
	return env
}

// seedRequest creates a request for Project Hail Mary in the given state.
func (e *searchEnv) seedRequest(t *testing.T, status models.RequestStatus) *models.Request {
	t.Helper()
	ctx := context.Background()

	user, err := e.users.FindOrCreate(ctx, "alice")
	require.NoError(t, err)

	book, err := e.books.Create(ctx, models.CreateAudiobookInput{
		Title:          "Project Hail Mary",
		Author:         "Andy Weir",
		Year:           2021,
		RuntimeMinutes: 960,
	})
	require.NoError(t, err)

	req, err := e.requests.Create(ctx, book.ID, user.ID, status, 3)
	require.NoError(t, err)
	return req
}

func (e *searchEnv) enqueue(t *testing.T, requestID int) {
	t.Helper()
	queued, err := e.queue.Enqueue(context.Background(), requestID, "test")
	require.NoError(t, err)
	require.True(t, queued)
}

func (e *searchEnv) queueSize(t *testing.T) int {
	t.Helper()
	size, err := e.queue.Size(context.Background())
	require.NoError(t, err)
	return size
}

func hailMaryCandidate(guid, title string) ranker.Candidate {
	seeders := 30
	return ranker.Candidate{
		IndexerID:   1,
		Indexer:     "AudioBookBay",
		GUID:        guid,
		Title:       title,
		SizeBytes:   900 << 20,
		Seeders:     &seeders,
		PublishDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		DownloadURL: "https://abb.example/dl/" + guid,
		Protocol:    models.ProtocolTorrent,
	}
}

func TestProcessQueue_GrabsBestCandidate(t *testing.T) {
	env := newSearchEnv(t)
	ctx := context.Background()

	req := env.seedRequest(t, models.StatusPending)
	env.enqueue(t, req.ID)
	env.source.candidates = []ranker.Candidate{
		hailMaryCandidate("plain", "Project Hail Mary Unabridged M4B Andy Weir"),
		hailMaryCandidate("chaptered", "Project Hail Mary Chapters M4B Andy Weir"),
	}

	summary, err := env.service.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 1, Grabbed: 1}, summary)

	updated, err := env.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloading, updated.Status)

	selected, err := env.history.GetSelected(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "Project Hail Mary Chapters M4B Andy Weir", selected.ReleaseTitle,
		"the chapterized release outscores the plain one")
	assert.Equal(t, "AudioBookBay", selected.IndexerName)
	assert.Equal(t, models.TorrentHandle("f0e1d2c3b4a5968778695a4b3c2d1e0f00112233"), selected.Handle)
	require.NotNil(t, selected.IndexerID)
	assert.Equal(t, 1, *selected.IndexerID)

	require.Len(t, env.source.downloads, 1)
	assert.Equal(t, "https://abb.example/dl/chaptered", env.source.downloads[0].url)
	assert.Len(t, env.grabber.torrents, 1)

	require.Len(t, env.notifier.grabs, 1)
	assert.Contains(t, env.notifier.grabs[0], "AudioBookBay")

	assert.Equal(t, 0, env.queueSize(t), "grabbed request leaves the queue")
}

func TestProcessQueue_NoCandidates(t *testing.T) {
	env := newSearchEnv(t)
	ctx := context.Background()

	req := env.seedRequest(t, models.StatusPending)
	env.enqueue(t, req.ID)

	summary, err := env.service.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 1, NoMatch: 1}, summary)

	updated, err := env.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingSearch, updated.Status)
	assert.Equal(t, 0, env.queueSize(t))
	assert.Empty(t, env.grabber.torrents)
}

func TestProcessQueue_AllCandidatesGated(t *testing.T) {
	env := newSearchEnv(t)
	ctx := context.Background()

	req := env.seedRequest(t, models.StatusAwaitingSearch)
	env.enqueue(t, req.ID)
	// No author credit anywhere and author matching is required by default.
	env.source.candidates = []ranker.Candidate{
		hailMaryCandidate("anon", "Project Hail Mary Unabridged M4B"),
	}

	summary, err := env.service.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 1, NoMatch: 1}, summary)

	updated, err := env.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingSearch, updated.Status)
	assert.Empty(t, env.source.downloads, "gated candidates must not be fetched")
}

func TestProcessQueue_SearchErrorRecordsFailure(t *testing.T) {
	env := newSearchEnv(t)
	ctx := context.Background()

	req := env.seedRequest(t, models.StatusPending)
	env.enqueue(t, req.ID)
	env.source.searchErr = errors.New("all indexers unreachable")

	summary, err := env.service.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 1, Failed: 1}, summary)

	updated, err := env.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingSearch, updated.Status)
	assert.Contains(t, updated.ErrorMessage, "search indexers")
	assert.Equal(t, 0, env.queueSize(t), "failed entries leave the queue; the fallback sweep re-enqueues")
}

func TestProcessQueue_GrabFailureLandsInAwaitingSearch(t *testing.T) {
	env := newSearchEnv(t)
	ctx := context.Background()

	req := env.seedRequest(t, models.StatusPending)
	env.enqueue(t, req.ID)
	env.source.candidates = []ranker.Candidate{
		hailMaryCandidate("good", "Project Hail Mary Unabridged M4B Andy Weir"),
	}
	env.source.downloadErr = errors.New("indexer returned 503")

	summary, err := env.service.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 1, Failed: 1}, summary)

	updated, err := env.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingSearch, updated.Status)
	assert.Contains(t, updated.ErrorMessage, "download release")

	_, err = env.history.GetSelected(ctx, req.ID)
	assert.ErrorIs(t, err, models.ErrNoSelectedDownload, "nothing recorded for a failed grab")
}

func TestProcessQueue_StaleEntrySkipped(t *testing.T) {
	env := newSearchEnv(t)
	ctx := context.Background()

	req := env.seedRequest(t, models.StatusDownloading)
	env.enqueue(t, req.ID)

	summary, err := env.service.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 1, Skipped: 1}, summary)

	updated, err := env.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloading, updated.Status, "a stale entry never disturbs the request")
	assert.Equal(t, 0, env.queueSize(t))
	assert.Empty(t, env.source.searches, "no search runs for a request that moved on")
}

func TestProcessQueue_DeletedRequestDropped(t *testing.T) {
	env := newSearchEnv(t)
	ctx := context.Background()

	req := env.seedRequest(t, models.StatusPending)
	env.enqueue(t, req.ID)
	require.NoError(t, env.requests.SoftDelete(ctx, req.ID))

	summary, err := env.service.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 1, Skipped: 1}, summary)
	assert.Equal(t, 0, env.queueSize(t))
}

func TestProcessQueue_RejectExpressionGates(t *testing.T) {
	env := newSearchEnv(t)
	ctx := context.Background()

	settings, err := env.settings.Get(ctx)
	require.NoError(t, err)
	settings.RejectExpression = "SizeMB > 700"
	_, err = env.settings.Update(ctx, settings)
	require.NoError(t, err)

	big := hailMaryCandidate("big", "Project Hail Mary Chapters M4B Andy Weir")
	small := hailMaryCandidate("small", "Project Hail Mary Unabridged M4B Andy Weir")
	small.SizeBytes = 400 << 20
	small.DownloadURL = "https://abb.example/dl/small"

	req := env.seedRequest(t, models.StatusPending)
	env.enqueue(t, req.ID)
	env.source.candidates = []ranker.Candidate{big, small}

	summary, err := env.service.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 1, Grabbed: 1}, summary)

	selected, err := env.history.GetSelected(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, small.Title, selected.ReleaseTitle, "the rejected release is passed over")
	require.Len(t, env.source.downloads, 1)
	assert.Equal(t, "https://abb.example/dl/small", env.source.downloads[0].url)
}

func TestProcessQueue_UsenetGrab(t *testing.T) {
	env := newSearchEnv(t)
	ctx := context.Background()

	nzb := hailMaryCandidate("nzb", "Project Hail Mary Unabridged M4B Andy Weir")
	nzb.Protocol = models.ProtocolUsenet
	nzb.Seeders = nil

	req := env.seedRequest(t, models.StatusPending)
	env.enqueue(t, req.ID)
	env.source.candidates = []ranker.Candidate{nzb}

	summary, err := env.service.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 1, Grabbed: 1}, summary)

	require.Len(t, env.grabber.nzbs, 1)
	assert.Equal(t, nzb.Title, env.grabber.nzbs[0].name)
	assert.Empty(t, env.grabber.torrents)

	selected, err := env.history.GetSelected(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UsenetHandle("nzo_42"), selected.Handle)
}

func TestCandidates_ListsGatedAndEligible(t *testing.T) {
	env := newSearchEnv(t)
	ctx := context.Background()

	req := env.seedRequest(t, models.StatusAwaitingSearch)
	env.source.candidates = []ranker.Candidate{
		hailMaryCandidate("credited", "Project Hail Mary Unabridged 2021 Andy Weir M4B"),
		hailMaryCandidate("anon", "Project Hail Mary Unabridged M4B"),
	}

	releases, err := env.service.Candidates(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, releases, 2, "gated candidates stay listed for manual override")

	var gated, eligible *ScoredRelease
	for i := range releases {
		if releases[i].Gated {
			gated = &releases[i]
		} else {
			eligible = &releases[i]
		}
	}
	require.NotNil(t, eligible)
	require.NotNil(t, gated)
	assert.Equal(t, ranker.GateAuthorMissing, gated.GateReason)
	assert.Equal(t, 2021, eligible.Release.Year, "release metadata is parsed for display")

	updated, err := env.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingSearch, updated.Status, "listing candidates never touches request state")
}

func TestGrab_ManualBypassesGates(t *testing.T) {
	env := newSearchEnv(t)
	ctx := context.Background()

	req := env.seedRequest(t, models.StatusAwaitingSearch)
	anonymous := hailMaryCandidate("anon", "Project Hail Mary Unabridged M4B")

	require.NoError(t, env.service.Grab(ctx, req.ID, anonymous))

	updated, err := env.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloading, updated.Status)

	selected, err := env.history.GetSelected(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, anonymous.Title, selected.ReleaseTitle)
}

func TestGrab_WrongStateRejected(t *testing.T) {
	env := newSearchEnv(t)
	ctx := context.Background()

	req := env.seedRequest(t, models.StatusDownloading)
	pick := hailMaryCandidate("late", "Project Hail Mary Unabridged M4B Andy Weir")

	err := env.service.Grab(ctx, req.ID, pick)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
	assert.Empty(t, env.source.downloads)
}

func TestGrab_ClientFailureRollsBack(t *testing.T) {
	env := newSearchEnv(t)
	ctx := context.Background()

	req := env.seedRequest(t, models.StatusPending)
	env.grabber.grabErr = errors.New("qbittorrent rejected the payload")

	err := env.service.Grab(ctx, req.ID, hailMaryCandidate("bad", "Project Hail Mary Unabridged M4B Andy Weir"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submit torrent")

	updated, err := env.requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingSearch, updated.Status, "a failed manual grab stays retryable")
}

func TestEnqueueSearch_DedupesAndWakes(t *testing.T) {
	env := newSearchEnv(t)
	ctx := context.Background()

	req := env.seedRequest(t, models.StatusPending)

	queued, err := env.service.EnqueueSearch(ctx, req.ID, "approved")
	require.NoError(t, err)
	assert.True(t, queued)

	select {
	case <-env.service.WakeChan():
	default:
		t.Fatal("expected a wake signal after enqueueing")
	}

	queued, err = env.service.EnqueueSearch(ctx, req.ID, "approved again")
	require.NoError(t, err)
	assert.False(t, queued, "re-enqueueing a queued request is a no-op")

	select {
	case <-env.service.WakeChan():
		t.Fatal("duplicate enqueue must not wake the processor")
	default:
	}
}

func TestProcessQueue_BatchSizeLimitsPass(t *testing.T) {
	env := newSearchEnv(t)
	ctx := context.Background()

	settings, err := env.settings.Get(ctx)
	require.NoError(t, err)
	settings.SearchBatchSize = 1
	_, err = env.settings.Update(ctx, settings)
	require.NoError(t, err)

	first := env.seedRequest(t, models.StatusPending)
	env.enqueue(t, first.ID)

	user, err := env.users.FindOrCreate(ctx, "alice")
	require.NoError(t, err)
	book, err := env.books.Create(ctx, models.CreateAudiobookInput{
		Title: "Bobiverse", Author: "Dennis E. Taylor",
	})
	require.NoError(t, err)
	second, err := env.requests.Create(ctx, book.ID, user.ID, models.StatusPending, 3)
	require.NoError(t, err)
	env.enqueue(t, second.ID)

	summary, err := env.service.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Checked, "pass stops at the configured batch size")
	assert.Equal(t, 1, env.queueSize(t), "the rest stays queued for the next pass")
}
