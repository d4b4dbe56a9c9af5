// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package library

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aronjanosch/readmeabook/internal/database"
	"github.com/aronjanosch/readmeabook/internal/models"
	"github.com/aronjanosch/readmeabook/pkg/audiobookshelf"
)

type fakeBackend struct {
	libraries     []audiobookshelf.Library
	librariesErr  error
	libraryLoads  int
	results       map[string][]audiobookshelf.BookResult
	searchErr     error
	searches      []string
	scans         []string
	scanErr       error
}

func (f *fakeBackend) Libraries(context.Context) ([]audiobookshelf.Library, error) {
	f.libraryLoads++
	if f.librariesErr != nil {
		return nil, f.librariesErr
	}
	return f.libraries, nil
}

func (f *fakeBackend) SearchBooks(_ context.Context, libraryID, query string, _ int) ([]audiobookshelf.BookResult, error) {
	f.searches = append(f.searches, libraryID+" / "+query)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results[query], nil
}

func (f *fakeBackend) TriggerScan(_ context.Context, libraryID string) error {
	if f.scanErr != nil {
		return f.scanErr
	}
	f.scans = append(f.scans, libraryID)
	return nil
}

type fakeAvailabilityNotifier struct {
	available []string
}

func (f *fakeAvailabilityNotifier) NotifyAvailable(_ context.Context, title, author string) error {
	f.available = append(f.available, fmt.Sprintf("%s | %s", title, author))
	return nil
}

type libraryEnv struct {
	db       *database.DB
	users    *models.UserStore
	books    *models.AudiobookStore
	requests *models.RequestStore
	backend  *fakeBackend
	notifier *fakeAvailabilityNotifier
	service  *Service
}

func newLibraryEnv(t *testing.T) *libraryEnv {
	t.Helper()

	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	env := &libraryEnv{
		db:       db,
		users:    models.NewUserStore(db),
		books:    models.NewAudiobookStore(db),
		requests: models.NewRequestStore(db),
		backend: &fakeBackend{
			libraries: []audiobookshelf.Library{
				{ID: "lib_podcasts", Name: "Podcasts", MediaType: "podcast"},
				{ID: "lib_books", Name: "Audiobooks", MediaType: "book"},
			},
			results: map[string][]audiobookshelf.BookResult{},
		},
		notifier: &fakeAvailabilityNotifier{},
	}
	env.service = NewService(Config{}, env.requests, env.books, env.backend, env.notifier)
	return env
}

type seeded struct {
	request *models.Request
	book    *models.Audiobook
}

func (e *libraryEnv) seedRequest(t *testing.T, title, author string, status models.RequestStatus) seeded {
	t.Helper()
	ctx := context.Background()

	user, err := e.users.FindOrCreate(ctx, "alice")
	require.NoError(t, err)

	book, err := e.books.Create(ctx, models.CreateAudiobookInput{
		Title:  title,
		Author: author,
		Year:   2021,
	})
	require.NoError(t, err)

	req, err := e.requests.Create(ctx, book.ID, user.ID, status, 3)
	require.NoError(t, err)
	return seeded{request: req, book: book}
}

func (e *libraryEnv) addResult(title, resultTitle, resultAuthor string) {
	e.backend.results[title] = append(e.backend.results[title], audiobookshelf.BookResult{
		LibraryItemID: fmt.Sprintf("li_%d", len(e.backend.results[title])+1),
		Title:         resultTitle,
		Author:        resultAuthor,
	})
}

func TestSync_MatchedDownloadCompletes(t *testing.T) {
	env := newLibraryEnv(t)
	ctx := context.Background()

	s := env.seedRequest(t, "Project Hail Mary", "Andy Weir", models.StatusDownloaded)
	env.addResult("Project Hail Mary", "Project Hail Mary: A Novel", "Andy Weir, Ray Porter")

	summary, err := env.service.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 1, Matched: 1}, summary)

	req, err := env.requests.Get(ctx, s.request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, req.Status)
	assert.NotNil(t, req.CompletedAt, "completing should stamp completed_at")

	book, err := env.books.Get(ctx, s.book.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AudiobookAvailable, book.Status)
}

func TestSync_UnindexedDownloadStillCompletes(t *testing.T) {
	env := newLibraryEnv(t)
	ctx := context.Background()

	s := env.seedRequest(t, "Project Hail Mary", "Andy Weir", models.StatusDownloaded)

	summary, err := env.service.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 1, Matched: 1}, summary)

	req, err := env.requests.Get(ctx, s.request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, req.Status,
		"requests finish even before the library indexes the files")

	book, err := env.books.Get(ctx, s.book.ID)
	require.NoError(t, err)
	assert.NotEqual(t, models.AudiobookAvailable, book.Status,
		"the audiobook only flips once the library confirms it")
}

func TestSync_BackendErrorLeavesRequestAlone(t *testing.T) {
	env := newLibraryEnv(t)
	ctx := context.Background()

	s := env.seedRequest(t, "Project Hail Mary", "Andy Weir", models.StatusDownloaded)
	env.backend.searchErr = errors.New("abs is down")

	summary, err := env.service.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 1, Errors: 1}, summary)

	req, err := env.requests.Get(ctx, s.request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloaded, req.Status)
}

func TestSync_VerifiedCompletedBecomesAvailable(t *testing.T) {
	env := newLibraryEnv(t)
	ctx := context.Background()

	s := env.seedRequest(t, "Project Hail Mary", "Andy Weir", models.StatusCompleted)
	env.addResult("Project Hail Mary", "Project Hail Mary", "Andy Weir")

	summary, err := env.service.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 1, Verified: 1}, summary)

	req, err := env.requests.Get(ctx, s.request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAvailable, req.Status)

	book, err := env.books.Get(ctx, s.book.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AudiobookAvailable, book.Status)

	require.Len(t, env.notifier.available, 1)
	assert.Equal(t, "Project Hail Mary | Andy Weir", env.notifier.available[0])
}

func TestSync_UnverifiedCompletedWaitsForNextScan(t *testing.T) {
	env := newLibraryEnv(t)
	ctx := context.Background()

	s := env.seedRequest(t, "Project Hail Mary", "Andy Weir", models.StatusCompleted)

	summary, err := env.service.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 1}, summary)

	req, err := env.requests.Get(ctx, s.request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, req.Status)
	assert.Empty(t, env.notifier.available)
}

func TestSync_FuzzyMatchToleratesDiacriticsAndSubtitles(t *testing.T) {
	env := newLibraryEnv(t)
	ctx := context.Background()

	env.seedRequest(t, "Blindness", "José Saramago", models.StatusCompleted)
	env.addResult("Blindness", "BLINDNESS (Unabridged)", "Jose Saramago")

	summary, err := env.service.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 1, Verified: 1}, summary)
}

func TestSync_AuthorMismatchDoesNotVerify(t *testing.T) {
	env := newLibraryEnv(t)
	ctx := context.Background()

	s := env.seedRequest(t, "Blindness", "José Saramago", models.StatusCompleted)
	env.addResult("Blindness", "Blindness", "Somebody Else")

	summary, err := env.service.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 1}, summary)

	req, err := env.requests.Get(ctx, s.request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, req.Status)
}

func TestSync_MixedPhasesInOnePass(t *testing.T) {
	env := newLibraryEnv(t)
	ctx := context.Background()

	downloaded := env.seedRequest(t, "Project Hail Mary", "Andy Weir", models.StatusDownloaded)
	completed := env.seedRequest(t, "The Martian", "Andy Weir", models.StatusCompleted)
	env.addResult("The Martian", "The Martian", "Andy Weir")

	summary, err := env.service.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Checked: 2, Matched: 1, Verified: 1}, summary)

	req, err := env.requests.Get(ctx, downloaded.request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, req.Status)

	req, err = env.requests.Get(ctx, completed.request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAvailable, req.Status)
}

func TestTriggerScan_ResolvesBookLibraryOnce(t *testing.T) {
	env := newLibraryEnv(t)
	ctx := context.Background()

	require.NoError(t, env.service.TriggerScan(ctx))
	require.NoError(t, env.service.TriggerScan(ctx))

	assert.Equal(t, []string{"lib_books", "lib_books"}, env.backend.scans)
	assert.Equal(t, 1, env.backend.libraryLoads, "library id resolves once and is cached")
}

func TestTriggerScan_ConfiguredLibrarySkipsDiscovery(t *testing.T) {
	env := newLibraryEnv(t)
	env.service = NewService(Config{LibraryID: "lib_custom"}, env.requests, env.books, env.backend, env.notifier)

	require.NoError(t, env.service.TriggerScan(context.Background()))

	assert.Equal(t, []string{"lib_custom"}, env.backend.scans)
	assert.Zero(t, env.backend.libraryLoads)
}

func TestTriggerScan_NoBookLibrary(t *testing.T) {
	env := newLibraryEnv(t)
	env.backend.libraries = []audiobookshelf.Library{
		{ID: "lib_podcasts", Name: "Podcasts", MediaType: "podcast"},
	}

	err := env.service.TriggerScan(context.Background())
	assert.ErrorIs(t, err, ErrNoBookLibrary)
}
