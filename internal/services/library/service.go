// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package library closes the loop with the library server: organized books
// are matched against its catalog so requests finish, and verified entries
// promote the request to available.
package library

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/aronjanosch/readmeabook/internal/models"
	"github.com/aronjanosch/readmeabook/pkg/audiobookshelf"
	"github.com/aronjanosch/readmeabook/pkg/stringutils"
)

// ErrNoBookLibrary means the server has no book-media library to scan or
// search.
var ErrNoBookLibrary = errors.New("library server has no book library")

const searchLimit = 10

// Backend is the slice of the Audiobookshelf client the service uses.
type Backend interface {
	Libraries(ctx context.Context) ([]audiobookshelf.Library, error)
	SearchBooks(ctx context.Context, libraryID, query string, limit int) ([]audiobookshelf.BookResult, error)
	TriggerScan(ctx context.Context, libraryID string) error
}

// AvailabilityNotifier announces books that reached the library.
type AvailabilityNotifier interface {
	NotifyAvailable(ctx context.Context, title, author string) error
}

type Config struct {
	// LibraryID pins the library to search and scan. Empty means the first
	// book-media library on the server, resolved once and cached.
	LibraryID string
}

// Service runs the library-sync processor and the post-organize scan
// trigger.
type Service struct {
	cfg        Config
	requests   *models.RequestStore
	books      *models.AudiobookStore
	backend    Backend
	notifier   AvailabilityNotifier
	normalizer *stringutils.Normalizer[string, string]

	mu        sync.Mutex
	libraryID string
}

func NewService(
	cfg Config,
	requests *models.RequestStore,
	books *models.AudiobookStore,
	backend Backend,
	notifier AvailabilityNotifier,
) *Service {
	return &Service{
		cfg:        cfg,
		requests:   requests,
		books:      books,
		backend:    backend,
		notifier:   notifier,
		normalizer: stringutils.NewDefaultNormalizer(),
	}
}

// TriggerScan asks the library server to rescan for new files.
func (s *Service) TriggerScan(ctx context.Context) error {
	libraryID, err := s.libraryIDFor(ctx)
	if err != nil {
		return err
	}
	return s.backend.TriggerScan(ctx, libraryID)
}

// libraryIDFor resolves the target library once: the configured id, or the
// first book library the server reports.
func (s *Service) libraryIDFor(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.libraryID != "" {
		return s.libraryID, nil
	}
	if s.cfg.LibraryID != "" {
		s.libraryID = s.cfg.LibraryID
		return s.libraryID, nil
	}

	libraries, err := s.backend.Libraries(ctx)
	if err != nil {
		return "", err
	}
	for _, lib := range libraries {
		if lib.MediaType == "book" {
			log.Debug().Str("library", lib.Name).Str("libraryID", lib.ID).Msg("Resolved book library")
			s.libraryID = lib.ID
			return s.libraryID, nil
		}
	}
	return "", ErrNoBookLibrary
}

// Summary counts one library sync pass.
type Summary struct {
	Checked  int `json:"checked"`
	Matched  int `json:"matched"`
	Verified int `json:"verified"`
	Errors   int `json:"errors"`
}

// Sync runs both verification phases. Downloaded requests complete once the
// library has been consulted, whether or not the item is indexed yet; the
// match only decides when the audiobook itself flips to available.
// Completed requests promote to available once the library confirms the
// item, with a notification. Backend failures on one request never stop the
// pass.
func (s *Service) Sync(ctx context.Context) (Summary, error) {
	var summary Summary

	downloaded, err := s.requests.ListDetailsByStatuses(ctx, models.StatusDownloaded)
	if err != nil {
		return summary, err
	}
	completed, err := s.requests.ListDetailsByStatuses(ctx, models.StatusCompleted)
	if err != nil {
		return summary, err
	}
	if len(downloaded) == 0 && len(completed) == 0 {
		return summary, nil
	}

	// The backend is only consulted when there is something to check, so an
	// idle system never talks to the library server.
	libraryID, err := s.libraryIDFor(ctx)
	if err != nil {
		return summary, err
	}

	for _, details := range downloaded {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Checked++
		if err := s.matchDownloaded(ctx, libraryID, details, &summary); err != nil {
			summary.Errors++
			log.Warn().Err(err).Int("requestID", details.ID).
				Str("title", details.Audiobook.Title).
				Msg("Library match failed; will retry next pass")
		}
	}
	for _, details := range completed {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Checked++
		if err := s.verifyCompleted(ctx, libraryID, details, &summary); err != nil {
			summary.Errors++
			log.Warn().Err(err).Int("requestID", details.ID).
				Str("title", details.Audiobook.Title).
				Msg("Library verification failed; will retry next pass")
		}
	}

	if summary.Checked > 0 {
		log.Info().
			Int("checked", summary.Checked).
			Int("matched", summary.Matched).
			Int("verified", summary.Verified).
			Int("errors", summary.Errors).
			Msg("Library sync pass finished")
	}
	return summary, nil
}

func (s *Service) matchDownloaded(ctx context.Context, libraryID string, details *models.RequestDetails, summary *Summary) error {
	item, found, err := s.findInLibrary(ctx, libraryID, details.Audiobook)
	if err != nil {
		return err
	}

	if found {
		if err := s.books.SetStatus(ctx, details.Audiobook.ID, models.AudiobookAvailable); err != nil {
			return err
		}
		log.Info().
			Int("requestID", details.ID).
			Str("title", details.Audiobook.Title).
			Str("libraryItemID", item.LibraryItemID).
			Msg("Library matched the organized book")
	} else {
		log.Debug().
			Int("requestID", details.ID).
			Str("title", details.Audiobook.Title).
			Msg("Book not indexed yet; completing and leaving verification to the next scan")
	}

	if _, err := s.requests.Transition(ctx, details.ID, models.EventMatched); err != nil {
		if errors.Is(err, models.ErrIllegalTransition) || errors.Is(err, models.ErrConflict) {
			return nil
		}
		return err
	}
	summary.Matched++
	return nil
}

func (s *Service) verifyCompleted(ctx context.Context, libraryID string, details *models.RequestDetails, summary *Summary) error {
	item, found, err := s.findInLibrary(ctx, libraryID, details.Audiobook)
	if err != nil {
		return err
	}
	if !found {
		// The scan has not picked the files up yet.
		return nil
	}

	if _, err := s.requests.Transition(ctx, details.ID, models.EventLibraryVerified); err != nil {
		if errors.Is(err, models.ErrIllegalTransition) || errors.Is(err, models.ErrConflict) {
			return nil
		}
		return err
	}
	summary.Verified++

	if details.Audiobook.Status != models.AudiobookAvailable {
		if err := s.books.SetStatus(ctx, details.Audiobook.ID, models.AudiobookAvailable); err != nil {
			log.Warn().Err(err).Int("audiobookID", details.Audiobook.ID).Msg("Could not mark audiobook available")
		}
	}

	log.Info().
		Int("requestID", details.ID).
		Str("title", details.Audiobook.Title).
		Str("libraryItemID", item.LibraryItemID).
		Msg("Library verified the book; request is available")

	if s.notifier != nil {
		if err := s.notifier.NotifyAvailable(ctx, details.Audiobook.Title, details.Audiobook.Author); err != nil {
			log.Warn().Err(err).Msg("Failed to send availability notification")
		}
	}
	return nil
}

// findInLibrary searches the backend for the book and fuzzy-compares
// title and author.
func (s *Service) findInLibrary(ctx context.Context, libraryID string, book models.Audiobook) (audiobookshelf.BookResult, bool, error) {
	results, err := s.backend.SearchBooks(ctx, libraryID, book.Title, searchLimit)
	if err != nil {
		return audiobookshelf.BookResult{}, false, err
	}

	wantTitle := s.normalizer.Normalize(book.Title)
	wantAuthor := s.normalizer.Normalize(book.Author)

	for _, r := range results {
		gotTitle := s.normalizer.Normalize(r.Title)
		gotAuthor := s.normalizer.Normalize(r.Author)

		if !looseContains(gotTitle, wantTitle) {
			continue
		}
		// Library entries often credit several contributors; either side
		// containing the other counts.
		if wantAuthor != "" && !looseContains(gotAuthor, wantAuthor) {
			continue
		}
		return r, true, nil
	}
	return audiobookshelf.BookResult{}, false, nil
}

func looseContains(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
