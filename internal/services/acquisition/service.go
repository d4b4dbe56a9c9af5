// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package acquisition

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	shellquote "github.com/Hellseher/go-shellquote"
	retry "github.com/avast/retry-go"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/aronjanosch/readmeabook/internal/downloads"
	"github.com/aronjanosch/readmeabook/internal/models"
)

const (
	retryBatchSize = 25
	scanAttempts   = 3
	hookTimeout    = 30 * time.Second
)

// scanRetryDelay is a var so tests can shrink the backoff.
var scanRetryDelay = 2 * time.Second

// DownloadClient is the slice of the download manager the importer needs:
// payload lookup when a retry runs and client-side cleanup after usenet
// imports.
type DownloadClient interface {
	Status(ctx context.Context, handle models.DownloadHandle) (downloads.Status, error)
	Remove(ctx context.Context, handle models.DownloadHandle, deleteFiles bool) error
}

// LibraryScanner kicks the media server after files land.
type LibraryScanner interface {
	TriggerScan(ctx context.Context) error
}

// Notifier delivers the two import outcomes an operator cares about.
type Notifier interface {
	NotifyRetriesExhausted(ctx context.Context, title, reason string) error
	NotifyFailed(ctx context.Context, title, reason string) error
}

// Config is the deployment side of the importer; the retry budget lives in
// runtime settings on each request row.
type Config struct {
	LibraryRoot string
	// PostImportCommand is an optional hook run after each import. Parsed
	// with shell quoting rules once at startup; only an absolute program
	// path is accepted, and book metadata is passed through the
	// environment so it can never splice new arguments in.
	PostImportCommand string
	// AllowedPrograms restricts which binaries the hook may run. Empty
	// means any absolute path is accepted.
	AllowedPrograms []string
}

// Service owns the organize step and the import retry ladder. It satisfies
// the download monitor's importer interface.
type Service struct {
	cfg       Config
	requests  *models.RequestStore
	books     *models.AudiobookStore
	history   *models.DownloadHistoryStore
	indexers  *models.IndexerStore
	organizer *Organizer
	client    DownloadClient
	scanner   LibraryScanner
	notifier  Notifier
	hookArgv  []string
	runHook   func(ctx context.Context, argv, env []string) error
}

func NewService(
	cfg Config,
	fsys afero.Fs,
	requests *models.RequestStore,
	books *models.AudiobookStore,
	history *models.DownloadHistoryStore,
	indexers *models.IndexerStore,
	client DownloadClient,
	scanner LibraryScanner,
	notifier Notifier,
) *Service {
	s := &Service{
		cfg:       cfg,
		requests:  requests,
		books:     books,
		history:   history,
		indexers:  indexers,
		organizer: NewOrganizer(fsys, cfg.LibraryRoot),
		client:    client,
		scanner:   scanner,
		notifier:  notifier,
		runHook:   runHookCommand,
	}
	s.hookArgv = parseHookCommand(cfg.PostImportCommand, cfg.AllowedPrograms)
	return s
}

func parseHookCommand(command string, allowed []string) []string {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil
	}

	argv, err := shellquote.Split(command)
	if err != nil || len(argv) == 0 {
		log.Warn().Err(err).Str("command", command).Msg("Ignoring unparseable post-import command")
		return nil
	}
	if !filepath.IsAbs(argv[0]) {
		log.Warn().Str("command", argv[0]).Msg("Post-import command must be an absolute path, ignoring")
		return nil
	}
	if !programAllowed(argv[0], allowed) {
		log.Warn().Str("command", argv[0]).Msg("Post-import command is not on the allow list, ignoring")
		return nil
	}
	return argv
}

func programAllowed(program string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	program = filepath.Clean(program)
	for _, entry := range allowed {
		if filepath.Clean(entry) == program {
			return true
		}
	}
	return false
}

// ImportCompleted organizes a finished download into the library. The
// download monitor calls it inline as soon as a client reports completion.
func (s *Service) ImportCompleted(ctx context.Context, requestID int, contentPath string) error {
	details, err := s.requests.GetDetails(ctx, requestID)
	if err != nil {
		return err
	}
	if details.Status != models.StatusProcessing {
		log.Debug().
			Int("requestID", requestID).
			Str("status", string(details.Status)).
			Msg("Skipping import for request no longer in processing")
		return nil
	}
	return s.organizeRequest(ctx, details, contentPath)
}

// Retry moves a parked request back into processing and reruns the organize
// step against the payload still sitting at the download client. It serves
// both the scheduled retry job and the manual retry endpoint, so illegal
// transitions surface to the caller.
func (s *Service) Retry(ctx context.Context, requestID int) error {
	if _, err := s.requests.Transition(ctx, requestID, models.EventImportRetried); err != nil {
		return err
	}

	details, err := s.requests.GetDetails(ctx, requestID)
	if err != nil {
		return err
	}

	contentPath, err := s.payloadPath(ctx, details.ID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.recordFailure(ctx, details, err)
	}
	return s.organizeRequest(ctx, details, contentPath)
}

// RetrySummary reports one pass of the import retry job.
type RetrySummary struct {
	Checked   int `json:"checked"`
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

// RetryImports drains awaiting_import requests, oldest first. Requests that
// fail again are re-parked by the usual failure accounting, so a pass only
// counts an error when the retry machinery itself broke.
func (s *Service) RetryImports(ctx context.Context) (RetrySummary, error) {
	var summary RetrySummary

	ids, err := s.requests.ListIDsByStatus(ctx, models.StatusAwaitingImport, retryBatchSize)
	if err != nil {
		return summary, err
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Checked++
		if err := s.Retry(ctx, id); err != nil {
			if errors.Is(err, models.ErrIllegalTransition) || errors.Is(err, models.ErrConflict) {
				log.Debug().Int("requestID", id).Err(err).
					Msg("Request moved on before the import retry started")
				continue
			}
			summary.Errors++
			log.Error().Err(err).Int("requestID", id).Msg("Import retry failed")
			continue
		}
		summary.Processed++
	}

	return summary, nil
}

func (s *Service) organizeRequest(ctx context.Context, details *models.RequestDetails, contentPath string) error {
	result, err := s.organizer.Organize(ctx, &details.Audiobook, contentPath)
	if err != nil {
		// Shutdown is not an import failure and must not burn an attempt.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.recordFailure(ctx, details, err)
	}

	if err := s.books.MarkDownloaded(ctx, details.AudiobookID, result.TargetDir, result.Fingerprint); err != nil {
		return s.recordFailure(ctx, details, fmt.Errorf("record library path: %w", err))
	}

	if _, err := s.requests.Transition(ctx, details.ID, models.EventOrganizeSucceeded); err != nil {
		if errors.Is(err, models.ErrIllegalTransition) || errors.Is(err, models.ErrConflict) {
			log.Debug().Int("requestID", details.ID).Err(err).
				Msg("Request moved on before the organize result could be recorded")
			return nil
		}
		return err
	}

	log.Info().
		Int("requestID", details.ID).
		Str("title", details.Audiobook.Title).
		Str("author", details.Audiobook.Author).
		Str("targetDir", result.TargetDir).
		Int("files", result.Files).
		Str("size", humanize.Bytes(uint64(result.TotalBytes))).
		Msg("Imported audiobook into library")

	s.postImport(ctx, details, result)
	return nil
}

// recordFailure applies the import failure policy. Non-retryable causes
// fail the request outright. Retryable causes bump the attempt counter with
// a compare-and-swap on the previously read count and park the request in
// awaiting_import, or in warn once the budget is spent. A counter that
// already ran past the budget stops counting and parks in warn directly.
func (s *Service) recordFailure(ctx context.Context, details *models.RequestDetails, cause error) error {
	msg := cause.Error()
	title := details.Audiobook.Title

	if !isRetryableOrganizeError(cause) {
		if _, err := s.requests.TransitionWithMessage(ctx, details.ID, models.EventOrganizeFailed, msg); err != nil {
			if errors.Is(err, models.ErrIllegalTransition) || errors.Is(err, models.ErrConflict) {
				log.Debug().Int("requestID", details.ID).Err(err).
					Msg("Request moved on before the organize failure could be recorded")
				return nil
			}
			return err
		}
		log.Error().
			Int("requestID", details.ID).
			Str("title", title).
			Str("reason", msg).
			Msg("Import failed permanently")
		s.notifyFailed(ctx, title, msg)
		return nil
	}

	prior := details.ImportAttempts
	if prior > details.MaxImportRetries {
		if _, err := s.requests.TransitionWithMessage(ctx, details.ID, models.EventRetriesExhausted, msg); err != nil {
			if errors.Is(err, models.ErrIllegalTransition) || errors.Is(err, models.ErrConflict) {
				log.Debug().Int("requestID", details.ID).Err(err).
					Msg("Request moved on before the retry exhaustion could be recorded")
				return nil
			}
			return err
		}
		s.notifyRetriesExhausted(ctx, title, msg)
		return nil
	}

	exhausted := prior+1 >= details.MaxImportRetries
	newStatus := models.StatusAwaitingImport
	if exhausted {
		newStatus = models.StatusWarn
	}

	applied, err := s.requests.EscalateImportFailure(ctx, details.ID, prior, newStatus, msg)
	if err != nil {
		return err
	}
	if !applied {
		log.Debug().Int("requestID", details.ID).
			Msg("Another pass already recorded this import failure")
		return nil
	}

	if exhausted {
		log.Warn().
			Int("requestID", details.ID).
			Str("title", title).
			Int("attempts", prior+1).
			Str("reason", msg).
			Msg("Import retries exhausted")
		s.notifyRetriesExhausted(ctx, title, msg)
		return nil
	}

	log.Warn().
		Int("requestID", details.ID).
		Str("title", title).
		Int("attempt", prior+1).
		Int("maxRetries", details.MaxImportRetries).
		Str("reason", msg).
		Msg("Import deferred for retry")
	return nil
}

// payloadPath asks the download client where the finished payload lives.
func (s *Service) payloadPath(ctx context.Context, requestID int) (string, error) {
	selected, err := s.history.GetSelected(ctx, requestID)
	if err != nil {
		return "", err
	}

	status, err := s.client.Status(ctx, selected.Handle)
	if err != nil {
		return "", fmt.Errorf("query %s: %w", selected.Handle, err)
	}
	if status.State == downloads.StateMissing {
		return "", fmt.Errorf("%w: download no longer in the client", errPayloadMissing)
	}
	if status.ContentPath == "" {
		return "", fmt.Errorf("%w: client reported no content path", errPayloadMissing)
	}
	return status.ContentPath, nil
}

// postImport runs the best-effort follow-ups. None of them can fail the
// import; they log and move on.
func (s *Service) postImport(ctx context.Context, details *models.RequestDetails, result *OrganizeResult) {
	if s.scanner != nil {
		err := retry.Do(
			func() error { return s.scanner.TriggerScan(ctx) },
			retry.Context(ctx),
			retry.Attempts(scanAttempts),
			retry.Delay(scanRetryDelay),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			log.Warn().Err(err).Int("requestID", details.ID).
				Msg("Library scan could not be triggered")
		}
	}

	s.cleanupUsenet(ctx, details.ID)

	if len(s.hookArgv) > 0 {
		s.firePostImportHook(ctx, details, result)
	}
}

// cleanupUsenet removes the finished job from the usenet client when the
// indexer that sourced it is configured with removeAfterProcessing.
func (s *Service) cleanupUsenet(ctx context.Context, requestID int) {
	selected, err := s.history.GetSelected(ctx, requestID)
	if err != nil {
		if !errors.Is(err, models.ErrNoSelectedDownload) {
			log.Warn().Err(err).Int("requestID", requestID).
				Msg("Could not load selected download for cleanup")
		}
		return
	}
	if selected.Handle.Protocol() != models.ProtocolUsenet {
		return
	}
	if selected.IndexerID == nil {
		return
	}

	idxCfg, err := s.indexers.Get(ctx, *selected.IndexerID)
	if err != nil {
		if !errors.Is(err, models.ErrIndexerNotFound) {
			log.Warn().Err(err).Int("requestID", requestID).
				Int("indexerID", *selected.IndexerID).
				Msg("Could not load indexer config for cleanup")
		}
		return
	}
	if !idxCfg.RemoveAfterProcessing {
		return
	}

	// The library holds its own copy now; the client's is redundant.
	if err := s.client.Remove(ctx, selected.Handle, true); err != nil {
		log.Warn().Err(err).Int("requestID", requestID).
			Str("handle", selected.Handle.String()).
			Msg("Could not remove finished usenet job")
		return
	}
	log.Debug().Int("requestID", requestID).
		Str("handle", selected.Handle.String()).
		Msg("Removed finished usenet job")
}

func (s *Service) firePostImportHook(ctx context.Context, details *models.RequestDetails, result *OrganizeResult) {
	env := append(os.Environ(),
		"READMEABOOK_TITLE="+details.Audiobook.Title,
		"READMEABOOK_AUTHOR="+details.Audiobook.Author,
		"READMEABOOK_PATH="+result.TargetDir,
		fmt.Sprintf("READMEABOOK_REQUEST_ID=%d", details.ID),
	)
	if err := s.runHook(ctx, s.hookArgv, env); err != nil {
		log.Warn().Err(err).Str("command", s.hookArgv[0]).
			Msg("Post-import command failed")
		return
	}
	log.Debug().Str("command", s.hookArgv[0]).Msg("Post-import command finished")
}

func runHookCommand(ctx context.Context, argv, env []string) error {
	ctx, cancel := context.WithTimeout(ctx, hookTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (s *Service) notifyFailed(ctx context.Context, title, reason string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyFailed(ctx, title, reason); err != nil {
		log.Warn().Err(err).Msg("Failed to send import failure notification")
	}
}

func (s *Service) notifyRetriesExhausted(ctx context.Context, title, reason string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyRetriesExhausted(ctx, title, reason); err != nil {
		log.Warn().Err(err).Msg("Failed to send retry exhaustion notification")
	}
}

// isRetryableOrganizeError decides whether an import failure deserves
// another pass. Filesystem trouble and client hiccups are assumed
// transient; a payload with no audio, unusable metadata, an escaping path,
// or a missing library root will not fix itself.
func isRetryableOrganizeError(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, errNoAudioFiles),
		errors.Is(err, errBadMetadata),
		errors.Is(err, errPathEscape),
		errors.Is(err, ErrLibraryRootNotConfigured),
		errors.Is(err, models.ErrNoSelectedDownload):
		return false
	}
	return true
}
