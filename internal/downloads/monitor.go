// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloads

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/aronjanosch/readmeabook/internal/models"
)

// StatusProvider yields client status for a download handle. *Manager
// implements it; tests substitute fakes.
type StatusProvider interface {
	Status(ctx context.Context, handle models.DownloadHandle) (Status, error)
}

// Importer organizes a finished download into the library layout. The import
// service owns its own retry bookkeeping; an error here means the attempt
// could not even be started.
type Importer interface {
	ImportCompleted(ctx context.Context, requestID int, contentPath string) error
}

// FailureNotifier is the slice of the notification service the monitor needs.
type FailureNotifier interface {
	NotifyFailed(ctx context.Context, title, reason string) error
}

// Monitor polls the download clients for every request that is currently
// downloading and advances the request lifecycle on completion or failure.
type Monitor struct {
	requests *models.RequestStore
	history  *models.DownloadHistoryStore
	clients  StatusProvider
	importer Importer
	notifier FailureNotifier
}

func NewMonitor(requests *models.RequestStore, history *models.DownloadHistoryStore, clients StatusProvider, importer Importer, notifier FailureNotifier) *Monitor {
	return &Monitor{
		requests: requests,
		history:  history,
		clients:  clients,
		importer: importer,
		notifier: notifier,
	}
}

// Summary counts what one poll pass did.
type Summary struct {
	Checked    int
	Progressed int
	Completed  int
	Failed     int
}

// Poll checks every downloading request once. Per-request errors are logged
// and do not stop the pass; only listing failures and context cancellation
// abort it.
func (m *Monitor) Poll(ctx context.Context) (Summary, error) {
	var summary Summary

	requests, err := m.requests.ListDetailsByStatuses(ctx, models.StatusDownloading)
	if err != nil {
		return summary, fmt.Errorf("list downloading requests: %w", err)
	}

	for _, req := range requests {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Checked++
		if err := m.check(ctx, req, &summary); err != nil {
			log.Error().Err(err).Int("requestID", req.ID).Msg("Failed to check download status")
		}
	}

	return summary, nil
}

func (m *Monitor) check(ctx context.Context, req *models.RequestDetails, summary *Summary) error {
	selected, err := m.history.GetSelected(ctx, req.ID)
	if errors.Is(err, models.ErrNoSelectedDownload) {
		// A downloading request always has a selected grab on record;
		// losing it means the row was deleted out from under us.
		summary.Failed++
		return m.fail(ctx, req, nil, models.DownloadFailed, "no download on record for this request")
	}
	if err != nil {
		return err
	}

	status, err := m.clients.Status(ctx, selected.Handle)
	if err != nil {
		// Client unreachable. Leave the request untouched and let the
		// next pass retry.
		return fmt.Errorf("query %s: %w", selected.Handle, err)
	}

	switch status.State {
	case StateDownloading:
		summary.Progressed++
		return m.requests.UpdateProgress(ctx, req.ID, status.Progress)
	case StateCompleted:
		summary.Completed++
		return m.complete(ctx, req, selected, status)
	case StateFailed:
		summary.Failed++
		message := status.Message
		if message == "" {
			message = "download failed at the client"
		}
		return m.fail(ctx, req, selected, models.DownloadFailed, message)
	case StateMissing:
		summary.Failed++
		return m.fail(ctx, req, selected, models.DownloadRemoved, "download removed from client")
	default:
		return fmt.Errorf("unhandled download state %q", status.State)
	}
}

func (m *Monitor) complete(ctx context.Context, req *models.RequestDetails, selected *models.DownloadHistory, status Status) error {
	if _, err := m.requests.Transition(ctx, req.ID, models.EventDownloadCompleted); err != nil {
		if errors.Is(err, models.ErrIllegalTransition) || errors.Is(err, models.ErrConflict) {
			// Raced with a cancel or another pass; nothing left to do.
			log.Debug().Err(err).Int("requestID", req.ID).Msg("Request moved on before completion could be recorded")
			return nil
		}
		return err
	}

	if err := m.history.SetStatus(ctx, selected.ID, models.DownloadCompleted); err != nil {
		log.Warn().Err(err).Int("downloadID", selected.ID).Msg("Failed to mark download history completed")
	}

	log.Info().
		Int("requestID", req.ID).
		Str("title", req.Audiobook.Title).
		Str("release", selected.ReleaseTitle).
		Str("contentPath", status.ContentPath).
		Msg("Download completed")

	if m.importer != nil {
		if err := m.importer.ImportCompleted(ctx, req.ID, status.ContentPath); err != nil {
			log.Error().Err(err).Int("requestID", req.ID).Msg("Import could not be started")
		}
	}
	return nil
}

func (m *Monitor) fail(ctx context.Context, req *models.RequestDetails, selected *models.DownloadHistory, histStatus models.DownloadStatus, message string) error {
	if _, err := m.requests.TransitionWithMessage(ctx, req.ID, models.EventDownloadFailed, message); err != nil {
		if errors.Is(err, models.ErrIllegalTransition) || errors.Is(err, models.ErrConflict) {
			log.Debug().Err(err).Int("requestID", req.ID).Msg("Request moved on before failure could be recorded")
			return nil
		}
		return err
	}

	if selected != nil {
		if err := m.history.SetStatus(ctx, selected.ID, histStatus); err != nil {
			log.Warn().Err(err).Int("downloadID", selected.ID).Msg("Failed to update download history status")
		}
	}

	log.Warn().
		Int("requestID", req.ID).
		Str("title", req.Audiobook.Title).
		Str("reason", message).
		Msg("Download failed")

	if m.notifier != nil {
		if err := m.notifier.NotifyFailed(ctx, req.Audiobook.Title, message); err != nil {
			log.Warn().Err(err).Msg("Failed to send failure notification")
		}
	}
	return nil
}
