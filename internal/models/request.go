// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aronjanosch/readmeabook/internal/dbinterface"
)

var (
	ErrRequestNotFound   = errors.New("request not found")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrConflict          = errors.New("request was modified concurrently")
)

// RequestStatus is the acquisition lifecycle state of a request.
type RequestStatus string

const (
	StatusPending          RequestStatus = "pending"
	StatusAwaitingApproval RequestStatus = "awaiting_approval"
	StatusAwaitingSearch   RequestStatus = "awaiting_search"
	StatusSearching        RequestStatus = "searching"
	StatusDownloading      RequestStatus = "downloading"
	StatusProcessing       RequestStatus = "processing"
	StatusDownloaded       RequestStatus = "downloaded"
	StatusAwaitingImport   RequestStatus = "awaiting_import"
	StatusAvailable        RequestStatus = "available"
	StatusCompleted        RequestStatus = "completed"
	StatusFailed           RequestStatus = "failed"
	StatusWarn             RequestStatus = "warn"
	StatusCancelled        RequestStatus = "cancelled"
	StatusDenied           RequestStatus = "denied"
)

var AllRequestStatuses = []RequestStatus{
	StatusPending,
	StatusAwaitingApproval,
	StatusAwaitingSearch,
	StatusSearching,
	StatusDownloading,
	StatusProcessing,
	StatusDownloaded,
	StatusAwaitingImport,
	StatusAvailable,
	StatusCompleted,
	StatusFailed,
	StatusWarn,
	StatusCancelled,
	StatusDenied,
}

var requestStatusSet = func() map[RequestStatus]struct{} {
	set := make(map[RequestStatus]struct{}, len(AllRequestStatuses))
	for _, s := range AllRequestStatuses {
		set[s] = struct{}{}
	}
	return set
}()

// ParseRequestStatus reports whether value names a known status.
func ParseRequestStatus(value string) (RequestStatus, bool) {
	s := RequestStatus(value)
	_, ok := requestStatusSet[s]
	return s, ok
}

// IsTerminal reports whether the acquisition pipeline is finished for this
// status. A completed request can still be promoted to available by library
// verification; no other event touches a terminal status.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusDenied:
		return true
	}
	return false
}

// RequestEvent drives status transitions. Transitions not present in the
// table are rejected, there is no implicit fallback.
type RequestEvent string

const (
	EventApprove           RequestEvent = "approve"
	EventDeny              RequestEvent = "deny"
	EventSearchStarted     RequestEvent = "search_started"
	EventNoCandidates      RequestEvent = "no_candidates"
	EventSearchFailed      RequestEvent = "search_failed"
	EventCandidateGrabbed  RequestEvent = "candidate_grabbed"
	EventDownloadCompleted RequestEvent = "download_completed"
	EventDownloadFailed    RequestEvent = "download_failed"
	EventOrganizeSucceeded RequestEvent = "organize_succeeded"
	EventOrganizeDeferred  RequestEvent = "organize_deferred"
	EventRetriesExhausted  RequestEvent = "retries_exhausted"
	EventOrganizeFailed    RequestEvent = "organize_failed"
	EventImportRetried     RequestEvent = "import_retried"
	EventMatched           RequestEvent = "matched"
	EventLibraryVerified   RequestEvent = "library_verified"
	EventCancel            RequestEvent = "cancel"
)

type transitionKey struct {
	status RequestStatus
	event  RequestEvent
}

var requestTransitions = buildRequestTransitions()

func buildRequestTransitions() map[transitionKey]RequestStatus {
	t := map[transitionKey]RequestStatus{
		{StatusAwaitingApproval, EventApprove}: StatusPending,
		{StatusAwaitingApproval, EventDeny}:    StatusDenied,

		{StatusPending, EventSearchStarted}:        StatusSearching,
		{StatusAwaitingSearch, EventSearchStarted}: StatusSearching,

		{StatusSearching, EventNoCandidates}:     StatusAwaitingSearch,
		{StatusSearching, EventSearchFailed}:     StatusAwaitingSearch,
		{StatusSearching, EventCandidateGrabbed}: StatusDownloading,

		{StatusDownloading, EventDownloadCompleted}: StatusProcessing,
		{StatusDownloading, EventDownloadFailed}:    StatusFailed,

		{StatusProcessing, EventOrganizeSucceeded}: StatusDownloaded,
		{StatusProcessing, EventOrganizeDeferred}:  StatusAwaitingImport,
		{StatusProcessing, EventRetriesExhausted}:  StatusWarn,
		{StatusProcessing, EventOrganizeFailed}:    StatusFailed,

		{StatusAwaitingImport, EventImportRetried}: StatusProcessing,
		{StatusWarn, EventImportRetried}:           StatusProcessing,

		{StatusDownloaded, EventMatched}:        StatusCompleted,
		{StatusCompleted, EventLibraryVerified}: StatusAvailable,
	}

	// Cancel reaches every non-terminal status except available, which only
	// the seeding reconciler retires.
	for _, s := range AllRequestStatuses {
		if s.IsTerminal() || s == StatusAvailable {
			continue
		}
		t[transitionKey{s, EventCancel}] = StatusCancelled
	}

	return t
}

// NextStatus resolves the transition table for (current, event).
func NextStatus(current RequestStatus, event RequestEvent) (RequestStatus, error) {
	next, ok := requestTransitions[transitionKey{current, event}]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrIllegalTransition, event, current)
	}
	return next, nil
}

// Request ties an audiobook to the user who asked for it and tracks the
// acquisition lifecycle.
type Request struct {
	ID               int           `json:"id"`
	AudiobookID      int           `json:"audiobookId"`
	UserID           int           `json:"userId"`
	Status           RequestStatus `json:"status"`
	Progress         float64       `json:"progress"`
	ImportAttempts   int           `json:"importAttempts"`
	MaxImportRetries int           `json:"maxImportRetries"`
	ErrorMessage     string        `json:"errorMessage,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
	CompletedAt      *time.Time    `json:"completedAt,omitempty"`
	DeletedAt        *time.Time    `json:"deletedAt,omitempty"`
}

// RequestDetails is a request joined with its audiobook and requesting user.
type RequestDetails struct {
	Request
	Audiobook Audiobook `json:"audiobook"`
	Username  string    `json:"username"`
}

// SeedingCandidate pairs a request with its selected download for the
// seeding reconciler.
type SeedingCandidate struct {
	Request Request
	History DownloadHistory
}

type RequestStore struct {
	db dbinterface.Querier
}

func NewRequestStore(db dbinterface.Querier) *RequestStore {
	return &RequestStore{db: db}
}

const requestColumns = `id, audiobook_id, user_id, status, progress, import_attempts,
	max_import_retries, error_message, created_at, updated_at, completed_at, deleted_at`

func (s *RequestStore) Create(ctx context.Context, audiobookID, userID int, status RequestStatus, maxImportRetries int) (*Request, error) {
	if _, ok := requestStatusSet[status]; !ok {
		return nil, fmt.Errorf("invalid initial status %q", status)
	}
	if maxImportRetries <= 0 {
		maxImportRetries = 3
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (audiobook_id, user_id, status, max_import_retries)
		VALUES (?, ?, ?, ?)
	`, audiobookID, userID, status, maxImportRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, int(id))
}

// Get returns the request regardless of soft-delete state.
func (s *RequestStore) Get(ctx context.Context, id int) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+`
		FROM requests
		WHERE id = ?
	`, id)

	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return req, nil
}

// GetDetails returns the request joined with audiobook and username.
func (s *RequestStore) GetDetails(ctx context.Context, id int) (*RequestDetails, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.audiobook_id, r.user_id, r.status, r.progress, r.import_attempts,
		       r.max_import_retries, r.error_message, r.created_at, r.updated_at, r.completed_at, r.deleted_at,
		       a.id, a.title, a.author, a.narrator, a.asin, a.year, a.series, a.series_part,
		       a.runtime_minutes, a.file_path, a.fingerprint, a.status, a.created_at, a.updated_at,
		       u.username
		FROM requests r
		JOIN audiobooks a ON a.id = r.audiobook_id
		JOIN users u ON u.id = r.user_id
		WHERE r.id = ?
	`, id)

	details, err := scanRequestDetails(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request details: %w", err)
	}
	return details, nil
}

// ListOptions filters List. Zero values mean "no filter".
type ListOptions struct {
	Status         RequestStatus
	IncludeDeleted bool
	Limit          int
	Offset         int
}

func (s *RequestStore) List(ctx context.Context, opts ListOptions) ([]*RequestDetails, error) {
	query := `
		SELECT r.id, r.audiobook_id, r.user_id, r.status, r.progress, r.import_attempts,
		       r.max_import_retries, r.error_message, r.created_at, r.updated_at, r.completed_at, r.deleted_at,
		       a.id, a.title, a.author, a.narrator, a.asin, a.year, a.series, a.series_part,
		       a.runtime_minutes, a.file_path, a.fingerprint, a.status, a.created_at, a.updated_at,
		       u.username
		FROM requests r
		JOIN audiobooks a ON a.id = r.audiobook_id
		JOIN users u ON u.id = r.user_id
		WHERE 1=1`
	args := make([]any, 0, 4)

	if opts.Status != "" {
		query += " AND r.status = ?"
		args = append(args, opts.Status)
	}
	if !opts.IncludeDeleted {
		query += " AND r.deleted_at IS NULL"
	}
	query += " ORDER BY r.created_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var out []*RequestDetails
	for rows.Next() {
		details, err := scanRequestDetails(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, details)
	}
	return out, rows.Err()
}

// ListIDsByStatus returns ids of non-deleted requests in status, oldest
// update first.
func (s *RequestStore) ListIDsByStatus(ctx context.Context, status RequestStatus, limit int) ([]int, error) {
	query := `
		SELECT id FROM requests
		WHERE status = ? AND deleted_at IS NULL
		ORDER BY updated_at ASC`
	args := []any{status}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests by status: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListDetailsByStatuses returns non-deleted requests in any of the given
// statuses, joined with their audiobooks. Used by the feed matcher to build
// the wanted set.
func (s *RequestStore) ListDetailsByStatuses(ctx context.Context, statuses ...RequestStatus) ([]*RequestDetails, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.audiobook_id, r.user_id, r.status, r.progress, r.import_attempts,
		       r.max_import_retries, r.error_message, r.created_at, r.updated_at, r.completed_at, r.deleted_at,
		       a.id, a.title, a.author, a.narrator, a.asin, a.year, a.series, a.series_part,
		       a.runtime_minutes, a.file_path, a.fingerprint, a.status, a.created_at, a.updated_at,
		       u.username
		FROM requests r
		JOIN audiobooks a ON a.id = r.audiobook_id
		JOIN users u ON u.id = r.user_id
		WHERE r.status IN (`+dbinterface.InPlaceholders(len(statuses))+`) AND r.deleted_at IS NULL
		ORDER BY r.created_at ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests by statuses: %w", err)
	}
	defer rows.Close()

	var out []*RequestDetails
	for rows.Next() {
		details, err := scanRequestDetails(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, details)
	}
	return out, rows.Err()
}

// ListStalled returns ids of non-deleted requests sitting in status longer
// than threshold.
func (s *RequestStore) ListStalled(ctx context.Context, status RequestStatus, threshold time.Duration, limit int) ([]int, error) {
	cutoff := time.Now().Add(-threshold).UTC()

	query := `
		SELECT id FROM requests
		WHERE status = ? AND deleted_at IS NULL AND updated_at < ?
		ORDER BY updated_at ASC`
	args := []any{status, cutoff}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled requests: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Transition applies event to the request's current status via the
// transition table. The update is compare-and-swap on status; on concurrent
// modification the current status is re-read and the event re-resolved, up
// to three attempts.
func (s *RequestStore) Transition(ctx context.Context, id int, event RequestEvent) (*Request, error) {
	return s.applyTransition(ctx, id, event, nil)
}

// TransitionWithMessage is Transition with an error message recorded in the
// same update (escalations and failures).
func (s *RequestStore) TransitionWithMessage(ctx context.Context, id int, event RequestEvent, message string) (*Request, error) {
	return s.applyTransition(ctx, id, event, &message)
}

func (s *RequestStore) applyTransition(ctx context.Context, id int, event RequestEvent, message *string) (*Request, error) {
	const maxAttempts = 3

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		next, err := NextStatus(req.Status, event)
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", id, err)
		}

		errMsg := ""
		if message != nil {
			errMsg = *message
		}

		query := `
			UPDATE requests
			SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP`
		args := []any{next, errMsg}
		if next == StatusCompleted {
			query += ", completed_at = CURRENT_TIMESTAMP"
		}
		query += " WHERE id = ? AND status = ? AND deleted_at IS NULL"
		args = append(args, id, req.Status)

		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to transition request %d: %w", id, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected > 0 {
			return s.Get(ctx, id)
		}

		// Lost the race, re-read and retry against the fresh status.
		time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
	}

	return nil, fmt.Errorf("request %d: %w", id, ErrConflict)
}

// EscalateImportFailure records a retryable import failure: it bumps
// import_attempts with a compare-and-swap on the expected prior count and
// moves the request to newStatus in the same update. The request must still
// be processing, so an escalation can never overwrite a concurrent cancel.
// A false return means another actor got there first and this failure must
// be dropped.
func (s *RequestStore) EscalateImportFailure(ctx context.Context, id, expectedAttempts int, newStatus RequestStatus, message string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE requests
		SET import_attempts = ?, status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND import_attempts = ? AND status = ? AND deleted_at IS NULL
	`, expectedAttempts+1, newStatus, message, id, expectedAttempts, StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to escalate import failure for request %d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// UpdateProgress stores download progress as a percentage.
func (s *RequestStore) UpdateProgress(ctx context.Context, id int, progress float64) error {
	if progress < 0 {
		progress = 0
	} else if progress > 100 {
		progress = 100
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE requests SET progress = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, progress, id)
	if err != nil {
		return fmt.Errorf("failed to update progress for request %d: %w", id, err)
	}
	return nil
}

// SoftDelete marks the request deleted; the seeding reconciler purges the
// rows once client-side cleanup is settled.
func (s *RequestStore) SoftDelete(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE requests SET deleted_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND deleted_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("failed to soft delete request %d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRequestNotFound
	}
	return nil
}

// HardDelete removes the request row; download history cascades.
func (s *RequestStore) HardDelete(ctx context.Context, id int) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM requests WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to hard delete request %d: %w", id, err)
	}
	return nil
}

// ListSeedingCandidates returns up to limit requests the seeding reconciler
// should look at: available requests and soft-deleted requests of any
// status, each with a selected download.
func (s *RequestStore) ListSeedingCandidates(ctx context.Context, limit int) ([]SeedingCandidate, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.audiobook_id, r.user_id, r.status, r.progress, r.import_attempts,
		       r.max_import_retries, r.error_message, r.created_at, r.updated_at, r.completed_at, r.deleted_at,
		       dh.id, dh.request_id, dh.indexer_id, dh.indexer_name, dh.protocol, dh.torrent_hash,
		       dh.nzb_id, dh.release_title, dh.size_bytes, dh.selected, dh.download_status, dh.created_at, dh.completed_at
		FROM requests r
		JOIN download_history dh ON dh.request_id = r.id AND dh.selected = 1
		WHERE (r.status = ? AND r.deleted_at IS NULL) OR r.deleted_at IS NOT NULL
		ORDER BY r.updated_at ASC
		LIMIT ?
	`, StatusAvailable, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list seeding candidates: %w", err)
	}
	defer rows.Close()

	var out []SeedingCandidate
	for rows.Next() {
		var (
			c             SeedingCandidate
			completedAt   sql.NullTime
			deletedAt     sql.NullTime
			indexerID     sql.NullInt64
			protocol      Protocol
			torrentHash   sql.NullString
			nzbID         sql.NullString
			dhCompletedAt sql.NullTime
		)
		if err := rows.Scan(
			&c.Request.ID, &c.Request.AudiobookID, &c.Request.UserID, &c.Request.Status,
			&c.Request.Progress, &c.Request.ImportAttempts, &c.Request.MaxImportRetries,
			&c.Request.ErrorMessage, &c.Request.CreatedAt, &c.Request.UpdatedAt, &completedAt, &deletedAt,
			&c.History.ID, &c.History.RequestID, &indexerID, &c.History.IndexerName,
			&protocol, &torrentHash, &nzbID,
			&c.History.ReleaseTitle, &c.History.SizeBytes, &c.History.Selected,
			&c.History.DownloadStatus, &c.History.CreatedAt, &dhCompletedAt,
		); err != nil {
			return nil, err
		}
		if completedAt.Valid {
			t := completedAt.Time
			c.Request.CompletedAt = &t
		}
		if deletedAt.Valid {
			t := deletedAt.Time
			c.Request.DeletedAt = &t
		}
		if indexerID.Valid {
			v := int(indexerID.Int64)
			c.History.IndexerID = &v
		}
		switch protocol {
		case ProtocolTorrent:
			c.History.Handle = TorrentHandle(torrentHash.String)
		case ProtocolUsenet:
			c.History.Handle = UsenetHandle(nzbID.String)
		}
		if dhCompletedAt.Valid {
			t := dhCompletedAt.Time
			c.History.CompletedAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountOthersSharingTorrent counts non-deleted requests other than
// requestID whose selected download references the same torrent hash.
func (s *RequestStore) CountOthersSharingTorrent(ctx context.Context, requestID int, torrentHash string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM download_history dh
		JOIN requests r ON r.id = dh.request_id
		WHERE dh.torrent_hash = ? AND dh.selected = 1 AND dh.request_id != ? AND r.deleted_at IS NULL
	`, torrentHash, requestID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count requests sharing torrent: %w", err)
	}
	return count, nil
}

// CountByStatus returns the number of non-deleted requests per status.
func (s *RequestStore) CountByStatus(ctx context.Context) (map[RequestStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM requests WHERE deleted_at IS NULL GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count requests by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[RequestStatus]int, len(AllRequestStatuses))
	for rows.Next() {
		var (
			status RequestStatus
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	var (
		req         Request
		completedAt sql.NullTime
		deletedAt   sql.NullTime
	)
	err := row.Scan(
		&req.ID, &req.AudiobookID, &req.UserID, &req.Status, &req.Progress,
		&req.ImportAttempts, &req.MaxImportRetries, &req.ErrorMessage,
		&req.CreatedAt, &req.UpdatedAt, &completedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		req.CompletedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		req.DeletedAt = &t
	}
	return &req, nil
}

func scanRequestDetails(row rowScanner) (*RequestDetails, error) {
	var (
		d           RequestDetails
		completedAt sql.NullTime
		deletedAt   sql.NullTime
		asin        sql.NullString
		year        sql.NullInt64
		seriesPart  sql.NullFloat64
		runtime     sql.NullInt64
	)
	err := row.Scan(
		&d.ID, &d.AudiobookID, &d.UserID, &d.Status, &d.Progress,
		&d.ImportAttempts, &d.MaxImportRetries, &d.ErrorMessage,
		&d.CreatedAt, &d.UpdatedAt, &completedAt, &deletedAt,
		&d.Audiobook.ID, &d.Audiobook.Title, &d.Audiobook.Author, &d.Audiobook.Narrator,
		&asin, &year, &d.Audiobook.Series, &seriesPart, &runtime,
		&d.Audiobook.FilePath, &d.Audiobook.Fingerprint, &d.Audiobook.Status,
		&d.Audiobook.CreatedAt, &d.Audiobook.UpdatedAt,
		&d.Username,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		d.CompletedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		d.DeletedAt = &t
	}
	if asin.Valid {
		d.Audiobook.ASIN = asin.String
	}
	if year.Valid {
		d.Audiobook.Year = int(year.Int64)
	}
	if seriesPart.Valid {
		d.Audiobook.SeriesPart = seriesPart.Float64
	}
	if runtime.Valid {
		d.Audiobook.RuntimeMinutes = int(runtime.Int64)
	}
	return &d, nil
}
