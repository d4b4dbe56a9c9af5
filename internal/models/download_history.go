// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aronjanosch/readmeabook/internal/dbinterface"
)

var (
	ErrDownloadNotFound   = errors.New("download history entry not found")
	ErrNoSelectedDownload = errors.New("request has no selected download")
)

// Protocol distinguishes torrent downloads from usenet downloads.
type Protocol string

const (
	ProtocolTorrent Protocol = "torrent"
	ProtocolUsenet  Protocol = "usenet"
)

// DownloadHandle identifies a download at its client. It is a tagged value:
// torrent handles carry an infohash, usenet handles an NZB id, and only the
// matching accessor yields the value. Construct via TorrentHandle or
// UsenetHandle; the zero value is no handle.
type DownloadHandle struct {
	protocol Protocol
	value    string
}

// TorrentHandle wraps a torrent infohash. Hashes are normalized to
// lowercase so client lookups and sharing checks compare consistently.
func TorrentHandle(infohash string) DownloadHandle {
	return DownloadHandle{protocol: ProtocolTorrent, value: strings.ToLower(strings.TrimSpace(infohash))}
}

// UsenetHandle wraps a client-assigned NZB id.
func UsenetHandle(nzbID string) DownloadHandle {
	return DownloadHandle{protocol: ProtocolUsenet, value: strings.TrimSpace(nzbID)}
}

func (h DownloadHandle) Protocol() Protocol { return h.protocol }

func (h DownloadHandle) IsZero() bool { return h.protocol == "" || h.value == "" }

// TorrentHash returns the infohash for torrent handles.
func (h DownloadHandle) TorrentHash() (string, bool) {
	if h.protocol != ProtocolTorrent {
		return "", false
	}
	return h.value, true
}

// NZBID returns the client NZB id for usenet handles.
func (h DownloadHandle) NZBID() (string, bool) {
	if h.protocol != ProtocolUsenet {
		return "", false
	}
	return h.value, true
}

// Key is a stable map key ("torrent:<hash>" / "usenet:<id>").
func (h DownloadHandle) Key() string {
	return string(h.protocol) + ":" + h.value
}

func (h DownloadHandle) String() string { return h.Key() }

func (h DownloadHandle) MarshalJSON() ([]byte, error) {
	type wire struct {
		Protocol    Protocol `json:"protocol"`
		TorrentHash string   `json:"torrentHash,omitempty"`
		NZBID       string   `json:"nzbId,omitempty"`
	}
	w := wire{Protocol: h.protocol}
	switch h.protocol {
	case ProtocolTorrent:
		w.TorrentHash = h.value
	case ProtocolUsenet:
		w.NZBID = h.value
	}
	return json.Marshal(w)
}

// DownloadStatus tracks the life of a grabbed release at its client.
type DownloadStatus string

const (
	DownloadGrabbed   DownloadStatus = "grabbed"
	DownloadActive    DownloadStatus = "downloading"
	DownloadCompleted DownloadStatus = "completed"
	DownloadFailed    DownloadStatus = "failed"
	DownloadRemoved   DownloadStatus = "removed"
)

// DownloadHistory records one grabbed release for a request. At most one
// row per request is selected (enforced by a partial unique index); the
// selected row is the one the pipeline acts on.
type DownloadHistory struct {
	ID             int            `json:"id"`
	RequestID      int            `json:"requestId"`
	IndexerID      *int           `json:"indexerId,omitempty"`
	IndexerName    string         `json:"indexerName"`
	Handle         DownloadHandle `json:"handle"`
	ReleaseTitle   string         `json:"releaseTitle"`
	SizeBytes      int64          `json:"sizeBytes"`
	Selected       bool           `json:"selected"`
	DownloadStatus DownloadStatus `json:"downloadStatus"`
	CreatedAt      time.Time      `json:"createdAt"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
}

type DownloadHistoryStore struct {
	db dbinterface.Querier
}

func NewDownloadHistoryStore(db dbinterface.Querier) *DownloadHistoryStore {
	return &DownloadHistoryStore{db: db}
}

// CreateDownloadInput describes a grab to record.
type CreateDownloadInput struct {
	RequestID    int
	IndexerID    *int
	IndexerName  string
	Handle       DownloadHandle
	ReleaseTitle string
	SizeBytes    int64
	Selected     bool
}

// Create inserts a history row. When Selected is set, any previously
// selected row for the request is unselected in the same transaction.
func (s *DownloadHistoryStore) Create(ctx context.Context, input CreateDownloadInput) (*DownloadHistory, error) {
	if input.Handle.IsZero() {
		return nil, errors.New("download handle is required")
	}

	var torrentHash, nzbID any
	switch input.Handle.Protocol() {
	case ProtocolTorrent:
		hash, _ := input.Handle.TorrentHash()
		torrentHash = hash
	case ProtocolUsenet:
		id, _ := input.Handle.NZBID()
		nzbID = id
	default:
		return nil, fmt.Errorf("unknown download protocol %q", input.Handle.Protocol())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if input.Selected {
		if _, err := tx.ExecContext(ctx, `
			UPDATE download_history SET selected = 0 WHERE request_id = ? AND selected = 1
		`, input.RequestID); err != nil {
			return nil, fmt.Errorf("failed to unselect previous download: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO download_history (request_id, indexer_id, indexer_name, protocol, torrent_hash, nzb_id,
		                              release_title, size_bytes, selected, download_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, input.RequestID, input.IndexerID, input.IndexerName, input.Handle.Protocol(), torrentHash, nzbID,
		input.ReleaseTitle, input.SizeBytes, input.Selected, DownloadGrabbed)
	if err != nil {
		return nil, fmt.Errorf("failed to create download history: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit download history: %w", err)
	}

	return s.Get(ctx, int(id))
}

const downloadHistoryColumns = `id, request_id, indexer_id, indexer_name, protocol, torrent_hash, nzb_id,
	release_title, size_bytes, selected, download_status, created_at, completed_at`

func (s *DownloadHistoryStore) Get(ctx context.Context, id int) (*DownloadHistory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+downloadHistoryColumns+` FROM download_history WHERE id = ?
	`, id)

	dh, err := scanDownloadHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDownloadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get download history: %w", err)
	}
	return dh, nil
}

// GetSelected returns the request's selected download.
func (s *DownloadHistoryStore) GetSelected(ctx context.Context, requestID int) (*DownloadHistory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+downloadHistoryColumns+` FROM download_history WHERE request_id = ? AND selected = 1
	`, requestID)

	dh, err := scanDownloadHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSelectedDownload
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get selected download: %w", err)
	}
	return dh, nil
}

// ListByRequest returns all grabs for a request, newest first.
func (s *DownloadHistoryStore) ListByRequest(ctx context.Context, requestID int) ([]*DownloadHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+downloadHistoryColumns+` FROM download_history
		WHERE request_id = ?
		ORDER BY created_at DESC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list download history: %w", err)
	}
	defer rows.Close()

	var out []*DownloadHistory
	for rows.Next() {
		dh, err := scanDownloadHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dh)
	}
	return out, rows.Err()
}

// SetStatus updates the client-side download status; reaching completed
// stamps completed_at.
func (s *DownloadHistoryStore) SetStatus(ctx context.Context, id int, status DownloadStatus) error {
	query := "UPDATE download_history SET download_status = ?"
	if status == DownloadCompleted {
		query += ", completed_at = CURRENT_TIMESTAMP"
	}
	query += " WHERE id = ?"

	res, err := s.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to set download status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrDownloadNotFound
	}
	return nil
}

func scanDownloadHistory(row rowScanner) (*DownloadHistory, error) {
	var (
		dh          DownloadHistory
		indexerID   sql.NullInt64
		protocol    Protocol
		torrentHash sql.NullString
		nzbID       sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(
		&dh.ID, &dh.RequestID, &indexerID, &dh.IndexerName, &protocol,
		&torrentHash, &nzbID, &dh.ReleaseTitle, &dh.SizeBytes, &dh.Selected,
		&dh.DownloadStatus, &dh.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if indexerID.Valid {
		v := int(indexerID.Int64)
		dh.IndexerID = &v
	}
	switch protocol {
	case ProtocolTorrent:
		dh.Handle = TorrentHandle(torrentHash.String)
	case ProtocolUsenet:
		dh.Handle = UsenetHandle(nzbID.String)
	}
	if completedAt.Valid {
		t := completedAt.Time
		dh.CompletedAt = &t
	}
	return &dh, nil
}
