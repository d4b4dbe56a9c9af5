// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"fmt"
	"time"

	"github.com/aronjanosch/readmeabook/internal/dbinterface"
)

// QueuedSearch is one pending search. The request id is the primary key,
// so re-enqueueing an already queued request is a no-op.
type QueuedSearch struct {
	RequestID int       `json:"requestId"`
	Reason    string    `json:"reason"`
	QueuedAt  time.Time `json:"queuedAt"`
}

type SearchQueueStore struct {
	db dbinterface.Querier
}

func NewSearchQueueStore(db dbinterface.Querier) *SearchQueueStore {
	return &SearchQueueStore{db: db}
}

// Enqueue adds the request to the queue. Returns true when a new entry was
// created, false when the request was already queued.
func (s *SearchQueueStore) Enqueue(ctx context.Context, requestID int, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO search_queue (request_id, reason) VALUES (?, ?)
	`, requestID, reason)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue search for request %d: %w", requestID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// NextBatch returns up to limit queued searches, oldest first. Entries stay
// queued until Remove.
func (s *SearchQueueStore) NextBatch(ctx context.Context, limit int) ([]QueuedSearch, error) {
	if limit <= 0 {
		limit = 25
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, reason, queued_at FROM search_queue
		ORDER BY queued_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read search queue: %w", err)
	}
	defer rows.Close()

	var out []QueuedSearch
	for rows.Next() {
		var q QueuedSearch
		if err := rows.Scan(&q.RequestID, &q.Reason, &q.QueuedAt); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SearchQueueStore) Remove(ctx context.Context, requestID int) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM search_queue WHERE request_id = ?", requestID); err != nil {
		return fmt.Errorf("failed to remove request %d from search queue: %w", requestID, err)
	}
	return nil
}

func (s *SearchQueueStore) Size(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM search_queue").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count search queue: %w", err)
	}
	return count, nil
}
