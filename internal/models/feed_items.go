// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"fmt"
	"time"

	"github.com/aronjanosch/readmeabook/internal/dbinterface"
)

// FeedItemStore remembers which feed items a sweep already evaluated so
// repeated RSS fetches don't re-match the same releases. Feeds arrive in
// pages of dozens to hundreds of items, so lookups and writes are batched.
type FeedItemStore struct {
	db dbinterface.Querier
}

func NewFeedItemStore(db dbinterface.Querier) *FeedItemStore {
	return &FeedItemStore{db: db}
}

// Unseen filters keys down to the ones with no seen record for the indexer.
// Duplicates are dropped; first-occurrence order is preserved.
func (s *FeedItemStore) Unseen(ctx context.Context, indexerID int, keys ...string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	unique := dedupKeys(keys)
	seen := make(map[string]struct{}, len(unique))

	// indexer_id takes one parameter, so each chunk leaves room for it.
	const chunkSize = dbinterface.MaxParams - 1
	for start := 0; start < len(unique); start += chunkSize {
		end := start + chunkSize
		if end > len(unique) {
			end = len(unique)
		}
		chunk := unique[start:end]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, indexerID)
		for _, k := range chunk {
			args = append(args, k)
		}

		rows, err := s.db.QueryContext(ctx,
			"SELECT item_key FROM feed_items WHERE indexer_id = ? AND item_key IN ("+
				dbinterface.InPlaceholders(len(chunk))+")", args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query seen feed items: %w", err)
		}

		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan feed item key: %w", err)
			}
			seen[key] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error iterating feed item keys: %w", err)
		}
		rows.Close()
	}

	out := make([]string, 0, len(unique)-len(seen))
	for _, k := range unique {
		if _, ok := seen[k]; !ok {
			out = append(out, k)
		}
	}
	return out, nil
}

// MarkSeen records the keys for the indexer. Duplicate and already-seen keys
// are ignored.
func (s *FeedItemStore) MarkSeen(ctx context.Context, indexerID int, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	// Fast path for a single item.
	if len(keys) == 1 {
		if _, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO feed_items (indexer_id, item_key) VALUES (?, ?)
		`, indexerID, keys[0]); err != nil {
			return fmt.Errorf("failed to mark feed item: %w", err)
		}
		return nil
	}

	unique := dedupKeys(keys)

	// Two parameters per row.
	const rowsPerChunk = dbinterface.MaxParams / 2
	for start := 0; start < len(unique); start += rowsPerChunk {
		end := start + rowsPerChunk
		if end > len(unique) {
			end = len(unique)
		}
		chunk := unique[start:end]

		query := dbinterface.BuildQueryWithPlaceholders(
			"INSERT OR IGNORE INTO feed_items (indexer_id, item_key) VALUES %s", 2, len(chunk))

		args := make([]any, 0, len(chunk)*2)
		for _, k := range chunk {
			args = append(args, indexerID, k)
		}

		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to batch mark feed items: %w", err)
		}
	}
	return nil
}

// Prune drops seen-item records older than retention and returns how many
// were removed.
func (s *FeedItemStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC()

	res, err := s.db.ExecContext(ctx, "DELETE FROM feed_items WHERE seen_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune feed items: %w", err)
	}
	return res.RowsAffected()
}

func dedupKeys(keys []string) []string {
	unique := make([]string, 0, len(keys))
	index := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := index[k]; dup {
			continue
		}
		index[k] = struct{}{}
		unique = append(unique, k)
	}
	return unique
}
