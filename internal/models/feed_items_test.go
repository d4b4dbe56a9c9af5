// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedItemStore_UnseenAndMarkSeen(t *testing.T) {
	db := newTestDB(t)
	store := NewFeedItemStore(db)
	ctx := context.Background()

	require.NoError(t, store.MarkSeen(ctx, 1, "guid-a", "guid-b"))

	unseen, err := store.Unseen(ctx, 1, "guid-a", "guid-c", "guid-b", "guid-c", "guid-d")
	require.NoError(t, err)
	assert.Equal(t, []string{"guid-c", "guid-d"}, unseen,
		"seen keys and duplicates drop out, first-occurrence order survives")

	// Seen records are scoped per indexer.
	unseen, err = store.Unseen(ctx, 2, "guid-a", "guid-b")
	require.NoError(t, err)
	assert.Equal(t, []string{"guid-a", "guid-b"}, unseen)

	// Re-marking is a no-op.
	require.NoError(t, store.MarkSeen(ctx, 1, "guid-a", "guid-a", "guid-b"))
	unseen, err = store.Unseen(ctx, 1, "guid-a", "guid-b")
	require.NoError(t, err)
	assert.Empty(t, unseen)
}

func TestFeedItemStore_EmptyInputs(t *testing.T) {
	db := newTestDB(t)
	store := NewFeedItemStore(db)
	ctx := context.Background()

	require.NoError(t, store.MarkSeen(ctx, 1))

	unseen, err := store.Unseen(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, unseen)
}

// Batches beyond SQLite's parameter limit must chunk.
func TestFeedItemStore_LargeBatch(t *testing.T) {
	db := newTestDB(t)
	store := NewFeedItemStore(db)
	ctx := context.Background()

	keys := make([]string, 2000)
	for i := range keys {
		keys[i] = fmt.Sprintf("guid-%04d", i)
	}

	require.NoError(t, store.MarkSeen(ctx, 1, keys...))

	probe := append([]string{}, keys...)
	probe = append(probe, "guid-fresh-1", "guid-fresh-2")

	unseen, err := store.Unseen(ctx, 1, probe...)
	require.NoError(t, err)
	assert.Equal(t, []string{"guid-fresh-1", "guid-fresh-2"}, unseen)
}

func TestFeedItemStore_Prune(t *testing.T) {
	db := newTestDB(t)
	store := NewFeedItemStore(db)
	ctx := context.Background()

	require.NoError(t, store.MarkSeen(ctx, 1, "old-item", "fresh-item"))
	_, err := db.ExecContext(ctx,
		"UPDATE feed_items SET seen_at = ? WHERE item_key = 'old-item'",
		time.Now().Add(-30*24*time.Hour).UTC())
	require.NoError(t, err)

	pruned, err := store.Prune(ctx, 14*24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)

	unseen, err := store.Unseen(ctx, 1, "old-item", "fresh-item")
	require.NoError(t, err)
	assert.Equal(t, []string{"old-item"}, unseen, "pruned records are forgotten, fresh ones kept")
}
