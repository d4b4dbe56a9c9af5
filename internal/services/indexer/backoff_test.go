// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package indexer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffEscalation(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewBackoff()
	b.now = func() time.Time { return now }

	cooling, _ := b.InCooldown(1)
	require.False(t, cooling, "fresh indexers are not cooling down")

	assert.Equal(t, 1*time.Minute, b.RecordFailure(1))
	cooling, until := b.InCooldown(1)
	require.True(t, cooling)
	assert.Equal(t, now.Add(time.Minute), until)

	assert.Equal(t, 5*time.Minute, b.RecordFailure(1))
	assert.Equal(t, 15*time.Minute, b.RecordFailure(1))

	now = now.Add(16 * time.Minute)
	cooling, _ = b.InCooldown(1)
	assert.False(t, cooling, "cooldowns expire")

	assert.Equal(t, 30*time.Minute, b.RecordFailure(1), "the ladder keeps climbing until a success")

	b.RecordSuccess(1)
	cooling, _ = b.InCooldown(1)
	assert.False(t, cooling)
	assert.Equal(t, 1*time.Minute, b.RecordFailure(1), "success resets the ladder")
}

func TestBackoffCapsAtMaxLevel(t *testing.T) {
	b := NewBackoff()
	for range 20 {
		b.RecordFailure(7)
	}
	assert.Equal(t, 24*time.Hour, b.RecordFailure(7))
}

func TestBackoffIsolatesIndexers(t *testing.T) {
	b := NewBackoff()
	b.RecordFailure(1)

	cooling, _ := b.InCooldown(2)
	assert.False(t, cooling, "one indexer's failures must not slow another down")
}
