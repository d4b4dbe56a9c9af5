// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package indexer

import (
	"sync"
	"time"
)

// escalationPeriods defines cooldown durations for consecutive indexer
// failures. Matches Prowlarr/Sonarr behavior: escalates per failure, resets
// on success.
var escalationPeriods = []time.Duration{
	0,
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	1 * time.Hour,
	3 * time.Hour,
	6 * time.Hour,
	12 * time.Hour,
	24 * time.Hour,
}

type backoffState struct {
	level int
	until time.Time
}

// Backoff tracks per-indexer failure escalation. Searches and feed sweeps
// skip indexers that are cooling down instead of hammering a host that just
// rate-limited us.
type Backoff struct {
	mu     sync.Mutex
	now    func() time.Time
	states map[int]*backoffState
}

func NewBackoff() *Backoff {
	return &Backoff{
		now:    time.Now,
		states: make(map[int]*backoffState),
	}
}

// RecordFailure bumps the indexer's escalation level and returns the
// cooldown that now applies.
func (b *Backoff) RecordFailure(indexerID int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.stateLocked(indexerID)
	if state.level < len(escalationPeriods)-1 {
		state.level++
	}

	cooldown := escalationPeriods[state.level]
	if cooldown > 0 {
		state.until = b.now().Add(cooldown)
	}
	return cooldown
}

// RecordSuccess resets the indexer's escalation.
func (b *Backoff) RecordSuccess(indexerID int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.stateLocked(indexerID)
	state.level = 0
	state.until = time.Time{}
}

// InCooldown reports whether the indexer should be skipped and until when.
func (b *Backoff) InCooldown(indexerID int) (bool, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.stateLocked(indexerID)
	if !state.until.IsZero() && state.until.After(b.now()) {
		return true, state.until
	}
	return false, time.Time{}
}

func (b *Backoff) stateLocked(indexerID int) *backoffState {
	state, ok := b.states[indexerID]
	if !ok {
		state = &backoffState{}
		b.states[indexerID] = state
	}
	return state
}
