// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloads

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoHashFromBytes(t *testing.T) {
	info := metainfo.Info{
		Name:        "Project Hail Mary",
		PieceLength: 16384,
		Pieces:      make([]byte, 20),
		Length:      1024,
	}
	infoBytes, err := bencode.Marshal(info)
	require.NoError(t, err)

	var buf bytes.Buffer
	mi := metainfo.MetaInfo{InfoBytes: infoBytes}
	require.NoError(t, mi.Write(&buf))

	hash, err := InfoHashFromBytes(buf.Bytes())
	require.NoError(t, err)

	assert.Equal(t, metainfo.HashBytes(infoBytes).HexString(), hash)
	assert.Len(t, hash, 40)
	assert.Equal(t, strings.ToLower(hash), hash, "infohashes are normalized to lowercase")
}

func TestInfoHashFromBytes_RejectsGarbage(t *testing.T) {
	_, err := InfoHashFromBytes([]byte("definitely not bencode"))
	require.Error(t, err)
}

func TestIsTorrentComplete(t *testing.T) {
	tests := []struct {
		name     string
		torrent  *qbt.Torrent
		complete bool
	}{
		{
			name:     "nil torrent",
			torrent:  nil,
			complete: false,
		},
		{
			name:     "seeding",
			torrent:  &qbt.Torrent{Progress: 1.0, State: qbt.TorrentStateUploading},
			complete: true,
		},
		{
			name:     "finished and paused",
			torrent:  &qbt.Torrent{Progress: 1.0, State: qbt.TorrentStatePausedUp},
			complete: true,
		},
		{
			name:     "finished with no peers",
			torrent:  &qbt.Torrent{Progress: 1.0, State: qbt.TorrentStateStalledUp},
			complete: true,
		},
		{
			name:     "still downloading",
			torrent:  &qbt.Torrent{Progress: 0.97, State: qbt.TorrentStateDownloading},
			complete: false,
		},
		{
			name:     "full progress but still moving",
			torrent:  &qbt.Torrent{Progress: 1.0, State: qbt.TorrentStateMoving},
			complete: false,
		},
		{
			name:     "full progress but rechecking",
			torrent:  &qbt.Torrent{Progress: 1.0, State: qbt.TorrentStateCheckingDl},
			complete: false,
		},
		{
			name:     "stopped before finishing",
			torrent:  &qbt.Torrent{Progress: 0.5, State: qbt.TorrentStateStoppedDl},
			complete: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.complete, isTorrentComplete(tt.torrent))
		})
	}
}

func TestSeedingMinutes(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("prefers client seeding time", func(t *testing.T) {
		torrent := &qbt.Torrent{SeedingTime: 7200}
		assert.Equal(t, 120, seedingMinutes(torrent, now))
	})

	t.Run("falls back to completion timestamp", func(t *testing.T) {
		torrent := &qbt.Torrent{CompletionOn: now.Add(-90 * time.Minute).Unix()}
		assert.Equal(t, 90, seedingMinutes(torrent, now))
	})

	t.Run("zero when never completed", func(t *testing.T) {
		assert.Equal(t, 0, seedingMinutes(&qbt.Torrent{}, now))
	})
}
