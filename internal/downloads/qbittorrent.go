// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloads

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/anacrolix/torrent/metainfo"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"
)

// tagsOnAddMinVersion is the WebAPI version that accepts a tags field on
// torrents/add.
var tagsOnAddMinVersion = semver.MustParse("2.6.2")

// grabTag marks torrents added by this application so users can tell them
// apart in the qBittorrent UI.
const grabTag = "readmeabook"

type TorrentConfig struct {
	Host     string
	Username string
	Password string
	Category string
	Timeout  time.Duration
}

// TorrentClient wraps the qBittorrent client with the few operations the
// download pipeline needs plus WebAPI capability gating.
type TorrentClient struct {
	*qbt.Client
	category string

	mu                sync.RWMutex
	webAPIVersion     string
	supportsTagsOnAdd bool
}

func NewTorrentClient(ctx context.Context, cfg TorrentConfig) (*TorrentClient, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	qbtClient := qbt.NewClient(qbt.Config{
		Host:     cfg.Host,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  int(timeout.Seconds()),
	})

	if err := qbtClient.LoginCtx(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to qBittorrent: %w", err)
	}

	client := &TorrentClient{
		Client:   qbtClient,
		category: cfg.Category,
	}

	if err := client.RefreshCapabilities(ctx); err != nil {
		log.Warn().Err(err).Str("host", cfg.Host).
			Msg("Failed to read qBittorrent WebAPI version; tagging disabled until refresh")
	}

	log.Debug().
		Str("host", cfg.Host).
		Str("webAPIVersion", client.WebAPIVersion()).
		Bool("supportsTagsOnAdd", client.SupportsTagsOnAdd()).
		Msg("qBittorrent client created")

	return client, nil
}

// RefreshCapabilities fetches the WebAPI version and recalculates feature
// support flags.
func (c *TorrentClient) RefreshCapabilities(ctx context.Context) error {
	version, err := c.Client.GetWebAPIVersionCtx(ctx)
	if err != nil {
		return err
	}

	version = strings.TrimSpace(version)
	if version == "" {
		return fmt.Errorf("web API version is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.webAPIVersion = version

	v, err := semver.NewVersion(version)
	if err != nil {
		log.Warn().Str("webAPIVersion", version).Err(err).
			Msg("Failed to parse qBittorrent WebAPI version; leaving capability flags unchanged")
		return nil
	}
	c.supportsTagsOnAdd = !v.LessThan(tagsOnAddMinVersion)
	return nil
}

func (c *TorrentClient) WebAPIVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.webAPIVersion
}

func (c *TorrentClient) SupportsTagsOnAdd() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsTagsOnAdd
}

// InfoHashFromBytes parses torrent metadata and returns the v1 info hash in
// lowercase hex. The hash identifies the download before the client ever
// sees it, so a failed add can be retried without orphaning state.
func InfoHashFromBytes(torrentBytes []byte) (string, error) {
	mi, err := metainfo.Load(bytes.NewReader(torrentBytes))
	if err != nil {
		return "", fmt.Errorf("parse torrent metadata: %w", err)
	}
	return mi.HashInfoBytes().HexString(), nil
}

// Add submits raw torrent bytes and returns the info hash.
func (c *TorrentClient) Add(ctx context.Context, torrentBytes []byte) (string, error) {
	hash, err := InfoHashFromBytes(torrentBytes)
	if err != nil {
		return "", err
	}

	options := map[string]string{}
	if c.category != "" {
		options["category"] = c.category
	}
	if c.SupportsTagsOnAdd() {
		options["tags"] = grabTag
	}

	if err := c.AddTorrentFromMemoryCtx(ctx, torrentBytes, options); err != nil {
		return "", fmt.Errorf("add torrent: %w", err)
	}
	return hash, nil
}

// Lookup returns the torrent with the given hash, or nil when the client no
// longer knows it.
func (c *TorrentClient) Lookup(ctx context.Context, hash string) (*qbt.Torrent, error) {
	torrents, err := c.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: []string{hash}})
	if err != nil {
		return nil, fmt.Errorf("get torrent %s: %w", hash, err)
	}
	for i := range torrents {
		if strings.EqualFold(torrents[i].Hash, hash) {
			return &torrents[i], nil
		}
	}
	return nil, nil
}

// Delete removes a torrent. Deleting an unknown hash is not an error.
func (c *TorrentClient) Delete(ctx context.Context, hash string, deleteFiles bool) error {
	if err := c.DeleteTorrentsCtx(ctx, []string{hash}, deleteFiles); err != nil {
		return fmt.Errorf("delete torrent %s: %w", hash, err)
	}
	return nil
}

// isTorrentComplete reports whether a torrent has finished downloading.
// Progress alone is not enough: checking and moving states can report 1.0
// while the payload is not yet usable.
func isTorrentComplete(t *qbt.Torrent) bool {
	if t == nil {
		return false
	}
	if t.Progress < 1.0 {
		return false
	}

	switch t.State {
	case qbt.TorrentStateDownloading,
		qbt.TorrentStateMetaDl,
		qbt.TorrentStatePausedDl,
		qbt.TorrentStateStoppedDl,
		qbt.TorrentStateQueuedDl,
		qbt.TorrentStateStalledDl,
		qbt.TorrentStateCheckingDl,
		qbt.TorrentStateForcedDl,
		qbt.TorrentStateCheckingResumeData,
		qbt.TorrentStateAllocating,
		qbt.TorrentStateMoving,
		qbt.TorrentStateUnknown:
		return false
	default:
		return true
	}
}

// seedingMinutes derives how long a torrent has been seeding.
func seedingMinutes(t *qbt.Torrent, now time.Time) int {
	if t == nil {
		return 0
	}
	if t.SeedingTime > 0 {
		return int(t.SeedingTime / 60)
	}
	if t.CompletionOn > 0 {
		completed := time.Unix(t.CompletionOn, 0)
		if now.After(completed) {
			return int(now.Sub(completed).Minutes())
		}
	}
	return 0
}
