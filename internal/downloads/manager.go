// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package downloads drives the torrent and usenet clients behind a single
// protocol-agnostic manager keyed by download handles.
package downloads

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"

	"github.com/aronjanosch/readmeabook/internal/models"
	"github.com/aronjanosch/readmeabook/pkg/sabnzbd"
)

var (
	ErrTorrentNotConfigured = errors.New("downloads: qbittorrent is not configured")
	ErrUsenetNotConfigured  = errors.New("downloads: sabnzbd is not configured")
)

// State of a tracked download.
type State string

const (
	StateDownloading State = "downloading"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	// StateMissing means the client no longer knows the download at all,
	// usually because a user removed it by hand.
	StateMissing State = "missing"
)

// Status is a client-agnostic snapshot of one download.
type Status struct {
	State       State
	Progress    float64
	Name        string
	ContentPath string
	Message     string
}

// SeedInfo describes a torrent for seeding policy decisions.
type SeedInfo struct {
	Exists         bool
	Complete       bool
	SeedingMinutes int
}

type Config struct {
	QbitHost     string
	QbitUsername string
	QbitPassword string
	QbitCategory string

	SabnzbdHost     string
	SabnzbdAPIKey   string
	SabnzbdCategory string

	UserAgent string
}

// Manager dispatches download operations to the client matching the
// handle's protocol. Safe for concurrent use.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	torrent *TorrentClient

	usenet *sabnzbd.Client
}

func NewManager(cfg Config) *Manager {
	m := &Manager{cfg: cfg}
	if cfg.SabnzbdHost != "" {
		m.usenet = sabnzbd.NewClient(sabnzbd.Config{
			Host:      cfg.SabnzbdHost,
			APIKey:    cfg.SabnzbdAPIKey,
			UserAgent: cfg.UserAgent,
		})
	}
	return m
}

// torrentClient connects lazily so a down qBittorrent does not block
// startup; the first grab or poll retries the connection.
func (m *Manager) torrentClient(ctx context.Context) (*TorrentClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.torrent != nil {
		return m.torrent, nil
	}
	if m.cfg.QbitHost == "" {
		return nil, ErrTorrentNotConfigured
	}

	client, err := NewTorrentClient(ctx, TorrentConfig{
		Host:     m.cfg.QbitHost,
		Username: m.cfg.QbitUsername,
		Password: m.cfg.QbitPassword,
		Category: m.cfg.QbitCategory,
	})
	if err != nil {
		return nil, err
	}
	m.torrent = client
	return client, nil
}

// GrabTorrent adds raw torrent bytes and returns a torrent handle.
func (m *Manager) GrabTorrent(ctx context.Context, torrentBytes []byte) (models.DownloadHandle, error) {
	client, err := m.torrentClient(ctx)
	if err != nil {
		return models.DownloadHandle{}, err
	}
	hash, err := client.Add(ctx, torrentBytes)
	if err != nil {
		return models.DownloadHandle{}, err
	}
	return models.TorrentHandle(hash), nil
}

// GrabNZB submits an NZB and returns a usenet handle.
func (m *Manager) GrabNZB(ctx context.Context, nzbData []byte, name string) (models.DownloadHandle, error) {
	if m.usenet == nil {
		return models.DownloadHandle{}, ErrUsenetNotConfigured
	}
	nzoID, err := m.usenet.Submit(ctx, nzbData, name, m.cfg.SabnzbdCategory)
	if err != nil {
		return models.DownloadHandle{}, fmt.Errorf("submit nzb: %w", err)
	}
	return models.UsenetHandle(nzoID), nil
}

// Status reports the current state of the download behind a handle.
func (m *Manager) Status(ctx context.Context, handle models.DownloadHandle) (Status, error) {
	switch handle.Protocol() {
	case models.ProtocolTorrent:
		return m.torrentStatus(ctx, handle)
	case models.ProtocolUsenet:
		return m.usenetStatus(ctx, handle)
	default:
		return Status{}, fmt.Errorf("unknown download protocol %q", handle.Protocol())
	}
}

func (m *Manager) torrentStatus(ctx context.Context, handle models.DownloadHandle) (Status, error) {
	hash, ok := handle.TorrentHash()
	if !ok {
		return Status{}, fmt.Errorf("handle %s carries no torrent hash", handle)
	}

	client, err := m.torrentClient(ctx)
	if err != nil {
		return Status{}, err
	}

	t, err := client.Lookup(ctx, hash)
	if err != nil {
		return Status{}, err
	}
	if t == nil {
		return Status{State: StateMissing, Message: "torrent not found in client"}, nil
	}

	switch t.State {
	case qbt.TorrentStateError, qbt.TorrentStateMissingFiles:
		return Status{
			State:    StateFailed,
			Name:     t.Name,
			Progress: t.Progress * 100,
			Message:  fmt.Sprintf("torrent entered state %s", t.State),
		}, nil
	}

	if isTorrentComplete(t) {
		return Status{
			State:       StateCompleted,
			Progress:    100,
			Name:        t.Name,
			ContentPath: t.ContentPath,
		}, nil
	}

	return Status{State: StateDownloading, Progress: t.Progress * 100, Name: t.Name}, nil
}

func (m *Manager) usenetStatus(ctx context.Context, handle models.DownloadHandle) (Status, error) {
	if m.usenet == nil {
		return Status{}, ErrUsenetNotConfigured
	}
	nzoID, ok := handle.NZBID()
	if !ok {
		return Status{}, fmt.Errorf("handle %s carries no nzb id", handle)
	}

	st, err := m.usenet.GetStatus(ctx, nzoID)
	if errors.Is(err, sabnzbd.ErrNotFound) {
		return Status{State: StateMissing, Message: "job not found in sabnzbd"}, nil
	}
	if err != nil {
		return Status{}, err
	}

	switch st.State {
	case sabnzbd.StateCompleted:
		return Status{State: StateCompleted, Progress: 100, ContentPath: st.Storage}, nil
	case sabnzbd.StateFailed:
		message := st.FailMessage
		if message == "" {
			message = "sabnzbd reported failure"
		}
		return Status{State: StateFailed, Message: message}, nil
	default:
		return Status{State: StateDownloading, Progress: st.Progress}, nil
	}
}

// Remove deletes the download from its client. deleteFiles also removes
// payload data. Removing an already-gone download succeeds.
func (m *Manager) Remove(ctx context.Context, handle models.DownloadHandle, deleteFiles bool) error {
	switch handle.Protocol() {
	case models.ProtocolTorrent:
		hash, ok := handle.TorrentHash()
		if !ok {
			return fmt.Errorf("handle %s carries no torrent hash", handle)
		}
		client, err := m.torrentClient(ctx)
		if err != nil {
			return err
		}
		return client.Delete(ctx, hash, deleteFiles)
	case models.ProtocolUsenet:
		if m.usenet == nil {
			return ErrUsenetNotConfigured
		}
		nzoID, ok := handle.NZBID()
		if !ok {
			return fmt.Errorf("handle %s carries no nzb id", handle)
		}
		return m.usenet.Delete(ctx, nzoID, deleteFiles)
	default:
		return fmt.Errorf("unknown download protocol %q", handle.Protocol())
	}
}

// TorrentSeedInfo reports seeding progress for the reconciler.
func (m *Manager) TorrentSeedInfo(ctx context.Context, hash string) (SeedInfo, error) {
	client, err := m.torrentClient(ctx)
	if err != nil {
		return SeedInfo{}, err
	}

	t, err := client.Lookup(ctx, hash)
	if err != nil {
		return SeedInfo{}, err
	}
	if t == nil {
		return SeedInfo{}, nil
	}

	return SeedInfo{
		Exists:         true,
		Complete:       isTorrentComplete(t),
		SeedingMinutes: seedingMinutes(t, time.Now()),
	}, nil
}
