// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package update

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/rs/zerolog/log"
)

// Config identifies the binary the updater replaces.
type Config struct {
	Repository string
	Version    string
}

// Updater swaps the running executable for the latest published release.
type Updater struct {
	cfg Config
}

func NewUpdater(cfg Config) *Updater {
	return &Updater{cfg: cfg}
}

func (u *Updater) Run(ctx context.Context) error {
	latest, found, err := selfupdate.DetectLatest(ctx, selfupdate.ParseSlug(u.cfg.Repository))
	if err != nil {
		return fmt.Errorf("detect latest release: %w", err)
	}
	if !found {
		return fmt.Errorf("no release found for %s/%s in %s", runtime.GOOS, runtime.GOARCH, u.cfg.Repository)
	}

	if latest.LessOrEqual(u.cfg.Version) {
		log.Info().Str("version", u.cfg.Version).Msg("Already running the latest version")
		return nil
	}

	exe, err := selfupdate.ExecutablePath()
	if err != nil {
		return errors.New("could not locate executable path")
	}
	if err := selfupdate.UpdateTo(ctx, latest.AssetURL, latest.AssetName, exe); err != nil {
		return fmt.Errorf("update binary: %w", err)
	}

	log.Info().
		Str("previousVersion", u.cfg.Version).
		Str("version", latest.Version()).
		Msg("Successfully updated")
	return nil
}
