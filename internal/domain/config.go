// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Config holds the process-level configuration loaded from config.toml and
// environment variables. Runtime-tunable behavior (ranking modifiers, retry
// budgets, sweep intervals) lives in the database settings store instead.
type Config struct {
	Version string

	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	BaseURL string `mapstructure:"baseUrl"`

	LogLevel      string `mapstructure:"logLevel"`
	LogPath       string `mapstructure:"logPath"`
	LogMaxSize    int    `mapstructure:"logMaxSize"`
	LogMaxBackups int    `mapstructure:"logMaxBackups"`

	DataDir    string `mapstructure:"dataDir"`
	LibraryDir string `mapstructure:"libraryDir"`

	CheckForUpdates bool `mapstructure:"checkForUpdates"`
	PprofEnabled    bool `mapstructure:"pprofEnabled"`

	MetricsEnabled        bool   `mapstructure:"metricsEnabled"`
	MetricsHost           string `mapstructure:"metricsHost"`
	MetricsPort           int    `mapstructure:"metricsPort"`
	MetricsBasicAuthUsers string `mapstructure:"metricsBasicAuthUsers"`

	QbittorrentURL      string `mapstructure:"qbittorrentUrl"`
	QbittorrentUsername string `mapstructure:"qbittorrentUsername"`
	QbittorrentPassword string `mapstructure:"qbittorrentPassword"`
	QbittorrentCategory string `mapstructure:"qbittorrentCategory"`

	SabnzbdURL      string `mapstructure:"sabnzbdUrl"`
	SabnzbdAPIKey   string `mapstructure:"sabnzbdApiKey"`
	SabnzbdCategory string `mapstructure:"sabnzbdCategory"`

	ProwlarrURL    string `mapstructure:"prowlarrUrl"`
	ProwlarrAPIKey string `mapstructure:"prowlarrApiKey"`

	AudiobookshelfURL    string `mapstructure:"audiobookshelfUrl"`
	AudiobookshelfAPIKey string `mapstructure:"audiobookshelfApiKey"`

	NotificationsURL string `mapstructure:"notificationsUrl"`

	PostImportCommand        string   `mapstructure:"postImportCommand"`
	ExternalProgramAllowList []string `mapstructure:"externalProgramAllowList"`
}
