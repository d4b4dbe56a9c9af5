// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/aronjanosch/readmeabook/internal/api"
	"github.com/aronjanosch/readmeabook/internal/buildinfo"
	"github.com/aronjanosch/readmeabook/internal/config"
	"github.com/aronjanosch/readmeabook/internal/database"
	"github.com/aronjanosch/readmeabook/internal/domain"
	"github.com/aronjanosch/readmeabook/internal/downloads"
	"github.com/aronjanosch/readmeabook/internal/metrics"
	"github.com/aronjanosch/readmeabook/internal/models"
	"github.com/aronjanosch/readmeabook/internal/scheduler"
	"github.com/aronjanosch/readmeabook/internal/services/acquisition"
	"github.com/aronjanosch/readmeabook/internal/services/feeds"
	"github.com/aronjanosch/readmeabook/internal/services/indexer"
	"github.com/aronjanosch/readmeabook/internal/services/library"
	"github.com/aronjanosch/readmeabook/internal/services/notifications"
	"github.com/aronjanosch/readmeabook/internal/services/search"
	"github.com/aronjanosch/readmeabook/internal/services/seeding"
	"github.com/aronjanosch/readmeabook/internal/update"
	"github.com/aronjanosch/readmeabook/pkg/audiobookshelf"
	"github.com/aronjanosch/readmeabook/pkg/torznab"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "readmeabook",
		Short: "Audiobook request automation",
		Long: `readmeabook - automated audiobook requests: searches indexers, ranks
releases, drives the download clients and organizes finished books into
the library.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand(buildinfo.Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())
	rootCmd.AddCommand(RunHealthcheckCommand())
	rootCmd.AddCommand(RunUpdateCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
		pprofFlag bool
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/readmeabook/ or %APPDATA%\\readmeabook\\). For backward compatibility, can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for database and other files (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")
	command.Flags().BoolVar(&pprofFlag, "pprof", false, "enable pprof server on :6060")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(configDir, dataDir, logPath, pprofFlag)
		app.runServer()
	}

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of readmeabook",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the server.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/readmeabook/config.toml
- Windows: %APPDATA%\readmeabook\config.toml

You can specify either a directory path or a direct file path:
- Directory: readmeabook generate-config --config-dir /path/to/config/
- File: readmeabook generate-config --config-dir /path/to/myconfig.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var configPath string
			if configDir != "" {
				if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
					configPath = configDir
				} else if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
					configPath = configDir
				} else {
					configPath = filepath.Join(configDir, "config.toml")
				}
			} else {
				defaultDir := config.GetDefaultConfigDir()
				configPath = filepath.Join(defaultDir, "config.toml")
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

func RunHealthcheckCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check that a running server answers on its health endpoint",
		Long: `Check that a running server answers on its health endpoint.

Intended as a container HEALTHCHECK: exits zero when the server responds
with 200, non-zero otherwise. Reads the same configuration as 'serve' to
find the listen address.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(configDir, buildinfo.Version)
			if err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			host := cfg.Config.Host
			if host == "" || host == "0.0.0.0" || host == "::" {
				host = "localhost"
			}
			url := fmt.Sprintf("http://%s/health", net.JoinHostPort(host, strconv.Itoa(cfg.Config.Port)))

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			req.Header.Set("User-Agent", buildinfo.UserAgent)

			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("health endpoint unreachable: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("health endpoint returned %s", resp.Status)
			}

			cmd.Println("OK")
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

func RunUpdateCommand() *cobra.Command {
	var command = &cobra.Command{
		Use:                   "update",
		Short:                 "Update readmeabook",
		Long:                  `Update readmeabook to the latest version.`,
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			updater := update.NewUpdater(update.Config{
				Repository: update.Repository,
				Version:    buildinfo.Version,
			})
			return updater.Run(cmd.Context())
		},
	}

	command.SetUsageTemplate(`Usage:
  {{.CommandPath}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}
`)

	return command
}

type Application struct {
	configDir string
	dataDir   string
	logPath   string
	pprofFlag bool
}

func NewApplication(configDir, dataDir, logPath string, pprofFlag bool) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
		pprofFlag: pprofFlag,
	}
}

func (app *Application) runServer() {
	// Initialize configuration
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	// Override with CLI flags if provided
	if app.dataDir != "" {
		os.Setenv("READMEABOOK__DATA_DIR", app.dataDir)
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		os.Setenv("READMEABOOK__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}

	if app.pprofFlag {
		cfg.Config.PprofEnabled = true
	}

	cfg.ApplyLogConfig()

	log.Info().Str("version", buildinfo.Version).Msg("Starting readmeabook")

	if cfg.Config.LibraryDir == "" {
		log.Fatal().Msg("libraryDir is not configured; imports have nowhere to organize books into")
	}
	if cfg.Config.ProwlarrURL == "" {
		log.Warn().Msg("Prowlarr is not configured; searches and feed sweeps will fail until it is")
	}
	if cfg.Config.QbittorrentURL == "" && cfg.Config.SabnzbdURL == "" {
		log.Warn().Msg("No download client configured; grabs will fail until qBittorrent or SABnzbd is set up")
	}
	if cfg.Config.AudiobookshelfURL == "" {
		log.Warn().Msg("Audiobookshelf is not configured; downloaded books will not be verified against the library")
	}

	// Initialize database
	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	// Initialize stores
	requestStore := models.NewRequestStore(db)
	audiobookStore := models.NewAudiobookStore(db)
	userStore := models.NewUserStore(db)
	historyStore := models.NewDownloadHistoryStore(db)
	indexerStore := models.NewIndexerStore(db)
	settingsStore := models.NewSettingsStore(db)
	queueStore := models.NewSearchQueueStore(db)
	feedItemStore := models.NewFeedItemStore(db)

	// Outbound clients
	aggregator := torznab.NewClient(torznab.Config{
		Host:      cfg.Config.ProwlarrURL,
		APIKey:    cfg.Config.ProwlarrAPIKey,
		UserAgent: buildinfo.UserAgent,
	})

	downloadManager := downloads.NewManager(downloads.Config{
		QbitHost:        cfg.Config.QbittorrentURL,
		QbitUsername:    cfg.Config.QbittorrentUsername,
		QbitPassword:    cfg.Config.QbittorrentPassword,
		QbitCategory:    cfg.Config.QbittorrentCategory,
		SabnzbdHost:     cfg.Config.SabnzbdURL,
		SabnzbdAPIKey:   cfg.Config.SabnzbdAPIKey,
		SabnzbdCategory: cfg.Config.SabnzbdCategory,
		UserAgent:       buildinfo.UserAgent,
	})

	libraryBackend := audiobookshelf.NewClient(audiobookshelf.Config{
		Host:      cfg.Config.AudiobookshelfURL,
		APIKey:    cfg.Config.AudiobookshelfAPIKey,
		UserAgent: buildinfo.UserAgent,
	})

	notifier := notifications.NewService(cfg.Config.NotificationsURL)

	// Initialize services
	indexerService := indexer.NewService(indexerStore, aggregator)
	searchService := search.NewService(requestStore, queueStore, historyStore, settingsStore, indexerService, downloadManager, notifier)
	libraryService := library.NewService(library.Config{}, requestStore, audiobookStore, libraryBackend, notifier)

	acquisitionService := acquisition.NewService(
		acquisition.Config{
			LibraryRoot:       cfg.Config.LibraryDir,
			PostImportCommand: cfg.Config.PostImportCommand,
			AllowedPrograms:   cfg.Config.ExternalProgramAllowList,
		},
		afero.NewOsFs(),
		requestStore,
		audiobookStore,
		historyStore,
		indexerStore,
		downloadManager,
		libraryService,
		notifier,
	)

	downloadMonitor := downloads.NewMonitor(requestStore, historyStore, downloadManager, acquisitionService, notifier)
	feedsService := feeds.NewService(requestStore, indexerStore, feedItemStore, settingsStore, indexerService, searchService)
	seedingService := seeding.NewService(requestStore, historyStore, indexerStore, settingsStore, downloadManager)

	updateService := update.NewService(log.Logger, cfg.Config.CheckForUpdates, buildinfo.Version, buildinfo.UserAgent)
	cfg.RegisterReloadListener(func(conf *domain.Config) {
		updateService.SetEnabled(conf.CheckForUpdates)
	})
	updateCtx, cancelUpdate := context.WithCancel(context.Background())
	defer cancelUpdate()
	updateService.Start(updateCtx)

	var metricsManager *metrics.MetricsManager
	if cfg.Config.MetricsEnabled {
		metricsManager = metrics.NewMetricsManager(requestStore, queueStore)
	}

	sched := scheduler.New(metricsManager)
	for _, job := range scheduler.StandardJobs(scheduler.Deps{
		Search:   searchService,
		Monitor:  downloadMonitor,
		Feeds:    feedsService,
		Seeding:  seedingService,
		Library:  libraryService,
		Imports:  acquisitionService,
		Indexers: indexerService,
		Settings: settingsStore,
	}) {
		sched.Register(job)
	}

	// Start server in goroutine
	httpServer := api.NewServer(&api.Dependencies{
		Config:             cfg,
		Version:            buildinfo.Version,
		DB:                 db,
		RequestStore:       requestStore,
		AudiobookStore:     audiobookStore,
		UserStore:          userStore,
		HistoryStore:       historyStore,
		IndexerStore:       indexerStore,
		SettingsStore:      settingsStore,
		SearchService:      searchService,
		AcquisitionService: acquisitionService,
		Notifier:           notifier,
		UpdateService:      updateService,
		Scheduler:          sched,
	})

	errorChannel := make(chan error)
	serverReady := make(chan struct{}, 1)
	go func() {
		if err := httpServer.ListenAndServeReady(serverReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorChannel <- err
		}
	}()

	schedCtx, cancelSched := context.WithCancel(context.Background())
	defer cancelSched()

	select {
	case <-serverReady:
		// The background pipeline only starts once the API is reachable, so
		// a port clash never leaves half the system running.
		sched.Start(schedCtx)
	case err := <-errorChannel:
		log.Fatal().Err(err).Msg("failed to start HTTP server")
	}

	if cfg.Config.MetricsEnabled {
		// Start metrics server on separate port
		go func() {
			metricsServer := metrics.NewMetricsServer(
				metricsManager,
				cfg.Config.MetricsHost,
				cfg.Config.MetricsPort,
				cfg.Config.MetricsBasicAuthUsers,
			)

			errorChannel <- metricsServer.ListenAndServe()
		}()
	}

	// Start profiling server if enabled
	if cfg.Config.PprofEnabled {
		go func() {
			log.Info().Msg("Starting pprof server on :6060")
			log.Info().Msg("Access profiling at: http://localhost:6060/debug/pprof/")
			if err := http.ListenAndServe(":6060", nil); err != nil {
				log.Error().Err(err).Msg("Profiling server failed")
			}
		}()
	}

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down server", sig.String())
	case err := <-errorChannel:
		log.Error().Err(err).Msg("got unexpected error from server")
	}

	// Stop background jobs before the listener so in-flight passes finish
	// against a live database.
	sched.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("got error during graceful http shutdown")

		os.Exit(1)
	}

	os.Exit(0)
}
