// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aronjanosch/readmeabook/internal/api/handlers"
	"github.com/aronjanosch/readmeabook/internal/api/middleware"
	"github.com/aronjanosch/readmeabook/internal/config"
	"github.com/aronjanosch/readmeabook/internal/database"
	"github.com/aronjanosch/readmeabook/internal/models"
	"github.com/aronjanosch/readmeabook/internal/scheduler"
	"github.com/aronjanosch/readmeabook/internal/services/acquisition"
	"github.com/aronjanosch/readmeabook/internal/services/notifications"
	"github.com/aronjanosch/readmeabook/internal/services/search"
	"github.com/aronjanosch/readmeabook/internal/update"
)

type Server struct {
	server  *http.Server
	logger  zerolog.Logger
	config  *config.AppConfig
	version string

	db                 *database.DB
	requestStore       *models.RequestStore
	audiobookStore     *models.AudiobookStore
	userStore          *models.UserStore
	historyStore       *models.DownloadHistoryStore
	indexerStore       *models.IndexerStore
	settingsStore      *models.SettingsStore
	searchService      *search.Service
	acquisitionService *acquisition.Service
	notifier           notifications.Service
	updateService      *update.Service
	scheduler          *scheduler.Scheduler
}

type Dependencies struct {
	Config  *config.AppConfig
	Version string

	DB                 *database.DB
	RequestStore       *models.RequestStore
	AudiobookStore     *models.AudiobookStore
	UserStore          *models.UserStore
	HistoryStore       *models.DownloadHistoryStore
	IndexerStore       *models.IndexerStore
	SettingsStore      *models.SettingsStore
	SearchService      *search.Service
	AcquisitionService *acquisition.Service
	Notifier           notifications.Service
	UpdateService      *update.Service
	Scheduler          *scheduler.Scheduler
}

func NewServer(deps *Dependencies) *Server {
	return &Server{
		server: &http.Server{
			ReadHeaderTimeout: time.Second * 15,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      120 * time.Second,
			IdleTimeout:       180 * time.Second,
		},
		logger:             log.Logger.With().Str("module", "api").Logger(),
		config:             deps.Config,
		version:            deps.Version,
		db:                 deps.DB,
		requestStore:       deps.RequestStore,
		audiobookStore:     deps.AudiobookStore,
		userStore:          deps.UserStore,
		historyStore:       deps.HistoryStore,
		indexerStore:       deps.IndexerStore,
		settingsStore:      deps.SettingsStore,
		searchService:      deps.SearchService,
		acquisitionService: deps.AcquisitionService,
		notifier:           deps.Notifier,
		updateService:      deps.UpdateService,
		scheduler:          deps.Scheduler,
	}
}

func (s *Server) ListenAndServe() error {
	return s.open(nil)
}

// ListenAndServeReady behaves like ListenAndServe but signals once the listener is active.
func (s *Server) ListenAndServeReady(ready chan<- struct{}) error {
	return s.open(ready)
}

func (s *Server) open(ready chan<- struct{}) error {
	addr := fmt.Sprintf("%s:%d", s.config.Config.Host, s.config.Config.Port)

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto, ready)
		if err == nil {
			return nil
		}

		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msgf("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol string, ready chan<- struct{}) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	host := listener.Addr().String()
	// Replace 0.0.0.0 or :: with localhost for clickable links
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}
	clickableURL := fmt.Sprintf("http://%s%s", host, s.config.Config.BaseURL)

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Str("base_url", s.config.Config.BaseURL).
		Msgf("Starting API server - Open: %s", clickableURL)

	handler, err := s.Handler()
	if err != nil {
		listener.Close()
		return fmt.Errorf("build API router: %w", err)
	}

	s.server.Handler = handler

	if ready != nil {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) Handler() (*chi.Mux, error) {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID) // Must be before logger to capture request ID
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	// HTTP compression - handles gzip, brotli, zstd, deflate automatically
	compressor, err := httpcompression.DefaultAdapter(
		httpcompression.MinSize(1024),
		httpcompression.GzipCompressionLevel(2),
		httpcompression.Prefer(httpcompression.PreferServer),
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	corsMiddleware := cors.New(cors.Options{
		AllowCredentials: true,
		AllowedMethods:   []string{"HEAD", "OPTIONS", "GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowOriginFunc:  func(origin string) bool { return true },
		MaxAge:           300,
		Debug:            false,
	})
	r.Use(corsMiddleware.Handler)

	// Create handlers
	healthHandler := handlers.NewHealthHandler(s.db)
	requestsHandler := handlers.NewRequestsHandler(
		s.requestStore, s.audiobookStore, s.userStore, s.historyStore,
		s.settingsStore, s.searchService, s.acquisitionService, s.notifier,
	)
	indexersHandler := handlers.NewIndexersHandler(s.indexerStore)
	settingsHandler := handlers.NewSettingsHandler(s.settingsStore)
	jobsHandler := handlers.NewJobsHandler(s.scheduler)
	versionHandler := handlers.NewVersionHandler(s.updateService)

	// API routes
	apiRouter := chi.NewRouter()

	apiRouter.Group(func(r chi.Router) {
		r.Use(middleware.Logger(s.logger))

		r.Get("/version", versionHandler.GetVersion)
		r.Get("/version/latest", versionHandler.GetLatestVersion)

		r.Route("/requests", func(r chi.Router) {
			// Request intake is the unauthenticated abuse surface;
			// bound it the way auth endpoints usually are.
			r.With(middleware.ThrottleBacklog(5, 10, time.Second)).Post("/", requestsHandler.Create)
			r.Get("/", requestsHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", requestsHandler.Get)
				r.Delete("/", requestsHandler.Delete)
				r.Post("/approve", requestsHandler.Approve)
				r.Post("/deny", requestsHandler.Deny)
				r.Post("/cancel", requestsHandler.Cancel)
				r.Post("/retry", requestsHandler.Retry)
				r.Post("/search", requestsHandler.SearchNow)
				r.Get("/candidates", requestsHandler.Candidates)
				r.Post("/grab", requestsHandler.Grab)
			})
		})

		r.Route("/indexers", func(r chi.Router) {
			r.Get("/", indexersHandler.List)
			r.Post("/", indexersHandler.Create)
			r.Put("/{id}", indexersHandler.Update)
			r.Delete("/{id}", indexersHandler.Delete)
		})

		r.Get("/settings", settingsHandler.Get)
		r.Put("/settings", settingsHandler.Update)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", jobsHandler.List)
			r.Post("/{name}", jobsHandler.Run)
		})

		r.Get("/openapi.json", handleOpenAPI)
	})

	baseURL := s.config.Config.BaseURL
	if baseURL == "" {
		baseURL = "/"
	}

	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/healthz/readiness", healthHandler.HandleReady)
	r.Get("/healthz/liveness", healthHandler.HandleLiveness)

	r.Mount(baseURL+"api", apiRouter)

	if baseURL != "/" {
		r.Get("/", func(w http.ResponseWriter, request *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("Must use baseUrl: " + s.config.Config.BaseURL + " instead of /"))
		})
	}

	return r, nil
}
