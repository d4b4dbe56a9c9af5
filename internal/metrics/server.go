// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// MetricsServer serves /metrics on its own port so the endpoint never rides
// the session-authenticated API. Basic auth users come in
// "user:bcrypt-hash" form, comma separated; no users means no auth.
type MetricsServer struct {
	manager *MetricsManager
	host    string
	port    int
	users   map[string]string
}

func NewMetricsServer(manager *MetricsManager, host string, port int, basicAuthUsers string) *MetricsServer {
	return &MetricsServer{
		manager: manager,
		host:    host,
		port:    port,
		users:   parseBasicAuthUsers(basicAuthUsers),
	}
}

func (s *MetricsServer) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	log.Info().Str("addr", addr).Bool("basicAuth", len(s.users) > 0).Msg("Starting metrics server")
	return srv.ListenAndServe()
}

func (s *MetricsServer) routes() http.Handler {
	r := chi.NewRouter()
	if len(s.users) > 0 {
		r.Use(s.basicAuth)
	}
	// The default gatherer contributes the Go runtime and process metrics.
	handler := promhttp.HandlerFor(
		prometheus.Gatherers{s.manager.Registry(), prometheus.DefaultGatherer},
		promhttp.HandlerOpts{},
	)
	r.Method(http.MethodGet, "/metrics", handler)
	return r
}

func (s *MetricsServer) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if ok {
			if hash, found := s.users[user]; found {
				if bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)) == nil {
					next.ServeHTTP(w, r)
					return
				}
			}
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="metrics"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

func parseBasicAuthUsers(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	users := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, hash, ok := strings.Cut(entry, ":")
		if !ok || name == "" || hash == "" {
			log.Warn().Str("entry", entry).Msg("Skipping malformed metrics basic auth entry")
			continue
		}
		users[name] = hash
	}
	return users
}
