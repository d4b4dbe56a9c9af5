// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package middleware carries the HTTP middleware for the API server. The
// generic pieces come from chi; the request logger is zerolog-backed.
package middleware

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// RequestID tags each request with an id, surfaced by the logger.
func RequestID(next http.Handler) http.Handler {
	return chimiddleware.RequestID(next)
}

// RealIP resolves the client address from proxy headers.
func RealIP(next http.Handler) http.Handler {
	return chimiddleware.RealIP(next)
}

// Recoverer turns handler panics into 500s instead of dropped connections.
func Recoverer(next http.Handler) http.Handler {
	return chimiddleware.Recoverer(next)
}

// ThrottleBacklog bounds concurrent requests with a waiting backlog.
func ThrottleBacklog(limit, backlogLimit int, backlogTimeout time.Duration) func(http.Handler) http.Handler {
	return chimiddleware.ThrottleBacklog(limit, backlogLimit, backlogTimeout)
}
