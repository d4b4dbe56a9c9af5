// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aronjanosch/readmeabook/internal/scheduler"
)

func newJobsRouter(t *testing.T) http.Handler {
	t.Helper()

	sched := scheduler.New(nil)
	sched.Register(scheduler.Job{
		Name:  "feeds-sweep",
		Every: time.Hour,
		Run: func(ctx context.Context) (map[string]int, error) {
			return map[string]int{"items": 4, "matched": 1}, nil
		},
	})

	handler := NewJobsHandler(sched)
	r := chi.NewRouter()
	r.Get("/api/jobs", handler.List)
	r.Post("/api/jobs/{name}", handler.Run)
	return r
}

func TestJobsRun(t *testing.T) {
	router := newJobsRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/jobs/feeds-sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	type runResponse struct {
		Success       bool           `json:"success"`
		CorrelationID string         `json:"correlationId"`
		Counts        map[string]int `json:"counts"`
	}
	run := decodeBody[runResponse](t, rec)
	assert.True(t, run.Success)
	assert.NotEmpty(t, run.CorrelationID, "a correlation id is minted when the caller sends none")
	assert.Equal(t, 4, run.Counts["items"])
}

func TestJobsRunEchoesCorrelationID(t *testing.T) {
	router := newJobsRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/jobs/feeds-sweep", map[string]any{
		"correlationId": "feed-evt-123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "feed-evt-123", decodeBody[map[string]any](t, rec)["correlationId"])
}

func TestJobsRunUnknown(t *testing.T) {
	router := newJobsRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/jobs/defrag", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobsList(t *testing.T) {
	router := newJobsRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	jobs := decodeBody[[]scheduler.JobStatus](t, rec)
	require.Len(t, jobs, 1)
	assert.Equal(t, "feeds-sweep", jobs[0].Name)
	assert.Nil(t, jobs[0].LastRun)

	doJSON(t, router, http.MethodPost, "/api/jobs/feeds-sweep", nil)

	rec = doJSON(t, router, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	jobs = decodeBody[[]scheduler.JobStatus](t, rec)
	require.Len(t, jobs, 1)
	require.NotNil(t, jobs[0].LastRun)
	assert.True(t, jobs[0].LastRun.Success)
}
