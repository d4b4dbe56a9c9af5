// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aronjanosch/readmeabook/internal/database"
	"github.com/aronjanosch/readmeabook/internal/metrics"
	"github.com/aronjanosch/readmeabook/internal/models"
)

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestRunNow_ReturnsCountsAndCorrelationID(t *testing.T) {
	s := New(nil)
	s.Register(Job{
		Name:  "demo",
		Every: time.Hour,
		Run: func(ctx context.Context) (map[string]int, error) {
			return map[string]int{"checked": 2, "grabbed": 1}, nil
		},
	})

	result, err := s.RunNow(context.Background(), "demo", "corr-123")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "demo", result.Job)
	assert.Equal(t, "corr-123", result.CorrelationID)
	assert.Equal(t, map[string]int{"checked": 2, "grabbed": 1}, result.Counts)
	assert.Empty(t, result.Message)
}

func TestRunNow_GeneratesCorrelationID(t *testing.T) {
	s := New(nil)
	s.Register(Job{
		Name:  "demo",
		Every: time.Hour,
		Run: func(ctx context.Context) (map[string]int, error) {
			return nil, nil
		},
	})

	result, err := s.RunNow(context.Background(), "demo", "")
	require.NoError(t, err)

	_, parseErr := uuid.Parse(result.CorrelationID)
	assert.NoError(t, parseErr, "generated correlation id should be a uuid")
}

func TestRunNow_UnknownJob(t *testing.T) {
	s := New(nil)

	_, err := s.RunNow(context.Background(), "nope", "")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestRunNow_SecondCallerGetsAlreadyRunning(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	var startedOnce sync.Once
	s := New(nil)
	s.Register(Job{
		Name:  "slow",
		Every: time.Hour,
		Run: func(ctx context.Context) (map[string]int, error) {
			startedOnce.Do(func() { close(started) })
			<-release
			return map[string]int{"checked": 1}, nil
		},
	})

	go func() {
		defer close(done)
		_, err := s.RunNow(context.Background(), "slow", "first")
		assert.NoError(t, err)
	}()

	waitSignal(t, started, "first run to start")

	second, err := s.RunNow(context.Background(), "slow", "second")
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.Equal(t, "already running", second.Message)
	assert.Equal(t, "second", second.CorrelationID)

	close(release)
	waitSignal(t, done, "first run to finish")

	// The guard must clear once the run returns.
	again, err := s.RunNow(context.Background(), "slow", "third")
	require.NoError(t, err)
	assert.True(t, again.Success)
}

func TestRunNow_FailureRecordsMessage(t *testing.T) {
	s := New(nil)
	s.Register(Job{
		Name:  "broken",
		Every: time.Hour,
		Run: func(ctx context.Context) (map[string]int, error) {
			return map[string]int{"errors": 1}, errors.New("indexer unreachable")
		},
	})

	result, err := s.RunNow(context.Background(), "broken", "")
	require.NoError(t, err, "a failed run is a result, not a RunNow error")

	assert.False(t, result.Success)
	assert.Equal(t, "indexer unreachable", result.Message)
	assert.Equal(t, 1, result.Counts["errors"])

	statuses := s.List()
	require.Len(t, statuses, 1)
	require.NotNil(t, statuses[0].LastRun)
	assert.False(t, statuses[0].LastRun.Success)
}

func TestList_TracksLastRunInRegistrationOrder(t *testing.T) {
	s := New(nil)
	s.Register(Job{Name: "first", Every: time.Minute, Run: func(ctx context.Context) (map[string]int, error) {
		return map[string]int{"checked": 7}, nil
	}})
	s.Register(Job{Name: "second", Every: time.Hour, Run: func(ctx context.Context) (map[string]int, error) {
		return nil, nil
	}})

	statuses := s.List()
	require.Len(t, statuses, 2)
	assert.Equal(t, "first", statuses[0].Name)
	assert.Equal(t, "second", statuses[1].Name)
	assert.Nil(t, statuses[0].LastRun)
	assert.Nil(t, statuses[1].LastRun)

	_, err := s.RunNow(context.Background(), "first", "")
	require.NoError(t, err)

	statuses = s.List()
	require.NotNil(t, statuses[0].LastRun)
	assert.Equal(t, 7, statuses[0].LastRun.Counts["checked"])
	assert.Nil(t, statuses[1].LastRun)
}

func TestStart_RunsImmediatelyAndOnWake(t *testing.T) {
	runs := make(chan struct{}, 8)
	wake := make(chan struct{}, 1)

	s := New(nil)
	s.Register(Job{
		Name:  "waker",
		Every: time.Hour,
		Wake:  wake,
		Run: func(ctx context.Context) (map[string]int, error) {
			runs <- struct{}{}
			return nil, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	waitSignal(t, runs, "initial run")

	wake <- struct{}{}
	waitSignal(t, runs, "wake-triggered run")
}

func TestStop_WaitsForInFlightRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	stopped := make(chan struct{})

	s := New(nil)
	s.Register(Job{
		Name:  "slow",
		Every: time.Hour,
		Run: func(ctx context.Context) (map[string]int, error) {
			close(started)
			<-release
			return nil, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	waitSignal(t, started, "run to start")

	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a run was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	waitSignal(t, stopped, "Stop to return")
}

func gatherFamily(t *testing.T, m *metrics.MetricsManager, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func counterValue(t *testing.T, m *metrics.MetricsManager, name string) float64 {
	t.Helper()
	family := gatherFamily(t, m, name)
	require.NotNil(t, family, "expected metric family %s", name)
	require.Len(t, family.GetMetric(), 1)
	return family.GetMetric()[0].GetCounter().GetValue()
}

func TestScheduler_RecordsPipelineMetrics(t *testing.T) {
	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	manager := metrics.NewMetricsManager(models.NewRequestStore(db), models.NewSearchQueueStore(db))

	s := New(manager)
	s.Register(Job{
		Name:  JobSearchQueue,
		Every: time.Hour,
		Run: func(ctx context.Context) (map[string]int, error) {
			return map[string]int{"checked": 3, "grabbed": 1, "noMatch": 2, "failed": 0}, nil
		},
	})

	_, err = s.RunNow(context.Background(), JobSearchQueue, "")
	require.NoError(t, err)

	assert.Equal(t, 3.0, counterValue(t, manager, "readmeabook_searches_total"))
	assert.Equal(t, 1.0, counterValue(t, manager, "readmeabook_grabs_total"))
	assert.Equal(t, 2.0, counterValue(t, manager, "readmeabook_search_no_match_total"))

	runsFamily := gatherFamily(t, manager, "readmeabook_job_runs_total")
	require.NotNil(t, runsFamily)
	require.Len(t, runsFamily.GetMetric(), 1)
	labels := map[string]string{}
	for _, pair := range runsFamily.GetMetric()[0].GetLabel() {
		labels[pair.GetName()] = pair.GetValue()
	}
	assert.Equal(t, JobSearchQueue, labels["job"])
	assert.Equal(t, "ok", labels["result"])
	assert.Equal(t, 1.0, runsFamily.GetMetric()[0].GetCounter().GetValue())
}

func TestFeedSweepInterval_FollowsSettings(t *testing.T) {
	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := models.NewSettingsStore(db)
	intervalFn := feedSweepInterval(store)

	assert.Equal(t, 15*time.Minute, intervalFn(), "defaults should yield the default sweep interval")

	ctx := context.Background()
	settings, err := store.Get(ctx)
	require.NoError(t, err)
	settings.FeedSweepIntervalMinutes = 5
	_, err = store.Update(ctx, settings)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, intervalFn())
}
