// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aronjanosch/readmeabook/internal/services/notifications"
)

func TestNewServiceReturnsNoopWhenURLMissing(t *testing.T) {
	svc := notifications.NewService("")
	require.NoError(t, svc.NotifyAvailable(context.Background(), "Project Hail Mary", "Andy Weir"))
	require.NoError(t, svc.TestNotification(context.Background()))
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	type captured struct {
		title    string
		tags     string
		priority string
		body     string
	}

	// Lifecycle events are delivered by a background worker, so the handler
	// hands each captured request back through a channel.
	gotCh := make(chan captured, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotCh <- captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		}
	}))
	defer srv.Close()

	svc := notifications.NewService(srv.URL)

	tests := []struct {
		name           string
		send           func() error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "request submitted",
			send: func() error {
				return svc.NotifyRequestSubmitted(context.Background(), "Project Hail Mary", "Andy Weir", "sam")
			},
			expectTitle:   "ReadMeABook - New Request",
			expectMessage: "📚 New request: Project Hail Mary by Andy Weir (requested by sam)",
			expectTags:    "readmeabook,request,submitted",
		},
		{
			name: "grabbed includes indexer and size",
			send: func() error {
				return svc.NotifyGrabbed(context.Background(), "Project Hail Mary", "Project Hail Mary Unabridged M4B", "AudioBookBay", 629145600)
			},
			expectTitle:   "ReadMeABook - Grabbed",
			expectMessage: "⬇️ Grabbed for Project Hail Mary: Project Hail Mary Unabridged M4B (AudioBookBay, 629 MB)",
			expectTags:    "readmeabook,download,grabbed",
		},
		{
			name: "available",
			send: func() error {
				return svc.NotifyAvailable(context.Background(), "Project Hail Mary", "Andy Weir")
			},
			expectTitle:    "ReadMeABook - Available",
			expectMessage:  "✅ Ready to listen: Project Hail Mary by Andy Weir",
			expectTags:     "readmeabook,library,available",
			expectPriority: "high",
		},
		{
			name: "retries exhausted",
			send: func() error {
				return svc.NotifyRetriesExhausted(context.Background(), "Project Hail Mary", "no audio files found")
			},
			expectTitle:    "ReadMeABook - Needs Attention",
			expectMessage:  "⚠️ Import retries exhausted for Project Hail Mary: no audio files found",
			expectTags:     "readmeabook,import,warn",
			expectPriority: "high",
		},
		{
			name: "failed",
			send: func() error {
				return svc.NotifyFailed(context.Background(), "Project Hail Mary", "download removed from client")
			},
			expectTitle:    "ReadMeABook - Failed",
			expectMessage:  "❌ Request failed: Project Hail Mary: download removed from client",
			expectTags:     "readmeabook,request,failed",
			expectPriority: "high",
		},
		{
			name:           "test notification",
			send:           func() error { return svc.TestNotification(context.Background()) },
			expectTitle:    "ReadMeABook - Test",
			expectMessage:  "🧪 Notification system test",
			expectTags:     "readmeabook,test",
			expectPriority: "low",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.send())

			var got captured
			select {
			case got = <-gotCh:
			case <-time.After(5 * time.Second):
				t.Fatal("notification was never delivered")
			}
			assert.Equal(t, tt.expectTitle, got.title)
			assert.Equal(t, tt.expectMessage, got.body)
			assert.Equal(t, tt.expectTags, got.tags)
			assert.Equal(t, tt.expectPriority, got.priority)
		})
	}
}

func TestNtfyLifecycleEventsNeverBlock(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	svc := notifications.NewService(srv.URL)

	// The worker is stuck on the first send, so later events pile up and
	// overflow the queue. Every dispatch must still return immediately.
	for i := 0; i < 200; i++ {
		require.NoError(t, svc.NotifyFailed(context.Background(), "Project Hail Mary", "download removed from client"))
	}
}

func TestNtfyServiceSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic not found", http.StatusNotFound)
	}))
	defer srv.Close()

	svc := notifications.NewService(srv.URL)
	err := svc.TestNotification(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
