// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package notifications delivers request lifecycle events via ntfy.
//
// The service publishes to the configured ntfy topic URL and degrades to a
// no-op when notifications are not configured, so callers never need to
// check whether notifications are enabled. Lifecycle events are
// fire-and-forget: they are queued for a delivery worker and never block
// the calling pipeline. Only TestNotification sends inline, so the settings
// test endpoint can report delivery errors to the operator.
package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/aronjanosch/readmeabook/internal/buildinfo"
)

// Service is the notification surface exposed to the lifecycle services.
// Lifecycle events are dispatched fire-and-forget; only TestNotification
// reports delivery errors to the caller.
type Service interface {
	NotifyRequestSubmitted(ctx context.Context, title, author, username string) error
	NotifyGrabbed(ctx context.Context, title, releaseName, indexer string, sizeBytes int64) error
	NotifyAvailable(ctx context.Context, title, author string) error
	NotifyRetriesExhausted(ctx context.Context, title, reason string) error
	NotifyFailed(ctx context.Context, title, reason string) error
	TestNotification(ctx context.Context) error
}

const (
	queueDepth  = 64
	sendTimeout = 10 * time.Second
)

// NewService builds an ntfy-backed service for the given topic URL.
// An empty URL returns a noop implementation.
func NewService(topicURL string) Service {
	topicURL = strings.TrimSpace(topicURL)
	if topicURL == "" {
		return noopService{}
	}
	s := &ntfyService{
		endpoint: topicURL,
		client:   &http.Client{Timeout: sendTimeout},
		queue:    make(chan payload, queueDepth),
	}
	go s.deliver()
	return s
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	queue    chan payload
}

// enqueue hands a payload to the delivery worker without blocking the
// caller. A saturated queue means ntfy has been slow or unreachable for a
// while; the event is dropped rather than stalling the request pipeline.
func (n *ntfyService) enqueue(data payload) {
	select {
	case n.queue <- data:
	default:
		log.Warn().Str("title", data.title).Msg("Notification queue full, dropping event")
	}
}

// deliver drains the queue for the life of the process. Sends run on a
// detached context so a caller that has already returned does not cancel
// its own notification.
func (n *ntfyService) deliver() {
	for data := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := n.send(ctx, data); err != nil {
			log.Warn().Err(err).Str("title", data.title).Msg("Notification delivery failed")
		}
		cancel()
	}
}

func (n *ntfyService) NotifyRequestSubmitted(_ context.Context, title, author, username string) error {
	title = strings.TrimSpace(title)
	message := fmt.Sprintf("📚 New request: %s by %s", title, strings.TrimSpace(author))
	if username = strings.TrimSpace(username); username != "" {
		message = fmt.Sprintf("%s (requested by %s)", message, username)
	}
	n.enqueue(payload{
		title:   "ReadMeABook - New Request",
		message: message,
		tags:    []string{"readmeabook", "request", "submitted"},
	})
	return nil
}

func (n *ntfyService) NotifyGrabbed(_ context.Context, title, releaseName, indexer string, sizeBytes int64) error {
	message := fmt.Sprintf("⬇️ Grabbed for %s: %s", strings.TrimSpace(title), strings.TrimSpace(releaseName))
	details := make([]string, 0, 2)
	if indexer = strings.TrimSpace(indexer); indexer != "" {
		details = append(details, indexer)
	}
	if sizeBytes > 0 {
		details = append(details, humanize.Bytes(uint64(sizeBytes)))
	}
	if len(details) > 0 {
		message = fmt.Sprintf("%s (%s)", message, strings.Join(details, ", "))
	}
	n.enqueue(payload{
		title:   "ReadMeABook - Grabbed",
		message: message,
		tags:    []string{"readmeabook", "download", "grabbed"},
	})
	return nil
}

func (n *ntfyService) NotifyAvailable(_ context.Context, title, author string) error {
	n.enqueue(payload{
		title:    "ReadMeABook - Available",
		message:  fmt.Sprintf("✅ Ready to listen: %s by %s", strings.TrimSpace(title), strings.TrimSpace(author)),
		tags:     []string{"readmeabook", "library", "available"},
		priority: "high",
	})
	return nil
}

func (n *ntfyService) NotifyRetriesExhausted(_ context.Context, title, reason string) error {
	message := fmt.Sprintf("⚠️ Import retries exhausted for %s", strings.TrimSpace(title))
	if reason = strings.TrimSpace(reason); reason != "" {
		message = fmt.Sprintf("%s: %s", message, reason)
	}
	n.enqueue(payload{
		title:    "ReadMeABook - Needs Attention",
		message:  message,
		tags:     []string{"readmeabook", "import", "warn"},
		priority: "high",
	})
	return nil
}

func (n *ntfyService) NotifyFailed(_ context.Context, title, reason string) error {
	message := fmt.Sprintf("❌ Request failed: %s", strings.TrimSpace(title))
	if reason = strings.TrimSpace(reason); reason != "" {
		message = fmt.Sprintf("%s: %s", message, reason)
	}
	n.enqueue(payload{
		title:    "ReadMeABook - Failed",
		message:  message,
		tags:     []string{"readmeabook", "request", "failed"},
		priority: "high",
	})
	return nil
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "ReadMeABook - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"readmeabook", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyRequestSubmitted(context.Context, string, string, string) error { return nil }
func (noopService) NotifyGrabbed(context.Context, string, string, string, int64) error   { return nil }
func (noopService) NotifyAvailable(context.Context, string, string) error                { return nil }
func (noopService) NotifyRetriesExhausted(context.Context, string, string) error         { return nil }
func (noopService) NotifyFailed(context.Context, string, string) error                   { return nil }
func (noopService) TestNotification(context.Context) error                               { return nil }
