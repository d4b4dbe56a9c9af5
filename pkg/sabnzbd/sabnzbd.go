// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package sabnzbd is a minimal SABnzbd API client covering NZB submission,
// job status lookup and job removal.
package sabnzbd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound means the job is in neither the queue nor the history.
var ErrNotFound = errors.New("sabnzbd: job not found")

// State is a normalized job state.
type State string

const (
	StateQueued      State = "queued"
	StateDownloading State = "downloading"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Status describes a single job.
type Status struct {
	NZOID       string
	State       State
	Progress    float64
	Storage     string
	FailMessage string
}

type Config struct {
	Host       string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	UserAgent  string
}

// Client is safe for concurrent use.
type Client struct {
	host       string
	apiKey     string
	userAgent  string
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		host:       strings.TrimRight(cfg.Host, "/"),
		apiKey:     cfg.APIKey,
		userAgent:  cfg.UserAgent,
		httpClient: httpClient,
	}
}

type addFileResponse struct {
	Status bool     `json:"status"`
	NZOIDs []string `json:"nzo_ids"`
	Error  string   `json:"error"`
}

// Submit uploads an NZB and returns the job ID SABnzbd assigned to it.
func (c *Client) Submit(ctx context.Context, nzbData []byte, name, category string) (string, error) {
	if len(nzbData) == 0 {
		return "", fmt.Errorf("nzb payload is empty")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("name", sanitizeFilename(name)+".nzb")
	if err != nil {
		return "", fmt.Errorf("build nzb form: %w", err)
	}
	if _, err := part.Write(nzbData); err != nil {
		return "", fmt.Errorf("write nzb form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close nzb form: %w", err)
	}

	params := url.Values{}
	params.Set("mode", "addfile")
	params.Set("nzbname", name)
	if category != "" {
		params.Set("cat", category)
	}

	req, err := c.newRequest(ctx, http.MethodPost, params, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var parsed addFileResponse
	if err := c.do(req, &parsed); err != nil {
		return "", err
	}
	if !parsed.Status || len(parsed.NZOIDs) == 0 {
		if parsed.Error != "" {
			return "", fmt.Errorf("sabnzbd rejected nzb: %s", parsed.Error)
		}
		return "", fmt.Errorf("sabnzbd rejected nzb")
	}
	return parsed.NZOIDs[0], nil
}

type queueResponse struct {
	Queue struct {
		Slots []queueSlot `json:"slots"`
	} `json:"queue"`
}

type queueSlot struct {
	NZOID      string `json:"nzo_id"`
	Status     string `json:"status"`
	Percentage string `json:"percentage"`
}

type historyResponse struct {
	History struct {
		Slots []historySlot `json:"slots"`
	} `json:"history"`
}

type historySlot struct {
	NZOID       string `json:"nzo_id"`
	Status      string `json:"status"`
	Storage     string `json:"storage"`
	FailMessage string `json:"fail_message"`
}

// GetStatus looks a job up in the queue first, then in the history.
// Returns ErrNotFound when SABnzbd no longer knows the job.
func (c *Client) GetStatus(ctx context.Context, nzoID string) (Status, error) {
	params := url.Values{}
	params.Set("mode", "queue")
	params.Set("nzo_ids", nzoID)

	req, err := c.newRequest(ctx, http.MethodGet, params, nil)
	if err != nil {
		return Status{}, err
	}
	var queue queueResponse
	if err := c.do(req, &queue); err != nil {
		return Status{}, err
	}
	for _, slot := range queue.Queue.Slots {
		if slot.NZOID != nzoID {
			continue
		}
		status := Status{NZOID: nzoID, State: StateDownloading}
		if strings.EqualFold(slot.Status, "Queued") || strings.EqualFold(slot.Status, "Paused") {
			status.State = StateQueued
		}
		if pct, err := strconv.ParseFloat(slot.Percentage, 64); err == nil {
			status.Progress = pct
		}
		return status, nil
	}

	params = url.Values{}
	params.Set("mode", "history")
	params.Set("nzo_ids", nzoID)

	req, err = c.newRequest(ctx, http.MethodGet, params, nil)
	if err != nil {
		return Status{}, err
	}
	var history historyResponse
	if err := c.do(req, &history); err != nil {
		return Status{}, err
	}
	for _, slot := range history.History.Slots {
		if slot.NZOID != nzoID {
			continue
		}
		status := Status{NZOID: nzoID, Storage: slot.Storage, FailMessage: slot.FailMessage}
		if strings.EqualFold(slot.Status, "Completed") {
			status.State = StateCompleted
			status.Progress = 100
		} else if strings.EqualFold(slot.Status, "Failed") {
			status.State = StateFailed
		} else {
			// Post-processing states (Verifying, Repairing, Extracting)
			// still count as downloading.
			status.State = StateDownloading
		}
		return status, nil
	}

	return Status{}, ErrNotFound
}

type actionResponse struct {
	Status bool   `json:"status"`
	Error  string `json:"error"`
}

// Delete removes a job from the queue or the history. Deleting a job
// SABnzbd no longer knows is not an error.
func (c *Client) Delete(ctx context.Context, nzoID string, deleteFiles bool) error {
	if err := c.deleteFrom(ctx, "queue", nzoID, deleteFiles); err != nil {
		return err
	}
	return c.deleteFrom(ctx, "history", nzoID, deleteFiles)
}

func (c *Client) deleteFrom(ctx context.Context, mode, nzoID string, deleteFiles bool) error {
	params := url.Values{}
	params.Set("mode", mode)
	params.Set("name", "delete")
	params.Set("value", nzoID)
	if deleteFiles {
		params.Set("del_files", "1")
	}

	req, err := c.newRequest(ctx, http.MethodGet, params, nil)
	if err != nil {
		return err
	}
	// parsed.Status is false when the job is already gone, which is fine.
	var parsed actionResponse
	return c.do(req, &parsed)
}

func (c *Client) newRequest(ctx context.Context, method string, params url.Values, body io.Reader) (*http.Request, error) {
	params.Set("output", "json")
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}

	endpoint := c.host + "/api?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build sabnzbd request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sabnzbd request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("sabnzbd returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode sabnzbd response: %w", err)
	}
	return nil
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "download"
	}
	replacer := strings.NewReplacer("/", "_", "\\", "_", "\x00", "")
	return replacer.Replace(name)
}
