// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package torznab talks to a Prowlarr instance: its JSON API for the
// indexer inventory and its per-indexer Torznab endpoints for searches,
// RSS sweeps and release downloads.
package torznab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// maxDownloadBytes caps torrent and NZB blob downloads. 16 MiB is far above
// any legitimate metadata file.
const maxDownloadBytes int64 = 16 << 20

// DownloadError represents an HTTP error while fetching a release blob.
// It preserves the status code for rate-limit detection and retry logic.
type DownloadError struct {
	StatusCode int
	URL        string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("release download from %s returned status %d", e.URL, e.StatusCode)
}

func (e *DownloadError) Is(target error) bool {
	_, ok := target.(*DownloadError)
	return ok
}

// IsRateLimited returns true if this error indicates rate limiting (HTTP 429).
func (e *DownloadError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Config configures a Client.
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

// Indexer is an entry from the aggregator's indexer inventory.
type Indexer struct {
	ID           int          `json:"id"`
	Name         string       `json:"name"`
	Protocol     string       `json:"protocol"`
	Enable       bool         `json:"enable"`
	Priority     int          `json:"priority"`
	Capabilities Capabilities `json:"capabilities"`
}

type Capabilities struct {
	Categories []Category `json:"categories"`
}

type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Indexers lists the aggregator's configured indexers.
func (c *Client) Indexers(ctx context.Context) ([]Indexer, error) {
	endpoint, err := url.JoinPath(c.host, "api", "v1", "indexer")
	if err != nil {
		return nil, fmt.Errorf("build indexer list url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build indexer list request: %w", err)
	}
	c.decorate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("indexer list request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("indexer list returned status %d", resp.StatusCode)
	}

	var indexers []Indexer
	if err := json.NewDecoder(resp.Body).Decode(&indexers); err != nil {
		return nil, fmt.Errorf("decode indexer list: %w", err)
	}
	return indexers, nil
}

// Search queries a single indexer's Torznab endpoint. An empty query asks
// for the indexer's latest releases, which is how RSS sweeps work.
func (c *Client) Search(ctx context.Context, indexerID int, query string, categories []int, limit int) ([]Result, error) {
	endpoint, err := url.JoinPath(c.host, strconv.Itoa(indexerID), "api")
	if err != nil {
		return nil, fmt.Errorf("build search url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	c.decorate(req)

	q := req.URL.Query()
	q.Set("t", "search")
	q.Set("q", query)
	if len(categories) > 0 {
		cats := make([]string, len(categories))
		for i, cat := range categories {
			cats[i] = strconv.Itoa(cat)
		}
		q.Set("cat", strings.Join(cats, ","))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("search on indexer %d returned status %d", indexerID, resp.StatusCode)
	}

	results, err := parseSearchResponse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse search response from indexer %d: %w", indexerID, err)
	}
	for i := range results {
		results[i].IndexerID = indexerID
	}
	return results, nil
}

// Feed fetches an indexer's latest releases.
func (c *Client) Feed(ctx context.Context, indexerID int, categories []int) ([]Result, error) {
	return c.Search(ctx, indexerID, "", categories, 0)
}

// Download retrieves the raw torrent or NZB bytes for the given URL.
func (c *Client) Download(ctx context.Context, downloadURL string) ([]byte, error) {
	if strings.TrimSpace(downloadURL) == "" {
		return nil, fmt.Errorf("download URL is required")
	}

	// Normalise relative URLs
	if !strings.HasPrefix(downloadURL, "http://") && !strings.HasPrefix(downloadURL, "https://") {
		downloadURL = c.host + "/" + strings.TrimLeft(downloadURL, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("Accept", "application/x-bittorrent, application/x-nzb, application/octet-stream")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	// Ensure the API key is present for endpoints that require it
	if c.apiKey != "" && !strings.Contains(downloadURL, "apikey=") {
		q := req.URL.Query()
		q.Set("apikey", c.apiKey)
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("release download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &DownloadError{StatusCode: resp.StatusCode, URL: downloadURL}
	}

	limitedReader := io.LimitReader(resp.Body, maxDownloadBytes+1)
	data, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("read download body: %w", err)
	}
	if int64(len(data)) > maxDownloadBytes {
		return nil, fmt.Errorf("download exceeded %d bytes limit", maxDownloadBytes)
	}

	return data, nil
}

func (c *Client) decorate(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
}
