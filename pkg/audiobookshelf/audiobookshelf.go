// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package audiobookshelf is a small Audiobookshelf API client covering the
// calls library verification needs: listing libraries, searching them and
// triggering scans.
package audiobookshelf

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

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

// Library is an Audiobookshelf library.
type Library struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	MediaType string `json:"mediaType"`
}

type librariesResponse struct {
	Libraries []Library `json:"libraries"`
}

// Libraries lists all libraries on the server.
func (c *Client) Libraries(ctx context.Context) ([]Library, error) {
	var parsed librariesResponse
	if err := c.get(ctx, "/api/libraries", nil, &parsed); err != nil {
		return nil, err
	}
	return parsed.Libraries, nil
}

// BookResult is a matched library item from a search.
type BookResult struct {
	LibraryItemID string
	Title         string
	Author        string
}

type searchResponse struct {
	Book []struct {
		LibraryItem struct {
			ID    string `json:"id"`
			Media struct {
				Metadata struct {
					Title      string `json:"title"`
					AuthorName string `json:"authorName"`
				} `json:"metadata"`
			} `json:"media"`
		} `json:"libraryItem"`
	} `json:"book"`
}

// SearchBooks searches a library for book items matching the query.
func (c *Client) SearchBooks(ctx context.Context, libraryID, query string, limit int) ([]BookResult, error) {
	if libraryID == "" {
		return nil, fmt.Errorf("library id is required")
	}

	params := url.Values{}
	params.Set("q", query)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var parsed searchResponse
	if err := c.get(ctx, "/api/libraries/"+url.PathEscape(libraryID)+"/search", params, &parsed); err != nil {
		return nil, err
	}

	results := make([]BookResult, 0, len(parsed.Book))
	for _, entry := range parsed.Book {
		results = append(results, BookResult{
			LibraryItemID: entry.LibraryItem.ID,
			Title:         entry.LibraryItem.Media.Metadata.Title,
			Author:        entry.LibraryItem.Media.Metadata.AuthorName,
		})
	}
	return results, nil
}

// TriggerScan asks the server to rescan a library row for new files.
func (c *Client) TriggerScan(ctx context.Context, libraryID string) error {
	if libraryID == "" {
		return fmt.Errorf("library id is required")
	}

	endpoint := c.host + "/api/libraries/" + url.PathEscape(libraryID) + "/scan"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build scan request: %w", err)
	}
	c.decorate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("scan request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("scan returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.host + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", path, err)
	}
	c.decorate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request for %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

func (c *Client) decorate(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
}
