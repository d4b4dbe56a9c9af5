// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torznab

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Result is a single release from a Torznab search or feed response.
type Result struct {
	IndexerID   int
	Title       string
	GUID        string
	DownloadURL string
	InfoURL     string
	Size        int64
	Categories  []int
	PublishDate time.Time
	// Seeders and Peers are nil for protocols without a swarm (usenet).
	Seeders *int
	Peers   *int
	// DownloadVolumeFactor is 0.0 for freeleech, 1.0 for normal releases.
	DownloadVolumeFactor float64
	// Attributes stores every Torznab attribute with lowercase keys.
	Attributes map[string]string
}

type rssDoc struct {
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title      string        `xml:"title"`
	GUID       string        `xml:"guid"`
	Link       string        `xml:"link"`
	Comments   string        `xml:"comments"`
	PubDate    string        `xml:"pubDate"`
	Size       string        `xml:"size"`
	Categories []string      `xml:"category"`
	Enclosure  rssEnclosure  `xml:"enclosure"`
	Attrs      []rssItemAttr `xml:"attr"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Type   string `xml:"type,attr"`
	Length string `xml:"length,attr"`
}

type rssItemAttr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

func parseSearchResponse(r io.Reader) ([]Result, error) {
	var doc rssDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode torznab rss: %w", err)
	}

	results := make([]Result, 0, len(doc.Channel.Items))
	for _, item := range doc.Channel.Items {
		results = append(results, convertItem(item))
	}
	return results, nil
}

func convertItem(item rssItem) Result {
	result := Result{
		Title:                item.Title,
		GUID:                 item.GUID,
		DownloadURL:          item.Enclosure.URL,
		InfoURL:              item.Comments,
		DownloadVolumeFactor: 1.0,
	}
	if result.DownloadURL == "" {
		result.DownloadURL = item.Link
	}

	if size, err := strconv.ParseInt(item.Size, 10, 64); err == nil {
		result.Size = size
	} else if size, err := strconv.ParseInt(item.Enclosure.Length, 10, 64); err == nil {
		result.Size = size
	}

	if item.PubDate != "" {
		if t, err := time.Parse(time.RFC1123Z, item.PubDate); err == nil {
			result.PublishDate = t
		} else if t, err := time.Parse(time.RFC1123, item.PubDate); err == nil {
			result.PublishDate = t
		}
	}

	for _, cat := range item.Categories {
		if id, err := strconv.Atoi(strings.TrimSpace(cat)); err == nil {
			result.Categories = append(result.Categories, id)
		}
	}

	attrMap := make(map[string]string, len(item.Attrs))
	for _, attr := range item.Attrs {
		name := strings.ToLower(strings.TrimSpace(attr.Name))
		if name == "" {
			continue
		}
		attrMap[name] = attr.Value
		switch name {
		case "seeders":
			if v, err := strconv.Atoi(attr.Value); err == nil {
				result.Seeders = &v
			}
		case "peers":
			if v, err := strconv.Atoi(attr.Value); err == nil {
				result.Peers = &v
			}
		case "downloadvolumefactor":
			if v, err := strconv.ParseFloat(attr.Value, 64); err == nil {
				result.DownloadVolumeFactor = v
			}
		case "category":
			if id, err := strconv.Atoi(attr.Value); err == nil && !containsInt(result.Categories, id) {
				result.Categories = append(result.Categories, id)
			}
		case "size":
			if result.Size == 0 {
				if v, err := strconv.ParseInt(attr.Value, 10, 64); err == nil {
					result.Size = v
				}
			}
		case "infourl":
			if result.InfoURL == "" {
				result.InfoURL = attr.Value
			}
		}
	}
	result.Attributes = attrMap

	return result
}

func containsInt(values []int, v int) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}
