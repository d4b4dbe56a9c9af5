// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ranker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aronjanosch/readmeabook/internal/models"
)

func intPtr(v int) *int { return &v }

func TestRank_PreFilterDropsTinyReleases(t *testing.T) {
	r := New()
	book := Book{Title: "Project Hail Mary", Author: "Andy Weir", RuntimeMinutes: 600}

	candidates := []Candidate{
		{GUID: "tiny", Title: "Project Hail Mary Unabridged", SizeBytes: 10 * 1024 * 1024},
		{GUID: "real", Title: "Project Hail Mary Unabridged", SizeBytes: 600 * 1024 * 1024},
	}

	scored := r.Rank(book, candidates, Options{})

	require.Len(t, scored, 1, "releases under 20 MB never reach scoring")
	require.Equal(t, "real", scored[0].GUID)
}

func TestRank_ScoreBreakdown(t *testing.T) {
	r := New()
	book := Book{Title: "Project Hail Mary", Author: "Andy Weir", RuntimeMinutes: 600}

	candidate := Candidate{
		IndexerID: 1,
		GUID:      "g1",
		Title:     "Project Hail Mary (2021) Unabridged M4B Chapters Andy Weir",
		SizeBytes: 600 * 1024 * 1024,
		Protocol:  models.ProtocolUsenet,
		Flags:     []string{"freeleech"},
	}

	scored := r.Rank(book, []Candidate{candidate}, Options{
		RequireAuthor:     true,
		IndexerPriorities: map[int]int{1: 25},
		FlagModifiers:     []models.FlagModifier{{Flag: "Freeleech", Percent: 10}},
	})

	require.Len(t, scored, 1)
	b := scored[0].Breakdown
	require.Equal(t, 10.0, b.Format, "chapterized M4B")
	require.Equal(t, 15.0, b.Size, "a megabyte per minute fills the size score")
	require.Equal(t, 15.0, b.Seeders, "usenet releases have no swarm to judge")
	require.Equal(t, 45.0, b.Title)
	require.Equal(t, 15.0, b.Author)
	require.Equal(t, 60.0, b.Match)
	require.Equal(t, 100.0, b.Base)
	require.Equal(t, 110.0, b.Bonus, "priority 25 doubles the base, the flag adds ten percent")
	require.Equal(t, 210.0, b.Final)
	require.True(t, scored[0].Eligible())
}

func TestRank_OrderAndDenseRanks(t *testing.T) {
	r := New()
	book := Book{Title: "Deep Work", Author: "", RuntimeMinutes: 0}

	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	candidates := []Candidate{
		{GUID: "old-usenet", Title: "Deep Work", SizeBytes: 400 * 1024 * 1024, PublishDate: older},
		{GUID: "new-usenet", Title: "Deep Work", SizeBytes: 400 * 1024 * 1024, PublishDate: newer},
		{GUID: "dead-torrent", Title: "Deep Work", SizeBytes: 400 * 1024 * 1024, Seeders: intPtr(0), PublishDate: newer},
	}

	scored := r.Rank(book, candidates, Options{})

	require.Len(t, scored, 3)
	require.Equal(t, "new-usenet", scored[0].GUID, "equal scores order newest first")
	require.Equal(t, "old-usenet", scored[1].GUID)
	require.Equal(t, "dead-torrent", scored[2].GUID, "zero seeders drop the score")

	require.Equal(t, 1, scored[0].Rank)
	require.Equal(t, 1, scored[1].Rank, "equal final scores share a dense rank")
	require.Equal(t, 2, scored[2].Rank)
}

func TestRank_GatedCandidatesStayListedButIneligible(t *testing.T) {
	r := New()
	book := Book{Title: "Dungeon Crawler Carl", Author: "Matt Dinniman", RuntimeMinutes: 800}

	candidates := []Candidate{
		{GUID: "no-author", Title: "Dungeon Crawler Carl Unabridged", SizeBytes: 800 * 1024 * 1024},
		{GUID: "wrong-book", Title: "The Butcher's Masquerade Unabridged", SizeBytes: 800 * 1024 * 1024},
	}

	scored := r.Rank(book, candidates, Options{RequireAuthor: true})
	require.Len(t, scored, 2, "gated candidates stay visible for interactive review")

	byGUID := map[string]ScoredCandidate{}
	for _, s := range scored {
		byGUID[s.GUID] = s
	}

	noAuthor := byGUID["no-author"]
	require.True(t, noAuthor.Gated)
	require.Equal(t, GateAuthorMissing, noAuthor.GateReason)
	require.Zero(t, noAuthor.Breakdown.Match)
	require.False(t, noAuthor.Eligible())

	wrongBook := byGUID["wrong-book"]
	require.True(t, wrongBook.Gated)
	require.Equal(t, GateTitleCoverage, wrongBook.GateReason)
	require.False(t, wrongBook.Eligible())
}

func TestSeederScore(t *testing.T) {
	require.Equal(t, 15.0, seederScore(nil), "no seeder concept scores full")
	require.Zero(t, seederScore(intPtr(0)))
	require.InDelta(t, 6.2486, seederScore(intPtr(10)), 0.001)
	require.Equal(t, 15.0, seederScore(intPtr(100000)), "the log curve is capped")
}

func TestSizeScore(t *testing.T) {
	require.Zero(t, sizeScore(600*1024*1024, 0), "unknown runtime cannot be judged")
	require.Equal(t, 15.0, sizeScore(600*1024*1024, 600))
	require.Equal(t, 15.0, sizeScore(1200*1024*1024, 600), "oversized is not penalized")
	require.InDelta(t, 7.5, sizeScore(300*1024*1024, 600), 1e-9)
}

func TestFormatScore(t *testing.T) {
	r := New()

	cases := []struct {
		title  string
		format string
		want   float64
	}{
		{"Book Title [M4B] Chapterized", "", 10},
		{"Book Title M4B", "", 9},
		{"Book.Title.2024.m4a", "", 6},
		{"Book Title MP3 64kbps", "", 4},
		{"Book Title FLAC", "", 1},
		{"Book Title", "", 1},
		{"Book Title", "M4B", 9},
		{"Book Title Chapterized", "M4B", 10},
		{"Book Title M4B", "MP3", 4},
	}

	for _, tc := range cases {
		got := formatScore(tc.format, r.normalizer.Normalize(tc.title))
		require.Equal(t, tc.want, got, "title %q format %q", tc.title, tc.format)
	}
}
