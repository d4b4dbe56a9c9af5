// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package ranker scores and orders indexer releases against a requested
// audiobook. Scoring is deterministic and side-effect free so callers can
// re-rank the same inputs from tests, the search loop and the interactive
// search endpoint.
package ranker

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/aronjanosch/readmeabook/internal/models"
	"github.com/aronjanosch/readmeabook/pkg/stringutils"
)

const (
	// minCandidateSizeBytes drops obvious fakes and samples before scoring.
	minCandidateSizeBytes = 20 * 1024 * 1024

	formatScoreM4BChapters = 10.0
	formatScoreM4B         = 9.0
	formatScoreM4A         = 6.0
	formatScoreMP3         = 4.0
	formatScoreUnknown     = 1.0

	sizeScoreMax = 15.0
	// Full-quality audiobook rips run about a megabyte per minute.
	megabytesPerMinuteTarget = 1.0

	seederScoreMax = 15.0
	seederLogScale = 6.0
	titleScoreMax  = 45.0
	authorScoreMax = 15.0
	matchScoreMax  = 60.0

	// priorityDivisor converts an indexer priority (1..25) into a
	// fraction of the base score.
	priorityDivisor = 25.0
)

// Gate reasons surfaced on candidates excluded from selection.
const (
	GateTitleCoverage = "title coverage below threshold"
	GateAuthorMissing = "author not found in release title"
)

// Candidate is a single release as returned by an indexer.
type Candidate struct {
	IndexerID int    `json:"indexerId"`
	Indexer   string `json:"indexer"`
	GUID      string `json:"guid"`
	Title     string `json:"title"`
	SizeBytes int64  `json:"size"`
	// Seeders and Leechers are nil for usenet releases.
	Seeders     *int      `json:"seeders,omitempty"`
	Leechers    *int      `json:"leechers,omitempty"`
	PublishDate time.Time `json:"publishDate"`
	DownloadURL string    `json:"downloadUrl"`
	InfoURL     string    `json:"infoUrl,omitempty"`
	// Format is the indexer's explicit format hint, when it sends one.
	Format   string          `json:"format,omitempty"`
	Protocol models.Protocol `json:"protocol"`
	Flags    []string        `json:"flags,omitempty"`
}

// Book is the request being shopped for.
type Book struct {
	Title          string
	Author         string
	RuntimeMinutes int
}

// Options tune a ranking pass.
type Options struct {
	// RequireAuthor turns the author check into a hard gate.
	RequireAuthor bool
	// IndexerPriorities maps indexer IDs onto priorities 1..25. Missing
	// entries fall back to the default priority.
	IndexerPriorities map[int]int
	// FlagModifiers adjust the final score by a percentage of the base
	// score for releases carrying the named flag.
	FlagModifiers []models.FlagModifier
}

// ScoreBreakdown itemizes every component of a candidate's score.
type ScoreBreakdown struct {
	Format  float64 `json:"format"`
	Size    float64 `json:"size"`
	Seeders float64 `json:"seeders"`
	Title   float64 `json:"title"`
	Author  float64 `json:"author"`
	Match   float64 `json:"match"`
	Base    float64 `json:"base"`
	Bonus   float64 `json:"bonus"`
	Final   float64 `json:"final"`
}

// ScoredCandidate is a candidate with its scores and dense rank. Gated
// candidates stay in the list for display but must not be grabbed.
type ScoredCandidate struct {
	Candidate
	Breakdown  ScoreBreakdown `json:"scores"`
	Rank       int            `json:"rank"`
	Gated      bool           `json:"gated"`
	GateReason string         `json:"gateReason,omitempty"`
}

// Eligible reports whether the candidate may be grabbed automatically.
func (s ScoredCandidate) Eligible() bool {
	return !s.Gated && s.Breakdown.Match > 0
}

// Ranker scores candidates. Safe for concurrent use.
type Ranker struct {
	normalizer *stringutils.Normalizer[string, string]
	flattener  *stringutils.Normalizer[string, string]
}

func New() *Ranker {
	return &Ranker{
		normalizer: stringutils.NewDefaultNormalizer(),
		flattener:  stringutils.NewFlattener(),
	}
}

// Rank filters, scores and orders candidates for the given book. The result
// is sorted by final score descending, ties broken by publish date (newest
// first), and carries dense ranks: equal final scores share a rank.
func (r *Ranker) Rank(book Book, candidates []Candidate, opts Options) []ScoredCandidate {
	scored := make([]ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.SizeBytes < minCandidateSizeBytes {
			continue
		}
		scored = append(scored, r.score(book, c, opts))
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Breakdown.Final != scored[j].Breakdown.Final {
			return scored[i].Breakdown.Final > scored[j].Breakdown.Final
		}
		return scored[i].PublishDate.After(scored[j].PublishDate)
	})

	rank := 0
	for i := range scored {
		if i == 0 || scored[i].Breakdown.Final != scored[i-1].Breakdown.Final {
			rank++
		}
		scored[i].Rank = rank
	}
	return scored
}

func (r *Ranker) score(book Book, c Candidate, opts Options) ScoredCandidate {
	sc := ScoredCandidate{Candidate: c}

	sc.Breakdown.Format = formatScore(c.Format, r.normalizer.Normalize(c.Title))
	sc.Breakdown.Size = sizeScore(c.SizeBytes, book.RuntimeMinutes)
	sc.Breakdown.Seeders = seederScore(c.Seeders)

	match := r.EvaluateMatch(book.Title, book.Author, c.Title, opts.RequireAuthor)
	sc.Breakdown.Title = match.TitleScore
	sc.Breakdown.Author = match.AuthorScore
	sc.Breakdown.Match = match.Score

	switch {
	case !match.CoveragePassed:
		sc.Gated = true
		sc.GateReason = GateTitleCoverage
	case opts.RequireAuthor && !match.AuthorPassed:
		sc.Gated = true
		sc.GateReason = GateAuthorMissing
	}

	sc.Breakdown.Base = sc.Breakdown.Format + sc.Breakdown.Size + sc.Breakdown.Seeders + sc.Breakdown.Match
	sc.Breakdown.Bonus = bonusScore(sc.Breakdown.Base, c, opts)
	sc.Breakdown.Final = sc.Breakdown.Base + sc.Breakdown.Bonus
	return sc
}

// formatScore prefers the indexer's explicit format hint and falls back to
// format markers in the release title. Chapter markers count from either
// source; a chaptered M4B outranks everything.
func formatScore(format, normTitle string) float64 {
	source := normTitle
	if format != "" {
		source = stringutils.NormalizeText(format)
	}

	switch {
	case strings.Contains(source, "m4b"):
		if strings.Contains(source, "chapter") || strings.Contains(normTitle, "chapter") {
			return formatScoreM4BChapters
		}
		return formatScoreM4B
	case strings.Contains(source, "m4a"):
		return formatScoreM4A
	case strings.Contains(source, "mp3"):
		return formatScoreMP3
	}
	return formatScoreUnknown
}

// sizeScore rewards releases whose size fits the book's runtime. Below one
// megabyte per minute the score decays linearly; an unknown runtime scores
// zero rather than guessing.
func sizeScore(sizeBytes int64, runtimeMinutes int) float64 {
	if runtimeMinutes <= 0 {
		return 0
	}
	megabytes := float64(sizeBytes) / (1024 * 1024)
	ratio := megabytes / (float64(runtimeMinutes) * megabytesPerMinuteTarget)
	if ratio >= 1 {
		return sizeScoreMax
	}
	return ratio * sizeScoreMax
}

// seederScore scales logarithmically with swarm size. Usenet releases have
// no seeders at all and take the full score, dead torrents take zero.
func seederScore(seeders *int) float64 {
	if seeders == nil {
		return seederScoreMax
	}
	s := *seeders
	if s <= 0 {
		return 0
	}
	score := math.Log10(float64(s)+1) * seederLogScale
	if score > seederScoreMax {
		return seederScoreMax
	}
	return score
}

// bonusScore applies the indexer priority and any matching flag modifiers,
// each expressed as a fraction of the base score. Modifiers stack.
func bonusScore(base float64, c Candidate, opts Options) float64 {
	priority := models.DefaultIndexerPriority
	if p, ok := opts.IndexerPriorities[c.IndexerID]; ok {
		priority = p
	}
	bonus := base * float64(priority) / priorityDivisor

	for _, mod := range opts.FlagModifiers {
		for _, flag := range c.Flags {
			if strings.EqualFold(flag, mod.Flag) {
				bonus += base * mod.Percent / 100
				break
			}
		}
	}
	return bonus
}
