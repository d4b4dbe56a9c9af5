// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ranker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// matching.go holds the text heuristics that decide whether a release title
// names the requested book and its author.

// Stop words carry no signal for coverage purposes.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "of": {}, "on": {}, "in": {}, "at": {}, "by": {}, "for": {},
}

// coverageThreshold is the fraction of significant title words that must
// appear in a candidate before it can score at all.
const coverageThreshold = 0.8

// authorFuzzyThreshold accepts slightly misspelled author credits.
const authorFuzzyThreshold = 0.85

// authorNameWindow is the maximum distance in characters between the
// author's first and last name when they appear out of order
// ("Taylor, Dennis E.").
const authorNameWindow = 30

// bracketedSegment matches parenthetical, bracketed and braced spans in a
// requested title. Release names routinely drop subtitles carried there.
var bracketedSegment = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]|\{[^}]*\}`)

// authorSeparators split multi-author credits on commas, ampersands, the
// word "and" and hyphens.
var authorSeparators = regexp.MustCompile(`(?i),|&|\band\b|-`)

// roleWords are credit qualifiers, not authors.
var roleWords = map[string]struct{}{
	"narrator":   {},
	"translator": {},
}

// followMarkers may open the text after a complete title occurrence:
// bracketed metadata, a subtitle or a series position.
var followMarkers = [...]string{"[", "(", "{", ":", ","}

// MatchResult is the per-candidate outcome of the matching heuristics.
type MatchResult struct {
	// Score is the combined match score, 0..60.
	Score float64
	// TitleScore is 0..45, AuthorScore 0..15.
	TitleScore  float64
	AuthorScore float64
	// CompleteTitle reports a structural full-title occurrence.
	CompleteTitle bool
	// CoveragePassed and AuthorPassed are the hard gates; when either
	// required gate fails Score is zero.
	CoveragePassed bool
	AuthorPassed   bool
}

// EvaluateMatch scores how well candidateTitle names the requested book.
// requireAuthor turns the author check into a hard gate.
func (r *Ranker) EvaluateMatch(title, author, candidateTitle string, requireAuthor bool) MatchResult {
	required := requiredPortion(title)

	normTitle := r.normalizer.Normalize(title)
	normRequired := r.normalizer.Normalize(required)
	normAuthor := r.normalizer.Normalize(author)
	normCandidate := r.normalizer.Normalize(candidateTitle)

	result := MatchResult{}

	result.CoveragePassed = coveragePasses(normRequired, normCandidate)
	if !result.CoveragePassed {
		return result
	}

	authors := r.parseAuthors(author)
	result.AuthorPassed = anyAuthorMatches(authors, normCandidate)
	if requireAuthor && !result.AuthorPassed {
		return result
	}

	flatTitle := r.flattener.Normalize(title)
	flatRequired := r.flattener.Normalize(required)
	flatAuthor := r.flattener.Normalize(author)
	flatCandidate := r.flattener.Normalize(candidateTitle)

	result.CompleteTitle = completeTitleMatch(flatTitle, flatAuthor, flatCandidate)
	if !result.CompleteTitle && flatRequired != flatTitle {
		result.CompleteTitle = completeTitleMatch(flatRequired, flatAuthor, flatCandidate)
	}
	if result.CompleteTitle {
		result.TitleScore = titleScoreMax
	} else {
		sim := levenshteinSimilarity(normTitle, normCandidate)
		if rs := levenshteinSimilarity(normRequired, normCandidate); rs > sim {
			sim = rs
		}
		result.TitleScore = sim * titleScoreMax
	}

	result.AuthorScore = authorScore(authors, normAuthor, normCandidate)

	result.Score = result.TitleScore + result.AuthorScore
	if result.Score > matchScoreMax {
		result.Score = matchScoreMax
	}
	return result
}

// requiredPortion strips bracketed segments from a requested title. What
// remains must appear in a candidate; the bracketed part is omittable
// ("We Are Legion (We Are Bob)" matches releases named "We Are Legion").
func requiredPortion(title string) string {
	stripped := bracketedSegment.ReplaceAllString(title, " ")
	return strings.Join(strings.Fields(stripped), " ")
}

// coveragePasses applies the word-coverage gate: at least 80% of the
// required title's significant words must appear as tokens in the candidate.
// An empty required word set passes vacuously.
func coveragePasses(normRequired, normCandidate string) bool {
	words := significantWords(normRequired)
	if len(words) == 0 {
		return true
	}

	candidateTokens := tokenSet(normCandidate)
	matched := 0
	for w := range words {
		if _, ok := candidateTokens[w]; ok {
			matched++
		}
	}
	return float64(matched)/float64(len(words)) >= coverageThreshold
}

func significantWords(normalized string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, f := range strings.Fields(normalized) {
		if _, stop := stopWords[f]; !stop {
			words[f] = struct{}{}
		}
	}
	return words
}

func tokenSet(normalized string) map[string]struct{} {
	fields := strings.Fields(normalized)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// completeTitleMatch reports whether flatTitle occurs in flatCandidate
// delimited the way release names delimit a full title: the text before the
// occurrence is empty, ends in a separator or contains the author; the text
// after it is empty, opens a metadata segment or names the author. Inputs
// are flattened rather than normalized so that structure stays visible.
// Every occurrence is tried.
func completeTitleMatch(flatTitle, flatAuthor, flatCandidate string) bool {
	if flatTitle == "" || flatCandidate == "" {
		return false
	}

	for offset := 0; ; {
		idx := strings.Index(flatCandidate[offset:], flatTitle)
		if idx < 0 {
			return false
		}
		idx += offset

		pre := flatCandidate[:idx]
		post := flatCandidate[idx+len(flatTitle):]
		if precedesTitle(pre, flatAuthor) && followsTitle(post, flatAuthor) {
			return true
		}

		offset = idx + 1
		if offset >= len(flatCandidate) {
			return false
		}
	}
}

// precedesTitle accepts an empty prefix, a prefix ending in a separator
// ("Series 01: Title") or one containing the author ("Author Title"). Plain
// words before the occurrence mean it is part of a longer, different title.
func precedesTitle(pre, flatAuthor string) bool {
	trimmed := strings.TrimRight(pre, " ")
	if trimmed == "" {
		return true
	}
	switch last, _ := utf8.DecodeLastRuneInString(trimmed); last {
	case '-', ':', '—':
		return true
	}
	return flatAuthor != "" && strings.Contains(pre, flatAuthor)
}

// followsTitle accepts an empty suffix, a metadata marker ("Title [M4B]",
// "Title, Book 7", "Title - 2016") or the author ("Title by Author").
func followsTitle(post, flatAuthor string) bool {
	if post == "" {
		return true
	}
	if strings.HasPrefix(post, " by ") || strings.HasPrefix(post, " - ") {
		return true
	}
	trimmed := strings.TrimLeft(post, " ")
	for _, m := range followMarkers {
		if strings.HasPrefix(trimmed, m) {
			return true
		}
	}
	return flatAuthor != "" && strings.HasPrefix(trimmed, flatAuthor)
}

// parseAuthors splits a requested author credit into normalized names,
// dropping initials-only fragments and role qualifiers.
func (r *Ranker) parseAuthors(author string) []string {
	parts := authorSeparators.Split(author, -1)
	authors := make([]string, 0, len(parts))
	for _, p := range parts {
		name := r.normalizer.Normalize(p)
		if len(name) <= 2 {
			continue
		}
		if _, role := roleWords[name]; role {
			continue
		}
		authors = append(authors, name)
	}
	return authors
}

func anyAuthorMatches(authors []string, normCandidate string) bool {
	for _, a := range authors {
		if authorMatches(a, normCandidate) {
			return true
		}
	}
	return false
}

// authorMatches tries, in order: exact substring, fuzzy similarity against a
// sliding token window, and first+last name proximity.
func authorMatches(normAuthor, normCandidate string) bool {
	if strings.Contains(normCandidate, normAuthor) {
		return true
	}
	if bestWindowSimilarity(normAuthor, normCandidate) >= authorFuzzyThreshold {
		return true
	}
	return namesWithinWindow(normAuthor, normCandidate)
}

// authorScore awards exact credits proportionally: of two requested authors,
// one named in the release scores half. Without any exact credit the full
// author string is fuzzy-compared against the candidate, which pays a little
// for reordered or misspelled names.
func authorScore(authors []string, normAuthor, normCandidate string) float64 {
	if len(authors) > 0 {
		exact := 0
		for _, a := range authors {
			if strings.Contains(normCandidate, a) {
				exact++
			}
		}
		if exact > 0 {
			return float64(exact) / float64(len(authors)) * authorScoreMax
		}
	}
	if normAuthor == "" {
		return 0
	}
	return levenshteinSimilarity(normAuthor, normCandidate) * authorScoreMax
}

// bestWindowSimilarity slides a token window the width of the author name
// across the candidate and returns the best Levenshtein similarity. This
// catches misspellings without letting a long candidate dilute the ratio.
func bestWindowSimilarity(normAuthor, normCandidate string) float64 {
	authorTokens := strings.Fields(normAuthor)
	candidateTokens := strings.Fields(normCandidate)
	if len(authorTokens) == 0 || len(candidateTokens) < len(authorTokens) {
		return 0
	}

	best := 0.0
	for i := 0; i+len(authorTokens) <= len(candidateTokens); i++ {
		window := strings.Join(candidateTokens[i:i+len(authorTokens)], " ")
		if sim := levenshteinSimilarity(normAuthor, window); sim > best {
			best = sim
		}
	}
	return best
}

// namesWithinWindow accepts "Last, First" style credits: the author's first
// and last name tokens both occur and sit close together.
func namesWithinWindow(normAuthor, normCandidate string) bool {
	tokens := strings.Fields(normAuthor)
	if len(tokens) == 0 {
		return false
	}

	first := tokens[0]
	last := tokens[len(tokens)-1]

	firstIdx := tokenIndex(normCandidate, first)
	if firstIdx < 0 {
		return false
	}
	lastIdx := tokenIndex(normCandidate, last)
	if lastIdx < 0 {
		return false
	}

	distance := firstIdx - lastIdx
	if distance < 0 {
		distance = -distance
	}
	return distance <= authorNameWindow
}

// tokenIndex returns the byte offset of word as a whole token, or -1.
func tokenIndex(haystack, word string) int {
	for offset := 0; ; {
		idx := strings.Index(haystack[offset:], word)
		if idx < 0 {
			return -1
		}
		idx += offset

		preOK := idx == 0 || haystack[idx-1] == ' '
		end := idx + len(word)
		postOK := end == len(haystack) || haystack[end] == ' '
		if preOK && postOK {
			return idx
		}

		offset = idx + 1
		if offset >= len(haystack) {
			return -1
		}
	}
}

// levenshteinSimilarity maps edit distance onto 0..1.
func levenshteinSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	maxLen := utf8.RuneCountInString(a)
	if l := utf8.RuneCountInString(b); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1
	}

	dist := fuzzy.LevenshteinDistance(a, b)
	sim := 1 - float64(dist)/float64(maxLen)
	if sim < 0 {
		return 0
	}
	return sim
}
