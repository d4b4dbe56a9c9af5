// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ranker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluateMatch_OmittedSubtitleStillScoresHigh(t *testing.T) {
	r := New()

	// Release names drop the parenthetical subtitle; the required portion
	// still completes against the author-prefixed release.
	res := r.EvaluateMatch(
		"We Are Legion (We Are Bob)",
		"Dennis E. Taylor",
		"Dennis E. Taylor - We Are Legion",
		true,
	)

	require.True(t, res.CoveragePassed, "subtitle words are optional for coverage")
	require.True(t, res.AuthorPassed, "author appears verbatim")
	require.True(t, res.CompleteTitle, "required title is bounded by the author prefix and the string end")
	require.Equal(t, 45.0, res.TitleScore)
	require.Equal(t, 15.0, res.AuthorScore)
	require.Greater(t, res.Score, 50.0)
}

func TestEvaluateMatch_CompleteTitleWithAuthorPrefix(t *testing.T) {
	r := New()

	res := r.EvaluateMatch(
		"We Are Legion (We Are Bob)",
		"Dennis E. Taylor",
		"Dennis E. Taylor - We Are Legion (We Are Bob) Unabridged",
		true,
	)

	require.True(t, res.CoveragePassed, "every required word is present")
	require.True(t, res.AuthorPassed, "author appears verbatim")
	require.True(t, res.CompleteTitle, "required title is bounded by the separator and the reopened parenthetical")
	require.Equal(t, 45.0, res.TitleScore)
	require.Equal(t, 15.0, res.AuthorScore)
	require.Greater(t, res.Score, 50.0, "a complete title with exact author must beat the complete-match threshold")
}

func TestEvaluateMatch_UnstructuredPrefixIsNotComplete(t *testing.T) {
	r := New()

	// Book 7 of the series repeats the series name, with only plain words
	// in front of it. That must read as a different, longer title.
	res := r.EvaluateMatch(
		"Dungeon Crawler Carl",
		"",
		"This Inevitable Ruin Dungeon Crawler Carl",
		false,
	)

	require.True(t, res.CoveragePassed, "all series words are present")
	require.False(t, res.CompleteTitle, "plain words before the occurrence disqualify it")
	require.Positive(t, res.Score, "fuzzy fallback still scores the partial match")
	require.Less(t, res.Score, 45.0, "sequels must stay below the complete-match threshold")
}

func TestEvaluateMatch_SeparatorMakesPrefixStructured(t *testing.T) {
	r := New()

	// The same words with release-name punctuation read as structure:
	// a colon closes the prefix and a comma opens trailing metadata.
	res := r.EvaluateMatch(
		"Dungeon Crawler Carl",
		"",
		"This Inevitable Ruin: Dungeon Crawler Carl, Book 7",
		false,
	)

	require.True(t, res.CompleteTitle)
	require.Equal(t, 45.0, res.Score, "no author requested, so the score is the title component alone")
}

func TestEvaluateMatch_CompleteTitleFollowedByYear(t *testing.T) {
	r := New()

	res := r.EvaluateMatch(
		"Project Hail Mary",
		"Andy Weir",
		"Project Hail Mary (2021) [M4B] Andy Weir",
		true,
	)

	require.True(t, res.CompleteTitle, "the parenthesized year opens a metadata segment")
	require.Equal(t, 60.0, res.Score)
}

func TestEvaluateMatch_TitleAtEndOfRelease(t *testing.T) {
	r := New()

	res := r.EvaluateMatch(
		"We Are Legion (We Are Bob)",
		"Dennis E. Taylor",
		"Dennis E. Taylor - 2016 - We Are Legion (We Are Bob)",
		true,
	)

	require.True(t, res.CompleteTitle, "end of string completes the occurrence")
}

func TestEvaluateMatch_TitleBoundedByAuthor(t *testing.T) {
	r := New()

	prefixed := r.EvaluateMatch(
		"Project Hail Mary",
		"Andy Weir",
		"Andy Weir Project Hail Mary",
		true,
	)
	suffixed := r.EvaluateMatch(
		"Project Hail Mary",
		"Andy Weir",
		"Project Hail Mary by Andy Weir",
		true,
	)

	require.True(t, prefixed.CompleteTitle, "an author prefix needs no separator")
	require.True(t, suffixed.CompleteTitle, "a by-credit completes the occurrence")
	require.Equal(t, 60.0, prefixed.Score)
	require.Equal(t, 60.0, suffixed.Score)
}

func TestEvaluateMatch_CoverageGate(t *testing.T) {
	r := New()

	res := r.EvaluateMatch(
		"The Name of the Wind",
		"Patrick Rothfuss",
		"Patrick Rothfuss - The Wise Man's Fear",
		true,
	)

	require.False(t, res.CoveragePassed, "name and wind are missing from the candidate")
	require.Zero(t, res.Score, "failing coverage zeroes the match outright")
}

func TestEvaluateMatch_CoverageIgnoresStopWords(t *testing.T) {
	r := New()

	// "of" and "the" are stop words; the significant words all appear.
	res := r.EvaluateMatch(
		"The Name of the Wind",
		"Patrick Rothfuss",
		"Name Wind Unabridged - Patrick Rothfuss",
		true,
	)

	require.True(t, res.CoveragePassed)
	require.Positive(t, res.Score)
}

func TestEvaluateMatch_AuthorGate(t *testing.T) {
	r := New()

	withGate := r.EvaluateMatch(
		"Dungeon Crawler Carl",
		"Matt Dinniman",
		"Dungeon Crawler Carl Unabridged",
		true,
	)
	withoutGate := r.EvaluateMatch(
		"Dungeon Crawler Carl",
		"Matt Dinniman",
		"Dungeon Crawler Carl Unabridged",
		false,
	)

	require.False(t, withGate.AuthorPassed)
	require.Zero(t, withGate.Score, "required author missing zeroes the match")
	require.Positive(t, withoutGate.Score, "without the gate the title still scores")
	require.Less(t, withoutGate.Score, 45.0)
}

func TestEvaluateMatch_MultipleAuthorsScoreProportionally(t *testing.T) {
	r := New()

	res := r.EvaluateMatch(
		"Good Omens",
		"Neil Gaiman & Terry Pratchett",
		"Good Omens - Neil Gaiman [M4B]",
		true,
	)

	require.True(t, res.AuthorPassed, "one of two credited authors is enough for the gate")
	require.True(t, res.CompleteTitle)
	require.Equal(t, 7.5, res.AuthorScore, "one of two authors named pays half the author score")
	require.Equal(t, 52.5, res.Score)
}

func TestEvaluateMatch_RoleCreditsAreNotAuthors(t *testing.T) {
	r := New()

	res := r.EvaluateMatch(
		"Dungeon Crawler Carl",
		"Matt Dinniman - narrator",
		"Dungeon Crawler Carl - Matt Dinniman",
		true,
	)

	require.True(t, res.AuthorPassed)
	require.Equal(t, 15.0, res.AuthorScore, "the narrator credit must not dilute the proportion")
}

func TestEvaluateMatch_AuthorLastFirstOrder(t *testing.T) {
	r := New()

	res := r.EvaluateMatch(
		"We Are Legion (We Are Bob)",
		"Dennis E. Taylor",
		"Taylor, Dennis E. - We Are Legion (We Are Bob) [Unabridged]",
		true,
	)

	require.True(t, res.AuthorPassed, "first and last name near each other pass the gate")
	require.True(t, res.CompleteTitle)
	require.Positive(t, res.AuthorScore)
	require.Less(t, res.AuthorScore, 15.0, "reordered names score below an exact credit")
}

func TestEvaluateMatch_AuthorMisspelled(t *testing.T) {
	r := New()

	res := r.EvaluateMatch(
		"We Are Legion (We Are Bob)",
		"Dennis E. Taylor",
		"We Are Legion (We Are Bob) Unabridged by Dennis E. Tailor",
		true,
	)

	require.True(t, res.AuthorPassed, "a single-letter misspelling stays above the fuzzy threshold")
	require.Positive(t, res.AuthorScore)
	require.Less(t, res.AuthorScore, 15.0, "a misspelled credit is not an exact one")
}

func TestEvaluateMatch_DiacriticsFold(t *testing.T) {
	r := New()

	res := r.EvaluateMatch(
		"La Sombra del Viento",
		"Carlos Ruiz Zafón",
		"Carlos Ruiz Zafon - La Sombra del Viento (Unabridged)",
		true,
	)

	require.True(t, res.AuthorPassed, "accented and plain spellings normalize to the same text")
	require.True(t, res.CompleteTitle)
}

func TestRequiredPortion(t *testing.T) {
	require.Equal(t, "We Are Legion", requiredPortion("We Are Legion (We Are Bob)"))
	require.Equal(t, "Title", requiredPortion("Title [Dramatized] {Part 1}"))
	require.Equal(t, "No Brackets", requiredPortion("No Brackets"))
}

func TestCompleteTitleMatch_MidWordOccurrence(t *testing.T) {
	require.False(t, completeTitleMatch("art of war", "", "start of war"), "occurrences inside a word do not count")
	require.False(t, completeTitleMatch("deep work", "", "deep works"), "a trailing fragment is not a metadata marker")
	require.True(t, completeTitleMatch("art of war", "", "art of war"))
}

func TestCompleteTitleMatch_LaterOccurrenceWins(t *testing.T) {
	// The first occurrence has plain words after it, the second sits behind
	// a separator. Scanning must not stop at the first.
	require.True(t, completeTitleMatch("deep work", "", "deep work summary - deep work"))
}

func TestLevenshteinSimilarity(t *testing.T) {
	require.Equal(t, 1.0, levenshteinSimilarity("same", "same"))
	require.Zero(t, levenshteinSimilarity("", "anything"))
	require.InDelta(t, 0.75, levenshteinSimilarity("abcd", "abce"), 1e-9)
}
