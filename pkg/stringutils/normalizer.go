// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package stringutils provides cached string normalization used by matching
// code paths that normalize the same values repeatedly.
package stringutils

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer memoizes a normalization function. Matching sweeps normalize
// the same titles and author names over and over; the cache keeps that off
// the hot path.
type Normalizer[K comparable, V any] struct {
	mu         sync.RWMutex
	cache      map[K]V
	maxEntries int
	fn         func(K) V
}

// NewNormalizer creates a Normalizer around fn. maxEntries bounds the cache;
// when full the cache is reset rather than evicted entry by entry.
func NewNormalizer[K comparable, V any](maxEntries int, fn func(K) V) *Normalizer[K, V] {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	return &Normalizer[K, V]{
		cache:      make(map[K]V),
		maxEntries: maxEntries,
		fn:         fn,
	}
}

func (n *Normalizer[K, V]) Normalize(key K) V {
	n.mu.RLock()
	if v, ok := n.cache[key]; ok {
		n.mu.RUnlock()
		return v
	}
	n.mu.RUnlock()

	v := n.fn(key)

	n.mu.Lock()
	if len(n.cache) >= n.maxEntries {
		n.cache = make(map[K]V, n.maxEntries)
	}
	n.cache[key] = v
	n.mu.Unlock()

	return v
}

// NewDefaultNormalizer returns a cached normalizer suitable for loose text
// comparison: lowercase, diacritics folded, punctuation flattened to spaces,
// whitespace collapsed.
func NewDefaultNormalizer() *Normalizer[string, string] {
	return NewNormalizer(4096, NormalizeText)
}

// NewFlattener returns a cached normalizer around FlattenText for code that
// reads release-name structure and so must keep punctuation.
func NewFlattener() *Normalizer[string, string] {
	return NewNormalizer(4096, FlattenText)
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold strips combining diacritical marks ("Brandon Sánchez" -> "Brandon Sanchez").
// Returns the input unchanged if the transform fails.
func Fold(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		return s
	}
	return folded
}

// NormalizeText lowercases s, folds diacritics, replaces punctuation with
// spaces and collapses runs of whitespace.
func NormalizeText(s string) string {
	s = strings.ToLower(Fold(s))

	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
		default:
			sb.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(sb.String()), " ")
}

// FlattenText lowercases s, folds diacritics and collapses whitespace but
// keeps punctuation intact. Separators and brackets in release names carry
// meaning that NormalizeText would erase.
func FlattenText(s string) string {
	s = strings.ToLower(Fold(s))
	return strings.Join(strings.Fields(s), " ")
}
