// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"

	"github.com/aronjanosch/readmeabook/internal/services/ranker"
)

// GateRejectExpression marks candidates the operator's filter threw out.
const GateRejectExpression = "rejected by filter expression"

const exprCacheTTL = 5 * time.Minute

// RejectEnv is one candidate as seen by the reject expression. A candidate
// the expression evaluates true for is gated out of automatic selection.
type RejectEnv struct {
	Title    string
	Indexer  string
	Protocol string
	Format   string
	SizeMB   float64
	// Seeders and Leechers are -1 for usenet releases, which have no swarm.
	Seeders  int
	Leechers int
	Flags    []string
}

// rejectFilter gates ranked candidates matching the operator's expression.
// Compiled programs are cached by source text.
type rejectFilter struct {
	programs *ttlcache.Cache[string, *vm.Program]
}

func newRejectFilter() *rejectFilter {
	return &rejectFilter{
		programs: ttlcache.New(ttlcache.Options[string, *vm.Program]{}.SetDefaultTTL(exprCacheTTL)),
	}
}

// Apply marks matching candidates gated. An expression that cannot compile
// is ignored: a typo in settings must not halt acquisition.
func (f *rejectFilter) Apply(ranked []ranker.ScoredCandidate, expression string) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return
	}

	program, err := f.compile(expression)
	if err != nil {
		log.Warn().Err(err).Str("expression", expression).Msg("Ignoring unusable reject expression")
		return
	}

	for i := range ranked {
		if ranked[i].Gated {
			continue
		}
		rejected, err := evaluateReject(program, ranked[i].Candidate)
		if err != nil {
			log.Debug().Err(err).Str("release", ranked[i].Title).
				Msg("Reject expression failed for candidate")
			continue
		}
		if rejected {
			ranked[i].Gated = true
			ranked[i].GateReason = GateRejectExpression
		}
	}
}

func (f *rejectFilter) compile(expression string) (*vm.Program, error) {
	if program, ok := f.programs.Get(expression); ok {
		return program, nil
	}

	program, err := expr.Compile(expression, expr.Env(RejectEnv{}), expr.AsBool())
	if err != nil {
		return nil, err
	}
	f.programs.Set(expression, program, ttlcache.DefaultTTL)
	return program, nil
}

func evaluateReject(program *vm.Program, c ranker.Candidate) (bool, error) {
	seeders, leechers := -1, -1
	if c.Seeders != nil {
		seeders = *c.Seeders
	}
	if c.Leechers != nil {
		leechers = *c.Leechers
	}
	env := RejectEnv{
		Title:    c.Title,
		Indexer:  c.Indexer,
		Protocol: string(c.Protocol),
		Format:   c.Format,
		SizeMB:   float64(c.SizeBytes) / (1024 * 1024),
		Seeders:  seeders,
		Leechers: leechers,
		Flags:    c.Flags,
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, want bool", out)
	}
	return result, nil
}
