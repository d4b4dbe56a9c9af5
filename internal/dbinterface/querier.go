// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dbinterface

import (
	"context"
	"database/sql"
	"strings"
)

// MaxParams stays under SQLite's SQLITE_MAX_VARIABLE_NUMBER (default 999).
// Queries touching more values than this must chunk.
const MaxParams = 900

// Querier is the common surface of *sql.DB and test wrappers. Stores accept
// this instead of a concrete handle.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// TxQuerier is the subset usable both inside and outside a transaction.
// *sql.Tx and anything satisfying Querier both implement it.
type TxQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// BuildQueryWithPlaceholders expands the %s verb in queryTemplate to
// groupCount groups of perGroup placeholders, e.g. perGroup=2, groupCount=3
// yields "(?,?),(?,?),(?,?)". Used for batched VALUES inserts.
func BuildQueryWithPlaceholders(queryTemplate string, perGroup, groupCount int) string {
	var sb strings.Builder
	sb.Grow(groupCount * (perGroup*2 + 2))
	for g := 0; g < groupCount; g++ {
		if g > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(")
		for p := 0; p < perGroup; p++ {
			if p > 0 {
				sb.WriteString(",")
			}
			sb.WriteString("?")
		}
		sb.WriteString(")")
	}
	return strings.Replace(queryTemplate, "%s", sb.String(), 1)
}

// InPlaceholders returns "?,?,?" with n placeholders for IN clauses.
// Callers are responsible for chunking above MaxParams.
func InPlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(n * 2)
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("?")
	}
	return sb.String()
}
