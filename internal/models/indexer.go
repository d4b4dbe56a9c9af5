// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aronjanosch/readmeabook/internal/dbinterface"
)

var ErrIndexerNotFound = errors.New("indexer not found")

// IndexerConfig mirrors one indexer behind the aggregator plus local
// behavior knobs. The id is the aggregator's indexer id so search results
// and feed fetches line up without a mapping table.
type IndexerConfig struct {
	ID                    int       `json:"id"`
	Name                  string    `json:"name"`
	Protocol              Protocol  `json:"protocol"`
	Priority              int       `json:"priority"`
	SeedingTimeMinutes    int       `json:"seedingTimeMinutes"`
	RemoveAfterProcessing bool      `json:"removeAfterProcessing"`
	RSSEnabled            bool      `json:"rssEnabled"`
	Categories            []int     `json:"categories"`
	Enabled               bool      `json:"enabled"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// DefaultIndexerPriority applies when a candidate's indexer is unknown.
const DefaultIndexerPriority = 10

func (c *IndexerConfig) Validate() error {
	if c.ID <= 0 {
		return errors.New("indexer id is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("indexer name is required")
	}
	switch c.Protocol {
	case ProtocolTorrent, ProtocolUsenet:
	default:
		return fmt.Errorf("invalid protocol %q", c.Protocol)
	}
	if c.Priority < 1 || c.Priority > 25 {
		return fmt.Errorf("priority must be between 1 and 25, got %d", c.Priority)
	}
	if c.SeedingTimeMinutes < 0 {
		return errors.New("seedingTimeMinutes cannot be negative")
	}
	if c.RemoveAfterProcessing && c.Protocol != ProtocolUsenet {
		return errors.New("removeAfterProcessing only applies to usenet indexers")
	}
	return nil
}

type IndexerStore struct {
	db dbinterface.Querier
}

func NewIndexerStore(db dbinterface.Querier) *IndexerStore {
	return &IndexerStore{db: db}
}

const indexerColumns = `id, name, protocol, priority, seeding_time_minutes, remove_after_processing,
	rss_enabled, categories, enabled, created_at, updated_at`

func (s *IndexerStore) Create(ctx context.Context, cfg *IndexerConfig) (*IndexerConfig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	categories, err := json.Marshal(cfg.Categories)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal categories: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO indexers (id, name, protocol, priority, seeding_time_minutes, remove_after_processing,
		                      rss_enabled, categories, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cfg.ID, strings.TrimSpace(cfg.Name), cfg.Protocol, cfg.Priority, cfg.SeedingTimeMinutes,
		cfg.RemoveAfterProcessing, cfg.RSSEnabled, string(categories), cfg.Enabled)
	if err != nil {
		return nil, fmt.Errorf("failed to create indexer: %w", err)
	}

	return s.Get(ctx, cfg.ID)
}

func (s *IndexerStore) Update(ctx context.Context, cfg *IndexerConfig) (*IndexerConfig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	categories, err := json.Marshal(cfg.Categories)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal categories: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE indexers
		SET name = ?, protocol = ?, priority = ?, seeding_time_minutes = ?, remove_after_processing = ?,
		    rss_enabled = ?, categories = ?, enabled = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, strings.TrimSpace(cfg.Name), cfg.Protocol, cfg.Priority, cfg.SeedingTimeMinutes,
		cfg.RemoveAfterProcessing, cfg.RSSEnabled, string(categories), cfg.Enabled, cfg.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update indexer: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrIndexerNotFound
	}

	return s.Get(ctx, cfg.ID)
}

func (s *IndexerStore) Get(ctx context.Context, id int) (*IndexerConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+indexerColumns+` FROM indexers WHERE id = ?`, id)

	cfg, err := scanIndexer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIndexerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get indexer: %w", err)
	}
	return cfg, nil
}

func (s *IndexerStore) List(ctx context.Context) ([]*IndexerConfig, error) {
	return s.list(ctx, `SELECT `+indexerColumns+` FROM indexers ORDER BY name`)
}

func (s *IndexerStore) ListEnabled(ctx context.Context) ([]*IndexerConfig, error) {
	return s.list(ctx, `SELECT `+indexerColumns+` FROM indexers WHERE enabled = 1 ORDER BY name`)
}

// ListRSSEnabled returns enabled indexers participating in feed sweeps.
func (s *IndexerStore) ListRSSEnabled(ctx context.Context) ([]*IndexerConfig, error) {
	return s.list(ctx, `SELECT `+indexerColumns+` FROM indexers WHERE enabled = 1 AND rss_enabled = 1 ORDER BY name`)
}

func (s *IndexerStore) list(ctx context.Context, query string) ([]*IndexerConfig, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexers: %w", err)
	}
	defer rows.Close()

	var out []*IndexerConfig
	for rows.Next() {
		cfg, err := scanIndexer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *IndexerStore) Delete(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM indexers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete indexer: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrIndexerNotFound
	}
	return nil
}

func scanIndexer(row rowScanner) (*IndexerConfig, error) {
	var (
		cfg            IndexerConfig
		categoriesJSON string
	)
	err := row.Scan(
		&cfg.ID, &cfg.Name, &cfg.Protocol, &cfg.Priority, &cfg.SeedingTimeMinutes,
		&cfg.RemoveAfterProcessing, &cfg.RSSEnabled, &categoriesJSON, &cfg.Enabled,
		&cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if categoriesJSON != "" {
		if err := json.Unmarshal([]byte(categoriesJSON), &cfg.Categories); err != nil {
			cfg.Categories = nil
		}
	}
	return &cfg, nil
}
