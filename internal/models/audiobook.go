// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aronjanosch/readmeabook/internal/dbinterface"
)

var ErrAudiobookNotFound = errors.New("audiobook not found")

// AudiobookStatus is the library lifecycle of the book itself, independent
// of any single request.
type AudiobookStatus string

const (
	AudiobookWanted     AudiobookStatus = "wanted"
	AudiobookDownloaded AudiobookStatus = "downloaded"
	AudiobookAvailable  AudiobookStatus = "available"
)

type Audiobook struct {
	ID             int             `json:"id"`
	Title          string          `json:"title"`
	Author         string          `json:"author"`
	Narrator       string          `json:"narrator,omitempty"`
	ASIN           string          `json:"asin,omitempty"`
	Year           int             `json:"year,omitempty"`
	Series         string          `json:"series,omitempty"`
	SeriesPart     float64         `json:"seriesPart,omitempty"`
	RuntimeMinutes int             `json:"runtimeMinutes,omitempty"`
	FilePath       string          `json:"filePath,omitempty"`
	Fingerprint    string          `json:"fingerprint,omitempty"`
	Status         AudiobookStatus `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

type AudiobookStore struct {
	db dbinterface.Querier
}

func NewAudiobookStore(db dbinterface.Querier) *AudiobookStore {
	return &AudiobookStore{db: db}
}

// CreateAudiobookInput carries caller-supplied catalog metadata.
type CreateAudiobookInput struct {
	Title          string  `json:"title"`
	Author         string  `json:"author"`
	Narrator       string  `json:"narrator"`
	ASIN           string  `json:"asin"`
	Year           int     `json:"year"`
	Series         string  `json:"series"`
	SeriesPart     float64 `json:"seriesPart"`
	RuntimeMinutes int     `json:"runtimeMinutes"`
}

func (in *CreateAudiobookInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return errors.New("title is required")
	}
	if strings.TrimSpace(in.Author) == "" {
		return errors.New("author is required")
	}
	return nil
}

const audiobookColumns = `id, title, author, narrator, asin, year, series, series_part,
	runtime_minutes, file_path, fingerprint, status, created_at, updated_at`

// FindOrCreate resolves the audiobook by ASIN when one is supplied,
// creating it otherwise. Metadata on an existing row is left untouched.
func (s *AudiobookStore) FindOrCreate(ctx context.Context, input CreateAudiobookInput) (*Audiobook, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	if asin := strings.TrimSpace(input.ASIN); asin != "" {
		existing, err := s.GetByASIN(ctx, asin)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrAudiobookNotFound) {
			return nil, err
		}
	}

	return s.Create(ctx, input)
}

func (s *AudiobookStore) Create(ctx context.Context, input CreateAudiobookInput) (*Audiobook, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	var asin any
	if v := strings.TrimSpace(input.ASIN); v != "" {
		asin = v
	}
	var year any
	if input.Year > 0 {
		year = input.Year
	}
	var seriesPart any
	if input.SeriesPart > 0 {
		seriesPart = input.SeriesPart
	}
	var runtime any
	if input.RuntimeMinutes > 0 {
		runtime = input.RuntimeMinutes
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audiobooks (title, author, narrator, asin, year, series, series_part, runtime_minutes, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, strings.TrimSpace(input.Title), strings.TrimSpace(input.Author), strings.TrimSpace(input.Narrator),
		asin, year, strings.TrimSpace(input.Series), seriesPart, runtime, AudiobookWanted)
	if err != nil {
		return nil, fmt.Errorf("failed to create audiobook: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, int(id))
}

func (s *AudiobookStore) Get(ctx context.Context, id int) (*Audiobook, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+audiobookColumns+` FROM audiobooks WHERE id = ?`, id)

	ab, err := scanAudiobook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAudiobookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audiobook: %w", err)
	}
	return ab, nil
}

func (s *AudiobookStore) GetByASIN(ctx context.Context, asin string) (*Audiobook, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+audiobookColumns+` FROM audiobooks WHERE asin = ?`, asin)

	ab, err := scanAudiobook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAudiobookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audiobook by asin: %w", err)
	}
	return ab, nil
}

// MarkDownloaded records where the organized files landed and their
// content fingerprint.
func (s *AudiobookStore) MarkDownloaded(ctx context.Context, id int, filePath, fingerprint string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE audiobooks
		SET file_path = ?, fingerprint = ?, status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, filePath, fingerprint, AudiobookDownloaded, id)
	if err != nil {
		return fmt.Errorf("failed to mark audiobook downloaded: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAudiobookNotFound
	}
	return nil
}

func (s *AudiobookStore) SetStatus(ctx context.Context, id int, status AudiobookStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE audiobooks SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, status, id)
	if err != nil {
		return fmt.Errorf("failed to set audiobook status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAudiobookNotFound
	}
	return nil
}

func scanAudiobook(row rowScanner) (*Audiobook, error) {
	var (
		ab         Audiobook
		asin       sql.NullString
		year       sql.NullInt64
		seriesPart sql.NullFloat64
		runtime    sql.NullInt64
	)
	err := row.Scan(
		&ab.ID, &ab.Title, &ab.Author, &ab.Narrator, &asin, &year, &ab.Series,
		&seriesPart, &runtime, &ab.FilePath, &ab.Fingerprint, &ab.Status,
		&ab.CreatedAt, &ab.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if asin.Valid {
		ab.ASIN = asin.String
	}
	if year.Valid {
		ab.Year = int(year.Int64)
	}
	if seriesPart.Valid {
		ab.SeriesPart = seriesPart.Float64
	}
	if runtime.Valid {
		ab.RuntimeMinutes = int(runtime.Int64)
	}
	return &ab, nil
}
