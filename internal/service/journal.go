package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// JournalEntry is one recorded overlay or identify request event.
type JournalEntry struct {
	ID         int64     `json:"id"`
	At         time.Time `json:"at"`
	Overlay    string    `json:"overlay"`
	Kind       string    `json:"kind"`
	Generation uint64    `json:"generation,omitempty"`
	URL        string    `json:"url,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Journal logs requests to the DuckDB "requests" table. A nil Journal
// discards everything.
type Journal struct {
	db *sql.DB
}

// NewJournal creates the requests table if needed.
func NewJournal(ctx context.Context, db *sql.DB) (*Journal, error) {
	stmts := []string{
		`CREATE SEQUENCE IF NOT EXISTS requests_id_seq`,
		`CREATE TABLE IF NOT EXISTS requests (
			id BIGINT PRIMARY KEY DEFAULT nextval('requests_id_seq'),
			at TIMESTAMP NOT NULL,
			overlay VARCHAR NOT NULL,
			kind VARCHAR NOT NULL,
			generation BIGINT,
			url VARCHAR,
			error VARCHAR
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create journal: %w", err)
		}
	}
	return &Journal{db: db}, nil
}

// Record appends e.
func (j *Journal) Record(ctx context.Context, e JournalEntry) error {
	if j == nil {
		return nil
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO requests (at, overlay, kind, generation, url, error) VALUES (?, ?, ?, ?, ?, ?)`,
		e.At.UTC(), e.Overlay, e.Kind, int64(e.Generation), e.URL, e.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", e.Kind, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. An empty overlay
// matches all overlays.
func (j *Journal) Recent(ctx context.Context, overlay string, limit int) ([]JournalEntry, error) {
	entries, _, err := j.Page(ctx, overlay, 0, limit)
	return entries, err
}

// Page returns limit entries starting at offset, newest first, along with
// the total number of matching entries.
func (j *Journal) Page(ctx context.Context, overlay string, offset, limit int) ([]JournalEntry, int, error) {
	if j == nil {
		return []JournalEntry{}, 0, nil
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	where := ""
	var args []any
	if overlay != "" {
		where = ` WHERE overlay = ?`
		args = append(args, overlay)
	}

	var total int
	if err := j.db.QueryRowContext(ctx, `SELECT count(*) FROM requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count journal: %w", err)
	}

	query := `SELECT id, at, overlay, kind, generation, url, error FROM requests` + where +
		fmt.Sprintf(` ORDER BY id DESC LIMIT %d OFFSET %d`, limit, offset)
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	entries := []JournalEntry{}
	for rows.Next() {
		var (
			e          JournalEntry
			generation sql.NullInt64
			url, msg   sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.At, &e.Overlay, &e.Kind, &generation, &url, &msg); err != nil {
			return nil, 0, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		e.Generation = uint64(generation.Int64)
		e.URL = url.String
		e.Error = msg.String
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// JournalStat counts the entries of one kind for one overlay.
type JournalStat struct {
	Overlay string    `json:"overlay"`
	Kind    string    `json:"kind"`
	Count   int       `json:"count"`
	Errors  int       `json:"errors"`
	Last    time.Time `json:"last"`
}

// Stats aggregates the journal per overlay and kind.
func (j *Journal) Stats(ctx context.Context) ([]JournalStat, error) {
	stats := []JournalStat{}
	if j == nil {
		return stats, nil
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT overlay, kind, count(*), count(*) FILTER (WHERE error <> ''), max(at)
		FROM requests
		GROUP BY overlay, kind
		ORDER BY overlay, kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate journal: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st JournalStat
		if err := rows.Scan(&st.Overlay, &st.Kind, &st.Count, &st.Errors, &st.Last); err != nil {
			return nil, fmt.Errorf("failed to scan journal stat: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
