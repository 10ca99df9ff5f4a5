package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vidsniff/work/types"
)

// timeLayout is fixed width so finished_at sorts as text
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ProviderStats aggregates history for one resolving provider
type ProviderStats struct {
	Provider string `json:"provider"`
	Found    int    `json:"found"`
}

// HistoryStats summarises sniff history
type HistoryStats struct {
	Sessions      int             `json:"sessions"`
	Found         int             `json:"found"`
	AvgDurationMS int64           `json:"avgDurationMs"`
	ByProvider    []ProviderStats `json:"byProvider"`
}

// RecordSniff stores one finished session
func (db *DB) RecordSniff(ctx context.Context, rec types.SniffRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sniff_history (
			session_key, media_type, provider, stream_url, found, attempts, duration_ms, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.Key, string(rec.MediaType), rec.Provider, rec.StreamURL, rec.Found, rec.Attempts,
		rec.Duration.Milliseconds(), rec.FinishedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to record sniff: %w", err)
	}
	return nil
}

// RecentHistory returns the latest sessions, newest first
func (db *DB) RecentHistory(ctx context.Context, limit int) ([]types.SniffRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := db.QueryContext(ctx, `
		SELECT session_key, media_type, provider, stream_url, found, attempts, duration_ms, finished_at
		FROM sniff_history
		ORDER BY finished_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	records := []types.SniffRecord{}
	for rows.Next() {
		var (
			rec        types.SniffRecord
			mediaType  string
			durationMS int64
			finishedAt string
		)
		if err := rows.Scan(&rec.Key, &mediaType, &rec.Provider, &rec.StreamURL, &rec.Found,
			&rec.Attempts, &durationMS, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		rec.MediaType = types.MediaType(mediaType)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.FinishedAt, _ = time.Parse(timeLayout, finishedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LastFound returns the most recent stream URL found for a session key
func (db *DB) LastFound(ctx context.Context, key string) (string, bool, error) {
	var streamURL string
	err := db.QueryRowContext(ctx, `
		SELECT stream_url FROM sniff_history
		WHERE session_key = ? AND found = 1
		ORDER BY finished_at DESC, id DESC LIMIT 1
	`, key).Scan(&streamURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to query history: %w", err)
	}
	return streamURL, true, nil
}

// Stats aggregates the whole history
func (db *DB) Stats(ctx context.Context) (HistoryStats, error) {
	var stats HistoryStats
	var avg float64
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(found), 0), COALESCE(AVG(duration_ms), 0)
		FROM sniff_history
	`).Scan(&stats.Sessions, &stats.Found, &avg)
	if err != nil {
		return stats, fmt.Errorf("failed to aggregate history: %w", err)
	}
	stats.AvgDurationMS = int64(avg)

	rows, err := db.QueryContext(ctx, `
		SELECT provider, COUNT(*) FROM sniff_history
		WHERE found = 1
		GROUP BY provider
		ORDER BY COUNT(*) DESC, provider
	`)
	if err != nil {
		return stats, fmt.Errorf("failed to aggregate providers: %w", err)
	}
	defer rows.Close()

	stats.ByProvider = []ProviderStats{}
	for rows.Next() {
		var ps ProviderStats
		if err := rows.Scan(&ps.Provider, &ps.Found); err != nil {
			return stats, fmt.Errorf("failed to scan provider stats: %w", err)
		}
		stats.ByProvider = append(stats.ByProvider, ps)
	}
	return stats, rows.Err()
}
