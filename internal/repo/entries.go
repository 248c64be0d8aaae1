package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// InsertMoodEntry appends a mood record, assigning the write-time
// timestamp server-side.
func (r *PostgresRepository) InsertMoodEntry(ctx context.Context, entry MoodEntry) (*MoodEntry, error) {
	const q = `
INSERT INTO mood_entries (user_id, mood_score, trigger_text, thought_text)
VALUES ($1, $2, $3, $4)
RETURNING id, created_at;
`
	err := r.pool.QueryRow(ctx, q,
		entry.UserID,
		entry.MoodScore,
		entry.TriggerText,
		entry.ThoughtText,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert mood entry: %w", err)
	}
	return &entry, nil
}

// ListEntries returns a user's mood entries newest-first. A zero since
// value returns the full history.
func (r *PostgresRepository) ListEntries(ctx context.Context, tgID int64, since time.Time) ([]MoodEntry, error) {
	const q = `
SELECT id, user_id, created_at, mood_score, trigger_text, thought_text
FROM mood_entries
WHERE user_id = $1 AND ($2::timestamptz IS NULL OR created_at >= $2)
ORDER BY created_at DESC;
`
	var sinceArg *time.Time
	if !since.IsZero() {
		sinceArg = &since
	}
	rows, err := r.pool.Query(ctx, q, tgID, sinceArg)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []MoodEntry
	for rows.Next() {
		var e MoodEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.CreatedAt, &e.MoodScore, &e.TriggerText, &e.ThoughtText); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// LatestEntrySince returns the newest entry at or after since, or
// ErrNotFound when the window is empty.
func (r *PostgresRepository) LatestEntrySince(ctx context.Context, tgID int64, since time.Time) (*MoodEntry, error) {
	const q = `
SELECT id, user_id, created_at, mood_score, trigger_text, thought_text
FROM mood_entries
WHERE user_id = $1 AND created_at >= $2
ORDER BY created_at DESC
LIMIT 1;
`
	row := r.pool.QueryRow(ctx, q, tgID, since)
	var e MoodEntry
	if err := row.Scan(&e.ID, &e.UserID, &e.CreatedAt, &e.MoodScore, &e.TriggerText, &e.ThoughtText); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("latest entry: %w", err)
	}
	return &e, nil
}

// EntryStats aggregates a user's full mood history. A user with no
// entries yields zero-valued stats, not an error.
func (r *PostgresRepository) EntryStats(ctx context.Context, tgID int64) (*UserStats, error) {
	const q = `
SELECT COUNT(*),
       COALESCE(ROUND(AVG(mood_score)::numeric, 2), 0),
       COALESCE(MIN(mood_score), 0),
       COALESCE(MAX(mood_score), 0),
       MIN(created_at),
       MAX(created_at)
FROM mood_entries
WHERE user_id = $1;
`
	var st UserStats
	err := r.pool.QueryRow(ctx, q, tgID).Scan(
		&st.TotalEntries,
		&st.AverageMood,
		&st.MinMood,
		&st.MaxMood,
		&st.FirstEntryAt,
		&st.LastEntryAt,
	)
	if err != nil {
		return nil, fmt.Errorf("entry stats: %w", err)
	}
	return &st, nil
}
