package store

import (
	"context"
	"fmt"
	"time"
)

// InsertEvent appends an event to its day bucket. Returns inserted=false
// when an event with the same ID already exists; re-delivery of the same
// underlying notification is an idempotent no-op, never an error.
// An archived bucket is frozen: an event arriving after its date was
// consumed rolls forward to the next unarchived date, so late arrivals
// land in the next publication instead of silently vanishing.
func (s *Store) InsertEvent(ctx context.Context, ev *Event) (bool, error) {
	if ev.ReceivedAt == 0 {
		ev.ReceivedAt = time.Now().UnixMilli()
	}
	if ev.DetailsJSON == "" {
		ev.DetailsJSON = "{}"
	}

	for {
		archived, err := s.IsArchived(ctx, ev.BucketDate)
		if err != nil {
			return false, err
		}
		if !archived {
			break
		}
		d, err := time.Parse("2006-01-02", ev.BucketDate)
		if err != nil {
			return false, fmt.Errorf("insert event: bad bucket date %q: %w", ev.BucketDate, err)
		}
		ev.BucketDate = d.AddDate(0, 0, 1).Format("2006-01-02")
	}

	res, err := s.DB.ExecContext(ctx,
		`INSERT OR IGNORE INTO events (id, event_type, source_repo, actor,
		summary, details_json, bucket_date, occurred_at, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Type, ev.SourceRepo, ev.Actor,
		ev.Summary, ev.DetailsJSON, ev.BucketDate, ev.OccurredAt, ev.ReceivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert event: rows affected: %w", err)
	}
	return n > 0, nil
}

// Bucket returns all events for one UTC date, ordered by arrival.
// An empty slice means no activity was recorded for that date.
func (s *Store) Bucket(ctx context.Context, date string) ([]*Event, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, event_type, source_repo, actor, summary, details_json,
		bucket_date, occurred_at, received_at
		FROM events WHERE bucket_date = ?
		ORDER BY received_at ASC, id ASC`, date)
	if err != nil {
		return nil, fmt.Errorf("bucket %s: %w", date, err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		var ev Event
		if err := rows.Scan(
			&ev.ID, &ev.Type, &ev.SourceRepo, &ev.Actor, &ev.Summary,
			&ev.DetailsJSON, &ev.BucketDate, &ev.OccurredAt, &ev.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// CountsByType returns per-type event counts for one date.
func (s *Store) CountsByType(ctx context.Context, date string) (map[string]int, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM events
		WHERE bucket_date = ? GROUP BY event_type`, date)
	if err != nil {
		return nil, fmt.Errorf("counts %s: %w", date, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

// RecoverableDates returns dates in [since, before) that still need a
// publication cycle: they have events or a cycle row, are not archived,
// and their cycle has not reached a terminal state. Oldest first, so the
// recovery pass replays missed days in calendar order.
func (s *Store) RecoverableDates(ctx context.Context, since, before string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT DISTINCT d FROM (
			SELECT bucket_date AS d FROM events
			UNION
			SELECT bucket_date AS d FROM cycles
		)
		WHERE d >= ? AND d < ?
		  AND d NOT IN (SELECT bucket_date FROM archives)
		  AND d NOT IN (SELECT bucket_date FROM cycles
		                WHERE state IN (?, ?, ?))
		ORDER BY d ASC`,
		since, before, StateCompleted, StateSkipped, StateFailed)
	if err != nil {
		return nil, fmt.Errorf("recoverable dates: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// Archive marks a bucket as consumed. A second call for the same date
// returns ErrAlreadyArchived without modifying anything; archiving never
// mutates the bucket's events.
func (s *Store) Archive(ctx context.Context, date string, eventCount int) error {
	res, err := s.DB.ExecContext(ctx,
		`INSERT OR IGNORE INTO archives (bucket_date, event_count, archived_at)
		VALUES (?, ?, ?)`, date, eventCount, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("archive %s: %w", date, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive %s: rows affected: %w", date, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyArchived, date)
	}
	return nil
}

// IsArchived reports whether a date's bucket has been archived.
func (s *Store) IsArchived(ctx context.Context, date string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM archives WHERE bucket_date = ?`, date).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("is archived %s: %w", date, err)
	}
	return n > 0, nil
}
