package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertReview creates a pending review request for a date. The UNIQUE
// constraint on bucket_date guarantees at most one review per cycle.
func (s *Store) InsertReview(ctx context.Context, rev *Review) error {
	if rev.CreatedAt == 0 {
		rev.CreatedAt = time.Now().UnixMilli()
	}
	if rev.Resolution == "" {
		rev.Resolution = ResolutionPending
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO reviews (id, bucket_date, summary, resolution, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rev.ID, rev.BucketDate, rev.Summary, rev.Resolution, rev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// GetReviewByDate retrieves the review for a date, or nil if none exists.
func (s *Store) GetReviewByDate(ctx context.Context, date string) (*Review, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, bucket_date, summary, resolution, created_at, resolved_at
		FROM reviews WHERE bucket_date = ?`, date)
	return scanReview(row)
}

// ResolveReview records the human decision on a pending review. Resolving
// an already-resolved review returns an error so the caller can surface the
// double resolution instead of silently re-running the cycle.
func (s *Store) ResolveReview(ctx context.Context, date string, approved bool) (*Review, error) {
	resolution := ResolutionRejected
	if approved {
		resolution = ResolutionApproved
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE reviews SET resolution = ?, resolved_at = ?
		WHERE bucket_date = ? AND resolution = ?`,
		resolution, time.Now().UnixMilli(), date, ResolutionPending)
	if err != nil {
		return nil, fmt.Errorf("resolve review %s: %w", date, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("resolve review %s: rows affected: %w", date, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("no pending review for %s", date)
	}
	return s.GetReviewByDate(ctx, date)
}

// PendingReviews returns all unresolved reviews, oldest first.
func (s *Store) PendingReviews(ctx context.Context) ([]*Review, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, bucket_date, summary, resolution, created_at, resolved_at
		FROM reviews WHERE resolution = ? ORDER BY created_at ASC`,
		ResolutionPending)
	if err != nil {
		return nil, fmt.Errorf("pending reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*Review
	for rows.Next() {
		var rev Review
		if err := rows.Scan(&rev.ID, &rev.BucketDate, &rev.Summary,
			&rev.Resolution, &rev.CreatedAt, &rev.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, &rev)
	}
	return reviews, rows.Err()
}

func scanReview(row *sql.Row) (*Review, error) {
	var rev Review
	err := row.Scan(&rev.ID, &rev.BucketDate, &rev.Summary,
		&rev.Resolution, &rev.CreatedAt, &rev.ResolvedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan review: %w", err)
	}
	return &rev, nil
}
