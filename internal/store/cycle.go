package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetCycle retrieves the cycle record for a date, or nil if none exists.
func (s *Store) GetCycle(ctx context.Context, date string) (*Cycle, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT bucket_date, state, summary, published_id, fail_count,
		last_error, created_at, updated_at
		FROM cycles WHERE bucket_date = ?`, date)

	var cy Cycle
	err := row.Scan(
		&cy.BucketDate, &cy.State, &cy.Summary, &cy.PublishedID,
		&cy.FailCount, &cy.LastError, &cy.CreatedAt, &cy.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan cycle: %w", err)
	}
	return &cy, nil
}

// EnsureCycle creates the cycle row for a date in the due state if it does
// not exist yet, and returns the current record either way.
func (s *Store) EnsureCycle(ctx context.Context, date string) (*Cycle, error) {
	now := time.Now().UnixMilli()
	_, err := s.DB.ExecContext(ctx,
		`INSERT OR IGNORE INTO cycles (bucket_date, state, created_at, updated_at)
		VALUES (?, ?, ?, ?)`, date, StateDue, now, now)
	if err != nil {
		return nil, fmt.Errorf("ensure cycle %s: %w", date, err)
	}
	return s.GetCycle(ctx, date)
}

// SetCycleState transitions a cycle to the given state.
func (s *Store) SetCycleState(ctx context.Context, date, state string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE cycles SET state = ?, updated_at = ? WHERE bucket_date = ?`,
		state, time.Now().UnixMilli(), date)
	if err != nil {
		return fmt.Errorf("set cycle state %s→%s: %w", date, state, err)
	}
	return nil
}

// SetCycleSummary stores the generated summary text on the cycle so an
// awaiting-review cycle can resume after a restart without regenerating.
func (s *Store) SetCycleSummary(ctx context.Context, date, summary string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE cycles SET summary = ?, updated_at = ? WHERE bucket_date = ?`,
		summary, time.Now().UnixMilli(), date)
	if err != nil {
		return fmt.Errorf("set cycle summary %s: %w", date, err)
	}
	return nil
}

// CompleteCycle marks a cycle completed and records the publication ID.
func (s *Store) CompleteCycle(ctx context.Context, date, publishedID string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE cycles SET state = ?, published_id = ?, last_error = '', updated_at = ?
		WHERE bucket_date = ?`,
		StateCompleted, publishedID, time.Now().UnixMilli(), date)
	if err != nil {
		return fmt.Errorf("complete cycle %s: %w", date, err)
	}
	return nil
}

// RecordCycleFailure increments the failure count, stores the error, and
// moves the cycle back to due so the next trigger or recovery pass retries
// it. Once the count reaches maxFailures the cycle goes to failed and stays
// there until an operator resets it. Returns the new failure count.
func (s *Store) RecordCycleFailure(ctx context.Context, date, errMsg string, maxFailures int) (int, error) {
	cy, err := s.EnsureCycle(ctx, date)
	if err != nil {
		return 0, err
	}
	count := cy.FailCount + 1
	state := StateDue
	if count >= maxFailures {
		state = StateFailed
	}
	_, err = s.DB.ExecContext(ctx,
		`UPDATE cycles SET state = ?, fail_count = ?, last_error = ?, updated_at = ?
		WHERE bucket_date = ?`,
		state, count, errMsg, time.Now().UnixMilli(), date)
	if err != nil {
		return 0, fmt.Errorf("record cycle failure %s: %w", date, err)
	}
	return count, nil
}

// FailCycle moves a cycle straight to failed, bypassing the retry budget.
// Used for permanent collaborator errors where retrying cannot help.
func (s *Store) FailCycle(ctx context.Context, date, errMsg string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE cycles SET state = ?, last_error = ?, updated_at = ?
		WHERE bucket_date = ?`,
		StateFailed, errMsg, time.Now().UnixMilli(), date)
	if err != nil {
		return fmt.Errorf("fail cycle %s: %w", date, err)
	}
	return nil
}

// ResetCycle clears a failed cycle back to due with a zero failure count.
// Operator action: the cycle is picked up by the next recovery pass.
func (s *Store) ResetCycle(ctx context.Context, date string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE cycles SET state = ?, fail_count = 0, last_error = '', updated_at = ?
		WHERE bucket_date = ?`,
		StateDue, time.Now().UnixMilli(), date)
	if err != nil {
		return fmt.Errorf("reset cycle %s: %w", date, err)
	}
	return nil
}

// LastCycleByState returns the most recent cycle date in the given state,
// or empty string if none. Used by the health endpoint.
func (s *Store) LastCycleByState(ctx context.Context, state string) (string, error) {
	var date string
	err := s.DB.QueryRowContext(ctx,
		`SELECT bucket_date FROM cycles WHERE state = ?
		ORDER BY bucket_date DESC LIMIT 1`, state).Scan(&date)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("last cycle by state: %w", err)
	}
	return date, nil
}
