// Package gate implements the optional human-approval checkpoint between
// summary generation and publication.
//
// A gated cycle is parked as an awaiting-review state record, not a blocked
// goroutine: SubmitForReview returns immediately and the cycle resumes only
// when Resolve is invoked out-of-band (HTTP endpoint or Telegram callback).
// A pending review therefore never stalls the scheduler or other dates.
package gate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazyhaar/gazette/idgen"
	"github.com/hazyhaar/gazette/internal/store"
)

// ErrRejected is returned by SubmitForReview when the date's review was
// already resolved rejected; the cycle must close as skipped, not retry.
var ErrRejected = errors.New("gate: review rejected")

// Resumer is invoked after a review is resolved, with the human decision.
// The orchestrator wires this to the publish-or-skip continuation.
type Resumer func(ctx context.Context, date string, approved bool) error

// Notifier pushes a pending review to a human channel. Optional; a nil
// notifier means reviews are only discoverable through the HTTP surface.
type Notifier interface {
	NotifyReview(ctx context.Context, rev *store.Review) error
}

// Gate is the publication approval checkpoint.
type Gate struct {
	store    *store.Store
	enabled  bool
	resume   Resumer
	notifier Notifier
	newID    idgen.Generator
	logger   *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithNotifier sets the review notification channel.
func WithNotifier(n Notifier) Option {
	return func(g *Gate) { g.notifier = n }
}

// WithIDGenerator overrides the review handle generator.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(g *Gate) { g.newID = gen }
}

// New creates a Gate. When enabled is false every submission auto-approves.
func New(st *store.Store, enabled bool, resume Resumer, logger *slog.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		store:   st,
		enabled: enabled,
		resume:  resume,
		newID:   idgen.Prefixed("rev_", idgen.Default),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Enabled reports whether human review is required.
func (g *Gate) Enabled() bool { return g.enabled }

// SubmitForReview routes a generated summary through the gate.
// Disabled gate: returns approved=true and the cycle proceeds immediately.
// Enabled gate: records a pending review, pings the notifier, and returns
// approved=false; the cycle stays parked until Resolve.
// Re-submitting a date that already has a pending review is a no-op; a
// date whose review was already resolved approved passes straight through,
// so a publish retry after approval does not wait for a second approval.
func (g *Gate) SubmitForReview(ctx context.Context, date, summary string) (approved bool, err error) {
	if !g.enabled {
		return true, nil
	}

	existing, err := g.store.GetReviewByDate(ctx, date)
	if err != nil {
		return false, err
	}
	if existing != nil {
		switch existing.Resolution {
		case store.ResolutionApproved:
			return true, nil
		case store.ResolutionRejected:
			return false, ErrRejected
		default:
			return false, nil
		}
	}

	rev := &store.Review{
		ID:         g.newID(),
		BucketDate: date,
		Summary:    summary,
	}
	if err := g.store.InsertReview(ctx, rev); err != nil {
		return false, err
	}

	if g.notifier != nil {
		if err := g.notifier.NotifyReview(ctx, rev); err != nil {
			// The review still exists and is resolvable over HTTP.
			g.logger.Warn("gate: review notification failed", "date", date, "error", err)
		}
	}
	g.logger.Info("gate: review pending", "date", date, "review_id", rev.ID)
	return false, nil
}

// Resolve records the human decision and resumes the parked cycle.
// approved=false terminates the date's cycle as skipped; it is the only
// externally triggered early termination and it is idempotent at the store.
func (g *Gate) Resolve(ctx context.Context, date string, approved bool) error {
	rev, err := g.store.ResolveReview(ctx, date, approved)
	if err != nil {
		return err
	}
	g.logger.Info("gate: review resolved", "date", date, "resolution", rev.Resolution)

	if g.resume == nil {
		return nil
	}
	return g.resume(ctx, date, approved)
}

// Approved reports whether the date already carries a review resolved
// approved. Always false when the gate is disabled.
func (g *Gate) Approved(ctx context.Context, date string) (bool, error) {
	if !g.enabled {
		return false, nil
	}
	rev, err := g.store.GetReviewByDate(ctx, date)
	if err != nil || rev == nil {
		return false, err
	}
	return rev.Resolution == store.ResolutionApproved, nil
}

// Pending returns all unresolved reviews, oldest first.
func (g *Gate) Pending(ctx context.Context) ([]*store.Review, error) {
	return g.store.PendingReviews(ctx)
}
