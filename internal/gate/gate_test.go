package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/hazyhaar/gazette/dbopen"
	"github.com/hazyhaar/gazette/internal/store"
	_ "modernc.org/sqlite"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := store.ApplySchema(db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return store.NewStore(db)
}

type resumeCall struct {
	date     string
	approved bool
}

func TestSubmitForReview_DisabledAutoApproves(t *testing.T) {
	// WHAT: With review disabled, submission approves immediately and no
	// review row is created.
	// WHY: The default configuration publishes without human involvement.
	st := openTestStore(t)
	g := New(st, false, nil, nil)
	ctx := context.Background()

	approved, err := g.SubmitForReview(ctx, "2024-06-01", "summary text")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !approved {
		t.Error("disabled gate should auto-approve")
	}

	rev, _ := st.GetReviewByDate(ctx, "2024-06-01")
	if rev != nil {
		t.Error("no review row expected for disabled gate")
	}
}

func TestSubmitForReview_EnabledParks(t *testing.T) {
	// WHAT: With review enabled, submission returns approved=false and a
	// pending review exists; re-submission is a no-op.
	// WHY: The cycle must park as state, not block, until a human decides.
	st := openTestStore(t)
	g := New(st, true, nil, nil)
	ctx := context.Background()

	approved, err := g.SubmitForReview(ctx, "2024-06-01", "summary text")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if approved {
		t.Error("enabled gate should not auto-approve")
	}

	pending, _ := g.Pending(ctx)
	if len(pending) != 1 || pending[0].Summary != "summary text" {
		t.Fatalf("pending: got %v", pending)
	}

	// Duplicate submission (e.g. recovery re-trigger) does not add a second row.
	if _, err := g.SubmitForReview(ctx, "2024-06-01", "summary text"); err != nil {
		t.Fatalf("re-submit: %v", err)
	}
	pending, _ = g.Pending(ctx)
	if len(pending) != 1 {
		t.Errorf("re-submit created extra review: %d", len(pending))
	}
}

func TestResolve_InvokesResumer(t *testing.T) {
	// WHAT: Resolve records the decision and calls the resume continuation
	// with the approval flag.
	// WHY: Resolution is the only path from awaiting-review to a terminal state.
	st := openTestStore(t)
	var calls []resumeCall
	resume := func(ctx context.Context, date string, approved bool) error {
		calls = append(calls, resumeCall{date, approved})
		return nil
	}
	g := New(st, true, resume, nil)
	ctx := context.Background()

	g.SubmitForReview(ctx, "2024-06-01", "x")
	if err := g.Resolve(ctx, "2024-06-01", true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(calls) != 1 || calls[0] != (resumeCall{"2024-06-01", true}) {
		t.Fatalf("resume calls: %v", calls)
	}

	rev, _ := st.GetReviewByDate(ctx, "2024-06-01")
	if rev.Resolution != store.ResolutionApproved {
		t.Errorf("resolution: got %q", rev.Resolution)
	}
}

func TestResolve_RejectionPassesThrough(t *testing.T) {
	st := openTestStore(t)
	var calls []resumeCall
	g := New(st, true, func(ctx context.Context, date string, approved bool) error {
		calls = append(calls, resumeCall{date, approved})
		return nil
	}, nil)
	ctx := context.Background()

	g.SubmitForReview(ctx, "2024-06-01", "x")
	if err := g.Resolve(ctx, "2024-06-01", false); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(calls) != 1 || calls[0].approved {
		t.Fatalf("resume calls: %v", calls)
	}
}

func TestSubmitForReview_ResolvedReviewShortCircuits(t *testing.T) {
	// WHAT: Re-submitting a date whose review is already resolved passes
	// approval through directly, and surfaces a rejection as ErrRejected.
	// WHY: A publish retry after approval must not wait for a second
	// approval or count the resolved review as a failure.
	st := openTestStore(t)
	g := New(st, true, nil, nil)
	ctx := context.Background()

	g.SubmitForReview(ctx, "2024-06-01", "x")
	if err := g.Resolve(ctx, "2024-06-01", true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	approved, err := g.SubmitForReview(ctx, "2024-06-01", "x")
	if err != nil {
		t.Fatalf("re-submit after approval: %v", err)
	}
	if !approved {
		t.Error("approved review should pass the gate on re-submission")
	}

	g.SubmitForReview(ctx, "2024-06-02", "y")
	if err := g.Resolve(ctx, "2024-06-02", false); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := g.SubmitForReview(ctx, "2024-06-02", "y"); !errors.Is(err, ErrRejected) {
		t.Errorf("re-submit after rejection: err = %v, want ErrRejected", err)
	}
}

func TestResolve_WithoutPendingReviewFails(t *testing.T) {
	// WHAT: Resolving a date with no pending review errors.
	// WHY: Stray or duplicate callbacks must not advance any cycle.
	st := openTestStore(t)
	g := New(st, true, nil, nil)

	if err := g.Resolve(context.Background(), "2024-06-01", true); err == nil {
		t.Error("resolve without review should fail")
	}
}

type fakeNotifier struct {
	notified []*store.Review
	err      error
}

func (f *fakeNotifier) NotifyReview(ctx context.Context, rev *store.Review) error {
	f.notified = append(f.notified, rev)
	return f.err
}

func TestSubmitForReview_NotifierFailureIsNotFatal(t *testing.T) {
	// WHAT: A failing notifier does not fail the submission.
	// WHY: The review stays resolvable over HTTP even if Telegram is down.
	st := openTestStore(t)
	n := &fakeNotifier{err: context.DeadlineExceeded}
	g := New(st, true, nil, nil, WithNotifier(n))
	ctx := context.Background()

	if _, err := g.SubmitForReview(ctx, "2024-06-01", "x"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(n.notified) != 1 {
		t.Errorf("notifier calls: %d", len(n.notified))
	}
	pending, _ := g.Pending(ctx)
	if len(pending) != 1 {
		t.Errorf("review should exist despite notifier failure")
	}
}
