package gazette

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/gazette/dbopen"
	"github.com/hazyhaar/gazette/internal/publish"
	"github.com/hazyhaar/gazette/internal/store"
)

type fakeSummarizer struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
	// fromDate makes the summary echo the bucket date, so publish order
	// can be observed in tests.
	fromDate bool
}

func (f *fakeSummarizer) GenerateSummary(ctx context.Context, events []*store.Event, counts map[string]int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.fromDate && len(events) > 0 {
		return "summary for " + events[0].BucketDate, nil
	}
	if f.text != "" {
		return f.text, nil
	}
	return fmt.Sprintf("%d things happened", len(events)), nil
}

type fakePublisher struct {
	mu    sync.Mutex
	calls int
	texts []string
	err   error
}

func (f *fakePublisher) Publish(ctx context.Context, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	f.texts = append(f.texts, text)
	return fmt.Sprintf("post-%d", f.calls), nil
}

var testClock = func() time.Time {
	return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
}

func newTestService(t *testing.T, mutate func(*Config), opts ...ServiceOption) (*Service, *fakeSummarizer, *fakePublisher) {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := store.ApplySchema(db); err != nil {
		t.Fatalf("ApplySchema: %v", err)
	}
	cfg := defaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	sum := &fakeSummarizer{}
	pub := &fakePublisher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	all := append([]ServiceOption{
		WithSummarizer(sum),
		WithPublisher(pub),
		WithClock(testClock),
	}, opts...)
	svc, err := New(db, cfg, logger, all...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc, sum, pub
}

func pushPayload(repo, branch, sha string) []byte {
	return []byte(fmt.Sprintf(`{
		"ref": "refs/heads/%s",
		"repository": {"full_name": "%s"},
		"pusher": {"name": "alice"},
		"head_commit": {"id": "%s", "message": "fix", "timestamp": "2025-06-15T10:00:00Z"},
		"commits": [{"message": "fix"}]
	}`, branch, repo, sha))
}

func releasePayload(repo, tag string) []byte {
	return []byte(fmt.Sprintf(`{
		"repository": {"full_name": "%s"},
		"sender": {"login": "alice"},
		"release": {"tag_name": "%s", "name": "Release %s", "published_at": "2025-06-15T09:00:00Z"}
	}`, repo, tag, tag))
}

// seedEvent inserts an event directly into a given bucket date.
func seedEvent(t *testing.T, svc *Service, date, id string) {
	t.Helper()
	occurred := mustParseDate(t, date).Add(10 * time.Hour)
	_, err := svc.store.InsertEvent(context.Background(), &store.Event{
		ID:         id,
		Type:       "push",
		SourceRepo: "acme/app",
		Actor:      "alice",
		Summary:    "Pushed 1 commits to main in acme/app",
		BucketDate: date,
		OccurredAt: occurred.UnixMilli(),
		ReceivedAt: occurred.UnixMilli(),
	})
	if err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}
}

func mustParseDate(t *testing.T, date string) time.Time {
	t.Helper()
	d, err := time.Parse(dateFormat, date)
	if err != nil {
		t.Fatalf("parse date %s: %v", date, err)
	}
	return d
}

// WHAT: the full happy path, three events in, one post out, then archive.
// WHY: events must survive the cycle unchanged and land in exactly one
// published summary per day.
func TestEndToEndCycle(t *testing.T) {
	svc, sum, pub := newTestService(t, nil)
	ctx := context.Background()
	today := svc.today()

	payloads := [][]byte{
		pushPayload("acme/app", "main", "aaa111"),
		pushPayload("acme/app", "dev", "bbb222"),
		releasePayload("acme/app", "v1.2.0"),
	}
	types := []string{"push", "push", "release"}
	for i, p := range payloads {
		_, inserted, err := svc.Ingest(ctx, p, types[i])
		if err != nil {
			t.Fatalf("Ingest %d: %v", i, err)
		}
		if !inserted {
			t.Fatalf("Ingest %d: expected insert", i)
		}
	}

	if err := svc.RunCycle(ctx, today); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if sum.calls != 1 {
		t.Errorf("summarizer calls = %d, want 1", sum.calls)
	}
	if pub.calls != 1 {
		t.Errorf("publisher calls = %d, want 1", pub.calls)
	}

	cy, err := svc.store.GetCycle(ctx, today)
	if err != nil {
		t.Fatalf("GetCycle: %v", err)
	}
	if cy.State != store.StateCompleted {
		t.Errorf("state = %s, want completed", cy.State)
	}
	if cy.PublishedID == "" {
		t.Error("published id not recorded")
	}

	archived, err := svc.store.IsArchived(ctx, today)
	if err != nil || !archived {
		t.Errorf("archived = %v, %v; want true", archived, err)
	}

	// Archive must not mutate the bucket.
	events, err := svc.store.Bucket(ctx, today)
	if err != nil {
		t.Fatalf("Bucket: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("bucket has %d events after archive, want 3", len(events))
	}
}

// WHAT: ingesting the same delivery twice stores one event.
func TestIngestDeduplicates(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()

	p := pushPayload("acme/app", "main", "aaa111")
	_, first, err := svc.Ingest(ctx, p, "push")
	if err != nil || !first {
		t.Fatalf("first ingest: inserted=%v err=%v", first, err)
	}
	_, second, err := svc.Ingest(ctx, p, "push")
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if second {
		t.Error("redelivery was inserted again")
	}
}

// WHAT: a date with no events resolves to skipped and archived without
// touching the summarizer or publisher.
func TestEmptyBucketSkips(t *testing.T) {
	svc, sum, pub := newTestService(t, nil)
	ctx := context.Background()

	if err := svc.RunCycle(ctx, "2025-06-10"); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	cy, _ := svc.store.GetCycle(ctx, "2025-06-10")
	if cy.State != store.StateSkipped {
		t.Errorf("state = %s, want skipped", cy.State)
	}
	archived, _ := svc.store.IsArchived(ctx, "2025-06-10")
	if !archived {
		t.Error("empty date not archived")
	}
	if sum.calls != 0 || pub.calls != 0 {
		t.Errorf("collaborators called on empty bucket: sum=%d pub=%d", sum.calls, pub.calls)
	}
}

// WHAT: re-running a completed date does nothing.
func TestRerunCompletedIsNoop(t *testing.T) {
	svc, _, pub := newTestService(t, nil)
	ctx := context.Background()
	today := svc.today()
	seedEvent(t, svc, today, "ev_1")

	if err := svc.RunCycle(ctx, today); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := svc.RunCycle(ctx, today); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if pub.calls != 1 {
		t.Errorf("publisher calls = %d, want 1", pub.calls)
	}
}

// WHAT: a transient publish failure leaves the cycle retryable, and the
// retry succeeds once the collaborator recovers.
func TestTransientFailureRetries(t *testing.T) {
	svc, _, pub := newTestService(t, nil)
	ctx := context.Background()
	today := svc.today()
	seedEvent(t, svc, today, "ev_1")

	pub.err = errors.New("HTTP 503")
	if err := svc.RunCycle(ctx, today); err == nil {
		t.Fatal("want error from failed publish")
	}
	cy, _ := svc.store.GetCycle(ctx, today)
	if cy.State != store.StateDue {
		t.Errorf("state = %s, want due for retry", cy.State)
	}
	if cy.FailCount != 1 {
		t.Errorf("fail count = %d, want 1", cy.FailCount)
	}

	pub.err = nil
	if err := svc.RunCycle(ctx, today); err != nil {
		t.Fatalf("retry: %v", err)
	}
	cy, _ = svc.store.GetCycle(ctx, today)
	if cy.State != store.StateCompleted {
		t.Errorf("state = %s, want completed", cy.State)
	}
}

// WHAT: transient failures stop being retried at the configured cap.
// WHY: a persistently broken collaborator must surface as failed, and
// never silently skip the day.
func TestFailureCapMarksFailed(t *testing.T) {
	svc, _, pub := newTestService(t, func(c *Config) { c.MaxFailures = 2 })
	ctx := context.Background()
	today := svc.today()
	seedEvent(t, svc, today, "ev_1")

	pub.err = errors.New("HTTP 503")
	for i := 0; i < 2; i++ {
		if err := svc.RunCycle(ctx, today); err == nil {
			t.Fatalf("attempt %d: want error", i)
		}
	}
	cy, _ := svc.store.GetCycle(ctx, today)
	if cy.State != store.StateFailed {
		t.Errorf("state = %s, want failed at cap", cy.State)
	}

	// Failed is terminal for the scheduler.
	pub.err = nil
	if err := svc.RunCycle(ctx, today); err != nil {
		t.Fatalf("rerun of failed: %v", err)
	}
	if pub.texts != nil {
		t.Error("failed cycle published without operator reset")
	}

	// The operator reset reopens it.
	if err := svc.ResetCycle(ctx, today); err != nil {
		t.Fatalf("ResetCycle: %v", err)
	}
	if err := svc.RunCycle(ctx, today); err != nil {
		t.Fatalf("run after reset: %v", err)
	}
	cy, _ = svc.store.GetCycle(ctx, today)
	if cy.State != store.StateCompleted {
		t.Errorf("state = %s, want completed after reset", cy.State)
	}
}

// WHAT: a permanent publish error fails the cycle directly, bypassing
// the retry budget.
func TestPermanentFailure(t *testing.T) {
	svc, _, pub := newTestService(t, nil)
	ctx := context.Background()
	today := svc.today()
	seedEvent(t, svc, today, "ev_1")

	pub.err = fmt.Errorf("%w: HTTP 401", publish.ErrPermanent)
	if err := svc.RunCycle(ctx, today); !errors.Is(err, publish.ErrPermanent) {
		t.Fatalf("err = %v, want ErrPermanent", err)
	}
	cy, _ := svc.store.GetCycle(ctx, today)
	if cy.State != store.StateFailed {
		t.Errorf("state = %s, want failed", cy.State)
	}
}

// WHAT: with the review gate on, the cycle parks and nothing is
// published until a reviewer approves.
func TestReviewGateBlocksPublish(t *testing.T) {
	svc, _, pub := newTestService(t, func(c *Config) { c.ReviewRequired = true })
	ctx := context.Background()
	today := svc.today()
	seedEvent(t, svc, today, "ev_1")

	if err := svc.RunCycle(ctx, today); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	cy, _ := svc.store.GetCycle(ctx, today)
	if cy.State != store.StateAwaitingReview {
		t.Fatalf("state = %s, want awaiting_review", cy.State)
	}
	if pub.calls != 0 {
		t.Fatalf("published before approval")
	}

	// A scheduler re-trigger while parked must not double-submit.
	if err := svc.RunCycle(ctx, today); err != nil {
		t.Fatalf("re-trigger while parked: %v", err)
	}
	pending, err := svc.PendingReviews(ctx)
	if err != nil {
		t.Fatalf("PendingReviews: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending reviews = %d, want 1", len(pending))
	}

	if err := svc.ResolveReview(ctx, today, true); err != nil {
		t.Fatalf("ResolveReview: %v", err)
	}
	cy, _ = svc.store.GetCycle(ctx, today)
	if cy.State != store.StateCompleted {
		t.Errorf("state = %s, want completed", cy.State)
	}
	if pub.calls != 1 {
		t.Errorf("publisher calls = %d, want 1", pub.calls)
	}
}

// WHAT: a publish failure after approval stays retryable, and the retry
// republishes the approved text without a second review or regeneration.
// WHY: approval consumes the review row; the next trigger must treat the
// date as already approved, not as a fresh submission.
func TestApprovedCycleRetriesPublish(t *testing.T) {
	svc, sum, pub := newTestService(t, func(c *Config) { c.ReviewRequired = true })
	ctx := context.Background()
	today := svc.today()
	seedEvent(t, svc, today, "ev_1")

	if err := svc.RunCycle(ctx, today); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	pub.err = errors.New("HTTP 503")
	if err := svc.ResolveReview(ctx, today, true); err == nil {
		t.Fatal("want error from failed publish after approval")
	}
	cy, _ := svc.store.GetCycle(ctx, today)
	if cy.State != store.StateDue {
		t.Fatalf("state = %s, want due for retry", cy.State)
	}

	pub.err = nil
	if err := svc.RunCycle(ctx, today); err != nil {
		t.Fatalf("retry after approval: %v", err)
	}
	cy, _ = svc.store.GetCycle(ctx, today)
	if cy.State != store.StateCompleted {
		t.Errorf("state = %s, want completed", cy.State)
	}
	if len(pub.texts) != 1 || pub.texts[0] != cy.Summary {
		t.Errorf("published %v, want the approved summary %q", pub.texts, cy.Summary)
	}
	if sum.calls != 1 {
		t.Errorf("summarizer calls = %d, want 1: approved text must not be regenerated", sum.calls)
	}
	if cy.FailCount != 1 {
		t.Errorf("fail count = %d, want 1 from the publish attempt only", cy.FailCount)
	}
}

// WHAT: a rejected review closes the cycle as skipped, archived, with
// no publication.
func TestReviewRejectionSkips(t *testing.T) {
	svc, _, pub := newTestService(t, func(c *Config) { c.ReviewRequired = true })
	ctx := context.Background()
	today := svc.today()
	seedEvent(t, svc, today, "ev_1")

	if err := svc.RunCycle(ctx, today); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if err := svc.ResolveReview(ctx, today, false); err != nil {
		t.Fatalf("ResolveReview: %v", err)
	}

	cy, _ := svc.store.GetCycle(ctx, today)
	if cy.State != store.StateSkipped {
		t.Errorf("state = %s, want skipped", cy.State)
	}
	archived, _ := svc.store.IsArchived(ctx, today)
	if !archived {
		t.Error("rejected date not archived")
	}
	if pub.calls != 0 {
		t.Error("rejected summary was published")
	}
}

// WHAT: startup recovery publishes missed days oldest first and leaves
// untouched days alone.
// WHY: after downtime, D-3 must post before D-1, and a day with no
// events and no cycle record gets nothing invented for it.
func TestRecoveryOrdering(t *testing.T) {
	svc, sum, pub := newTestService(t, nil)
	sum.fromDate = true
	ctx := context.Background()

	// The scheduler computes its window from the real clock.
	now := time.Now().UTC()
	d3 := now.AddDate(0, 0, -3).Format(dateFormat)
	d2 := now.AddDate(0, 0, -2).Format(dateFormat)
	d1 := now.AddDate(0, 0, -1).Format(dateFormat)

	seedEvent(t, svc, d3, "ev_d3")
	seedEvent(t, svc, d1, "ev_d1")

	svc.scheduler.RecoverOnce(ctx)

	want := []string{"summary for " + d3, "summary for " + d1}
	if len(pub.texts) != 2 || pub.texts[0] != want[0] || pub.texts[1] != want[1] {
		t.Fatalf("published %v, want %v", pub.texts, want)
	}

	cy, err := svc.store.GetCycle(ctx, d2)
	if err != nil {
		t.Fatalf("GetCycle: %v", err)
	}
	if cy != nil {
		t.Errorf("idle day %s got cycle record %+v", d2, cy)
	}

	// A second pass finds nothing left to do.
	svc.scheduler.RecoverOnce(ctx)
	if pub.calls != 2 {
		t.Errorf("publisher calls = %d after second pass, want 2", pub.calls)
	}
}

// WHAT: health snapshot reflects today's counts and cycle history.
func TestStatus(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()
	today := svc.today()

	if _, _, err := svc.Ingest(ctx, pushPayload("acme/app", "main", "aaa111"), "push"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := svc.RunCycle(ctx, today); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	st, err := svc.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Date != today {
		t.Errorf("date = %s, want %s", st.Date, today)
	}
	if st.EventsToday != 1 {
		t.Errorf("events today = %d, want 1", st.EventsToday)
	}
	if st.LastCompleted != today {
		t.Errorf("last completed = %s, want %s", st.LastCompleted, today)
	}
	if st.PublishTime != "18:00" {
		t.Errorf("publish time = %s", st.PublishTime)
	}
}

// WHAT: resetting an unknown date reports ErrUnknownDate.
func TestResetUnknownDate(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	err := svc.ResetCycle(context.Background(), "2020-01-01")
	if !errors.Is(err, ErrUnknownDate) {
		t.Fatalf("err = %v, want ErrUnknownDate", err)
	}
}
