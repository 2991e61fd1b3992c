// Package gazette turns a stream of activity webhooks into one published
// summary per UTC day. Events accumulate in per-date buckets; a scheduler
// fires a publication cycle for each date at the configured time, with a
// startup catch-up pass for days missed while the process was down.
package gazette

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/gazette/internal/classify"
	"github.com/hazyhaar/gazette/internal/gate"
	"github.com/hazyhaar/gazette/internal/metrics"
	"github.com/hazyhaar/gazette/internal/publish"
	"github.com/hazyhaar/gazette/internal/schedule"
	"github.com/hazyhaar/gazette/internal/store"
)

const dateFormat = "2006-01-02"

// Summarizer turns a day's events into one piece of publishable text.
// Errors are transient and retried on the next cycle attempt.
type Summarizer interface {
	GenerateSummary(ctx context.Context, events []*store.Event, counts map[string]int) (string, error)
}

// Publisher sends the text to the outbound platform and returns the
// platform's post identifier. publish.ErrPermanent marks failures that
// must not be retried.
type Publisher interface {
	Publish(ctx context.Context, text string) (string, error)
}

// Service is the pipeline orchestrator.
type Service struct {
	store      *store.Store
	gate       *gate.Gate
	scheduler  *schedule.Scheduler
	summarizer Summarizer
	publisher  Publisher
	metrics    *metrics.Metrics
	registry   *prometheus.Registry
	notifier   gate.Notifier
	logger     *slog.Logger
	config     *Config
	now        func() time.Time

	mu     sync.Mutex
	active map[string]bool // dates with a cycle running in this process
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithSummarizer sets the summary generator.
func WithSummarizer(s Summarizer) ServiceOption {
	return func(svc *Service) { svc.summarizer = s }
}

// WithPublisher sets the outbound publisher.
func WithPublisher(p Publisher) ServiceOption {
	return func(svc *Service) { svc.publisher = p }
}

// WithReviewNotifier sets the optional reviewer notification channel.
func WithReviewNotifier(n gate.Notifier) ServiceOption {
	return func(svc *Service) { svc.notifier = n }
}

// WithClock overrides the time source (for tests).
func WithClock(now func() time.Time) ServiceOption {
	return func(svc *Service) { svc.now = now }
}

// WithMetricsRegistry sets the Prometheus registry. Default is a fresh
// registry owned by the Service, served on /metrics.
func WithMetricsRegistry(reg *prometheus.Registry) ServiceOption {
	return func(svc *Service) { svc.registry = reg }
}

// New creates a gazette Service on an already-opened database.
// The schema must have been applied (store.ApplySchema).
func New(db *sql.DB, cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = defaultConfig()
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	svc := &Service{
		store:  store.NewStore(db),
		logger: logger,
		config: cfg,
		now:    time.Now,
		active: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.summarizer == nil {
		return nil, fmt.Errorf("gazette: summarizer required")
	}
	if svc.publisher == nil {
		return nil, fmt.Errorf("gazette: publisher required")
	}
	if svc.registry == nil {
		svc.registry = prometheus.NewRegistry()
	}
	svc.metrics = metrics.New(svc.registry)

	gateOpts := []gate.Option{}
	if svc.notifier != nil {
		gateOpts = append(gateOpts, gate.WithNotifier(svc.notifier))
	}
	svc.gate = gate.New(svc.store, cfg.ReviewRequired, svc.resumeCycle, logger, gateOpts...)

	svc.scheduler = schedule.New(svc.RunCycle, svc.store.RecoverableDates, schedule.Config{
		PublishTime:  cfg.PublishTime,
		RecoveryDays: cfg.RecoveryDays,
	}, logger)

	return svc, nil
}

// Start launches the scheduler. It returns immediately; the scheduler
// stops when ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	go s.scheduler.Run(ctx)
}

// Ingest classifies a raw payload and appends it to its day bucket.
// It returns the normalized event and whether it was newly inserted;
// a redelivered event returns inserted=false with no error.
func (s *Service) Ingest(ctx context.Context, raw []byte, declaredType string) (*store.Event, bool, error) {
	ev, err := classify.Normalize(raw, declaredType, s.now())
	if err != nil {
		s.metrics.EventsRejected.Inc()
		return nil, false, err
	}
	inserted, err := s.store.InsertEvent(ctx, ev)
	if err != nil {
		return nil, false, fmt.Errorf("gazette: append event: %w", err)
	}
	if inserted {
		s.metrics.EventsIngested.WithLabelValues(ev.Type).Inc()
	} else {
		s.metrics.EventsDuplicate.Inc()
		s.logger.Debug("duplicate event dropped", "event_id", ev.ID, "type", ev.Type)
	}
	return ev, inserted, nil
}

// RunCycle executes one publication cycle for the date. Re-running a
// completed or skipped date is a no-op; a date parked for review stays
// parked. Transient failures leave the cycle due for retry.
func (s *Service) RunCycle(ctx context.Context, date string) error {
	if _, err := time.Parse(dateFormat, date); err != nil {
		return fmt.Errorf("%w: bad date %q", ErrInvalidInput, date)
	}
	if !s.acquire(date) {
		return ErrCycleActive
	}
	defer s.release(date)

	cy, err := s.store.EnsureCycle(ctx, date)
	if err != nil {
		return fmt.Errorf("gazette: cycle %s: %w", date, err)
	}
	if store.IsTerminal(cy.State) || cy.State == store.StateAwaitingReview {
		return nil
	}
	if err := s.store.SetCycleState(ctx, date, store.StateTriggered); err != nil {
		return fmt.Errorf("gazette: cycle %s: %w", date, err)
	}

	events, err := s.store.Bucket(ctx, date)
	if err != nil {
		return s.failTransient(ctx, date, fmt.Errorf("read bucket: %w", err))
	}
	if len(events) == 0 {
		if err := s.store.SetCycleState(ctx, date, store.StateSkipped); err != nil {
			return fmt.Errorf("gazette: cycle %s: %w", date, err)
		}
		if err := s.archive(ctx, date, 0); err != nil {
			return err
		}
		s.metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		s.logger.Info("cycle skipped, empty bucket", "date", date)
		return nil
	}

	// A cycle that was already approved but failed to publish retries
	// with the summary the reviewer saw, never a fresh generation.
	if cy.Summary != "" {
		approved, err := s.gate.Approved(ctx, date)
		if err != nil {
			return s.failTransient(ctx, date, fmt.Errorf("check review: %w", err))
		}
		if approved {
			return s.finishPublish(ctx, date, cy.Summary, len(events))
		}
	}

	counts, err := s.store.CountsByType(ctx, date)
	if err != nil {
		return s.failTransient(ctx, date, fmt.Errorf("count bucket: %w", err))
	}

	genCtx, cancel := context.WithTimeout(ctx, s.config.GenerateTimeout)
	summary, err := s.summarizer.GenerateSummary(genCtx, events, counts)
	cancel()
	if err != nil {
		return s.failTransient(ctx, date, fmt.Errorf("generate summary: %w", err))
	}
	if err := s.store.SetCycleSummary(ctx, date, summary); err != nil {
		return fmt.Errorf("gazette: cycle %s: %w", date, err)
	}

	approved, err := s.gate.SubmitForReview(ctx, date, summary)
	if errors.Is(err, gate.ErrRejected) {
		// A rejection that was recorded but not fully applied (crash
		// between resolve and skip) closes out here.
		if err := s.store.SetCycleState(ctx, date, store.StateSkipped); err != nil {
			return fmt.Errorf("gazette: cycle %s: %w", date, err)
		}
		if err := s.archive(ctx, date, len(events)); err != nil {
			return err
		}
		s.metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		s.logger.Info("cycle rejected by reviewer", "date", date)
		return nil
	}
	if err != nil {
		return s.failTransient(ctx, date, fmt.Errorf("submit review: %w", err))
	}
	if !approved {
		if err := s.store.SetCycleState(ctx, date, store.StateAwaitingReview); err != nil {
			return fmt.Errorf("gazette: cycle %s: %w", date, err)
		}
		s.metrics.PendingReviews.Inc()
		s.logger.Info("cycle parked for review", "date", date)
		return nil
	}

	return s.finishPublish(ctx, date, summary, len(events))
}

// finishPublish runs the publish and archive tail of a cycle.
func (s *Service) finishPublish(ctx context.Context, date, summary string, eventCount int) error {
	pubCtx, cancel := context.WithTimeout(ctx, s.config.PublishTimeout)
	start := time.Now()
	publishedID, err := s.publisher.Publish(pubCtx, summary)
	cancel()
	s.metrics.PublishDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, publish.ErrPermanent) {
			if ferr := s.store.FailCycle(ctx, date, err.Error()); ferr != nil {
				s.logger.Error("record permanent failure", "date", date, "error", ferr)
			}
			s.metrics.CyclesTotal.WithLabelValues("failed").Inc()
			s.logger.Error("cycle failed permanently", "date", date, "error", err)
			return err
		}
		return s.failTransient(ctx, date, fmt.Errorf("publish: %w", err))
	}

	if err := s.store.CompleteCycle(ctx, date, publishedID); err != nil {
		return fmt.Errorf("gazette: cycle %s: %w", date, err)
	}
	if err := s.archive(ctx, date, eventCount); err != nil {
		return err
	}
	s.metrics.CyclesTotal.WithLabelValues("completed").Inc()
	s.logger.Info("cycle completed", "date", date, "published_id", publishedID, "events", eventCount)
	return nil
}

// failTransient records a retryable failure against the cycle's durable
// fail count. At the cap the cycle flips to failed and waits for the
// operator; below it the cycle returns to due for the next attempt.
func (s *Service) failTransient(ctx context.Context, date string, cause error) error {
	count, err := s.store.RecordCycleFailure(ctx, date, cause.Error(), s.config.MaxFailures)
	if err != nil {
		s.logger.Error("record cycle failure", "date", date, "error", err)
		return cause
	}
	if count >= s.config.MaxFailures {
		s.metrics.CyclesTotal.WithLabelValues("failed").Inc()
		s.logger.Error("cycle failed, retry cap reached", "date", date, "failures", count, "error", cause)
	} else {
		s.logger.Warn("cycle attempt failed", "date", date, "failures", count, "error", cause)
	}
	return cause
}

func (s *Service) archive(ctx context.Context, date string, eventCount int) error {
	err := s.store.Archive(ctx, date, eventCount)
	if errors.Is(err, store.ErrAlreadyArchived) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("gazette: archive %s: %w", date, err)
	}
	return nil
}

// resumeCycle is the gate's continuation: it finishes or skips a parked
// cycle once a reviewer has resolved it.
func (s *Service) resumeCycle(ctx context.Context, date string, approved bool) error {
	if !s.acquire(date) {
		return ErrCycleActive
	}
	defer s.release(date)

	cy, err := s.store.GetCycle(ctx, date)
	if err != nil {
		return fmt.Errorf("gazette: cycle %s: %w", date, err)
	}
	if cy == nil {
		return fmt.Errorf("%w: %s", ErrUnknownDate, date)
	}
	if store.IsTerminal(cy.State) {
		return nil
	}
	if cy.State == store.StateAwaitingReview {
		s.metrics.PendingReviews.Dec()
	}

	events, err := s.store.Bucket(ctx, date)
	if err != nil {
		return fmt.Errorf("gazette: cycle %s: %w", date, err)
	}

	if !approved {
		if err := s.store.SetCycleState(ctx, date, store.StateSkipped); err != nil {
			return fmt.Errorf("gazette: cycle %s: %w", date, err)
		}
		if err := s.archive(ctx, date, len(events)); err != nil {
			return err
		}
		s.metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		s.logger.Info("cycle rejected by reviewer", "date", date)
		return nil
	}

	if err := s.store.SetCycleState(ctx, date, store.StateTriggered); err != nil {
		return fmt.Errorf("gazette: cycle %s: %w", date, err)
	}
	return s.finishPublish(ctx, date, cy.Summary, len(events))
}

// ResolveReview records a reviewer decision and resumes the parked
// cycle. Used by the HTTP surface and the Telegram notifier.
func (s *Service) ResolveReview(ctx context.Context, date string, approved bool) error {
	return s.gate.Resolve(ctx, date, approved)
}

// PendingReviews lists cycles parked for review.
func (s *Service) PendingReviews(ctx context.Context) ([]*store.Review, error) {
	return s.gate.Pending(ctx)
}

// ResetCycle is the operator escape hatch for a failed cycle: the state
// returns to due with a cleared fail count, and the next scheduler pass
// retries it.
func (s *Service) ResetCycle(ctx context.Context, date string) error {
	cy, err := s.store.GetCycle(ctx, date)
	if err != nil {
		return err
	}
	if cy == nil {
		return fmt.Errorf("%w: %s", ErrUnknownDate, date)
	}
	return s.store.ResetCycle(ctx, date)
}

// Status reports the operational snapshot for GET /health.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	today := s.today()
	counts, err := s.store.CountsByType(ctx, today)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	lastCompleted, err := s.store.LastCycleByState(ctx, store.StateCompleted)
	if err != nil {
		return nil, err
	}
	lastFailed, err := s.store.LastCycleByState(ctx, store.StateFailed)
	if err != nil {
		return nil, err
	}
	return &Status{
		Date:          today,
		EventsToday:   total,
		LastCompleted: lastCompleted,
		LastFailed:    lastFailed,
		PublishTime:   s.config.PublishTime,
		ReviewGate:    s.config.ReviewRequired,
	}, nil
}

// Stats returns today's per-type event counts.
func (s *Service) Stats(ctx context.Context) (map[string]int, error) {
	return s.store.CountsByType(ctx, s.today())
}

func (s *Service) today() string {
	return s.now().UTC().Format(dateFormat)
}

func (s *Service) acquire(date string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[date] {
		return false
	}
	s.active[date] = true
	return true
}

func (s *Service) release(date string) {
	s.mu.Lock()
	delete(s.active, date)
	s.mu.Unlock()
}
