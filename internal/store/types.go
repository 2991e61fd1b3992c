package store

// Event is a normalized activity notification, immutable once stored.
// BucketDate is the UTC calendar date of OccurredAt and assigns the event
// to exactly one day bucket.
type Event struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	SourceRepo  string `json:"source_repo"`
	Actor       string `json:"actor"`
	Summary     string `json:"summary"`
	DetailsJSON string `json:"details_json"`
	BucketDate  string `json:"bucket_date"`
	OccurredAt  int64  `json:"occurred_at"` // ms
	ReceivedAt  int64  `json:"received_at"` // ms
}

// Cycle is the per-date publication state machine record.
type Cycle struct {
	BucketDate  string `json:"bucket_date"`
	State       string `json:"state"`
	Summary     string `json:"summary"`
	PublishedID string `json:"published_id"`
	FailCount   int    `json:"fail_count"`
	LastError   string `json:"last_error"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Cycle states. A date with no cycle row is "not due" yet.
const (
	StateDue            = "due"
	StateTriggered      = "triggered"
	StateAwaitingReview = "awaiting_review"
	StateCompleted      = "completed"
	StateSkipped        = "skipped"
	StateFailed         = "failed"
)

// IsTerminal reports whether a cycle state is final. Failed counts as
// terminal for automatic retries; only an operator reset reopens it.
func IsTerminal(state string) bool {
	return state == StateCompleted || state == StateSkipped || state == StateFailed
}

// Review is a pending or resolved human-approval request for one date.
type Review struct {
	ID         string `json:"id"`
	BucketDate string `json:"bucket_date"`
	Summary    string `json:"summary"`
	Resolution string `json:"resolution"`
	CreatedAt  int64  `json:"created_at"`
	ResolvedAt *int64 `json:"resolved_at,omitempty"`
}

// Review resolutions.
const (
	ResolutionPending  = "pending"
	ResolutionApproved = "approved"
	ResolutionRejected = "rejected"
)
