// Package classify maps heterogeneous inbound webhook payloads to the
// uniform event record the store persists.
//
// The derived event ID is a hash of the payload's identifying fields, so
// redelivery of the same underlying notification normalizes to the same ID
// and the store's idempotent insert absorbs the duplicate.
package classify

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/gazette/internal/store"
)

// ErrClassification is returned for unrecognized event types or payloads
// missing required fields. Malformed input is dropped, never retried.
var ErrClassification = errors.New("classify: unrecognized or malformed event")

// supportedTypes is the set of event categories the pipeline accepts.
var supportedTypes = map[string]bool{
	"push":         true,
	"release":      true,
	"repository":   true,
	"organization": true,
}

// SupportedTypes returns the accepted event categories, for the health surface.
func SupportedTypes() []string {
	return []string{"push", "release", "repository", "organization"}
}

// rawPayload covers the fields gazette reads from any supported payload.
type rawPayload struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Action     string `json:"action"`
	Commits    []struct {
		Message string `json:"message"`
	} `json:"commits"`
	HeadCommit *struct {
		ID        string `json:"id"`
		Message   string `json:"message"`
		Timestamp string `json:"timestamp"`
	} `json:"head_commit"`
	Pusher *struct {
		Name string `json:"name"`
	} `json:"pusher"`
	Release *struct {
		TagName     string `json:"tag_name"`
		Name        string `json:"name"`
		PublishedAt string `json:"published_at"`
		CreatedAt   string `json:"created_at"`
	} `json:"release"`
	Repository *struct {
		FullName string `json:"full_name"`
		Name     string `json:"name"`
	} `json:"repository"`
	Organization *struct {
		Login string `json:"login"`
	} `json:"organization"`
	Sender *struct {
		Login string `json:"login"`
	} `json:"sender"`
}

// Normalize validates a raw payload against its declared category and
// produces the normalized event. now supplies the received-at timestamp and
// the occurred-at fallback when the payload carries no usable timestamp.
func Normalize(raw []byte, declaredType string, now time.Time) (*store.Event, error) {
	if !supportedTypes[declaredType] {
		return nil, fmt.Errorf("%w: unknown type %q", ErrClassification, declaredType)
	}

	var p rawPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassification, err)
	}

	var ev *store.Event
	var err error
	switch declaredType {
	case "push":
		ev, err = normalizePush(&p, now)
	case "release":
		ev, err = normalizeRelease(&p, now)
	case "repository":
		ev, err = normalizeRepository(&p, now)
	case "organization":
		ev, err = normalizeOrganization(&p, now)
	}
	if err != nil {
		return nil, err
	}

	ev.Type = declaredType
	ev.BucketDate = time.UnixMilli(ev.OccurredAt).UTC().Format("2006-01-02")
	ev.ReceivedAt = now.UnixMilli()
	return ev, nil
}

func normalizePush(p *rawPayload, now time.Time) (*store.Event, error) {
	if p.Pusher == nil || p.Pusher.Name == "" {
		return nil, fmt.Errorf("%w: push without committer", ErrClassification)
	}
	if p.Ref == "" {
		return nil, fmt.Errorf("%w: push without ref", ErrClassification)
	}

	repo := repoName(p)
	branch := strings.TrimPrefix(p.Ref, "refs/heads/")
	occurred := now
	head := ""
	if p.HeadCommit != nil {
		head = p.HeadCommit.ID
		if ts, err := time.Parse(time.RFC3339, p.HeadCommit.Timestamp); err == nil {
			occurred = ts
		}
	}
	if head == "" {
		head = p.After
	}

	messages := make([]string, 0, len(p.Commits))
	for _, c := range p.Commits {
		messages = append(messages, firstLine(c.Message))
	}
	if head == "" {
		// No SHA anywhere in the payload: fold the commit content into
		// the identity so two distinct pushes to one branch do not
		// collapse to the same ID.
		head = fmt.Sprintf("%d|%s", len(p.Commits), strings.Join(messages, "\n"))
	}
	details, _ := json.Marshal(map[string]any{
		"branch":   branch,
		"commits":  len(p.Commits),
		"messages": messages,
	})

	return &store.Event{
		ID:          eventID("push", repo, p.Ref, head),
		SourceRepo:  repo,
		Actor:       p.Pusher.Name,
		Summary:     fmt.Sprintf("Pushed %d commits to %s in %s", len(p.Commits), branch, repo),
		DetailsJSON: string(details),
		OccurredAt:  occurred.UnixMilli(),
	}, nil
}

func normalizeRelease(p *rawPayload, now time.Time) (*store.Event, error) {
	if p.Release == nil || p.Release.TagName == "" {
		return nil, fmt.Errorf("%w: release without tag", ErrClassification)
	}
	if p.Release.Name == "" {
		return nil, fmt.Errorf("%w: release without name", ErrClassification)
	}

	repo := repoName(p)
	occurred := now
	for _, ts := range []string{p.Release.PublishedAt, p.Release.CreatedAt} {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			occurred = parsed
			break
		}
	}
	details, _ := json.Marshal(map[string]any{
		"tag":  p.Release.TagName,
		"name": p.Release.Name,
	})

	return &store.Event{
		ID:          eventID("release", repo, p.Release.TagName),
		SourceRepo:  repo,
		Actor:       senderLogin(p),
		Summary:     fmt.Sprintf("Released version %s in %s", p.Release.TagName, repo),
		DetailsJSON: string(details),
		OccurredAt:  occurred.UnixMilli(),
	}, nil
}

func normalizeRepository(p *rawPayload, now time.Time) (*store.Event, error) {
	if p.Action == "" {
		return nil, fmt.Errorf("%w: repository event without action", ErrClassification)
	}
	if senderLogin(p) == "" {
		return nil, fmt.Errorf("%w: repository event without actor", ErrClassification)
	}

	repo := repoName(p)
	details, _ := json.Marshal(map[string]any{"action": p.Action})
	date := now.UTC().Format("2006-01-02")

	return &store.Event{
		ID:          eventID("repository", repo, p.Action, senderLogin(p), date),
		SourceRepo:  repo,
		Actor:       senderLogin(p),
		Summary:     fmt.Sprintf("Repository %s: %s", p.Action, repo),
		DetailsJSON: string(details),
		OccurredAt:  now.UnixMilli(),
	}, nil
}

func normalizeOrganization(p *rawPayload, now time.Time) (*store.Event, error) {
	if p.Action == "" {
		return nil, fmt.Errorf("%w: organization event without action", ErrClassification)
	}
	if senderLogin(p) == "" {
		return nil, fmt.Errorf("%w: organization event without actor", ErrClassification)
	}

	org := ""
	if p.Organization != nil {
		org = p.Organization.Login
	}
	details, _ := json.Marshal(map[string]any{"action": p.Action, "organization": org})
	date := now.UTC().Format("2006-01-02")

	return &store.Event{
		ID:          eventID("organization", org, p.Action, senderLogin(p), date),
		SourceRepo:  org,
		Actor:       senderLogin(p),
		Summary:     fmt.Sprintf("Organization %s", p.Action),
		DetailsJSON: string(details),
		OccurredAt:  now.UnixMilli(),
	}, nil
}

func repoName(p *rawPayload) string {
	if p.Repository == nil {
		return "unknown-repo"
	}
	if p.Repository.FullName != "" {
		return p.Repository.FullName
	}
	if p.Repository.Name != "" {
		return p.Repository.Name
	}
	return "unknown-repo"
}

func senderLogin(p *rawPayload) string {
	if p.Sender == nil {
		return ""
	}
	return p.Sender.Login
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// eventID derives a stable identifier from the payload's identity fields.
func eventID(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return "ev_" + hex.EncodeToString(h[:16])
}
