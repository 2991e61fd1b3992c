// Package publish sends the approved summary to the outbound platform.
//
// Publication errors are transient unless the platform rejects the
// credential or the request outright, in which case ErrPermanent is
// wrapped and the cycle fails without further automatic retries.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ErrPermanent marks a publication failure that retrying cannot fix
// (invalid credential, malformed request).
var ErrPermanent = errors.New("publish: permanent failure")

// LinkedIn publishes summaries as UGC posts.
type LinkedIn struct {
	accessToken string
	baseURL     string
	client      *http.Client

	mu        sync.Mutex
	personURN string // cached after first lookup
}

// LinkedInOption configures a LinkedIn publisher.
type LinkedInOption func(*LinkedIn)

// WithBaseURL overrides the API base URL (for testing).
func WithBaseURL(u string) LinkedInOption {
	return func(l *LinkedIn) { l.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) LinkedInOption {
	return func(l *LinkedIn) { l.client = c }
}

// NewLinkedIn creates a LinkedIn publisher.
func NewLinkedIn(accessToken string, opts ...LinkedInOption) *LinkedIn {
	l := &LinkedIn{
		accessToken: accessToken,
		baseURL:     "https://api.linkedin.com",
		client:      &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Publish posts the text and returns the platform's post identifier.
func (l *LinkedIn) Publish(ctx context.Context, text string) (string, error) {
	urn, err := l.authorURN(ctx)
	if err != nil {
		return "", err
	}

	payload := map[string]any{
		"author":         urn,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": map[string]any{
				"shareCommentary":    map[string]string{"text": text},
				"shareMediaCategory": "NONE",
			},
		},
		"visibility": map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/v2/ugcPosts", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+l.accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	if id := resp.Header.Get("X-RestLi-Created-Entity-Id"); id != "" {
		return id, nil
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err == nil && created.ID != "" {
		return created.ID, nil
	}
	return "", fmt.Errorf("publish: response carried no post id")
}

// authorURN resolves and caches the member URN for the access token.
func (l *LinkedIn) authorURN(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.personURN != "" {
		return l.personURN, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/v2/me", nil)
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+l.accessToken)

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("publish: member lookup: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var me struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return "", fmt.Errorf("publish: member lookup: %w", err)
	}
	if me.ID == "" {
		return "", fmt.Errorf("%w: member id missing from profile response", ErrPermanent)
	}
	l.personURN = "urn:li:person:" + me.ID
	return l.personURN, nil
}

// checkStatus maps HTTP status codes to the error taxonomy: 401/403 are
// credential problems (permanent), everything else non-2xx is transient.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: HTTP %d: %s", ErrPermanent, resp.StatusCode, snippet)
	}
	return fmt.Errorf("publish: HTTP %d: %s", resp.StatusCode, snippet)
}
