package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Webhook posts the summary text as JSON to an arbitrary endpoint,
// typically a relay service that forwards to the real platform.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook publisher.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WebhookOption configures a Webhook publisher.
type WebhookOption func(*Webhook)

// WithWebhookClient overrides the HTTP client.
func WithWebhookClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// Publish posts {"text": ...} and returns the relay's id, if any.
func (w *Webhook) Publish(ctx context.Context, text string) (string, error) {
	body, _ := json.Marshal(map[string]string{"text": text})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err == nil && out.ID != "" {
		return out.ID, nil
	}
	// Relays are not required to return an id; synthesize one from time.
	return fmt.Sprintf("webhook-%d", time.Now().UnixMilli()), nil
}
