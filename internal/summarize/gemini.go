// Package summarize generates the daily summary text from a day bucket
// using the Gemini API.
//
// Generation errors are transient by contract: the caller leaves the cycle
// retryable and the next trigger or recovery pass tries again.
package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/hazyhaar/gazette/internal/store"
)

// Config configures the Gemini generator.
type Config struct {
	APIKey string
	// Models is the fallback order. Default: gemini-2.5-flash, then
	// gemini-2.5-flash-lite.
	Models []string
	// Timeout bounds one generation call. Default: 30s.
	Timeout time.Duration
}

func (c *Config) defaults() {
	if len(c.Models) == 0 {
		c.Models = []string{"gemini-2.5-flash", "gemini-2.5-flash-lite"}
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// Generator produces daily summaries via Gemini with model fallback.
type Generator struct {
	client  *genai.Client
	models  []string
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Generator.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Generator, error) {
	cfg.defaults()
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("summarize: API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	return &Generator{
		client:  client,
		models:  cfg.Models,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// GenerateSummary turns a day's events into one short factual summary.
func (g *Generator) GenerateSummary(ctx context.Context, events []*store.Event, counts map[string]int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	prompt := BuildPrompt(events, counts)

	var lastErr error
	for _, model := range g.models {
		result, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
		if err != nil {
			if !retryNextModel(err) {
				return "", fmt.Errorf("summarize: %w", err)
			}
			g.logger.Warn("summarize: model unavailable, trying next", "model", model, "error", err)
			lastErr = err
			continue
		}
		text := result.Text()
		if text == "" {
			lastErr = fmt.Errorf("model %s returned no candidates", model)
			continue
		}
		return strings.TrimSpace(text), nil
	}
	return "", fmt.Errorf("summarize: all models failed: %w", lastErr)
}

// retryNextModel reports whether an error is a per-model condition (rate
// limit, quota, unknown model) worth falling through to the next model.
func retryNextModel(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "exhausted", "quota", "404", "not found", "503", "overloaded"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// BuildPrompt renders the generation prompt. Event lines are sorted, not
// kept in arrival order: delivery order across a day carries no meaning and
// the prompt must be identical for the same bucket contents.
func BuildPrompt(events []*store.Event, counts map[string]int) string {
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		lines = append(lines, fmt.Sprintf("- %s: %s", capitalize(ev.Type), ev.Summary))
	}
	sort.Strings(lines)

	breakdown := make([]string, 0, len(counts))
	for _, t := range []string{"push", "release", "repository", "organization"} {
		if n := counts[t]; n > 0 {
			breakdown = append(breakdown, fmt.Sprintf("%d %s", n, t))
		}
	}

	var b strings.Builder
	b.WriteString("Generate a factual summary of the day's development activity.\n\nEvents:\n")
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	b.WriteString("\nBreakdown: ")
	b.WriteString(strings.Join(breakdown, ", "))
	b.WriteString(`

Output format:
- List specific actions performed with details
- Technical details only, no conversational language
- No hashtags
- Under 250 characters

Summary:`)
	return b.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
