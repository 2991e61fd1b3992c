package gazette

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/gazette/internal/classify"
)

const maxWebhookBytes = 1 << 20

// Router builds the HTTP surface.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/webhook", s.handleWebhook)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		st, err := s.Status(r.Context())
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, st)
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		counts, err := s.Stats(r.Context())
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, map[string]any{"date": s.today(), "counts": counts})
	})

	r.Get("/reviews", func(w http.ResponseWriter, r *http.Request) {
		pending, err := s.PendingReviews(r.Context())
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, pending)
	})

	r.Post("/reviews/{date}/resolve", func(w http.ResponseWriter, r *http.Request) {
		date := chi.URLParam(r, "date")
		var req struct {
			Approved bool `json:"approved"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
		if err := s.ResolveReview(r.Context(), date, req.Approved); err != nil {
			writeError(w, 409, err)
			return
		}
		writeJSON(w, 200, map[string]any{"date": date, "approved": req.Approved})
	})

	r.Post("/cycles/{date}/reset", func(w http.ResponseWriter, r *http.Request) {
		date := chi.URLParam(r, "date")
		if err := s.ResetCycle(r.Context(), date); err != nil {
			code := 500
			if errors.Is(err, ErrUnknownDate) {
				code = 404
			}
			writeError(w, code, err)
			return
		}
		writeJSON(w, 200, map[string]string{"date": date, "state": "due"})
	})

	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	return r
}

func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.config.WebhookToken != "" && r.Header.Get("X-Gazette-Token") != s.config.WebhookToken {
		writeJSON(w, 401, map[string]string{"error": "bad token"})
		return
	}
	declared := r.Header.Get("X-GitHub-Event")
	if declared == "" {
		writeJSON(w, 400, map[string]string{"error": "missing X-GitHub-Event header"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, 400, err)
		return
	}

	ev, inserted, err := s.Ingest(r.Context(), body, declared)
	if err != nil {
		if errors.Is(err, classify.ErrClassification) {
			// Dropped, never retried: tell the sender not to redeliver.
			writeJSON(w, 200, map[string]string{"status": "ignored", "reason": err.Error()})
			return
		}
		writeError(w, 500, err)
		return
	}
	status := "stored"
	if !inserted {
		status = "duplicate"
	}
	writeJSON(w, 200, map[string]string{"status": status, "event_id": ev.ID, "date": ev.BucketDate})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
