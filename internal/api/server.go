package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"incident-agent/internal/config"
	"incident-agent/internal/models"
	"incident-agent/internal/queue"
	"incident-agent/internal/ratelimit"
	"incident-agent/internal/telemetry"
)

// Server wires HTTP handlers for the webhook ingestion API.
type Server struct {
	cfg     config.Config
	queue   *queue.IncidentQueue
	limiter *ratelimit.SourceLimiter
	log     *slog.Logger
}

// New constructs the API server. limiter may be nil to disable rate limiting.
func New(cfg config.Config, q *queue.IncidentQueue, limiter *ratelimit.SourceLimiter, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, queue: q, limiter: limiter, log: log}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Webhook ingestion API is running and ready to receive alerts.",
		})
	})

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())
	r.Post("/webhook", s.handleWebhook)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "queue unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type webhookResponse struct {
	Status     string `json:"status"`
	IncidentID string `json:"incident_id"`
	Message    string `json:"message"`
}

// handleWebhook accepts an arbitrary JSON alert payload, wraps it in an
// incident job, and enqueues it. The response only reflects the queuing
// outcome; investigation happens asynchronously.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Check queue connectivity before touching the body.
	if err := s.queue.Ping(ctx); err != nil {
		s.log.Error("webhook rejected: queue unreachable", "error", err)
		http.Error(w, "Service Unavailable: cannot reach incident queue", http.StatusServiceUnavailable)
		return
	}

	if s.limiter != nil {
		source := r.Header.Get("X-Alert-Source")
		allowed, _, err := s.limiter.Allow(ctx, source)
		if err != nil {
			s.log.Error("rate limiter error", "error", err)
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		telemetry.WebhooksRejected.Inc()
		s.log.Warn("webhook rejected: invalid JSON payload")
		http.Error(w, "Bad Request: invalid JSON payload", http.StatusBadRequest)
		return
	}

	incidentID := uuid.New().String()
	job := models.IncidentJob{
		IncidentID: incidentID,
		RawAlert:   json.RawMessage(body),
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.log.Error("enqueue failed", "incident_id", incidentID, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	telemetry.WebhooksAccepted.Inc()
	s.log.Info("incident dispatched", "incident_id", incidentID)
	writeJSON(w, http.StatusAccepted, webhookResponse{
		Status:     "accepted",
		IncidentID: incidentID,
		Message:    "Incident queued for investigation.",
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
