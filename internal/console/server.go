// Package console serves the feedback review API: list investigations, view
// one run's artifacts, and record a human verdict on its conclusion.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"incident-agent/internal/config"
	"incident-agent/internal/models"
	"incident-agent/internal/runstore"
	"incident-agent/internal/telemetry"
)

// Store is the slice of the run store the console reads and writes.
type Store interface {
	ListRuns(ctx context.Context, experiment string) ([]models.RunSummary, error)
	GetRun(ctx context.Context, runID string) (models.RunSummary, error)
	GetArtifact(ctx context.Context, runID, name string) ([]byte, error)
	SetTag(ctx context.Context, runID, key, value string) error
	LogArtifact(ctx context.Context, runID, name string, content []byte) error
}

// Server wires the console HTTP handlers.
type Server struct {
	cfg   config.Config
	store Store
	log   *slog.Logger
}

func New(cfg config.Config, store Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, store: store, log: log}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Investigation feedback console API.",
		})
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Get("/api/runs", s.handleListRuns)
	r.Get("/api/runs/{id}", s.handleGetRun)
	r.Post("/api/runs/{id}/feedback", s.handleFeedback)
	return r
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context(), s.cfg.ExperimentName)
	if err != nil {
		s.log.Error("list runs", "error", err)
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []models.RunSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// artifactView carries a decoded artifact or the reason it could not be
// loaded. A broken artifact never breaks the rest of the detail view.
type artifactView struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

type runDetailResponse struct {
	Run        models.RunSummary `json:"run"`
	Alert      artifactView      `json:"alert"`
	Report     artifactView      `json:"report"`
	Correction string            `json:"correction,omitempty"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	sum, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, runstore.ErrRunNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		s.log.Error("get run", "run_id", runID, "error", err)
		http.Error(w, "failed to load run", http.StatusInternalServerError)
		return
	}

	resp := runDetailResponse{
		Run:    sum,
		Alert:  s.loadJSONArtifact(r.Context(), runID, models.ArtifactAlertPayload),
		Report: s.loadJSONArtifact(r.Context(), runID, models.ArtifactFinalReport),
	}
	if correction, err := s.store.GetArtifact(r.Context(), runID, models.ArtifactHumanFeedback); err == nil {
		resp.Correction = string(correction)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) loadJSONArtifact(ctx context.Context, runID, name string) artifactView {
	content, err := s.store.GetArtifact(ctx, runID, name)
	if err != nil {
		s.log.Warn("artifact unavailable", "run_id", runID, "artifact", name, "error", err)
		return artifactView{Error: "failed to load " + name}
	}
	if !json.Valid(content) {
		s.log.Warn("artifact corrupt", "run_id", runID, "artifact", name)
		return artifactView{Error: name + " is not valid JSON"}
	}
	return artifactView{Data: json.RawMessage(content)}
}

type feedbackRequest struct {
	Status string `json:"status"`
	Text   string `json:"text"`
}

// handleFeedback records a human verdict. Resubmitting the same verdict is a
// no-op from the data's perspective; a correction overwrites any prior one.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.Status = strings.TrimSpace(req.Status)
	if req.Status != models.FeedbackApproved && req.Status != models.FeedbackCorrected {
		http.Error(w, "status must be Approved or Corrected", http.StatusBadRequest)
		return
	}
	if req.Status == models.FeedbackCorrected && strings.TrimSpace(req.Text) == "" {
		http.Error(w, "a corrected root cause requires text", http.StatusBadRequest)
		return
	}

	if _, err := s.store.GetRun(r.Context(), runID); err != nil {
		if errors.Is(err, runstore.ErrRunNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		s.log.Error("get run", "run_id", runID, "error", err)
		http.Error(w, "failed to load run", http.StatusInternalServerError)
		return
	}

	if err := s.store.SetTag(r.Context(), runID, models.TagFeedbackStatus, req.Status); err != nil {
		s.log.Error("set feedback tag", "run_id", runID, "error", err)
		http.Error(w, "failed to record feedback", http.StatusInternalServerError)
		return
	}
	if req.Status == models.FeedbackCorrected {
		if err := s.store.LogArtifact(r.Context(), runID, models.ArtifactHumanFeedback, []byte(req.Text)); err != nil {
			s.log.Error("store correction", "run_id", runID, "error", err)
			http.Error(w, "failed to record correction", http.StatusInternalServerError)
			return
		}
	}

	telemetry.FeedbackSubmissions.Inc()
	s.log.Info("feedback recorded", "run_id", runID, "status", req.Status)
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
