package console

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"incident-agent/internal/config"
	"incident-agent/internal/models"
	"incident-agent/internal/runstore"
)

type memRun struct {
	summary   models.RunSummary
	tags      map[string]string
	artifacts map[string][]byte
	writes    map[string]int
}

type memStore struct {
	runs map[string]*memRun
}

func newMemStore() *memStore {
	return &memStore{runs: map[string]*memRun{}}
}

func (s *memStore) addRun(id string, startedAt time.Time) *memRun {
	run := &memRun{
		summary: models.RunSummary{
			RunID:               id,
			IncidentID:          "inc-" + id,
			AlertName:           "HighCpuUsage",
			InvestigationStatus: models.StatusCompleteSuccess,
			FeedbackStatus:      models.FeedbackPending,
			StartedAt:           startedAt,
		},
		tags:      map[string]string{},
		artifacts: map[string][]byte{},
		writes:    map[string]int{},
	}
	s.runs[id] = run
	return run
}

func (s *memStore) ListRuns(_ context.Context, _ string) ([]models.RunSummary, error) {
	var out []models.RunSummary
	for _, run := range s.runs {
		sum := run.summary
		if fb, ok := run.tags[models.TagFeedbackStatus]; ok {
			sum.FeedbackStatus = fb
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (s *memStore) GetRun(_ context.Context, runID string) (models.RunSummary, error) {
	run, ok := s.runs[runID]
	if !ok {
		return models.RunSummary{}, runstore.ErrRunNotFound
	}
	sum := run.summary
	if fb, ok := run.tags[models.TagFeedbackStatus]; ok {
		sum.FeedbackStatus = fb
	}
	return sum, nil
}

func (s *memStore) GetArtifact(_ context.Context, runID, name string) ([]byte, error) {
	run, ok := s.runs[runID]
	if !ok {
		return nil, runstore.ErrRunNotFound
	}
	content, ok := run.artifacts[name]
	if !ok {
		return nil, runstore.ErrArtifactNotFound
	}
	return content, nil
}

func (s *memStore) SetTag(_ context.Context, runID, key, value string) error {
	s.runs[runID].tags[key] = value
	return nil
}

func (s *memStore) LogArtifact(_ context.Context, runID, name string, content []byte) error {
	run := s.runs[runID]
	run.artifacts[name] = content
	run.writes[name]++
	return nil
}

func newTestConsole(store Store) *Server {
	return New(config.Config{ExperimentName: "test"}, store, slog.New(slog.DiscardHandler))
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestListRunsNewestFirst(t *testing.T) {
	store := newMemStore()
	store.addRun("old", time.Now().Add(-time.Hour))
	store.addRun("new", time.Now())
	srv := newTestConsole(store)

	rec := do(t, srv, http.MethodGet, "/api/runs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Runs []models.RunSummary `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Runs) != 2 || resp.Runs[0].RunID != "new" {
		t.Fatalf("unexpected order: %+v", resp.Runs)
	}
	if resp.Runs[0].FeedbackStatus != models.FeedbackPending {
		t.Fatalf("default feedback should be Pending, got %q", resp.Runs[0].FeedbackStatus)
	}
}

func TestRunDetailSurvivesCorruptArtifact(t *testing.T) {
	store := newMemStore()
	run := store.addRun("r1", time.Now())
	run.artifacts[models.ArtifactAlertPayload] = []byte(`{"alerts":[]}`)
	run.artifacts[models.ArtifactFinalReport] = []byte(`{{{not json`)
	srv := newTestConsole(store)

	rec := do(t, srv, http.MethodGet, "/api/runs/r1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Alert  struct{ Error string }
		Report struct{ Error string }
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Alert.Error != "" {
		t.Fatalf("alert artifact should load: %q", resp.Alert.Error)
	}
	if resp.Report.Error == "" {
		t.Fatalf("corrupt report should surface a load error")
	}
}

func TestRunDetailNotFound(t *testing.T) {
	srv := newTestConsole(newMemStore())
	rec := do(t, srv, http.MethodGet, "/api/runs/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestFeedbackApproveIsIdempotent(t *testing.T) {
	store := newMemStore()
	run := store.addRun("r1", time.Now())
	srv := newTestConsole(store)

	for i := 0; i < 2; i++ {
		rec := do(t, srv, http.MethodPost, "/api/runs/r1/feedback", `{"status":"Approved"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("submit %d: expected 200, got %d", i, rec.Code)
		}
	}
	if run.tags[models.TagFeedbackStatus] != models.FeedbackApproved {
		t.Fatalf("feedback tag: %q", run.tags[models.TagFeedbackStatus])
	}
	if run.writes[models.ArtifactHumanFeedback] != 0 {
		t.Fatalf("approval must not write a correction artifact")
	}
}

func TestFeedbackCorrectionOverwrites(t *testing.T) {
	store := newMemStore()
	run := store.addRun("r1", time.Now())
	srv := newTestConsole(store)

	rec := do(t, srv, http.MethodPost, "/api/runs/r1/feedback", `{"status":"Corrected","text":"first cause"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec = do(t, srv, http.MethodPost, "/api/runs/r1/feedback", `{"status":"Corrected","text":"revised cause"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	if string(run.artifacts[models.ArtifactHumanFeedback]) != "revised cause" {
		t.Fatalf("correction not overwritten: %q", run.artifacts[models.ArtifactHumanFeedback])
	}
	if run.tags[models.TagFeedbackStatus] != models.FeedbackCorrected {
		t.Fatalf("feedback tag: %q", run.tags[models.TagFeedbackStatus])
	}
}

func TestFeedbackValidation(t *testing.T) {
	store := newMemStore()
	store.addRun("r1", time.Now())
	srv := newTestConsole(store)

	if rec := do(t, srv, http.MethodPost, "/api/runs/r1/feedback", `{"status":"Rejected"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown status: expected 400, got %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodPost, "/api/runs/r1/feedback", `{"status":"Corrected","text":"  "}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty correction: expected 400, got %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodPost, "/api/runs/missing/feedback", `{"status":"Approved"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("missing run: expected 404, got %d", rec.Code)
	}
}
