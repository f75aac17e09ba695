package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"incident-agent/internal/agent"
	"incident-agent/internal/config"
	"incident-agent/internal/models"
	"incident-agent/internal/queue"
)

type fakeRun struct {
	experiment string
	name       string
	tags       map[string]string
	params     map[string]string
	artifacts  map[string][]byte
	closed     bool
}

type fakeStore struct {
	mu      sync.Mutex
	runs    map[string]*fakeRun
	seq     int
	created int
}

func newFakeStore() *fakeStore {
	return &fakeStore{runs: map[string]*fakeRun{}}
}

func (s *fakeStore) CreateRun(_ context.Context, experiment, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.created++
	id := fmt.Sprintf("run-%d", s.seq)
	s.runs[id] = &fakeRun{
		experiment: experiment,
		name:       name,
		tags:       map[string]string{},
		params:     map[string]string{},
		artifacts:  map[string][]byte{},
	}
	return id, nil
}

func (s *fakeStore) FindOpenRunByIncident(_ context.Context, experiment, incidentID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, run := range s.runs {
		if run.experiment == experiment && !run.closed && run.tags[models.TagIncidentID] == incidentID {
			return id, true, nil
		}
	}
	return "", false, nil
}

func (s *fakeStore) SetTag(_ context.Context, runID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return errors.New("no such run")
	}
	run.tags[key] = value
	return nil
}

func (s *fakeStore) LogParam(_ context.Context, runID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return errors.New("no such run")
	}
	run.params[key] = value
	return nil
}

func (s *fakeStore) LogArtifact(_ context.Context, runID, name string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return errors.New("no such run")
	}
	run.artifacts[name] = content
	return nil
}

func (s *fakeStore) CloseRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return errors.New("no such run")
	}
	run.closed = true
	return nil
}

func (s *fakeStore) snapshot() map[string]fakeRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]fakeRun{}
	for id, run := range s.runs {
		out[id] = *run
	}
	return out
}

type engineFunc func(ctx context.Context, input string) (*agent.Result, error)

func (f engineFunc) Invoke(ctx context.Context, input string) (*agent.Result, error) {
	return f(ctx, input)
}

func testConfig() config.Config {
	return config.Config{
		ExperimentName:       "test_experiment",
		InvestigationTimeout: time.Second,
		DequeueBackoff:       10 * time.Millisecond,
	}
}

func quiet() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestProcessIncidentSuccess(t *testing.T) {
	store := newFakeStore()
	engine := engineFunc(func(_ context.Context, input string) (*agent.Result, error) {
		if !strings.Contains(input, "HighCpuUsage") {
			t.Errorf("prompt missing alert data: %s", input)
		}
		return &agent.Result{
			Output: "The billing service is CPU bound.",
			Steps: []models.TrajectoryStep{
				{Tool: "search_runbooks", ToolInput: "high cpu", Observation: "check the billing pod"},
			},
		}, nil
	})
	w := NewInvestigator(testConfig(), nil, store, engine, quiet())

	job := models.IncidentJob{
		IncidentID: "inc-1",
		RawAlert:   json.RawMessage(`{"alerts":[{"labels":{"alertname":"HighCpuUsage"}}]}`),
	}
	if err := w.processIncident(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}

	runs := store.snapshot()
	if len(runs) != 1 {
		t.Fatalf("expected exactly one run, got %d", len(runs))
	}
	for _, run := range runs {
		if !run.closed {
			t.Fatalf("run not closed")
		}
		if run.tags[models.TagIncidentID] != "inc-1" {
			t.Fatalf("incident tag: %q", run.tags[models.TagIncidentID])
		}
		if run.tags[models.TagAlertName] != "HighCpuUsage" {
			t.Fatalf("alert name tag: %q", run.tags[models.TagAlertName])
		}
		if run.tags[models.TagInvestigationStatus] != models.StatusCompleteSuccess {
			t.Fatalf("status tag: %q", run.tags[models.TagInvestigationStatus])
		}
		if _, ok := run.artifacts[models.ArtifactAlertPayload]; !ok {
			t.Fatalf("alert payload artifact missing")
		}
		var report models.FinalReport
		if err := json.Unmarshal(run.artifacts[models.ArtifactFinalReport], &report); err != nil {
			t.Fatalf("decode report: %v", err)
		}
		if report.FinalConclusion == "" || len(report.FullTrajectory) != 1 {
			t.Fatalf("unexpected report: %+v", report)
		}
		if report.FullTrajectory[0].Tool != "search_runbooks" {
			t.Fatalf("trajectory not structured: %+v", report.FullTrajectory[0])
		}
	}
}

func TestProcessIncidentFailureRecorded(t *testing.T) {
	store := newFakeStore()
	engine := engineFunc(func(context.Context, string) (*agent.Result, error) {
		return nil, errors.New("parse errors exceeded tolerance")
	})
	w := NewInvestigator(testConfig(), nil, store, engine, quiet())

	job := models.IncidentJob{IncidentID: "inc-2", RawAlert: json.RawMessage(`{}`)}
	if err := w.processIncident(context.Background(), job); err != nil {
		t.Fatalf("failure must not propagate: %v", err)
	}

	for _, run := range store.snapshot() {
		if run.tags[models.TagInvestigationStatus] != models.StatusCompleteFailure {
			t.Fatalf("status tag: %q", run.tags[models.TagInvestigationStatus])
		}
		if !strings.Contains(run.params["error_message"], "tolerance") {
			t.Fatalf("error param: %q", run.params["error_message"])
		}
		if !run.closed {
			t.Fatalf("failed run not closed")
		}
		if _, ok := run.artifacts[models.ArtifactAlertPayload]; !ok {
			t.Fatalf("alert payload should be persisted before the agent runs")
		}
	}
}

func TestProcessIncidentTimeout(t *testing.T) {
	store := newFakeStore()
	engine := engineFunc(func(ctx context.Context, _ string) (*agent.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg := testConfig()
	cfg.InvestigationTimeout = 20 * time.Millisecond
	w := NewInvestigator(cfg, nil, store, engine, quiet())

	job := models.IncidentJob{IncidentID: "inc-3", RawAlert: json.RawMessage(`{}`)}
	if err := w.processIncident(context.Background(), job); err != nil {
		t.Fatalf("timeout must not propagate: %v", err)
	}

	for _, run := range store.snapshot() {
		if run.tags[models.TagInvestigationStatus] != models.StatusTimedOut {
			t.Fatalf("status tag: %q", run.tags[models.TagInvestigationStatus])
		}
	}
}

func TestProcessIncidentMalformedJob(t *testing.T) {
	store := newFakeStore()
	engine := engineFunc(func(context.Context, string) (*agent.Result, error) {
		return &agent.Result{Output: "nothing to see"}, nil
	})
	w := NewInvestigator(testConfig(), nil, store, engine, quiet())

	if err := w.processIncident(context.Background(), models.IncidentJob{RawAlert: json.RawMessage(`"just a string"`)}); err != nil {
		t.Fatalf("process: %v", err)
	}

	for _, run := range store.snapshot() {
		if run.tags[models.TagIncidentID] != models.UnknownIncidentID {
			t.Fatalf("incident tag: %q", run.tags[models.TagIncidentID])
		}
		if run.tags[models.TagAlertName] != models.UnknownAlertName {
			t.Fatalf("alert name tag: %q", run.tags[models.TagAlertName])
		}
	}
}

func TestRunReusedOnRedelivery(t *testing.T) {
	store := newFakeStore()
	engine := engineFunc(func(context.Context, string) (*agent.Result, error) {
		return &agent.Result{Output: "ok"}, nil
	})
	w := NewInvestigator(testConfig(), nil, store, engine, quiet())

	runID, _ := store.CreateRun(context.Background(), "test_experiment", "Incident-inc-9")
	_ = store.SetTag(context.Background(), runID, models.TagIncidentID, "inc-9")

	job := models.IncidentJob{IncidentID: "inc-9", RawAlert: json.RawMessage(`{}`)}
	if err := w.processIncident(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}

	if store.created != 1 {
		t.Fatalf("expected redelivered incident to reuse its run, created=%d", store.created)
	}
}

// A reasoning failure for one incident must not prevent the next queued
// incident from completing.
func TestWorkerLoopCrashIsolation(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.NewWithClient(client, "incident:queue", "test-worker")

	store := newFakeStore()
	engine := engineFunc(func(_ context.Context, input string) (*agent.Result, error) {
		if strings.Contains(input, "ExplodingAlert") {
			return nil, errors.New("injected reasoning failure")
		}
		return &agent.Result{Output: "healthy conclusion"}, nil
	})
	w := NewInvestigator(testConfig(), q, store, engine, quiet())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = q.Enqueue(ctx, models.IncidentJob{
		IncidentID: "inc-a",
		RawAlert:   json.RawMessage(`{"alerts":[{"labels":{"alertname":"ExplodingAlert"}}]}`),
	})
	_ = q.Enqueue(ctx, models.IncidentJob{
		IncidentID: "inc-b",
		RawAlert:   json.RawMessage(`{"alerts":[{"labels":{"alertname":"HighCpuUsage"}}]}`),
	})

	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		runs := store.snapshot()
		closed := 0
		for _, run := range runs {
			if run.closed {
				closed++
			}
		}
		if closed == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("worker did not finish both incidents, runs=%d closed=%d", len(runs), closed)
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	statusByIncident := map[string]string{}
	for _, run := range store.snapshot() {
		statusByIncident[run.tags[models.TagIncidentID]] = run.tags[models.TagInvestigationStatus]
	}
	if statusByIncident["inc-a"] != models.StatusCompleteFailure {
		t.Fatalf("incident a: %q", statusByIncident["inc-a"])
	}
	if statusByIncident["inc-b"] != models.StatusCompleteSuccess {
		t.Fatalf("incident b: %q", statusByIncident["inc-b"])
	}

	if depth, _ := q.Depth(context.Background()); depth != 0 {
		t.Fatalf("queue should be drained, depth=%d", depth)
	}
}
