// Package worker drives the investigation lifecycle: block on the incident
// queue, run the reasoning loop against each job, and record the outcome as
// a run. One job at a time; a bad incident never stops the loop.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"incident-agent/internal/agent"
	"incident-agent/internal/config"
	"incident-agent/internal/models"
	"incident-agent/internal/queue"
	"incident-agent/internal/telemetry"
)

// RunStore is the slice of the run store the investigator writes to.
type RunStore interface {
	FindOpenRunByIncident(ctx context.Context, experiment, incidentID string) (string, bool, error)
	CreateRun(ctx context.Context, experiment, name string) (string, error)
	SetTag(ctx context.Context, runID, key, value string) error
	LogParam(ctx context.Context, runID, key, value string) error
	LogArtifact(ctx context.Context, runID, name string, content []byte) error
	CloseRun(ctx context.Context, runID string) error
}

// Engine is the reasoning loop contract the investigator depends on.
type Engine interface {
	Invoke(ctx context.Context, input string) (*agent.Result, error)
}

// Investigator consumes incident jobs sequentially and records one run per
// job.
type Investigator struct {
	cfg    config.Config
	queue  *queue.IncidentQueue
	store  RunStore
	engine Engine
	log    *slog.Logger
}

// NewInvestigator wires the worker. The engine and its tool clients are
// expected to be fully initialized before the first job is processed.
func NewInvestigator(cfg config.Config, q *queue.IncidentQueue, store RunStore, engine Engine, log *slog.Logger) *Investigator {
	if log == nil {
		log = slog.Default()
	}
	return &Investigator{cfg: cfg, queue: q, store: store, engine: engine, log: log}
}

// Run blocks on the queue and processes jobs until the context is cancelled.
// Jobs stranded in the processing list by a previous crash are requeued
// first.
func (w *Investigator) Run(ctx context.Context) error {
	if reclaimed, err := w.queue.ReclaimProcessing(ctx); err != nil {
		w.log.Error("reclaim processing list", "error", err)
	} else if reclaimed > 0 {
		w.log.Info("requeued jobs from previous session", "count", reclaimed)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if depth, err := w.queue.Depth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		job, raw, err := w.queue.DequeueBlocking(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if raw == "" {
				// Connectivity error; back off and retry.
				w.log.Error("dequeue failed", "error", err)
				time.Sleep(w.cfg.DequeueBackoff)
				continue
			}
			// The entry popped but did not decode. It still gets a run
			// record: the raw bytes are all the forensic input there is.
			w.log.Warn("dequeued malformed job", "error", err)
			job = models.IncidentJob{RawAlert: json.RawMessage(raw)}
		}

		if err := w.processIncident(ctx, job); err != nil {
			// Recording failed entirely (run store unreachable). Leave the
			// entry in the processing list so a restart redelivers it.
			w.log.Error("incident left unrecorded", "incident_id", job.IncidentID, "error", err)
			continue
		}
		if err := w.queue.Ack(ctx, raw); err != nil {
			w.log.Error("ack failed", "incident_id", job.IncidentID, "error", err)
		}
	}
}

// processIncident runs the per-job state machine. The only error it returns
// is failure to create the run record at all; every later failure is
// recorded on the run and absorbed here.
func (w *Investigator) processIncident(ctx context.Context, job models.IncidentJob) error {
	incidentID := job.IncidentID
	if incidentID == "" {
		incidentID = models.UnknownIncidentID
	}
	alertName := models.AlertName(job.RawAlert)
	log := w.log.With("incident_id", incidentID)
	log.Info("starting investigation", "alert_name", alertName)

	runID, err := w.openRun(ctx, incidentID)
	if err != nil {
		return fmt.Errorf("open run: %w", err)
	}
	log = log.With("run_id", runID)

	w.tag(ctx, runID, models.TagIncidentID, incidentID, log)
	w.tag(ctx, runID, models.TagAlertName, alertName, log)
	w.tag(ctx, runID, models.TagInvestigationStatus, models.StatusInProgress, log)

	// Persist the raw alert before reasoning starts: a crash mid-loop must
	// still leave the forensic input behind.
	if err := w.store.LogArtifact(ctx, runID, models.ArtifactAlertPayload, []byte(prettyJSON(job.RawAlert))); err != nil {
		log.Error("store alert payload", "error", err)
	}

	telemetry.InvestigationGauge.Set(1)
	defer telemetry.InvestigationGauge.Set(0)

	invokeCtx, cancel := context.WithTimeout(ctx, w.cfg.InvestigationTimeout)
	result, invokeErr := w.engine.Invoke(invokeCtx, investigationInput(job.RawAlert))
	cancel()

	switch {
	case invokeErr == nil:
		report := models.FinalReport{
			Version:         models.ReportVersion,
			FinalConclusion: result.Output,
			FullTrajectory:  result.Steps,
		}
		content, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			log.Error("marshal final report", "error", err)
		} else if err := w.store.LogArtifact(ctx, runID, models.ArtifactFinalReport, content); err != nil {
			log.Error("store final report", "error", err)
		}
		w.tag(ctx, runID, models.TagInvestigationStatus, models.StatusCompleteSuccess, log)
		telemetry.InvestigationSuccess.Inc()
		log.Info("investigation complete", "steps", len(result.Steps))

	case errors.Is(invokeErr, context.DeadlineExceeded) && ctx.Err() == nil:
		if err := w.store.LogParam(ctx, runID, "error_message", invokeErr.Error()); err != nil {
			log.Error("log error param", "error", err)
		}
		w.tag(ctx, runID, models.TagInvestigationStatus, models.StatusTimedOut, log)
		telemetry.InvestigationTimeout.Inc()
		log.Warn("investigation timed out", "timeout", w.cfg.InvestigationTimeout)

	default:
		if err := w.store.LogParam(ctx, runID, "error_message", invokeErr.Error()); err != nil {
			log.Error("log error param", "error", err)
		}
		w.tag(ctx, runID, models.TagInvestigationStatus, models.StatusCompleteFailure, log)
		telemetry.InvestigationFailure.Inc()
		log.Error("investigation failed", "error", invokeErr)
	}

	if err := w.store.CloseRun(ctx, runID); err != nil {
		log.Error("close run", "error", err)
	}
	return nil
}

// openRun reuses an unfinished run already tagged with this incident
// (redelivery after a crash) or creates a fresh one. Jobs without a real
// incident id are never deduplicated against each other.
func (w *Investigator) openRun(ctx context.Context, incidentID string) (string, error) {
	if incidentID != models.UnknownIncidentID {
		if runID, found, err := w.store.FindOpenRunByIncident(ctx, w.cfg.ExperimentName, incidentID); err != nil {
			w.log.Error("lookup existing run", "incident_id", incidentID, "error", err)
		} else if found {
			w.log.Info("resuming existing run", "incident_id", incidentID, "run_id", runID)
			return runID, nil
		}
	}
	return w.store.CreateRun(ctx, w.cfg.ExperimentName, "Incident-"+incidentID)
}

func (w *Investigator) tag(ctx context.Context, runID, key, value string, log *slog.Logger) {
	if err := w.store.SetTag(ctx, runID, key, value); err != nil {
		log.Error("set tag", "key", key, "error", err)
	}
}
