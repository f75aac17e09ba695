// Package export turns reviewed investigations into a fine-tuning dataset:
// one (instruction, accepted response) pair per approved or corrected run.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"incident-agent/internal/models"
	"incident-agent/internal/runstore"
	"incident-agent/internal/telemetry"
)

// Store is the slice of the run store the exporter reads.
type Store interface {
	SearchByFeedback(ctx context.Context, experiment string, statuses ...string) ([]models.RunSummary, error)
	GetArtifact(ctx context.Context, runID, name string) ([]byte, error)
}

// Exporter scans reviewed runs and writes newline-delimited JSON training
// samples. The whole batch is best-effort: a run with missing or malformed
// artifacts is skipped and logged, never fatal.
type Exporter struct {
	store      Store
	experiment string
	log        *slog.Logger
}

func New(store Store, experiment string, log *slog.Logger) *Exporter {
	if log == nil {
		log = slog.Default()
	}
	return &Exporter{store: store, experiment: experiment, log: log}
}

// trainingSample is one output line.
type trainingSample struct {
	Text string `json:"text"`
}

// Export writes one sample per exportable run and returns how many were
// written.
func (e *Exporter) Export(ctx context.Context, w io.Writer) (int, error) {
	runs, err := e.store.SearchByFeedback(ctx, e.experiment, models.FeedbackApproved, models.FeedbackCorrected)
	if err != nil {
		return 0, fmt.Errorf("search reviewed runs: %w", err)
	}
	if len(runs) == 0 {
		e.log.Warn("no approved or corrected runs found, nothing to export")
		return 0, nil
	}
	e.log.Info("found reviewed runs", "count", len(runs))

	enc := json.NewEncoder(w)
	exported := 0
	for _, run := range runs {
		text, err := e.buildSample(ctx, run)
		if err != nil {
			telemetry.ExportSkips.Inc()
			e.log.Error("skipping run", "run_id", run.RunID, "error", err)
			continue
		}
		if err := enc.Encode(trainingSample{Text: text}); err != nil {
			return exported, fmt.Errorf("write sample: %w", err)
		}
		telemetry.ExportedSamples.Inc()
		exported++
	}
	e.log.Info("export finished", "exported", exported, "skipped", len(runs)-exported)
	return exported, nil
}

// buildSample assembles the concatenated instruction+response document for
// one run, or an error describing why the run cannot be exported.
func (e *Exporter) buildSample(ctx context.Context, run models.RunSummary) (string, error) {
	alert, err := e.store.GetArtifact(ctx, run.RunID, models.ArtifactAlertPayload)
	if err != nil {
		return "", fmt.Errorf("alert artifact: %w", err)
	}
	reportRaw, err := e.store.GetArtifact(ctx, run.RunID, models.ArtifactFinalReport)
	if err != nil {
		return "", fmt.Errorf("report artifact: %w", err)
	}

	conclusion, steps, err := decodeReport(reportRaw)
	if err != nil {
		return "", fmt.Errorf("report artifact: %w", err)
	}

	response := conclusion
	if run.FeedbackStatus == models.FeedbackCorrected {
		correction, err := e.store.GetArtifact(ctx, run.RunID, models.ArtifactHumanFeedback)
		if err != nil {
			return "", fmt.Errorf("correction artifact: %w", err)
		}
		response = string(correction)
	}

	instruction := buildInstruction(alert, steps)
	if strings.TrimSpace(instruction) == "" || strings.TrimSpace(response) == "" {
		return "", fmt.Errorf("empty instruction or response")
	}
	return instruction + response + endOfSequence, nil
}

// decodeReport reads the conclusion and as many trajectory steps as decode
// cleanly. A step that does not decode is dropped, not fatal.
func decodeReport(raw []byte) (string, []models.TrajectoryStep, error) {
	var report struct {
		FinalConclusion string            `json:"final_conclusion"`
		FullTrajectory  []json.RawMessage `json:"full_trajectory"`
	}
	if err := json.Unmarshal(raw, &report); err != nil {
		return "", nil, fmt.Errorf("decode report: %w", err)
	}

	var steps []models.TrajectoryStep
	for _, rawStep := range report.FullTrajectory {
		var step models.TrajectoryStep
		if err := json.Unmarshal(rawStep, &step); err != nil || step.Tool == "" {
			continue
		}
		steps = append(steps, step)
	}
	return report.FinalConclusion, steps, nil
}

// Turn delimiters for the training document.
const (
	userTurnOpen  = "<s><|user|>\n"
	userTurnClose = "<|end|>\n<|assistant|>"
	endOfSequence = "</s>"
)

// buildInstruction reconstructs the investigation prompt the model should
// learn to answer: the alert plus the trajectory it walked.
func buildInstruction(alert []byte, steps []models.TrajectoryStep) string {
	var trajectory strings.Builder
	for i, step := range steps {
		if i > 0 {
			trajectory.WriteString("\n\n")
		}
		fmt.Fprintf(&trajectory, "Step %d:\n- Tool: %s\n- Input: %s\n- Observation: %s",
			i+1, step.Tool, step.ToolInput, step.Observation)
	}
	trajectoryStr := trajectory.String()
	if trajectoryStr == "" {
		trajectoryStr = "No tool steps were taken."
	}

	return fmt.Sprintf(`%sYou are an expert SRE agent. You were given the following alert:
**Alert:**
`+"```json\n%s\n```"+`
You performed an investigation and took the following steps (your trajectory):
**Trajectory:**
%s
Based on all of this information, what is the final root cause analysis?%s`,
		userTurnOpen, strings.TrimSpace(string(alert)), trajectoryStr, userTurnClose)
}

var _ Store = (*runstore.Store)(nil)
