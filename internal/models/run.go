package models

import "time"

// Investigation status tag values persisted on a run.
const (
	StatusInProgress      = "in_progress"
	StatusCompleteSuccess = "complete_success"
	StatusCompleteFailure = "complete_failure"
	StatusTimedOut        = "timed_out"
)

// Feedback status tag values. Pending is the implicit default for runs that
// have never been reviewed.
const (
	FeedbackPending   = "Pending"
	FeedbackApproved  = "Approved"
	FeedbackCorrected = "Corrected"
)

// Run tag keys.
const (
	TagIncidentID          = "incident_id"
	TagAlertName           = "alert_name"
	TagInvestigationStatus = "investigation_status"
	TagFeedbackStatus      = "feedback_status"
)

// Artifact names stored on a run.
const (
	ArtifactAlertPayload  = "alert_payload.json"
	ArtifactFinalReport   = "final_report.json"
	ArtifactHumanFeedback = "human_feedback.txt"
)

// TrajectoryStep records one tool invocation made during an investigation.
// Order within a trajectory is reasoning order and is significant.
type TrajectoryStep struct {
	Tool        string `json:"tool"`
	ToolInput   string `json:"tool_input"`
	Observation string `json:"observation"`
}

// FinalReport is the structured investigation outcome persisted as the
// final_report.json artifact.
type FinalReport struct {
	Version         int              `json:"version"`
	FinalConclusion string           `json:"final_conclusion"`
	FullTrajectory  []TrajectoryStep `json:"full_trajectory"`
}

// ReportVersion is the current FinalReport schema version.
const ReportVersion = 1

// RunSummary is the listing projection served by the feedback console.
type RunSummary struct {
	RunID               string    `json:"run_id"`
	IncidentID          string    `json:"incident_id"`
	AlertName           string    `json:"alert_name"`
	InvestigationStatus string    `json:"investigation_status"`
	FeedbackStatus      string    `json:"feedback_status"`
	StartedAt           time.Time `json:"started_at"`
}
