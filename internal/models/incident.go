package models

import "encoding/json"

// IncidentJob is the unit of work exchanged between the webhook receiver and
// the investigation worker. RawAlert is kept opaque: the receiver accepts any
// valid JSON document and the worker only inspects it best-effort.
type IncidentJob struct {
	IncidentID string          `json:"incident_id"`
	RawAlert   json.RawMessage `json:"raw_alert"`
}

// UnknownIncidentID is used when a dequeued job carries no incident id.
// A malformed job still produces a run record; it never fails processing.
const UnknownIncidentID = "unknown-incident"

// UnknownAlertName is the fallback when the alert payload has no recognizable
// alertname label.
const UnknownAlertName = "Unknown Alert"

// alertmanagerPayload mirrors the subset of the Alertmanager webhook body
// needed to pick a display name for an incident.
type alertmanagerPayload struct {
	Alerts []struct {
		Labels map[string]string `json:"labels"`
	} `json:"alerts"`
}

// AlertName extracts the first alert's alertname label from a raw alert
// payload. Any shape mismatch falls back to UnknownAlertName.
func AlertName(raw json.RawMessage) string {
	var payload alertmanagerPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return UnknownAlertName
	}
	if len(payload.Alerts) == 0 {
		return UnknownAlertName
	}
	if name := payload.Alerts[0].Labels["alertname"]; name != "" {
		return name
	}
	return UnknownAlertName
}
