package runstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"incident-agent/internal/models"
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("run not found")

// Store is the durable record of investigations: run metadata plus
// last-write-wins tags, parameters, and named artifacts, keyed by run id.
type Store struct {
	pool      *pgxpool.Pool
	artifacts ArtifactStore
}

// New creates a pooled connection to Postgres with Postgres-backed artifact
// storage.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: pool}
	s.artifacts = &pgArtifacts{pool: pool}
	return s, nil
}

// Pool exposes the underlying connection pool for collaborators that share
// the database (runbook index).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// UseArtifactStore swaps the artifact backend (S3 offload).
func (s *Store) UseArtifactStore(as ArtifactStore) {
	if as != nil {
		s.artifacts = as
	}
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks store connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateRun opens a new run in the experiment and returns its id.
func (s *Store) CreateRun(ctx context.Context, experiment, name string) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO runs (id, experiment, name, started_at)
		VALUES ($1, $2, $3, NOW())
	`, id, experiment, name)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FindOpenRunByIncident returns the id of an unfinished run already tagged
// with the incident id, if one exists. Used to keep run creation idempotent
// across queue redelivery.
func (s *Store) FindOpenRunByIncident(ctx context.Context, experiment, incidentID string) (string, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT r.id FROM runs r
		JOIN run_tags t ON t.run_id = r.id AND t.key = $3 AND t.value = $2
		WHERE r.experiment = $1 AND r.ended_at IS NULL
		ORDER BY r.started_at DESC
		LIMIT 1
	`, experiment, incidentID, models.TagIncidentID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find open run: %w", err)
	}
	return id, true, nil
}

// SetTag upserts a tag on a run. Last write wins.
func (s *Store) SetTag(ctx context.Context, runID, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO run_tags (run_id, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id, key) DO UPDATE SET value = EXCLUDED.value
	`, runID, key, value)
	if err != nil {
		return fmt.Errorf("set tag %s: %w", key, err)
	}
	return nil
}

// LogParam upserts a parameter on a run.
func (s *Store) LogParam(ctx context.Context, runID, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO run_params (run_id, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id, key) DO UPDATE SET value = EXCLUDED.value
	`, runID, key, value)
	if err != nil {
		return fmt.Errorf("log param %s: %w", key, err)
	}
	return nil
}

// LogArtifact stores a named artifact on a run, overwriting any prior content.
func (s *Store) LogArtifact(ctx context.Context, runID, name string, content []byte) error {
	return s.artifacts.Put(ctx, runID, name, content)
}

// GetArtifact loads a named artifact. Missing artifacts return
// ErrArtifactNotFound.
func (s *Store) GetArtifact(ctx context.Context, runID, name string) ([]byte, error) {
	return s.artifacts.Get(ctx, runID, name)
}

// CloseRun finalizes a run. Closing an already closed run is a no-op.
func (s *Store) CloseRun(ctx context.Context, runID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE runs SET ended_at = NOW() WHERE id = $1 AND ended_at IS NULL
	`, runID)
	if err != nil {
		return fmt.Errorf("close run: %w", err)
	}
	return nil
}

// GetRun returns the summary projection for one run.
func (s *Store) GetRun(ctx context.Context, runID string) (models.RunSummary, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT r.id, r.started_at,
		       COALESCE(ti.value, 'N/A'),
		       COALESCE(ta.value, 'N/A'),
		       COALESCE(ts.value, 'N/A'),
		       COALESCE(tf.value, $2)
		FROM runs r
		LEFT JOIN run_tags ti ON ti.run_id = r.id AND ti.key = 'incident_id'
		LEFT JOIN run_tags ta ON ta.run_id = r.id AND ta.key = 'alert_name'
		LEFT JOIN run_tags ts ON ts.run_id = r.id AND ts.key = 'investigation_status'
		LEFT JOIN run_tags tf ON tf.run_id = r.id AND tf.key = 'feedback_status'
		WHERE r.id = $1
	`, runID, models.FeedbackPending)

	var sum models.RunSummary
	var startedAt time.Time
	if err := row.Scan(&sum.RunID, &startedAt, &sum.IncidentID, &sum.AlertName, &sum.InvestigationStatus, &sum.FeedbackStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.RunSummary{}, ErrRunNotFound
		}
		return models.RunSummary{}, fmt.Errorf("get run: %w", err)
	}
	sum.StartedAt = startedAt
	return sum, nil
}

// ListRuns returns all runs in the experiment, newest first, with the
// console's tag projection. Runs with missing tags still appear; absent
// feedback reads as Pending.
func (s *Store) ListRuns(ctx context.Context, experiment string) ([]models.RunSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.started_at,
		       COALESCE(ti.value, 'N/A'),
		       COALESCE(ta.value, 'N/A'),
		       COALESCE(ts.value, 'N/A'),
		       COALESCE(tf.value, $2)
		FROM runs r
		LEFT JOIN run_tags ti ON ti.run_id = r.id AND ti.key = 'incident_id'
		LEFT JOIN run_tags ta ON ta.run_id = r.id AND ta.key = 'alert_name'
		LEFT JOIN run_tags ts ON ts.run_id = r.id AND ts.key = 'investigation_status'
		LEFT JOIN run_tags tf ON tf.run_id = r.id AND tf.key = 'feedback_status'
		WHERE r.experiment = $1
		ORDER BY r.started_at DESC
	`, experiment, models.FeedbackPending)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []models.RunSummary
	for rows.Next() {
		var sum models.RunSummary
		if err := rows.Scan(&sum.RunID, &sum.StartedAt, &sum.IncidentID, &sum.AlertName, &sum.InvestigationStatus, &sum.FeedbackStatus); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// SearchByFeedback returns runs whose feedback_status tag is one of the given
// values, newest first.
func (s *Store) SearchByFeedback(ctx context.Context, experiment string, statuses ...string) ([]models.RunSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.started_at,
		       COALESCE(ti.value, 'N/A'),
		       COALESCE(ta.value, 'N/A'),
		       COALESCE(ts.value, 'N/A'),
		       tf.value
		FROM runs r
		JOIN run_tags tf ON tf.run_id = r.id AND tf.key = 'feedback_status' AND tf.value = ANY($2)
		LEFT JOIN run_tags ti ON ti.run_id = r.id AND ti.key = 'incident_id'
		LEFT JOIN run_tags ta ON ta.run_id = r.id AND ta.key = 'alert_name'
		LEFT JOIN run_tags ts ON ts.run_id = r.id AND ts.key = 'investigation_status'
		WHERE r.experiment = $1
		ORDER BY r.started_at DESC
	`, experiment, statuses)
	if err != nil {
		return nil, fmt.Errorf("search runs by feedback: %w", err)
	}
	defer rows.Close()

	var out []models.RunSummary
	for rows.Next() {
		var sum models.RunSummary
		if err := rows.Scan(&sum.RunID, &sum.StartedAt, &sum.IncidentID, &sum.AlertName, &sum.InvestigationStatus, &sum.FeedbackStatus); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}
