package orchestrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cwccie/netopshub/pkg/plugin"
)

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create run table",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE IF NOT EXISTS orchestrate_runs (
						incident_id TEXT PRIMARY KEY,
						stage       TEXT NOT NULL,
						proposal_id TEXT NOT NULL DEFAULT '',
						loops       INTEGER NOT NULL DEFAULT 0,
						started_at  TIMESTAMP NOT NULL,
						updated_at  TIMESTAMP NOT NULL
					);
				`)
				return err
			},
		},
		{
			Version:     2,
			Description: "create device config table",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE IF NOT EXISTS orchestrate_device_configs (
						device_id  TEXT PRIMARY KEY,
						config     TEXT NOT NULL,
						updated_at TIMESTAMP NOT NULL
					);
				`)
				return err
			},
		},
	}
}

// Run is the persisted position of one incident's orchestrator pipeline.
// Loops counts verification recurrences sent back to diagnosis.
type Run struct {
	IncidentID string    `json:"incident_id"`
	Stage      Stage     `json:"stage"`
	ProposalID string    `json:"proposal_id,omitempty"`
	Loops      int       `json:"loops"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RunStore persists orchestrator runs and uploaded device configurations.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a run store over an open database.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// SaveRun upserts a run row.
func (s *RunStore) SaveRun(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orchestrate_runs (incident_id, stage, proposal_id, loops, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(incident_id) DO UPDATE SET
			stage = excluded.stage,
			proposal_id = excluded.proposal_id,
			loops = excluded.loops,
			updated_at = excluded.updated_at`,
		r.IncidentID, string(r.Stage), r.ProposalID, r.Loops, r.StartedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.IncidentID, err)
	}
	return nil
}

// GetRun loads one run, or ErrRunNotFound.
func (s *RunStore) GetRun(ctx context.Context, incidentID string) (*Run, error) {
	var (
		r     Run
		stage string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT incident_id, stage, proposal_id, loops, started_at, updated_at
		FROM orchestrate_runs WHERE incident_id = ?`, incidentID).
		Scan(&r.IncidentID, &stage, &r.ProposalID, &r.Loops, &r.StartedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", incidentID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", incidentID, err)
	}
	r.Stage = Stage(stage)
	return &r, nil
}

// ListRuns returns all runs, most recently updated first.
func (s *RunStore) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT incident_id, stage, proposal_id, loops, started_at, updated_at
		FROM orchestrate_runs ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r     Run
			stage string
		)
		if err := rows.Scan(&r.IncidentID, &stage, &r.ProposalID, &r.Loops,
			&r.StartedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Stage = Stage(stage)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveDeviceConfig stores a device's running configuration for audits.
func (s *RunStore) SaveDeviceConfig(ctx context.Context, deviceID, config string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orchestrate_device_configs (device_id, config, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			config = excluded.config,
			updated_at = excluded.updated_at`,
		deviceID, config, now,
	)
	if err != nil {
		return fmt.Errorf("save config for %s: %w", deviceID, err)
	}
	return nil
}

// DeviceConfig returns the stored configuration for a device, or "" when
// none has been uploaded.
func (s *RunStore) DeviceConfig(ctx context.Context, deviceID string) (string, error) {
	var config string
	err := s.db.QueryRowContext(ctx,
		"SELECT config FROM orchestrate_device_configs WHERE device_id = ?", deviceID).
		Scan(&config)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get config for %s: %w", deviceID, err)
	}
	return config, nil
}
