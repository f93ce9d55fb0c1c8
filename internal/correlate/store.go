package correlate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cwccie/netopshub/pkg/incident"
	"github.com/cwccie/netopshub/pkg/models"
)

// ErrNotFound is returned when an incident or window does not exist.
var ErrNotFound = errors.New("not found")

// IncidentStore persists incidents, their append-only evidence log, and
// maintenance windows.
type IncidentStore struct {
	db *sql.DB
}

// NewIncidentStore creates an incident store over an open database.
func NewIncidentStore(db *sql.DB) *IncidentStore {
	return &IncidentStore{db: db}
}

// SaveIncident upserts an incident record. Evidence is written separately
// and never rewritten.
func (s *IncidentStore) SaveIncident(ctx context.Context, inc incident.CandidateIncident) error {
	signals, err := json.Marshal(inc.Signals)
	if err != nil {
		return fmt.Errorf("marshal signals: %w", err)
	}
	devices, err := json.Marshal(inc.DeviceIDs)
	if err != nil {
		return fmt.Errorf("marshal device ids: %w", err)
	}
	var hyps []byte
	if len(inc.Hypotheses) > 0 {
		hyps, err = json.Marshal(inc.Hypotheses)
		if err != nil {
			return fmt.Errorf("marshal hypotheses: %w", err)
		}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO correlate_incidents
			(id, state, signals, device_ids, window_start, window_end, systemic, hypotheses, proposal_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			signals = excluded.signals,
			device_ids = excluded.device_ids,
			window_end = excluded.window_end,
			systemic = excluded.systemic,
			hypotheses = excluded.hypotheses,
			proposal_id = excluded.proposal_id,
			updated_at = excluded.updated_at`,
		inc.ID, string(inc.State), string(signals), string(devices),
		inc.WindowStart, inc.WindowEnd, boolToInt(inc.Systemic),
		nullable(hyps), inc.ProposalID, inc.CreatedAt, inc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save incident %s: %w", inc.ID, err)
	}
	return nil
}

// GetIncident loads one incident, or ErrNotFound.
func (s *IncidentStore) GetIncident(ctx context.Context, id string) (*incident.CandidateIncident, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, state, signals, device_ids, window_start, window_end, systemic, hypotheses, proposal_id, created_at, updated_at
		FROM correlate_incidents WHERE id = ?`, id)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get incident %s: %w", id, err)
	}
	return inc, nil
}

// ListIncidents returns incidents newest first, optionally filtered by state.
func (s *IncidentStore) ListIncidents(ctx context.Context, state incident.State) ([]incident.CandidateIncident, error) {
	query := `
		SELECT id, state, signals, device_ids, window_start, window_end, systemic, hypotheses, proposal_id, created_at, updated_at
		FROM correlate_incidents`
	args := []any{}
	if state != "" {
		query += " WHERE state = ?"
		args = append(args, string(state))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var out []incident.CandidateIncident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		out = append(out, *inc)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIncident(row scanner) (*incident.CandidateIncident, error) {
	var (
		inc      incident.CandidateIncident
		state    string
		signals  string
		devices  string
		systemic int
		hyps     sql.NullString
	)
	err := row.Scan(&inc.ID, &state, &signals, &devices, &inc.WindowStart,
		&inc.WindowEnd, &systemic, &hyps, &inc.ProposalID, &inc.CreatedAt, &inc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inc.State = incident.State(state)
	inc.Systemic = systemic != 0
	if err := json.Unmarshal([]byte(signals), &inc.Signals); err != nil {
		return nil, fmt.Errorf("unmarshal signals: %w", err)
	}
	if err := json.Unmarshal([]byte(devices), &inc.DeviceIDs); err != nil {
		return nil, fmt.Errorf("unmarshal device ids: %w", err)
	}
	if hyps.Valid && hyps.String != "" {
		if err := json.Unmarshal([]byte(hyps.String), &inc.Hypotheses); err != nil {
			return nil, fmt.Errorf("unmarshal hypotheses: %w", err)
		}
	}
	return &inc, nil
}

// AppendEvidence adds one audit entry. Entries are never updated or removed.
func (s *IncidentStore) AppendEvidence(ctx context.Context, ev incident.Evidence) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO correlate_evidence (incident_id, kind, stage, summary, detail, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.IncidentID, ev.Kind, ev.Stage, ev.Summary, ev.Detail, ev.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("append evidence for %s: %w", ev.IncidentID, err)
	}
	return nil
}

// Evidence returns an incident's audit entries in insertion order.
func (s *IncidentStore) Evidence(ctx context.Context, incidentID string) ([]incident.Evidence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, incident_id, kind, stage, summary, detail, recorded_at
		FROM correlate_evidence WHERE incident_id = ? ORDER BY seq`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list evidence for %s: %w", incidentID, err)
	}
	defer rows.Close()

	var out []incident.Evidence
	for rows.Next() {
		var ev incident.Evidence
		if err := rows.Scan(&ev.Seq, &ev.IncidentID, &ev.Kind, &ev.Stage,
			&ev.Summary, &ev.Detail, &ev.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CountByState returns incident counts grouped by lifecycle state.
func (s *IncidentStore) CountByState(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT state, COUNT(*) FROM correlate_incidents GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("count incidents: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		out[state] = n
	}
	return out, rows.Err()
}

// SaveWindow upserts a maintenance window.
func (s *IncidentStore) SaveWindow(ctx context.Context, w models.MaintenanceWindow) error {
	devices, err := json.Marshal(w.DeviceIDs)
	if err != nil {
		return fmt.Errorf("marshal device ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO correlate_maintenance_windows
			(id, name, description, start_time, end_time, recurrence, device_ids, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			recurrence = excluded.recurrence,
			device_ids = excluded.device_ids,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		w.ID, w.Name, w.Description, w.StartTime, w.EndTime, w.Recurrence,
		string(devices), boolToInt(w.Enabled), w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save window %s: %w", w.ID, err)
	}
	return nil
}

// DeleteWindow removes a maintenance window.
func (s *IncidentStore) DeleteWindow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM correlate_maintenance_windows WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete window %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("window %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListWindows returns all maintenance windows.
func (s *IncidentStore) ListWindows(ctx context.Context) ([]models.MaintenanceWindow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, start_time, end_time, recurrence, device_ids, enabled, created_at, updated_at
		FROM correlate_maintenance_windows ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	defer rows.Close()

	var out []models.MaintenanceWindow
	for rows.Next() {
		var (
			w       models.MaintenanceWindow
			devices string
			enabled int
		)
		if err := rows.Scan(&w.ID, &w.Name, &w.Description, &w.StartTime,
			&w.EndTime, &w.Recurrence, &devices, &enabled, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan window: %w", err)
		}
		w.Enabled = enabled != 0
		if err := json.Unmarshal([]byte(devices), &w.DeviceIDs); err != nil {
			return nil, fmt.Errorf("unmarshal device ids: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
