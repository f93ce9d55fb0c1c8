package gate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cwccie/netopshub/pkg/incident"
	"github.com/cwccie/netopshub/pkg/plugin"
)

// Migrations returns the gate's schema migrations, applied by the module
// that hosts the gate.
func Migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create proposal table",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE IF NOT EXISTS gate_proposals (
						id            TEXT PRIMARY KEY,
						incident_id   TEXT NOT NULL,
						title         TEXT NOT NULL,
						steps         TEXT NOT NULL,
						rollback      TEXT NOT NULL,
						diff_preview  TEXT NOT NULL DEFAULT '',
						risk_level    TEXT NOT NULL,
						auto_rollback INTEGER NOT NULL DEFAULT 0,
						approval      TEXT,
						created_at    TIMESTAMP NOT NULL
					);
					CREATE INDEX IF NOT EXISTS idx_gate_proposals_incident
						ON gate_proposals(incident_id);
				`)
				return err
			},
		},
	}
}

// Store persists remediation proposals.
type Store struct {
	db *sql.DB
}

// NewStore creates a proposal store over an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveProposal upserts a proposal row.
func (s *Store) SaveProposal(ctx context.Context, p incident.RemediationProposal) error {
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	rollback, err := json.Marshal(p.Rollback)
	if err != nil {
		return fmt.Errorf("marshal rollback: %w", err)
	}
	var approval any
	if p.Approval != nil {
		raw, err := json.Marshal(p.Approval)
		if err != nil {
			return fmt.Errorf("marshal approval: %w", err)
		}
		approval = string(raw)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO gate_proposals
			(id, incident_id, title, steps, rollback, diff_preview, risk_level, auto_rollback, approval, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			approval = excluded.approval`,
		p.ID, p.IncidentID, p.Title, string(steps), string(rollback),
		p.DiffPreview, p.RiskLevel, boolToInt(p.AutoRollback), approval, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save proposal %s: %w", p.ID, err)
	}
	return nil
}

// GetProposal loads one proposal, or ErrNotFound.
func (s *Store) GetProposal(ctx context.Context, id string) (*incident.RemediationProposal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, incident_id, title, steps, rollback, diff_preview, risk_level, auto_rollback, approval, created_at
		FROM gate_proposals WHERE id = ?`, id)
	p, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("proposal %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal %s: %w", id, err)
	}
	return p, nil
}

// ListPending returns undecided proposals, oldest first.
func (s *Store) ListPending(ctx context.Context) ([]incident.RemediationProposal, error) {
	return s.list(ctx, `
		SELECT id, incident_id, title, steps, rollback, diff_preview, risk_level, auto_rollback, approval, created_at
		FROM gate_proposals WHERE approval IS NULL ORDER BY created_at`)
}

// ListByIncident returns all proposals for an incident, oldest first.
func (s *Store) ListByIncident(ctx context.Context, incidentID string) ([]incident.RemediationProposal, error) {
	return s.list(ctx, `
		SELECT id, incident_id, title, steps, rollback, diff_preview, risk_level, auto_rollback, approval, created_at
		FROM gate_proposals WHERE incident_id = ? ORDER BY created_at`, incidentID)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]incident.RemediationProposal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var out []incident.RemediationProposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProposal(row scanner) (*incident.RemediationProposal, error) {
	var (
		p            incident.RemediationProposal
		steps        string
		rollback     string
		autoRollback int
		approval     sql.NullString
	)
	err := row.Scan(&p.ID, &p.IncidentID, &p.Title, &steps, &rollback,
		&p.DiffPreview, &p.RiskLevel, &autoRollback, &approval, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.AutoRollback = autoRollback != 0
	if err := json.Unmarshal([]byte(steps), &p.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	if err := json.Unmarshal([]byte(rollback), &p.Rollback); err != nil {
		return nil, fmt.Errorf("unmarshal rollback: %w", err)
	}
	if approval.Valid && approval.String != "" {
		p.Approval = &incident.ApprovalRecord{}
		if err := json.Unmarshal([]byte(approval.String), p.Approval); err != nil {
			return nil, fmt.Errorf("unmarshal approval: %w", err)
		}
	}
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
