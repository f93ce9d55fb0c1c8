package correlate

import (
	"database/sql"

	"github.com/cwccie/netopshub/pkg/plugin"
)

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create incident tables",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE IF NOT EXISTS correlate_incidents (
						id           TEXT PRIMARY KEY,
						state        TEXT NOT NULL,
						signals      TEXT NOT NULL,
						device_ids   TEXT NOT NULL,
						window_start TIMESTAMP NOT NULL,
						window_end   TIMESTAMP NOT NULL,
						systemic     INTEGER NOT NULL DEFAULT 0,
						hypotheses   TEXT,
						proposal_id  TEXT NOT NULL DEFAULT '',
						created_at   TIMESTAMP NOT NULL,
						updated_at   TIMESTAMP NOT NULL
					);
					CREATE INDEX IF NOT EXISTS idx_correlate_incidents_state
						ON correlate_incidents(state);

					CREATE TABLE IF NOT EXISTS correlate_evidence (
						seq         INTEGER PRIMARY KEY AUTOINCREMENT,
						incident_id TEXT NOT NULL,
						kind        TEXT NOT NULL,
						stage       TEXT NOT NULL DEFAULT '',
						summary     TEXT NOT NULL,
						detail      TEXT NOT NULL DEFAULT '',
						recorded_at TIMESTAMP NOT NULL
					);
					CREATE INDEX IF NOT EXISTS idx_correlate_evidence_incident
						ON correlate_evidence(incident_id);
				`)
				return err
			},
		},
		{
			Version:     2,
			Description: "create maintenance window table",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE IF NOT EXISTS correlate_maintenance_windows (
						id          TEXT PRIMARY KEY,
						name        TEXT NOT NULL,
						description TEXT NOT NULL DEFAULT '',
						start_time  TIMESTAMP NOT NULL,
						end_time    TIMESTAMP NOT NULL,
						recurrence  TEXT NOT NULL DEFAULT 'once',
						device_ids  TEXT NOT NULL,
						enabled     INTEGER NOT NULL DEFAULT 1,
						created_at  TIMESTAMP NOT NULL,
						updated_at  TIMESTAMP NOT NULL
					);
				`)
				return err
			},
		},
	}
}
