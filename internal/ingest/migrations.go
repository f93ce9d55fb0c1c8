package ingest

import (
	"database/sql"

	"github.com/cwccie/netopshub/pkg/plugin"
)

// migrations returns the ingest module's database migrations.
func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create telemetry tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS ingest_samples (
						device_id TEXT NOT NULL,
						metric    TEXT NOT NULL,
						iface     TEXT NOT NULL DEFAULT '',
						timestamp DATETIME NOT NULL,
						value     REAL NOT NULL,
						unit      TEXT NOT NULL DEFAULT '',
						tags      TEXT NOT NULL DEFAULT '{}',
						PRIMARY KEY (device_id, metric, iface, timestamp)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_ingest_samples_time ON ingest_samples(timestamp)`,

					`CREATE TABLE IF NOT EXISTS ingest_signals (
						id          INTEGER PRIMARY KEY AUTOINCREMENT,
						device_id   TEXT NOT NULL,
						metric      TEXT NOT NULL,
						timestamp   DATETIME NOT NULL,
						severity    REAL NOT NULL,
						detector_id TEXT NOT NULL,
						value       REAL NOT NULL,
						expected    REAL NOT NULL,
						detail      TEXT NOT NULL DEFAULT ''
					)`,
					`CREATE INDEX IF NOT EXISTS idx_ingest_signals_device ON ingest_signals(device_id, timestamp)`,

					`CREATE TABLE IF NOT EXISTS ingest_logs (
						id        INTEGER PRIMARY KEY AUTOINCREMENT,
						device_id TEXT NOT NULL,
						timestamp DATETIME NOT NULL,
						severity  INTEGER NOT NULL,
						facility  INTEGER NOT NULL DEFAULT 0,
						program   TEXT NOT NULL DEFAULT '',
						message   TEXT NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_ingest_logs_device ON ingest_logs(device_id, timestamp)`,

					`CREATE TABLE IF NOT EXISTS ingest_flows (
						id        INTEGER PRIMARY KEY AUTOINCREMENT,
						device_id TEXT NOT NULL,
						timestamp DATETIME NOT NULL,
						src_addr  TEXT NOT NULL,
						dst_addr  TEXT NOT NULL,
						protocol  INTEGER NOT NULL DEFAULT 0,
						bytes     INTEGER NOT NULL DEFAULT 0,
						packets   INTEGER NOT NULL DEFAULT 0,
						duration_ms INTEGER NOT NULL DEFAULT 0
					)`,
					`CREATE INDEX IF NOT EXISTS idx_ingest_flows_device ON ingest_flows(device_id, timestamp)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
