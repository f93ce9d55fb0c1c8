package topology

import (
	"database/sql"

	"github.com/cwccie/netopshub/pkg/plugin"
)

// migrations returns the topology module's database migrations.
func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create topology tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS topology_devices (
						id             TEXT PRIMARY KEY,
						hostname       TEXT NOT NULL DEFAULT '',
						mgmt_addr      TEXT NOT NULL DEFAULT '',
						vendor         TEXT NOT NULL DEFAULT '',
						platform       TEXT NOT NULL DEFAULT '',
						role           TEXT NOT NULL DEFAULT 'other',
						state          TEXT NOT NULL DEFAULT 'up',
						site           TEXT NOT NULL DEFAULT '',
						tags           TEXT NOT NULL DEFAULT '{}',
						discovered_at  DATETIME NOT NULL,
						last_seen      DATETIME NOT NULL,
						decommissioned INTEGER NOT NULL DEFAULT 0
					)`,
					`CREATE INDEX IF NOT EXISTS idx_topology_devices_site ON topology_devices(site)`,

					`CREATE TABLE IF NOT EXISTS topology_edges (
						edge_key   TEXT PRIMARY KEY,
						local_id   TEXT NOT NULL,
						local_if   TEXT NOT NULL DEFAULT '',
						remote_id  TEXT NOT NULL,
						remote_if  TEXT NOT NULL DEFAULT '',
						kind       TEXT NOT NULL,
						confidence REAL NOT NULL DEFAULT 0,
						last_seen  DATETIME NOT NULL,
						stale      INTEGER NOT NULL DEFAULT 0
					)`,
					`CREATE INDEX IF NOT EXISTS idx_topology_edges_local ON topology_edges(local_id)`,
					`CREATE INDEX IF NOT EXISTS idx_topology_edges_remote ON topology_edges(remote_id)`,
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
