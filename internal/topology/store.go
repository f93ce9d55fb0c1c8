package topology

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/cwccie/netopshub/pkg/models"
)

// Store persists the topology graph so the live graph can be rebuilt on
// startup. The Graph is authoritative at runtime; the store trails it.
type Store struct {
	db *sql.DB
}

// NewStore creates a topology store over an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveDevice upserts a device row.
func (s *Store) SaveDevice(ctx context.Context, d models.Device) error {
	tags, err := json.Marshal(d.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO topology_devices
			(id, hostname, mgmt_addr, vendor, platform, role, state, site, tags, discovered_at, last_seen, decommissioned)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			hostname = excluded.hostname,
			mgmt_addr = excluded.mgmt_addr,
			vendor = excluded.vendor,
			platform = excluded.platform,
			role = excluded.role,
			state = excluded.state,
			site = excluded.site,
			tags = excluded.tags,
			last_seen = excluded.last_seen,
			decommissioned = excluded.decommissioned`,
		d.ID, d.Hostname, d.MgmtAddr, d.Vendor, d.Platform, string(d.Role), string(d.State),
		d.Site, string(tags), d.DiscoveredAt, d.LastSeen, boolToInt(d.Decommissioned),
	)
	if err != nil {
		return fmt.Errorf("save device %s: %w", d.ID, err)
	}
	return nil
}

// DeleteDevice removes a device row and its edges.
func (s *Store) DeleteDevice(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM topology_edges WHERE local_id = ? OR remote_id = ?", id, id); err != nil {
		return fmt.Errorf("delete edges of %s: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM topology_devices WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete device %s: %w", id, err)
	}
	return nil
}

// SaveEdge upserts an edge row keyed by its normalized edge key.
func (s *Store) SaveEdge(ctx context.Context, a models.Adjacency) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO topology_edges
			(edge_key, local_id, local_if, remote_id, remote_if, kind, confidence, last_seen, stale)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(edge_key) DO UPDATE SET
			confidence = excluded.confidence,
			last_seen = excluded.last_seen,
			stale = excluded.stale`,
		a.Key(), a.LocalID, a.LocalIf, a.RemoteID, a.RemoteIf, string(a.Kind),
		a.Confidence, a.LastSeen, boolToInt(a.Stale),
	)
	if err != nil {
		return fmt.Errorf("save edge %s: %w", a.Key(), err)
	}
	return nil
}

// MarkEdgeStale flips the stale flag of one edge row.
func (s *Store) MarkEdgeStale(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE topology_edges SET stale = 1 WHERE edge_key = ?", key)
	if err != nil {
		return fmt.Errorf("mark edge stale %s: %w", key, err)
	}
	return nil
}

// Load reads every persisted device and edge.
func (s *Store) Load(ctx context.Context) ([]models.Device, []models.Adjacency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hostname, mgmt_addr, vendor, platform, role, state, site, tags,
		       discovered_at, last_seen, decommissioned
		FROM topology_devices WHERE decommissioned = 0`)
	if err != nil {
		return nil, nil, fmt.Errorf("load devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var d models.Device
		var role, state, tags string
		var decom int
		if err := rows.Scan(&d.ID, &d.Hostname, &d.MgmtAddr, &d.Vendor, &d.Platform,
			&role, &state, &d.Site, &tags, &d.DiscoveredAt, &d.LastSeen, &decom); err != nil {
			return nil, nil, fmt.Errorf("scan device: %w", err)
		}
		d.Role = models.DeviceRole(role)
		d.State = models.DeviceState(state)
		d.Decommissioned = decom != 0
		if tags != "" && tags != "{}" {
			if err := json.Unmarshal([]byte(tags), &d.Tags); err != nil {
				return nil, nil, fmt.Errorf("unmarshal tags of %s: %w", d.ID, err)
			}
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	edgeRows, err := s.db.QueryContext(ctx, `
		SELECT local_id, local_if, remote_id, remote_if, kind, confidence, last_seen, stale
		FROM topology_edges`)
	if err != nil {
		return nil, nil, fmt.Errorf("load edges: %w", err)
	}
	defer edgeRows.Close()

	var edges []models.Adjacency
	for edgeRows.Next() {
		var a models.Adjacency
		var kind string
		var stale int
		if err := edgeRows.Scan(&a.LocalID, &a.LocalIf, &a.RemoteID, &a.RemoteIf,
			&kind, &a.Confidence, &a.LastSeen, &stale); err != nil {
			return nil, nil, fmt.Errorf("scan edge: %w", err)
		}
		a.Kind = models.EdgeKind(kind)
		a.Stale = stale != 0
		edges = append(edges, a)
	}
	return devices, edges, edgeRows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
