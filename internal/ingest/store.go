package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cwccie/netopshub/pkg/telemetry"
)

// SeriesStore persists telemetry samples, anomaly signals, logs, and flow
// rollups in the shared database.
type SeriesStore struct {
	db *sql.DB
}

// NewSeriesStore creates a series store over an open database.
func NewSeriesStore(db *sql.DB) *SeriesStore {
	return &SeriesStore{db: db}
}

// InsertSample stores one sample. Re-inserting the same observation is a
// no-op, which makes collector retries safe.
func (s *SeriesStore) InsertSample(ctx context.Context, m telemetry.MetricSample) error {
	tags := "{}"
	if len(m.Tags) > 0 {
		b, err := json.Marshal(m.Tags)
		if err != nil {
			return fmt.Errorf("marshal tags: %w", err)
		}
		tags = string(b)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO ingest_samples
			(device_id, metric, iface, timestamp, value, unit, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.DeviceID, m.Metric, m.Interface, m.Timestamp.UTC(), m.Value, m.Unit, tags,
	)
	if err != nil {
		return fmt.Errorf("insert sample %s/%s: %w", m.DeviceID, m.Metric, err)
	}
	return nil
}

// Range returns samples for a (device, metric) series in [from, to],
// ordered by timestamp, across all interfaces.
func (s *SeriesStore) Range(ctx context.Context, deviceID, metric string, from, to time.Time) ([]telemetry.MetricSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, metric, iface, timestamp, value, unit, tags
		FROM ingest_samples
		WHERE device_id = ? AND metric = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp`,
		deviceID, metric, from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query range %s/%s: %w", deviceID, metric, err)
	}
	defer rows.Close()

	var out []telemetry.MetricSample
	for rows.Next() {
		var m telemetry.MetricSample
		var tags string
		if err := rows.Scan(&m.DeviceID, &m.Metric, &m.Interface, &m.Timestamp,
			&m.Value, &m.Unit, &tags); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		if tags != "" && tags != "{}" {
			if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
				return nil, fmt.Errorf("unmarshal tags: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Metrics returns the distinct metric names recorded for a device.
func (s *SeriesStore) Metrics(ctx context.Context, deviceID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT metric FROM ingest_samples WHERE device_id = ? ORDER BY metric", deviceID)
	if err != nil {
		return nil, fmt.Errorf("query metrics of %s: %w", deviceID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertSignal stores one anomaly signal.
func (s *SeriesStore) InsertSignal(ctx context.Context, sig telemetry.AnomalySignal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_signals
			(device_id, metric, timestamp, severity, detector_id, value, expected, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.DeviceID, sig.Metric, sig.Timestamp.UTC(), sig.Severity,
		sig.DetectorID, sig.Value, sig.Expected, sig.Detail,
	)
	if err != nil {
		return fmt.Errorf("insert signal %s/%s: %w", sig.DeviceID, sig.Metric, err)
	}
	return nil
}

// Signals returns recent signals, newest first, optionally filtered by device.
func (s *SeriesStore) Signals(ctx context.Context, deviceID string, limit int) ([]telemetry.AnomalySignal, error) {
	query := `
		SELECT device_id, metric, timestamp, severity, detector_id, value, expected, detail
		FROM ingest_signals`
	args := []any{}
	if deviceID != "" {
		query += " WHERE device_id = ?"
		args = append(args, deviceID)
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []telemetry.AnomalySignal
	for rows.Next() {
		var sig telemetry.AnomalySignal
		if err := rows.Scan(&sig.DeviceID, &sig.Metric, &sig.Timestamp, &sig.Severity,
			&sig.DetectorID, &sig.Value, &sig.Expected, &sig.Detail); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// InsertLog stores one normalized log event.
func (s *SeriesStore) InsertLog(ctx context.Context, ev telemetry.LogEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_logs (device_id, timestamp, severity, facility, program, message)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.DeviceID, ev.Timestamp.UTC(), ev.Severity, ev.Facility, ev.Program, ev.Message,
	)
	if err != nil {
		return fmt.Errorf("insert log for %s: %w", ev.DeviceID, err)
	}
	return nil
}

// InsertFlow stores one flow rollup.
func (s *SeriesStore) InsertFlow(ctx context.Context, f telemetry.FlowSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_flows (device_id, timestamp, src_addr, dst_addr, protocol, bytes, packets, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.DeviceID, f.Timestamp.UTC(), f.SrcAddr, f.DstAddr, f.Protocol,
		f.Bytes, f.Packets, f.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert flow for %s: %w", f.DeviceID, err)
	}
	return nil
}

// Prune deletes samples, signals, logs, and flows older than cutoff.
// Returns the number of rows removed.
func (s *SeriesStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"ingest_samples", "ingest_signals", "ingest_logs", "ingest_flows"} {
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE timestamp < ?", table), cutoff.UTC())
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	return total, nil
}
