// Package lidardb persists ring filter metrics and configuration history
// in a sqlite database.
package lidardb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/ringfilter/internal/lidar/pipeline"
	"github.com/banshee-data/ringfilter/internal/lidar/ringfilter"
	"github.com/banshee-data/ringfilter/internal/monitoring"
)

// pragmas are applied by the driver to every pooled connection.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
	"foreign_keys(ON)",
}

func dsn(path string) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

// DB is the ring filter database. Every row written through it belongs to
// the session started by OpenDB.
type DB struct {
	*sql.DB
	path      string
	sessionID string
	sensorID  string
}

// OpenDB opens (or creates) the database at path, migrates it to the latest
// schema and starts a new session for sensorID.
func OpenDB(path, sensorID string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	db := &DB{DB: sqlDB, path: path, sensorID: sensorID}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.startSession(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	monitoring.Logf("lidardb: opened %s (session %s)", path, db.sessionID)
	return db, nil
}

// SessionID returns the id of the session started by OpenDB.
func (db *DB) SessionID() string { return db.sessionID }

// Path returns the file the database was opened from.
func (db *DB) Path() string { return db.path }

func (db *DB) startSession() error {
	db.sessionID = uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO ring_filter_sessions (session_id, sensor_id, started_at_ns) VALUES (?, ?, ?)`,
		db.sessionID, db.sensorID, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	return nil
}

// Close ends the session and closes the database.
func (db *DB) Close() error {
	if _, err := db.Exec(
		`UPDATE ring_filter_sessions SET ended_at_ns = ? WHERE session_id = ?`,
		time.Now().UnixNano(), db.sessionID,
	); err != nil {
		monitoring.Opsf("lidardb: end session %s: %v", db.sessionID, err)
	}
	return db.DB.Close()
}

const insertMetricsSQL = `
	INSERT INTO ring_filter_metrics (
		session_id, seq, stamp_ns, frame_id, filter_name,
		original_points_size, decimated_points_size, filtered_points_size,
		original_ring_size, filtered_ring_size, recorded_at_ns
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (db *DB) insertMetrics(ctx context.Context, ex execer, m ringfilter.ScanMetrics) error {
	_, err := ex.ExecContext(ctx, insertMetricsSQL,
		db.sessionID, m.Header.Seq, stampNanos(m.Header.Stamp), m.Header.FrameID, m.FilterName,
		m.OriginalPointCount, m.DecimatedPointCount, m.FilteredPointCount,
		m.OriginalRingCount, m.FilteredRingCount, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert scan metrics seq=%d: %w", m.Header.Seq, err)
	}
	return nil
}

// RecordScanMetrics stores one metrics message.
func (db *DB) RecordScanMetrics(ctx context.Context, m ringfilter.ScanMetrics) error {
	return db.insertMetrics(ctx, db.DB, m)
}

// RecordScanMetricsBatch stores msgs in a single transaction.
func (db *DB) RecordScanMetricsBatch(ctx context.Context, msgs []ringfilter.ScanMetrics) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin metrics batch: %w", err)
	}
	for _, m := range msgs {
		if err := db.insertMetrics(ctx, tx, m); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit metrics batch: %w", err)
	}
	return nil
}

// RecentScanMetrics returns up to limit of the most recently stored metrics
// across all sessions, oldest first.
func (db *DB) RecentScanMetrics(ctx context.Context, limit int) ([]ringfilter.ScanMetrics, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT seq, stamp_ns, frame_id, filter_name,
		       original_points_size, decimated_points_size, filtered_points_size,
		       original_ring_size, filtered_ring_size
		FROM ring_filter_metrics
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query scan metrics: %w", err)
	}
	defer rows.Close()

	var out []ringfilter.ScanMetrics
	for rows.Next() {
		var (
			m       ringfilter.ScanMetrics
			stampNs int64
		)
		if err := rows.Scan(
			&m.Header.Seq, &stampNs, &m.Header.FrameID, &m.FilterName,
			&m.OriginalPointCount, &m.DecimatedPointCount, &m.FilteredPointCount,
			&m.OriginalRingCount, &m.FilteredRingCount,
		); err != nil {
			return nil, fmt.Errorf("scan metrics row: %w", err)
		}
		m.Header.Stamp = fromNanos(stampNs)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

// CountScanMetrics returns the number of metrics rows in the current
// session.
func (db *DB) CountScanMetrics(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ring_filter_metrics WHERE session_id = ?`, db.sessionID,
	).Scan(&n)
	return n, err
}

// RecordConfigChange stores one applied configuration change.
func (db *DB) RecordConfigChange(ctx context.Context, c pipeline.ConfigChange) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO ring_filter_config_changes (
			session_id, version, source,
			requested_ring_div, requested_voxel_leaf_size,
			previous_ring_div, previous_voxel_leaf_size,
			applied_ring_div, applied_voxel_leaf_size,
			clamped, changed_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		db.sessionID, c.Version, c.Source,
		c.Requested.RingDivisor, c.Requested.VoxelLeafSize,
		c.Previous.RingDivisor, c.Previous.VoxelLeafSize,
		c.Applied.RingDivisor, c.Applied.VoxelLeafSize,
		c.Clamped, stampNanos(c.At),
	)
	if err != nil {
		return fmt.Errorf("insert config change v%d: %w", c.Version, err)
	}
	return nil
}

// RecentConfigChanges returns up to limit of the most recent configuration
// changes across all sessions, oldest first.
func (db *DB) RecentConfigChanges(ctx context.Context, limit int) ([]pipeline.ConfigChange, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT version, source,
		       requested_ring_div, requested_voxel_leaf_size,
		       previous_ring_div, previous_voxel_leaf_size,
		       applied_ring_div, applied_voxel_leaf_size,
		       clamped, changed_at_ns
		FROM ring_filter_config_changes
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query config changes: %w", err)
	}
	defer rows.Close()

	var out []pipeline.ConfigChange
	for rows.Next() {
		var (
			c    pipeline.ConfigChange
			atNs int64
		)
		if err := rows.Scan(
			&c.Version, &c.Source,
			&c.Requested.RingDivisor, &c.Requested.VoxelLeafSize,
			&c.Previous.RingDivisor, &c.Previous.VoxelLeafSize,
			&c.Applied.RingDivisor, &c.Applied.VoxelLeafSize,
			&c.Clamped, &atNs,
		); err != nil {
			return nil, fmt.Errorf("scan config change row: %w", err)
		}
		c.At = fromNanos(atNs)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

// Session describes one run of the filter.
type Session struct {
	ID        string
	SensorID  string
	StartedAt time.Time
	EndedAt   time.Time // zero while running
}

// ListSessions returns all sessions, newest first.
func (db *DB) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT session_id, sensor_id, started_at_ns, COALESCE(ended_at_ns, 0)
		FROM ring_filter_sessions
		ORDER BY started_at_ns DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s            Session
			start, ended int64
		)
		if err := rows.Scan(&s.ID, &s.SensorID, &start, &ended); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		s.StartedAt = fromNanos(start)
		s.EndedAt = fromNanos(ended)
		out = append(out, s)
	}
	return out, rows.Err()
}

func stampNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
