package lidardb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ringfilter/internal/lidar/l2frames"
	"github.com/banshee-data/ringfilter/internal/lidar/pipeline"
	"github.com/banshee-data/ringfilter/internal/lidar/ringfilter"
	"github.com/banshee-data/ringfilter/internal/testutil"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	testutil.SilenceLogs(t)
	db, err := OpenDB(filepath.Join(t.TempDir(), "ring.db"), "test-sensor")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testMetrics(seq uint32) ringfilter.ScanMetrics {
	h := l2frames.Header{
		Seq:     seq,
		Stamp:   time.Unix(1700000000, int64(seq)*1000).UTC(),
		FrameID: "velodyne",
	}
	return ringfilter.NewScanMetrics(h, 1000, 340, 120, 32, 3)
}

func TestOpenDB_Migrates(t *testing.T) {
	db := openTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	// Running again is a no-op.
	require.NoError(t, db.MigrateUp())
}

func TestOpenDB_NewSessionPerOpen(t *testing.T) {
	testutil.SilenceLogs(t)
	path := filepath.Join(t.TempDir(), "ring.db")

	first, err := OpenDB(path, "s1")
	require.NoError(t, err)
	firstID := first.SessionID()
	require.NoError(t, first.Close())

	second, err := OpenDB(path, "s1")
	require.NoError(t, err)
	defer second.Close()

	assert.NotEqual(t, firstID, second.SessionID())

	sessions, err := second.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	ids := []string{sessions[0].ID, sessions[1].ID}
	assert.ElementsMatch(t, []string{firstID, second.SessionID()}, ids)
	for _, s := range sessions {
		if s.ID == firstID {
			assert.False(t, s.EndedAt.IsZero(), "closed session has an end time")
		} else {
			assert.True(t, s.EndedAt.IsZero())
		}
	}
}

func TestScanMetrics_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var want []ringfilter.ScanMetrics
	for seq := uint32(1); seq <= 5; seq++ {
		m := testMetrics(seq)
		want = append(want, m)
		require.NoError(t, db.RecordScanMetrics(ctx, m))
	}

	got, err := db.RecentScanMetrics(ctx, 3)
	require.NoError(t, err)
	if diff := cmp.Diff(want[2:], got); diff != "" {
		t.Errorf("RecentScanMetrics mismatch (-want +got):\n%s", diff)
	}

	n, err := db.CountScanMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestScanMetrics_ZeroStamp(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	m := ringfilter.NewScanMetrics(l2frames.Header{Seq: 9}, 0, 0, 0, 0, 1)
	require.NoError(t, db.RecordScanMetrics(ctx, m))

	got, err := db.RecentScanMetrics(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Header.Stamp.IsZero())
	assert.Equal(t, m, got[0])
}

func TestRecordScanMetricsBatch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.RecordScanMetricsBatch(ctx, nil))

	batch := []ringfilter.ScanMetrics{testMetrics(1), testMetrics(2), testMetrics(3)}
	require.NoError(t, db.RecordScanMetricsBatch(ctx, batch))

	n, err := db.CountScanMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestConfigChanges_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	changes := []pipeline.ConfigChange{
		{
			Source:    "http",
			Requested: ringfilter.FilterConfig{RingDivisor: 4, VoxelLeafSize: 0.5},
			Previous:  ringfilter.DefaultFilterConfig(),
			Applied:   ringfilter.FilterConfig{RingDivisor: 4, VoxelLeafSize: 0.5},
			Version:   1,
			At:        at,
		},
		{
			Source:    "serial",
			Requested: ringfilter.FilterConfig{RingDivisor: 0, VoxelLeafSize: 1},
			Previous:  ringfilter.FilterConfig{RingDivisor: 4, VoxelLeafSize: 0.5},
			Applied:   ringfilter.FilterConfig{RingDivisor: 1, VoxelLeafSize: 1},
			Clamped:   true,
			Version:   2,
			At:        at.Add(time.Second),
		},
	}
	for _, c := range changes {
		require.NoError(t, db.RecordConfigChange(ctx, c))
	}

	got, err := db.RecentConfigChanges(ctx, 10)
	require.NoError(t, err)
	if diff := cmp.Diff(changes, got); diff != "" {
		t.Errorf("RecentConfigChanges mismatch (-want +got):\n%s", diff)
	}
}

func TestMetricsRecorder_Run(t *testing.T) {
	db := openTestDB(t)

	ch := make(chan ringfilter.ScanMetrics, 20)
	for seq := uint32(1); seq <= 12; seq++ {
		ch <- testMetrics(seq)
	}
	close(ch)

	rec := NewMetricsRecorder(db)
	require.NoError(t, rec.Run(context.Background(), ch))

	written, failed := rec.Stats()
	assert.Equal(t, uint64(12), written)
	assert.Zero(t, failed)

	got, err := db.RecentScanMetrics(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, got, 12)
	assert.Equal(t, uint32(1), got[0].Header.Seq)
	assert.Equal(t, uint32(12), got[11].Header.Seq)
}

func TestMetricsRecorder_Cancel(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewMetricsRecorder(db).Run(ctx, make(chan ringfilter.ScanMetrics))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMetricsRecorder_CancelFlushesBuffered(t *testing.T) {
	db := openTestDB(t)

	ch := make(chan ringfilter.ScanMetrics, 250)
	for seq := uint32(1); seq <= 250; seq++ {
		ch <- testMetrics(seq)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := NewMetricsRecorder(db)
	// With ctx already done, select may pick either case; every buffered
	// message must be written either way.
	_ = rec.Run(ctx, ch)

	written, failed := rec.Stats()
	assert.Equal(t, uint64(250), written)
	assert.Zero(t, failed)
	n, err := db.CountScanMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 250, n)
}

func TestConfigRecorder_PersistsInOrder(t *testing.T) {
	db := openTestDB(t)
	rec := NewConfigRecorder(db)
	observe := rec.Observer()
	for v := uint64(1); v <= 20; v++ {
		observe(pipeline.ConfigChange{Source: "http", Version: v, Applied: ringfilter.DefaultFilterConfig()})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := db.RecentConfigChanges(context.Background(), 100)
		return err == nil && len(got) == 20
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	got, err := db.RecentConfigChanges(context.Background(), 100)
	require.NoError(t, err)
	for i, c := range got {
		assert.Equal(t, uint64(i+1), c.Version)
	}
	assert.Zero(t, rec.Dropped())
}

func TestConfigRecorder_DrainsOnCancel(t *testing.T) {
	db := openTestDB(t)
	rec := NewConfigRecorder(db)
	observe := rec.Observer()
	observe(pipeline.ConfigChange{Source: "file", Version: 1, Applied: ringfilter.DefaultFilterConfig()})
	observe(pipeline.ConfigChange{Source: "file", Version: 2, Applied: ringfilter.DefaultFilterConfig()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, rec.Run(ctx), context.Canceled)

	got, err := db.RecentConfigChanges(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[1].Version)
}

func TestConfigRecorder_FullQueueDrops(t *testing.T) {
	db := openTestDB(t)
	rec := NewConfigRecorder(db)
	observe := rec.Observer()
	for v := uint64(1); v <= DefaultConfigQueue+3; v++ {
		observe(pipeline.ConfigChange{Version: v})
	}
	assert.Equal(t, uint64(3), rec.Dropped())
}

func TestAttachAdminRoutes(t *testing.T) {
	db := openTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/", nil)
	req.RemoteAddr = "127.0.0.1:40000"
	rec := testutil.Serve(mux, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Body.String(), "tailsql")
}
