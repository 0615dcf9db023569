package lidardb

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/ringfilter/internal/lidar/pipeline"
	"github.com/banshee-data/ringfilter/internal/lidar/ringfilter"
	"github.com/banshee-data/ringfilter/internal/monitoring"
)

// DefaultRecorderBatch bounds how many metrics messages share one
// transaction.
const DefaultRecorderBatch = 100

// MetricsRecorder drains points_filter_info into the database. Messages
// that arrive together are written in one transaction.
type MetricsRecorder struct {
	db       *DB
	maxBatch int

	written atomic.Uint64
	failed  atomic.Uint64
}

// NewMetricsRecorder returns a recorder writing to db.
func NewMetricsRecorder(db *DB) *MetricsRecorder {
	return &MetricsRecorder{db: db, maxBatch: DefaultRecorderBatch}
}

// Run consumes ch until it is closed or ctx is cancelled. On cancellation
// the messages already buffered in ch are written before Run returns.
func (r *MetricsRecorder) Run(ctx context.Context, ch <-chan ringfilter.ScanMetrics) error {
	batch := make([]ringfilter.ScanMetrics, 0, r.maxBatch)
	for {
		select {
		case <-ctx.Done():
			if n := r.drain(ch, batch); n > 0 {
				monitoring.Diagf("lidardb: flushed %d buffered metrics messages on shutdown", n)
			}
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			batch = append(batch[:0], m)
		fill:
			for len(batch) < r.maxBatch {
				select {
				case m, ok := <-ch:
					if !ok {
						break fill
					}
					batch = append(batch, m)
				default:
					break fill
				}
			}
			r.flush(batch)
		}
	}
}

// drain writes whatever ch holds right now without waiting for more and
// returns the number of messages taken.
func (r *MetricsRecorder) drain(ch <-chan ringfilter.ScanMetrics, batch []ringfilter.ScanMetrics) int {
	total := 0
	for {
		batch = batch[:0]
	fill:
		for len(batch) < r.maxBatch {
			select {
			case m, ok := <-ch:
				if !ok {
					break fill
				}
				batch = append(batch, m)
			default:
				break fill
			}
		}
		if len(batch) == 0 {
			return total
		}
		r.flush(batch)
		total += len(batch)
		if len(batch) < r.maxBatch {
			return total
		}
	}
}

func (r *MetricsRecorder) flush(batch []ringfilter.ScanMetrics) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.db.RecordScanMetricsBatch(ctx, batch); err != nil {
		r.failed.Add(uint64(len(batch)))
		monitoring.Opsf("lidardb: dropped %d metrics messages: %v", len(batch), err)
		return
	}
	r.written.Add(uint64(len(batch)))
	monitoring.Tracef("lidardb: wrote %d metrics messages", len(batch))
}

// Stats returns the number of messages written and lost to write errors.
func (r *MetricsRecorder) Stats() (written, failed uint64) {
	return r.written.Load(), r.failed.Load()
}

// DefaultConfigQueue bounds the config changes waiting to be written.
const DefaultConfigQueue = 64

// ConfigRecorder persists applied config changes in the order they were
// applied, from a single writer goroutine.
type ConfigRecorder struct {
	db      *DB
	queue   chan pipeline.ConfigChange
	dropped atomic.Uint64
}

// NewConfigRecorder returns a recorder writing to db. Run must be started
// for changes to reach the database.
func NewConfigRecorder(db *DB) *ConfigRecorder {
	return &ConfigRecorder{db: db, queue: make(chan pipeline.ConfigChange, DefaultConfigQueue)}
}

// Observer returns a pipeline.ConfigObserver that queues each change. It
// never blocks; a change that finds the queue full is dropped and logged.
func (r *ConfigRecorder) Observer() pipeline.ConfigObserver {
	return func(c pipeline.ConfigChange) {
		select {
		case r.queue <- c:
		default:
			r.dropped.Add(1)
			monitoring.Opsf("lidardb: config queue full, change v%d not recorded", c.Version)
		}
	}
}

// Run writes queued changes until ctx is cancelled, then writes what is
// still queued and returns. Callers close the database only after Run
// has returned.
func (r *ConfigRecorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case c := <-r.queue:
					r.write(c)
				default:
					return ctx.Err()
				}
			}
		case c := <-r.queue:
			r.write(c)
		}
	}
}

func (r *ConfigRecorder) write(c pipeline.ConfigChange) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.db.RecordConfigChange(ctx, c); err != nil {
		monitoring.Opsf("lidardb: %v", err)
	}
}

// Dropped returns the number of changes lost to a full queue.
func (r *ConfigRecorder) Dropped() uint64 {
	return r.dropped.Load()
}
