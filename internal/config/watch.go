package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/banshee-data/ringfilter/internal/lidar/ringfilter"
	"github.com/banshee-data/ringfilter/internal/monitoring"
)

// ConfigSubmitter accepts a full filter configuration.
// *pipeline.Controller implements it.
type ConfigSubmitter interface {
	Submit(cfg ringfilter.FilterConfig, source string) error
}

// reloadDebounce coalesces the burst of events an editor save produces.
const reloadDebounce = 200 * time.Millisecond

// WatchTuningFile reloads path whenever it changes and submits its filter
// parameters with source "file". The parent directory is watched so that
// atomic rename saves are seen. Invalid files are logged and skipped; the
// running configuration is left alone. It blocks until ctx is cancelled.
func WatchTuningFile(ctx context.Context, path string, sub ConfigSubmitter) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	monitoring.Logf("config: watching %s for changes", abs)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			monitoring.Tracef("config: %s", ev)
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			timerCh = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			monitoring.Opsf("config: watcher error: %v", err)

		case <-timerCh:
			timerCh = nil
			reload(abs, sub)
		}
	}
}

func reload(path string, sub ConfigSubmitter) {
	cfg, err := LoadTuningConfig(path)
	if err != nil {
		monitoring.Opsf("config: ignoring %s: %v", path, err)
		return
	}
	fc := cfg.FilterConfig()
	if err := sub.Submit(fc, "file"); err != nil {
		monitoring.Opsf("config: submit %s: %v", fc, err)
		return
	}
	monitoring.Logf("config: reloaded %s (%s)", path, fc)
}
