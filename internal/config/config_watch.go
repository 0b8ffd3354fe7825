package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the editor write/rename bursts into one
// reload.
const watchDebounce = 300 * time.Millisecond

// Watch reloads the config file on change and applies the reload-safe
// fields to cfg. Wiring fields (DSNs, tokens, listeners) keep their
// boot-time values. onReload, if set, runs after each successful
// apply. Returns after ctx is cancelled.
//
// The watch is on the directory, not the file: editors replace config
// files via rename, which drops a file-level watch.
func Watch(ctx context.Context, path string, cfg *Config, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	base := filepath.Base(path)

	var timer *time.Timer
	var pending <-chan time.Time

	reload := func() {
		fresh, err := Load(path)
		if err != nil {
			slog.Warn("config reload skipped", "path", path, "error", err)
			return
		}
		cfg.ApplyReloadable(fresh)
		slog.Info("config reloaded", "path", path)
		if onReload != nil {
			onReload(cfg)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
