package rolegate

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadSettle = 250 * time.Millisecond

// Reload loads the table at path and installs it. An invalid file leaves the active table untouched.
func (g *Gate) Reload(path string) error {
	t, err := LoadTable(path)
	if err != nil {
		return err
	}
	return g.Replace(t)
}

// Watch reloads the table whenever the file at path changes, until ctx is done.
// The parent directory is watched so editors that replace the file are picked up.
func (g *Gate) Watch(ctx context.Context, path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("role table watcher: %w", err)
	}
	defer w.Close()

	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	logger.Info("watching role table", slog.String("path", target))

	ticker := time.NewTicker(reloadSettle / 2)
	defer ticker.Stop()
	var pendingSince time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pendingSince = time.Now()
			}
		case <-ticker.C:
			if pendingSince.IsZero() || time.Since(pendingSince) < reloadSettle {
				continue
			}
			pendingSince = time.Time{}
			if err := g.Reload(target); err != nil {
				logger.Warn("role table reload rejected", slog.String("path", target), slog.Any("error", err))
				continue
			}
			logger.Info("role table reloaded", slog.String("path", target))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("role table watch error", slog.Any("error", err))
		}
	}
}
