package config

import (
	"context"
	"os"
	"time"
)

// Watcher polls a plain file's mtime and hands the reloaded allow list to a callback.
// The allow list lives outside the YAML file, so the fsnotify reloader in
// internal/config does not see it.
type Watcher struct {
	Path     string
	Quote    string
	Interval time.Duration
}

// Start begins polling; callback receives the latest list on change.
// The first successful read is delivered too.
func (w Watcher) Start(ctx context.Context, onUpdate func([]string)) error {
	if w.Interval <= 0 {
		w.Interval = 2 * time.Second
	}
	var lastMod time.Time
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			info, err := readFileInfo(w.Path)
			if err != nil {
				continue
			}
			if info.ModTime().After(lastMod) {
				lastMod = info.ModTime()
				if pairs, err := LoadAllowList(w.Path, w.Quote); err == nil && onUpdate != nil {
					onUpdate(pairs)
				}
			}
		}
	}
}

// readFileInfo is extracted for testing/mocking.
var readFileInfo = func(path string) (info interface{ ModTime() time.Time }, err error) {
	return os.Stat(path)
}
