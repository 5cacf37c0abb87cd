package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "reportpush/pkg/logx"
)

// debounceWindow absorbs the write bursts editors and atomic-rename tools
// produce for a single logical change.
const debounceWindow = 250 * time.Millisecond

// Watch reloads the config on file change until ctx is done. Invalid
// intermediate states are logged and skipped; the last good config stays
// committed. Serve mode only.
func (l *Loader) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory: most editors replace the file, which drops a
	// watch held on the file itself.
	dir := filepath.Dir(l.path)
	if err := w.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(l.path)
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounceWindow)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.log.Warn("config watcher error", logx.Err(err))

		case <-timerC:
			timer = nil
			timerC = nil
			l.reload()
		}
	}
}

func (l *Loader) reload() {
	cfg, err := l.Parse()
	if err != nil {
		l.log.Warn("config reload rejected", logx.Err(err))
		return
	}

	l.mu.RLock()
	prev := l.lastHash
	l.mu.RUnlock()
	if hashConfig(cfg) == prev {
		l.log.Debug("config unchanged, skipping reload")
		return
	}

	l.commit(cfg)
	l.publish(cfg)
	l.log.Info("config reloaded", logx.Int("channels", len(cfg.Channels)))
}
