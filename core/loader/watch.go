package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/refereehq/referee/core/canary"
)

// DefaultDebounce coalesces bursts of write events from editors that save in
// several steps.
const DefaultDebounce = 150 * time.Millisecond

// Watch reloads path whenever it is written or recreated, until ctx ends.
// The parent directory is watched so atomic renames are seen too. Successful
// loads go to onLoad, failures to onError.
func Watch(ctx context.Context, path string, debounce time.Duration, onLoad func(*canary.Config), onError ErrorHandler) error {
	if onLoad == nil {
		return fmt.Errorf("watch %s: nil load callback", path)
	}
	if onError == nil {
		onError = LogErrors
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(debounce)
				}
				fire = timer.C
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				onError(&LoadError{Source: path, Err: err})
			case <-fire:
				fire = nil
				cfg, err := LoadFile(abs)
				if err != nil {
					onError(err)
					continue
				}
				onLoad(cfg)
			}
		}
	}()
	return nil
}
