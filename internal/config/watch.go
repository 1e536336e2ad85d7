package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TenantsWatcher monitors server.tenants_file and invokes the supplied
// callback with a freshly merged Config whenever the file changes. Stop must
// be called to release filesystem resources.
type TenantsWatcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *TenantsWatcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// WatchTenants wires fsnotify around the tenants file. The provided config
// should come from Loader.Load so the inline bundles are already captured.
// The parent directory is watched so editors that replace the file via
// rename are still observed.
func (l *Loader) WatchTenants(ctx context.Context, cfg Config, onChange func(Config), onError func(error)) (*TenantsWatcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("config: watch tenants requires a change callback")
	}
	if cfg.Server.TenantsFile == "" {
		return nil, fmt.Errorf("config: no tenants file configured for watching")
	}

	target := cfg.Server.TenantsFile
	if abs, err := filepath.Abs(target); err == nil {
		target = abs
	} else if onError != nil {
		onError(fmt.Errorf("config: resolve tenants file: %w", err))
	}
	target = filepath.Clean(target)

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("config: watch tenants: %w", err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		cancel()
		return nil, fmt.Errorf("config: watch add %s: %w", filepath.Dir(target), err)
	}

	done := make(chan struct{})
	watch := &TenantsWatcher{cancel: cancel, done: done}

	reload := func() {
		bundle, err := LoadTenants(watchCtx, target)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if onError != nil {
				onError(err)
			}
			return
		}
		next := cfg
		next.applyBundle(bundle)
		onChange(next)
	}

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil && onError != nil {
				onError(fmt.Errorf("config: watch tenants close: %w", err))
			}
		}()

		const debounce = 25 * time.Millisecond
		var reloadTimer *time.Timer
		var reloadSignal <-chan time.Time
		scheduleReload := func() {
			if reloadTimer == nil {
				reloadTimer = time.NewTimer(debounce)
			} else {
				if !reloadTimer.Stop() {
					select {
					case <-reloadTimer.C:
					default:
					}
				}
				reloadTimer.Reset(debounce)
			}
			reloadSignal = reloadTimer.C
		}
		defer func() {
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
		}()

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-reloadSignal:
				reloadSignal = nil
				reload()
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && onError != nil {
					onError(fmt.Errorf("config: tenants file %s removed", target))
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
					scheduleReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(fmt.Errorf("config: watch error: %w", err))
				}
			}
		}
	}()

	return watch, nil
}
