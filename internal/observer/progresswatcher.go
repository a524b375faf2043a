package observer

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ProgressChangeCallback is called after the progress file settles down
type ProgressChangeCallback func(path string)

// ProgressWatcher monitors the shared progress file for writes. Workers and
// operators both append to it, so rapid bursts are debounced into a single
// callback.
type ProgressWatcher struct {
	watcher  *fsnotify.Watcher
	callback ProgressChangeCallback
	path     string
	debounce time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	cancel context.CancelFunc
}

// NewProgressWatcher creates a watcher for the given progress file.
// The parent directory is watched rather than the file itself so that
// editors replacing the file atomically are still observed.
func NewProgressWatcher(path string, callback ProgressChangeCallback) (*ProgressWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	return &ProgressWatcher{
		watcher:  watcher,
		callback: callback,
		path:     path,
		debounce: 500 * time.Millisecond,
	}, nil
}

// SetDebounce sets the settle window for batching rapid writes
func (pw *ProgressWatcher) SetDebounce(d time.Duration) {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	pw.debounce = d
}

// Start begins watching for file changes
func (pw *ProgressWatcher) Start(ctx context.Context) {
	ctx, pw.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-pw.watcher.Events:
				if !ok {
					return
				}
				pw.handleEvent(event)
			case err, ok := <-pw.watcher.Errors:
				if !ok {
					return
				}
				log.Printf("observer: watch error: %v", err)
			}
		}
	}()
}

// Stop stops watching for file changes
func (pw *ProgressWatcher) Stop() {
	if pw.cancel != nil {
		pw.cancel()
	}
	pw.watcher.Close()

	pw.mu.Lock()
	defer pw.mu.Unlock()
	if pw.timer != nil {
		pw.timer.Stop()
	}
}

func (pw *ProgressWatcher) handleEvent(event fsnotify.Event) {
	// The whole directory is watched; only the progress file matters
	if filepath.Base(event.Name) != filepath.Base(pw.path) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	pw.mu.Lock()
	defer pw.mu.Unlock()

	if pw.timer != nil {
		pw.timer.Stop()
	}
	pw.timer = time.AfterFunc(pw.debounce, pw.flush)
}

func (pw *ProgressWatcher) flush() {
	if pw.callback != nil {
		pw.callback(pw.path)
	}
}
