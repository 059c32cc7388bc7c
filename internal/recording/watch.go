package recording

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DiscoveredFile is emitted when a new recording file appears in a watched
// directory.
type DiscoveredFile struct {
	Path string
}

// Watcher notifies readers as new recording files (e.g. a crashed and
// restarted session's continuation) land in a directory. Grounded on
// HotReloadSystem's fsnotify usage in engine/internal/runtime/runtime.go,
// here repurposed to discover recording files instead of reloading
// business config.
type Watcher struct {
	watcher    *fsnotify.Watcher
	mu         sync.Mutex
	isWatching bool
}

func NewWatcher() (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("recording: create file watcher: %w", err)
	}
	return &Watcher{watcher: w}, nil
}

// Watch begins watching dir and returns a channel of newly created files
// plus a channel of watch errors. Both close when ctx is cancelled or
// Stop is called.
func (w *Watcher) Watch(ctx context.Context, dir string) (<-chan DiscoveredFile, <-chan error) {
	found := make(chan DiscoveredFile, 16)
	errs := make(chan error, 16)

	w.mu.Lock()
	if w.isWatching {
		w.mu.Unlock()
		close(found)
		close(errs)
		return found, errs
	}
	if err := w.watcher.Add(dir); err != nil {
		w.mu.Unlock()
		errs <- fmt.Errorf("recording: watch dir %s: %w", dir, err)
		close(found)
		close(errs)
		return found, errs
	}
	w.isWatching = true
	w.mu.Unlock()

	go func() {
		defer close(found)
		defer close(errs)
		for {
			select {
			case e, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if e.Op&fsnotify.Create == fsnotify.Create && filepath.Ext(e.Name) == ".rec" {
					found <- DiscoveredFile{Path: e.Name}
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				errs <- err
			case <-ctx.Done():
				return
			}
		}
	}()
	return found, errs
}

func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.isWatching {
		return nil
	}
	w.isWatching = false
	return w.watcher.Close()
}
