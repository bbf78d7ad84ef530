package barrier

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher signals when the queue storage changes so an approver can re-list
// pending tickets without polling. It watches the parent directory because
// atomic rewrites replace the file.
type Watcher struct {
	path   string
	events chan struct{}
}

// NewWatcher creates a watcher for the queue stored at path.
func NewWatcher(path string) *Watcher {
	return &Watcher{path: path, events: make(chan struct{}, 1)}
}

// Changes delivers at most one pending signal; bursts are coalesced.
func (w *Watcher) Changes() <-chan struct{} { return w.events }

// Start watches until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch barrier dir: %w", err)
	}

	go func() {
		defer func() { _ = fsw.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if !w.matches(ev.Name) {
					continue
				}
				select {
				case w.events <- struct{}{}:
				default:
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Str("path", w.path).Msg("barrier: watcher error")
			}
		}
	}()
	return nil
}

// matches accepts the queue file and SQLite side files (-wal, -shm).
func (w *Watcher) matches(name string) bool {
	base := filepath.Base(w.path)
	got := filepath.Base(name)
	return got == base || strings.HasPrefix(got, base+"-")
}
