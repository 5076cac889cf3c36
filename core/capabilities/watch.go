package capabilities

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/cordum/extcore/core/infra/logging"
	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 200 * time.Millisecond

var errWatcherStopped = errors.New("capability watcher stopped")

// Watcher resets a Set whenever its capability file changes. Bursts of
// filesystem events within the debounce window produce a single reset.
type Watcher struct {
	set      *Set
	path     string
	extra    []Source
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher watches path and resets set from FileSource{path} followed by
// extra sources (typically URL/cookie overrides).
func NewWatcher(set *Set, path string, extra ...Source) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	return &Watcher{
		set:      set,
		path:     abs,
		extra:    extra,
		debounce: defaultDebounce,
		watcher:  fw,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start watches the file's directory so atomic renames by editors are seen.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return errWatcherStopped
	}
	if w.running {
		return nil
	}
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.running = true
	logging.Info("capabilities", "watching capability file", "path", w.path)
	go w.run(ctx)
	return nil
}

// Stop ends the watch loop, if one was started, and releases the underlying
// watcher. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	if err := w.watcher.Close(); err != nil {
		logging.Error("capabilities", "close watcher", "err", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("capabilities", "watch error", "err", err)
		case <-fire:
			fire = nil
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	sources := append([]Source{FileSource{Path: w.path}}, w.extra...)
	if err := w.set.Reset(ctx, sources...); err != nil {
		logging.Warn("capabilities", "reload failed; keeping previous set", "path", w.path, "err", err)
	}
}
