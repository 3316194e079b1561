package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"ferry/internal/shared/async"
	"ferry/internal/shared/logging"
)

const defaultJobsWatchDebounce = 750 * time.Millisecond

// JobsWatcher signals when the job list file changes on disk. Signals are
// coalesced: a burst of writes produces one notification after the
// debounce window.
type JobsWatcher struct {
	path     string
	logger   logging.Logger
	debounce time.Duration
	updates  chan struct{}

	mu       sync.Mutex
	timer    *time.Timer
	watcher  *fsnotify.Watcher
	loopDone <-chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

// JobsWatcherOption customizes watcher behavior.
type JobsWatcherOption func(*JobsWatcher)

// WithWatchDebounce sets the debounce window.
func WithWatchDebounce(debounce time.Duration) JobsWatcherOption {
	return func(w *JobsWatcher) {
		if debounce > 0 {
			w.debounce = debounce
		}
	}
}

// WithWatchLogger sets the logger for watcher diagnostics.
func WithWatchLogger(logger logging.Logger) JobsWatcherOption {
	return func(w *JobsWatcher) {
		w.logger = logging.OrNop(logger)
	}
}

// NewJobsWatcher constructs a watcher for the job list at path.
func NewJobsWatcher(path string, opts ...JobsWatcherOption) (*JobsWatcher, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("job list path required")
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	watcher := &JobsWatcher{
		path:     filepath.Clean(path),
		logger:   logging.Nop(),
		debounce: defaultJobsWatchDebounce,
		updates:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(watcher)
	}
	return watcher, nil
}

// Start begins watching. The parent directory is watched so editors that
// replace the file via rename are still seen. The watcher stops when ctx is
// cancelled.
func (w *JobsWatcher) Start(ctx context.Context) error {
	if w == nil {
		return fmt.Errorf("jobs watcher is nil")
	}
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		_ = fsWatcher.Close()
		w.mu.Unlock()
		return err
	}
	w.watcher = fsWatcher
	w.loopDone = async.Go(w.logger, "jobs.watch", func() { w.watchLoop(fsWatcher) })
	w.mu.Unlock()

	if ctx != nil {
		async.Go(w.logger, "jobs.watch.ctx", func() {
			select {
			case <-ctx.Done():
				w.Stop()
			case <-w.stopCh:
			}
		})
	}
	return nil
}

// Stop terminates the watcher and waits for the watch loop to exit.
func (w *JobsWatcher) Stop() {
	if w == nil {
		return
	}
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
		loopDone := w.loopDone
		w.mu.Unlock()
		if loopDone != nil {
			<-loopDone
		}
	})
}

// Updates delivers one value per debounced change. The channel is never
// closed.
func (w *JobsWatcher) Updates() <-chan struct{} {
	if w == nil {
		return nil
	}
	return w.updates
}

func (w *JobsWatcher) watchLoop(fsWatcher *fsnotify.Watcher) {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Job list watcher error: %v", err)
		}
	}
}

func (w *JobsWatcher) handleEvent(event fsnotify.Event) {
	if event.Name == "" {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if filepath.Clean(event.Name) != w.path {
		return
	}
	w.scheduleNotify()
}

func (w *JobsWatcher) scheduleNotify() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.stopCh:
			return
		default:
		}
		w.logger.Info("Job list %s changed", w.path)
		select {
		case w.updates <- struct{}{}:
		default:
		}
	})
}
