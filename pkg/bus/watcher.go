package bus

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/navaai/relay/pkg/logging"
)

// HistoryWatcher bridges out-of-process writes to the history file onto the
// bus. Processes that share a history document but no bus connection still
// converge: any write lands as a SubjectHistoryChanged signal here.
//
// The watch is on the parent directory, not the file itself, because the
// store's atomic writes replace the inode on every save.
type HistoryWatcher struct {
	watcher  *fsnotify.Watcher
	bus      MessageBus
	path     string
	logger   *logging.Logger
	debounce time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewHistoryWatcher watches the history document at path and republishes
// writes as SubjectHistoryChanged.
func NewHistoryWatcher(b MessageBus, path string, logger *logging.Logger) (*HistoryWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	if logger == nil {
		logger = logging.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &HistoryWatcher{
		watcher:  watcher,
		bus:      b,
		path:     filepath.Clean(path),
		logger:   logger,
		debounce: 100 * time.Millisecond,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go w.run(ctx)
	return w, nil
}

func (w *HistoryWatcher) run(ctx context.Context) {
	defer close(w.done)

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Coalesce the temp-write/rename pair into one signal.
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-fire:
			timer = nil
			fire = nil
			if err := w.bus.Publish(ctx, SubjectHistoryChanged, nil); err != nil {
				w.logger.Warn(logging.CategorySync, "publish_failed", err.Error(), nil)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(logging.CategorySync, "watch_error", err.Error(), nil)
		}
	}
}

// Close stops the watcher.
func (w *HistoryWatcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	<-w.done
	return err
}
