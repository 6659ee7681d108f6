package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Change reports that a session document was written or removed.
type Change struct {
	SessionID string
	Removed   bool
	At        time.Time
}

// DefaultDebounce is how long a document must stay quiet before its change
// is reported.
const DefaultDebounce = 100 * time.Millisecond

// Watcher emits a Change whenever a primary document in a FileStore changes,
// including commits made by other processes. Bursts of events for one session
// collapse into a single Change carrying the last state seen.
type Watcher struct {
	dir      string
	watcher  *fsnotify.Watcher
	changes  chan Change
	stop     chan struct{}
	once     sync.Once
	logger   *zap.Logger
	debounce time.Duration
	pending  map[string]Change // owned by run
}

// WatcherOption configures NewWatcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period. Values <= 0 keep the default.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher over dir.
func NewWatcher(dir string, logger *zap.Logger, opts ...WatcherOption) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	w := &Watcher{
		dir:      dir,
		watcher:  fw,
		changes:  make(chan Change, 32),
		stop:     make(chan struct{}),
		logger:   logger,
		debounce: DefaultDebounce,
		pending:  make(map[string]Change),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. Events are delivered on Changes until ctx is done or
// Stop is called, after which the channel is closed.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	go w.run(ctx)
	return nil
}

// Changes returns the change channel.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Stop releases the underlying watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.changes)

	tick := w.debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			w.Stop()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("session watcher error", zap.Error(err))
		case now := <-ticker.C:
			w.flush(now)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	id, ok := sessionIDFromFile(filepath.Base(event.Name))
	if !ok {
		return
	}
	var change Change
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create, event.Op&fsnotify.Write == fsnotify.Write:
		change = Change{SessionID: id, At: time.Now()}
	case event.Op&fsnotify.Remove == fsnotify.Remove, event.Op&fsnotify.Rename == fsnotify.Rename:
		change = Change{SessionID: id, Removed: true, At: time.Now()}
	default:
		return
	}

	w.pending[id] = change
}

// flush emits the changes that have been quiet for the debounce period.
func (w *Watcher) flush(now time.Time) {
	for id, change := range w.pending {
		if now.Sub(change.At) < w.debounce {
			continue
		}
		delete(w.pending, id)
		select {
		case w.changes <- change:
		default:
			w.logger.Debug("session watcher channel full, dropping change", zap.String("session.id", id))
		}
	}
}
