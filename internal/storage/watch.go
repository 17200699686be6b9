package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"remindbot/internal/calendar"
	"remindbot/pkg/logx"
)

// ErrNotWatchable is returned by NewWatcher for backends without a data dir.
var ErrNotWatchable = errors.New("storage: backend has no watchable directory")

const defaultWatchDebounce = 200 * time.Millisecond

// Watcher reports user records changed on disk, by any process. The file
// backend replaces records via rename, so Create and Rename events are the
// interesting ones; Write covers editors that save in place.
type Watcher struct {
	dir      string
	log      logx.Logger
	debounce time.Duration
	onChange func(calendar.Identifier)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher watches the data directory of be. Only the file backend has one.
func NewWatcher(be Backend, log logx.Logger, onChange func(calendar.Identifier)) (*Watcher, error) {
	fs, ok := be.(interface{ Dir() string })
	if !ok {
		return nil, ErrNotWatchable
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watcher{
		dir:      fs.Dir(),
		log:      log.With(logx.String("comp", "storage.watch")),
		debounce: defaultWatchDebounce,
		onChange: onChange,
		timers:   map[string]*time.Timer{},
	}, nil
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return err
	}
	w.log.Debug("store watcher started", logx.String("dir", w.dir))
	defer w.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("store watcher closed")
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			key, ok := idFromFileName(filepath.Base(ev.Name))
			if !ok {
				continue
			}
			w.schedule(key)
		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("store watcher closed")
			}
			if err != nil {
				w.log.Warn("store watch error", logx.Err(err))
			}
		}
	}
}

func (w *Watcher) schedule(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[key]; ok {
		t.Stop()
	}
	w.timers[key] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, key)
		w.mu.Unlock()

		id, err := calendar.ParseIdentifier(key)
		if err != nil {
			return
		}
		w.log.Debug("user record changed", logx.String("user", key))
		if w.onChange != nil {
			w.onChange(id)
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for k, t := range w.timers {
		t.Stop()
		delete(w.timers, k)
	}
}
