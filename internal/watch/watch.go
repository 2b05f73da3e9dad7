// Package watch invalidates cached category listings when files change on disk.
//
// Listings refresh on their own after the refresh interval; the watcher only makes
// additions and deletions visible sooner. It watches each group directory and every
// category directory below it.
package watch

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Invalidator drops the cached listing of one category
type Invalidator interface {
	Invalidate(groupDir, category string)
}

// Watcher watches group directories for changes
type Watcher struct {
	watcher *fsnotify.Watcher
	target  Invalidator
	groups  map[string]struct{}
	logger  zerolog.Logger

	mu      sync.Mutex
	watched map[string]struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Watcher
type Option func(*Watcher)

// WithLogger sets the watcher logger
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// New creates a watcher over groupDirs that reports changes to target
func New(target Invalidator, groupDirs []string, opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher: fw,
		target:  target,
		groups:  make(map[string]struct{}, len(groupDirs)),
		logger:  zerolog.Nop(),
		watched: make(map[string]struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, dir := range groupDirs {
		dir = filepath.Clean(dir)
		w.groups[dir] = struct{}{}
		if err := w.add(dir); err != nil {
			_ = fw.Close()
			return nil, err
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			_ = fw.Close()
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				if err := w.add(filepath.Join(dir, e.Name())); err != nil {
					w.logger.Warn().Err(err).Str("dir", e.Name()).Msg("failed to watch category")
				}
			}
		}
	}

	return w, nil
}

// Start processes events in the background until Stop is called
func (w *Watcher) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run()
	}()
	w.logger.Info().Int("dirs", w.Watched()).Msg("media watcher started")
}

// Stop stops the watcher and waits for the event loop to exit
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
		w.logger.Info().Msg("media watcher stopped")
	})
	return err
}

// Watched returns the number of watched directories
func (w *Watcher) Watched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watched)
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("media watcher error")
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return
	}

	path := filepath.Clean(event.Name)
	parent := filepath.Dir(path)

	// a category directory appeared or went away
	if _, ok := w.groups[parent]; ok {
		if event.Has(fsnotify.Create) {
			if fi, err := os.Stat(path); err == nil && fi.IsDir() {
				if err := w.add(path); err != nil {
					w.logger.Warn().Err(err).Str("category", filepath.Base(path)).Msg("failed to watch category")
				}
			}
		}
		if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
			w.forget(path)
		}
		w.target.Invalidate(parent, filepath.Base(path))
		return
	}

	// a file inside a category changed
	groupDir := filepath.Dir(parent)
	if _, ok := w.groups[groupDir]; ok {
		category := filepath.Base(parent)
		w.logger.Debug().
			Str("category", category).
			Str("op", event.Op.String()).
			Msg("category changed")
		w.target.Invalidate(groupDir, category)
	}
}

func (w *Watcher) add(dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.mu.Lock()
	w.watched[dir] = struct{}{}
	w.mu.Unlock()
	return nil
}

// forget drops bookkeeping for a removed directory; fsnotify drops the watch itself
func (w *Watcher) forget(dir string) {
	w.mu.Lock()
	delete(w.watched, dir)
	w.mu.Unlock()
}
