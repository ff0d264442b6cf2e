// Package watch invalidates cached assets when their backing files
// change on disk.
package watch

import (
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Watcher observes asset files and reports modifications. fsnotify
// watches directories, so each registered file adds its parent dir and
// events are filtered back down to registered paths.
type Watcher struct {
	fsw      *fsnotify.Watcher
	onChange func(path string)
	logger   *log.Logger

	mu    sync.Mutex
	files map[string]string // absolute path -> path as registered
	dirs  map[string]int    // refcount of tracked files per dir

	done    chan struct{}
	stopped chan struct{}
}

// New creates a watcher that invokes onChange for every tracked file
// that is written, removed or renamed. onChange receives the path
// exactly as it was passed to Track, so callers can use it as a lookup
// key directly.
func New(onChange func(path string), logger *log.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:      fsw,
		onChange: onChange,
		logger:   logger,
		files:    make(map[string]string),
		dirs:     make(map[string]int),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Track registers a file for change notification.
func (w *Watcher) Track(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[abs]; ok {
		// Re-tracking refreshes the reported key.
		w.files[abs] = path
		return nil
	}

	dir := filepath.Dir(abs)
	if w.dirs[dir] == 0 {
		if err := w.fsw.Add(dir); err != nil {
			return err
		}
	}
	w.dirs[dir]++
	w.files[abs] = path
	return nil
}

// Untrack stops watching a file.
func (w *Watcher) Untrack(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[abs]; !ok {
		return
	}
	delete(w.files, abs)

	dir := filepath.Dir(abs)
	w.dirs[dir]--
	if w.dirs[dir] == 0 {
		delete(w.dirs, dir)
		_ = w.fsw.Remove(dir)
	}
}

// Close shuts the watcher down and waits for the event loop to exit.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.fsw.Close()
	<-w.stopped
	return err
}

func (w *Watcher) run() {
	defer close(w.stopped)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.mu.Lock()
			key, tracked := w.files[ev.Name]
			w.mu.Unlock()
			if !tracked {
				continue
			}
			w.logger.Debug("asset changed on disk", "path", ev.Name, "op", ev.Op.String())
			w.onChange(key)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}
