// Package watch monitors plugin directories for manifest changes and
// notifies the host so it can hot-reload the affected plugin.
package watch

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// debounceWindow coalesces bursts of writes to the same plugin directory,
// as editors and package extractors touch several files in quick
// succession.
const debounceWindow = 500 * time.Millisecond

// ChangeKind classifies what happened to a plugin directory.
type ChangeKind int

const (
	// ChangeUpdated means the manifest or entry file was written.
	ChangeUpdated ChangeKind = iota
	// ChangeRemoved means the manifest was deleted.
	ChangeRemoved
)

// Change reports a plugin directory event after debouncing.
type Change struct {
	Dir  string
	Kind ChangeKind
}

// Watcher watches plugin directories for manifest and entry changes.
type Watcher struct {
	fsw    *fsnotify.Watcher
	logger *logrus.Entry

	mu      sync.Mutex
	pending map[string]ChangeKind
	timer   *time.Timer

	changes chan Change
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a watcher over the given plugin directories. Each plugin's
// own subdirectory is watched, so adding a plugin requires a restart or a
// new Watch call.
func New(dirs []string, logger *logrus.Entry) (*Watcher, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:     fsw,
		logger:  logger.WithField("component", "plugin-watch"),
		pending: make(map[string]ChangeKind),
		changes: make(chan Change, 16),
		done:    make(chan struct{}),
	}
	for _, dir := range dirs {
		if err := w.Watch(dir); err != nil {
			w.logger.WithError(err).WithField("dir", dir).Warn("cannot watch plugin directory")
		}
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Watch adds a directory (and its immediate subdirectories) to the watch
// set.
func (w *Watcher) Watch(dir string) error {
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	subdirs, _ := filepath.Glob(filepath.Join(dir, "*"))
	for _, sub := range subdirs {
		// Failures on individual subdirectories (files, permissions) are
		// fine; the parent watch still reports creations.
		_ = w.fsw.Add(sub)
	}
	return nil
}

// Changes returns the channel of debounced plugin directory changes.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Close stops the watcher and closes the Changes channel.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	close(w.done)
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	defer close(w.changes)

	for {
		select {
		case <-w.done:
			return
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(evt)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("watch error")
		}
	}
}

func (w *Watcher) handleEvent(evt fsnotify.Event) {
	name := filepath.Base(evt.Name)
	dir := filepath.Dir(evt.Name)

	switch {
	case name == "plugin.json" && evt.Op&fsnotify.Remove != 0:
		w.enqueue(dir, ChangeRemoved)
	case name == "plugin.json" || filepath.Ext(name) == ".lua":
		if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
			w.enqueue(dir, ChangeUpdated)
		}
	case evt.Op&fsnotify.Create != 0:
		// A new plugin directory: watch it so its manifest write arrives.
		_ = w.fsw.Add(evt.Name)
	}
}

func (w *Watcher) enqueue(dir string, kind ChangeKind) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Removal wins over update within one window.
	if existing, ok := w.pending[dir]; !ok || existing != ChangeRemoved {
		w.pending[dir] = kind
	}
	if w.timer == nil {
		w.timer = time.AfterFunc(debounceWindow, w.flush)
	}
}

func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]ChangeKind)
	w.timer = nil
	w.mu.Unlock()

	for dir, kind := range pending {
		select {
		case w.changes <- Change{Dir: dir, Kind: kind}:
		case <-w.done:
			return
		}
	}
}
