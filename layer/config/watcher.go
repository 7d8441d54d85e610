package config

import (
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/vkcheck/layer/core"
)

// FnOnReload is called with the freshly parsed settings after the file changes.
type FnOnReload func(s *Settings)

// Watcher reloads a settings file whenever it is written or replaced.
type Watcher struct {
	path string

	mutex       sync.RWMutex
	current     *Settings
	subscribers []FnOnReload

	done     chan struct{}
	fsnotify *fsnotify.Watcher
	isClosed bool
	errors   chan error
}

func NewWatcher(path string) (*Watcher, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}

	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating settings watcher")
	}
	// Editors usually replace the file, so the directory is watched rather than the file.
	if err := fsWatch.Add(filepath.Dir(path)); err != nil {
		fsWatch.Close()
		return nil, errors.Wrapf(err, "watching %s", path)
	}

	w := &Watcher{
		path:     filepath.Clean(path),
		current:  s,
		fsnotify: fsWatch,
		errors:   make(chan error, 8),
		done:     make(chan struct{}),
	}
	go w.start()
	return w, nil
}

func (w *Watcher) Current() *Settings {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	return w.current
}

// Subscribe registers fn and immediately calls it with the current settings.
func (w *Watcher) Subscribe(fn FnOnReload) {
	w.mutex.Lock()
	w.subscribers = append(w.subscribers, fn)
	current := w.current
	w.mutex.Unlock()
	fn(current)
}

// Errors reports reload failures. The previous settings stay active when a reload fails.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

func (w *Watcher) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.isClosed {
		return core.ErrWatcherClosed
	}
	w.isClosed = true
	close(w.done)
	return nil
}

func (w *Watcher) start() {
	for {
		select {
		case e := <-w.fsnotify.Events:
			if filepath.Clean(e.Name) != w.path {
				continue
			}
			// Handle create or modify events
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.reload()
			}

		case err := <-w.fsnotify.Errors:
			core.LogError("%s", err)
			w.pushError(err)

		case <-w.done:
			w.fsnotify.Close()
			close(w.errors)
			return
		}
	}
}

func (w *Watcher) reload() {
	s, err := Load(w.path)
	if err != nil {
		core.LogWarn("keeping previous settings: %s", err.Error())
		w.pushError(err)
		return
	}

	w.mutex.Lock()
	w.current = s
	subscribers := make([]FnOnReload, len(w.subscribers))
	copy(subscribers, w.subscribers)
	w.mutex.Unlock()

	core.LogInfo("settings reloaded from %s", w.path)
	for _, fn := range subscribers {
		fn(s)
	}
}

func (w *Watcher) pushError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}
