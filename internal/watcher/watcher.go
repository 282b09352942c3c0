// Package watcher provides recursive file system watching with debouncing for
// a fragment tree.
package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a directory tree and reports fragment files that were
// written or created.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	root      string
	debounce  time.Duration
	match     func(root, path string) bool
	onChange  chan []string
	errs      chan error
	done      chan struct{}
	stopOnce  sync.Once
}

// Config holds watcher configuration options.
type Config struct {
	Root        string
	DebounceDur time.Duration
	// Match selects the files worth reporting. Nil reports every file.
	Match func(root, path string) bool
}

// DefaultConfig returns sensible defaults for the watcher.
func DefaultConfig(root string) Config {
	return Config{
		Root:        root,
		DebounceDur: 250 * time.Millisecond,
	}
}

// New creates a new tree watcher.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: creating fsnotify watcher: %w", err)
	}
	debounce := cfg.DebounceDur
	if debounce <= 0 {
		debounce = DefaultConfig(cfg.Root).DebounceDur
	}
	return &Watcher{
		fsWatcher: fsw,
		root:      filepath.Clean(cfg.Root),
		debounce:  debounce,
		match:     cfg.Match,
		onChange:  make(chan []string, 8),
		errs:      make(chan error, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching every directory below the root.
// Returns a channel that receives the sorted, de-duplicated paths changed
// during each quiet period.
func (w *Watcher) Start() (<-chan []string, error) {
	if err := w.addTree(w.root); err != nil {
		return nil, err
	}
	go w.loop()
	return w.onChange, nil
}

// Errors exposes fsnotify errors. Only the latest unread error is kept.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsWatcher.Close()
	})
	return err
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("watcher: walking %s: %w", path, err)
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(path); err != nil {
			return fmt.Errorf("watcher: watching directory %s: %w", path, err)
		}
		return nil
	})
}

// loop processes file system events with debouncing.
func (w *Watcher) loop() {
	var (
		timer *time.Timer
		dirty = map[string]struct{}{}
	)
	defer close(w.onChange)

	for {
		var fire <-chan time.Time
		if timer != nil {
			fire = timer.C
		}

		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					// Files written before the directory was watched are
					// reported through a walk.
					_ = w.addTree(event.Name)
					w.collect(event.Name, dirty)
					timer = w.reset(timer)
					continue
				}
			}
			if !w.isRelevantEvent(event) {
				continue
			}
			dirty[filepath.Clean(event.Name)] = struct{}{}
			timer = w.reset(timer)

		case <-fire:
			timer = nil
			if len(dirty) == 0 {
				continue
			}
			batch := make([]string, 0, len(dirty))
			for path := range dirty {
				batch = append(batch, path)
			}
			sort.Strings(batch)
			dirty = map[string]struct{}{}
			select {
			case w.onChange <- batch:
			case <-w.done:
				return
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (w *Watcher) reset(timer *time.Timer) *time.Timer {
	if timer == nil {
		return time.NewTimer(w.debounce)
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(w.debounce)
	return timer
}

func (w *Watcher) collect(dir string, dirty map[string]struct{}) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if w.wants(path) {
			dirty[filepath.Clean(path)] = struct{}{}
		}
		return nil
	})
}

// isRelevantEvent checks if the event should be reported.
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return false
	}
	return w.wants(event.Name)
}

func (w *Watcher) wants(path string) bool {
	if w.match == nil {
		return true
	}
	return w.match(w.root, path)
}
