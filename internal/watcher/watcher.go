// Package watcher reports changes under an input root as a stream of typed
// events. Directories are watched recursively, new directories are picked up
// as they appear, and events are delivered one by one in the order fsnotify
// reports them; nothing is debounced or coalesced.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/pkgsmith/internal/logging"
	"github.com/conneroisu/pkgsmith/internal/scanner"
)

// EventKind represents the type of change.
type EventKind int

const (
	Created EventKind = iota
	Modified
	RemovedFile
	CreatedDir
	RemovedDir
)

// String returns the string representation of the EventKind
func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case RemovedFile:
		return "removed"
	case CreatedDir:
		return "created-dir"
	case RemovedDir:
		return "removed-dir"
	default:
		return "unknown"
	}
}

// Event is one change to one absolute path.
type Event struct {
	Kind EventKind
	Path string
}

// FileFilter reports whether a path should produce events.
type FileFilter func(path string) bool

// FileWatcher watches a root directory tree.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	matcher *scanner.Matcher
	logger  logging.Logger
	filters []FileFilter
	mutex   sync.RWMutex

	// dirs holds every directory currently watched, so a removal can be
	// told apart from a file removal after the path is gone.
	dirs map[string]bool
}

// New creates a watcher for root. Paths matched by the exclude globs are
// neither watched nor reported.
func New(root string, exclude []string, logger logging.Logger) (*FileWatcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = logging.Discard()
	}

	return &FileWatcher{
		watcher: watcher,
		matcher: scanner.NewMatcher(absRoot, exclude),
		logger:  logger.WithComponent("watcher"),
		dirs:    make(map[string]bool),
	}, nil
}

// Root returns the absolute root being watched.
func (fw *FileWatcher) Root() string {
	return fw.matcher.Root()
}

// AddFilter adds a file filter. A path is reported only when every filter
// accepts it.
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// Start registers the tree under the root and returns the event stream. The
// channel is closed once ctx is done and the underlying watcher is released.
// The root must exist.
func (fw *FileWatcher) Start(ctx context.Context) (<-chan Event, error) {
	info, err := os.Stat(fw.Root())
	if err != nil {
		return nil, fmt.Errorf("watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", fw.Root())
	}

	if _, err := fw.addRecursive(fw.Root()); err != nil {
		fw.watcher.Close()
		return nil, err
	}

	events := make(chan Event)
	go fw.watchLoop(ctx, events)

	return events, nil
}

// Stop releases the underlying watcher. Cancelling the Start context does
// the same.
func (fw *FileWatcher) Stop() error {
	return fw.watcher.Close()
}

// Watched reports whether dir is currently registered.
func (fw *FileWatcher) Watched(dir string) bool {
	fw.mutex.RLock()
	defer fw.mutex.RUnlock()
	return fw.dirs[dir]
}

func (fw *FileWatcher) watchLoop(ctx context.Context, out chan<- Event) {
	defer close(out)
	defer fw.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			for _, e := range fw.translate(event) {
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

// translate maps one fsnotify event to zero or more watcher events.
func (fw *FileWatcher) translate(event fsnotify.Event) []Event {
	path := filepath.Clean(event.Name)

	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Lstat(path)
		if err != nil {
			// Gone again before we looked; its removal event follows.
			return nil
		}
		if info.IsDir() {
			if fw.matcher.Excluded(path, true) {
				return nil
			}
			return fw.createdDir(path)
		}
		if !fw.accepts(path) {
			return nil
		}
		return []Event{{Kind: Created, Path: path}}

	case event.Has(fsnotify.Write):
		if fw.Watched(path) || !fw.accepts(path) {
			return nil
		}
		return []Event{{Kind: Modified, Path: path}}

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if fw.forgetDir(path) {
			return []Event{{Kind: RemovedDir, Path: path}}
		}
		if !fw.accepts(path) {
			return nil
		}
		return []Event{{Kind: RemovedFile, Path: path}}
	}

	return nil
}

// createdDir registers a new directory tree and reports it along with any
// entries that landed inside before the watch was in place.
func (fw *FileWatcher) createdDir(dir string) []Event {
	found, err := fw.addRecursive(dir)
	if err != nil {
		fw.logger.Warn(context.Background(), err, "Unable to watch new directory", "path", dir)
	}
	return found
}

// addRecursive watches dir and every non-excluded directory below it. It
// returns a CreatedDir event per directory and a Created event per file, in
// walk order.
func (fw *FileWatcher) addRecursive(dir string) ([]Event, error) {
	var found []Event

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path != dir {
				return nil
			}
			return err
		}

		if d.IsDir() {
			if path != fw.Root() && fw.matcher.Excluded(path, true) {
				return filepath.SkipDir
			}
			if err := fw.watcher.Add(path); err != nil {
				return fmt.Errorf("watching %s: %w", path, err)
			}
			fw.mutex.Lock()
			fw.dirs[path] = true
			fw.mutex.Unlock()
			found = append(found, Event{Kind: CreatedDir, Path: path})
			return nil
		}

		if d.Type().IsRegular() && fw.accepts(path) {
			found = append(found, Event{Kind: Created, Path: path})
		}
		return nil
	})

	return found, err
}

// forgetDir drops dir and everything below it from the watched set. It
// reports whether dir was being watched.
func (fw *FileWatcher) forgetDir(dir string) bool {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()

	if !fw.dirs[dir] {
		return false
	}

	prefix := dir + string(filepath.Separator)
	for watched := range fw.dirs {
		if watched == dir || strings.HasPrefix(watched, prefix) {
			delete(fw.dirs, watched)
			// Removed directories drop out of inotify on their own; a
			// renamed one has to be released explicitly.
			_ = fw.watcher.Remove(watched)
		}
	}
	return true
}

func (fw *FileWatcher) accepts(path string) bool {
	if fw.matcher.Excluded(path, false) {
		return false
	}

	fw.mutex.RLock()
	filters := fw.filters
	fw.mutex.RUnlock()

	for _, filter := range filters {
		if !filter(path) {
			return false
		}
	}
	return true
}

// IgnoreSuffix rejects paths ending in suffix, such as the temporary files
// an atomic write leaves for a moment.
func IgnoreSuffix(suffix string) FileFilter {
	return func(path string) bool {
		return !strings.HasSuffix(path, suffix)
	}
}
