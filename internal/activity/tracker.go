// Package activity tracks filesystem writes in the runner's cache and
// output directories, so a job that is busy but silent on stdout is not
// mistaken for a stall.
package activity

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
	"github.com/hugo-lorenzo-mato/actguard/internal/logging"
)

// maxDepth bounds how far below each root new directories are watched.
const maxDepth = 3

// Tracker records the time of the latest filesystem event under its roots.
// It implements hangup.ActivitySource.
type Tracker struct {
	watcher *fsnotify.Watcher
	clock   core.Clock
	logger  *logging.Logger

	mu      sync.Mutex
	last    time.Time
	events  int64
	watched map[string]int // path -> depth

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New watches each existing directory in roots. Missing roots are skipped.
func New(clock core.Clock, logger *logging.Logger, roots ...string) (*Tracker, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	t := &Tracker{
		watcher: watcher,
		clock:   core.ClockOrReal(clock),
		logger:  logger.WithComponent("activity"),
		watched: make(map[string]int),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, root := range roots {
		if root == "" {
			continue
		}
		t.addTree(filepath.Clean(root), 0)
	}

	go t.watchLoop()
	return t, nil
}

func (t *Tracker) addTree(path string, depth int) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		t.logger.Debug("activity: not watching", "path", path, "error", err)
		return
	}
	if !t.addWatch(path, depth) || depth >= maxDepth {
		return
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			t.addTree(filepath.Join(path, e.Name()), depth+1)
		}
	}
}

func (t *Tracker) addWatch(path string, depth int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.watched[path]; ok {
		return false
	}
	if err := t.watcher.Add(path); err != nil {
		t.logger.Debug("activity: watch failed", "path", path, "error", err)
		return false
	}
	t.watched[path] = depth
	return true
}

func (t *Tracker) depthOf(path string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.watched[path]
	return d, ok
}

func (t *Tracker) watchLoop() {
	defer close(t.done)
	for {
		select {
		case <-t.stop:
			return
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			t.touch()

			// Watch directories created under a watched one.
			if event.Op&fsnotify.Create != 0 {
				parent, ok := t.depthOf(filepath.Dir(event.Name))
				if ok && parent < maxDepth {
					t.addTree(event.Name, parent+1)
				}
			}
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.logger.Debug("activity: watcher error", "error", err)
		}
	}
}

func (t *Tracker) touch() {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events++
	if now.After(t.last) {
		t.last = now
	}
}

// LastActivity returns the time of the latest event, zero if none.
func (t *Tracker) LastActivity() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Events returns how many events were observed.
func (t *Tracker) Events() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events
}

// Watched returns the watched directories, sorted.
func (t *Tracker) Watched() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.watched))
	for p := range t.watched {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Close stops watching. Safe to call more than once.
func (t *Tracker) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		err = t.watcher.Close()
		<-t.done
	})
	return err
}
