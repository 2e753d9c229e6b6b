package perception

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"tasknerd/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// RuleWatcher reloads a rule table file into a Classifier whenever it changes.
// A table that fails to compile is logged and the previous table stays active.
// The parent directory is watched so editors that save by rename are seen.
type RuleWatcher struct {
	path        string
	classifier  *Classifier
	watcher     *fsnotify.Watcher
	debounceDur time.Duration

	mu      sync.Mutex
	reloads int
	errors  int
}

// NewRuleWatcher creates a watcher for path.
func NewRuleWatcher(path string, classifier *Classifier) (*RuleWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve rule path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	return &RuleWatcher{
		path:        abs,
		classifier:  classifier,
		watcher:     w,
		debounceDur: 200 * time.Millisecond, // editors write in bursts
	}, nil
}

// Run processes file events until ctx is cancelled. It closes the underlying
// watcher before returning.
func (rw *RuleWatcher) Run(ctx context.Context) error {
	defer rw.watcher.Close()
	logging.Perception("RuleWatcher: watching %s", rw.path)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logging.Perception("RuleWatcher: stopped")
			return nil

		case event, ok := <-rw.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != rw.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logging.PerceptionDebug("RuleWatcher: %s %s", event.Op, event.Name)
			if timer == nil {
				timer = time.NewTimer(rw.debounceDur)
			} else {
				timer.Reset(rw.debounceDur)
			}
			timerCh = timer.C

		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return nil
			}
			logging.PerceptionError("RuleWatcher error: %v", err)

		case <-timerCh:
			timerCh = nil
			rw.reload()
		}
	}
}

func (rw *RuleWatcher) reload() {
	table, err := LoadRuleTable(rw.path)
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if err != nil {
		rw.errors++
		logging.PerceptionWarn("RuleWatcher: keeping previous rule table: %v", err)
		return
	}
	rw.classifier.SetTable(table)
	rw.reloads++
	logging.Perception("RuleWatcher: reloaded %d rules from %s", len(table.Rules), rw.path)
}

// Stats returns the number of successful and failed reloads.
func (rw *RuleWatcher) Stats() (reloads, errors int) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.reloads, rw.errors
}
