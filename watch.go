// watch.go
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// CaptureWatcher processes capture files dropped into a directory. A file is processed once,
// after it has not been written to for the settle time.
type CaptureWatcher struct {
	dir     string
	matcher *PatternMatcher
	settle  time.Duration
	process func(ctx context.Context, path string) error
	logger  *Logger

	// Existing processes the captures already present when Run starts
	Existing bool

	pending map[string]time.Time
	done    map[string]struct{}
}

func NewCaptureWatcher(dir string, matcher *PatternMatcher, settle time.Duration, logger *Logger,
	process func(ctx context.Context, path string) error,
) (*CaptureWatcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to access watch directory: %v", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	if matcher == nil || matcher.Empty() {
		matcher = NewPatternMatcher(defaultCapturePatterns)
	}
	if settle <= 0 {
		settle = 2 * time.Second
	}

	return &CaptureWatcher{
		dir:     dir,
		matcher: matcher,
		settle:  settle,
		process: process,
		logger:  logger,
		pending: make(map[string]time.Time),
		done:    make(map[string]struct{}),
	}, nil
}

// Run watches until ctx ends or processing a capture fails.
func (cw *CaptureWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %v", err)
	}
	defer watcher.Close()

	if err := watcher.Add(cw.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %v", cw.dir, err)
	}

	if cw.Existing {
		if err := cw.scanExisting(); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(cw.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			cw.handleEvent(event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			cw.logger.Warning("watch", "Error watching %s: %v", cw.dir, err)

		case now := <-ticker.C:
			if err := cw.processSettled(ctx, now); err != nil {
				return err
			}
		}
	}
}

func (cw *CaptureWatcher) handleEvent(event fsnotify.Event) {
	if !cw.matcher.Matches(event.Name) {
		return
	}
	if _, seen := cw.done[event.Name]; seen {
		return
	}

	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		cw.logger.Trace("watch", "%s: %s", event.Op, event.Name)
		cw.pending[event.Name] = time.Now()
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		delete(cw.pending, event.Name)
	}
}

func (cw *CaptureWatcher) scanExisting() error {
	entries, err := os.ReadDir(cw.dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %v", cw.dir, err)
	}

	// settled already, picked up on the first tick
	stale := time.Now().Add(-cw.settle)
	for _, e := range entries {
		path := filepath.Join(cw.dir, e.Name())
		if e.Type().IsRegular() && cw.matcher.Matches(path) {
			cw.pending[path] = stale
		}
	}
	return nil
}

func (cw *CaptureWatcher) processSettled(ctx context.Context, now time.Time) error {
	var ready []string
	for path, last := range cw.pending {
		if now.Sub(last) >= cw.settle {
			ready = append(ready, path)
		}
	}
	sort.Strings(ready)

	for _, path := range ready {
		delete(cw.pending, path)
		cw.done[path] = struct{}{}

		cw.logger.Info("watch", "New capture %s", path)
		if err := cw.process(ctx, path); err != nil {
			return err
		}
	}
	return nil
}
