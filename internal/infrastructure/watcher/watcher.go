package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kirillkom/records-inbox/internal/core/ports"
)

const (
	defaultStability    = 2 * time.Second
	defaultPollInterval = 250 * time.Millisecond
)

// Watcher submits files that appear in the drop directory once their
// size has stopped changing.
type Watcher struct {
	dir          string
	submitter    ports.JobSubmitter
	stability    time.Duration
	pollInterval time.Duration
	rewatchEvery time.Duration

	mu      sync.Mutex
	pending map[string]struct{}
	wg      sync.WaitGroup
}

func New(dir string, submitter ports.JobSubmitter, stability, pollInterval time.Duration) *Watcher {
	if stability <= 0 {
		stability = defaultStability
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Watcher{
		dir:          dir,
		submitter:    submitter,
		stability:    stability,
		pollInterval: pollInterval,
		rewatchEvery: 4 * pollInterval,
		pending:      make(map[string]struct{}),
	}
}

// Run blocks until ctx is cancelled. Files already present when Run starts
// are left to a rescan. When the drop directory itself is removed or
// renamed, Run recreates it and watches it again; files that arrived while
// the watch was down are tracked once it is back.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	slog.Info("watcher_started", "dir", w.dir, "stability", w.stability.String())

	defer w.wg.Wait()

	var (
		rewatch  *time.Ticker
		rewatchC <-chan time.Time
	)
	stopRewatch := func() {
		if rewatch != nil {
			rewatch.Stop()
			rewatch, rewatchC = nil, nil
		}
	}
	defer stopRewatch()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.isDirGone(event) {
				slog.Warn("watcher_dir_removed", "dir", w.dir, "op", event.Op.String())
				if rewatch == nil {
					rewatch = time.NewTicker(w.rewatchEvery)
					rewatchC = rewatch.C
				}
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.track(ctx, event.Name)
			}
		case <-rewatchC:
			if err := w.rewatch(fw); err != nil {
				slog.Debug("watcher_rewatch_failed", "dir", w.dir, "error", err)
				continue
			}
			stopRewatch()
			slog.Info("watcher_dir_restored", "dir", w.dir)
			w.trackExisting(ctx)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher_error", "dir", w.dir, "error", err)
		}
	}
}

func (w *Watcher) isDirGone(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != filepath.Clean(w.dir) {
		return false
	}
	return event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}

// rewatch recreates the drop directory if needed and registers it again.
func (w *Watcher) rewatch(fw *fsnotify.Watcher) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("recreate %s: %w", w.dir, err)
	}
	// A renamed directory keeps its old watch under the same name.
	_ = fw.Remove(w.dir)
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	return nil
}

func (w *Watcher) trackExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		slog.Warn("watcher_list_failed", "dir", w.dir, "error", err)
		return
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			w.track(ctx, filepath.Join(w.dir, entry.Name()))
		}
	}
}

func (w *Watcher) track(ctx context.Context, path string) {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}
	w.mu.Lock()
	if _, ok := w.pending[path]; ok {
		w.mu.Unlock()
		return
	}
	w.pending[path] = struct{}{}
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.untrack(path)

		stable, err := w.waitStable(ctx, path)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Warn("watcher_stabilize_failed", "path", path, "error", err)
			}
			return
		}
		if !stable {
			return
		}
		if _, err := w.submitter.Submit(ctx, path); err != nil {
			slog.Error("watcher_submit_failed", "path", path, "error", err)
		}
	}()
}

func (w *Watcher) untrack(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()
}

// waitStable returns true once the file size and mtime have not changed
// for the stability window. Directories and vanished files return false.
func (w *Watcher) waitStable(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if !info.Mode().IsRegular() {
		return false, nil
	}

	lastSize, lastMod := info.Size(), info.ModTime()
	stableSince := time.Now()
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}

		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return false, nil
			}
			return false, err
		}
		if info.Size() != lastSize || !info.ModTime().Equal(lastMod) {
			lastSize, lastMod = info.Size(), info.ModTime()
			stableSince = time.Now()
			continue
		}
		if time.Since(stableSince) >= w.stability {
			return true, nil
		}
	}
}
