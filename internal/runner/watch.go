package runner

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/testwire-labs/testwire/pkg/core"
)

// debounceWindow coalesces the burst of filesystem events an editor save
// produces into a single re-run.
const debounceWindow = 100 * time.Millisecond

// Watch executes the selection once, then re-executes it whenever a test
// file under the selection's workspaces changes. It blocks until ctx is
// cancelled.
func (e *Engine) Watch(ctx context.Context, req core.RunRequest) error {
	once := req
	once.Continuous = false
	if _, err := e.Execute(ctx, once); err != nil {
		e.logger.Error("initial run failed", "error", err)
	}
	if ctx.Err() != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	seen := make(map[string]struct{})
	for _, node := range req.Included {
		ws := owningWorkspace(node)
		if ws == nil {
			continue
		}
		if _, ok := seen[ws.URI]; ok {
			continue
		}
		seen[ws.URI] = struct{}{}
		if err := e.watchWorkspace(watcher, ws.URI); err != nil {
			return err
		}
	}

	return e.watchLoop(ctx, req, watcher.Events, watcher.Errors)
}

// watchWorkspace registers every directory under the workspace's test
// roots. fsnotify watches are not recursive, so each level is added
// individually.
func (e *Engine) watchWorkspace(watcher *fsnotify.Watcher, root string) error {
	for _, dir := range e.scan.Dirs {
		base := filepath.Join(root, dir)
		err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if !d.IsDir() {
				return nil
			}
			for _, excluded := range e.scan.ExcludeDirs {
				if d.Name() == excluded {
					return filepath.SkipDir
				}
			}
			if err := watcher.Add(path); err != nil {
				e.logger.Warn("failed to watch directory", "dir", path, "error", err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to register watches under %s: %w", base, err)
		}
	}
	return nil
}

// watchLoop is the event-driven half of Watch, factored out so it can be
// driven with a synthetic event channel.
func (e *Engine) watchLoop(ctx context.Context, req core.RunRequest, events <-chan fsnotify.Event, errs <-chan error) error {
	runCh := make(chan struct{}, 1)
	var pending *time.Timer
	trigger := func() {
		select {
		case runCh <- struct{}{}:
		default:
		}
	}
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !e.scan.MatchesFile(filepath.Base(ev.Name)) {
				continue
			}
			if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
				e.dropFile(ev.Name)
			}
			e.logger.Debug("test file changed", "file", ev.Name, "op", ev.Op)
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(debounceWindow, trigger)
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			e.logger.Warn("file watcher error", "error", err)
		case <-runCh:
			next := req
			next.Continuous = false
			if _, err := e.Execute(ctx, next); err != nil {
				e.logger.Error("re-run failed", "error", err)
			}
		}
	}
}

// dropFile removes a deleted file from the hierarchy.
func (e *Engine) dropFile(path string) {
	file := e.tree.FileNode(path)
	if file == nil {
		return
	}
	id := file.ID
	e.tree.RemoveFile(path)
	e.observers.NodeRemoved(id)
}
