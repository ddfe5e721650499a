package upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ssebide/music-platform/logger"

	"github.com/fsnotify/fsnotify"
)

// Workspace activity kinds reported by WorkspaceWatcher.
const (
	ActivityWorkspaceCreated = "workspace_created"
	ActivityChunkCommitted   = "chunk_committed"
	ActivityWorkspaceRemoved = "workspace_removed"
)

// WorkspaceActivity is one observed change below the workspace root.
type WorkspaceActivity struct {
	Kind       string
	TrackID    string
	ChunkIndex int // -1 unless Kind is ActivityChunkCommitted
	Path       string
}

// WorkspaceWatcher reports chunk activity in every workspace under the store root.
type WorkspaceWatcher struct {
	root string
}

// NewWorkspaceWatcher 创建工作区监听器
func NewWorkspaceWatcher(store *ChunkStore) *WorkspaceWatcher {
	return &WorkspaceWatcher{root: store.Root()}
}

// Run blocks until ctx is done, calling fn for every activity.
func (w *WorkspaceWatcher) Run(ctx context.Context, fn func(WorkspaceActivity)) error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace root %s: %w", w.root, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", w.root, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			w.addWorkspace(watcher, filepath.Join(w.root, e.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			for _, a := range w.classify(watcher, event) {
				fn(a)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("workspace watch error", logger.ErrorField(err))
		}
	}
}

func (w *WorkspaceWatcher) addWorkspace(watcher *fsnotify.Watcher, dir string) {
	if err := watcher.Add(dir); err != nil {
		logger.Warn("failed to watch workspace",
			logger.String("workspace", dir),
			logger.ErrorField(err))
	}
}

func (w *WorkspaceWatcher) classify(watcher *fsnotify.Watcher, event fsnotify.Event) []WorkspaceActivity {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return nil
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")

	switch len(parts) {
	case 1:
		trackID := parts[0]
		if event.Has(fsnotify.Create) {
			info, err := os.Stat(event.Name)
			if err != nil || !info.IsDir() {
				return nil
			}
			w.addWorkspace(watcher, event.Name)
			out := []WorkspaceActivity{{Kind: ActivityWorkspaceCreated, TrackID: trackID, ChunkIndex: -1, Path: event.Name}}
			// chunks committed before the watch was added
			entries, _ := os.ReadDir(event.Name)
			for _, e := range entries {
				if idx, ok := chunkIndexOf(e.Name()); ok {
					out = append(out, WorkspaceActivity{Kind: ActivityChunkCommitted, TrackID: trackID, ChunkIndex: idx, Path: filepath.Join(event.Name, e.Name())})
				}
			}
			return out
		}
		if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
			return []WorkspaceActivity{{Kind: ActivityWorkspaceRemoved, TrackID: trackID, ChunkIndex: -1, Path: event.Name}}
		}
	case 2:
		if !event.Has(fsnotify.Create) {
			return nil
		}
		idx, ok := chunkIndexOf(parts[1])
		if !ok {
			return nil
		}
		return []WorkspaceActivity{{Kind: ActivityChunkCommitted, TrackID: parts[0], ChunkIndex: idx, Path: event.Name}}
	}
	return nil
}

func chunkIndexOf(name string) (int, bool) {
	if !strings.HasPrefix(name, chunkPrefix) {
		return 0, false
	}
	idx, err := strconv.Atoi(strings.TrimPrefix(name, chunkPrefix))
	if err != nil {
		return 0, false
	}
	return idx, true
}
