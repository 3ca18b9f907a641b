package builder

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"

	"github.com/codefionn/devsync/internal/consts"
	"github.com/codefionn/devsync/internal/logger"
)

// skipDirs are directories the dev watcher never descends into.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
}

// CommandBuilder runs external commands to build a project. One-shot builds
// run the build command once; dev mode runs it, then watches the project
// root and re-runs it when source files actually change.
type CommandBuilder struct {
	name      string
	buildCmd  []string
	outputDir string
}

// NewCommandBuilder creates a command-backed builder. outputDir is relative
// to the project root and defaults to "dist".
func NewCommandBuilder(name string, buildCmd []string, outputDir string) (*CommandBuilder, error) {
	if len(buildCmd) == 0 {
		return nil, fmt.Errorf("builder %q: build command is empty", name)
	}
	if outputDir == "" {
		outputDir = "dist"
	}
	return &CommandBuilder{
		name:      name,
		buildCmd:  buildCmd,
		outputDir: outputDir,
	}, nil
}

// RunBuild runs the build command once and returns the artifact directory.
func (b *CommandBuilder) RunBuild(ctx context.Context, rootPath string, console Console) (string, error) {
	if err := b.runCommand(ctx, rootPath, console); err != nil {
		return "", err
	}
	return filepath.Join(rootPath, b.outputDir), nil
}

// StartDev runs an initial build and then rebuilds whenever files under
// rootPath change. Readiness is signalled after the initial build.
func (b *CommandBuilder) StartDev(ctx context.Context, rootPath string, console Console) (*DevSession, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("builder %q: failed to create watcher: %w", b.name, err)
	}

	if err := b.watchTree(watcher, rootPath); err != nil {
		watcher.Close()
		return nil, err
	}

	devCtx, cancel := context.WithCancel(ctx)
	ready := make(chan struct{})

	go b.devLoop(devCtx, watcher, rootPath, console, ready)

	stop := func() {
		cancel()
		if err := watcher.Close(); err != nil {
			logger.Warn("builder %q: error closing watcher: %v", b.name, err)
		}
	}
	return NewDevSession(ready, stop), nil
}

// devLoop is the watch-rebuild loop of a dev session.
func (b *CommandBuilder) devLoop(ctx context.Context, watcher *fsnotify.Watcher, rootPath string, console Console, ready chan struct{}) {
	if err := b.runCommand(ctx, rootPath, console); err != nil {
		console("dev build failed: %v", err)
	}
	close(ready)

	// Content hashes of watched files, used to skip rebuilds when a write
	// event did not change the bytes on disk
	seen := make(map[string]uint64)

	var debounce *time.Timer
	var debounceC <-chan time.Time
	dirty := false

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !b.ignored(rootPath, event.Name) {
						if err := watcher.Add(event.Name); err != nil {
							logger.Warn("builder %q: failed to watch %s: %v", b.name, event.Name, err)
						}
					}
					continue
				}
			}
			if !b.relevantEvent(rootPath, event, seen) {
				continue
			}
			dirty = true
			if debounce == nil {
				debounce = time.NewTimer(consts.DevWatchDebounce)
			} else {
				debounce.Reset(consts.DevWatchDebounce)
			}
			debounceC = debounce.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Error("builder %q: watcher error: %v", b.name, err)

		case <-debounceC:
			debounceC = nil
			if !dirty {
				continue
			}
			dirty = false
			console("rebuilding %s...", filepath.Base(rootPath))
			if err := b.runCommand(ctx, rootPath, console); err != nil {
				console("rebuild failed: %v", err)
			}
		}
	}
}

// relevantEvent decides whether a filesystem event should trigger a rebuild.
// New directories are added to the watch; unchanged file contents are
// ignored via their xxhash digest.
func (b *CommandBuilder) relevantEvent(rootPath string, event fsnotify.Event, seen map[string]uint64) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	if b.ignored(rootPath, event.Name) {
		return false
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		// Deleted or renamed away
		delete(seen, event.Name)
		return true
	}
	if info.IsDir() {
		return false
	}

	data, err := os.ReadFile(event.Name)
	if err != nil {
		return true
	}
	sum := xxhash.Sum64(data)
	if prev, ok := seen[event.Name]; ok && prev == sum {
		return false
	}
	seen[event.Name] = sum
	return true
}

// ignored reports whether a path lies in the output directory or a skipped
// directory.
func (b *CommandBuilder) ignored(rootPath, path string) bool {
	rel, err := filepath.Rel(rootPath, path)
	if err != nil {
		return true
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) > 0 && (skipDirs[parts[0]] || parts[0] == b.outputDir) {
		return true
	}
	return false
}

// watchTree adds rootPath and every non-ignored subdirectory to the watcher.
func (b *CommandBuilder) watchTree(watcher *fsnotify.Watcher, rootPath string) error {
	return filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != rootPath && b.ignored(rootPath, path) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("builder %q: failed to watch %s: %w", b.name, path, err)
		}
		return nil
	})
}

// runCommand runs the build command in the project root, relaying combined
// output to the session console.
func (b *CommandBuilder) runCommand(ctx context.Context, rootPath string, console Console) error {
	cmd := exec.CommandContext(ctx, b.buildCmd[0], b.buildCmd[1:]...)
	cmd.Dir = rootPath

	out, err := cmd.CombinedOutput()
	if trimmed := strings.TrimSpace(string(out)); trimmed != "" {
		console("%s", trimmed)
	}
	if err != nil {
		return fmt.Errorf("builder %q: %s failed: %w", b.name, b.buildCmd[0], err)
	}
	return nil
}

var _ Builder = (*CommandBuilder)(nil)
