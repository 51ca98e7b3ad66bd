// Package capture holds the agent's event producers: a recursive file watcher
// per configured root and an adapter around the external network probe.
//
// Sources run until their context ends and emit raw observations on a shared
// channel. They never wait on delivery.
package capture

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ids/internal/event"
)

// Observation is a raw capture before normalization.
type Observation struct {
	Source  string
	At      time.Time
	Details event.Details
}

type Source interface {
	Name() string
	// Run emits observations on out until ctx ends or the source is exhausted.
	Run(ctx context.Context, out chan<- Observation) error
}

// emit sends obs unless ctx ends first.
func emit(ctx context.Context, out chan<- Observation, obs Observation) bool {
	select {
	case out <- obs:
		return true
	case <-ctx.Done():
		return false
	}
}

// Roots is a set of canonical directories. A path is contained when its own
// canonical form lies under one of them, compared component by component.
type Roots struct {
	dirs []string
}

// NewRoots resolves every path. Roots that do not exist are logged and left
// out.
func NewRoots(paths []string, log *slog.Logger) Roots {
	if log == nil {
		log = slog.Default()
	}
	var r Roots
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			log.Warn("skipping watch root", "path", p, "error", err)
			continue
		}
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				log.Warn("watch root does not exist", "path", p)
			} else {
				log.Warn("skipping watch root", "path", p, "error", err)
			}
			continue
		}
		r.dirs = append(r.dirs, resolved)
	}
	return r
}

func (r Roots) Dirs() []string { return append([]string(nil), r.dirs...) }

func (r Roots) Empty() bool { return len(r.dirs) == 0 }

func (r Roots) Contains(path string) bool {
	canon := Canonical(path)
	for _, dir := range r.dirs {
		if within(dir, canon) {
			return true
		}
	}
	return false
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Canonical returns the absolute, symlink-free form of path. A path that no
// longer exists is resolved through its parent directory.
func Canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	parent, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return abs
	}
	return filepath.Join(parent, filepath.Base(abs))
}

func isDir(path string) bool {
	fi, err := os.Lstat(path)
	return err == nil && fi.IsDir()
}
