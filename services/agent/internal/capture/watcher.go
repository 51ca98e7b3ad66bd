package capture

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"ids/internal/event"
)

// FileWatcher reports changes to regular files under one root, recursively.
type FileWatcher struct {
	root  string
	roots Roots
	log   *slog.Logger
	now   func() time.Time

	watched map[string]struct{}
}

func NewFileWatcher(root string, log *slog.Logger) *FileWatcher {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("source", "file", "root", root)
	return &FileWatcher{
		root:    root,
		roots:   NewRoots([]string{root}, log),
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		watched: map[string]struct{}{},
	}
}

func (w *FileWatcher) Name() string { return "file:" + w.root }

func (w *FileWatcher) Run(ctx context.Context, out chan<- Observation) error {
	if w.roots.Empty() {
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start file watcher: %w", err)
	}
	defer fw.Close()

	for _, dir := range w.roots.Dirs() {
		if err := w.addTree(fw, dir); err != nil {
			return err
		}
	}
	w.log.Info("file watcher started", "directories", len(w.watched))

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("file watcher error", "error", err)
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			obs, keep := w.handle(fw, ev)
			if keep && !emit(ctx, out, obs) {
				return nil
			}
		}
	}
}

// handle updates the watch set and turns ev into an observation when it
// concerns a non-directory inside the root.
func (w *FileWatcher) handle(fw *fsnotify.Watcher, ev fsnotify.Event) (Observation, bool) {
	path := ev.Name
	if _, wasDir := w.watched[path]; wasDir && (ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)) {
		delete(w.watched, path)
		_ = fw.Remove(path)
		return Observation{}, false
	}
	if isDir(path) {
		if ev.Has(fsnotify.Create) {
			if err := w.addTree(fw, path); err != nil {
				w.log.Warn("watch new directory", "path", path, "error", err)
			}
		}
		return Observation{}, false
	}
	if !w.roots.Contains(path) {
		w.log.Debug("ignoring path outside watch root", "path", path)
		return Observation{}, false
	}
	action, ok := actionFor(ev.Op)
	if !ok {
		return Observation{}, false
	}
	return Observation{
		Source: w.Name(),
		At:     w.now(),
		Details: event.FileDetails{
			Path:    path,
			Action:  action,
			Process: event.UnknownProcess,
		},
	}, true
}

func (w *FileWatcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// A directory removed while walking is not fatal.
			w.log.Debug("walk watch tree", "path", p, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if _, ok := w.watched[p]; ok {
			return nil
		}
		if err := fw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		w.watched[p] = struct{}{}
		return nil
	})
}

func actionFor(op fsnotify.Op) (string, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return event.ActionCreated, true
	case op.Has(fsnotify.Remove):
		return event.ActionDeleted, true
	case op.Has(fsnotify.Rename):
		return event.ActionMoved, true
	case op.Has(fsnotify.Write):
		return event.ActionModified, true
	case op.Has(fsnotify.Chmod):
		return event.ActionAttrib, true
	}
	return "", false
}
