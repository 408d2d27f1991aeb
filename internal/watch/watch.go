// Package watch re-runs generation when the sources of a module change.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/iVampireSP/weave/internal/config"
	"github.com/iVampireSP/weave/internal/source"
)

// DefaultDebounce is how long the watcher waits for saves to settle.
const DefaultDebounce = 300 * time.Millisecond

// Watcher watches the directories of a module.
type Watcher struct {
	Root     string
	Exclude  []string
	Debounce time.Duration

	log *zap.Logger
}

// New creates a Watcher for the module at root.
func New(root string, exclude []string, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{Root: root, Exclude: exclude, Debounce: DefaultDebounce, log: log.Named("watch")}
}

// Relevant reports whether a change to path can affect generation. Files
// weave writes itself never are.
func Relevant(path string) bool {
	name := filepath.Base(path)
	switch {
	case name == "go.mod" || name == config.FileName:
		return true
	case !strings.HasSuffix(name, ".go"):
		return false
	case strings.HasSuffix(name, "_test.go") || strings.HasSuffix(name, source.GeneratedSuffix):
		return false
	}
	return true
}

// Run calls fn after every settled batch of relevant changes until ctx is
// done. Errors from fn are logged; the watcher keeps going.
func (w *Watcher) Run(ctx context.Context, fn func(context.Context) error) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := w.addAll(fw); err != nil {
		return err
	}

	timer := time.NewTimer(w.Debounce)
	timer.Stop()
	defer timer.Stop()

	var pending []string
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					if err := w.addAll(fw); err != nil {
						w.log.Warn("watch new directory", zap.String("path", event.Name), zap.Error(err))
					}
					continue
				}
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) || !Relevant(event.Name) {
				continue
			}
			pending = append(pending, event.Name)
			timer.Reset(w.Debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", zap.Error(err))

		case <-timer.C:
			w.log.Info("sources changed", zap.Strings("paths", pending))
			pending = pending[:0]
			if err := fn(ctx); err != nil {
				w.log.Error("generation failed", zap.Error(err))
			}
		}
	}
}

// addAll watches every directory of the module. Adding a watched
// directory again is a no-op.
func (w *Watcher) addAll(fw *fsnotify.Watcher) error {
	dirs, err := source.Dirs(w.Root, w.Exclude)
	if err != nil {
		return err
	}
	for _, d := range dirs {
		if err := fw.Add(d); err != nil {
			return err
		}
	}
	w.log.Debug("watching", zap.Int("dirs", len(dirs)))
	return nil
}
