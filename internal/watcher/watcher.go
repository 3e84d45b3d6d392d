package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Logger is the subset of charm log used here.
type Logger interface {
	Debug(msg any, keyvals ...any)
	Warn(msg any, keyvals ...any)
}

// Watcher calls OnChange after writes to any target file settle.
type Watcher struct {
	targets   []string
	dirs      []string
	debouncer *Debouncer
	logger    Logger
}

// New watches targets. Parent directories are watched so editors that
// replace files through rename are still observed.
func New(targets []string, debounce *Debouncer, logger Logger) (*Watcher, error) {
	if len(targets) == 0 {
		return nil, errors.New("watcher: no targets")
	}
	if debounce == nil {
		debounce = NewDebouncer(0)
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	w := &Watcher{debouncer: debounce, logger: logger}
	for _, target := range targets {
		abs, err := filepath.Abs(target)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", target, err)
		}
		w.targets = append(w.targets, abs)
		if dir := filepath.Dir(abs); !slices.Contains(w.dirs, dir) {
			w.dirs = append(w.dirs, dir)
		}
	}
	return w, nil
}

// Run blocks until ctx is done, invoking onChange once per settled burst
// of events on a target file.
func (w *Watcher) Run(ctx context.Context, onChange func()) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fsw.Close()
	defer w.debouncer.Cancel()

	watched := 0
	for _, dir := range w.dirs {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			w.logger.Warn("watch dir unavailable", "dir", dir)
			continue
		}
		if err := fsw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		watched++
	}
	if watched == 0 {
		return errors.New("watcher: no target directory exists")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("watch event", "path", event.Name, "op", event.Op.String())
			w.debouncer.Trigger(onChange)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "err", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return false
	}
	return slices.Contains(w.targets, filepath.Clean(event.Name))
}

// Targets returns the absolute paths being watched.
func (w *Watcher) Targets() []string {
	return slices.Clone(w.targets)
}
