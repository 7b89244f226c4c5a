package engine

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/azkit/azkit/pkg/telemetry"
)

// Watcher re-validates operation definitions whenever the operations
// directory changes. It never executes anything; it only reports whether
// edited definitions still parse and validate.
type Watcher struct {
	dir    string
	loader *Loader
	logger *telemetry.Logger
	fsw    *fsnotify.Watcher
}

// NewWatcher creates a watcher over a definitions directory.
func NewWatcher(dir string, logger *telemetry.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return &Watcher{
		dir:    dir,
		loader: NewLoader(),
		logger: logger.NewComponentLogger("watcher"),
		fsw:    fsw,
	}, nil
}

// Run blocks, re-validating changed definitions until the context is
// cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()

	w.logger.Infof("watching %s for definition changes", w.dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			ext := strings.ToLower(filepath.Ext(event.Name))
			if ext != ".yaml" && ext != ".yml" {
				continue
			}

			if def, err := w.loader.Load(event.Name); err != nil {
				w.logger.WithError(err).Errorf("%s is invalid", filepath.Base(event.Name))
			} else {
				w.logger.Infof("%s ok (%s/%s, %d steps)",
					filepath.Base(event.Name), def.Capability, def.Name, len(def.Steps))
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("watch error")
		}
	}
}
