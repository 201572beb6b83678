package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/chrissnell/prodtimeline/internal/log"
)

// reloadSettle collapses the burst of events editors emit for one save.
const reloadSettle = 100 * time.Millisecond

// Watcher reloads a YAML configuration file whenever it changes and hands
// each successfully parsed version to a callback. A file that fails to parse
// is logged and skipped; the previous configuration stays in effect.
type Watcher struct {
	provider *YAMLProvider
	onChange func(*ConfigData)
	logger   *zap.SugaredLogger
	fsw      *fsnotify.Watcher
}

// NewWatcher watches the file behind p. The directory is watched rather than
// the file so that editors replacing the file by rename are noticed.
func NewWatcher(p *YAMLProvider, onChange func(*ConfigData)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(p.Filename())); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", p.Filename(), err)
	}
	return &Watcher{
		provider: p,
		onChange: onChange,
		logger:   log.Named("config"),
		fsw:      fsw,
	}, nil
}

// Run delivers reloads until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	target := filepath.Clean(w.provider.Filename())
	var settle <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				settle = time.After(reloadSettle)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnw("config watcher error", "error", err)
		case <-settle:
			settle = nil
			cfg, err := w.provider.LoadConfig()
			if err != nil {
				w.logger.Errorw("config reload failed, keeping previous configuration", "file", target, "error", err)
				continue
			}
			w.logger.Infow("configuration reloaded", "file", target, "shifts", len(cfg.Shifts))
			w.onChange(cfg)
		}
	}
}
