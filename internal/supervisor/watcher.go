package supervisor

import (
	"context"
	"path/filepath"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/benaskins/lectern/internal/config"
)

// settle is how long the config file must stay quiet before a reload.
const settle = 500 * time.Millisecond

// WatchConfig applies the config file at path through Reconfigure each time
// it changes. A file that fails to load is logged and the current settings
// stay. It returns when ctx is done.
func (s *Supervisor) WatchConfig(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// the parent directory, since editors save by renaming over the file
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}
	s.logger.Info("watching config", "path", path)

	quiet := time.NewTimer(settle)
	quiet.Stop()
	defer quiet.Stop()

	want := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) == want && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				quiet.Reset(settle)
			}
		case <-quiet.C:
			s.applyFile(ctx, path)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("config watch error", "error", err)
		}
	}
}

func (s *Supervisor) applyFile(ctx context.Context, path string) {
	cfg, err := config.Load(path)
	if err != nil {
		s.logger.Error("ignoring config change", "path", path, "error", err)
		return
	}
	restarted, err := s.Reconfigure(ctx, cfg)
	switch {
	case err != nil:
		s.logger.Error("backend restart after config change failed", "error", err)
	case restarted:
		s.logger.Info("backend restarted for new config")
	default:
		s.logger.Debug("config change did not touch the backend")
	}
}

// backendChanged reports whether going from old to new needs a fresh
// backend process: anything under backend, or how health is checked.
func backendChanged(old, new *config.Config) bool {
	if old == nil || new == nil {
		return old != new
	}
	if !reflect.DeepEqual(old.Backend, new.Backend) {
		return true
	}
	return old.Timing.HealthInterval != new.Timing.HealthInterval ||
		old.Timing.HealthTimeout != new.Timing.HealthTimeout
}
