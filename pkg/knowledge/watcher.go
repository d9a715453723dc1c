package knowledge

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch starts watching the store's document file and reloads the store
// when the file changes on disk. Reload events are debounced so repeated
// writes within a short window trigger a single reload. The watcher stops
// when ctx is cancelled. onReload, when non-nil, runs after every
// successful reload.
func (s *Store) Watch(ctx context.Context, onReload func()) error {
	if s.path == "" {
		return NewStateError("store has no configured document path", nil)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the parent directory: atomic saves replace the file by rename,
	// which drops a watch registered on the file itself.
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch document directory: %w", err)
	}

	go s.processWatchEvents(ctx, watcher, onReload)

	s.logger.Info().Str("path", s.path).Msg("Started watching store document")
	return nil
}

func (s *Store) processWatchEvents(ctx context.Context, watcher *fsnotify.Watcher, onReload func()) {
	var reloadTimer *time.Timer
	reloadDelay := 500 * time.Millisecond

	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			s.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Store document changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := s.loadFromPath(s.path); err != nil {
					s.logger.Error().Err(err).Msg("Failed to reload store document")
					return
				}
				s.logger.Info().Msg("Store document reloaded")
				if onReload != nil {
					onReload()
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}
