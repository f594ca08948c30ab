package server

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDebounce is how long the reloader waits after the last write.
const reloadDebounce = 500 * time.Millisecond

// PolicyReloader swaps in a freshly loaded policy.
type PolicyReloader interface {
	ReloadPolicy() error
}

// Reloader watches the policy file and triggers hot-reload on change.
type Reloader struct {
	watcher *fsnotify.Watcher
	target  PolicyReloader
	paths   []string
	log     zerolog.Logger
}

// NewReloader creates a file watcher for the given paths. Paths that do not
// exist yet are skipped.
func NewReloader(target PolicyReloader, paths []string, log zerolog.Logger) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	var watched []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := watcher.Add(p); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %q: %w", p, err)
		}
		watched = append(watched, p)
	}

	return &Reloader{
		watcher: watcher,
		target:  target,
		paths:   watched,
		log:     log.With().Str("component", "reload").Logger(),
	}, nil
}

// Paths returns the watched files.
func (r *Reloader) Paths() []string { return r.paths }

// Run watches for file changes and reloads policy. Blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() {
					if err := r.target.ReloadPolicy(); err != nil {
						r.log.Error().Err(err).Str("file", event.Name).Msg("hot-reload failed")
						return
					}
					r.log.Info().Str("file", event.Name).Msg("hot-reload: policy reloaded")
				})
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn().Err(err).Msg("file watcher error")
		}
	}
}
