// SPDX-License-Identifier: MIT

package machines

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/backhaul/backhaul/internal/log"
)

// Watcher invalidates the store's cached document when machines.yaml changes
// on disk, so hand edits are picked up without a restart. It watches the
// parent directory because atomic replaces swap the file's inode.
type Watcher struct {
	store   *Store
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchStore starts watching the store's backing file until ctx is cancelled.
func WatchStore(ctx context.Context, store *Store) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create machines watcher: %w", err)
	}

	abs, err := filepath.Abs(store.Path())
	if err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("resolve machines path: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch machines directory: %w", err)
	}

	w := &Watcher{
		store:   store,
		path:    abs,
		watcher: fsw,
		done:    make(chan struct{}),
	}
	go w.run(ctx)
	return w, nil
}

// Done is closed once the watcher goroutine has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	defer func() {
		if err := w.watcher.Close(); err != nil {
			logger := log.WithComponent("machines")
			logger.Debug().Err(err).Msg("close machines watcher")
		}
	}()

	logger := log.WithComponent("machines")
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			logger.Debug().
				Str(log.FieldPath, event.Name).
				Str("op", event.Op.String()).
				Str(log.FieldEvent, "machines.file_changed").
				Msg("machines file changed on disk, invalidating cache")
			w.store.Invalidate()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("machines watcher error")
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Name != w.path {
		return false
	}
	return event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename)
}
