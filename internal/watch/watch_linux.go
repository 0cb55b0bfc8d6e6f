//go:build linux

package watch

import (
	"context"
	"path/filepath"

	"github.com/fdbmon/fdbmon/internal/journal"
	"github.com/fsnotify/fsnotify"
)

// newStrategy implements the Linux side of the contract: any write to the
// canonical file, a create/rename of the canonical file's name in its parent
// directory (atomic replace), or a create/rename of a symlink's own basename in its
// containing directory re-resolves the path, tears down every watch, rearms
// against the new canonical path, and reloads immediately — there is no
// coalescing window on this backend.
func newStrategy(ctx context.Context, path string, j journal.Journaler) (*Watcher, error) {
	w, err := newCommon(path, j)
	if err != nil {
		return nil, err
	}

	canonical, err := w.rearm()
	if err != nil {
		j.Write(&journal.WatcherSkipped{Path: path, Error: err.Error()})
	} else {
		j.Write(&journal.WatcherRearmed{Path: canonical})
	}

	go w.run(ctx)
	return w, nil
}

func (w *Watcher) run(ctx context.Context) {
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.j.Write(&journal.Warning{Component: "watcher", Error: err.Error()})

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}

			canonical, err := w.rearm()
			if err != nil {
				w.j.Write(&journal.WatcherSkipped{Path: w.path, Error: err.Error()})
				continue
			}
			w.j.Write(&journal.WatcherRearmed{Path: canonical})
			w.signalChanged()
		}
	}
}

// relevant filters the event stream down to the operations the design
// assigns meaning to: a write to a watched file, or a create/rename whose
// basename matches either the canonical file's own name or one of its
// symlink chain's basenames (an atomic replace or a symlink retarget).
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op&fsnotify.Write != 0 {
		return true
	}
	if ev.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}

	base := filepath.Base(ev.Name)
	if base == filepath.Base(w.path) {
		return true
	}
	canonical, links, err := resolveChain(w.path)
	if err != nil {
		return false
	}
	if base == filepath.Base(canonical) {
		return true
	}
	for _, link := range links {
		if base == filepath.Base(link) {
			return true
		}
	}
	return false
}
