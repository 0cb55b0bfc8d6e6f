//go:build darwin || freebsd || netbsd || openbsd

package watch

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fdbmon/fdbmon/internal/journal"
	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces bursts of directory-change events (as a
// kqueue-backed watch tends to report per-event rather than
// level-triggered) into a single rearm-and-reload.
const debounceWindow = 200 * time.Millisecond

// newStrategy implements the BSD/kqueue side of the contract: a direct
// write or attribute change on the file itself reloads immediately, while a
// change on the containing directory schedules a one-shot debounce timer
// that rearms the file watch and reloads once it fires, coalescing bursts
// from an atomic replace into one reload.
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

	var debounce *time.Timer
	var debounceC <-chan time.Time

	stopDebounce := func() {
		if debounce != nil {
			debounce.Stop()
			debounce = nil
			debounceC = nil
		}
	}
	defer stopDebounce()

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
			if ev.Op&(fsnotify.Write|fsnotify.Chmod) == 0 {
				continue
			}

			if canonical, _, err := resolveChain(w.path); err == nil && filepath.Clean(ev.Name) == canonical {
				// A direct write/attrib change on the watched file reloads
				// immediately; no coalescing needed since it is already one
				// event, not a burst from an atomic directory replace.
				w.reload()
				continue
			}

			// Directory-level change: (re)start the coalescing timer
			// instead of reloading now.
			stopDebounce()
			debounce = time.NewTimer(debounceWindow)
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			debounce = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	canonical, err := w.rearm()
	if err != nil {
		w.j.Write(&journal.WatcherSkipped{Path: w.path, Error: err.Error()})
		return
	}
	w.j.Write(&journal.WatcherRearmed{Path: canonical})
	w.signalChanged()
}
