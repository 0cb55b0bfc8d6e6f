package journal

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// HumanWriter formats one line per event for a terminal or any other
// unstructured sink, timestamped the way the monitor stamps every
// non-daemonized log line: "TZ YYYY-MM-DD HH:MM:SS.uuuuuu (epoch.uuuuuu): ".
type HumanWriter struct {
	mu   sync.Mutex
	name string
	w    io.Writer
}

var _ Journaler = (*HumanWriter)(nil)

// NewHumanWriter creates a human-readable journaler. name is cosmetic,
// included for parity with setups that fan the same event out to several
// human sinks and want to tell them apart in diagnostics.
func NewHumanWriter(name string, w io.Writer) *HumanWriter {
	return &HumanWriter{name: name, w: w}
}

func (h *HumanWriter) Write(ev Event) error {
	now := time.Now()
	prefix := fmt.Sprintf("%s (%d.%06d): ",
		now.Format("MST 2006-01-02 15:04:05.000000"),
		now.Unix(), now.Nanosecond()/1000)
	line := fmt.Sprintf("%s%s: %s\n", prefix, ev.Type(), describe(ev))

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line)
	return err
}

// describe renders a terse human summary of known event types; unknown
// types render as an empty string, a case that is unreachable since
// NewEvent is exhaustive over journal's own types.
func describe(ev Event) string {
	switch e := ev.(type) {
	case *Warning:
		return fmt.Sprintf("%s: %s", e.Component, e.Error)
	case *LockAcquired:
		return fmt.Sprintf("%s pid=%d", e.Path, e.PID)
	case *ConfigReloaded:
		return fmt.Sprintf("kills=%d launches=%d", e.Kills, e.Launches)
	case *ConfigParseError:
		return fmt.Sprintf("%s: %s", e.Path, e.Error)
	case *ChildSpawned:
		return fmt.Sprintf("%s pid=%d", e.Section, e.PID)
	case *ChildSpawnError:
		return fmt.Sprintf("%s: %s", e.Section, e.Error)
	case *ChildExited:
		return fmt.Sprintf("%s pid=%d code=%d signaled=%v", e.Section, e.PID, e.ExitCode, e.Signaled)
	case *ChildKilled:
		return fmt.Sprintf("%s pid=%d reason=%s", e.Section, e.PID, e.Reason)
	case *PipeError:
		return fmt.Sprintf("%s/%s: %s", e.Section, e.Stream, e.Error)
	case *WatcherRearmed:
		return e.Path
	case *WatcherSkipped:
		return fmt.Sprintf("%s: %s", e.Path, e.Error)
	case *Shutdown:
		return e.Signal
	default:
		return ""
	}
}
