//go:build !windows

package journal

import (
	"fmt"
	"log/syslog"

	"github.com/pkg/errors"
)

// SyslogWriter journals into the system log under the DAEMON facility,
// identity "fdbmonitor", used whenever the monitor is daemonized.
type SyslogWriter struct {
	w *syslog.Writer
}

var _ Journaler = (*SyslogWriter)(nil)

// NewSyslogWriter dials the local syslog daemon.
func NewSyslogWriter() (*SyslogWriter, error) {
	w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, "fdbmonitor")
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to syslog")
	}
	return &SyslogWriter{w: w}, nil
}

// Write logs ev at a syslog priority derived from its type: child crashes
// and errors go to Err, everything else to Notice/Info.
func (s *SyslogWriter) Write(ev Event) error {
	msg := fmt.Sprintf("%s: %s", ev.Type(), describe(ev))
	switch ev.(type) {
	case *Warning, *ConfigParseError, *ChildSpawnError, *PipeError, *WatcherSkipped:
		return s.w.Err(msg)
	case *ChildExited:
		if ev.(*ChildExited).ExitCode != 0 || ev.(*ChildExited).Signaled {
			return s.w.Err(msg)
		}
		return s.w.Notice(msg)
	default:
		return s.w.Info(msg)
	}
}

// Close releases the syslog connection.
func (s *SyslogWriter) Close() error { return s.w.Close() }
