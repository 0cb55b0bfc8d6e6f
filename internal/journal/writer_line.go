package journal

import (
	"bytes"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// LineWriter journals line-delimited JSON events into an io.Writer. It is
// the on-disk audit trail format: one envelope object per line, so a
// truncated last line from a crash mid-write is detectable and skippable by
// a reader.
type LineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

var _ Journaler = (*LineWriter)(nil)

// NewLineWriter wraps w as a line-delimited JSON journaler.
func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{w: w}
}

// Write marshals ev into a single JSON line and writes it atomically with
// respect to other Write calls on this LineWriter.
func (l *LineWriter) Write(ev Event) error {
	buf := bytes.Buffer{}
	buf.Grow(512)

	env := envelope{Time: time.Now(), Type: ev.Type(), Data: ev}
	if err := json.NewEncoder(&buf).Encode(env); err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.w.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "failed to write event")
	}
	return nil
}
