// Package lockfile implements the single-instance guard: an exclusively
// locked pidfile that prevents two monitors from supervising the same fleet
// at once. The advisory lock itself is taken with github.com/gofrs/flock.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// ErrLockedElsewhere is returned when the lockfile is already held by
// another process. This is not a startup failure: callers should exit 0
// with an informational message.
var ErrLockedElsewhere = errors.New("lockfile already held by another process")

// Lock is a held exclusive lock on the monitor's pidfile.
type Lock struct {
	path string
	file *os.File
	fl   *flock.Flock
}

// Acquire opens path O_RDWR|O_CREATE mode 0640, takes an exclusive
// non-blocking lock, and writes the calling process's pid followed by a
// newline. It creates the parent directory if absent.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, errors.Wrap(err, "failed to create lockfile directory")
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "failed to acquire lockfile")
	}
	if !locked {
		return nil, ErrLockedElsewhere
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		fl.Unlock()
		return nil, errors.Wrap(err, "failed to open lockfile")
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		fl.Unlock()
		return nil, errors.Wrap(err, "failed to truncate lockfile")
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()
		fl.Unlock()
		return nil, errors.Wrap(err, "failed to write pid to lockfile")
	}

	return &Lock{path: path, file: f, fl: fl}, nil
}

// Release unlocks and unlinks the lockfile, the way a clean shutdown always
// does.
func (l *Lock) Release() error {
	l.file.Close()
	if err := l.fl.Unlock(); err != nil {
		return errors.Wrap(err, "failed to release lockfile")
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to unlink lockfile")
	}
	return nil
}
