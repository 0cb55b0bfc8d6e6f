//go:build linux

package launch

import "golang.org/x/sys/unix"

// SetSubreaper marks the calling process as a child subreaper
// (PR_SET_CHILD_SUBREAPER): a child that double-forks and orphans a
// grandchild reparents that grandchild to the monitor instead of to init,
// so it stays visible to a wait() loop rather than escaping supervision.
func SetSubreaper() error {
	return unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0)
}
