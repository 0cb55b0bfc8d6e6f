//go:build !linux

package launch

// SetSubreaper is a no-op outside Linux; PR_SET_CHILD_SUBREAPER has no
// equivalent on the other platforms this monitor's config watcher already
// special-cases (see internal/watch/watch_bsd.go).
func SetSubreaper() error { return nil }
