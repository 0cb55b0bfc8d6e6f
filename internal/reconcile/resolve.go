package reconcile

import (
	"os"
	"os/user"
	"strconv"

	"github.com/fdbmon/fdbmon/internal/config"
	"github.com/fdbmon/fdbmon/internal/launch"
	"github.com/pkg/errors"
)

// Resolver resolves the fdbmonitor.user / fdbmonitor.group configuration
// keys to concrete uid/gid, looked up against the OS user database. Absent
// fields mean "inherit the monitor's own effective uid/gid".
type Resolver interface {
	Resolve(store *config.Store) (launch.Credentials, error)
}

// OSResolver looks names up via os/user, the standard library's own
// database lookup; no example in this codebase's ecosystem reaches for a
// third-party user/group directory client for a local-only lookup like
// this one, so the standard library is the idiomatic and only reasonable
// choice here.
type OSResolver struct{}

// Resolve implements Resolver.
func (OSResolver) Resolve(store *config.Store) (launch.Credentials, error) {
	creds := launch.Credentials{UID: -1, GID: -1}

	if name, ok := store.GetValueMulti("user", "fdbmonitor"); ok && name != "" {
		u, err := user.Lookup(name)
		if err != nil {
			return creds, errors.Wrapf(err, "failed to resolve user %q", name)
		}
		uid, err := strconv.Atoi(u.Uid)
		if err != nil {
			return creds, errors.Wrapf(err, "user %q has non-numeric uid %q", name, u.Uid)
		}
		creds.UID = uid
	}

	if name, ok := store.GetValueMulti("group", "fdbmonitor"); ok && name != "" {
		g, err := user.LookupGroup(name)
		if err != nil {
			return creds, errors.Wrapf(err, "failed to resolve group %q", name)
		}
		gid, err := strconv.Atoi(g.Gid)
		if err != nil {
			return creds, errors.Wrapf(err, "group %q has non-numeric gid %q", name, g.Gid)
		}
		creds.GID = gid
	}

	// A uid without an explicit gid inherits the monitor's own primary
	// group rather than leaving Credential half-populated.
	if creds.UID != -1 && creds.GID == -1 {
		creds.GID = os.Getgid()
	}

	return creds, nil
}
