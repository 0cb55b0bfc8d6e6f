// Package reconcile implements the config reconciliation algorithm: given a
// freshly parsed configuration and the live registry, it diffs the two and
// produces an ordered plan of kills followed by launches. Computing the
// plan also applies every non-destructive mutation directly to the
// registry (Command replacement, policy updates) since those are plain data
// changes; only the OS-visible, order-sensitive operations (signal a pid
// and block for its exit, start a new child) are left for the caller to
// execute.
package reconcile

import (
	"strconv"
	"strings"

	"github.com/fdbmon/fdbmon/internal/command"
	"github.com/fdbmon/fdbmon/internal/config"
	"github.com/fdbmon/fdbmon/internal/launch"
	"github.com/fdbmon/fdbmon/internal/registry"
	"github.com/pkg/errors"
)

// Reconciler ties the pieces needed to plan a reload together.
type Reconciler struct {
	Resolver Resolver
}

// New returns a Reconciler using the standard os/user-backed Resolver.
func New() *Reconciler {
	return &Reconciler{Resolver: OSResolver{}}
}

// Reconcile loads confPath, diffs it against reg, and returns the resulting
// Plan plus the (possibly unchanged) credentials children should now run
// as. On parse or uid/gid-resolution failure it returns an error and an
// untouched Plan/credentials; the caller must keep using prevCreds and the
// registry exactly as they were.
func (r *Reconciler) Reconcile(confPath string, reg *registry.Registry, prevCreds launch.Credentials) (*Plan, launch.Credentials, error) {
	store, err := config.Load(confPath)
	if err != nil {
		return nil, prevCreds, errors.Wrap(err, "failed to load configuration")
	}

	creds, err := r.Resolver.Resolve(store)
	if err != nil {
		return nil, prevCreds, errors.Wrap(err, "failed to resolve fdbmonitor user/group")
	}

	plan := &Plan{}
	destroyed := make(map[uint64]bool)

	if creds != prevCreds {
		for _, id := range reg.LiveIDs() {
			cmd := reg.Command(id)
			if cmd == nil || !cmd.KillOnConfigurationChange {
				continue
			}
			plan.Kills = append(plan.Kills, KillAction{ID: id, DestroyAfter: true, Reason: "uid_gid_change"})
			destroyed[id] = true
		}
	}

	for _, id := range reg.LiveIDs() {
		if destroyed[id] {
			continue
		}
		cur := reg.Command(id)
		if cur == nil {
			continue
		}

		if !store.HasSection(cur.QualifiedSection) {
			cur.Deconfigured = true
			if cur.KillOnConfigurationChange {
				plan.Kills = append(plan.Kills, KillAction{ID: id, DestroyAfter: true, Reason: "deconfigured"})
			}
			continue
		}

		fresh, _ := command.New(store, cur.Section, id)
		if fresh == nil {
			continue
		}

		killJustTurnedOn := fresh.KillOnConfigurationChange && !cur.KillOnConfigurationChange
		if !command.ArgvEqual(cur, fresh) || killJustTurnedOn {
			reg.Put(id, fresh)
			if fresh.KillOnConfigurationChange {
				plan.Kills = append(plan.Kills, KillAction{ID: id, DestroyAfter: false, Reason: "reload"})
				plan.Launches = append(plan.Launches, LaunchAction{ID: id, Command: fresh, Reason: "reload"})
			}
			// kill_on_configuration_change is false: the new Command is
			// stored, but the running child is left alone; its new argv
			// takes effect the next time it exits naturally.
			continue
		}

		cur.Update(fresh)
	}

	for _, name := range store.GetAllSections() {
		section, id, ok := parseInstanceSection(name)
		if !ok {
			continue
		}
		if reg.Command(id) != nil {
			continue
		}

		fresh, _ := command.New(store, section, id)
		if fresh == nil {
			continue
		}
		reg.Put(id, fresh)
		plan.Launches = append(plan.Launches, LaunchAction{ID: id, Command: fresh, Reason: "initial"})
	}

	return plan, creds, nil
}

// parseInstanceSection splits a section name of the form "NAME.ID" into its
// program class and id, accepting only a positive decimal ID as an instance
// declaration; any other section (general, fdbmonitor, program-class
// defaults sections with no dotted suffix, or a malformed suffix) is not an
// instance.
func parseInstanceSection(name string) (section string, id uint64, ok bool) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 || i == len(name)-1 {
		return "", 0, false
	}
	idPart := name[i+1:]
	n, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil || n == 0 {
		return "", 0, false
	}
	return name[:i], n, true
}
