package reconcile

import (
	"github.com/fdbmon/fdbmon/internal/command"
)

// KillAction is a scheduled synchronous kill: SIGTERM the pid, block for its
// exit, then either destroy the Command record (DestroyAfter) or leave it in
// place for the paired Launch that follows it.
type KillAction struct {
	ID           uint64
	DestroyAfter bool
	Reason       string
}

// LaunchAction is a scheduled immediate (zero-delay) launch.
type LaunchAction struct {
	ID      uint64
	Command *command.Command
	Reason  string
}

// Plan is the ordered set of actions one reconciliation pass produces.
// Kills are always executed in full before any Launch, matching the
// monitor's single ordering guarantee for a reconciliation pass.
type Plan struct {
	Kills    []KillAction
	Launches []LaunchAction
}

// Empty reports whether this plan has no kills and no launches. Command
// replacements and policy updates that Reconcile already applied to the
// registry in place are not recorded in the Plan, so an empty Plan does not
// mean the registry is unchanged.
func (p *Plan) Empty() bool {
	return p == nil || (len(p.Kills) == 0 && len(p.Launches) == 0)
}
