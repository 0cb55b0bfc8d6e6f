// Package registry owns the three bidirectional mappings that track every
// supervised instance: instance-id to Command, instance-id to live pid, and
// the reverse pid to id lookup. It is a single logical relation, always
// mutated from the event-loop goroutine, so it carries no locking of its
// own (see the concurrency model in the top-level design notes).
package registry

import "github.com/fdbmon/fdbmon/internal/command"

// Registry is the live fleet: every declared instance plus the pid of its
// running child, if any.
type Registry struct {
	commands map[uint64]*command.Command
	pids     map[uint64]int
	byPID    map[int]uint64
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		commands: make(map[uint64]*command.Command),
		pids:     make(map[uint64]int),
		byPID:    make(map[int]uint64),
	}
}

// Put inserts or replaces the Command for id. Replacing a Command whose id
// has a live pid is the caller's responsibility to have already justified
// (kill_on_configuration_change transitions, argv changes); Put itself does
// not check liveness.
func (r *Registry) Put(id uint64, cmd *command.Command) {
	r.commands[id] = cmd
}

// Command returns the Command for id, or nil if id is not registered.
func (r *Registry) Command(id uint64) *command.Command {
	return r.commands[id]
}

// Remove destroys the Command record for id. The caller must ensure id has
// no live pid first (RemovePID), matching the registry invariant that a
// Command is only destroyed once its id has no live pid.
func (r *Registry) Remove(id uint64) {
	delete(r.commands, id)
}

// SetPID records that id's child is now running as pid.
func (r *Registry) SetPID(id uint64, pid int) {
	r.pids[id] = pid
	r.byPID[pid] = id
}

// ClearPID removes id's live-pid entry, if any, and returns the pid that was
// cleared (0 if none).
func (r *Registry) ClearPID(id uint64) int {
	pid, ok := r.pids[id]
	if !ok {
		return 0
	}
	delete(r.pids, id)
	delete(r.byPID, pid)
	return pid
}

// PID returns the live pid for id, and false if id has no live child.
func (r *Registry) PID(id uint64) (int, bool) {
	pid, ok := r.pids[id]
	return pid, ok
}

// IDByPID reverse-looks-up the instance id owning pid.
func (r *Registry) IDByPID(pid int) (uint64, bool) {
	id, ok := r.byPID[pid]
	return id, ok
}

// IsLive reports whether id currently has a live pid.
func (r *Registry) IsLive(id uint64) bool {
	_, ok := r.pids[id]
	return ok
}

// IDs returns every instance id with a Command record, live or not.
func (r *Registry) IDs() []uint64 {
	ids := make([]uint64, 0, len(r.commands))
	for id := range r.commands {
		ids = append(ids, id)
	}
	return ids
}

// LiveIDs returns every instance id with a live pid.
func (r *Registry) LiveIDs() []uint64 {
	ids := make([]uint64, 0, len(r.pids))
	for id := range r.pids {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of Command records currently held.
func (r *Registry) Len() int { return len(r.commands) }
