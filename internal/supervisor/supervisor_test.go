package supervisor

import (
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/fdbmon/fdbmon/internal/backoff"
	"github.com/fdbmon/fdbmon/internal/command"
	"github.com/fdbmon/fdbmon/internal/journal"
	"github.com/fdbmon/fdbmon/internal/launch"
	"github.com/fdbmon/fdbmon/internal/reconcile"
)

type collectingJournaler struct {
	mu     sync.Mutex
	events []journal.Event
}

func (c *collectingJournaler) Write(ev journal.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *collectingJournaler) has(typ string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range c.events {
		if ev.Type() == typ {
			return true
		}
	}
	return false
}

func newTestSupervisor() (*Supervisor, *collectingJournaler) {
	j := &collectingJournaler{}
	s := New(Config{ConfPath: "/dev/null", Journal: j})
	return s, j
}

func sleeperCommand(id uint64) *command.Command {
	return &command.Command{
		ID:               id,
		QualifiedSection: "sleeper",
		Argv:             []string{"/bin/sleep", "100"},
		Backoff:          backoff.NewState(time.Second, 10*time.Second, 2.0, 60*time.Second),
	}
}

func waitExit(t *testing.T, l *launch.Launcher, timeout time.Duration) launch.Exit {
	t.Helper()
	select {
	case ex := <-l.Exits:
		return ex
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a child exit")
		return launch.Exit{}
	}
}

func TestKillSyncTerminatesAndReapsChild(t *testing.T) {
	s, j := newTestSupervisor()
	cmd := sleeperCommand(1)
	s.reg.Put(1, cmd)

	pid, err := s.launcher.Launch(cmd, s.creds)
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	s.reg.SetPID(1, pid)

	done := make(chan struct{})
	go func() {
		s.killSync(1, "test")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("killSync did not return after terminating the child")
	}

	if s.reg.IsLive(1) {
		t.Error("expected id 1 to no longer be live after killSync")
	}
	if !j.has("child killed") {
		t.Error("expected a child-killed journal record")
	}
}

func TestKillSyncReDispatchesUnrelatedExits(t *testing.T) {
	s, _ := newTestSupervisor()

	target := sleeperCommand(1)
	other := sleeperCommand(2)
	other.Argv = []string{"/bin/sh", "-c", "exit 0"}
	s.reg.Put(1, target)
	s.reg.Put(2, other)

	pid1, err := s.launcher.Launch(target, s.creds)
	if err != nil {
		t.Fatalf("Launch(1) failed: %v", err)
	}
	s.reg.SetPID(1, pid1)

	pid2, err := s.launcher.Launch(other, s.creds)
	if err != nil {
		t.Fatalf("Launch(2) failed: %v", err)
	}
	s.reg.SetPID(2, pid2)

	// Give the unrelated, already-exiting process a head start so its Exit
	// is likely to race onto the shared channel while killSync(1) waits.
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.killSync(1, "test")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("killSync did not return")
	}

	if s.reg.IsLive(1) {
		t.Error("expected id 1 to no longer be live")
	}
	// The unrelated exit must have been re-dispatched through handleExit
	// rather than dropped: id 2 had no Command.Deconfigured set, so
	// handleExit schedules a restart and clears its pid.
	if s.reg.IsLive(2) {
		t.Error("expected id 2's unrelated exit to have been processed (pid cleared) via re-dispatch")
	}

	// Drain the restart this scheduled so it doesn't leak into another test.
	select {
	case id := <-s.restartCh:
		if id != 2 {
			t.Errorf("restartCh delivered id %d, want 2", id)
		}
	case <-time.After(4 * time.Second):
		t.Fatal("expected the re-dispatched exit to schedule a restart for id 2")
	}
}

func TestHandleExitSchedulesRestart(t *testing.T) {
	s, _ := newTestSupervisor()
	cmd := &command.Command{
		ID:               3,
		QualifiedSection: "job.3",
		Argv:             []string{"/bin/sh", "-c", "exit 0"},
		Backoff:          backoff.NewState(time.Second, 10*time.Second, 2.0, 60*time.Second),
	}
	s.reg.Put(3, cmd)

	pid, err := s.launcher.Launch(cmd, s.creds)
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	s.reg.SetPID(3, pid)

	ex := waitExit(t, s.launcher, 5*time.Second)
	s.handleExit(ex)

	if s.reg.IsLive(3) {
		t.Error("expected handleExit to clear the pid")
	}
	if cmd.Backoff.Current <= 0 {
		t.Error("expected handleExit to advance the backoff state")
	}

	select {
	case id := <-s.restartCh:
		if id != 3 {
			t.Errorf("restartCh delivered id %d, want 3", id)
		}
	case <-time.After(4 * time.Second):
		t.Fatal("expected handleExit to schedule a restart via restartCh")
	}
}

func TestHandleExitRemovesDeconfiguredCommand(t *testing.T) {
	s, j := newTestSupervisor()
	cmd := &command.Command{
		ID:               4,
		QualifiedSection: "job.4",
		Argv:             []string{"/bin/sh", "-c", "exit 0"},
		Backoff:          backoff.NewState(time.Second, time.Second, 2.0, 60*time.Second),
		Deconfigured:     true,
	}
	s.reg.Put(4, cmd)

	pid, err := s.launcher.Launch(cmd, s.creds)
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	s.reg.SetPID(4, pid)

	ex := waitExit(t, s.launcher, 5*time.Second)
	s.handleExit(ex)

	if s.reg.Command(4) != nil {
		t.Error("expected a deconfigured Command to be removed from the registry on exit")
	}
	if !j.has("child exited") {
		t.Error("expected a child-exited journal record even for a deconfigured command")
	}
}

func TestApplyPlanRunsKillsBeforeLaunches(t *testing.T) {
	s, _ := newTestSupervisor()

	oldCmd := sleeperCommand(5)
	s.reg.Put(5, oldCmd)
	oldPid, err := s.launcher.Launch(oldCmd, s.creds)
	if err != nil {
		t.Fatalf("Launch(old) failed: %v", err)
	}
	s.reg.SetPID(5, oldPid)

	// Reconcile always rewrites the registry's Command before a paired
	// reload kill+launch executes; applyPlan itself relies on that.
	newCmd := sleeperCommand(5)
	s.reg.Put(5, newCmd)

	plan := &reconcile.Plan{
		Kills:    []reconcile.KillAction{{ID: 5, DestroyAfter: false, Reason: "reload"}},
		Launches: []reconcile.LaunchAction{{ID: 5, Reason: "reload"}},
	}
	s.applyPlan(plan)

	newPid, live := s.reg.PID(5)
	if !live {
		t.Fatal("expected id 5 to be live again after its paired reload kill+launch")
	}
	if newPid == oldPid {
		t.Error("expected a freshly launched process with a different pid")
	}

	// Clean up the freshly launched sleeper.
	syscall.Kill(newPid, syscall.SIGKILL)
	waitExit(t, s.launcher, 5*time.Second)
}

func TestApplyPlanDestroyAfterRemovesCommand(t *testing.T) {
	s, _ := newTestSupervisor()
	cmd := sleeperCommand(6)
	s.reg.Put(6, cmd)
	pid, err := s.launcher.Launch(cmd, s.creds)
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	s.reg.SetPID(6, pid)

	plan := &reconcile.Plan{
		Kills: []reconcile.KillAction{{ID: 6, DestroyAfter: true, Reason: "deconfigured"}},
	}
	s.applyPlan(plan)

	if s.reg.Command(6) != nil {
		t.Error("expected DestroyAfter to remove the Command from the registry")
	}
}

func TestDoLaunchSkipsDegradedCommand(t *testing.T) {
	s, j := newTestSupervisor()
	cmd := &command.Command{ID: 7, QualifiedSection: "broken.7", Argv: nil}
	s.reg.Put(7, cmd)

	s.doLaunch(7, "crash")

	if s.reg.IsLive(7) {
		t.Error("expected a degraded command to never be launched")
	}
	if !j.has("warning") {
		t.Error("expected a warning journal record for the degraded launch attempt")
	}
}

func TestDoLaunchSkipsUnregisteredID(t *testing.T) {
	s, _ := newTestSupervisor()
	s.doLaunch(999, "crash")
	if s.reg.IsLive(999) {
		t.Error("expected doLaunch on an unregistered id to be a no-op")
	}
}
