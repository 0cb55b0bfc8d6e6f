// Package supervisor implements the event loop: the single thread that owns
// every piece of mutable state (registry, backoff timers, watcher handles)
// and multiplexes signal delivery, child-pipe output, child exits, and
// config-file changes onto one dispatch loop.
package supervisor

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fdbmon/fdbmon/internal/backoff"
	"github.com/fdbmon/fdbmon/internal/journal"
	"github.com/fdbmon/fdbmon/internal/launch"
	"github.com/fdbmon/fdbmon/internal/metrics"
	"github.com/fdbmon/fdbmon/internal/reconcile"
	"github.com/fdbmon/fdbmon/internal/registry"
	"github.com/fdbmon/fdbmon/internal/watch"
	"github.com/pkg/errors"
)

// Config wires the supervisor's external collaborators together.
type Config struct {
	ConfPath string
	Journal  journal.Journaler
	Metrics  *metrics.Registry // nil is fine; Registry's methods are nil-safe
}

// Supervisor is the event-loop owner. All of its fields are touched only
// from the goroutine running Run; nothing here needs a mutex.
type Supervisor struct {
	cfg      Config
	reg      *registry.Registry
	rec      *reconcile.Reconciler
	launcher *launch.Launcher
	creds    launch.Credentials
	clock    backoff.Clock
	rng      *rand.Rand

	restartCh chan uint64
}

// New builds a Supervisor ready to Run.
func New(cfg Config) *Supervisor {
	if cfg.Journal == nil {
		panic("supervisor: Config.Journal is required")
	}
	return &Supervisor{
		cfg:       cfg,
		reg:       registry.New(),
		rec:       reconcile.New(),
		launcher:  launch.New(),
		creds:     launch.Credentials{UID: -1, GID: -1},
		clock:     backoff.SystemClock{},
		rng:       backoff.DefaultSource(),
		restartCh: make(chan uint64, 64),
	}
}

// Run performs the initial reconciliation, arms the config watcher and
// signal handling, and then runs the event loop until a termination signal
// is received or ctx is canceled. It returns nil on clean shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := launch.SetSubreaper(); err != nil {
		s.cfg.Journal.Write(&journal.Warning{Component: "subreaper", Error: err.Error()})
	}

	plan, creds, err := s.rec.Reconcile(s.cfg.ConfPath, s.reg, s.creds)
	if err != nil {
		return errors.Wrap(err, "initial configuration load failed")
	}
	s.creds = creds
	s.applyPlan(plan)

	w, err := watch.New(ctx, s.cfg.ConfPath, s.cfg.Journal)
	if err != nil {
		return errors.Wrap(err, "failed to start configuration watcher")
	}
	defer w.Close()

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		// A termination signal or canceled context must preempt every other
		// ready channel this tick: select among simultaneously-ready cases
		// is pseudo-random, so check these two, non-blockingly, before
		// falling into the main select below.
		select {
		case <-ctx.Done():
			return s.shutdown(nil)
		case sig := <-sigCh:
			if sig == syscall.SIGINT || sig == syscall.SIGTERM {
				return s.shutdown(sig)
			}
			s.cfg.Journal.Write(&journal.Warning{Component: "signal", Error: "received SIGHUP"})
		default:
		}

		select {
		case <-ctx.Done():
			return s.shutdown(nil)

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM:
				return s.shutdown(sig)
			case syscall.SIGHUP:
				s.cfg.Journal.Write(&journal.Warning{Component: "signal", Error: "received SIGHUP"})
			}

		case <-w.Changed:
			s.reload()

		case line := <-s.launcher.Lines:
			s.handleLine(line)

		case perr := <-s.launcher.Errors:
			s.handlePipeError(perr)

		case ex := <-s.launcher.Exits:
			s.handleExit(ex)

		case id := <-s.restartCh:
			s.doLaunch(id, "crash")
		}

		s.cfg.Metrics.Tick()
	}
}

// reload re-parses the configuration and applies the resulting plan. A
// parse or uid/gid-resolution failure is logged and leaves all state
// (registry, credentials) exactly as it was.
func (s *Supervisor) reload() {
	plan, creds, err := s.rec.Reconcile(s.cfg.ConfPath, s.reg, s.creds)
	if err != nil {
		s.cfg.Journal.Write(&journal.ConfigParseError{Path: s.cfg.ConfPath, Error: err.Error()})
		s.cfg.Metrics.Reload("parse_error")
		return
	}
	s.creds = creds
	s.applyPlan(plan)
	s.cfg.Metrics.Reload("ok")
	s.cfg.Journal.Write(&journal.ConfigReloaded{Kills: len(plan.Kills), Launches: len(plan.Launches)})
}

// applyPlan executes a reconciliation plan's kills, then its launches, in
// that order, per the monitor's one ordering guarantee within a pass.
func (s *Supervisor) applyPlan(plan *reconcile.Plan) {
	if plan.Empty() {
		return
	}
	for _, k := range plan.Kills {
		s.killSync(k.ID, k.Reason)
		if k.DestroyAfter {
			s.reg.Remove(k.ID)
		}
	}
	for _, l := range plan.Launches {
		s.doLaunch(l.ID, l.Reason)
	}
}

// killSync sends SIGTERM to id's live pid and blocks until that child's
// exit has been observed, draining (and still handling) any unrelated
// exits that race in while it waits. This is the monitor's one intentional
// blocking point outside the multiplexing wait itself: it serializes
// reconfiguration against the killed child's exit so a following relaunch
// can never race the old process.
func (s *Supervisor) killSync(id uint64, reason string) {
	pid, live := s.reg.PID(id)
	if !live {
		return
	}

	cmd := s.reg.Command(id)
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		s.cfg.Journal.Write(&journal.Warning{Component: "kill", Error: err.Error()})
	}

	for {
		ex := <-s.launcher.Exits
		if ex.ID == id {
			s.reg.ClearPID(id)
			if cmd != nil {
				s.cfg.Metrics.SetChildUp(cmd.QualifiedSection, false)
				s.cfg.Journal.Write(&journal.ChildKilled{Section: cmd.QualifiedSection, PID: pid, Reason: reason})
			}
			return
		}
		s.handleExit(ex)
	}
}

// handleExit processes one reaped child: it removes the pid from the
// registry, destroys the Command if it was deconfigured, and otherwise
// computes a restart delay via the backoff controller and schedules the
// next launch.
func (s *Supervisor) handleExit(ex launch.Exit) {
	id, ok := s.reg.IDByPID(ex.PID)
	if !ok {
		return
	}
	cmd := s.reg.Command(id)
	s.reg.ClearPID(id)

	if cmd != nil {
		s.cfg.Metrics.SetChildUp(cmd.QualifiedSection, false)
		s.cfg.Journal.Write(&journal.ChildExited{
			Section: cmd.QualifiedSection, PID: ex.PID,
			ExitCode: ex.ExitCode, Signaled: ex.Signaled,
		})
	}

	if cmd == nil {
		return
	}
	if cmd.Deconfigured {
		s.reg.Remove(id)
		return
	}

	delay := cmd.Backoff.GetAndUpdate(s.clock.Now(), s.rng)
	s.scheduleLaunch(id, delay)
}

// scheduleLaunch arranges for id to be launched after delay without
// blocking the event loop: the timer fires on its own goroutine and only
// sends id onto restartCh, which the loop drains on its next iteration.
func (s *Supervisor) scheduleLaunch(id uint64, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.restartCh <- id
	})
}

// doLaunch starts id's current Command, if it is still registered and
// launchable, and records the resulting pid.
func (s *Supervisor) doLaunch(id uint64, reason string) {
	cmd := s.reg.Command(id)
	if cmd == nil {
		return
	}
	if !cmd.Launchable() {
		s.cfg.Journal.Write(&journal.Warning{
			Component: "launch",
			Error:     fmt.Sprintf("%s: command is in a degraded state and cannot be launched", cmd.QualifiedSection),
		})
		return
	}

	pid, err := s.launcher.Launch(cmd, s.creds)
	if err != nil {
		s.cfg.Journal.Write(&journal.ChildSpawnError{Section: cmd.QualifiedSection, Error: err.Error()})
		return
	}

	cmd.Backoff.LastStart = s.clock.Now()
	s.reg.SetPID(id, pid)
	s.cfg.Metrics.Restart(reason)
	s.cfg.Metrics.SetChildUp(cmd.QualifiedSection, true)

	if !cmd.Quiet {
		s.cfg.Journal.Write(&journal.ChildSpawned{Section: cmd.QualifiedSection, PID: pid})
	}
}

// handleLine journals one complete (or final, unterminated) line of a
// child's stdout/stderr.
func (s *Supervisor) handleLine(l launch.Line) {
	cmd := s.reg.Command(l.ID)
	section := "?"
	if cmd != nil {
		section = cmd.QualifiedSection
	}
	s.cfg.Journal.Write(&journal.Warning{Component: "child:" + section + ":" + l.Stream, Error: l.Text})
}

// handlePipeError journals a non-interrupt pipe read failure. The pipe's
// reader goroutine has already stopped by the time this arrives (it only
// sends here right before returning), so there is nothing further to
// unsubscribe.
func (s *Supervisor) handlePipeError(pe launch.PipeError) {
	cmd := s.reg.Command(pe.ID)
	section := "?"
	if cmd != nil {
		section = cmd.QualifiedSection
	}
	s.cfg.Journal.Write(&journal.PipeError{Section: section, Stream: pe.Stream, Error: pe.Err.Error()})
}

// shutdown runs the clean group shutdown sequence: send SIGHUP to the
// entire process group (every child is in the monitor's own group, since
// the launcher never calls Setpgid), then block until every live child has
// been reaped, then return so the caller can release the lockfile.
func (s *Supervisor) shutdown(sig os.Signal) error {
	sigName := "context canceled"
	if sig != nil {
		sigName = sig.String()
	}
	s.cfg.Journal.Write(&journal.Shutdown{Signal: sigName})

	if err := syscall.Kill(0, syscall.SIGHUP); err != nil && err != syscall.ESRCH {
		s.cfg.Journal.Write(&journal.Warning{Component: "shutdown", Error: err.Error()})
	}

	for len(s.reg.LiveIDs()) > 0 {
		ex := <-s.launcher.Exits
		s.handleExit(ex)
	}

	return nil
}
