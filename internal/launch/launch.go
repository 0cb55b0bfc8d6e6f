// Package launch implements the child-launch sequence: wiring stdio pipes,
// dropping privileges, installing the parent-death watch, and scrubbing the
// environment, the way the monitor's launcher must across the fork/exec
// boundary.
//
// Go's os/exec performs fork and exec as one atomic runtime operation, so
// the child-side sequence in the design ("reset signals, redirect stdio,
// drop privileges, sleep, exec") cannot be hand-written between a fork and
// an exec the way a C monitor would: there is no hook to run arbitrary Go
// code in the forked child before execve. Every step that the design
// assigns to "the child, before it execs" is instead expressed as data
// handed to exec.Cmd that the runtime applies during its own fork/exec
// trampoline: a filtered Env for the environment scrub, a
// syscall.Credential for the privilege drop, and Pdeathsig for the
// parent-death notification. The one step that is genuinely
// sequential — sleeping before the child starts — is moved to the caller
// (the event loop schedules the call to Launch itself after the backoff
// delay) rather than happening inside the child, which has the added
// benefit of never blocking the single-threaded event loop on a sleep.
package launch

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"syscall"

	"github.com/fdbmon/fdbmon/internal/command"
	"github.com/pkg/errors"
)

// Line is one complete (or final, unterminated) line read from a child's
// stdout or stderr.
type Line struct {
	ID     uint64
	Stream string // "stdout" or "stderr"
	Text   string
}

// PipeError reports a non-interrupt read failure on one of a child's pipes;
// the pipe is unsubscribed permanently once this fires.
type PipeError struct {
	ID     uint64
	Stream string
	Err    error
}

// Exit reports a reaped child's outcome.
type Exit struct {
	ID       uint64
	PID      int
	ExitCode int
	Signaled bool
	Err      error
}

// Launcher owns the channels every launched child's pipes and exit status
// are multiplexed onto. One Launcher is shared by the whole fleet.
type Launcher struct {
	Lines  chan Line
	Errors chan PipeError
	Exits  chan Exit
}

// New returns a Launcher with reasonably buffered channels so a burst of
// output from one noisy child doesn't stall delivery for others.
func New() *Launcher {
	return &Launcher{
		Lines:  make(chan Line, 256),
		Errors: make(chan PipeError, 16),
		Exits:  make(chan Exit, 16),
	}
}

// Credentials resolves the uid/gid a child should run as. A field is -1
// when the child should inherit the monitor's own effective uid or gid.
type Credentials struct {
	UID int
	GID int
}

// Launch starts cmd's child process immediately (any pre-start backoff
// delay has already been waited out by the caller) and returns its pid.
// On failure the registry is left untouched by the caller; Launch itself
// holds no state.
func (l *Launcher) Launch(cmd *command.Command, creds Credentials) (pid int, err error) {
	if !cmd.Launchable() {
		return 0, errors.Errorf("%s: command is in a degraded, non-launchable state", cmd.QualifiedSection)
	}

	ecmd := exec.Command(cmd.Argv[0], cmd.Argv[1:]...)
	ecmd.Env = filteredEnv(cmd.DeleteWD40Env)
	ecmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGHUP,
	}
	if creds.UID != -1 || creds.GID != -1 {
		uid, gid := creds.UID, creds.GID
		if uid == -1 {
			uid = os.Geteuid()
		}
		if gid == -1 {
			gid = os.Getegid()
		}
		ecmd.SysProcAttr.Credential = &syscall.Credential{
			Uid: uint32(uid),
			Gid: uint32(gid),
		}
	}

	stdout, err := ecmd.StdoutPipe()
	if err != nil {
		return 0, errors.Wrap(err, "failed to create stdout pipe")
	}
	stderr, err := ecmd.StderrPipe()
	if err != nil {
		return 0, errors.Wrap(err, "failed to create stderr pipe")
	}

	type started struct {
		pid int
		err error
	}
	startCh := make(chan started, 1)

	// Pdeathsig is delivered to whichever OS thread issued the fork, not to
	// the process; if that thread is later retired the child gets a
	// spurious death signal even though the monitor is still alive. Lock
	// this goroutine to its OS thread from before Start through the
	// reaping Wait so the thread stays alive for as long as the child does.
	// See https://github.com/golang/go/issues/27505.
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		if err := ecmd.Start(); err != nil {
			// Go's os/exec reports both fork failure and the child's exec(3)
			// failure synchronously through this error; there is no separate
			// "child logs and exits, parent observes SIGCHLD" path to emulate.
			startCh <- started{0, errors.Wrap(err, "failed to start child")}
			return
		}

		pid := ecmd.Process.Pid
		startCh <- started{pid, nil}

		var wg sync.WaitGroup
		wg.Add(2)
		go l.scan(cmd.ID, "stdout", stdout, &wg)
		go l.scan(cmd.ID, "stderr", stderr, &wg)

		wg.Wait()
		waitErr := ecmd.Wait()
		l.Exits <- exitFrom(cmd.ID, pid, ecmd.ProcessState, waitErr)
	}()

	res := <-startCh
	return res.pid, res.err
}

func exitFrom(id uint64, pid int, state *os.ProcessState, waitErr error) Exit {
	ex := Exit{ID: id, PID: pid}
	if state == nil {
		ex.Err = waitErr
		ex.ExitCode = -1
		return ex
	}
	ex.ExitCode = state.ExitCode()
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		ex.Signaled = true
		ex.ExitCode = -1
	}
	return ex
}

// scan reads r line by line (via bufio.ScanLines, which already yields a
// final unterminated fragment as its own token) and forwards each onto
// l.Lines until EOF or a read error.
func (l *Launcher) scan(id uint64, stream string, r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 4096), 4096)
	for sc.Scan() {
		l.Lines <- Line{ID: id, Stream: stream, Text: sc.Text()}
	}
	if err := sc.Err(); err != nil {
		l.Errors <- PipeError{ID: id, Stream: stream, Err: err}
	}
}

// filteredEnv returns the environment a child should inherit: the
// monitor's own, minus the fixed WD40 variable set when scrub is true.
func filteredEnv(scrub bool) []string {
	if !scrub {
		return os.Environ()
	}

	deleted := make(map[string]bool, len(command.DeletedEnvVars()))
	for _, name := range command.DeletedEnvVars() {
		deleted[name] = true
	}

	env := os.Environ()
	filtered := make([]string, 0, len(env))
	for _, kv := range env {
		name := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			name = kv[:i]
		}
		if deleted[name] {
			continue
		}
		filtered = append(filtered, kv)
	}
	return filtered
}

