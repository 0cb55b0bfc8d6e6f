package launch

import (
	"os"
	"testing"
	"time"

	"github.com/fdbmon/fdbmon/internal/command"
)

func waitForLine(t *testing.T, l *Launcher, timeout time.Duration) Line {
	t.Helper()
	select {
	case line := <-l.Lines:
		return line
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a line")
		return Line{}
	}
}

func waitForExit(t *testing.T, l *Launcher, timeout time.Duration) Exit {
	t.Helper()
	select {
	case ex := <-l.Exits:
		return ex
	case <-time.After(timeout):
		t.Fatal("timed out waiting for an exit")
		return Exit{}
	}
}

func TestLaunchCapturesOutputAndExit(t *testing.T) {
	l := New()
	cmd := &command.Command{
		ID:               7,
		QualifiedSection: "echoer.7",
		Argv:             []string{"/bin/sh", "-c", "echo hello; echo world 1>&2; exit 3"},
	}

	pid, err := l.Launch(cmd, Credentials{UID: -1, GID: -1})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if pid <= 0 {
		t.Fatalf("Launch returned pid %d, want a positive pid", pid)
	}

	seen := map[string]string{}
	for i := 0; i < 2; i++ {
		line := waitForLine(t, l, 5*time.Second)
		if line.ID != 7 {
			t.Errorf("Line.ID = %d, want 7", line.ID)
		}
		seen[line.Stream] = line.Text
	}
	if seen["stdout"] != "hello" {
		t.Errorf("stdout line = %q, want %q", seen["stdout"], "hello")
	}
	if seen["stderr"] != "world" {
		t.Errorf("stderr line = %q, want %q", seen["stderr"], "world")
	}

	ex := waitForExit(t, l, 5*time.Second)
	if ex.ID != 7 || ex.PID != pid {
		t.Errorf("Exit = %+v, want ID=7 PID=%d", ex, pid)
	}
	if ex.Signaled {
		t.Error("expected a clean (non-signaled) exit")
	}
	if ex.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", ex.ExitCode)
	}
}

func TestLaunchRefusesDegradedCommand(t *testing.T) {
	l := New()
	cmd := &command.Command{ID: 1, QualifiedSection: "broken.1", Argv: nil}

	if _, err := l.Launch(cmd, Credentials{UID: -1, GID: -1}); err == nil {
		t.Fatal("expected an error launching a non-launchable (degraded) command")
	}
}

func TestFilteredEnvScrubsWD40Vars(t *testing.T) {
	for _, name := range command.DeletedEnvVars() {
		os.Setenv(name, "x")
		defer os.Unsetenv(name)
	}
	os.Setenv("KEEP_ME", "1")
	defer os.Unsetenv("KEEP_ME")

	env := filteredEnv(true)
	for _, kv := range env {
		for _, name := range command.DeletedEnvVars() {
			if len(kv) > len(name) && kv[:len(name)+1] == name+"=" {
				t.Errorf("filteredEnv(true) kept scrubbed variable %q", kv)
			}
		}
	}

	found := false
	for _, kv := range env {
		if kv == "KEEP_ME=1" {
			found = true
		}
	}
	if !found {
		t.Error("filteredEnv(true) dropped an unrelated variable it should have kept")
	}
}

func TestFilteredEnvPassthroughWhenNotScrubbing(t *testing.T) {
	env := filteredEnv(false)
	if len(env) != len(os.Environ()) {
		t.Errorf("filteredEnv(false) returned %d vars, want the full os.Environ() (%d)", len(env), len(os.Environ()))
	}
}
