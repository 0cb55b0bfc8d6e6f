package journal

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestLineWriterReadRecentRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	lw := NewLineWriter(&buf)

	events := []Event{
		&ChildSpawned{Section: "fdbserver.1", PID: 100},
		&ChildExited{Section: "fdbserver.1", PID: 100, ExitCode: 0},
		&ChildSpawned{Section: "fdbserver.2", PID: 200},
	}
	for _, ev := range events {
		if err := lw.Write(ev); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	r := bytes.NewReader(buf.Bytes())
	records, err := ReadRecent(r, 2)
	if err != nil {
		t.Fatalf("ReadRecent failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("ReadRecent returned %d records, want 2", len(records))
	}

	// ReadRecent(n=2) out of 3 written events must yield the last two, in
	// chronological order: the ChildExited, then the second ChildSpawned.
	if records[0].Type != typeChildExited {
		t.Errorf("records[0].Type = %q, want %q", records[0].Type, typeChildExited)
	}
	if records[1].Type != typeChildSpawned {
		t.Errorf("records[1].Type = %q, want %q", records[1].Type, typeChildSpawned)
	}
	spawned, ok := records[1].Event.(*ChildSpawned)
	if !ok {
		t.Fatalf("records[1].Event = %T, want *ChildSpawned", records[1].Event)
	}
	if spawned.Section != "fdbserver.2" || spawned.PID != 200 {
		t.Errorf("records[1].Event = %+v, want Section=fdbserver.2 PID=200", spawned)
	}
}

func TestReadRecentFewerThanRequested(t *testing.T) {
	var buf bytes.Buffer
	lw := NewLineWriter(&buf)
	if err := lw.Write(&Shutdown{Signal: "SIGTERM"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	r := bytes.NewReader(buf.Bytes())
	records, err := ReadRecent(r, 10)
	if err != nil {
		t.Fatalf("ReadRecent failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("ReadRecent returned %d records, want 1", len(records))
	}
	if records[0].Type != typeShutdown {
		t.Errorf("records[0].Type = %q, want %q", records[0].Type, typeShutdown)
	}
}

func TestReadRecentEmptyStream(t *testing.T) {
	records, err := ReadRecent(bytes.NewReader(nil), 5)
	if err != nil {
		t.Fatalf("ReadRecent on empty stream failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records from an empty stream, got %v", records)
	}
}

func TestReadRecentZeroOrNegativeIsNoop(t *testing.T) {
	var buf bytes.Buffer
	NewLineWriter(&buf).Write(&Shutdown{Signal: "SIGTERM"})

	records, err := ReadRecent(bytes.NewReader(buf.Bytes()), 0)
	if err != nil || records != nil {
		t.Errorf("ReadRecent(n=0) = %v, %v, want nil, nil", records, err)
	}
}

type failingJournaler struct{ err error }

func (f failingJournaler) Write(Event) error { return f.err }

type recordingJournaler struct{ calls int }

func (r *recordingJournaler) Write(Event) error {
	r.calls++
	return nil
}

func TestMultiWriterFansOutAndReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	rec := &recordingJournaler{}
	mw := MultiWriter(failingJournaler{err: boom}, rec, failingJournaler{err: errors.New("second")})

	err := mw.Write(&Shutdown{Signal: "SIGINT"})
	if !errors.Is(err, boom) {
		t.Errorf("MultiWriter.Write returned %v, want the first writer's error", err)
	}
	if rec.calls != 1 {
		t.Errorf("expected every writer to observe the event even after an earlier one failed, calls=%d", rec.calls)
	}
}

func TestHumanWriterFormatsKnownEvents(t *testing.T) {
	var buf bytes.Buffer
	hw := NewHumanWriter("stderr", &buf)

	if err := hw.Write(&ChildExited{Section: "fdbserver.1", PID: 42, ExitCode: 1, Signaled: false}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "child exited: fdbserver.1 pid=42 code=1 signaled=false") {
		t.Errorf("HumanWriter output = %q, missing expected summary", out)
	}
}

func TestNewEventCoversEveryType(t *testing.T) {
	types := []string{
		typeWarning, typeLockAcquired, typeConfigReloaded, typeConfigParseError,
		typeChildSpawned, typeChildSpawnError, typeChildExited, typeChildKilled,
		typePipeError, typeWatcherRearmed, typeWatcherSkipped, typeShutdown,
	}
	for _, typ := range types {
		if ev := NewEvent(typ); ev == nil {
			t.Errorf("NewEvent(%q) = nil, want a concrete Event", typ)
		} else if ev.Type() != typ {
			t.Errorf("NewEvent(%q).Type() = %q", typ, ev.Type())
		}
	}
	if ev := NewEvent("unknown"); ev != nil {
		t.Errorf("NewEvent(unknown) = %v, want nil", ev)
	}
}
