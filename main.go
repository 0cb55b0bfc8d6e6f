package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fdbmon/fdbmon/internal/journal"
	"github.com/fdbmon/fdbmon/internal/lockfile"
	"github.com/fdbmon/fdbmon/internal/metrics"
	"github.com/fdbmon/fdbmon/internal/supervisor"
	"github.com/pkg/errors"
)

var (
	confFile    string
	lockFile    string
	daemonize   bool
	metricsAddr string
	tailN       int
)

const journalPath = "/var/log/fdbmonitor/journal.log"

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	fs.StringVar(&confFile, "conffile", "/etc/foundationdb/foundationdb.conf", "path to the configuration file")
	fs.StringVar(&lockFile, "lockfile", "/var/run/fdbmonitor.pid", "path to the lockfile")
	fs.BoolVar(&daemonize, "daemonize", false, "log to syslog (facility DAEMON, identity fdbmonitor) instead of standard error")
	fs.StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")
	fs.IntVar(&tailN, "tail", 0, "if set, print this many of the most recent journal records to standard error before starting")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage:\n  %s [--conffile PATH] [--lockfile PATH] [--daemonize] [--metrics-addr ADDR] [--tail N]\n\n", os.Args[0])
		fmt.Fprintf(fs.Output(), "Flags:\n")
		fs.PrintDefaults()
	}

	switch err := fs.Parse(os.Args[1:]); {
	case err == flag.ErrHelp:
		os.Exit(0)
	case err != nil:
		os.Exit(1)
	}
	if fs.NArg() > 0 {
		fs.Usage()
		os.Exit(1)
	}

	if err := run(); err != nil {
		log.Fatalln(err)
	}
}

func run() error {
	lock, err := lockfile.Acquire(lockFile)
	if err != nil {
		if errors.Is(err, lockfile.ErrLockedElsewhere) {
			fmt.Println("fdbmonitor is already running")
			return nil
		}
		return errors.Wrap(err, "failed to acquire lockfile")
	}
	defer lock.Release()

	if tailN > 0 {
		printTail(tailN)
	}

	j, closers, err := newJournaler()
	if err != nil {
		return err
	}
	for _, c := range closers {
		defer c.Close()
	}
	j.Write(&journal.LockAcquired{Path: lockFile, PID: os.Getpid()})

	var m *metrics.Registry
	if metricsAddr != "" {
		m = metrics.New()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if m != nil {
		go func() {
			if err := m.Serve(ctx, metricsAddr); err != nil {
				j.Write(&journal.Warning{Component: "metrics", Error: err.Error()})
			}
		}()
	}

	sup := supervisor.New(supervisor.Config{
		ConfPath: confFile,
		Journal:  j,
		Metrics:  m,
	})

	return sup.Run(ctx)
}

// newJournaler wires the on-disk rotating journal alongside either syslog
// (daemonized) or standard error (interactive), and returns whatever
// underlying resources need closing on shutdown.
func newJournaler() (journal.Journaler, []io.Closer, error) {
	rotating := journal.NewRotatingFile(journalPath)
	line := journal.NewLineWriter(rotating)
	closers := []io.Closer{rotating}

	if daemonize {
		sl, err := journal.NewSyslogWriter()
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to open syslog")
		}
		return journal.MultiWriter(line, sl), append(closers, sl), nil
	}

	human := journal.NewHumanWriter("stderr", os.Stderr)
	return journal.MultiWriter(line, human), closers, nil
}

// printTail prints the n most recent journal records to standard error,
// reading the on-disk journal backward so this stays cheap against a
// journal much larger than n records.
func printTail(n int) {
	f, err := os.Open(journalPath)
	if err != nil {
		return
	}
	defer f.Close()

	records, err := journal.ReadRecent(f, n)
	if err != nil && len(records) == 0 {
		return
	}
	for _, rec := range records {
		fmt.Fprintf(os.Stderr, "%s %s\n", rec.Time.Format("2006-01-02 15:04:05"), rec.Type)
	}
}
