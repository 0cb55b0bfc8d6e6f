// Package command models one declared supervised child: the immutable argv
// and policy derived from the configuration file, plus the mutable restart
// backoff state carried between crashes. Commands are built fresh from the
// Config Store on every reconciliation pass and compared by argv to decide
// whether a running child needs to be replaced.
package command

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fdbmon/fdbmon/internal/backoff"
	"github.com/fdbmon/fdbmon/internal/config"
	"github.com/pkg/errors"
)

// reservedKeys are policy keys consumed by the monitor itself; they are
// never emitted as --key=value flags on the child's argv.
var reservedKeys = map[string]bool{
	"command":                      true,
	"restart_delay":                true,
	"initial_restart_delay":        true,
	"restart_backoff":              true,
	"restart_delay_reset_interval": true,
	"disable_lifecycle_logging":    true,
	"delete_wd40_env":              true,
	"kill_on_configuration_change": true,
}

// deletedEnvVars is the fixed set of environment variables scrubbed from a
// child's environment when DeleteWD40Env is set.
var deletedEnvVars = []string{"WD40_BV", "WD40_IS_MY_DADDY", "CONF_BUILD_VERSION"}

// DeletedEnvVars returns the fixed set of variable names delete_wd40_env
// removes, for callers (the launcher) that need to build a filtered
// environment.
func DeletedEnvVars() []string { return append([]string(nil), deletedEnvVars...) }

// Command is one declared supervised child.
type Command struct {
	Section          string
	QualifiedSection string
	ID               uint64

	// Argv is nil when construction failed to parse a required numeric
	// field; such a Command is retained in the registry in a degraded,
	// non-launchable state rather than dropped.
	Argv []string

	Quiet                     bool
	DeleteWD40Env             bool
	KillOnConfigurationChange bool
	Deconfigured              bool

	Backoff *backoff.State
}

// degradedError records why construction produced a non-launchable Command,
// for diagnostics; it is not part of the equality or update contract.
type degradedError struct {
	field string
	value string
}

func (e *degradedError) Error() string {
	return fmt.Sprintf("unparseable %s value %q", e.field, e.value)
}

// New builds a Command for (section, id) by resolving policy fields from
// store across the precedence chain [qualified, section, "general",
// "fdbmonitor"], assembling argv, and validating numeric fields. The
// returned Command is nil only when construction failed outright (no
// command key present); a missing restart_delay or a parse failure in a
// *numeric* field instead yields a degraded Command (Argv == nil) plus that
// error, matching the monitor's policy of keeping a record around rather
// than dropping the instance.
func New(store *config.Store, section string, id uint64) (*Command, error) {
	qualified := fmt.Sprintf("%s.%d", section, id)
	tiers := []string{qualified, section, "general", "fdbmonitor"}
	tiersNoDefaults := []string{qualified, section, "general"}

	cmd := &Command{
		Section:          section,
		QualifiedSection: qualified,
		ID:               id,
	}

	rawCommand, ok := store.GetValueMulti("command", tiers...)
	if !ok || strings.TrimSpace(rawCommand) == "" {
		return nil, errors.Errorf("section %q: missing required key %q", qualified, "command")
	}

	if _, present := store.GetValueMulti("restart_delay", tiers...); !present {
		cmd.Backoff = backoff.NewState(0, 0, 1.0, 0)
		return cmd, errors.Errorf("section %q: missing required key %q", qualified, "restart_delay")
	}

	maxDelay, degraded := parseSeconds(store, "restart_delay_reset_interval", tiers, 0)
	// restart_delay_reset_interval defaults to max_restart_delay below once
	// max_restart_delay itself is known; resolve max first.
	maxRestartDelay, maxDegraded := parseSeconds(store, "restart_delay", tiers, 0)
	initialRestartDelay, initDegraded := parseSeconds(store, "initial_restart_delay", tiers, 0)
	if initialRestartDelay > maxRestartDelay {
		initialRestartDelay = maxRestartDelay
	}

	restartBackoff := maxRestartDelay.Seconds()
	var backoffDegraded error
	if raw, present := store.GetValueMulti("restart_backoff", tiers...); present {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || v < 1.0 {
			backoffDegraded = &degradedError{"restart_backoff", raw}
		} else {
			restartBackoff = v
		}
	}

	if _, present := store.GetValueMulti("restart_delay_reset_interval", tiers...); !present {
		maxDelay = maxRestartDelay
		degraded = nil
	}

	cmd.Quiet = boolFlag(store, "disable_lifecycle_logging", tiersNoDefaults, false)
	cmd.DeleteWD40Env = boolFlag(store, "delete_wd40_env", tiersNoDefaults, false)
	// kill_on_configuration_change defaults to true; it is false only when
	// the key is present and its value is not literally "true".
	cmd.KillOnConfigurationChange = true
	if raw, present := store.GetValueMulti("kill_on_configuration_change", tiersNoDefaults...); present {
		cmd.KillOnConfigurationChange = raw == "true"
	}

	cmd.Backoff = backoff.NewState(initialRestartDelay, maxRestartDelay, restartBackoff, maxDelay)

	if firstDegraded := firstNonNil(maxDegraded, initDegraded, backoffDegraded, degraded); firstDegraded != nil {
		return cmd, firstDegraded
	}

	argv, err := buildArgv(store, rawCommand, section, tiersNoDefaults, id)
	if err != nil {
		return cmd, err
	}
	cmd.Argv = argv

	return cmd, nil
}

func firstNonNil(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

func parseSeconds(store *config.Store, key string, tiers []string, def time.Duration) (time.Duration, error) {
	raw, present := store.GetValueMulti(key, tiers...)
	if !present {
		return def, nil
	}
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return def, &degradedError{key, raw}
	}
	return time.Duration(v) * time.Second, nil
}

func boolFlag(store *config.Store, key string, tiers []string, def bool) bool {
	raw, present := store.GetValueMulti(key, tiers...)
	if !present {
		return def
	}
	return raw == "true"
}

// buildArgv assembles the child's argv: whitespace-split tokens of the
// command value, followed by one --KEY=VALUE flag per non-reserved key
// visible under any of the three policy tiers, deduplicated by key name
// (last-write-wins following the same precedence order as the policy
// fields), with $ID substituted for the instance id, and flags emitted in
// sorted key order so that argv equality is independent of input key order.
func buildArgv(store *config.Store, rawCommand, section string, tiers []string, id uint64) ([]string, error) {
	argv := strings.Fields(rawCommand)
	if len(argv) == 0 {
		return nil, errors.Errorf("section %s: command value has no tokens", tiers[0])
	}

	// Collect every visible key across all three tiers, last-write-wins per
	// the precedence order: lower-precedence tiers populate first, then
	// higher-precedence tiers overwrite. tiers is ordered most-specific
	// first, so we walk it in reverse to apply least-specific first.
	values := make(map[string]string)
	for i := len(tiers) - 1; i >= 0; i-- {
		for _, key := range store.GetAllKeys(tiers[i]) {
			if reservedKeys[key] {
				continue
			}
			if v, ok := store.GetValueMulti(key, tiers[i]); ok {
				values[key] = v
			}
		}
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	idStr := strconv.FormatUint(id, 10)
	for _, key := range keys {
		v := strings.ReplaceAll(values[key], "$ID", idStr)
		argv = append(argv, fmt.Sprintf("--%s=%s", key, v))
	}

	return argv, nil
}

// ArgvEqual reports whether a and b have pointwise-equal argv sequences.
// Two Commands with different key insertion order but the same resolved
// flags compare equal because buildArgv always emits flags in sorted order.
func ArgvEqual(a, b *Command) bool {
	if len(a.Argv) != len(b.Argv) {
		return false
	}
	for i := range a.Argv {
		if a.Argv[i] != b.Argv[i] {
			return false
		}
	}
	return true
}

// Update copies policy fields from other into c, but never touches c.Argv:
// argv only ever changes via Reconciler replacement, never via Update. The
// backoff state's Initial/Max are refreshed from other and Current is
// reclamped, per the monitor's "update preserves liveness" contract.
func (c *Command) Update(other *Command) {
	c.Quiet = other.Quiet
	c.DeleteWD40Env = other.DeleteWD40Env
	c.KillOnConfigurationChange = other.KillOnConfigurationChange

	c.Backoff.Initial = other.Backoff.Initial
	c.Backoff.Max = other.Backoff.Max
	c.Backoff.Multiplier = other.Backoff.Multiplier
	c.Backoff.ResetInterval = other.Backoff.ResetInterval
	c.Backoff.Clamp()
}

// Launchable reports whether construction succeeded well enough to exec
// this command; a degraded Command (unparseable numeric field) is retained
// in the registry but never launched.
func (c *Command) Launchable() bool { return c.Argv != nil }
