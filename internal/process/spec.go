package process

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"syscall"
	"time"
)

// RestartPolicy selects what happens when a process exits on its own.
type RestartPolicy int

const (
	RestartNever RestartPolicy = iota
	RestartAlways
	RestartUnexpected
)

func (p RestartPolicy) String() string {
	switch p {
	case RestartNever:
		return "never"
	case RestartAlways:
		return "always"
	case RestartUnexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

// ParseRestartPolicy accepts the config spellings never, always and unexpected.
func ParseRestartPolicy(s string) (RestartPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "never", "false", "no":
		return RestartNever, nil
	case "always", "true", "yes":
		return RestartAlways, nil
	case "unexpected":
		return RestartUnexpected, nil
	}
	return RestartNever, fmt.Errorf("unknown restart policy %q", s)
}

// MarshalText lets the policy render as its name in JSON status output.
func (p RestartPolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Default values applied by the config loader when a key is absent.
const (
	DefaultNumProcs   = 1
	DefaultStopTime   = 10 * time.Second
	DefaultUmask      = os.FileMode(0o022)
	DefaultStopSignal = syscall.SIGTERM
)

// Spec describes one program: a template for NumProcs identical instances.
// A Spec is never mutated after it is loaded; a reload builds new Specs.
type Spec struct {
	Name         string         `json:"name"`
	Command      string         `json:"command"`      // argv split on whitespace, no shell
	NumProcs     int            `json:"numprocs"`     // number of instance slots
	WorkDir      string         `json:"workdir"`      // optional working dir
	Umask        os.FileMode    `json:"umask"`        // file-creation mask for the child
	AutoStart    bool           `json:"autostart"`    // start on load
	AutoRestart  RestartPolicy  `json:"autorestart"`  // restart policy on exit
	ExitCodes    []int          `json:"exitcodes"`    // expected exit codes; empty means only 0
	StartTime    time.Duration  `json:"starttime"`    // uptime required to be considered running
	StartRetries int            `json:"startretries"` // restart budget before FATAL
	StopSignal   syscall.Signal `json:"stopsignal"`   // signal sent by stop
	StopTime     time.Duration  `json:"stoptime"`     // grace period before SIGKILL; 0 disables
	Stdout       string         `json:"stdout"`       // optional stdout path (append)
	Stderr       string         `json:"stderr"`       // optional stderr path (append)
	Env          []string       `json:"env"`          // ordered KEY=VALUE overrides
	User         string         `json:"user"`         // optional run-as user
}

// Argv splits Command on whitespace. Quoting is not interpreted.
func (s *Spec) Argv() []string {
	return strings.Fields(s.Command)
}

// IsExpected reports whether a normal exit with code is expected for this spec.
func (s *Spec) IsExpected(code int) bool {
	if len(s.ExitCodes) == 0 {
		return code == 0
	}
	return slices.Contains(s.ExitCodes, code)
}

// Equal reports whether two specs are identical in every field.
func (s *Spec) Equal(o *Spec) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.NumProcs == o.NumProcs && s.SameProgram(o)
}

// SameProgram reports whether two specs would launch and manage each process
// identically. NumProcs is ignored: it only bounds the slot range, so a reload
// that grows or shrinks it keeps the surviving slots.
func (s *Spec) SameProgram(o *Spec) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.Name == o.Name &&
		s.Command == o.Command &&
		s.WorkDir == o.WorkDir &&
		s.Umask == o.Umask &&
		s.AutoStart == o.AutoStart &&
		s.AutoRestart == o.AutoRestart &&
		s.StartTime == o.StartTime &&
		s.StartRetries == o.StartRetries &&
		s.StopSignal == o.StopSignal &&
		s.StopTime == o.StopTime &&
		s.Stdout == o.Stdout &&
		s.Stderr == o.Stderr &&
		s.User == o.User &&
		slices.Equal(s.ExitCodes, o.ExitCodes) &&
		slices.Equal(s.Env, o.Env)
}

// Validate checks the invariants the supervisor relies on.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("program name is required")
	}
	if strings.ContainsAny(s.Name, " \t\n\r:") {
		return fmt.Errorf("program %q: name contains whitespace or ':'", s.Name)
	}
	if len(s.Argv()) == 0 {
		return fmt.Errorf("program %q requires cmd", s.Name)
	}
	if s.NumProcs < 0 {
		return fmt.Errorf("program %q: numprocs cannot be negative", s.Name)
	}
	if s.StartRetries < 0 {
		return fmt.Errorf("program %q: startretries cannot be negative", s.Name)
	}
	if s.StartTime < 0 || s.StopTime < 0 {
		return fmt.Errorf("program %q: starttime and stoptime cannot be negative", s.Name)
	}
	for i, kv := range s.Env {
		k, _, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return fmt.Errorf("program %q: env[%d] %q must be KEY=VALUE", s.Name, i, kv)
		}
	}
	return nil
}
