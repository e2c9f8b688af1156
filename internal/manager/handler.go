package manager

import (
	"fmt"
	"strings"

	"github.com/loykin/taskmaster/internal/control"
	"github.com/loykin/taskmaster/internal/process"
)

// Execute applies one control request to the registry. It must only be
// called from the goroutine that owns the registry.
func (r *Registry) Execute(req control.Request) control.Response {
	r.logger.Debug("control request", "command", req.Command.String(), "name", req.Name)
	switch req.Command {
	case control.CmdStatus:
		return control.Response{Message: control.Truncate(FormatStatus(r.statuses()), control.MaxMessageLen), Success: true}
	case control.CmdStart:
		return r.startProgram(req.Name)
	case control.CmdStop:
		return r.stopProgram(req.Name)
	case control.CmdRestart:
		return r.restartProgram(req.Name)
	case control.CmdReload:
		r.RequestReload()
		return control.OK("Reload requested\n")
	case control.CmdShutdown:
		r.logger.Info("shutdown requested by client")
		r.running = false
		return control.OK("Daemon shutting down\n")
	}
	r.logger.Warn("unknown control command", "command", uint32(req.Command))
	return control.Fail("Unknown command\n")
}

func (r *Registry) statuses() []process.Status {
	out := make([]process.Status, len(r.table))
	for i, in := range r.table {
		out[i] = in.Snapshot()
	}
	return out
}

// FormatStatus renders the status table: a header line plus one line per instance.
func FormatStatus(list []process.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-10s %-10s %-20s\n", "NAME", "INDEX", "STATE", "INFO")
	for _, st := range list {
		fmt.Fprintf(&b, "%-20s %-10d %-10s pid %d\n", st.Name, st.Index, st.State, st.PID)
	}
	return b.String()
}

func (r *Registry) startProgram(name string) control.Response {
	list := r.instancesOf(name)
	if len(list) == 0 {
		return control.OK("No such program %s\n", name)
	}
	r.logger.Info("client requested start", "program", name)
	for _, in := range list {
		if in.PID != 0 {
			continue
		}
		_ = r.start(in)
	}
	return control.OK("Started %s\n", name)
}

func (r *Registry) stopProgram(name string) control.Response {
	list := r.instancesOf(name)
	if len(list) == 0 {
		return control.OK("No such program %s\n", name)
	}
	r.logger.Info("client requested stop", "program", name)
	for _, in := range list {
		in.RestartPending = false
		_ = r.stop(in)
	}
	return control.OK("Stopped %s\n", name)
}

// restartProgram stops the live instances of name and starts them again once
// each stop completes. Instances without a process are started right away.
func (r *Registry) restartProgram(name string) control.Response {
	list := r.instancesOf(name)
	if len(list) == 0 {
		return control.OK("No such program %s\n", name)
	}
	r.logger.Info("client requested restart", "program", name)
	for _, in := range list {
		switch {
		case in.State == process.StateStopping:
			in.RestartPending = true
		case in.PID != 0:
			if err := r.stop(in); err == nil {
				in.RestartPending = true
			}
		default:
			_ = r.start(in)
		}
	}
	return control.OK("Restarted %s\n", name)
}
