package manager

import (
	"errors"
	"fmt"

	"github.com/loykin/taskmaster/internal/history"
	"github.com/loykin/taskmaster/internal/metrics"
	"github.com/loykin/taskmaster/internal/process"
)

// ErrNoLoader is returned by Reload when the registry has no Loader.
var ErrNoLoader = errors.New("no config loader configured")

// Plan is the result of reconciling the current table with a new spec set.
// Computing a plan has no side effects; Apply performs them.
type Plan struct {
	Specs *process.SpecSet
	// Table is the new instance table in spec order, indices ascending.
	// Preserved instances appear by pointer.
	Table []*process.Instance
	// Preserved holds the carried-forward instances of Table.
	Preserved map[*process.Instance]bool
	// Dropped are old instances with no place in the new table.
	Dropped []*process.Instance
	// Stop is the subset of Dropped that still owns a process.
	Stop []*process.Instance
	// Start are new instances whose spec has autostart set.
	Start []*process.Instance
}

// Reconcile matches oldTable against newSet. An instance is carried forward
// when a spec with the same name describes the same program and its index is
// still within numprocs; everything else is replaced by a fresh Stopped slot.
func Reconcile(oldSet *process.SpecSet, oldTable []*process.Instance, newSet *process.SpecSet) Plan {
	plan := Plan{Specs: newSet, Preserved: make(map[*process.Instance]bool)}

	byKey := make(map[string]*process.Instance, len(oldTable))
	for _, in := range oldTable {
		if _, seen := byKey[in.Key()]; !seen {
			byKey[in.Key()] = in
		}
	}

	for _, sp := range newSet.Specs() {
		unchanged := oldSet.Lookup(sp.Name).SameProgram(sp)
		for i := 0; i < sp.NumProcs; i++ {
			key := fmt.Sprintf("%s:%d", sp.Name, i)
			if old, ok := byKey[key]; ok && unchanged && !plan.Preserved[old] {
				plan.Preserved[old] = true
				plan.Table = append(plan.Table, old)
				continue
			}
			in := process.NewInstance(sp, i)
			plan.Table = append(plan.Table, in)
			if sp.AutoStart {
				plan.Start = append(plan.Start, in)
			}
		}
	}

	for _, in := range oldTable {
		if plan.Preserved[in] {
			continue
		}
		plan.Dropped = append(plan.Dropped, in)
		if in.PID != 0 {
			plan.Stop = append(plan.Stop, in)
		}
	}
	return plan
}

// Apply installs plan as the live table and then performs its side effects:
// dropped live instances are stopped with the spec that launched them and
// kept as orphans until reaped, and new autostart instances are started.
func (r *Registry) Apply(plan Plan) {
	for _, in := range plan.Table {
		if plan.Preserved[in] {
			in.Spec = plan.Specs.Lookup(in.Spec.Name)
		}
	}
	r.specs = plan.Specs
	r.table = plan.Table

	for _, in := range plan.Stop {
		in.RestartPending = false
		_ = r.stop(in)
		r.orphans = append(r.orphans, in)
	}
	for _, in := range plan.Start {
		_ = r.start(in)
	}
}

// Reload loads the config and reconciles the table with it. A load or
// validation error abandons the reload and leaves the current table untouched.
func (r *Registry) Reload() error {
	if r.loader == nil {
		return ErrNoLoader
	}
	r.logger.Info("reloading configuration")
	specs, err := r.loader.Load()
	if err == nil {
		var set *process.SpecSet
		set, err = process.NewSpecSet(specs)
		if err == nil {
			r.install(set)
			return nil
		}
	}
	r.logger.Error("reload abandoned, keeping current configuration", "error", err)
	metrics.IncReload(false)
	r.events.Record(history.Event{Type: history.EventReload, OccurredAt: r.clock(), Message: "abandoned: " + err.Error()})
	return err
}

func (r *Registry) install(set *process.SpecSet) {
	r.version++
	set.Version = r.version
	plan := Reconcile(r.specs, r.table, set)
	r.Apply(plan)
	r.logger.Info("configuration applied",
		"version", set.Version,
		"programs", set.Len(),
		"instances", len(plan.Table),
		"preserved", len(plan.Preserved),
		"stopped", len(plan.Stop),
		"started", len(plan.Start))
	metrics.IncReload(true)
	r.events.Record(history.Event{
		Type:       history.EventReload,
		OccurredAt: r.clock(),
		Message:    fmt.Sprintf("version %d: %d programs, %d instances", set.Version, set.Len(), len(plan.Table)),
	})
}
