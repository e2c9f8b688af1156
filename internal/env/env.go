package env

import (
	"os"
	"strings"
)

// Env composes child environments: a base (normally the daemon's own
// environment) followed by ordered KEY=VALUE overrides. Later assignments of
// the same key win, matching sequential setenv calls.
type Env struct {
	base []string
}

// New returns an Env whose base is the current process environment.
func New() *Env {
	return &Env{base: os.Environ()}
}

// WithBase returns an Env using base instead of the OS environment.
func WithBase(base []string) *Env {
	return &Env{base: append([]string(nil), base...)}
}

// WithSet returns a copy of e with k=v appended to the base.
func (e *Env) WithSet(k, v string) *Env {
	return &Env{base: Apply(e.base, []string{k + "=" + v})}
}

// Merge applies perProc over the base and returns the result.
func (e *Env) Merge(perProc []string) []string {
	if e == nil {
		return Apply(os.Environ(), perProc)
	}
	return Apply(e.base, perProc)
}

// Apply applies each KEY=VALUE in overrides to base in order. Keys keep their
// first position; new keys are appended. Entries with an empty key are skipped.
func Apply(base, overrides []string) []string {
	out := make([]string, 0, len(base)+len(overrides))
	pos := make(map[string]int, len(base)+len(overrides))
	set := func(kv string) {
		k, _, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return
		}
		if i, seen := pos[k]; seen {
			out[i] = kv
			return
		}
		pos[k] = len(out)
		out = append(out, kv)
	}
	for _, kv := range base {
		set(kv)
	}
	for _, kv := range overrides {
		set(kv)
	}
	return out
}

// Lookup returns the value of key in a KEY=VALUE list.
func Lookup(list []string, key string) (string, bool) {
	for i := len(list) - 1; i >= 0; i-- {
		k, v, ok := strings.Cut(list[i], "=")
		if ok && k == key {
			return v, true
		}
	}
	return "", false
}
