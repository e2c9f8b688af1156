package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/taskmaster/internal/process"
	"gopkg.in/yaml.v3"
)

// ErrNoPrograms is returned when a path loads but declares no program section at all.
var ErrNoPrograms = errors.New("no programs section")

// Extensions recognized when loading a directory.
var Extensions = []string{".yaml", ".yml", ".conf"}

// Diagnostic is a non-fatal problem found while loading. The offending entry
// was skipped or the offending value left at its default.
type Diagnostic struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Program string `json:"program,omitempty"`
	Msg     string `json:"msg"`
}

func (d Diagnostic) String() string {
	var b strings.Builder
	b.WriteString(d.File)
	if d.Line > 0 {
		fmt.Fprintf(&b, ":%d", d.Line)
	}
	if d.Program != "" {
		fmt.Fprintf(&b, ": program %s", d.Program)
	}
	b.WriteString(": ")
	b.WriteString(d.Msg)
	return b.String()
}

// Result is the outcome of a best-effort load.
type Result struct {
	Specs       []process.Spec
	Diagnostics []Diagnostic
	Files       []string
}

// Load reads programs from a file, or from every recognized file in a
// directory sorted by name. Only an unreadable path is an error; everything
// else is reported through Result.Diagnostics.
func Load(path string) (*Result, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config path: %w", err)
	}
	res := &Result{}
	files := []string{path}
	if fi.IsDir() {
		files, err = ListFiles(path)
		if err != nil {
			return nil, err
		}
	}
	seen := map[string]string{}
	for _, f := range files {
		res.Files = append(res.Files, f)
		specs, diags := loadFile(f)
		res.Diagnostics = append(res.Diagnostics, diags...)
		for _, s := range specs {
			if prev, dup := seen[s.Spec.Name]; dup {
				res.Diagnostics = append(res.Diagnostics, Diagnostic{
					File: f, Line: s.Line, Program: s.Spec.Name,
					Msg: fmt.Sprintf("duplicate program name (first defined in %s), ignored", prev),
				})
				continue
			}
			seen[s.Spec.Name] = f
			res.Specs = append(res.Specs, s.Spec)
		}
	}
	return res, nil
}

// ListFiles returns the recognized config files in dir, sorted by name.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read config dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !HasExtension(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}

func HasExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Entry is one parsed program with the line of its name key.
type Entry struct {
	Spec process.Spec
	Line int
}

func loadFile(path string) ([]Entry, []Diagnostic) {
	// #nosec G304 -- operator supplied config path
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, []Diagnostic{{File: path, Msg: err.Error()}}
	}
	return Parse(path, b)
}

// Parse decodes one document. name is only used in diagnostics.
func Parse(name string, data []byte) ([]Entry, []Diagnostic) {
	p := &parser{file: name}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		p.warn(0, "", "%v", err)
		return nil, p.diags
	}
	if len(doc.Content) == 0 {
		p.warn(0, "", "%v", ErrNoPrograms)
		return nil, p.diags
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		p.warn(root.Line, "", "top level must be a mapping")
		return nil, p.diags
	}
	var programs *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		k, v := root.Content[i], root.Content[i+1]
		if k.Value == "programs" {
			programs = v
			continue
		}
		p.warn(k.Line, "", "unknown top-level key %q", k.Value)
	}
	if programs == nil {
		p.warn(root.Line, "", "%v", ErrNoPrograms)
		return nil, p.diags
	}
	if programs.Kind != yaml.MappingNode {
		if programs.Tag != "!!null" {
			p.warn(programs.Line, "", "programs must be a mapping of name to settings")
		}
		return nil, p.diags
	}
	var out []Entry
	for i := 0; i+1 < len(programs.Content); i += 2 {
		k, v := programs.Content[i], programs.Content[i+1]
		if s, ok := p.program(k.Value, k.Line, v); ok {
			out = append(out, Entry{Spec: s, Line: k.Line})
		}
	}
	return out, p.diags
}

type parser struct {
	file  string
	diags []Diagnostic
}

func (p *parser) warn(line int, program, format string, args ...any) {
	p.diags = append(p.diags, Diagnostic{File: p.file, Line: line, Program: program, Msg: fmt.Sprintf(format, args...)})
}

// Defaults returns a spec carrying the loader defaults.
func Defaults(name string) process.Spec {
	return process.Spec{
		Name:        name,
		NumProcs:    process.DefaultNumProcs,
		Umask:       process.DefaultUmask,
		AutoStart:   true,
		AutoRestart: process.RestartNever,
		StopSignal:  process.DefaultStopSignal,
		StopTime:    process.DefaultStopTime,
	}
}

func (p *parser) program(name string, line int, node *yaml.Node) (process.Spec, bool) {
	s := Defaults(name)
	if node.Kind != yaml.MappingNode {
		p.warn(line, name, "settings must be a mapping, skipped")
		return s, false
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if err := p.apply(&s, k.Value, v); err != nil {
			p.warn(v.Line, name, "%s: %v, keeping default", k.Value, err)
		}
	}
	if strings.TrimSpace(s.Command) == "" {
		p.warn(line, name, "missing value for key 'cmd', skipped")
		return s, false
	}
	if err := s.Validate(); err != nil {
		p.warn(line, name, "%v, skipped", err)
		return s, false
	}
	return s, true
}

func (p *parser) apply(s *process.Spec, key string, v *yaml.Node) error {
	switch key {
	case "cmd", "command":
		str, err := scalar(v)
		if err != nil {
			return err
		}
		s.Command = str
	case "numprocs":
		n, err := intValue(v)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("must not be negative")
		}
		s.NumProcs = n
	case "umask":
		str, err := scalar(v)
		if err != nil {
			return err
		}
		m, err := ParseUmask(str)
		if err != nil {
			return err
		}
		s.Umask = m
	case "workingdir", "workdir", "directory":
		str, err := scalar(v)
		if err != nil {
			return err
		}
		s.WorkDir = str
	case "autostart":
		b, err := boolValue(v)
		if err != nil {
			return err
		}
		s.AutoStart = b
	case "autorestart":
		str, err := scalar(v)
		if err != nil {
			return err
		}
		pol, err := process.ParseRestartPolicy(str)
		if err != nil {
			return err
		}
		s.AutoRestart = pol
	case "exitcodes":
		codes, err := intList(v)
		if err != nil {
			return err
		}
		s.ExitCodes = codes
	case "startretries":
		n, err := intValue(v)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("must not be negative")
		}
		s.StartRetries = n
	case "starttime":
		d, err := durationValue(v)
		if err != nil {
			return err
		}
		s.StartTime = d
	case "stopsignal":
		str, err := scalar(v)
		if err != nil {
			return err
		}
		sig, err := process.ParseSignal(str)
		if err != nil {
			return err
		}
		s.StopSignal = sig
	case "stoptime":
		d, err := durationValue(v)
		if err != nil {
			return err
		}
		s.StopTime = d
	case "stdout":
		str, err := scalar(v)
		if err != nil {
			return err
		}
		s.Stdout = str
	case "stderr":
		str, err := scalar(v)
		if err != nil {
			return err
		}
		s.Stderr = str
	case "env":
		env, err := envList(v)
		if err != nil {
			return err
		}
		s.Env = env
	case "user":
		str, err := scalar(v)
		if err != nil {
			return err
		}
		s.User = str
	default:
		p.warn(v.Line, s.Name, "unknown property %q", key)
	}
	return nil
}

func scalar(v *yaml.Node) (string, error) {
	if v.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("expected a scalar value")
	}
	return v.Value, nil
}

func intValue(v *yaml.Node) (int, error) {
	str, err := scalar(v)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(str))
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", str)
	}
	return n, nil
}

func boolValue(v *yaml.Node) (bool, error) {
	str, err := scalar(v)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(str)) {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", str)
}

// durationValue accepts whole seconds (5) or a Go duration ("500ms").
func durationValue(v *yaml.Node) (time.Duration, error) {
	str, err := scalar(v)
	if err != nil {
		return 0, err
	}
	str = strings.TrimSpace(str)
	if n, err := strconv.Atoi(str); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("must not be negative")
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(str)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", str)
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return d, nil
}

// intList accepts a sequence of integers or a single integer.
func intList(v *yaml.Node) ([]int, error) {
	if v.Kind == yaml.ScalarNode {
		n, err := intValue(v)
		if err != nil {
			return nil, err
		}
		return []int{n}, nil
	}
	if v.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("expected a list of integers")
	}
	out := make([]int, 0, len(v.Content))
	for _, item := range v.Content {
		n, err := intValue(item)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// envList accepts an ordered mapping or a list of KEY=VALUE strings.
func envList(v *yaml.Node) ([]string, error) {
	switch v.Kind {
	case yaml.MappingNode:
		out := make([]string, 0, len(v.Content)/2)
		for i := 0; i+1 < len(v.Content); i += 2 {
			k, val := v.Content[i], v.Content[i+1]
			if val.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("env %s must be a scalar", k.Value)
			}
			out = append(out, k.Value+"="+val.Value)
		}
		return out, nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(v.Content))
		for _, item := range v.Content {
			str, err := scalar(item)
			if err != nil {
				return nil, err
			}
			if k, _, ok := strings.Cut(str, "="); !ok || k == "" {
				return nil, fmt.Errorf("env entry %q must be KEY=VALUE", str)
			}
			out = append(out, str)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a mapping or a list of KEY=VALUE")
}

// ParseUmask reads an octal mask such as 022, 0022 or 0o022.
func ParseUmask(s string) (os.FileMode, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0o")
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil || n > 0o777 {
		return 0, fmt.Errorf("invalid umask %q", s)
	}
	return os.FileMode(n), nil
}
