package env

import (
	"strings"
	"testing"
)

func TestApplyLaterOverridesEarlier(t *testing.T) {
	out := Apply([]string{"PATH=/bin", "HOME=/root"}, []string{"A=1", "PATH=/usr/bin", "A=2"})
	want := []string{"PATH=/usr/bin", "HOME=/root", "A=2"}
	if strings.Join(out, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v want %v", out, want)
	}
}

func TestApplySkipsMalformed(t *testing.T) {
	out := Apply(nil, []string{"=x", "NOEQ", "K=", "V=a=b"})
	if len(out) != 2 || out[0] != "K=" || out[1] != "V=a=b" {
		t.Fatalf("unexpected: %v", out)
	}
}

func TestMergeKeepsBaseAndNoExpansion(t *testing.T) {
	e := WithBase([]string{"X=1"}).WithSet("Y", "2")
	out := e.Merge([]string{"Z=${X}"})
	if v, _ := Lookup(out, "Z"); v != "${X}" {
		t.Fatalf("values must be taken literally, got %q", v)
	}
	if v, ok := Lookup(out, "Y"); !ok || v != "2" {
		t.Fatalf("WithSet lost: %v", out)
	}
}

func FuzzApply(f *testing.F) {
	f.Add("A=1\nB=2", "A=3")
	f.Fuzz(func(t *testing.T, base, over string) {
		out := Apply(strings.Split(base, "\n"), strings.Split(over, "\n"))
		seen := map[string]bool{}
		for _, kv := range out {
			k, _, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				t.Fatalf("bad pair %q", kv)
			}
			if seen[k] {
				t.Fatalf("duplicate key %q", k)
			}
			seen[k] = true
		}
	})
}
