package canonical

import (
	"maps"
	"slices"
)

// Difference describes one field that differs between two records.
type Difference struct {
	Path     string `json:"path"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// Diff compares two records field by field. Loan-level fields come first in
// name order, then groups in name order with entries by index, so the first
// element is the first divergence.
func Diff(want, got Record) []Difference {
	var out []Difference
	for _, k := range unionKeys(want.Fields, got.Fields) {
		out = appendValueDiff(out, k, want.Fields[k], got.Fields[k])
	}

	groups := map[string]struct{}{}
	for g, e := range want.Groups {
		if len(e) > 0 {
			groups[g] = struct{}{}
		}
	}
	for g, e := range got.Groups {
		if len(e) > 0 {
			groups[g] = struct{}{}
		}
	}
	for _, g := range slices.Sorted(maps.Keys(groups)) {
		we, ge := want.Groups[g], got.Groups[g]
		n := max(len(we), len(ge))
		for i := range n {
			switch {
			case i >= len(ge):
				out = append(out, Difference{Path: InstancePath(g, i, ""), Expected: "entry", Actual: "missing"})
			case i >= len(we):
				out = append(out, Difference{Path: InstancePath(g, i, ""), Expected: "missing", Actual: "entry"})
			default:
				for _, f := range unionKeys(we[i], ge[i]) {
					out = appendValueDiff(out, InstancePath(g, i, f), we[i][f], ge[i][f])
				}
			}
		}
	}
	return out
}

func appendValueDiff(out []Difference, path string, want, got Value) []Difference {
	if want.Equal(got) {
		return out
	}
	return append(out, Difference{Path: path, Expected: describe(want), Actual: describe(got)})
}

func describe(v Value) string {
	if v.IsNull() {
		return "<absent>"
	}
	return v.Kind().String() + ":" + v.String()
}

func unionKeys[M ~map[string]Value](a, b M) []string {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k, v := range a {
		if !v.IsNull() {
			keys[k] = struct{}{}
		}
	}
	for k, v := range b {
		if !v.IsNull() {
			keys[k] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(keys))
}
