// Package compare implements the response-comparison pipeline: redaction,
// numeric tolerance, unordered-array normalization, and structural
// exact/partial comparison of two JSON documents.
package compare

import (
	"encoding/json"
	"math"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/matgreaves/gctf/spec"
)

// Result is the outcome of comparing an expected document against an
// actual one. Diff is populated only when Equal is false, using go-cmp to
// render a readable structural diff for the failure message.
type Result struct {
	Equal bool
	Diff  string
}

// Compare runs the full comparison pipeline described by opts: redaction,
// then absolute tolerance, then percent tolerance, then unordered-array
// normalization, then a structural exact or partial compare. If either
// side fails to parse as JSON, it falls back to string equality (exact) or
// substring containment (partial).
func Compare(expectedRaw, actualRaw []byte, opts spec.ResponseOptions) Result {
	var expected, actual any
	eErr := json.Unmarshal(expectedRaw, &expected)
	aErr := json.Unmarshal(actualRaw, &actual)
	if eErr != nil || aErr != nil {
		return compareNonJSON(string(expectedRaw), string(actualRaw), opts.Type)
	}

	for _, path := range opts.Redact {
		acc := parsePath(path)
		deletePath(expected, acc)
		deletePath(actual, acc)
	}

	for path, tol := range opts.Tolerance {
		applyAbsoluteTolerance(expected, actual, path, tol)
	}
	for path, pct := range opts.TolerancePercent {
		applyPercentTolerance(expected, actual, path, pct)
	}

	if opts.UnorderedArrays || len(opts.UnorderedArraysPaths) > 0 {
		sortArraysRec(expected, "", opts)
		sortArraysRec(actual, "", opts)
	}

	var equal bool
	if opts.Type == spec.Partial {
		equal = partialMatch(expected, actual)
	} else {
		equal = string(canonical(expected)) == string(canonical(actual))
	}

	res := Result{Equal: equal}
	if !equal {
		res.Diff = cmp.Diff(expected, actual)
	}
	return res
}

func applyAbsoluteTolerance(expected, actual any, path string, tol float64) {
	acc := parsePath(path)
	ev, eok := getPath(expected, acc)
	av, aok := getPath(actual, acc)
	if !eok || !aok {
		return
	}
	ef, eIsNum := ev.(float64)
	af, aIsNum := av.(float64)
	if !eIsNum || !aIsNum {
		return
	}
	if math.Abs(ef-af) <= tol {
		setPath(actual, acc, ev)
	}
}

func applyPercentTolerance(expected, actual any, path string, pct float64) {
	acc := parsePath(path)
	ev, eok := getPath(expected, acc)
	av, aok := getPath(actual, acc)
	if !eok || !aok {
		return
	}
	ef, eIsNum := ev.(float64)
	af, aIsNum := av.(float64)
	if !eIsNum || !aIsNum {
		return
	}
	if ef == 0 {
		return // percent tolerance is undefined against a zero baseline; fall through to exact
	}
	if math.Abs(ef-af)*100/math.Abs(ef) <= pct {
		setPath(actual, acc, ev)
	}
}

// partialMatch reports whether every field of expected is present in
// actual with an equal value, recursively. Arrays are element-wise
// authoritative: both sides must have the same length and every element
// must match — partial semantics relax object keys, not array shape.
func partialMatch(expected, actual any) bool {
	switch e := expected.(type) {
	case map[string]any:
		a, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, ev := range e {
			av, exists := a[k]
			if !exists || !partialMatch(ev, av) {
				return false
			}
		}
		return true
	case []any:
		a, ok := actual.([]any)
		if !ok || len(a) != len(e) {
			return false
		}
		for i := range e {
			if !partialMatch(e[i], a[i]) {
				return false
			}
		}
		return true
	default:
		return string(canonical(expected)) == string(canonical(actual))
	}
}

// sortArraysRec deep-sorts arrays in place. An array at the current path
// is sorted when opts.UnorderedArrays is set, or when path appears in
// opts.UnorderedArraysPaths.
func sortArraysRec(v any, path string, opts spec.ResponseOptions) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			sortArraysRec(child, path+"."+k, opts)
		}
	case []any:
		if opts.UnorderedArrays || contains(opts.UnorderedArraysPaths, path) {
			sort.SliceStable(t, func(i, j int) bool {
				return string(canonical(t[i])) < string(canonical(t[j]))
			})
		}
		for _, child := range t {
			sortArraysRec(child, path, opts)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func compareNonJSON(expected, actual string, ct spec.CompareType) Result {
	e := strings.TrimSpace(expected)
	a := strings.TrimSpace(actual)
	if ct == spec.Partial {
		return Result{Equal: strings.Contains(a, e)}
	}
	eq := e == a
	res := Result{Equal: eq}
	if !eq {
		res.Diff = cmp.Diff(e, a)
	}
	return res
}

// canonical returns the canonical-JSON encoding of v: object keys sorted
// lexicographically (encoding/json already sorts map[string]any keys on
// Marshal), no extraneous whitespace, arrays left in their given order.
func canonical(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
