package spec

import (
	"strconv"
	"strings"
)

// CompareType selects the structural comparison semantics for a RESPONSE
// section. The zero value is Exact.
type CompareType string

const (
	Exact   CompareType = "exact"
	Partial CompareType = "partial"
)

// ResponseOptions controls how a RESPONSE body is compared against the
// actual gRPC output. All fields are optional; the zero value is the
// default "exact, no tolerance, ordered arrays" comparison.
type ResponseOptions struct {
	Type CompareType

	// Tolerance maps a jq-style path (e.g. ".price") to an absolute
	// numeric tolerance.
	Tolerance map[string]float64

	// TolerancePercent maps a path to a percentage numeric tolerance.
	TolerancePercent map[string]float64

	// Redact lists paths to delete from both sides before comparing.
	Redact []string

	// UnorderedArrays, when true, deep-sorts every array on both sides
	// before comparing.
	UnorderedArrays bool

	// UnorderedArraysPaths restricts unordered-array sorting to only the
	// listed paths. Ignored when UnorderedArrays is true.
	UnorderedArraysPaths []string

	// WithAsserts runs the ASSERTS block against the response after a
	// passing RESPONSE comparison.
	WithAsserts bool
}

// DefaultResponseOptions returns the zero-value options: exact comparison,
// no tolerances, no redaction, ordered arrays.
func DefaultResponseOptions() ResponseOptions {
	return ResponseOptions{Type: Exact}
}

// ApplyInlineOption merges one parsed header-line token (key, value) into
// the options. Keys of the form "tolerance[<path>]" and
// "tol_percent[<path>]" add an entry to the corresponding map; all other
// recognized keys set a scalar field. Unrecognized keys are ignored —
// unknown section-header tokens are preserved by the extractor but not
// interpreted here.
func (o *ResponseOptions) ApplyInlineOption(key, value string) {
	if path, ok := bracketed(key, "tolerance"); ok {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return
		}
		if o.Tolerance == nil {
			o.Tolerance = make(map[string]float64)
		}
		o.Tolerance[path] = f
		return
	}
	if path, ok := bracketed(key, "tol_percent"); ok {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return
		}
		if o.TolerancePercent == nil {
			o.TolerancePercent = make(map[string]float64)
		}
		o.TolerancePercent[path] = f
		return
	}

	switch key {
	case "type":
		switch CompareType(value) {
		case Exact, Partial:
			o.Type = CompareType(value)
		}
	case "redact":
		o.Redact = append(o.Redact, splitCommaList(value)...)
	case "unordered_arrays":
		o.UnorderedArrays = parseBool(value)
	case "unordered_arrays_paths":
		o.UnorderedArraysPaths = append(o.UnorderedArraysPaths, splitCommaList(value)...)
	case "with_asserts":
		o.WithAsserts = parseBool(value)
	}
	if o.Type == "" {
		o.Type = Exact
	}
}

// bracketed reports whether key has the form "<prefix>[<inner>]" and
// returns inner.
func bracketed(key, prefix string) (string, bool) {
	if len(key) <= len(prefix)+2 {
		return "", false
	}
	if key[:len(prefix)] != prefix || key[len(prefix)] != '[' || key[len(key)-1] != ']' {
		return "", false
	}
	return key[len(prefix)+1 : len(key)-1], true
}

func splitCommaList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
