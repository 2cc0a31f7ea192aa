// Package spec defines the parsed representation of a .gctf test file and
// the small set of types shared across the runner: response comparison
// options, assertion lines, plugin descriptors, and test outcomes.
package spec

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// endpointRE matches "pkg.Service/Method": letters, digits and dots before
// the slash, letters, digits and underscores after it. A dot is allowed in
// the service part but not required.
var endpointRE = regexp.MustCompile(`^[A-Za-z0-9.]+/[A-Za-z0-9_]+$`)

// TestFile is the parsed representation of a single .gctf test.
type TestFile struct {
	// Path is the source file this was parsed from.
	Path string

	// Address is "host:port". Empty means the process default applies.
	Address string

	// Endpoint is "pkg.Service/Method".
	Endpoint string

	// Requests is the ordered sequence of request bodies. More than one
	// entry means a client-streaming call.
	Requests []json.RawMessage

	// ExpectedResponse is set when a RESPONSE section was present.
	ExpectedResponse json.RawMessage

	// ExpectedError is set when an ERROR section was present, parsed from
	// either a JSON object {code, message} or a plain (quoted or bare)
	// string.
	ExpectedError *ExpectedError

	// Asserts is the ordered sequence of assertion lines.
	Asserts []AssertionLine

	// RequestHeaders are "Name: value" strings, in file order.
	RequestHeaders []string

	// Options controls response comparison semantics.
	Options ResponseOptions
}

// ExpectedError holds the parsed ERROR section: either a structured
// {code, message} object or a bare literal message string.
type ExpectedError struct {
	// Code is the gRPC status code, present only when the ERROR section
	// was a JSON object with a numeric "code" field.
	Code    *int
	Message string
	// Raw is the trimmed original section body, quoted in failure
	// messages.
	Raw string
}

// Validate checks the invariants from the data model: at least one of
// ExpectedResponse/ExpectedError/Asserts must be present, Endpoint must
// match the grammar, and every request header must contain ": ".
func (tf *TestFile) Validate() error {
	if tf.Endpoint == "" {
		return &Error{Kind: ValidationError, Path: tf.Path, Err: fmt.Errorf("missing ENDPOINT section")}
	}
	if !endpointRE.MatchString(tf.Endpoint) {
		return &Error{Kind: ValidationError, Path: tf.Path, Err: fmt.Errorf("endpoint %q does not match pkg.Service/Method", tf.Endpoint)}
	}
	if len(tf.ExpectedResponse) == 0 && tf.ExpectedError == nil && len(tf.Asserts) == 0 {
		return &Error{Kind: ValidationError, Path: tf.Path, Err: fmt.Errorf("at least one of RESPONSE, ERROR, or ASSERTS must be present")}
	}
	for _, h := range tf.RequestHeaders {
		if !strings.Contains(h, ": ") {
			return &Error{Kind: ValidationError, Path: tf.Path, Err: fmt.Errorf("request header %q missing %q", h, ": ")}
		}
	}
	return nil
}
