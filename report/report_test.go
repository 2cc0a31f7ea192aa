package report

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"strings"
	"testing"

	"github.com/matgreaves/gctf/aggregate"
	"github.com/matgreaves/gctf/spec"
)

func sampleSummary() aggregate.Summary {
	return aggregate.Summary{
		Counts: aggregate.Counts{Total: 3, Passed: 1, Failed: 1, Skipped: 1},
		Outcomes: []spec.TestOutcome{
			{FilePath: "a.gctf", Status: spec.Pass, DurationMs: 12},
			{FilePath: "b.gctf", Status: spec.Fail, DurationMs: 34, ErrorMessage: "mismatch"},
			{FilePath: "c.gctf", Status: spec.Skip, DurationMs: 0},
		},
		DurationMs: 46,
	}
}

func TestWriteConsoleIncludesEveryFile(t *testing.T) {
	var buf bytes.Buffer
	WriteConsole(&buf, sampleSummary())
	out := buf.String()
	for _, name := range []string{"a.gctf", "b.gctf", "c.gctf", "mismatch"} {
		if !strings.Contains(out, name) {
			t.Fatalf("console output missing %q:\n%s", name, out)
		}
	}
}

func TestWriteJUnitWellFormed(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJUnit(&buf, sampleSummary()); err != nil {
		t.Fatalf("WriteJUnit: %v", err)
	}

	var suite junitTestsuite
	if err := xml.Unmarshal(buf.Bytes(), &suite); err != nil {
		t.Fatalf("unmarshaling junit output: %v", err)
	}
	if suite.Tests != 3 || suite.Failures != 1 || suite.Skipped != 1 {
		t.Fatalf("unexpected suite counts: %+v", suite)
	}
	if len(suite.Testcases) != 3 {
		t.Fatalf("got %d testcases, want 3", len(suite.Testcases))
	}
}

func TestWriteJSONRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sampleSummary()); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var out jsonSummary
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("unmarshaling json output: %v", err)
	}
	if out.Total != 3 || out.Passed != 1 || out.Failed != 1 || out.Skipped != 1 {
		t.Fatalf("unexpected counts: %+v", out)
	}
	if len(out.Tests) != 3 || out.Tests[1].Error != "mismatch" {
		t.Fatalf("unexpected tests: %+v", out.Tests)
	}
}
