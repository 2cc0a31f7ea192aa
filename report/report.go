// Package report renders an aggregate.Summary as a human-readable console
// report, a JUnit XML file for CI ingestion, or a JSON document for
// machine consumers, per the three report formats named in the external
// interface.
package report

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/matgreaves/gctf/aggregate"
	"github.com/matgreaves/gctf/spec"
)

// WriteOutcome renders one test's result line, with an indented failure
// reason when it didn't pass. Verbose mode calls this as each test
// finishes; WriteConsole calls it for every outcome in the final summary.
func WriteOutcome(w io.Writer, o spec.TestOutcome) {
	fmt.Fprintf(w, "%s  %s  %s\n", colorStatus(string(o.Status)), o.FilePath, dim(fmt.Sprintf("(%dms)", o.DurationMs)))
	if o.Status != spec.Pass && o.ErrorMessage != "" {
		fmt.Fprintf(w, "    %s\n", o.ErrorMessage)
	}
}

// WriteConsole renders summary to w: one line per test, an indented
// failure reason for anything that didn't pass, then a totals line.
func WriteConsole(w io.Writer, summary aggregate.Summary) {
	for _, o := range summary.Outcomes {
		WriteOutcome(w, o)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s: %d, %s: %d, %s: %d, %s: %d %s\n",
		bold("total"), summary.Total,
		colorStatus("PASS"), summary.Passed,
		colorStatus("FAIL"), summary.Failed,
		colorStatus("TIMEOUT"), summary.Timeout,
		dim(fmt.Sprintf("(skipped %d, %dms)", summary.Skipped, summary.DurationMs)))
}

// junitTestsuite is the subset of the JUnit XML schema CI systems actually
// read: suite-level counts and one testcase per executed test.
type junitTestsuite struct {
	XMLName    xml.Name        `xml:"testsuite"`
	Name       string          `xml:"name,attr"`
	Tests      int             `xml:"tests,attr"`
	Failures   int             `xml:"failures,attr"`
	Errors     int             `xml:"errors,attr"`
	Skipped    int             `xml:"skipped,attr"`
	Time       float64         `xml:"time,attr"`
	Timestamp  string          `xml:"timestamp,attr"`
	Testcases  []junitTestcase `xml:"testcase"`
}

type junitTestcase struct {
	Name    string        `xml:"name,attr"`
	Time    float64       `xml:"time,attr"`
	Failure *junitFailure `xml:"failure,omitempty"`
	Skipped *struct{}     `xml:"skipped,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Body    string `xml:",chardata"`
}

// WriteJUnit writes summary as a single JUnit testsuite document.
func WriteJUnit(w io.Writer, summary aggregate.Summary) error {
	suite := junitTestsuite{
		Name:      "gctf",
		Tests:     summary.Total,
		Failures:  summary.Failed,
		Errors:    summary.Timeout,
		Skipped:   summary.Skipped,
		Time:      float64(summary.DurationMs) / 1000.0,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	for _, o := range summary.Outcomes {
		tc := junitTestcase{Name: o.FilePath, Time: float64(o.DurationMs) / 1000.0}
		switch o.Status {
		case spec.Fail, spec.Timeout:
			tc.Failure = &junitFailure{Message: o.ErrorMessage, Body: o.ErrorMessage}
		case spec.Skip:
			tc.Skipped = &struct{}{}
		}
		suite.Testcases = append(suite.Testcases, tc)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(suite); err != nil {
		return fmt.Errorf("encoding junit report: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// jsonOutcome is the JSON-facing shape of a single test outcome: the same
// fields as spec.TestOutcome, with JSON tags the schema controls
// independently of the Go field names.
type jsonOutcome struct {
	File       string `json:"file"`
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type jsonSummary struct {
	Total      int           `json:"total"`
	Passed     int           `json:"passed"`
	Failed     int           `json:"failed"`
	Timeout    int           `json:"timeout"`
	Skipped    int           `json:"skipped"`
	DurationMs int64         `json:"duration_ms"`
	Tests      []jsonOutcome `json:"tests"`
}

// WriteJSON writes summary as a single JSON document.
func WriteJSON(w io.Writer, summary aggregate.Summary) error {
	out := jsonSummary{
		Total: summary.Total, Passed: summary.Passed, Failed: summary.Failed,
		Timeout: summary.Timeout, Skipped: summary.Skipped, DurationMs: summary.DurationMs,
	}
	for _, o := range summary.Outcomes {
		out.Tests = append(out.Tests, jsonOutcome{
			File: o.FilePath, Status: string(o.Status), DurationMs: o.DurationMs, Error: o.ErrorMessage,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
