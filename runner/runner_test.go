package runner

import (
	"context"
	"testing"

	"google.golang.org/grpc/codes"

	"github.com/matgreaves/gctf/grpcinvoke"
	"github.com/matgreaves/gctf/health"
	"github.com/matgreaves/gctf/plugin"
	"github.com/matgreaves/gctf/spec"
)

func newTestRunner() *Runner {
	return &Runner{
		Invoker: grpcinvoke.New(),
		Plugins: plugin.NewRegistry(),
		Breaker: health.NewBreaker(),
		DryRun:  true,
	}
}

func TestExecuteDryRunResponsePasses(t *testing.T) {
	r := newTestRunner()
	tf := &spec.TestFile{
		Path:             "fixture.gctf",
		Endpoint:         "pkg.Svc/Method",
		ExpectedResponse: []byte(`{"ok":true}`),
	}
	out := r.Execute(context.Background(), tf)
	if out.Status != spec.Pass {
		t.Fatalf("status = %v, want PASS (msg=%s)", out.Status, out.ErrorMessage)
	}
}

func TestExecuteDryRunErrorPasses(t *testing.T) {
	r := newTestRunner()
	code := int(codes.NotFound)
	tf := &spec.TestFile{
		Path:          "fixture.gctf",
		Endpoint:      "pkg.Svc/Method",
		ExpectedError: &spec.ExpectedError{Code: &code, Message: "Can't find stub"},
	}
	out := r.Execute(context.Background(), tf)
	if out.Status != spec.Pass {
		t.Fatalf("status = %v, want PASS (msg=%s)", out.Status, out.ErrorMessage)
	}
}

func TestClassifyResponseMismatch(t *testing.T) {
	r := newTestRunner()
	tf := &spec.TestFile{
		Path:             "fixture.gctf",
		Endpoint:         "pkg.Svc/Method",
		ExpectedResponse: []byte(`{"ok":true}`),
	}
	resp := &grpcinvoke.Response{Messages: [][]byte{[]byte(`{"ok":false}`)}}
	status, msg := r.classify(tf, resp)
	if status != spec.Fail {
		t.Fatalf("status = %v, want FAIL", status)
	}
	if msg == "" {
		t.Fatal("expected a non-empty diff message")
	}
}

func TestClassifyUnexpectedErrorFails(t *testing.T) {
	r := newTestRunner()
	tf := &spec.TestFile{
		Path:             "fixture.gctf",
		Endpoint:         "pkg.Svc/Method",
		ExpectedResponse: []byte(`{"ok":true}`),
	}
	resp := &grpcinvoke.Response{StatusCode: uint32(codes.Internal), ErrorMessage: "boom"}
	status, msg := r.classify(tf, resp)
	if status != spec.Fail {
		t.Fatalf("status = %v, want FAIL", status)
	}
	if msg == "" {
		t.Fatal("expected a non-empty error message")
	}
}

func TestClassifyExpectedErrorSucceeds(t *testing.T) {
	r := newTestRunner()
	code := int(codes.NotFound)
	tf := &spec.TestFile{
		Path:          "fixture.gctf",
		Endpoint:      "pkg.Svc/Method",
		ExpectedError: &spec.ExpectedError{Code: &code, Message: "Can't find stub"},
	}
	resp := &grpcinvoke.Response{StatusCode: uint32(codes.NotFound), ErrorMessage: "Can't find stub"}
	status, _ := r.classify(tf, resp)
	if status != spec.Pass {
		t.Fatalf("status = %v, want PASS", status)
	}
}

func TestClassifyExpectedErrorButCallSucceeded(t *testing.T) {
	r := newTestRunner()
	tf := &spec.TestFile{
		Path:          "fixture.gctf",
		Endpoint:      "pkg.Svc/Method",
		ExpectedError: &spec.ExpectedError{Message: "anything"},
	}
	resp := &grpcinvoke.Response{Messages: [][]byte{[]byte(`{}`)}}
	status, _ := r.classify(tf, resp)
	if status != spec.Fail {
		t.Fatalf("status = %v, want FAIL when a call that should have failed succeeded", status)
	}
}

func TestMatchExpectedErrorByMessage(t *testing.T) {
	expected := &spec.ExpectedError{Message: "Can't find stub"}
	actual := "ERROR:\n  Code: NotFound\n  Message: Can't find stub"
	if !MatchExpectedError(expected, actual) {
		t.Fatal("expected match on message substring")
	}
}

func TestMatchExpectedErrorByCode(t *testing.T) {
	code := int(codes.NotFound)
	expected := &spec.ExpectedError{Code: &code}
	actual := "ERROR:\n  Code: NotFound\n  Message: something else entirely"
	if !MatchExpectedError(expected, actual) {
		t.Fatal("expected match on status code name")
	}
}

func TestMatchExpectedErrorNoMatch(t *testing.T) {
	expected := &spec.ExpectedError{Message: "never happens"}
	actual := "ERROR:\n  Code: Internal\n  Message: boom"
	if MatchExpectedError(expected, actual) {
		t.Fatal("expected no match")
	}
}
