// Package runner implements the per-test decision tree: given a parsed
// spec.TestFile, invoke its endpoint (with retry and a pre-call
// reachability probe) and resolve the outcome by the ERROR/ASSERTS/RESPONSE
// precedence rules.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/matgreaves/run"

	"github.com/matgreaves/gctf/assert"
	"github.com/matgreaves/gctf/compare"
	"github.com/matgreaves/gctf/grpcinvoke"
	"github.com/matgreaves/gctf/health"
	"github.com/matgreaves/gctf/plugin"
	"github.com/matgreaves/gctf/spec"
)

// Runner executes one TestFile at a time against a live gRPC endpoint,
// resolving it to a PASS/FAIL/TIMEOUT spec.TestOutcome.
type Runner struct {
	Invoker *grpcinvoke.Invoker
	Plugins *plugin.Registry
	Breaker *health.Breaker

	// DefaultAddress is used when a test's own ADDRESS section is empty.
	DefaultAddress string

	// MaxRetries, RetryInitialDelay and RetryMaxDelay parameterize the
	// retry loop (health.Run). MaxRetries <= 1 disables retrying: the
	// call is attempted exactly once.
	MaxRetries        int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration

	// DryRun short-circuits every test to a simulated PASS: no dial, no
	// comparison.
	DryRun bool

	// ProtoFile, when set, is passed to the invoker as the descriptor-set
	// path to resolve methods from instead of server reflection.
	ProtoFile string

	// SkipProbe disables the pre-call TCP/reflection reachability check,
	// for callers (tests, dry-run) where probing would itself require a
	// live listener.
	SkipProbe bool
}

// Execute runs tf to completion and returns its outcome. DurationMs spans
// the full call, including any retries and the reachability probe.
func (r *Runner) Execute(ctx context.Context, tf *spec.TestFile) spec.TestOutcome {
	start := time.Now()
	address := tf.Address
	if address == "" {
		address = r.DefaultAddress
	}

	if r.DryRun {
		return r.executeDryRun(ctx, tf, address, start)
	}

	resp, err := r.invokeWithRetry(ctx, tf, address)
	if err != nil {
		// A call that died because the per-test context was cancelled is
		// an orchestrator-level timeout, not a test verdict.
		if ctx.Err() != nil {
			return spec.TestOutcome{
				FilePath:     tf.Path,
				Status:       spec.Timeout,
				DurationMs:   elapsedMs(start),
				ErrorMessage: err.Error(),
				ErrorKind:    spec.TimeoutError,
			}
		}
		// Unreachability and transport failures are always a FAIL, never
		// treated as an expected error.
		out := spec.TestOutcome{
			FilePath:     tf.Path,
			Status:       spec.Fail,
			DurationMs:   elapsedMs(start),
			ErrorMessage: err.Error(),
		}
		var specErr *spec.Error
		if errors.As(err, &specErr) {
			out.ErrorKind = specErr.Kind
		}
		return out
	}

	status, msg := r.classify(tf, resp)
	return spec.TestOutcome{
		FilePath:     tf.Path,
		Status:       status,
		DurationMs:   elapsedMs(start),
		ErrorMessage: msg,
	}
}

// executeDryRun builds the simulated adapter response described by tf's
// own declared expectations and returns PASS without ever comparing it:
// a dry run is a preview of what would be sent, not a verdict.
func (r *Runner) executeDryRun(ctx context.Context, tf *spec.TestFile, address string, start time.Time) spec.TestOutcome {
	opts := grpcinvoke.Options{DryRun: true}
	if tf.ExpectedError != nil {
		if tf.ExpectedError.Code != nil {
			opts.SimulatedStatusCode = uint32(*tf.ExpectedError.Code)
		} else {
			opts.SimulatedStatusCode = uint32(codes.Unknown)
		}
		opts.SimulatedErrorMessage = tf.ExpectedError.Message
	} else if len(tf.ExpectedResponse) > 0 {
		opts.SimulatedMessages = [][]byte{tf.ExpectedResponse}
	}

	if _, err := r.Invoker.Invoke(ctx, address, tf.Endpoint, tf.Requests, tf.RequestHeaders, opts); err != nil {
		return spec.TestOutcome{FilePath: tf.Path, Status: spec.Fail, DurationMs: elapsedMs(start), ErrorMessage: err.Error()}
	}
	return spec.TestOutcome{FilePath: tf.Path, Status: spec.Pass, DurationMs: elapsedMs(start)}
}

// invokeWithRetry consults the circuit breaker, runs the reachability
// probe, then drives health.Run to retry the call on transient failures.
// Modeled as a run.Func so it composes with the per-test timeout race the
// orchestrator wraps around Execute.
func (r *Runner) invokeWithRetry(ctx context.Context, tf *spec.TestFile, address string) (*grpcinvoke.Response, error) {
	var resp *grpcinvoke.Response

	step := run.Func(func(ctx context.Context) error {
		if err := r.Breaker.Allow(address); err != nil {
			return &spec.Error{Kind: spec.ServiceUnavailable, Path: tf.Path, Err: err}
		}
		if !r.SkipProbe {
			if err := health.Probe(ctx, address); err != nil {
				return &spec.Error{Kind: spec.NetworkError, Path: tf.Path, Err: err}
			}
		}

		maxRetries := r.MaxRetries
		if maxRetries < 1 {
			maxRetries = 1
		}

		err := health.Run(ctx, maxRetries, r.RetryInitialDelay, r.RetryMaxDelay, func(attempt int) health.Attempt {
			out, callErr := r.Invoker.Invoke(ctx, address, tf.Endpoint, tf.Requests, tf.RequestHeaders, grpcinvoke.Options{ProtoFile: r.ProtoFile})
			if callErr != nil {
				return health.Attempt{Err: callErr, Retryable: false}
			}
			resp = out
			if out.StatusCode == 0 {
				return health.Attempt{}
			}
			return health.Attempt{
				Err:       fmt.Errorf("status %d: %s", out.StatusCode, out.ErrorMessage),
				Retryable: health.Retryable(out.StatusCode, out.ErrorMessage),
			}
		})

		switch {
		case resp != nil && resp.StatusCode != 0:
			r.Breaker.RecordFailure(address)
		case resp != nil:
			r.Breaker.RecordSuccess(address)
		case err != nil:
			r.Breaker.RecordFailure(address)
		}
		if resp == nil && err != nil {
			// The call never produced a status: a setup failure (unresolved
			// method, malformed request body, dial error), not a gRPC-level
			// error the decision tree can classify.
			return &spec.Error{Kind: spec.NetworkError, Path: tf.Path, Err: err}
		}
		return nil
	})

	if err := step.Run(ctx); err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("invoking %s: no response and no error", tf.Endpoint)
	}
	return resp, nil
}

// classify resolves the invoker's result against the test's expectations:
// an ERROR section wins over everything, then a bare ASSERTS block, then
// the RESPONSE comparison (optionally followed by ASSERTS when
// with_asserts is set).
func (r *Runner) classify(tf *spec.TestFile, resp *grpcinvoke.Response) (spec.Status, string) {
	pctx := plugin.Context{
		Headers:        resp.Headers,
		Trailers:       resp.Trailers,
		ResponseTimeMs: resp.ResponseTimeMs,
	}

	switch {
	case tf.ExpectedError != nil:
		if resp.StatusCode == 0 {
			return spec.Fail, "expected error but call succeeded"
		}
		actualText := formatGRPCError(resp)
		if MatchExpectedError(tf.ExpectedError, actualText) {
			return spec.Pass, ""
		}
		return spec.Fail, fmt.Sprintf("expected error %q, got %q", tf.ExpectedError.Raw, actualText)

	case len(tf.Asserts) > 0 && len(tf.ExpectedResponse) == 0:
		pctx.Response = soleMessage(resp.Messages)
		if err := assert.Evaluate(resp.Messages, tf.Asserts, r.Plugins, pctx); err != nil {
			return spec.Fail, err.Error()
		}
		return spec.Pass, ""

	default:
		if resp.StatusCode != 0 {
			return spec.Fail, fmt.Sprintf("unexpected gRPC error: %s", formatGRPCError(resp))
		}
		cmpResult := compare.Compare(tf.ExpectedResponse, soleMessage(resp.Messages), tf.Options)
		if !cmpResult.Equal {
			return spec.Fail, cmpResult.Diff
		}
		if tf.Options.WithAsserts && len(tf.Asserts) > 0 {
			pctx.Response = soleMessage(resp.Messages)
			if err := assert.Evaluate(resp.Messages, tf.Asserts, r.Plugins, pctx); err != nil {
				return spec.Fail, err.Error()
			}
		}
		return spec.Pass, ""
	}
}

// formatGRPCError renders a failed call's status in the
// "Code: <name>\nMessage: <text>" shape match_expected_error looks for.
func formatGRPCError(resp *grpcinvoke.Response) string {
	return fmt.Sprintf("ERROR:\n  Code: %s\n  Message: %s", codes.Code(resp.StatusCode).String(), resp.ErrorMessage)
}

// MatchExpectedError reports whether actualText (the formatted gRPC
// failure) satisfies a test's ERROR expectation: the actual text contains
// the expected message substring, or — when a numeric code was given —
// contains either "Code: <N>" or the gRPC status name for that code.
func MatchExpectedError(expected *spec.ExpectedError, actualText string) bool {
	if expected == nil {
		return false
	}
	if expected.Message != "" && strings.Contains(actualText, expected.Message) {
		return true
	}
	if expected.Code != nil {
		c := codes.Code(*expected.Code)
		if strings.Contains(actualText, fmt.Sprintf("Code: %d", *expected.Code)) || strings.Contains(actualText, "Code: "+c.String()) {
			return true
		}
	}
	return false
}

// soleMessage returns the first streamed message, or a JSON null when
// none was received — the representative body a RESPONSE comparison
// compares against.
func soleMessage(messages [][]byte) []byte {
	if len(messages) == 0 {
		return []byte("null")
	}
	return messages[0]
}

func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
