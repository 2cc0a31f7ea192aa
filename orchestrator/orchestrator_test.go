package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/matgreaves/gctf/aggregate"
	"github.com/matgreaves/gctf/grpcinvoke"
	"github.com/matgreaves/gctf/health"
	"github.com/matgreaves/gctf/plugin"
	"github.com/matgreaves/gctf/runner"
	"github.com/matgreaves/gctf/spec"
)

func dryRunRunner() *runner.Runner {
	return &runner.Runner{
		Invoker:   grpcinvoke.New(),
		Plugins:   plugin.NewRegistry(),
		Breaker:   health.NewBreaker(),
		DryRun:    true,
		SkipProbe: true,
	}
}

func writeGCTF(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

const passingBody = `
--- ENDPOINT ---
pkg.Svc/Method
--- REQUEST ---
{}
--- RESPONSE ---
{"ok": true}
`

// invalidBody has no ENDPOINT section, so section.BuildTestFile fails
// validation before the runner is ever invoked — a cheap way to force a
// non-PASS outcome without a live gRPC listener.
const invalidBody = `
--- RESPONSE ---
{}
`

func TestWorkerCountAutoAndCap(t *testing.T) {
	o := &Orchestrator{Config: Config{Parallel: 0}}
	if got, want := o.workerCount(), minInt(runtime.NumCPU(), 2*runtime.NumCPU()); got != want {
		t.Errorf("workerCount() = %d, want %d", got, want)
	}

	capped := &Orchestrator{Config: Config{Parallel: 1000000}}
	if got, want := capped.workerCount(), 2*runtime.NumCPU(); got != want {
		t.Errorf("workerCount() with huge Parallel = %d, want %d", got, want)
	}

	explicit := &Orchestrator{Config: Config{Parallel: 3}}
	if got := explicit.workerCount(); got != 3 {
		t.Errorf("workerCount() = %d, want 3", got)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func TestRunAllPassDryRun(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeGCTF(t, dir, "a.gctf", passingBody),
		writeGCTF(t, dir, "b.gctf", passingBody),
		writeGCTF(t, dir, "c.gctf", passingBody),
	}

	o := &Orchestrator{Runner: dryRunRunner(), Config: Config{Parallel: 2, FailFast: false, Timeout: 5 * time.Second}}
	summary := o.Run(context.Background(), paths)

	if summary.Total != 3 || summary.Passed != 3 || !summary.Success() {
		t.Fatalf("summary = %+v, want 3 passed", summary)
	}
}

func TestRunFailFastStopsSchedulingSubsequentTests(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeGCTF(t, dir, "1-bad.gctf", invalidBody),
		writeGCTF(t, dir, "2-good.gctf", passingBody),
		writeGCTF(t, dir, "3-good.gctf", passingBody),
	}

	o := &Orchestrator{Runner: dryRunRunner(), Config: Config{Parallel: 1, FailFast: true, Timeout: 5 * time.Second}}
	summary := o.Run(context.Background(), paths)

	if summary.Total != 1 {
		t.Fatalf("summary.Total = %d, want 1 (fail-fast should have stopped scheduling)", summary.Total)
	}
	if summary.Failed != 1 || summary.Success() {
		t.Fatalf("summary = %+v, want exactly one failure", summary)
	}
}

func TestRunSequentialPreservesDiscoveryOrder(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeGCTF(t, dir, "a.gctf", passingBody),
		writeGCTF(t, dir, "b.gctf", passingBody),
		writeGCTF(t, dir, "c.gctf", passingBody),
	}

	log := aggregate.NewLog()
	o := &Orchestrator{Runner: dryRunRunner(), Log: log, Config: Config{Parallel: 1, FailFast: false, Timeout: 5 * time.Second}}
	summary := o.Run(context.Background(), paths)
	if summary.Total != 3 {
		t.Fatalf("summary.Total = %d, want 3", summary.Total)
	}

	var started []string
	for _, e := range log.Events() {
		if e.Type == aggregate.EventTestStarted {
			started = append(started, e.FilePath)
		}
	}
	if len(started) != 3 || started[0] != paths[0] || started[1] != paths[1] || started[2] != paths[2] {
		t.Fatalf("test-started order = %v, want %v", started, paths)
	}
}

// blockingExecutor simulates a slow stub: it holds the call until the
// per-test context is cancelled, then reports the FAIL a cancelled
// in-flight call would produce.
type blockingExecutor struct{}

func (blockingExecutor) Execute(ctx context.Context, tf *spec.TestFile) spec.TestOutcome {
	<-ctx.Done()
	return spec.TestOutcome{FilePath: tf.Path, Status: spec.Fail, ErrorMessage: ctx.Err().Error()}
}

func TestRunSlowTestTimesOut(t *testing.T) {
	dir := t.TempDir()
	paths := []string{writeGCTF(t, dir, "slow.gctf", passingBody)}

	o := &Orchestrator{Runner: blockingExecutor{}, Config: Config{Parallel: 1, FailFast: false, Timeout: 50 * time.Millisecond}}
	summary := o.Run(context.Background(), paths)

	if summary.Timeout != 1 {
		t.Fatalf("summary = %+v, want timeout count 1", summary)
	}
	if len(summary.Outcomes) != 1 || summary.Outcomes[0].Status != spec.Timeout {
		t.Fatalf("outcomes = %+v, want a single TIMEOUT", summary.Outcomes)
	}
	if summary.Success() {
		t.Fatal("a timed-out run must not count as success")
	}
}

func TestRunEmptyPathsYieldsEmptySummary(t *testing.T) {
	o := &Orchestrator{Runner: dryRunRunner(), Config: Config{Parallel: 2}}
	summary := o.Run(context.Background(), nil)
	if summary.Total != 0 || !summary.Success() {
		t.Fatalf("summary = %+v, want an empty successful run", summary)
	}
}

func TestRunUnknownOutcomeStatusNeverRecorded(t *testing.T) {
	// Sanity check that a validation failure lands as FAIL, never SKIP:
	// nothing in the engine produces SKIP on its own.
	dir := t.TempDir()
	paths := []string{writeGCTF(t, dir, "bad.gctf", invalidBody)}

	o := &Orchestrator{Runner: dryRunRunner(), Config: Config{Parallel: 1}}
	summary := o.Run(context.Background(), paths)
	if len(summary.Outcomes) != 1 || summary.Outcomes[0].Status != spec.Fail {
		t.Fatalf("outcomes = %+v, want a single FAIL", summary.Outcomes)
	}
}
