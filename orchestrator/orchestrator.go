// Package orchestrator implements the bounded worker pool that schedules
// .gctf test files onto a fixed number of workers, enforcing a per-test
// timeout, optional fail-fast draining, and heartbeat-based stall
// diagnostics.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/matgreaves/run"

	"github.com/matgreaves/gctf/aggregate"
	"github.com/matgreaves/gctf/section"
	"github.com/matgreaves/gctf/spec"
)

// Config controls the orchestrator's scheduling behavior. Zero durations are
// replaced with the defaults named below; a zero Parallel means
// auto-detect, and FailFast stays off unless set.
type Config struct {
	// Parallel is the worker count. Zero or negative means auto-detect:
	// runtime.NumCPU(), capped at 2x cores.
	Parallel int

	// Timeout bounds a single test's execution. Default 30s.
	Timeout time.Duration

	// FailFast, when true, stops scheduling new tests after the first
	// non-PASS outcome; in-flight tests still run to completion or their
	// own timeout. The zero value leaves it off; the CLI turns it on.
	FailFast bool

	// PoolAcquireTimeout bounds how long a worker may wait to acquire a
	// pool permit before its test is recorded as TIMEOUT. Default 30s.
	PoolAcquireTimeout time.Duration

	// Heartbeat is the interval at which a worker marks liveness.
	// Default 5s.
	Heartbeat time.Duration

	// MaxLifetime is the longest a worker's heartbeat may go stale before
	// the stall watchdog reports it. Default 300s.
	MaxLifetime time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.PoolAcquireTimeout <= 0 {
		c.PoolAcquireTimeout = 30 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 5 * time.Second
	}
	if c.MaxLifetime <= 0 {
		c.MaxLifetime = 300 * time.Second
	}
	return c
}

// Executor runs one parsed test file to completion. *runner.Runner is the
// production implementation; tests substitute fakes to control timing.
type Executor interface {
	Execute(ctx context.Context, tf *spec.TestFile) spec.TestOutcome
}

// Orchestrator drives one batch of test files through Runner, aggregating
// their outcomes.
type Orchestrator struct {
	Runner Executor
	Config Config
	Log    *aggregate.Log

	// OnOutcome, if set, is called from the worker goroutine as each test
	// finishes — the hook verbose mode uses to print results as they land
	// rather than only in the final summary.
	OnOutcome func(spec.TestOutcome)
}

// workerCount resolves Config.Parallel against the auto-detect rule: zero
// or negative means NumCPU(), and any requested count is capped at 2x
// NumCPU() the same way the external interface's "--parallel auto" is
// specified.
func (o *Orchestrator) workerCount() int {
	cores := runtime.NumCPU()
	ceiling := 2 * cores
	if o.Config.Parallel <= 0 {
		if cores > ceiling {
			return ceiling
		}
		return cores
	}
	if o.Config.Parallel > ceiling {
		return ceiling
	}
	return o.Config.Parallel
}

// Run schedules every path in paths onto the worker pool and returns the
// aggregate.Summary once all admitted tests have finished. Discovery order
// (the order of paths) is preserved when the pool has exactly one worker;
// no ordering is guaranteed between tests when run with more than one.
func (o *Orchestrator) Run(ctx context.Context, paths []string) aggregate.Summary {
	cfg := o.Config.withDefaults()
	agg := aggregate.NewAggregator()
	if o.Log == nil {
		o.Log = aggregate.NewLog()
	}
	o.Log.Publish(aggregate.Event{Type: aggregate.EventRunStarted})

	workers := o.workerCount()
	sem := make(chan struct{}, workers)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var draining sync.Mutex
	isDraining := false
	shouldDrain := func() bool {
		draining.Lock()
		defer draining.Unlock()
		return isDraining
	}
	setDraining := func() {
		draining.Lock()
		defer draining.Unlock()
		isDraining = true
	}

	hb := newHeartbeatTracker(len(paths))
	watchdogCtx, stopWatchdog := context.WithCancel(ctx)
	defer stopWatchdog()
	go o.stallWatchdog(watchdogCtx, hb, cfg)

	var wg sync.WaitGroup
	for i, path := range paths {
		if cfg.FailFast && shouldDrain() {
			break
		}

		acquireCtx, acquireCancel := context.WithTimeout(ctx, cfg.PoolAcquireTimeout)
		select {
		case sem <- struct{}{}:
			acquireCancel()
		case <-acquireCtx.Done():
			acquireCancel()
			agg.Record(spec.TestOutcome{FilePath: path, Status: spec.Timeout, ErrorMessage: "pool acquire timeout"})
			continue
		}
		// A worker that finished while this loop waited for a permit may
		// have started draining; re-check so no new test starts after it.
		if cfg.FailFast && shouldDrain() {
			<-sem
			break
		}

		wg.Add(1)
		workerID, path := i, path
		hb.touch(workerID)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer hb.retire(workerID)

			o.Log.Publish(aggregate.Event{Type: aggregate.EventTestStarted, FilePath: path})
			outcome := o.runOne(ctx, path, cfg, hb, workerID)
			o.Log.Publish(aggregate.Event{Type: aggregate.EventTestFinished, FilePath: path})
			agg.Record(outcome)
			if o.OnOutcome != nil {
				o.OnOutcome(outcome)
			}

			if cfg.FailFast && outcome.Status != spec.Pass {
				setDraining()
			}
		}()
	}
	wg.Wait()

	o.Log.Publish(aggregate.Event{Type: aggregate.EventRunFinished})
	return agg.Finalize()
}

// runOne executes a single test, racing it against Config.Timeout using
// run.Group: whichever branch finishes first cancels the other.
func (o *Orchestrator) runOne(ctx context.Context, path string, cfg Config, hb *heartbeatTracker, workerID int) spec.TestOutcome {
	tf, err := section.BuildTestFile(path)
	if err != nil {
		out := spec.TestOutcome{FilePath: path, Status: spec.Fail, ErrorMessage: err.Error()}
		var specErr *spec.Error
		if errors.As(err, &specErr) {
			out.ErrorKind = specErr.Kind
		}
		return out
	}

	resultCh := make(chan spec.TestOutcome, 1)
	stopHeartbeat := make(chan struct{})
	defer close(stopHeartbeat)
	go func() {
		ticker := time.NewTicker(cfg.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				hb.touch(workerID)
			case <-stopHeartbeat:
				return
			}
		}
	}()

	work := run.Func(func(ctx context.Context) error {
		out := o.Runner.Execute(ctx, tf)
		out.FilePath = path
		resultCh <- out
		return nil
	})
	// timedOut is written by the timer branch and read only after
	// group.Run has waited for every branch to return, so no lock is
	// needed. The flag matters because the work branch usually still
	// produces an outcome after a timeout: cancelling its context makes
	// the in-flight call fail, and that FAIL lands in resultCh before the
	// branch returns. Such an outcome must be reported as TIMEOUT, not as
	// the FAIL the cancelled call happened to produce.
	timedOut := false
	timer := run.Func(func(ctx context.Context) error {
		select {
		case <-time.After(cfg.Timeout):
			timedOut = true
			return fmt.Errorf("test timed out after %s", cfg.Timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	group := run.Group{"work": work, "timeout": timer}
	_ = group.Run(ctx)

	select {
	case out := <-resultCh:
		if timedOut && out.Status != spec.Pass {
			return timeoutOutcome(path, cfg.Timeout)
		}
		return out
	default:
		return timeoutOutcome(path, cfg.Timeout)
	}
}

func timeoutOutcome(path string, timeout time.Duration) spec.TestOutcome {
	return spec.TestOutcome{
		FilePath:     path,
		Status:       spec.Timeout,
		ErrorKind:    spec.TimeoutError,
		ErrorMessage: fmt.Sprintf("exceeded %s", timeout),
	}
}

// heartbeatTracker records the last-touch time for each in-flight worker
// slot, the liveness signal the stall watchdog inspects.
type heartbeatTracker struct {
	mu   sync.Mutex
	last map[int]time.Time
}

func newHeartbeatTracker(capacity int) *heartbeatTracker {
	return &heartbeatTracker{last: make(map[int]time.Time, capacity)}
}

func (h *heartbeatTracker) touch(workerID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last[workerID] = time.Now()
}

func (h *heartbeatTracker) retire(workerID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.last, workerID)
}

func (h *heartbeatTracker) stale(maxLifetime time.Duration) []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	var ids []int
	now := time.Now()
	for id, t := range h.last {
		if now.Sub(t) > maxLifetime {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// stallWatchdog periodically checks for workers whose heartbeat has gone
// stale and publishes a diagnostic event. It never force-terminates
// anything: under the cooperative-cancellation model the per-test timeout
// already owns termination, so the watchdog's only job is visibility.
func (o *Orchestrator) stallWatchdog(ctx context.Context, hb *heartbeatTracker, cfg Config) {
	ticker := time.NewTicker(cfg.Heartbeat * 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if stale := hb.stale(cfg.MaxLifetime); len(stale) > 0 {
			o.Log.Publish(aggregate.Event{Type: aggregate.EventTestStalled})
		}
	}
}
