// Package aggregate collects per-test outcomes into run-level counts and
// publishes a mutex-guarded, append-only diagnostic event log. There is no
// Subscribe/WaitFor machinery: one test's outcome never gates another's,
// so consumers only ever read a finished snapshot.
package aggregate

import (
	"sync"
	"time"

	"github.com/matgreaves/gctf/spec"
)

// EventType identifies the kind of diagnostic event emitted during a run.
type EventType string

const (
	EventTestStarted  EventType = "test.started"
	EventTestFinished EventType = "test.finished"
	EventTestStalled  EventType = "test.stalled"
	EventRunStarted   EventType = "run.started"
	EventRunFinished  EventType = "run.finished"
)

// Event is a single diagnostic entry recorded in a Log by the
// orchestrator. It carries no payload beyond what
// a test outcome already has; it exists to mark timing, not to replace
// the outcome record itself.
type Event struct {
	Seq       uint64
	Type      EventType
	FilePath  string
	Timestamp time.Time
}

// Log is an append-only, mutex-guarded sequence of Events.
type Log struct {
	mu     sync.Mutex
	events []Event
	seq    uint64
}

// NewLog returns an empty Log.
func NewLog() *Log {
	return &Log{}
}

// Publish appends event with the next sequence number and current time.
func (l *Log) Publish(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	event.Seq = l.seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	l.events = append(l.events, event)
}

// Events returns a snapshot of every published event, in order.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Counts tallies outcomes by status.
type Counts struct {
	Total   int
	Passed  int
	Failed  int
	Timeout int
	Skipped int
}

// Summary is the final result of a full test run.
type Summary struct {
	Counts
	Outcomes   []spec.TestOutcome
	DurationMs int64
}

// Success reports whether every executed test passed (skips don't count
// against success; a run with zero executed tests is vacuously successful).
func (s Summary) Success() bool {
	return s.Failed == 0 && s.Timeout == 0
}

// Aggregator collects outcomes from concurrently running tests into a
// single Summary. Record is the only mutation path and holds the mutex for
// a constant-bounded append.
type Aggregator struct {
	mu       sync.Mutex
	outcomes []spec.TestOutcome
	start    time.Time
}

// NewAggregator returns an Aggregator with its clock started.
func NewAggregator() *Aggregator {
	return &Aggregator{start: time.Now()}
}

// Record appends one test's outcome. Safe for concurrent use.
func (a *Aggregator) Record(outcome spec.TestOutcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes = append(a.outcomes, outcome)
}

// Finalize returns the Summary over every outcome recorded so far.
func (a *Aggregator) Finalize() Summary {
	a.mu.Lock()
	outcomes := make([]spec.TestOutcome, len(a.outcomes))
	copy(outcomes, a.outcomes)
	a.mu.Unlock()

	s := Summary{Outcomes: outcomes, DurationMs: time.Since(a.start).Milliseconds()}
	s.Total = len(outcomes)
	for _, o := range outcomes {
		switch o.Status {
		case spec.Pass:
			s.Passed++
		case spec.Fail:
			s.Failed++
		case spec.Timeout:
			s.Timeout++
		case spec.Skip:
			s.Skipped++
		}
	}
	return s
}
