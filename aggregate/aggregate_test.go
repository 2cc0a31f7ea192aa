package aggregate

import (
	"sync"
	"testing"

	"github.com/matgreaves/gctf/spec"
)

func TestAggregatorFinalizeCounts(t *testing.T) {
	a := NewAggregator()
	a.Record(spec.TestOutcome{FilePath: "a.gctf", Status: spec.Pass})
	a.Record(spec.TestOutcome{FilePath: "b.gctf", Status: spec.Fail})
	a.Record(spec.TestOutcome{FilePath: "c.gctf", Status: spec.Timeout})
	a.Record(spec.TestOutcome{FilePath: "d.gctf", Status: spec.Skip})

	s := a.Finalize()
	if s.Total != 4 || s.Passed != 1 || s.Failed != 1 || s.Timeout != 1 || s.Skipped != 1 {
		t.Fatalf("unexpected counts: %+v", s.Counts)
	}
	if s.Success() {
		t.Fatal("Success() should be false when failures are present")
	}
}

func TestSummarySuccessWithOnlyPassesAndSkips(t *testing.T) {
	a := NewAggregator()
	a.Record(spec.TestOutcome{FilePath: "a.gctf", Status: spec.Pass})
	a.Record(spec.TestOutcome{FilePath: "b.gctf", Status: spec.Skip})

	if !a.Finalize().Success() {
		t.Fatal("Success() should be true with only passes and skips")
	}
}

func TestAggregatorConcurrentRecord(t *testing.T) {
	a := NewAggregator()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a.Record(spec.TestOutcome{FilePath: "x.gctf", Status: spec.Pass})
		}(i)
	}
	wg.Wait()
	if got := a.Finalize().Total; got != 100 {
		t.Fatalf("Total = %d, want 100", got)
	}
}

func TestLogPublishAssignsSequence(t *testing.T) {
	l := NewLog()
	l.Publish(Event{Type: EventTestStarted, FilePath: "a.gctf"})
	l.Publish(Event{Type: EventTestFinished, FilePath: "a.gctf"})

	events := l.Events()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Seq != 1 || events[1].Seq != 2 {
		t.Fatalf("sequence numbers = %d, %d; want 1, 2", events[0].Seq, events[1].Seq)
	}
}
