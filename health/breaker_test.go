package health

import (
	"testing"
	"time"
)

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker()
	b.Threshold = 3
	b.Window = time.Minute

	addr := "svc:1"
	for i := 0; i < 2; i++ {
		if err := b.Allow(addr); err != nil {
			t.Fatalf("Allow() unexpectedly failed before trip: %v", err)
		}
		b.RecordFailure(addr)
	}
	if err := b.Allow(addr); err != nil {
		t.Fatalf("Allow() unexpectedly failed at 2 failures: %v", err)
	}
	b.RecordFailure(addr)

	if err := b.Allow(addr); err == nil {
		t.Fatal("Allow() = nil, want tripped error after threshold reached")
	}
}

func TestBreakerResetsOnSuccess(t *testing.T) {
	b := NewBreaker()
	b.Threshold = 2
	b.Window = time.Minute

	addr := "svc:1"
	b.RecordFailure(addr)
	b.RecordFailure(addr)
	if err := b.Allow(addr); err == nil {
		t.Fatal("Allow() = nil, want tripped error")
	}

	b.RecordSuccess(addr)
	if err := b.Allow(addr); err != nil {
		t.Fatalf("Allow() after RecordSuccess = %v, want nil", err)
	}
}

func TestBreakerResetsAfterWindowExpires(t *testing.T) {
	b := NewBreaker()
	b.Threshold = 2
	b.Window = 10 * time.Millisecond

	addr := "svc:1"
	b.RecordFailure(addr)
	b.RecordFailure(addr)
	if err := b.Allow(addr); err == nil {
		t.Fatal("Allow() = nil, want tripped error")
	}

	time.Sleep(20 * time.Millisecond)
	if err := b.Allow(addr); err != nil {
		t.Fatalf("Allow() after window expiry = %v, want nil", err)
	}
}

func TestBreakerIsolatesAddresses(t *testing.T) {
	b := NewBreaker()
	b.Threshold = 1
	b.Window = time.Minute

	b.RecordFailure("a")
	if err := b.Allow("a"); err == nil {
		t.Fatal("Allow(a) = nil, want tripped error")
	}
	if err := b.Allow("b"); err != nil {
		t.Fatalf("Allow(b) = %v, want nil", err)
	}
}
