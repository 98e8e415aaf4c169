// Copyright 2025 James Ross
package breaker

import (
	"testing"
	"time"
)

func TestBreakerTransitions(t *testing.T) {
	cb := New(2, 200*time.Millisecond)
	if cb.State() != Closed {
		t.Fatal("expected closed")
	}
	cb.Record(false)
	if cb.State() != Closed {
		t.Fatal("expected closed after single failure")
	}
	cb.Record(false)
	if cb.State() != Open {
		t.Fatal("expected open after threshold consecutive failures")
	}
	if cb.Allow() != false {
		t.Fatal("should not allow until cooldown elapses")
	}
	time.Sleep(250 * time.Millisecond)
	if cb.Allow() != true {
		t.Fatal("should allow a single probe once half-open")
	}
	if cb.Allow() != false {
		t.Fatal("should not allow a second concurrent probe while half-open")
	}
	cb.Record(true)
	if cb.State() != Closed {
		t.Fatal("expected closed after successful probe")
	}
	if cb.ConsecutiveFailures() != 0 {
		t.Fatal("expected failure streak reset after close")
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := New(1, 50*time.Millisecond)
	cb.Record(false)
	if cb.State() != Open {
		t.Fatal("expected open after single failure with threshold 1")
	}
	time.Sleep(60 * time.Millisecond)
	if cb.Allow() != true {
		t.Fatal("should allow probe after cooldown")
	}
	cb.Record(false)
	if cb.State() != Open {
		t.Fatal("expected reopened after failed probe")
	}
}

func TestBreakerTrip(t *testing.T) {
	cb := New(5, 100*time.Millisecond)
	cb.Record(false)
	cb.Trip()
	if cb.State() != Open {
		t.Fatal("expected open after Trip regardless of failure count")
	}
	if cb.Allow() != false {
		t.Fatal("tripped breaker should not allow immediately")
	}
}

func TestBreakerReset(t *testing.T) {
	cb := New(1, 100*time.Millisecond)
	cb.Record(false)
	if cb.State() != Open {
		t.Fatal("expected open")
	}
	cb.Reset()
	if cb.State() != Closed {
		t.Fatal("expected closed after Reset")
	}
	if cb.ConsecutiveFailures() != 0 {
		t.Fatal("expected zero failures after Reset")
	}
	if cb.Allow() != true {
		t.Fatal("expected Allow to succeed immediately after Reset")
	}
}
