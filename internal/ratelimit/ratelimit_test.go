package ratelimit

import (
	"testing"
	"time"
)

func TestNopGrantsUnbounded(t *testing.T) {
	rp := NewNop()
	if got := rp.Request(1); got != MaxInt {
		t.Fatalf("NewNop().Request = %d, want MaxInt", got)
	}
	rp.Report(1000) // must not block or panic
}

func TestRatePoliceGrantsWithinTarget(t *testing.T) {
	rp := New(100*time.Millisecond, 10)
	granted := rp.Request(1000)
	if granted <= 0 {
		t.Fatalf("Request on an empty window = %d, want > 0", granted)
	}
}

func TestRatePoliceReportReducesFutureGrants(t *testing.T) {
	// 1000/s over a 100ms window allows 100 events in all; each Request
	// grants at most 2*100/10 = 20 of them, so report grants until the
	// whole window budget is used.
	rp := New(100*time.Millisecond, 10)
	before := rp.Request(1000)
	for reported := 0; reported < 100; reported += before {
		rp.Report(before)
	}
	after := rp.Request(1000)
	if after > 0 {
		t.Fatalf("Request immediately after reporting the window's full budget = %d, want <= 0", after)
	}
}
