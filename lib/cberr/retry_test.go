package cberr

import (
	"testing"
	"time"
)

func TestRetryableFlags(t *testing.T) {
	tests := []struct {
		name     string
		reason   Reason
		expected bool
	}{
		{"timeout", ReasonTimeout, true},
		{"ambiguous timeout", ReasonAmbiguousTimeout, true},
		{"connection timeout", ReasonConnectionTimeout, true},
		{"temporary failure", ReasonTemporaryFailure, true},
		{"connection failed", ReasonConnectionFailed, true},
		{"network error", ReasonNetworkError, true},
		{"durability ambiguous", ReasonDurabilityAmbiguous, true},
		{"document locked", ReasonDocumentLocked, true},
		{"out of memory", ReasonOutOfMemory, true},
		{"sync write in progress", ReasonSyncWriteInProgress, true},
		{"document not found", ReasonDocumentNotFound, false},
		{"document exists", ReasonDocumentExists, false},
		{"authentication failure", ReasonAuthenticationFailure, false},
		{"invalid argument", ReasonInvalidArgument, false},
		{"invalid options", ReasonInvalidOptions, false},
		{"server exited", ReasonServerExited, false},
		{"server terminated", ReasonServerTerminated, false},
		{"malformed response", ReasonMalformedResponse, false},
		{"unknown", ReasonUnknownError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.reason.Retryable(); got != tt.expected {
				t.Errorf("Retryable(%v) = %v, want %v", tt.reason, got, tt.expected)
			}
		})
	}
}

func TestRetryDelayMonotonic(t *testing.T) {
	// The un-jittered schedule must never decrease with the attempt number
	// and must respect the 30s ceiling.
	for _, reason := range []Reason{ReasonDocumentLocked, ReasonTimeout, ReasonConnectionFailed} {
		prev := time.Duration(0)
		for attempt := 1; attempt <= 16; attempt++ {
			delay := delayFor(reason, attempt)
			if delay < prev {
				t.Errorf("delayFor(%v, %d) = %v, below previous attempt's %v", reason, attempt, delay, prev)
			}
			if delay > maxRetryDelay {
				t.Errorf("delayFor(%v, %d) = %v, above ceiling %v", reason, attempt, delay, maxRetryDelay)
			}
			prev = delay
		}
	}
}

func TestRetryDelayJitterBounds(t *testing.T) {
	// Jitter is additive only: every sampled delay lies in [d, 1.1*d].
	for attempt := 1; attempt <= 8; attempt++ {
		floor := delayFor(ReasonTimeout, attempt)
		ceil := floor + time.Duration(float64(floor)*maxJitter)
		for i := 0; i < 200; i++ {
			delay := RetryDelay(ReasonTimeout, attempt)
			if delay < floor {
				t.Fatalf("RetryDelay(timeout, %d) = %v, below floor %v", attempt, delay, floor)
			}
			if delay > ceil {
				t.Fatalf("RetryDelay(timeout, %d) = %v, above ceiling %v", attempt, delay, ceil)
			}
		}
	}
}

func TestRetryDelayCeiling(t *testing.T) {
	// Even for absurd attempt counts the delay stays below 30s + 10%.
	limit := maxRetryDelay + time.Duration(float64(maxRetryDelay)*maxJitter)
	for _, attempt := range []int{1, 10, 20, 63, 1000} {
		if delay := RetryDelay(ReasonConnectionFailed, attempt); delay > limit {
			t.Errorf("RetryDelay(connection_failed, %d) = %v, want <= %v", attempt, delay, limit)
		}
	}
}

func TestRetryDelayBases(t *testing.T) {
	// document_locked recovers fastest, connection_failed slowest.
	locked := delayFor(ReasonDocumentLocked, 1)
	connFailed := delayFor(ReasonConnectionFailed, 1)

	if locked != 300*time.Millisecond {
		t.Errorf("delayFor(document_locked, 1) = %v, want 300ms", locked)
	}
	if connFailed != 2000*time.Millisecond {
		t.Errorf("delayFor(connection_failed, 1) = %v, want 2000ms", connFailed)
	}
	if locked >= connFailed {
		t.Errorf("document_locked base %v must be below connection_failed base %v", locked, connFailed)
	}
}

func TestRetryDelayNonRetryable(t *testing.T) {
	for _, reason := range []Reason{ReasonDocumentNotFound, ReasonAuthenticationFailure, ReasonInvalidArgument, ReasonUnknownError} {
		if delay := RetryDelay(reason, 1); delay != 0 {
			t.Errorf("RetryDelay(%v, 1) = %v, want 0 for non-retryable reason", reason, delay)
		}
	}
}

func TestRetryDelayAttemptBelowOne(t *testing.T) {
	// Attempts below 1 count as the first attempt, not as a free pass.
	if got, want := delayFor(ReasonTimeout, 0), delayFor(ReasonTimeout, 1); got != want {
		t.Errorf("delayFor(timeout, 0) = %v, want %v", got, want)
	}
	if got, want := delayFor(ReasonTimeout, -3), delayFor(ReasonTimeout, 1); got != want {
		t.Errorf("delayFor(timeout, -3) = %v, want %v", got, want)
	}
}
