package cberr

import (
	"math/rand"
	"sync"
	"time"
)

// --------------------------------------------------------------------------
// Retry policy
// --------------------------------------------------------------------------

const (
	// maxRetryDelay caps the exponential schedule for every reason.
	maxRetryDelay = 30 * time.Second

	// maxJitter is the upper bound of the uniform jitter fraction. Jitter
	// is only ever added, so a delay never lands below the per-reason floor.
	maxJitter = 0.10
)

// jitterRand is the shared jitter source. Guarded because RetryDelay may be
// called from concurrent retry loops.
var jitterRand = struct {
	mu sync.Mutex
	r  *rand.Rand
}{
	r: rand.New(rand.NewSource(time.Now().UnixNano())),
}

// RetryDelay returns the suggested backoff before retry number attempt
// (1-indexed): base(reason) doubled per attempt, clamped to 30s, plus up to
// 10% uniform jitter. Non-retryable reasons yield 0; there is no schedule
// on which they would start succeeding.
func RetryDelay(reason Reason, attempt int) time.Duration {
	delay := delayFor(reason, attempt)
	if delay == 0 {
		return 0
	}

	jitterRand.mu.Lock()
	f := jitterRand.r.Float64()
	jitterRand.mu.Unlock()

	return delay + time.Duration(float64(delay)*f*maxJitter)
}

// delayFor computes the un-jittered schedule: base * 2^(attempt-1), clamped
// to maxRetryDelay. Attempts below 1 are treated as the first attempt.
func delayFor(reason Reason, attempt int) time.Duration {
	info := reason.info()
	if !info.retryable || info.baseDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := info.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}
